package diag

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标：
// - mtdecode_op_total{comp,stage,result}
// - mtdecode_error_total{comp,code}
// - mtdecode_op_duration_ms{comp,stage}
// - mtdecode_pool_idle_workers / mtdecode_pool_waiters / mtdecode_sentences_in_flight
var (
	opTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mtdecode",
		Name:      "op_total",
		Help:      "Operations by component, stage and result",
	}, []string{"comp", "stage", "result"})

	errorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mtdecode",
		Name:      "error_total",
		Help:      "Errors by component and classification code",
	}, []string{"comp", "code"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mtdecode",
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"comp", "stage"})

	poolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mtdecode",
		Name:      "pool_idle_workers",
		Help:      "Workers currently idle in the pool",
	})

	poolWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mtdecode",
		Name:      "pool_waiters",
		Help:      "Readers blocked waiting for a worker",
	})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mtdecode",
		Name:      "sentences_in_flight",
		Help:      "Sentences currently being decoded",
	})
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { opTotal.WithLabelValues(comp, stage, result).Inc() }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { errorTotal.WithLabelValues(comp, code).Inc() }

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// SetPool 更新工作池量表。
func SetPool(idle, waiting int) {
	poolIdle.Set(float64(idle))
	poolWaiters.Set(float64(waiting))
}

// AddInFlight 调整在途句子数。
func AddInFlight(delta int) { inFlight.Add(float64(delta)) }

// MetricsHandler 返回 /metrics 处理器。
func MetricsHandler() http.Handler { return promhttp.Handler() }

// ServeMetrics 在 addr 上提供 /metrics，ctx 结束时关闭；正常关闭返回 nil。
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
