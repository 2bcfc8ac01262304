package decoder

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mtdecode/internal/diag"
	"mtdecode/internal/rate"
	"mtdecode/pkg/contract"
)

// FailurePolicy: 单句解码失败（错误或 panic）时的处理策略。
type FailurePolicy string

const (
	// PolicyFatal 记录句子 ID 与原因后终止进程（默认）。
	PolicyFatal FailurePolicy = "fatal"
	// PolicyIsolate 在该序位记录带 Err 的结果，归还 worker 后继续。
	PolicyIsolate FailurePolicy = "isolate"
)

// Settings 解码器运行期配置（最小集）。
type Settings struct {
	OnFailure FailurePolicy
	// 准入闸门（可选）：非空时读取者在获取 worker 前按请求 ID 调用 Gate.Wait
	Gate     rate.Gate
	Logger   *diag.Logger
	Terminal *diag.Terminal
	// FatalHook 在 PolicyFatal 下调用；默认 os.Exit(1)。测试可注入不退出的实现。
	FatalHook func(err error)
	Tracer    trace.Tracer
}

func (s *Settings) normalize() {
	if s.OnFailure == "" {
		s.OnFailure = PolicyFatal
	}
	if s.FatalHook == nil {
		s.FatalHook = exitFatal
	}
	if s.Tracer == nil {
		s.Tracer = otel.Tracer("mtdecode/decoder")
	}
}

func exitFatal(err error) {
	fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	os.Exit(1)
}

// Decoder 持有固定大小的工作池，接受并发的翻译请求。
// 每个请求一个读取协程，每个句子一个完成协程；worker 获取全局 FIFO。
type Decoder struct {
	pool *pool
	set  Settings

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New 以给定 worker 构造解码器；池大小此后不变。
func New(workers []contract.Worker, set Settings) (*Decoder, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("decoder: empty worker pool: %w", contract.ErrInvalidInput)
	}
	for i, w := range workers {
		if w == nil {
			return nil, fmt.Errorf("decoder: worker %d is nil: %w", i, contract.ErrInvalidInput)
		}
	}
	switch set.OnFailure {
	case "", PolicyFatal, PolicyIsolate:
	default:
		return nil, fmt.Errorf("decoder: unknown failure policy %q: %w", set.OnFailure, contract.ErrInvalidInput)
	}
	set.normalize()
	return &Decoder{pool: newPool(workers), set: set}, nil
}

// Size 池大小。
func (d *Decoder) Size() int { return d.pool.size }

// Stats 返回 (空闲 worker 数, 等待者数)。
func (d *Decoder) Stats() (idle, waiting int) { return d.pool.stats() }

// FetchWorker 阻塞获取 worker（全局 FIFO）；ctx 结束返回 ctx.Err()，不会返回 nil worker。
func (d *Decoder) FetchWorker(ctx context.Context) (contract.Worker, error) {
	return d.pool.fetch(ctx)
}

// ReleaseWorker 归还 worker：交给等待最久的获取者，否则回到空闲集合。
func (d *Decoder) ReleaseWorker(w contract.Worker) { d.pool.release(w) }

// acquire 登记一个在途操作；关闭后返回 false。
func (d *Decoder) acquire() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	return true
}

// RequestOption 调整单个请求。
type RequestOption func(*requestOpts)

type requestOpts struct {
	id   string
	name string
}

// WithRequestID 指定请求 ID（默认随机 UUID）。
func WithRequestID(id string) RequestOption { return func(o *requestOpts) { o.id = id } }

// WithName 指定展示名（终端提示用，默认同 ID）。
func WithName(name string) RequestOption { return func(o *requestOpts) { o.name = name } }

// DecodeAll 提交请求并立即返回结果流；内部启动一个读取协程。
// 关闭后提交的请求返回一个以 ErrClosed 结束的空流。
func (d *Decoder) DecodeAll(ctx context.Context, req contract.TranslationRequest, opts ...RequestOption) *Translations {
	o := requestOpts{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.name == "" {
		o.name = o.id
	}
	ts := newTranslations(o.id)
	if !d.acquire() {
		ts.finish(contract.ErrClosed)
		return ts
	}
	h := &requestHandler{d: d, req: req, ts: ts, name: o.name}
	go h.run(ctx)
	return ts
}

// Decode 同步解码单句：获取 worker、解码、归还。失败以错误返回给调用方。
func (d *Decoder) Decode(ctx context.Context, s contract.Sentence) (contract.Translation, error) {
	if !d.acquire() {
		return contract.Translation{}, contract.ErrClosed
	}
	defer d.wg.Done()
	w, err := d.pool.fetch(ctx)
	if err != nil {
		return contract.Translation{}, err
	}
	defer d.pool.release(w)
	tr, err := d.translate(ctx, w, "", s, 0)
	if err != nil {
		d.logFailure("decoder", "decode failed", err, "", s.ID)
		return contract.Translation{}, err
	}
	return tr, nil
}

// Shutdown 拒绝新提交，等待所有读取/完成协程结束且全部 worker 空闲。
// ctx 先结束时返回 ctx.Err()（已在途的工作继续运行）。
func (d *Decoder) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if idle, waiting := d.pool.stats(); idle != d.pool.size || waiting != 0 {
		return fmt.Errorf("decoder: %d/%d workers idle, %d waiting after shutdown: %w",
			idle, d.pool.size, waiting, contract.ErrInvariantViolation)
	}
	if d.set.Logger != nil {
		d.set.Logger.Start("decoder", "shutdown").Finish("idle", int64(d.pool.size))
	}
	return nil
}
