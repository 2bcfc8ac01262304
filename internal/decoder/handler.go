package decoder

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"mtdecode/internal/diag"
	"mtdecode/internal/rate"
	"mtdecode/pkg/contract"
)

// requestHandler: 单个请求的读取协程。
// READING → (每句) DISPATCHING → READING，终态 FINISHED；从不等待解码本身。
type requestHandler struct {
	d    *Decoder
	req  contract.TranslationRequest
	ts   *Translations
	name string
}

func (h *requestHandler) run(ctx context.Context) {
	defer h.d.wg.Done()
	d, id := h.d, h.ts.requestID
	logger := d.set.Logger
	t0 := time.Now()
	rtimer := (*diag.Timer)(nil)
	if logger != nil {
		rtimer = logger.StartWith("request", "read", id, "")
	}
	d.set.Terminal.RequestStart(h.name)

	var inflight sync.WaitGroup
	count := 0
	err := h.dispatchLoop(ctx, &inflight, &count)

	// 在途句子全部记录后才结束流
	inflight.Wait()
	if d.set.Gate != nil {
		d.set.Gate.Forget(rate.LimitKey(id))
	}
	if err != nil {
		code := diag.Classify(err)
		if logger != nil {
			logger.ErrorWith("request", string(code), "read stopped: "+err.Error(), &t0, id, "")
		}
		diag.IncOp("request", "error", "error")
		diag.IncError("request", string(code))
	} else {
		diag.IncOp("request", "finish", "success")
	}
	h.ts.finish(err)
	rtimer.Finish("finished", int64(count))
	diag.ObserveDuration("request", "read", time.Since(t0).Milliseconds())
	d.set.Terminal.RequestFinish(h.name, err == nil, count, time.Since(t0))
}

// dispatchLoop 逐句读取、获取 worker 并交给完成协程；返回读取终止原因（正常耗尽为 nil）。
func (h *requestHandler) dispatchLoop(ctx context.Context, inflight *sync.WaitGroup, count *int) error {
	d, id := h.d, h.ts.requestID
	for {
		// 每次获取前检查取消
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := h.req.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.set.Gate != nil {
			if err := d.set.Gate.Wait(ctx, rate.Ask{Key: rate.LimitKey(id), Sentences: 1}); err != nil {
				return err
			}
		}
		w, err := d.pool.fetch(ctx)
		if err != nil {
			return err
		}
		pos := h.ts.reserve()
		inflight.Add(1)
		d.wg.Add(1)
		r := &completionRunner{d: d, w: w, s: s, ts: h.ts, pos: pos}
		go func() {
			defer inflight.Done()
			r.run(ctx)
		}()
		*count++
	}
}
