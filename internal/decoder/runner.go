package decoder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mtdecode/internal/diag"
	"mtdecode/pkg/contract"
)

// completionRunner: 每句执行一次：解码、按原序位记录、归还 worker。
type completionRunner struct {
	d   *Decoder
	w   contract.Worker
	s   contract.Sentence
	ts  *Translations
	pos int
}

func (r *completionRunner) run(ctx context.Context) {
	defer r.d.wg.Done()
	d := r.d
	tr, err := d.translate(ctx, r.w, r.ts.requestID, r.s, r.pos)
	if err != nil {
		tr = contract.Translation{SentenceID: r.s.ID, Source: r.s.Source, Err: err}
		// 请求被取消导致的中断不属于解码失败
		if ctx.Err() == nil {
			d.logFailure("runner", "translate failed", err, r.ts.requestID, r.s.ID)
			if d.set.OnFailure == PolicyFatal {
				d.set.FatalHook(fmt.Errorf("request %s sentence %d: %w", r.ts.requestID, r.s.ID, err))
			}
		}
	}
	if rerr := r.ts.record(r.pos, tr); rerr != nil {
		d.logFailure("runner", "record failed", rerr, r.ts.requestID, r.s.ID)
	}
	d.set.Terminal.SentenceDone(err != nil)
	d.pool.release(r.w)
}

// translate 调用 worker 并把 panic 与错误统一为 ErrDecodeFailed（取消除外）。
func (d *Decoder) translate(ctx context.Context, w contract.Worker, requestID string, s contract.Sentence, pos int) (tr contract.Translation, err error) {
	ctx, span := d.set.Tracer.Start(ctx, "decoder.translate", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("sentence_id", s.ID),
		attribute.Int("position", pos),
	))
	t0 := time.Now()
	diag.AddInFlight(1)
	defer func() {
		diag.AddInFlight(-1)
		diag.ObserveDuration("decoder", "translate", time.Since(t0).Milliseconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			diag.IncOp("decoder", "translate", "error")
		} else {
			diag.IncOp("decoder", "translate", "success")
		}
		span.End()
	}()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sentence %d: panic: %v: %w", s.ID, p, contract.ErrDecodeFailed)
		}
	}()
	if d.set.Logger != nil {
		d.set.Logger.DebugStart("decoder", "translate", requestID, strconv.Itoa(s.ID), map[string]string{
			"position": strconv.Itoa(pos),
		})
	}
	tr, err = w.Translate(ctx, s)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return contract.Translation{}, err
		}
		if !errors.Is(err, contract.ErrDecodeFailed) {
			err = fmt.Errorf("sentence %d: %w: %w", s.ID, contract.ErrDecodeFailed, err)
		}
		return contract.Translation{}, err
	}
	tr.SentenceID = s.ID
	if tr.Source == "" {
		tr.Source = s.Source
	}
	tr.Position = pos
	return tr, nil
}

// logFailure 记录并计数一次失败（不吞错）。
func (d *Decoder) logFailure(comp, msg string, err error, requestID string, sentenceID int) {
	code := diag.Classify(err)
	if d.set.Logger != nil {
		d.set.Logger.ErrorWith(comp, string(code), msg+": "+err.Error(), nil, requestID, strconv.Itoa(sentenceID))
	}
	diag.IncError(comp, string(code))
}
