package mock

import (
	"context"
	"strings"
	"time"

	"mtdecode/pkg/contract"
)

// Options: 调试用回显 worker（不加载任何模型）。
type Options struct {
	// Prefix: 输出前缀；非空时输出为 "Prefix: 原文"。
	Prefix string `json:"prefix"`
	// LatencyMS: 每句固定延迟（毫秒）。
	LatencyMS int `json:"latency_ms"`
	// LatencyByID: 按句子 ID 覆盖延迟（毫秒），用于注入乱序完成。
	LatencyByID map[int]int `json:"latency_by_id,omitempty"`
}

// Worker 回显原文；得分为 -词数。
type Worker struct {
	prefix  string
	latency time.Duration
	byID    map[int]time.Duration
}

var _ contract.Worker = (*Worker)(nil)

// New 构造 worker。
func New(opts *Options) *Worker {
	w := &Worker{}
	if opts == nil {
		return w
	}
	w.prefix = opts.Prefix
	if opts.LatencyMS > 0 {
		w.latency = time.Duration(opts.LatencyMS) * time.Millisecond
	}
	if len(opts.LatencyByID) > 0 {
		w.byID = make(map[int]time.Duration, len(opts.LatencyByID))
		for id, ms := range opts.LatencyByID {
			w.byID[id] = time.Duration(ms) * time.Millisecond
		}
	}
	return w
}

// Translate 等待注入的延迟后回显。
func (w *Worker) Translate(ctx context.Context, s contract.Sentence) (contract.Translation, error) {
	d := w.latency
	if v, ok := w.byID[s.ID]; ok {
		d = v
	}
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return contract.Translation{}, ctx.Err()
		}
	}
	out := s.Source
	if w.prefix != "" {
		out = w.prefix + ": " + s.Source
	}
	n := float64(len(strings.Fields(s.Source)))
	return contract.Translation{
		Output:   out,
		Score:    -n,
		Features: map[string]float64{"mock": n},
	}, nil
}
