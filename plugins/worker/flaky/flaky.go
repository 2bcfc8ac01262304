package flaky

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"mtdecode/pkg/contract"
)

// ErrInjected 注入的解码失败。
var ErrInjected = errors.New("flaky: injected failure")

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// FailIDs: 这些句子 ID 返回错误。
	FailIDs []int `json:"fail_ids,omitempty"`
	// PanicIDs: 这些句子 ID 触发 panic。
	PanicIDs []int `json:"panic_ids,omitempty"`
	// FailFirst: 前 N 次调用（全局计数）返回错误。
	FailFirst int `json:"fail_first,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Worker 是带状态的故障注入实现，用于验证失败策略。
// 多个 worker 实例可共享同一计数（见 NewShared）。
type Worker struct {
	prefix    string
	logPath   string
	fail      map[int]bool
	panics    map[int]bool
	failFirst int32
	count     *atomic.Int32
}

var _ contract.Worker = (*Worker)(nil)

// New 构造 Worker（独立计数）。
func New(opts *Options) *Worker { return NewShared(opts, new(atomic.Int32)) }

// NewShared 构造共享调用计数的 Worker。
func NewShared(opts *Options, count *atomic.Int32) *Worker {
	w := &Worker{prefix: "FLAKY", fail: map[int]bool{}, panics: map[int]bool{}, count: count}
	if opts == nil {
		return w
	}
	if opts.Prefix != "" {
		w.prefix = opts.Prefix
	}
	w.logPath = opts.LogPath
	for _, id := range opts.FailIDs {
		w.fail[id] = true
	}
	for _, id := range opts.PanicIDs {
		w.panics[id] = true
	}
	w.failFirst = int32(opts.FailFirst)
	return w
}

func (w *Worker) log(s string) {
	if w.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(w.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Translate 实现 contract.Worker。
func (w *Worker) Translate(ctx context.Context, s contract.Sentence) (contract.Translation, error) {
	if err := ctx.Err(); err != nil {
		return contract.Translation{}, err
	}
	n := w.count.Add(1)
	switch {
	case w.panics[s.ID]:
		w.log(fmt.Sprintf("%d panic", s.ID))
		panic(fmt.Sprintf("flaky: sentence %d", s.ID))
	case w.fail[s.ID], n <= w.failFirst:
		w.log(fmt.Sprintf("%d fail", s.ID))
		return contract.Translation{}, fmt.Errorf("sentence %d: %w", s.ID, ErrInjected)
	}
	w.log(fmt.Sprintf("%d ok", s.ID))
	return contract.Translation{Output: w.prefix + ": " + s.Source}, nil
}
