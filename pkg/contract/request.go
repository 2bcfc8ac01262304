package contract

import (
	"context"
	"io"
)

// TranslationRequest: 惰性句子序列（有限或无限）。
// Next 返回下一个 Sentence；序列耗尽时返回 io.EOF。
// 同一请求只由一个读取者顺序调用，无需并发安全。
type TranslationRequest interface {
	Next(ctx context.Context) (Sentence, error)
}

// Worker: 可复用的重量级解码上下文（持有文法引用与私有暂存）。
// 同一时刻至多被一次解码独占；Translate 同步返回。
type Worker interface {
	Translate(ctx context.Context, s Sentence) (Translation, error)
}

// SliceRequest 将固定句子切片包装为 TranslationRequest（测试与同步调用便利）。
type SliceRequest struct {
	items []Sentence
	next  int
}

// NewSliceRequest 构造切片请求。
func NewSliceRequest(items ...Sentence) *SliceRequest {
	return &SliceRequest{items: items}
}

func (r *SliceRequest) Next(ctx context.Context) (Sentence, error) {
	if err := ctx.Err(); err != nil {
		return Sentence{}, err
	}
	if r.next >= len(r.items) {
		return Sentence{}, io.EOF
	}
	s := r.items[r.next]
	r.next++
	return s, nil
}
