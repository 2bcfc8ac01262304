package decoder

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"mtdecode/pkg/contract"
)

// Translations: 单个请求的有序结果流。
// 多个完成协程并发 record（按读取序位），单个消费者按序位 Next；
// 结束标记只在 finish 之后、且所有已提交序位都已记录并被消费后出现。
type Translations struct {
	requestID string

	mu        sync.Mutex
	buf       map[int]contract.Translation
	next      int  // 下一个要交付的序位
	submitted int  // 已分配的序位数
	finished  bool
	err       error
	changed   chan struct{} // 每次 record/finish 关闭并替换
}

func newTranslations(requestID string) *Translations {
	return &Translations{
		requestID: requestID,
		buf:       make(map[int]contract.Translation),
		changed:   make(chan struct{}),
	}
}

// RequestID 返回请求标识。
func (t *Translations) RequestID() string { return t.requestID }

// reserve 由读取者按读取顺序分配序位。
func (t *Translations) reserve() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := t.submitted
	t.submitted++
	return pos
}

func (t *Translations) signal() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// record 记录 pos 处的结果；未分配或重复的序位返回 ErrInvariantViolation。
func (t *Translations) record(pos int, tr contract.Translation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos < 0 || pos >= t.submitted {
		return fmt.Errorf("record position %d of %d: %w", pos, t.submitted, contract.ErrInvariantViolation)
	}
	if _, dup := t.buf[pos]; dup || pos < t.next {
		return fmt.Errorf("record position %d twice: %w", pos, contract.ErrInvariantViolation)
	}
	tr.Position = pos
	t.buf[pos] = tr
	t.signal()
	return nil
}

// finish 标记不再有新序位；err 非空（取消/读取失败）在所有已记录结果之后交付。只生效一次。
func (t *Translations) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	t.err = err
	t.signal()
}

// Finished 是否已调用 finish。
func (t *Translations) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// Next 阻塞直到下一个序位的结果可用。流结束返回 io.EOF，
// 若请求以错误结束（如取消）则返回该错误；ctx 结束返回 ctx.Err()。
func (t *Translations) Next(ctx context.Context) (contract.Translation, error) {
	for {
		t.mu.Lock()
		if tr, ok := t.buf[t.next]; ok {
			delete(t.buf, t.next)
			t.next++
			t.mu.Unlock()
			return tr, nil
		}
		if t.finished && t.next >= t.submitted {
			err := t.err
			t.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return contract.Translation{}, err
		}
		ch := t.changed
		t.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return contract.Translation{}, ctx.Err()
		}
	}
}

// All 以迭代器形式按序消费；正常结束不产出错误，异常结束产出一次错误后停止。
func (t *Translations) All(ctx context.Context) iter.Seq2[contract.Translation, error] {
	return func(yield func(contract.Translation, error) bool) {
		for {
			tr, err := t.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(tr, err) || err != nil {
				return
			}
		}
	}
}

// Collect 消费全部结果（测试与同步调用便利）。
func (t *Translations) Collect(ctx context.Context) ([]contract.Translation, error) {
	var out []contract.Translation
	for tr, err := range t.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, tr)
	}
	return out, nil
}
