package decoder

import (
	"context"
	"sync"

	"mtdecode/internal/diag"
	"mtdecode/pkg/contract"
)

// pool: 固定大小的工作池。获取按请求到达顺序（全局 FIFO，不区分请求）服务。
// 不变量：idle 数 + 借出数 == size；有等待者时 idle 恒为空（归还直接移交最早的等待者）。
type pool struct {
	mu      sync.Mutex
	size    int
	idle    []contract.Worker
	waiters []chan contract.Worker // 每个容量 1，移交不阻塞
}

func newPool(workers []contract.Worker) *pool {
	p := &pool{size: len(workers), idle: append([]contract.Worker(nil), workers...)}
	diag.SetPool(len(p.idle), 0)
	return p
}

// fetch 阻塞直到获得 worker 或 ctx 结束。
// 取消与移交并发发生时，已移交的 worker 立即归还池中，调用方只看到 ctx.Err()。
func (p *pool) fetch(ctx context.Context) (contract.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if n := len(p.idle); n > 0 && len(p.waiters) == 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		diag.SetPool(len(p.idle), 0)
		p.mu.Unlock()
		return w, nil
	}
	ch := make(chan contract.Worker, 1)
	p.waiters = append(p.waiters, ch)
	diag.SetPool(len(p.idle), len(p.waiters))
	p.mu.Unlock()

	select {
	case w := <-ch:
		return w, nil
	case <-ctx.Done():
		p.mu.Lock()
		removed := p.dequeue(ch)
		diag.SetPool(len(p.idle), len(p.waiters))
		p.mu.Unlock()
		if !removed {
			// 已被移交
			p.release(<-ch)
		}
		return nil, ctx.Err()
	}
}

// dequeue 从等待队列移除 ch；不在队列中（已被移交）返回 false。调用方持锁。
func (p *pool) dequeue(ch chan contract.Worker) bool {
	for i, c := range p.waiters {
		if c == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// release 归还 worker：优先移交最早的等待者。
func (p *pool) release(w contract.Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters[0] = nil
		p.waiters = p.waiters[1:]
		ch <- w
		diag.SetPool(len(p.idle), len(p.waiters))
		return
	}
	p.idle = append(p.idle, w)
	diag.SetPool(len(p.idle), 0)
}

// stats 返回 (空闲数, 等待数)。
func (p *pool) stats() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), len(p.waiters)
}
