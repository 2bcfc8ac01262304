package rate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"mtdecode/pkg/contract"
)

// LimitKey: 限流分组键（通常为请求 ID）。
type LimitKey string

// Limits: 每分组的准入限额。SentencesPerMinute=0 表示不启用。
type Limits struct {
	SentencesPerMinute int
	Burst              int // 0 视为 1
}

func (l Limits) enabled() bool { return l.SentencesPerMinute > 0 }

// Ask: 一次放行申请。
type Ask struct {
	Key       LimitKey
	Sentences int // 必须 >=1
}

// Gate: 准入闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；超过突发上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
	// Forget: 丢弃分组状态（请求结束时调用）。
	Forget(key LimitKey)
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (avail int)
}

// NewGate: 从静态配置构造闸门；未列出的 key 使用 def；clk 为空则使用 time.Now（仅影响 Try/Snapshot）。
func NewGate(m map[LimitKey]Limits, def Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	return &gate{clk: clk, static: m, def: def, m: make(map[LimitKey]*entry)}
}

type gate struct {
	clk    func() time.Time
	static map[LimitKey]Limits
	def    Limits

	mu sync.Mutex
	m  map[LimitKey]*entry
}

type entry struct {
	lim Limits
	l   *xrate.Limiter // nil 表示不限
}

func newEntry(lim Limits, now time.Time) *entry {
	e := &entry{lim: lim}
	if !lim.enabled() {
		return e
	}
	burst := lim.Burst
	if burst <= 0 {
		burst = 1
	}
	every := time.Minute / time.Duration(lim.SentencesPerMinute)
	e.l = xrate.NewLimiter(xrate.Every(every), burst)
	// 初始满桶以 now 为基准，便于注入时钟的测试
	e.l.SetBurstAt(now, burst)
	return e
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		lim, ok := g.static[key]
		if !ok {
			lim = g.def
		}
		e = newEntry(lim, g.clk())
		g.m[key] = e
	}
	return e
}

func (g *gate) Forget(key LimitKey) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

func (g *gate) Try(a Ask) bool {
	if a.Sentences <= 0 {
		return false
	}
	e := g.get(a.Key)
	if e.l == nil {
		return true
	}
	return e.l.AllowN(g.clk(), a.Sentences)
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	if a.Sentences <= 0 {
		return fmt.Errorf("rate: ask %d sentences: %w", a.Sentences, contract.ErrInvalidInput)
	}
	e := g.get(a.Key)
	if e.l == nil {
		return ctx.Err()
	}
	if a.Sentences > e.l.Burst() {
		return fmt.Errorf("rate: ask %d exceeds burst %d: %w", a.Sentences, e.l.Burst(), contract.ErrInvalidInput)
	}
	return e.l.WaitN(ctx, a.Sentences)
}

// Snapshot: 当前可用额度的向下取整估值（仅诊断）；不限额的分组返回 -1。
func (g *gate) Snapshot(key LimitKey) int {
	e := g.get(key)
	if e.l == nil {
		return -1
	}
	tok := e.l.TokensAt(g.clk())
	if tok < 0 {
		return 0
	}
	return int(math.Floor(tok))
}

// 接口断言（可选）。
var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
