package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"mtdecode/pkg/contract"
)

// 超过每分钟句数
func TestGateTryLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {SentencesPerMinute: 1}}, Limits{}, clk)
	if !g.Try(Ask{Key: "k", Sentences: 1}) {
		t.Fatalf("首次应通过")
	}
	if g.Try(Ask{Key: "k", Sentences: 1}) {
		t.Fatalf("应因限额拒绝")
	}
	now = now.Add(61 * time.Second)
	if !g.Try(Ask{Key: "k", Sentences: 1}) {
		t.Fatalf("一分钟后应恢复")
	}
}

// 未配置的 key 走默认限额；默认关闭时不限
func TestGateDefaultAndForget(t *testing.T) {
	now := time.Unix(1000, 0)
	clk := func() time.Time { return now }
	g := NewGate(nil, Limits{}, clk)
	for i := 0; i < 100; i++ {
		if !g.Try(Ask{Key: "any", Sentences: 1}) {
			t.Fatalf("默认关闭时不应限流")
		}
	}
	if s := g.(Snapshoter).Snapshot("any"); s != -1 {
		t.Fatalf("不限额应返回 -1, got %d", s)
	}

	g = NewGate(nil, Limits{SentencesPerMinute: 60, Burst: 3}, clk)
	if s := g.(Snapshoter).Snapshot("r1"); s != 3 {
		t.Fatalf("初始额度应为突发值 3, got %d", s)
	}
	if !g.Try(Ask{Key: "r1", Sentences: 3}) || g.Try(Ask{Key: "r1", Sentences: 1}) {
		t.Fatalf("突发额度应恰好耗尽")
	}
	if !g.Try(Ask{Key: "r2", Sentences: 1}) {
		t.Fatalf("不同请求互不影响")
	}
	g.Forget("r1")
	if !g.Try(Ask{Key: "r1", Sentences: 1}) {
		t.Fatalf("Forget 后应重新满桶")
	}
}

// 取消上下文
func TestGateWaitCancel(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {SentencesPerMinute: 1}}, Limits{}, nil)
	if err := g.Wait(context.Background(), Ask{Key: "k", Sentences: 1}); err != nil {
		t.Fatalf("首次应放行: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if err := g.Wait(ctx, Ask{Key: "k", Sentences: 1}); err == nil {
		t.Fatalf("应返回错误（取消或超出期限）")
	}
}

func TestGateWaitInvalid(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {SentencesPerMinute: 10, Burst: 2}}, Limits{}, nil)
	if err := g.Wait(context.Background(), Ask{Key: "k", Sentences: 0}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("0 句应为非法输入: %v", err)
	}
	if err := g.Wait(context.Background(), Ask{Key: "k", Sentences: 3}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("超出突发应快速失败: %v", err)
	}
	if g.Try(Ask{Key: "k", Sentences: 0}) {
		t.Fatalf("Try 0 句应失败")
	}
}

func TestGateWaitThrottles(t *testing.T) {
	g := NewGate(nil, Limits{SentencesPerMinute: 1200}, nil) // 50ms/句
	ctx := context.Background()
	t0 := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Wait(ctx, Ask{Key: "r", Sentences: 1}); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if d := time.Since(t0); d < 90*time.Millisecond {
		t.Fatalf("3 句应至少等待约 100ms, got %v", d)
	}
}
