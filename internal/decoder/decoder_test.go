package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtdecode/internal/diag"
	"mtdecode/internal/rate"
	"mtdecode/pkg/contract"
)

// probe 统计同时持有 worker 的解码数。
type probe struct {
	active atomic.Int32
	max    atomic.Int32
}

func (p *probe) enter() {
	n := p.active.Add(1)
	for {
		m := p.max.Load()
		if n <= m || p.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (p *probe) leave() { p.active.Add(-1) }

// sleepWorker 按原文注入延迟；可指定失败或 panic 的原文。
type sleepWorker struct {
	id      int
	def     time.Duration
	delays  map[string]time.Duration
	fail    map[string]bool
	panicOn map[string]bool
	probe   *probe
}

func (w *sleepWorker) Translate(ctx context.Context, s contract.Sentence) (contract.Translation, error) {
	if w.probe != nil {
		w.probe.enter()
		defer w.probe.leave()
	}
	if w.panicOn[s.Source] {
		panic("boom")
	}
	if w.fail[s.Source] {
		return contract.Translation{}, errors.New("search exploded")
	}
	d := w.def
	if v, ok := w.delays[s.Source]; ok {
		d = v
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return contract.Translation{}, ctx.Err()
	}
	return contract.Translation{Output: strings.ToUpper(s.Source)}, nil
}

func workers(n int, mk func(i int) contract.Worker) []contract.Worker {
	out := make([]contract.Worker, n)
	for i := range out {
		out[i] = mk(i)
	}
	return out
}

func newDecoder(t *testing.T, ws []contract.Worker, set Settings) *Decoder {
	t.Helper()
	if set.FatalHook == nil {
		set.FatalHook = func(err error) { t.Errorf("unexpected fatal: %v", err) }
	}
	d, err := New(ws, set)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

func sentences(srcs ...string) *contract.SliceRequest {
	items := make([]contract.Sentence, len(srcs))
	for i, s := range srcs {
		items[i] = contract.Sentence{ID: i + 1, Source: s}
	}
	return contract.NewSliceRequest(items...)
}

func outputs(trs []contract.Translation) []string {
	out := make([]string, len(trs))
	for i, tr := range trs {
		out[i] = tr.Output
	}
	return out
}

func TestOrderUnderInjectedLatency(t *testing.T) {
	delays := map[string]time.Duration{"1": 30 * time.Millisecond, "2": 10 * time.Millisecond, "3": 20 * time.Millisecond}
	d := newDecoder(t, workers(2, func(i int) contract.Worker {
		return &sleepWorker{id: i, delays: delays}
	}), Settings{})

	got, err := d.DecodeAll(context.Background(), sentences("1", "2", "3")).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, outputs(got), "按读取顺序而非完成顺序交付")
	for i, tr := range got {
		assert.Equal(t, i, tr.Position)
		assert.Equal(t, i+1, tr.SentenceID)
		assert.NoError(t, tr.Err)
	}
}

func TestBoundedHolders(t *testing.T) {
	p := &probe{}
	const n = 3
	d := newDecoder(t, workers(n, func(i int) contract.Worker {
		return &sleepWorker{id: i, def: 5 * time.Millisecond, probe: p}
	}), Settings{})

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			srcs := make([]string, 10)
			for i := range srcs {
				srcs[i] = fmt.Sprintf("r%d-%d", r, i)
			}
			got, err := d.DecodeAll(context.Background(), sentences(srcs...)).Collect(context.Background())
			assert.NoError(t, err)
			assert.Len(t, got, 10)
		}(r)
	}
	wg.Wait()
	assert.LessOrEqual(t, p.max.Load(), int32(n))
	assert.Equal(t, int32(n), p.max.Load(), "负载充足时应用满工作池")
}

func TestFetchWorkerFIFO(t *testing.T) {
	d := newDecoder(t, workers(1, func(i int) contract.Worker { return &sleepWorker{id: i} }), Settings{})
	ctx := context.Background()
	held, err := d.FetchWorker(ctx)
	require.NoError(t, err)

	// 到达顺序与“请求身份”交错
	labels := []string{"B0", "A0", "A1", "B1", "A2"}
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	for i, l := range labels {
		wg.Add(1)
		go func(l string) {
			defer wg.Done()
			w, err := d.FetchWorker(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, l)
			mu.Unlock()
			d.ReleaseWorker(w)
		}(l)
		want := i + 1
		require.Eventually(t, func() bool { _, waiting := d.Stats(); return waiting == want }, time.Second, time.Millisecond)
	}
	d.ReleaseWorker(held)
	wg.Wait()
	assert.Equal(t, labels, order)
	idle, waiting := d.Stats()
	assert.Equal(t, 1, idle)
	assert.Equal(t, 0, waiting)
}

// stepWorker 记录服务顺序，每句阻塞到测试放行。
type stepWorker struct {
	mu    sync.Mutex
	order []string
	step  chan struct{}
}

func (w *stepWorker) Translate(ctx context.Context, s contract.Sentence) (contract.Translation, error) {
	w.mu.Lock()
	w.order = append(w.order, s.Source)
	w.mu.Unlock()
	select {
	case <-w.step:
	case <-ctx.Done():
		return contract.Translation{}, ctx.Err()
	}
	return contract.Translation{Output: s.Source}, nil
}

func (w *stepWorker) served() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

func TestFIFOAcrossRequests(t *testing.T) {
	sw := &stepWorker{step: make(chan struct{})}
	d := newDecoder(t, []contract.Worker{sw}, Settings{})
	ctx := context.Background()
	waitFor := func(served, waiting int) {
		t.Helper()
		require.Eventually(t, func() bool {
			_, w := d.Stats()
			return sw.served() == served && w == waiting
		}, time.Second, time.Millisecond)
	}

	a := d.DecodeAll(ctx, sentences("A0", "A1", "A2"))
	waitFor(1, 1)
	b := d.DecodeAll(ctx, sentences("B0", "B1", "B2"))
	waitFor(1, 2)

	for i, waiting := range []int{2, 2, 1, 1, 0} {
		sw.step <- struct{}{}
		waitFor(i+2, waiting)
	}
	sw.step <- struct{}{}

	assert.Equal(t, []string{"A0", "A1", "B0", "A2", "B1", "B2"}, sw.order, "服务顺序等于阻塞调用的到达顺序")
	ga, err := a.Collect(ctx)
	require.NoError(t, err)
	gb, err := b.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A0", "A1", "A2"}, outputs(ga))
	assert.Equal(t, []string{"B0", "B1", "B2"}, outputs(gb))
}

func TestTranslationsFinishSemantics(t *testing.T) {
	ts := newTranslations("r")
	for i := 0; i < 3; i++ {
		assert.Equal(t, i, ts.reserve())
	}
	require.NoError(t, ts.record(2, contract.Translation{Output: "c"}))
	require.NoError(t, ts.record(0, contract.Translation{Output: "a"}))

	tr, err := ts.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", tr.Output)

	short := func() (contract.Translation, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		return ts.Next(ctx)
	}
	_, err = short()
	assert.ErrorIs(t, err, context.DeadlineExceeded, "序位 1 未记录时阻塞")

	ts.finish(nil)
	ts.finish(errors.New("ignored"))
	assert.True(t, ts.Finished())
	_, err = short()
	assert.ErrorIs(t, err, context.DeadlineExceeded, "finish 后仍等待未记录的序位，不跳过")

	assert.ErrorIs(t, ts.record(0, contract.Translation{}), contract.ErrInvariantViolation)
	assert.ErrorIs(t, ts.record(2, contract.Translation{}), contract.ErrInvariantViolation)
	assert.ErrorIs(t, ts.record(3, contract.Translation{}), contract.ErrInvariantViolation)
	require.NoError(t, ts.record(1, contract.Translation{Output: "b"}))

	for _, want := range []string{"b", "c"} {
		tr, err := ts.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, tr.Output)
	}
	for i := 0; i < 2; i++ {
		_, err := ts.Next(context.Background())
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestTranslationsConcurrentRecords(t *testing.T) {
	ts := newTranslations("r")
	const n = 200
	for i := 0; i < n; i++ {
		ts.reserve()
	}
	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, ts.record(i, contract.Translation{SentenceID: i}))
		}(i)
	}
	go func() {
		wg.Wait()
		ts.finish(nil)
	}()
	got, err := ts.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, tr := range got {
		assert.Equal(t, i, tr.Position)
		assert.Equal(t, i, tr.SentenceID)
	}
}

func TestTwoRequestsSerializedOnSinglePool(t *testing.T) {
	const per = 20 * time.Millisecond
	d := newDecoder(t, []contract.Worker{&sleepWorker{def: per}}, Settings{})
	ctx := context.Background()
	t0 := time.Now()
	a := d.DecodeAll(ctx, sentences("a1", "a2", "a3", "a4", "a5"))
	b := d.DecodeAll(ctx, sentences("b1", "b2", "b3", "b4", "b5"))

	var ga, gb []contract.Translation
	var ea, eb error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); ga, ea = a.Collect(ctx) }()
	go func() { defer wg.Done(); gb, eb = b.Collect(ctx) }()
	wg.Wait()
	elapsed := time.Since(t0)

	require.NoError(t, ea)
	require.NoError(t, eb)
	assert.Equal(t, []string{"A1", "A2", "A3", "A4", "A5"}, outputs(ga))
	assert.Equal(t, []string{"B1", "B2", "B3", "B4", "B5"}, outputs(gb))
	assert.GreaterOrEqual(t, elapsed, 10*per-5*time.Millisecond, "单 worker 串行")
	assert.Less(t, elapsed, 25*per)
}

// endless 无限句子序列。
type endless struct{ n int }

func (e *endless) Next(ctx context.Context) (contract.Sentence, error) {
	e.n++
	return contract.Sentence{ID: e.n, Source: fmt.Sprintf("s%d", e.n)}, nil
}

func TestCancellationStopsReader(t *testing.T) {
	d := newDecoder(t, []contract.Worker{&sleepWorker{def: 10 * time.Millisecond}}, Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	ts := d.DecodeAll(ctx, &endless{})
	time.AfterFunc(35*time.Millisecond, cancel)

	var got []contract.Translation
	var err error
	for {
		var tr contract.Translation
		tr, err = ts.Next(context.Background())
		if err != nil {
			break
		}
		got = append(got, tr)
	}
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, got)
	for i, tr := range got {
		assert.Equal(t, i, tr.Position, "取消前已记录的结果按序交付")
	}

	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	require.NoError(t, d.Shutdown(sctx))
	idle, waiting := d.Stats()
	assert.Equal(t, 1, idle, "取消后 worker 全部归还")
	assert.Equal(t, 0, waiting)
}

func TestFetchWorkerCancel(t *testing.T) {
	d := newDecoder(t, []contract.Worker{&sleepWorker{}}, Settings{})
	held, err := d.FetchWorker(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w, err := d.FetchWorker(ctx)
	assert.Nil(t, w)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, waiting := d.Stats()
	assert.Equal(t, 0, waiting, "取消的等待者出队")

	d.ReleaseWorker(held)
	idle, _ := d.Stats()
	assert.Equal(t, 1, idle)
}

func TestFetchWorkerCancelRace(t *testing.T) {
	d := newDecoder(t, []contract.Worker{&sleepWorker{}}, Settings{})
	for i := 0; i < 200; i++ {
		held, err := d.FetchWorker(context.Background())
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if w, err := d.FetchWorker(ctx); err == nil {
				d.ReleaseWorker(w)
			}
		}()
		go cancel()
		d.ReleaseWorker(held)
		<-done
		idle, waiting := d.Stats()
		require.Equal(t, 1, idle, "并发取消与移交不丢 worker")
		require.Equal(t, 0, waiting)
	}
}

func TestIsolatePolicy(t *testing.T) {
	var buf bytes.Buffer
	logger := diag.NewLoggerWithWriter("t", "info", &buf)
	d := newDecoder(t, workers(2, func(i int) contract.Worker {
		return &sleepWorker{id: i, fail: map[string]bool{"bad": true}, panicOn: map[string]bool{"boom": true}}
	}), Settings{OnFailure: PolicyIsolate, Logger: logger})

	got, err := d.DecodeAll(context.Background(), sentences("ok", "bad", "boom", "fine")).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.NoError(t, got[0].Err)
	assert.ErrorIs(t, got[1].Err, contract.ErrDecodeFailed)
	assert.ErrorIs(t, got[2].Err, contract.ErrDecodeFailed)
	assert.Contains(t, got[2].Err.Error(), "panic")
	assert.Equal(t, "FINE", got[3].Output)
	assert.Equal(t, 2, got[1].SentenceID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	idle, _ := d.Stats()
	assert.Equal(t, 2, idle)
	assert.Contains(t, buf.String(), "translate failed")
}

func TestFatalPolicyInvokesHook(t *testing.T) {
	var mu sync.Mutex
	var fatals []error
	d := newDecoder(t, []contract.Worker{&sleepWorker{panicOn: map[string]bool{"boom": true}}}, Settings{
		FatalHook: func(err error) {
			mu.Lock()
			fatals = append(fatals, err)
			mu.Unlock()
		},
	})
	got, err := d.DecodeAll(context.Background(), sentences("x", "boom"), WithRequestID("req-7")).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fatals, 1)
	assert.ErrorIs(t, fatals[0], contract.ErrDecodeFailed)
	assert.Contains(t, fatals[0].Error(), "sentence 2")
	assert.Contains(t, fatals[0].Error(), "req-7")
}

func TestDecodeSyncAndClosed(t *testing.T) {
	d := newDecoder(t, []contract.Worker{&sleepWorker{fail: map[string]bool{"bad": true}}}, Settings{})
	ctx := context.Background()
	tr, err := d.Decode(ctx, contract.Sentence{ID: 9, Source: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "HI", tr.Output)
	assert.Equal(t, 9, tr.SentenceID)

	_, err = d.Decode(ctx, contract.Sentence{ID: 10, Source: "bad"})
	assert.ErrorIs(t, err, contract.ErrDecodeFailed, "同步解码失败返回给调用方")

	require.NoError(t, d.Shutdown(ctx))
	_, err = d.Decode(ctx, contract.Sentence{Source: "hi"})
	assert.ErrorIs(t, err, contract.ErrClosed)
	_, err = d.DecodeAll(ctx, sentences("x")).Next(ctx)
	assert.ErrorIs(t, err, contract.ErrClosed)
}

type brokenRequest struct{ n int }

func (b *brokenRequest) Next(context.Context) (contract.Sentence, error) {
	b.n++
	if b.n > 1 {
		return contract.Sentence{}, contract.ErrInvalidInput
	}
	return contract.Sentence{ID: 1, Source: "one"}, nil
}

func TestReaderErrorEndsStream(t *testing.T) {
	d := newDecoder(t, []contract.Worker{&sleepWorker{}}, Settings{})
	got, err := d.DecodeAll(context.Background(), &brokenRequest{}).Collect(context.Background())
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	require.Len(t, got, 1, "错误前已读取的句子仍交付")
	assert.Equal(t, "ONE", got[0].Output)
}

func TestAdmissionGate(t *testing.T) {
	g := rate.NewGate(nil, rate.Limits{SentencesPerMinute: 1200}, nil)
	d := newDecoder(t, workers(3, func(i int) contract.Worker { return &sleepWorker{id: i} }), Settings{Gate: g})
	t0 := time.Now()
	got, err := d.DecodeAll(context.Background(), sentences("a", "b", "c")).Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.GreaterOrEqual(t, time.Since(t0), 90*time.Millisecond, "每请求准入限速生效")
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Settings{})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New([]contract.Worker{nil}, Settings{})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New([]contract.Worker{&sleepWorker{}}, Settings{OnFailure: "retry"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	d, err := New([]contract.Worker{&sleepWorker{}, &sleepWorker{}}, Settings{})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Size())
	assert.Equal(t, PolicyFatal, d.set.OnFailure)
}

func TestShutdownTimeout(t *testing.T) {
	d := newDecoder(t, []contract.Worker{&sleepWorker{def: time.Millisecond}}, Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = d.DecodeAll(ctx, &endless{})
	sctx, scancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer scancel()
	assert.ErrorIs(t, d.Shutdown(sctx), context.DeadlineExceeded, "无限请求未结束时 Shutdown 超时")
	cancel()
}
