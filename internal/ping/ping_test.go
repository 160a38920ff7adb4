package ping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
	"github.com/utkarsh5026/cbgexec/internal/executor"
	"github.com/utkarsh5026/cbgexec/internal/params"
	"github.com/utkarsh5026/cbgexec/internal/pong"
	"github.com/utkarsh5026/cbgexec/internal/transport"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestSummarize(t *testing.T) {
	var rtts []time.Duration
	for i := 100; i >= 1; i-- {
		rtts = append(rtts, ms(i))
	}

	st := summarize(rtts)
	if st.Received != 100 {
		t.Errorf("Received = %d, want 100", st.Received)
	}
	if st.Min != ms(1) || st.Max != ms(100) {
		t.Errorf("Min/Max = %v/%v, want 1ms/100ms", st.Min, st.Max)
	}
	if st.Avg != 50500*time.Microsecond {
		t.Errorf("Avg = %v, want 50.5ms", st.Avg)
	}
	if st.Median != ms(51) || st.P95 != ms(96) || st.P99 != ms(100) {
		t.Errorf("percentiles = %v/%v/%v, want 51ms/96ms/100ms", st.Median, st.P95, st.P99)
	}
	if rtts[0] != ms(100) {
		t.Error("summarize reordered its input")
	}
}

func TestSummarize_Empty(t *testing.T) {
	if st := summarize(nil); st != (Stats{}) {
		t.Errorf("summarize(nil) = %+v, want zero", st)
	}
}

func TestSummarize_Single(t *testing.T) {
	st := summarize([]time.Duration{ms(7)})
	if st.Min != ms(7) || st.Median != ms(7) || st.P99 != ms(7) || st.Max != ms(7) {
		t.Errorf("single sample stats = %+v", st)
	}
}

type fixture struct {
	bus   *transport.MemoryBus
	store *params.Store
	node  *executor.Node
	gen   *Generator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{bus: transport.NewMemoryBus(), store: params.NewStore()}
	f.node = executor.NewNode("ping_node", f.bus)

	gen, err := New(context.Background(), f.node, f.store, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.gen = gen
	return f
}

// startLoop spins the default task group until the test ends.
func (f *fixture) startLoop(t *testing.T) {
	t.Helper()
	g, _ := f.node.TaskGroup(executor.DefaultGroup)
	l, err := executor.NewLoop(g)
	if err != nil {
		t.Fatalf("NewLoop failed: %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Run(context.Background())
	}()
	t.Cleanup(func() {
		l.RequestStop()
		wg.Wait()
	})
}

// echo answers every ping on the bus with the same value.
func (f *fixture) echo(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, level := range pong.Levels {
		out := pong.PongChannel(level)
		_, err := f.bus.Subscribe(ctx, pong.PingChannel(level), func(m int32) {
			_ = f.bus.Publish(ctx, out, m)
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}
}

func TestGenerator_RoundTrips(t *testing.T) {
	f := newFixture(t)
	f.echo(t)
	f.startLoop(t)
	_ = f.store.Set(PingPeriod, 0.005)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := f.gen.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	stats := f.gen.Statistics()
	if len(stats) != 2 || stats[0].Level != cpu.High || stats[1].Level != cpu.Low {
		t.Fatalf("Statistics levels = %+v", stats)
	}
	for _, st := range stats {
		if st.Sent == 0 {
			t.Errorf("%s: nothing sent", st.Level)
		}
		if st.Received+st.Lost != st.Sent {
			t.Errorf("%s: received %d + lost %d != sent %d", st.Level, st.Received, st.Lost, st.Sent)
		}
		if st.Received == 0 {
			t.Errorf("%s: no pongs received", st.Level)
		}
		if st.Min > st.Median || st.Median > st.Max {
			t.Errorf("%s: min %v median %v max %v out of order", st.Level, st.Min, st.Median, st.Max)
		}
	}
}

func TestGenerator_LostWithoutPong(t *testing.T) {
	f := newFixture(t)
	f.startLoop(t)
	_ = f.store.Set(PingPeriod, 0.01)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = f.gen.Run(ctx)

	for _, st := range f.gen.Statistics() {
		if st.Sent == 0 || st.Lost != st.Sent || st.Received != 0 {
			t.Errorf("%s: sent %d lost %d received %d", st.Level, st.Sent, st.Lost, st.Received)
		}
	}
}

func TestGenerator_PausedAtZeroPeriod(t *testing.T) {
	f := newFixture(t)
	_ = f.store.Set(PingPeriod, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = f.gen.Run(ctx)

	for _, st := range f.gen.Statistics() {
		if st.Sent != 0 {
			t.Errorf("%s: sent %d while paused", st.Level, st.Sent)
		}
	}
}

func TestGenerator_UnexpectedAndMeasuredPong(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(0, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := newFixture(t, WithClock(clock))
	s := f.gen.streams[0]

	s.mu.Lock()
	s.inflight[9] = clock()
	s.sent = 1
	s.mu.Unlock()

	mu.Lock()
	now = now.Add(ms(3))
	mu.Unlock()

	handle := f.gen.onPong(s)
	handle(context.Background(), 9)
	handle(context.Background(), 9)
	handle(context.Background(), 77)

	st := f.gen.Statistics()[0]
	if st.Received != 1 || st.Unexpected != 2 || st.Lost != 0 {
		t.Errorf("received %d unexpected %d lost %d, want 1/2/0", st.Received, st.Unexpected, st.Lost)
	}
	if st.Min != ms(3) {
		t.Errorf("rtt = %v, want 3ms", st.Min)
	}
}

func TestNew_DuplicateDeclare(t *testing.T) {
	store := params.NewStore()
	if _, err := store.Declare(PingPeriod, 1); err != nil {
		t.Fatal(err)
	}
	n := executor.NewNode("x", transport.NewMemoryBus())
	if _, err := New(context.Background(), n, store); !errors.Is(err, params.ErrAlreadyDeclared) {
		t.Errorf("New error = %v, want ErrAlreadyDeclared", err)
	}
}

func sentTotal(g *Generator) uint64 {
	var n uint64
	for _, st := range g.Statistics() {
		n += st.Sent
	}
	return n
}

func TestGenerator_ResumesAfterPause(t *testing.T) {
	f := newFixture(t)
	_ = f.store.Set(PingPeriod, 0.005)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.gen.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	_ = f.store.Set(PingPeriod, 0)
	time.Sleep(50 * time.Millisecond)
	paused := sentTotal(f.gen)
	time.Sleep(50 * time.Millisecond)
	if n := sentTotal(f.gen); n != paused {
		t.Errorf("sent %d pings while paused", n-paused)
	}

	_ = f.store.Set(PingPeriod, 0.005)
	time.Sleep(100 * time.Millisecond)
	if n := sentTotal(f.gen); n < paused+4 {
		t.Errorf("only %d pings after resume, want at least 4", n-paused)
	}

	cancel()
	<-done
}

func TestGenerator_PeriodChangeCutsLongWait(t *testing.T) {
	f := newFixture(t)
	_ = f.store.Set(PingPeriod, 30)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.gen.Run(ctx)
	}()

	// The first token is free; the next one would take 30s.
	time.Sleep(30 * time.Millisecond)
	before := sentTotal(f.gen)
	_ = f.store.Set(PingPeriod, 0.005)
	time.Sleep(100 * time.Millisecond)

	if n := sentTotal(f.gen); n < before+4 {
		t.Errorf("only %d pings after shortening the period, want at least 4", n-before)
	}

	cancel()
	<-done
}

func TestLimitFor_NeverZero(t *testing.T) {
	for _, d := range []time.Duration{-time.Second, 0, time.Millisecond} {
		if l := limitFor(d); l <= 0 {
			t.Errorf("limitFor(%v) = %v, want positive", d, l)
		}
	}
}
