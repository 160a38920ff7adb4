package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/utkarsh5026/cbgexec/internal/algorithms"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestRedisBus_RoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	bus, err := NewRedisBus(ctx, RedisOptions{Addr: srv.Addr(), Prefix: "cbg:"})
	if err != nil {
		t.Fatalf("NewRedisBus failed: %v", err)
	}
	defer bus.Close()

	var r recorder
	if _, err := bus.Subscribe(ctx, "low_ping", r.deliver); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for _, v := range []int32{1, 2, 3, -4, 2147483647} {
		if err := bus.Publish(ctx, "low_ping", v); err != nil {
			t.Fatalf("Publish(%d) failed: %v", v, err)
		}
	}

	waitFor(t, func() bool { return len(r.got()) == 5 })

	want := []int32{1, 2, 3, -4, 2147483647}
	for i, v := range r.got() {
		if v != want[i] {
			t.Errorf("message %d = %d, want %d", i, v, want[i])
		}
	}
}

func TestRedisBus_PrefixIsolatesChannels(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewRedisBus(ctx, RedisOptions{Addr: srv.Addr(), Prefix: "a:"})
	if err != nil {
		t.Fatalf("NewRedisBus failed: %v", err)
	}
	defer a.Close()
	b, err := NewRedisBus(ctx, RedisOptions{Addr: srv.Addr(), Prefix: "b:"})
	if err != nil {
		t.Fatalf("NewRedisBus failed: %v", err)
	}
	defer b.Close()

	var ra, rb recorder
	_, _ = a.Subscribe(ctx, "high_ping", ra.deliver)
	_, _ = b.Subscribe(ctx, "high_ping", rb.deliver)

	_ = a.Publish(ctx, "high_ping", 11)
	waitFor(t, func() bool { return len(ra.got()) == 1 })

	time.Sleep(20 * time.Millisecond)
	if got := rb.got(); len(got) != 0 {
		t.Errorf("other prefix received %v", got)
	}
}

func TestRedisBus_ConnectFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := NewRedisBus(context.Background(), RedisOptions{
		Addr:            addr,
		ConnectAttempts: 2,
		Backoff:         algorithms.NewBackoffStrategy(algorithms.BackoffExponential, time.Millisecond, time.Millisecond, 0),
	})
	if err == nil {
		t.Fatal("NewRedisBus succeeded against a stopped server")
	}
}

func TestRedisBus_Closed(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	bus, err := NewRedisBus(ctx, RedisOptions{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("NewRedisBus failed: %v", err)
	}
	sub, err := bus.Subscribe(ctx, "x", func(int32) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = sub.Close()

	if err := bus.Publish(ctx, "x", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
}

func TestNewConnectBackoff(t *testing.T) {
	if d := NewConnectBackoff(algorithms.BackoffExponential).NextDelay(0, nil); d != DefaultConnectDelay {
		t.Errorf("exponential first delay = %v, want %v", d, DefaultConnectDelay)
	}

	jittered := NewConnectBackoff(algorithms.BackoffJittered)
	lo := time.Duration(float64(DefaultConnectDelay) * (1 - DefaultConnectJitter))
	hi := time.Duration(float64(DefaultConnectDelay) * (1 + DefaultConnectJitter))
	for i := 0; i < 50; i++ {
		if d := jittered.NextDelay(0, nil); d < lo || d > hi {
			t.Fatalf("jittered first delay = %v, want within [%v, %v]", d, lo, hi)
		}
	}
}

func TestRedisBus_JitteredReconnectReachesLateServer(t *testing.T) {
	probe := miniredis.RunT(t)
	addr := probe.Addr()
	probe.Close()

	late := miniredis.NewMiniRedis()
	t.Cleanup(late.Close)
	started := make(chan error, 1)
	time.AfterFunc(60*time.Millisecond, func() {
		started <- late.StartAddr(addr)
	})

	bus, err := NewRedisBus(context.Background(), RedisOptions{
		Addr:            addr,
		ConnectAttempts: 10,
		Backoff:         NewConnectBackoff(algorithms.BackoffJittered),
	})
	if serr := <-started; serr != nil {
		t.Skipf("could not restart redis on %s: %v", addr, serr)
	}
	if err != nil {
		t.Fatalf("NewRedisBus did not reach the late server: %v", err)
	}
	_ = bus.Close()
}
