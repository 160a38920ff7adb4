package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollTimeout bounds one wait for ready handlers.
const DefaultPollTimeout = time.Millisecond

// State is a Loop lifecycle state. A loop passes through each state once.
type State int32

const (
	StateCreated State = iota
	StateSpinning
	StateStopRequested
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSpinning:
		return "spinning"
	case StateStopRequested:
		return "stop-requested"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPollTimeout sets how long one poll cycle waits for ready handlers.
func WithPollTimeout(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.pollTimeout = d
		}
	}
}

// Loop is a cooperative poller bound to one task group.
//
// Handlers run synchronously on the goroutine that called Run. A running
// handler is never interrupted; a stop request only takes effect between
// handlers.
type Loop struct {
	group       *TaskGroup
	pollTimeout time.Duration

	state    atomic.Int32
	stop     atomic.Bool
	stopC    chan struct{}
	stopOnce sync.Once
	executed atomic.Uint64
}

// NewLoop binds a new loop to g. A group accepts a single loop for its
// lifetime.
func NewLoop(g *TaskGroup, opts ...LoopOption) (*Loop, error) {
	if !g.bound.CompareAndSwap(false, true) {
		return nil, ErrGroupBound
	}

	l := &Loop{
		group:       g,
		pollTimeout: DefaultPollTimeout,
		stopC:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.setState(StateCreated)
	return l, nil
}

// Group returns the bound task group.
func (l *Loop) Group() *TaskGroup {
	return l.group
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Executed is the number of handler invocations completed.
func (l *Loop) Executed() uint64 {
	return l.executed.Load()
}

// RequestStop asks the loop to return. It may be called from any goroutine,
// any number of times, and never interrupts a running handler.
func (l *Loop) RequestStop() {
	l.stopOnce.Do(func() {
		l.stop.Store(true)
		close(l.stopC)
	})
}

// Run polls the group until RequestStop is called or ctx is done. It
// returns after the in-flight handler, if any, has completed. A loop runs
// once; later calls return ErrLoopReused.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateSpinning)) {
		return ErrLoopReused
	}
	l.setState(StateSpinning)
	defer l.setState(StateStopped)

	unwatch := context.AfterFunc(ctx, l.RequestStop)
	defer unwatch()

	for !l.stop.Load() {
		if !l.group.Wait(l.pollTimeout, l.stopC) {
			continue
		}
		l.spinSome(ctx)
	}

	l.setState(StateStopRequested)
	log.Debugf("%s loop: stop observed after %d handlers", l.group.Level(), l.Executed())
	return nil
}

// spinSome takes at most one message per handler, in registration order.
func (l *Loop) spinSome(ctx context.Context) {
	for _, h := range l.group.snapshot() {
		if l.stop.Load() {
			return
		}
		msg, ok := h.queue.TryDequeue()
		if !ok {
			continue
		}
		l.execute(ctx, h, msg)
	}
}

// execute runs one handler, converting a panic into a counted error so the
// loop thread survives it.
func (l *Loop) execute(ctx context.Context, h *handler, msg int32) {
	start := time.Now()
	panicked := false

	defer func() {
		if r := recover(); r != nil {
			panicked = true
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			l.group.panics.Add(1)
			log.Errorf("handler on %s panicked: %v\nstack trace:\n%s", h.channel, r, buf[:n])
		}
		l.executed.Add(1)
		l.group.node.metrics.HandlerDone(l.group.Level().String(), h.channel, time.Since(start), panicked)
	}()

	h.fn(ctx, msg)
}

func (l *Loop) setState(s State) {
	if s != StateCreated {
		l.state.Store(int32(s))
	}
	l.group.node.metrics.SetLoopState(l.group.Level().String(), int(s))
}
