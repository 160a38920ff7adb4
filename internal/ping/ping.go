// Package ping drives the experiment from the outside: it publishes
// sequence numbers on high_ping and low_ping at ping_period, matches the
// values coming back on high_pong and low_pong, and keeps round-trip
// statistics per level.
package ping

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
	"github.com/utkarsh5026/cbgexec/internal/executor"
	"github.com/utkarsh5026/cbgexec/internal/metrics"
	"github.com/utkarsh5026/cbgexec/internal/params"
	"github.com/utkarsh5026/cbgexec/internal/pong"
)

var log = logging.Logger("ping")

const (
	// PingPeriod is the parameter holding the publish period in seconds.
	PingPeriod = "ping_period"

	// DefaultPingPeriod is the default publish period, in seconds.
	DefaultPingPeriod = 0.1

	// pausePoll is how often a paused generator rechecks ping_period.
	pausePoll = 10 * time.Millisecond
)

// Stats summarizes one level's round trips.
type Stats struct {
	Level      cpu.Level
	Sent       uint64
	Received   uint64
	Lost       uint64
	Unexpected uint64

	Min    time.Duration
	Avg    time.Duration
	Median time.Duration
	P95    time.Duration
	P99    time.Duration
	Max    time.Duration
}

// Option configures a Generator.
type Option func(*Generator)

// WithMetrics records sends and round trips in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(g *Generator) {
		g.metrics = r
	}
}

// WithClock replaces time.Now for round-trip measurement.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

type stream struct {
	level   cpu.Level
	pub     *executor.Publisher
	limiter *rate.Limiter
	// retune wakes a publisher waiting on a token after ping_period changes.
	retune chan struct{}

	mu         sync.Mutex
	next       int32
	inflight   map[int32]time.Time
	rtts       []time.Duration
	sent       uint64
	unexpected uint64
}

// Generator publishes pings and collects pongs for both levels.
type Generator struct {
	params  *params.Store
	metrics *metrics.Registry
	now     func() time.Time
	streams []*stream
}

// New declares ping_period and subscribes to both pong channels on the
// default task group of n.
func New(ctx context.Context, n *executor.Node, store *params.Store, opts ...Option) (*Generator, error) {
	g := &Generator{
		params: store,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	if _, err := store.Declare(PingPeriod, DefaultPingPeriod); err != nil {
		return nil, err
	}
	period, _ := store.Seconds(PingPeriod)

	group, err := n.TaskGroup(executor.DefaultGroup)
	if err != nil {
		return nil, err
	}

	for _, level := range pong.Levels {
		s := &stream{
			level:    level,
			pub:      n.Publisher(pong.PingChannel(level)),
			limiter:  rate.NewLimiter(limitFor(period), 1),
			retune:   make(chan struct{}, 1),
			next:     1,
			inflight: make(map[int32]time.Time),
		}
		if err := n.Subscribe(ctx, pong.PongChannel(level), group, g.onPong(s)); err != nil {
			return nil, fmt.Errorf("ping %s: %w", level, err)
		}
		g.streams = append(g.streams, s)
	}

	err = store.OnChange(PingPeriod, func(_ string, v float64) {
		limit := limitFor(time.Duration(v * float64(time.Second)))
		for _, s := range g.streams {
			s.limiter.SetLimit(limit)
			select {
			case s.retune <- struct{}{}:
			default:
			}
		}
		log.Debugf("ping_period now %vs", v)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// limitFor never returns a zero limit: a zero limit drains the burst and
// the limiter cannot hand out tokens again. A paused period keeps the
// limiter at pausePoll instead and publishLoop holds back.
func limitFor(period time.Duration) rate.Limit {
	if period <= 0 {
		period = pausePoll
	}
	return rate.Every(period)
}

// Run publishes pings on both levels until ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, s := range g.streams {
		eg.Go(func() error {
			return g.publishLoop(ctx, s)
		})
	}
	return eg.Wait()
}

// publishLoop sends one ping per limiter token. A ping_period of zero
// pauses publishing until it changes.
func (g *Generator) publishLoop(ctx context.Context, s *stream) error {
	label := s.level.String()
	for {
		if period, _ := g.params.Seconds(PingPeriod); period <= 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pausePoll):
				continue
			}
		}

		if !g.waitToken(ctx, s) {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if period, _ := g.params.Seconds(PingPeriod); period <= 0 {
			continue
		}

		s.mu.Lock()
		msg := s.next
		s.next++
		s.inflight[msg] = g.now()
		s.sent++
		s.mu.Unlock()

		s.pub.Publish(ctx, msg)
		g.metrics.PingSent(label)
	}
}

// waitToken waits for the next limiter token. It returns false, giving the
// token back, when ctx ends or ping_period changes during the wait.
func (g *Generator) waitToken(ctx context.Context, s *stream) bool {
	r := s.limiter.Reserve()
	if !r.OK() {
		return false
	}
	delay := r.Delay()
	if delay <= 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
	case <-s.retune:
	}
	r.Cancel()
	return false
}

func (g *Generator) onPong(s *stream) executor.Handler {
	label := s.level.String()
	return func(_ context.Context, msg int32) {
		now := g.now()

		s.mu.Lock()
		sentAt, ok := s.inflight[msg]
		if !ok {
			s.unexpected++
			s.mu.Unlock()
			log.Debugf("%s: unexpected pong %d", label, msg)
			return
		}
		delete(s.inflight, msg)
		rtt := now.Sub(sentAt)
		s.rtts = append(s.rtts, rtt)
		s.mu.Unlock()

		g.metrics.PongReceived(label, rtt)
	}
}

// Statistics returns the current statistics, high level first.
func (g *Generator) Statistics() []Stats {
	out := make([]Stats, 0, len(g.streams))
	for _, s := range g.streams {
		s.mu.Lock()
		st := summarize(s.rtts)
		st.Level = s.level
		st.Sent = s.sent
		st.Lost = uint64(len(s.inflight))
		st.Unexpected = s.unexpected
		s.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func summarize(rtts []time.Duration) Stats {
	st := Stats{Received: uint64(len(rtts))}
	if len(rtts) == 0 {
		return st
	}

	sorted := slices.Clone(rtts)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	st.Min = sorted[0]
	st.Max = sorted[len(sorted)-1]
	st.Avg = total / time.Duration(len(sorted))
	st.Median, st.P95, st.P99 = percentiles(sorted)
	return st
}

func percentiles(sorted []time.Duration) (p50, p95, p99 time.Duration) {
	n := len(sorted)
	at := func(p int) time.Duration {
		return sorted[min(n*p/100, n-1)]
	}
	return at(50), at(95), at(99)
}
