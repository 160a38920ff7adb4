// Package experiment runs the priority fairness experiment: two scheduler
// loops on dedicated OS threads, one placed in the high priority class and
// one in the low, both serving a pong responder for a fixed duration. The
// result is the CPU time each thread was granted.
package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
	"github.com/utkarsh5026/cbgexec/internal/executor"
	"github.com/utkarsh5026/cbgexec/internal/metrics"
	"github.com/utkarsh5026/cbgexec/internal/ping"
	"github.com/utkarsh5026/cbgexec/internal/pong"
	"github.com/utkarsh5026/cbgexec/internal/stress"
	"github.com/utkarsh5026/cbgexec/internal/transport"
)

var log = logging.Logger("experiment")

// ThreadReport is the CPU accounting of one loop thread.
type ThreadReport struct {
	Level  cpu.Level
	Thread cpu.Thread

	Begin   time.Duration
	End     time.Duration
	Elapsed time.Duration

	// Executed is the number of handlers the loop ran.
	Executed uint64

	// Err is set when the begin sample failed; Elapsed is then zero.
	Err error
}

// Result is everything a run measured.
type Result struct {
	RunID   string
	Started time.Time
	Wall    time.Duration
	// Early is set when the run was cancelled before its duration.
	Early bool

	// Threads holds the high thread first, then the low thread.
	Threads []ThreadReport

	PrioritiesVerified bool
	PriorityErrors     []error

	Ping       []ping.Stats
	Samples    []Sample
	Node       executor.Stats
	Stress     stress.Report
	Parameters map[string]float64
}

// Thread returns the report for level.
func (r *Result) Thread(level cpu.Level) (ThreadReport, bool) {
	for _, t := range r.Threads {
		if t.Level == level {
			return t, true
		}
	}
	return ThreadReport{}, false
}

// loopThread is one scheduler loop and the OS thread running it.
type loopThread struct {
	level  cpu.Level
	loop   *executor.Loop
	handle chan cpu.Thread

	thread   cpu.Thread
	begin    time.Duration
	beginErr error
	end      time.Duration
}

// run locks the goroutine to a fresh OS thread, hands the thread to the
// controller, and waits to be released before polling. The final CPU
// sample is taken here: the locked thread exits with the goroutine.
func (th *loopThread) run(ctx context.Context, release <-chan struct{}, tracker cpu.Tracker) error {
	th.handle <- cpu.LockThread()
	<-release

	err := th.loop.Run(ctx)
	th.end = tracker.Self()
	return err
}

// Run executes one experiment. Only transport and node setup failures are
// returned; priority and sampling failures are recorded in the Result.
func Run(ctx context.Context, opts ...Option) (*Result, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tctx, err := transport.Init(ctx, cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("init transport: %w", err)
	}
	defer func() { _ = tctx.Shutdown() }()

	if err := cfg.Store.Override(cfg.Parameters); err != nil {
		return nil, err
	}

	node := executor.NewNode(NodeName, tctx.Bus(),
		executor.WithQueueDepth(cfg.QueueDepth),
		executor.WithMetrics(cfg.Metrics),
	)
	defer func() { _ = node.Close() }()

	if cfg.Pong {
		if _, err := pong.New(tctx.Context(), node, cfg.Store, pong.WithMetrics(cfg.Metrics)); err != nil {
			return nil, fmt.Errorf("pong node: %w", err)
		}
	}
	var gen *ping.Generator
	if cfg.Ping {
		if gen, err = ping.New(tctx.Context(), node, cfg.Store, ping.WithMetrics(cfg.Metrics)); err != nil {
			return nil, fmt.Errorf("ping node: %w", err)
		}
	}

	threads := make([]*loopThread, 0, len(pong.Levels))
	for _, level := range pong.Levels {
		g, err := node.TaskGroup(pong.GroupIndex(level))
		if err != nil {
			return nil, err
		}
		l, err := executor.NewLoop(g, executor.WithPollTimeout(cfg.PollTimeout))
		if err != nil {
			return nil, err
		}
		threads = append(threads, &loopThread{level: level, loop: l, handle: make(chan cpu.Thread, 1)})
	}

	res := &Result{RunID: uuid.NewString(), Started: time.Now()}
	log.Infof("run %s: %v on %s bus, ping=%t pong=%t cpu=%d stress=%d",
		res.RunID, cfg.Duration, backendName(cfg.Transport), cfg.Ping, cfg.Pong, cfg.CPU, cfg.Stress)

	release := make(chan struct{})
	var loops errgroup.Group
	for _, th := range threads {
		loops.Go(func() error {
			return th.run(tctx.Context(), release, cfg.Tracker)
		})
	}

	res.PrioritiesVerified, res.PriorityErrors = configure(cfg.Configurator, threads)
	for _, th := range threads {
		th.begin, th.beginErr = cfg.Tracker.Sample(th.thread)
		if th.beginErr != nil {
			log.Warnf("%s thread %s: begin sample: %v", th.level, th.thread, th.beginErr)
		}
	}
	close(release)

	auxCtx, stopAux := context.WithCancel(tctx.Context())
	defer stopAux()

	var aux errgroup.Group
	if cfg.Stress > 0 {
		aux.Go(func() error {
			res.Stress = stress.Run(auxCtx, stress.Config{Workers: cfg.Stress, CPU: cfg.CPU})
			return nil
		})
	}
	if gen != nil {
		aux.Go(func() error {
			return gen.Run(auxCtx)
		})
	}
	if cfg.MetricsAddr != "" {
		aux.Go(func() error {
			if err := metrics.Serve(auxCtx, cfg.MetricsAddr, cfg.Metrics); err != nil {
				log.Warnf("metrics listener on %s: %v", cfg.MetricsAddr, err)
			}
			return nil
		})
	}

	smp := newSampler(cfg.Tracker, cfg.Metrics, threads)
	stopSampler := smp.start(cfg.SampleEvery)

	res.Early = sleep(ctx, cfg.Duration, cfg.Progress)

	stopSampler()
	stopAux()
	if err := aux.Wait(); err != nil {
		log.Warnf("auxiliary task: %v", err)
	}

	if err := tctx.Shutdown(); err != nil {
		log.Warnf("transport shutdown: %v", err)
	}
	for _, th := range threads {
		th.loop.RequestStop()
	}
	if err := loops.Wait(); err != nil {
		log.Errorf("loop thread: %v", err)
	}
	res.Wall = time.Since(res.Started)

	for _, th := range threads {
		tr := ThreadReport{
			Level:    th.level,
			Thread:   th.thread,
			Begin:    th.begin,
			End:      th.end,
			Executed: th.loop.Executed(),
			Err:      th.beginErr,
		}
		if tr.Err == nil {
			tr.Elapsed = tr.End - tr.Begin
		}
		cfg.Metrics.SetThreadCPU(th.level.String(), tr.Elapsed)
		res.Threads = append(res.Threads, tr)
	}

	res.Samples = smp.collected()
	if gen != nil {
		res.Ping = gen.Statistics()
	}
	res.Node = node.Stats()
	res.Parameters = cfg.Store.Snapshot()

	log.Infof("run %s finished after %v", res.RunID, res.Wall.Round(time.Millisecond))
	return res, nil
}

// configure applies each thread's priority class once, as soon as its
// handle arrives and before the loop is released.
func configure(c cpu.Configurator, threads []*loopThread) (bool, []error) {
	verified := true
	var errs []error
	for _, th := range threads {
		th.thread = <-th.handle
		if err := c.Apply(th.thread, th.level); err != nil {
			verified = false
			errs = append(errs, err)
			log.Warnf("priority not verified: %v", err)
			continue
		}
		log.Debugf("%s loop on thread %s", th.level, th.thread)
	}
	return verified, errs
}

func backendName(opts transport.Options) string {
	switch {
	case opts.Bus != nil:
		return "provided"
	case opts.Backend == "":
		return transport.BackendMemory
	default:
		return opts.Backend
	}
}
