package experiment

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
	"github.com/utkarsh5026/cbgexec/internal/metrics"
)

// Sample is the CPU each loop thread consumed during one interim interval.
type Sample struct {
	// Offset is the time since the run started.
	Offset time.Duration
	High   time.Duration
	Low    time.Duration
}

type sampler struct {
	tracker cpu.Tracker
	metrics *metrics.Registry
	threads []*loopThread
	started time.Time

	mu      sync.Mutex
	last    []time.Duration
	samples []Sample
}

func newSampler(tracker cpu.Tracker, r *metrics.Registry, threads []*loopThread) *sampler {
	last := make([]time.Duration, len(threads))
	for i, th := range threads {
		last[i] = th.begin
	}
	return &sampler{
		tracker: tracker,
		metrics: r,
		threads: threads,
		started: time.Now(),
		last:    last,
	}
}

// start schedules sample every interval and returns a function that stops
// the schedule and waits for a running sample. A non-positive interval
// schedules nothing.
func (s *sampler) start(every time.Duration) func() {
	if every <= 0 {
		return func() {}
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+every.String(), s.sample); err != nil {
		log.Warnf("interim sampling disabled: %v", err)
		return func() {}
	}
	c.Start()
	return func() {
		<-c.Stop().Done()
	}
}

// sample records one interval. The interval is skipped if either thread
// cannot be sampled, so deltas always cover the same span for both.
func (s *sampler) sample() {
	now := make([]time.Duration, len(s.threads))
	for i, th := range s.threads {
		if th.beginErr != nil {
			return
		}
		v, err := s.tracker.Sample(th.thread)
		if err != nil {
			log.Debugf("interim sample of %s: %v", th.thread, err)
			return
		}
		now[i] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	smp := Sample{Offset: time.Since(s.started)}
	for i, th := range s.threads {
		delta := now[i] - s.last[i]
		s.last[i] = now[i]
		switch th.level {
		case cpu.High:
			smp.High = delta
		case cpu.Low:
			smp.Low = delta
		}
		s.metrics.SetThreadCPU(th.level.String(), now[i]-th.begin)
	}
	s.samples = append(s.samples, smp)
}

func (s *sampler) collected() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.samples...)
}
