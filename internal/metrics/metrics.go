// Package metrics provides Prometheus instrumentation for the harness.
//
// All recording helpers are safe on a nil *Registry, so components can be
// built without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cbgexec"

// Registry holds all metric instances.
type Registry struct {
	Gatherer prometheus.Gatherer

	// Executor
	HandlerInvocations *prometheus.CounterVec
	HandlerPanics      *prometheus.CounterVec
	HandlerDuration    *prometheus.HistogramVec
	MessagesDropped    *prometheus.CounterVec
	PublishFailures    *prometheus.CounterVec
	LoopState          *prometheus.GaugeVec

	// Experiment
	ThreadCPUSeconds *prometheus.GaugeVec
	BurnSeconds      *prometheus.HistogramVec

	// Ping
	PingsSent     *prometheus.CounterVec
	PongsReceived *prometheus.CounterVec
	RoundTrip     *prometheus.HistogramVec
}

// New creates a Registry on a fresh prometheus registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	return NewRegistry(reg, reg)
}

// NewRegistry registers all metrics with reg.
func NewRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		Gatherer: gatherer,

		HandlerInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "handler_invocations_total",
				Help:      "Handler invocations per task group and channel",
			},
			[]string{"group", "channel"},
		),

		HandlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "handler_panics_total",
				Help:      "Handler invocations that panicked",
			},
			[]string{"group", "channel"},
		),

		HandlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "handler_duration_seconds",
				Help:      "Wall time from handler start to completion",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"group"},
		),

		MessagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "messages_dropped_total",
				Help:      "Inbound messages dropped because the channel queue was full",
			},
			[]string{"channel"},
		),

		PublishFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "publish_failures_total",
				Help:      "Outbound publishes the transport rejected",
			},
			[]string{"channel"},
		),

		LoopState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "loop_state",
				Help:      "Scheduler loop state (0 created, 1 spinning, 2 stop requested, 3 stopped)",
			},
			[]string{"group"},
		),

		ThreadCPUSeconds: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "experiment",
				Name:      "thread_cpu_seconds",
				Help:      "CPU time consumed by a loop thread since the experiment began",
			},
			[]string{"group"},
		),

		BurnSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workload",
				Name:      "burn_seconds",
				Help:      "Thread CPU time consumed per simulated workload",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"level"},
		),

		PingsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ping",
				Name:      "sent_total",
				Help:      "Ping messages published",
			},
			[]string{"level"},
		),

		PongsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ping",
				Name:      "received_total",
				Help:      "Pong messages matched to an outstanding ping",
			},
			[]string{"level"},
		),

		RoundTrip: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ping",
				Name:      "round_trip_seconds",
				Help:      "Ping to pong latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
			},
			[]string{"level"},
		),
	}
}

// HandlerDone records one completed handler invocation.
func (r *Registry) HandlerDone(group, channel string, elapsed time.Duration, panicked bool) {
	if r == nil {
		return
	}
	r.HandlerInvocations.WithLabelValues(group, channel).Inc()
	r.HandlerDuration.WithLabelValues(group).Observe(elapsed.Seconds())
	if panicked {
		r.HandlerPanics.WithLabelValues(group, channel).Inc()
	}
}

// Dropped records an inbound message lost to a full queue.
func (r *Registry) Dropped(channel string) {
	if r == nil {
		return
	}
	r.MessagesDropped.WithLabelValues(channel).Inc()
}

// PublishFailed records a rejected publish.
func (r *Registry) PublishFailed(channel string) {
	if r == nil {
		return
	}
	r.PublishFailures.WithLabelValues(channel).Inc()
}

// SetLoopState records the state of the loop bound to group.
func (r *Registry) SetLoopState(group string, state int) {
	if r == nil {
		return
	}
	r.LoopState.WithLabelValues(group).Set(float64(state))
}

// SetThreadCPU records CPU time consumed by a loop thread.
func (r *Registry) SetThreadCPU(group string, d time.Duration) {
	if r == nil {
		return
	}
	r.ThreadCPUSeconds.WithLabelValues(group).Set(d.Seconds())
}

// Burned records one workload burn.
func (r *Registry) Burned(level string, d time.Duration) {
	if r == nil {
		return
	}
	r.BurnSeconds.WithLabelValues(level).Observe(d.Seconds())
}

// PingSent records a published ping.
func (r *Registry) PingSent(level string) {
	if r == nil {
		return
	}
	r.PingsSent.WithLabelValues(level).Inc()
}

// PongReceived records a matched pong and its round trip.
func (r *Registry) PongReceived(level string, rtt time.Duration) {
	if r == nil {
		return
	}
	r.PongsReceived.WithLabelValues(level).Inc()
	r.RoundTrip.WithLabelValues(level).Observe(rtt.Seconds())
}
