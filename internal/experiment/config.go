package experiment

import (
	"errors"
	"fmt"
	"time"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
	"github.com/utkarsh5026/cbgexec/internal/executor"
	"github.com/utkarsh5026/cbgexec/internal/metrics"
	"github.com/utkarsh5026/cbgexec/internal/params"
	"github.com/utkarsh5026/cbgexec/internal/transport"
)

var (
	ErrNothingToRun    = errors.New("experiment: neither ping nor pong enabled")
	ErrInvalidDuration = errors.New("experiment: duration must be non-negative")
)

const (
	// DefaultDuration is the length of one experiment run.
	DefaultDuration = 10 * time.Second

	// DefaultCPU is the core both loop threads are pinned to.
	DefaultCPU = 0

	// NodeName names the node hosting the pong and ping handlers.
	NodeName = "cbg_demo"
)

// Config holds the settings of one run.
type Config struct {
	Duration    time.Duration
	PollTimeout time.Duration
	QueueDepth  int

	// Ping and Pong select the nodes hosted in this process.
	Ping bool
	Pong bool

	// CPU pins loops and stress workers. Negative disables pinning.
	CPU int
	// Stress is the number of competing CPU burner threads.
	Stress int
	// SampleEvery enables interim CPU sampling. Zero disables it. The
	// schedule has one-second resolution.
	SampleEvery time.Duration

	Transport  transport.Options
	Parameters map[string]float64
	Store      *params.Store

	MetricsAddr string
	Metrics     *metrics.Registry

	Progress bool

	Configurator cpu.Configurator
	Tracker      cpu.Tracker
}

// Option configures a run.
type Option func(*Config)

// DefaultConfig returns a pong-only, ten second run pinned to CPU 0.
func DefaultConfig() Config {
	return Config{
		Duration:    DefaultDuration,
		PollTimeout: executor.DefaultPollTimeout,
		QueueDepth:  executor.DefaultQueueDepth,
		Pong:        true,
		CPU:         DefaultCPU,
		Tracker:     cpu.ClockTracker{},
	}
}

// WithDuration sets how long the controller sleeps.
func WithDuration(d time.Duration) Option {
	return func(c *Config) {
		c.Duration = d
	}
}

// WithPollTimeout sets the loop poll timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.PollTimeout = d
	}
}

// WithQueueDepth sets the per-channel inbound queue depth.
func WithQueueDepth(depth int) Option {
	return func(c *Config) {
		c.QueueDepth = depth
	}
}

// WithPing enables or disables the ping generator.
func WithPing(enabled bool) Option {
	return func(c *Config) {
		c.Ping = enabled
	}
}

// WithPong enables or disables the pong responder.
func WithPong(enabled bool) Option {
	return func(c *Config) {
		c.Pong = enabled
	}
}

// WithCPU pins threads to cpuID; -1 disables pinning.
func WithCPU(cpuID int) Option {
	return func(c *Config) {
		c.CPU = cpuID
	}
}

// WithStress adds n competing burner threads.
func WithStress(n int) Option {
	return func(c *Config) {
		c.Stress = n
	}
}

// WithSampleEvery enables interim sampling at interval d.
func WithSampleEvery(d time.Duration) Option {
	return func(c *Config) {
		c.SampleEvery = d
	}
}

// WithTransport selects the bus backend.
func WithTransport(opts transport.Options) Option {
	return func(c *Config) {
		c.Transport = opts
	}
}

// WithBus runs on an existing bus. The run closes it on shutdown.
func WithBus(bus transport.Bus) Option {
	return func(c *Config) {
		c.Transport.Bus = bus
	}
}

// WithParameters overrides initial parameter values.
func WithParameters(values map[string]float64) Option {
	return func(c *Config) {
		c.Parameters = values
	}
}

// WithParamStore uses store for live parameters, so the caller can change
// them during the run.
func WithParamStore(store *params.Store) Option {
	return func(c *Config) {
		c.Store = store
	}
}

// WithMetrics records into r.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *Config) {
		c.Metrics = r
	}
}

// WithMetricsAddr serves metrics on addr for the length of the run.
func WithMetricsAddr(addr string) Option {
	return func(c *Config) {
		c.MetricsAddr = addr
	}
}

// WithProgress draws a progress bar on stderr while the run sleeps.
func WithProgress(enabled bool) Option {
	return func(c *Config) {
		c.Progress = enabled
	}
}

// WithConfigurator replaces the OS priority configurator.
func WithConfigurator(cfg cpu.Configurator) Option {
	return func(c *Config) {
		c.Configurator = cfg
	}
}

// WithTracker replaces the thread CPU clock.
func WithTracker(t cpu.Tracker) Option {
	return func(c *Config) {
		c.Tracker = t
	}
}

func (c *Config) validate() error {
	if !c.Ping && !c.Pong {
		return ErrNothingToRun
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDuration, c.Duration)
	}
	if c.Configurator == nil {
		c.Configurator = cpu.NewSchedConfigurator(c.CPU)
	}
	if c.Tracker == nil {
		c.Tracker = cpu.ClockTracker{}
	}
	if c.Store == nil {
		c.Store = params.NewStore()
	}
	if c.Metrics == nil && c.MetricsAddr != "" {
		c.Metrics = metrics.New()
	}
	return nil
}
