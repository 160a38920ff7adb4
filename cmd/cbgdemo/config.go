package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/utkarsh5026/cbgexec/internal/algorithms"
	"github.com/utkarsh5026/cbgexec/internal/experiment"
	"github.com/utkarsh5026/cbgexec/internal/ping"
	"github.com/utkarsh5026/cbgexec/internal/pong"
	"github.com/utkarsh5026/cbgexec/internal/transport"
)

// settings is the merged command line and config file.
type settings struct {
	Config      string
	Duration    time.Duration
	Ping        bool
	Pong        bool
	CPU         int
	Stress      int
	SampleEvery time.Duration
	Progress    bool

	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisBackoff  string

	MetricsAddr string
	LogLevel    string

	HighBusyloop float64
	LowBusyloop  float64
	PingPeriod   float64
}

func defaultSettings() settings {
	return settings{
		Duration:     experiment.DefaultDuration,
		Pong:         true,
		CPU:          experiment.DefaultCPU,
		Backend:      transport.BackendMemory,
		RedisBackoff: algorithms.BackoffExponential.String(),
		LogLevel:     "info",
		HighBusyloop: pong.DefaultBusyloop,
		LowBusyloop:  pong.DefaultBusyloop,
		PingPeriod:   ping.DefaultPingPeriod,
	}
}

func bindFlags(fs *flag.FlagSet, s *settings) {
	fs.StringVar(&s.Config, "config", s.Config, "YAML config file (flags override it)")
	fs.DurationVar(&s.Duration, "duration", s.Duration, "Experiment duration")
	fs.BoolVar(&s.Ping, "ping", s.Ping, "Run the ping generator in this process")
	fs.BoolVar(&s.Pong, "pong", s.Pong, "Run the pong responder in this process")
	fs.IntVar(&s.CPU, "cpu", s.CPU, "CPU to pin loop and stress threads to (-1 = no pinning)")
	fs.IntVar(&s.Stress, "stress", s.Stress, "Number of competing CPU burner threads")
	fs.DurationVar(&s.SampleEvery, "sample-every", s.SampleEvery, "Interim CPU sampling interval (0 = off, 1s resolution)")
	fs.BoolVar(&s.Progress, "progress", s.Progress, "Show a progress bar while running")

	fs.StringVar(&s.Backend, "backend", s.Backend, "Message bus: memory or redis")
	fs.StringVar(&s.RedisAddr, "redis-addr", s.RedisAddr, "Redis address for the redis backend")
	fs.StringVar(&s.RedisPassword, "redis-password", s.RedisPassword, "Redis password")
	fs.IntVar(&s.RedisDB, "redis-db", s.RedisDB, "Redis database")
	fs.StringVar(&s.RedisPrefix, "redis-prefix", s.RedisPrefix, "Prefix for Redis channel names")
	fs.StringVar(&s.RedisBackoff, "redis-backoff", s.RedisBackoff, "Redis connect retry backoff: exponential or jittered")

	fs.StringVar(&s.MetricsAddr, "metrics-addr", s.MetricsAddr, "Serve Prometheus metrics on this address during the run")
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "Log level: debug, info, warn, error")

	fs.Float64Var(&s.HighBusyloop, "high-busyloop", s.HighBusyloop, "Seconds of CPU burned per high_ping")
	fs.Float64Var(&s.LowBusyloop, "low-busyloop", s.LowBusyloop, "Seconds of CPU burned per low_ping")
	fs.Float64Var(&s.PingPeriod, "ping-period", s.PingPeriod, "Seconds between pings per level")
}

// fileConfig is the YAML layout of -config.
type fileConfig struct {
	Duration    string `json:"duration,omitempty"`
	Ping        *bool  `json:"ping,omitempty"`
	Pong        *bool  `json:"pong,omitempty"`
	CPU         *int   `json:"cpu,omitempty"`
	Stress      *int   `json:"stress,omitempty"`
	SampleEvery string `json:"sampleEvery,omitempty"`
	Progress    *bool  `json:"progress,omitempty"`

	Backend string `json:"backend,omitempty"`
	Redis   struct {
		Addr     string `json:"addr,omitempty"`
		Password string `json:"password,omitempty"`
		DB       int    `json:"db,omitempty"`
		Prefix   string `json:"prefix,omitempty"`
		Backoff  string `json:"backoff,omitempty"`
	} `json:"redis,omitempty"`

	MetricsAddr string `json:"metricsAddr,omitempty"`
	LogLevel    string `json:"logLevel,omitempty"`

	Parameters map[string]float64 `json:"parameters,omitempty"`
}

func readFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, nil
}

// apply copies the values present in fc onto s.
func (fc *fileConfig) apply(s *settings) error {
	var errs []error
	if fc.Duration != "" {
		d, err := time.ParseDuration(fc.Duration)
		errs = append(errs, err)
		s.Duration = d
	}
	if fc.SampleEvery != "" {
		d, err := time.ParseDuration(fc.SampleEvery)
		errs = append(errs, err)
		s.SampleEvery = d
	}
	setIf(&s.Ping, fc.Ping)
	setIf(&s.Pong, fc.Pong)
	setIf(&s.CPU, fc.CPU)
	setIf(&s.Stress, fc.Stress)
	setIf(&s.Progress, fc.Progress)

	if fc.Backend != "" {
		s.Backend = fc.Backend
	}
	if fc.Redis.Addr != "" {
		s.RedisAddr = fc.Redis.Addr
	}
	if fc.Redis.Password != "" {
		s.RedisPassword = fc.Redis.Password
	}
	if fc.Redis.DB != 0 {
		s.RedisDB = fc.Redis.DB
	}
	if fc.Redis.Prefix != "" {
		s.RedisPrefix = fc.Redis.Prefix
	}
	if fc.Redis.Backoff != "" {
		s.RedisBackoff = fc.Redis.Backoff
	}
	if fc.MetricsAddr != "" {
		s.MetricsAddr = fc.MetricsAddr
	}
	if fc.LogLevel != "" {
		s.LogLevel = fc.LogLevel
	}

	for name, v := range fc.Parameters {
		switch name {
		case pong.HighBusyloop:
			s.HighBusyloop = v
		case pong.LowBusyloop:
			s.LowBusyloop = v
		case ping.PingPeriod:
			s.PingPeriod = v
		default:
			errs = append(errs, fmt.Errorf("unknown parameter %q", name))
		}
	}
	return errors.Join(errs...)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// loadSettings parses args and, with -config, layers the file under the
// flags that were set explicitly.
func loadSettings(name string, args []string) (settings, error) {
	s := defaultSettings()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	bindFlags(fs, &s)
	if err := fs.Parse(args); err != nil {
		return s, err
	}
	if s.Config == "" {
		return s, s.validate()
	}

	fc, err := readFileConfig(s.Config)
	if err != nil {
		return s, err
	}
	merged := defaultSettings()
	if err := fc.apply(&merged); err != nil {
		return s, fmt.Errorf("config %s: %w", s.Config, err)
	}

	overlay := flag.NewFlagSet(name, flag.ContinueOnError)
	bindFlags(overlay, &merged)
	var errs []error
	fs.Visit(func(f *flag.Flag) {
		errs = append(errs, overlay.Set(f.Name, f.Value.String()))
	})
	errs = append(errs, merged.validate())
	return merged, errors.Join(errs...)
}

func (s settings) validate() error {
	_, err := algorithms.ParseBackoffType(s.RedisBackoff)
	return err
}

// transportOptions builds the bus options. The backoff name must have
// passed validate.
func (s settings) transportOptions() transport.Options {
	opts := transport.Options{
		Backend: s.Backend,
		Redis: transport.RedisOptions{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			Prefix:   s.RedisPrefix,
		},
	}
	if t, err := algorithms.ParseBackoffType(s.RedisBackoff); err == nil {
		opts.Redis.Backoff = transport.NewConnectBackoff(t)
	}
	return opts
}

// parameters returns the live parameter values to start with.
func (s settings) parameters() map[string]float64 {
	return map[string]float64{
		pong.HighBusyloop: s.HighBusyloop,
		pong.LowBusyloop:  s.LowBusyloop,
		ping.PingPeriod:   s.PingPeriod,
	}
}

func (s settings) options() []experiment.Option {
	return []experiment.Option{
		experiment.WithDuration(s.Duration),
		experiment.WithPing(s.Ping),
		experiment.WithPong(s.Pong),
		experiment.WithCPU(s.CPU),
		experiment.WithStress(s.Stress),
		experiment.WithSampleEvery(s.SampleEvery),
		experiment.WithProgress(s.Progress),
		experiment.WithMetricsAddr(s.MetricsAddr),
		experiment.WithParameters(s.parameters()),
		experiment.WithTransport(s.transportOptions()),
	}
}
