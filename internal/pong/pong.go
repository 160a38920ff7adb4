// Package pong answers pings. For each priority level L it subscribes to
// L_ping, burns L_busyloop seconds of CPU on the loop thread of the
// matching task group, then republishes the unmodified value on L_pong.
package pong

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
	"github.com/utkarsh5026/cbgexec/internal/executor"
	"github.com/utkarsh5026/cbgexec/internal/metrics"
	"github.com/utkarsh5026/cbgexec/internal/params"
	"github.com/utkarsh5026/cbgexec/internal/workload"
)

var log = logging.Logger("pong")

// Channel and parameter names.
const (
	HighPing = "high_ping"
	HighPong = "high_pong"
	LowPing  = "low_ping"
	LowPong  = "low_pong"

	HighBusyloop = "high_busyloop"
	LowBusyloop  = "low_busyloop"

	// DefaultBusyloop is the default burn per message, in seconds.
	DefaultBusyloop = 0.01
)

// Levels lists the priority levels in the order components are built.
var Levels = []cpu.Level{cpu.High, cpu.Low}

// PingChannel returns the inbound channel for level.
func PingChannel(level cpu.Level) string {
	if level == cpu.High {
		return HighPing
	}
	return LowPing
}

// PongChannel returns the outbound channel for level.
func PongChannel(level cpu.Level) string {
	if level == cpu.High {
		return HighPong
	}
	return LowPong
}

// BusyloopParam returns the parameter holding the burn for level.
func BusyloopParam(level cpu.Level) string {
	if level == cpu.High {
		return HighBusyloop
	}
	return LowBusyloop
}

// GroupIndex returns the task group serving level.
func GroupIndex(level cpu.Level) int {
	if level == cpu.High {
		return executor.DefaultGroup
	}
	return executor.SecondaryGroup
}

// Burner consumes CPU on the calling thread.
type Burner interface {
	Burn(d time.Duration) time.Duration
}

// Option configures a Node.
type Option func(*Node)

// WithBurner replaces the default workload burner.
func WithBurner(b Burner) Option {
	return func(n *Node) {
		n.burner = b
	}
}

// WithMetrics records burn durations in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(n *Node) {
		n.metrics = r
	}
}

// Node is the pong side of the experiment.
type Node struct {
	node    *executor.Node
	params  *params.Store
	burner  Burner
	metrics *metrics.Registry
}

// New declares the busyloop parameters and registers both handlers on n.
func New(ctx context.Context, n *executor.Node, store *params.Store, opts ...Option) (*Node, error) {
	p := &Node{
		node:   n,
		params: store,
		burner: workload.Default,
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, level := range Levels {
		if _, err := store.Declare(BusyloopParam(level), DefaultBusyloop); err != nil {
			return nil, err
		}

		group, err := n.TaskGroup(GroupIndex(level))
		if err != nil {
			return nil, err
		}

		pub := n.Publisher(PongChannel(level))
		if err := n.Subscribe(ctx, PingChannel(level), group, p.handler(level, pub)); err != nil {
			return nil, fmt.Errorf("pong %s: %w", level, err)
		}
	}
	return p, nil
}

// handler reads the busyloop parameter on every message so changes apply
// from the next message on.
func (p *Node) handler(level cpu.Level, pub *executor.Publisher) executor.Handler {
	param := BusyloopParam(level)
	label := level.String()

	return func(ctx context.Context, msg int32) {
		d, err := p.params.Seconds(param)
		if err != nil {
			log.Warnf("%s: %v, not burning", param, err)
			d = 0
		}

		consumed := p.burner.Burn(d)
		p.metrics.Burned(label, consumed)
		pub.Publish(ctx, msg)
	}
}
