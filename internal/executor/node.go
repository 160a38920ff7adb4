// Package executor implements priority-segregated message dispatch.
//
// A Node owns exactly two task groups: index 0, the default group, serves
// the HIGH priority class and index 1 serves LOW. Handlers are bound to one
// inbound channel and one task group for their whole life. Each task group
// is drained by exactly one Loop, a cooperative single-threaded poller that
// runs ready handlers to completion one at a time.
//
// Inbound messages land in a bounded per-channel queue. When a loop falls
// behind, the queue fills and further messages on that channel are dropped,
// matching the best-effort delivery of the transport.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
	"github.com/utkarsh5026/cbgexec/internal/metrics"
	"github.com/utkarsh5026/cbgexec/internal/transport"
)

var log = logging.Logger("executor")

var (
	ErrGroupOutOfRange = errors.New("executor: task group index out of range")
	ErrChannelTaken    = errors.New("executor: channel already has a handler")
	ErrForeignGroup    = errors.New("executor: task group belongs to another node")
	ErrGroupBound      = errors.New("executor: task group already bound to a loop")
	ErrLoopReused      = errors.New("executor: loop cannot be restarted")
	ErrNodeClosed      = errors.New("executor: node is closed")
)

const (
	// DefaultGroup is the index of the group created with the node. It
	// serves the HIGH class.
	DefaultGroup = 0
	// SecondaryGroup serves the LOW class.
	SecondaryGroup = 1

	numGroups = 2

	// DefaultQueueDepth is the per-channel inbound queue capacity.
	DefaultQueueDepth = 16
)

// Handler processes one inbound message. It runs on the loop thread of
// the handler's task group.
type Handler func(ctx context.Context, msg int32)

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithQueueDepth sets the per-channel inbound queue capacity, rounded up
// to a power of two.
func WithQueueDepth(depth int) NodeOption {
	return func(n *Node) {
		if depth > 0 {
			n.queueDepth = depth
		}
	}
}

// WithMetrics records handler and channel activity in r.
func WithMetrics(r *metrics.Registry) NodeOption {
	return func(n *Node) {
		n.metrics = r
	}
}

// Node groups handlers into the HIGH and LOW task groups and connects them
// to the bus.
type Node struct {
	name       string
	bus        transport.Bus
	queueDepth int
	metrics    *metrics.Registry
	groups     [numGroups]*TaskGroup

	mu         sync.Mutex
	handlers   map[string]*handler
	publishers []*Publisher
	closed     bool
}

// Stats summarises best-effort losses on a node.
type Stats struct {
	Dropped         uint64
	PublishFailures uint64
	Panics          uint64
}

// NewNode creates a node with both task groups present.
func NewNode(name string, bus transport.Bus, opts ...NodeOption) *Node {
	n := &Node{
		name:       name,
		bus:        bus,
		queueDepth: DefaultQueueDepth,
		handlers:   make(map[string]*handler),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.groups[DefaultGroup] = newTaskGroup(n, DefaultGroup, cpu.High)
	n.groups[SecondaryGroup] = newTaskGroup(n, SecondaryGroup, cpu.Low)
	return n
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.name
}

// TaskGroup returns the group at index i, which must be 0 or 1.
func (n *Node) TaskGroup(i int) (*TaskGroup, error) {
	if i < 0 || i >= numGroups {
		return nil, fmt.Errorf("%w: %d", ErrGroupOutOfRange, i)
	}
	return n.groups[i], nil
}

// Subscribe binds fn to channel in group g. A channel takes one handler.
func (n *Node) Subscribe(ctx context.Context, channel string, g *TaskGroup, fn Handler) error {
	if g == nil || g.node != n {
		return ErrForeignGroup
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if _, taken := n.handlers[channel]; taken {
		return fmt.Errorf("%w: %s", ErrChannelTaken, channel)
	}

	h := &handler{
		channel: channel,
		group:   g,
		fn:      fn,
		queue:   newRingQueue[int32](n.queueDepth),
	}
	sub, err := n.bus.Subscribe(ctx, channel, h.deliver)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	h.sub = sub

	n.handlers[channel] = h
	g.add(h)
	log.Debugf("%s: %s bound to %s group", n.name, channel, g.Level())
	return nil
}

// Publisher returns a best-effort publisher for channel.
func (n *Node) Publisher(channel string) *Publisher {
	p := &Publisher{node: n, channel: channel}

	n.mu.Lock()
	n.publishers = append(n.publishers, p)
	n.mu.Unlock()
	return p
}

// Stats returns loss counters summed over the node.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	var s Stats
	for _, h := range n.handlers {
		s.Dropped += h.dropped.Load()
	}
	for _, p := range n.publishers {
		s.PublishFailures += p.failures.Load()
	}
	for _, g := range n.groups {
		s.Panics += g.panics.Load()
	}
	return s
}

// Close removes all subscriptions from the bus.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var errs []error
	for _, h := range n.handlers {
		if err := h.sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handler is one channel binding.
type handler struct {
	channel string
	group   *TaskGroup
	fn      Handler
	queue   *ringQueue[int32]
	sub     transport.Subscription
	dropped atomic.Uint64
}

// deliver runs on the transport side and never blocks.
func (h *handler) deliver(msg int32) {
	if !h.queue.TryEnqueue(msg) {
		h.dropped.Add(1)
		h.group.node.metrics.Dropped(h.channel)
		log.Debugf("%s: queue full, dropped %d", h.channel, msg)
	}
	h.group.notify()
}

// Publisher publishes on one channel. Failures are counted and logged,
// never returned: channels carry no delivery guarantee.
type Publisher struct {
	node     *Node
	channel  string
	failures atomic.Uint64
}

// Channel returns the outbound channel name.
func (p *Publisher) Channel() string {
	return p.channel
}

// Publish sends msg.
func (p *Publisher) Publish(ctx context.Context, msg int32) {
	if err := p.node.bus.Publish(ctx, p.channel, msg); err != nil {
		p.failures.Add(1)
		p.node.metrics.PublishFailed(p.channel)
		log.Debugf("%s: publish %d failed: %v", p.channel, msg, err)
	}
}

// Failures is the number of rejected publishes.
func (p *Publisher) Failures() uint64 {
	return p.failures.Load()
}
