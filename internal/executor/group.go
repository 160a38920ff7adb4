package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
)

// TaskGroup is the set of handlers one Loop is responsible for.
type TaskGroup struct {
	node  *Node
	index int
	level cpu.Level

	mu       sync.RWMutex
	handlers []*handler

	// ready holds at most one wake-up token; producers never block on it.
	ready  chan struct{}
	bound  atomic.Bool
	panics atomic.Uint64
}

func newTaskGroup(n *Node, index int, level cpu.Level) *TaskGroup {
	return &TaskGroup{
		node:  n,
		index: index,
		level: level,
		ready: make(chan struct{}, 1),
	}
}

// Index is 0 for the default group and 1 for the secondary group.
func (g *TaskGroup) Index() int {
	return g.index
}

// Level is the priority class the group serves.
func (g *TaskGroup) Level() cpu.Level {
	return g.level
}

// Channels lists the bound inbound channels in registration order.
func (g *TaskGroup) Channels() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, len(g.handlers))
	for i, h := range g.handlers {
		out[i] = h.channel
	}
	return out
}

func (g *TaskGroup) add(h *handler) {
	g.mu.Lock()
	g.handlers = append(g.handlers, h)
	g.mu.Unlock()
}

// snapshot returns the handlers in registration order.
func (g *TaskGroup) snapshot() []*handler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.handlers
}

func (g *TaskGroup) notify() {
	select {
	case g.ready <- struct{}{}:
	default:
	}
}

// pending reports whether any handler has a queued message.
func (g *TaskGroup) pending() bool {
	for _, h := range g.snapshot() {
		if h.queue.Len() > 0 {
			return true
		}
	}
	return false
}

// Wait blocks until a handler of the group has work, timeout elapses or
// stop is closed. It reports whether work may be available.
func (g *TaskGroup) Wait(timeout time.Duration, stop <-chan struct{}) bool {
	if g.pending() {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.ready:
		return true
	case <-timer.C:
		return g.pending()
	case <-stop:
		return false
	}
}
