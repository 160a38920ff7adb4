package transport

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus. Publish hands the message to every
// subscriber synchronously on the publishing goroutine.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	channel string
	deliver DeliverFunc
	once    sync.Once
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub)}
}

// Publish delivers msg to all current subscribers of channel.
func (b *MemoryBus) Publish(_ context.Context, channel string, msg int32) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for _, s := range b.subs[channel] {
		s.deliver(msg)
	}
	return nil
}

// Subscribe registers deliver on channel.
func (b *MemoryBus) Subscribe(_ context.Context, channel string, deliver DeliverFunc) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	s := &memorySub{bus: b, channel: channel, deliver: deliver}
	b.subs[channel] = append(b.subs[channel], s)
	return s, nil
}

// Close drops all subscriptions. Later calls return ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.subs = nil
	return nil
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		subs := s.bus.subs[s.channel]
		for i, other := range subs {
			if other == s {
				s.bus.subs[s.channel] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	})
	return nil
}
