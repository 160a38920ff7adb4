// Package transport is the message plumbing between the harness and its
// peers. Channels carry a single int32 and are best effort: a slow receiver
// may lose messages and nothing is retried.
//
// Two buses are provided. MemoryBus delivers within one process. RedisBus
// maps every channel onto a Redis pub/sub channel, so ping and pong can run
// in different processes or on different hosts.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed bus or context.
	ErrClosed = errors.New("transport: closed")

	// ErrUnknownBackend is returned by Init for an unrecognised backend.
	ErrUnknownBackend = errors.New("transport: unknown backend")
)

// DeliverFunc receives one message. It is called on a transport goroutine
// and must not block.
type DeliverFunc func(msg int32)

// Subscription is a live registration on a channel.
type Subscription interface {
	// Close stops delivery. It is safe to call more than once.
	Close() error
}

// Bus publishes and subscribes int32 messages on named channels.
//
// Messages published by one goroutine on one channel are delivered to each
// subscriber in publish order.
type Bus interface {
	Publish(ctx context.Context, channel string, msg int32) error
	Subscribe(ctx context.Context, channel string, deliver DeliverFunc) (Subscription, error)
	Close() error
}
