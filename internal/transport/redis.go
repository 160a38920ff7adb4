package transport

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/redis/go-redis/v9"

	"github.com/utkarsh5026/cbgexec/internal/algorithms"
)

var log = logging.Logger("transport")

// Connect retry defaults.
const (
	DefaultConnectDelay    = 50 * time.Millisecond
	DefaultConnectMaxDelay = time.Second
	// DefaultConnectJitter spreads the delays of jittered backoff by ±50%.
	DefaultConnectJitter = 0.5
)

// NewConnectBackoff returns the connect retry strategy of type t with the
// default delays. Jittered keeps processes that lost the same server from
// reconnecting in lockstep.
func NewConnectBackoff(t algorithms.BackoffType) algorithms.BackoffStrategy {
	return algorithms.NewBackoffStrategy(t, DefaultConnectDelay, DefaultConnectMaxDelay, DefaultConnectJitter)
}

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every channel name.
	Prefix string

	// ConnectAttempts bounds the PING attempts made before giving up.
	ConnectAttempts int

	// Backoff spaces the connect attempts. Nil uses
	// NewConnectBackoff(algorithms.BackoffExponential).
	Backoff algorithms.BackoffStrategy

	// BufferSize is the per-subscription client-side message buffer.
	BufferSize int
}

func (o *RedisOptions) withDefaults() {
	if o.Addr == "" {
		o.Addr = "localhost:6379"
	}
	if o.ConnectAttempts < 1 {
		o.ConnectAttempts = 5
	}
	if o.Backoff == nil {
		o.Backoff = NewConnectBackoff(algorithms.BackoffExponential)
	}
	if o.BufferSize < 1 {
		o.BufferSize = 100
	}
}

// RedisBus is a Bus on Redis pub/sub. Redis pub/sub is fire-and-forget:
// subscribers that are not connected, or too slow, lose messages.
type RedisBus struct {
	client *redis.Client
	opts   RedisOptions

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

type redisSub struct {
	bus  *RedisBus
	ps   *redis.PubSub
	done chan struct{}
	once sync.Once
}

// NewRedisBus connects to Redis. It fails if no PING succeeds within the
// configured number of attempts.
func NewRedisBus(ctx context.Context, opts RedisOptions) (*RedisBus, error) {
	opts.withDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	var err error
	for attempt := range opts.ConnectAttempts {
		if attempt > 0 {
			delay := opts.Backoff.NextDelay(attempt-1, err)
			log.Debugf("redis %s not reachable (%v), retrying in %v", opts.Addr, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			}
		}
		if err = client.Ping(ctx).Err(); err == nil {
			break
		}
	}
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}

	return &RedisBus{
		client: client,
		opts:   opts,
		subs:   make(map[*redisSub]struct{}),
	}, nil
}

func (b *RedisBus) key(channel string) string {
	return b.opts.Prefix + channel
}

// Publish sends msg as a decimal string on the prefixed channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, msg int32) error {
	if b.isClosed() {
		return ErrClosed
	}
	return b.client.Publish(ctx, b.key(channel), strconv.FormatInt(int64(msg), 10)).Err()
}

// Subscribe waits for the subscription to be confirmed by the server and
// then forwards every message to deliver from a dedicated goroutine.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, deliver DeliverFunc) (Subscription, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	ps := b.client.Subscribe(ctx, b.key(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &redisSub{bus: b, ps: ps, done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, ErrClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	msgs := ps.Channel(redis.WithChannelSize(b.opts.BufferSize))
	go func() {
		defer close(s.done)
		for m := range msgs {
			v, err := strconv.ParseInt(m.Payload, 10, 32)
			if err != nil {
				log.Warnf("dropping malformed payload %q on %s", m.Payload, channel)
				continue
			}
			deliver(int32(v))
		}
	}()

	return s, nil
}

// Close closes all subscriptions and the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for s := range subs {
		_ = s.close()
	}
	return b.client.Close()
}

func (b *RedisBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (s *redisSub) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.close()
}

func (s *redisSub) close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}
