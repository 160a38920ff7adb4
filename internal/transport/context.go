package transport

import (
	"context"
	"fmt"
	"sync"
)

// Backend names accepted by Init.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Options selects and configures the bus created by Init.
type Options struct {
	// Backend is BackendMemory (default) or BackendRedis.
	Backend string

	Redis RedisOptions

	// Bus, when set, is used as is and Backend is ignored.
	Bus Bus
}

// Context is the process-wide transport state: the bus and the shutdown
// signal every scheduler loop watches.
type Context struct {
	ctx    context.Context
	cancel context.CancelFunc
	bus    Bus
	once   sync.Once
	err    error
}

// Init brings up the transport. Any error here is fatal for the caller;
// nothing has been started that needs tearing down.
func Init(parent context.Context, opts Options) (*Context, error) {
	bus := opts.Bus
	if bus == nil {
		switch opts.Backend {
		case "", BackendMemory:
			bus = NewMemoryBus()
		case BackendRedis:
			rb, err := NewRedisBus(parent, opts.Redis)
			if err != nil {
				return nil, err
			}
			bus = rb
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
		}
	}

	ctx, cancel := context.WithCancel(parent)
	return &Context{ctx: ctx, cancel: cancel, bus: bus}, nil
}

// Bus returns the bus owned by the context.
func (c *Context) Bus() Bus {
	return c.bus
}

// Context returns a context.Context cancelled by Shutdown or by the
// parent.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Shutdown signals every watcher and closes the bus. It is idempotent and
// returns the bus close error from the first call.
func (c *Context) Shutdown() error {
	c.once.Do(func() {
		c.cancel()
		c.err = c.bus.Close()
	})
	return c.err
}
