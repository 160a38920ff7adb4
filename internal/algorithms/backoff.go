// Package algorithms holds small reusable policies. Today that is the
// backoff used between transport connection attempts.
package algorithms

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// maxShift keeps 1<<attempt from overflowing.
const maxShift = 62

// BackoffStrategy computes the wait before retry number attemptNumber
// (0 = first retry after the initial failure).
type BackoffStrategy interface {
	NextDelay(attemptNumber int, lastError error) time.Duration
}

// BackoffType selects a BackoffStrategy.
type BackoffType int

const (
	// BackoffExponential doubles the delay on every attempt.
	BackoffExponential BackoffType = iota
	// BackoffJittered randomises the exponential delay by ±jitterFactor.
	BackoffJittered
)

// ErrUnknownBackoff is returned by ParseBackoffType.
var ErrUnknownBackoff = errors.New("algorithms: unknown backoff type")

func (t BackoffType) String() string {
	switch t {
	case BackoffExponential:
		return "exponential"
	case BackoffJittered:
		return "jittered"
	default:
		return fmt.Sprintf("backoff(%d)", int(t))
	}
}

// ParseBackoffType maps a name from String back to its BackoffType.
func ParseBackoffType(name string) (BackoffType, error) {
	for _, t := range []BackoffType{BackoffExponential, BackoffJittered} {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBackoff, name)
}

// NewBackoffStrategy returns the strategy for backoffType.
func NewBackoffStrategy(
	backoffType BackoffType,
	initialDelay, maxDelay time.Duration,
	jitterFactor float64,
) BackoffStrategy {
	if backoffType == BackoffJittered {
		return &jitteredBackoff{
			initialDelay: initialDelay,
			maxDelay:     maxDelay,
			jitterFactor: clamp(jitterFactor, 0, 1),
			rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter does not need crypto rand
		}
	}
	return exponentialBackoff{initialDelay: initialDelay, maxDelay: maxDelay}
}

// exponentialBackoff waits initialDelay * 2^attempt, capped at maxDelay.
type exponentialBackoff struct {
	initialDelay, maxDelay time.Duration
}

func (eb exponentialBackoff) NextDelay(attemptNumber int, _ error) time.Duration {
	return calcExponentialDelay(attemptNumber, eb.initialDelay, eb.maxDelay)
}

// jitteredBackoff spreads simultaneous reconnects from several processes.
type jitteredBackoff struct {
	initialDelay, maxDelay time.Duration
	jitterFactor           float64
	mu                     sync.Mutex
	rng                    *rand.Rand
}

func (jb *jitteredBackoff) NextDelay(attemptNumber int, _ error) time.Duration {
	if attemptNumber < 0 {
		return 0
	}
	base := calcExponentialDelay(attemptNumber, jb.initialDelay, jb.maxDelay)

	jb.mu.Lock()
	factor := 1.0 + (jb.rng.Float64()*2-1)*jb.jitterFactor
	jb.mu.Unlock()

	return clamp(time.Duration(float64(base)*factor), 0, jb.maxDelay)
}

func calcExponentialDelay(attemptNumber int, initialDelay, maxDelay time.Duration) time.Duration {
	if attemptNumber < 0 {
		return 0
	}
	if attemptNumber >= maxShift {
		return maxDelay
	}

	delay := time.Duration(int64(1)<<uint(attemptNumber)) * initialDelay
	if delay > maxDelay || delay < 0 {
		return maxDelay
	}
	return delay
}

func clamp[T ~int64 | ~float64](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
