// Package workload emulates CPU-bound message handling.
//
// Burn keeps the calling thread busy until the thread's own CPU clock has
// advanced by the requested duration. Time the thread spends preempted or
// blocked does not count, so a burn of 10ms costs 10ms of CPU regardless of
// how loaded the machine is. The arithmetic inside the loop has no meaning:
// it exists only to keep a core busy, and its result is published to a
// package-level sink so the compiler cannot discard it.
package workload

import (
	"sync/atomic"
	"time"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
)

// DefaultGranularity is the number of loop iterations between two reads of
// the thread clock. It trades clock-read overhead against overshoot.
const DefaultGranularity = 1000

// sink receives the state of every burn so the loop is observably used.
var sink atomic.Uint64

// Burner burns CPU time on the calling thread.
type Burner struct {
	// Granularity is the number of iterations between clock reads.
	// Values below 1 use DefaultGranularity.
	Granularity int

	// Clock returns the calling thread's consumed CPU time.
	// Nil uses cpu.CurrentThreadTime.
	Clock func() time.Duration
}

// Default is a Burner with default granularity on the thread CPU clock.
var Default = Burner{}

// Burn consumes d of CPU on the calling thread using the Default burner.
func Burn(d time.Duration) time.Duration {
	return Default.Burn(d)
}

// Burn consumes at least d of CPU time on the calling thread and returns
// the amount actually consumed. A zero or negative d returns immediately.
//
// The caller should hold runtime.LockOSThread; otherwise the goroutine can
// migrate and the clock reads come from different threads.
func (b Burner) Burn(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}

	clock := b.Clock
	if clock == nil {
		clock = cpu.CurrentThreadTime
	}
	granularity := b.Granularity
	if granularity < 1 {
		granularity = DefaultGranularity
	}

	start := clock()
	state := uint64(start) | 1
	elapsed := time.Duration(0)
	for elapsed < d {
		for i := 0; i < granularity; i++ {
			state ^= state << 13
			state ^= state >> 7
			state ^= state << 17
		}
		sink.Store(state)
		elapsed = clock() - start
	}
	return elapsed
}
