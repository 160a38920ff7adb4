//go:build linux

package cpu

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

const (
	cpuClockSched         = 2
	cpuClockPerThreadMask = 4
)

// LockThread wires the calling goroutine to its OS thread and returns the
// handle. The goroutine should not unlock: letting it exit while locked
// makes the runtime destroy the thread, so a priority applied to it never
// leaks to unrelated goroutines.
func LockThread() Thread {
	runtime.LockOSThread()
	return Thread{TID: unix.Gettid()}
}

// threadClock builds the clockid of another thread's CPU clock, the
// equivalent of pthread_getcpuclockid.
func threadClock(tid int) int32 {
	return int32((^tid)<<3 | cpuClockPerThreadMask | cpuClockSched)
}

// ThreadTime returns the CPU time consumed by t.
func ThreadTime(t Thread) (time.Duration, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(threadClock(t.TID), &ts); err != nil {
		return 0, err
	}
	return time.Duration(ts.Nano()), nil
}

// CurrentThreadTime returns the CPU time consumed by the calling thread.
// Without LockOSThread the goroutine may migrate between reads.
func CurrentThreadTime() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}
