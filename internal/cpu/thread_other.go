//go:build !linux

package cpu

import (
	"runtime"
	"time"
)

var processStart = time.Now()

// LockThread wires the calling goroutine to its OS thread. Thread ids are
// not exposed here, so the returned handle only carries a placeholder.
func LockThread() Thread {
	runtime.LockOSThread()
	return Thread{TID: 1}
}

// ThreadTime is not available on this platform.
func ThreadTime(Thread) (time.Duration, error) {
	return 0, ErrUnsupported
}

// CurrentThreadTime falls back to wall time since process start. It counts
// time the thread was preempted, so burns are shorter under load.
func CurrentThreadTime() time.Duration {
	return time.Since(processStart)
}

func setPriority(Thread, Level, int) error {
	return ErrUnsupported
}

func pinToCore(int, int) error {
	return ErrUnsupported
}

// PinCurrent is not available on this platform.
func PinCurrent(int) error {
	return ErrUnsupported
}

// PolicyOf is not available on this platform.
func PolicyOf(Thread) (Level, error) {
	return Low, ErrUnsupported
}
