// Package cpu binds the harness to the operating system's thread scheduler.
//
// It exposes three small capabilities over an OS thread handle:
//
//   - Configurator places a thread into the HIGH or LOW priority class and
//     optionally pins it to a core.
//   - Tracker samples the cumulative CPU time a thread has been scheduled for.
//   - CurrentThreadTime reads the calling thread's own CPU clock, which the
//     workload simulator uses to burn an exact amount of CPU.
//
// The concrete primitives live in per-OS files. On Linux they are
// sched_setattr(2), sched_setaffinity(2) and the per-thread CPU clocks of
// clock_gettime(2). Other platforms report ErrUnsupported.
package cpu

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnsupported is returned when the platform has no primitive for the
	// requested operation.
	ErrUnsupported = errors.New("cpu: operation not supported on this platform")

	// ErrInvalidThread is returned for a zero Thread handle.
	ErrInvalidThread = errors.New("cpu: invalid thread handle")
)

// Level is a thread priority class.
type Level int

const (
	// High places a thread in a real-time FIFO class.
	High Level = iota
	// Low leaves a thread in the default time-shared class.
	Low
)

func (l Level) String() string {
	switch l {
	case High:
		return "high"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Thread identifies one OS thread of this process.
type Thread struct {
	// TID is the kernel thread id.
	TID int
}

// Valid reports whether t refers to a thread.
func (t Thread) Valid() bool {
	return t.TID > 0
}

func (t Thread) String() string {
	return fmt.Sprintf("tid %d", t.TID)
}

// Configurator applies a priority class to a thread.
//
// Apply returns nil on success. A failure, typically a missing privilege,
// is returned to the caller and never aborts the process.
type Configurator interface {
	Apply(t Thread, level Level) error
}

// Tracker samples cumulative CPU time of a thread since its creation.
type Tracker interface {
	Sample(t Thread) (time.Duration, error)
	// Self samples the calling thread.
	Self() time.Duration
}

// ClockTracker samples threads through the kernel's per-thread CPU clocks.
type ClockTracker struct{}

// Sample returns the CPU time t has been scheduled for so far. It works on
// running threads; once a thread has exited its clock is gone and an error
// is returned.
func (ClockTracker) Sample(t Thread) (time.Duration, error) {
	if !t.Valid() {
		return 0, ErrInvalidThread
	}
	return ThreadTime(t)
}

// Self returns the calling thread's CPU time.
func (ClockTracker) Self() time.Duration {
	return CurrentThreadTime()
}

// SchedConfigurator is the OS-backed Configurator.
type SchedConfigurator struct {
	// CPU is the core both classes are pinned to. Negative disables pinning.
	CPU int

	// RealtimePriority is the FIFO priority used for High.
	RealtimePriority int
}

// DefaultRealtimePriority is one below the Linux SCHED_FIFO maximum.
const DefaultRealtimePriority = 98

// NewSchedConfigurator returns a configurator pinning to cpuID.
func NewSchedConfigurator(cpuID int) *SchedConfigurator {
	return &SchedConfigurator{
		CPU:              cpuID,
		RealtimePriority: DefaultRealtimePriority,
	}
}

// Apply sets the scheduling class for level and then pins the thread.
// Both steps are attempted; the errors are joined.
func (c *SchedConfigurator) Apply(t Thread, level Level) error {
	if !t.Valid() {
		return ErrInvalidThread
	}

	var errs []error
	if err := setPriority(t, level, c.RealtimePriority); err != nil {
		errs = append(errs, fmt.Errorf("set %s priority on %s: %w", level, t, err))
	}

	if c.CPU >= 0 {
		if err := pinToCore(t.TID, c.CPU); err != nil {
			errs = append(errs, fmt.Errorf("pin %s to cpu %d: %w", t, c.CPU, err))
		}
	}

	return errors.Join(errs...)
}
