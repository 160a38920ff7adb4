//go:build linux

package cpu

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// cpuSetSize is CPU_SETSIZE from sched.h.
const cpuSetSize = 1024

// pinToCore pins the thread tid to a specific CPU core. A tid of 0 means the
// calling thread, which must be locked with runtime.LockOSThread.
//
// cpuID is a kernel CPU number, not an index into the allowed set; a core
// outside the process cpuset is rejected by the kernel.
func pinToCore(tid, cpuID int) error {
	if cpuID < 0 || cpuID >= cpuSetSize {
		return fmt.Errorf("cpu id %d out of range", cpuID)
	}

	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpuID)

	return unix.SchedSetaffinity(tid, &mask)
}

// PinCurrent pins the calling, already locked, thread to cpuID.
func PinCurrent(cpuID int) error {
	return pinToCore(0, cpuID)
}
