//go:build linux

package cpu

import "golang.org/x/sys/unix"

// schedOther is the default time-shared policy, named SCHED_NORMAL in the
// kernel headers.
const schedOther = unix.SCHED_NORMAL

// setPriority moves t into SCHED_FIFO at prio for High and back to
// SCHED_OTHER at nice 0 for Low.
func setPriority(t Thread, level Level, prio int) error {
	attr := &unix.SchedAttr{
		Policy: schedOther,
	}
	if level == High {
		attr.Policy = unix.SCHED_FIFO
		attr.Priority = uint32(prio) // #nosec G115 -- FIFO priorities are 1..99
	}
	return unix.SchedSetAttr(t.TID, attr, 0)
}

// PolicyOf reports the scheduling policy currently applied to t.
func PolicyOf(t Thread) (Level, error) {
	attr, err := unix.SchedGetAttr(t.TID, 0)
	if err != nil {
		return Low, err
	}
	if attr.Policy == unix.SCHED_FIFO || attr.Policy == unix.SCHED_RR {
		return High, nil
	}
	return Low, nil
}
