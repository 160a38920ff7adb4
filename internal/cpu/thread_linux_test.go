//go:build linux

package cpu

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// spin keeps the calling thread on a core until its CPU clock advances by d.
func spin(d time.Duration) {
	start := CurrentThreadTime()
	x := uint64(1)
	for CurrentThreadTime()-start < d {
		for i := 0; i < 1000; i++ {
			x = x*6364136223846793005 + 1442695040888963407
		}
	}
	if x == 0 {
		panic("unreachable")
	}
}

// lockedThread starts a locked goroutine and returns its handle. The thread
// keeps spinning until release is closed.
func lockedThread(t *testing.T, release <-chan struct{}) Thread {
	t.Helper()
	handle := make(chan Thread, 1)
	go func() {
		handle <- LockThread()
		for {
			select {
			case <-release:
				return
			default:
				spin(time.Millisecond)
			}
		}
	}()

	select {
	case th := <-handle:
		return th
	case <-time.After(5 * time.Second):
		t.Fatal("locked thread did not start")
		return Thread{}
	}
}

func TestCurrentThreadTimeMonotonic(t *testing.T) {
	LockThread()
	prev := CurrentThreadTime()
	for i := 0; i < 100; i++ {
		spin(10 * time.Microsecond)
		now := CurrentThreadTime()
		if now < prev {
			t.Fatalf("thread time went backwards: %v -> %v", prev, now)
		}
		prev = now
	}
}

func TestClockTrackerSamplesRunningThread(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	th := lockedThread(t, release)
	if !th.Valid() {
		t.Fatalf("LockThread returned invalid handle %v", th)
	}

	var tracker ClockTracker
	first, err := tracker.Sample(th)
	if err != nil {
		t.Fatalf("first Sample failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	second, err := tracker.Sample(th)
	if err != nil {
		t.Fatalf("second Sample failed: %v", err)
	}
	if second < first {
		t.Errorf("samples not monotonic: %v then %v", first, second)
	}
	if second == first {
		t.Errorf("running thread consumed no CPU over 50ms (%v)", first)
	}
}

func TestSchedConfiguratorLowSucceeds(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	th := lockedThread(t, release)

	c := NewSchedConfigurator(-1)
	if err := c.Apply(th, Low); err != nil {
		t.Fatalf("Apply(Low) failed: %v", err)
	}

	level, err := PolicyOf(th)
	if err != nil {
		t.Fatalf("PolicyOf failed: %v", err)
	}
	if level != Low {
		t.Errorf("PolicyOf = %v, want low", level)
	}
}

func TestSchedConfiguratorLowSetsTimeSharedPolicy(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	th := lockedThread(t, release)

	if err := NewSchedConfigurator(-1).Apply(th, Low); err != nil {
		t.Fatalf("Apply(Low) failed: %v", err)
	}

	attr, err := unix.SchedGetAttr(th.TID, 0)
	if err != nil {
		t.Fatalf("SchedGetAttr failed: %v", err)
	}
	if attr.Policy != schedOther {
		t.Errorf("policy = %d, want SCHED_NORMAL (%d)", attr.Policy, schedOther)
	}
	if attr.Priority != 0 {
		t.Errorf("static priority = %d, want 0", attr.Priority)
	}
}

func TestSchedConfiguratorHighReportsFailure(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	th := lockedThread(t, release)

	c := NewSchedConfigurator(-1)
	err := c.Apply(th, High)

	level, perr := PolicyOf(th)
	if perr != nil {
		t.Fatalf("PolicyOf failed: %v", perr)
	}

	// Without CAP_SYS_NICE the kernel refuses FIFO; either way the result
	// must match what the thread actually got.
	if err == nil && level != High {
		t.Errorf("Apply(High) succeeded but policy is %v", level)
	}
	if err != nil && level != Low {
		t.Errorf("Apply(High) failed (%v) but policy is %v", err, level)
	}
}

func TestSchedConfiguratorPinsToCPU(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	th := lockedThread(t, release)

	var allowed unix.CPUSet
	if err := unix.SchedGetaffinity(0, &allowed); err != nil {
		t.Fatalf("SchedGetaffinity failed: %v", err)
	}
	target := -1
	for i := 0; i < cpuSetSize && target < 0; i++ {
		if allowed.IsSet(i) {
			target = i
		}
	}
	if target < 0 {
		t.Skip("no cpu in affinity mask")
	}

	c := NewSchedConfigurator(target)
	if err := c.Apply(th, Low); err != nil {
		t.Fatalf("Apply(Low, cpu %d) failed: %v", target, err)
	}

	var got unix.CPUSet
	if err := unix.SchedGetaffinity(th.TID, &got); err != nil {
		t.Fatalf("SchedGetaffinity(%v) failed: %v", th, err)
	}
	if got.Count() != 1 || !got.IsSet(target) {
		t.Errorf("thread affinity count=%d, want only cpu %d", got.Count(), target)
	}
}
