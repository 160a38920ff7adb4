// Package stress runs CPU-bound background threads that compete with the
// loop threads for the pinned core.
package stress

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
	"github.com/utkarsh5026/cbgexec/internal/workload"
)

var log = logging.Logger("stress")

// DefaultSlice is the CPU burned between cancellation checks.
const DefaultSlice = 5 * time.Millisecond

// Config describes the competing load.
type Config struct {
	// Workers is the number of burning threads. Zero disables the load.
	Workers int
	// CPU pins every worker to this core; negative leaves them unpinned.
	CPU int
	// Slice is the burn between context checks. Zero uses DefaultSlice.
	Slice time.Duration
	// Burner consumes CPU. Nil uses workload.Default.
	Burner interface{ Burn(time.Duration) time.Duration }
}

// Report is the CPU consumed by each worker thread.
type Report struct {
	Workers []time.Duration
}

// Total returns the CPU consumed by all workers.
func (r Report) Total() time.Duration {
	var total time.Duration
	for _, d := range r.Workers {
		total += d
	}
	return total
}

// Run starts cfg.Workers threads and blocks until ctx is done and all of
// them have returned.
func Run(ctx context.Context, cfg Config) Report {
	if cfg.Workers <= 0 {
		return Report{}
	}
	slice := cfg.Slice
	if slice <= 0 {
		slice = DefaultSlice
	}
	var burner interface{ Burn(time.Duration) time.Duration } = workload.Default
	if cfg.Burner != nil {
		burner = cfg.Burner
	}

	report := Report{Workers: make([]time.Duration, cfg.Workers)}
	var wg sync.WaitGroup
	for i := range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := cpu.LockThread()
			if cfg.CPU >= 0 {
				if err := cpu.PinCurrent(cfg.CPU); err != nil {
					log.Warnf("stress worker %d (%s): pin to cpu %d: %v", i, t, cfg.CPU, err)
				}
			}

			var consumed time.Duration
			for ctx.Err() == nil {
				consumed += burner.Burn(slice)
			}
			report.Workers[i] = consumed
		}()
	}
	wg.Wait()
	return report
}
