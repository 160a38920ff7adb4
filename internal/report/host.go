package report

import (
	"context"
	"errors"

	pscpu "github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
)

// Host describes the machine the run happened on.
type Host struct {
	LogicalCPUs int
	Load1       float64
	Load5       float64
	Load15      float64
	// Err holds any probe failure; the other fields are then partial.
	Err error
}

// Snapshot probes the host. It never fails; missing values stay zero.
func Snapshot(ctx context.Context) Host {
	var h Host
	var errs []error

	n, err := pscpu.CountsWithContext(ctx, true)
	if err != nil {
		errs = append(errs, err)
	}
	h.LogicalCPUs = n

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		h.Load1, h.Load5, h.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	h.Err = errors.Join(errs...)
	return h
}
