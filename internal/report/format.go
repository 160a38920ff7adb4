package report

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// FormatLatency formats a duration in the most appropriate unit.
func FormatLatency(d time.Duration) string {
	if d == 0 {
		return "0"
	}

	ns := d.Nanoseconds()
	if ns < 0 {
		return "-" + FormatLatency(-d)
	}
	if ns < 1000 {
		return fmt.Sprintf("%dns", ns)
	}
	if ns < 1_000_000 {
		us := float64(ns) / 1000.0
		if us == float64(int(us)) {
			return fmt.Sprintf("%dµs", int(us))
		}
		return fmt.Sprintf("%.1fµs", us)
	}
	if ns < 1_000_000_000 {
		ms := float64(ns) / 1_000_000.0
		if ms == float64(int(ms)) {
			return fmt.Sprintf("%dms", int(ms))
		}
		return fmt.Sprintf("%.2fms", ms)
	}

	s := float64(ns) / 1_000_000_000.0
	return fmt.Sprintf("%.3fs", s)
}

// share returns part as a percentage of total.
func share(part, total time.Duration) string {
	if total <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(part)/float64(total))
}

func sortedKeys(m map[string]float64) []string {
	return slices.Sorted(maps.Keys(m))
}
