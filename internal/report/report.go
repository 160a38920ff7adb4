// Package report renders an experiment result for the terminal.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/utkarsh5026/cbgexec/internal/cpu"
	"github.com/utkarsh5026/cbgexec/internal/experiment"
)

var (
	Bold   = color.New(color.Bold)
	Green  = color.New(color.FgGreen)
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Blue   = color.New(color.FgBlue)
)

// PriorityWarning is printed whenever priority separation was not applied.
const PriorityWarning = "thread priorities could not be set; CPU times below do not reflect priority separation"

// Render writes the full report for res.
func Render(w io.Writer, res *experiment.Result, host Host) {
	printHeader(w, "CALLBACK GROUP PRIORITY EXPERIMENT")
	printRun(w, res, host)

	if !res.PrioritiesVerified {
		WarnPriorities(w, res.PriorityErrors)
	}

	printThreads(w, res)
	if len(res.Ping) > 0 {
		printPing(w, res)
	}
	if len(res.Samples) > 0 {
		printSamples(w, res)
	}
	printFooter(w, res)
}

// WarnPriorities prints the unverified priority warning and its causes.
func WarnPriorities(w io.Writer, errs []error) {
	_, _ = Yellow.Fprintf(w, "⚠ WARNING: %s\n", PriorityWarning)
	for _, err := range errs {
		_, _ = Yellow.Fprintf(w, "   • %v\n", err)
	}
	_, _ = fmt.Fprintln(w)
}

func printHeader(w io.Writer, title string) {
	_, _ = Bold.Fprintln(w, "╔════════════════════════════════════════════════════════════╗")
	_, _ = Bold.Fprintf(w, "║       %-52s ║\n", title)
	_, _ = Bold.Fprintln(w, "╚════════════════════════════════════════════════════════════╝")
	_, _ = fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, title string, lines ...string) {
	_, _ = fmt.Fprintln(w)
	_, _ = Bold.Fprintln(w, title)
	for _, l := range lines {
		_, _ = fmt.Fprintln(w, l)
	}
	_, _ = fmt.Fprintln(w)
}

func printRun(w io.Writer, res *experiment.Result, host Host) {
	_, _ = Blue.Fprintf(w, "Run:     %s\n", res.RunID)
	_, _ = fmt.Fprintf(w, "Started: %s\n", res.Started.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Wall:    %v", res.Wall.Round(time.Millisecond))
	if res.Early {
		_, _ = Yellow.Fprint(w, " (stopped early)")
	}
	_, _ = fmt.Fprintln(w)

	if host.LogicalCPUs > 0 {
		_, _ = fmt.Fprintf(w, "Host:    %d logical CPUs, load %.2f %.2f %.2f\n",
			host.LogicalCPUs, host.Load1, host.Load5, host.Load15)
	}
	for _, name := range sortedKeys(res.Parameters) {
		_, _ = fmt.Fprintf(w, "Param:   %s = %g\n", name, res.Parameters[name])
	}
	_, _ = fmt.Fprintln(w)
}

func printThreads(w io.Writer, res *experiment.Result) {
	printSectionHeader(w, "THREAD CPU TIME",
		"CPU time each loop thread was scheduled for during the run")

	var total time.Duration
	for _, t := range res.Threads {
		total += t.Elapsed
	}

	table := tablewriter.NewWriter(w)
	table.Header("Level", "Thread", "Begin", "End", "Elapsed", "Share", "Handlers")
	for _, t := range res.Threads {
		elapsed := FormatLatency(t.Elapsed)
		if t.Err != nil {
			elapsed = "n/a"
		}
		_ = table.Append(
			t.Level.String(),
			t.Thread.String(),
			FormatLatency(t.Begin),
			FormatLatency(t.End),
			elapsed,
			share(t.Elapsed, total),
			strconv.FormatUint(t.Executed, 10),
		)
	}
	if err := table.Render(); err != nil {
		_, _ = Red.Fprintln(w, "Error in rendering thread table")
	}

	high, okH := res.Thread(cpu.High)
	low, okL := res.Thread(cpu.Low)
	if okH && okL && low.Elapsed > 0 && high.Err == nil && low.Err == nil {
		ratio := float64(high.Elapsed) / float64(low.Elapsed)
		c := Green
		if ratio < 1 {
			c = Yellow
		}
		_, _ = c.Fprintf(w, "high/low CPU ratio: %.2fx\n", ratio)
	}
}

func printPing(w io.Writer, res *experiment.Result) {
	printSectionHeader(w, "⚡ PING ROUND TRIPS",
		"  • Lost: pings without a matching pong at shutdown",
		"  • Unexpected: pongs for values never sent or already matched")

	table := tablewriter.NewWriter(w)
	table.Header("Level", "Sent", "Received", "Lost", "Unexpected", "Min", "Avg", "P50", "P95", "P99", "Max")
	for _, st := range res.Ping {
		_ = table.Append(
			st.Level.String(),
			strconv.FormatUint(st.Sent, 10),
			strconv.FormatUint(st.Received, 10),
			strconv.FormatUint(st.Lost, 10),
			strconv.FormatUint(st.Unexpected, 10),
			FormatLatency(st.Min),
			FormatLatency(st.Avg),
			FormatLatency(st.Median),
			FormatLatency(st.P95),
			FormatLatency(st.P99),
			FormatLatency(st.Max),
		)
	}
	if err := table.Render(); err != nil {
		_, _ = Red.Fprintln(w, "Error in rendering ping table")
	}
}

func printSamples(w io.Writer, res *experiment.Result) {
	printSectionHeader(w, "INTERIM SAMPLES",
		"CPU time consumed per interval")

	table := tablewriter.NewWriter(w)
	table.Header("At", "High", "Low", "High share")
	for _, s := range res.Samples {
		_ = table.Append(
			s.Offset.Round(time.Millisecond).String(),
			FormatLatency(s.High),
			FormatLatency(s.Low),
			share(s.High, s.High+s.Low),
		)
	}
	if err := table.Render(); err != nil {
		_, _ = Red.Fprintln(w, "Error in rendering samples table")
	}
}

func printFooter(w io.Writer, res *experiment.Result) {
	_, _ = fmt.Fprintln(w)
	if n := res.Stress.Total(); len(res.Stress.Workers) > 0 {
		_, _ = fmt.Fprintf(w, "Stress: %d workers consumed %s\n", len(res.Stress.Workers), FormatLatency(n))
	}

	s := res.Node
	c := Green
	if s.Dropped+s.PublishFailures+s.Panics > 0 {
		c = Yellow
	}
	_, _ = c.Fprintf(w, "Messages dropped: %d, publish failures: %d, handler panics: %d\n",
		s.Dropped, s.PublishFailures, s.Panics)

	if res.PrioritiesVerified {
		_, _ = Green.Fprintln(w, "✓ Priorities verified")
	} else {
		_, _ = Yellow.Fprintln(w, "⚠ Priorities NOT verified")
	}
}
