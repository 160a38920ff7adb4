package experiment

import (
	"context"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

const progressTick = 100 * time.Millisecond

// sleep blocks for d or until ctx is done, reporting whether ctx ended it.
func sleep(ctx context.Context, d time.Duration, progress bool) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var (
		bar  *progressbar.ProgressBar
		tick <-chan time.Time
	)
	if progress && d > 0 {
		bar = newProgressBar(d)
		ticker := time.NewTicker(progressTick)
		defer ticker.Stop()
		tick = ticker.C
	}

	start := time.Now()
	for {
		select {
		case <-timer.C:
			if bar != nil {
				_ = bar.Finish()
			}
			return false
		case <-ctx.Done():
			if bar != nil {
				_ = bar.Exit()
			}
			return true
		case <-tick:
			_ = bar.Set64(time.Since(start).Milliseconds())
		}
	}
}

func newProgressBar(d time.Duration) *progressbar.ProgressBar {
	return progressbar.NewOptions64(d.Milliseconds(),
		progressbar.OptionSetDescription("Running experiment"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
