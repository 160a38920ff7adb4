// Command cbgdemo runs the callback group priority experiment: a pong
// responder served by a high and a low priority scheduler loop, optionally
// driven by a ping generator and competing stress load, then prints the CPU
// time each loop thread received.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/utkarsh5026/cbgexec/internal/experiment"
	"github.com/utkarsh5026/cbgexec/internal/params"
	"github.com/utkarsh5026/cbgexec/internal/report"
)

var log = logging.Logger("cbgdemo")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	s, err := loadSettings("cbgdemo", args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = report.Red.Fprintf(os.Stderr, "✗ %v\n", err)
		return 2
	}

	lvl, err := logging.LevelFromString(s.LogLevel)
	if err != nil {
		_, _ = report.Red.Fprintf(os.Stderr, "✗ invalid -log-level %q: %v\n", s.LogLevel, err)
		return 2
	}
	logging.SetAllLoggers(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := params.NewStore()
	if s.Config != "" {
		stopReload := watchReload(ctx, s.Config, store)
		defer stopReload()
	}

	opts := append(s.options(), experiment.WithParamStore(store))
	res, err := experiment.Run(ctx, opts...)
	if err != nil {
		_, _ = report.Red.Fprintf(os.Stderr, "✗ experiment failed: %v\n", err)
		return 1
	}

	fmt.Println()
	report.Render(os.Stdout, res, report.Snapshot(context.Background()))
	return 0
}

// watchReload applies the config file's parameters section to store on
// every SIGHUP.
func watchReload(ctx context.Context, path string, store *params.Store) func() {
	ctx, cancel := context.WithCancel(ctx)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reload(path, store)
			}
		}
	}()

	return func() {
		signal.Stop(hup)
		cancel()
		<-done
	}
}

func reload(path string, store *params.Store) {
	fc, err := readFileConfig(path)
	if err != nil {
		log.Warnf("reload: %v", err)
		return
	}
	for _, name := range store.Names() {
		v, ok := fc.Parameters[name]
		if !ok {
			continue
		}
		if err := store.Set(name, v); err != nil {
			log.Warnf("reload %s: %v", name, err)
			continue
		}
		log.Infof("reload: %s = %g", name, v)
	}
}
