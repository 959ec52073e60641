package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pointerdev/pointer/internal/namecache"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the maintenance daemon",
	Long:  "Runs the garbage collection and retention sweep loops until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.collector().RunLoop(ctx, a.cfg.GC.Interval.Std())
	}()
	go func() {
		defer wg.Done()
		a.retention().RunLoop(ctx, a.cfg.Retention.SweepInterval.Std())
	}()
	go func() {
		defer wg.Done()
		a.cacheCleanupLoop(ctx)
	}()

	a.log.WithField("db", a.cfg.DBPath).Info("pointerd running")

	sig := <-sigChan
	a.log.WithField("signal", sig.String()).Info("shutting down")
	cancel()
	wg.Wait()
	return nil
}

// cacheCleanupLoop periodically removes name cache rows whose symbols
// were collected
func (a *app) cacheCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.NameCache.CleanupInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := namecache.Cleanup(ctx, a.db, a.log, 0, 0); err != nil {
				a.log.WithError(err).Error("name cache cleanup failed")
			}
		}
	}
}
