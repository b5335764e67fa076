package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/assetsync/internal/download"
	"github.com/BadgerOps/assetsync/internal/engine"
)

var (
	syncForce bool
	syncEvery time.Duration
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the cache with the configured repositories",
		Long: `Synchronize the local cache with the assets published by the configured
repositories.

The sync command will:
  1. Skip the pass if upstream was checked within sync.min_interval
  2. Fetch the asset listing of every configured repository
  3. Compare it with the manifest and the files in the cache
  4. Evict assets removed upstream
  5. Download new and updated assets one at a time

A repository that fails to answer keeps its cached assets. Failed downloads
are retried on the next pass.

With --every the command keeps running and starts a pass on each tick
until interrupted. --force applies to the first pass only.`,
		Example: `  assetsync sync
  assetsync sync --force
  assetsync sync --every 10m`,
		RunE: syncRun,
	}

	cmd.Flags().BoolVar(&syncForce, "force", false, "check upstream even if the last check was recent")
	cmd.Flags().DurationVar(&syncEvery, "every", 0, "keep running and sync on this interval")

	return cmd
}

func syncRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if len(globalRepos) == 0 {
		log.Warn("no repositories configured")
		return nil
	}

	var sink engine.ProgressSink = engine.NopSink{}
	if !quiet {
		sink = newConsoleSink(os.Stdout)
	}

	mgr, err := newSyncManager(sink)
	if err != nil {
		return fmt.Errorf("sync engine not initialized: %w", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("sync operation", "repos", len(globalRepos), "force", syncForce, "every", syncEvery)

	if syncEvery <= 0 {
		res, err := mgr.Run(ctx, syncForce)
		return reportPass(res, err)
	}
	return syncPeriodically(ctx, mgr, syncEvery, syncForce)
}

// syncPeriodically starts a pass on every tick until ctx is cancelled.
// A tick that arrives while a pass is still running is skipped. On
// shutdown the in-flight pass stops before its next download and is
// reported before returning.
func syncPeriodically(ctx context.Context, mgr *engine.SyncManager, every time.Duration, forced bool) error {
	log := slog.Default()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var running <-chan engine.Completion
	start := func() {
		done, ok := mgr.Start(ctx, forced)
		if !ok {
			logBusy(log, mgr)
			return
		}
		forced = false
		running = done
	}
	report := func(c engine.Completion) {
		if err := reportPass(c.Result, c.Err); err != nil && ctx.Err() == nil {
			log.Error("sync pass failed", "error", err)
		}
	}

	start()
	for {
		select {
		case c := <-running:
			running = nil
			report(c)
		case <-ticker.C:
			if running != nil {
				logBusy(log, mgr)
				continue
			}
			start()
		case <-ctx.Done():
			if running != nil {
				log.Info("waiting for the current pass to stop")
				report(<-running)
			}
			log.Info("stopping periodic sync")
			return nil
		}
	}
}

func logBusy(log *slog.Logger, mgr *engine.SyncManager) {
	tr := mgr.ActiveProgress()
	if tr == nil {
		log.Info("previous pass still running, skipping tick")
		return
	}
	snap := tr.Snapshot()
	log.Info("previous pass still running, skipping tick",
		"phase", snap.Phase,
		"asset", snap.CurrentAsset,
		"completed", snap.CompletedAssets,
		"elapsed", snap.Elapsed)
}

// reportPass prints a finished pass and turns per-asset or per-repository
// failures into an error for the exit status.
func reportPass(res engine.Result, err error) error {
	if err != nil {
		return err
	}
	if !quiet {
		printResult(os.Stdout, res)
	}
	if failures := res.Failed + res.ReposFailed; failures > 0 {
		return fmt.Errorf("sync completed with %d failures", failures)
	}
	return nil
}

func printResult(w io.Writer, res engine.Result) {
	if res.Skipped {
		fmt.Fprintln(w, "Checked recently, nothing to do (use --force to check now).")
		return
	}

	fmt.Fprintln(w, "\n=== SYNC SUMMARY ===")
	fmt.Fprintf(w, "Repositories: %d queried, %d failed\n", res.ReposQueried, res.ReposFailed)
	fmt.Fprintf(w, "Downloaded:   %d\n", res.Downloaded)
	fmt.Fprintf(w, "Up to date:   %d\n", res.UpToDate)
	fmt.Fprintf(w, "Evicted:      %d\n", res.Evicted)
	fmt.Fprintf(w, "Failed:       %d\n", res.Failed)
	fmt.Fprintf(w, "Bytes:        %s\n", formatBytes(res.BytesTransferred))
	fmt.Fprintf(w, "Changed:      %t\n", res.Changed)
}

// consoleSink prints progress events as plain lines. Progress is printed
// in 10% steps; downloads of unknown size only report completion.
type consoleSink struct {
	mu      sync.Mutex
	w       io.Writer
	current string
	step    int
}

func newConsoleSink(w io.Writer) *consoleSink {
	return &consoleSink{w: w}
}

func (c *consoleSink) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *consoleSink) OnCheckingForUpdates() {
	c.printf("Checking for updates...\n")
}

func (c *consoleSink) OnNoUpdatesAvailable() {
	c.printf("No updates available.\n")
}

func (c *consoleSink) OnDownloadStart(name string) {
	c.mu.Lock()
	c.current = name
	c.step = -1
	c.mu.Unlock()
	c.printf("Downloading %s\n", name)
}

func (c *consoleSink) OnDownloadProgress(fraction float64, totalBytes, receivedBytes int64) {
	if fraction == download.Indeterminate {
		return
	}
	step := int(fraction * 10)

	c.mu.Lock()
	defer c.mu.Unlock()
	if step == c.step {
		return
	}
	c.step = step
	fmt.Fprintf(c.w, "  %s: %3d%% (%s / %s)\n", c.current, step*10, formatBytes(receivedBytes), formatBytes(totalBytes))
}

func (c *consoleSink) OnDownloadFinish(name string) {
	c.printf("Finished %s\n", name)
}

func (c *consoleSink) OnError(message string) {
	c.printf("ERROR: %s\n", message)
}

func (c *consoleSink) OnSyncFinished() {
	c.printf("Sync finished.\n")
}
