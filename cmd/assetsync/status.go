package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/assetsync/internal/ratelimit"
)

var (
	statusLimit  int
	statusFailed bool
	statusRunID  int64
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display cache and sync history status",
		Long: `Display the state of the local cache: how many assets the manifest
records, when upstream was last checked and when the next unforced check
is allowed, followed by the most recent sync passes.

Use --failed to list assets whose last download attempts failed, or
--run to show every counter recorded for one pass.`,
		Example: `  assetsync status
  assetsync status --limit 20
  assetsync status --failed
  assetsync status --run 42`,
		RunE: statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 10, "number of recent sync runs to show")
	cmd.Flags().BoolVar(&statusFailed, "failed", false, "list unresolved failed downloads")
	cmd.Flags().Int64Var(&statusRunID, "run", 0, "show the details of one sync run by ID")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalManifests == nil || globalStore == nil {
		return fmt.Errorf("components not initialized")
	}

	out := os.Stdout

	mf, err := globalManifests.Load()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	fmt.Fprintln(out, "Cache Status")
	fmt.Fprintln(out, "============")
	fmt.Fprintf(out, "Cache dir:   %s\n", globalCfg.Cache.Dir)
	fmt.Fprintf(out, "Manifest:    %s\n", globalManifests.Path())
	fmt.Fprintf(out, "Assets:      %d\n", len(mf.Entries))
	if mf.LastCheckedAt.IsZero() {
		fmt.Fprintln(out, "Last check:  never")
	} else {
		limiter := ratelimit.New(globalCfg.Sync.MinInterval)
		fmt.Fprintf(out, "Last check:  %s\n", mf.LastCheckedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Next check:  %s\n", limiter.NextCheck(mf.LastCheckedAt).Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(out, "")

	switch {
	case statusRunID > 0:
		return printSyncRun(out, statusRunID)
	case statusFailed:
		return printFailedAssets(out)
	}
	return printSyncRuns(out, statusLimit)
}

func printSyncRuns(out io.Writer, limit int) error {
	runs, err := globalStore.ListSyncRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list sync runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No sync runs recorded")
		return nil
	}

	fmt.Fprintf(out, "%-6s %-17s %-8s %6s %6s %6s %10s %10s\n", "ID", "Started", "Status", "New", "Evict", "Failed", "Size", "Duration")
	fmt.Fprintln(out, strings.Repeat("-", 78))

	for _, r := range runs {
		duration := "-"
		if !r.EndTime.IsZero() && r.EndTime.After(r.StartTime) {
			duration = r.EndTime.Sub(r.StartTime).Truncate(time.Second).String()
		}
		fmt.Fprintf(out, "%-6d %-17s %-8s %6d %6d %6d %10s %10s\n",
			r.ID,
			r.StartTime.Local().Format("2006-01-02 15:04"),
			r.Status,
			r.Downloaded,
			r.Evicted,
			r.Failed,
			formatBytes(r.BytesTransferred),
			duration,
		)
		if r.ErrorMessage != "" {
			fmt.Fprintf(out, "       error: %s\n", r.ErrorMessage)
		}
	}

	fmt.Fprintln(out, "")
	return nil
}

func printSyncRun(out io.Writer, id int64) error {
	r, err := globalStore.GetSyncRun(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Sync run %d\n", r.ID)
	fmt.Fprintf(out, "  Status:      %s\n", r.Status)
	fmt.Fprintf(out, "  Forced:      %t\n", r.Forced)
	fmt.Fprintf(out, "  Started:     %s\n", r.StartTime.Local().Format("2006-01-02 15:04:05"))
	if !r.EndTime.IsZero() {
		fmt.Fprintf(out, "  Finished:    %s\n", r.EndTime.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "  Repos:       %d queried, %d failed\n", r.ReposQueried, r.ReposFailed)
	fmt.Fprintf(out, "  Downloaded:  %d (%s)\n", r.Downloaded, formatBytes(r.BytesTransferred))
	fmt.Fprintf(out, "  Up to date:  %d\n", r.UpToDate)
	fmt.Fprintf(out, "  Evicted:     %d\n", r.Evicted)
	fmt.Fprintf(out, "  Failed:      %d\n", r.Failed)
	fmt.Fprintf(out, "  Changed:     %t\n", r.Changed)
	if r.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:       %s\n", r.ErrorMessage)
	}
	return nil
}

func printFailedAssets(out io.Writer) error {
	failed, err := globalStore.ListFailedAssets(false)
	if err != nil {
		return fmt.Errorf("failed to list failed assets: %w", err)
	}
	if len(failed) == 0 {
		fmt.Fprintln(out, "No failed downloads")
		return nil
	}

	fmt.Fprintf(out, "%-32s %-10s %7s %-17s %s\n", "Asset", "Kind", "Retries", "Last Failure", "Error")
	fmt.Fprintln(out, strings.Repeat("-", 90))
	for _, f := range failed {
		fmt.Fprintf(out, "%-32s %-10s %7d %-17s %s\n",
			f.Name,
			f.ErrKind,
			f.RetryCount,
			f.LastFailure.Local().Format("2006-01-02 15:04"),
			f.Error,
		)
	}

	fmt.Fprintln(out, "")
	return nil
}

// formatBytes formats a byte count into human-readable format
func formatBytes(bytes int64) string {
	if bytes < 0 {
		return "?"
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
