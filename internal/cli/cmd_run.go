package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mcpserver "survey/internal/mcp"
	"survey/internal/service"
	"survey/internal/storage"
)

// runCmd runs configured jobs once
var runCmd = &cobra.Command{
	Use:   "run [job...]",
	Short: "Run configured jobs (all of them when none is named)",
	RunE:  runJobs,
}

// watchCmd keeps scheduled and watched jobs running
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run jobs on their schedules and when their watched directories change",
	Long: `Starts the cron schedules and directory watchers of every configured job
and keeps running until interrupted. A watched job re-runs 500ms after the
last change in its directory.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

// mcpCmd serves the configured jobs over MCP
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve jobs, schemas and run history over MCP (stdio)",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

// runsCmd shows and prunes the run history
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded job runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var (
	runsJob   string
	runsLimit int
	runsPrune time.Duration
)

func init() {
	runsCmd.Flags().StringVar(&runsJob, "job", "", "Only show runs of this job")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to show")
	runsCmd.Flags().DurationVar(&runsPrune, "prune", 0, "Delete runs that finished longer ago than this (e.g. 720h)")
}

var shutdownTimeout = 30 * time.Second

// openService opens the run log database and builds the stitch service for
// the configured jobs. The returned func closes the database.
func openService(emitter service.EventEmitter) (*service.StitchService, func(), error) {
	db, err := storage.New(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	svc := service.NewStitchService(cfg.Jobs, storage.NewRunStore(db), emitter, log())
	return svc, func() { db.Close() }, nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	if len(cfg.Jobs) == 0 {
		return fmt.Errorf("no jobs configured (use --config)")
	}
	names := args
	if len(names) == 0 {
		for _, j := range cfg.Jobs {
			names = append(names, j.Name)
		}
	}

	svc, closeDB, err := openService(&service.LogEmitter{Logger: log(), Out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var errs []error
	for _, name := range names {
		if _, err := svc.RunJob(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func runWatch(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openService(&service.LogEmitter{Logger: log(), Out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := svc.RestartWatchers(ctx); err != nil {
		return err
	}
	log().Info("watching", zap.Int("jobs", len(cfg.Jobs)))
	<-ctx.Done()

	log().Info("received shutdown signal")
	svc.Stop()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer waitCancel()
	svc.WaitRunning(waitCtx)
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openService(nil)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	if runsPrune > 0 {
		n, err := svc.PruneRuns(ctx, runsPrune)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs\n", n)
	}

	runs, err := svc.ListRuns(ctx, runsJob, runsLimit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %-8s %d processed, %d written, %d skipped\n",
			r.StartedAt.Local().Format(time.DateTime), r.Job, r.Status, r.Processed, r.Written, r.Skipped)
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openService(&service.LogEmitter{Logger: log()})
	if err != nil {
		return err
	}
	defer closeDB()

	srv := mcpserver.New(mcpserver.Deps{Stitch: svc, Logger: log(), Version: Version})
	return srv.ServeStdio()
}
