package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/musicsync/internal/config"
	"github.com/tonimelisma/musicsync/internal/store"
	syncpkg "github.com/tonimelisma/musicsync/internal/sync"
)

func workerPidPath() string {
	return filepath.Join(config.DefaultDataDir(), "worker.pid")
}

// newWorkerCmd builds `worker`: the long-running Worker Orchestrator loop
// described in SPEC_FULL.md §4.6, draining the event queue against every
// authenticated provider every worker_interval_sec, and running the
// nightly reconcile once per day at nightly_reconcile_cron.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Drain the event queue against every authenticated provider",
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cleanup, err := writePIDFile(workerPidPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	cfgHolder := config.NewHolder(cc.Cfg, flagConfigPath)
	watchReload(ctx, cfgHolder, cc.Logger)

	st, err := store.Open(ctx, storePath(cc.Cfg), cc.Logger)
	if err != nil {
		return fmt.Errorf("worker: opening store: %w", err)
	}
	defer st.Close()

	tr, err := newTree(cc.Cfg)
	if err != nil {
		return fmt.Errorf("worker: building tree: %w", err)
	}

	if err := tr.Build(); err != nil {
		return fmt.Errorf("worker: scanning root: %w", err)
	}

	resolver := newResolver(st, cc.Logger)
	reconciler := syncpkg.NewReconciler(st, resolver, tr, cfgHolder, "", cc.Logger)
	providers := buildProviders(ctx, cc.Cfg, st, cc.Logger)
	orch := syncpkg.NewOrchestrator(st, reconciler, providers, cfgHolder, cc.Logger)

	// worker_interval_sec and the provider credential set are read once at
	// startup: changing either requires restarting the worker. Everything
	// the Reconciler and Orchestrator consult per-pass (batch sizes, retry
	// limits, naming templates, queue threshold) reloads live via cfgHolder.
	interval := time.Duration(cc.Cfg.WorkerIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastNightly := ""

	cc.Logger.Info("worker: starting", "interval", interval)

	for {
		if err := orch.RunOnce(ctx); err != nil {
			cc.Logger.Error("worker: pass failed", "error", err)
		}

		cfg := cfgHolder.Config()
		if due, day := nightlyDue(cfg.NightlyReconcileAt, lastNightly); due {
			if err := syncpkg.RunNightlyReconcile(ctx, tr, cfg, st, cc.Logger); err != nil {
				cc.Logger.Error("worker: nightly reconcile failed", "error", err)
			} else {
				lastNightly = day
			}
		}

		select {
		case <-ctx.Done():
			cc.Logger.Info("worker: shut down")
			return nil
		case <-ticker.C:
		}
	}
}

// nightlyDue reports whether the current time has passed cronAt (HH:MM,
// local time) for a day not already recorded in lastDay, returning today's
// date key so the caller can remember it was run.
func nightlyDue(cronAt, lastDay string) (bool, string) {
	now := time.Now()

	today := now.Format("2006-01-02")
	if today == lastDay {
		return false, today
	}

	var h, m int
	if _, err := fmt.Sscanf(cronAt, "%d:%d", &h, &m); err != nil {
		return false, today
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())

	return !now.Before(target), today
}
