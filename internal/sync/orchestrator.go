package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tonimelisma/musicsync/internal/config"
	"github.com/tonimelisma/musicsync/internal/provider"
)

// OrchestratorStore is the subset of store.Store the Worker Orchestrator
// needs, beyond what it hands to the Reconciler.
type OrchestratorStore interface {
	TotalUnsyncedCount(ctx context.Context) (int, error)
	UnsyncedPlaylistKeys(ctx context.Context) ([]string, error)
}

// Orchestrator drains the event queue, groups by playlist, and drives the
// Reconciler across every configured provider per SPEC_FULL.md §2/§4.6,
// grounded on original_source/src/worker.rs::run_worker_once's outer loop
// (provider discovery, per-playlist-then-per-provider iteration, the
// backpressure check against queue_length_stop_threshold).
type Orchestrator struct {
	store      OrchestratorStore
	reconciler *Reconciler
	providers  []provider.Provider
	cfgHolder  *config.Holder
	logger     *slog.Logger
}

// NewOrchestrator constructs an Orchestrator. A queue_length_stop_threshold
// <= 0 disables backpressure (SPEC_FULL.md §3's threshold is optional).
// cfgHolder is read fresh each pass so a SIGHUP-driven config reload
// changes backpressure behavior without restarting the worker.
func NewOrchestrator(st OrchestratorStore, reconciler *Reconciler, providers []provider.Provider, cfgHolder *config.Holder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: st, reconciler: reconciler, providers: providers, cfgHolder: cfgHolder, logger: logger}
}

// RunOnce drains the queue for one pass: checks backpressure, then for
// each distinct playlist key with unsynced events, runs the Reconciler
// against every configured provider in turn before moving to the next
// playlist key (SPEC_FULL.md §4.6's "all providers updated before moving
// on" grouping).
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if len(o.providers) == 0 {
		o.logger.Warn("orchestrator: no provider credentials configured; queue will not be consumed")

		return nil
	}

	queueThresh := o.cfgHolder.Config().QueueLengthStopThreshold

	if queueThresh > 0 {
		total, err := o.store.TotalUnsyncedCount(ctx)
		if err != nil {
			return fmt.Errorf("orchestrator: count unsynced events: %w", err)
		}

		if total > queueThresh {
			o.logger.Warn("orchestrator: queue length exceeds threshold, skipping pass", "queue_length", total, "threshold", queueThresh)

			return nil
		}
	}

	keys, err := o.store.UnsyncedPlaylistKeys(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: list unsynced playlist keys: %w", err)
	}

	if len(keys) == 0 {
		o.logger.Debug("orchestrator: no pending events")

		return nil
	}

	workerID := uuid.NewString()
	o.reconciler.SetWorkerID(workerID)
	o.logger.Info("orchestrator: starting pass", "worker_id", workerID, "playlist_count", len(keys))

	for _, key := range keys {
		for _, p := range o.providers {
			if err := o.reconciler.Reconcile(ctx, key, p); err != nil {
				o.logger.Error("orchestrator: reconcile failed", "error", err, "playlist_key", key, "provider", p.Name())
			}
		}
	}

	return nil
}
