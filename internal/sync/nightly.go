package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/musicsync/internal/config"
	"github.com/tonimelisma/musicsync/internal/playlist"
	"github.com/tonimelisma/musicsync/internal/store"
	"github.com/tonimelisma/musicsync/internal/tree"
)

// NightlyStore is the subset of store.Store Nightly Reconcile needs.
type NightlyStore interface {
	EnqueueEvent(ctx context.Context, e store.Event) error
}

// RunNightlyReconcile rebuilds the Tree Model from the filesystem and, for
// every whitelisted folder, rewrites the local playlist file and enqueues
// a synthetic Create event, per SPEC_FULL.md §4.8. Synchronous: intended
// to catch changes missed while the watcher process was down, grounded on
// original_source/src/worker.rs::run_nightly_reconcile.
func RunNightlyReconcile(ctx context.Context, t *tree.Tree, cfg *config.Config, st NightlyStore, logger *slog.Logger) error {
	logger.Info("nightly reconcile: starting", "root", t.Root)

	if err := t.Build(); err != nil {
		return fmt.Errorf("nightly reconcile: build tree: %w", err)
	}

	nowMS := time.Now().UnixMilli()

	for _, folder := range t.AllNodePaths() {
		rel, err := t.RelativeKey(folder)
		if err != nil || rel == "." {
			continue
		}

		folderName := filepath.Base(folder)

		playlistPath := playlist.LocalPath(folder, cfg.LocalPlaylistTemplate, folderName)

		var writeErr error
		if cfg.PlaylistMode == "linked" {
			writeErr = playlist.WriteLinked(folder, playlistPath, cfg.LinkedReferenceFormat, cfg.LocalPlaylistTemplate)
		} else {
			writeErr = playlist.WriteFlat(folder, playlistPath, cfg.PlaylistOrderMode, t.MatchesExtension)
		}

		if writeErr != nil {
			logger.Warn("nightly reconcile: failed to write playlist", "error", writeErr, "folder", folder)
		}

		if err := st.EnqueueEvent(ctx, store.Event{
			TimestampMS:  nowMS,
			PlaylistName: strings.ReplaceAll(rel, string(filepath.Separator), "/"),
			Action:       store.ActionCreate,
		}); err != nil {
			logger.Warn("nightly reconcile: failed to enqueue create event", "error", err, "playlist_key", rel)
		}
	}

	logger.Info("nightly reconcile: complete", "folder_count", len(t.AllNodePaths()))

	return nil
}
