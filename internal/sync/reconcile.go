package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/tonimelisma/musicsync/internal/config"
	"github.com/tonimelisma/musicsync/internal/playlist"
	"github.com/tonimelisma/musicsync/internal/provider"
	"github.com/tonimelisma/musicsync/internal/store"
	"github.com/tonimelisma/musicsync/internal/tree"
)

// defaultLeaseTTL is the Processing Lease default from SPEC_FULL.md §3.
const defaultLeaseTTL = 600 * time.Second

// ReconcilerStore is the subset of store.Store the Reconciler needs.
type ReconcilerStore interface {
	FetchUnsyncedEvents(ctx context.Context, playlistName string) ([]store.Event, error)
	MarkEventsSynced(ctx context.Context, ids []int64) error
	GetPlaylistMap(ctx context.Context, provider, playlistName string) (store.PlaylistMapEntry, error)
	UpsertPlaylistMap(ctx context.Context, e store.PlaylistMapEntry) error
	DeletePlaylistMap(ctx context.Context, provider, playlistName string) error
	MigratePlaylistMapKey(ctx context.Context, provider, oldKey, newKey string) error
	AcquireLease(ctx context.Context, playlistName, workerID string, lockedAt, expiresAt int64) error
	ReleaseLease(ctx context.Context, playlistName, workerID string) error
}

// Reconciler implements SPEC_FULL.md §4.6: the per-(playlist, provider)
// state machine, grounded on original_source/src/worker.rs::run_worker_once.
type Reconciler struct {
	store     ReconcilerStore
	resolver  *Resolver
	tree      *tree.Tree
	cfgHolder *config.Holder
	workerID  string
	logger    *slog.Logger
	nowFn     func() time.Time
	sleepFn   func(ctx context.Context, d time.Duration) error
}

// NewReconciler constructs a Reconciler bound to a single root folder's
// configuration and Tree Model. cfgHolder is consulted fresh on every
// Reconcile call so a SIGHUP-driven config reload takes effect on the next
// pass. nowFn/sleepFn default to the wall clock and real sleep; tests
// inject fakes for deterministic backoff assertions.
func NewReconciler(st ReconcilerStore, resolver *Resolver, t *tree.Tree, cfgHolder *config.Holder, workerID string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     st,
		resolver:  resolver,
		tree:      t,
		cfgHolder: cfgHolder,
		workerID:  workerID,
		logger:    logger,
		nowFn:    time.Now,
		sleepFn: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

type classified struct {
	renameTarget *store.RenameExtra
	hasDelete    bool
	adds         []string
	removes      []string
	ids          []int64
}

func classify(events []store.Event) classified {
	var c classified

	for _, ev := range events {
		c.ids = append(c.ids, ev.ID)

		switch ev.Action {
		case store.ActionDelete:
			c.hasDelete = true
		case store.ActionRename:
			var extra store.RenameExtra
			if err := json.Unmarshal([]byte(ev.Extra), &extra); err == nil {
				c.renameTarget = &extra
			}
		case store.ActionAdd:
			c.adds = append(c.adds, ev.TrackPath)
		case store.ActionRemove:
			c.removes = append(c.removes, ev.TrackPath)
		case store.ActionCreate:
			// handled implicitly by the desired-set reconciliation below
		}
	}

	return c
}

// SetWorkerID updates the worker identity used for lease acquisition.
// The Orchestrator calls this once per pass with a fresh UUID, matching
// original_source/src/worker.rs's per-call worker_id generation.
func (r *Reconciler) SetWorkerID(id string) {
	r.workerID = id
}

// Reconcile runs one pass of the state machine for (playlistKey, p). A
// lease-not-acquired condition is not an error: the caller should simply
// move to the next (playlist, provider) pair.
func (r *Reconciler) Reconcile(ctx context.Context, playlistKey string, p provider.Provider) error {
	cfg := r.cfgHolder.Config()
	now := r.nowFn().Unix()

	if err := r.store.AcquireLease(ctx, playlistKey, r.workerID, now, now+int64(defaultLeaseTTL.Seconds())); err != nil {
		if errors.Is(err, store.ErrLeaseHeld) {
			r.logger.Debug("reconcile: lease held by another worker", "playlist_key", playlistKey)

			return nil
		}

		return fmt.Errorf("reconcile: acquire lease: %w", err)
	}

	defer func() {
		if err := r.store.ReleaseLease(ctx, playlistKey, r.workerID); err != nil {
			r.logger.Warn("reconcile: release lease failed", "error", err, "playlist_key", playlistKey)
		}
	}()

	events, err := r.store.FetchUnsyncedEvents(ctx, playlistKey)
	if err != nil {
		return fmt.Errorf("reconcile: fetch events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	collapsed := Collapse(events)
	c := classify(collapsed)

	mapEntry, err := r.store.GetPlaylistMap(ctx, p.Name(), playlistKey)

	var remoteID string

	switch {
	case err == nil:
		remoteID = mapEntry.RemoteID
	case errors.Is(err, store.ErrNotFound):
		remoteID = ""
	default:
		return fmt.Errorf("reconcile: get playlist map: %w", err)
	}

	if c.hasDelete {
		return r.handleDelete(ctx, playlistKey, p, remoteID, c.ids)
	}

	desiredName := ComputeRemoteName(cfg, p, playlistKey)

	if remoteID == "" {
		remoteID, err = r.ensurePlaylist(ctx, p, desiredName)
		if err != nil {
			r.logger.Error("reconcile: ensure_playlist failed", "error", err, "playlist_key", playlistKey, "provider", p.Name())

			return nil
		}

		if err := r.store.UpsertPlaylistMap(ctx, store.PlaylistMapEntry{
			Provider: p.Name(), PlaylistName: playlistKey, RemoteID: remoteID, LastSyncedAt: now,
		}); err != nil {
			return fmt.Errorf("reconcile: upsert playlist map: %w", err)
		}
	} else {
		valid, err := p.PlaylistIsValid(ctx, remoteID)
		if err != nil {
			r.logger.Warn("reconcile: playlist_is_valid failed", "error", err, "playlist_key", playlistKey)
		} else if !valid {
			r.logger.Warn("reconcile: remote playlist no longer accessible, recreating", "playlist_key", playlistKey, "provider", p.Name())

			remoteID, err = r.ensurePlaylist(ctx, p, desiredName)
			if err != nil {
				r.logger.Error("reconcile: recreate failed", "error", err, "playlist_key", playlistKey)

				return nil
			}

			if err := r.store.UpsertPlaylistMap(ctx, store.PlaylistMapEntry{
				Provider: p.Name(), PlaylistName: playlistKey, RemoteID: remoteID, LastSyncedAt: now,
			}); err != nil {
				return fmt.Errorf("reconcile: upsert playlist map: %w", err)
			}
		}
	}

	if c.renameTarget != nil {
		newName := ComputeRemoteName(cfg, p, c.renameTarget.To)

		remoteID, err = r.renameWithRecovery(ctx, p, remoteID, newName, desiredName)
		if err != nil {
			r.logger.Error("reconcile: explicit rename failed", "error", err, "playlist_key", playlistKey)
		} else if err := r.store.MigratePlaylistMapKey(ctx, p.Name(), playlistKey, c.renameTarget.To); err != nil {
			return fmt.Errorf("reconcile: migrate playlist map key: %w", err)
		}
	} else if desiredName != playlistKey {
		if renamed, err := r.renameWithRecovery(ctx, p, remoteID, desiredName, desiredName); err != nil {
			r.logger.Warn("reconcile: config-driven rename failed", "error", err, "playlist_key", playlistKey)
		} else {
			remoteID = renamed
		}
	}

	adds, removes, err := r.desiredSetDiff(ctx, playlistKey, p, remoteID, c.adds, c.removes)
	if err != nil {
		r.logger.Warn("reconcile: desired-set diff failed", "error", err, "playlist_key", playlistKey)
		adds, removes = r.resolveTrackOps(ctx, p, c.adds, c.removes)
	}

	remoteID, err = r.applyBatches(ctx, p, remoteID, desiredName, removes, false)
	if err != nil {
		r.logger.Error("reconcile: applying removes failed", "error", err, "playlist_key", playlistKey)
	}

	if _, err := r.applyBatchesWithID(ctx, p, &remoteID, playlistKey, desiredName, adds, true); err != nil {
		r.logger.Error("reconcile: applying adds failed", "error", err, "playlist_key", playlistKey)
	}

	if remoteID != mapEntry.RemoteID {
		if err := r.store.UpsertPlaylistMap(ctx, store.PlaylistMapEntry{
			Provider: p.Name(), PlaylistName: playlistKey, RemoteID: remoteID, LastSyncedAt: r.nowFn().Unix(),
		}); err != nil {
			r.logger.Warn("reconcile: final map upsert failed", "error", err, "playlist_key", playlistKey)
		}
	}

	if err := r.store.MarkEventsSynced(ctx, c.ids); err != nil {
		return fmt.Errorf("reconcile: mark events synced: %w", err)
	}

	return nil
}

func (r *Reconciler) handleDelete(ctx context.Context, playlistKey string, p provider.Provider, remoteID string, ids []int64) error {
	if remoteID != "" {
		_, err := r.retryWithBackoff(ctx, func() error {
			return p.DeletePlaylist(ctx, remoteID)
		})
		if err != nil {
			r.logger.Error("reconcile: delete_playlist failed after retries", "error", err, "playlist_key", playlistKey)
		} else {
			r.logger.Info("reconcile: deleted remote playlist", "playlist_key", playlistKey, "provider", p.Name())
		}
	}

	if err := r.store.DeletePlaylistMap(ctx, p.Name(), playlistKey); err != nil {
		return fmt.Errorf("reconcile: delete playlist map: %w", err)
	}

	if err := r.store.MarkEventsSynced(ctx, ids); err != nil {
		return fmt.Errorf("reconcile: mark events synced after delete: %w", err)
	}

	return nil
}

func (r *Reconciler) ensurePlaylist(ctx context.Context, p provider.Provider, name string) (string, error) {
	tmpl := r.cfgHolder.Config().PlaylistDescriptionTemplate

	var desc string
	if tmpl != "" {
		desc = ExpandDescriptionTemplate(tmpl, name)
	}

	return p.EnsurePlaylist(ctx, name, desc)
}

// renameWithRecovery renames remoteID to newName, recreating the playlist
// via ensure_playlist (using fallbackName) when the provider reports the
// playlist missing, per SPEC_FULL.md §4.6 steps 9-10.
func (r *Reconciler) renameWithRecovery(ctx context.Context, p provider.Provider, remoteID, newName, fallbackName string) (string, error) {
	err := p.RenamePlaylist(ctx, remoteID, newName)
	if err == nil {
		return remoteID, nil
	}

	if !errors.Is(err, provider.ErrPlaylistMissing) {
		return remoteID, err
	}

	newID, ensureErr := r.ensurePlaylist(ctx, p, fallbackName)
	if ensureErr != nil {
		return remoteID, ensureErr
	}

	return newID, nil
}

// desiredSetDiff implements SPEC_FULL.md §4.6 step 11: read the local
// .m3u, resolve each entry, diff against the provider's current track
// list, and seed to_add/to_remove before appending the explicit
// event-derived track ops resolved separately.
func (r *Reconciler) desiredSetDiff(ctx context.Context, playlistKey string, p provider.Provider, remoteID string, eventAdds, eventRemoves []string) (adds, removes []string, err error) {
	folder := filepath.Join(r.tree.Root, filepath.FromSlash(playlistKey))

	playlistPath := playlist.LocalPath(folder, r.cfgHolder.Config().LocalPlaylistTemplate, lastSegment(playlistKey))

	localEntries, readErr := playlist.Read(playlistPath)
	if readErr != nil {
		eAdds, eRemoves := r.resolveTrackOps(ctx, p, eventAdds, eventRemoves)

		return eAdds, eRemoves, fmt.Errorf("reconcile: read local playlist: %w", readErr)
	}

	desired := make([]string, 0, len(localEntries))
	desiredSet := make(map[string]struct{}, len(localEntries))

	for _, local := range localEntries {
		uri, found, rerr := r.resolver.Resolve(ctx, p, local)
		if rerr != nil || !found {
			continue
		}

		if _, dup := desiredSet[uri]; dup {
			continue
		}

		desiredSet[uri] = struct{}{}
		desired = append(desired, uri)
	}

	current, err := p.ListPlaylistTracks(ctx, remoteID)
	if err != nil {
		eAdds, eRemoves := r.resolveTrackOps(ctx, p, eventAdds, eventRemoves)

		return eAdds, eRemoves, fmt.Errorf("reconcile: list_playlist_tracks: %w", err)
	}

	currentSet := make(map[string]struct{}, len(current))
	for _, uri := range current {
		currentSet[uri] = struct{}{}
	}

	for _, uri := range desired {
		if _, ok := currentSet[uri]; !ok {
			adds = append(adds, uri)
		}
	}

	for _, uri := range current {
		if _, ok := desiredSet[uri]; !ok {
			removes = append(removes, uri)
		}
	}

	eAdds, eRemoves := r.resolveTrackOps(ctx, p, eventAdds, eventRemoves)
	adds = append(adds, eAdds...)
	removes = append(removes, eRemoves...)

	return adds, removes, nil
}

func lastSegment(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}

	return key
}

func (r *Reconciler) resolveTrackOps(ctx context.Context, p provider.Provider, adds, removes []string) ([]string, []string) {
	addURIs := make([]string, 0, len(adds))

	for _, local := range adds {
		if uri, found, err := r.resolver.Resolve(ctx, p, local); err == nil && found {
			addURIs = append(addURIs, uri)
		} else if err != nil {
			r.logger.Warn("reconcile: resolve add failed", "error", err, "local_path", local)
		}
	}

	removeURIs := make([]string, 0, len(removes))

	for _, local := range removes {
		if uri, found, err := r.resolver.Resolve(ctx, p, local); err == nil && found {
			removeURIs = append(removeURIs, uri)
		} else if err != nil {
			r.logger.Warn("reconcile: resolve remove failed", "error", err, "local_path", local)
		}
	}

	return addURIs, removeURIs
}

// applyBatches is a thin wrapper over applyBatchesWithID for callers that
// don't need the possibly-recreated remote ID threaded further.
func (r *Reconciler) applyBatches(ctx context.Context, p provider.Provider, remoteID, displayName string, uris []string, isAdd bool) (string, error) {
	id := remoteID
	_, err := r.applyBatchesWithID(ctx, p, &id, "", displayName, uris, isAdd)

	return id, err
}

// applyBatchesWithID applies uris to remoteID in chunks of max_batch_size,
// retrying each chunk with backoff and recreating the playlist on a
// "missing" error, per SPEC_FULL.md §4.6 step 13. *remoteID is updated
// in place if the playlist is recreated mid-loop.
func (r *Reconciler) applyBatchesWithID(ctx context.Context, p provider.Provider, remoteID *string, playlistKey, displayName string, uris []string, isAdd bool) (string, error) {
	if len(uris) == 0 {
		return *remoteID, nil
	}

	cfg := r.cfgHolder.Config()

	batchSize := cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	for start := 0; start < len(uris); start += batchSize {
		end := min(start+batchSize, len(uris))
		chunk := uris[start:end]

		attempt := 0

		for {
			attempt++

			var callErr error
			if isAdd {
				callErr = p.AddTracks(ctx, *remoteID, chunk)
			} else {
				callErr = p.RemoveTracks(ctx, *remoteID, chunk)
			}

			if callErr == nil {
				break
			}

			if rl, ok := provider.AsRateLimited(callErr); ok {
				wait := rl.RetryAfter
				if wait <= 0 {
					wait = backoffDuration(attempt)
				} else {
					wait += time.Second
				}

				r.logger.Warn("reconcile: rate limited, sleeping", "wait", wait, "provider", p.Name())

				if err := r.sleepFn(ctx, wait); err != nil {
					return *remoteID, err
				}

				if attempt >= cfg.MaxRetriesOnError {
					r.logger.Error("reconcile: giving up after rate-limit retries", "attempts", attempt)

					break
				}

				continue
			}

			if errors.Is(callErr, provider.ErrPlaylistMissing) {
				newID, ensureErr := r.ensurePlaylist(ctx, p, displayName)
				if ensureErr != nil {
					return *remoteID, fmt.Errorf("reconcile: recreate missing playlist: %w", ensureErr)
				}

				*remoteID = newID
				attempt = 0

				continue
			}

			if errors.Is(callErr, provider.ErrPermanentNetwork) || errors.Is(callErr, provider.ErrMalformedResponse) {
				r.logger.Error("reconcile: giving up on batch, permanent error", "error", callErr, "provider", p.Name())

				return *remoteID, fmt.Errorf("reconcile: batch failed permanently: %w", callErr)
			}

			if attempt >= cfg.MaxRetriesOnError {
				return *remoteID, fmt.Errorf("reconcile: batch failed after %d attempts: %w", attempt, callErr)
			}

			wait := backoffDuration(attempt)
			r.logger.Warn("reconcile: batch error, retrying", "error", callErr, "attempt", attempt, "wait", wait)

			if err := r.sleepFn(ctx, wait); err != nil {
				return *remoteID, err
			}
		}
	}

	return *remoteID, nil
}

func (r *Reconciler) retryWithBackoff(ctx context.Context, fn func() error) (int, error) {
	attempt := 0
	maxRetries := r.cfgHolder.Config().MaxRetriesOnError

	for {
		attempt++

		err := fn()
		if err == nil {
			return attempt, nil
		}

		if attempt >= maxRetries {
			return attempt, err
		}

		if serr := r.sleepFn(ctx, backoffDuration(attempt)); serr != nil {
			return attempt, serr
		}
	}
}

const maxBackoff = 60 * time.Second

func backoffDuration(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}

	return d
}
