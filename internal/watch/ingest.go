package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/musicsync/internal/store"
	"github.com/tonimelisma/musicsync/internal/tree"
)

const (
	watchErrInitBackoff     = 500 * time.Millisecond
	watchErrMaxBackoff      = 30 * time.Second
	watchErrBackoffMult     = 2
	renameCorrelationWindow = 2 * time.Second
)

// Store is the subset of store.Store Event Ingest needs.
type Store interface {
	EnqueueEvent(ctx context.Context, e store.Event) error
}

type pendingRename struct {
	from string
	at   time.Time
}

// Ingester watches the filesystem under a Tree's root and translates raw
// fsnotify notifications into durable queue events per SPEC_FULL.md §4.2,
// grounded on the teacher's LocalObserver.Watch/watchLoop/handleFsEvent.
// Unlike the teacher, which keys events by OneDrive item names and a
// hash-based baseline, Ingester classifies purely against the Tree Model:
// a node boundary means a folder-level op, anything else is a track op
// propagated up through every ancestor node.
type Ingester struct {
	tree      *tree.Tree
	store     Store
	debouncer *Debouncer
	factory   func() (FsWatcher, error)
	logger    *slog.Logger
	sleepFunc func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	pending *pendingRename
}

// NewIngester constructs an Ingester bound to t's root.
func NewIngester(t *tree.Tree, st Store, debouncer *Debouncer, logger *slog.Logger) *Ingester {
	return &Ingester{
		tree:      t,
		store:     st,
		debouncer: debouncer,
		factory:   newFsnotifyWatcher,
		logger:    logger,
		sleepFunc: defaultSleep,
	}
}

// Watch blocks until ctx is cancelled or the watcher reports the root no
// longer exists. It performs the initial recursive watch registration
// before entering the event loop.
func (ig *Ingester) Watch(ctx context.Context) error {
	watcher, err := ig.factory()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := ig.addWatchesRecursive(watcher, ig.tree.Root); err != nil {
		return fmt.Errorf("watch: initial scan: %w", err)
	}

	return ig.watchLoop(ctx, watcher)
}

func (ig *Ingester) addWatchesRecursive(watcher FsWatcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if tree.IsSMBTempPath(path) {
			return filepath.SkipDir
		}

		if addErr := watcher.Add(path); addErr != nil {
			ig.logger.Warn("watch: failed to add watch", "path", path, "error", addErr)
		}

		return nil
	})
}

func (ig *Ingester) watchLoop(ctx context.Context, watcher FsWatcher) error {
	backoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			ig.handleEvent(ctx, watcher, ev)
			backoff = watchErrInitBackoff

		case werr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			ig.logger.Warn("watch: watcher error", "error", werr, "backoff", backoff)

			if sleepErr := ig.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil
			}

			backoff *= watchErrBackoffMult
			if backoff > watchErrMaxBackoff {
				backoff = watchErrMaxBackoff
			}
		}
	}
}

func (ig *Ingester) handleEvent(ctx context.Context, watcher FsWatcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	if tree.IsSMBTempPath(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		ig.handleCreate(ctx, watcher, ev.Name)
	case ev.Has(fsnotify.Write):
		ig.handleWrite(ctx, ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		ig.handleRemove(ctx, watcher, ev.Name)
	}
}

func (ig *Ingester) handleCreate(ctx context.Context, watcher FsWatcher, path string) {
	info, err := os.Stat(path)
	if err != nil {
		ig.logger.Debug("watch: stat failed for created path", "path", path, "error", err)
		return
	}

	if info.IsDir() {
		ig.handleDirCreate(ctx, watcher, path)
		return
	}

	if !ig.tree.MatchesExtension(path) {
		return
	}

	folder, ok := ig.tree.FolderForPath(path)
	if !ok {
		return
	}

	ig.tree.AddTrack(folder, path)
	ig.propagateTrackEvent(ctx, folder, path, store.ActionAdd)
}

// handleDirCreate registers a watch on the new directory, checks whether
// it correlates with a recently-removed directory (a rename), and
// otherwise treats it as a fresh folder-level Create, scanning its
// contents for files that landed before the watch was registered.
func (ig *Ingester) handleDirCreate(ctx context.Context, watcher FsWatcher, path string) {
	if addErr := watcher.Add(path); addErr != nil {
		ig.logger.Warn("watch: failed to add watch on new directory", "path", path, "error", addErr)
	}

	if ig.maybeCorrelateRename(ctx, path) {
		return
	}

	ig.tree.EnsureNode(path)
	ig.emitFolderEvent(ctx, path, store.ActionCreate)
	ig.scanNewDirectory(ctx, watcher, path)
}

func (ig *Ingester) scanNewDirectory(ctx context.Context, watcher FsWatcher, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		ig.logger.Debug("watch: scan new directory failed", "path", dir, "error", err)
		return
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if tree.IsSMBTempPath(full) {
			continue
		}

		if entry.IsDir() {
			ig.handleDirCreate(ctx, watcher, full)
			continue
		}

		if !ig.tree.MatchesExtension(full) {
			continue
		}

		ig.tree.AddTrack(dir, full)
		ig.propagateTrackEvent(ctx, dir, full, store.ActionAdd)
	}
}

func (ig *Ingester) handleWrite(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	if !ig.tree.MatchesExtension(path) {
		return
	}

	folder, ok := ig.tree.FolderForPath(path)
	if !ok {
		return
	}

	ig.tree.AddTrack(folder, path)
	ig.propagateTrackEvent(ctx, folder, path, store.ActionAdd)
}

func (ig *Ingester) handleRemove(ctx context.Context, watcher FsWatcher, path string) {
	if ig.tree.NodeExists(path) {
		if rmErr := watcher.Remove(path); rmErr != nil {
			ig.logger.Debug("watch: remove watch for deleted directory", "path", path, "error", rmErr)
		}

		ig.tree.RemoveNode(path)
		ig.rememberPendingRename(path)
		ig.scheduleRenameTimeout(ctx, path)

		return
	}

	if !ig.tree.MatchesExtension(path) {
		return
	}

	folder, ok := ig.tree.FolderForPath(path)
	if !ok {
		return
	}

	ig.tree.RemoveTrack(folder, path)
	ig.propagateTrackEvent(ctx, folder, path, store.ActionRemove)
}

func (ig *Ingester) rememberPendingRename(path string) {
	ig.mu.Lock()
	defer ig.mu.Unlock()

	ig.pending = &pendingRename{from: path, at: time.Now()}
}

// scheduleRenameTimeout fires a folder-level Delete for path if no
// correlated directory Create arrives within renameCorrelationWindow.
// fsnotify delivers directory renames as a bare Remove/Rename on the old
// path followed by a separate Create on the new one; this correlates the
// two into the single PlaylistRename logical op SPEC_FULL.md §4.2
// describes for "notifications carrying two paths".
func (ig *Ingester) scheduleRenameTimeout(ctx context.Context, path string) {
	go func() {
		timer := time.NewTimer(renameCorrelationWindow)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		ig.mu.Lock()
		p := ig.pending
		if p != nil && p.from == path {
			ig.pending = nil
		} else {
			p = nil
		}
		ig.mu.Unlock()

		if p == nil {
			return
		}

		ig.emitFolderEvent(ctx, path, store.ActionDelete)
	}()
}

func (ig *Ingester) maybeCorrelateRename(ctx context.Context, newPath string) bool {
	ig.mu.Lock()
	p := ig.pending
	if p == nil || time.Since(p.at) > renameCorrelationWindow {
		ig.pending = nil
		ig.mu.Unlock()

		return false
	}
	ig.pending = nil
	ig.mu.Unlock()

	ig.tree.EnsureNode(newPath)

	fromRel, errFrom := ig.tree.RelativeKey(p.from)
	toRel, errTo := ig.tree.RelativeKey(newPath)
	if errFrom != nil || errTo != nil {
		ig.logger.Warn("watch: rename correlation: relative key failed", "from", p.from, "to", newPath)
		return true
	}

	extra, err := json.Marshal(store.RenameExtra{From: fromRel, To: toRel})
	if err != nil {
		ig.logger.Warn("watch: marshal rename extra failed", "error", err)
		return true
	}

	if err := ig.store.EnqueueEvent(ctx, store.Event{
		TimestampMS:  time.Now().UnixMilli(),
		PlaylistName: fromRel,
		Action:       store.ActionRename,
		Extra:        string(extra),
	}); err != nil {
		ig.logger.Warn("watch: enqueue rename event failed", "error", err, "from", fromRel, "to", toRel)
	}

	ig.debouncer.Schedule(newPath)

	return true
}

func (ig *Ingester) emitFolderEvent(ctx context.Context, folder string, action store.Action) {
	rel, err := ig.tree.RelativeKey(folder)
	if err != nil || rel == "." {
		return
	}

	if err := ig.store.EnqueueEvent(ctx, store.Event{
		TimestampMS:  time.Now().UnixMilli(),
		PlaylistName: rel,
		Action:       action,
	}); err != nil {
		ig.logger.Warn("watch: enqueue event failed", "error", err, "playlist_key", rel, "action", action)
	}

	if action == store.ActionCreate {
		ig.debouncer.Schedule(folder)
	}
}

// propagateTrackEvent enqueues a track-level event for folder and walks
// up through every ancestor that is itself a tree node, per SPEC_FULL.md
// §4.2's ancestor propagation rule, stopping at the tree's root.
func (ig *Ingester) propagateTrackEvent(ctx context.Context, folder, trackPath string, action store.Action) {
	for {
		rel, err := ig.tree.RelativeKey(folder)
		if err != nil {
			ig.logger.Warn("watch: relative key failed", "path", folder, "error", err)
			return
		}

		if rel != "." {
			if err := ig.store.EnqueueEvent(ctx, store.Event{
				TimestampMS:  time.Now().UnixMilli(),
				PlaylistName: rel,
				Action:       action,
				TrackPath:    trackPath,
			}); err != nil {
				ig.logger.Warn("watch: enqueue event failed", "error", err, "playlist_key", rel, "action", action, "track", trackPath)
			}

			ig.debouncer.Schedule(folder)
		}

		if folder == ig.tree.Root {
			return
		}

		parent := filepath.Dir(folder)
		if parent == folder || !ig.tree.NodeExists(parent) {
			return
		}

		folder = parent
	}
}
