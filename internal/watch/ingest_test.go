package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/musicsync/internal/store"
	"github.com/tonimelisma/musicsync/internal/tree"
)

type fakeWatcher struct {
	mu      sync.Mutex
	added   []string
	removed []string
	events  chan fsnotify.Event
	errs    chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan fsnotify.Event, 64),
		errs:   make(chan error, 4),
	}
}

func (f *fakeWatcher) Add(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.added = append(f.added, path)

	return nil
}

func (f *fakeWatcher) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, path)

	return nil
}

func (f *fakeWatcher) Close() error                  { return nil }
func (f *fakeWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error          { return f.errs }

type fakeStore struct {
	mu     sync.Mutex
	events []store.Event
}

func (s *fakeStore) EnqueueEvent(_ context.Context, e store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)

	return nil
}

func (s *fakeStore) snapshot() []store.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Event, len(s.events))
	copy(out, s.events)

	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestIngester(t *testing.T, root string) (*Ingester, *fakeStore) {
	t.Helper()

	tr, err := tree.New(root, nil, []string{"mp3"})
	require.NoError(t, err)
	require.NoError(t, tr.Build())

	st := &fakeStore{}
	deb := &Debouncer{due: make(map[string]time.Time), nowFn: time.Now}

	ig := NewIngester(tr, st, deb, testLogger())

	return ig, st
}

func eventsForKey(events []store.Event, key string) []store.Event {
	var out []store.Event

	for _, e := range events {
		if e.PlaylistName == key {
			out = append(out, e)
		}
	}

	return out
}

func TestHandleCreate_TrackPropagatesToAncestors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Artist", "Album"), 0o755))

	ig, st := newTestIngester(t, root)
	require.NoError(t, ig.tree.Build())

	trackPath := filepath.Join(root, "Artist", "Album", "song.mp3")
	require.NoError(t, os.WriteFile(trackPath, []byte("data"), 0o644))

	watcher := newFakeWatcher()
	ig.handleCreate(context.Background(), watcher, trackPath)

	events := st.snapshot()

	require.NotEmpty(t, eventsForKey(events, "Artist/Album"))
	require.NotEmpty(t, eventsForKey(events, "Artist"))

	for _, e := range eventsForKey(events, "Artist/Album") {
		require.Equal(t, store.ActionAdd, e.Action)
		require.Equal(t, trackPath, e.TrackPath)
	}
}

func TestHandleRemove_Track(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	albumDir := filepath.Join(root, "Artist", "Album")
	require.NoError(t, os.MkdirAll(albumDir, 0o755))

	trackPath := filepath.Join(albumDir, "song.mp3")
	require.NoError(t, os.WriteFile(trackPath, []byte("data"), 0o644))

	ig, st := newTestIngester(t, root)
	require.NoError(t, ig.tree.Build())

	require.NoError(t, os.Remove(trackPath))

	watcher := newFakeWatcher()
	ig.handleRemove(context.Background(), watcher, trackPath)

	events := eventsForKey(st.snapshot(), "Artist/Album")
	require.NotEmpty(t, events)
	require.Equal(t, store.ActionRemove, events[0].Action)
}

func TestHandleCreate_NewDirectoryEmitsCreate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	ig, st := newTestIngester(t, root)

	newDir := filepath.Join(root, "NewArtist")
	require.NoError(t, os.MkdirAll(newDir, 0o755))

	watcher := newFakeWatcher()
	ig.handleCreate(context.Background(), watcher, newDir)

	events := eventsForKey(st.snapshot(), "NewArtist")
	require.NotEmpty(t, events)
	require.Equal(t, store.ActionCreate, events[0].Action)
	require.True(t, ig.tree.NodeExists(newDir))
}

func TestRenameCorrelation_DirectoryRenameEmitsSingleRenameEvent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	oldDir := filepath.Join(root, "OldName")
	require.NoError(t, os.MkdirAll(oldDir, 0o755))

	ig, st := newTestIngester(t, root)
	require.NoError(t, ig.tree.Build())
	require.True(t, ig.tree.NodeExists(oldDir))

	newDir := filepath.Join(root, "NewName")
	require.NoError(t, os.Rename(oldDir, newDir))

	watcher := newFakeWatcher()
	ig.handleRemove(context.Background(), watcher, oldDir)
	ig.handleCreate(context.Background(), watcher, newDir)

	events := eventsForKey(st.snapshot(), "OldName")
	require.Len(t, events, 1)
	require.Equal(t, store.ActionRename, events[0].Action)

	var extra store.RenameExtra
	require.NoError(t, json.Unmarshal([]byte(events[0].Extra), &extra))
	require.Equal(t, "OldName", extra.From)
	require.Equal(t, "NewName", extra.To)

	require.False(t, ig.tree.NodeExists(oldDir))
	require.True(t, ig.tree.NodeExists(newDir))
}

func TestHandleRemove_DirectoryWithoutFollowupCreateEventuallyDeletes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "Gone")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	ig, st := newTestIngester(t, root)
	require.NoError(t, ig.tree.Build())

	require.NoError(t, os.RemoveAll(dir))

	watcher := newFakeWatcher()
	ig.handleRemove(context.Background(), watcher, dir)

	require.Eventually(t, func() bool {
		return len(eventsForKey(st.snapshot(), "Gone")) > 0
	}, renameCorrelationWindow+time.Second, 20*time.Millisecond)

	events := eventsForKey(st.snapshot(), "Gone")
	require.Equal(t, store.ActionDelete, events[0].Action)
}

func TestIsSMBTempPathSkipsEntirely(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ig, st := newTestIngester(t, root)

	watcher := newFakeWatcher()
	ig.handleEvent(context.Background(), watcher, fsnotify.Event{
		Name: filepath.Join(root, ".::TMPNAME:1234"),
		Op:   fsnotify.Create,
	})

	require.Empty(t, st.snapshot())
}
