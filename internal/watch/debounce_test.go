package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/musicsync/internal/config"
	"github.com/tonimelisma/musicsync/internal/store"
	"github.com/tonimelisma/musicsync/internal/tree"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.DebounceMS = 10
	cfg.PlaylistMode = "flat"
	cfg.FileExtensions = []string{"mp3"}
	cfg.LocalPlaylistTemplate = "${folder_name}.m3u"

	return cfg
}

func TestDebouncer_FiresAfterDeadlineAndWritesPlaylist(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	albumDir := filepath.Join(root, "Artist", "Album")
	require.NoError(t, os.MkdirAll(albumDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(albumDir, "song.mp3"), []byte("x"), 0o644))

	tr, err := tree.New(root, nil, []string{"mp3"})
	require.NoError(t, err)
	require.NoError(t, tr.Build())

	st := &fakeStore{}
	holder := config.NewHolder(testConfig(), "")

	d := NewDebouncer(tr, holder, st, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Run(ctx)

	d.Schedule(albumDir)

	require.Eventually(t, func() bool {
		return len(eventsForKey(st.snapshot(), "Artist/Album")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	events := eventsForKey(st.snapshot(), "Artist/Album")
	require.Equal(t, store.ActionCreate, events[0].Action)

	_, statErr := os.Stat(filepath.Join(albumDir, "Album.m3u"))
	require.NoError(t, statErr)
}

func TestDebouncer_SweepCollapsesRepeatedSchedules(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "Folder")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	tr, err := tree.New(root, nil, []string{"mp3"})
	require.NoError(t, err)
	require.NoError(t, tr.Build())

	st := &fakeStore{}
	cfg := testConfig()
	cfg.DebounceMS = 500
	holder := config.NewHolder(cfg, "")

	d := NewDebouncer(tr, holder, st, testLogger())

	d.Schedule(dir)
	d.Schedule(dir)
	d.Schedule(dir)

	d.sweep(context.Background())
	require.Empty(t, st.snapshot())

	d.nowFn = func() time.Time { return time.Now().Add(time.Second) }
	d.sweep(context.Background())

	events := eventsForKey(st.snapshot(), "Folder")
	require.Len(t, events, 1)
}
