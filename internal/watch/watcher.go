// Package watch implements Event Ingest and the Debouncer described in
// SPEC_FULL.md §4.2/§4.3, grounded on the teacher's
// internal/sync/observer_local.go (the FsWatcher interface, the
// watcherFactory injection seam, non-blocking error backoff) adapted to
// the Tree Model's folder/track domain instead of OneDrive item IDs.
package watch

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FsWatcher abstracts github.com/fsnotify/fsnotify so tests can inject a
// fake without touching the real filesystem, mirroring the teacher's
// FsWatcher seam in internal/sync/observer_local.go.
type FsWatcher interface {
	Add(path string) error
	Remove(path string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (f *fsnotifyWrapper) Add(path string) error        { return f.w.Add(path) }
func (f *fsnotifyWrapper) Remove(path string) error      { return f.w.Remove(path) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWrapper{w: w}, nil
}

// defaultSleep is context-aware so a cancelled watch loop does not block
// out the configured error backoff.
func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
