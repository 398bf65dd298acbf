// Package sync implements the Collapser, Resolver, Reconciler, remote
// naming, Nightly Reconcile, and Worker Orchestrator described in
// SPEC_FULL.md §4.4–§4.8, grounded on original_source/src/collapse.rs and
// src/worker.rs.
package sync

import "github.com/tonimelisma/musicsync/internal/store"

// Collapse reduces an ordered batch of events for a single playlist into
// a minimal set, per SPEC_FULL.md §4.4. Create, Delete, and Rename events
// are preserved in their original relative order; Add/Remove pairs for the
// same track cancel, and any surviving per-track state becomes one
// synthetic event appended after the preserved ops.
//
// events must already be sorted ascending by (timestamp, id); Collapse
// does not re-sort.
func Collapse(events []store.Event) []store.Event {
	trackState := make(map[string]store.Action)
	order := make([]string, 0, len(events)) // first-seen order of surviving track paths
	seen := make(map[string]struct{})
	var otherOps []store.Event

	for _, ev := range events {
		switch ev.Action {
		case store.ActionAdd:
			if prev, ok := trackState[ev.TrackPath]; ok && prev == store.ActionRemove {
				delete(trackState, ev.TrackPath)
				continue
			}

			trackState[ev.TrackPath] = store.ActionAdd
			rememberOrder(&order, seen, ev.TrackPath)
		case store.ActionRemove:
			if prev, ok := trackState[ev.TrackPath]; ok && prev == store.ActionAdd {
				delete(trackState, ev.TrackPath)
				continue
			}

			trackState[ev.TrackPath] = store.ActionRemove
			rememberOrder(&order, seen, ev.TrackPath)
		case store.ActionCreate, store.ActionDelete, store.ActionRename:
			otherOps = append(otherOps, ev)
		}
	}

	out := make([]store.Event, 0, len(otherOps)+len(trackState))
	out = append(out, otherOps...)

	for _, path := range order {
		action, ok := trackState[path]
		if !ok {
			continue // cancelled
		}

		out = append(out, store.Event{
			PlaylistName: playlistNameOf(events),
			Action:       action,
			TrackPath:    path,
		})
	}

	return out
}

func rememberOrder(order *[]string, seen map[string]struct{}, path string) {
	if _, ok := seen[path]; ok {
		return
	}

	seen[path] = struct{}{}
	*order = append(*order, path)
}

func playlistNameOf(events []store.Event) string {
	if len(events) == 0 {
		return ""
	}

	return events[0].PlaylistName
}
