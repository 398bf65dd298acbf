// Package providertest implements an in-memory provider.Provider used by
// Reconciler and Resolver tests, grounded on original_source's
// api/mock.rs: deterministic fake IDs, configurable failures, no network.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tonimelisma/musicsync/internal/provider"
)

// Mock is a fully in-memory provider.Provider. Tests configure its
// behavior by mutating exported fields before invoking the code under
// test, then assert against the Calls log and playlist state.
type Mock struct {
	mu sync.Mutex

	NameValue       string
	FolderNesting   bool
	NextPlaylistID  int
	Playlists       map[string][]string // remoteID -> track URIs, insertion order
	Deleted         map[string]bool
	ISRCIndex       map[string]string // isrc -> uri
	MetadataIndex   map[string]string // "artist|title" -> uri
	ISRCByURI       map[string]string

	// FailNotFoundOnce, when true, makes the next AddTracks/RenamePlaylist
	// call on an existing playlist fail with ErrPlaylistMissing and then
	// resets to false, modeling a provider-side deletion mid-session.
	FailNotFoundOnce bool

	// RateLimitOnce, when > 0, makes the next AddTracks call return a
	// RateLimitedError with that RetryAfter and then resets to zero.
	RateLimitOnce int

	// FailPermanentOnce, when true, makes the next AddTracks call fail with ErrPermanentNetwork and then resets to false, modeling
	// a non-retryable 4xx from the provider.
	FailPermanentOnce bool

	Calls []string
}

// New constructs a Mock for the given provider name.
func New(name string, folderNesting bool) *Mock {
	return &Mock{
		NameValue:     name,
		FolderNesting: folderNesting,
		Playlists:     make(map[string][]string),
		Deleted:       make(map[string]bool),
		ISRCIndex:     make(map[string]string),
		MetadataIndex: make(map[string]string),
		ISRCByURI:     make(map[string]string),
	}
}

func (m *Mock) record(call string) {
	m.Calls = append(m.Calls, call)
}

func (m *Mock) Name() string { return m.NameValue }

func (m *Mock) SupportsFolderNesting() bool { return m.FolderNesting }

func (m *Mock) EnsurePlaylist(_ context.Context, name, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.NextPlaylistID++
	id := fmt.Sprintf("mock-playlist-%d-%s", m.NextPlaylistID, name)
	m.Playlists[id] = nil
	delete(m.Deleted, id)
	m.record("ensure_playlist:" + name)

	return id, nil
}

func (m *Mock) RenamePlaylist(_ context.Context, remoteID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("rename_playlist:" + remoteID)

	if m.FailNotFoundOnce {
		m.FailNotFoundOnce = false

		return provider.ErrPlaylistMissing
	}

	if _, ok := m.Playlists[remoteID]; !ok {
		return provider.ErrPlaylistMissing
	}

	return nil
}

func (m *Mock) DeletePlaylist(_ context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Playlists, remoteID)
	m.Deleted[remoteID] = true
	m.record("delete_playlist:" + remoteID)

	return nil
}

func (m *Mock) PlaylistIsValid(_ context.Context, remoteID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.Playlists[remoteID]

	return ok, nil
}

func (m *Mock) ListPlaylistTracks(_ context.Context, remoteID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks, ok := m.Playlists[remoteID]
	if !ok {
		return nil, provider.ErrPlaylistMissing
	}

	out := make([]string, len(tracks))
	copy(out, tracks)

	return out, nil
}

func (m *Mock) AddTracks(_ context.Context, remoteID string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(fmt.Sprintf("add_tracks:%s:%d", remoteID, len(uris)))

	if m.RateLimitOnce > 0 {
		ra := m.RateLimitOnce
		m.RateLimitOnce = 0

		return &provider.RateLimitedError{Provider: m.NameValue, RetryAfter: time.Duration(ra) * time.Second}
	}

	if m.FailNotFoundOnce {
		m.FailNotFoundOnce = false

		return provider.ErrPlaylistMissing
	}

	if m.FailPermanentOnce {
		m.FailPermanentOnce = false

		return &provider.APIError{Provider: m.NameValue, StatusCode: 400, Message: "malformed batch", Err: provider.ErrPermanentNetwork}
	}

	existing, ok := m.Playlists[remoteID]
	if !ok {
		return provider.ErrPlaylistMissing
	}

	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}

	for _, u := range uris {
		if !seen[u] {
			existing = append(existing, u)
			seen[u] = true
		}
	}

	m.Playlists[remoteID] = existing

	return nil
}

func (m *Mock) RemoveTracks(_ context.Context, remoteID string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(fmt.Sprintf("remove_tracks:%s:%d", remoteID, len(uris)))

	existing, ok := m.Playlists[remoteID]
	if !ok {
		return provider.ErrPlaylistMissing
	}

	remove := make(map[string]bool, len(uris))
	for _, u := range uris {
		remove[u] = true
	}

	filtered := existing[:0:0]
	for _, t := range existing {
		if !remove[t] {
			filtered = append(filtered, t)
		}
	}

	m.Playlists[remoteID] = filtered

	return nil
}

func (m *Mock) Search(_ context.Context, title, artist string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("search:" + artist + "|" + title)

	uri, ok := m.MetadataIndex[artist+"|"+title]
	if !ok {
		return "", false, nil
	}

	return uri, true, nil
}

func (m *Mock) SearchByISRC(_ context.Context, isrc string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("search_by_isrc:" + isrc)

	uri, ok := m.ISRCIndex[isrc]
	if !ok {
		return "", false, nil
	}

	return uri, true, nil
}

func (m *Mock) LookupISRC(_ context.Context, uri string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	isrc, ok := m.ISRCByURI[uri]

	return isrc, ok, nil
}

var _ provider.Provider = (*Mock)(nil)
