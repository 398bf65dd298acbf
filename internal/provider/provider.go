package provider

import "context"

// Provider is the capability set the Reconciler requires from a concrete
// streaming service. Implementations hide wire protocol, authentication
// refresh, and rate-limit signalling behind this interface; the
// Reconciler never imports a concrete provider package directly.
type Provider interface {
	// Name returns the provider's short identifier ("spotify", "tidal"),
	// used as the key in playlist_map and track_cache rows.
	Name() string

	// SupportsFolderNesting reports whether the provider's playlist
	// hierarchy can express nested folders. Tidal declares false.
	SupportsFolderNesting() bool

	EnsurePlaylist(ctx context.Context, name, description string) (remoteID string, err error)
	RenamePlaylist(ctx context.Context, remoteID, newName string) error
	DeletePlaylist(ctx context.Context, remoteID string) error
	PlaylistIsValid(ctx context.Context, remoteID string) (bool, error)

	AddTracks(ctx context.Context, remoteID string, uris []string) error
	RemoveTracks(ctx context.Context, remoteID string, uris []string) error
	ListPlaylistTracks(ctx context.Context, remoteID string) ([]string, error)

	Search(ctx context.Context, title, artist string) (uri string, found bool, err error)
	SearchByISRC(ctx context.Context, isrc string) (uri string, found bool, err error)
	LookupISRC(ctx context.Context, uri string) (isrc string, found bool, err error)
}

// DefaultSearchByISRC is the shared fallback for providers that do not
// implement native ISRC search: per SPEC_FULL.md §9, ISRC lookup is
// attempted for every provider, and providers without support simply
// report not-found instead of erroring.
func DefaultSearchByISRC(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

// DefaultLookupISRC is the shared fallback for providers that cannot map
// a track URI back to an ISRC.
func DefaultLookupISRC(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

// DefaultPlaylistIsValid is the shared fallback for providers whose
// playlists, once created, cannot independently disappear out from under
// the ID (e.g. no public "delete from app" gesture distinct from the API
// the daemon itself uses).
func DefaultPlaylistIsValid(_ context.Context, _ string) (bool, error) {
	return true, nil
}
