package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/musicsync/internal/store"
)

func TestNewDeletePlaylistsCmd_Structure(t *testing.T) {
	cmd := newDeletePlaylistsCmd()
	assert.Equal(t, "delete-playlists", cmd.Use)

	require.NotNil(t, cmd.Flags().Lookup("name-regex"))
	require.NotNil(t, cmd.Flags().Lookup("dry-run"))
}

func TestRunDeletePlaylists_RequiresProviderFlag(t *testing.T) {
	cmd := newDeletePlaylistsCmd()
	newTestCLICommand(t, cmd)

	prevProvider := flagProvider
	flagProvider = ""
	defer func() { flagProvider = prevProvider }()

	err := runDeletePlaylists(cmd, "^Rock", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--provider is required")
}

func TestRunDeletePlaylists_DryRunListsWithoutDeleting(t *testing.T) {
	cmd := newDeletePlaylistsCmd()
	st := newTestCLICommand(t, cmd)

	prevProvider := flagProvider
	flagProvider = "spotify"
	defer func() { flagProvider = prevProvider }()

	ctx := context.Background()
	require.NoError(t, st.UpsertPlaylistMap(ctx, store.PlaylistMapEntry{
		Provider: "spotify", PlaylistName: "Rock", RemoteID: "remote-1",
	}))

	require.NoError(t, runDeletePlaylists(cmd, "^Rock", true))

	entries, err := st.ListPlaylistMapByProvider(ctx, "spotify")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "dry-run must not remove the mapping row")
}

func TestRunDeletePlaylists_InvalidRegexReturnsError(t *testing.T) {
	cmd := newDeletePlaylistsCmd()
	st := newTestCLICommand(t, cmd)

	prevProvider := flagProvider
	flagProvider = "spotify"
	defer func() { flagProvider = prevProvider }()

	ctx := context.Background()
	require.NoError(t, st.UpsertPlaylistMap(ctx, store.PlaylistMapEntry{
		Provider: "spotify", PlaylistName: "Rock", RemoteID: "remote-1",
	}))

	err := runDeletePlaylists(cmd, "(unterminated", true)
	require.Error(t, err)
}

func TestRunDeletePlaylists_NonDryRunWithoutAuthenticatedProviderErrors(t *testing.T) {
	cmd := newDeletePlaylistsCmd()
	st := newTestCLICommand(t, cmd)

	prevProvider := flagProvider
	flagProvider = "spotify"
	defer func() { flagProvider = prevProvider }()

	ctx := context.Background()
	require.NoError(t, st.UpsertPlaylistMap(ctx, store.PlaylistMapEntry{
		Provider: "spotify", PlaylistName: "Rock", RemoteID: "remote-1",
	}))

	err := runDeletePlaylists(cmd, "^Rock", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}
