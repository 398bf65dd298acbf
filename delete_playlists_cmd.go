package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/musicsync/internal/provider"
	"github.com/tonimelisma/musicsync/internal/store"
)

// newDeletePlaylistsCmd builds `delete-playlists --provider --name-regex
// [--dry-run]`: deletes every remote playlist tracked in playlist_map for
// the given provider whose name matches the regex, removing the mapping
// row on success. playlist_map is the only durable record of what remote
// playlists the daemon created, since no Provider capability lists them.
func newDeletePlaylistsCmd() *cobra.Command {
	var nameRegex string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "delete-playlists",
		Short: "Delete remote playlists matching a name pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeletePlaylists(cmd, nameRegex, dryRun)
		},
	}

	cmd.Flags().StringVar(&nameRegex, "name-regex", "", "regex matched against tracked playlist names (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list matching playlists without deleting them")
	cmd.MarkFlagRequired("name-regex")

	return cmd
}

func runDeletePlaylists(cmd *cobra.Command, nameRegex string, dryRun bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if flagProvider == "" {
		return fmt.Errorf("delete-playlists: --provider is required")
	}

	st, err := store.Open(ctx, storePath(cc.Cfg), cc.Logger)
	if err != nil {
		return fmt.Errorf("delete-playlists: opening store: %w", err)
	}
	defer st.Close()

	entries, err := st.ListPlaylistMapByProvider(ctx, flagProvider)
	if err != nil {
		return fmt.Errorf("delete-playlists: %w", err)
	}

	var target provider.Provider
	if !dryRun {
		for _, p := range buildProviders(ctx, cc.Cfg, st, cc.Logger) {
			if p.Name() == flagProvider {
				target = p
				break
			}
		}

		if target == nil {
			return fmt.Errorf("delete-playlists: provider %q is not authenticated", flagProvider)
		}
	}

	for _, e := range entries {
		matched, err := playlistNameRegexMatches(nameRegex, e.PlaylistName)
		if err != nil {
			return fmt.Errorf("delete-playlists: %w", err)
		}

		if !matched {
			continue
		}

		if dryRun {
			fmt.Printf("would delete: %s (%s)\n", e.PlaylistName, e.RemoteID)
			continue
		}

		if err := target.DeletePlaylist(ctx, e.RemoteID); err != nil {
			cc.Logger.Error("delete-playlists: provider delete failed", "error", err, "playlist", e.PlaylistName)
			continue
		}

		if err := st.DeletePlaylistMap(ctx, flagProvider, e.PlaylistName); err != nil {
			cc.Logger.Error("delete-playlists: removing map entry failed", "error", err, "playlist", e.PlaylistName)
			continue
		}

		fmt.Printf("deleted: %s\n", e.PlaylistName)
	}

	return nil
}
