package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/musicsync/internal/store"
)

// newQueueStatusCmd builds `queue-status`: reports the total unsynced
// event count and the distinct playlist keys awaiting processing.
func newQueueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue-status",
		Short: "Show pending event queue depth",
		RunE:  runQueueStatus,
	}
}

func runQueueStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	st, err := store.Open(ctx, storePath(cc.Cfg), cc.Logger)
	if err != nil {
		return fmt.Errorf("queue-status: opening store: %w", err)
	}
	defer st.Close()

	total, err := st.TotalUnsyncedCount(ctx)
	if err != nil {
		return fmt.Errorf("queue-status: %w", err)
	}

	keys, err := st.UnsyncedPlaylistKeys(ctx)
	if err != nil {
		return fmt.Errorf("queue-status: %w", err)
	}

	fmt.Printf("pending events: %d across %d playlists\n", total, len(keys))

	for _, k := range keys {
		fmt.Printf("  %s\n", k)
	}

	return nil
}

// newQueueClearCmd builds `queue-clear`: drops every unsynced event,
// leaving durable playlist-map/track-cache state untouched. Intended as
// a recovery tool when a provider's state has diverged beyond what
// replaying the queue can reconcile — the next nightly reconcile
// re-derives a consistent queue from the filesystem.
func newQueueClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue-clear",
		Short: "Discard all unsynced events",
		RunE:  runQueueClear,
	}
}

func runQueueClear(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	st, err := store.Open(ctx, storePath(cc.Cfg), cc.Logger)
	if err != nil {
		return fmt.Errorf("queue-clear: opening store: %w", err)
	}
	defer st.Close()

	n, err := st.ClearAllUnsyncedEvents(ctx)
	if err != nil {
		return fmt.Errorf("queue-clear: %w", err)
	}

	fmt.Printf("cleared %d unsynced events\n", n)

	return nil
}
