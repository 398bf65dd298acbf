package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/musicsync/internal/store"
	syncpkg "github.com/tonimelisma/musicsync/internal/sync"
)

// newReconcileCmd builds `reconcile`: a one-shot run of the Nightly
// Reconcile pass (SPEC_FULL.md §4.8), useful for catching up after the
// watcher was down or for manual recovery.
func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the Tree Model and rewrite every local playlist once",
		RunE:  runReconcile,
	}
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	st, err := store.Open(ctx, storePath(cc.Cfg), cc.Logger)
	if err != nil {
		return fmt.Errorf("reconcile: opening store: %w", err)
	}
	defer st.Close()

	tr, err := newTree(cc.Cfg)
	if err != nil {
		return fmt.Errorf("reconcile: building tree: %w", err)
	}

	if err := syncpkg.RunNightlyReconcile(ctx, tr, cc.Cfg, st, cc.Logger); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	fmt.Println("reconcile complete")

	return nil
}
