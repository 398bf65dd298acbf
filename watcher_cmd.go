package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/musicsync/internal/config"
	"github.com/tonimelisma/musicsync/internal/store"
	"github.com/tonimelisma/musicsync/internal/watch"
)

// pidPath returns the daemon PID file path, used to prevent concurrent
// `watcher` invocations and to target SIGHUP reloads.
func pidPath() string {
	return filepath.Join(config.DefaultDataDir(), "watcher.pid")
}

// newWatcherCmd builds `watcher`: the long-running Event Ingest + Debouncer
// process (SPEC_FULL.md §4.2/§4.3). A single instance is enforced via a
// flock'd PID file, mirroring the teacher's sync --watch daemon guard.
func newWatcherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watcher",
		Short: "Watch the library root and write local playlists on change",
		RunE:  runWatcher,
	}
}

func runWatcher(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cleanup, err := writePIDFile(pidPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	cfgHolder := config.NewHolder(cc.Cfg, flagConfigPath)
	watchReload(ctx, cfgHolder, cc.Logger)

	st, err := store.Open(ctx, storePath(cc.Cfg), cc.Logger)
	if err != nil {
		return fmt.Errorf("watcher: opening store: %w", err)
	}
	defer st.Close()

	tr, err := newTree(cc.Cfg)
	if err != nil {
		return fmt.Errorf("watcher: building tree: %w", err)
	}

	if err := tr.Build(); err != nil {
		return fmt.Errorf("watcher: scanning root: %w", err)
	}

	deb := watch.NewDebouncer(tr, cfgHolder, st, cc.Logger)
	go deb.Run(ctx)

	ing := watch.NewIngester(tr, st, deb, cc.Logger)

	cc.Logger.Info("watcher: starting", "root", cc.Cfg.RootFolder)

	if err := ing.Watch(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("watcher: %w", err)
	}

	cc.Logger.Info("watcher: shut down")

	return nil
}
