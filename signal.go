package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonimelisma/musicsync/internal/config"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. This gives the engine time to drain in-flight
// actions on first signal, while allowing the user to force-quit if something
// hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		// Wait for second signal — force exit.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// watchReload traps SIGHUP and, on each receipt, re-resolves config and
// pushes the new value into holder so in-flight components pick it up on
// their next read. Runs until ctx is cancelled. Per SPEC_FULL.md's process
// lifecycle requirement, a long-running daemon reloads on SIGHUP rather
// than restarting.
func watchReload(ctx context.Context, holder *config.Holder, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				cfg, err := resolveConfig(logger)
				if err != nil {
					logger.Error("reload: config invalid, keeping previous config", "error", err)
					continue
				}

				holder.Update(cfg)
				logger.Info("reload: applied new configuration", "root", cfg.RootFolder)
			}
		}
	}()
}
