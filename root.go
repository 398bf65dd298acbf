package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/musicsync/internal/config"
	"github.com/tonimelisma/musicsync/internal/credential"
	"github.com/tonimelisma/musicsync/internal/provider"
	"github.com/tonimelisma/musicsync/internal/provider/spotify"
	"github.com/tonimelisma/musicsync/internal/provider/tidal"
	"github.com/tonimelisma/musicsync/internal/store"
	syncpkg "github.com/tonimelisma/musicsync/internal/sync"
	"github.com/tonimelisma/musicsync/internal/tags"
	"github.com/tonimelisma/musicsync/internal/tree"
	oauthspotify "golang.org/x/oauth2/spotify"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in setupRootCmd().
var (
	flagConfigPath string
	flagProvider   string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading themselves.
// auth loads config but skips the automatic resolution so it can run before
// root_folder is ever set.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles resolved config and logger. Created once in
// PersistentPreRunE; eliminates redundant buildLogger calls in RunE handlers.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Use in RunE handlers for commands that require config (no
// skipConfigAnnotation).
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation) or " +
			"explicitly loads config in its RunE")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "musicsync",
		Short:   "Sync local music folders to streaming-service playlists",
		Long:    "musicsync watches a local music library and mirrors its folder structure to Spotify and Tidal playlists.",
		Version: version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "restrict the command to one provider (spotify|tidal)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newWatcherCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newQueueStatusCmd())
	cmd.AddCommand(newQueueClearCmd())
	cmd.AddCommand(newDeletePlaylistsCmd())
	cmd.AddCommand(newReloadCmd())

	return cmd
}

// resolveConfig runs the four-layer override chain (defaults, file, env,
// CLI flags) once. Shared by loadConfig and the SIGHUP reload handler so
// both paths apply identical precedence rules.
func resolveConfig(logger *slog.Logger) (*config.Config, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	env := config.ReadEnvOverrides()

	return config.Resolve(env, cli, logger)
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in the command's context.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	resolved, err := resolveConfig(logger)
	if err != nil {
		return &exitCodeError{code: exitConfigInvalid, err: fmt.Errorf("loading config: %w", err)}
	}

	finalLogger := buildLogger(resolved)
	cc := &CLIContext{Cfg: resolved, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// loadConfigForAuth resolves config without validating root_folder, since
// auth is expected to run before a library root is ever configured.
func loadConfigForAuth(logger *slog.Logger) (*config.Config, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	cfgPath := config.ResolveConfigPath(config.ReadEnvOverrides(), cli, logger)

	cfg, err := config.LoadOrDefaultUnvalidated(cfgPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// openStoreForAuth opens the durable Store using the resolved config's
// data directory, without requiring the rest of config to validate.
func openStoreForAuth(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	return store.Open(ctx, storePath(cfg), logger)
}

// storePath resolves the SQLite store path for the active configuration.
// musicsync has no dedicated store_path config key (SPEC_FULL.md §6
// follows the teacher's platform-default data directory convention); the
// default is always used.
func storePath(_ *config.Config) string {
	return config.DefaultStorePath()
}

// buildLogger creates an slog.Logger from config and CLI flags. Pass nil
// for pre-config bootstrap. Config-file log level is the baseline;
// --verbose/--debug/--quiet override it because CLI flags always win
// (cobra enforces their mutual exclusivity).
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	format := "auto"
	var logFile string

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		if cfg.Logging.LogFormat != "" {
			format = cfg.Logging.LogFormat
		}

		logFile = cfg.Logging.LogFile
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	out := os.Stderr

	var w *os.File = out
	if logFile != "" {
		if f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			w = f
		}
	}

	if format == "auto" {
		if isatty.IsTerminal(w.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// exitConfigInvalid/exitRuntimeFailure are the exit codes specified in
// spec.md's CLI surface section (0 success, 1 runtime failure, 2 config
// invalid).
const (
	exitRuntimeFailure = 1
	exitConfigInvalid  = 2
)

// exitCodeError carries a specific process exit code through cobra's
// error-returning RunE chain up to main().
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

// exitOnError prints a user-friendly error message and exits with the
// appropriate code: 2 for a wrapped exitCodeError, 1 otherwise.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var ce *exitCodeError
	if as, ok := err.(*exitCodeError); ok {
		ce = as
	}

	if ce != nil {
		os.Exit(ce.code)
	}

	os.Exit(exitRuntimeFailure)
}

// buildProviders constructs a Provider for every provider with a stored
// credential, wiring each to a credential.TokenSource-wrapped OAuth2 token
// source (auto-refreshing via the same oauth2.Config shape used by auth).
// Providers with no credential are skipped with a warning, mirroring the
// Orchestrator's own tolerance for zero configured providers.
func buildProviders(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) []provider.Provider {
	var providers []provider.Provider

	for _, name := range []string{"spotify", "tidal"} {
		if !credential.IsAuthenticated(ctx, name, st) {
			logger.Warn("provider not authenticated, skipping", "provider", name)
			continue
		}

		tok, cred, err := credential.Load(ctx, name, st)
		if err != nil {
			logger.Warn("failed to load credential", "provider", name, "error", err)
			continue
		}

		base := providerOAuthConfig(name, cred).TokenSource(ctx, tok)
		ts := credential.NewTokenSource(name, st, base, logger)

		pc := cfg.Providers[name]

		switch name {
		case "spotify":
			providers = append(providers, spotify.New(defaultHTTPClient(), ts, logger, pc.AccountID))
		case "tidal":
			providers = append(providers, tidal.New(defaultHTTPClient(), ts, logger, pc.CountryCode))
		}
	}

	return providers
}

// providerOAuthConfig rebuilds the oauth2.Config used at auth time, so a
// refresh request carries the right client identity and token endpoint.
func providerOAuthConfig(name string, cred store.Credential) *oauth2.Config {
	switch name {
	case "spotify":
		return &oauth2.Config{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			Endpoint:     oauthspotify.Endpoint,
			Scopes:       spotifyScopes,
		}
	case "tidal":
		return &oauth2.Config{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			Endpoint:     tidalAuthEndpoint,
			Scopes:       tidalScopes,
		}
	default:
		return &oauth2.Config{}
	}
}

// httpClientTimeout bounds provider API calls.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

func newTree(cfg *config.Config) (*tree.Tree, error) {
	return tree.New(cfg.RootFolder, cfg.FolderWhitelist, cfg.FileExtensions)
}

func newResolver(st *store.Store, logger *slog.Logger) *syncpkg.Resolver {
	return syncpkg.NewResolver(st, tags.NewFileReader(), logger, func() int64 { return time.Now().UnixNano() })
}

func playlistNameRegexMatches(pattern, name string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}

	return re.MatchString(name), nil
}
