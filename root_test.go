package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/musicsync/internal/config"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{
		"auth", "config-validate", "watcher", "worker", "reconcile",
		"queue-status", "queue-clear", "delete-playlists", "reload",
	} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "provider", "json", "verbose", "debug", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q", name)
	}
}

func TestNewRootCmd_AuthAndConfigValidateSkipConfig(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"auth", "config-validate"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, "true", sub.Annotations[skipConfigAnnotation], "expected %q to skip config", name)
	}
}

func TestNewRootCmd_WatcherDoesNotSkipConfig(t *testing.T) {
	cmd := newRootCmd()

	sub, _, err := cmd.Find([]string{"watcher"})
	require.NoError(t, err)
	assert.Empty(t, sub.Annotations[skipConfigAnnotation])
}

func TestCliContextFrom_ReturnsNilWhenMissing(t *testing.T) {
	assert.Nil(t, cliContextFrom(context.Background()))
}

func TestCliContextFrom_ReturnsStoredContext(t *testing.T) {
	cc := &CLIContext{Cfg: config.DefaultConfig(), Logger: slog.Default()}
	ctx := context.WithValue(context.Background(), cliContextKey{}, cc)

	got := cliContextFrom(ctx)
	require.NotNil(t, got)
	assert.Same(t, cc, got)
}

func TestMustCLIContext_PanicsWhenMissing(t *testing.T) {
	assert.Panics(t, func() {
		mustCLIContext(context.Background())
	})
}

func TestMustCLIContext_ReturnsStoredContext(t *testing.T) {
	cc := &CLIContext{Cfg: config.DefaultConfig(), Logger: slog.Default()}
	ctx := context.WithValue(context.Background(), cliContextKey{}, cc)

	assert.Same(t, cc, mustCLIContext(ctx))
}

func TestBuildLogger_NilConfigDefaultsToWarn(t *testing.T) {
	prevV, prevD, prevQ := flagVerbose, flagDebug, flagQuiet
	flagVerbose, flagDebug, flagQuiet = false, false, false
	defer func() { flagVerbose, flagDebug, flagQuiet = prevV, prevD, prevQ }()

	logger := buildLogger(nil)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestBuildLogger_ConfigLevelIsBaseline(t *testing.T) {
	prevV, prevD, prevQ := flagVerbose, flagDebug, flagQuiet
	flagVerbose, flagDebug, flagQuiet = false, false, false
	defer func() { flagVerbose, flagDebug, flagQuiet = prevV, prevD, prevQ }()

	cfg := config.DefaultConfig()
	cfg.Logging.LogLevel = "debug"

	logger := buildLogger(cfg)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_VerboseFlagOverridesConfig(t *testing.T) {
	prevV, prevD, prevQ := flagVerbose, flagDebug, flagQuiet
	flagVerbose, flagDebug, flagQuiet = true, false, false
	defer func() { flagVerbose, flagDebug, flagQuiet = prevV, prevD, prevQ }()

	cfg := config.DefaultConfig()
	cfg.Logging.LogLevel = "error"

	logger := buildLogger(cfg)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_QuietFlagRaisesLevelToError(t *testing.T) {
	prevV, prevD, prevQ := flagVerbose, flagDebug, flagQuiet
	flagVerbose, flagDebug, flagQuiet = false, false, true
	defer func() { flagVerbose, flagDebug, flagQuiet = prevV, prevD, prevQ }()

	cfg := config.DefaultConfig()
	cfg.Logging.LogLevel = "debug"

	logger := buildLogger(cfg)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestBuildLogger_DebugFlagOverridesQuietConfig(t *testing.T) {
	prevV, prevD, prevQ := flagVerbose, flagDebug, flagQuiet
	flagVerbose, flagDebug, flagQuiet = false, true, false
	defer func() { flagVerbose, flagDebug, flagQuiet = prevV, prevD, prevQ }()

	cfg := config.DefaultConfig()
	cfg.Logging.LogLevel = "error"

	logger := buildLogger(cfg)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestResolveConfig_UsesEnvOverrideWhenNoCLIFlag(t *testing.T) {
	prevFlag := flagConfigPath
	flagConfigPath = ""
	defer func() { flagConfigPath = prevFlag }()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "musicsync.toml")
	root := filepath.Join(dir, "music")

	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(cfgPath, []byte(`root_folder = "`+root+`"`+"\n"), 0o644))

	t.Setenv(config.EnvConfig, cfgPath)

	cfg, err := resolveConfig(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	require.NoError(t, err)
	assert.Equal(t, root, cfg.RootFolder)
}

func TestResolveConfig_CLIFlagWinsOverEnv(t *testing.T) {
	prevFlag := flagConfigPath
	defer func() { flagConfigPath = prevFlag }()

	dir := t.TempDir()
	envCfgPath := filepath.Join(dir, "env.toml")
	cliCfgPath := filepath.Join(dir, "cli.toml")
	envRoot := filepath.Join(dir, "env-music")
	cliRoot := filepath.Join(dir, "cli-music")

	require.NoError(t, os.MkdirAll(envRoot, 0o755))
	require.NoError(t, os.MkdirAll(cliRoot, 0o755))
	require.NoError(t, os.WriteFile(envCfgPath, []byte(`root_folder = "`+envRoot+`"`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(cliCfgPath, []byte(`root_folder = "`+cliRoot+`"`+"\n"), 0o644))

	t.Setenv(config.EnvConfig, envCfgPath)
	flagConfigPath = cliCfgPath

	cfg, err := resolveConfig(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	require.NoError(t, err)
	assert.Equal(t, cliRoot, cfg.RootFolder)
}

func TestStorePath_ReturnsPlatformDefault(t *testing.T) {
	assert.Equal(t, config.DefaultStorePath(), storePath(config.DefaultConfig()))
}

func TestPlaylistNameRegexMatches_MatchesAndNonMatches(t *testing.T) {
	ok, err := playlistNameRegexMatches(`^Rock`, "Rock Classics")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = playlistNameRegexMatches(`^Rock`, "Jazz Classics")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlaylistNameRegexMatches_InvalidPatternReturnsError(t *testing.T) {
	_, err := playlistNameRegexMatches(`(unterminated`, "anything")
	require.Error(t, err)
}

func TestExitCodeError_UnwrapsToInnerError(t *testing.T) {
	inner := os.ErrNotExist
	e := &exitCodeError{code: exitConfigInvalid, err: inner}

	assert.Equal(t, inner.Error(), e.Error())
	assert.ErrorIs(t, e, inner)
}
