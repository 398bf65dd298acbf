package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
root_folder = "/music/library"
folder_whitelist = ["^[A-Za-z]"]
file_extensions = ["mp3", "flac"]

local_playlist_template = "${folder_name}.m3u"
playlist_mode = "linked"
playlist_order_mode = "sync_order"
linked_reference_format = "absolute"
online_playlist_structure = "folders"

debounce_ms = 3000
worker_interval_sec = 60
nightly_reconcile_cron = "04:15"
queue_length_stop_threshold = 500
max_retries_on_error = 3
max_batch_size = 50

[logging]
log_level = "debug"
log_file = "/tmp/musicsync.log"
log_format = "json"

[network]
connect_timeout = "5s"
data_timeout = "15s"
user_agent = "musicsync/test"

[provider.spotify]
client_id = "spotify-id"
client_secret = "spotify-secret"
account_id = "spotify-user"

[provider.tidal]
client_id = "tidal-id"
client_secret = "tidal-secret"
country_code = "US"
`

	path := writeTestConfig(t, tomlContent)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "/music/library", cfg.RootFolder)
	assert.Equal(t, []string{"^[A-Za-z]"}, cfg.FolderWhitelist)
	assert.Equal(t, []string{"mp3", "flac"}, cfg.FileExtensions)
	assert.Equal(t, "linked", cfg.PlaylistMode)
	assert.Equal(t, "sync_order", cfg.PlaylistOrderMode)
	assert.Equal(t, "absolute", cfg.LinkedReferenceFormat)
	assert.Equal(t, "folders", cfg.OnlinePlaylistStructure)
	assert.Equal(t, 3000, cfg.DebounceMS)
	assert.Equal(t, 60, cfg.WorkerIntervalSec)
	assert.Equal(t, "04:15", cfg.NightlyReconcileAt)
	assert.Equal(t, 500, cfg.QueueLengthStopThreshold)
	assert.Equal(t, 3, cfg.MaxRetriesOnError)
	assert.Equal(t, 50, cfg.MaxBatchSize)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, "5s", cfg.Network.ConnectTimeout)

	require.Contains(t, cfg.Providers, "spotify")
	assert.Equal(t, "spotify-id", cfg.Providers["spotify"].ClientID)
	assert.Equal(t, "spotify-user", cfg.Providers["spotify"].AccountID)

	require.Contains(t, cfg.Providers, "tidal")
	assert.Equal(t, "US", cfg.Providers["tidal"].CountryCode)
}

func TestLoad_MinimalConfig_UsesDefaults(t *testing.T) {
	path := writeTestConfig(t, `root_folder = "/music"`)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "/music", cfg.RootFolder)
	assert.Equal(t, defaultLocalTemplate, cfg.LocalPlaylistTemplate)
	assert.Equal(t, defaultPlaylistMode, cfg.PlaylistMode)
	assert.Equal(t, defaultDebounceMS, cfg.DebounceMS)
	assert.Equal(t, []string{defaultFileExtension}, cfg.FileExtensions)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeTestConfig(t, `root_folder = [unterminated`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeTestConfig(t, "root_folder = \"/music\"\nbogus_key = true\n")
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus_key")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.toml", testLogger(t))
	require.Error(t, err)
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeTestConfig(t, `root_folder = "relative/path"`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestLoadOrDefault_FileExists(t *testing.T) {
	path := writeTestConfig(t, `root_folder = "/music"`)
	cfg, err := LoadOrDefault(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "/music", cfg.RootFolder)
}

func TestLoadOrDefault_FileNotFound(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"), testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOrDefaultUnvalidated_SkipsValidation(t *testing.T) {
	// root_folder is empty, which would fail Validate, but auth must be able
	// to run before a library root is ever configured.
	path := writeTestConfig(t, `debounce_ms = 2500`)
	cfg, err := LoadOrDefaultUnvalidated(path, testLogger(t))
	require.NoError(t, err)
	assert.Empty(t, cfg.RootFolder)
	assert.Equal(t, 2500, cfg.DebounceMS)
}

func TestLoadOrDefaultUnvalidated_FileNotFound(t *testing.T) {
	cfg, err := LoadOrDefaultUnvalidated(filepath.Join(t.TempDir(), "missing.toml"), testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOrDefaultUnvalidated_StillRejectsMalformedTOML(t *testing.T) {
	path := writeTestConfig(t, `root_folder = [unterminated`)
	_, err := LoadOrDefaultUnvalidated(path, testLogger(t))
	require.Error(t, err)
}

func TestResolve_AppliesEnvAndCLIOverridesInPriorityOrder(t *testing.T) {
	path := writeTestConfig(t, `root_folder = "/from-file"`)

	cfg, err := Resolve(EnvOverrides{RootFolder: "/from-env"}, CLIOverrides{ConfigPath: path}, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "/from-env", cfg.RootFolder)

	cfg, err = Resolve(
		EnvOverrides{RootFolder: "/from-env"},
		CLIOverrides{ConfigPath: path, RootFolder: "/from-cli"},
		testLogger(t),
	)
	require.NoError(t, err)
	assert.Equal(t, "/from-cli", cfg.RootFolder)
}

func TestResolve_ValidatesFinalConfig(t *testing.T) {
	path := writeTestConfig(t, `root_folder = "/valid"`)

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path, RootFolder: "relative"}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")
}

func TestResolveConfigPath_PriorityOrder(t *testing.T) {
	logger := testLogger(t)

	assert.Equal(t, DefaultConfigPath(), ResolveConfigPath(EnvOverrides{}, CLIOverrides{}, logger))
	assert.Equal(t, "/env/path.toml", ResolveConfigPath(EnvOverrides{ConfigPath: "/env/path.toml"}, CLIOverrides{}, logger))
	assert.Equal(t, "/cli/path.toml", ResolveConfigPath(
		EnvOverrides{ConfigPath: "/env/path.toml"},
		CLIOverrides{ConfigPath: "/cli/path.toml"},
		logger,
	))
}
