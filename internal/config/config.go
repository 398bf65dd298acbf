// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for musicsync.
package config

// Config is the top-level configuration structure for the sync daemon.
// Every field has a built-in default (see defaults.go); only root_folder
// is required.
type Config struct {
	RootFolder string `toml:"root_folder"`

	FolderWhitelist []string `toml:"folder_whitelist"`
	FileExtensions  []string `toml:"file_extensions"`

	LocalPlaylistTemplate          string `toml:"local_playlist_template"`
	RemotePlaylistTemplate         string `toml:"remote_playlist_template"`
	RemotePlaylistTemplateFlat     string `toml:"remote_playlist_template_flat"`
	RemotePlaylistTemplateFolders  string `toml:"remote_playlist_template_folders"`
	PlaylistDescriptionTemplate    string `toml:"playlist_description_template"`
	PlaylistMode                   string `toml:"playlist_mode"`            // "flat" | "linked"
	PlaylistOrderMode              string `toml:"playlist_order_mode"`      // "append" | "sync_order"
	LinkedReferenceFormat          string `toml:"linked_reference_format"`  // "relative" | "absolute"
	OnlineRootPlaylist             string `toml:"online_root_playlist"`
	OnlinePlaylistStructure        string `toml:"online_playlist_structure"` // "flat" | "folders"
	OnlineFolderFlatteningDelimiter string `toml:"online_folder_flattening_delimiter"`

	DebounceMS               int    `toml:"debounce_ms"`
	WorkerIntervalSec        int    `toml:"worker_interval_sec"`
	NightlyReconcileAt       string `toml:"nightly_reconcile_cron"`
	QueueLengthStopThreshold int    `toml:"queue_length_stop_threshold"`
	MaxRetriesOnError        int    `toml:"max_retries_on_error"`
	MaxBatchSize             int    `toml:"max_batch_size"`

	Logging   LoggingConfig             `toml:"logging"`
	Network   NetworkConfig             `toml:"network"`
	Providers map[string]ProviderConfig `toml:"provider"`
}

// ProviderConfig holds per-provider OAuth client identity and credential
// storage location. Keyed by provider name ("spotify", "tidal") in the
// [provider.<name>] TOML table.
type ProviderConfig struct {
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	CredentialPath string `toml:"credential_path"`

	// AccountID is the Spotify user ID playlists are created under. Unused
	// by Tidal.
	AccountID string `toml:"account_id"`
	// CountryCode is the ISO 3166-1 alpha-2 market Tidal API calls are
	// scoped to. Unused by Spotify.
	CountryCode string `toml:"country_code"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior for provider API calls.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}
