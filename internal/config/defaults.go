package config

// Default values for configuration options. These represent the "layer 0"
// of the override chain and are chosen to mirror original_source's own
// built-in defaults so an unconfigured run behaves the same way.
const (
	defaultFileExtension      = "mp3"
	defaultLocalTemplate      = "${folder_name}.m3u"
	defaultPlaylistMode       = "flat"
	defaultPlaylistOrderMode  = "append"
	defaultLinkedRefFormat    = "relative"
	defaultOnlineStructure    = "flat"
	defaultDebounceMS         = 2000
	defaultWorkerIntervalSec  = 30
	defaultNightlyReconcileAt = "03:00"
	defaultMaxRetriesOnError  = 5
	defaultMaxBatchSize       = 100
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultConnectTimeout     = "10s"
	defaultDataTimeout        = "30s"
)

// DefaultConfig returns a Config populated with all default values. Used
// both as the starting point for TOML decoding (so unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		FileExtensions:            []string{defaultFileExtension},
		LocalPlaylistTemplate:     defaultLocalTemplate,
		PlaylistMode:              defaultPlaylistMode,
		PlaylistOrderMode:         defaultPlaylistOrderMode,
		LinkedReferenceFormat:     defaultLinkedRefFormat,
		OnlinePlaylistStructure:   defaultOnlineStructure,
		DebounceMS:                defaultDebounceMS,
		WorkerIntervalSec:         defaultWorkerIntervalSec,
		NightlyReconcileAt:        defaultNightlyReconcileAt,
		MaxRetriesOnError:         defaultMaxRetriesOnError,
		MaxBatchSize:              defaultMaxBatchSize,
		Logging:                   defaultLoggingConfig(),
		Network:                   defaultNetworkConfig(),
		Providers:                 make(map[string]ProviderConfig),
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}
