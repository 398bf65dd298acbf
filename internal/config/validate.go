package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// Validation range constants.
const (
	minDebounceMS        = 50
	minWorkerIntervalSec = 1
	minMaxRetries        = 0
	minMaxBatchSize      = 1
	minConnectTimeout    = 1 * time.Second
	minDataTimeout       = 1 * time.Second
	nightlyPartCount     = 2
	maxNightlyHour       = 23
	maxNightlyMinute     = 59
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report in one pass (surfaced by the config-validate CLI
// command with exit code 2).
func Validate(cfg *Config) error {
	var errs []error

	if cfg.RootFolder == "" {
		errs = append(errs, errors.New("root_folder: must be set"))
	} else if !filepath.IsAbs(cfg.RootFolder) {
		errs = append(errs, fmt.Errorf("root_folder: must be absolute, got %q", cfg.RootFolder))
	}

	errs = append(errs, validateWhitelist(cfg.FolderWhitelist)...)
	errs = append(errs, validatePlaylistMode(cfg.PlaylistMode)...)
	errs = append(errs, validatePlaylistOrderMode(cfg.PlaylistOrderMode)...)
	errs = append(errs, validateLinkedReferenceFormat(cfg.LinkedReferenceFormat)...)
	errs = append(errs, validateOnlineStructure(cfg.OnlinePlaylistStructure)...)

	if cfg.DebounceMS < minDebounceMS {
		errs = append(errs, fmt.Errorf("debounce_ms: must be >= %d, got %d", minDebounceMS, cfg.DebounceMS))
	}

	if cfg.WorkerIntervalSec < minWorkerIntervalSec {
		errs = append(errs, fmt.Errorf("worker_interval_sec: must be >= %d, got %d", minWorkerIntervalSec, cfg.WorkerIntervalSec))
	}

	if cfg.MaxRetriesOnError < minMaxRetries {
		errs = append(errs, fmt.Errorf("max_retries_on_error: must be >= %d, got %d", minMaxRetries, cfg.MaxRetriesOnError))
	}

	if cfg.MaxBatchSize < minMaxBatchSize {
		errs = append(errs, fmt.Errorf("max_batch_size: must be >= %d, got %d", minMaxBatchSize, cfg.MaxBatchSize))
	}

	errs = append(errs, validateNightlyAt(cfg.NightlyReconcileAt)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateWhitelist(patterns []string) []error {
	var errs []error

	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("folder_whitelist: invalid regex %q: %w", p, err))
		}
	}

	return errs
}

func validatePlaylistMode(mode string) []error {
	if mode != "flat" && mode != "linked" {
		return []error{fmt.Errorf("playlist_mode: must be \"flat\" or \"linked\", got %q", mode)}
	}

	return nil
}

func validatePlaylistOrderMode(mode string) []error {
	if mode != "append" && mode != "sync_order" {
		return []error{fmt.Errorf("playlist_order_mode: must be \"append\" or \"sync_order\", got %q", mode)}
	}

	return nil
}

func validateLinkedReferenceFormat(format string) []error {
	if format != "relative" && format != "absolute" {
		return []error{fmt.Errorf("linked_reference_format: must be \"relative\" or \"absolute\", got %q", format)}
	}

	return nil
}

func validateOnlineStructure(structure string) []error {
	if structure != "flat" && structure != "folders" {
		return []error{fmt.Errorf("online_playlist_structure: must be \"flat\" or \"folders\", got %q", structure)}
	}

	return nil
}

func validateNightlyAt(s string) []error {
	var h, m int

	if n, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil || n != nightlyPartCount {
		return []error{fmt.Errorf("nightly_reconcile_cron: invalid time %q: expected HH:MM", s)}
	}

	if h < 0 || h > maxNightlyHour || m < 0 || m > maxNightlyMinute {
		return []error{fmt.Errorf("nightly_reconcile_cron: out of range %q", s)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
