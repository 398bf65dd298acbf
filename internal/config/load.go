package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values taken from command-line flags, applied with
// the highest priority in the four-layer chain: defaults < file < env < CLI.
type CLIOverrides struct {
	ConfigPath string
	RootFolder string
}

// decodeFile reads and parses a TOML config file without validating it.
// Unknown keys are reported as fatal errors: any key the TOML decoder
// leaves undecoded fails the load.
func decodeFile(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config file %s: unknown key %q", path, undecoded[0].String())
	}

	logger.Debug("config file parsed successfully", "path", path, "root_folder", cfg.RootFolder)

	return cfg, nil
}

// Load reads, parses, and validates a TOML config file.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg, err := decodeFile(path, logger)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// LoadOrDefaultUnvalidated is LoadOrDefault without the Validate step, for
// callers like `auth` that must run before root_folder is ever configured.
func LoadOrDefaultUnvalidated(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return decodeFile(path, logger)
}

// Resolve applies the four-layer override chain (defaults < file < env <
// CLI) and returns the fully resolved, validated Config.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	cfgPath := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if env.RootFolder != "" {
		cfg.RootFolder = env.RootFolder
	}

	if cli.RootFolder != "" {
		cfg.RootFolder = cli.RootFolder
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}
