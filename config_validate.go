package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/musicsync/internal/config"
)

// newConfigValidateCmd builds `config-validate`: loads and validates the
// effective config, printing every accumulated error (Validate joins all
// of them rather than stopping at the first) and exiting with code 2 if
// any are found.
func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-validate",
		Short: "Validate the effective configuration",
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger(nil)

			cli := config.CLIOverrides{ConfigPath: flagConfigPath}
			env := config.ReadEnvOverrides()

			cfg, err := config.Resolve(env, cli, logger)
			if err != nil {
				return &exitCodeError{code: exitConfigInvalid, err: err}
			}

			fmt.Printf("config OK: root_folder=%s playlist_mode=%s\n", cfg.RootFolder, cfg.PlaylistMode)

			return nil
		},
	}
}
