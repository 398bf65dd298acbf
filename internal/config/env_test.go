package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv("MUSICSYNC_CONFIG", "/custom/config.toml")
	t.Setenv("MUSICSYNC_ROOT", "/music")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", overrides.ConfigPath)
	assert.Equal(t, "/music", overrides.RootFolder)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv("MUSICSYNC_CONFIG", "")
	t.Setenv("MUSICSYNC_ROOT", "")

	overrides := ReadEnvOverrides()
	assert.Empty(t, overrides.ConfigPath)
	assert.Empty(t, overrides.RootFolder)
}

func TestReadEnvOverrides_PartiallySet(t *testing.T) {
	t.Setenv("MUSICSYNC_CONFIG", "")
	t.Setenv("MUSICSYNC_ROOT", "/music/library")

	overrides := ReadEnvOverrides()
	assert.Empty(t, overrides.ConfigPath)
	assert.Equal(t, "/music/library", overrides.RootFolder)
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "MUSICSYNC_CONFIG", EnvConfig)
	assert.Equal(t, "MUSICSYNC_ROOT", EnvRoot)
}
