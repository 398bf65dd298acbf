package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/musicsync/internal/config"
)

func TestPidPath_LivesUnderDataDir(t *testing.T) {
	assert.Equal(t, filepath.Join(config.DefaultDataDir(), "watcher.pid"), pidPath())
}

func TestNewWatcherCmd_Structure(t *testing.T) {
	cmd := newWatcherCmd()
	assert.Equal(t, "watcher", cmd.Use)
	assert.Empty(t, cmd.Annotations[skipConfigAnnotation])
	assert.NotNil(t, cmd.RunE)
}
