package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSleep_ReturnsNilAfterDuration(t *testing.T) {
	start := time.Now()
	err := defaultSleep(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestDefaultSleep_ReturnsContextErrorWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := defaultSleep(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewFsnotifyWatcher_AddRemoveAndClose(t *testing.T) {
	w, err := newFsnotifyWatcher()
	require.NoError(t, err)
	defer w.Close()

	dir := t.TempDir()
	require.NoError(t, w.Add(dir))
	require.NoError(t, w.Remove(dir))

	assert.NotNil(t, w.Events())
	assert.NotNil(t, w.Errors())
}
