package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSearchByISRC_AlwaysNotFound(t *testing.T) {
	uri, found, err := DefaultSearchByISRC(context.Background(), "USRC17607839")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, uri)
}

func TestDefaultLookupISRC_AlwaysNotFound(t *testing.T) {
	isrc, found, err := DefaultLookupISRC(context.Background(), "spotify:track:abc")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, isrc)
}

func TestDefaultPlaylistIsValid_AlwaysTrue(t *testing.T) {
	valid, err := DefaultPlaylistIsValid(context.Background(), "some-id")
	require.NoError(t, err)
	assert.True(t, valid)
}
