package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/musicsync/internal/store"
)

func TestCollapse_AddThenRemoveCancelsOut(t *testing.T) {
	events := []store.Event{
		{ID: 1, TimestampMS: 1, PlaylistName: "Rock", Action: store.ActionAdd, TrackPath: "a.mp3"},
		{ID: 2, TimestampMS: 2, PlaylistName: "Rock", Action: store.ActionRemove, TrackPath: "a.mp3"},
	}

	got := Collapse(events)
	assert.Empty(t, got)
}

func TestCollapse_RemoveThenAddCancelsOut(t *testing.T) {
	events := []store.Event{
		{ID: 1, TimestampMS: 1, PlaylistName: "Rock", Action: store.ActionRemove, TrackPath: "a.mp3"},
		{ID: 2, TimestampMS: 2, PlaylistName: "Rock", Action: store.ActionAdd, TrackPath: "a.mp3"},
	}

	got := Collapse(events)
	assert.Empty(t, got)
}

func TestCollapse_SurvivingAddBecomesOneSyntheticEvent(t *testing.T) {
	events := []store.Event{
		{ID: 1, TimestampMS: 1, PlaylistName: "Rock", Action: store.ActionAdd, TrackPath: "a.mp3"},
	}

	got := Collapse(events)
	assert.Equal(t, []store.Event{{PlaylistName: "Rock", Action: store.ActionAdd, TrackPath: "a.mp3"}}, got)
}

func TestCollapse_AddRemoveAddNetsToAdd(t *testing.T) {
	events := []store.Event{
		{ID: 1, TimestampMS: 1, PlaylistName: "Rock", Action: store.ActionAdd, TrackPath: "a.mp3"},
		{ID: 2, TimestampMS: 2, PlaylistName: "Rock", Action: store.ActionRemove, TrackPath: "a.mp3"},
		{ID: 3, TimestampMS: 3, PlaylistName: "Rock", Action: store.ActionAdd, TrackPath: "a.mp3"},
	}

	got := Collapse(events)
	require.Len(t, got, 1)
	assert.Equal(t, store.ActionAdd, got[0].Action)
}

func TestCollapse_CreateDeleteRenamePreservedInOrder(t *testing.T) {
	events := []store.Event{
		{ID: 1, TimestampMS: 1, PlaylistName: "Rock", Action: store.ActionCreate},
		{ID: 2, TimestampMS: 2, PlaylistName: "Rock", Action: store.ActionRename, Extra: `{"from":"Rock","to":"Classic"}`},
		{ID: 3, TimestampMS: 3, PlaylistName: "Rock", Action: store.ActionDelete},
	}

	got := Collapse(events)
	require.Len(t, got, 3)
	assert.Equal(t, store.ActionCreate, got[0].Action)
	assert.Equal(t, store.ActionRename, got[1].Action)
	assert.Equal(t, store.ActionDelete, got[2].Action)
}

func TestCollapse_PreservesFirstSeenOrderAmongMultipleTracks(t *testing.T) {
	events := []store.Event{
		{ID: 1, TimestampMS: 1, PlaylistName: "Rock", Action: store.ActionAdd, TrackPath: "b.mp3"},
		{ID: 2, TimestampMS: 2, PlaylistName: "Rock", Action: store.ActionAdd, TrackPath: "a.mp3"},
	}

	got := Collapse(events)
	require.Len(t, got, 2)
	assert.Equal(t, "b.mp3", got[0].TrackPath)
	assert.Equal(t, "a.mp3", got[1].TrackPath)
}

func TestCollapse_OtherOpsPrecedeTrackEvents(t *testing.T) {
	events := []store.Event{
		{ID: 1, TimestampMS: 1, PlaylistName: "Rock", Action: store.ActionAdd, TrackPath: "a.mp3"},
		{ID: 2, TimestampMS: 2, PlaylistName: "Rock", Action: store.ActionDelete},
	}

	got := Collapse(events)
	require.Len(t, got, 2)
	assert.Equal(t, store.ActionDelete, got[0].Action)
	assert.Equal(t, store.ActionAdd, got[1].Action)
}

func TestCollapse_EmptyInput(t *testing.T) {
	assert.Empty(t, Collapse(nil))
}
