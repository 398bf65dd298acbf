package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenSource struct{}

func (fakeTokenSource) Token(context.Context) (string, error) { return "tok", nil }

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	c := New(srv.Client(), fakeTokenSource{}, nil, "user-1")
	c.http.BaseURL = srv.URL

	return c
}

func TestName_ReturnsSpotify(t *testing.T) {
	c := New(nil, fakeTokenSource{}, nil, "user-1")
	assert.Equal(t, "spotify", c.Name())
}

func TestSupportsFolderNesting_True(t *testing.T) {
	c := New(nil, fakeTokenSource{}, nil, "user-1")
	assert.True(t, c.SupportsFolderNesting())
}

func TestEnsurePlaylist_PostsToUserPlaylistsAndReturnsID(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Rock", body["name"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"spotify-playlist-1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	id, err := c.EnsurePlaylist(context.Background(), "Rock", "desc")
	require.NoError(t, err)
	assert.Equal(t, "spotify-playlist-1", id)
	assert.Equal(t, "/users/user-1/playlists", gotPath)
}

func TestPlaylistIsValid_NotFoundReturnsFalseNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	valid, err := c.PlaylistIsValid(context.Background(), "missing-id")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestPlaylistIsValid_FoundReturnsTrue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	valid, err := c.PlaylistIsValid(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestListPlaylistTracks_FollowsPaginationAndDedupes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)

		if strings.Contains(r.URL.RawQuery, "limit=100") && !strings.Contains(r.URL.Path, "page2") {
			_, _ = w.Write([]byte(`{"items":[{"track":{"uri":"spotify:track:1"}}],"next":"https://api.spotify.com/v1/playlists/x/tracks/page2"}`))

			return
		}

		_, _ = w.Write([]byte(`{"items":[{"track":{"uri":"spotify:track:1"}},{"track":{"uri":"spotify:track:2"}}],"next":""}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	uris, err := c.ListPlaylistTracks(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"spotify:track:1", "spotify:track:2"}, uris)
}

func TestAddTracks_EmptyIsNoop(t *testing.T) {
	called := false

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	require.NoError(t, c.AddTracks(context.Background(), "x", nil))
	assert.False(t, called)
}

func TestSearch_BuildsTrackAndArtistQuery(t *testing.T) {
	var gotQuery string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"tracks":{"items":[{"uri":"spotify:track:found"}]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	uri, found, err := c.Search(context.Background(), "Let It Be", "The Beatles")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "spotify:track:found", uri)
	assert.Equal(t, "track:Let It Be artist:The Beatles", gotQuery)
}

func TestSearch_NoResultsReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"tracks":{"items":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, found, err := c.Search(context.Background(), "Unknown", "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSearchByISRC_BuildsISRCQuery(t *testing.T) {
	var gotQuery string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"tracks":{"items":[{"uri":"spotify:track:isrc"}]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	uri, found, err := c.SearchByISRC(context.Background(), "USRC17607839")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "spotify:track:isrc", uri)
	assert.Equal(t, "isrc:USRC17607839", gotQuery)
}

func TestLookupISRC_ExtractsTrailingIDAndReturnsISRC(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"external_ids":{"isrc":"USRC17607839"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	isrc, found, err := c.LookupISRC(context.Background(), "spotify:track:abc123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "USRC17607839", isrc)
	assert.Equal(t, "/tracks/abc123", gotPath)
}

func TestLookupISRC_EmptyISRCReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"external_ids":{"isrc":""}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, found, err := c.LookupISRC(context.Background(), "spotify:track:abc123")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRelativeNextPath_ExtractsPathAfterV1(t *testing.T) {
	assert.Equal(t, "/playlists/x/tracks/page2", relativeNextPath("https://api.spotify.com/v1/playlists/x/tracks/page2"))
	assert.Empty(t, relativeNextPath(""))
}

func TestEnsurePlaylist_PathEscapesUserID(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), fakeTokenSource{}, nil, "user name")
	c.http.BaseURL = srv.URL

	_, err := c.EnsurePlaylist(context.Background(), "Rock", "")
	require.NoError(t, err)
	assert.Equal(t, "/users/"+url.PathEscape("user name")+"/playlists", gotPath)
}
