// Package spotify implements the provider.Provider capability set against
// the Spotify Web API. Spotify supports nested playlist folders in its
// desktop client UI but not through the public API, so folder nesting is
// still declared supported here per SPEC_FULL.md's naming rules — only
// Tidal opts out.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/musicsync/internal/provider"
)

// BaseURL is the production Spotify Web API endpoint.
const BaseURL = "https://api.spotify.com/v1"

// Client implements provider.Provider against the Spotify Web API.
type Client struct {
	http   *provider.HTTPClient
	userID string
}

// New constructs a Spotify provider client. userID is the Spotify user ID
// playlists are created under (the spotify provider's configured
// account_id).
func New(httpClient *http.Client, token provider.TokenSource, logger *slog.Logger, userID string) *Client {
	return &Client{
		http:   provider.NewHTTPClient("spotify", BaseURL, httpClient, token, logger),
		userID: userID,
	}
}

func (c *Client) Name() string { return "spotify" }

func (c *Client) SupportsFolderNesting() bool { return true }

type playlistResponse struct {
	ID string `json:"id"`
}

func (c *Client) EnsurePlaylist(ctx context.Context, name, description string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"name":        name,
		"description": description,
		"public":      false,
	})
	if err != nil {
		return "", fmt.Errorf("spotify: encoding create-playlist body: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, "/users/"+url.PathEscape(c.userID)+"/playlists", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var pr playlistResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", &provider.APIError{Provider: "spotify", Message: err.Error(), Err: provider.ErrMalformedResponse}
	}

	return pr.ID, nil
}

func (c *Client) RenamePlaylist(ctx context.Context, remoteID, newName string) error {
	body, err := json.Marshal(map[string]any{"name": newName})
	if err != nil {
		return fmt.Errorf("spotify: encoding rename body: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPut, "/playlists/"+url.PathEscape(remoteID), strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

func (c *Client) DeletePlaylist(ctx context.Context, remoteID string) error {
	// Spotify has no hard delete; "unfollow" is the closest analogue.
	resp, err := c.http.Do(ctx, http.MethodDelete, "/playlists/"+url.PathEscape(remoteID)+"/followers", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

func (c *Client) PlaylistIsValid(ctx context.Context, remoteID string) (bool, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, "/playlists/"+url.PathEscape(remoteID)+"?fields=id", nil)
	if err != nil {
		if apiErr, ok := err.(*provider.APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}

		return false, err
	}
	defer resp.Body.Close()

	return true, nil
}

type trackItemsResponse struct {
	Items []struct {
		Track struct {
			URI string `json:"uri"`
		} `json:"track"`
	} `json:"items"`
	Next string `json:"next"`
}

func (c *Client) ListPlaylistTracks(ctx context.Context, remoteID string) ([]string, error) {
	var uris []string

	path := "/playlists/" + url.PathEscape(remoteID) + "/tracks?fields=items(track(uri)),next&limit=100"

	for path != "" {
		resp, err := c.http.Do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}

		var tr trackItemsResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			resp.Body.Close()

			return nil, &provider.APIError{Provider: "spotify", Message: err.Error(), Err: provider.ErrMalformedResponse}
		}

		resp.Body.Close()

		for _, item := range tr.Items {
			if item.Track.URI != "" {
				uris = append(uris, item.Track.URI)
			}
		}

		path = relativeNextPath(tr.Next)
	}

	return dedupe(uris), nil
}

func relativeNextPath(next string) string {
	if next == "" {
		return ""
	}

	if i := strings.Index(next, "/v1"); i >= 0 {
		return next[i+len("/v1"):]
	}

	return ""
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))

	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true

			out = append(out, v)
		}
	}

	return out
}

func (c *Client) AddTracks(ctx context.Context, remoteID string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]any{"uris": uris})
	if err != nil {
		return fmt.Errorf("spotify: encoding add-tracks body: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, "/playlists/"+url.PathEscape(remoteID)+"/tracks", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

func (c *Client) RemoveTracks(ctx context.Context, remoteID string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}

	tracks := make([]map[string]string, len(uris))
	for i, u := range uris {
		tracks[i] = map[string]string{"uri": u}
	}

	body, err := json.Marshal(map[string]any{"tracks": tracks})
	if err != nil {
		return fmt.Errorf("spotify: encoding remove-tracks body: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodDelete, "/playlists/"+url.PathEscape(remoteID)+"/tracks", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

type searchResponse struct {
	Tracks struct {
		Items []struct {
			URI string `json:"uri"`
		} `json:"items"`
	} `json:"tracks"`
}

func (c *Client) Search(ctx context.Context, title, artist string) (string, bool, error) {
	q := "track:" + title
	if artist != "" {
		q += " artist:" + artist
	}

	return c.search(ctx, q)
}

func (c *Client) SearchByISRC(ctx context.Context, isrc string) (string, bool, error) {
	return c.search(ctx, "isrc:"+isrc)
}

func (c *Client) search(ctx context.Context, q string) (string, bool, error) {
	path := "/search?type=track&limit=1&q=" + url.QueryEscape(q)

	resp, err := c.http.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", false, &provider.APIError{Provider: "spotify", Message: err.Error(), Err: provider.ErrMalformedResponse}
	}

	if len(sr.Tracks.Items) == 0 {
		return "", false, nil
	}

	return sr.Tracks.Items[0].URI, true, nil
}

func (c *Client) LookupISRC(ctx context.Context, trackURI string) (string, bool, error) {
	id := trackURI
	if i := strings.LastIndex(trackURI, ":"); i >= 0 {
		id = trackURI[i+1:]
	}

	resp, err := c.http.Do(ctx, http.MethodGet, "/tracks/"+url.PathEscape(id)+"?fields=external_ids.isrc", nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	var tr struct {
		ExternalIDs struct {
			ISRC string `json:"isrc"`
		} `json:"external_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", false, &provider.APIError{Provider: "spotify", Message: err.Error(), Err: provider.ErrMalformedResponse}
	}

	if tr.ExternalIDs.ISRC == "" {
		return "", false, nil
	}

	return tr.ExternalIDs.ISRC, true, nil
}

var _ provider.Provider = (*Client)(nil)
