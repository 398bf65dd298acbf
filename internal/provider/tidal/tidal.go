// Package tidal implements the provider.Provider capability set against
// the Tidal API. Tidal's playlist model is flat — there is no folder
// concept in the public API — so this is the one provider that declares
// SupportsFolderNesting false, forcing flat remote naming per
// SPEC_FULL.md §4.7 regardless of the configured online_playlist_structure.
package tidal

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

// BaseURL is the production Tidal OpenAPI endpoint.
const BaseURL = "https://openapi.tidal.com/v2"

// Client implements provider.Provider against the Tidal API.
type Client struct {
	http        *provider.HTTPClient
	countryCode string
}

// New constructs a Tidal provider client. countryCode is the ISO 3166-1
// alpha-2 market code Tidal requires on most endpoints.
func New(httpClient *http.Client, token provider.TokenSource, logger *slog.Logger, countryCode string) *Client {
	return &Client{
		http:        provider.NewHTTPClient("tidal", BaseURL, httpClient, token, logger),
		countryCode: countryCode,
	}
}

func (c *Client) Name() string { return "tidal" }

func (c *Client) SupportsFolderNesting() bool { return false }

type tidalPlaylistResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Client) EnsurePlaylist(ctx context.Context, name, description string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"type": "playlists",
			"attributes": map[string]any{
				"name":        name,
				"description": description,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("tidal: encoding create-playlist body: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, "/playlists?countryCode="+url.QueryEscape(c.countryCode), strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var pr tidalPlaylistResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", &provider.APIError{Provider: "tidal", Message: err.Error(), Err: provider.ErrMalformedResponse}
	}

	return pr.Data.ID, nil
}

func (c *Client) RenamePlaylist(ctx context.Context, remoteID, newName string) error {
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"id":         remoteID,
			"type":       "playlists",
			"attributes": map[string]any{"name": newName},
		},
	})
	if err != nil {
		return fmt.Errorf("tidal: encoding rename body: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPatch, "/playlists/"+url.PathEscape(remoteID)+"?countryCode="+url.QueryEscape(c.countryCode), strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

func (c *Client) DeletePlaylist(ctx context.Context, remoteID string) error {
	resp, err := c.http.Do(ctx, http.MethodDelete, "/playlists/"+url.PathEscape(remoteID)+"?countryCode="+url.QueryEscape(c.countryCode), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

func (c *Client) PlaylistIsValid(ctx context.Context, remoteID string) (bool, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, "/playlists/"+url.PathEscape(remoteID)+"?countryCode="+url.QueryEscape(c.countryCode), nil)
	if err != nil {
		if apiErr, ok := err.(*provider.APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}

		return false, err
	}
	defer resp.Body.Close()

	return true, nil
}

type tidalItemsResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

func (c *Client) ListPlaylistTracks(ctx context.Context, remoteID string) ([]string, error) {
	var uris []string

	path := "/playlists/" + url.PathEscape(remoteID) + "/relationships/items?countryCode=" + url.QueryEscape(c.countryCode) + "&page[limit]=100"

	for path != "" {
		resp, err := c.http.Do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}

		var ir tidalItemsResponse
		if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
			resp.Body.Close()

			return nil, &provider.APIError{Provider: "tidal", Message: err.Error(), Err: provider.ErrMalformedResponse}
		}

		resp.Body.Close()

		for _, item := range ir.Data {
			uris = append(uris, "tidal:track:"+item.ID)
		}

		path = relativeNextPath(ir.Links.Next)
	}

	return uris, nil
}

func relativeNextPath(next string) string {
	if next == "" {
		return ""
	}

	if i := strings.Index(next, "/v2"); i >= 0 {
		return next[i+len("/v2"):]
	}

	return ""
}

func trackIDFromURI(uri string) string {
	return strings.TrimPrefix(uri, "tidal:track:")
}

func (c *Client) AddTracks(ctx context.Context, remoteID string, uris []string) error {
	return c.mutateItems(ctx, http.MethodPost, remoteID, uris)
}

func (c *Client) RemoveTracks(ctx context.Context, remoteID string, uris []string) error {
	return c.mutateItems(ctx, http.MethodDelete, remoteID, uris)
}

func (c *Client) mutateItems(ctx context.Context, method, remoteID string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}

	items := make([]map[string]string, len(uris))
	for i, u := range uris {
		items[i] = map[string]string{"id": trackIDFromURI(u), "type": "tracks"}
	}

	body, err := json.Marshal(map[string]any{"data": items})
	if err != nil {
		return fmt.Errorf("tidal: encoding items body: %w", err)
	}

	resp, err := c.http.Do(ctx, method, "/playlists/"+url.PathEscape(remoteID)+"/relationships/items?countryCode="+url.QueryEscape(c.countryCode), strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

type tidalSearchResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Client) Search(ctx context.Context, title, artist string) (string, bool, error) {
	q := title
	if artist != "" {
		q = artist + " " + title
	}

	resp, err := c.http.Do(ctx, http.MethodGet, "/searchResults/"+url.PathEscape(q)+"/relationships/tracks?countryCode="+url.QueryEscape(c.countryCode), nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	var sr tidalSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", false, &provider.APIError{Provider: "tidal", Message: err.Error(), Err: provider.ErrMalformedResponse}
	}

	if len(sr.Data) == 0 {
		return "", false, nil
	}

	return "tidal:track:" + sr.Data[0].ID, true, nil
}

// SearchByISRC: Tidal's public API does not expose ISRC search, so this
// returns the shared not-found default per SPEC_FULL.md §9's resolution
// of the open question ("attempt for all, providers without support
// return none").
func (c *Client) SearchByISRC(ctx context.Context, isrc string) (string, bool, error) {
	return provider.DefaultSearchByISRC(ctx, isrc)
}

// LookupISRC: not exposed by Tidal's public API.
func (c *Client) LookupISRC(ctx context.Context, uri string) (string, bool, error) {
	return provider.DefaultLookupISRC(ctx, uri)
}

var _ provider.Provider = (*Client)(nil)
