// Package itunes implements music.Provider on top of the iTunes Search
// API.
package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Daniele-DelVecchio/party-song-guess/internal/music"
)

const (
	// DefaultBaseURL is the public iTunes Search API endpoint.
	DefaultBaseURL = "https://itunes.apple.com"

	searchPath = "/search"

	// candidatePoolSize is how many results we ask for regardless of how
	// many tracks a game needs, so repeated games with the same term do
	// not replay the same prefix of the result set.
	candidatePoolSize = 50

	// easyPoolSize narrows the pool to the most popular results when the
	// game asked for an easier playlist.
	easyPoolSize = 25
)

// Client is a thin HTTP client for the iTunes Search API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a Client against baseURL (DefaultBaseURL in
// production, an httptest server in tests).
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type searchResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []searchResult `json:"results"`
}

type searchResult struct {
	TrackName     string `json:"trackName"`
	ArtistName    string `json:"artistName"`
	PreviewURL    string `json:"previewUrl"`
	ArtworkURL100 string `json:"artworkUrl100"`
}

// RandomTracks fetches up to candidatePoolSize songs matching req.Term
// and returns a uniform sample of at most req.Limit of them. Results
// without a preview URL are unusable in a round and are dropped.
func (c *Client) RandomTracks(ctx context.Context, req music.SearchRequest) ([]music.Track, error) {
	params := url.Values{}
	params.Set("term", req.Term)
	params.Set("media", "music")
	params.Set("entity", "song")
	params.Set("limit", fmt.Sprintf("%d", candidatePoolSize))
	if req.Language != "" {
		params.Set("lang", req.Language)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+searchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to query itunes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("itunes returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode itunes response: %w", err)
	}

	candidates := make([]music.Track, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.PreviewURL == "" {
			continue
		}
		candidates = append(candidates, music.Track{
			Title:      r.TrackName,
			Artist:     r.ArtistName,
			PreviewURL: r.PreviewURL,
			Artwork:    r.ArtworkURL100,
		})
	}

	if req.Difficulty == "easy" && len(candidates) > easyPoolSize {
		candidates = candidates[:easyPoolSize]
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	log.Debug().
		Str("term", req.Term).
		Int("requested", req.Limit).
		Int("returned", len(candidates)).
		Msg("fetched random tracks")

	return candidates, nil
}
