// Package music defines the track provider boundary. The game engine
// only depends on Provider; the iTunes-backed implementation lives in
// the itunes subpackage.
package music

import "context"

// Track is a playable song candidate. PreviewURL is what clients stream
// during a round; Title is withheld until the round resolves.
type Track struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	PreviewURL string `json:"previewUrl"`
	Artwork    string `json:"artwork"`
}

// SearchRequest describes one track fetch. Language and Difficulty are
// hints a provider may ignore.
type SearchRequest struct {
	Term       string
	Limit      int
	Language   string
	Difficulty string
}

// Provider returns up to req.Limit tracks for a search term, sampled
// randomly from a larger candidate pool. Fewer results than requested is
// not an error.
type Provider interface {
	RandomTracks(ctx context.Context, req SearchRequest) ([]Track, error)
}
