package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Query is an LRCLIB search. Track is required.
type Query struct {
	Track  string
	Artist string
	Album  string
}

// Result is one LRCLIB search hit.
type Result struct {
	ID           int64   `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// LRCLib searches https://lrclib.net.
type LRCLib struct {
	baseURL string
	http    *http.Client
	maxBody int64
}

// NewLRCLib creates a client. An empty baseURL selects DefaultLRCLibURL and a
// nil client a traced default.
func NewLRCLib(baseURL string, client *http.Client) *LRCLib {
	if baseURL == "" {
		baseURL = DefaultLRCLibURL
	}
	return &LRCLib{baseURL: trimBase(baseURL), http: orDefault(client), maxBody: DefaultMaxBody}
}

// Search returns matching tracks. An empty result set is not an error.
func (c *LRCLib) Search(ctx context.Context, q Query) ([]Result, error) {
	track := strings.TrimSpace(q.Track)
	if track == "" {
		return nil, ErrEmptyTrack
	}
	params := url.Values{}
	params.Set("track_name", track)
	if a := strings.TrimSpace(q.Artist); a != "" {
		params.Set("artist_name", a)
	}
	if a := strings.TrimSpace(q.Album); a != "" {
		params.Set("album_name", a)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lyrics: lrclib search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, &ProviderError{Provider: "lrclib", Status: resp.StatusCode}
	}
	raw, err := readLimited(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("lyrics: lrclib read: %w", err)
	}
	var out []Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("lyrics: lrclib decode: %w", err)
	}
	return out, nil
}
