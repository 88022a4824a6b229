package lyrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// lineSeparator splits lines in Spicy Lyrics payloads.
const lineSeparator = "\x1e"

// SpicyLyrics fetches lyrics by Spotify track id. Every request needs a
// solved CAPTCHA token.
type SpicyLyrics struct {
	baseURL string
	http    *http.Client
	maxBody int64
}

// NewSpicyLyrics creates a client. An empty baseURL selects
// DefaultSpicyLyricsURL and a nil client a traced default.
func NewSpicyLyrics(baseURL string, client *http.Client) *SpicyLyrics {
	if baseURL == "" {
		baseURL = DefaultSpicyLyricsURL
	}
	return &SpicyLyrics{baseURL: trimBase(baseURL), http: orDefault(client), maxBody: DefaultMaxBody}
}

type spicyRequest struct {
	Captcha  string        `json:"captcha"`
	Metadata spicyMetadata `json:"metadata"`
}

type spicyMetadata struct {
	TrackID string `json:"trackId"`
}

// Fetch returns the raw provider payload for trackID. An empty body is
// ErrNotFound.
func (c *SpicyLyrics) Fetch(ctx context.Context, captcha, trackID string) (string, error) {
	if trackID == "" {
		return "", ErrEmptyTrack
	}
	if captcha == "" {
		return "", ErrCaptchaRequired
	}
	body, err := json.Marshal(spicyRequest{Captcha: captcha, Metadata: spicyMetadata{TrackID: trackID}})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lyrics", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("lyrics: spicylyrics fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return "", &ProviderError{Provider: "spicylyrics", Status: resp.StatusCode}
	}
	raw, err := readLimited(resp.Body, c.maxBody)
	if err != nil {
		return "", fmt.Errorf("lyrics: spicylyrics read: %w", err)
	}
	if len(raw) == 0 {
		return "", ErrNotFound
	}
	return string(raw), nil
}

// SiteKey returns the CAPTCHA site key clients solve challenges against.
// The provider sends it in separator-delimited parts, which are joined with
// "-". An empty body is ErrNotFound.
func (c *SpicyLyrics) SiteKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sk", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("lyrics: spicylyrics site key: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return "", &ProviderError{Provider: "spicylyrics", Status: resp.StatusCode}
	}
	raw, err := readLimited(resp.Body, c.maxBody)
	if err != nil {
		return "", fmt.Errorf("lyrics: spicylyrics read: %w", err)
	}
	key := strings.Join(strings.Split(strings.TrimSpace(string(raw)), lineSeparator), "-")
	if key == "" {
		return "", ErrNotFound
	}
	return key, nil
}

// SplitLines turns a provider payload into newline separated text.
func SplitLines(raw string) string {
	return strings.ReplaceAll(raw, lineSeparator, "\n")
}

// TrackID extracts the track id from a Spotify track URL. Input that is not
// an absolute URL is taken as the id itself.
func TrackID(input string) string {
	input = strings.TrimSpace(input)
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return input
	}
	p := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
