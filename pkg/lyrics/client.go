// Package lyrics talks to the two remote lyrics providers (LRCLIB and Spicy
// Lyrics) and caches provider payloads in the versioned cache.
// Requests are not retried.
package lyrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultLRCLibURL      = "https://lrclib.net"
	DefaultSpicyLyricsURL = "https://api.spicylyrics.org/lyrprep"

	// DefaultMaxBody caps how much of a provider response is read.
	DefaultMaxBody int64 = 4 << 20
)

var (
	ErrEmptyTrack      = errors.New("lyrics: track is required")
	ErrNotFound        = errors.New("lyrics: no results")
	ErrCaptchaRequired = errors.New("lyrics: captcha token required")
	ErrBodyTooLarge    = errors.New("lyrics: provider response too large")
)

// ProviderError reports a non-2xx response from a provider.
type ProviderError struct {
	Provider string
	Status   int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("lyrics: %s responded %d %s", e.Provider, e.Status, http.StatusText(e.Status))
}

// NewHTTPClient returns a client whose requests are traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

func orDefault(client *http.Client) *http.Client {
	if client == nil {
		return NewHTTPClient(15 * time.Second)
	}
	return client
}

func trimBase(u string) string { return strings.TrimRight(u, "/") }

// readLimited reads at most limit bytes of r. A longer body is
// ErrBodyTooLarge.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, limit)
	}
	return raw, nil
}
