package lyrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/wilhg/lyrcache/pkg/cache"
)

// CacheTTL is how long a fetched Spicy Lyrics payload stays cached.
const CacheTTL = 30 * time.Minute

// CacheKey is the cache key of a track's payload.
func CacheKey(trackID string) string { return "sl:" + trackID }

// SiteKeyCacheKey holds the last fetched CAPTCHA site key. It is saved
// permanently so the key stays available offline.
const SiteKeyCacheKey = "SK_Store"

// Lookup is the outcome of Fetcher.Lyrics.
type Lookup struct {
	TrackID string `json:"trackId"`
	Lyrics  string `json:"lyrics"`
	Cached  bool   `json:"cached"`
}

// Fetcher serves Spicy Lyrics payloads through the versioned cache. A cache
// failure is treated as a miss.
type Fetcher struct {
	cache *cache.Store
	spicy *SpicyLyrics
	log   *slog.Logger
}

func NewFetcher(c *cache.Store, spicy *SpicyLyrics, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{cache: c, spicy: spicy, log: logger.With("component", "lyrics")}
}

// Lyrics resolves trackInput (an id or a track URL) and returns its payload.
// A cache hit needs no captcha; a miss without one returns ErrCaptchaRequired.
func (f *Fetcher) Lyrics(ctx context.Context, trackInput, captcha string) (Lookup, error) {
	id := TrackID(trackInput)
	if id == "" {
		return Lookup{}, ErrEmptyTrack
	}
	key := CacheKey(id)

	if f.cache != nil {
		raw, ok, err := f.cache.Get(ctx, key)
		switch {
		case err != nil:
			f.log.Warn("cache read failed", "key", key, "error", err)
		case ok:
			return Lookup{TrackID: id, Lyrics: raw, Cached: true}, nil
		}
	}

	if captcha == "" {
		return Lookup{}, ErrCaptchaRequired
	}
	raw, err := f.spicy.Fetch(ctx, captcha, id)
	if err != nil {
		return Lookup{}, err
	}
	if f.cache != nil {
		if _, err := f.cache.SaveExpiring(ctx, key, raw, CacheTTL); err != nil {
			f.log.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return Lookup{TrackID: id, Lyrics: raw}, nil
}

// SiteKey returns the CAPTCHA site key, from the cache when present and
// otherwise from the provider. cached reports a cache hit.
func (f *Fetcher) SiteKey(ctx context.Context) (key string, cached bool, err error) {
	if f.cache != nil {
		key, ok, err := f.cache.Get(ctx, SiteKeyCacheKey)
		switch {
		case err != nil:
			f.log.Warn("cache read failed", "key", SiteKeyCacheKey, "error", err)
		case ok && key != "":
			return key, true, nil
		}
	}
	key, err = f.spicy.SiteKey(ctx)
	if err != nil {
		return "", false, err
	}
	if f.cache != nil {
		if _, err := f.cache.SavePermanent(ctx, SiteKeyCacheKey, key); err != nil {
			f.log.Warn("cache write failed", "key", SiteKeyCacheKey, "error", err)
		}
	}
	return key, false, nil
}
