// Package settings persists the lyrics formatting preferences in the
// versioned cache.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wilhg/lyrcache/pkg/cache"
)

// Key is the cache key of the settings record.
const Key = "lyrprepSettings"

// Settings are the formatting switches applied when preparing lyrics.
type Settings struct {
	RemoveTimestamps  bool   `json:"removeTimestamps"`
	HandleDashes      bool   `json:"handleDashes"`
	HandleEmdash      bool   `json:"handleEmdash"`
	HandleParentheses bool   `json:"handleParentheses"`
	AddSpaces         bool   `json:"addSpaces"`
	RemoveEmptyLines  bool   `json:"removeEmptyLines"`
	Theme             string `json:"theme"`
}

// Defaults returns the settings used before anything is saved.
func Defaults() Settings {
	return Settings{
		RemoveTimestamps:  true,
		HandleDashes:      true,
		HandleEmdash:      true,
		HandleParentheses: true,
		AddSpaces:         true,
		RemoveEmptyLines:  true,
		Theme:             "system",
	}
}

// patch is a stored record; absent fields keep their defaults.
type patch struct {
	RemoveTimestamps  *bool   `json:"removeTimestamps"`
	HandleDashes      *bool   `json:"handleDashes"`
	HandleEmdash      *bool   `json:"handleEmdash"`
	HandleParentheses *bool   `json:"handleParentheses"`
	AddSpaces         *bool   `json:"addSpaces"`
	RemoveEmptyLines  *bool   `json:"removeEmptyLines"`
	Theme             *string `json:"theme"`
}

func (p patch) apply(s Settings) Settings {
	setBool(&s.RemoveTimestamps, p.RemoveTimestamps)
	setBool(&s.HandleDashes, p.HandleDashes)
	setBool(&s.HandleEmdash, p.HandleEmdash)
	setBool(&s.HandleParentheses, p.HandleParentheses)
	setBool(&s.AddSpaces, p.AddSpaces)
	setBool(&s.RemoveEmptyLines, p.RemoveEmptyLines)
	if p.Theme != nil && *p.Theme != "" {
		s.Theme = *p.Theme
	}
	return s
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Load returns the saved settings merged onto Defaults. A missing or
// undecodable record yields Defaults; only storage failures are errors.
func Load(ctx context.Context, c *cache.Store) (Settings, error) {
	p, ok, err := cache.GetJSON[patch](ctx, c, Key)
	switch {
	case errors.Is(err, cache.ErrDecode):
		return Defaults(), nil
	case err != nil:
		return Settings{}, err
	case !ok:
		return Defaults(), nil
	}
	return p.apply(Defaults()), nil
}

// Save stores s as a permanent record.
func Save(ctx context.Context, c *cache.Store, s Settings) error {
	_, err := c.SavePermanent(ctx, Key, s)
	return err
}

// Update merges the fields set in raw onto the current settings and saves
// the result.
func Update(ctx context.Context, c *cache.Store, raw []byte) (Settings, error) {
	cur, err := Load(ctx, c)
	if err != nil {
		return Settings{}, err
	}
	var p patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return Settings{}, fmt.Errorf("settings: decode update: %w", err)
	}
	next := p.apply(cur)
	if err := Save(ctx, c, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}
