package cache

import (
	"log/slog"
	"time"
)

const (
	// DefaultName labels the store in logs and spans.
	DefaultName = "LyrprepDB"
	// DefaultPayloadVersion is the content format version used when none is set.
	DefaultPayloadVersion = 1
	// DefaultTTL applies to expiring writes without an explicit TTL.
	DefaultTTL = 7 * 24 * time.Hour
)

// Option configures a Store at construction time.
type Option func(*config)

type config struct {
	name           string
	payloadVersion int
	defaultTTL     time.Duration
	now            func() time.Time
	logger         *slog.Logger
	sweepTimeout   time.Duration
	startupSweep   bool
}

func defaultConfig() config {
	return config{
		name:           DefaultName,
		payloadVersion: DefaultPayloadVersion,
		defaultTTL:     DefaultTTL,
		now:            time.Now,
		logger:         slog.Default(),
		sweepTimeout:   time.Minute,
		startupSweep:   true,
	}
}

// WithName sets the store name.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithPayloadVersion sets the content format version stamped on every write.
// Reads of items written under another version are treated as misses and the
// stale item is deleted.
func WithPayloadVersion(v int) Option {
	return func(c *config) { c.payloadVersion = v }
}

// WithDefaultTTL sets the TTL for expiring writes that do not pass one.
// Non-positive values are ignored.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStartupSweep toggles the expiration sweep launched by New.
func WithStartupSweep(enabled bool) Option {
	return func(c *config) { c.startupSweep = enabled }
}
