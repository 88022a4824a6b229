// Package cache implements a durable versioned key-value cache with per-record
// expiration and payload format invalidation.
//
// Every write appends a history row and overwrites the key's item in one
// transaction. Expired records are removed lazily: by a sweep started in New
// and by reads that hit an expired item. There is no background timer.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moby/locker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/lyrcache/pkg/store"
)

var (
	ErrEmptyKey    = errors.New("cache: empty key")
	ErrInvalidKind = errors.New("cache: invalid record kind")
	ErrDecode      = errors.New("cache: content is not valid JSON for the target type")
)

// SaveOptions selects the record kind and TTL of a write.
// A nil TTL selects the store's default; an explicit zero or negative TTL
// writes a record that is already expired.
type SaveOptions struct {
	Kind store.Kind
	TTL  *time.Duration
}

// PruneStats counts rows removed by a sweep.
type PruneStats struct {
	Items    int   `json:"items"`
	Versions int64 `json:"versions"`
}

// Store is the versioned cache. It is safe for concurrent use.
type Store struct {
	backend store.Backend
	cfg     config
	id      string
	log     *slog.Logger
	tracer  trace.Tracer
	locks   *locker.Locker
	wg      sync.WaitGroup
}

// New constructs a Store over backend and starts a best-effort expiration
// sweep in the background. Sweep failures are logged, never returned.
// A nil backend yields a store whose operations fail with store.ErrUnavailable.
func New(backend store.Backend, opts ...Option) *Store {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Store{
		backend: backend,
		cfg:     cfg,
		id:      uuid.NewString(),
		tracer:  otel.Tracer("cache/store"),
		locks:   locker.New(),
	}
	s.log = cfg.logger.With("cache", cfg.name, "instance", s.id)

	if cfg.startupSweep {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// Detached so the sweep completes independently of the caller.
			ctx, cancel := context.WithTimeout(context.Background(), cfg.sweepTimeout)
			defer cancel()
			stats, err := s.PruneExpired(ctx)
			if err != nil {
				s.log.Warn("startup sweep failed", "error", err)
				return
			}
			s.log.Debug("startup sweep complete", "items", stats.Items, "versions", stats.Versions)
		}()
	}
	return s
}

// Name returns the configured store name.
func (s *Store) Name() string { return s.cfg.name }

// PayloadVersion returns the configured content format version.
func (s *Store) PayloadVersion() int { return s.cfg.payloadVersion }

// Close waits for the startup sweep. It does not close the backend.
func (s *Store) Close() error {
	s.wg.Wait()
	return nil
}

// SavePermanent writes a record that never expires.
func (s *Store) SavePermanent(ctx context.Context, id string, value any) (store.Payload, error) {
	return s.Save(ctx, id, value, SaveOptions{Kind: store.KindPermanent})
}

// SaveExpiring writes a record that expires ttl after now. A ttl <= 0 is
// already expired on the next read.
func (s *Store) SaveExpiring(ctx context.Context, id string, value any, ttl time.Duration) (store.Payload, error) {
	return s.Save(ctx, id, value, SaveOptions{Kind: store.KindExpiring, TTL: &ttl})
}

// Save writes value under id as the next version and returns the payload
// written. An empty Kind means permanent.
//
// When id has no item (never saved, removed, or invalidated) a new sequence
// starts at version 1. Its rows overwrite the same-numbered rows of the
// previous sequence; higher-numbered history is kept until pruned or removed
// with RemoveAllVersions.
func (s *Store) Save(ctx context.Context, id string, value any, opts SaveOptions) (p store.Payload, err error) {
	ctx, span := s.start(ctx, "Store.Save", id)
	defer func() { end(span, err) }()

	if id == "" {
		return store.Payload{}, ErrEmptyKey
	}
	kind := opts.Kind
	if kind == "" {
		kind = store.KindPermanent
	}
	if !kind.Valid() {
		return store.Payload{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	ttl := s.cfg.defaultTTL
	if opts.TTL != nil {
		ttl = *opts.TTL
	}

	payload := store.Payload{
		Kind:          kind,
		FormatVersion: s.cfg.payloadVersion,
		Content:       Serialize(value),
	}
	s.locks.Lock(id)
	defer func() { _ = s.locks.Unlock(id) }()

	now := s.nowMs()
	var expiresAt *int64
	if kind == store.KindExpiring {
		exp := addMs(now, ttl.Milliseconds())
		expiresAt = &exp
	}

	var version int64
	err = s.withTx(ctx, func(tx store.Tx) error {
		cur, found, err := tx.GetItem(ctx, id)
		if err != nil {
			return err
		}
		version = 1
		if found {
			version = cur.Version + 1
		}
		item := store.ItemRecord{
			Payload:   payload,
			ID:        id,
			Version:   version,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: expiresAt,
		}
		if err := tx.PutVersion(ctx, store.NewVersionRecord(item)); err != nil {
			return err
		}
		return tx.PutItem(ctx, item)
	})
	if err != nil {
		return store.Payload{}, err
	}
	span.SetAttributes(attribute.Int64("cache.version", version))
	return payload, nil
}

// Get returns the content stored under id. Missing, expired and
// format-mismatched items are misses. A miss on an expired item triggers a
// prune; a miss on a stale format deletes the item but keeps its history.
func (s *Store) Get(ctx context.Context, id string) (content string, ok bool, err error) {
	ctx, span := s.start(ctx, "Store.Get", id)
	defer func() { end(span, err) }()

	var (
		item  store.ItemRecord
		found bool
	)
	err = s.withTx(ctx, func(tx store.Tx) error {
		var err error
		item, found, err = tx.GetItem(ctx, id)
		return err
	})
	if err != nil {
		return "", false, err
	}
	if !found {
		span.SetAttributes(attribute.String("cache.result", "miss"))
		return "", false, nil
	}

	if item.Expired(s.nowMs()) {
		span.SetAttributes(attribute.String("cache.result", "expired"))
		if _, perr := s.prune(ctx); perr != nil {
			s.log.Warn("prune after expired read failed", "key", id, "error", perr)
		}
		return "", false, nil
	}

	if item.FormatVersion != s.cfg.payloadVersion {
		span.SetAttributes(attribute.String("cache.result", "stale"))
		derr := s.withTx(ctx, func(tx store.Tx) error { return tx.DeleteItem(ctx, id) })
		if derr != nil {
			s.log.Warn("delete of stale item failed", "key", id, "format_version", item.FormatVersion, "error", derr)
		}
		return "", false, nil
	}

	span.SetAttributes(attribute.String("cache.result", "hit"))
	return item.Content, true, nil
}

// GetVersion returns one historical payload of id. Expired versions are
// misses; the format version is not checked.
func (s *Store) GetVersion(ctx context.Context, id string, version int64) (p store.Payload, ok bool, err error) {
	ctx, span := s.start(ctx, "Store.GetVersion", id)
	span.SetAttributes(attribute.Int64("cache.version", version))
	defer func() { end(span, err) }()

	var (
		rec   store.VersionRecord
		found bool
	)
	err = s.withTx(ctx, func(tx store.Tx) error {
		var err error
		rec, found, err = tx.GetVersion(ctx, id, version)
		return err
	})
	if err != nil || !found {
		return store.Payload{}, false, err
	}
	if rec.Expired(s.nowMs()) {
		return store.Payload{}, false, nil
	}
	return rec.Payload, true, nil
}

// Remove deletes the item for id. Its version history is kept.
func (s *Store) Remove(ctx context.Context, id string) (err error) {
	ctx, span := s.start(ctx, "Store.Remove", id)
	defer func() { end(span, err) }()

	return s.withTx(ctx, func(tx store.Tx) error { return tx.DeleteItem(ctx, id) })
}

// RemoveAllVersions deletes the item and every history row for id.
func (s *Store) RemoveAllVersions(ctx context.Context, id string) (err error) {
	ctx, span := s.start(ctx, "Store.RemoveAllVersions", id)
	defer func() { end(span, err) }()

	s.locks.Lock(id)
	defer func() { _ = s.locks.Unlock(id) }()
	return s.withTx(ctx, func(tx store.Tx) error {
		if _, err := tx.DeleteVersions(ctx, id); err != nil {
			return err
		}
		return tx.DeleteItem(ctx, id)
	})
}

// ListKeys returns a snapshot of every key that has an item.
func (s *Store) ListKeys(ctx context.Context) (keys []string, err error) {
	ctx, span := s.start(ctx, "Store.ListKeys", "")
	defer func() { end(span, err) }()

	err = s.withTx(ctx, func(tx store.Tx) error {
		var err error
		keys, err = tx.ItemIDs(ctx)
		return err
	})
	return keys, err
}

// ListVersions returns the version numbers recorded for id.
func (s *Store) ListVersions(ctx context.Context, id string) (versions []int64, err error) {
	ctx, span := s.start(ctx, "Store.ListVersions", id)
	defer func() { end(span, err) }()

	err = s.withTx(ctx, func(tx store.Tx) error {
		var err error
		versions, err = tx.VersionNumbers(ctx, id)
		return err
	})
	return versions, err
}

// PruneExpired deletes expired items with their full history, then any
// expired history row whose item is still live. It is idempotent.
func (s *Store) PruneExpired(ctx context.Context) (stats PruneStats, err error) {
	ctx, span := s.start(ctx, "Store.PruneExpired", "")
	defer func() { end(span, err) }()

	stats, err = s.prune(ctx)
	span.SetAttributes(
		attribute.Int("cache.pruned_items", stats.Items),
		attribute.Int64("cache.pruned_versions", stats.Versions),
	)
	return stats, err
}

func (s *Store) prune(ctx context.Context) (PruneStats, error) {
	var stats PruneStats
	now := s.nowMs()
	err := s.withTx(ctx, func(tx store.Tx) error {
		ids, err := tx.ExpiredItemIDs(ctx, now)
		if err != nil {
			return err
		}
		for _, id := range ids {
			n, err := tx.DeleteVersions(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.DeleteItem(ctx, id); err != nil {
				return err
			}
			stats.Items++
			stats.Versions += n
		}
		n, err := tx.DeleteExpiredVersions(ctx, now)
		if err != nil {
			return err
		}
		stats.Versions += n
		return nil
	})
	if err != nil {
		return PruneStats{}, err
	}
	return stats, nil
}

// ClearAll empties both tables.
func (s *Store) ClearAll(ctx context.Context) (err error) {
	ctx, span := s.start(ctx, "Store.ClearAll", "")
	defer func() { end(span, err) }()

	return s.withTx(ctx, func(tx store.Tx) error { return tx.Clear(ctx) })
}

// withTx runs fn in a transaction that is always released: committed when fn
// succeeds, rolled back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(store.Tx) error) error {
	if s.backend == nil {
		return fmt.Errorf("%w: no backend configured", store.ErrUnavailable)
	}
	tx, err := s.backend.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) nowMs() int64 { return s.cfg.now().UnixMilli() }

// addMs returns now+ttl clamped to the int64 range.
func addMs(now, ttl int64) int64 {
	switch {
	case ttl > 0 && now > math.MaxInt64-ttl:
		return math.MaxInt64
	case ttl < 0 && now < math.MinInt64-ttl:
		return math.MinInt64
	}
	return now + ttl
}

func (s *Store) start(ctx context.Context, name, key string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.name", s.cfg.name),
		attribute.String("cache.instance", s.id),
	}
	if key != "" {
		attrs = append(attrs, attribute.String("cache.key", key))
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
