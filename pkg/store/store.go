// Package store defines the persisted record shapes of the versioned cache and
// the transactional table interface backends implement.
// Implementations must provide identical semantics across backends so the
// cache behaves the same on SQLite and PostgreSQL.
package store

import (
	"errors"
	"strconv"
)

var (
	// ErrUnavailable reports that the durable backend cannot be opened or a
	// transaction cannot be started.
	ErrUnavailable = errors.New("store: storage unavailable")
	// ErrTransaction reports that an individual read, write or commit failed.
	ErrTransaction = errors.New("store: transaction failed")
)

// Kind tells whether a record carries a TTL.
// The values are the tokens written to storage.
type Kind string

const (
	KindPermanent Kind = "store"
	KindExpiring  Kind = "expire"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindPermanent || k == KindExpiring }

// Payload is the logical unit of stored data.
type Payload struct {
	Kind          Kind   `json:"kind"`
	FormatVersion int    `json:"format_version"`
	Content       string `json:"content"`
}

// ItemRecord is the latest state of a key. Timestamps are milliseconds since
// the Unix epoch; ExpiresAt is nil for permanent records.
type ItemRecord struct {
	Payload
	ID        string `json:"id"`
	Version   int64  `json:"version"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

// Expired reports whether an expiring record is past its deadline at nowMs.
func (r ItemRecord) Expired(nowMs int64) bool {
	return r.Kind == KindExpiring && r.ExpiresAt != nil && *r.ExpiresAt <= nowMs
}

// VersionRecord is an immutable snapshot of one write to a key.
type VersionRecord struct {
	ItemRecord
	VersionKey string `json:"version_key"`
}

// NewVersionRecord derives the history row for an item write.
func NewVersionRecord(item ItemRecord) VersionRecord {
	return VersionRecord{ItemRecord: item, VersionKey: VersionKey(item.ID, item.Version)}
}

// VersionKey returns the composite key "<id>:<version>".
func VersionKey(id string, version int64) string {
	return id + ":" + strconv.FormatInt(version, 10)
}
