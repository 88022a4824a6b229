package store

import "context"

// Backend hands out scoped transactions over the items and versions tables.
type Backend interface {
	// Begin starts a transaction. Failures wrap ErrUnavailable.
	Begin(ctx context.Context) (Tx, error)
	// Migrate ensures tables and indexes exist. It is idempotent.
	Migrate(ctx context.Context) error
	Close() error
}

// ItemTable holds the latest record per key.
type ItemTable interface {
	GetItem(ctx context.Context, id string) (ItemRecord, bool, error)
	// PutItem inserts or overwrites the item for rec.ID.
	PutItem(ctx context.Context, rec ItemRecord) error
	// DeleteItem removes the item; deleting an absent key is not an error.
	DeleteItem(ctx context.Context, id string) error
	// ItemIDs lists every key in storage order.
	ItemIDs(ctx context.Context) ([]string, error)
	// ExpiredItemIDs lists keys whose expires_at is set and <= nowMs.
	ExpiredItemIDs(ctx context.Context, nowMs int64) ([]string, error)
}

// VersionTable holds the append-only history.
type VersionTable interface {
	// PutVersion writes a history row, overwriting any row with the same
	// version key.
	PutVersion(ctx context.Context, rec VersionRecord) error
	GetVersion(ctx context.Context, id string, version int64) (VersionRecord, bool, error)
	// VersionNumbers lists the versions recorded for id in ascending order.
	VersionNumbers(ctx context.Context, id string) ([]int64, error)
	// DeleteVersions removes every history row for id and returns the count.
	DeleteVersions(ctx context.Context, id string) (int64, error)
	// DeleteExpiredVersions removes history rows with expires_at <= nowMs.
	DeleteExpiredVersions(ctx context.Context, nowMs int64) (int64, error)
}

// Tx is a single transaction over both tables. Rollback after Commit is a no-op.
type Tx interface {
	ItemTable
	VersionTable
	// Clear empties both tables.
	Clear(ctx context.Context) error
	Commit() error
	Rollback() error
}
