package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/wilhg/lyrcache/pkg/store"
)

const (
	tableItems    = "items"
	tableVersions = "versions"
	tableMeta     = "schema_meta"
)

// The DDL below is valid for both SQLite and PostgreSQL. Every statement is
// guarded by IF NOT EXISTS so Migrate can run on each start.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT NOT NULL PRIMARY KEY,
		version BIGINT NOT NULL,
		kind TEXT NOT NULL,
		format_version BIGINT NOT NULL,
		content TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		expires_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS items_expires_at ON items (expires_at)`,
	`CREATE INDEX IF NOT EXISTS items_kind ON items (kind)`,
	`CREATE INDEX IF NOT EXISTS items_updated_at ON items (updated_at)`,
	`CREATE TABLE IF NOT EXISTS versions (
		version_key TEXT NOT NULL PRIMARY KEY,
		id TEXT NOT NULL,
		version BIGINT NOT NULL,
		kind TEXT NOT NULL,
		format_version BIGINT NOT NULL,
		content TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		expires_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS versions_id ON versions (id)`,
	`CREATE INDEX IF NOT EXISTS versions_version ON versions (version)`,
	`CREATE INDEX IF NOT EXISTS versions_expires_at ON versions (expires_at)`,
	`CREATE INDEX IF NOT EXISTS versions_created_at ON versions (created_at)`,
	`CREATE TABLE IF NOT EXISTS schema_meta (
		name TEXT NOT NULL PRIMARY KEY,
		version BIGINT NOT NULL
	)`,
}

// Migrate creates the tables and indexes if missing and records SchemaVersion
// under the store name. A database written by a newer schema is refused.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin migrate: %w", store.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", store.ErrTransaction, err)
		}
	}

	b := entsql.Dialect(s.dialect)
	query, args := b.Select("version").
		From(entsql.Table(tableMeta)).
		Where(entsql.EQ("name", s.name)).
		Query()
	var current int64
	err = tx.QueryRowContext(ctx, query, args...).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("%w: read schema version: %w", store.ErrTransaction, err)
	case current > SchemaVersion:
		return fmt.Errorf("%w: schema version %d is newer than supported %d", store.ErrUnavailable, current, SchemaVersion)
	}

	query, args = b.Insert(tableMeta).
		Columns("name", "version").
		Values(s.name, SchemaVersion).
		OnConflict(entsql.ConflictColumns("name"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: write schema version: %w", store.ErrTransaction, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit migrate: %w", store.ErrTransaction, err)
	}
	return nil
}
