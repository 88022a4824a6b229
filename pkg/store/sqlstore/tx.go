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
	colVersionKey    = "version_key"
	colID            = "id"
	colVersion       = "version"
	colKind          = "kind"
	colFormatVersion = "format_version"
	colContent       = "content"
	colCreatedAt     = "created_at"
	colUpdatedAt     = "updated_at"
	colExpiresAt     = "expires_at"
)

var itemColumns = []string{colID, colVersion, colKind, colFormatVersion, colContent, colCreatedAt, colUpdatedAt, colExpiresAt}

// txn implements store.Tx. Queries are built per dialect so placeholders
// match the driver.
type txn struct {
	tx *sql.Tx
	b  *entsql.DialectBuilder
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner, extra ...any) (store.ItemRecord, error) {
	var (
		rec  store.ItemRecord
		kind string
		exp  sql.NullInt64
	)
	dest := append(extra, &rec.ID, &rec.Version, &kind, &rec.FormatVersion, &rec.Content, &rec.CreatedAt, &rec.UpdatedAt, &exp)
	if err := row.Scan(dest...); err != nil {
		return store.ItemRecord{}, err
	}
	rec.Kind = store.Kind(kind)
	if exp.Valid {
		v := exp.Int64
		rec.ExpiresAt = &v
	}
	return rec, nil
}

func itemValues(rec store.ItemRecord) []any {
	var exp any
	if rec.ExpiresAt != nil {
		exp = *rec.ExpiresAt
	}
	return []any{rec.ID, rec.Version, string(rec.Kind), rec.FormatVersion, rec.Content, rec.CreatedAt, rec.UpdatedAt, exp}
}

func (t *txn) exec(ctx context.Context, op string, query string, args []any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", store.ErrTransaction, op, err)
	}
	return rowsAffected(op, res)
}

// rowsAffected reports the row count of a statement. Both supported drivers
// report counts, so a failure here is a transaction error.
func rowsAffected(op string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: rows affected: %w", store.ErrTransaction, op, err)
	}
	return n, nil
}

func (t *txn) GetItem(ctx context.Context, id string) (store.ItemRecord, bool, error) {
	query, args := t.b.Select(itemColumns...).
		From(entsql.Table(tableItems)).
		Where(entsql.EQ(colID, id)).
		Query()
	rec, err := scanItem(t.tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return store.ItemRecord{}, false, nil
	}
	if err != nil {
		return store.ItemRecord{}, false, fmt.Errorf("%w: get item: %w", store.ErrTransaction, err)
	}
	return rec, true, nil
}

func (t *txn) PutItem(ctx context.Context, rec store.ItemRecord) error {
	query, args := t.b.Insert(tableItems).
		Columns(itemColumns...).
		Values(itemValues(rec)...).
		OnConflict(entsql.ConflictColumns(colID), entsql.ResolveWithNewValues()).
		Query()
	_, err := t.exec(ctx, "put item", query, args)
	return err
}

func (t *txn) DeleteItem(ctx context.Context, id string) error {
	query, args := t.b.Delete(tableItems).Where(entsql.EQ(colID, id)).Query()
	_, err := t.exec(ctx, "delete item", query, args)
	return err
}

func (t *txn) ItemIDs(ctx context.Context) ([]string, error) {
	query, args := t.b.Select(colID).
		From(entsql.Table(tableItems)).
		OrderBy(colID).
		Query()
	return t.queryStrings(ctx, "list items", query, args)
}

func (t *txn) ExpiredItemIDs(ctx context.Context, nowMs int64) ([]string, error) {
	query, args := t.b.Select(colID).
		From(entsql.Table(tableItems)).
		Where(entsql.And(entsql.NotNull(colExpiresAt), entsql.LTE(colExpiresAt, nowMs))).
		Query()
	return t.queryStrings(ctx, "list expired items", query, args)
}

func (t *txn) PutVersion(ctx context.Context, rec store.VersionRecord) error {
	cols := append([]string{colVersionKey}, itemColumns...)
	vals := append([]any{rec.VersionKey}, itemValues(rec.ItemRecord)...)
	query, args := t.b.Insert(tableVersions).
		Columns(cols...).
		Values(vals...).
		OnConflict(entsql.ConflictColumns(colVersionKey), entsql.ResolveWithNewValues()).
		Query()
	_, err := t.exec(ctx, "put version", query, args)
	return err
}

func (t *txn) GetVersion(ctx context.Context, id string, version int64) (store.VersionRecord, bool, error) {
	cols := append([]string{colVersionKey}, itemColumns...)
	query, args := t.b.Select(cols...).
		From(entsql.Table(tableVersions)).
		Where(entsql.EQ(colVersionKey, store.VersionKey(id, version))).
		Query()
	var key string
	item, err := scanItem(t.tx.QueryRowContext(ctx, query, args...), &key)
	if errors.Is(err, sql.ErrNoRows) {
		return store.VersionRecord{}, false, nil
	}
	if err != nil {
		return store.VersionRecord{}, false, fmt.Errorf("%w: get version: %w", store.ErrTransaction, err)
	}
	return store.VersionRecord{ItemRecord: item, VersionKey: key}, true, nil
}

func (t *txn) VersionNumbers(ctx context.Context, id string) ([]int64, error) {
	query, args := t.b.Select(colVersion).
		From(entsql.Table(tableVersions)).
		Where(entsql.EQ(colID, id)).
		OrderBy(colVersion).
		Query()
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list versions: %w", store.ErrTransaction, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%w: list versions: %w", store.ErrTransaction, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list versions: %w", store.ErrTransaction, err)
	}
	return out, nil
}

func (t *txn) DeleteVersions(ctx context.Context, id string) (int64, error) {
	query, args := t.b.Delete(tableVersions).Where(entsql.EQ(colID, id)).Query()
	return t.exec(ctx, "delete versions", query, args)
}

func (t *txn) DeleteExpiredVersions(ctx context.Context, nowMs int64) (int64, error) {
	query, args := t.b.Delete(tableVersions).
		Where(entsql.And(entsql.NotNull(colExpiresAt), entsql.LTE(colExpiresAt, nowMs))).
		Query()
	return t.exec(ctx, "delete expired versions", query, args)
}

func (t *txn) Clear(ctx context.Context) error {
	for _, table := range []string{tableItems, tableVersions} {
		query, args := t.b.Delete(table).Query()
		if _, err := t.exec(ctx, "clear "+table, query, args); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", store.ErrTransaction, err)
	}
	return nil
}

func (t *txn) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *txn) queryStrings(ctx context.Context, op, query string, args []any) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", store.ErrTransaction, op, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", store.ErrTransaction, op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", store.ErrTransaction, op, err)
	}
	return out, nil
}

var _ store.Tx = (*txn)(nil)
