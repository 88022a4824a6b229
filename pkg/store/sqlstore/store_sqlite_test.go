package sqlstore

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"

	"github.com/wilhg/lyrcache/pkg/store"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.Context(), "sqlite:file:"+uuid.NewString()+"?mode=memory&cache=shared&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(t.Context()); err != nil {
		t.Fatal(err)
	}
	return st
}

func inTx(t *testing.T, st *Store, fn func(ctx context.Context, tx store.Tx)) {
	t.Helper()
	ctx := t.Context()
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx.Rollback() }()
	fn(ctx, tx)
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func item(id string, version int64, kind store.Kind, exp *int64) store.ItemRecord {
	return store.ItemRecord{
		Payload:   store.Payload{Kind: kind, FormatVersion: 1, Content: id + "-content"},
		ID:        id,
		Version:   version,
		CreatedAt: 1000,
		UpdatedAt: 1000,
		ExpiresAt: exp,
	}
}

func ms(v int64) *int64 { return &v }

func TestOpenRejectsBadURLs(t *testing.T) {
	for _, u := range []string{"", "mysql://root@localhost/db", "just-a-path"} {
		_, err := Open(context.Background(), u)
		if !errors.Is(err, store.ErrUnavailable) {
			t.Fatalf("Open(%q) err=%v want ErrUnavailable", u, err)
		}
	}
}

func TestParseURL(t *testing.T) {
	cases := []struct {
		in, drv, dsn, dialect string
	}{
		{"sqlite:file:x.db", "sqlite3", "file:x.db", "sqlite3"},
		{"SQLITE::memory:", "sqlite3", ":memory:", "sqlite3"},
		{"postgres://u:p@h:5432/db", "pgx", "postgres://u:p@h:5432/db", "postgres"},
		{"host=h user=u dbname=db", "pgx", "host=h user=u dbname=db", "postgres"},
	}
	for _, tc := range cases {
		drv, dsn, dia, err := parseURL(tc.in)
		if err != nil {
			t.Fatalf("parseURL(%q): %v", tc.in, err)
		}
		if drv != tc.drv || dsn != tc.dsn || dia != tc.dialect {
			t.Fatalf("parseURL(%q)=(%s,%s,%s)", tc.in, drv, dsn, dia)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := openSQLite(t)
	if err := st.Migrate(t.Context()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var v int64
	if err := st.DB().QueryRowContext(t.Context(), "SELECT version FROM schema_meta WHERE name = ?", DefaultName).Scan(&v); err != nil {
		t.Fatal(err)
	}
	if v != SchemaVersion {
		t.Fatalf("schema version=%d want %d", v, SchemaVersion)
	}
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	st := openSQLite(t)
	if _, err := st.DB().ExecContext(t.Context(), "UPDATE schema_meta SET version = ? WHERE name = ?", SchemaVersion+1, DefaultName); err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(t.Context()); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err=%v want ErrUnavailable", err)
	}
}

func TestItemsRoundTrip(t *testing.T) {
	st := openSQLite(t)

	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		if err := tx.PutItem(ctx, item("a", 1, store.KindPermanent, nil)); err != nil {
			t.Fatal(err)
		}
		if err := tx.PutItem(ctx, item("b", 1, store.KindExpiring, ms(5000))); err != nil {
			t.Fatal(err)
		}
		// Overwrite keeps one row per id.
		if err := tx.PutItem(ctx, item("a", 2, store.KindPermanent, nil)); err != nil {
			t.Fatal(err)
		}
	})

	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		got, ok, err := tx.GetItem(ctx, "a")
		if err != nil || !ok {
			t.Fatalf("get a: ok=%v err=%v", ok, err)
		}
		if got.Version != 2 || got.ExpiresAt != nil || got.Kind != store.KindPermanent {
			t.Fatalf("a=%+v", got)
		}
		got, ok, err = tx.GetItem(ctx, "b")
		if err != nil || !ok {
			t.Fatalf("get b: ok=%v err=%v", ok, err)
		}
		if got.ExpiresAt == nil || *got.ExpiresAt != 5000 || got.Content != "b-content" {
			t.Fatalf("b=%+v", got)
		}
		if _, ok, err := tx.GetItem(ctx, "zzz"); ok || err != nil {
			t.Fatalf("missing: ok=%v err=%v", ok, err)
		}

		ids, err := tx.ItemIDs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(ids, []string{"a", "b"}) {
			t.Fatalf("ids=%v", ids)
		}
		expired, err := tx.ExpiredItemIDs(ctx, 5000)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(expired, []string{"b"}) {
			t.Fatalf("expired=%v", expired)
		}
		if expired, _ := tx.ExpiredItemIDs(ctx, 4999); len(expired) != 0 {
			t.Fatalf("expired early: %v", expired)
		}

		if err := tx.DeleteItem(ctx, "a"); err != nil {
			t.Fatal(err)
		}
		if err := tx.DeleteItem(ctx, "a"); err != nil {
			t.Fatalf("second delete: %v", err)
		}
	})
}

func TestVersionsRoundTrip(t *testing.T) {
	st := openSQLite(t)

	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		for v := int64(1); v <= 3; v++ {
			var exp *int64
			if v == 1 {
				exp = ms(100)
			}
			if err := tx.PutVersion(ctx, store.NewVersionRecord(item("k", v, store.KindExpiring, exp))); err != nil {
				t.Fatal(err)
			}
		}
	})

	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		vs, err := tx.VersionNumbers(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(vs, []int64{1, 2, 3}) {
			t.Fatalf("versions=%v", vs)
		}
		rec, ok, err := tx.GetVersion(ctx, "k", 2)
		if err != nil || !ok {
			t.Fatalf("get version: ok=%v err=%v", ok, err)
		}
		if rec.VersionKey != "k:2" || rec.Version != 2 {
			t.Fatalf("rec=%+v", rec)
		}
		n, err := tx.DeleteExpiredVersions(ctx, 100)
		if err != nil || n != 1 {
			t.Fatalf("expired versions n=%d err=%v", n, err)
		}
		n, err = tx.DeleteVersions(ctx, "k")
		if err != nil || n != 2 {
			t.Fatalf("delete versions n=%d err=%v", n, err)
		}
	})
}

func TestClear(t *testing.T) {
	st := openSQLite(t)
	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		it := item("a", 1, store.KindPermanent, nil)
		if err := tx.PutItem(ctx, it); err != nil {
			t.Fatal(err)
		}
		if err := tx.PutVersion(ctx, store.NewVersionRecord(it)); err != nil {
			t.Fatal(err)
		}
	})
	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		if err := tx.Clear(ctx); err != nil {
			t.Fatal(err)
		}
	})
	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		ids, _ := tx.ItemIDs(ctx)
		vs, _ := tx.VersionNumbers(ctx, "a")
		if len(ids) != 0 || len(vs) != 0 {
			t.Fatalf("ids=%v versions=%v", ids, vs)
		}
	})
}

func TestRollbackDiscardsWrites(t *testing.T) {
	st := openSQLite(t)
	tx, err := st.Begin(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.PutItem(t.Context(), item("a", 1, store.KindPermanent, nil)); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("second rollback: %v", err)
	}
	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		if _, ok, _ := tx.GetItem(ctx, "a"); ok {
			t.Fatal("rolled back write visible")
		}
	})
}

func TestRedact(t *testing.T) {
	if got := Redact("postgres://u:secret@h:5432/db"); got != "postgres://u:xxxxx@h:5432/db" {
		t.Fatalf("Redact=%q", got)
	}
	if got := Redact("sqlite:file:x.db"); got != "sqlite:file:x.db" {
		t.Fatalf("Redact=%q", got)
	}
}

func TestPutVersionOverwritesSameKey(t *testing.T) {
	st := openSQLite(t)

	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		for v := int64(1); v <= 2; v++ {
			if err := tx.PutVersion(ctx, store.NewVersionRecord(item("k", v, store.KindPermanent, nil))); err != nil {
				t.Fatal(err)
			}
		}
		fresh := item("k", 1, store.KindPermanent, nil)
		fresh.Content = "fresh"
		if err := tx.PutVersion(ctx, store.NewVersionRecord(fresh)); err != nil {
			t.Fatal(err)
		}
	})

	inTx(t, st, func(ctx context.Context, tx store.Tx) {
		vs, err := tx.VersionNumbers(ctx, "k")
		if err != nil || !slices.Equal(vs, []int64{1, 2}) {
			t.Fatalf("versions=%v err=%v", vs, err)
		}
		rec, ok, err := tx.GetVersion(ctx, "k", 1)
		if err != nil || !ok || rec.Content != "fresh" {
			t.Fatalf("version 1=%+v ok=%v err=%v", rec, ok, err)
		}
		rec, ok, err = tx.GetVersion(ctx, "k", 2)
		if err != nil || !ok || rec.Content != "k-content" {
			t.Fatalf("version 2=%+v ok=%v err=%v", rec, ok, err)
		}
	})
}

type countlessResult struct{}

func (countlessResult) LastInsertId() (int64, error) { return 0, nil }
func (countlessResult) RowsAffected() (int64, error) { return 0, errors.New("no count") }

type countedResult int64

func (r countedResult) LastInsertId() (int64, error) { return 0, nil }
func (r countedResult) RowsAffected() (int64, error) { return int64(r), nil }

func TestRowsAffectedReportsFailures(t *testing.T) {
	if _, err := rowsAffected("delete versions", countlessResult{}); !errors.Is(err, store.ErrTransaction) {
		t.Fatalf("err=%v want ErrTransaction", err)
	}
	n, err := rowsAffected("delete versions", countedResult(4))
	if err != nil || n != 4 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
