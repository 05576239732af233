package utils

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tx.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', '1')`)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n := countRows(t, db); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := openTestDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := countRows(t, db); n != 0 {
		t.Fatalf("expected rollback, got %d rows", n)
	}
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := openTestDB(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	if n := countRows(t, db); n != 0 {
		t.Fatalf("expected rollback, got %d rows", n)
	}
}

func TestPoolConfig_Defaults(t *testing.T) {
	c := PoolConfig{MaxOpenConns: 4, MaxIdleConns: 9}.withDefaults()
	if c.MaxIdleConns != 4 {
		t.Fatalf("expected idle capped at open conns, got %d", c.MaxIdleConns)
	}
	if c.PingTimeout <= 0 || c.ConnMaxLifetime <= 0 {
		t.Fatalf("expected timeouts defaulted: %+v", c)
	}
}

func TestOpenDB_Errors(t *testing.T) {
	if _, err := OpenDB(context.Background(), "", "x", PoolConfig{}); err == nil {
		t.Fatalf("expected error for empty driver")
	}
	if _, err := OpenDB(context.Background(), "no-such-driver", "x", PoolConfig{}); err == nil {
		t.Fatalf("expected error for unregistered driver")
	}
}

func TestOpenSQLite_SingleConnection(t *testing.T) {
	db := openTestDB(t)
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("expected one open connection, got %d", got)
	}
}
