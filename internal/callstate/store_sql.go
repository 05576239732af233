package callstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"callkit-bridge/pkg/utils"
)

// Dialect selects placeholder syntax for SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const lastCallPointer = "last_call_id"

// SQLStore persists call records through database/sql. It runs on Postgres
// (pgx stdlib driver) and SQLite (modernc.org/sqlite); queries are written
// with '?' placeholders and rebound per dialect.
//
// NOTE: This store assumes the following tables exist (see Migrate):
// - call_records  (one row per call: state + metadata JSON)
// - call_pointers (singleton rows, currently only last_call_id)
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sql db is nil")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Migrate creates the tables if they are missing. It is idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS call_records (
  call_id    TEXT PRIMARY KEY,
  state      TEXT NOT NULL,
  metadata   TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS call_pointers (
  name    TEXT PRIMARY KEY,
  call_id TEXT NOT NULL
)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, callID string) (Record, bool, error) {
	const q = `
SELECT state, metadata, created_at, updated_at
FROM call_records
WHERE call_id = ?
`
	var (
		rec              Record
		state, metadata  string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, s.q(q), callID).Scan(&state, &metadata, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	rec.CallID = callID
	rec.State = CallState(state)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return Record{}, false, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, true, nil
}

func (s *SQLStore) Create(ctx context.Context, rec Record) (bool, error) {
	const insertRecord = `
INSERT INTO call_records (call_id, state, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (call_id) DO NOTHING
`
	const movePointer = `
INSERT INTO call_pointers (name, call_id)
VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET call_id = excluded.call_id
`
	data, err := json.Marshal(rec.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}

	var created bool
	err = utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(insertRecord),
			rec.CallID,
			string(rec.State),
			string(data),
			rec.CreatedAt.UnixNano(),
			rec.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.q(movePointer), lastCallPointer, rec.CallID); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (s *SQLStore) PutState(ctx context.Context, callID string, state CallState, now time.Time) error {
	const q = `
INSERT INTO call_records (call_id, state, metadata, created_at, updated_at)
VALUES (?, ?, '', ?, ?)
ON CONFLICT (call_id)
DO UPDATE SET state = excluded.state,
              updated_at = excluded.updated_at
`
	ts := now.UnixNano()
	_, err := s.db.ExecContext(ctx, s.q(q), callID, string(state), ts, ts)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, callID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM call_records WHERE call_id = ?`), callID)
	return err
}

func (s *SQLStore) LastCallID(ctx context.Context) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT call_id FROM call_pointers WHERE name = ?`), lastCallPointer).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, id != "", nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return utils.HealthCheck(ctx, s.db, 2*time.Second)
}
