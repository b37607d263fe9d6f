package agent

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteThreadStore persists thread state so a suspension survives process
// restarts and can be resolved by a separate process (e.g. the approvals CLI
// against a shared database file).
type SQLiteThreadStore struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteThreadStore(dsn string) (*SQLiteThreadStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	s := &SQLiteThreadStore{dsn: dsn}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteThreadStore) Load(ctx context.Context, threadID string) (ThreadRecord, bool, error) {
	if s == nil {
		return ThreadRecord{}, false, fmt.Errorf("nil thread store")
	}
	if err := s.ensureOpen(); err != nil {
		return ThreadRecord{}, false, err
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ThreadRecord{}, false, nil
	}

	var (
		rec           ThreadRecord
		status        string
		updatedAtUnix int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT thread_id, status, state, updated_at_unix
FROM caregate_threads
WHERE thread_id = ?
`, threadID).Scan(&rec.ThreadID, &status, &rec.State, &updatedAtUnix)
	if err == sql.ErrNoRows {
		return ThreadRecord{}, false, nil
	}
	if err != nil {
		return ThreadRecord{}, false, err
	}
	rec.Status = ThreadStatus(status)
	rec.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
	return rec, true, nil
}

func (s *SQLiteThreadStore) Save(ctx context.Context, rec ThreadRecord) error {
	if s == nil {
		return fmt.Errorf("nil thread store")
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	threadID := strings.TrimSpace(rec.ThreadID)
	if threadID == "" {
		return fmt.Errorf("missing thread id")
	}
	switch rec.Status {
	case StatusIdle, StatusSuspended:
	default:
		return fmt.Errorf("invalid thread status: %q", rec.Status)
	}

	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO caregate_threads (thread_id, status, state, updated_at_unix)
VALUES (?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
  status = excluded.status,
  state = excluded.state,
  updated_at_unix = excluded.updated_at_unix
`, threadID, string(rec.Status), rec.State, now)
	return err
}

// ClaimSuspended consumes a suspension with a guarded transition: the UPDATE
// only matches while status is still 'suspended', so of N concurrent claimers
// exactly one sees rows-affected = 1.
func (s *SQLiteThreadStore) ClaimSuspended(ctx context.Context, threadID string) (ThreadRecord, bool, error) {
	if s == nil {
		return ThreadRecord{}, false, fmt.Errorf("nil thread store")
	}
	rec, ok, err := s.Load(ctx, threadID)
	if err != nil || !ok || rec.Status != StatusSuspended {
		return ThreadRecord{}, false, err
	}

	// Matching on the state blob as well as the status pins the claim to the
	// exact batch that was read, not a later re-suspension.
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
UPDATE caregate_threads
SET status = ?, updated_at_unix = ?
WHERE thread_id = ? AND status = ? AND state = ?
`, string(StatusIdle), now, rec.ThreadID, string(StatusSuspended), rec.State)
	if err != nil {
		return ThreadRecord{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ThreadRecord{}, false, err
	}
	if affected == 0 {
		// Another claimer won between the read and the update.
		return ThreadRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *SQLiteThreadStore) ListSuspended(ctx context.Context) ([]ThreadRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("nil thread store")
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT thread_id, status, state, updated_at_unix
FROM caregate_threads
WHERE status = ?
ORDER BY updated_at_unix ASC
`, string(StatusSuspended))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ThreadRecord
	for rows.Next() {
		var (
			rec           ThreadRecord
			status        string
			updatedAtUnix int64
		)
		if err := rows.Scan(&rec.ThreadID, &status, &rec.State, &updatedAtUnix); err != nil {
			return nil, err
		}
		rec.Status = ThreadStatus(status)
		rec.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteThreadStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteThreadStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	s.db = db
	return s.migrate()
}

func (s *SQLiteThreadStore) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	return s.open()
}

func (s *SQLiteThreadStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS caregate_threads (
  thread_id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  state BLOB,
  updated_at_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_caregate_threads_status ON caregate_threads(status);
`)
	return err
}
