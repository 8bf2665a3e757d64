package wbdclip

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteLedgerSchema = `
CREATE TABLE IF NOT EXISTS done (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	marked_at TEXT NOT NULL
);`

// SQLiteLedger records completion in a single sqlite database. Marking is
// transactional; the database must live on storage that supports sqlite file
// locking.
type SQLiteLedger struct {
	db        *sql.DB
	owner     string
	Artifacts ArtifactStore
}

func OpenSQLiteLedger(file, owner string, artifacts ArtifactStore) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	db, err := sql.Open("sqlite3", file+"?_busy_timeout=30000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", file, err)
	}
	if _, err := db.Exec(sqliteLedgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteLedger{db: db, owner: owner, Artifacts: artifacts}, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) IsDone(ctx context.Context, id string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM done WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}
	return l.Artifacts.Verify(ctx, id)
}

func (l *SQLiteLedger) PendingOf(ctx context.Context, ids []string) ([]string, error) {
	return pendingOf(ctx, l, ids)
}

func (l *SQLiteLedger) MarkDone(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `INSERT OR IGNORE INTO done (id, owner, marked_at) VALUES (?, ?, ?)`,
		id, l.owner, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark %s done: %w", id, err)
	}
	return nil
}
