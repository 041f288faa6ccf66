// Package state persists per-account poll cursors in SQLite so a restart
// resumes from the last committed offset instead of refetching updates.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the cursor database. A single connection in WAL mode keeps
// writes serialized without explicit locking.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cursor database at dbPath, creating parent
// directories and the schema as needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cursors (
			account_id TEXT PRIMARY KEY,
			offset     INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate state db: %w", err)
	}
	return nil
}

// Cursor returns the persisted poll offset for an account, or 0 when none
// has been recorded yet.
func (s *Store) Cursor(ctx context.Context, accountID string) (int64, error) {
	var offset int64
	err := s.db.QueryRowContext(ctx,
		`SELECT offset FROM cursors WHERE account_id = ?`, accountID,
	).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return offset, nil
}

// SetCursor records the poll offset for an account.
func (s *Store) SetCursor(ctx context.Context, accountID string, offset int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (account_id, offset, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET offset = excluded.offset, updated_at = excluded.updated_at
	`, accountID, offset, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
