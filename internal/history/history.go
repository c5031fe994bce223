// Package history is the append-only output history cache. The poller
// appends every decoded chunk; readers page back through recent output.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/fleetwatch/internal/clock"
)

// Cache receives output chunks. Implementations must be safe for concurrent
// use; callers treat failures as non-fatal.
type Cache interface {
	AppendOutput(ctx context.Context, sessionID, text string) error
}

// Entry is one stored chunk.
type Entry struct {
	SessionID  string
	RecordedAt time.Time
	Text       string
}

// DefaultFileName is the database file created under the data directory.
const DefaultFileName = "history.db"

// SQLite is a Cache persisted in a SQLite database.
type SQLite struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (creating if needed) the database at path and applies
// migrations. A nil clk uses the real clock.
func Open(ctx context.Context, path string, clk clock.Clock) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("history: empty database path")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, clock: clk}, nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendOutput implements Cache.
func (s *SQLite) AppendOutput(ctx context.Context, sessionID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO output_chunks(session_id, recorded_at, body) VALUES (?, ?, ?)`,
		sessionID, ts(s.clock.Now()), text)
	if err != nil {
		return fmt.Errorf("append output for %s: %w", sessionID, err)
	}
	return nil
}

// Recent returns up to limit of the newest chunks for sessionID, oldest first.
func (s *SQLite) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT recorded_at, body FROM (
	SELECT seq, recorded_at, body FROM output_chunks
	WHERE session_id = ?
	ORDER BY seq DESC
	LIMIT ?
) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var at, body string
		if err := rows.Scan(&at, &body); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		recorded, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", at, err)
		}
		out = append(out, Entry{SessionID: sessionID, RecordedAt: recorded, Text: body})
	}
	return out, rows.Err()
}

// Prune keeps only the newest keep chunks for sessionID and returns how many
// rows were removed.
func (s *SQLite) Prune(ctx context.Context, sessionID string, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM output_chunks
WHERE session_id = ? AND seq NOT IN (
	SELECT seq FROM output_chunks WHERE session_id = ? ORDER BY seq DESC LIMIT ?
)`, sessionID, sessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune history for %s: %w", sessionID, err)
	}
	return res.RowsAffected()
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
