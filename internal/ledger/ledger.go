// Package ledger persists the outcome of every ingestion attempt to a small
// SQLite database, so what happened to a drop survives the session that
// observed it.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"parley/internal/attach"
	"parley/internal/logging"
)

// Entry is one recorded pipeline outcome.
type Entry struct {
	ID        int64
	At        time.Time
	Origin    string
	Filename  string
	SizeBytes int64
	Outcome   string
	Detail    string
}

// Ledger is an append-mostly store of ingestion outcomes.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open creates or opens the ledger database at path, creating parent
// directories as needed.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare ledger dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TIMESTAMP NOT NULL,
	origin TEXT NOT NULL,
	filename TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db, path: path}, nil
}

// Record appends one entry.
func (l *Ledger) Record(e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := l.db.ExecContext(context.Background(), `
INSERT INTO ledger (at, origin, filename, size_bytes, outcome, detail)
VALUES (?, ?, ?, ?, ?, ?)`,
		at, e.Origin, e.Filename, e.SizeBytes, e.Outcome, e.Detail)
	return err
}

// RecordJournal adapts the pipeline's journal hook. Write failures are
// logged rather than returned; ingestion must not stall on bookkeeping.
func (l *Ledger) RecordJournal(je attach.JournalEntry) {
	err := l.Record(Entry{
		At:        je.At,
		Origin:    string(je.Origin),
		Filename:  je.Filename,
		SizeBytes: je.SizeBytes,
		Outcome:   je.Outcome,
		Detail:    je.Detail,
	})
	if err != nil {
		logging.ErrorLog("ledger record: %v", err)
	}
}

// Recent returns the latest entries, newest first.
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(context.Background(), `
SELECT id, at, origin, filename, size_bytes, outcome, detail
FROM ledger
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.At, &e.Origin, &e.Filename, &e.SizeBytes, &e.Outcome, &detail); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Totals counts entries per outcome across the whole ledger.
func (l *Ledger) Totals() (map[string]int, error) {
	rows, err := l.db.QueryContext(context.Background(), `
SELECT outcome, COUNT(*) FROM ledger GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		totals[outcome] = count
	}
	return totals, rows.Err()
}

// Path returns the database location.
func (l *Ledger) Path() string {
	return l.path
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
