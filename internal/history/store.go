// Package history journals request completions into a SQLite database so
// the CLI can show what ran, how long it waited and how it ended.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/warpdl/warpreq/pkg/reqlib"

	_ "modernc.org/sqlite"
)

const createCompletionsTable = `
CREATE TABLE IF NOT EXISTS completions (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id   TEXT NOT NULL,
    verb         TEXT NOT NULL,
    url          TEXT NOT NULL,
    status       TEXT NOT NULL,
    reason       TEXT NOT NULL,
    code         INTEGER,
    bytes        INTEGER NOT NULL,
    elapsed_ms   INTEGER NOT NULL,
    waited_ms    INTEGER NOT NULL,
    error        TEXT,
    completed_at DATETIME NOT NULL
)`

const createRequestIndex = `CREATE INDEX IF NOT EXISTS completions_request_id ON completions (request_id)`

// ErrNotFound is returned when no completion matches.
var ErrNotFound = errors.New("completion not found")

// Record is one finished attempt.
type Record struct {
	Seq         int64
	RequestID   string
	Verb        string
	URL         string
	Status      string
	Reason      string
	Code        *int
	Bytes       int64
	Elapsed     time.Duration
	Waited      time.Duration
	Error       *string
	CompletedAt time.Time
}

// NewRecord snapshots the outcome of req's last attempt.
func NewRecord(req *reqlib.Request, now time.Time) *Record {
	r := &Record{
		RequestID:   req.ID(),
		Verb:        req.Verb(),
		URL:         req.URL(),
		Status:      req.Status().String(),
		Reason:      req.FailureReason().String(),
		Elapsed:     req.Elapsed(),
		Waited:      req.WaitedInQueue(),
		CompletedAt: now.UTC(),
	}
	if resp := req.Response(); resp != nil {
		code := resp.Code
		r.Code = &code
		r.Bytes = int64(len(resp.Body))
	}
	if err := req.Err(); err != nil {
		msg := err.Error()
		r.Error = &msg
	}
	return r
}

// Store persists records in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it and its directory if needed.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []struct{ what, sql string }{
		{"set WAL mode", "PRAGMA journal_mode=WAL"},
		{"set busy timeout", "PRAGMA busy_timeout = 5000"},
		{"create completions table", createCompletionsTable},
		{"create request index", createRequestIndex},
	} {
		if _, err := db.Exec(stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt.what, err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts r and sets its Seq.
func (s *Store) Add(ctx context.Context, r *Record) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO completions (
			request_id, verb, url, status, reason, code, bytes,
			elapsed_ms, waited_ms, error, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.Verb, r.URL, r.Status, r.Reason, r.Code, r.Bytes,
		r.Elapsed.Milliseconds(), r.Waited.Milliseconds(), r.Error, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	if r.Seq, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("read completion id: %w", err)
	}
	return nil
}

const selectColumns = `SELECT seq, request_id, verb, url, status, reason, code, bytes,
	elapsed_ms, waited_ms, error, completed_at FROM completions`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	r := &Record{}
	var elapsed, waited int64
	if err := row.Scan(
		&r.Seq, &r.RequestID, &r.Verb, &r.URL, &r.Status, &r.Reason, &r.Code, &r.Bytes,
		&elapsed, &waited, &r.Error, &r.CompletedAt,
	); err != nil {
		return nil, err
	}
	r.Elapsed = time.Duration(elapsed) * time.Millisecond
	r.Waited = time.Duration(waited) * time.Millisecond
	return r, nil
}

// Attempts returns every recorded attempt of a request, oldest first.
func (s *Store) Attempts(ctx context.Context, requestID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE request_id = ? ORDER BY seq`, requestID)
	if err != nil {
		return nil, fmt.Errorf("get attempts: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// List returns a page of records, newest first, along with the total count.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM completions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count completions: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selectColumns+` ORDER BY seq DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan completion: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate completions: %w", err)
	}
	return out, total, nil
}

// Clear deletes every record and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM completions")
	if err != nil {
		return 0, fmt.Errorf("clear completions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}
