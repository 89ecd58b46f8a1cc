// Package history implements the run-history store the Planner consults
// for self-evaluation hints (SPEC_FULL §4.9): one row per finished Run,
// queried by a normalized hash of the acceptance criterion so the Planner
// can fold "a similar task failed before because X" into its prompt.
// Entirely additive and best-effort: a missing or corrupt database
// degrades to no hint, never to a pipeline error.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Outcome is the closed set of recorded run outcomes.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Entry is one historical run record.
type Entry struct {
	AcceptanceHash string
	TaskType       string
	Outcome        Outcome
	JudgeReason    string
	CompletedAt    time.Time
}

// Store wraps a sqlite-backed history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS run_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	acceptance_hash TEXT NOT NULL,
	task_type TEXT NOT NULL,
	outcome TEXT NOT NULL,
	judge_reason TEXT,
	completed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_history_hash ON run_history(acceptance_hash);
`

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// NormalizeAcceptanceHash produces a stable key for an acceptance
// criterion: lowercased, whitespace-collapsed, then SHA-256 hashed, so
// trivially reworded criteria still hit the same history bucket.
func NormalizeAcceptanceHash(acceptance string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(acceptance)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Record persists one finished run's outcome. Failures to write are
// swallowed by callers per the package's best-effort contract; Record
// itself still reports the error so a caller that wants to log it can.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_history (acceptance_hash, task_type, outcome, judge_reason, completed_at) VALUES (?, ?, ?, ?, ?)`,
		e.AcceptanceHash, e.TaskType, string(e.Outcome), e.JudgeReason, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Hint returns a one-line planning hint derived from the most recent
// failure recorded against acceptanceHash, or "" if there is no such
// history. Never returns an error: a query failure is treated the same
// as no history, consistent with the package's best-effort contract.
func (s *Store) Hint(ctx context.Context, acceptanceHash string) string {
	var reason string
	var completedAt time.Time
	row := s.db.QueryRowContext(ctx,
		`SELECT judge_reason, completed_at FROM run_history WHERE acceptance_hash = ? AND outcome = ? ORDER BY completed_at DESC LIMIT 1`,
		acceptanceHash, string(OutcomeFailure),
	)
	if err := row.Scan(&reason, &completedAt); err != nil {
		return ""
	}
	if reason == "" {
		return ""
	}
	return fmt.Sprintf("A similar task failed before because: %s", reason)
}
