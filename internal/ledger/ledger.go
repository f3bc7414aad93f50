// Package ledger persists a local audit trail of suppression runs in
// SQLite. The engine itself never writes outside its session; the ledger is
// a consumer-side record kept next to the report files.
package ledger

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/provdir-labs/suppress/internal/engine"
)

// RunStatus is the terminal state of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one ledger row describing a suppression run.
type Run struct {
	SessionID       string
	Status          RunStatus
	StartedAt       time.Time
	CompletedAt     sql.NullTime
	UniverseSize    int64
	Practitioners   int64
	TotalPairs      int64
	SuppressedPairs int64
	SuppressedNPIs  int64
	FailedRules     int64
	Error           string
}

// RuleRun is one rule's outcome within a recorded run.
type RuleRun struct {
	SessionID  string
	RuleID     string
	Status     string
	Matched    int64
	DurationMS int64
	Error      string
}

// Store is a SQLite-backed run ledger.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the ledger at path and applies pending
// migrations. Use ":memory:" for an in-memory ledger.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	} else {
		dsn = ":memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the ledger database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(sessionID string, universeSize int) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (session_id, status, started_at, universe_size) VALUES (?, ?, ?, ?)`,
		sessionID, RunStatusRunning, time.Now().UTC(), universeSize,
	)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// CompleteRun records a finished run together with its per-rule outcomes.
func (s *Store) CompleteRun(res *engine.Results) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, practitioners = ?,
			total_pairs = ?, suppressed_pairs = ?, suppressed_npis = ?, failed_rules = ?
		 WHERE session_id = ?`,
		RunStatusCompleted, time.Now().UTC(),
		res.Categories.Counts[engine.CategoryPractitioner],
		res.Stats.TotalPairs, res.Stats.SuppressedPairs, res.Stats.SuppressedNPIs,
		len(res.FailedRules()), res.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run completion: %w", err)
	}

	for _, r := range res.Rules {
		o := res.Outcomes[r.ID]
		errMsg := ""
		if o.Err != nil {
			errMsg = o.Err.Error()
		}
		_, err = tx.Exec(
			`INSERT INTO rule_runs (session_id, rule_id, status, matched, duration_ms, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			res.SessionID, r.ID, string(o.Status), o.Matched, o.Duration.Milliseconds(), errMsg,
		)
		if err != nil {
			return fmt.Errorf("failed to record rule outcome: %w", err)
		}
	}

	return tx.Commit()
}

// RecordFailure marks a run as failed. When BeginRun already recorded the
// session the existing row is updated in place; otherwise a failed row is
// inserted, generating an ID when none is given.
func (s *Store) RecordFailure(sessionID string, universeSize int, runErr error) error {
	if sessionID == "" {
		sessionID = strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO runs (session_id, status, started_at, completed_at, universe_size, error)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			error = excluded.error`,
		sessionID, RunStatusFailed, now, now, universeSize, msg,
	)
	if err != nil {
		return fmt.Errorf("failed to record run failure: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT session_id, status, started_at, completed_at, universe_size,
			practitioners, total_pairs, suppressed_pairs, suppressed_npis, failed_rules, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var r Run
		var errMsg sql.NullString
		if err := rows.Scan(&r.SessionID, &r.Status, &r.StartedAt, &r.CompletedAt,
			&r.UniverseSize, &r.Practitioners, &r.TotalPairs,
			&r.SuppressedPairs, &r.SuppressedNPIs, &r.FailedRules, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// RuleRuns returns the per-rule outcomes recorded for a session.
func (s *Store) RuleRuns(sessionID string) ([]RuleRun, error) {
	rows, err := s.db.Query(
		`SELECT session_id, rule_id, status, matched, duration_ms, error
		 FROM rule_runs WHERE session_id = ? ORDER BY rule_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RuleRun
	for rows.Next() {
		var rr RuleRun
		var errMsg sql.NullString
		if err := rows.Scan(&rr.SessionID, &rr.RuleID, &rr.Status, &rr.Matched, &rr.DurationMS, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan rule run: %w", err)
		}
		rr.Error = errMsg.String
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule runs: %w", err)
	}
	return out, nil
}
