// Package session owns the external store connection for the duration of
// one suppression run and manages the session-scoped temporary relations
// ("volatile tables") that hold intermediate universes and rule outputs.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/provdir-labs/suppress/internal/adapter"
)

// Column describes one column of a scoped relation.
type Column struct {
	Name string
	Type string
}

// Session wraps one adapter connection and tracks every temporary relation
// created through it. All access is serialized: temporary relations are
// only visible inside a single connection's session, so concurrent
// statements would at best contend and at worst see nothing.
type Session struct {
	db     adapter.Adapter
	id     string
	logger *slog.Logger

	mu      sync.Mutex
	created []string
}

// New creates a Session over an already-connected adapter. The session ID
// suffixes every scoped relation name, so multiple runs can coexist in one
// process (e.g. in tests) without interference.
func New(db adapter.Adapter, logger *slog.Logger) *Session {
	return NewWithID(db, "", logger)
}

// NewWithID creates a Session under a caller-chosen ID, so that consumers
// can reference the run before the session starts. An empty ID generates a
// fresh one.
func NewWithID(db adapter.Adapter, id string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if id == "" {
		id = NewID()
	}
	return &Session{
		db:     db,
		id:     id,
		logger: logger,
	}
}

// NewID returns a fresh 8-character session identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ID returns the run session identifier.
func (s *Session) ID() string {
	return s.id
}

// RelationName returns the session-scoped name for a relation suffix
// without creating it.
func (s *Session) RelationName(suffix string) string {
	return fmt.Sprintf("%s_%s", suffix, s.id)
}

// CreateScopedRelation creates a temporary relation named
// <suffix>_<sessionID> and registers it for cleanup. The relation's
// lifetime is bound to the session; Cleanup drops it explicitly so that
// long-lived connections do not accumulate relations across runs.
func (s *Session) CreateScopedRelation(ctx context.Context, suffix string, columns []Column) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.RelationName(suffix)

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = c.Name + " " + c.Type
	}

	ddl := fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s)", name, strings.Join(defs, ", "))
	if err := s.db.Exec(ctx, ddl); err != nil {
		return "", fmt.Errorf("failed to create scoped relation %s: %w", name, err)
	}

	s.created = append(s.created, name)
	s.logger.Debug("created scoped relation", "relation", name)
	return name, nil
}

// PopulateFromQuery fills a scoped relation with the result of a SELECT.
func (s *Session) PopulateFromQuery(ctx context.Context, name string, columns []string, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	insert := fmt.Sprintf("INSERT INTO %s (%s) %s", name, strings.Join(columns, ", "), query)
	if err := s.db.Exec(ctx, insert); err != nil {
		return fmt.Errorf("failed to populate %s: %w", name, err)
	}
	return nil
}

// PopulateRows inserts literal rows into a scoped relation in batches of
// batchSize. Values are embedded as quoted literals: callers only pass
// pre-validated identifiers (NPIs are digit-checked before they reach the
// store), and quotes are escaped regardless.
func (s *Session) PopulateRows(ctx context.Context, name string, columns []string, rows [][]string, batchSize int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batchSize <= 0 {
		batchSize = len(rows)
	}

	inserted := 0
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))

		var b strings.Builder
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", name, strings.Join(columns, ", "))
		for i, row := range rows[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			for j, v := range row {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteByte('\'')
				b.WriteString(strings.ReplaceAll(v, "'", "''"))
				b.WriteByte('\'')
			}
			b.WriteByte(')')
		}

		if err := s.db.Exec(ctx, b.String()); err != nil {
			return inserted, fmt.Errorf("failed to populate %s (rows %d-%d): %w", name, start, end-1, err)
		}
		inserted += end - start
	}

	s.logger.Debug("populated scoped relation", "relation", name, "rows", inserted)
	return inserted, nil
}

// Truncate removes all rows from a scoped relation. Used when re-filling
// per-batch working relations.
func (s *Session) Truncate(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Exec(ctx, "DELETE FROM "+name); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", name, err)
	}
	return nil
}

// Count returns the row count of a relation.
func (s *Session) Count(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+name).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", name, err)
	}
	return n, nil
}

// Cleanup drops every relation this session created, in reverse creation
// order. It runs on every exit path, including failures and cancellation;
// individual drop failures are logged and do not stop the sweep. Cleanup
// uses its own context so that an already-cancelled run context cannot
// prevent the drops from being issued.
func (s *Session) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	for i := len(s.created) - 1; i >= 0; i-- {
		name := s.created[i]
		if err := s.db.Exec(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
			s.logger.Warn("failed to drop scoped relation", "relation", name, "error", err)
			continue
		}
		s.logger.Debug("dropped scoped relation", "relation", name)
	}
	s.created = nil
}
