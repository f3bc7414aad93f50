package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

func init() {
	Register("duckdb", func(logger *slog.Logger) Adapter { return NewDuckDBAdapter(logger) })
}

// DuckDBAdapter implements the Adapter interface for DuckDB.
// It is the default target for local runs and for integration tests,
// where ":memory:" gives a private store per test.
type DuckDBAdapter struct {
	BaseSQLAdapter
}

// NewDuckDBAdapter creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func NewDuckDBAdapter(logger *slog.Logger) *DuckDBAdapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDBAdapter{
		BaseSQLAdapter: BaseSQLAdapter{Logger: logger},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *DuckDBAdapter) DialectName() string {
	return "duckdb"
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" as the path for an in-memory database.
func (a *DuckDBAdapter) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// Temporary relations live inside one connection's session. Pinning the
	// pool to a single connection keeps every scoped relation visible to
	// every query of the run.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// Ensure DuckDBAdapter implements Adapter interface
var _ Adapter = (*DuckDBAdapter)(nil)
