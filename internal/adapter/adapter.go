// Package adapter provides database adapter interfaces and implementations
// for the suppression engine's external relational store.
package adapter

import (
	"context"
	"database/sql"
)

// Config holds the configuration for connecting to a database.
type Config struct {
	// Type specifies the database type (e.g., "duckdb", "postgres")
	Type string

	// Path is the file path for file-based databases (e.g., DuckDB)
	// Use ":memory:" for an in-memory database
	Path string

	// Host is the hostname for network-based databases
	Host string

	// Port is the port number for network-based databases
	Port int

	// Database is the database name
	Database string

	// Username for authentication
	Username string

	// Password for authentication
	Password string

	// Schema is the default schema to use
	Schema string

	// Options contains additional driver-specific options
	Options map[string]string
}

// Rows wraps sql.Rows to provide a consistent interface across adapters.
type Rows struct {
	*sql.Rows
}

// Adapter defines the interface that all database adapters must implement.
// The suppression engine issues templated query strings through it and
// receives tabular result sets. One adapter connection equals one store
// session: temporary relations created through Exec are only visible on
// that same connection.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a SQL statement that doesn't return rows (e.g., INSERT, CREATE).
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string) *sql.Row

	// DialectName returns the SQL dialect name for this adapter (e.g., "duckdb").
	DialectName() string
}
