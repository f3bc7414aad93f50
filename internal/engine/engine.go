// Package engine implements the rule execution and suppression aggregation
// engine: universe categorization, independent rule evaluation against
// session-scoped relations, verdict aggregation, and audit metrics.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/provdir-labs/suppress/internal/adapter"
	"github.com/provdir-labs/suppress/internal/config"
	"github.com/provdir-labs/suppress/internal/rules"
)

// Engine orchestrates one or more suppression runs against an external
// relational store. Each run owns its own session and temporary relations,
// so engines (and runs) can coexist in one process.
type Engine struct {
	// Database adapter (lazy initialized)
	db          adapter.Adapter
	dbConfig    adapter.Config
	dbConnected bool
	dbMu        sync.Mutex

	logger    *slog.Logger
	batchSize int
	reference config.ReferenceConfig
	rules     []*rules.Rule
}

// Config holds engine configuration.
type Config struct {
	// AdapterConfig selects and configures the external store.
	AdapterConfig adapter.Config
	// Reference names the provider reference relations in the store.
	Reference config.ReferenceConfig
	// BatchSize bounds per-statement row counts; universes larger than
	// this are processed in fixed-size batches.
	BatchSize int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// New creates an engine over the given rule corpus with a lazy store
// connection. The corpus is validated up front: a malformed definition is a
// configuration error and aborts before any rule executes.
func New(cfg Config, corpus []*rules.Rule) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if len(corpus) == 0 {
		return nil, fmt.Errorf("rule corpus is empty")
	}
	seen := make(map[string]struct{}, len(corpus))
	for _, r := range corpus {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[r.ID]; dup {
			return nil, &rules.ValidationError{Rule: r.ID, Reason: "duplicate rule id"}
		}
		seen[r.ID] = struct{}{}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}

	reference := cfg.Reference
	reference.ApplyDefaults()

	logger.Debug("initializing engine",
		"adapter_type", cfg.AdapterConfig.Type,
		"rules", len(corpus),
		"batch_size", batchSize)

	return &Engine{
		db:        nil, // lazy
		dbConfig:  cfg.AdapterConfig,
		logger:    logger,
		batchSize: batchSize,
		reference: reference,
		rules:     corpus,
	}, nil
}

// ensureDBConnected lazily connects to the external store.
func (e *Engine) ensureDBConnected(ctx context.Context) error {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()

	if e.dbConnected {
		return nil
	}

	e.logger.Debug("connecting to external store", "adapter_type", e.dbConfig.Type)

	db, err := adapter.NewAdapter(e.dbConfig, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create database adapter: %w", err)
	}

	if err := db.Connect(ctx, e.dbConfig); err != nil {
		return fmt.Errorf("failed to connect to external store: %w", err)
	}

	e.db = db
	e.dbConnected = true

	e.logger.Debug("external store connected", "dialect", db.DialectName())
	return nil
}

// Close releases the store connection.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	if e.db != nil {
		if err := e.db.Close(); err != nil {
			return fmt.Errorf("error closing engine: %w", err)
		}
	}
	return nil
}

// Rules returns the engine's rule corpus in file order.
func (e *Engine) Rules() []*rules.Rule {
	return e.rules
}
