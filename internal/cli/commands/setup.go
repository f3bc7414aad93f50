// Package commands implements the suppress CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/provdir-labs/suppress/internal/config"
	"github.com/provdir-labs/suppress/internal/engine"
	"github.com/provdir-labs/suppress/internal/rules"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Engine *engine.Engine
	Corpus []*rules.Rule
}

type loggerKey struct{}

// WithLogger stores the logger in the context for command use.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom retrieves the logger from the context, or a discard logger.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// NewCommandContext creates a CommandContext with a configured engine.
// Returns the context and a cleanup function that must be called
// (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := config.GetCurrent()
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration not loaded")
	}
	logger := LoggerFrom(cmd.Context())

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	corpus, err := rules.Load(cfg.RulesPath)
	if err != nil {
		return nil, nil, err
	}

	eng, err := engine.New(engine.Config{
		AdapterConfig: cfg.Target.ToAdapterConfig(),
		Reference:     cfg.Reference,
		BatchSize:     cfg.BatchSize,
		Logger:        logger,
	}, corpus)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = eng.Close()
	}

	return &CommandContext{
		Cfg:    cfg,
		Logger: logger,
		Engine: eng,
		Corpus: corpus,
	}, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that don't need store access.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	return &CommandContext{
		Cfg:    config.GetCurrent(),
		Logger: LoggerFrom(cmd.Context()),
	}
}
