package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/provdir-labs/suppress/internal/session"
	"github.com/provdir-labs/suppress/internal/universe"
)

// Run executes one full suppression pass over the given universe:
// categorization, independent rule evaluation, verdict aggregation, and
// audit metrics. All intermediate state lives in session-scoped relations
// that are dropped before Run returns, success or failure. The external
// store is never mutated outside the session.
func (e *Engine) Run(ctx context.Context, u *universe.Universe) (*Results, error) {
	return e.RunWithSessionID(ctx, u, "")
}

// RunWithSessionID runs under a caller-chosen session ID so that consumers
// such as the run ledger can record the run before it starts. An empty ID
// generates a fresh one.
func (e *Engine) RunWithSessionID(ctx context.Context, u *universe.Universe, sessionID string) (*Results, error) {
	if u == nil || len(u.NPIs) == 0 {
		return nil, fmt.Errorf("universe is empty: nothing to evaluate")
	}

	if err := e.ensureDBConnected(ctx); err != nil {
		return nil, err
	}

	started := time.Now()

	sess := session.NewWithID(e.db, sessionID, e.logger)
	defer sess.Cleanup()

	e.logger.Info("run started",
		"session", sess.ID(),
		"universe", len(u.NPIs),
		"invalid", len(u.Invalid),
		"duplicates", u.Duplicates)

	cat, rel, err := e.categorize(ctx, sess, u)
	if err != nil {
		return nil, err
	}

	outcomes, err := e.executeRules(ctx, sess, rel)
	if err != nil {
		return nil, err
	}

	verdicts, stats, masterRel, err := e.aggregate(ctx, sess, rel, outcomes)
	if err != nil {
		return nil, err
	}

	impacts, err := e.ruleImpacts(ctx, masterRel, outcomes)
	if err != nil {
		return nil, err
	}

	combos, err := e.combinations(ctx, masterRel, outcomes)
	if err != nil {
		return nil, err
	}

	downstream, err := e.downstreamImpact(ctx, masterRel)
	if err != nil {
		return nil, err
	}

	results := &Results{
		SessionID:    sess.ID(),
		StartedAt:    started,
		CompletedAt:  time.Now(),
		Universe:     u,
		Categories:   cat,
		Rules:        e.rules,
		Outcomes:     outcomes,
		Verdicts:     verdicts,
		Stats:        stats,
		Impacts:      impacts,
		Combinations: combos,
		Downstream:   downstream,
	}

	e.logger.Info("run completed",
		"session", sess.ID(),
		"duration", results.CompletedAt.Sub(started).Round(time.Millisecond),
		"failed_rules", len(results.FailedRules()))

	return results, nil
}

// LoadUniverseFromTable builds a universe from an existing relation in the
// external store, applying the same validation and de-duplication as file
// loading.
func (e *Engine) LoadUniverseFromTable(ctx context.Context, table, column string) (*universe.Universe, error) {
	if err := e.ensureDBConnected(ctx); err != nil {
		return nil, err
	}

	raw, err := e.queryNPIList(ctx, fmt.Sprintf("SELECT %s FROM %s", column, table))
	if err != nil {
		return nil, fmt.Errorf("failed to read universe from %s: %w", table, err)
	}

	u := universe.FromNPIs(raw, "table:"+table)
	e.logger.Info("universe loaded",
		"source", u.Source,
		"valid", len(u.NPIs),
		"invalid", len(u.Invalid),
		"duplicates", u.Duplicates)
	return u, nil
}
