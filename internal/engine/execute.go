package engine

// execute.go - independent rule evaluation against the working relations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/provdir-labs/suppress/internal/rules"
	"github.com/provdir-labs/suppress/internal/session"
)

// executeRules evaluates every enabled rule against the working relations
// and records provenance. Rules are independent predicates: each runs
// against the original universe, never against another rule's output, and
// one rule's failure never aborts the run. Execution is serialized: all
// queries share the single store session that owns the scoped relations.
func (e *Engine) executeRules(ctx context.Context, sess *session.Session, rel workingRelations) (map[string]*RuleOutcome, error) {
	outcomes := make(map[string]*RuleOutcome, len(e.rules))

	enabled := 0
	for _, r := range e.rules {
		if !r.IsEnabled() {
			outcomes[r.ID] = &RuleOutcome{Rule: r, Status: RuleStatusNotEvaluated}
			continue
		}
		enabled++

		cols := npiColumns
		if r.IsSpecialtyLevel() {
			cols = pairColumns
		}
		matchRel, err := sess.CreateScopedRelation(ctx, "rule_"+r.ID, cols)
		if err != nil {
			// Relation creation failure threatens session integrity: fatal.
			return nil, err
		}
		outcomes[r.ID] = &RuleOutcome{Rule: r, Status: RuleStatusSucceeded, MatchRelation: matchRel}
	}

	e.logger.Info("executing rules", "enabled", enabled, "total", len(e.rules))

	practitionerCount, err := sess.Count(ctx, rel.practitioners)
	if err != nil {
		return nil, err
	}

	if practitionerCount <= int64(e.batchSize) {
		e.runRulesAgainst(ctx, sess, outcomes, rel.practitioners, rel.specialtyBase)
	} else {
		if err := e.runRulesBatched(ctx, sess, outcomes, rel); err != nil {
			return nil, err
		}
	}

	// Final per-rule match counts and logging.
	for _, r := range e.rules {
		o := outcomes[r.ID]
		switch o.Status {
		case RuleStatusSucceeded:
			n, err := sess.Count(ctx, o.MatchRelation)
			if err != nil {
				return nil, err
			}
			o.Matched = n
			e.logger.Info("rule completed",
				"rule", r.ID, "matched", n, "duration", o.Duration.Round(time.Millisecond))
		case RuleStatusFailed:
			e.logger.Warn("rule failed, continuing with remaining rules",
				"rule", r.ID, "error", o.Err)
		case RuleStatusNotEvaluated:
			e.logger.Debug("rule disabled, not evaluated", "rule", r.ID)
		}
	}

	return outcomes, nil
}

// runRulesAgainst executes every still-healthy rule once against the given
// universe and base relations, accumulating matches into each rule's match
// relation.
func (e *Engine) runRulesAgainst(ctx context.Context, sess *session.Session, outcomes map[string]*RuleOutcome, universeRel, baseRel string) {
	for _, r := range e.rules {
		o := outcomes[r.ID]
		if o.Status != RuleStatusSucceeded {
			continue
		}

		start := time.Now()
		err := e.materializeRule(ctx, sess, r, o.MatchRelation, universeRel, baseRel)
		o.Duration += time.Since(start)

		if err != nil {
			o.Status = RuleStatusFailed
			o.Err = err
		}
	}
}

// runRulesBatched partitions the practitioner universe into fixed-size
// batches and evaluates every rule once per batch against per-batch
// sub-relations. Batches partition NPIs, so the union of per-batch matches
// equals the single-pass result.
func (e *Engine) runRulesBatched(ctx context.Context, sess *session.Session, outcomes map[string]*RuleOutcome, rel workingRelations) error {
	batchUniverse, err := sess.CreateScopedRelation(ctx, "universe_batch", npiColumns)
	if err != nil {
		return err
	}
	batchBase, err := sess.CreateScopedRelation(ctx, "specialty_base_batch", pairColumns)
	if err != nil {
		return err
	}

	npis, err := e.queryNPIList(ctx, "SELECT npi FROM "+rel.practitioners+" ORDER BY npi")
	if err != nil {
		return err
	}

	batches := (len(npis) + e.batchSize - 1) / e.batchSize
	e.logger.Info("batching rule execution", "npis", len(npis), "batch_size", e.batchSize, "batches", batches)

	for start := 0; start < len(npis); start += e.batchSize {
		end := min(start+e.batchSize, len(npis))

		if err := sess.Truncate(ctx, batchUniverse); err != nil {
			return err
		}
		if err := sess.Truncate(ctx, batchBase); err != nil {
			return err
		}

		batchRows := make([][]string, 0, end-start)
		for _, npi := range npis[start:end] {
			batchRows = append(batchRows, []string{npi})
		}
		if _, err := sess.PopulateRows(ctx, batchUniverse, []string{"npi"}, batchRows, e.batchSize); err != nil {
			return err
		}
		if err := sess.PopulateFromQuery(ctx, batchBase,
			[]string{"npi", "specialty_name", "concat_key"}, fmt.Sprintf(`
			SELECT b.npi, b.specialty_name, b.concat_key
			FROM %s b
			INNER JOIN %s u ON b.npi = u.npi`,
			rel.specialtyBase, batchUniverse)); err != nil {
			return err
		}

		e.runRulesAgainst(ctx, sess, outcomes, batchUniverse, batchBase)
	}

	return nil
}

// materializeRule substitutes the working relation names into the rule's
// query template and inserts the distinct matches into the rule's match
// relation. Specialty-level results gain the concat key used for joins.
func (e *Engine) materializeRule(ctx context.Context, sess *session.Session, r *rules.Rule, matchRel, universeRel, baseRel string) error {
	query := strings.TrimRight(strings.TrimSpace(r.Substitute(universeRel, baseRel)), ";")

	if r.IsSpecialtyLevel() {
		return sess.PopulateFromQuery(ctx, matchRel,
			[]string{"npi", "specialty_name", "concat_key"}, fmt.Sprintf(`
			SELECT DISTINCT r.npi, r.specialty_name, r.npi || '-' || r.specialty_name
			FROM (%s) AS r
			WHERE r.npi IS NOT NULL AND r.specialty_name IS NOT NULL`, query))
	}

	return sess.PopulateFromQuery(ctx, matchRel, []string{"npi"}, fmt.Sprintf(`
		SELECT DISTINCT r.npi
		FROM (%s) AS r
		WHERE r.npi IS NOT NULL`, query))
}

// queryNPIList runs a query returning a single npi column into an ordered slice.
func (e *Engine) queryNPIList(ctx context.Context, query string) ([]string, error) {
	rows, err := e.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var npi sql.NullString
		if err := rows.Scan(&npi); err != nil {
			return nil, fmt.Errorf("failed to scan npi: %w", err)
		}
		out = append(out, npi.String)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating npi list: %w", err)
	}
	return out, nil
}
