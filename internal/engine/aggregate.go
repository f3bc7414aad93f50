package engine

// aggregate.go - combining rule match sets into the master verdict

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/provdir-labs/suppress/internal/session"
)

// aggregate combines every successful rule's match set into the master
// verdict relation and loads it back into memory.
//
// Combination semantics are a pure union: npi_suppressed is the OR over
// NPI-level rule matches for the NPI, and specialty_suppressed is
// npi_suppressed OR any specialty-level match on the pair. NPI-level
// suppression dominates; specialty-level rules only add suppressions.
// Because OR is commutative, the verdict is invariant to rule execution
// order.
func (e *Engine) aggregate(ctx context.Context, sess *session.Session, rel workingRelations, outcomes map[string]*RuleOutcome) ([]VerdictRow, Stats, string, error) {
	// Successful rules only, sorted by ID so that column order and the
	// combination key are deterministic across runs.
	var ruleIDs []string
	for id, o := range outcomes {
		if o.Succeeded() {
			ruleIDs = append(ruleIDs, id)
		}
	}
	sort.Strings(ruleIDs)

	columns := []session.Column{
		{Name: "npi", Type: "VARCHAR(10)"},
		{Name: "specialty_name", Type: "VARCHAR(200)"},
		{Name: "concat_key", Type: "VARCHAR(250)"},
		{Name: "rule_combination_key", Type: "VARCHAR(1000)"},
		{Name: "npi_suppressed", Type: "CHAR(1)"},
		{Name: "specialty_suppressed", Type: "CHAR(1)"},
	}
	colNames := []string{"npi", "specialty_name", "concat_key", "rule_combination_key", "npi_suppressed", "specialty_suppressed"}
	for _, id := range ruleIDs {
		columns = append(columns, session.Column{Name: ruleFlagColumn(id), Type: "CHAR(1)"})
		colNames = append(colNames, ruleFlagColumn(id))
	}

	masterRel, err := sess.CreateScopedRelation(ctx, "master_verdict", columns)
	if err != nil {
		return nil, Stats{}, "", err
	}

	// Per-rule join clauses and flag expressions. Match relations are
	// deduplicated in the join subqueries so a duplicate match row can
	// never fan out master rows.
	var (
		flagExprs   []string
		joins       []string
		npiConds    []string
		pairConds   []string
		comboFields []string
	)
	for _, id := range ruleIDs {
		o := outcomes[id]
		alias := "r_" + id
		if o.Rule.IsSpecialtyLevel() {
			joins = append(joins, fmt.Sprintf(
				"LEFT JOIN (SELECT DISTINCT concat_key FROM %s) %s ON b.concat_key = %s.concat_key",
				o.MatchRelation, alias, alias))
			pairConds = append(pairConds, alias+".concat_key IS NOT NULL")
			comboFields = append(comboFields, matchFlagExpr(alias+".concat_key"))
			flagExprs = append(flagExprs, matchFlagExpr(alias+".concat_key"))
		} else {
			joins = append(joins, fmt.Sprintf(
				"LEFT JOIN (SELECT DISTINCT npi FROM %s) %s ON b.npi = %s.npi",
				o.MatchRelation, alias, alias))
			npiConds = append(npiConds, alias+".npi IS NOT NULL")
			comboFields = append(comboFields, matchFlagExpr(alias+".npi"))
			flagExprs = append(flagExprs, matchFlagExpr(alias+".npi"))
		}
	}

	comboExpr := "'no_rules'"
	if len(comboFields) > 0 {
		comboExpr = strings.Join(comboFields, " || '-' || ")
	}

	npiSuppExpr := "'N'"
	if len(npiConds) > 0 {
		npiSuppExpr = fmt.Sprintf("CASE WHEN %s THEN 'Y' ELSE 'N' END", strings.Join(npiConds, " OR "))
	}

	specConds := append(append([]string{}, npiConds...), pairConds...)
	specSuppExpr := "'N'"
	if len(specConds) > 0 {
		specSuppExpr = fmt.Sprintf("CASE WHEN %s THEN 'Y' ELSE 'N' END", strings.Join(specConds, " OR "))
	}

	selectCols := []string{
		"b.npi", "b.specialty_name", "b.concat_key",
		comboExpr, npiSuppExpr, specSuppExpr,
	}
	selectCols = append(selectCols, flagExprs...)

	// The base row set is every (NPI, specialty) pair, plus one row with an
	// empty specialty for each practitioner that expanded to zero pairs;
	// those are judged on NPI-level rules alone.
	baseRows := fmt.Sprintf(`
		SELECT npi, specialty_name, concat_key FROM %[1]s
		UNION ALL
		SELECT pu.npi, '', pu.npi || '-'
		FROM %[2]s pu
		WHERE NOT EXISTS (SELECT 1 FROM %[1]s sb WHERE sb.npi = pu.npi)`,
		rel.specialtyBase, rel.practitioners)

	insert := fmt.Sprintf("SELECT %s FROM (%s) AS b %s",
		strings.Join(selectCols, ", "), baseRows, strings.Join(joins, " "))

	if err := sess.PopulateFromQuery(ctx, masterRel, colNames, insert); err != nil {
		return nil, Stats{}, "", fmt.Errorf("failed to build master verdict: %w", err)
	}

	verdicts, err := e.loadVerdicts(ctx, masterRel, ruleIDs)
	if err != nil {
		return nil, Stats{}, "", err
	}

	stats, err := e.loadStats(ctx, masterRel)
	if err != nil {
		return nil, Stats{}, "", err
	}

	e.logger.Info("master verdict built",
		"pairs", stats.TotalPairs,
		"suppressed_pairs", stats.SuppressedPairs,
		"npis", stats.UniqueNPIs,
		"suppressed_npis", stats.SuppressedNPIs)

	return verdicts, stats, masterRel, nil
}

// ruleFlagColumn is the master verdict column holding a rule's Y/N flag.
func ruleFlagColumn(ruleID string) string {
	return "rule_" + ruleID + "_flag"
}

// matchFlagExpr renders a Y/N flag from a nullable join column.
func matchFlagExpr(joinCol string) string {
	return fmt.Sprintf("CASE WHEN %s IS NOT NULL THEN 'Y' ELSE 'N' END", joinCol)
}

// loadVerdicts reads the master verdict relation back into memory, ordered
// for stable reports.
func (e *Engine) loadVerdicts(ctx context.Context, masterRel string, ruleIDs []string) ([]VerdictRow, error) {
	cols := []string{"npi", "specialty_name", "concat_key", "rule_combination_key", "npi_suppressed", "specialty_suppressed"}
	for _, id := range ruleIDs {
		cols = append(cols, ruleFlagColumn(id))
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY npi, specialty_name",
		strings.Join(cols, ", "), masterRel)

	rows, err := e.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load master verdict: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []VerdictRow
	for rows.Next() {
		var (
			v     VerdictRow
			npiS  string
			specS string
			flags = make([]string, len(ruleIDs))
		)
		dest := []any{&v.NPI, &v.Specialty, &v.ConcatKey, &v.CombinationKey, &npiS, &specS}
		for i := range flags {
			dest = append(dest, &flags[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan verdict row: %w", err)
		}

		v.NPISuppressed = npiS == "Y"
		v.SpecialtySuppressed = specS == "Y"
		v.RuleFlags = make(map[string]bool, len(ruleIDs))
		for i, id := range ruleIDs {
			v.RuleFlags[id] = flags[i] == "Y"
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating master verdict: %w", err)
	}
	return out, nil
}

// loadStats computes the summary counts over the master verdict.
func (e *Engine) loadStats(ctx context.Context, masterRel string) (Stats, error) {
	var s Stats

	err := e.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN specialty_suppressed = 'Y' THEN 1 ELSE 0 END),
			SUM(CASE WHEN specialty_suppressed = 'N' THEN 1 ELSE 0 END),
			COUNT(DISTINCT npi),
			COUNT(DISTINCT CASE WHEN npi_suppressed = 'Y' THEN npi END),
			COUNT(DISTINCT CASE WHEN npi_suppressed = 'N' THEN npi END)
		FROM %s`, masterRel)).Scan(
		&s.TotalPairs, &s.SuppressedPairs, &s.UnsuppressedPairs,
		&s.UniqueNPIs, &s.SuppressedNPIs, &s.UnsuppressedNPIs)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute verdict statistics: %w", err)
	}
	return s, nil
}
