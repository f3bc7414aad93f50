package engine

// metrics.go - audit metrics computed over the master verdict

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ruleImpacts computes the per-rule audit table from the master verdict.
// Every corpus rule gets a row: disabled and failed rules carry their
// status with zero counts, successful rules get match counts including
// the pairs matched by that rule alone.
func (e *Engine) ruleImpacts(ctx context.Context, masterRel string, outcomes map[string]*RuleOutcome) ([]RuleImpact, error) {
	var successIDs []string
	for id, o := range outcomes {
		if o.Succeeded() {
			successIDs = append(successIDs, id)
		}
	}
	sort.Strings(successIDs)

	impacts := make([]RuleImpact, 0, len(e.rules))
	for _, r := range e.rules {
		o := outcomes[r.ID]
		impact := RuleImpact{
			RuleID:      r.ID,
			Name:        r.Name,
			Granularity: r.Granularity,
			Status:      o.Status,
			Duration:    o.Duration,
		}
		if o.Err != nil {
			impact.Error = o.Err.Error()
		}

		if o.Succeeded() {
			flag := ruleFlagColumn(r.ID)

			// Pairs this rule matched alone: its flag set, all others clear.
			soleConds := []string{flag + " = 'Y'"}
			for _, other := range successIDs {
				if other == r.ID {
					continue
				}
				soleConds = append(soleConds, ruleFlagColumn(other)+" = 'N'")
			}

			err := e.db.QueryRow(ctx, fmt.Sprintf(`
				SELECT
					COUNT(DISTINCT CASE WHEN %[1]s = 'Y' THEN npi END),
					SUM(CASE WHEN %[1]s = 'Y' THEN 1 ELSE 0 END),
					SUM(CASE WHEN %[2]s THEN 1 ELSE 0 END)
				FROM %[3]s`,
				flag, strings.Join(soleConds, " AND "), masterRel)).Scan(
				&impact.NPIsMatched, &impact.PairsMatched, &impact.PairsUnique)
			if err != nil {
				return nil, fmt.Errorf("failed to compute impact for rule %s: %w", r.ID, err)
			}
		}

		impacts = append(impacts, impact)
	}
	return impacts, nil
}

// combinations computes the rule co-occurrence frequency table: how many
// verdict rows share each distinct combination of matched rules.
func (e *Engine) combinations(ctx context.Context, masterRel string, outcomes map[string]*RuleOutcome) ([]Combination, error) {
	var successIDs []string
	for id, o := range outcomes {
		if o.Succeeded() {
			successIDs = append(successIDs, id)
		}
	}
	sort.Strings(successIDs)

	rows, err := e.db.Query(ctx, fmt.Sprintf(`
		SELECT rule_combination_key, COUNT(*), COUNT(DISTINCT npi)
		FROM %s
		GROUP BY rule_combination_key
		ORDER BY COUNT(*) DESC, rule_combination_key`, masterRel))
	if err != nil {
		return nil, fmt.Errorf("failed to compute rule combinations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Combination
	for rows.Next() {
		var c Combination
		if err := rows.Scan(&c.Key, &c.Occurrences, &c.UniqueNPIs); err != nil {
			return nil, fmt.Errorf("failed to scan combination row: %w", err)
		}
		c.Rules = decodeCombinationKey(c.Key, successIDs)
		c.Suppressed = len(c.Rules) > 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating combinations: %w", err)
	}
	return out, nil
}

// decodeCombinationKey maps a flag key like "Y-N-Y" back to the matched
// rule IDs. Key positions follow the sorted rule ID order used when the
// verdict was built.
func decodeCombinationKey(key string, sortedIDs []string) []string {
	if key == "no_rules" {
		return nil
	}
	flags := strings.Split(key, "-")
	var matched []string
	for i, f := range flags {
		if i < len(sortedIDs) && f == "Y" {
			matched = append(matched, sortedIDs[i])
		}
	}
	return matched
}

// downstreamImpact counts the external-store entities tied to suppressed
// NPIs: directory practice locations, their practices, and the distinct
// specialties on suppressed pairs.
func (e *Engine) downstreamImpact(ctx context.Context, masterRel string) (DownstreamImpact, error) {
	var d DownstreamImpact

	err := e.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(pl.practice_location_id), COUNT(DISTINCT pl.practice_id)
		FROM %s pl
		INNER JOIN (SELECT DISTINCT npi FROM %s WHERE npi_suppressed = 'Y') m
			ON pl.national_provider_id = m.npi`,
		e.reference.PracticeLocations, masterRel)).Scan(
		&d.PracticeLocations, &d.Practices)
	if err != nil {
		return d, fmt.Errorf("failed to compute downstream practice impact: %w", err)
	}

	err = e.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(DISTINCT specialty_name)
		FROM %s
		WHERE specialty_suppressed = 'Y' AND specialty_name <> ''`,
		masterRel)).Scan(&d.Specialties)
	if err != nil {
		return d, fmt.Errorf("failed to compute downstream specialty impact: %w", err)
	}

	return d, nil
}
