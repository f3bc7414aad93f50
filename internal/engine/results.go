package engine

import (
	"sort"
	"time"

	"github.com/provdir-labs/suppress/internal/rules"
	"github.com/provdir-labs/suppress/internal/universe"
)

// Category is the provider type a universe NPI was classified into.
type Category string

const (
	CategoryPractitioner  Category = "practitioner"
	CategoryFacility      Category = "facility"
	CategoryAncillary     Category = "ancillary"
	CategoryUncategorized Category = "uncategorized"
)

// Categories lists all provider categories in classification order.
var Categories = []Category{
	CategoryPractitioner,
	CategoryFacility,
	CategoryAncillary,
	CategoryUncategorized,
}

// Categorization holds the provider-type classification of the universe.
// Every valid universe NPI is assigned exactly one category; only
// practitioners proceed into rule evaluation.
type Categorization struct {
	ByNPI  map[string]Category
	Counts map[Category]int

	// Practitioners preserves universe order for the working sub-universe.
	Practitioners []string
}

// Total returns the number of categorized NPIs.
func (c *Categorization) Total() int {
	n := 0
	for _, v := range c.Counts {
		n += v
	}
	return n
}

// RuleStatus describes how a rule's execution ended.
type RuleStatus string

const (
	// RuleStatusSucceeded means the rule executed and its matches were recorded.
	RuleStatusSucceeded RuleStatus = "succeeded"
	// RuleStatusFailed means the rule's query failed; it contributes no
	// matches and is flagged in the final report.
	RuleStatusFailed RuleStatus = "failed"
	// RuleStatusNotEvaluated means the rule was disabled and skipped.
	RuleStatusNotEvaluated RuleStatus = "not evaluated"
)

// RuleOutcome is the provenance record for one rule in one run.
type RuleOutcome struct {
	Rule          *rules.Rule
	Status        RuleStatus
	MatchRelation string
	Matched       int64
	Duration      time.Duration
	Err           error
}

// Succeeded reports whether the rule executed to completion.
func (o *RuleOutcome) Succeeded() bool {
	return o.Status == RuleStatusSucceeded
}

// VerdictRow is one row of the master verdict: a (NPI, specialty) pair with
// per-rule match flags and the combined suppression verdicts. Practitioners
// with no specialty rows appear once with an empty Specialty.
type VerdictRow struct {
	NPI                 string
	Specialty           string
	ConcatKey           string
	CombinationKey      string
	NPISuppressed       bool
	SpecialtySuppressed bool
	RuleFlags           map[string]bool // rule ID -> matched
}

// Stats summarizes the master verdict.
type Stats struct {
	TotalPairs        int64
	SuppressedPairs   int64
	UnsuppressedPairs int64

	UniqueNPIs       int64
	SuppressedNPIs   int64
	UnsuppressedNPIs int64
}

// PairSuppressionRate returns the percentage of pairs suppressed.
func (s Stats) PairSuppressionRate() float64 {
	if s.TotalPairs == 0 {
		return 0
	}
	return float64(s.SuppressedPairs) / float64(s.TotalPairs) * 100
}

// NPISuppressionRate returns the percentage of unique NPIs suppressed.
func (s Stats) NPISuppressionRate() float64 {
	if s.UniqueNPIs == 0 {
		return 0
	}
	return float64(s.SuppressedNPIs) / float64(s.UniqueNPIs) * 100
}

// RuleImpact is the per-rule audit row: how many entities the rule matched,
// alone and including overlap with other rules.
type RuleImpact struct {
	RuleID      string
	Name        string
	Granularity rules.Granularity
	Status      RuleStatus
	Error       string

	NPIsMatched int64 // distinct NPIs with this rule's flag set
	PairsMatched int64
	PairsUnique  int64 // pairs matched by this rule and no other
	Duration     time.Duration
}

// Combination is one row of the rule co-occurrence frequency table: the set
// of rules matched together, and how often.
type Combination struct {
	Key         string   // per-rule Y/N flags joined by '-', rule IDs sorted
	Rules       []string // IDs of the matched rules
	Occurrences int64
	UniqueNPIs  int64
	Suppressed  bool
}

// DownstreamImpact counts external-store entities reachable from suppressed
// NPIs.
type DownstreamImpact struct {
	PracticeLocations int64
	Practices         int64
	Specialties       int64
}

// Results is everything a run produced, in memory. Formatting and file
// writing are the report consumer's concern.
type Results struct {
	SessionID   string
	StartedAt   time.Time
	CompletedAt time.Time

	Universe   *universe.Universe
	Categories *Categorization

	// Rules is the full corpus in file order; Outcomes is keyed by rule ID
	// and includes disabled rules as "not evaluated".
	Rules    []*rules.Rule
	Outcomes map[string]*RuleOutcome

	Verdicts     []VerdictRow
	Stats        Stats
	Impacts      []RuleImpact
	Combinations []Combination
	Downstream   DownstreamImpact
}

// FailedRules returns IDs of rules that did not complete successfully,
// so report consumers can judge result completeness.
func (r *Results) FailedRules() []string {
	var out []string
	for _, rule := range r.Rules {
		if o, ok := r.Outcomes[rule.ID]; ok && o.Status == RuleStatusFailed {
			out = append(out, rule.ID)
		}
	}
	return out
}

// SuccessfulRuleIDs returns the IDs of rules that executed to completion,
// sorted. This is the column and combination-key order of the verdict.
func (r *Results) SuccessfulRuleIDs() []string {
	var out []string
	for id, o := range r.Outcomes {
		if o.Succeeded() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Duration returns the wall-clock time of the run.
func (r *Results) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
