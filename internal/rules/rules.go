// Package rules defines the suppression rule corpus: declarative,
// independently-evaluated SQL predicates loaded from YAML configuration.
package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Granularity is the level a rule's predicate is evaluated at.
type Granularity string

const (
	// GranularityNPI evaluates the rule once per provider.
	GranularityNPI Granularity = "npi"
	// GranularitySpecialty evaluates the rule once per (NPI, specialty) pair.
	GranularitySpecialty Granularity = "specialty"
)

// Template substitution slots. Every rule query names the working relation
// it runs against through one of these; the engine fills them in with the
// session-scoped relation names at execution time.
const (
	SlotNPIUniverse   = "{npi_universe_table}"
	SlotSpecialtyBase = "{specialty_base_table}"
)

// slotPattern matches anything that looks like a substitution slot so that
// unknown slots are caught at load time rather than producing broken SQL.
var slotPattern = regexp.MustCompile(`\{[a-z_]+\}`)

// Rule is an immutable suppression predicate definition.
//
// NPI-level queries must yield a single npi column; specialty-level queries
// must yield npi and specialty_name columns. Queries are treated as opaque
// predicates: the engine never inspects them beyond slot substitution.
type Rule struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Granularity Granularity `yaml:"granularity"`
	Query       string      `yaml:"query"`
	Enabled     *bool       `yaml:"enabled"` // nil means enabled
}

// IsEnabled reports whether the rule participates in execution.
// Rules are enabled unless explicitly disabled.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// IsSpecialtyLevel reports whether the rule runs per (NPI, specialty) pair.
func (r *Rule) IsSpecialtyLevel() bool {
	return r.Granularity == GranularitySpecialty
}

// RequiredSlot returns the substitution slot the rule's granularity demands.
func (r *Rule) RequiredSlot() string {
	if r.IsSpecialtyLevel() {
		return SlotSpecialtyBase
	}
	return SlotNPIUniverse
}

// Validate checks the rule definition. Any failure here is a configuration
// error: fatal, before anything executes.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return &ValidationError{Rule: "(unknown)", Reason: "missing id"}
	}
	if !idPattern.MatchString(r.ID) {
		return &ValidationError{Rule: r.ID, Reason: "id must match " + idPattern.String()}
	}
	if r.Name == "" {
		return &ValidationError{Rule: r.ID, Reason: "missing name"}
	}
	if strings.TrimSpace(r.Query) == "" {
		return &ValidationError{Rule: r.ID, Reason: "missing query"}
	}

	switch r.Granularity {
	case GranularityNPI, GranularitySpecialty:
	case "":
		return &ValidationError{Rule: r.ID, Reason: "missing granularity"}
	default:
		return &ValidationError{Rule: r.ID, Reason: fmt.Sprintf("invalid granularity %q (want %q or %q)",
			r.Granularity, GranularityNPI, GranularitySpecialty)}
	}

	for _, slot := range slotPattern.FindAllString(r.Query, -1) {
		if slot != SlotNPIUniverse && slot != SlotSpecialtyBase {
			return &ValidationError{Rule: r.ID, Reason: fmt.Sprintf("unknown substitution slot %s", slot)}
		}
	}

	if !strings.Contains(r.Query, r.RequiredSlot()) {
		return &ValidationError{Rule: r.ID, Reason: fmt.Sprintf(
			"%s-level query must reference %s", r.Granularity, r.RequiredSlot())}
	}

	return nil
}

// Substitute fills both substitution slots with the given session-scoped
// relation names. Validate must have accepted the rule first.
func (r *Rule) Substitute(npiUniverseTable, specialtyBaseTable string) string {
	q := strings.ReplaceAll(r.Query, SlotNPIUniverse, npiUniverseTable)
	return strings.ReplaceAll(q, SlotSpecialtyBase, specialtyBaseTable)
}

// Rule IDs end up embedded in relation and column names, so they are kept
// to a SQL-identifier-safe alphabet.
var idPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidationError describes a malformed rule definition.
type ValidationError struct {
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule %q: %s", e.Rule, e.Reason)
}
