package engine

// categorize.go - universe loading and provider type classification

import (
	"context"
	"fmt"

	"github.com/provdir-labs/suppress/internal/session"
	"github.com/provdir-labs/suppress/internal/universe"
)

// workingRelations names the session-scoped relations a run operates on.
type workingRelations struct {
	universe      string // all valid universe NPIs
	practitioners string // practitioner-only sub-universe
	specialtyBase string // one row per practitioner NPI x specialty
}

var (
	npiColumns = []session.Column{
		{Name: "npi", Type: "VARCHAR(10)"},
	}
	pairColumns = []session.Column{
		{Name: "npi", Type: "VARCHAR(10)"},
		{Name: "specialty_name", Type: "VARCHAR(200)"},
		{Name: "concat_key", Type: "VARCHAR(250)"},
	}
)

// categorize loads the universe into the store, classifies every NPI into
// exactly one provider category, and materializes the practitioner
// sub-universe and the specialty-expanded base relation. Any failure here
// is fatal for the run: partial categorization is never surfaced.
func (e *Engine) categorize(ctx context.Context, sess *session.Session, u *universe.Universe) (*Categorization, workingRelations, error) {
	var rel workingRelations

	e.logger.Info("categorizing universe", "npis", len(u.NPIs))

	// Load the validated universe into a scoped relation.
	universeRel, err := sess.CreateScopedRelation(ctx, "universe", npiColumns)
	if err != nil {
		return nil, rel, err
	}
	rows := make([][]string, len(u.NPIs))
	for i, npi := range u.NPIs {
		rows[i] = []string{npi}
	}
	if _, err := sess.PopulateRows(ctx, universeRel, []string{"npi"}, rows, e.batchSize); err != nil {
		return nil, rel, err
	}
	rel.universe = universeRel

	// Mutually exclusive classification, first match wins:
	// practitioner, then facility, then ancillary.
	practitioners, err := e.queryNPISet(ctx, fmt.Sprintf(`
		SELECT DISTINCT u.npi
		FROM %s u
		INNER JOIN %s p ON u.npi = p.national_provider_id`,
		universeRel, e.reference.Practitioners))
	if err != nil {
		return nil, rel, fmt.Errorf("practitioner categorization failed: %w", err)
	}

	facilities, err := e.queryNPISet(ctx, fmt.Sprintf(`
		SELECT DISTINCT u.npi
		FROM %s u
		INNER JOIN %s f ON u.npi = f.national_provider_id
		INNER JOIN %s fa ON f.facility_id = fa.facility_id`,
		universeRel, e.reference.Facilities, e.reference.FacilityAddresses))
	if err != nil {
		return nil, rel, fmt.Errorf("facility categorization failed: %w", err)
	}

	ancillary, err := e.queryNPISet(ctx, fmt.Sprintf(`
		SELECT DISTINCT u.npi
		FROM %s u
		INNER JOIN %s pl ON u.npi = pl.national_provider_id
		INNER JOIN %s p ON pl.practice_id = p.practice_id`,
		universeRel, e.reference.PracticeLocations, e.reference.Practices))
	if err != nil {
		return nil, rel, fmt.Errorf("ancillary categorization failed: %w", err)
	}

	cat := &Categorization{
		ByNPI:  make(map[string]Category, len(u.NPIs)),
		Counts: make(map[Category]int, len(Categories)),
	}
	for _, c := range Categories {
		cat.Counts[c] = 0
	}
	for _, npi := range u.NPIs {
		var c Category
		switch {
		case practitioners[npi]:
			c = CategoryPractitioner
			cat.Practitioners = append(cat.Practitioners, npi)
		case facilities[npi]:
			c = CategoryFacility
		case ancillary[npi]:
			c = CategoryAncillary
		default:
			c = CategoryUncategorized
		}
		cat.ByNPI[npi] = c
		cat.Counts[c]++
	}

	e.logger.Info("universe categorized",
		"practitioners", cat.Counts[CategoryPractitioner],
		"facilities", cat.Counts[CategoryFacility],
		"ancillary", cat.Counts[CategoryAncillary],
		"uncategorized", cat.Counts[CategoryUncategorized])

	if len(cat.Practitioners) == 0 {
		return nil, rel, fmt.Errorf("no practitioner NPIs in universe: nothing to evaluate")
	}

	// Practitioner-only working universe for NPI-level rules.
	practRel, err := sess.CreateScopedRelation(ctx, "practitioner_universe", npiColumns)
	if err != nil {
		return nil, rel, err
	}
	if err := sess.PopulateFromQuery(ctx, practRel, []string{"npi"}, fmt.Sprintf(`
		SELECT DISTINCT u.npi
		FROM %s u
		INNER JOIN %s p ON u.npi = p.national_provider_id`,
		universeRel, e.reference.Practitioners)); err != nil {
		return nil, rel, err
	}
	rel.practitioners = practRel

	// Specialty-expanded base relation for specialty-level rules: one row
	// per (NPI, specialty). Practitioners without specialties contribute no
	// rows here; a dedicated rule catches them at the NPI level.
	baseRel, err := sess.CreateScopedRelation(ctx, "specialty_base", pairColumns)
	if err != nil {
		return nil, rel, err
	}
	if err := sess.PopulateFromQuery(ctx, baseRel,
		[]string{"npi", "specialty_name", "concat_key"}, fmt.Sprintf(`
		SELECT DISTINCT pu.npi, s.specialty_name, pu.npi || '-' || s.specialty_name
		FROM %s pu
		INNER JOIN %s p ON pu.npi = p.national_provider_id
		INNER JOIN %s ps ON p.practitioner_id = ps.practitioner_id
		INNER JOIN %s s ON ps.specialty_id = s.specialty_id
		WHERE s.specialty_name IS NOT NULL`,
		practRel, e.reference.Practitioners, e.reference.PractitionerSpecialties, e.reference.Specialties)); err != nil {
		return nil, rel, err
	}
	rel.specialtyBase = baseRel

	pairs, err := sess.Count(ctx, baseRel)
	if err != nil {
		return nil, rel, err
	}
	e.logger.Info("specialty base relation built", "pairs", pairs)

	return cat, rel, nil
}

// queryNPISet runs a query returning a single npi column into a set.
func (e *Engine) queryNPISet(ctx context.Context, query string) (map[string]bool, error) {
	rows, err := e.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	set := make(map[string]bool)
	for rows.Next() {
		var npi string
		if err := rows.Scan(&npi); err != nil {
			return nil, fmt.Errorf("failed to scan npi: %w", err)
		}
		set[npi] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating npi set: %w", err)
	}
	return set, nil
}
