package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provdir-labs/suppress/internal/adapter"
	"github.com/provdir-labs/suppress/internal/config"
	"github.com/provdir-labs/suppress/internal/rules"
	"github.com/provdir-labs/suppress/internal/universe"
)

// Valid test NPIs (correct Luhn check digits over the 80840 prefix).
const (
	npiPract1   = "1234567893" // practitioner, Family Practice + Internal Medicine
	npiPract2   = "1234567802" // practitioner, Cardiology, listed in directory
	npiPract3   = "1234567810" // practitioner, no specialties, no locations
	npiFacility = "1234567828"
	npiAncill   = "1234567836"
	npiUnknown  = "1234567844"
)

var referenceSchema = []string{
	`CREATE TABLE practitioners (practitioner_id INTEGER, national_provider_id VARCHAR)`,
	`CREATE TABLE practitioner_specialties (practitioner_id INTEGER, specialty_id INTEGER)`,
	`CREATE TABLE specialties (specialty_id INTEGER, specialty_name VARCHAR)`,
	`CREATE TABLE facilities (facility_id INTEGER, national_provider_id VARCHAR)`,
	`CREATE TABLE facility_addresses (facility_id INTEGER)`,
	`CREATE TABLE practice_locations (practice_location_id INTEGER, practice_id INTEGER, national_provider_id VARCHAR, in_directory CHAR(1))`,
	`CREATE TABLE practices (practice_id INTEGER)`,

	`INSERT INTO practitioners VALUES (1, '1234567893'), (2, '1234567802'), (3, '1234567810')`,
	`INSERT INTO specialties VALUES (10, 'Family Practice'), (11, 'Internal Medicine'), (12, 'Cardiology')`,
	`INSERT INTO practitioner_specialties VALUES (1, 10), (1, 11), (2, 12)`,
	`INSERT INTO facilities VALUES (20, '1234567828')`,
	`INSERT INTO facility_addresses VALUES (20)`,
	`INSERT INTO practices VALUES (40), (41)`,
	`INSERT INTO practice_locations VALUES
		(30, 40, '1234567836', 'Y'),
		(31, 41, '1234567893', 'N'),
		(33, 40, '1234567802', 'Y')`,
}

func testCorpus() []*rules.Rule {
	return []*rules.Rule{
		{
			ID:          "no_directory_listing",
			Name:        "No in-directory practice location",
			Granularity: rules.GranularityNPI,
			Query: `SELECT u.npi FROM {npi_universe_table} u
				WHERE NOT EXISTS (
					SELECT 1 FROM practice_locations pl
					WHERE pl.national_provider_id = u.npi AND pl.in_directory = 'Y')`,
		},
		{
			ID:          "internal_medicine_pair",
			Name:        "Internal Medicine pairs",
			Granularity: rules.GranularitySpecialty,
			Query: `SELECT b.npi, b.specialty_name FROM {specialty_base_table} b
				WHERE b.specialty_name = 'Internal Medicine'`,
		},
	}
}

func testUniverse() *universe.Universe {
	return universe.FromNPIs([]string{
		npiPract1, npiPract2, npiPract3, npiFacility, npiAncill, npiUnknown,
		npiPract1,    // duplicate
		"1234567890", // bad check digit
	}, "test")
}

// newTestEngine builds an engine over a private in-memory store seeded with
// the reference schema.
func newTestEngine(t *testing.T, corpus []*rules.Rule, batchSize int) *Engine {
	t.Helper()

	db := adapter.NewDuckDBAdapter(nil)
	require.NoError(t, db.Connect(context.Background(), adapter.Config{Type: "duckdb", Path: ":memory:"}))
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range referenceSchema {
		require.NoError(t, db.Exec(context.Background(), stmt))
	}

	eng, err := New(Config{
		AdapterConfig: adapter.Config{Type: "duckdb", Path: ":memory:"},
		Reference:     config.ReferenceConfig{},
		BatchSize:     batchSize,
	}, corpus)
	require.NoError(t, err)

	// The seeded store must be the one the engine queries.
	eng.db = db
	eng.dbConnected = true
	return eng
}

func TestRunEndToEnd(t *testing.T) {
	eng := newTestEngine(t, testCorpus(), 10000)

	res, err := eng.Run(context.Background(), testUniverse())
	require.NoError(t, err)

	assert.Len(t, res.SessionID, 8)
	assert.Len(t, res.Universe.Invalid, 1)
	assert.Equal(t, 1, res.Universe.Duplicates)

	// Every NPI lands in exactly one category, first match wins: npiPract1
	// also has a practice location but stays a practitioner.
	assert.Equal(t, 3, res.Categories.Counts[CategoryPractitioner])
	assert.Equal(t, 1, res.Categories.Counts[CategoryFacility])
	assert.Equal(t, 1, res.Categories.Counts[CategoryAncillary])
	assert.Equal(t, 1, res.Categories.Counts[CategoryUncategorized])
	assert.Equal(t, len(res.Universe.NPIs), res.Categories.Total())
	assert.Equal(t, CategoryFacility, res.Categories.ByNPI[npiFacility])
	assert.Equal(t, CategoryAncillary, res.Categories.ByNPI[npiAncill])
	assert.Equal(t, CategoryUncategorized, res.Categories.ByNPI[npiUnknown])

	// One row per (practitioner, specialty); a practitioner without
	// specialties gets a single row with an empty specialty.
	require.Len(t, res.Verdicts, 4)

	byKey := make(map[string]VerdictRow, len(res.Verdicts))
	for _, v := range res.Verdicts {
		byKey[v.NPI+"|"+v.Specialty] = v
	}

	v := byKey[npiPract2+"|Cardiology"]
	assert.False(t, v.NPISuppressed)
	assert.False(t, v.SpecialtySuppressed)
	assert.Equal(t, "N-N", v.CombinationKey)

	// NPI-level suppression dominates: the pair is suppressed even though
	// no specialty-level rule matched it.
	v = byKey[npiPract1+"|Family Practice"]
	assert.True(t, v.NPISuppressed)
	assert.True(t, v.SpecialtySuppressed)
	assert.True(t, v.RuleFlags["no_directory_listing"])
	assert.False(t, v.RuleFlags["internal_medicine_pair"])
	assert.Equal(t, "N-Y", v.CombinationKey)

	v = byKey[npiPract1+"|Internal Medicine"]
	assert.True(t, v.NPISuppressed)
	assert.True(t, v.SpecialtySuppressed)
	assert.Equal(t, "Y-Y", v.CombinationKey)

	v, ok := byKey[npiPract3+"|"]
	require.True(t, ok, "zero-specialty practitioner must appear with empty specialty")
	assert.True(t, v.NPISuppressed)
	assert.True(t, v.SpecialtySuppressed)

	// Verdicts come back ordered by NPI then specialty.
	assert.Equal(t, npiPract2, res.Verdicts[0].NPI)
	assert.Equal(t, npiPract3, res.Verdicts[1].NPI)
	assert.Equal(t, "Family Practice", res.Verdicts[2].Specialty)
	assert.Equal(t, "Internal Medicine", res.Verdicts[3].Specialty)

	assert.Equal(t, int64(4), res.Stats.TotalPairs)
	assert.Equal(t, int64(3), res.Stats.SuppressedPairs)
	assert.Equal(t, int64(1), res.Stats.UnsuppressedPairs)
	assert.Equal(t, int64(3), res.Stats.UniqueNPIs)
	assert.Equal(t, int64(2), res.Stats.SuppressedNPIs)
	assert.InDelta(t, 75.0, res.Stats.PairSuppressionRate(), 0.01)

	// Per-rule impact.
	require.Len(t, res.Impacts, 2)
	impByID := map[string]RuleImpact{}
	for _, imp := range res.Impacts {
		impByID[imp.RuleID] = imp
	}
	ndl := impByID["no_directory_listing"]
	assert.Equal(t, RuleStatusSucceeded, ndl.Status)
	assert.Equal(t, int64(2), ndl.NPIsMatched)
	assert.Equal(t, int64(3), ndl.PairsMatched)
	assert.Equal(t, int64(2), ndl.PairsUnique)

	imp := impByID["internal_medicine_pair"]
	assert.Equal(t, int64(1), imp.NPIsMatched)
	assert.Equal(t, int64(1), imp.PairsMatched)
	assert.Equal(t, int64(0), imp.PairsUnique, "its only pair is shared with the NPI rule")

	// Combination frequencies.
	comboByKey := map[string]Combination{}
	for _, c := range res.Combinations {
		comboByKey[c.Key] = c
	}
	require.Len(t, comboByKey, 3)
	assert.Equal(t, int64(1), comboByKey["N-N"].Occurrences)
	assert.False(t, comboByKey["N-N"].Suppressed)
	assert.Empty(t, comboByKey["N-N"].Rules)

	nY := comboByKey["N-Y"]
	assert.Equal(t, int64(2), nY.Occurrences)
	assert.Equal(t, int64(2), nY.UniqueNPIs)
	assert.Equal(t, []string{"no_directory_listing"}, nY.Rules)
	assert.True(t, nY.Suppressed)

	yY := comboByKey["Y-Y"]
	assert.Equal(t, []string{"internal_medicine_pair", "no_directory_listing"}, yY.Rules)

	// Downstream: npiPract1's single location, its practice, and the two
	// suppressed specialty names.
	assert.Equal(t, int64(1), res.Downstream.PracticeLocations)
	assert.Equal(t, int64(1), res.Downstream.Practices)
	assert.Equal(t, int64(2), res.Downstream.Specialties)

	assert.Empty(t, res.FailedRules())
}

func TestSpecialtyRuleSuppressesPairNotNPI(t *testing.T) {
	// A specialty-level match must suppress only the pair. npiPract2 is
	// listed in the directory, so no NPI-level rule touches it.
	corpus := testCorpus()
	corpus = append(corpus, &rules.Rule{
		ID:          "cardiology_pair",
		Name:        "Cardiology pairs under review",
		Granularity: rules.GranularitySpecialty,
		Query: `SELECT b.npi, b.specialty_name FROM {specialty_base_table} b
			WHERE b.specialty_name = 'Cardiology'`,
	})

	eng := newTestEngine(t, corpus, 10000)
	res, err := eng.Run(context.Background(), testUniverse())
	require.NoError(t, err)

	var v VerdictRow
	found := false
	for _, row := range res.Verdicts {
		if row.NPI == npiPract2 && row.Specialty == "Cardiology" {
			v, found = row, true
		}
	}
	require.True(t, found)

	assert.True(t, v.SpecialtySuppressed)
	assert.False(t, v.NPISuppressed, "a specialty-level match must not mark the NPI suppressed")
	assert.True(t, v.RuleFlags["cardiology_pair"])
	assert.False(t, v.RuleFlags["no_directory_listing"])
	assert.Equal(t, "Y-N-N", v.CombinationKey)

	// Pair counts grow, NPI counts do not.
	assert.Equal(t, int64(4), res.Stats.SuppressedPairs)
	assert.Equal(t, int64(2), res.Stats.SuppressedNPIs)
}

func TestRunWithSessionID(t *testing.T) {
	eng := newTestEngine(t, testCorpus(), 10000)

	res, err := eng.RunWithSessionID(context.Background(), testUniverse(), "cafe0123")
	require.NoError(t, err)
	assert.Equal(t, "cafe0123", res.SessionID)
}

func TestRunBatchedMatchesSinglePass(t *testing.T) {
	single := newTestEngine(t, testCorpus(), 10000)
	batched := newTestEngine(t, testCorpus(), 2)

	resSingle, err := single.Run(context.Background(), testUniverse())
	require.NoError(t, err)
	resBatched, err := batched.Run(context.Background(), testUniverse())
	require.NoError(t, err)

	assert.Equal(t, resSingle.Stats, resBatched.Stats)
	require.Equal(t, len(resSingle.Verdicts), len(resBatched.Verdicts))
	for i := range resSingle.Verdicts {
		assert.Equal(t, resSingle.Verdicts[i], resBatched.Verdicts[i])
	}
}

func TestRunRuleOrderInvariance(t *testing.T) {
	forward := newTestEngine(t, testCorpus(), 10000)

	reversed := testCorpus()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	backward := newTestEngine(t, reversed, 10000)

	resA, err := forward.Run(context.Background(), testUniverse())
	require.NoError(t, err)
	resB, err := backward.Run(context.Background(), testUniverse())
	require.NoError(t, err)

	assert.Equal(t, resA.Stats, resB.Stats)
	assert.Equal(t, resA.Verdicts, resB.Verdicts)
}

func TestRunIdempotent(t *testing.T) {
	eng := newTestEngine(t, testCorpus(), 10000)

	resA, err := eng.Run(context.Background(), testUniverse())
	require.NoError(t, err)
	resB, err := eng.Run(context.Background(), testUniverse())
	require.NoError(t, err)

	assert.Equal(t, resA.Stats, resB.Stats)
	assert.Equal(t, resA.Verdicts, resB.Verdicts)
	assert.NotEqual(t, resA.SessionID, resB.SessionID)
}

func TestDisabledRuleNotEvaluated(t *testing.T) {
	corpus := testCorpus()
	off := false
	corpus[1].Enabled = &off

	eng := newTestEngine(t, corpus, 10000)
	res, err := eng.Run(context.Background(), testUniverse())
	require.NoError(t, err)

	o := res.Outcomes["internal_medicine_pair"]
	assert.Equal(t, RuleStatusNotEvaluated, o.Status)
	assert.Zero(t, o.Matched)

	// No flag column, no contribution to verdicts.
	assert.Equal(t, []string{"no_directory_listing"}, res.SuccessfulRuleIDs())
	for _, v := range res.Verdicts {
		_, has := v.RuleFlags["internal_medicine_pair"]
		assert.False(t, has)
		assert.NotContains(t, v.CombinationKey, "-")
	}
	assert.Empty(t, res.FailedRules())
}

func TestFailedRuleContinues(t *testing.T) {
	corpus := testCorpus()
	corpus = append(corpus, &rules.Rule{
		ID:          "broken_rule",
		Name:        "References a missing relation",
		Granularity: rules.GranularityNPI,
		Query:       "SELECT u.npi FROM {npi_universe_table} u INNER JOIN missing_relation m ON m.npi = u.npi",
	})

	eng := newTestEngine(t, corpus, 10000)
	res, err := eng.Run(context.Background(), testUniverse())
	require.NoError(t, err, "one rule's failure must not abort the run")

	o := res.Outcomes["broken_rule"]
	assert.Equal(t, RuleStatusFailed, o.Status)
	assert.Error(t, o.Err)
	assert.Equal(t, []string{"broken_rule"}, res.FailedRules())

	// Remaining rules still produce the full verdict.
	assert.Equal(t, []string{"internal_medicine_pair", "no_directory_listing"}, res.SuccessfulRuleIDs())
	assert.Equal(t, int64(4), res.Stats.TotalPairs)
	assert.Equal(t, int64(3), res.Stats.SuppressedPairs)

	impByID := map[string]RuleImpact{}
	for _, imp := range res.Impacts {
		impByID[imp.RuleID] = imp
	}
	broken := impByID["broken_rule"]
	assert.Equal(t, RuleStatusFailed, broken.Status)
	assert.NotEmpty(t, broken.Error)
	assert.Zero(t, broken.PairsMatched)
}

func TestRunEmptyUniverse(t *testing.T) {
	eng := newTestEngine(t, testCorpus(), 10000)

	_, err := eng.Run(context.Background(), &universe.Universe{})
	assert.Error(t, err)

	_, err = eng.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestRunNoPractitioners(t *testing.T) {
	eng := newTestEngine(t, testCorpus(), 10000)

	u := universe.FromNPIs([]string{npiFacility, npiUnknown}, "test")
	_, err := eng.Run(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no practitioner NPIs")
}

func TestLoadUniverseFromTable(t *testing.T) {
	eng := newTestEngine(t, testCorpus(), 10000)
	ctx := context.Background()

	require.NoError(t, eng.db.Exec(ctx, `CREATE TABLE provider_extract (npi VARCHAR)`))
	require.NoError(t, eng.db.Exec(ctx, `INSERT INTO provider_extract VALUES
		('1234567893'), (' 1234567802 '), ('1234567893'), ('not-an-npi')`))

	u, err := eng.LoadUniverseFromTable(ctx, "provider_extract", "npi")
	require.NoError(t, err)
	assert.Equal(t, []string{npiPract1, npiPract2}, u.NPIs)
	assert.Equal(t, 1, u.Duplicates)
	assert.Len(t, u.Invalid, 1)
	assert.Equal(t, "table:provider_extract", u.Source)
}

func TestNewValidatesCorpus(t *testing.T) {
	cfg := Config{AdapterConfig: adapter.Config{Type: "duckdb"}}

	_, err := New(cfg, nil)
	assert.Error(t, err, "empty corpus")

	_, err = New(cfg, []*rules.Rule{{ID: "x", Name: "x", Granularity: "npi", Query: "SELECT 1"}})
	assert.Error(t, err, "query missing required slot")

	r := testCorpus()[0]
	_, err = New(cfg, []*rules.Rule{r, r})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")
}

func TestSessionRelationsCleanedUp(t *testing.T) {
	eng := newTestEngine(t, testCorpus(), 10000)
	ctx := context.Background()

	_, err := eng.Run(ctx, testUniverse())
	require.NoError(t, err)

	var leftover int64
	err = eng.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_name LIKE 'universe_%'
		   OR table_name LIKE 'rule_%'
		   OR table_name LIKE 'master_verdict_%'
		   OR table_name LIKE 'specialty_base_%'
		   OR table_name LIKE 'practitioner_universe_%'`).Scan(&leftover)
	require.NoError(t, err)
	assert.Zero(t, leftover, "every scoped relation must be dropped after the run")
}
