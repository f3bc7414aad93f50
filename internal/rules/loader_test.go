package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const corpusYAML = `rules:
  - id: no_directory_listing
    name: No directory listing
    description: Providers with no in-directory practice location.
    granularity: npi
    query: |
      SELECT u.npi FROM {npi_universe_table} u
  - id: pcp_pair
    name: PCP pair
    granularity: specialty
    query: SELECT b.npi, b.specialty_name FROM {specialty_base_table} b
    enabled: false
`

func TestParse(t *testing.T) {
	corpus, err := Parse([]byte(corpusYAML))
	require.NoError(t, err)
	require.Len(t, corpus, 2)

	// Order as written.
	assert.Equal(t, "no_directory_listing", corpus[0].ID)
	assert.Equal(t, "pcp_pair", corpus[1].ID)

	assert.True(t, corpus[0].IsEnabled())
	assert.False(t, corpus[1].IsEnabled())
	assert.Equal(t, GranularitySpecialty, corpus[1].Granularity)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse([]byte("rules: []"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rules")
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("rules: [unterminated"))
	assert.Error(t, err)
}

func TestParseDuplicateID(t *testing.T) {
	dup := `rules:
  - id: r1
    name: one
    granularity: npi
    query: SELECT npi FROM {npi_universe_table}
  - id: r1
    name: two
    granularity: npi
    query: SELECT npi FROM {npi_universe_table}
`
	_, err := Parse([]byte(dup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")
}

func TestParseMalformedRule(t *testing.T) {
	bad := `rules:
  - id: r1
    name: one
    granularity: npi
    query: SELECT npi FROM providers
`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(corpusYAML), 0o600))

	corpus, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, corpus, 2)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEnabled(t *testing.T) {
	corpus, err := Parse([]byte(corpusYAML))
	require.NoError(t, err)

	enabled := Enabled(corpus)
	require.Len(t, enabled, 1)
	assert.Equal(t, "no_directory_listing", enabled[0].ID)
}
