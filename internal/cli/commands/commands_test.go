package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provdir-labs/suppress/internal/config"
)

const testRulesYAML = `rules:
  - id: no_directory_listing
    name: No directory listing
    granularity: npi
    query: SELECT u.npi FROM {npi_universe_table} u
  - id: pcp_pair
    name: PCP pair
    granularity: specialty
    query: SELECT b.npi, b.specialty_name FROM {specialty_base_table} b
    enabled: false
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func setTestConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	config.SetCurrent(cfg)
	t.Cleanup(func() { config.SetCurrent(nil) })
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRulesCommandList(t *testing.T) {
	setTestConfig(t, &config.Config{RulesPath: writeRules(t, testRulesYAML)})

	out, err := execute(t, NewRulesCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "no_directory_listing")
	assert.Contains(t, out, "pcp_pair")
	assert.Contains(t, out, "2 rules, 1 enabled")
}

func TestRulesCommandShow(t *testing.T) {
	setTestConfig(t, &config.Config{RulesPath: writeRules(t, testRulesYAML)})

	out, err := execute(t, NewRulesCommand(), "pcp_pair")
	require.NoError(t, err)
	assert.Contains(t, out, "PCP pair")
	assert.Contains(t, out, "{specialty_base_table}")
	assert.Contains(t, out, "Enabled:     false")
}

func TestRulesCommandUnknownID(t *testing.T) {
	setTestConfig(t, &config.Config{RulesPath: writeRules(t, testRulesYAML)})

	_, err := execute(t, NewRulesCommand(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func writeUniverseCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "universe.csv")
	require.NoError(t, os.WriteFile(path, []byte("npi\n1234567893\n1234567802\nbogus\n"), 0o600))
	return path
}

func TestValidateCommand(t *testing.T) {
	setTestConfig(t, &config.Config{
		RulesPath: writeRules(t, testRulesYAML),
		BatchSize: 100,
		Universe:  config.UniverseConfig{CSV: writeUniverseCSV(t), NPIColumn: "npi"},
		Target:    &config.TargetConfig{Type: "duckdb"},
	})

	out, err := execute(t, NewValidateCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid")
	assert.Contains(t, out, "2 rules valid (1 enabled)")
	assert.Contains(t, out, "2 valid NPIs, 1 invalid, 0 duplicates")
}

func TestValidateCommandMissingUniverse(t *testing.T) {
	setTestConfig(t, &config.Config{
		RulesPath: writeRules(t, testRulesYAML),
		BatchSize: 100,
		Universe:  config.UniverseConfig{CSV: filepath.Join(t.TempDir(), "absent.csv"), NPIColumn: "npi"},
		Target:    &config.TargetConfig{Type: "duckdb"},
	})

	_, err := execute(t, NewValidateCommand())
	require.Error(t, err)
}

func TestValidateCommandBadConfig(t *testing.T) {
	setTestConfig(t, &config.Config{
		RulesPath: writeRules(t, testRulesYAML),
		BatchSize: 100,
		Universe:  config.UniverseConfig{CSV: "u.csv"},
		Target:    &config.TargetConfig{Type: "sybase"},
	})

	out, err := execute(t, NewValidateCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, out, "unknown adapter type")
}

func TestValidateCommandBadRules(t *testing.T) {
	bad := `rules:
  - id: r1
    name: one
    granularity: npi
    query: SELECT npi FROM providers
`
	setTestConfig(t, &config.Config{
		RulesPath: writeRules(t, bad),
		BatchSize: 100,
		Universe:  config.UniverseConfig{CSV: "u.csv"},
		Target:    &config.TargetConfig{Type: "duckdb"},
	})

	_, err := execute(t, NewValidateCommand())
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, NewVersionCommand("1.2.3"))
	require.NoError(t, err)
	assert.Contains(t, out, "suppress 1.2.3")
}

func TestNewCommandContextRequiresConfig(t *testing.T) {
	config.SetCurrent(nil)
	_, _, err := NewCommandContext(&cobra.Command{})
	assert.Error(t, err)
}
