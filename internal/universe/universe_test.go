package universe

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCSV(t *testing.T) {
	u, err := LoadCSV(filepath.Join("testdata", "universe.csv"), "npi", nil)
	require.NoError(t, err)

	// Header match is case-insensitive ("NPI" column), values are cleaned,
	// invalid check digits rejected, duplicates dropped preserving order.
	assert.Equal(t, []string{"1234567893", "1234567802", "1234567810"}, u.NPIs)
	assert.Equal(t, 1, u.Duplicates)

	require.Len(t, u.Invalid, 2)
	assert.Equal(t, 4, u.Invalid[0].Row)
	assert.Equal(t, "1234567890", u.Invalid[0].Value)
	assert.Equal(t, 6, u.Invalid[1].Row)

	assert.Equal(t, 6, u.Total())
}

func TestLoadCSVMissingColumn(t *testing.T) {
	_, err := LoadCSV(filepath.Join("testdata", "universe.csv"), "national_provider_id", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "national_provider_id")
}

func TestLoadCSVMissingFile(t *testing.T) {
	_, err := LoadCSV(filepath.Join("testdata", "nope.csv"), "npi", nil)
	assert.Error(t, err)
}

func TestFromNPIs(t *testing.T) {
	u := FromNPIs([]string{"1234567893", "bogus", "1234567893", " 1234567802"}, "inline")
	assert.Equal(t, []string{"1234567893", "1234567802"}, u.NPIs)
	assert.Equal(t, 1, u.Duplicates)
	require.Len(t, u.Invalid, 1)
	assert.Equal(t, 2, u.Invalid[0].Row)
	assert.Equal(t, "inline", u.Source)
}
