package universe

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// InvalidEntry records a universe entry that failed NPI validation.
// Invalid entries are excluded from processing but always reported,
// never silently dropped.
type InvalidEntry struct {
	Row   int    // 1-based data row in the source
	Value string // raw value as it appeared
}

// Universe is an ordered, de-duplicated set of validated NPIs plus the
// entries rejected during loading. Immutable once loaded; lifetime is one
// run.
type Universe struct {
	NPIs       []string // validated, first-occurrence order
	Invalid    []InvalidEntry
	Duplicates int
	Source     string
}

// Total returns the count of raw entries seen during loading.
func (u *Universe) Total() int {
	return len(u.NPIs) + len(u.Invalid) + u.Duplicates
}

// FromNPIs builds a Universe from an in-memory slice, applying the same
// cleaning, validation, and de-duplication as file loading.
func FromNPIs(raw []string, source string) *Universe {
	u := &Universe{Source: source}
	seen := make(map[string]struct{}, len(raw))
	for i, v := range raw {
		u.add(i+1, v, seen)
	}
	return u
}

// LoadCSV reads NPIs from a CSV file column. The column is located by
// header name (case-insensitive); every value is cleaned, validated, and
// de-duplicated preserving first-occurrence order.
func LoadCSV(path, npiColumn string, logger *slog.Logger) (*Universe, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open universe file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows; the NPI column is what matters

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), npiColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q not found in %s (available: %s)",
			npiColumn, path, strings.Join(header, ", "))
	}

	u := &Universe{Source: path}
	seen := make(map[string]struct{})
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", row+1, err)
		}
		row++
		if col >= len(record) {
			u.Invalid = append(u.Invalid, InvalidEntry{Row: row, Value: ""})
			continue
		}
		u.add(row, record[col], seen)
	}

	logger.Info("universe loaded",
		"source", path,
		"valid", len(u.NPIs),
		"invalid", len(u.Invalid),
		"duplicates", u.Duplicates)

	return u, nil
}

// add cleans, validates, and de-duplicates one raw entry.
func (u *Universe) add(row int, raw string, seen map[string]struct{}) {
	npi := CleanNPI(raw)
	if !ValidNPI(npi) {
		u.Invalid = append(u.Invalid, InvalidEntry{Row: row, Value: strings.TrimSpace(raw)})
		return
	}
	if _, dup := seen[npi]; dup {
		u.Duplicates++
		return
	}
	seen[npi] = struct{}{}
	u.NPIs = append(u.NPIs, npi)
}
