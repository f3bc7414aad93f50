// Package report writes run results to CSV and text files for audit
// consumers. The engine computes everything in memory; this package owns
// formatting and filesystem layout.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/provdir-labs/suppress/internal/engine"
)

// Writer writes one run's report files under a session-scoped directory.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a report writer rooted at outputDir. Files for a run are
// written to <outputDir>/<sessionID>/.
func NewWriter(outputDir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{dir: outputDir, logger: logger}
}

// WriteAll writes every report file for the run concurrently and returns the
// paths written. A failure in any writer cancels the group context, which
// every writer checks before touching the filesystem.
func (w *Writer) WriteAll(ctx context.Context, res *engine.Results) ([]string, error) {
	runDir := filepath.Join(w.dir, res.SessionID)
	if err := os.MkdirAll(runDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	type fileWriter struct {
		name  string
		write func(ctx context.Context, path string) error
	}
	writers := []fileWriter{
		{"categorization.csv", func(ctx context.Context, p string) error { return w.writeCategorization(ctx, p, res) }},
		{"master_verdict.csv", func(ctx context.Context, p string) error { return w.writeVerdicts(ctx, p, res) }},
		{"rule_impact.csv", func(ctx context.Context, p string) error { return w.writeRuleImpact(ctx, p, res) }},
		{"rule_combinations.csv", func(ctx context.Context, p string) error { return w.writeCombinations(ctx, p, res) }},
		{"downstream_impact.csv", func(ctx context.Context, p string) error { return w.writeDownstream(ctx, p, res) }},
		{"summary.txt", func(ctx context.Context, p string) error { return w.writeSummary(ctx, p, res) }},
	}
	if len(res.Universe.Invalid) > 0 {
		writers = append(writers, fileWriter{"invalid_npis.csv", func(ctx context.Context, p string) error {
			return w.writeInvalid(ctx, p, res)
		}})
	}

	g, gctx := errgroup.WithContext(ctx)
	paths := make([]string, len(writers))
	for i, fw := range writers {
		path := filepath.Join(runDir, fw.name)
		paths[i] = path
		write := fw.write
		g.Go(func() error { return write(gctx, path) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	w.logger.Info("reports written", "dir", runDir, "files", len(paths))
	return paths, nil
}

// writeCSV opens path and streams rows through encoding/csv. A cancelled
// context skips the file entirely.
func writeCSV(ctx context.Context, path string, header []string, rows func(cw *csv.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := rows(cw); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func (w *Writer) writeCategorization(ctx context.Context, path string, res *engine.Results) error {
	return writeCSV(ctx, path, []string{"npi", "category"}, func(cw *csv.Writer) error {
		for _, npi := range res.Universe.NPIs {
			if err := cw.Write([]string{npi, string(res.Categories.ByNPI[npi])}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writeInvalid(ctx context.Context, path string, res *engine.Results) error {
	return writeCSV(ctx, path, []string{"row", "value"}, func(cw *csv.Writer) error {
		for _, inv := range res.Universe.Invalid {
			if err := cw.Write([]string{strconv.Itoa(inv.Row), inv.Value}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writeVerdicts(ctx context.Context, path string, res *engine.Results) error {
	ruleIDs := res.SuccessfulRuleIDs()
	header := []string{"npi", "specialty_name", "rule_combination_key", "npi_suppressed", "specialty_suppressed"}
	for _, id := range ruleIDs {
		header = append(header, "rule_"+id+"_flag")
	}

	return writeCSV(ctx, path, header, func(cw *csv.Writer) error {
		row := make([]string, 0, len(header))
		for _, v := range res.Verdicts {
			row = row[:0]
			row = append(row, v.NPI, v.Specialty, v.CombinationKey,
				yn(v.NPISuppressed), yn(v.SpecialtySuppressed))
			for _, id := range ruleIDs {
				row = append(row, yn(v.RuleFlags[id]))
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writeRuleImpact(ctx context.Context, path string, res *engine.Results) error {
	header := []string{"rule_id", "name", "granularity", "status", "npis_matched", "pairs_matched", "pairs_unique", "duration_ms", "error"}
	return writeCSV(ctx, path, header, func(cw *csv.Writer) error {
		for _, imp := range res.Impacts {
			err := cw.Write([]string{
				imp.RuleID,
				imp.Name,
				string(imp.Granularity),
				string(imp.Status),
				strconv.FormatInt(imp.NPIsMatched, 10),
				strconv.FormatInt(imp.PairsMatched, 10),
				strconv.FormatInt(imp.PairsUnique, 10),
				strconv.FormatInt(imp.Duration.Milliseconds(), 10),
				imp.Error,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writeCombinations(ctx context.Context, path string, res *engine.Results) error {
	header := []string{"combination_key", "rules", "occurrences", "unique_npis", "suppressed"}
	return writeCSV(ctx, path, header, func(cw *csv.Writer) error {
		for _, c := range res.Combinations {
			err := cw.Write([]string{
				c.Key,
				strings.Join(c.Rules, ";"),
				strconv.FormatInt(c.Occurrences, 10),
				strconv.FormatInt(c.UniqueNPIs, 10),
				yn(c.Suppressed),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writeDownstream(ctx context.Context, path string, res *engine.Results) error {
	header := []string{"practice_locations", "practices", "specialties"}
	return writeCSV(ctx, path, header, func(cw *csv.Writer) error {
		return cw.Write([]string{
			strconv.FormatInt(res.Downstream.PracticeLocations, 10),
			strconv.FormatInt(res.Downstream.Practices, 10),
			strconv.FormatInt(res.Downstream.Specialties, 10),
		})
	})
}

func (w *Writer) writeSummary(ctx context.Context, path string, res *engine.Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	fmt.Fprintf(&b, "Suppression run %s\n", res.SessionID)
	fmt.Fprintf(&b, "Started:   %s\n", res.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Completed: %s (%s)\n\n", res.CompletedAt.Format(time.RFC3339), res.Duration().Round(time.Millisecond))

	fmt.Fprintf(&b, "Universe: %d NPIs (%d invalid, %d duplicates removed)\n",
		len(res.Universe.NPIs), len(res.Universe.Invalid), res.Universe.Duplicates)
	for _, c := range engine.Categories {
		fmt.Fprintf(&b, "  %-14s %d\n", string(c)+":", res.Categories.Counts[c])
	}

	fmt.Fprintf(&b, "\nVerdict: %d pairs over %d NPIs\n", res.Stats.TotalPairs, res.Stats.UniqueNPIs)
	fmt.Fprintf(&b, "  suppressed pairs: %d (%.1f%%)\n", res.Stats.SuppressedPairs, res.Stats.PairSuppressionRate())
	fmt.Fprintf(&b, "  suppressed NPIs:  %d (%.1f%%)\n", res.Stats.SuppressedNPIs, res.Stats.NPISuppressionRate())

	fmt.Fprintf(&b, "\nDownstream: %d practice locations, %d practices, %d specialties\n",
		res.Downstream.PracticeLocations, res.Downstream.Practices, res.Downstream.Specialties)

	if failed := res.FailedRules(); len(failed) > 0 {
		fmt.Fprintf(&b, "\nWARNING: %d rule(s) failed: %s\n", len(failed), strings.Join(failed, ", "))
		fmt.Fprintf(&b, "Results reflect only the rules that executed successfully.\n")
	}

	if _, err := f.WriteString(b.String()); err != nil {
		return err
	}
	return f.Close()
}
