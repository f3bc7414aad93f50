package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/provdir-labs/suppress/internal/engine"
	"github.com/provdir-labs/suppress/internal/ledger"
	"github.com/provdir-labs/suppress/internal/report"
	"github.com/provdir-labs/suppress/internal/session"
	"github.com/provdir-labs/suppress/internal/universe"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var noReports bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a suppression run over an NPI universe",
		Long: `Execute all enabled suppression rules against the configured universe.

The universe comes from either a CSV file (--csv-universe) or an existing
relation in the target store (--table-universe). Every NPI is validated,
categorized by provider type, and practitioners are evaluated against the
rule corpus. Results are written as CSV reports under the output directory
and summarized on the terminal.`,
		Example: `  # Run against a CSV universe
  suppress run --csv-universe ./universe.csv

  # Run against a table already in the store
  suppress run --table-universe provider_extract --npi-column npi

  # Larger batches, custom rules file
  suppress run --csv-universe u.csv --rules ./rules.yaml --batch-size 50000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			return runSuppression(cmd, cmdCtx, noReports)
		},
	}

	cmd.Flags().BoolVar(&noReports, "no-reports", false, "Skip writing report files")

	return cmd
}

func runSuppression(cmd *cobra.Command, cmdCtx *CommandContext, noReports bool) error {
	ctx := cmd.Context()
	cfg := cmdCtx.Cfg
	out := cmd.OutOrStdout()

	// Load the universe.
	var u *universe.Universe
	var err error
	if cfg.Universe.CSV != "" {
		u, err = universe.LoadCSV(cfg.Universe.CSV, cfg.Universe.NPIColumn, cmdCtx.Logger)
	} else {
		u, err = cmdCtx.Engine.LoadUniverseFromTable(ctx, cfg.Universe.Table, cfg.Universe.NPIColumn)
	}
	if err != nil {
		return err
	}

	// Optional run ledger next to the reports.
	var led *ledger.Store
	if cfg.LedgerPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0750); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
		led, err = ledger.Open(cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer func() { _ = led.Close() }()
	}

	// The session ID is allocated up front so the ledger can record the run
	// as running before the engine starts, and a failure lands on that row.
	sessionID := session.NewID()
	if led != nil {
		if lerr := led.BeginRun(sessionID, u.Total()); lerr != nil {
			cmdCtx.Logger.Warn("failed to record run start in ledger", "error", lerr)
		}
	}

	res, err := cmdCtx.Engine.RunWithSessionID(ctx, u, sessionID)
	if err != nil {
		if led != nil {
			if lerr := led.RecordFailure(sessionID, u.Total(), err); lerr != nil {
				cmdCtx.Logger.Warn("failed to record run failure in ledger", "error", lerr)
			}
		}
		return err
	}

	if led != nil {
		if lerr := led.CompleteRun(res); lerr != nil {
			cmdCtx.Logger.Warn("failed to record run completion in ledger", "error", lerr)
		}
	}

	if !noReports {
		w := report.NewWriter(cfg.OutputDir, cmdCtx.Logger)
		paths, err := w.WriteAll(ctx, res)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n", dimStyle.Render(fmt.Sprintf("Wrote %d report files to %s",
			len(paths), filepath.Join(cfg.OutputDir, res.SessionID))))
	}

	printRunSummary(out, res)
	return nil
}

func printRunSummary(out io.Writer, res *engine.Results) {
	fmt.Fprintf(out, "\n%s\n\n", titleStyle.Render(fmt.Sprintf(
		"Suppression run %s completed in %s",
		res.SessionID, res.Duration().Round(time.Millisecond))))

	// Universe categorization.
	ut := newTable()
	ut.SetOutputMirror(out)
	ut.AppendHeader(table.Row{"Category", "NPIs"})
	for _, c := range engine.Categories {
		ut.AppendRow(table.Row{string(c), res.Categories.Counts[c]})
	}
	ut.AppendFooter(table.Row{"valid universe", len(res.Universe.NPIs)})
	ut.Render()

	if n := len(res.Universe.Invalid); n > 0 {
		fmt.Fprintf(out, "%s\n", warnStyle.Render(fmt.Sprintf("%d invalid NPIs excluded", n)))
	}
	if res.Universe.Duplicates > 0 {
		fmt.Fprintf(out, "%s\n", dimStyle.Render(fmt.Sprintf("%d duplicates removed", res.Universe.Duplicates)))
	}

	// Per-rule impact.
	rt := newTable()
	rt.SetOutputMirror(out)
	rt.AppendHeader(table.Row{"Rule", "Granularity", "Status", "NPIs", "Pairs", "Unique", "Duration"})
	for _, imp := range res.Impacts {
		status := string(imp.Status)
		switch imp.Status {
		case engine.RuleStatusSucceeded:
			status = successStyle.Render(status)
		case engine.RuleStatusFailed:
			status = errorStyle.Render(status)
		default:
			status = dimStyle.Render(status)
		}
		rt.AppendRow(table.Row{
			imp.RuleID, string(imp.Granularity), status,
			imp.NPIsMatched, imp.PairsMatched, imp.PairsUnique,
			imp.Duration.Round(time.Millisecond),
		})
	}
	fmt.Fprintln(out)
	rt.Render()

	fmt.Fprintf(out, "\nVerdict: %d pairs over %d NPIs\n", res.Stats.TotalPairs, res.Stats.UniqueNPIs)
	fmt.Fprintf(out, "  suppressed pairs: %d (%.1f%%)\n", res.Stats.SuppressedPairs, res.Stats.PairSuppressionRate())
	fmt.Fprintf(out, "  suppressed NPIs:  %d (%.1f%%)\n", res.Stats.SuppressedNPIs, res.Stats.NPISuppressionRate())
	fmt.Fprintf(out, "Downstream: %d practice locations, %d practices, %d specialties\n",
		res.Downstream.PracticeLocations, res.Downstream.Practices, res.Downstream.Specialties)

	if failed := res.FailedRules(); len(failed) > 0 {
		fmt.Fprintf(out, "\n%s\n", errorStyle.Render(fmt.Sprintf(
			"WARNING: %d rule(s) failed: %s", len(failed), strings.Join(failed, ", "))))
		fmt.Fprintf(out, "%s\n", dimStyle.Render("Results reflect only the rules that executed successfully."))
	}
}
