package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/provdir-labs/suppress/internal/ledger"
)

// NewRunsCommand creates the runs command, which lists the run ledger.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [session-id]",
		Short: "List recorded suppression runs",
		Long: `List runs recorded in the local run ledger, newest first. Pass a
session ID to see that run's per-rule outcomes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)
			if cmdCtx.Cfg == nil {
				return fmt.Errorf("configuration not loaded")
			}
			if cmdCtx.Cfg.LedgerPath == "" {
				return fmt.Errorf("run ledger is disabled (ledger_path is off)")
			}

			led, err := ledger.Open(cmdCtx.Cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer func() { _ = led.Close() }()

			if len(args) > 0 {
				return showRunDetail(cmd, led, args[0])
			}
			return listRuns(cmd, led, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")
	return cmd
}

func listRuns(cmd *cobra.Command, led *ledger.Store, limit int) error {
	runs, err := led.ListRuns(limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	t := newTable()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Session", "Status", "Started", "Universe", "Pairs", "Suppressed", "Failed rules"})
	for _, r := range runs {
		status := string(r.Status)
		switch r.Status {
		case ledger.RunStatusCompleted:
			status = successStyle.Render(status)
		case ledger.RunStatusFailed:
			status = errorStyle.Render(status)
		}
		t.AppendRow(table.Row{
			r.SessionID, status, r.StartedAt.Local().Format(time.DateTime),
			r.UniverseSize, r.TotalPairs, r.SuppressedPairs, r.FailedRules,
		})
	}
	t.Render()
	return nil
}

func showRunDetail(cmd *cobra.Command, led *ledger.Store, sessionID string) error {
	ruleRuns, err := led.RuleRuns(sessionID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ruleRuns) == 0 {
		return fmt.Errorf("no rule outcomes recorded for session %q", sessionID)
	}

	t := newTable()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Rule", "Status", "Matched", "Duration (ms)", "Error"})
	for _, rr := range ruleRuns {
		t.AppendRow(table.Row{rr.RuleID, rr.Status, rr.Matched, rr.DurationMS, rr.Error})
	}
	t.Render()
	return nil
}
