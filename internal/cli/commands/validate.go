package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/provdir-labs/suppress/internal/rules"
	"github.com/provdir-labs/suppress/internal/universe"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and rule corpus",
		Long: `Check the configuration and every rule definition without connecting to
the target store. Reports each problem found; exits non-zero if any.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)
			if cmdCtx.Cfg == nil {
				return fmt.Errorf("configuration not loaded")
			}
			out := cmd.OutOrStdout()
			problems := 0

			if err := cmdCtx.Cfg.Validate(); err != nil {
				fmt.Fprintf(out, "%s %v\n", errorStyle.Render("config:"), err)
				problems++
			} else {
				fmt.Fprintf(out, "%s configuration valid\n", successStyle.Render("ok"))
			}

			corpus, err := rules.Load(cmdCtx.Cfg.RulesPath)
			if err != nil {
				fmt.Fprintf(out, "%s %v\n", errorStyle.Render("rules:"), err)
				problems++
			} else {
				enabled := len(rules.Enabled(corpus))
				fmt.Fprintf(out, "%s %d rules valid (%d enabled)\n",
					successStyle.Render("ok"), len(corpus), enabled)
			}

			// Dry-run universe analysis for CSV sources: validation and
			// de-duplication without touching the store.
			if csvPath := cmdCtx.Cfg.Universe.CSV; csvPath != "" {
				u, err := universe.LoadCSV(csvPath, cmdCtx.Cfg.Universe.NPIColumn, cmdCtx.Logger)
				if err != nil {
					fmt.Fprintf(out, "%s %v\n", errorStyle.Render("universe:"), err)
					problems++
				} else {
					fmt.Fprintf(out, "%s universe: %d valid NPIs, %d invalid, %d duplicates\n",
						successStyle.Render("ok"), len(u.NPIs), len(u.Invalid), u.Duplicates)
					if len(u.NPIs) == 0 {
						fmt.Fprintf(out, "%s universe contains no valid NPIs\n", errorStyle.Render("universe:"))
						problems++
					}
				}
			}

			if problems > 0 {
				return fmt.Errorf("validation failed with %d problem(s)", problems)
			}
			return nil
		},
	}
	return cmd
}
