package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/provdir-labs/suppress/internal/rules"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules [rule-id]",
		Short: "List the configured suppression rules",
		Long: `List the rules in the configured corpus with their granularity and
enabled state. Pass a rule ID to see its full definition including the
query template.`,
		Example: `  # List all rules
  suppress rules

  # Show one rule's definition
  suppress rules not_in_directory`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)
			if cmdCtx.Cfg == nil {
				return fmt.Errorf("configuration not loaded")
			}

			corpus, err := rules.Load(cmdCtx.Cfg.RulesPath)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				return showRule(cmd, corpus, args[0])
			}
			return listRules(cmd, corpus)
		},
	}
	return cmd
}

func listRules(cmd *cobra.Command, corpus []*rules.Rule) error {
	out := cmd.OutOrStdout()

	t := newTable()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"ID", "Name", "Granularity", "Enabled"})
	enabled := 0
	for _, r := range corpus {
		state := dimStyle.Render("no")
		if r.IsEnabled() {
			state = successStyle.Render("yes")
			enabled++
		}
		t.AppendRow(table.Row{r.ID, r.Name, string(r.Granularity), state})
	}
	t.Render()

	fmt.Fprintf(out, "%d rules, %d enabled\n", len(corpus), enabled)
	return nil
}

func showRule(cmd *cobra.Command, corpus []*rules.Rule, id string) error {
	out := cmd.OutOrStdout()

	for _, r := range corpus {
		if r.ID != id {
			continue
		}
		fmt.Fprintf(out, "%s\n", titleStyle.Render(r.ID))
		fmt.Fprintf(out, "Name:        %s\n", r.Name)
		if r.Description != "" {
			fmt.Fprintf(out, "Description: %s\n", r.Description)
		}
		fmt.Fprintf(out, "Granularity: %s\n", r.Granularity)
		fmt.Fprintf(out, "Enabled:     %t\n", r.IsEnabled())
		fmt.Fprintf(out, "\nQuery:\n%s\n", r.Query)
		return nil
	}
	return fmt.Errorf("rule %q not found", id)
}
