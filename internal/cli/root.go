// Package cli provides the command-line interface for suppress.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/provdir-labs/suppress/internal/cli/commands"
	"github.com/provdir-labs/suppress/internal/config"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "suppress",
		Short: "Suppress - Provider Directory Suppression Engine",
		Long: `Suppress evaluates directory suppression rules against an NPI universe.

It validates and categorizes NPIs by provider type, executes the configured
rule corpus against session-scoped relations in the target store, and
aggregates per-rule matches into suppression verdicts with full audit
metrics. The target store is never modified.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			config.SetCurrent(cfg)

			level := slog.LevelInfo
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			cmd.SetContext(commands.WithLogger(cmd.Context(), logger))

			if cfg.Verbose {
				if configFile := config.GetConfigFileUsed(); configFile != "" {
					fmt.Fprintf(os.Stderr, "Using config file: %s\n", configFile)
				}
			}

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags. These feed the config loader, so file and
	// environment settings can be overridden per invocation.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./suppress.yaml)")
	rootCmd.PersistentFlags().String("rules", "", "Path to the rules YAML file")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Directory for report files")
	rootCmd.PersistentFlags().Int("batch-size", 0, "Maximum NPIs per execution batch")
	rootCmd.PersistentFlags().String("ledger", "", "Run ledger path ('off' to disable)")
	rootCmd.PersistentFlags().String("csv-universe", "", "Path to a CSV file holding the NPI universe")
	rootCmd.PersistentFlags().String("table-universe", "", "Relation in the store holding the NPI universe")
	rootCmd.PersistentFlags().String("npi-column", "", "Column holding NPIs in the universe source")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewRulesCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
