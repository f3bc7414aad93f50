package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config file names searched in the working directory.
const (
	ConfigFileName    = "suppress.yaml"
	ConfigFileNameAlt = "suppress.yml"
)

// envPrefix is the prefix for environment variable overrides
// (SUPPRESS_BATCH_SIZE -> batch_size, SUPPRESS_TARGET.TYPE is not
// supported; nested keys use SUPPRESS_TARGET__TYPE).
const envPrefix = "SUPPRESS_"

// configFileUsed tracks which file the last Load call read, for verbose output.
var configFileUsed string

// current is the configuration loaded by the root command, shared with
// subcommands.
var current *Config

// SetCurrent stores the active configuration.
func SetCurrent(c *Config) { current = c }

// GetCurrent returns the active configuration, or nil if none was loaded.
func GetCurrent() *Config { return current }

// GetConfigFileUsed returns the path of the config file used by the last
// Load, or empty if none was found.
func GetConfigFileUsed() string {
	return configFileUsed
}

// findConfigFile finds the config file to use.
// Priority: explicit path > suppress.yaml > suppress.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName
	}
	if _, err := os.Stat(ConfigFileNameAlt); err == nil {
		return ConfigFileNameAlt
	}
	return ""
}

// Load loads configuration from defaults, an optional YAML file,
// environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"rules_path":          DefaultRulesPath,
		"output_dir":          DefaultOutputDir,
		"batch_size":          DefaultBatchSize,
		"universe.npi_column": DefaultNPIColumn,
		"verbose":             false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	} else if cfgFile != "" {
		return nil, fmt.Errorf("config file not found: %s", cfgFile)
	}

	// 3. Environment variables (SUPPRESS_ prefix)
	// Transform: SUPPRESS_BATCH_SIZE -> batch_size, SUPPRESS_TARGET__TYPE -> target.type
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")

			// Bridge flag names to nested config keys.
			switch key {
			case "rules":
				return "rules_path", posflag.FlagVal(flags, f)
			case "output":
				return "output_dir", posflag.FlagVal(flags, f)
			case "csv_universe":
				return "universe.csv", posflag.FlagVal(flags, f)
			case "table_universe":
				return "universe.table", posflag.FlagVal(flags, f)
			case "npi_column":
				return "universe.npi_column", posflag.FlagVal(flags, f)
			case "ledger":
				return "ledger_path", posflag.FlagVal(flags, f)
			}

			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Reference.ApplyDefaults()

	// The ledger lives under the output directory unless placed explicitly.
	// "off" disables it.
	switch cfg.LedgerPath {
	case "":
		cfg.LedgerPath = filepath.Join(cfg.OutputDir, DefaultLedger)
	case "off":
		cfg.LedgerPath = ""
	}

	return &cfg, nil
}
