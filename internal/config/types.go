// Package config provides configuration types and loading for the
// suppression engine CLI. Configuration is layered: defaults, then the
// suppress.yaml file, then SUPPRESS_ environment variables, then flags.
package config

import (
	"fmt"
	"strings"

	"github.com/provdir-labs/suppress/internal/adapter"
)

// Default values applied before any other configuration source.
const (
	DefaultBatchSize = 10000
	DefaultOutputDir = "./reports"
	DefaultNPIColumn = "npi"
	DefaultRulesPath = "rules.yaml"
	DefaultLedger    = "suppress-ledger.db"
)

// TargetConfig holds external relational store connection configuration.
type TargetConfig struct {
	Type string `koanf:"type"` // duckdb, postgres

	// File-based databases (DuckDB)
	Database string `koanf:"database"` // file path or database name

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Common
	Schema string `koanf:"schema"`

	// Additional driver-specific options
	Options map[string]string `koanf:"options"`
}

// Validate checks if the target configuration is valid.
// It uses the adapter registry to determine which adapter types are available.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	if !adapter.IsRegistered(strings.ToLower(t.Type)) {
		return &adapter.UnknownAdapterError{
			Type:      t.Type,
			Available: adapter.ListAdapters(),
		}
	}
	return nil
}

// ToAdapterConfig converts the target into an adapter.Config.
func (t *TargetConfig) ToAdapterConfig() adapter.Config {
	return adapter.Config{
		Type:     strings.ToLower(t.Type),
		Path:     t.Database,
		Database: t.Database,
		Host:     t.Host,
		Port:     t.Port,
		Username: t.User,
		Password: t.Password,
		Schema:   t.Schema,
		Options:  t.Options,
	}
}

// UniverseConfig names the source of the run's NPI universe. Exactly one
// of CSV or Table must be set.
type UniverseConfig struct {
	CSV       string `koanf:"csv"`        // path to a CSV file
	NPIColumn string `koanf:"npi_column"` // CSV column holding NPIs
	Table     string `koanf:"table"`      // existing relation in the store
}

// Validate checks the universe source specification.
func (u *UniverseConfig) Validate() error {
	switch {
	case u.CSV == "" && u.Table == "":
		return fmt.Errorf("universe source is required: set universe.csv or universe.table")
	case u.CSV != "" && u.Table != "":
		return fmt.Errorf("universe.csv and universe.table are mutually exclusive")
	}
	return nil
}

// ReferenceConfig names the provider reference relations in the external
// store. The categorizer and the downstream-impact metrics join against
// these; rule queries reference whatever relations they need directly.
//
// Expected columns:
//
//	practitioners(practitioner_id, national_provider_id)
//	practitioner_specialties(practitioner_id, specialty_id)
//	specialties(specialty_id, specialty_name)
//	facilities(facility_id, national_provider_id)
//	facility_addresses(facility_id)
//	practice_locations(practice_location_id, practice_id, national_provider_id, in_directory)
//	practices(practice_id)
type ReferenceConfig struct {
	Practitioners           string `koanf:"practitioners"`
	PractitionerSpecialties string `koanf:"practitioner_specialties"`
	Specialties             string `koanf:"specialties"`
	Facilities              string `koanf:"facilities"`
	FacilityAddresses       string `koanf:"facility_addresses"`
	PracticeLocations       string `koanf:"practice_locations"`
	Practices               string `koanf:"practices"`
}

// ApplyDefaults fills unset relation names with their conventional names.
func (r *ReferenceConfig) ApplyDefaults() {
	def := func(field *string, name string) {
		if *field == "" {
			*field = name
		}
	}
	def(&r.Practitioners, "practitioners")
	def(&r.PractitionerSpecialties, "practitioner_specialties")
	def(&r.Specialties, "specialties")
	def(&r.Facilities, "facilities")
	def(&r.FacilityAddresses, "facility_addresses")
	def(&r.PracticeLocations, "practice_locations")
	def(&r.Practices, "practices")
}

// Config is the full CLI configuration.
type Config struct {
	RulesPath  string          `koanf:"rules_path"`
	OutputDir  string          `koanf:"output_dir"`
	BatchSize  int             `koanf:"batch_size"`
	LedgerPath string          `koanf:"ledger_path"` // empty disables the run ledger
	Verbose    bool            `koanf:"verbose"`
	Universe   UniverseConfig  `koanf:"universe"`
	Target     *TargetConfig   `koanf:"target"`
	Reference  ReferenceConfig `koanf:"reference"`
}

// Validate checks the configuration for a full run.
func (c *Config) Validate() error {
	if c.RulesPath == "" {
		return fmt.Errorf("rules_path is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Target == nil {
		return fmt.Errorf("target configuration is required")
	}
	if err := c.Target.Validate(); err != nil {
		return err
	}
	return c.Universe.Validate()
}
