package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// corpusFile is the YAML shape of a rule corpus file.
type corpusFile struct {
	Rules []*Rule `yaml:"rules"`
}

// Load reads and validates a rule corpus from a YAML file. Rule order is
// preserved as written (it affects report readability, never verdicts).
// Any malformed definition aborts the load.
func Load(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse validates a rule corpus from YAML bytes.
func Parse(data []byte) ([]*Rule, error) {
	var corpus corpusFile
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	if len(corpus.Rules) == 0 {
		return nil, fmt.Errorf("rules file defines no rules")
	}

	seen := make(map[string]struct{}, len(corpus.Rules))
	for _, r := range corpus.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[r.ID]; dup {
			return nil, &ValidationError{Rule: r.ID, Reason: "duplicate rule id"}
		}
		seen[r.ID] = struct{}{}
	}

	return corpus.Rules, nil
}

// Enabled filters the corpus down to rules that will execute.
func Enabled(all []*Rule) []*Rule {
	out := make([]*Rule, 0, len(all))
	for _, r := range all {
		if r.IsEnabled() {
			out = append(out, r)
		}
	}
	return out
}
