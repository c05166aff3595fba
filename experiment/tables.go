package experiment

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Variants. Control is the one every user falls back to.
const (
	Control  = "control"
	VariantA = "variant_a"
	VariantB = "variant_b"
)

var knownVariants = map[string]bool{Control: true, VariantA: true, VariantB: true}

// Split is one variant's share of the 100 buckets.
type Split struct {
	Variant string `yaml:"variant"`
	Weight  int    `yaml:"weight"`
}

// Tables holds the experiment splits and feature rollout percentages.
type Tables struct {
	Experiments map[string][]Split `yaml:"experiments"`
	Flags       map[string]int     `yaml:"flags"`
}

// DefaultTables returns the built-in experiments and rollouts.
func DefaultTables() Tables {
	return Tables{
		Experiments: map[string][]Split{
			"dashboard_layout": {{Control, 50}, {VariantA, 50}},
			"onboarding_flow":  {{Control, 34}, {VariantA, 33}, {VariantB, 33}},
			"pricing_page":     {{Control, 50}, {VariantA, 50}},
			"rule_builder":     {{Control, 50}, {VariantA, 25}, {VariantB, 25}},
		},
		Flags: map[string]int{
			"new_dashboard":      50,
			"advanced_analytics": 25,
			"ai_recommendations": 10,
			"dark_mode":          100,
			"beta_features":      5,
		},
	}
}

// Validate checks that splits only name control, variant_a and variant_b,
// each once, and that weights and rollout percentages stay within 0-100.
func (t Tables) Validate() error {
	var errs []error
	for name, splits := range t.Experiments {
		if len(splits) == 0 {
			errs = append(errs, fmt.Errorf("experiment %q has no variants", name))
			continue
		}
		total := 0
		seen := make(map[string]bool, len(splits))
		for _, s := range splits {
			switch {
			case !knownVariants[s.Variant]:
				errs = append(errs, fmt.Errorf("experiment %q has unknown variant %q", name, s.Variant))
			case seen[s.Variant]:
				errs = append(errs, fmt.Errorf("experiment %q lists variant %q twice", name, s.Variant))
			case s.Weight < 0:
				errs = append(errs, fmt.Errorf("experiment %q has a negative weight for %q", name, s.Variant))
			}
			seen[s.Variant] = true
			total += s.Weight
		}
		if total > 100 {
			errs = append(errs, fmt.Errorf("experiment %q weights sum to %d", name, total))
		}
	}
	for name, pct := range t.Flags {
		if pct < 0 || pct > 100 {
			errs = append(errs, fmt.Errorf("flag %q rollout %d is outside 0-100", name, pct))
		}
	}
	return errors.Join(errs...)
}

// LoadTables returns the defaults overlaid with the YAML file at path. An
// empty path or a missing file yields the defaults.
func LoadTables(path string) (Tables, error) {
	tables := DefaultTables()
	if path == "" {
		return tables, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tables, nil
		}
		return tables, fmt.Errorf("failed to read experiments file: %w", err)
	}

	var file Tables
	if err := yaml.Unmarshal(data, &file); err != nil {
		return tables, fmt.Errorf("failed to parse experiments file %s: %w", path, err)
	}
	for name, splits := range file.Experiments {
		tables.Experiments[name] = splits
	}
	for name, pct := range file.Flags {
		tables.Flags[name] = pct
	}

	if err := tables.Validate(); err != nil {
		return DefaultTables(), fmt.Errorf("invalid experiments file %s: %w", path, err)
	}
	return tables, nil
}
