package gatelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to accept the human-readable
// "500ms" / "2s" / "1m" forms in YAML policy files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// PolicySpec is the YAML shape of a single named policy.
type PolicySpec struct {
	Name                string   `yaml:"name"`
	Kind                Kind     `yaml:"kind"`
	Limit               uint64   `yaml:"limit"`
	Window              Duration `yaml:"window"`
	SegmentsPerWindow   uint64   `yaml:"segments"`
	QueueLimit          uint64   `yaml:"queue_limit"`
	Capacity            uint64   `yaml:"capacity"`
	TokensPerPeriod     uint64   `yaml:"tokens_per_period"`
	ReplenishmentPeriod Duration `yaml:"replenishment_period"`
}

// PolicyFile is the YAML shape of a policy configuration file.
type PolicyFile struct {
	Policies []PolicySpec `yaml:"policies"`
}

// config converts the YAML shape into a limiter configuration.
func (spec PolicySpec) config() *Config {
	return &Config{
		Kind:                spec.Kind,
		Limit:               spec.Limit,
		Window:              spec.Window.Duration,
		SegmentsPerWindow:   spec.SegmentsPerWindow,
		QueueLimit:          spec.QueueLimit,
		Capacity:            spec.Capacity,
		TokensPerPeriod:     spec.TokensPerPeriod,
		ReplenishmentPeriod: spec.ReplenishmentPeriod.Duration,
	}
}

// ParsePolicies builds a registry from YAML policy definitions.
//
// Any invalid policy fails the whole parse: a partially loaded
// registry would silently leave traffic unprotected.
func ParsePolicies(raw []byte, opts ...RegistryOption) (*Registry, error) {
	var file PolicyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("error parsing policy definitions: %w", err)
	}

	if len(file.Policies) == 0 {
		return nil, fmt.Errorf("policy definitions contain no policies")
	}

	registry := NewRegistry(opts...)

	for i, spec := range file.Policies {
		if spec.Name == "" {
			return nil, fmt.Errorf("policy at index %d has no name", i)
		}

		limiter, err := New(spec.config())
		if err != nil {
			return nil, fmt.Errorf("error building policy %q: %w", spec.Name, err)
		}

		if err := registry.Register(spec.Name, limiter); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// LoadPolicies reads YAML policy definitions from a file
// and builds a registry from them.
func LoadPolicies(path string, opts ...RegistryOption) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading policy file %q: %w", path, err)
	}
	return ParsePolicies(raw, opts...)
}
