package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseConfigYAML parses a Config from YAML bytes, applies defaults and validates it.
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseConfigYAMLString parses a Config from a YAML string and validates it.
func ParseConfigYAMLString(yamlText string) (*Config, error) {
	return ParseConfigYAML([]byte(yamlText))
}

// ParseTuningOptionsYAML parses a standalone tuning options document
func ParseTuningOptionsYAML(data []byte) (TuningOptions, error) {
	opts := DefaultTuningOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return TuningOptions{}, fmt.Errorf("failed to parse tuning options yaml: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return TuningOptions{}, err
	}
	return opts, nil
}
