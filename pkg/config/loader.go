package config

import (
	"fmt"
	"os"
	"strings"
)

var knownOps = map[string]bool{
	"matmul":       true,
	"add":          true,
	"reduce_sum":   true,
	"batch_matmul": true,
}

// Default returns a configuration with every optional field filled in
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Parallelism: 2,
		Database:    DatabaseConfig{Driver: "memory"},
		Measurer: MeasurerConfig{
			Kind:      "sim",
			Repeat:    3,
			TimeoutMs: 2000,
			Noise:     0.02,
			Retries:   3,
			Backoff:   BackoffConfig{Type: "exponential", BaseMs: 100, MaxMs: 2000},
			Breaker:   BreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, CooldownMs: 10000},
		},
		Tuning: DefaultTuningOptions(),
	}
}

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", cfg.LogFormat)
	}
	if cfg.Parallelism < 1 {
		return fmt.Errorf("parallelism must be positive")
	}

	if err := validateDatabase(&cfg.Database); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	if err := validateMeasurer(&cfg.Measurer); err != nil {
		return fmt.Errorf("measurer validation failed: %w", err)
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return fmt.Errorf("tuning validation failed: %w", err)
	}

	targetNames := make(map[string]bool)
	for _, t := range cfg.Targets {
		if err := validateTarget(t); err != nil {
			return fmt.Errorf("target validation failed: %w", err)
		}
		if targetNames[t.Name] {
			return fmt.Errorf("duplicate target name: %s", t.Name)
		}
		targetNames[t.Name] = true
	}

	if len(cfg.Tasks) == 0 {
		return fmt.Errorf("at least one task must be defined")
	}
	taskNames := make(map[string]bool)
	for _, task := range cfg.Tasks {
		if err := validateTask(task); err != nil {
			return fmt.Errorf("task validation failed: %w", err)
		}
		if taskNames[task.Name] {
			return fmt.Errorf("duplicate task name: %s", task.Name)
		}
		taskNames[task.Name] = true
	}

	return nil
}

func validateDatabase(db *DatabaseConfig) error {
	switch db.Driver {
	case "memory":
		return nil
	case "sqlite":
		if strings.TrimSpace(db.Path) == "" {
			return fmt.Errorf("sqlite driver requires a path")
		}
		return nil
	default:
		return fmt.Errorf("unknown driver: %s (must be memory or sqlite)", db.Driver)
	}
}

func validateMeasurer(m *MeasurerConfig) error {
	switch m.Kind {
	case "sim", "local":
	case "remote":
		if m.Address == "" {
			return fmt.Errorf("remote measurer requires an address")
		}
	default:
		return fmt.Errorf("unknown measurer kind: %s (must be sim, local, or remote)", m.Kind)
	}
	if m.Repeat < 1 {
		return fmt.Errorf("repeat must be positive")
	}
	if m.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms cannot be negative")
	}
	if m.Noise < 0 || m.Noise >= 1 {
		return fmt.Errorf("noise must be in [0, 1)")
	}
	if m.Retries < 0 {
		return fmt.Errorf("retries cannot be negative")
	}
	switch m.Backoff.Type {
	case "", "exponential", "constant":
	default:
		return fmt.Errorf("invalid backoff type: %s (must be exponential or constant)", m.Backoff.Type)
	}
	if m.Backoff.BaseMs < 0 || m.Backoff.MaxMs < 0 {
		return fmt.Errorf("backoff delays cannot be negative")
	}
	if m.Breaker.FailureThreshold < 0 || m.Breaker.SuccessThreshold < 0 || m.Breaker.CooldownMs < 0 {
		return fmt.Errorf("circuit_breaker values cannot be negative")
	}
	return nil
}

func validateTarget(t TargetSpec) error {
	if t.Name == "" {
		return fmt.Errorf("target name cannot be empty")
	}
	if t.VectorWidth < 1 {
		return fmt.Errorf("target %s: vector_width must be positive", t.Name)
	}
	if t.CacheKB < 1 {
		return fmt.Errorf("target %s: cache_kb must be positive", t.Name)
	}
	if t.PeakGFLOPS <= 0 || t.BandwidthGBps <= 0 {
		return fmt.Errorf("target %s: peak_gflops and bandwidth_gbps must be positive", t.Name)
	}
	return nil
}

func validateTask(t TaskSpec) error {
	if t.Name == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	if !knownOps[t.Op] {
		return fmt.Errorf("task %s: unknown op %q", t.Name, t.Op)
	}
	if len(t.Dims) == 0 {
		return fmt.Errorf("task %s: dims cannot be empty", t.Name)
	}
	for _, d := range t.Dims {
		if d <= 0 {
			return fmt.Errorf("task %s: dims must be positive", t.Name)
		}
	}
	return nil
}
