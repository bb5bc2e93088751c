package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
log_level: debug
log_format: json
parallelism: 4
database:
  driver: sqlite
  path: /tmp/tuning.db
measurer:
  kind: remote
  address: localhost:50061
  retries: 2
  backoff:
    type: constant
    base_ms: 10
tuning:
  num_rounds: 5
  population_size: 8
  measure_quota_per_round: 4
  seed: 42
targets:
  - name: edge-cpu
    vector_width: 4
    cache_kb: 64
    peak_gflops: 20
    bandwidth_gbps: 8
tasks:
  - name: mm
    op: matmul
    dims: [64, 64, 32]
    target: edge-cpu
  - name: vadd
    op: add
    dims: [1024]
`

func TestParseConfigYAMLString(t *testing.T) {
	cfg, err := ParseConfigYAMLString(sampleConfig)
	if err != nil {
		t.Fatalf("ParseConfigYAMLString failed: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected logging config: %s %s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/tmp/tuning.db" {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Measurer.Kind != "remote" || cfg.Measurer.Backoff.Type != "constant" {
		t.Fatalf("unexpected measurer config: %+v", cfg.Measurer)
	}
	// unspecified measurer fields keep their defaults
	if cfg.Measurer.Repeat != 3 || cfg.Measurer.TimeoutMs != 2000 {
		t.Fatalf("measurer defaults not applied: %+v", cfg.Measurer)
	}
	if cfg.Measurer.Breaker.FailureThreshold != 5 || cfg.Measurer.Breaker.Cooldown() != 10*time.Second {
		t.Fatalf("breaker defaults not applied: %+v", cfg.Measurer.Breaker)
	}
	if cfg.Tuning.NumRounds != 5 || cfg.Tuning.Seed != 42 {
		t.Fatalf("unexpected tuning options: %+v", cfg.Tuning)
	}
	if cfg.Tuning.MutationRate != DefaultTuningOptions().MutationRate {
		t.Fatalf("tuning defaults not applied: %+v", cfg.Tuning)
	}
	if len(cfg.Tasks) != 2 || cfg.Tasks[0].Dims[2] != 32 {
		t.Fatalf("unexpected tasks: %+v", cfg.Tasks)
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0].CacheKB != 64 {
		t.Fatalf("unexpected targets: %+v", cfg.Targets)
	}
}

func TestParseConfigYAMLStringInvalid(t *testing.T) {
	tests := []struct {
		name     string
		yamlText string
		wantErr  string
	}{
		{"No tasks", `log_level: info`, "at least one task"},
		{"Bad log level", "log_level: loud\ntasks: [{name: a, op: add, dims: [4]}]", "invalid log_level"},
		{"Unknown op", "tasks: [{name: a, op: conv, dims: [4]}]", "unknown op"},
		{"Zero dim", "tasks: [{name: a, op: add, dims: [0]}]", "dims must be positive"},
		{"Duplicate task", "tasks: [{name: a, op: add, dims: [4]}, {name: a, op: add, dims: [8]}]", "duplicate task"},
		{"Sqlite without path", "database: {driver: sqlite}\ntasks: [{name: a, op: add, dims: [4]}]", "requires a path"},
		{"Remote without address", "measurer: {kind: remote}\ntasks: [{name: a, op: add, dims: [4]}]", "requires an address"},
		{"Negative breaker", "measurer: {circuit_breaker: {failure_threshold: -1}}\ntasks: [{name: a, op: add, dims: [4]}]", "circuit_breaker"},
		{"Quota above population", "tuning: {population_size: 2, measure_quota_per_round: 3}\ntasks: [{name: a, op: add, dims: [4]}]", "measure_quota_per_round"},
		{"Malformed yaml", "tasks: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfigYAMLString(tt.yamlText)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTuningErrorIsConfigurationError(t *testing.T) {
	_, err := ParseConfigYAMLString("tuning: {num_rounds: 0}\ntasks: [{name: a, op: add, dims: [4]}]")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected wrapped *ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "num_rounds" {
		t.Fatalf("unexpected field %s", cfgErr.Field)
	}
}

func TestParseTuningOptionsYAML(t *testing.T) {
	opts, err := ParseTuningOptionsYAML([]byte("num_rounds: 3\npopulation_size: 4\nmeasure_quota_per_round: 2\nenable_warm_start: false"))
	if err != nil {
		t.Fatalf("ParseTuningOptionsYAML: %v", err)
	}
	if opts.NumRounds != 3 || opts.EnableWarmStart {
		t.Fatalf("unexpected options %+v", opts)
	}
	if _, err := ParseTuningOptionsYAML([]byte("num_rounds: -1")); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tune.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Parallelism != 4 {
		t.Fatalf("expected parallelism 4, got %d", cfg.Parallelism)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}
