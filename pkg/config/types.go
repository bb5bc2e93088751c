package config

import "time"

// Config represents the tuning driver configuration file
type Config struct {
	LogLevel    string         `yaml:"log_level"`
	LogFormat   string         `yaml:"log_format"` // json or text
	Parallelism int            `yaml:"parallelism"`
	Database    DatabaseConfig `yaml:"database"`
	Measurer    MeasurerConfig `yaml:"measurer"`
	Tuning      TuningOptions  `yaml:"tuning"`
	Targets     []TargetSpec   `yaml:"targets,omitempty"`
	Tasks       []TaskSpec     `yaml:"tasks"`
}

// DatabaseConfig selects the tuning history store
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // memory or sqlite
	Path   string `yaml:"path"`
}

// MeasurerConfig selects and configures the measurement backend
type MeasurerConfig struct {
	Kind      string        `yaml:"kind"` // sim, local or remote
	Address   string        `yaml:"address,omitempty"`
	Repeat    int           `yaml:"repeat"`
	TimeoutMs int           `yaml:"timeout_ms"`
	Noise     float64       `yaml:"noise"` // relative noise for the simulated measurer
	Retries   int           `yaml:"retries"`
	Backoff   BackoffConfig `yaml:"backoff"`
	Breaker   BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig configures the circuit breaker of the remote measurer.
// A zero FailureThreshold disables it.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	CooldownMs       int `yaml:"cooldown_ms"`
}

// BackoffConfig configures retry delays for the remote measurer
type BackoffConfig struct {
	Type   string `yaml:"type"` // exponential or constant
	BaseMs int    `yaml:"base_ms"`
	MaxMs  int    `yaml:"max_ms"`
}

// TargetSpec describes a custom hardware target
type TargetSpec struct {
	Name          string  `yaml:"name"`
	VectorWidth   int     `yaml:"vector_width"`
	CacheKB       int     `yaml:"cache_kb"`
	PeakGFLOPS    float64 `yaml:"peak_gflops"`
	BandwidthGBps float64 `yaml:"bandwidth_gbps"`
}

// TaskSpec names one kernel to tune
type TaskSpec struct {
	Name   string `yaml:"name"`
	Op     string `yaml:"op"` // matmul, add, reduce_sum, batch_matmul
	Dims   []int  `yaml:"dims"`
	Target string `yaml:"target"`
}

// Cooldown returns how long an open circuit rejects calls
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMs) * time.Millisecond
}

// Timeout returns the per-candidate measurement timeout
func (m MeasurerConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}
