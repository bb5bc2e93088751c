package config

import "fmt"

// Default policy constants
const (
	DefaultMaxEmptyRounds   = 3
	DefaultExplorationRatio = 0.1
)

// TuningOptions configures one tuning session. It is validated once when the
// session starts and treated as immutable afterwards.
type TuningOptions struct {
	NumRounds            int     `yaml:"num_rounds" json:"num_rounds"`
	PopulationSize       int     `yaml:"population_size" json:"population_size"`
	MeasureQuotaPerRound int     `yaml:"measure_quota_per_round" json:"measure_quota_per_round"`
	MutationRate         float64 `yaml:"mutation_rate" json:"mutation_rate"`
	CrossoverRate        float64 `yaml:"crossover_rate" json:"crossover_rate"`
	EnableWarmStart      bool    `yaml:"enable_warm_start" json:"enable_warm_start"`

	// Seed drives every random decision of the session; 0 picks a time-based seed.
	Seed             int64   `yaml:"seed" json:"seed"`
	ExplorationRatio float64 `yaml:"exploration_ratio" json:"exploration_ratio"`
	// MaxEmptyRounds is the number of consecutive rounds without a successful
	// measurement after which the session stops. 0 means DefaultMaxEmptyRounds.
	MaxEmptyRounds int `yaml:"max_empty_rounds" json:"max_empty_rounds"`
	// InitPopulation is the number of random baseline schedules generated when the
	// population is seeded. 0 means twice the population size.
	InitPopulation int `yaml:"init_population" json:"init_population"`
}

// DefaultTuningOptions returns the options used when a config file omits them
func DefaultTuningOptions() TuningOptions {
	return TuningOptions{
		NumRounds:            10,
		PopulationSize:       16,
		MeasureQuotaPerRound: 8,
		MutationRate:         0.8,
		CrossoverRate:        0.3,
		EnableWarmStart:      true,
		ExplorationRatio:     DefaultExplorationRatio,
		MaxEmptyRounds:       DefaultMaxEmptyRounds,
	}
}

// ConfigurationError reports a malformed option
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Validate checks the options and returns a *ConfigurationError for the first violation
func (o TuningOptions) Validate() error {
	switch {
	case o.NumRounds < 1:
		return &ConfigurationError{Field: "num_rounds", Reason: fmt.Sprintf("must be at least 1, got %d", o.NumRounds)}
	case o.PopulationSize < 1:
		return &ConfigurationError{Field: "population_size", Reason: fmt.Sprintf("must be at least 1, got %d", o.PopulationSize)}
	case o.MeasureQuotaPerRound < 0:
		return &ConfigurationError{Field: "measure_quota_per_round", Reason: "cannot be negative"}
	case o.MeasureQuotaPerRound > o.PopulationSize:
		return &ConfigurationError{
			Field:  "measure_quota_per_round",
			Reason: fmt.Sprintf("(%d) cannot exceed population_size (%d)", o.MeasureQuotaPerRound, o.PopulationSize),
		}
	case o.MutationRate < 0 || o.MutationRate > 1:
		return &ConfigurationError{Field: "mutation_rate", Reason: "must be in [0, 1]"}
	case o.CrossoverRate < 0 || o.CrossoverRate > 1:
		return &ConfigurationError{Field: "crossover_rate", Reason: "must be in [0, 1]"}
	case o.ExplorationRatio < 0 || o.ExplorationRatio >= 1:
		return &ConfigurationError{Field: "exploration_ratio", Reason: "must be in [0, 1)"}
	case o.MaxEmptyRounds < 0:
		return &ConfigurationError{Field: "max_empty_rounds", Reason: "cannot be negative"}
	case o.InitPopulation < 0:
		return &ConfigurationError{Field: "init_population", Reason: "cannot be negative"}
	}
	return nil
}

// EmptyRoundLimit returns the effective consecutive-empty-round threshold
func (o TuningOptions) EmptyRoundLimit() int {
	if o.MaxEmptyRounds <= 0 {
		return DefaultMaxEmptyRounds
	}
	return o.MaxEmptyRounds
}

// InitialPopulation returns the effective number of random baseline schedules
func (o TuningOptions) InitialPopulation() int {
	if o.InitPopulation <= 0 {
		return 2 * o.PopulationSize
	}
	return o.InitPopulation
}

// ExplorationSlots returns how many of the measured slots of a round are reserved for
// random picks. A positive ratio reserves at least one slot, and one slot is always
// left for the best prediction.
func (o TuningOptions) ExplorationSlots() int {
	if o.ExplorationRatio <= 0 || o.MeasureQuotaPerRound <= 1 {
		return 0
	}
	n := max(int(o.ExplorationRatio*float64(o.MeasureQuotaPerRound)), 1)
	return min(n, o.MeasureQuotaPerRound-1)
}
