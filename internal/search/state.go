package search

import (
	"context"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/config"
)

// SearchState is one candidate: a schedule, the body it lowers to and the cost
// model's estimate for it. Treat it as immutable.
type SearchState struct {
	Schedule      schedule.Schedule
	Body          ir.Stmt
	PredictedCost float64
}

// Key returns the canonical schedule key
func (s SearchState) Key() string {
	return s.Schedule.Key()
}

// Observation reports what happened to a schedule proposed earlier. Failed is set
// when the schedule was pruned or its measurement failed; Cost is then meaningless.
type Observation struct {
	Schedule schedule.Schedule
	Cost     float64
	Failed   bool
}

// Strategy proposes candidates round by round
type Strategy interface {
	// SearchOneRound returns at most opts.PopulationSize states. The first
	// opts.MeasureQuotaPerRound states are the ones to measure: the best predictions
	// followed by opts.ExplorationSlots() random picks. The remainder is best
	// predicted first. An empty result is a normal outcome.
	SearchOneRound(ctx context.Context, opts config.TuningOptions) []SearchState
	// Feedback reports every state that was pruned or submitted for measurement.
	// Reported schedules are never proposed again; states that were returned but
	// not reported may come back in a later round.
	Feedback(observations []Observation)
}
