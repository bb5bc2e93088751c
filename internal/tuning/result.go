package tuning

import (
	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
)

// RoundStats describes one executed round
type RoundStats struct {
	Round     int `json:"round"`
	Proposed  int `json:"proposed"`
	Pruned    int `json:"pruned"`
	Submitted int `json:"submitted"`
	Measured  int `json:"measured"`
	Failed    int `json:"failed"`
	// RoundBest is the lowest measured cost of the round, 0 when nothing was measured
	RoundBest float64 `json:"round_best"`
	BestSoFar float64 `json:"best_so_far"`
	Improved  bool    `json:"improved"`
	// Empty is set when the round produced no valid, successfully measured candidate
	Empty bool `json:"empty"`
}

// TuningResult is the outcome of a session. When Measured is false no candidate was
// ever measured successfully and Func is the task's original function.
type TuningResult struct {
	SessionID         string            `json:"session_id"`
	TaskName          string            `json:"task_name"`
	Signature         string            `json:"signature"`
	Func              *ir.LoweredFunc   `json:"-"`
	Schedule          schedule.Schedule `json:"schedule"`
	Cost              float64           `json:"cost"`
	Measured          bool              `json:"measured"`
	Rounds            int               `json:"rounds"`
	TerminationReason string            `json:"termination_reason"`
	History           []RoundStats      `json:"history"`
	Proposed          int               `json:"proposed"`
	Pruned            int               `json:"pruned"`
	Measurements      int               `json:"measurements"`
	Failures          int               `json:"failures"`
}
