// Package costmodel predicts the execution cost of a scheduled loop nest without
// running it, and learns online from real measurements.
package costmodel

import "github.com/GoSim-25-26J-441/autotune-core/internal/ir"

// Sample is one ground-truth observation: a candidate body and its cost in seconds
type Sample struct {
	Body ir.Stmt
	Cost float64
}

// CostModel ranks candidates. Predict must be side-effect free; Update may be
// called concurrently from several tuning sessions.
type CostModel interface {
	// Predict returns an estimated cost in seconds. Only the ordering matters.
	Predict(body ir.Stmt) float64
	// Update incorporates measured samples. Empty batches are a no-op.
	Update(samples []Sample)
	// Trained reports how many samples the model has absorbed
	Trained() int
}
