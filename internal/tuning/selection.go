package tuning

import (
	"math"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/measure"
	"github.com/GoSim-25-26J-441/autotune-core/internal/search"
)

// Candidate is a search state that passed pruning, with its rebuilt function
type Candidate struct {
	State search.SearchState
	Func  *ir.LoweredFunc
}

// RoundCandidates is the output of the search and prune steps of one round
type RoundCandidates struct {
	Proposed int
	Pruned   int
	// Valid holds the surviving candidates in the order search ranked them
	Valid []Candidate
}

// usableCost reports whether a result carries a cost that can be compared
func usableCost(r measure.MeasureResult) bool {
	return r.OK() && r.ElapsedSeconds >= 0 && !math.IsNaN(r.ElapsedSeconds) && !math.IsInf(r.ElapsedSeconds, 0)
}

// selectRoundBest returns the index of the cheapest successful result. Ties go to
// the earlier candidate, which search ranked higher.
func selectRoundBest(results []measure.MeasureResult) (int, bool) {
	best := -1
	for i, r := range results {
		if !usableCost(r) {
			continue
		}
		if best < 0 || r.ElapsedSeconds < results[best].ElapsedSeconds {
			best = i
		}
	}
	return best, best >= 0
}
