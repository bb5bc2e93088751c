package search

import (
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

// Mutation perturbs one schedule decision. Apply never modifies its input and
// reports false when the mutation does not apply to s.
type Mutation interface {
	Apply(c *schedule.ComputeDef, s schedule.Schedule, rng *utils.RandSource) (schedule.Schedule, bool)
	// Name returns the name of the mutation
	Name() string
}

// DefaultMutations returns every built-in mutation
func DefaultMutations() []Mutation {
	return []Mutation{
		TileMutation{},
		ReorderMutation{},
		VectorizeMutation{},
		UnrollMutation{},
	}
}

// TileMutation replaces the tile factor of one axis by another divisor of its extent
type TileMutation struct{}

func (TileMutation) Name() string {
	return "tile"
}

func (TileMutation) Apply(c *schedule.ComputeDef, s schedule.Schedule, rng *utils.RandSource) (schedule.Schedule, bool) {
	axes := make([]int, 0, len(c.Axes))
	for a, ax := range c.Axes {
		if ax.Extent > 1 {
			axes = append(axes, a)
		}
	}
	if len(axes) == 0 || len(s.Tiles) != len(c.Axes) {
		return s, false
	}
	a := utils.Pick(rng, axes)
	choices := make([]int, 0)
	for _, d := range utils.Divisors(c.Axes[a].Extent) {
		if d != s.Tiles[a] {
			choices = append(choices, d)
		}
	}
	if len(choices) == 0 {
		return s, false
	}
	out := s.Clone()
	out.Tiles[a] = utils.Pick(rng, choices)
	return out, true
}

// ReorderMutation swaps two adjacent loops of the order
type ReorderMutation struct{}

func (ReorderMutation) Name() string {
	return "reorder"
}

func (ReorderMutation) Apply(_ *schedule.ComputeDef, s schedule.Schedule, rng *utils.RandSource) (schedule.Schedule, bool) {
	if len(s.Order) < 2 {
		return s, false
	}
	i := rng.Intn(len(s.Order) - 1)
	out := s.Clone()
	out.Order[i], out.Order[i+1] = out.Order[i+1], out.Order[i]
	return out, true
}

// VectorizeMutation toggles vectorization of the innermost loop
type VectorizeMutation struct{}

func (VectorizeMutation) Name() string {
	return "vectorize"
}

func (VectorizeMutation) Apply(_ *schedule.ComputeDef, s schedule.Schedule, _ *utils.RandSource) (schedule.Schedule, bool) {
	out := s.Clone()
	out.Vectorize = !s.Vectorize
	return out, true
}

// UnrollMutation picks a different maximum unroll trip count
type UnrollMutation struct{}

func (UnrollMutation) Name() string {
	return "unroll"
}

func (UnrollMutation) Apply(_ *schedule.ComputeDef, s schedule.Schedule, rng *utils.RandSource) (schedule.Schedule, bool) {
	choices := make([]int, 0, len(schedule.UnrollChoices))
	for _, u := range schedule.UnrollChoices {
		if u != s.Unroll {
			choices = append(choices, u)
		}
	}
	out := s.Clone()
	out.Unroll = utils.Pick(rng, choices)
	return out, true
}

// Mutate applies one randomly chosen applicable mutation from mutations. It returns
// s unchanged and false when none applies.
func Mutate(c *schedule.ComputeDef, s schedule.Schedule, mutations []Mutation, rng *utils.RandSource) (schedule.Schedule, bool) {
	if len(mutations) == 0 {
		return s, false
	}
	for _, i := range rng.Perm(len(mutations)) {
		if out, ok := mutations[i].Apply(c, s, rng); ok {
			return out, true
		}
	}
	return s, false
}

// Crossover combines two parents: each tile factor, the vectorize flag and the
// unroll factor come from either parent, the loop order from one of them. Parents
// must be schedules of the same computation.
func Crossover(a, b schedule.Schedule, rng *utils.RandSource) schedule.Schedule {
	out := a.Clone()
	if len(a.Tiles) == len(b.Tiles) {
		for i := range out.Tiles {
			if rng.BernoulliBool(0.5) {
				out.Tiles[i] = b.Tiles[i]
			}
		}
	}
	if rng.BernoulliBool(0.5) && len(a.Order) == len(b.Order) {
		out.Order = append(out.Order[:0], b.Order...)
	}
	if rng.BernoulliBool(0.5) {
		out.Vectorize = b.Vectorize
	}
	if rng.BernoulliBool(0.5) {
		out.Unroll = b.Unroll
	}
	return out
}
