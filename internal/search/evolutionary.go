// Package search proposes candidate schedules for a tuning task. EvolutionarySearch
// breeds a population with mutation and crossover and ranks the offspring with a
// cost model so that only the most promising ones are measured.
package search

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"github.com/GoSim-25-26J-441/autotune-core/internal/costmodel"
	"github.com/GoSim-25-26J-441/autotune-core/internal/database"
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/internal/task"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/config"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

const (
	tournamentSize = 2
	// breeding gives up after this many attempts per wanted child
	attemptsPerChild = 4
)

type member struct {
	sched    schedule.Schedule
	key      string
	cost     float64
	measured bool
}

func better(a, b member) bool {
	if a.measured != b.measured {
		return a.measured
	}
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	return a.key < b.key
}

// EvolutionarySearch is the search strategy of one task. It is not safe for
// concurrent use; each session owns its own instance.
type EvolutionarySearch struct {
	task        *task.TuneTask
	model       costmodel.CostModel
	db          database.Database
	rng         *utils.RandSource
	mutations   []Mutation
	parallelism int
	logger      *slog.Logger

	seeded     bool
	population []member
	// visited holds keys reported through Feedback and keys already in the database
	visited map[string]struct{}
}

// Option configures an EvolutionarySearch
type Option func(*EvolutionarySearch)

// WithMutations replaces the mutation set
func WithMutations(m ...Mutation) Option {
	return func(e *EvolutionarySearch) { e.mutations = m }
}

// WithParallelism bounds the number of goroutines used to score candidates
func WithParallelism(n int) Option {
	return func(e *EvolutionarySearch) { e.parallelism = max(n, 1) }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *EvolutionarySearch) { e.logger = l }
}

// NewEvolutionarySearch creates the search for t. The model and database are shared
// and borrowed; rng drives every random decision.
func NewEvolutionarySearch(t *task.TuneTask, model costmodel.CostModel, db database.Database, rng *utils.RandSource, opts ...Option) *EvolutionarySearch {
	e := &EvolutionarySearch{
		task:        t,
		model:       model,
		db:          db,
		rng:         rng,
		mutations:   DefaultMutations(),
		parallelism: runtime.GOMAXPROCS(0),
		logger:      logger.Component("search"),
		visited:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SearchOneRound implements Strategy
func (e *EvolutionarySearch) SearchOneRound(ctx context.Context, opts config.TuningOptions) []SearchState {
	candidates := e.propose(ctx, opts)
	ranked := e.score(candidates)
	out := e.selectStates(ranked, opts)
	e.advance(out, opts)

	e.logger.Debug("search round",
		"task", e.task.Name,
		"candidates", len(candidates),
		"scored", len(ranked),
		"returned", len(out),
		"population", len(e.population))
	return out
}

// propose seeds the population on first use and breeds this round's unvisited,
// distinct children
func (e *EvolutionarySearch) propose(ctx context.Context, opts config.TuningOptions) []schedule.Schedule {
	seen := make(map[string]struct{})
	candidates := make([]schedule.Schedule, 0)
	add := func(s schedule.Schedule) bool {
		k := s.Key()
		if _, ok := e.visited[k]; ok {
			return false
		}
		if _, ok := seen[k]; ok {
			return false
		}
		seen[k] = struct{}{}
		candidates = append(candidates, s)
		return true
	}

	if !e.seeded {
		for _, s := range e.seed(ctx, opts) {
			add(s)
		}
		e.seeded = true
	}

	want := opts.InitialPopulation()
	produced := 0
	for tries := 0; tries < attemptsPerChild*want && produced < want; tries++ {
		if add(e.breed(opts)) {
			produced++
		}
	}
	return candidates
}

// Feedback implements Strategy
func (e *EvolutionarySearch) Feedback(observations []Observation) {
	for _, o := range observations {
		k := o.Schedule.Key()
		e.visited[k] = struct{}{}
		if o.Failed {
			continue
		}
		found := false
		for i := range e.population {
			if e.population[i].key == k {
				e.population[i].cost = o.Cost
				e.population[i].measured = true
				found = true
				break
			}
		}
		if !found {
			e.population = append(e.population, member{sched: o.Schedule.Clone(), key: k, cost: o.Cost, measured: true})
		}
	}
}

// seed loads the task history and returns the random baseline schedules. With warm
// start enabled the best historical schedules become measured population members.
func (e *EvolutionarySearch) seed(ctx context.Context, opts config.TuningOptions) []schedule.Schedule {
	records, err := e.db.Lookup(ctx, e.task.Signature)
	if err != nil {
		e.logger.Warn("failed to load tuning history", "task", e.task.Name, "error", err)
		records = nil
	}
	for _, r := range records {
		e.visited[r.ScheduleKey] = struct{}{}
	}

	warm := 0
	if opts.EnableWarmStart && len(records) > 0 {
		best := append([]database.Record(nil), records...)
		sort.SliceStable(best, func(i, j int) bool { return best[i].Cost < best[j].Cost })
		for _, r := range best {
			if warm >= opts.PopulationSize {
				break
			}
			s, err := r.Schedule()
			if err != nil || s.Check(e.task.Compute) != nil {
				continue
			}
			e.population = append(e.population, member{sched: s, key: r.ScheduleKey, cost: r.Cost, measured: true})
			warm++
		}
		e.logger.Info("warm start", "task", e.task.Name, "history", len(records), "seeded", warm)
	}

	n := max(opts.InitialPopulation()-warm, 0)
	baseline := make([]schedule.Schedule, 0, n)
	for i := 0; i < n; i++ {
		s := schedule.Random(e.task.Compute, e.rng)
		baseline = append(baseline, s)
		e.population = append(e.population, member{sched: s, key: s.Key(), cost: math.Inf(1)})
	}
	return baseline
}

// breed produces one child from tournament-selected parents
func (e *EvolutionarySearch) breed(opts config.TuningOptions) schedule.Schedule {
	if len(e.population) == 0 {
		return schedule.Random(e.task.Compute, e.rng)
	}
	p1 := e.tournament()
	child := p1.sched.Clone()
	if len(e.population) > 1 && e.rng.BernoulliBool(opts.CrossoverRate) {
		child = Crossover(p1.sched, e.tournament().sched, e.rng)
	}
	if e.rng.BernoulliBool(opts.MutationRate) || child.Key() == p1.key {
		child, _ = Mutate(e.task.Compute, child, e.mutations, e.rng)
	}
	return child
}

func (e *EvolutionarySearch) tournament() member {
	best := e.population[e.rng.Intn(len(e.population))]
	for i := 1; i < tournamentSize; i++ {
		if c := e.population[e.rng.Intn(len(e.population))]; better(c, best) {
			best = c
		}
	}
	return best
}

// score lowers and predicts every candidate in parallel and returns the ones that
// lowered, cheapest prediction first.
func (e *EvolutionarySearch) score(candidates []schedule.Schedule) []SearchState {
	states := make([]SearchState, len(candidates))
	ok := make([]bool, len(candidates))
	p := pool.New().WithMaxGoroutines(e.parallelism)
	for i, s := range candidates {
		p.Go(func() {
			body, err := schedule.Lower(e.task.Compute, s)
			if err != nil {
				return
			}
			states[i] = SearchState{Schedule: s, Body: body, PredictedCost: e.model.Predict(body)}
			ok[i] = true
		})
	}
	p.Wait()

	ranked := make([]SearchState, 0, len(states))
	for i, st := range states {
		if ok[i] {
			ranked = append(ranked, st)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].PredictedCost != ranked[j].PredictedCost {
			return ranked[i].PredictedCost < ranked[j].PredictedCost
		}
		return ranked[i].Key() < ranked[j].Key()
	})
	return ranked
}

// selectStates fills the measured window with the best predictions and the
// exploration picks, then pads the result with the next best predictions up to the
// population size.
func (e *EvolutionarySearch) selectStates(ranked []SearchState, opts config.TuningOptions) []SearchState {
	limit := min(opts.PopulationSize, len(ranked))
	head := min(max(opts.MeasureQuotaPerRound-opts.ExplorationSlots(), 0), limit)
	out := make([]SearchState, 0, limit)
	out = append(out, ranked[:head]...)

	rest := ranked[head:]
	picked := make([]bool, len(rest))
	if picks := min(opts.ExplorationSlots(), len(rest), limit-head); picks > 0 {
		for _, i := range e.rng.Perm(len(rest))[:picks] {
			picked[i] = true
			out = append(out, rest[i])
		}
	}
	for i, st := range rest {
		if len(out) >= limit {
			break
		}
		if !picked[i] {
			out = append(out, st)
		}
	}
	return out
}

// advance replaces the unmeasured part of the population with this round's states
// and trims the population to twice the population size.
func (e *EvolutionarySearch) advance(states []SearchState, opts config.TuningOptions) {
	next := make([]member, 0, len(e.population)+len(states))
	for _, m := range e.population {
		if m.measured {
			next = append(next, m)
		}
	}
	for _, st := range states {
		next = append(next, member{sched: st.Schedule, key: st.Key(), cost: st.PredictedCost})
	}
	sort.SliceStable(next, func(i, j int) bool { return better(next[i], next[j]) })
	if limit := 2 * opts.PopulationSize; len(next) > limit {
		next = next[:limit]
	}
	e.population = next
}
