package tuning

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/GoSim-25-26J-441/autotune-core/internal/costmodel"
	"github.com/GoSim-25-26J-441/autotune-core/internal/database"
	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/measure"
	"github.com/GoSim-25-26J-441/autotune-core/internal/metrics"
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/internal/search"
	"github.com/GoSim-25-26J-441/autotune-core/internal/task"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/config"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

// stubMeasurer hands out costs in order and remembers every batch
type stubMeasurer struct {
	t       *testing.T
	mu      sync.Mutex
	costs   []float64
	fail    bool
	next    int
	batches [][]measure.MeasureInput
}

func (m *stubMeasurer) Measure(_ context.Context, inputs []measure.MeasureInput) []measure.MeasureResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, inputs)
	out := make([]measure.MeasureResult, len(inputs))
	for i, in := range inputs {
		if err := ir.Validate(in.Func); err != nil {
			m.t.Errorf("invalid candidate reached the measurer: %v", err)
		}
		if m.fail {
			out[i] = measure.Failure(measure.ErrorRuntime, "boom")
			continue
		}
		out[i] = measure.Success(m.costs[m.next%len(m.costs)])
		m.next++
	}
	return out
}

// fixedStrategy replays prepared rounds, then proposes nothing
type fixedStrategy struct {
	rounds   [][]search.SearchState
	calls    int
	feedback []search.Observation
}

func (f *fixedStrategy) SearchOneRound(context.Context, config.TuningOptions) []search.SearchState {
	defer func() { f.calls++ }()
	if f.calls < len(f.rounds) {
		return f.rounds[f.calls]
	}
	return nil
}

func (f *fixedStrategy) Feedback(obs []search.Observation) {
	f.feedback = append(f.feedback, obs...)
}

// recordingStrategy remembers what the wrapped search returned each round
type recordingStrategy struct {
	*search.EvolutionarySearch
	rounds [][]search.SearchState
}

func (r *recordingStrategy) SearchOneRound(ctx context.Context, opts config.TuningOptions) []search.SearchState {
	out := r.EvolutionarySearch.SearchOneRound(ctx, opts)
	r.rounds = append(r.rounds, out)
	return out
}

func matmulTask(t *testing.T) *task.TuneTask {
	t.Helper()
	target, _ := task.LookupTarget(task.DefaultTargetName)
	tt, err := task.New("matmul_100x200x50", schedule.Matmul(100, 200, 50), target)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	return tt
}

func state(t *testing.T, c *schedule.ComputeDef, s schedule.Schedule) search.SearchState {
	t.Helper()
	body, err := schedule.Lower(c, s)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	return search.SearchState{Schedule: s, Body: body}
}

func tuningOptions(rounds, pop int) config.TuningOptions {
	opts := config.DefaultTuningOptions()
	opts.NumRounds = rounds
	opts.PopulationSize = pop
	opts.MeasureQuotaPerRound = pop
	opts.Seed = 1
	return opts
}

func newOptimizer(tt *task.TuneTask, m measure.Measurer, db database.Database, opts ...Option) *TaskOptimizer {
	opts = append([]Option{WithLogger(logger.Discard()), WithParallelism(4)}, opts...)
	return NewTaskOptimizer(tt, m, db, opts...)
}

func TestOptimizeReturnsCheapestMeasured(t *testing.T) {
	ctx := context.Background()
	tt := matmulTask(t)
	db := database.NewMemoryDatabase()
	m := &stubMeasurer{t: t, costs: []float64{5, 3, 8, 1}}

	res, err := newOptimizer(tt, m, db).Optimize(ctx, tuningOptions(1, 4))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(m.batches) != 1 || len(m.batches[0]) != 4 {
		t.Fatalf("expected one batch of 4, got %d batches", len(m.batches))
	}
	if !res.Measured || res.Cost != 1 {
		t.Fatalf("expected measured cost 1, got measured=%v cost=%v", res.Measured, res.Cost)
	}
	if got, want := res.Schedule.Key(), m.batches[0][3].Schedule.Key(); got != want {
		t.Fatalf("expected the schedule measured at cost 1 (%s), got %s", want, got)
	}
	if res.Func == tt.Func || !ir.SameSignature(res.Func, tt.Func) {
		t.Fatalf("expected a rebuilt function with the original signature")
	}
	n, err := db.Count(ctx, tt.Signature)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 records, got %d", n)
	}
	if res.Rounds != 1 || res.TerminationReason != ReasonRoundBudget {
		t.Fatalf("unexpected termination: rounds=%d reason=%q", res.Rounds, res.TerminationReason)
	}
}

func TestSearchOneRoundPrunesInvalid(t *testing.T) {
	tt := matmulTask(t)
	c := tt.Compute
	id := schedule.Identity(c)
	vec := id.Clone()
	vec.Vectorize = true
	unrolled := id.Clone()
	unrolled.Unroll = 4
	bad := id.Clone()
	bad.Tiles[0] = 3 // does not divide 100

	round := []search.SearchState{state(t, c, id), state(t, c, bad), state(t, c, vec), state(t, c, unrolled)}
	opts := tuningOptions(1, 4)

	opt := newOptimizer(tt, &stubMeasurer{t: t, costs: []float64{1}}, database.NewMemoryDatabase(),
		WithSearchStrategy(&fixedStrategy{rounds: [][]search.SearchState{round}}))
	rc := opt.SearchOneRound(context.Background(), opts)
	if rc.Proposed != 4 || rc.Pruned != 1 || len(rc.Valid) != 3 {
		t.Fatalf("expected 4 proposed, 1 pruned, 3 valid; got %d, %d, %d", rc.Proposed, rc.Pruned, len(rc.Valid))
	}
	wantOrder := []string{id.Key(), vec.Key(), unrolled.Key()}
	for i, cand := range rc.Valid {
		if cand.State.Key() != wantOrder[i] {
			t.Fatalf("valid candidate %d is %s, want %s", i, cand.State.Key(), wantOrder[i])
		}
	}

	m := &stubMeasurer{t: t, costs: []float64{2, 1, 3}}
	strategy := &fixedStrategy{rounds: [][]search.SearchState{round}}
	res, err := newOptimizer(tt, m, database.NewMemoryDatabase(), WithSearchStrategy(strategy)).Optimize(context.Background(), opts)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(m.batches) != 1 || len(m.batches[0]) != 3 {
		t.Fatalf("expected one batch of 3 inputs, got %v", len(m.batches))
	}
	if res.Pruned != 1 || res.Measurements != 3 {
		t.Fatalf("unexpected counters: pruned=%d measured=%d", res.Pruned, res.Measurements)
	}
	if res.Schedule.Key() != vec.Key() {
		t.Fatalf("expected the vectorized schedule to win, got %s", res.Schedule.Key())
	}
	failed := 0
	for _, obs := range strategy.feedback {
		if obs.Failed {
			failed++
			if obs.Schedule.Key() != bad.Key() {
				t.Fatalf("expected only the pruned schedule to be reported failed, got %s", obs.Schedule.Key())
			}
		}
	}
	if len(strategy.feedback) != 4 || failed != 1 {
		t.Fatalf("expected feedback for 3 measurements and 1 pruned schedule, got %d (%d failed)", len(strategy.feedback), failed)
	}
}

func TestOptimizeStopsAfterEmptyRounds(t *testing.T) {
	tt := matmulTask(t)
	m := &stubMeasurer{t: t, costs: []float64{1}}
	opt := newOptimizer(tt, m, database.NewMemoryDatabase(), WithSearchStrategy(&fixedStrategy{}))

	res, err := opt.Optimize(context.Background(), tuningOptions(10, 4))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.Rounds != 3 {
		t.Fatalf("expected 3 rounds, got %d", res.Rounds)
	}
	if res.TerminationReason != ReasonSearchExhausted {
		t.Fatalf("expected %q, got %q", ReasonSearchExhausted, res.TerminationReason)
	}
	if res.Measured || res.Func != tt.Func {
		t.Fatalf("expected the original function when nothing was measured")
	}
	if len(m.batches) != 0 {
		t.Fatalf("expected no measurement batches, got %d", len(m.batches))
	}
}

func TestOptimizeEmptyRoundsAfterProgress(t *testing.T) {
	tt := matmulTask(t)
	c := tt.Compute
	id := schedule.Identity(c)
	vec := id.Clone()
	vec.Vectorize = true
	strategy := &fixedStrategy{rounds: [][]search.SearchState{{state(t, c, id)}, {state(t, c, vec)}}}
	m := &stubMeasurer{t: t, costs: []float64{4, 2}}

	res, err := newOptimizer(tt, m, database.NewMemoryDatabase(), WithSearchStrategy(strategy)).
		Optimize(context.Background(), tuningOptions(10, 4))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.Rounds != 5 {
		t.Fatalf("expected 2 productive and 3 empty rounds, got %d", res.Rounds)
	}
	if res.Cost != 2 || res.Schedule.Key() != vec.Key() {
		t.Fatalf("expected best cost 2 from the vectorized schedule, got %v %s", res.Cost, res.Schedule.Key())
	}
}

func TestOptimizeGracefulDegradation(t *testing.T) {
	ctx := context.Background()
	tt := matmulTask(t)
	db := database.NewMemoryDatabase()
	m := &stubMeasurer{t: t, fail: true}

	res, err := newOptimizer(tt, m, db).Optimize(ctx, tuningOptions(10, 4))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.Measured || res.Func != tt.Func {
		t.Fatalf("expected the original function after all measurements failed")
	}
	if res.Rounds != config.DefaultMaxEmptyRounds {
		t.Fatalf("expected %d rounds, got %d", config.DefaultMaxEmptyRounds, res.Rounds)
	}
	if res.Failures == 0 {
		t.Fatalf("expected failures to be counted")
	}
	if n, _ := db.Count(ctx, tt.Signature); n != 0 {
		t.Fatalf("failed measurements must not be recorded, got %d records", n)
	}
}

func TestOptimizeZeroQuotaMeasuresNothing(t *testing.T) {
	tt := matmulTask(t)
	m := &stubMeasurer{t: t, costs: []float64{1}}
	opts := tuningOptions(10, 4)
	opts.MeasureQuotaPerRound = 0

	res, err := newOptimizer(tt, m, database.NewMemoryDatabase()).Optimize(context.Background(), opts)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(m.batches) != 0 || res.Rounds != 3 || res.Measured {
		t.Fatalf("expected 3 empty rounds without measurement, got %d rounds and %d batches", res.Rounds, len(m.batches))
	}
}

func TestOptimizeMonotonicBest(t *testing.T) {
	tt := matmulTask(t)
	sim := measure.NewSimulatedMeasurer(measure.WithNoise(0.05), measure.WithSeed(2), measure.WithSimLogger(logger.Discard()))
	collector := metrics.NewCollector()

	res, err := newOptimizer(tt, sim, database.NewMemoryDatabase(), WithMetrics(collector)).
		Optimize(context.Background(), tuningOptions(6, 8))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !res.Measured {
		t.Fatalf("expected a measured result")
	}
	prev := 0.0
	for _, h := range res.History {
		if h.BestSoFar == 0 {
			continue
		}
		if prev != 0 && h.BestSoFar > prev {
			t.Fatalf("round %d: best rose from %g to %g", h.Round, prev, h.BestSoFar)
		}
		if h.Improved != (prev == 0 || h.BestSoFar < prev) {
			t.Fatalf("round %d: improved flag inconsistent", h.Round)
		}
		if h.Submitted > 8 || h.Measured+h.Failed != h.Submitted {
			t.Fatalf("round %d: inconsistent counters %+v", h.Round, h)
		}
		prev = h.BestSoFar
	}
	if res.Cost != prev {
		t.Fatalf("result cost %g differs from final best %g", res.Cost, prev)
	}
	if agg := collector.Aggregate(metrics.MetricProposed, nil); agg == nil || int(agg.Count) != res.Rounds {
		t.Fatalf("expected one proposed point per round, got %+v", agg)
	}
}

func TestOptimizeReproducible(t *testing.T) {
	run := func() *TuningResult {
		tt := matmulTask(t)
		sim := measure.NewSimulatedMeasurer(measure.WithNoise(0.05), measure.WithSeed(9), measure.WithSimLogger(logger.Discard()))
		opts := tuningOptions(4, 6)
		opts.Seed = 42
		res, err := newOptimizer(tt, sim, database.NewMemoryDatabase()).Optimize(context.Background(), opts)
		if err != nil {
			t.Fatalf("Optimize: %v", err)
		}
		return res
	}
	a, b := run(), run()
	if a.Schedule.Key() != b.Schedule.Key() || a.Cost != b.Cost {
		t.Fatalf("runs differ: %s@%g vs %s@%g", a.Schedule.Key(), a.Cost, b.Schedule.Key(), b.Cost)
	}
	if !reflect.DeepEqual(a.History, b.History) {
		t.Fatalf("round histories differ:\n%+v\n%+v", a.History, b.History)
	}
}

func TestOptimizeMalformedBatch(t *testing.T) {
	tt := matmulTask(t)
	short := measure.MeasurerFunc(func(_ context.Context, inputs []measure.MeasureInput) []measure.MeasureResult {
		return []measure.MeasureResult{measure.Success(1)}
	})
	res, err := newOptimizer(tt, short, database.NewMemoryDatabase()).Optimize(context.Background(), tuningOptions(2, 4))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.Measured {
		t.Fatalf("a short result batch must not produce a best result")
	}
	if res.Failures != 8 {
		t.Fatalf("expected every input to be reported failed, got %d", res.Failures)
	}
}

func TestOptimizeConfigurationErrors(t *testing.T) {
	tt := matmulTask(t)
	m := &stubMeasurer{t: t, costs: []float64{1}}

	tests := []struct {
		name  string
		opts  func(o *config.TuningOptions)
		field string
	}{
		{name: "zero rounds", opts: func(o *config.TuningOptions) { o.NumRounds = 0 }, field: "num_rounds"},
		{name: "zero population", opts: func(o *config.TuningOptions) { o.PopulationSize = 0; o.MeasureQuotaPerRound = 0 }, field: "population_size"},
		{name: "quota above population", opts: func(o *config.TuningOptions) { o.MeasureQuotaPerRound = 5 }, field: "measure_quota_per_round"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := tuningOptions(1, 4)
			tc.opts(&opts)
			res, err := newOptimizer(tt, m, database.NewMemoryDatabase()).Optimize(context.Background(), opts)
			var cfgErr *config.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, cfgErr.Field)
			}
			if res != nil {
				t.Fatalf("expected no result on configuration error")
			}
		})
	}
	if len(m.batches) != 0 {
		t.Fatalf("configuration errors must not reach the measurer")
	}

	if _, err := NewTaskOptimizer(nil, m, database.NewMemoryDatabase()).Optimize(context.Background(), tuningOptions(1, 4)); err == nil {
		t.Fatalf("expected error for a nil task")
	}
}

// rankedBefore mirrors the search ranking: cheaper prediction first, then key
func rankedBefore(a, b search.SearchState) bool {
	if a.PredictedCost != b.PredictedCost {
		return a.PredictedCost < b.PredictedCost
	}
	return a.Key() < b.Key()
}

func TestOptimizeMeasuresExplorationPicks(t *testing.T) {
	ctx := context.Background()
	tt := matmulTask(t)
	db := database.NewMemoryDatabase()
	model := costmodel.NewExprCostModel()
	rec := &recordingStrategy{EvolutionarySearch: search.NewEvolutionarySearch(tt, model, db,
		utils.NewRandSource(1), search.WithLogger(logger.Discard()), search.WithParallelism(4))}
	m := &stubMeasurer{t: t, costs: []float64{4, 2, 3, 1, 5, 6}}

	opts := config.DefaultTuningOptions()
	opts.Seed = 1
	if opts.MeasureQuotaPerRound >= opts.PopulationSize || opts.ExplorationSlots() == 0 {
		t.Fatalf("defaults must measure fewer states than they propose and reserve exploration slots")
	}
	if _, err := newOptimizer(tt, m, db, WithCostModel(model), WithSearchStrategy(rec)).Optimize(ctx, opts); err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	measuredEver := make(map[string]bool)
	explored := 0
	batch := 0
	for round, states := range rec.rounds {
		if len(states) == 0 {
			continue
		}
		if batch >= len(m.batches) {
			t.Fatalf("round %d proposed states but nothing was measured", round+1)
		}
		measured := make(map[string]bool)
		for _, in := range m.batches[batch] {
			k := in.Schedule.Key()
			if measuredEver[k] {
				t.Fatalf("round %d: %s measured twice", round+1, k)
			}
			measuredEver[k] = true
			measured[k] = true
		}
		batch++
		if len(measured) > opts.MeasureQuotaPerRound {
			t.Fatalf("round %d: batch of %d exceeds the quota", round+1, len(measured))
		}

		// a batch of the top predictions never skips a better ranked state
		skipsRanking := false
		for _, st := range states {
			if !measured[st.Key()] {
				continue
			}
			for _, other := range states {
				if !measured[other.Key()] && rankedBefore(other, st) {
					skipsRanking = true
				}
			}
		}
		if skipsRanking {
			explored++
		}
	}
	if explored == 0 {
		t.Fatalf("no exploration pick was measured in %d rounds", len(rec.rounds))
	}
}

func TestOptimizeRestartsOwnSearchPerSession(t *testing.T) {
	ctx := context.Background()
	tt := matmulTask(t)
	m := &stubMeasurer{t: t, fail: true}
	opt := newOptimizer(tt, m, database.NewMemoryDatabase())
	opts := tuningOptions(10, 4)

	keys := func(batches [][]measure.MeasureInput) []string {
		var out []string
		for _, b := range batches {
			for _, in := range b {
				out = append(out, in.Schedule.Key())
			}
		}
		return out
	}

	first, err := opt.Optimize(ctx, opts)
	if err != nil {
		t.Fatalf("first Optimize: %v", err)
	}
	split := len(m.batches)
	second, err := opt.Optimize(ctx, opts)
	if err != nil {
		t.Fatalf("second Optimize: %v", err)
	}
	if first.Rounds != second.Rounds {
		t.Fatalf("sessions ran %d and %d rounds", first.Rounds, second.Rounds)
	}
	a, b := keys(m.batches[:split]), keys(m.batches[split:])
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("a second session with the same seed measured different schedules:\n%v\n%v", a, b)
	}
}
