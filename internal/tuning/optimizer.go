// Package tuning runs the per-task auto-tuning loop: search proposes schedules,
// invalid ones are pruned, survivors are measured in one batch per round, and the
// measurements train the cost model and extend the tuning history.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

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

// failurePenalty scales the worst observed cost into the training target of a
// candidate that failed to run
const failurePenalty = 10.0

type settings struct {
	model       costmodel.CostModel
	strategy    search.Strategy
	metrics     *metrics.Collector
	logger      *slog.Logger
	parallelism int
}

// Option configures a TaskOptimizer or a Tuner
type Option func(*settings)

// WithCostModel shares a cost model between sessions
func WithCostModel(m costmodel.CostModel) Option {
	return func(s *settings) { s.model = m }
}

// WithSearchStrategy replaces the evolutionary search. Ignored by Tuner.
func WithSearchStrategy(st search.Strategy) Option {
	return func(s *settings) { s.strategy = st }
}

// WithMetrics records round metrics into c
func WithMetrics(c *metrics.Collector) Option {
	return func(s *settings) { s.metrics = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithParallelism bounds the goroutines used for scoring and pruning
func WithParallelism(n int) Option {
	return func(s *settings) { s.parallelism = max(n, 1) }
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:      logger.Component("tuning"),
		parallelism: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// TaskOptimizer tunes one task. The task, measurer and database are borrowed: the
// caller keeps them alive for as long as the optimizer is used and closes them.
type TaskOptimizer struct {
	task     *task.TuneTask
	measurer measure.Measurer
	db       database.Database
	settings

	// ownsStrategy is set when the search was created here rather than injected
	ownsStrategy bool

	mu           sync.RWMutex
	bestCost     float64
	bestSchedule schedule.Schedule
	bestFunc     *ir.LoweredFunc
	hasBest      bool
	worstCost    float64
	history      []RoundStats
}

// NewTaskOptimizer binds an optimizer to a task, a measurer and a database
func NewTaskOptimizer(t *task.TuneTask, m measure.Measurer, db database.Database, opts ...Option) *TaskOptimizer {
	return &TaskOptimizer{
		task:     t,
		measurer: m,
		db:       db,
		settings: newSettings(opts),
	}
}

// Optimize runs the session to completion. It only fails for configuration problems
// found before the first round; everything that goes wrong afterwards is absorbed
// and the best result so far is returned. Every call is a new session; a search
// created by the optimizer is rebuilt from opts.Seed, while a strategy passed with
// WithSearchStrategy keeps its state across sessions.
func (o *TaskOptimizer) Optimize(ctx context.Context, opts config.TuningOptions) (*TuningResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if o.task == nil || o.task.Func == nil || o.task.Compute == nil {
		return nil, errors.New("a task with an initial function is required")
	}
	if o.measurer == nil {
		return nil, errors.New("measurer is required")
	}
	if o.db == nil {
		return nil, errors.New("database is required")
	}

	// every session searches from a fresh state seeded with opts.Seed
	if o.ownsStrategy {
		o.strategy = nil
	}
	o.ensureStrategy(opts)

	o.mu.Lock()
	o.bestCost = 0
	o.bestSchedule = schedule.Identity(o.task.Compute)
	o.bestFunc = o.task.Func
	o.hasBest = false
	o.worstCost = 0
	o.history = make([]RoundStats, 0, opts.NumRounds)
	o.mu.Unlock()

	sessionID := utils.GenerateSessionID()
	log := o.logger.With("task", o.task.Name, "session", sessionID)
	log.Info("tuning session started",
		"signature", o.task.Signature,
		"rounds", opts.NumRounds,
		"population", opts.PopulationSize,
		"quota", opts.MeasureQuotaPerRound)

	policy := NewCombinedPolicy(
		&EmptyRoundPolicy{Limit: opts.EmptyRoundLimit()},
		&RoundBudgetPolicy{MaxRounds: opts.NumRounds},
	)

	var reason string
	for round := 1; ; round++ {
		start := time.Now()
		stats, latency := o.runRound(ctx, round, opts, log)

		o.mu.Lock()
		o.history = append(o.history, stats)
		history := o.history
		o.mu.Unlock()

		metrics.RecordRound(o.metrics, metrics.Round{
			Task:           o.task.Name,
			Proposed:       stats.Proposed,
			Pruned:         stats.Pruned,
			Measured:       stats.Measured,
			Failed:         stats.Failed,
			Duration:       time.Since(start),
			MeasureLatency: latency,
			BestCost:       stats.BestSoFar,
		})
		log.Info("round finished",
			"round", round,
			"proposed", stats.Proposed,
			"pruned", stats.Pruned,
			"measured", stats.Measured,
			"failed", stats.Failed,
			"best", stats.BestSoFar)

		var stop bool
		if stop, reason = policy.ShouldStop(history); stop {
			log.Info("tuning session finished", "reason", describeStop(reason, history), "rounds", len(history))
			break
		}
	}

	return o.buildResult(sessionID, reason), nil
}

// SearchOneRound runs the search and prune steps: it asks the strategy for
// candidates, rebuilds the task function around each candidate body and drops the
// ones that fail validation. Pruning runs in parallel and keeps the search order;
// pruned schedules are reported back to the strategy as failed.
func (o *TaskOptimizer) SearchOneRound(ctx context.Context, opts config.TuningOptions) RoundCandidates {
	o.ensureStrategy(opts)
	states := o.strategy.SearchOneRound(ctx, opts)
	funcs := make([]*ir.LoweredFunc, len(states))
	errs := make([]error, len(states))

	p := pool.New().WithMaxGoroutines(o.parallelism)
	for i, st := range states {
		p.Go(func() {
			fn := ir.FuncWithUpdatedBody(o.task.Func, st.Body)
			if err := ir.Validate(fn); err != nil {
				errs[i] = err
				return
			}
			funcs[i] = fn
		})
	}
	p.Wait()

	rc := RoundCandidates{Proposed: len(states), Valid: make([]Candidate, 0, len(states))}
	var pruned []search.Observation
	for i, st := range states {
		if errs[i] != nil {
			rc.Pruned++
			pruned = append(pruned, search.Observation{Schedule: st.Schedule, Failed: true})
			o.logger.Debug("candidate pruned", "task", o.task.Name, "schedule", st.Key(), "error", errs[i])
			continue
		}
		rc.Valid = append(rc.Valid, Candidate{State: st, Func: funcs[i]})
	}
	if len(pruned) > 0 {
		o.strategy.Feedback(pruned)
	}
	return rc
}

// ensureStrategy creates the cost model and the evolutionary search when none is set
func (o *TaskOptimizer) ensureStrategy(opts config.TuningOptions) {
	if o.model == nil {
		o.model = costmodel.NewExprCostModel()
	}
	if o.strategy == nil {
		o.strategy = search.NewEvolutionarySearch(o.task, o.model, o.db, utils.NewRandSource(opts.Seed),
			search.WithParallelism(o.parallelism),
			search.WithLogger(o.logger))
		o.ownsStrategy = true
	}
}

func (o *TaskOptimizer) runRound(ctx context.Context, round int, opts config.TuningOptions, log *slog.Logger) (RoundStats, time.Duration) {
	rc := o.SearchOneRound(ctx, opts)
	stats := RoundStats{Round: round, Proposed: rc.Proposed, Pruned: rc.Pruned}

	batch := rc.Valid[:min(opts.MeasureQuotaPerRound, len(rc.Valid))]
	if len(batch) == 0 {
		stats.Empty = true
		stats.BestSoFar = o.BestCost()
		return stats, 0
	}
	stats.Submitted = len(batch)

	inputs := make([]measure.MeasureInput, len(batch))
	for i, c := range batch {
		inputs[i] = measure.NewInput(o.task, c.State.Schedule, c.Func)
	}
	start := time.Now()
	results := o.measurer.Measure(ctx, inputs)
	latency := time.Since(start)
	if len(results) != len(inputs) {
		log.Warn("measurer returned a malformed batch", "round", round, "inputs", len(inputs), "results", len(results))
		results = measure.FailAll(len(inputs), measure.ErrorTransport,
			fmt.Sprintf("measurer returned %d results for %d inputs", len(results), len(inputs)))
	}

	o.update(ctx, batch, results, &stats, log)
	return stats, latency
}

// update trains the model, records successes in the database, reports every
// submitted schedule to the strategy and moves the best-so-far when the round beat it.
func (o *TaskOptimizer) update(ctx context.Context, batch []Candidate, results []measure.MeasureResult, stats *RoundStats, log *slog.Logger) {
	samples := make([]costmodel.Sample, 0, len(batch))
	observations := make([]search.Observation, 0, len(batch))
	for i, r := range results {
		if !usableCost(r) {
			stats.Failed++
			observations = append(observations, search.Observation{Schedule: batch[i].State.Schedule, Failed: true})
			log.Debug("measurement failed", "schedule", batch[i].State.Key(), "kind", string(r.Error), "error", r.ErrorMsg)
			continue
		}
		stats.Measured++
		samples = append(samples, costmodel.Sample{Body: batch[i].State.Body, Cost: r.ElapsedSeconds})
		observations = append(observations, search.Observation{Schedule: batch[i].State.Schedule, Cost: r.ElapsedSeconds})

		rec, err := database.NewRecord(o.task.Signature, o.task.Name, batch[i].State.Schedule, r.ElapsedSeconds)
		if err == nil {
			err = o.db.Insert(ctx, rec)
		}
		if err != nil {
			log.Warn("failed to record measurement", "schedule", batch[i].State.Key(), "error", err)
		}
	}

	o.mu.Lock()
	for _, s := range samples {
		o.worstCost = max(o.worstCost, s.Cost)
	}
	worst := o.worstCost
	o.mu.Unlock()

	// failed candidates still teach the model, except when the failure says nothing
	// about the candidate itself
	if worst > 0 {
		for i, r := range results {
			if usableCost(r) || r.Error == measure.ErrorTransport {
				continue
			}
			samples = append(samples, costmodel.Sample{Body: batch[i].State.Body, Cost: failurePenalty * worst})
		}
	}
	o.model.Update(samples)
	o.strategy.Feedback(observations)

	stats.Empty = stats.Measured == 0
	o.mu.Lock()
	defer o.mu.Unlock()
	if i, ok := selectRoundBest(results); ok {
		cost := results[i].ElapsedSeconds
		stats.RoundBest = cost
		if !o.hasBest || cost < o.bestCost {
			o.bestCost = cost
			o.bestSchedule = batch[i].State.Schedule.Clone()
			o.bestFunc = batch[i].Func
			o.hasBest = true
			stats.Improved = true
		}
	}
	stats.BestSoFar = o.bestCost
}

func (o *TaskOptimizer) buildResult(sessionID, reason string) *TuningResult {
	o.mu.RLock()
	defer o.mu.RUnlock()

	res := &TuningResult{
		SessionID:         sessionID,
		TaskName:          o.task.Name,
		Signature:         o.task.Signature,
		Func:              o.bestFunc,
		Schedule:          o.bestSchedule.Clone(),
		Cost:              o.bestCost,
		Measured:          o.hasBest,
		Rounds:            len(o.history),
		TerminationReason: reason,
		History:           append([]RoundStats(nil), o.history...),
	}
	for _, h := range o.history {
		res.Proposed += h.Proposed
		res.Pruned += h.Pruned
		res.Measurements += h.Measured
		res.Failures += h.Failed
	}
	return res
}

// BestCost returns the best measured cost so far, 0 before the first success
func (o *TaskOptimizer) BestCost() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bestCost
}

// Rounds returns the number of rounds executed in the current session
func (o *TaskOptimizer) Rounds() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.history)
}
