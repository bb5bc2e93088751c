package tuning

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/GoSim-25-26J-441/autotune-core/internal/costmodel"
	"github.com/GoSim-25-26J-441/autotune-core/internal/database"
	"github.com/GoSim-25-26J-441/autotune-core/internal/measure"
	"github.com/GoSim-25-26J-441/autotune-core/internal/task"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/config"
)

// Tuner tunes several tasks concurrently. Every task gets its own TaskOptimizer and
// search; the cost model, the database and the measurer are shared.
type Tuner struct {
	measurer    measure.Measurer
	db          database.Database
	concurrency int
	settings
}

// NewTuner creates a tuner that runs at most concurrency sessions at once
func NewTuner(m measure.Measurer, db database.Database, concurrency int, opts ...Option) *Tuner {
	t := &Tuner{
		measurer:    m,
		db:          db,
		concurrency: max(concurrency, 1),
		settings:    newSettings(opts),
	}
	if t.model == nil {
		t.model = costmodel.NewExprCostModel()
	}
	return t
}

// CostModel returns the model shared by all sessions
func (t *Tuner) CostModel() costmodel.CostModel {
	return t.model
}

// TuneAll tunes every task and returns the results in task order. Options are
// validated once up front. When a seed is set, task i searches with seed+i. Sessions
// that run concurrently see each other's cost model updates in whatever order they
// land, so a seeded run is only reproducible with a concurrency of 1 or with a
// measurer and model that are not shared.
func (t *Tuner) TuneAll(ctx context.Context, tasks []*task.TuneTask, opts config.TuningOptions) ([]*TuningResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	results := make([]*TuningResult, len(tasks))
	p := pool.New().WithErrors().WithMaxGoroutines(t.concurrency)
	for i, tt := range tasks {
		p.Go(func() error {
			taskOpts := opts
			if opts.Seed != 0 {
				taskOpts.Seed = opts.Seed + int64(i)
			}
			opt := NewTaskOptimizer(tt, t.measurer, t.db,
				WithCostModel(t.model),
				WithMetrics(t.metrics),
				WithLogger(t.logger),
				WithParallelism(t.parallelism))
			res, err := opt.Optimize(ctx, taskOpts)
			if err != nil {
				name := "<nil>"
				if tt != nil {
					name = tt.Name
				}
				return fmt.Errorf("task %s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
