package measure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

const resultTolerance = 1e-3

// LocalMeasurer executes candidates with the IR interpreter, checks their output
// against the untransformed computation and reports the fastest of Repeat runs.
type LocalMeasurer struct {
	repeat  int
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	refs map[string]*reference
}

type reference struct {
	inputs map[string][]float32
	output []float32
}

// LocalOption configures a LocalMeasurer
type LocalOption func(*LocalMeasurer)

// WithRepeat sets how many timed runs are made per candidate
func WithRepeat(n int) LocalOption {
	return func(m *LocalMeasurer) { m.repeat = max(n, 1) }
}

// WithTimeout bounds the run time of a single execution
func WithTimeout(d time.Duration) LocalOption {
	return func(m *LocalMeasurer) { m.timeout = d }
}

// WithLocalLogger sets the logger
func WithLocalLogger(l *slog.Logger) LocalOption {
	return func(m *LocalMeasurer) { m.logger = l }
}

// NewLocalMeasurer creates a local measurer
func NewLocalMeasurer(opts ...LocalOption) *LocalMeasurer {
	m := &LocalMeasurer{
		repeat: 1,
		logger: logger.Component("measure"),
		refs:   make(map[string]*reference),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Measure implements Measurer. Candidates run one at a time so timings do not interfere.
func (m *LocalMeasurer) Measure(ctx context.Context, inputs []MeasureInput) []MeasureResult {
	out := make([]MeasureResult, len(inputs))
	for i, in := range inputs {
		out[i] = m.measureOne(ctx, in)
		m.logger.Debug("candidate measured",
			"task", in.TaskName, "schedule", in.Schedule.Key(),
			"elapsed", out[i].ElapsedSeconds, "error", string(out[i].Error))
	}
	return out
}

func (m *LocalMeasurer) measureOne(ctx context.Context, in MeasureInput) MeasureResult {
	if in.Func == nil {
		return Failure(ErrorCompile, "no function to measure")
	}
	prog, err := ir.Compile(in.Func)
	if err != nil {
		return Failure(ErrorCompile, "%v", err)
	}
	ref, err := m.reference(ctx, in)
	if err != nil {
		return Failure(ErrorRuntime, "reference: %v", err)
	}
	outputs := in.Func.Outputs()
	if len(outputs) != 1 {
		return Failure(ErrorCompile, "expected exactly one output buffer, got %d", len(outputs))
	}

	bufs := prog.NewBuffers()
	for name, data := range ref.inputs {
		dst, ok := bufs[name]
		if !ok || len(dst) != len(data) {
			return Failure(ErrorCompile, "argument %s does not match the computation", name)
		}
		copy(dst, data)
	}

	best := math.Inf(1)
	for r := 0; r < m.repeat; r++ {
		runCtx, cancel := m.runContext(ctx)
		start := time.Now()
		err := prog.Run(runCtx, bufs)
		elapsed := time.Since(start).Seconds()
		deadline := runCtx.Err()
		cancel()
		if err != nil {
			if errors.Is(err, ir.ErrCancelled) && errors.Is(deadline, context.DeadlineExceeded) {
				return Failure(ErrorTimeout, "run exceeded %s", m.timeout)
			}
			return Failure(ErrorRuntime, "%v", err)
		}
		best = math.Min(best, elapsed)
	}

	got := bufs[outputs[0]]
	if len(got) != len(ref.output) {
		return Failure(ErrorRuntime, "wrong result: %d elements, want %d", len(got), len(ref.output))
	}
	if i, ok := mismatch(got, ref.output); !ok {
		return Failure(ErrorRuntime, "wrong result at element %d: got %v, want %v", i, got[i], ref.output[i])
	}
	return Success(best)
}

func (m *LocalMeasurer) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout > 0 {
		return context.WithTimeout(ctx, m.timeout)
	}
	return context.WithCancel(ctx)
}

// reference computes, once per signature, deterministic inputs and the output of
// the untransformed computation.
func (m *LocalMeasurer) reference(ctx context.Context, in MeasureInput) (*reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref, ok := m.refs[in.Signature]; ok {
		return ref, nil
	}

	c, err := schedule.Build(in.Compute)
	if err != nil {
		return nil, err
	}
	fn, err := schedule.LowerFunc(c, "reference", schedule.Identity(c))
	if err != nil {
		return nil, err
	}
	prog, err := ir.Compile(fn)
	if err != nil {
		return nil, err
	}

	rng := utils.NewRandSource(int64(xxhash.Sum64String(in.Signature)>>1) | 1)
	bufs := prog.NewBuffers()
	inputs := make(map[string][]float32, len(c.Inputs))
	for _, b := range c.Inputs {
		data := bufs[b.Name]
		for i := range data {
			data[i] = float32(rng.UniformFloat64(-1, 1))
		}
		inputs[b.Name] = append([]float32(nil), data...)
	}
	if err := prog.Run(ctx, bufs); err != nil {
		return nil, fmt.Errorf("run reference: %w", err)
	}
	ref := &reference{inputs: inputs, output: bufs[c.Output.Name]}
	m.refs[in.Signature] = ref
	return ref, nil
}

func mismatch(got, want []float32) (int, bool) {
	for i := range got {
		d := math.Abs(float64(got[i] - want[i]))
		if d > resultTolerance*math.Max(1, math.Abs(float64(want[i]))) {
			return i, false
		}
	}
	return 0, true
}
