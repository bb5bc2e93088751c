package measure

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/task"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
)

const (
	cacheLineBytes  = 64
	elemBytes       = 4
	loopIterSeconds = 0.5e-9
	launchSeconds   = 1e-6
)

// SimulatedMeasurer estimates run time from an analytic model of the target
// instead of executing anything. Results are deterministic for a given seed.
type SimulatedMeasurer struct {
	noise   float64
	timeout time.Duration
	seed    uint64
	logger  *slog.Logger
}

// SimOption configures a SimulatedMeasurer
type SimOption func(*SimulatedMeasurer)

// WithNoise sets the relative amplitude of measurement noise
func WithNoise(relative float64) SimOption {
	return func(m *SimulatedMeasurer) { m.noise = relative }
}

// WithSimTimeout fails candidates whose simulated time exceeds d
func WithSimTimeout(d time.Duration) SimOption {
	return func(m *SimulatedMeasurer) { m.timeout = d }
}

// WithSeed sets the noise seed
func WithSeed(seed int64) SimOption {
	return func(m *SimulatedMeasurer) { m.seed = uint64(seed) }
}

// WithSimLogger sets the logger
func WithSimLogger(l *slog.Logger) SimOption {
	return func(m *SimulatedMeasurer) { m.logger = l }
}

// NewSimulatedMeasurer creates a simulated measurer
func NewSimulatedMeasurer(opts ...SimOption) *SimulatedMeasurer {
	m := &SimulatedMeasurer{logger: logger.Component("measure")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Measure implements Measurer
func (m *SimulatedMeasurer) Measure(ctx context.Context, inputs []MeasureInput) []MeasureResult {
	out := make([]MeasureResult, len(inputs))
	for i, in := range inputs {
		out[i] = m.measureOne(in)
	}
	m.logger.Debug("simulated batch", "size", len(inputs))
	return out
}

func (m *SimulatedMeasurer) measureOne(in MeasureInput) MeasureResult {
	if in.Func == nil {
		return Failure(ErrorCompile, "no function to measure")
	}
	if err := ir.Validate(in.Func); err != nil {
		return Failure(ErrorCompile, "%v", err)
	}
	secs := Estimate(in.Func, in.Target)
	if m.noise > 0 {
		secs *= 1 + m.noise*(2*m.unit(in)-1)
	}
	if m.timeout > 0 && secs > m.timeout.Seconds() {
		return Failure(ErrorTimeout, "simulated run time %.3gs exceeds %s", secs, m.timeout)
	}
	return Success(secs)
}

// unit maps an input to a deterministic value in [0, 1)
func (m *SimulatedMeasurer) unit(in MeasureInput) float64 {
	h := xxhash.New()
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], m.seed)
	_, _ = h.Write(seed[:])
	_, _ = h.WriteString(in.Signature)
	_, _ = h.WriteString(in.Schedule.Key())
	return float64(h.Sum64()>>11) / float64(1<<53)
}

// Estimate returns the modelled run time of fn on target, in seconds. Each store
// nest is costed as max(compute, memory) plus loop overhead.
func Estimate(fn *ir.LoweredFunc, target task.Target) float64 {
	total := launchSeconds
	ir.VisitStores(fn.Body, func(st *ir.Store, loops []*ir.For) {
		total += estimateNest(fn, st, loops, target)
	})
	return total
}

type nestAccess struct {
	indices []ir.Expr
	shape   []int
}

func estimateNest(fn *ir.LoweredFunc, st *ir.Store, loops []*ir.For, target task.Target) float64 {
	trips := 1.0
	for _, l := range loops {
		trips *= float64(l.Extent)
	}

	accesses := []nestAccess{{indices: st.Indices, shape: shapeOf(fn, st.Buffer)}}
	ir.VisitLoads(st.Value, func(l *ir.Load) {
		accesses = append(accesses, nestAccess{indices: l.Indices, shape: shapeOf(fn, l.Buffer)})
	})

	vw := float64(max(target.VectorWidth, 1))
	eff := 1 / vw
	var inner *ir.For
	if len(loops) > 0 {
		inner = loops[len(loops)-1]
	}
	contiguous := true
	if inner != nil {
		for _, a := range accesses {
			s, ok := ir.FlatStride(a.indices, a.shape, inner.Var)
			if !ok || s > 1 || s < -1 {
				contiguous = false
			}
		}
		if inner.Kind == ir.ForVectorized {
			if contiguous {
				eff = math.Min(float64(inner.Extent), vw) / vw
			} else {
				eff = 0.7 / vw
			}
			if isReduction(st, inner.Var) {
				eff *= 0.6
			}
		}
		if inner.Kind == ir.ForUnrolled || (len(loops) > 1 && loops[len(loops)-2].Kind == ir.ForUnrolled) {
			eff = math.Min(1, eff*1.25)
		}
	}
	ops := float64(max(ir.CountOps(st.Value), 1))
	compute := trips * ops / (target.PeakGFLOPS * 1e9 * eff)

	memory := memoryTraffic(accesses, loops, target) / (target.BandwidthGBps * 1e9)

	overhead := 0.0
	outer := 1.0
	for _, l := range loops {
		outer *= float64(l.Extent)
		switch l.Kind {
		case ir.ForUnrolled:
		case ir.ForVectorized:
			overhead += outer / vw * loopIterSeconds
		default:
			overhead += outer * loopIterSeconds
		}
	}

	return math.Max(compute, memory) + overhead
}

// memoryTraffic finds the outermost loop level whose working set fits in cache and
// charges that working set once per iteration of the loops around it.
func memoryTraffic(accesses []nestAccess, loops []*ir.For, target task.Target) float64 {
	cache := float64(target.CacheBytes)
	level := len(loops)
	footprint := workingSet(accesses, loops[level:])
	for level > 0 {
		fp := workingSet(accesses, loops[level-1:])
		if fp > cache {
			break
		}
		level--
		footprint = fp
	}
	reloads := 1.0
	for _, l := range loops[:level] {
		reloads *= float64(l.Extent)
	}
	return footprint * reloads
}

// workingSet is the number of bytes moved to serve the given loops once: distinct
// elements per access, rounded up to cache lines when the innermost loop strides.
func workingSet(accesses []nestAccess, loops []*ir.For) float64 {
	total := 0.0
	for _, a := range accesses {
		elems := 1.0
		for d, idx := range a.indices {
			coeffs, _, ok := ir.Affine(idx)
			width := 1
			if !ok {
				width = a.shape[d]
			} else {
				for _, l := range loops {
					c := coeffs[l.Var]
					if c < 0 {
						c = -c
					}
					width += c * (l.Extent - 1)
				}
			}
			elems *= float64(min(width, a.shape[d]))
		}
		bytes := elems * elemBytes
		if len(loops) > 0 {
			if s, ok := ir.FlatStride(a.indices, a.shape, loops[len(loops)-1].Var); ok && (s > 1 || s < -1) {
				bytes *= math.Min(float64(cacheLineBytes/elemBytes), math.Abs(float64(s)))
			}
		}
		total += bytes
	}
	return total
}

func isReduction(st *ir.Store, v string) bool {
	for _, idx := range st.Indices {
		coeffs, _, _ := ir.Affine(idx)
		if coeffs[v] != 0 {
			return false
		}
	}
	return true
}

func shapeOf(fn *ir.LoweredFunc, name string) []int {
	b, _ := fn.Buffer(name)
	return b.Shape
}
