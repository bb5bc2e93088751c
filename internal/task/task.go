// Package task defines the unit of tuning: one computation on one hardware target.
package task

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/config"
)

// Target describes the hardware a task is tuned for
type Target struct {
	Name          string  `json:"name"`
	VectorWidth   int     `json:"vector_width"` // float32 lanes
	CacheBytes    int     `json:"cache_bytes"`
	PeakGFLOPS    float64 `json:"peak_gflops"`
	BandwidthGBps float64 `json:"bandwidth_gbps"`
}

func (t Target) String() string {
	return t.Name + "/v" + strconv.Itoa(t.VectorWidth) + "/c" + strconv.Itoa(t.CacheBytes) +
		"/p" + strconv.FormatFloat(t.PeakGFLOPS, 'g', -1, 64) +
		"/b" + strconv.FormatFloat(t.BandwidthGBps, 'g', -1, 64)
}

var builtinTargets = map[string]Target{
	"x86-avx2":  {Name: "x86-avx2", VectorWidth: 8, CacheBytes: 256 << 10, PeakGFLOPS: 100, BandwidthGBps: 40},
	"x86-sse":   {Name: "x86-sse", VectorWidth: 4, CacheBytes: 256 << 10, PeakGFLOPS: 50, BandwidthGBps: 25},
	"arm-neon":  {Name: "arm-neon", VectorWidth: 4, CacheBytes: 128 << 10, PeakGFLOPS: 30, BandwidthGBps: 15},
	"host-tiny": {Name: "host-tiny", VectorWidth: 4, CacheBytes: 16 << 10, PeakGFLOPS: 10, BandwidthGBps: 5},
}

// DefaultTargetName is used when a task names no target
const DefaultTargetName = "x86-avx2"

// LookupTarget returns a built-in target by name
func LookupTarget(name string) (Target, bool) {
	t, ok := builtinTargets[name]
	return t, ok
}

// TargetNames lists the built-in targets
func TargetNames() []string {
	names := make([]string, 0, len(builtinTargets))
	for n := range builtinTargets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TargetFromSpec converts a configured target
func TargetFromSpec(s config.TargetSpec) Target {
	return Target{
		Name:          s.Name,
		VectorWidth:   s.VectorWidth,
		CacheBytes:    s.CacheKB << 10,
		PeakGFLOPS:    s.PeakGFLOPS,
		BandwidthGBps: s.BandwidthGBps,
	}
}

// TuneTask identifies one computation to tune. It is immutable once created.
type TuneTask struct {
	Name      string
	Signature string
	Compute   *schedule.ComputeDef
	Func      *ir.LoweredFunc
	Target    Target
}

// Signature derives the stable task key from the computation structure and target
func Signature(c *schedule.ComputeDef, target Target) string {
	h := xxhash.New()
	_, _ = h.WriteString(c.String())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(target.String())
	return fmt.Sprintf("%016x", h.Sum64())
}

// New builds a task whose initial function is the untiled lowering of c
func New(name string, c *schedule.ComputeDef, target Target) (*TuneTask, error) {
	if name == "" {
		return nil, fmt.Errorf("task name cannot be empty")
	}
	fn, err := schedule.LowerFunc(c, "fn_"+name, schedule.Identity(c))
	if err != nil {
		return nil, fmt.Errorf("task %s: failed to lower initial function: %w", name, err)
	}
	if err := ir.Validate(fn); err != nil {
		return nil, fmt.Errorf("task %s: initial function is invalid: %w", name, err)
	}
	return &TuneTask{
		Name:      name,
		Signature: Signature(c, target),
		Compute:   c,
		Func:      fn,
		Target:    target,
	}, nil
}

// FromSpec builds a task from a configured task entry. Custom targets shadow built-in ones.
func FromSpec(spec config.TaskSpec, custom map[string]Target) (*TuneTask, error) {
	c, err := schedule.Build(schedule.ComputeSpec{Op: spec.Op, Dims: spec.Dims})
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", spec.Name, err)
	}
	name := spec.Target
	if name == "" {
		name = DefaultTargetName
	}
	target, ok := custom[name]
	if !ok {
		target, ok = LookupTarget(name)
	}
	if !ok {
		return nil, fmt.Errorf("task %s: unknown target %q", spec.Name, name)
	}
	return New(spec.Name, c, target)
}

// FromConfig builds every task listed in cfg, in order
func FromConfig(cfg *config.Config) ([]*TuneTask, error) {
	custom := make(map[string]Target, len(cfg.Targets))
	for _, s := range cfg.Targets {
		custom[s.Name] = TargetFromSpec(s)
	}
	tasks := make([]*TuneTask, 0, len(cfg.Tasks))
	for _, spec := range cfg.Tasks {
		t, err := FromSpec(spec, custom)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
