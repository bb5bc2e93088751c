// Package measure obtains ground-truth costs for candidate functions.
//
// A Measurer takes an ordered batch and returns exactly one result per input, in
// the same order. Per-candidate problems (compile errors, wrong results, timeouts,
// transport loss) are reported as failed results, never as a returned error.
package measure

import (
	"context"
	"fmt"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/internal/task"
)

// ErrorKind classifies a failed measurement
type ErrorKind string

const (
	ErrorCompile   ErrorKind = "compile"
	ErrorRuntime   ErrorKind = "runtime"
	ErrorTimeout   ErrorKind = "timeout"
	ErrorTransport ErrorKind = "transport"
)

// MeasureInput is one candidate to measure
type MeasureInput struct {
	TaskName  string
	Signature string
	Compute   schedule.ComputeSpec
	Schedule  schedule.Schedule
	Target    task.Target
	Func      *ir.LoweredFunc
}

// NewInput packages a candidate function of t
func NewInput(t *task.TuneTask, s schedule.Schedule, fn *ir.LoweredFunc) MeasureInput {
	return MeasureInput{
		TaskName:  t.Name,
		Signature: t.Signature,
		Compute:   t.Compute.Spec(),
		Schedule:  s,
		Target:    t.Target,
		Func:      fn,
	}
}

// MeasureResult is the outcome of measuring one input
type MeasureResult struct {
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Error          ErrorKind `json:"error,omitempty"`
	ErrorMsg       string    `json:"error_msg,omitempty"`
}

// OK reports whether the measurement succeeded
func (r MeasureResult) OK() bool {
	return r.Error == ""
}

// Success builds a successful result
func Success(seconds float64) MeasureResult {
	return MeasureResult{ElapsedSeconds: seconds}
}

// Failure builds a failed result
func Failure(kind ErrorKind, format string, args ...any) MeasureResult {
	return MeasureResult{Error: kind, ErrorMsg: fmt.Sprintf(format, args...)}
}

// FailAll returns one failure of the given kind per input
func FailAll(n int, kind ErrorKind, msg string) []MeasureResult {
	out := make([]MeasureResult, n)
	for i := range out {
		out[i] = MeasureResult{Error: kind, ErrorMsg: msg}
	}
	return out
}

// Measurer measures candidate batches
type Measurer interface {
	Measure(ctx context.Context, inputs []MeasureInput) []MeasureResult
}

// MeasurerFunc adapts a function to the Measurer interface
type MeasurerFunc func(ctx context.Context, inputs []MeasureInput) []MeasureResult

// Measure implements Measurer
func (f MeasurerFunc) Measure(ctx context.Context, inputs []MeasureInput) []MeasureResult {
	return f(ctx, inputs)
}
