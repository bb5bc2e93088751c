package schedule

import (
	"fmt"
	"strings"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
)

// Axis is one iteration dimension of a computation
type Axis struct {
	Name   string
	Extent int
	Reduce bool
}

// ComputeDef describes a computation as a single (optionally reducing) statement
// over a rectangular iteration domain:
//
//	Output[OutputAxes] (+)= Value(axes)
//
// Value references axes through ir.Var nodes named after the axis.
type ComputeDef struct {
	Op         string
	Dims       []int
	Axes       []Axis
	Inputs     []ir.Buffer
	Output     ir.Buffer
	OutputAxes []string
	Value      ir.Expr
	Init       float32
}

// ComputeSpec is the portable description a ComputeDef is rebuilt from
type ComputeSpec struct {
	Op   string `json:"op"`
	Dims []int  `json:"dims"`
}

// UnknownOpError is returned for an op with no builder
type UnknownOpError struct {
	Op string
}

func (e *UnknownOpError) Error() string {
	return fmt.Sprintf("unknown op: %s", e.Op)
}

// Build constructs the ComputeDef for spec
func Build(spec ComputeSpec) (*ComputeDef, error) {
	d := spec.Dims
	for _, v := range d {
		if v <= 0 {
			return nil, fmt.Errorf("%s: dimensions must be positive, got %v", spec.Op, d)
		}
	}
	arity := func(n int) error {
		if len(d) != n {
			return fmt.Errorf("%s expects %d dims, got %d", spec.Op, n, len(d))
		}
		return nil
	}
	switch spec.Op {
	case "matmul":
		if err := arity(3); err != nil {
			return nil, err
		}
		return Matmul(d[0], d[1], d[2]), nil
	case "batch_matmul":
		if err := arity(4); err != nil {
			return nil, err
		}
		return BatchMatmul(d[0], d[1], d[2], d[3]), nil
	case "reduce_sum":
		if err := arity(2); err != nil {
			return nil, err
		}
		return ReduceSum(d[0], d[1]), nil
	case "add":
		if len(d) < 1 || len(d) > 3 {
			return nil, fmt.Errorf("add expects 1 to 3 dims, got %d", len(d))
		}
		return Add(d...), nil
	default:
		return nil, &UnknownOpError{Op: spec.Op}
	}
}

// Matmul builds C[i, j] = sum_k A[i, k] * B[k, j]
func Matmul(m, n, k int) *ComputeDef {
	return &ComputeDef{
		Op:   "matmul",
		Dims: []int{m, n, k},
		Axes: []Axis{{"i", m, false}, {"j", n, false}, {"k", k, true}},
		Inputs: []ir.Buffer{
			{Name: "A", Shape: []int{m, k}},
			{Name: "B", Shape: []int{k, n}},
		},
		Output:     ir.Buffer{Name: "C", Shape: []int{m, n}},
		OutputAxes: []string{"i", "j"},
		Value:      ir.Mul(ir.Ld("A", ir.V("i"), ir.V("k")), ir.Ld("B", ir.V("k"), ir.V("j"))),
	}
}

// BatchMatmul builds C[b, i, j] = sum_k A[b, i, k] * B[b, k, j]
func BatchMatmul(batch, m, n, k int) *ComputeDef {
	return &ComputeDef{
		Op:   "batch_matmul",
		Dims: []int{batch, m, n, k},
		Axes: []Axis{{"b", batch, false}, {"i", m, false}, {"j", n, false}, {"k", k, true}},
		Inputs: []ir.Buffer{
			{Name: "A", Shape: []int{batch, m, k}},
			{Name: "B", Shape: []int{batch, k, n}},
		},
		Output:     ir.Buffer{Name: "C", Shape: []int{batch, m, n}},
		OutputAxes: []string{"b", "i", "j"},
		Value: ir.Mul(
			ir.Ld("A", ir.V("b"), ir.V("i"), ir.V("k")),
			ir.Ld("B", ir.V("b"), ir.V("k"), ir.V("j")),
		),
	}
}

// ReduceSum builds B[i] = sum_k A[i, k]
func ReduceSum(rows, cols int) *ComputeDef {
	return &ComputeDef{
		Op:         "reduce_sum",
		Dims:       []int{rows, cols},
		Axes:       []Axis{{"i", rows, false}, {"k", cols, true}},
		Inputs:     []ir.Buffer{{Name: "A", Shape: []int{rows, cols}}},
		Output:     ir.Buffer{Name: "B", Shape: []int{rows}},
		OutputAxes: []string{"i"},
		Value:      ir.Ld("A", ir.V("i"), ir.V("k")),
	}
}

// Add builds an elementwise C = A + B over up to three dimensions
func Add(dims ...int) *ComputeDef {
	names := []string{"i", "j", "l"}[:len(dims)]
	axes := make([]Axis, len(dims))
	idx := make([]ir.Expr, len(dims))
	for d, e := range dims {
		axes[d] = Axis{Name: names[d], Extent: e}
		idx[d] = ir.V(names[d])
	}
	shape := append([]int(nil), dims...)
	return &ComputeDef{
		Op:         "add",
		Dims:       append([]int(nil), dims...),
		Axes:       axes,
		Inputs:     []ir.Buffer{{Name: "A", Shape: shape}, {Name: "B", Shape: shape}},
		Output:     ir.Buffer{Name: "C", Shape: shape},
		OutputAxes: append([]string(nil), names...),
		Value:      ir.Add(ir.Ld("A", idx...), ir.Ld("B", idx...)),
	}
}

// Spec returns the portable description of c
func (c *ComputeDef) Spec() ComputeSpec {
	return ComputeSpec{Op: c.Op, Dims: append([]int(nil), c.Dims...)}
}

// HasReduction reports whether any axis is a reduction axis
func (c *ComputeDef) HasReduction() bool {
	for _, a := range c.Axes {
		if a.Reduce {
			return true
		}
	}
	return false
}

// Flops is the number of arithmetic operations the computation performs
func (c *ComputeDef) Flops() float64 {
	points := 1.0
	for _, a := range c.Axes {
		points *= float64(a.Extent)
	}
	ops := ir.CountOps(c.Value)
	if c.HasReduction() {
		ops++
	}
	return points * float64(max(ops, 1))
}

// String is a canonical structural description used for task signatures
func (c *ComputeDef) String() string {
	var sb strings.Builder
	sb.WriteString(c.Op)
	sb.WriteString("(")
	for i, a := range c.Axes {
		if i > 0 {
			sb.WriteString(",")
		}
		kind := "s"
		if a.Reduce {
			kind = "r"
		}
		fmt.Fprintf(&sb, "%s:%d:%s", a.Name, a.Extent, kind)
	}
	sb.WriteString(") ")
	for _, b := range c.Inputs {
		fmt.Fprintf(&sb, "%s%v ", b.Name, b.Shape)
	}
	fmt.Fprintf(&sb, "-> %s%v = %s", c.Output.Name, c.Output.Shape, ir.ExprString(c.Value))
	return sb.String()
}

// Func wraps body in a lowered function with this computation's signature
func (c *ComputeDef) Func(name string, body ir.Stmt) *ir.LoweredFunc {
	args := make([]ir.Arg, 0, len(c.Inputs)+1)
	for _, b := range c.Inputs {
		args = append(args, ir.Arg{Buffer: ir.Buffer{Name: b.Name, Shape: append([]int(nil), b.Shape...)}})
	}
	args = append(args, ir.Arg{
		Buffer: ir.Buffer{Name: c.Output.Name, Shape: append([]int(nil), c.Output.Shape...)},
		Output: true,
	})
	return &ir.LoweredFunc{Name: name, Args: args, ReturnType: "void", Body: body}
}

func (c *ComputeDef) axisIndex(name string) int {
	for i, a := range c.Axes {
		if a.Name == name {
			return i
		}
	}
	return -1
}
