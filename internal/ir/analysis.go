package ir

import "fmt"

// Interval is a closed integer range [Min, Max]
type Interval struct {
	Min, Max int
}

// Bounds computes the value range of an integer index expression given the ranges of
// the variables it references. Unknown variables and non-integer nodes are errors.
func Bounds(e Expr, env map[string]Interval) (Interval, error) {
	switch n := e.(type) {
	case *IntImm:
		return Interval{n.Value, n.Value}, nil
	case *Var:
		iv, ok := env[n.Name]
		if !ok {
			return Interval{}, &unboundVarError{name: n.Name}
		}
		return iv, nil
	case *Binary:
		a, err := Bounds(n.A, env)
		if err != nil {
			return Interval{}, err
		}
		b, err := Bounds(n.B, env)
		if err != nil {
			return Interval{}, err
		}
		return combine(n.Op, a, b)
	default:
		return Interval{}, fmt.Errorf("unsupported index expression %s", ExprString(e))
	}
}

type unboundVarError struct {
	name string
}

func (e *unboundVarError) Error() string {
	return fmt.Sprintf("variable %q is not bound by an enclosing loop", e.name)
}

func combine(op BinaryOp, a, b Interval) (Interval, error) {
	switch op {
	case OpAdd:
		return Interval{a.Min + b.Min, a.Max + b.Max}, nil
	case OpSub:
		return Interval{a.Min - b.Max, a.Max - b.Min}, nil
	case OpMul:
		c := []int{a.Min * b.Min, a.Min * b.Max, a.Max * b.Min, a.Max * b.Max}
		lo, hi := c[0], c[0]
		for _, v := range c[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		return Interval{lo, hi}, nil
	case OpDiv:
		if b.Min <= 0 {
			return Interval{}, fmt.Errorf("division by non-positive range [%d, %d]", b.Min, b.Max)
		}
		if a.Min < 0 {
			return Interval{}, fmt.Errorf("division of possibly negative range [%d, %d]", a.Min, a.Max)
		}
		return Interval{a.Min / b.Max, a.Max / b.Min}, nil
	case OpMod:
		if b.Min <= 0 || a.Min < 0 {
			return Interval{}, fmt.Errorf("modulo on unsupported ranges")
		}
		return Interval{0, min(a.Max, b.Max-1)}, nil
	case OpMin:
		return Interval{min(a.Min, b.Min), min(a.Max, b.Max)}, nil
	case OpMax:
		return Interval{max(a.Min, b.Min), max(a.Max, b.Max)}, nil
	default:
		return Interval{}, fmt.Errorf("unknown operator %v", op)
	}
}

// Affine decomposes an index expression into sum(coeff[v] * v) + offset.
// ok is false when the expression is not affine in its variables.
func Affine(e Expr) (coeffs map[string]int, offset int, ok bool) {
	coeffs = make(map[string]int)
	offset, ok = affineInto(e, 1, coeffs)
	return coeffs, offset, ok
}

func affineInto(e Expr, scale int, coeffs map[string]int) (int, bool) {
	switch n := e.(type) {
	case *IntImm:
		return scale * n.Value, true
	case *Var:
		coeffs[n.Name] += scale
		return 0, true
	case *Binary:
		switch n.Op {
		case OpAdd:
			a, ok := affineInto(n.A, scale, coeffs)
			if !ok {
				return 0, false
			}
			b, ok := affineInto(n.B, scale, coeffs)
			return a + b, ok
		case OpSub:
			a, ok := affineInto(n.A, scale, coeffs)
			if !ok {
				return 0, false
			}
			b, ok := affineInto(n.B, -scale, coeffs)
			return a + b, ok
		case OpMul:
			if c, isConst := n.A.(*IntImm); isConst {
				return affineInto(n.B, scale*c.Value, coeffs)
			}
			if c, isConst := n.B.(*IntImm); isConst {
				return affineInto(n.A, scale*c.Value, coeffs)
			}
		}
	}
	return 0, false
}

// Strides returns the row-major element strides of a shape
func Strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// FlatStride returns how far, in elements, the flattened address of an access moves
// when loop variable v increases by one. ok is false for non-affine indices.
func FlatStride(indices []Expr, shape []int, v string) (stride int, ok bool) {
	strides := Strides(shape)
	for d, idx := range indices {
		coeffs, _, affine := Affine(idx)
		if !affine {
			return 0, false
		}
		stride += coeffs[v] * strides[d]
	}
	return stride, true
}
