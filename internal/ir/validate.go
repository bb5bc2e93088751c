package ir

import (
	"errors"
	"fmt"
)

// ValidationKind classifies a well-formedness failure
type ValidationKind string

const (
	KindOutOfRange     ValidationKind = "out-of-range"
	KindBadBounds      ValidationKind = "bad-bounds"
	KindDanglingVar    ValidationKind = "dangling-var"
	KindDanglingBuffer ValidationKind = "dangling-buffer"
	KindRankMismatch   ValidationKind = "rank-mismatch"
	KindRedefinedVar   ValidationKind = "redefined-var"
	KindUnsupported    ValidationKind = "unsupported"
)

// ValidationError is returned by Validate
type ValidationError struct {
	Kind   ValidationKind
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid function (%s): %s", e.Kind, e.Detail)
}

// IsValidationError reports whether err is a *ValidationError, optionally of one of kinds
func IsValidationError(err error, kinds ...ValidationKind) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if ve.Kind == k {
			return true
		}
	}
	return false
}

// Validate checks that f is well formed: every loop has a positive extent and a
// fresh variable, every referenced variable is bound, every buffer is an argument,
// and every access stays inside its buffer for all iterations.
func Validate(f *LoweredFunc) error {
	if f == nil || f.Body == nil {
		return &ValidationError{Kind: KindBadBounds, Detail: "function has no body"}
	}
	seen := make(map[string]struct{}, len(f.Args))
	for _, a := range f.Args {
		if _, dup := seen[a.Buffer.Name]; dup {
			return &ValidationError{Kind: KindDanglingBuffer, Detail: fmt.Sprintf("argument %q declared twice", a.Buffer.Name)}
		}
		seen[a.Buffer.Name] = struct{}{}
		for _, d := range a.Buffer.Shape {
			if d <= 0 {
				return &ValidationError{Kind: KindBadBounds, Detail: fmt.Sprintf("argument %q has non-positive dimension", a.Buffer.Name)}
			}
		}
	}
	v := &validator{fn: f, env: make(map[string]Interval)}
	return v.stmt(f.Body)
}

type validator struct {
	fn  *LoweredFunc
	env map[string]Interval
}

func (v *validator) stmt(s Stmt) error {
	switch n := s.(type) {
	case *For:
		if n.Extent < 1 || n.Min < 0 {
			return &ValidationError{Kind: KindBadBounds, Detail: fmt.Sprintf("loop %s has range [%d, %d)", n.Var, n.Min, n.Min+n.Extent)}
		}
		if n.Kind == ForVectorized && n.Extent < 2 {
			return &ValidationError{Kind: KindBadBounds, Detail: fmt.Sprintf("vectorized loop %s has extent %d", n.Var, n.Extent)}
		}
		if _, bound := v.env[n.Var]; bound {
			return &ValidationError{Kind: KindRedefinedVar, Detail: fmt.Sprintf("loop variable %s shadows an enclosing loop", n.Var)}
		}
		if n.Body == nil {
			return &ValidationError{Kind: KindBadBounds, Detail: fmt.Sprintf("loop %s has no body", n.Var)}
		}
		v.env[n.Var] = Interval{n.Min, n.Min + n.Extent - 1}
		err := v.stmt(n.Body)
		delete(v.env, n.Var)
		return err
	case *Block:
		for _, c := range n.Stmts {
			if err := v.stmt(c); err != nil {
				return err
			}
		}
		return nil
	case *Store:
		if err := v.access(n.Buffer, n.Indices); err != nil {
			return err
		}
		return v.value(n.Value)
	case nil:
		return &ValidationError{Kind: KindBadBounds, Detail: "nil statement"}
	default:
		return &ValidationError{Kind: KindUnsupported, Detail: fmt.Sprintf("statement %T", s)}
	}
}

func (v *validator) value(e Expr) error {
	switch n := e.(type) {
	case *IntImm, *FloatImm:
		return nil
	case *Var:
		if _, ok := v.env[n.Name]; !ok {
			return &ValidationError{Kind: KindDanglingVar, Detail: fmt.Sprintf("variable %s is not bound", n.Name)}
		}
		return nil
	case *Binary:
		if err := v.value(n.A); err != nil {
			return err
		}
		return v.value(n.B)
	case *Load:
		return v.access(n.Buffer, n.Indices)
	default:
		return &ValidationError{Kind: KindUnsupported, Detail: fmt.Sprintf("expression %T", e)}
	}
}

func (v *validator) access(name string, indices []Expr) error {
	buf, ok := v.fn.Buffer(name)
	if !ok {
		return &ValidationError{Kind: KindDanglingBuffer, Detail: fmt.Sprintf("buffer %s is not an argument", name)}
	}
	if len(indices) != len(buf.Shape) {
		return &ValidationError{Kind: KindRankMismatch, Detail: fmt.Sprintf("%s has rank %d but is indexed with %d indices", name, len(buf.Shape), len(indices))}
	}
	for d, idx := range indices {
		iv, err := Bounds(idx, v.env)
		if err != nil {
			var ub *unboundVarError
			if errors.As(err, &ub) {
				return &ValidationError{Kind: KindDanglingVar, Detail: err.Error()}
			}
			return &ValidationError{Kind: KindUnsupported, Detail: err.Error()}
		}
		if iv.Min < 0 || iv.Max >= buf.Shape[d] {
			return &ValidationError{
				Kind:   KindOutOfRange,
				Detail: fmt.Sprintf("%s dimension %d indexed over [%d, %d] but extent is %d", name, d, iv.Min, iv.Max, buf.Shape[d]),
			}
		}
	}
	return nil
}
