package schedule

import (
	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

type splitLoop struct {
	name   string
	extent int
}

// Lower applies s to c and returns the scheduled loop-nest body. Computations with a
// reduction get an initialization nest in front of the compute nest. Loops whose
// extent is 1 are elided.
//
// Lower only fails with ErrInvalidSchedule. A body it returns may still index out of
// range (tile factors that do not divide the extent); ir.Validate reports those.
func Lower(c *ComputeDef, s Schedule) (ir.Stmt, error) {
	if err := s.Check(c); err != nil {
		return nil, err
	}

	loops := make(map[LoopID]splitLoop, 2*len(c.Axes))
	index := make(map[string]ir.Expr, len(c.Axes))
	for a, ax := range c.Axes {
		t := s.Tiles[a]
		outer := utils.CeilDiv(ax.Extent, t)
		switch {
		case outer == 1 && t == 1:
			index[ax.Name] = ir.Int(0)
		case outer == 1:
			loops[LoopID{a, Inner}] = splitLoop{ax.Name, t}
			index[ax.Name] = ir.V(ax.Name)
		case t == 1:
			loops[LoopID{a, Outer}] = splitLoop{ax.Name, outer}
			index[ax.Name] = ir.V(ax.Name)
		default:
			o, in := ax.Name+"_o", ax.Name+"_i"
			loops[LoopID{a, Outer}] = splitLoop{o, outer}
			loops[LoopID{a, Inner}] = splitLoop{in, t}
			index[ax.Name] = ir.Add(ir.Mul(ir.V(o), ir.Int(t)), ir.V(in))
		}
	}

	outIdx := make([]ir.Expr, len(c.OutputAxes))
	for d, name := range c.OutputAxes {
		outIdx[d] = index[name]
	}
	value := substitute(c.Value, index)
	if c.HasReduction() {
		value = ir.Add(ir.Ld(c.Output.Name, outIdx...), value)
	}

	nest := make([]*ir.For, 0, len(loops))
	for _, id := range s.Order {
		if l, ok := loops[id]; ok {
			nest = append(nest, &ir.For{Var: l.name, Extent: l.extent})
		}
	}
	annotate(nest, s)

	var body ir.Stmt = &ir.Store{Buffer: c.Output.Name, Indices: outIdx, Value: value}
	for i := len(nest) - 1; i >= 0; i-- {
		nest[i].Body = body
		body = nest[i]
	}

	if !c.HasReduction() {
		return body, nil
	}
	return &ir.Block{Stmts: []ir.Stmt{initNest(c), body}}, nil
}

// LowerFunc lowers s and wraps the body in a function named name
func LowerFunc(c *ComputeDef, name string, s Schedule) (*ir.LoweredFunc, error) {
	body, err := Lower(c, s)
	if err != nil {
		return nil, err
	}
	return c.Func(name, body), nil
}

// annotate marks the innermost loop vectorized and unrolls the innermost loops whose
// combined trip count stays within s.Unroll.
func annotate(nest []*ir.For, s Schedule) {
	if len(nest) == 0 {
		return
	}
	last := nest[len(nest)-1]
	if s.Vectorize && last.Extent >= 2 {
		last.Kind = ir.ForVectorized
	}
	trips := 1
	for i := len(nest) - 1; i >= 0; i-- {
		trips *= nest[i].Extent
		if trips > s.Unroll {
			break
		}
		if nest[i].Kind == ir.ForSerial {
			nest[i].Kind = ir.ForUnrolled
		}
	}
}

func initNest(c *ComputeDef) ir.Stmt {
	idx := make([]ir.Expr, len(c.OutputAxes))
	for d, name := range c.OutputAxes {
		idx[d] = ir.V(name)
	}
	var body ir.Stmt = &ir.Store{Buffer: c.Output.Name, Indices: idx, Value: ir.Float(c.Init)}
	for d := len(c.OutputAxes) - 1; d >= 0; d-- {
		name := c.OutputAxes[d]
		body = &ir.For{Var: name, Extent: c.Axes[c.axisIndex(name)].Extent, Body: body}
	}
	return body
}

func substitute(e ir.Expr, index map[string]ir.Expr) ir.Expr {
	switch n := e.(type) {
	case *ir.Var:
		if r, ok := index[n.Name]; ok {
			return r
		}
		return n
	case *ir.Binary:
		return &ir.Binary{Op: n.Op, A: substitute(n.A, index), B: substitute(n.B, index)}
	case *ir.Load:
		idx := make([]ir.Expr, len(n.Indices))
		for i, x := range n.Indices {
			idx[i] = substitute(x, index)
		}
		return &ir.Load{Buffer: n.Buffer, Indices: idx}
	default:
		return e
	}
}
