package ir

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled is returned by Program.Run when the context ends mid-execution
var ErrCancelled = errors.New("execution cancelled")

// Program is a compiled, executable form of a LoweredFunc
type Program struct {
	fn      *LoweredFunc
	run     func(m *machine)
	nslots  int
	bufSlot map[string]int
}

type machine struct {
	slots []int
	bufs  [][]float32
	done  <-chan struct{}
	stop  bool
}

func (m *machine) cancelled() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		m.stop = true
		return true
	default:
		return false
	}
}

// Compile validates f and compiles it into a Program
func Compile(f *LoweredFunc) (*Program, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}
	c := &compiler{fn: f, slots: make(map[string]int), bufSlot: make(map[string]int, len(f.Args))}
	for i, a := range f.Args {
		c.bufSlot[a.Buffer.Name] = i
	}
	run, err := c.stmt(f.Body, 0)
	if err != nil {
		return nil, err
	}
	return &Program{fn: f, run: run, nslots: c.maxSlots, bufSlot: c.bufSlot}, nil
}

// Func returns the function the program was compiled from
func (p *Program) Func() *LoweredFunc {
	return p.fn
}

// NewBuffers allocates zeroed storage for every argument
func (p *Program) NewBuffers() map[string][]float32 {
	out := make(map[string][]float32, len(p.fn.Args))
	for _, a := range p.fn.Args {
		out[a.Buffer.Name] = make([]float32, a.Buffer.Len())
	}
	return out
}

// Run executes the program over the given buffers. Every argument must be present
// with exactly its element count. Cancellation is observed between iterations of
// outermost loops.
func (p *Program) Run(ctx context.Context, buffers map[string][]float32) (err error) {
	m := &machine{slots: make([]int, p.nslots), bufs: make([][]float32, len(p.fn.Args))}
	for _, a := range p.fn.Args {
		data, ok := buffers[a.Buffer.Name]
		if !ok {
			return fmt.Errorf("missing buffer %s", a.Buffer.Name)
		}
		if len(data) != a.Buffer.Len() {
			return fmt.Errorf("buffer %s has %d elements, want %d", a.Buffer.Name, len(data), a.Buffer.Len())
		}
		m.bufs[p.bufSlot[a.Buffer.Name]] = data
	}
	if ctx != nil {
		m.done = ctx.Done()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime fault in %s: %v", p.fn.Name, r)
		}
	}()
	p.run(m)
	if m.stop {
		return ErrCancelled
	}
	return nil
}

type compiler struct {
	fn       *LoweredFunc
	slots    map[string]int
	depth    int
	maxSlots int
	bufSlot  map[string]int
}

func (c *compiler) stmt(s Stmt, loopDepth int) (func(*machine), error) {
	switch n := s.(type) {
	case *For:
		slot := c.depth
		c.slots[n.Var] = slot
		c.depth++
		c.maxSlots = max(c.maxSlots, c.depth)
		body, err := c.stmt(n.Body, loopDepth+1)
		c.depth--
		delete(c.slots, n.Var)
		if err != nil {
			return nil, err
		}
		lo, hi := n.Min, n.Min+n.Extent
		if loopDepth == 0 {
			return func(m *machine) {
				for i := lo; i < hi; i++ {
					if m.cancelled() {
						return
					}
					m.slots[slot] = i
					body(m)
				}
			}, nil
		}
		return func(m *machine) {
			for i := lo; i < hi; i++ {
				m.slots[slot] = i
				body(m)
			}
		}, nil
	case *Block:
		parts := make([]func(*machine), 0, len(n.Stmts))
		for _, st := range n.Stmts {
			f, err := c.stmt(st, loopDepth)
			if err != nil {
				return nil, err
			}
			parts = append(parts, f)
		}
		return func(m *machine) {
			for _, f := range parts {
				if m.stop {
					return
				}
				f(m)
			}
		}, nil
	case *Store:
		off, b, err := c.offset(n.Buffer, n.Indices)
		if err != nil {
			return nil, err
		}
		val, err := c.floatExpr(n.Value)
		if err != nil {
			return nil, err
		}
		return func(m *machine) { m.bufs[b][off(m)] = val(m) }, nil
	default:
		return nil, fmt.Errorf("cannot compile statement %T", s)
	}
}

func (c *compiler) offset(name string, indices []Expr) (func(*machine) int, int, error) {
	buf, _ := c.fn.Buffer(name)
	strides := Strides(buf.Shape)
	parts := make([]func(*machine) int, len(indices))
	for d, idx := range indices {
		f, err := c.intExpr(idx)
		if err != nil {
			return nil, 0, err
		}
		parts[d] = f
	}
	b := c.bufSlot[name]
	switch len(parts) {
	case 1:
		p0 := parts[0]
		return p0, b, nil
	case 2:
		p0, p1, s0 := parts[0], parts[1], strides[0]
		return func(m *machine) int { return p0(m)*s0 + p1(m) }, b, nil
	}
	return func(m *machine) int {
		o := 0
		for d, p := range parts {
			o += p(m) * strides[d]
		}
		return o
	}, b, nil
}

func (c *compiler) intExpr(e Expr) (func(*machine) int, error) {
	switch n := e.(type) {
	case *IntImm:
		v := n.Value
		return func(*machine) int { return v }, nil
	case *Var:
		slot, ok := c.slots[n.Name]
		if !ok {
			return nil, fmt.Errorf("unbound variable %s", n.Name)
		}
		return func(m *machine) int { return m.slots[slot] }, nil
	case *Binary:
		a, err := c.intExpr(n.A)
		if err != nil {
			return nil, err
		}
		b, err := c.intExpr(n.B)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpAdd:
			return func(m *machine) int { return a(m) + b(m) }, nil
		case OpSub:
			return func(m *machine) int { return a(m) - b(m) }, nil
		case OpMul:
			return func(m *machine) int { return a(m) * b(m) }, nil
		case OpDiv:
			return func(m *machine) int { return a(m) / b(m) }, nil
		case OpMod:
			return func(m *machine) int { return a(m) % b(m) }, nil
		case OpMin:
			return func(m *machine) int { return min(a(m), b(m)) }, nil
		case OpMax:
			return func(m *machine) int { return max(a(m), b(m)) }, nil
		}
		return nil, fmt.Errorf("unknown operator %v", n.Op)
	default:
		return nil, fmt.Errorf("expression %s is not an integer index", ExprString(e))
	}
}

func (c *compiler) floatExpr(e Expr) (func(*machine) float32, error) {
	switch n := e.(type) {
	case *FloatImm:
		v := n.Value
		return func(*machine) float32 { return v }, nil
	case *IntImm:
		v := float32(n.Value)
		return func(*machine) float32 { return v }, nil
	case *Var:
		iv, err := c.intExpr(n)
		if err != nil {
			return nil, err
		}
		return func(m *machine) float32 { return float32(iv(m)) }, nil
	case *Load:
		off, b, err := c.offset(n.Buffer, n.Indices)
		if err != nil {
			return nil, err
		}
		return func(m *machine) float32 { return m.bufs[b][off(m)] }, nil
	case *Binary:
		a, err := c.floatExpr(n.A)
		if err != nil {
			return nil, err
		}
		b, err := c.floatExpr(n.B)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpAdd:
			return func(m *machine) float32 { return a(m) + b(m) }, nil
		case OpSub:
			return func(m *machine) float32 { return a(m) - b(m) }, nil
		case OpMul:
			return func(m *machine) float32 { return a(m) * b(m) }, nil
		case OpDiv:
			return func(m *machine) float32 { return a(m) / b(m) }, nil
		case OpMin:
			return func(m *machine) float32 { return min(a(m), b(m)) }, nil
		case OpMax:
			return func(m *machine) float32 { return max(a(m), b(m)) }, nil
		}
		return nil, fmt.Errorf("operator %v is not defined on float values", n.Op)
	default:
		return nil, fmt.Errorf("cannot compile expression %T", e)
	}
}
