// Package ir is the minimal lowered loop-nest representation the tuning core works on.
//
// A LoweredFunc has a stable identity (name, ordered arguments, return type) and a
// replaceable body made of For, Store and Block statements. Index expressions are
// integer; stored values are float32.
//
// Main entry points:
//   - FuncWithUpdatedBody: rebuild a function around a new body, keeping its signature
//   - Validate: structural well-formedness check used to prune candidates
//   - Compile: turn a function into an executable Program for measurement
package ir

import "fmt"

// BinaryOp is the operator of a Binary expression
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMin
	OpMax
)

func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Expr is an expression node
type Expr interface {
	exprNode()
}

// Var references a loop variable
type Var struct {
	Name string
}

// IntImm is an integer constant
type IntImm struct {
	Value int
}

// FloatImm is a float32 constant
type FloatImm struct {
	Value float32
}

// Binary applies Op to A and B
type Binary struct {
	Op   BinaryOp
	A, B Expr
}

// Load reads one element of a buffer
type Load struct {
	Buffer  string
	Indices []Expr
}

func (*Var) exprNode()      {}
func (*IntImm) exprNode()   {}
func (*FloatImm) exprNode() {}
func (*Binary) exprNode()   {}
func (*Load) exprNode()     {}

// ForKind annotates how a loop is meant to be code-generated
type ForKind int

const (
	ForSerial ForKind = iota
	ForVectorized
	ForUnrolled
)

func (k ForKind) String() string {
	switch k {
	case ForVectorized:
		return "vectorize"
	case ForUnrolled:
		return "unroll"
	default:
		return "serial"
	}
}

// Stmt is a statement node
type Stmt interface {
	stmtNode()
}

// For iterates Var over [Min, Min+Extent)
type For struct {
	Var    string
	Min    int
	Extent int
	Kind   ForKind
	Body   Stmt
}

// Store writes Value to one element of a buffer
type Store struct {
	Buffer  string
	Indices []Expr
	Value   Expr
}

// Block runs statements in order
type Block struct {
	Stmts []Stmt
}

func (*For) stmtNode()   {}
func (*Store) stmtNode() {}
func (*Block) stmtNode() {}

// Buffer is a dense row-major float32 tensor
type Buffer struct {
	Name  string
	Shape []int
}

// Len returns the number of elements in the buffer
func (b Buffer) Len() int {
	n := 1
	for _, d := range b.Shape {
		n *= d
	}
	return n
}

// Arg is one function argument
type Arg struct {
	Buffer Buffer
	Output bool
}

// LoweredFunc is a lowered function: signature plus body
type LoweredFunc struct {
	Name       string
	Args       []Arg
	ReturnType string
	Body       Stmt
}

// Buffer looks up an argument buffer by name
func (f *LoweredFunc) Buffer(name string) (Buffer, bool) {
	for _, a := range f.Args {
		if a.Buffer.Name == name {
			return a.Buffer, true
		}
	}
	return Buffer{}, false
}

// Outputs returns the names of output buffers
func (f *LoweredFunc) Outputs() []string {
	out := make([]string, 0, 1)
	for _, a := range f.Args {
		if a.Output {
			out = append(out, a.Buffer.Name)
		}
	}
	return out
}

// Constructors used by the lowering code and tests.

func V(name string) *Var                  { return &Var{Name: name} }
func Int(v int) *IntImm                   { return &IntImm{Value: v} }
func Float(v float32) *FloatImm           { return &FloatImm{Value: v} }
func Add(a, b Expr) *Binary               { return &Binary{Op: OpAdd, A: a, B: b} }
func Mul(a, b Expr) *Binary               { return &Binary{Op: OpMul, A: a, B: b} }
func Ld(buffer string, idx ...Expr) *Load { return &Load{Buffer: buffer, Indices: idx} }

// VisitStores calls fn for every Store in s with the loops enclosing it, outermost first.
// The loops slice is reused between calls; copy it to retain it.
func VisitStores(s Stmt, fn func(st *Store, loops []*For)) {
	var walk func(s Stmt, loops []*For)
	walk = func(s Stmt, loops []*For) {
		switch n := s.(type) {
		case *For:
			walk(n.Body, append(loops, n))
		case *Block:
			for _, c := range n.Stmts {
				walk(c, loops)
			}
		case *Store:
			fn(n, loops)
		}
	}
	walk(s, make([]*For, 0, 8))
}

// VisitLoads calls fn for every Load reachable from e
func VisitLoads(e Expr, fn func(*Load)) {
	switch n := e.(type) {
	case *Binary:
		VisitLoads(n.A, fn)
		VisitLoads(n.B, fn)
	case *Load:
		fn(n)
		for _, idx := range n.Indices {
			VisitLoads(idx, fn)
		}
	}
}

// CountOps counts arithmetic operators in e
func CountOps(e Expr) int {
	switch n := e.(type) {
	case *Binary:
		return 1 + CountOps(n.A) + CountOps(n.B)
	default:
		return 0
	}
}
