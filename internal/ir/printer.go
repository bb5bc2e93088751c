package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ExprString renders an expression in infix form
func ExprString(e Expr) string {
	switch n := e.(type) {
	case nil:
		return "<nil>"
	case *Var:
		return n.Name
	case *IntImm:
		return strconv.Itoa(n.Value)
	case *FloatImm:
		return strconv.FormatFloat(float64(n.Value), 'f', 5, 32) + "f"
	case *Binary:
		if n.Op == OpMin || n.Op == OpMax {
			return fmt.Sprintf("%s(%s, %s)", n.Op, ExprString(n.A), ExprString(n.B))
		}
		return fmt.Sprintf("(%s %s %s)", ExprString(n.A), n.Op, ExprString(n.B))
	case *Load:
		return n.Buffer + "[" + joinExprs(n.Indices) + "]"
	default:
		return fmt.Sprintf("<%T>", e)
	}
}

func joinExprs(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = ExprString(e)
	}
	return strings.Join(parts, ", ")
}

// StmtString renders a statement tree with two-space indentation
func StmtString(s Stmt) string {
	var sb strings.Builder
	writeStmt(&sb, s, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func writeStmt(sb *strings.Builder, s Stmt, depth int) {
	indent := strings.Repeat("  ", depth)
	switch n := s.(type) {
	case *For:
		fmt.Fprintf(sb, "%s%s for (%s, %d, %d)\n%s{\n", indent, n.Kind, n.Var, n.Min, n.Min+n.Extent, indent)
		writeStmt(sb, n.Body, depth+1)
		fmt.Fprintf(sb, "%s}\n", indent)
	case *Block:
		for _, c := range n.Stmts {
			writeStmt(sb, c, depth)
		}
	case *Store:
		fmt.Fprintf(sb, "%s%s[%s] = %s\n", indent, n.Buffer, joinExprs(n.Indices), ExprString(n.Value))
	case nil:
		fmt.Fprintf(sb, "%s<nil>\n", indent)
	}
}

// String renders the whole function
func (f *LoweredFunc) String() string {
	names := make([]string, len(f.Args))
	for i, a := range f.Args {
		names[i] = "_" + a.Buffer.Name
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "function %s (%s)\n{\n", f.Name, strings.Join(names, ", "))
	writeStmt(&sb, f.Body, 1)
	sb.WriteString("}")
	return sb.String()
}
