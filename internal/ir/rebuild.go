package ir

// FuncWithUpdatedBody returns a new function with the same name, arguments and
// return type as old but with body replaced. The original is not modified.
func FuncWithUpdatedBody(old *LoweredFunc, body Stmt) *LoweredFunc {
	args := make([]Arg, len(old.Args))
	for i, a := range old.Args {
		shape := make([]int, len(a.Buffer.Shape))
		copy(shape, a.Buffer.Shape)
		args[i] = Arg{Buffer: Buffer{Name: a.Buffer.Name, Shape: shape}, Output: a.Output}
	}
	return &LoweredFunc{
		Name:       old.Name,
		Args:       args,
		ReturnType: old.ReturnType,
		Body:       body,
	}
}

// SameSignature reports whether a and b agree on name, argument list and return type
func SameSignature(a, b *LoweredFunc) bool {
	if a.Name != b.Name || a.ReturnType != b.ReturnType || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		x, y := a.Args[i], b.Args[i]
		if x.Buffer.Name != y.Buffer.Name || x.Output != y.Output || len(x.Buffer.Shape) != len(y.Buffer.Shape) {
			return false
		}
		for d := range x.Buffer.Shape {
			if x.Buffer.Shape[d] != y.Buffer.Shape[d] {
				return false
			}
		}
	}
	return true
}
