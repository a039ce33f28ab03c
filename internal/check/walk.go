package check

import "github.com/bmb-lang/bmbc/internal/typedast"

// walk visits a typed expression tree pre-order. The callback returns
// false to skip a node's children.
func walk(x typedast.Expr, fn func(typedast.Expr) bool) {
	if x == nil || !fn(x) {
		return
	}
	switch v := x.(type) {
	case *typedast.BinOp:
		walk(v.Left, fn)
		walk(v.Right, fn)
	case *typedast.UnaryOp:
		walk(v.Expr, fn)
	case *typedast.Cast:
		walk(v.Expr, fn)
	case *typedast.Old:
		walk(v.Inner, fn)
	case *typedast.Call:
		for _, a := range v.Args {
			walk(a, fn)
		}
	case *typedast.CallIndirect:
		walk(v.Func, fn)
		for _, a := range v.Args {
			walk(a, fn)
		}
	case *typedast.MethodCall:
		walk(v.Receiver, fn)
		for _, a := range v.Args {
			walk(a, fn)
		}
	case *typedast.Tuple:
		for _, el := range v.Elems {
			walk(el, fn)
		}
	case *typedast.ArrayLit:
		for _, el := range v.Elems {
			walk(el, fn)
		}
	case *typedast.StructLit:
		for _, f := range v.Fields {
			walk(f.Value, fn)
		}
	case *typedast.EnumCtor:
		for _, a := range v.Args {
			walk(a, fn)
		}
	case *typedast.FieldAccess:
		walk(v.Expr, fn)
	case *typedast.Index:
		walk(v.Expr, fn)
		walk(v.Index, fn)
	case *typedast.If:
		walk(v.Cond, fn)
		walk(v.Then, fn)
		walk(v.Else, fn)
	case *typedast.Match:
		walk(v.Scrutinee, fn)
		for _, arm := range v.Arms {
			walk(arm.Guard, fn)
			walk(arm.Body, fn)
		}
	case *typedast.While:
		walk(v.Cond, fn)
		walk(v.Body, fn)
	case *typedast.For:
		walk(v.Iter, fn)
		walk(v.Body, fn)
	case *typedast.Loop:
		walk(v.Body, fn)
	case *typedast.Break:
		walk(v.Value, fn)
	case *typedast.Return:
		walk(v.Value, fn)
	case *typedast.Block:
		for _, s := range v.Stmts {
			walk(s, fn)
		}
		walk(v.Trailing, fn)
	case *typedast.Let:
		walk(v.Value, fn)
	case *typedast.Assign:
		walk(v.Target, fn)
		walk(v.Value, fn)
	case *typedast.Lambda:
		walk(v.Body, fn)
	case *typedast.RangeLit:
		walk(v.Lo, fn)
		walk(v.Hi, fn)
	}
}
