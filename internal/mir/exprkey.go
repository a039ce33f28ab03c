package mir

import (
	"fmt"
	"strings"

	"github.com/bmb-lang/bmbc/internal/typedast"
)

// ExprKey fingerprints a typed expression with spans erased. It keys
// old(·) snapshots: two textually identical pre-state readings share
// one entry snapshot.
func ExprKey(x typedast.Expr) string {
	var sb strings.Builder
	exprKey(&sb, x)
	return sb.String()
}

func exprKey(sb *strings.Builder, x typedast.Expr) {
	switch v := x.(type) {
	case nil:
		sb.WriteString("_")
	case *typedast.Lit:
		fmt.Fprintf(sb, "%v", v.Value)
	case *typedast.Var:
		sb.WriteString(v.Name)
	case *typedast.BinOp:
		sb.WriteByte('(')
		exprKey(sb, v.Left)
		sb.WriteString(v.Op)
		exprKey(sb, v.Right)
		sb.WriteByte(')')
	case *typedast.UnaryOp:
		sb.WriteString(v.Op)
		exprKey(sb, v.Expr)
	case *typedast.FieldAccess:
		exprKey(sb, v.Expr)
		sb.WriteByte('.')
		sb.WriteString(v.Field)
	case *typedast.Index:
		exprKey(sb, v.Expr)
		sb.WriteByte('[')
		exprKey(sb, v.Index)
		sb.WriteByte(']')
	case *typedast.Call:
		sb.WriteString(v.Name)
		sb.WriteByte('(')
		for i, a := range v.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			exprKey(sb, a)
		}
		sb.WriteByte(')')
	case *typedast.Old:
		sb.WriteString("old(")
		exprKey(sb, v.Inner)
		sb.WriteByte(')')
	default:
		fmt.Fprintf(sb, "%T", x)
	}
}

// walkTyped visits a typed expression pre-order; the callback returns
// false to skip children. Only the node kinds that can occur inside a
// contract predicate are traversed.
func walkTyped(x typedast.Expr, fn func(typedast.Expr) bool) {
	if x == nil || !fn(x) {
		return
	}
	switch v := x.(type) {
	case *typedast.BinOp:
		walkTyped(v.Left, fn)
		walkTyped(v.Right, fn)
	case *typedast.UnaryOp:
		walkTyped(v.Expr, fn)
	case *typedast.Old:
		walkTyped(v.Inner, fn)
	case *typedast.Call:
		for _, a := range v.Args {
			walkTyped(a, fn)
		}
	case *typedast.FieldAccess:
		walkTyped(v.Expr, fn)
	case *typedast.Index:
		walkTyped(v.Expr, fn)
		walkTyped(v.Index, fn)
	case *typedast.If:
		walkTyped(v.Cond, fn)
		walkTyped(v.Then, fn)
		walkTyped(v.Else, fn)
	}
}
