package check

import (
	"fmt"
	"strings"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/typedast"
)

// warningPasses runs the non-fatal hygiene analyses (pass 8): missing
// postconditions, tautological and duplicate contracts, semantically
// equivalent function bodies, and duplicate names.
func (c *Checker) warningPasses() {
	c.warnDuplicateNames()
	byPrint := map[string][]*typedast.Func{}
	for _, f := range c.out.Funcs {
		c.warnContracts(f)
		if f.Body != nil && f.Name != "" {
			key := f.Result.String() + "/" + fingerprint(f.Body)
			byPrint[key] = append(byPrint[key], f)
		}
	}
	c.warnEquivalentBodies(byPrint)
}

func (c *Checker) warnContracts(f *typedast.Func) {
	hasPost := false
	seen := map[string]bool{}
	for _, ct := range f.Contracts {
		if ct.Kind == ast.Postcondition {
			hasPost = true
		}
		if lit, ok := ct.Pred.(*typedast.Lit); ok {
			if b, isBool := lit.Value.(bool); isBool && b {
				c.rep.Add(diag.New(diag.CTR003, "checker",
					fmt.Sprintf("%s contract on %s is always true", ct.Kind, f.Name), ct.Sp))
			}
		}
		key := fmt.Sprintf("%d/%s", ct.Kind, fingerprint(ct.Pred))
		if seen[key] {
			c.rep.Add(diag.New(diag.CTR002, "checker",
				fmt.Sprintf("duplicate %s contract on %s", ct.Kind, f.Name), ct.Sp))
		}
		seen[key] = true
	}
	if !hasPost && f.Body != nil && !f.IsExtern && nonTrivial(f.Body) {
		c.rep.Add(diag.New(diag.CTR004, "checker",
			fmt.Sprintf("function %s is non-trivial but declares no postcondition", f.Name), f.Sp))
	}
}

// nonTrivial marks a body worth a postcondition: anything with control
// flow or more than a handful of operations.
func nonTrivial(body typedast.Expr) bool {
	nodes := 0
	branchy := false
	walk(body, func(x typedast.Expr) bool {
		nodes++
		switch x.(type) {
		case *typedast.If, *typedast.Match, *typedast.While, *typedast.For, *typedast.Loop:
			branchy = true
		}
		return true
	})
	return branchy || nodes > 8
}

func (c *Checker) warnEquivalentBodies(byPrint map[string][]*typedast.Func) {
	for _, group := range byPrint {
		if len(group) < 2 {
			continue
		}
		first := group[0]
		for _, dup := range group[1:] {
			c.rep.Add(diag.New(diag.CTR005, "checker",
				fmt.Sprintf("function %s is structurally identical to %s", dup.Name, first.Name), dup.Sp).
				WithNote("first defined at " + first.Sp.String()))
		}
	}
}

// warnDuplicateNames reports same-module name collisions; the resolver
// already arranged for the first definition to win.
func (c *Checker) warnDuplicateNames() {
	type key struct{ module, name string }
	seen := map[key]*resolve.Def{}
	for _, d := range c.prog.Defs {
		if d.Name == "" || d.Kind == resolve.DefImpl {
			continue
		}
		k := key{d.Module, d.Name}
		if first, dup := seen[k]; dup && first.Kind == d.Kind {
			sp := defSpan(d)
			c.rep.Add(diag.New(diag.CTR006, "checker",
				fmt.Sprintf("%s %q is defined more than once; the first definition wins", d.Kind, d.Name), sp))
			continue
		}
		if _, dup := seen[k]; !dup {
			seen[k] = d
		}
	}
}

func defSpan(d *resolve.Def) source.Span {
	switch {
	case d.Func != nil:
		return d.Func.Span()
	case d.Struct != nil:
		return d.Struct.Span()
	case d.Enum != nil:
		return d.Enum.Span()
	case d.Trait != nil:
		return d.Trait.Span()
	case d.Alias != nil:
		return d.Alias.Span()
	case d.Extern != nil:
		return d.Extern.Span()
	}
	return source.Span{}
}

// fingerprint renders a typed expression with spans erased, for
// structural-equivalence comparison.
func fingerprint(x typedast.Expr) string {
	var sb strings.Builder
	fp(&sb, x)
	return sb.String()
}

func fp(sb *strings.Builder, x typedast.Expr) {
	if x == nil {
		sb.WriteString("_")
		return
	}
	switch v := x.(type) {
	case *typedast.Lit:
		fmt.Fprintf(sb, "lit(%v)", v.Value)
	case *typedast.Var:
		fmt.Fprintf(sb, "var(%s)", v.Name)
	case *typedast.BinOp:
		fmt.Fprintf(sb, "(%s ", v.Op)
		fp(sb, v.Left)
		sb.WriteByte(' ')
		fp(sb, v.Right)
		sb.WriteByte(')')
	case *typedast.UnaryOp:
		fmt.Fprintf(sb, "(%s ", v.Op)
		fp(sb, v.Expr)
		sb.WriteByte(')')
	case *typedast.Call:
		fmt.Fprintf(sb, "call(%s", v.Name)
		for _, a := range v.Args {
			sb.WriteByte(' ')
			fp(sb, a)
		}
		sb.WriteByte(')')
	case *typedast.MethodCall:
		fmt.Fprintf(sb, "mcall(%s ", v.Method)
		fp(sb, v.Receiver)
		for _, a := range v.Args {
			sb.WriteByte(' ')
			fp(sb, a)
		}
		sb.WriteByte(')')
	case *typedast.FieldAccess:
		fp(sb, v.Expr)
		fmt.Fprintf(sb, ".%s", v.Field)
	case *typedast.Index:
		fp(sb, v.Expr)
		sb.WriteByte('[')
		fp(sb, v.Index)
		sb.WriteByte(']')
	case *typedast.If:
		sb.WriteString("if(")
		fp(sb, v.Cond)
		sb.WriteByte(' ')
		fp(sb, v.Then)
		sb.WriteByte(' ')
		fp(sb, v.Else)
		sb.WriteByte(')')
	case *typedast.Block:
		sb.WriteString("{")
		for _, s := range v.Stmts {
			fp(sb, s)
			sb.WriteByte(';')
		}
		fp(sb, v.Trailing)
		sb.WriteString("}")
	case *typedast.Return:
		sb.WriteString("ret(")
		fp(sb, v.Value)
		sb.WriteByte(')')
	case *typedast.Let:
		sb.WriteString("let(")
		fp(sb, v.Value)
		sb.WriteByte(')')
	case *typedast.Assign:
		sb.WriteString("set(")
		fp(sb, v.Target)
		sb.WriteByte(' ')
		fp(sb, v.Value)
		sb.WriteByte(')')
	case *typedast.While:
		sb.WriteString("while(")
		fp(sb, v.Cond)
		sb.WriteByte(' ')
		fp(sb, v.Body)
		sb.WriteByte(')')
	default:
		fmt.Fprintf(sb, "%T", x)
	}
}
