package check

import (
	"fmt"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// bindPattern is checkPattern for irrefutable positions (let, for,
// parameters): refutable pattern forms are rejected.
func (e *env) bindPattern(p ast.Pattern, scrutTy types.Type, mutable bool) typedast.Pattern {
	switch p.(type) {
	case *ast.LiteralPattern, *ast.RangePattern, *ast.EnumPattern, *ast.OrPattern:
		e.errorAt(diag.TYP006, p.Span(), "refutable pattern in a binding position")
	}
	return e.checkPatternWith(p, scrutTy, mutable)
}

// checkPattern elaborates a match-arm pattern against the scrutinee
// type and introduces its bindings into the current scope.
func (e *env) checkPattern(p ast.Pattern, scrutTy types.Type) typedast.Pattern {
	return e.checkPatternWith(p, scrutTy, false)
}

func (e *env) checkPatternWith(p ast.Pattern, scrutTy types.Type, mutable bool) typedast.Pattern {
	ty := types.Underlying(scrutTy)
	switch v := p.(type) {
	case *ast.WildcardPattern:
		return &typedast.WildcardPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}}

	case *ast.BindPattern:
		e.bind(v.Name, scrutTy, mutable)
		return &typedast.BindPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}, Name: v.Name}

	case *ast.LiteralPattern:
		lit := e.synthLiteral(v.Lit, ty)
		e.coerce(lit, ty, v.Span())
		return &typedast.LitPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}, Kind: v.Lit.Kind, Value: v.Lit.Value}

	case *ast.TuplePattern:
		tup, ok := ty.(*types.Tuple)
		if !ok || len(tup.Elems) != len(v.Elems) {
			e.errorAt(diag.TYP001, v.Span(), "tuple pattern does not match %s", scrutTy)
			return &typedast.WildcardPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}}
		}
		tp := &typedast.TuplePat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}}
		for i, sub := range v.Elems {
			tp.Elems = append(tp.Elems, e.checkPatternWith(sub, tup.Elems[i], mutable))
		}
		return tp

	case *ast.StructPattern:
		n, ok := ty.(*types.Nominal)
		if !ok {
			e.errorAt(diag.TYP001, v.Span(), "struct pattern %q does not match %s", v.Name, scrutTy)
			return &typedast.WildcardPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}}
		}
		info := e.c.out.Structs[n.Def]
		if info == nil || info.Name != v.Name {
			e.errorAt(diag.TYP001, v.Span(), "pattern names %q but the scrutinee is %s", v.Name, scrutTy)
			return &typedast.WildcardPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}}
		}
		subst := nominalSubst(info.Generics, n.Args)
		sp := &typedast.StructPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}, Def: n.Def, Rest: v.Rest}
		for _, f := range v.Fields {
			idx := info.FieldIndex(f.Name)
			if idx < 0 {
				e.errorAt(diag.TYP001, f.Span(), "struct %s has no field %q", info.Name, f.Name)
				continue
			}
			fieldTy := info.Fields[idx].Ty.Substitute(subst)
			sp.Fields = append(sp.Fields, typedast.StructFieldPat{
				Name:    f.Name,
				Index:   idx,
				Pattern: e.checkPatternWith(f.Pattern, fieldTy, mutable),
			})
		}
		if !v.Rest && len(v.Fields) != len(info.Fields) {
			e.errorAt(diag.TYP001, v.Span(),
				"pattern for %s must name every field or end in `..`", info.Name)
		}
		return sp

	case *ast.EnumPattern:
		id, cnt := e.c.prog.LookupFrom(e.module, v.Enum)
		if v.Enum == types.OptionName {
			id, cnt = e.c.optionDef, 1
		}
		d := e.c.prog.Def(id)
		if cnt == 0 || d == nil || d.Kind != resolve.DefEnum {
			e.errorAt(diag.TYP001, v.Span(), "unknown enum %q in pattern", v.Enum)
			return &typedast.WildcardPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}}
		}
		info := e.c.out.Enums[id]
		variant := info.VariantByName(v.Variant)
		if variant == nil {
			e.errorAt(diag.TYP001, v.Span(), "enum %s has no variant %q", info.Name, v.Variant)
			return &typedast.WildcardPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}}
		}
		n, isNominal := ty.(*types.Nominal)
		if !isNominal || n.Def != id {
			e.errorAt(diag.TYP001, v.Span(), "pattern %s::%s does not match scrutinee %s", v.Enum, v.Variant, scrutTy)
			return &typedast.WildcardPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}}
		}
		if len(v.SubPats) != len(variant.Fields) {
			e.errorAt(diag.TYP001, v.Span(),
				"variant %s::%s carries %d payload values, pattern has %d",
				info.Name, v.Variant, len(variant.Fields), len(v.SubPats))
		}
		subst := nominalSubst(info.Generics, n.Args)
		ep := &typedast.EnumPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}, Def: id, Variant: v.Variant, Tag: variant.Tag}
		for i, sub := range v.SubPats {
			if i >= len(variant.Fields) {
				break
			}
			ep.SubPats = append(ep.SubPats, e.checkPatternWith(sub, variant.Fields[i].Substitute(subst), mutable))
		}
		return ep

	case *ast.RangePattern:
		if p, ok := ty.(*types.Prim); !ok || !p.IsInteger() {
			e.errorAt(diag.TYP001, v.Span(), "range pattern requires an integer scrutinee, found %s", scrutTy)
		}
		return &typedast.RangePat{
			Base: typedast.Base{Ty: scrutTy, Sp: v.Span()},
			Lo:   v.Lo.Value, Hi: v.Hi.Value, Inclusive: v.Inclusive,
		}

	case *ast.OrPattern:
		op := &typedast.OrPat{Base: typedast.Base{Ty: scrutTy, Sp: v.Span()}}
		for _, alt := range v.Alts {
			op.Alts = append(op.Alts, e.checkPatternWith(alt, scrutTy, mutable))
		}
		return op

	default:
		e.errorAt(diag.TYP001, p.Span(), "unsupported pattern")
		return &typedast.WildcardPat{Base: typedast.Base{Ty: scrutTy, Sp: p.Span()}}
	}
}

// checkExhaustive enforces match exhaustiveness: every reachable
// constructor covered or a wildcard present, with a warning for arms
// made unreachable by an earlier catch-all.
func (e *env) checkExhaustive(m *typedast.Match, src *ast.MatchExpr) {
	scrutTy := types.Underlying(m.Scrutinee.Type())

	catchAllAt := -1
	for i, arm := range m.Arms {
		if catchAllAt >= 0 {
			e.c.rep.Add(diag.New(diag.TYP007, "checker",
				"unreachable match arm: an earlier arm already matches everything", src.Arms[i].Span()))
			continue
		}
		if arm.Guard == nil && patIsCatchAll(arm.Pattern) {
			catchAllAt = i
		}
	}

	n, isEnum := scrutTy.(*types.Nominal)
	if isEnum {
		info := e.c.out.Enums[n.Def]
		if info != nil {
			covered := map[string]bool{}
			for _, arm := range m.Arms {
				if arm.Guard != nil {
					continue // a guarded arm covers nothing for certain
				}
				collectCoveredVariants(arm.Pattern, covered)
			}
			if catchAllAt < 0 {
				var missing []string
				for _, v := range info.Variants {
					if !covered[v.Name] {
						missing = append(missing, info.Name+"::"+v.Name)
					}
				}
				if len(missing) > 0 {
					rep := diag.New(diag.TYP006, "checker",
						fmt.Sprintf("match is not exhaustive: %d variant(s) not covered", len(missing)), src.Span())
					for _, miss := range missing {
						rep.WithNote("missing: " + miss)
					}
					e.c.rep.Add(rep)
				}
			} else if len(covered) == len(info.Variants) {
				e.c.rep.Add(diag.New(diag.TYP007, "checker",
					"wildcard arm is unreachable: every variant is already covered", src.Arms[catchAllAt].Span()))
			}
		}
		return
	}

	if p, ok := scrutTy.(*types.Prim); ok && p.Kind == types.Bool {
		coveredTrue, coveredFalse := false, false
		for _, arm := range m.Arms {
			if lp, ok := arm.Pattern.(*typedast.LitPat); ok && arm.Guard == nil {
				if b, ok := lp.Value.(bool); ok {
					if b {
						coveredTrue = true
					} else {
						coveredFalse = true
					}
				}
			}
		}
		if catchAllAt < 0 && (!coveredTrue || !coveredFalse) {
			e.c.rep.Add(diag.New(diag.TYP006, "checker", "match on bool must cover true and false", src.Span()))
		}
		return
	}

	// Open domains (integers, strings) require a catch-all.
	if catchAllAt < 0 {
		switch scrutTy.(type) {
		case *types.Prim, *types.Tuple:
			e.c.rep.Add(diag.New(diag.TYP006, "checker",
				"match over an open domain needs a wildcard or binding arm", src.Span()))
		}
	}
}

func patIsCatchAll(p typedast.Pattern) bool {
	switch v := p.(type) {
	case *typedast.WildcardPat, *typedast.BindPat:
		return true
	case *typedast.OrPat:
		for _, a := range v.Alts {
			if patIsCatchAll(a) {
				return true
			}
		}
	case *typedast.TuplePat:
		for _, sub := range v.Elems {
			if !patIsCatchAll(sub) {
				return false
			}
		}
		return true
	}
	return false
}

func collectCoveredVariants(p typedast.Pattern, covered map[string]bool) {
	switch v := p.(type) {
	case *typedast.EnumPat:
		all := true
		for _, sub := range v.SubPats {
			if !patIsCatchAll(sub) {
				all = false
			}
		}
		if all {
			covered[v.Variant] = true
		}
	case *typedast.OrPat:
		for _, a := range v.Alts {
			collectCoveredVariants(a, covered)
		}
	}
}
