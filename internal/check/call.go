package check

import (
	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// synthCall elaborates direct calls, the contract built-ins (`old`,
// `len`), and indirect calls through function-typed values.
func (e *env) synthCall(v *ast.Call) typedast.Expr {
	callee, isIdent := v.Func.(*ast.Ident)
	if isIdent {
		switch callee.Name {
		case "old":
			return e.synthOld(v)
		case "len":
			return e.synthLen(v)
		}

		// A local binding shadows a global function of the same name.
		if _, isLocal := e.lookup(callee.Name); !isLocal {
			id, n := e.c.prog.LookupFrom(e.module, callee.Name)
			if n > 1 {
				return e.errorAt(diag.RES005, v.Span(), "call target %q is ambiguous across imports", callee.Name)
			}
			if n == 1 {
				if sig := e.c.sigs[id]; sig != nil {
					return e.synthDirectCall(v, sig)
				}
			}
			return e.errorAt(diag.TYP009, v.Span(), "call to undeclared function %q", callee.Name)
		}
	}

	// Indirect call through a function-typed value.
	fn := e.synth(v.Func)
	fty, ok := types.Underlying(fn.Type()).(*types.Func)
	if !ok {
		return e.errorAt(diag.TYP001, v.Span(), "%s is not callable", fn.Type())
	}
	if len(v.Args) != len(fty.Params) {
		return e.errorAt(diag.TYP001, v.Span(), "call expects %d arguments, got %d", len(fty.Params), len(v.Args))
	}
	call := &typedast.CallIndirect{Base: typedast.Base{Ty: fty.Result, Sp: v.Span()}, Func: fn}
	for i, a := range v.Args {
		call.Args = append(call.Args, e.check(a, fty.Params[i]))
	}
	return call
}

// synthDirectCall resolves a call to a top-level function, inferring
// generic instantiations by unifying declared parameter types against
// argument types when no explicit type arguments are given.
func (e *env) synthDirectCall(v *ast.Call, sig *funcSig) typedast.Expr {
	if len(v.Args) != len(sig.params) {
		return e.errorAt(diag.TYP001, v.Span(),
			"%s expects %d arguments, got %d", sig.name, len(sig.params), len(v.Args))
	}

	subst := map[string]types.Type{}
	if len(v.TypeArgs) > 0 {
		if len(v.TypeArgs) != len(sig.generics) {
			return e.errorAt(diag.TYP002, v.Span(),
				"%s takes %d type arguments, got %d", sig.name, len(sig.generics), len(v.TypeArgs))
		}
		for i, ta := range v.TypeArgs {
			subst[sig.generics[i].Name] = e.c.resolveType(ta, e.module, e.funcTypeScope())
		}
	}

	call := &typedast.Call{Base: typedast.Base{Sp: v.Span()}, Callee: sig.def, Name: sig.name}
	for i, a := range v.Args {
		want := types.Apply(sig.params[i], subst)
		if types.HasFreeParams(want) {
			// Parameter still mentions an open generic: synthesize the
			// argument and let unification bind the hole.
			arg := e.synth(a)
			if err := types.Unify(want, arg.Type(), subst); err != nil {
				rep := diag.New(diag.TYP002, "checker",
					"cannot infer type arguments of "+sig.name, a.Span()).
					WithNote("declared: " + sig.params[i].String()).
					WithNote("argument: " + arg.Type().String())
				e.c.rep.Add(rep)
			}
			call.Args = append(call.Args, arg)
			continue
		}
		call.Args = append(call.Args, e.check(a, want))
	}

	for _, g := range sig.generics {
		bound, ok := subst[g.Name]
		if !ok {
			e.errorAt(diag.TYP002, v.Span(),
				"cannot infer type argument %s of %s; supply it explicitly", g.Name, sig.name)
			bound = types.TUnit
			subst[g.Name] = bound
		}
		e.checkBounds(g, bound, v)
		call.TypeArgs = append(call.TypeArgs, types.Apply(bound, subst))
	}

	call.Ty = types.Apply(sig.result, subst)
	return call
}

// checkBounds verifies that an instantiation satisfies the generic
// parameter's where-clause trait bounds.
func (e *env) checkBounds(g typedast.GenericParam, bound types.Type, v *ast.Call) {
	for _, traitName := range g.Bounds {
		if _, isParam := bound.(*types.Param); isParam {
			// An open parameter propagates the constraint upward as
			// part of the caller's own signature constraint set.
			continue
		}
		if e.findImplFor(traitName, bound) == nil {
			e.errorAt(diag.TRT001, v.Span(),
				"%s does not implement %s, required by bound on %s", bound, traitName, g.Name)
		}
	}
}

func (e *env) synthOld(v *ast.Call) typedast.Expr {
	if !e.inPost {
		return e.errorAt(diag.CTR001, v.Span(), "old(...) is only meaningful in a postcondition")
	}
	if len(v.Args) != 1 {
		return e.errorAt(diag.CTR001, v.Span(), "old(...) takes exactly one expression")
	}
	// The inner expression reads the pre-state: `ret` is out of scope.
	sub := e.child()
	sub.inPost = false
	inner := sub.synth(v.Args[0])
	return &typedast.Old{Base: typedast.Base{Ty: inner.Type(), Sp: v.Span()}, Inner: inner}
}

// synthLen types the compiler-known pure primitive `len`, defined for
// arrays, slices, and strings.
func (e *env) synthLen(v *ast.Call) typedast.Expr {
	if len(v.Args) != 1 {
		return e.errorAt(diag.TYP001, v.Span(), "len(...) takes exactly one argument")
	}
	arg := e.synth(v.Args[0])
	ty := types.Underlying(arg.Type())
	if r, ok := ty.(*types.Ref); ok {
		ty = types.Underlying(r.Elem)
	}
	switch ty.(type) {
	case *types.Array, *types.Slice:
	default:
		if p, ok := ty.(*types.Prim); !ok || p.Kind != types.String {
			return e.errorAt(diag.TYP001, v.Span(), "len is not defined for %s", arg.Type())
		}
	}
	return &typedast.Call{
		Base: typedast.Base{Ty: types.TUSize, Sp: v.Span()},
		Callee: types.NoDef, Name: "len", Args: []typedast.Expr{arg},
	}
}
