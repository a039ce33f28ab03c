package check

import (
	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// resolveMethodCall implements trait resolution (pass 5): determine
// the receiver's static type, search the impl table for an impl whose
// target unifies with it and whose trait exports the method, fall back
// to where-clause bounds for type-parameter receivers, and record the
// resolved (trait, impl) pair. Multiple matches are ambiguous; zero
// matches are no-such-method.
func (e *env) resolveMethodCall(v *ast.MethodCall) typedast.Expr {
	recv := e.synth(v.Receiver)
	if _, bad := recv.(*typedast.ErrorNode); bad {
		return recv
	}
	recvTy := types.Underlying(recv.Type())
	if r, ok := recvTy.(*types.Ref); ok {
		recvTy = types.Underlying(r.Elem)
	}

	// Type-parameter receiver: resolve through the where-clause bounds.
	if p, isParam := recvTy.(*types.Param); isParam {
		return e.resolveBoundedCall(v, recv, p)
	}

	type match struct {
		impl  *typedast.ImplInfo
		subst map[string]types.Type
	}
	var matches []match
	for _, impl := range e.c.out.Impls {
		target, ok := e.implMethodTarget(impl, v.Method)
		if !ok {
			continue
		}
		subst := map[string]types.Type{}
		if err := types.Unify(target, recvTy, subst); err != nil {
			continue
		}
		matches = append(matches, match{impl: impl, subst: subst})
	}

	switch len(matches) {
	case 0:
		return e.errorAt(diag.TRT001, v.Span(), "no method %q found for %s", v.Method, recv.Type())
	case 1:
	default:
		rep := diag.New(diag.TRT002, "checker",
			"method call "+v.Method+" is ambiguous", v.Span())
		for _, m := range matches {
			rep.WithNote("candidate impl for " + m.impl.Target.String())
		}
		e.c.rep.Add(rep)
		return &typedast.ErrorNode{Base: typedast.Base{Ty: types.TUnit, Sp: v.Span()}}
	}

	m := matches[0]
	methodDef := m.impl.Methods[v.Method]
	sig := e.c.sigs[methodDef]
	if sig == nil {
		return e.errorAt(diag.TRT001, v.Span(), "method %q has no usable signature", v.Method)
	}

	// Method parameter types after substituting the impl's generics
	// with whatever the receiver pinned. Parameter 0 is the receiver.
	call := &typedast.MethodCall{
		Base:     typedast.Base{Sp: v.Span()},
		Receiver: recv,
		Method:   v.Method,
		Trait:    m.impl.Trait,
		Impl:     m.impl.Def,
		Target:   methodDef,
		Static:   !types.HasFreeParams(recvTy),
	}
	declared := sig.params
	if len(declared) != len(v.Args)+1 {
		return e.errorAt(diag.TYP001, v.Span(),
			"method %s expects %d arguments, got %d", v.Method, len(declared)-1, len(v.Args))
	}
	for i, a := range v.Args {
		want := types.Apply(declared[i+1], m.subst)
		call.Args = append(call.Args, e.check(a, want))
	}
	call.Ty = types.Apply(sig.result, m.subst)
	return call
}

// implMethodTarget returns an impl's target type when the impl
// provides the method, either through its trait or inherently.
func (e *env) implMethodTarget(impl *typedast.ImplInfo, method string) (types.Type, bool) {
	if _, has := impl.Methods[method]; !has {
		return nil, false
	}
	if impl.Trait != types.NoDef {
		trait := e.c.out.Traits[impl.Trait]
		if trait == nil || !trait.HasMethod(method) {
			return nil, false
		}
	}
	return impl.Target, true
}

// resolveBoundedCall handles `recv.method(...)` where the receiver is
// a generic parameter: the method must come from one of the
// parameter's trait bounds, and the call stays dispatchable until
// monomorphization pins the concrete impl.
func (e *env) resolveBoundedCall(v *ast.MethodCall, recv typedast.Expr, p *types.Param) typedast.Expr {
	var bounds []string
	if e.sig != nil {
		for _, g := range e.sig.generics {
			if g.Name == p.Name {
				bounds = g.Bounds
			}
		}
	}
	var found []*typedast.TraitInfo
	for _, bound := range bounds {
		for _, trait := range e.c.out.Traits {
			if trait.Name == bound && trait.HasMethod(v.Method) {
				found = append(found, trait)
			}
		}
	}
	switch len(found) {
	case 0:
		return e.errorAt(diag.TRT001, v.Span(),
			"no bound on %s provides method %q", p.Name, v.Method)
	case 1:
	default:
		return e.errorAt(diag.TRT002, v.Span(),
			"method %q is provided by more than one bound on %s", v.Method, p.Name)
	}

	trait := found[0]
	var msig *typedast.TraitMethodInfo
	for i := range trait.Methods {
		if trait.Methods[i].Name == v.Method {
			msig = &trait.Methods[i]
		}
	}
	call := &typedast.MethodCall{
		Base:     typedast.Base{Ty: msig.Result, Sp: v.Span()},
		Receiver: recv,
		Method:   v.Method,
		Trait:    trait.Def,
		Impl:     types.NoDef,
		Target:   types.NoDef,
		Static:   false,
	}
	if len(v.Args) != len(msig.Params) {
		return e.errorAt(diag.TYP001, v.Span(),
			"method %s expects %d arguments, got %d", v.Method, len(msig.Params), len(v.Args))
	}
	for i, a := range v.Args {
		call.Args = append(call.Args, e.check(a, msig.Params[i]))
	}
	return call
}

// findImplFor locates an impl of a named trait for a concrete type,
// used by where-clause bound checking at instantiation sites.
func (e *env) findImplFor(traitName string, ty types.Type) *typedast.ImplInfo {
	for _, impl := range e.c.out.Impls {
		if impl.Trait == types.NoDef {
			continue
		}
		trait := e.c.out.Traits[impl.Trait]
		if trait == nil || trait.Name != traitName {
			continue
		}
		subst := map[string]types.Type{}
		if types.Unify(impl.Target, types.Underlying(ty), subst) == nil {
			return impl
		}
	}
	return nil
}
