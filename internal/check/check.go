// Package check implements elaboration: item collection,
// signature elaboration, refinement typing, bidirectional body
// checking, trait resolution, contract elaboration, well-formedness
// checks, and the warning passes. Errors accumulate in the diagnostic
// reporter; elaboration of unrelated items continues past individual
// failures.
package check

import (
	"fmt"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// funcSig is an elaborated signature, kept separate from bodies so
// call sites across items can resolve before every body has checked.
type funcSig struct {
	def      types.DefID
	name     string
	generics []typedast.GenericParam
	params   []types.Type
	names    []string
	result   types.Type
	isPure   bool
	isExtern bool
}

// Checker runs the elaboration passes over a linked program.
type Checker struct {
	prog *resolve.Program
	rep  *diag.Reporter
	out  *typedast.Program

	sigs    map[types.DefID]*funcSig
	aliases map[types.DefID]types.Type
	// aliasState tracks the DFS coloring for alias-cycle detection:
	// 0 unvisited, 1 in progress, 2 done.
	aliasState map[types.DefID]int

	optionDef types.DefID
}

// Check elaborates a linked program into a typed program. The returned
// program is complete for every item that elaborated; failed items are
// represented by error-marked nodes.
func Check(prog *resolve.Program, rep *diag.Reporter) *typedast.Program {
	c := &Checker{
		prog:       prog,
		rep:        rep,
		sigs:       map[types.DefID]*funcSig{},
		aliases:    map[types.DefID]types.Type{},
		aliasState: map[types.DefID]int{},
		out: &typedast.Program{
			ByDef:    map[types.DefID]*typedast.Func{},
			Structs:  map[types.DefID]*typedast.StructInfo{},
			Enums:    map[types.DefID]*typedast.EnumInfo{},
			Traits:   map[types.DefID]*typedast.TraitInfo{},
			EntryDef: types.NoDef,
		},
	}

	c.registerBuiltins()
	c.collectTypes()
	c.elaborateSignatures()
	c.elaborateImpls()
	c.elaborateBodies()
	c.warningPasses()
	return c.out
}

// registerBuiltins installs the option enum that the postfix `?` type
// desugars to.
func (c *Checker) registerBuiltins() {
	id := types.DefID(len(c.prog.Defs))
	c.prog.Defs = append(c.prog.Defs, &resolve.Def{
		ID:     id,
		Kind:   resolve.DefEnum,
		Name:   types.OptionName,
		Module: "<builtin>",
		Public: true,
		Parent: types.NoDef,
	})
	c.optionDef = id
	c.out.Enums[id] = &typedast.EnumInfo{
		Def:      id,
		Name:     types.OptionName,
		Generics: []typedast.GenericParam{{Name: "T"}},
		Variants: []typedast.EnumVariantInfo{
			{Name: "Some", Tag: 0, Fields: []types.Type{&types.Param{Name: "T"}}},
			{Name: "None", Tag: 1},
		},
	}
}

// collectTypes registers struct/enum/trait shapes before any signature
// mentions them (pass 1 + the type half of pass 2).
func (c *Checker) collectTypes() {
	for _, d := range c.prog.Defs {
		switch d.Kind {
		case resolve.DefStruct:
			gens := genericParams(d.Struct.Generics)
			scope := newTypeScope(nil, gens)
			info := &typedast.StructInfo{Def: d.ID, Name: d.Name, Generics: gens}
			for _, f := range d.Struct.Fields {
				info.Fields = append(info.Fields, typedast.StructFieldInfo{
					Name: f.Name,
					Ty:   c.resolveType(f.Type, d.Module, scope),
				})
			}
			c.out.Structs[d.ID] = info
		case resolve.DefEnum:
			if d.Enum == nil {
				// The builtin option enum has no declaration; its shape
				// was installed by registerBuiltins.
				continue
			}
			gens := genericParams(d.Enum.Generics)
			scope := newTypeScope(nil, gens)
			info := &typedast.EnumInfo{Def: d.ID, Name: d.Name, Generics: gens}
			for tag, v := range d.Enum.Variants {
				vi := typedast.EnumVariantInfo{Name: v.Name, Tag: tag}
				for _, ft := range v.Fields {
					vi.Fields = append(vi.Fields, c.resolveType(ft, d.Module, scope))
				}
				info.Variants = append(info.Variants, vi)
			}
			c.out.Enums[d.ID] = info
		}
	}

	// Traits after structs/enums so method signatures can mention them.
	for _, d := range c.prog.Defs {
		if d.Kind != resolve.DefTrait {
			continue
		}
		info := &typedast.TraitInfo{Def: d.ID, Name: d.Name}
		for _, m := range d.Trait.Methods {
			tm := typedast.TraitMethodInfo{Name: m.Name, Result: types.TUnit}
			scope := newTypeScope(nil, genericParams(m.Generics))
			for _, p := range m.Params {
				if p.Name == "self" {
					continue
				}
				tm.Params = append(tm.Params, c.resolveType(p.Type, d.Module, scope))
			}
			if m.ReturnType != nil {
				tm.Result = c.resolveType(m.ReturnType, d.Module, scope)
			}
			info.Methods = append(info.Methods, tm)
		}
		c.out.Traits[d.ID] = info
	}
}

// elaborateSignatures resolves every function and extern signature
// (pass 2, the value half).
func (c *Checker) elaborateSignatures() {
	for _, d := range c.prog.Defs {
		switch d.Kind {
		case resolve.DefFunc:
			if d.Func == nil {
				continue
			}
			c.sigs[d.ID] = c.funcSignature(d, d.Func)
		case resolve.DefExtern:
			sig := &funcSig{def: d.ID, name: d.Extern.Name, result: types.TUnit, isExtern: true}
			scope := newTypeScope(nil, nil)
			for _, p := range d.Extern.Params {
				sig.params = append(sig.params, c.resolveType(p.Type, d.Module, scope))
				sig.names = append(sig.names, p.Name)
			}
			if d.Extern.ReturnType != nil {
				sig.result = c.resolveType(d.Extern.ReturnType, d.Module, scope)
			}
			c.sigs[d.ID] = sig
		}
	}
}

func (c *Checker) funcSignature(d *resolve.Def, fn *ast.FuncDecl) *funcSig {
	gens := genericParams(fn.Generics)
	scope := newTypeScope(nil, gens)
	sig := &funcSig{
		def:      d.ID,
		name:     fn.Name,
		generics: gens,
		result:   types.TUnit,
		isPure:   fn.IsPure,
	}
	for _, p := range fn.Params {
		var ty types.Type
		if p.Type != nil {
			ty = c.resolveType(p.Type, d.Module, scope)
		} else if p.Name == "self" {
			ty = c.selfType(d)
		} else {
			c.errorAt(diag.TYP002, d.Module, p.Span(), "parameter %q has no type", p.Name)
			ty = types.TUnit
		}
		sig.params = append(sig.params, ty)
		sig.names = append(sig.names, p.Name)
	}
	if fn.ReturnType != nil {
		sig.result = c.resolveType(fn.ReturnType, d.Module, scope)
	}
	return sig
}

// selfType resolves the untyped `self` receiver of an impl method to
// the impl's target type.
func (c *Checker) selfType(d *resolve.Def) types.Type {
	if d.Parent == types.NoDef {
		return types.TUnit
	}
	impl := c.prog.Def(d.Parent)
	if impl == nil || impl.Impl == nil {
		return types.TUnit
	}
	scope := newTypeScope(nil, genericParams(impl.Impl.Generics))
	return c.resolveType(impl.Impl.Target, impl.Module, scope)
}

// elaborateImpls builds the impl table used by trait resolution
// (pass 5's lookup structure).
func (c *Checker) elaborateImpls() {
	for _, d := range c.prog.Defs {
		if d.Kind != resolve.DefImpl {
			continue
		}
		gens := genericParams(d.Impl.Generics)
		scope := newTypeScope(nil, gens)
		info := &typedast.ImplInfo{
			Def:      d.ID,
			Trait:    types.NoDef,
			Target:   c.resolveType(d.Impl.Target, d.Module, scope),
			Generics: gens,
			Methods:  map[string]types.DefID{},
		}
		if d.Impl.Trait != "" {
			tid, n := c.prog.LookupFrom(d.Module, d.Impl.Trait)
			td := c.prog.Def(tid)
			if n == 0 || td == nil || td.Kind != resolve.DefTrait {
				c.errorAt(diag.TRT001, d.Module, d.Impl.Span(), "unknown trait %q", d.Impl.Trait)
			} else {
				info.Trait = tid
			}
		}
		// Method defs follow their impl contiguously in the flat table.
		for id := d.ID + 1; int(id) < len(c.prog.Defs); id++ {
			md := c.prog.Defs[id]
			if md.Parent != d.ID {
				break
			}
			info.Methods[md.Func.Name] = md.ID
		}
		c.out.Impls = append(c.out.Impls, info)
	}
}

// elaborateBodies runs bidirectional checking over every function body
// and its contracts (passes 4, 6, 7).
func (c *Checker) elaborateBodies() {
	for _, modName := range c.prog.Order {
		mod := c.prog.Modules[modName]
		if mod == nil {
			continue
		}
		for _, d := range c.prog.Defs {
			if d.Module != mod.Name {
				continue
			}
			switch d.Kind {
			case resolve.DefFunc:
				if d.Func != nil && (d.Parent != types.NoDef || d.Name != "") {
					c.checkFunc(d)
				}
			case resolve.DefAlias:
				c.resolveAlias(d)
			case resolve.DefExtern:
				sig := c.sigs[d.ID]
				tf := &typedast.Func{
					Def: d.ID, Name: d.Extern.Name, Module: d.Module,
					Result: sig.result, IsExtern: true, Sp: d.Extern.Span(),
				}
				for i := range sig.params {
					tf.Params = append(tf.Params, typedast.FuncParam{Name: sig.names[i], Ty: sig.params[i]})
				}
				c.out.Funcs = append(c.out.Funcs, tf)
				c.out.ByDef[d.ID] = tf
			}
		}
	}
}

func (c *Checker) checkFunc(d *resolve.Def) {
	sig := c.sigs[d.ID]
	if sig == nil {
		return
	}
	fn := d.Func
	tf := &typedast.Func{
		Def:      d.ID,
		Name:     fn.Name,
		Module:   d.Module,
		Generics: sig.generics,
		Result:   sig.result,
		IsPure:   fn.IsPure,
		Sp:       fn.Span(),
	}
	if a := fn.Attr("trust"); a != nil {
		tf.TrustReason = a.TrustReason()
		if tf.TrustReason == "" {
			c.errorAt(diag.VER003, d.Module, a.Span(), "trust attribute requires a justification string")
		}
	}
	for i, p := range fn.Params {
		tf.Params = append(tf.Params, typedast.FuncParam{Name: sig.names[i], Ty: sig.params[i], Sp: p.Span()})
	}

	env := newEnv(c, d.Module, sig)
	for i := range tf.Params {
		env.bind(tf.Params[i].Name, tf.Params[i].Ty, false)
	}

	// Contract elaboration (pass 6) precedes the body so `old` and
	// `ret` scoping never leaks into ordinary expressions.
	for _, ct := range fn.Contracts {
		tc := c.checkContract(env, ct, sig.result)
		if tc != nil {
			tf.Contracts = append(tf.Contracts, *tc)
		}
	}

	if fn.Body != nil {
		switch {
		case fn.Body.Expr != nil:
			// A block in expression-body position is still a block
			// body: its value is never implicit, so the explicit
			// `return` rule applies and a trailing expression is the
			// dedicated diagnostic.
			if blk, ok := fn.Body.Expr.(*ast.BlockExpr); ok {
				tf.Body = env.checkBlockBody(blk, sig.result, fn.Span())
			} else {
				tf.Body = env.check(fn.Body.Expr, sig.result)
			}
		case fn.Body.Block != nil:
			tf.Body = env.checkBlockBody(fn.Body.Block, sig.result, fn.Span())
		}
	}

	c.out.Funcs = append(c.out.Funcs, tf)
	c.out.ByDef[d.ID] = tf
	if fn.Name == "main" && d.Parent == types.NoDef {
		c.out.EntryDef = d.ID
	}
}

// checkContract elaborates one contract clause (pass 6). Pre and
// invariant predicates see only the parameter scope; postconditions
// additionally see `ret` and `old(·)`.
func (c *Checker) checkContract(env *env, ct *ast.Contract, result types.Type) *typedast.Contract {
	sub := env.child()
	want := types.Type(types.TBool)
	switch ct.Kind {
	case ast.Postcondition:
		sub.bind("ret", result, false)
		sub.inPost = true
	case ast.Decreases:
		want = types.TI64
	}
	pred := sub.check(ct.Expr, want)
	if _, bad := pred.(*typedast.ErrorNode); bad {
		// Ill-formed contract: drop it and continue checking the body.
		return nil
	}
	return &typedast.Contract{Kind: ct.Kind, Pred: pred, Sp: ct.Span()}
}

// resolveAlias elaborates a type alias, detecting cycles by DFS
// coloring (pass 2's cycle check).
func (c *Checker) resolveAlias(d *resolve.Def) types.Type {
	switch c.aliasState[d.ID] {
	case 1:
		c.errorAt(diag.TYP003, d.Module, d.Alias.Span(), "type alias %q is cyclic", d.Name)
		c.aliases[d.ID] = types.TUnit
		c.aliasState[d.ID] = 2
		return types.TUnit
	case 2:
		return c.aliases[d.ID]
	}
	c.aliasState[d.ID] = 1
	scope := newTypeScope(nil, genericParams(d.Alias.Generics))
	t := c.resolveType(d.Alias.Target, d.Module, scope)
	c.aliases[d.ID] = t
	c.aliasState[d.ID] = 2
	return t
}

func genericParams(gens []*ast.GenericParam) []typedast.GenericParam {
	out := make([]typedast.GenericParam, len(gens))
	for i, g := range gens {
		out[i] = typedast.GenericParam{Name: g.Name, Bounds: g.Bounds}
	}
	return out
}

func (c *Checker) errorAt(code, module string, sp source.Span, format string, args ...interface{}) {
	c.rep.Add(diag.New(code, "checker", fmt.Sprintf(format, args...), sp))
}
