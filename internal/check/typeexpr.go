package check

import (
	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// typeScope tracks the generic parameters visible to a type
// expression. Each generic item opens a fresh scope.
type typeScope struct {
	parent *typeScope
	params map[string]bool
}

func newTypeScope(parent *typeScope, gens []typedast.GenericParam) *typeScope {
	s := &typeScope{parent: parent, params: map[string]bool{}}
	for _, g := range gens {
		s.params[g.Name] = true
	}
	return s
}

func (s *typeScope) has(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.params[name] {
			return true
		}
	}
	return false
}

// resolveType elaborates a surface type expression. Each name resolves
// to a primitive, a type parameter in scope, a nominal definition, or
// an error.
func (c *Checker) resolveType(te ast.TypeExpr, module string, scope *typeScope) types.Type {
	switch t := te.(type) {
	case *ast.NameType:
		return c.resolveNameType(t, module, scope)

	case *ast.RefType:
		return &types.Ref{Mutable: t.Mutable, Elem: c.resolveType(t.Elem, module, scope)}

	case *ast.PtrType:
		return &types.Ptr{Mutable: t.Mutable, Elem: c.resolveType(t.Elem, module, scope)}

	case *ast.ArrayType:
		return &types.Array{Elem: c.resolveType(t.Elem, module, scope), Len: t.Len}

	case *ast.SliceType:
		return &types.Slice{Elem: c.resolveType(t.Elem, module, scope)}

	case *ast.TupleType:
		elems := make([]types.Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = c.resolveType(e, module, scope)
		}
		return &types.Tuple{Elems: elems}

	case *ast.FuncType:
		params := make([]types.Type, len(t.Params))
		for i, p := range t.Params {
			params[i] = c.resolveType(p, module, scope)
		}
		return &types.Func{Params: params, Result: c.resolveType(t.Result, module, scope)}

	case *ast.NeverType:
		return &types.Never{}

	case *ast.NullableType:
		// The postfix `?` desugars to the built-in option nominal here,
		// at elaboration time.
		return types.NewOption(c.resolveType(t.Inner, module, scope))

	case *ast.RefinementType:
		return c.resolveRefinement(t, module, scope)

	default:
		c.errorAt(diag.TYP001, module, te.Span(), "unsupported type expression")
		return types.TUnit
	}
}

func (c *Checker) resolveNameType(t *ast.NameType, module string, scope *typeScope) types.Type {
	if len(t.Args) == 0 {
		if p, ok := types.PrimByName(t.Name); ok {
			return p
		}
		if scope.has(t.Name) {
			return &types.Param{Name: t.Name}
		}
	}

	id, n := c.prog.LookupFrom(module, t.Name)
	if t.Name == types.OptionName {
		id, n = c.optionDef, 1
	}
	if n == 0 {
		c.errorAt(diag.TYP001, module, t.Span(), "unknown type %q", t.Name)
		return types.TUnit
	}
	if n > 1 {
		c.errorAt(diag.RES005, module, t.Span(), "type name %q is ambiguous across imports", t.Name)
	}
	d := c.prog.Def(id)
	args := make([]types.Type, len(t.Args))
	for i, a := range t.Args {
		args[i] = c.resolveType(a, module, scope)
	}
	switch d.Kind {
	case resolve.DefStruct, resolve.DefEnum:
		c.checkArity(d, len(args), t, module)
		return &types.Nominal{Name: d.Name, Def: id, Args: args}
	case resolve.DefAlias:
		target := c.resolveAlias(d)
		if len(args) > 0 {
			subst := map[string]types.Type{}
			for i, g := range d.Alias.Generics {
				if i < len(args) {
					subst[g.Name] = args[i]
				}
			}
			target = target.Substitute(subst)
		}
		return target
	default:
		c.errorAt(diag.TYP001, module, t.Span(), "%q is a %s, not a type", t.Name, d.Kind)
		return types.TUnit
	}
}

func (c *Checker) checkArity(d *resolve.Def, got int, t *ast.NameType, module string) {
	want := 0
	switch d.Kind {
	case resolve.DefStruct:
		want = len(d.Struct.Generics)
	case resolve.DefEnum:
		want = len(d.Enum.Generics)
	}
	if got != want {
		c.errorAt(diag.TYP001, module, t.Span(),
			"%s %q expects %d type arguments, got %d", d.Kind, d.Name, want, got)
	}
}

// resolveRefinement elaborates `Base where pred` (pass 3): the
// predicate checks as bool in a scope where `self` denotes a value of
// the base type, and its free variables are limited to `self` and
// names of the lexical scope.
func (c *Checker) resolveRefinement(t *ast.RefinementType, module string, scope *typeScope) types.Type {
	baseTy := c.resolveType(t.BaseType, module, scope)
	env := newEnv(c, module, nil)
	env.bind("self", baseTy, false)
	pred := env.check(t.Predicate, types.TBool)
	if _, bad := pred.(*typedast.ErrorNode); bad {
		return baseTy
	}
	id := types.PredID(len(c.out.Preds))
	c.out.Preds = append(c.out.Preds, typedast.PredInfo{Self: baseTy, Pred: pred, Src: t.Predicate.String()})
	return &types.Refinement{Base: baseTy, Pred: id, Src: t.Predicate.String()}
}
