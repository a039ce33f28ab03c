package types

import "fmt"

// UnifyError carries both sides of a failed unification so the
// diagnostic can print expected and actual in fully-substituted form.
type UnifyError struct {
	Left, Right Type
	Reason      string
}

func (e *UnifyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot unify %s with %s: %s", e.Left, e.Right, e.Reason)
	}
	return fmt.Sprintf("cannot unify %s with %s", e.Left, e.Right)
}

// Unify matches `want` against `got`, binding type parameters of
// `want` into subst. It is directional: parameters on the `want` side
// are inference holes, parameters on the `got` side stand for
// themselves (rigid). Refinements unify through their base type;
// predicate obligations are checked separately by the verifier.
func Unify(want, got Type, subst map[string]Type) error {
	want = resolveBound(want, subst)

	if p, ok := want.(*Param); ok {
		if q, ok := got.(*Param); ok && p.Name == q.Name {
			return nil
		}
		subst[p.Name] = got
		return nil
	}

	// never unifies with anything: a diverging arm imposes no
	// constraint on the join type.
	if _, ok := got.(*Never); ok {
		return nil
	}
	if _, ok := want.(*Never); ok {
		return nil
	}

	if r, ok := want.(*Refinement); ok {
		return Unify(r.Base, got, subst)
	}
	if r, ok := got.(*Refinement); ok {
		return Unify(want, r.Base, subst)
	}

	switch w := want.(type) {
	case *Prim:
		if g, ok := got.(*Prim); ok && w.Kind == g.Kind {
			return nil
		}
	case *Ref:
		if g, ok := got.(*Ref); ok && w.Mutable == g.Mutable {
			return Unify(w.Elem, g.Elem, subst)
		}
		// A shared reference accepts an exclusive one (reborrow).
		if g, ok := got.(*Ref); ok && !w.Mutable && g.Mutable {
			return Unify(w.Elem, g.Elem, subst)
		}
	case *Ptr:
		if g, ok := got.(*Ptr); ok && w.Mutable == g.Mutable {
			return Unify(w.Elem, g.Elem, subst)
		}
	case *Array:
		if g, ok := got.(*Array); ok && w.Len == g.Len {
			return Unify(w.Elem, g.Elem, subst)
		}
	case *Slice:
		if g, ok := got.(*Slice); ok {
			return Unify(w.Elem, g.Elem, subst)
		}
	case *Tuple:
		if g, ok := got.(*Tuple); ok && len(w.Elems) == len(g.Elems) {
			for i := range w.Elems {
				if err := Unify(w.Elems[i], g.Elems[i], subst); err != nil {
					return err
				}
			}
			return nil
		}
	case *Nominal:
		if g, ok := got.(*Nominal); ok && w.Name == g.Name && len(w.Args) == len(g.Args) {
			for i := range w.Args {
				if err := Unify(w.Args[i], g.Args[i], subst); err != nil {
					return err
				}
			}
			return nil
		}
	case *Func:
		if g, ok := got.(*Func); ok && len(w.Params) == len(g.Params) {
			for i := range w.Params {
				if err := Unify(w.Params[i], g.Params[i], subst); err != nil {
					return err
				}
			}
			return Unify(w.Result, g.Result, subst)
		}
	}
	return &UnifyError{Left: want, Right: got}
}

// resolveBound chases an already-bound parameter so repeated call-site
// arguments constrain the same hole consistently.
func resolveBound(t Type, subst map[string]Type) Type {
	for {
		p, ok := t.(*Param)
		if !ok {
			return t
		}
		b, ok := subst[p.Name]
		if !ok || b.Equals(p) {
			return t
		}
		t = b
	}
}

// Apply substitutes until a fixed point, so chained bindings
// (T := U, U := i64) fully resolve. The checker's invariant is that
// an annotated type is a fixed point of substitution.
func Apply(t Type, subst map[string]Type) Type {
	for i := 0; i < len(subst)+1; i++ {
		next := t.Substitute(subst)
		if next.Equals(t) {
			return next
		}
		t = next
	}
	return t
}
