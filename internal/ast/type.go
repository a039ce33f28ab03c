package ast

import (
	"fmt"
	"strings"
)

// NameType is a bare name reference: a primitive, a type parameter, or
// a nominal type with no arguments. Disambiguated during elaboration.
type NameType struct {
	base
	Name string
	Args []TypeExpr // generic application `Name<Args...>`
}

func (n *NameType) typeNode() {}
func (n *NameType) String() string {
	if len(n.Args) == 0 {
		return n.Name
	}
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s<%s>", n.Name, strings.Join(parts, ", "))
}

// RefType is `&T` (shared) or `&mut T` (exclusive).
type RefType struct {
	base
	Mutable bool
	Elem    TypeExpr
}

func (r *RefType) typeNode() {}
func (r *RefType) String() string {
	if r.Mutable {
		return "&mut " + r.Elem.String()
	}
	return "&" + r.Elem.String()
}

// PtrType is `*const T` or `*mut T`.
type PtrType struct {
	base
	Mutable bool
	Elem    TypeExpr
}

func (p *PtrType) typeNode() {}
func (p *PtrType) String() string {
	if p.Mutable {
		return "*mut " + p.Elem.String()
	}
	return "*const " + p.Elem.String()
}

// ArrayType is `[T; N]` (compile-time length N).
type ArrayType struct {
	base
	Elem TypeExpr
	Len  int
}

func (a *ArrayType) typeNode() {}
func (a *ArrayType) String() string { return fmt.Sprintf("[%s; %d]", a.Elem, a.Len) }

// SliceType is `[T]` (no compile-time length).
type SliceType struct {
	base
	Elem TypeExpr
}

func (s *SliceType) typeNode() {}
func (s *SliceType) String() string { return "[" + s.Elem.String() + "]" }

// TupleType is `(T1, T2, ...)`.
type TupleType struct {
	base
	Elems []TypeExpr
}

func (t *TupleType) typeNode() {}
func (t *TupleType) String() string {
	parts := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// FuncType is `(Params...) -> Result`.
type FuncType struct {
	base
	Params []TypeExpr
	Result TypeExpr
}

func (f *FuncType) typeNode() {}
func (f *FuncType) String() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		parts[i] = p.String()
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(parts, ", "), f.Result)
}

// NeverType is the bottom type of a non-returning expression.
type NeverType struct{ base }

func (n *NeverType) typeNode() {}
func (n *NeverType) String() string { return "never" }

// RefinementType is `Base where pred`, parsed with an implicit `self`
// binding over a value of Base in pred's scope.
type RefinementType struct {
	base
	BaseType  TypeExpr
	Predicate Expr
}

func (r *RefinementType) typeNode() {}
func (r *RefinementType) String() string { return fmt.Sprintf("%s where %s", r.BaseType, r.Predicate) }

// NullableType is the postfix `T?` surface syntax. It desugars to the
// built-in Option nominal type at elaboration time, not at parse time
// here. The parser keeps it distinct so that a later `?`
// used as error-propagation postfix can be rejected as a dedicated
// diagnostic instead of silently parsing as nullable.
type NullableType struct {
	base
	Inner TypeExpr
}

func (n *NullableType) typeNode() {}
func (n *NullableType) String() string { return n.Inner.String() + "?" }
