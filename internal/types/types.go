// Package types defines the semantic type model shared by the checker,
// MIR lowering, the verifier, and codegen. Equality is structural
// after substitution.
package types

import (
	"fmt"
	"strings"
)

// Type is the closed sum of semantic types. Implementations are
// immutable; substitution returns a fresh value.
type Type interface {
	String() string
	Equals(Type) bool
	// Substitute replaces type parameters by name. The result of a
	// fully-applied substitution contains no residual Param nodes.
	Substitute(map[string]Type) Type
}

// ---------------------------------------------------------------------------
// Primitives

// PrimKind enumerates the built-in scalar types.
type PrimKind int

const (
	I8 PrimKind = iota
	I16
	I32
	I64
	I128
	ISize
	U8
	U16
	U32
	U64
	U128
	USize
	F32
	F64
	Bool
	Char
	Unit
	String
)

var primNames = map[PrimKind]string{
	I8: "i8", I16: "i16", I32: "i32", I64: "i64", I128: "i128", ISize: "isize",
	U8: "u8", U16: "u16", U32: "u32", U64: "u64", U128: "u128", USize: "usize",
	F32: "f32", F64: "f64",
	Bool: "bool", Char: "char", Unit: "unit", String: "string",
}

// Prim is a primitive type.
type Prim struct {
	Kind PrimKind
}

func (p *Prim) String() string { return primNames[p.Kind] }

func (p *Prim) Equals(o Type) bool {
	q, ok := o.(*Prim)
	return ok && p.Kind == q.Kind
}

func (p *Prim) Substitute(map[string]Type) Type { return p }

// IsInteger reports whether the primitive is any integer width,
// signed or unsigned, including the pointer-sized ones.
func (p *Prim) IsInteger() bool {
	switch p.Kind {
	case I8, I16, I32, I64, I128, ISize, U8, U16, U32, U64, U128, USize:
		return true
	}
	return false
}

// IsSigned reports whether an integer primitive is signed.
func (p *Prim) IsSigned() bool {
	switch p.Kind {
	case I8, I16, I32, I64, I128, ISize:
		return true
	}
	return false
}

// IsFloat reports whether the primitive is one of the two float widths.
func (p *Prim) IsFloat() bool { return p.Kind == F32 || p.Kind == F64 }

// Bits returns the bit width of an integer or float primitive.
// Pointer-sized integers report 64.
func (p *Prim) Bits() int {
	switch p.Kind {
	case I8, U8:
		return 8
	case I16, U16:
		return 16
	case I32, U32, F32, Char:
		return 32
	case I64, U64, F64, ISize, USize:
		return 64
	case I128, U128:
		return 128
	case Bool:
		return 1
	}
	return 0
}

// PrimByName maps a surface name ("i64", "bool", ...) to its
// primitive, if it is one.
func PrimByName(name string) (*Prim, bool) {
	for k, n := range primNames {
		if n == name {
			return &Prim{Kind: k}, true
		}
	}
	return nil, false
}

// Convenience singletons for the types every stage mentions.
var (
	TI64    = &Prim{Kind: I64}
	TBool   = &Prim{Kind: Bool}
	TUnit   = &Prim{Kind: Unit}
	TUSize  = &Prim{Kind: USize}
	TF64    = &Prim{Kind: F64}
	TChar   = &Prim{Kind: Char}
	TString = &Prim{Kind: String}
)

// ---------------------------------------------------------------------------
// Composite types

// Ref is `&T` / `&mut T`.
type Ref struct {
	Mutable bool
	Elem    Type
}

func (r *Ref) String() string {
	if r.Mutable {
		return "&mut " + r.Elem.String()
	}
	return "&" + r.Elem.String()
}

func (r *Ref) Equals(o Type) bool {
	q, ok := o.(*Ref)
	return ok && r.Mutable == q.Mutable && r.Elem.Equals(q.Elem)
}

func (r *Ref) Substitute(s map[string]Type) Type {
	return &Ref{Mutable: r.Mutable, Elem: r.Elem.Substitute(s)}
}

// Ptr is `*const T` / `*mut T`.
type Ptr struct {
	Mutable bool
	Elem    Type
}

func (p *Ptr) String() string {
	if p.Mutable {
		return "*mut " + p.Elem.String()
	}
	return "*const " + p.Elem.String()
}

func (p *Ptr) Equals(o Type) bool {
	q, ok := o.(*Ptr)
	return ok && p.Mutable == q.Mutable && p.Elem.Equals(q.Elem)
}

func (p *Ptr) Substitute(s map[string]Type) Type {
	return &Ptr{Mutable: p.Mutable, Elem: p.Elem.Substitute(s)}
}

// Array is `[T; N]`.
type Array struct {
	Elem Type
	Len  int
}

func (a *Array) String() string { return fmt.Sprintf("[%s; %d]", a.Elem, a.Len) }

func (a *Array) Equals(o Type) bool {
	q, ok := o.(*Array)
	return ok && a.Len == q.Len && a.Elem.Equals(q.Elem)
}

func (a *Array) Substitute(s map[string]Type) Type {
	return &Array{Elem: a.Elem.Substitute(s), Len: a.Len}
}

// Slice is `[T]`.
type Slice struct {
	Elem Type
}

func (s *Slice) String() string { return "[" + s.Elem.String() + "]" }

func (s *Slice) Equals(o Type) bool {
	q, ok := o.(*Slice)
	return ok && s.Elem.Equals(q.Elem)
}

func (s *Slice) Substitute(sub map[string]Type) Type {
	return &Slice{Elem: s.Elem.Substitute(sub)}
}

// Tuple is `(T1, ..., Tn)`.
type Tuple struct {
	Elems []Type
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (t *Tuple) Equals(o Type) bool {
	q, ok := o.(*Tuple)
	if !ok || len(t.Elems) != len(q.Elems) {
		return false
	}
	for i := range t.Elems {
		if !t.Elems[i].Equals(q.Elems[i]) {
			return false
		}
	}
	return true
}

func (t *Tuple) Substitute(s map[string]Type) Type {
	elems := make([]Type, len(t.Elems))
	for i, e := range t.Elems {
		elems[i] = e.Substitute(s)
	}
	return &Tuple{Elems: elems}
}

// Nominal is a named struct/enum/alias application: `Name<Args...>`.
// Def is the definition id assigned by the resolver.
type Nominal struct {
	Name string
	Def  DefID
	Args []Type
}

func (n *Nominal) String() string {
	if len(n.Args) == 0 {
		return n.Name
	}
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s<%s>", n.Name, strings.Join(parts, ", "))
}

func (n *Nominal) Equals(o Type) bool {
	q, ok := o.(*Nominal)
	if !ok || n.Name != q.Name || len(n.Args) != len(q.Args) {
		return false
	}
	for i := range n.Args {
		if !n.Args[i].Equals(q.Args[i]) {
			return false
		}
	}
	return true
}

func (n *Nominal) Substitute(s map[string]Type) Type {
	args := make([]Type, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.Substitute(s)
	}
	return &Nominal{Name: n.Name, Def: n.Def, Args: args}
}

// Param is a type parameter bound to a generic scope. It survives only
// during checking; monomorphized MIR never mentions one.
type Param struct {
	Name string
}

func (p *Param) String() string { return p.Name }

func (p *Param) Equals(o Type) bool {
	q, ok := o.(*Param)
	return ok && p.Name == q.Name
}

func (p *Param) Substitute(s map[string]Type) Type {
	if t, ok := s[p.Name]; ok {
		return t
	}
	return p
}

// Func is a function type `(Params...) -> Result`.
type Func struct {
	Params []Type
	Result Type
}

func (f *Func) String() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		parts[i] = p.String()
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(parts, ", "), f.Result)
}

func (f *Func) Equals(o Type) bool {
	q, ok := o.(*Func)
	if !ok || len(f.Params) != len(q.Params) {
		return false
	}
	for i := range f.Params {
		if !f.Params[i].Equals(q.Params[i]) {
			return false
		}
	}
	return f.Result.Equals(q.Result)
}

func (f *Func) Substitute(s map[string]Type) Type {
	params := make([]Type, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Substitute(s)
	}
	return &Func{Params: params, Result: f.Result.Substitute(s)}
}

// Never is the bottom type of a non-returning expression.
type Never struct{}

func (n *Never) String() string { return "never" }

func (n *Never) Equals(o Type) bool {
	_, ok := o.(*Never)
	return ok
}

func (n *Never) Substitute(map[string]Type) Type { return n }

// Refinement is a base type plus a predicate over an implicit `self`
// binding. The predicate is carried as an opaque handle into the typed
// AST (a PredID into the linked program's predicate table) so the type
// itself stays cycle-free.
type Refinement struct {
	Base Type
	Pred PredID
	// Src is the predicate's source text, used for printing and for
	// structural comparison of refinements in diagnostics.
	Src string
}

func (r *Refinement) String() string { return r.Base.String() + " where " + r.Src }

func (r *Refinement) Equals(o Type) bool {
	q, ok := o.(*Refinement)
	return ok && r.Base.Equals(q.Base) && r.Pred == q.Pred
}

func (r *Refinement) Substitute(s map[string]Type) Type {
	return &Refinement{Base: r.Base.Substitute(s), Pred: r.Pred, Src: r.Src}
}

// ---------------------------------------------------------------------------
// Ids into the linked program's flat tables

// DefID indexes a definition (function, struct, enum, trait, impl,
// alias) in the linked program. Cross-references between nodes always
// go through an id, never a pointer back up the tree.
type DefID int

// NoDef marks an unresolved or error definition reference.
const NoDef DefID = -1

// PredID indexes a refinement predicate in the linked program's
// predicate table.
type PredID int

// Underlying strips refinement wrappers, yielding the representation
// type (codegen and MIR operate on the base; the predicate matters
// only to the checker and verifier).
func Underlying(t Type) Type {
	for {
		r, ok := t.(*Refinement)
		if !ok {
			return t
		}
		t = r.Base
	}
}

// IsOption reports whether t is the built-in option nominal the
// postfix `?` type desugars to, and returns its payload.
func IsOption(t Type) (Type, bool) {
	n, ok := Underlying(t).(*Nominal)
	if !ok || n.Name != OptionName || len(n.Args) != 1 {
		return nil, false
	}
	return n.Args[0], true
}

// OptionName is the nominal the surface `T?` desugars to during
// elaboration.
const OptionName = "Option"

// NewOption wraps a payload type in the built-in option nominal.
func NewOption(payload Type) *Nominal {
	return &Nominal{Name: OptionName, Def: NoDef, Args: []Type{payload}}
}

// HasFreeParams reports whether any type parameter remains anywhere in
// t. Monomorphized MIR must never see one.
func HasFreeParams(t Type) bool {
	switch v := t.(type) {
	case *Param:
		return true
	case *Ref:
		return HasFreeParams(v.Elem)
	case *Ptr:
		return HasFreeParams(v.Elem)
	case *Array:
		return HasFreeParams(v.Elem)
	case *Slice:
		return HasFreeParams(v.Elem)
	case *Tuple:
		for _, e := range v.Elems {
			if HasFreeParams(e) {
				return true
			}
		}
	case *Nominal:
		for _, a := range v.Args {
			if HasFreeParams(a) {
				return true
			}
		}
	case *Func:
		for _, p := range v.Params {
			if HasFreeParams(p) {
				return true
			}
		}
		return HasFreeParams(v.Result)
	case *Refinement:
		return HasFreeParams(v.Base)
	}
	return false
}
