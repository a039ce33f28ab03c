// Package ast defines the surface abstract syntax tree produced by
// the parser. The AST is a directed tree with no sharing; every
// node carries a source.Span.
package ast

import (
	"fmt"
	"strings"

	"github.com/bmb-lang/bmbc/internal/source"
)

// Node is the base interface implemented by every AST node.
type Node interface {
	Span() source.Span
	String() string
}

// Expr is any expression node.
type Expr interface {
	Node
	exprNode()
}

// Stmt is any statement node.
type Stmt interface {
	Node
	stmtNode()
}

// TypeExpr is a type written in source syntax, before elaboration
// resolves it to a types.Type.
type TypeExpr interface {
	Node
	typeNode()
}

// Pattern is a pattern used in `let`, `match` arms, and function
// parameters.
type Pattern interface {
	Node
	patternNode()
}

// Item is any top-level declaration.
type Item interface {
	Node
	itemNode()
}

// base is embedded by every node to provide the Span()/SetSpan()
// machinery. It is unexported, but SetSpan and Span are exported and
// promoted, so callers outside this package construct a node with a
// plain composite literal and then call n.SetSpan(span).
type base struct{ sp source.Span }

func (b base) Span() source.Span    { return b.sp }
func (b *base) SetSpan(s source.Span) { b.sp = s }

// ---------------------------------------------------------------------------
// File and module structure

// File is one parsed translation unit.
type File struct {
	base
	Module  *ModuleDecl
	Imports []*ImportDecl
	Items   []Item
}

func (f *File) String() string {
	var parts []string
	if f.Module != nil {
		parts = append(parts, f.Module.String())
	}
	for _, i := range f.Imports {
		parts = append(parts, i.String())
	}
	for _, it := range f.Items {
		parts = append(parts, it.String())
	}
	return strings.Join(parts, "\n")
}

// ModuleDecl names the module a file belongs to.
type ModuleDecl struct {
	base
	Path string
}

func (m *ModuleDecl) String() string { return "module " + m.Path }

// ImportDecl loads public items from another module. The
// dotted-name → filesystem mapping is applied by the resolver.
type ImportDecl struct {
	base
	Path    string
	Symbols []string
}

func (i *ImportDecl) itemNode() {}
func (i *ImportDecl) String() string {
	if len(i.Symbols) > 0 {
		return fmt.Sprintf("import %s (%s)", i.Path, strings.Join(i.Symbols, ", "))
	}
	return "import " + i.Path
}

// ---------------------------------------------------------------------------
// Attributes

// Attribute is a source-level attribute: trust("reason"), derive(...),
// cfg(...), inline, test.
type Attribute struct {
	base
	Name string
	Args []string
}

func (a *Attribute) String() string {
	if len(a.Args) == 0 {
		return a.Name
	}
	return fmt.Sprintf("%s(%s)", a.Name, strings.Join(a.Args, ", "))
}

// TrustReason returns the mandatory justification string of a `trust`
// attribute, or "" if this is not a trust attribute.
func (a *Attribute) TrustReason() string {
	if a.Name != "trust" || len(a.Args) == 0 {
		return ""
	}
	return a.Args[0]
}

// ---------------------------------------------------------------------------
// Contracts

// ContractKind tags the role a predicate plays.
type ContractKind int

const (
	Precondition ContractKind = iota
	Postcondition
	LoopInvariant
	Decreases
)

func (k ContractKind) String() string {
	switch k {
	case Precondition:
		return "pre"
	case Postcondition:
		return "post"
	case LoopInvariant:
		return "invariant"
	case Decreases:
		return "decreases"
	default:
		return "contract"
	}
}

// Contract is a single pre/post/invariant/decreases clause attached
// to a function or loop.
type Contract struct {
	base
	Kind ContractKind
	Expr Expr
}

func (c *Contract) String() string { return fmt.Sprintf("%s %s", c.Kind, c.Expr) }

// ---------------------------------------------------------------------------
// Items

// Param is a single function parameter.
type Param struct {
	base
	Name string
	Type TypeExpr
}

func (p *Param) String() string { return fmt.Sprintf("%s: %s", p.Name, p.Type) }

// GenericParam is a type parameter with optional trait bounds from a
// where-clause.
type GenericParam struct {
	base
	Name   string
	Bounds []string // trait names required by the where-clause
}

// FuncBody is either an expression body (`= expr`) or a block body
// (`{ ... }`). Exactly one of Expr/Block is set; the distinction
// matters because block bodies require an explicit `return` on every
// path.
type FuncBody struct {
	Expr  Expr
	Block *BlockExpr
}

func (b FuncBody) String() string {
	if b.Expr != nil {
		return "= " + b.Expr.String()
	}
	if b.Block != nil {
		return b.Block.String()
	}
	return "{}"
}

// FuncDecl is a `fn` item, `impl` method, or `trait` method signature
// (Body is nil for a signature-only trait method).
type FuncDecl struct {
	base
	Name       string
	Generics   []*GenericParam
	Params     []*Param
	ReturnType TypeExpr
	Contracts  []*Contract
	Attrs      []*Attribute
	IsPure     bool
	IsExtern   bool
	Body       *FuncBody
}

func (f *FuncDecl) itemNode() {}
func (f *FuncDecl) String() string {
	names := make([]string, len(f.Params))
	for i, p := range f.Params {
		names[i] = p.String()
	}
	return fmt.Sprintf("fn %s(%s) -> %s %s", f.Name, strings.Join(names, ", "), f.ReturnType, f.Body)
}

// Attr returns a function's attribute by name, or nil.
func (f *FuncDecl) Attr(name string) *Attribute {
	for _, a := range f.Attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// StructField is one field of a struct item.
type StructField struct {
	base
	Name string
	Type TypeExpr
}

// StructDecl is a `struct` item.
type StructDecl struct {
	base
	Name     string
	Generics []*GenericParam
	Fields   []*StructField
	Attrs    []*Attribute
}

func (s *StructDecl) itemNode() {}
func (s *StructDecl) String() string { return "struct " + s.Name }

// EnumVariant is one variant of an `enum`, with an optional
// tuple-style payload.
type EnumVariant struct {
	base
	Name   string
	Fields []TypeExpr
}

// EnumDecl is an `enum` item with payload-bearing variants.
type EnumDecl struct {
	base
	Name     string
	Generics []*GenericParam
	Variants []*EnumVariant
	Attrs    []*Attribute
}

func (e *EnumDecl) itemNode() {}
func (e *EnumDecl) String() string { return "enum " + e.Name }

// TraitDecl declares an interface of method signatures.
type TraitDecl struct {
	base
	Name    string
	Methods []*FuncDecl
}

func (t *TraitDecl) itemNode() {}
func (t *TraitDecl) String() string { return "trait " + t.Name }

// ImplDecl implements a trait for a concrete (possibly generic) type,
// or provides inherent methods when Trait == "".
type ImplDecl struct {
	base
	Generics []*GenericParam
	Trait    string
	Target   TypeExpr
	Where    []*GenericParam
	Methods  []*FuncDecl
}

func (i *ImplDecl) itemNode() {}
func (i *ImplDecl) String() string {
	if i.Trait != "" {
		return fmt.Sprintf("impl %s for %s", i.Trait, i.Target)
	}
	return fmt.Sprintf("impl %s", i.Target)
}

// TypeAliasDecl is a `type Name = TypeExpr` item, optionally a
// refinement (`type Name = Base where pred`).
type TypeAliasDecl struct {
	base
	Name     string
	Generics []*GenericParam
	Target   TypeExpr
}

func (t *TypeAliasDecl) itemNode() {}
func (t *TypeAliasDecl) String() string { return fmt.Sprintf("type %s = %s", t.Name, t.Target) }

// ExternFuncDecl declares a function implemented outside the unit
// (runtime support, link-time symbol).
type ExternFuncDecl struct {
	base
	Name       string
	Params     []*Param
	ReturnType TypeExpr
}

func (e *ExternFuncDecl) itemNode() {}
func (e *ExternFuncDecl) String() string { return "extern fn " + e.Name }
