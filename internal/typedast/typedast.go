// Package typedast is the elaborated program form: every expression
// carries its resolved type, every name reference its definition id,
// every call site its type arguments, and every method call its
// resolved (trait, impl) pair.
package typedast

import (
	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/types"
)

// Expr is a typed expression. The annotated type is a fixed point of
// substitution: no residual type-parameter names survive elaboration
// of a monomorphic context.
type Expr interface {
	Type() types.Type
	Span() source.Span
}

type Base struct {
	Ty types.Type
	Sp source.Span
}

func (b Base) Type() types.Type  { return b.Ty }
func (b Base) Span() source.Span { return b.Sp }


// ---------------------------------------------------------------------------
// Atoms

// Lit is a typed literal.
type Lit struct {
	Base
	Kind  ast.LiteralKind
	Value interface{}
}

// VarKind distinguishes how a name reference resolved.
type VarKind int

const (
	LocalVar  VarKind = iota // parameter or let/var binding
	GlobalVar                // top-level function or constant, via Def
	SelfVar                  // implicit receiver inside a refinement or method
	RetVar                   // `ret` inside a postcondition
)

// Var is a resolved name reference.
type Var struct {
	Base
	Name string
	Kind VarKind
	Def  types.DefID // valid when Kind == GlobalVar
}

// Old is `old(e)` inside a postcondition: e evaluated in the pre-state.
type Old struct {
	Base
	Inner Expr
}

// ---------------------------------------------------------------------------
// Operators

type BinOp struct {
	Base
	Op          string
	Left, Right Expr
}

type UnaryOp struct {
	Base
	Op   string
	Expr Expr
}

type Cast struct {
	Base
	Expr Expr
	To   types.Type
}

// ---------------------------------------------------------------------------
// Calls

// Call is a direct call to a top-level function. TypeArgs carries the
// inferred or explicit instantiation, keyed in declaration order of
// the callee's generic parameters.
type Call struct {
	Base
	Callee   types.DefID
	Name     string
	TypeArgs []types.Type
	Args     []Expr
}

// CallIndirect applies a first-class function value (a closure or a
// function-typed parameter).
type CallIndirect struct {
	Base
	Func Expr
	Args []Expr
}

// MethodCall is a resolved `recv.method(args)`. Trait and Impl
// identify the resolution; Static marks a call whose receiver type is
// concrete, so codegen emits a direct call.
type MethodCall struct {
	Base
	Receiver Expr
	Method   string
	Trait    types.DefID
	Impl     types.DefID
	Target   types.DefID // the impl method's own function def
	Static   bool
	Args     []Expr
}

// ---------------------------------------------------------------------------
// Aggregates

type Tuple struct {
	Base
	Elems []Expr
}

type ArrayLit struct {
	Base
	Elems []Expr
}

type StructLit struct {
	Base
	Def    types.DefID
	Fields []StructFieldInit
}

type StructFieldInit struct {
	Name  string
	Index int
	Value Expr
}

type EnumCtor struct {
	Base
	Def     types.DefID
	Variant string
	Tag     int
	Args    []Expr
}

type FieldAccess struct {
	Base
	Expr  Expr
	Field string
	Index int
}

type Index struct {
	Base
	Expr  Expr
	Index Expr
}

// ---------------------------------------------------------------------------
// Control flow

type If struct {
	Base
	Cond Expr
	Then Expr
	Else Expr // nil when the if is unit-valued with no else
}

type MatchArm struct {
	Pattern Pattern
	Guard   Expr // nil when absent
	Body    Expr
}

type Match struct {
	Base
	Scrutinee Expr
	Arms      []MatchArm
}

type While struct {
	Base
	Cond       Expr
	Invariants []Contract
	Body       Expr
}

type For struct {
	Base
	Binding    Pattern
	Iter       Expr
	Invariants []Contract
	Body       Expr
}

type Loop struct {
	Base
	Invariants []Contract
	Body       Expr
}

type Break struct {
	Base
	Value Expr // nil for bare break
}

type Continue struct{ Base }

type Return struct {
	Base
	Value Expr // nil for unit return
}

// Block is a statement sequence with an optional trailing value.
type Block struct {
	Base
	Stmts    []Expr
	Trailing Expr // nil when the block is unit-valued
}

// Let binds a pattern; Mutable distinguishes `var` from `let`.
type Let struct {
	Base
	Mutable bool
	Pattern Pattern
	Value   Expr
}

// Assign mutates a var binding or a place projected from one.
type Assign struct {
	Base
	Target Expr
	Value  Expr
}

// Lambda carries the free-variable capture list computed during
// elaboration; each capture is by value.
type Lambda struct {
	Base
	Params   []LambdaParam
	Captures []Capture
	Body     Expr
}

type LambdaParam struct {
	Name string
	Ty   types.Type
}

// Capture is one free variable of a lambda, with its slot index in the
// closure environment.
type Capture struct {
	Name  string
	Ty    types.Type
	Index int
}

type RangeLit struct {
	Base
	Lo, Hi    Expr
	Inclusive bool
}

// ErrorNode marks an expression whose elaboration failed; checking
// continues around it and codegen refuses to run.
type ErrorNode struct{ Base }

// ---------------------------------------------------------------------------
// Patterns

// Pattern is a typed pattern.
type Pattern interface {
	Type() types.Type
	Span() source.Span
}

type WildcardPat struct{ Base }

type LitPat struct {
	Base
	Kind  ast.LiteralKind
	Value interface{}
}

type BindPat struct {
	Base
	Name string
}

type TuplePat struct {
	Base
	Elems []Pattern
}

type StructPat struct {
	Base
	Def    types.DefID
	Fields []StructFieldPat
	Rest   bool
}

type StructFieldPat struct {
	Name    string
	Index   int
	Pattern Pattern
}

type EnumPat struct {
	Base
	Def     types.DefID
	Variant string
	Tag     int
	SubPats []Pattern
}

type RangePat struct {
	Base
	Lo, Hi    interface{} // int64 or float64
	Inclusive bool
}

type OrPat struct {
	Base
	Alts []Pattern
}

// ---------------------------------------------------------------------------
// Contracts and functions

// Contract is a typed contract clause. Pred is bool-typed except for
// a decreases term, which is integer-typed.
type Contract struct {
	Kind ast.ContractKind
	Pred Expr
	Sp   source.Span
}

// Func is a fully elaborated function.
type Func struct {
	Def        types.DefID
	Name       string
	Module     string
	Generics   []GenericParam
	Params     []FuncParam
	Result     types.Type
	Contracts  []Contract
	Body       Expr // nil for extern and trait signatures
	IsPure     bool
	IsExtern   bool
	TrustReason string // non-empty suppresses verification
	Sp         source.Span
}

type GenericParam struct {
	Name   string
	Bounds []string
}

type FuncParam struct {
	Name string
	Ty   types.Type
	Sp   source.Span
}

// Program is the typed whole-program output of the checker, the input
// to MIR lowering and obligation generation.
type Program struct {
	Funcs   []*Func
	ByDef   map[types.DefID]*Func
	Structs map[types.DefID]*StructInfo
	Enums   map[types.DefID]*EnumInfo
	Traits  map[types.DefID]*TraitInfo
	Impls   []*ImplInfo
	// Preds is the refinement-predicate table indexed by types.PredID.
	Preds []PredInfo
	// EntryDef is the `main` function, NoDef when absent.
	EntryDef types.DefID
}

// StructInfo is the elaborated layout of a struct definition.
type StructInfo struct {
	Def      types.DefID
	Name     string
	Generics []GenericParam
	Fields   []StructFieldInfo
}

type StructFieldInfo struct {
	Name string
	Ty   types.Type
}

// FieldIndex returns the declaration index of a field, or -1.
func (s *StructInfo) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// EnumInfo is the elaborated shape of an enum definition.
type EnumInfo struct {
	Def      types.DefID
	Name     string
	Generics []GenericParam
	Variants []EnumVariantInfo
}

type EnumVariantInfo struct {
	Name   string
	Tag    int
	Fields []types.Type
}

// VariantByName returns a variant and its tag, or nil.
func (e *EnumInfo) VariantByName(name string) *EnumVariantInfo {
	for i := range e.Variants {
		if e.Variants[i].Name == name {
			return &e.Variants[i]
		}
	}
	return nil
}

// TraitInfo is a trait definition's method signature set.
type TraitInfo struct {
	Def     types.DefID
	Name    string
	Methods []TraitMethodInfo
}

type TraitMethodInfo struct {
	Name   string
	Params []types.Type // excluding the receiver
	Result types.Type
}

// HasMethod reports whether the trait exports a method name.
func (t *TraitInfo) HasMethod(name string) bool {
	for _, m := range t.Methods {
		if m.Name == name {
			return true
		}
	}
	return false
}

// ImplInfo maps a (trait, target type) pair to its method functions.
type ImplInfo struct {
	Def     types.DefID
	Trait   types.DefID // NoDef for inherent impls
	Target  types.Type
	Generics []GenericParam
	Methods map[string]types.DefID
}

// PredInfo is one refinement predicate: a bool-typed expression over
// an implicit `self` of the Base type.
type PredInfo struct {
	Self types.Type
	Pred Expr
	Src  string
}
