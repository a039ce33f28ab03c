package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/source"
)

func parseSource(t *testing.T, src string) (*ast.File, *Parser) {
	t.Helper()
	unit := source.NewUnit("test.bmb", []byte(src))
	p := New(unit)
	f := p.ParseFile()
	return f, p
}

func parseOK(t *testing.T, src string) *ast.File {
	t.Helper()
	f, p := parseSource(t, src)
	require.Empty(t, p.Errors(), "expected no parse errors")
	return f
}

func TestParseExprBodiedFunction(t *testing.T) {
	f := parseOK(t, `fn divide(a: i64, b: i64) -> i64 pre b != 0 post ret * b == a = a / b;`)
	require.Len(t, f.Items, 1)

	fn, ok := f.Items[0].(*ast.FuncDecl)
	require.True(t, ok)
	assert.Equal(t, "divide", fn.Name)
	require.Len(t, fn.Params, 2)
	assert.Equal(t, "a", fn.Params[0].Name)
	require.Len(t, fn.Contracts, 2)
	assert.Equal(t, ast.Precondition, fn.Contracts[0].Kind)
	assert.Equal(t, ast.Postcondition, fn.Contracts[1].Kind)
	require.NotNil(t, fn.Body)
	require.NotNil(t, fn.Body.Expr)

	div, ok := fn.Body.Expr.(*ast.BinOp)
	require.True(t, ok)
	assert.Equal(t, "/", div.Op)
}

func TestParseBlockBodyWithLoop(t *testing.T) {
	f := parseOK(t, `
fn sum(n: i64) -> i64 pre n >= 0 post ret >= 0 = {
  var i = 0; var s = 0;
  while i < n invariant i >= 0 and s >= 0 {
    s = s + i; i = i + 1;
  }
  return s;
}`)
	fn := f.Items[0].(*ast.FuncDecl)
	require.NotNil(t, fn.Body.Expr)
	block, ok := fn.Body.Expr.(*ast.BlockExpr)
	require.True(t, ok)
	require.Len(t, block.Stmts, 4)

	w, ok := block.Stmts[2].(*ast.ExprStmt).Expr.(*ast.WhileExpr)
	require.True(t, ok)
	require.Len(t, w.Invariants, 1)
	assert.Equal(t, ast.LoopInvariant, w.Invariants[0].Kind)

	// `i >= 0 and s >= 0` folds the keyword form onto `&&`.
	inv, ok := w.Invariants[0].Expr.(*ast.BinOp)
	require.True(t, ok)
	assert.Equal(t, "&&", inv.Op)

	_, ok = block.Stmts[3].(*ast.ExprStmt).Expr.(*ast.ReturnExpr)
	require.True(t, ok)
}

func TestPrecedenceImpliesLoosest(t *testing.T) {
	f := parseOK(t, `fn p(a: bool, b: bool, c: bool) -> bool = a && b implies c or a;`)
	fn := f.Items[0].(*ast.FuncDecl)
	top, ok := fn.Body.Expr.(*ast.BinOp)
	require.True(t, ok)
	assert.Equal(t, "implies", top.Op)

	left, ok := top.Left.(*ast.BinOp)
	require.True(t, ok)
	assert.Equal(t, "&&", left.Op)

	right, ok := top.Right.(*ast.BinOp)
	require.True(t, ok)
	assert.Equal(t, "||", right.Op)
}

func TestBitwiseKeywordsBindAdditive(t *testing.T) {
	f := parseOK(t, `fn m(a: i64, b: i64) -> i64 = a band b * 2;`)
	fn := f.Items[0].(*ast.FuncDecl)
	top := fn.Body.Expr.(*ast.BinOp)
	assert.Equal(t, "band", top.Op)
	mul := top.Right.(*ast.BinOp)
	assert.Equal(t, "*", mul.Op)
}

func TestWrappingSaturatingCheckedOperators(t *testing.T) {
	f := parseOK(t, `fn w(a: i64, b: i64) -> i64 = a +% b *| a -? b;`)
	fn := f.Items[0].(*ast.FuncDecl)
	// *| binds tighter than +% and -?; shape is (a +% (b *| a)) -? b.
	top := fn.Body.Expr.(*ast.BinOp)
	assert.Equal(t, "-?", top.Op)
	add := top.Left.(*ast.BinOp)
	assert.Equal(t, "+%", add.Op)
	mul := add.Right.(*ast.BinOp)
	assert.Equal(t, "*|", mul.Op)
}

func TestParseStructEnumTraitImpl(t *testing.T) {
	f := parseOK(t, `
struct P { v: i64 }
enum Opt<T> { Some(T), None }
trait Show { fn show(self) -> i64; }
impl Show for P { fn show(self) -> i64 = self.v; }
fn use_p(p: P) -> i64 = p.show();`)
	require.Len(t, f.Items, 5)

	e := f.Items[1].(*ast.EnumDecl)
	require.Len(t, e.Variants, 2)
	assert.Equal(t, "Some", e.Variants[0].Name)
	require.Len(t, e.Variants[0].Fields, 1)

	tr := f.Items[2].(*ast.TraitDecl)
	require.Len(t, tr.Methods, 1)
	assert.Nil(t, tr.Methods[0].Body)

	im := f.Items[3].(*ast.ImplDecl)
	assert.Equal(t, "Show", im.Trait)
	require.Len(t, im.Methods, 1)

	use := f.Items[4].(*ast.FuncDecl)
	mc, ok := use.Body.Expr.(*ast.MethodCall)
	require.True(t, ok)
	assert.Equal(t, "show", mc.Method)
}

func TestParseGenericsAndCalls(t *testing.T) {
	f := parseOK(t, `fn id<T>(x: T) -> T = x; fn main() -> i64 = id(42);`)
	id := f.Items[0].(*ast.FuncDecl)
	require.Len(t, id.Generics, 1)
	assert.Equal(t, "T", id.Generics[0].Name)

	m := f.Items[1].(*ast.FuncDecl)
	call, ok := m.Body.Expr.(*ast.Call)
	require.True(t, ok)
	require.Len(t, call.Args, 1)
}

func TestParseMatchWithGuardsAndAlternation(t *testing.T) {
	f := parseOK(t, `
fn classify(o: Opt<i64>) -> i64 = match o {
  Opt::Some(x) if x > 0 => x,
  Opt::Some(0) | Opt::None => 0,
  _ => 1,
};`)
	fn := f.Items[0].(*ast.FuncDecl)
	m := fn.Body.Expr.(*ast.MatchExpr)
	require.Len(t, m.Arms, 3)
	assert.NotNil(t, m.Arms[0].Guard)

	or, ok := m.Arms[1].Pattern.(*ast.OrPattern)
	require.True(t, ok)
	require.Len(t, or.Alts, 2)

	_, ok = m.Arms[2].Pattern.(*ast.WildcardPattern)
	require.True(t, ok)
}

func TestParseLambdaAndClosureCall(t *testing.T) {
	f := parseOK(t, `fn apply() -> i64 = {
  let add = |x: i64, y: i64| x + y;
  return add(1, 2);
};`)
	fn := f.Items[0].(*ast.FuncDecl)
	block := fn.Body.Expr.(*ast.BlockExpr)
	let := block.Stmts[0].(*ast.LetExpr)
	lam, ok := let.Value.(*ast.LambdaExpr)
	require.True(t, ok)
	require.Len(t, lam.Params, 2)
}

func TestRefinementTypeAlias(t *testing.T) {
	f := parseOK(t, `type Nat = i64 where self >= 0;`)
	alias := f.Items[0].(*ast.TypeAliasDecl)
	ref, ok := alias.Target.(*ast.RefinementType)
	require.True(t, ok)
	cmp, ok := ref.Predicate.(*ast.BinOp)
	require.True(t, ok)
	assert.Equal(t, ">=", cmp.Op)
}

func TestNullableTypePostfix(t *testing.T) {
	f := parseOK(t, `fn find(i: i64) -> i64? = none_of(i);`)
	fn := f.Items[0].(*ast.FuncDecl)
	_, ok := fn.ReturnType.(*ast.NullableType)
	require.True(t, ok)
}

func TestQuestionPostfixRejected(t *testing.T) {
	_, p := parseSource(t, `fn f(x: i64?) -> i64 = x?;`)
	require.NotEmpty(t, p.Errors())
	found := false
	for _, e := range p.Errors() {
		if e.Code == "PAR004" {
			found = true
		}
	}
	assert.True(t, found, "expected PAR004 for `?` in expression position")
}

func TestTrustAttributeRequiresReason(t *testing.T) {
	_, p := parseSource(t, `@trust fn f() -> i64 = 0;`)
	require.NotEmpty(t, p.Errors())
	assert.Equal(t, "VER003", p.Errors()[0].Code)

	f2, p2 := parseSource(t, `@trust("external axiom") fn g() -> i64 = 0;`)
	require.Empty(t, p2.Errors())
	fn := f2.Items[0].(*ast.FuncDecl)
	assert.Equal(t, "external axiom", fn.Attr("trust").TrustReason())
}

func TestErrorRecoveryContinuesPastBadItem(t *testing.T) {
	f, p := parseSource(t, `
fn broken( = ;
fn ok(x: i64) -> i64 = x;`)
	require.NotEmpty(t, p.Errors())
	var names []string
	for _, it := range f.Items {
		if fn, ok := it.(*ast.FuncDecl); ok {
			names = append(names, fn.Name)
		}
	}
	assert.Contains(t, names, "ok", "parser must recover and keep parsing later items")
}

func TestEmptyBlockBodyParses(t *testing.T) {
	f := parseOK(t, `fn noop() { }`)
	fn := f.Items[0].(*ast.FuncDecl)
	require.NotNil(t, fn.Body.Block)
	assert.Empty(t, fn.Body.Block.Stmts)
	assert.Nil(t, fn.Body.Block.Trailing)
}

func TestStructLiteralVsBlockInCondition(t *testing.T) {
	f := parseOK(t, `fn f(p: P) -> i64 = {
  if p.v > 0 { return 1; }
  return 0;
};`)
	fn := f.Items[0].(*ast.FuncDecl)
	block := fn.Body.Expr.(*ast.BlockExpr)
	ifStmt, ok := block.Stmts[0].(*ast.ExprStmt).Expr.(*ast.IfExpr)
	require.True(t, ok)
	_, ok = ifStmt.Cond.(*ast.BinOp)
	require.True(t, ok)
}

func TestEnumCtorExpression(t *testing.T) {
	f := parseOK(t, `fn some(x: i64) -> Opt<i64> = Opt::Some(x);`)
	fn := f.Items[0].(*ast.FuncDecl)
	ec, ok := fn.Body.Expr.(*ast.EnumCtor)
	require.True(t, ok)
	assert.Equal(t, "Opt", ec.Enum)
	assert.Equal(t, "Some", ec.Variant)
	require.Len(t, ec.Args, 1)
}

func TestSpansCoverItems(t *testing.T) {
	src := `fn a() -> i64 = 1;`
	f := parseOK(t, src)
	fn := f.Items[0].(*ast.FuncDecl)
	sp := fn.Span()
	assert.Equal(t, 0, sp.Start)
	assert.Equal(t, len(src), sp.End)
}
