package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

func checkSource(t *testing.T, src string) (*typedast.Program, *diag.Reporter) {
	t.Helper()
	rep := diag.NewReporter()
	r := resolve.New(nil, false, source.NewMap(), rep)
	prog := r.LoadRootSource("test", []byte(src))
	typed := Check(prog, rep)
	return typed, rep
}

func errorReports(rep *diag.Reporter) []*diag.Report {
	var out []*diag.Report
	for _, r := range rep.All() {
		if r.Sev == diag.Error {
			out = append(out, r)
		}
	}
	return out
}

func hasCode(rep *diag.Reporter, code string) bool {
	for _, r := range rep.All() {
		if r.Code == code {
			return true
		}
	}
	return false
}

func fnByName(p *typedast.Program, name string) *typedast.Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func TestCheckDivideContracts(t *testing.T) {
	typed, rep := checkSource(t, `fn divide(a: i64, b: i64) -> i64 pre b != 0 post ret * b == a = a / b;`)
	require.Empty(t, errorReports(rep))

	fn := fnByName(typed, "divide")
	require.NotNil(t, fn)
	require.Len(t, fn.Contracts, 2)
	assert.Equal(t, ast.Precondition, fn.Contracts[0].Kind)
	assert.True(t, fn.Contracts[0].Pred.Type().Equals(types.TBool))
	assert.Equal(t, ast.Postcondition, fn.Contracts[1].Kind)
	assert.True(t, fn.Contracts[1].Pred.Type().Equals(types.TBool))
	assert.True(t, fn.Body.Type().Equals(types.TI64))
}

func TestGenericInference(t *testing.T) {
	typed, rep := checkSource(t, `fn id<T>(x: T) -> T = x; fn main() -> i64 = id(42);`)
	require.Empty(t, errorReports(rep))

	m := fnByName(typed, "main")
	require.NotNil(t, m)
	call, ok := m.Body.(*typedast.Call)
	require.True(t, ok)
	require.Len(t, call.TypeArgs, 1)
	assert.True(t, call.TypeArgs[0].Equals(types.TI64), "T must infer to i64, got %s", call.TypeArgs[0])
	assert.True(t, call.Type().Equals(types.TI64))
}

func TestInferenceFailureDiagnosed(t *testing.T) {
	_, rep := checkSource(t, `fn pair<T, U>(x: T) -> T = x; fn main() -> i64 = pair(1);`)
	assert.True(t, hasCode(rep, diag.TYP002), "unconstrained U must report an inference failure")
}

func TestTraitStaticResolution(t *testing.T) {
	typed, rep := checkSource(t, `
trait Show { fn show(self) -> i64; }
struct P { v: i64 }
impl Show for P { fn show(self) -> i64 = self.v; }
fn use_p(p: P) -> i64 = p.show();`)
	require.Empty(t, errorReports(rep))

	fn := fnByName(typed, "use_p")
	mc, ok := fn.Body.(*typedast.MethodCall)
	require.True(t, ok)
	assert.True(t, mc.Static, "a concrete receiver resolves statically")
	assert.NotEqual(t, types.NoDef, mc.Trait)
	assert.NotEqual(t, types.NoDef, mc.Impl)
	assert.True(t, mc.Type().Equals(types.TI64))
}

func TestNoSuchMethod(t *testing.T) {
	_, rep := checkSource(t, `struct P { v: i64 } fn f(p: P) -> i64 = p.missing();`)
	assert.True(t, hasCode(rep, diag.TRT001))
}

func TestAmbiguousMethod(t *testing.T) {
	_, rep := checkSource(t, `
trait A { fn get(self) -> i64; }
trait B { fn get(self) -> i64; }
struct P { v: i64 }
impl A for P { fn get(self) -> i64 = 1; }
impl B for P { fn get(self) -> i64 = 2; }
fn f(p: P) -> i64 = p.get();`)
	assert.True(t, hasCode(rep, diag.TRT002))
}

func TestTypeMismatchCarriesBothSides(t *testing.T) {
	_, rep := checkSource(t, `fn f() -> i64 = true;`)
	var found *diag.Report
	for _, r := range rep.All() {
		if r.Code == diag.TYP001 {
			found = r
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "i64", found.Data["expected"])
	assert.Equal(t, "bool", found.Data["actual"])
}

func TestAliasCycleIsHardError(t *testing.T) {
	_, rep := checkSource(t, `type A = B; type B = A; fn f() -> i64 = 0;`)
	assert.True(t, hasCode(rep, diag.TYP003))
}

func TestRefinementPredicateMustBeBool(t *testing.T) {
	_, rep := checkSource(t, `type Nat = i64 where self + 1; fn f() -> i64 = 0;`)
	assert.NotEmpty(t, errorReports(rep))
}

func TestRefinementAccepted(t *testing.T) {
	typed, rep := checkSource(t, `type Nat = i64 where self >= 0; fn f(n: Nat) -> i64 = n;`)
	require.Empty(t, errorReports(rep))
	require.Len(t, typed.Preds, 1)
	assert.True(t, typed.Preds[0].Pred.Type().Equals(types.TBool))
}

func TestNullableWithoutNarrowingRejected(t *testing.T) {
	_, rep := checkSource(t, `fn f(x: i64?) -> i64 = x;`)
	assert.True(t, hasCode(rep, diag.TYP005))
}

func TestNullableNarrowedByMatch(t *testing.T) {
	_, rep := checkSource(t, `
fn f(x: i64?) -> i64 = match x {
  Option::Some(v) => v,
  Option::None => 0,
};`)
	require.Empty(t, errorReports(rep))
}

func TestMatchExhaustiveness(t *testing.T) {
	_, rep := checkSource(t, `
enum Color { Red, Green, Blue }
fn f(c: Color) -> i64 = match c {
  Color::Red => 0,
  Color::Green => 1,
};`)
	assert.True(t, hasCode(rep, diag.TYP006))
}

func TestWildcardOverFullCoverageWarns(t *testing.T) {
	_, rep := checkSource(t, `
enum Color { Red, Green }
fn f(c: Color) -> i64 = match c {
  Color::Red => 0,
  Color::Green => 1,
  _ => 2,
};`)
	assert.True(t, hasCode(rep, diag.TYP007))
	assert.Empty(t, errorReports(rep))
}

func TestBlockBodyRequiresReturn(t *testing.T) {
	_, rep := checkSource(t, `fn f(x: i64) -> i64 { let y = x; }`)
	assert.True(t, hasCode(rep, diag.TYP010))
}

func TestTrailingExpressionInBlockBodyRejected(t *testing.T) {
	_, rep := checkSource(t, `fn f(x: i64) -> i64 = { x };`)
	assert.True(t, hasCode(rep, diag.PAR003))
}

func TestAssignToImmutableRejected(t *testing.T) {
	_, rep := checkSource(t, `fn f() -> i64 = { let x = 1; x = 2; return x; };`)
	assert.True(t, hasCode(rep, diag.TYP008))
}

func TestVarAssignAccepted(t *testing.T) {
	_, rep := checkSource(t, `fn f() -> i64 = { var x = 1; x = 2; return x; };`)
	require.Empty(t, errorReports(rep))
}

func TestMissingPostconditionWarning(t *testing.T) {
	_, rep := checkSource(t, `
fn sum(n: i64) -> i64 pre n >= 0 = {
  var s = 0;
  var i = 0;
  while i < n invariant i >= 0 {
    s = s + i; i = i + 1;
  }
  return s;
};`)
	assert.Empty(t, errorReports(rep))
	assert.True(t, hasCode(rep, diag.CTR004))
}

func TestTautologicalContractWarning(t *testing.T) {
	_, rep := checkSource(t, `fn f(x: i64) -> i64 pre true = x;`)
	assert.True(t, hasCode(rep, diag.CTR003))
	assert.Empty(t, errorReports(rep))
}

func TestDuplicateContractWarning(t *testing.T) {
	_, rep := checkSource(t, `fn f(x: i64) -> i64 pre x > 0 pre x > 0 = x;`)
	assert.True(t, hasCode(rep, diag.CTR002))
}

func TestLambdaCaptures(t *testing.T) {
	typed, rep := checkSource(t, `
fn make(base: i64) -> i64 = {
  let add = |x: i64| x + base;
  return add(1);
};`)
	require.Empty(t, errorReports(rep))
	fn := fnByName(typed, "make")
	var lam *typedast.Lambda
	walk(fn.Body, func(x typedast.Expr) bool {
		if l, ok := x.(*typedast.Lambda); ok {
			lam = l
		}
		return true
	})
	require.NotNil(t, lam)
	require.Len(t, lam.Captures, 1)
	assert.Equal(t, "base", lam.Captures[0].Name)
	assert.Equal(t, 0, lam.Captures[0].Index)
}

func TestOldOnlyInPostcondition(t *testing.T) {
	_, rep := checkSource(t, `fn f(x: i64) -> i64 pre old(x) > 0 = x;`)
	assert.True(t, hasCode(rep, diag.CTR001))
}

func TestTypedNodesAreSubstitutionFixedPoints(t *testing.T) {
	typed, rep := checkSource(t, `fn id<T>(x: T) -> T = x; fn main() -> i64 = id(7);`)
	require.Empty(t, errorReports(rep))
	m := fnByName(typed, "main")
	walk(m.Body, func(x typedast.Expr) bool {
		assert.False(t, types.HasFreeParams(x.Type()),
			"monomorphic context must carry no residual type parameters, found %s", x.Type())
		return true
	})
}

func TestEnumPayloadChecking(t *testing.T) {
	_, rep := checkSource(t, `
enum Opt<T> { Some(T), None }
fn f() -> Opt<i64> = Opt::Some(true);`)
	assert.NotEmpty(t, errorReports(rep))
}
