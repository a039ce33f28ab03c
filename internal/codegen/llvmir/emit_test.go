package llvmir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmb-lang/bmbc/internal/check"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/optimize"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/source"
)

func compile(t *testing.T, src string, optimized bool) (string, *diag.Reporter) {
	t.Helper()
	rep := diag.NewReporter()
	r := resolve.New(nil, false, source.NewMap(), rep)
	prog := r.LoadRootSource("test", []byte(src))
	typed := check.Check(prog, rep)
	lowered := mir.Lower(typed, rep)
	require.False(t, rep.HasErrors(), "unexpected errors before emission")
	if optimized {
		optimize.New(nil).Run(lowered)
	}
	e := New(rep, typed, "")
	return e.Emit(lowered), rep
}

func TestEmitDivide(t *testing.T) {
	text, rep := compile(t, `fn divide(a: i64, b: i64) -> i64 pre b != 0 post ret * b == a = a / b;`, false)
	require.False(t, rep.HasErrors())

	assert.Contains(t, text, "target triple = \"x86_64-unknown-linux-gnu\"")
	assert.Contains(t, text, "define i64 @divide(i64 %a, i64 %b)")
	assert.Equal(t, 1, strings.Count(text, "sdiv"), "exactly one sdiv")
	assert.Equal(t, 1, strings.Count(text, "ret i64"), "a single return")
}

func TestEmitDeterminism(t *testing.T) {
	const src = `
fn id<T>(x: T) -> T = x;
fn helper(a: i64) -> i64 = a * 2;
fn main() -> i64 = helper(id(21));`
	first, _ := compile(t, src, true)
	second, _ := compile(t, src, true)
	assert.Equal(t, first, second, "emission is byte-identical across runs")
}

func TestEmitMonomorphizedSymbol(t *testing.T) {
	text, _ := compile(t, `fn id<T>(x: T) -> T = x; fn main() -> i64 = id(42);`, false)
	assert.Contains(t, text, "@id_i64(")
}

func TestEmitStaticTraitDispatch(t *testing.T) {
	text, _ := compile(t, `
trait Show { fn show(self) -> i64; }
struct P { v: i64 }
impl Show for P { fn show(self) -> i64 = self.v; }
fn use_p(p: P) -> i64 = p.show();`, false)
	assert.Contains(t, text, "call i64 @Show_P_show(")
}

func TestEmitRuntimeDeclarations(t *testing.T) {
	text, _ := compile(t, `fn f() -> i64 = 1;`, false)
	for _, sym := range []string{
		"bmb_string_len", "bmb_string_concat", "bmb_string_eq",
		"bmb_vec_alloc", "bmb_vec_push", "bmb_vec_get", "bmb_vec_len",
		"bmb_alloc", "bmb_free", "bmb_box_int", "bmb_argc", "bmb_argv",
	} {
		assert.Contains(t, text, "declare", "runtime surface present")
		assert.Contains(t, text, "@"+sym)
	}
}

func TestEmitMainShim(t *testing.T) {
	text, _ := compile(t, `fn main() -> i64 = 0;`, false)
	assert.Contains(t, text, "define i64 @bmb_user_main()")
	assert.Contains(t, text, "define i32 @main()")
}

func TestBoundsCheckElidedAfterOptimization(t *testing.T) {
	const src = `fn get(arr: &[i64], i: usize) -> i64 pre i < len(arr) = arr[i];`

	rep := diag.NewReporter()
	r := resolve.New(nil, false, source.NewMap(), rep)
	prog := r.LoadRootSource("test", []byte(src))
	typed := check.Check(prog, rep)
	lowered := mir.Lower(typed, rep)
	require.False(t, rep.HasErrors())

	// With the check discharged, the access is a direct
	// getelementptr+load with no branch to the panic path.
	o := optimize.New(dischargeAll{})
	o.Run(lowered)
	text := New(rep, typed, "").Emit(lowered)
	assert.NotContains(t, text, "call void @bmb_panic_bounds", "no bounds branch survives")
	assert.Contains(t, text, "getelementptr")
	assert.Contains(t, text, "load i64")
}

type dischargeAll struct{}

func (dischargeAll) IndexInBounds(*mir.Function, mir.BlockID, mir.Operand, mir.Operand) bool {
	return true
}
func (dischargeAll) NonAliasing(*mir.Function, mir.LocalID, mir.LocalID) bool { return false }

// noAliasOracle additionally certifies that reference parameters never
// alias, as a non-aliasing contract would.
type noAliasOracle struct{ dischargeAll }

func (noAliasOracle) NonAliasing(*mir.Function, mir.LocalID, mir.LocalID) bool { return true }

func TestNoAliasContractEmitsScopeMetadata(t *testing.T) {
	const src = `fn dot(a: &[i64], b: &[i64], i: usize) -> i64 pre i < len(a) pre i < len(b) = a[i] + b[i];`

	rep := diag.NewReporter()
	r := resolve.New(nil, false, source.NewMap(), rep)
	prog := r.LoadRootSource("test", []byte(src))
	typed := check.Check(prog, rep)
	lowered := mir.Lower(typed, rep)
	require.False(t, rep.HasErrors())

	optimize.New(noAliasOracle{}).Run(lowered)
	text := New(rep, typed, "").Emit(lowered)

	// Non-aliasing contracts become alias-scoping metadata on the
	// loads, not a pointer-arithmetic attribute.
	assert.Contains(t, text, "!noalias !")
	assert.Contains(t, text, "!alias.scope !")
	assert.Contains(t, text, "distinct !{")
}

func TestWhileLoopEmitsPhi(t *testing.T) {
	text, _ := compile(t, `
fn sum(n: i64) -> i64 pre n >= 0 post ret >= 0 = {
  var i = 0; var s = 0;
  while i < n invariant i >= 0 and s >= 0 {
    s = s + i; i = i + 1;
  }
  return s;
}`, false)
	assert.Contains(t, text, "phi i64", "the loop header merges with a phi")
	assert.Contains(t, text, "br i1", "the header branches on the guard")
}

func TestCheckedArithmeticUsesIntrinsic(t *testing.T) {
	text, _ := compile(t, `fn f(a: i64, b: i64) -> i64 = a +? b;`, false)
	assert.Contains(t, text, "llvm.sadd.with.overflow.i64")
	assert.Contains(t, text, "bmb_panic_overflow")
}

func TestSaturatingArithmeticUsesIntrinsic(t *testing.T) {
	text, _ := compile(t, `fn f(a: i64, b: i64) -> i64 = a +| b;`, false)
	assert.Contains(t, text, "llvm.sadd.sat.i64")
}
