package optimize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmb-lang/bmbc/internal/check"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/types"
)

func lower(t *testing.T, src string) *mir.Program {
	t.Helper()
	rep := diag.NewReporter()
	r := resolve.New(nil, false, source.NewMap(), rep)
	prog := r.LoadRootSource("test", []byte(src))
	typed := check.Check(prog, rep)
	lowered := mir.Lower(typed, rep)
	require.False(t, rep.HasErrors())
	return lowered
}

func fnBySymbol(p *mir.Program, sym string) *mir.Function {
	for _, f := range p.Funcs {
		if f.Symbol == sym {
			return f
		}
	}
	return nil
}

func countInstrs(fn *mir.Function, kind mir.InstrKind) int {
	n := 0
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Kind == kind {
				n++
			}
		}
	}
	return n
}

func TestConstantFolding(t *testing.T) {
	prog := lower(t, `fn f() -> i64 = 2 + 3 * 4;`)
	fn := fnBySymbol(prog, "f")
	New(nil).Function(fn)

	assert.Equal(t, 0, countInstrs(fn, mir.IBinary), "literal arithmetic folds away")
	entry := fn.Block(fn.Entry)
	require.Equal(t, mir.TermReturn, entry.Term.Kind)
	require.True(t, entry.Term.Value.IsConst)
	assert.Equal(t, int64(14), entry.Term.Value.Const.Value)
}

func TestDeadCodeNeverRemovesReachableBlocks(t *testing.T) {
	prog := lower(t, `
fn f(x: i64) -> i64 = {
  if x > 0 { return 1; }
  return 0;
}`)
	fn := fnBySymbol(prog, "f")
	before := mir.Reachable(fn)
	New(nil).Function(fn)
	after := mir.Reachable(fn)
	for id := range before {
		if before[id] {
			b := fn.Block(id)
			// A reachable block may be merged into its predecessor but
			// its code must survive somewhere reachable.
			assert.True(t, after[id] || (len(b.Instrs) == 0 && b.Term.Kind == mir.TermUnreachable),
				"a reachable block stays reachable unless merged into its predecessor")
		}
	}
	assert.NotZero(t, len(after))
	require.NoError(t, mir.Validate(fn))
}

func TestStrengthReduction(t *testing.T) {
	prog := lower(t, `fn f(x: i64) -> i64 = x * 8;`)
	fn := fnBySymbol(prog, "f")
	New(nil).Function(fn)

	foundShift := false
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Kind == mir.IBinary && in.Op == "<<" {
				foundShift = true
			}
			if in.Kind == mir.IBinary {
				assert.NotEqual(t, "*", in.Op, "power-of-two multiply becomes a shift")
			}
		}
	}
	assert.True(t, foundShift)
}

func TestMulByOneCopyPropagates(t *testing.T) {
	prog := lower(t, `fn f(x: i64) -> i64 = x * 1;`)
	fn := fnBySymbol(prog, "f")
	New(nil).Function(fn)
	entry := fn.Block(fn.Entry)
	assert.Empty(t, entry.Instrs, "x*1 reduces to x itself")
	assert.Equal(t, mir.TermReturn, entry.Term.Kind)
	assert.False(t, entry.Term.Value.IsConst)
}

func TestCSEOnPureOps(t *testing.T) {
	prog := lower(t, `fn f(x: i64, y: i64) -> i64 = (x + y) * (x + y);`)
	fn := fnBySymbol(prog, "f")
	adds := countInstrs(fn, mir.IBinary)
	require.GreaterOrEqual(t, adds, 3, "two adds and one multiply before CSE")
	New(nil).Function(fn)
	after := countInstrs(fn, mir.IBinary)
	assert.Equal(t, 2, after, "the repeated add deduplicates")
}

func TestOptimizeIsIdempotent(t *testing.T) {
	prog := lower(t, `
fn f(x: i64) -> i64 = {
  var acc = 0;
  var i = 0;
  while i < x invariant i >= 0 {
    acc = acc + i * 1;
    i = i + 1;
  }
  return acc + 0;
}`)
	fn := fnBySymbol(prog, "f")
	o := New(nil)
	o.Function(fn)
	snapshot := mir.Dump(fn)
	o.Function(fn)
	assert.Equal(t, snapshot, mir.Dump(fn), "optimize(optimize(mir)) == optimize(mir)")
}

func TestLoweringAndOptimizationAreDeterministic(t *testing.T) {
	const src = `fn g(a: i64, b: i64) -> i64 = a * 2 + b * 1;`
	first := fnBySymbol(lower(t, src), "g")
	second := fnBySymbol(lower(t, src), "g")
	o := New(nil)
	o.Function(first)
	o.Function(second)
	diff := cmp.Diff(first.Blocks, second.Blocks,
		cmpopts.IgnoreFields(mir.Instr{}, "Span"),
		cmpopts.IgnoreFields(mir.Terminator{}, "Span"),
		cmp.Comparer(func(a, b types.Type) bool { return a.Equals(b) }),
	)
	assert.Empty(t, diff, "two runs over identical input produce identical MIR")
}

// stubOracle discharges every bounds query, standing in for the
// verifier in check-elimination tests.
type stubOracle struct{ calls int }

func (s *stubOracle) IndexInBounds(*mir.Function, mir.BlockID, mir.Operand, mir.Operand) bool {
	s.calls++
	return true
}
func (s *stubOracle) NonAliasing(*mir.Function, mir.LocalID, mir.LocalID) bool { return true }

func TestContractDrivenCheckElimination(t *testing.T) {
	prog := lower(t, `fn get(arr: &[i64], i: usize) -> i64 pre i < len(arr) = arr[i];`)
	fn := fnBySymbol(prog, "get")

	oracle := &stubOracle{}
	New(oracle).Function(fn)

	assert.Positive(t, oracle.calls, "the optimizer consults the discharger")
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Kind == mir.IIndex {
				assert.False(t, in.Checked, "a discharged bounds check is dropped")
			}
		}
	}
}

func TestCheckRetainedWithoutOracle(t *testing.T) {
	prog := lower(t, `fn get(arr: &[i64], i: usize) -> i64 pre i < len(arr) = arr[i];`)
	fn := fnBySymbol(prog, "get")
	New(nil).Function(fn)
	found := false
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Kind == mir.IIndex {
				found = true
				assert.True(t, in.Checked, "unknown-in-time-budget keeps the check")
			}
		}
	}
	assert.True(t, found)
}
