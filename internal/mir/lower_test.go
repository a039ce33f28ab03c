package mir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmb-lang/bmbc/internal/check"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/source"
)

func lowerSource(t *testing.T, src string) (*Program, *diag.Reporter) {
	t.Helper()
	rep := diag.NewReporter()
	r := resolve.New(nil, false, source.NewMap(), rep)
	prog := r.LoadRootSource("test", []byte(src))
	typed := check.Check(prog, rep)
	for _, rpt := range rep.All() {
		require.NotEqual(t, diag.Error, rpt.Sev, "unexpected checker error: %s", rpt.Message)
	}
	return Lower(typed, rep), rep
}

func fnBySymbol(p *Program, sym string) *Function {
	for _, f := range p.Funcs {
		if f.Symbol == sym {
			return f
		}
	}
	return nil
}

func TestLowerStraightLine(t *testing.T) {
	prog, rep := lowerSource(t, `fn divide(a: i64, b: i64) -> i64 pre b != 0 post ret * b == a = a / b;`)
	require.False(t, rep.HasErrors())

	fn := fnBySymbol(prog, "divide")
	require.NotNil(t, fn)
	require.NoError(t, Validate(fn))
	require.Len(t, fn.Params, 2)
	require.Len(t, fn.Contracts, 2)

	entry := fn.Block(fn.Entry)
	require.Len(t, entry.Instrs, 1)
	assert.Equal(t, IBinary, entry.Instrs[0].Kind)
	assert.Equal(t, "/", entry.Instrs[0].Op)
	assert.Equal(t, TermReturn, entry.Term.Kind)
}

func TestLowerWhileLoopShape(t *testing.T) {
	prog, _ := lowerSource(t, `
fn sum(n: i64) -> i64 pre n >= 0 post ret >= 0 = {
  var i = 0; var s = 0;
  while i < n invariant i >= 0 and s >= 0 {
    s = s + i; i = i + 1;
  }
  return s;
}`)
	fn := fnBySymbol(prog, "sum")
	require.NotNil(t, fn)
	require.NoError(t, Validate(fn))

	var header *Block
	for _, b := range fn.Blocks {
		if b.LoopHead {
			header = b
		}
	}
	require.NotNil(t, header, "while must produce a loop header block")
	require.Len(t, header.Invariants, 1)

	// The header merges initial and iterated values with phis.
	phis := 0
	for _, in := range header.Instrs {
		if in.Kind == IPhi {
			phis++
		}
	}
	assert.GreaterOrEqual(t, phis, 2, "i and s both flow through header phis")
	assert.Equal(t, TermBranch, header.Term.Kind)
}

func TestSSASingleDefinition(t *testing.T) {
	prog, _ := lowerSource(t, `
fn abs(x: i64) -> i64 = {
  if x < 0 { return -x; }
  return x;
}`)
	fn := fnBySymbol(prog, "abs")
	require.NotNil(t, fn)
	require.NoError(t, Validate(fn), "every local defined exactly once")
	for _, b := range fn.Blocks {
		assert.NotNil(t, b.Term, "every block carries exactly one terminator")
	}
}

func TestMonomorphization(t *testing.T) {
	prog, _ := lowerSource(t, `fn id<T>(x: T) -> T = x; fn main() -> i64 = id(42);`)
	assert.NotNil(t, fnBySymbol(prog, "id_i64"), "one specialization per distinct instantiation")
	assert.Nil(t, fnBySymbol(prog, "id"), "the generic form is never lowered directly")

	m := fnBySymbol(prog, "main")
	require.NotNil(t, m)
	found := false
	for _, b := range m.Blocks {
		for _, in := range b.Instrs {
			if in.Kind == ICall && in.Callee == "id_i64" {
				found = true
			}
		}
	}
	assert.True(t, found, "the call site targets the monomorphized symbol")
}

func TestTraitCallUsesCanonicalSymbol(t *testing.T) {
	prog, _ := lowerSource(t, `
trait Show { fn show(self) -> i64; }
struct P { v: i64 }
impl Show for P { fn show(self) -> i64 = self.v; }
fn use_p(p: P) -> i64 = p.show();`)
	fn := fnBySymbol(prog, "use_p")
	require.NotNil(t, fn)
	found := false
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Kind == ICall && in.Callee == "Show_P_show" {
				found = true
			}
		}
	}
	assert.True(t, found, "static trait dispatch lowers to a direct call")
	assert.NotNil(t, fnBySymbol(prog, "Show_P_show"))
}

func TestMatchOnEnumLowersToSwitch(t *testing.T) {
	prog, _ := lowerSource(t, `
enum Color { Red, Green, Blue }
fn f(c: Color) -> i64 = match c {
  Color::Red => 0,
  Color::Green => 1,
  Color::Blue => 2,
};`)
	fn := fnBySymbol(prog, "f")
	require.NotNil(t, fn)
	hasSwitch := false
	for _, b := range fn.Blocks {
		if b.Term.Kind == TermSwitch {
			hasSwitch = true
			assert.Len(t, b.Term.SwitchVals, 3)
		}
	}
	assert.True(t, hasSwitch, "plain enum match lowers to a switch on the discriminant")
}

func TestClosureLowering(t *testing.T) {
	prog, _ := lowerSource(t, `
fn make(base: i64) -> i64 = {
  let add = |x: i64| x + base;
  return add(1);
}`)
	fn := fnBySymbol(prog, "make")
	require.NotNil(t, fn)
	require.Len(t, fn.Closures, 1)
	sub := fn.Closures[0]
	assert.True(t, sub.IsClosure)
	require.NoError(t, Validate(sub))

	// The lambda body loads its capture by slot index.
	foundCapture := false
	for _, b := range sub.Blocks {
		for _, in := range b.Instrs {
			if in.Kind == ILoadCapture {
				foundCapture = true
				assert.Equal(t, 0, in.Index)
			}
		}
	}
	assert.True(t, foundCapture)

	// The defining function allocates the environment and pairs it
	// with the sub-function.
	foundEnv, foundClosure := false, false
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			switch in.Kind {
			case IEnvAlloc:
				foundEnv = true
			case IClosure:
				foundClosure = true
			}
		}
	}
	assert.True(t, foundEnv)
	assert.True(t, foundClosure)
}

func TestOldSnapshotsCapturedAtEntry(t *testing.T) {
	prog, _ := lowerSource(t, `
fn bump(x: i64) -> i64 post ret == old(x) + 1 = {
  var y = x;
  y = y + 1;
  return y;
}`)
	fn := fnBySymbol(prog, "bump")
	require.NotNil(t, fn)
	assert.Len(t, fn.OldSnapshots, 1)
}

func TestIndexIsCheckedByDefault(t *testing.T) {
	prog, _ := lowerSource(t, `fn get(arr: &[i64], i: usize) -> i64 pre i < len(arr) = arr[i];`)
	fn := fnBySymbol(prog, "get")
	require.NotNil(t, fn)
	found := false
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Kind == IIndex {
				found = true
				assert.True(t, in.Checked, "lowering emits the check; only the optimizer may drop it")
			}
		}
	}
	assert.True(t, found)
}

func TestDumpIsStable(t *testing.T) {
	prog, _ := lowerSource(t, `fn f(a: i64) -> i64 = a + 1;`)
	fn := fnBySymbol(prog, "f")
	require.NotNil(t, fn)
	first := Dump(fn)
	second := Dump(fn)
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "fn f("))
}
