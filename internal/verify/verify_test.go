package verify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmb-lang/bmbc/internal/check"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/typedast"
)

func lowerForVerify(t *testing.T, src string) (*typedast.Program, *mir.Program, *diag.Reporter) {
	t.Helper()
	rep := diag.NewReporter()
	r := resolve.New(nil, false, source.NewMap(), rep)
	prog := r.LoadRootSource("test", []byte(src))
	typed := check.Check(prog, rep)
	lowered := mir.Lower(typed, rep)
	require.False(t, rep.HasErrors())
	return typed, lowered, rep
}

func fnBySymbol(p *mir.Program, sym string) *mir.Function {
	for _, f := range p.Funcs {
		if f.Symbol == sym {
			return f
		}
	}
	return nil
}

func TestObligationsForPostcondition(t *testing.T) {
	typed, lowered, _ := lowerForVerify(t,
		`fn divide(a: i64, b: i64) -> i64 pre b != 0 post ret * b == a = a / b;`)
	fn := fnBySymbol(lowered, "divide")
	require.NotNil(t, fn)

	obls := Obligations(fn, typed.Preds)
	require.Len(t, obls, 1, "one postcondition, one return path")
	o := obls[0]
	assert.Equal(t, "postcondition", o.Kind)
	assert.Equal(t, "divide", o.Func)

	assert.NotEmpty(t, o.ID, "every obligation carries a stable id")

	q := o.Query()
	assert.Contains(t, q, "; schema: bmb.obligation/v1")
	assert.Contains(t, q, "; sid: "+string(o.ID))
	assert.Contains(t, q, "(set-logic QF_NIA)", "ret * b is nonlinear")
	assert.Contains(t, q, "(declare-const p_a Int)")
	assert.Contains(t, q, "(declare-const p_b Int)")
	assert.Contains(t, q, "(assert (not")
	assert.Contains(t, q, "(check-sat)")
	// The precondition is assumed.
	assert.Contains(t, q, "(not (= p_b 0))")
}

func TestLoopObligations(t *testing.T) {
	typed, lowered, _ := lowerForVerify(t, `
fn sum(n: i64) -> i64 pre n >= 0 post ret >= 0 = {
  var i = 0; var s = 0;
  while i < n invariant i >= 0 and s >= 0 {
    s = s + i; i = i + 1;
  }
  return s;
}`)
	fn := fnBySymbol(lowered, "sum")
	require.NotNil(t, fn)

	obls := Obligations(fn, typed.Preds)
	kinds := map[string]int{}
	for _, o := range obls {
		kinds[o.Kind]++
	}
	assert.Positive(t, kinds["invariant-init"], "invariant must hold on entry")
	assert.Positive(t, kinds["invariant-preserved"], "invariant must survive one iteration")
	assert.Positive(t, kinds["postcondition"], "the postcondition derives from invariant and exit")
}

func TestParseReplyVerdicts(t *testing.T) {
	assert.Equal(t, Verified, parseReply("unsat\n").Verdict)
	assert.Equal(t, Unknown, parseReply("unknown\n").Verdict)
	assert.Equal(t, Unknown, parseReply("garbage\n").Verdict)

	res := parseReply(`sat
(
  (define-fun p_x () Int (- 1))
  (define-fun ret () Int (- 1))
)`)
	assert.Equal(t, Refuted, res.Verdict)
	assert.Equal(t, "-1", res.Model["p_x"])
	assert.Equal(t, "-1", res.Model["ret"])
}

func TestQueryIsDeterministic(t *testing.T) {
	typed, lowered, _ := lowerForVerify(t,
		`fn inc(x: i64) -> i64 post ret == x + 1 = x + 1;`)
	fn := fnBySymbol(lowered, "inc")
	a := Obligations(fn, typed.Preds)
	b := Obligations(fn, typed.Preds)
	require.Len(t, a, len(b))
	for i := range a {
		assert.Equal(t, a[i].Query(), b[i].Query())
		assert.Equal(t, a[i].ID, b[i].ID, "stable ids survive regeneration")
	}
}

func TestTrustSkipsVerificationWithLoggedReason(t *testing.T) {
	typed, lowered, rep := lowerForVerify(t,
		`@trust("axiomatized in the runtime") fn magic(x: i64) -> i64 post ret > x = x;`)

	solver := NewSolver("", nil, 0) // no external solver in tests
	v := New(typed, solver, rep, Strict)
	sum := v.Run(context.Background(), lowered)

	assert.Equal(t, 1, sum.Trusted)
	assert.Zero(t, sum.Checked)
	assert.False(t, sum.Failed(Strict, false), "trust is the only way past an unproved obligation")

	logged := false
	for _, r := range rep.All() {
		if r.Data["trust_reason"] == "axiomatized in the runtime" {
			logged = true
			assert.Equal(t, diag.Warning, r.Sev)
		}
	}
	assert.True(t, logged, "the trust justification is logged")
}

func TestNoSolverReportsUnknown(t *testing.T) {
	typed, lowered, rep := lowerForVerify(t,
		`fn abs(x: i64) -> i64 post ret >= 0 = x;`)
	solver := NewSolver("", nil, 0)
	v := New(typed, solver, rep, Strict)
	sum := v.Run(context.Background(), lowered)
	assert.Equal(t, 1, sum.Unknown)
	assert.True(t, sum.Failed(Strict, false), "strict mode fails on unknowns")
	assert.False(t, sum.Failed(Warnings, false), "warnings mode lets unknowns pass")
}

func TestOldReadsEntrySnapshot(t *testing.T) {
	typed, lowered, _ := lowerForVerify(t, `
fn bump(x: i64) -> i64 post ret == old(x) + 1 = {
  var y = x;
  y = y + 1;
  return y;
}`)
	fn := fnBySymbol(lowered, "bump")
	obls := Obligations(fn, typed.Preds)
	require.NotEmpty(t, obls)
	q := obls[0].Query()
	assert.True(t, strings.Contains(q, "old_"), "old(x) names the pre-state snapshot symbol")
}

func TestRefinementAssumedOnEntry(t *testing.T) {
	typed, lowered, _ := lowerForVerify(t,
		`type Nat = i64 where self >= 0; fn f(n: Nat) -> i64 post ret >= 0 = n;`)
	fn := fnBySymbol(lowered, "f")
	require.NotNil(t, fn)
	obls := Obligations(fn, typed.Preds)
	require.NotEmpty(t, obls)
	q := obls[0].Query()
	assert.Contains(t, q, "(>= p_n 0)", "the parameter's refinement is an entry assumption")
}
