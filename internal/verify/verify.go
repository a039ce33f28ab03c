package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// Mode selects how unproved obligations gate the build.
type Mode int

const (
	// Strict fails the build on any refuted or unknown obligation.
	Strict Mode = iota
	// Warnings reports refutations as errors but lets unknowns pass as
	// warnings and allows codegen to proceed.
	Warnings
)

// Verifier discharges every obligation of a lowered program.
type Verifier struct {
	prog   *typedast.Program
	solver *Solver
	rep    *diag.Reporter
	mode   Mode

	// UnknownIsError promotes solver unknowns to error severity.
	UnknownIsError bool
}

// New builds a verifier over the typed program (contract syntax) and
// a solver handle.
func New(prog *typedast.Program, solver *Solver, rep *diag.Reporter, mode Mode) *Verifier {
	return &Verifier{prog: prog, solver: solver, rep: rep, mode: mode}
}

// Summary reports the outcome of a verification pass.
type Summary struct {
	Checked  int
	Verified int
	Refuted  int
	Unknown  int
	Trusted  int
}

// Failed reports whether the pass leaves unproved obligations that fail
// the build under the current mode: any refutation fails it, and an
// unknown fails it in Strict mode or when unknownIsError is set. Under
// those settings a trust annotation is the only way a build succeeds
// with an unproved obligation.
func (s Summary) Failed(mode Mode, unknownIsError bool) bool {
	if s.Refuted > 0 {
		return true
	}
	if s.Unknown > 0 && (mode == Strict || unknownIsError) {
		return true
	}
	return false
}

// Run verifies every function of a lowered program. Trusted functions
// log their justification and skip their own obligations.
func (v *Verifier) Run(ctx context.Context, lowered *mir.Program) Summary {
	var sum Summary
	for _, fn := range lowered.Funcs {
		if err := ctx.Err(); err != nil {
			break // cooperative cancellation between items
		}
		if fn.TrustReason != "" {
			sum.Trusted++
			v.rep.Add(diag.New(diag.VER002, "verifier",
				fmt.Sprintf("%s: contracts suppressed by trust annotation: %s", fn.Name, fn.TrustReason), fn.Span).
				WithData("trust_reason", fn.TrustReason))
			continue
		}
		if len(fn.Contracts) == 0 {
			continue
		}
		for _, o := range Obligations(fn, v.prog.Preds) {
			o := o
			sum.Checked++
			res := v.solver.Check(ctx, &o)
			switch res.Verdict {
			case Verified:
				sum.Verified++
			case Refuted:
				sum.Refuted++
				rep := diag.New(diag.VER001, "verifier",
					fmt.Sprintf("%s of %s does not hold", o.Kind, o.Func), o.Span)
				rep.WithCounterexample(renderModel(fn, res.Model))
				rep.WithData("obligation_sid", string(o.ID))
				v.rep.Add(rep)
			case Unknown:
				sum.Unknown++
				rep := diag.New(diag.VER002, "verifier",
					fmt.Sprintf("%s of %s could not be decided within the time budget", o.Kind, o.Func), o.Span)
				if v.mode == Strict || v.UnknownIsError {
					rep.Sev = diag.Error
				}
				rep.WithData("obligation_sid", string(o.ID))
				v.rep.Add(rep)
			}
		}
	}
	return sum
}

// renderModel maps solver symbols back to source names for the
// counterexample payload.
func renderModel(fn *mir.Function, model map[string]string) *diag.Counterexample {
	ce := &diag.Counterexample{Bindings: map[string]string{}}
	for sym, val := range model {
		switch {
		case strings.HasPrefix(sym, "p_"):
			ce.Bindings[strings.TrimPrefix(sym, "p_")] = val
		case sym == "ret":
			ce.Bindings["ret"] = val
		}
	}
	if len(ce.Bindings) == 0 {
		for sym, val := range model {
			ce.Bindings[sym] = val
		}
	}
	return ce
}

// ---------------------------------------------------------------------------
// Check oracle for the optimizer

// Oracle adapts the verifier to the optimizer's check-elimination
// queries.
type Oracle struct {
	v   *Verifier
	ctx context.Context
}

// NewOracle wraps a verifier for use during optimization.
func (v *Verifier) NewOracle(ctx context.Context) *Oracle {
	return &Oracle{v: v, ctx: ctx}
}

// IndexInBounds asks the solver whether the function's assumptions
// imply `0 <= idx < len(seq)` at the instruction. False (including
// unknown-in-time-budget) keeps the runtime check.
func (o *Oracle) IndexInBounds(fn *mir.Function, bb mir.BlockID, seq, idx mir.Operand) bool {
	obls := boundsObligation(fn, o.v.prog.Preds, bb, seq, idx)
	if obls == nil {
		return false
	}
	for i := range obls {
		res := o.v.solver.Check(o.ctx, &obls[i])
		if res.Verdict != Verified {
			return false
		}
	}
	return len(obls) > 0
}

// NonAliasing reports whether the contracts assert two reference
// parameters never alias. The assertion is recognized syntactically: a
// precondition `a != b` over the two reference parameters.
func (o *Oracle) NonAliasing(fn *mir.Function, a, b mir.LocalID) bool {
	la, lb := fn.Local(a), fn.Local(b)
	if la == nil || lb == nil {
		return false
	}
	for _, ct := range fn.Contracts {
		if bin, ok := ct.Pred.(*typedast.BinOp); ok && bin.Op == "!=" {
			lv, lok := bin.Left.(*typedast.Var)
			rv, rok := bin.Right.(*typedast.Var)
			if lok && rok {
				if (lv.Name == la.Name && rv.Name == lb.Name) || (lv.Name == lb.Name && rv.Name == la.Name) {
					return true
				}
			}
		}
	}
	return false
}

// boundsObligation builds the path obligations for one bounds check by
// re-walking the function and collecting path assumptions into the
// goal `0 <= idx && idx < len(seq)` at the instruction's block.
func boundsObligation(fn *mir.Function, preds []typedast.PredInfo, bb mir.BlockID, seq, idx mir.Operand) []Obligation {
	g := &vcgen{
		fn:        fn,
		decls:     newDecls(),
		paramSyms: map[string]Term{},
		oldSyms:   map[string]Term{},
		preds:     preds,
	}
	env := map[mir.LocalID]Term{}
	for name, id := range fn.ParamNames {
		sym := g.decls.declare("p_"+name, sortOf(fn.Local(id).Ty))
		env[id] = sym
		g.paramSyms[name] = sym
	}
	var assumptions []Term
	for _, ct := range fn.Contracts {
		if ct.Kind == ast.Precondition {
			assumptions = append(assumptions, g.pred(ct.Pred, ""))
		}
	}
	g.collectBounds(fn.Entry, bb, env, assumptions, map[mir.BlockID]bool{}, seq, idx)
	return g.obls
}

// collectBounds walks to the target block and emits one obligation per
// reaching path.
func (g *vcgen) collectBounds(cur, target mir.BlockID, env map[mir.LocalID]Term, conds []Term, onStack map[mir.BlockID]bool, seq, idx mir.Operand) {
	if g.paths >= maxPaths {
		return
	}
	b := g.fn.Block(cur)
	if b == nil || onStack[cur] {
		return
	}
	if b.LoopHead {
		env = g.havocPhis(b, env)
		names := g.bindNames(b, env)
		for _, inv := range b.Invariants {
			if inv.Kind != ast.LoopInvariant {
				continue
			}
			conds = append(conds, g.predIn(inv.Pred, "", names))
		}
		onStack = copyStack(onStack)
		onStack[cur] = true
	}
	for _, in := range b.Instrs {
		if in.Kind == mir.IPhi && b.LoopHead {
			continue
		}
		env = g.step(in, env)
	}
	if cur == target {
		idxT := g.operand(idx, env)
		lenT := g.uninterpretedLen(g.operand(seq, env))
		if arr, ok := types.Underlying(g.fn.OperandType(seq)).(*types.Array); ok {
			lenT = intLit(int64(arr.Len))
		}
		goal := app("and", app("<=", "0", idxT), app("<", idxT, lenT))
		g.emit(Obligation{Kind: "bounds", Func: g.fn.Symbol, Assumptions: conds, Goal: goal})
		g.paths++
		return
	}
	switch b.Term.Kind {
	case mir.TermGoto:
		g.collectBounds(b.Term.Targets[0], target, env, conds, onStack, seq, idx)
	case mir.TermBranch:
		c := g.operand(b.Term.Cond, env)
		g.collectBounds(b.Term.Targets[0], target, copyEnv(env), append(append([]Term{}, conds...), c), onStack, seq, idx)
		g.collectBounds(b.Term.Targets[1], target, copyEnv(env), append(append([]Term{}, conds...), app("not", c)), onStack, seq, idx)
	case mir.TermSwitch:
		scrut := g.operand(b.Term.Cond, env)
		var rest []Term
		for i, v := range b.Term.SwitchVals {
			eq := app("=", scrut, intLit(v))
			g.collectBounds(b.Term.Targets[i], target, copyEnv(env), append(append([]Term{}, conds...), eq), onStack, seq, idx)
			rest = append(rest, app("not", eq))
		}
		g.collectBounds(b.Term.Default, target, copyEnv(env), append(append([]Term{}, conds...), rest...), onStack, seq, idx)
	}
}
