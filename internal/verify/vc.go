package verify

import (
	"fmt"
	"sort"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/sid"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// Obligation is one verification condition: assumptions accumulated
// along a path, and a goal that must follow from them.
type Obligation struct {
	// ID is the content-stable id of the obligation: a hash of the
	// contract's span geometry and kind that survives reformatting, so
	// an obligation can be tracked across runs.
	ID          sid.SID
	Span        source.Span
	Kind        string // "postcondition", "invariant-init", "invariant-preserved", "decreases", "bounds"
	Func        string
	Assumptions []Term
	Goal        Term
	Decls       *decls
	// Nonlinear selects QF_NIA over the default QF_LIA.
	Nonlinear bool
}

// maxPaths bounds path enumeration per function; beyond it the
// remaining obligations degrade to unknown rather than hanging the
// build.
const maxPaths = 64

// vcgen walks one function's MIR symbolically.
type vcgen struct {
	fn        *mir.Function
	decls     *decls
	nonlinear bool
	obls      []Obligation
	paths     int
	fresh     int

	// entry symbols for parameters and old-snapshots, used to
	// translate contract predicates.
	paramSyms map[string]Term
	oldSyms   map[string]Term
	selfSym   Term
	nameEnv   map[string]Term
	preds     []typedast.PredInfo
	// loopMeasures holds each header's decreases term at the start of
	// an arbitrary iteration, compared against on the back edge.
	loopMeasures map[mir.BlockID]Term
}

// Obligations generates every verification condition of a function:
// postconditions per return path, loop invariant initiation and
// preservation, and decreases terms.
func Obligations(fn *mir.Function, preds []typedast.PredInfo) []Obligation {
	g := &vcgen{
		fn:           fn,
		decls:        newDecls(),
		paramSyms:    map[string]Term{},
		oldSyms:      map[string]Term{},
		preds:        preds,
		loopMeasures: map[mir.BlockID]Term{},
	}

	env := map[mir.LocalID]Term{}
	for _, name := range sortedKeys(fn.ParamNames) {
		id := fn.ParamNames[name]
		sym := g.decls.declare("p_"+name, sortOf(fn.Local(id).Ty))
		env[id] = sym
		g.paramSyms[name] = sym
	}
	for _, key := range sortedKeys(fn.OldSnapshots) {
		id := fn.OldSnapshots[key]
		sym := g.decls.declare(fmt.Sprintf("old_%d", id), sortOf(fn.Local(id).Ty))
		env[id] = sym
		g.oldSyms[key] = sym
	}

	// Width bounds for integer parameters where precision matters,
	// then refinement predicates, then preconditions, in a fixed
	// order so query text is stable across runs.
	var assumptions []Term
	for _, name := range sortedKeys(fn.ParamNames) {
		id := fn.ParamNames[name]
		if p, ok := types.Underlying(fn.Local(id).Ty).(*types.Prim); ok {
			if lo, hi, ok := boundsFor(p); ok {
				sym := g.paramSyms[name]
				assumptions = append(assumptions, app("and", app("<=", lo, sym), app("<=", sym, hi)))
			}
		}
	}
	for _, name := range sortedKeys(fn.ParamNames) {
		id := fn.ParamNames[name]
		if r, ok := fn.Local(id).Ty.(*types.Refinement); ok {
			if int(r.Pred) < len(g.preds) {
				saved := g.selfSym
				g.selfSym = g.paramSyms[name]
				assumptions = append(assumptions, g.pred(g.preds[r.Pred].Pred, ""))
				g.selfSym = saved
			}
		}
	}
	// Preconditions are assumed.
	for _, ct := range fn.Contracts {
		if ct.Kind == ast.Precondition {
			assumptions = append(assumptions, g.pred(ct.Pred, ""))
		}
	}

	g.walk(-1, fn.Entry, env, assumptions, map[mir.BlockID]bool{})
	return g.obls
}

func (g *vcgen) freshSym(prefix string, sort Sort) Term {
	g.fresh++
	return g.decls.declare(fmt.Sprintf("%s_%d", prefix, g.fresh), sort)
}

// walk symbolically executes from a block, forking at branches.
// Loops are cut at their headers: initiation is checked on the entry
// edge, the header state is havocked, invariants are assumed for an
// arbitrary iteration, and the back edge checks preservation.
func (g *vcgen) walk(from, bb mir.BlockID, env map[mir.LocalID]Term, conds []Term, onStack map[mir.BlockID]bool) {
	if g.paths >= maxPaths {
		return
	}
	b := g.fn.Block(bb)
	if b == nil {
		return
	}

	if b.LoopHead {
		if onStack[bb] {
			// Back edge: invariant preservation against the values
			// flowing around the loop.
			env2 := copyEnv(env)
			for _, in := range b.Instrs {
				if in.Kind == mir.IPhi {
					env2[in.Dst] = g.phiOperand(in, from, env)
				}
			}
			nameEnv := g.bindNames(b, env2)
			for _, inv := range b.Invariants {
				switch inv.Kind {
				case ast.LoopInvariant:
					g.emit(Obligation{
						Span: inv.Sp, Kind: "invariant-preserved", Func: g.fn.Symbol,
						Assumptions: conds, Goal: g.predIn(inv.Pred, "", nameEnv),
					})
				case ast.Decreases:
					// The measure strictly decreases and stays
					// non-negative across one iteration.
					next := g.predIn(inv.Pred, "", nameEnv)
					if prev, ok := g.loopMeasures[bb]; ok {
						g.emit(Obligation{
							Span: inv.Sp, Kind: "decreases", Func: g.fn.Symbol,
							Assumptions: conds,
							Goal:        app("and", app("<", next, prev), app("<=", "0", next)),
						})
					}
				}
			}
			g.paths++
			return
		}
		// Loop entry: initiation with the entry-edge values.
		env2 := copyEnv(env)
		for _, in := range b.Instrs {
			if in.Kind == mir.IPhi {
				env2[in.Dst] = g.phiOperand(in, from, env)
			}
		}
		initNames := g.bindNames(b, env2)
		for _, inv := range b.Invariants {
			if inv.Kind != ast.LoopInvariant {
				continue
			}
			g.emit(Obligation{
				Span: inv.Sp, Kind: "invariant-init", Func: g.fn.Symbol,
				Assumptions: conds, Goal: g.predIn(inv.Pred, "", initNames),
			})
		}
		// Arbitrary iteration: havoc the loop-carried values and
		// assume the invariants over them.
		env = g.havocPhis(b, env)
		loopNames := g.bindNames(b, env)
		for _, inv := range b.Invariants {
			switch inv.Kind {
			case ast.LoopInvariant:
				conds = append(conds, g.predIn(inv.Pred, "", loopNames))
			case ast.Decreases:
				g.loopMeasures[bb] = g.predIn(inv.Pred, "", loopNames)
			}
		}
		onStack = copyStack(onStack)
		onStack[bb] = true
	}

	for _, in := range b.Instrs {
		if in.Kind == mir.IPhi {
			if b.LoopHead {
				continue // already havocked or edge-selected above
			}
			env[in.Dst] = g.phiOperand(in, from, env)
			continue
		}
		env = g.step(in, env)
	}

	switch b.Term.Kind {
	case mir.TermReturn:
		ret := g.operand(b.Term.Value, env)
		for _, ct := range g.fn.Contracts {
			if ct.Kind != ast.Postcondition {
				continue
			}
			g.emit(Obligation{
				Span: ct.Sp, Kind: "postcondition", Func: g.fn.Symbol,
				Assumptions: conds, Goal: g.pred(ct.Pred, ret),
			})
		}
		g.paths++

	case mir.TermGoto:
		g.walk(bb, b.Term.Targets[0], env, conds, onStack)

	case mir.TermBranch:
		cond := g.operand(b.Term.Cond, env)
		g.walk(bb, b.Term.Targets[0], copyEnv(env), append(append([]Term{}, conds...), cond), onStack)
		g.walk(bb, b.Term.Targets[1], copyEnv(env), append(append([]Term{}, conds...), app("not", cond)), onStack)

	case mir.TermSwitch:
		scrut := g.operand(b.Term.Cond, env)
		var otherwise []Term
		for i, v := range b.Term.SwitchVals {
			eq := app("=", scrut, intLit(v))
			g.walk(bb, b.Term.Targets[i], copyEnv(env), append(append([]Term{}, conds...), eq), onStack)
			otherwise = append(otherwise, app("not", eq))
		}
		g.walk(bb, b.Term.Default, copyEnv(env), append(append([]Term{}, conds...), otherwise...), onStack)

	case mir.TermUnreachable:
		g.paths++
	}
}

// phiOperand selects the phi value flowing in from a predecessor edge.
func (g *vcgen) phiOperand(in mir.Instr, from mir.BlockID, env map[mir.LocalID]Term) Term {
	for i, p := range in.PhiPreds {
		if p == from && i < len(in.Args) {
			return g.operand(in.Args[i], env)
		}
	}
	return g.freshSym("phi", sortOf(g.fn.Local(in.Dst).Ty))
}

// bindNames maps a header's visible source names to their current
// symbolic values, anchoring invariant predicates.
func (g *vcgen) bindNames(b *mir.Block, env map[mir.LocalID]Term) map[string]Term {
	out := map[string]Term{}
	for name, id := range b.NameBindings {
		out[name] = g.operand(mir.LocalOp(id), env)
	}
	return out
}

// havocPhis replaces loop-carried values with fresh symbols, modeling
// an arbitrary iteration.
func (g *vcgen) havocPhis(b *mir.Block, env map[mir.LocalID]Term) map[mir.LocalID]Term {
	out := copyEnv(env)
	for _, in := range b.Instrs {
		if in.Kind == mir.IPhi {
			out[in.Dst] = g.freshSym("loop", sortOf(g.fn.Local(in.Dst).Ty))
		}
	}
	return out
}

// step translates one instruction into the symbolic environment.
// Operations without a linear-arithmetic meaning become fresh
// uninterpreted symbols.
func (g *vcgen) step(in mir.Instr, env map[mir.LocalID]Term) map[mir.LocalID]Term {
	if in.Dst == mir.NoLocal {
		return env
	}
	l := g.fn.Local(in.Dst)
	switch in.Kind {
	case mir.IConst, mir.ICopy:
		env[in.Dst] = g.operand(in.Args[0], env)
	case mir.IBinary:
		if op, ok := translateOp(in.Op); ok {
			a := g.operand(in.Args[0], env)
			b := g.operand(in.Args[1], env)
			if in.Op == "*" || in.Op == "*%" || in.Op == "*|" || in.Op == "*?" {
				if !in.Args[0].IsConst && !in.Args[1].IsConst {
					g.nonlinear = true
				}
			}
			if in.Op == "!=" {
				env[in.Dst] = app("not", app("=", a, b))
			} else {
				env[in.Dst] = app(op, a, b)
			}
		} else {
			env[in.Dst] = g.freshSym("t", sortOf(l.Ty))
		}
	case mir.IUnary:
		a := g.operand(in.Args[0], env)
		switch in.Op {
		case "-":
			env[in.Dst] = app("-", a)
		case "!":
			env[in.Dst] = app("not", a)
		default:
			env[in.Dst] = g.freshSym("t", sortOf(l.Ty))
		}
	case mir.ILen:
		env[in.Dst] = g.uninterpretedLen(g.operand(in.Args[0], env))
	case mir.IPhi:
		// The walk is path-sensitive but does not track which
		// predecessor was taken, so a merge is modeled as an arbitrary
		// value; single-operand phis collapse exactly.
		if len(in.Args) == 1 {
			env[in.Dst] = g.operand(in.Args[0], env)
		} else {
			env[in.Dst] = g.freshSym("phi", sortOf(l.Ty))
		}
	default:
		env[in.Dst] = g.freshSym("t", sortOf(l.Ty))
	}
	return env
}

// operand renders a MIR operand as a term.
func (g *vcgen) operand(op mir.Operand, env map[mir.LocalID]Term) Term {
	if op.IsConst {
		switch v := op.Const.Value.(type) {
		case int64:
			return intLit(v)
		case bool:
			return boolLit(v)
		case nil:
			return "0"
		default:
			return g.freshSym("k", sortOf(op.Const.Ty))
		}
	}
	if t, ok := env[op.Local]; ok {
		return t
	}
	l := g.fn.Local(op.Local)
	sym := g.freshSym("u", sortOf(l.Ty))
	env[op.Local] = sym
	return sym
}

// pred translates a typed contract predicate. ret substitutes the
// return-path value for the `ret` binding; old(·) reads its entry
// snapshot symbol.
func (g *vcgen) pred(x typedast.Expr, ret Term) Term {
	return g.predIn(x, ret, nil)
}

// predIn additionally resolves free names against a loop header's
// name bindings before falling back to parameter symbols.
func (g *vcgen) predIn(x typedast.Expr, ret Term, names map[string]Term) Term {
	saved := g.nameEnv
	g.nameEnv = names
	defer func() { g.nameEnv = saved }()
	return g.predTerm(x, ret)
}

func (g *vcgen) predTerm(x typedast.Expr, ret Term) Term {
	switch v := x.(type) {
	case *typedast.Lit:
		switch val := v.Value.(type) {
		case int64:
			return intLit(val)
		case bool:
			return boolLit(val)
		}
		return "0"
	case *typedast.Var:
		if v.Kind == typedast.RetVar || (v.Name == "ret" && ret != "") {
			return ret
		}
		if (v.Kind == typedast.SelfVar || v.Name == "self") && g.selfSym != "" {
			return g.selfSym
		}
		if g.nameEnv != nil {
			if sym, ok := g.nameEnv[v.Name]; ok {
				return sym
			}
		}
		if sym, ok := g.paramSyms[v.Name]; ok {
			return sym
		}
		return g.decls.declare("v_"+v.Name, sortOf(v.Type()))
	case *typedast.Old:
		if sym, ok := g.oldSyms[mir.ExprKey(v.Inner)]; ok {
			return sym
		}
		return g.freshSym("old", sortOf(v.Type()))
	case *typedast.BinOp:
		a := g.predTerm(v.Left, ret)
		b := g.predTerm(v.Right, ret)
		if op, ok := translateOp(v.Op); ok {
			if v.Op == "*" {
				g.nonlinear = true
			}
			if v.Op == "!=" {
				return app("not", app("=", a, b))
			}
			return app(op, a, b)
		}
		return g.freshSym("t", sortOf(v.Type()))
	case *typedast.UnaryOp:
		a := g.predTerm(v.Expr, ret)
		switch v.Op {
		case "-":
			return app("-", a)
		case "!":
			return app("not", a)
		}
		return g.freshSym("t", sortOf(v.Type()))
	case *typedast.Call:
		if v.Name == "len" && len(v.Args) == 1 {
			// len participates as an uninterpreted function of its
			// sequence argument.
			arg := g.predTerm(v.Args[0], ret)
			return g.uninterpretedLen(arg)
		}
		return g.freshSym("call", sortOf(v.Type()))
	case *typedast.If:
		return app("ite", g.predTerm(v.Cond, ret), g.predTerm(v.Then, ret), g.predTerm(v.Else, ret))
	case *typedast.Index:
		return g.freshSym("idx", sortOf(v.Type()))
	case *typedast.FieldAccess:
		return g.freshSym("fld", sortOf(v.Type()))
	default:
		return g.freshSym("t", sortOf(x.Type()))
	}
}

// uninterpretedLen models len as a per-argument symbolic constant; no
// non-negativity constraint is asserted on it.
func (g *vcgen) uninterpretedLen(arg Term) Term {
	name := "len_" + sanitize(string(arg))
	return g.decls.declare(name, SortInt)
}

func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return "x"
	}
	return string(out)
}

func (g *vcgen) emit(o Obligation) {
	o.Decls = g.decls
	o.Nonlinear = g.nonlinear
	sp := o.Span
	if sp.Unit == "" {
		sp = g.fn.Span // bounds obligations anchor to the function
	}
	o.ID = sid.New(string(sp.Unit), sp.Start, sp.End, "obligation/"+o.Kind, []int{len(g.obls)})
	g.obls = append(g.obls, o)
}

func copyEnv(env map[mir.LocalID]Term) map[mir.LocalID]Term {
	out := make(map[mir.LocalID]Term, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func copyStack(s map[mir.BlockID]bool) map[mir.BlockID]bool {
	out := make(map[mir.BlockID]bool, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]mir.LocalID) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
