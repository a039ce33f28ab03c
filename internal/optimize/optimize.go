// Package optimize implements the contract-aware MIR transformations.
// Every pass preserves semantics with a justification rooted in
// the type system or a contract; the pipeline runs passes to a fixed
// point, so optimizing twice is structurally a no-op.
package optimize

import (
	"fmt"

	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/types"
)

// CheckOracle answers whether a safety check is discharged by the
// function's contracts. The verifier implements it; a nil oracle
// retains every check.
type CheckOracle interface {
	// IndexInBounds reports whether `idx < len(seq)` (and idx >= 0)
	// holds on every path reaching the instruction, given the
	// function's preconditions, loop invariants, and operand
	// refinements. False means unknown-in-time-budget: keep the check.
	IndexInBounds(fn *mir.Function, bb mir.BlockID, seq, idx mir.Operand) bool
	// NonAliasing reports whether the function's contracts assert that
	// two reference parameters never alias.
	NonAliasing(fn *mir.Function, a, b mir.LocalID) bool
}

// Optimizer drives the pass pipeline over a program.
type Optimizer struct {
	oracle CheckOracle
	// pure records symbols of functions the type system marks pure,
	// enabling CSE across their calls.
	pure map[string]bool
}

// New creates an optimizer. oracle may be nil.
func New(oracle CheckOracle) *Optimizer {
	return &Optimizer{oracle: oracle, pure: map[string]bool{}}
}

// Run optimizes every function in place.
func (o *Optimizer) Run(prog *mir.Program) {
	for _, fn := range prog.Funcs {
		if fn.IsPure {
			o.pure[fn.Symbol] = true
		}
	}
	for _, fn := range prog.Funcs {
		o.Function(fn)
	}
}

// Function runs the pass pipeline on one function until a full round
// changes nothing, for at most eight rounds.
func (o *Optimizer) Function(fn *mir.Function) {
	for i := 0; i < 8; i++ {
		changed := false
		changed = o.constFold(fn) || changed
		changed = o.copyProp(fn) || changed
		changed = o.strengthReduce(fn) || changed
		changed = o.cse(fn) || changed
		changed = o.checkElim(fn) || changed
		changed = o.dce(fn) || changed
		changed = o.mergeBlocks(fn) || changed
		if !changed {
			break
		}
	}
	o.noAliasHints(fn)
	for _, c := range fn.Closures {
		o.Function(c)
	}
}

// ---------------------------------------------------------------------------
// Constant folding

func (o *Optimizer) constFold(fn *mir.Function) bool {
	changed := false
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			switch in.Kind {
			case mir.IBinary:
				if v, ok := foldBinary(in.Op, in.Args[0], in.Args[1]); ok {
					ty := fn.OperandType(mir.LocalOp(in.Dst))
					if l := fn.Local(in.Dst); l != nil {
						ty = l.Ty
					}
					*in = mir.Instr{Kind: mir.IConst, Dst: in.Dst, Args: []mir.Operand{mir.ConstOp(ty, v)}, Span: in.Span}
					changed = true
				}
			case mir.IUnary:
				if v, ok := foldUnary(in.Op, in.Args[0]); ok {
					l := fn.Local(in.Dst)
					*in = mir.Instr{Kind: mir.IConst, Dst: in.Dst, Args: []mir.Operand{mir.ConstOp(l.Ty, v)}, Span: in.Span}
					changed = true
				}
			case mir.ILen:
				if arr, ok := types.Underlying(fn.OperandType(in.Args[0])).(*types.Array); ok {
					*in = mir.Instr{Kind: mir.IConst, Dst: in.Dst,
						Args: []mir.Operand{mir.ConstOp(types.TUSize, int64(arr.Len))}, Span: in.Span}
					changed = true
				}
			}
		}
		// Branches on constant conditions become gotos.
		if b.Term.Kind == mir.TermBranch && b.Term.Cond.IsConst {
			if v, ok := b.Term.Cond.Const.Value.(bool); ok {
				target := b.Term.Targets[1]
				if v {
					target = b.Term.Targets[0]
				}
				b.Term = mir.Terminator{Kind: mir.TermGoto, Targets: []mir.BlockID{target}, Span: b.Term.Span}
				changed = true
			}
		}
	}
	return changed
}

func constInt(op mir.Operand) (int64, bool) {
	if !op.IsConst {
		return 0, false
	}
	v, ok := op.Const.Value.(int64)
	return v, ok
}

func constBool(op mir.Operand) (bool, bool) {
	if !op.IsConst {
		return false, false
	}
	v, ok := op.Const.Value.(bool)
	return v, ok
}

func foldBinary(op string, a, b mir.Operand) (interface{}, bool) {
	if la, ok := constInt(a); ok {
		if rb, ok := constInt(b); ok {
			switch op {
			case "+", "+%":
				return la + rb, true
			case "-", "-%":
				return la - rb, true
			case "*", "*%":
				return la * rb, true
			case "/":
				if rb != 0 {
					return la / rb, true
				}
			case "%":
				if rb != 0 {
					return la % rb, true
				}
			case "band":
				return la & rb, true
			case "bor":
				return la | rb, true
			case "bxor":
				return la ^ rb, true
			case "<<":
				if rb >= 0 && rb < 64 {
					return la << uint(rb), true
				}
			case ">>":
				if rb >= 0 && rb < 64 {
					return la >> uint(rb), true
				}
			case "==":
				return la == rb, true
			case "!=":
				return la != rb, true
			case "<":
				return la < rb, true
			case "<=":
				return la <= rb, true
			case ">":
				return la > rb, true
			case ">=":
				return la >= rb, true
			}
		}
	}
	if la, ok := constBool(a); ok {
		if rb, ok := constBool(b); ok {
			switch op {
			case "&&":
				return la && rb, true
			case "||":
				return la || rb, true
			case "implies":
				return !la || rb, true
			case "==":
				return la == rb, true
			case "!=":
				return la != rb, true
			}
		}
	}
	return nil, false
}

func foldUnary(op string, a mir.Operand) (interface{}, bool) {
	switch op {
	case "-":
		if v, ok := constInt(a); ok {
			return -v, true
		}
	case "!":
		if v, ok := constBool(a); ok {
			return !v, true
		}
	case "bnot":
		if v, ok := constInt(a); ok {
			return ^v, true
		}
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// Copy propagation

// copyProp replaces uses of copy-defined locals by their source, and
// collapses trivial phis (all operands identical).
func (o *Optimizer) copyProp(fn *mir.Function) bool {
	repl := map[mir.LocalID]mir.Operand{}
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			switch in.Kind {
			case mir.ICopy, mir.IConst:
				repl[in.Dst] = in.Args[0]
			case mir.IPhi:
				if same, op := trivialPhi(in); same {
					repl[in.Dst] = op
				}
			}
		}
	}
	if len(repl) == 0 {
		return false
	}
	resolve := func(op mir.Operand) mir.Operand {
		for !op.IsConst && op.Local != mir.NoLocal {
			next, ok := repl[op.Local]
			if !ok {
				break
			}
			op = next
		}
		return op
	}
	changed := false
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Kind == mir.ICopy || in.Kind == mir.IConst {
				continue // sources of the rewrite; DCE removes the dead ones
			}
			for j, a := range in.Args {
				r := resolve(a)
				if r != a {
					in.Args[j] = r
					changed = true
				}
			}
		}
		switch b.Term.Kind {
		case mir.TermReturn:
			if r := resolve(b.Term.Value); r != b.Term.Value {
				b.Term.Value = r
				changed = true
			}
		case mir.TermBranch, mir.TermSwitch:
			if r := resolve(b.Term.Cond); r != b.Term.Cond {
				b.Term.Cond = r
				changed = true
			}
		}
	}
	return changed
}

func trivialPhi(in *mir.Instr) (bool, mir.Operand) {
	if len(in.Args) == 0 {
		return false, mir.Operand{}
	}
	first := in.Args[0]
	if !first.IsConst && first.Local == in.Dst {
		return false, mir.Operand{}
	}
	for _, a := range in.Args[1:] {
		if a != first {
			return false, mir.Operand{}
		}
	}
	return true, first
}

// ---------------------------------------------------------------------------
// Strength reduction

// strengthReduce rewrites fixed multiplicative and divisive integer
// identities: x*1 -> x, x*0 -> 0, x*2^k -> x<<k, x/2^k -> x>>k (for
// unsigned operands), x+0 -> x.
func (o *Optimizer) strengthReduce(fn *mir.Function) bool {
	changed := false
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Kind != mir.IBinary {
				continue
			}
			l := fn.Local(in.Dst)
			if l == nil {
				continue
			}
			p, isPrim := types.Underlying(l.Ty).(*types.Prim)
			if !isPrim || !p.IsInteger() {
				continue
			}
			rc, rOK := constInt(in.Args[1])
			switch {
			case in.Op == "*" && rOK && rc == 1,
				in.Op == "/" && rOK && rc == 1,
				in.Op == "+" && rOK && rc == 0,
				in.Op == "-" && rOK && rc == 0:
				*in = mir.Instr{Kind: mir.ICopy, Dst: in.Dst, Args: []mir.Operand{in.Args[0]}, Span: in.Span}
				changed = true
			case in.Op == "*" && rOK && rc == 0:
				*in = mir.Instr{Kind: mir.IConst, Dst: in.Dst, Args: []mir.Operand{mir.ConstOp(l.Ty, int64(0))}, Span: in.Span}
				changed = true
			case in.Op == "*" && rOK && isPow2(rc):
				in.Op = "<<"
				in.Args[1] = mir.ConstOp(l.Ty, log2(rc))
				changed = true
			case in.Op == "/" && rOK && isPow2(rc) && !p.IsSigned():
				in.Op = ">>"
				in.Args[1] = mir.ConstOp(l.Ty, log2(rc))
				changed = true
			}
		}
	}
	return changed
}

func isPow2(v int64) bool { return v > 1 && v&(v-1) == 0 }

func log2(v int64) int64 {
	var n int64
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Common-subexpression elimination

// cse deduplicates pure operations within each block: compiler-known
// pure primitives always, calls only when the callee is marked pure in
// the type system.
func (o *Optimizer) cse(fn *mir.Function) bool {
	changed := false
	for _, b := range fn.Blocks {
		seen := map[string]mir.LocalID{}
		for i := range b.Instrs {
			in := &b.Instrs[i]
			key, ok := o.cseKey(in)
			if !ok {
				continue
			}
			if prev, dup := seen[key]; dup {
				*in = mir.Instr{Kind: mir.ICopy, Dst: in.Dst, Args: []mir.Operand{mir.LocalOp(prev)}, Span: in.Span}
				changed = true
				continue
			}
			seen[key] = in.Dst
		}
	}
	return changed
}

func (o *Optimizer) cseKey(in *mir.Instr) (string, bool) {
	switch in.Kind {
	case mir.IBinary:
		return fmt.Sprintf("b/%s/%s/%s", in.Op, opKey(in.Args[0]), opKey(in.Args[1])), true
	case mir.IUnary:
		return fmt.Sprintf("u/%s/%s", in.Op, opKey(in.Args[0])), true
	case mir.IField:
		return fmt.Sprintf("f/%d/%s", in.Index, opKey(in.Args[0])), true
	case mir.ILen:
		return "l/" + opKey(in.Args[0]), true
	case mir.ICall:
		if in.Callee != "" && o.pure[in.Callee] {
			key := "c/" + in.Callee
			for _, a := range in.Args {
				key += "/" + opKey(a)
			}
			return key, true
		}
	}
	return "", false
}

func opKey(op mir.Operand) string {
	if op.IsConst {
		return fmt.Sprintf("k%v", op.Const.Value)
	}
	return fmt.Sprintf("v%d", op.Local)
}

// ---------------------------------------------------------------------------
// Contract-driven check elimination

// checkElim drops index bounds checks that the verifier discharges
// from preconditions, loop invariants, or operand refinements. Unknown
// within the time budget keeps the check.
func (o *Optimizer) checkElim(fn *mir.Function) bool {
	if o.oracle == nil {
		return false
	}
	changed := false
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Kind != mir.IIndex || !in.Checked {
				continue
			}
			if o.oracle.IndexInBounds(fn, b.ID, in.Args[0], in.Args[1]) {
				in.Checked = false
				changed = true
			}
		}
	}
	return changed
}

// noAliasHints converts non-aliasing contracts over reference
// parameters into alias-scoping metadata on loads and stores.
func (o *Optimizer) noAliasHints(fn *mir.Function) {
	if o.oracle == nil {
		return
	}
	refParams := []mir.LocalID{}
	for _, p := range fn.Params {
		if _, ok := types.Underlying(fn.Local(p).Ty).(*types.Ref); ok {
			refParams = append(refParams, p)
		}
	}
	if len(refParams) < 2 {
		return
	}
	distinct := true
	for i := 0; i < len(refParams) && distinct; i++ {
		for j := i + 1; j < len(refParams); j++ {
			if !o.oracle.NonAliasing(fn, refParams[i], refParams[j]) {
				distinct = false
				break
			}
		}
	}
	if !distinct {
		return
	}
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			switch in.Kind {
			case mir.IDeref, mir.IIndex:
				in.NoAlias = true
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Dead-code elimination

// dce removes instructions whose defined local has no use, and blocks
// unreachable from the entry. Reachable blocks are never removed.
func (o *Optimizer) dce(fn *mir.Function) bool {
	changed := false

	// Unreachable-block elimination first, so uses inside dead blocks
	// do not keep instructions alive.
	reach := mir.Reachable(fn)
	for _, b := range fn.Blocks {
		if !reach[b.ID] && (len(b.Instrs) > 0 || b.Term.Kind != mir.TermUnreachable) {
			b.Instrs = nil
			b.Term = mir.Terminator{Kind: mir.TermUnreachable}
			changed = true
		}
	}

	used := map[mir.LocalID]bool{}
	for _, b := range fn.Blocks {
		if !reach[b.ID] {
			continue
		}
		for _, in := range b.Instrs {
			for _, a := range in.Args {
				if !a.IsConst && a.Local != mir.NoLocal {
					used[a.Local] = true
				}
			}
		}
		switch b.Term.Kind {
		case mir.TermReturn:
			if !b.Term.Value.IsConst && b.Term.Value.Local != mir.NoLocal {
				used[b.Term.Value.Local] = true
			}
		case mir.TermBranch, mir.TermSwitch:
			if !b.Term.Cond.IsConst && b.Term.Cond.Local != mir.NoLocal {
				used[b.Term.Cond.Local] = true
			}
		}
	}
	// Contract snapshots stay live for the verifier.
	for _, id := range fn.OldSnapshots {
		used[id] = true
	}

	for _, b := range fn.Blocks {
		kept := b.Instrs[:0]
		for _, in := range b.Instrs {
			if in.Dst != mir.NoLocal && !used[in.Dst] && sideEffectFree(in) {
				changed = true
				continue
			}
			kept = append(kept, in)
		}
		b.Instrs = kept
	}
	return changed
}

func sideEffectFree(in mir.Instr) bool {
	switch in.Kind {
	case mir.ICall, mir.ITraitCall, mir.IEnvAlloc, mir.IClosure:
		return false
	case mir.IIndex:
		return !in.Checked // a checked index may trap
	}
	return true
}

// ---------------------------------------------------------------------------
// Block merging

// mergeBlocks inlines a block into its single predecessor when that
// predecessor ends in an unconditional goto and the block is not a
// loop header.
func (o *Optimizer) mergeBlocks(fn *mir.Function) bool {
	predCount := map[mir.BlockID]int{}
	predOf := map[mir.BlockID]*mir.Block{}
	for _, b := range fn.Blocks {
		for _, s := range b.Term.Successors() {
			predCount[s]++
			predOf[s] = b
		}
	}
	changed := false
	for _, b := range fn.Blocks {
		if b.LoopHead || predCount[b.ID] != 1 {
			continue
		}
		pred := predOf[b.ID]
		if pred == nil || pred.Term.Kind != mir.TermGoto || pred == b {
			continue
		}
		if hasPhi(b) {
			continue
		}
		pred.Instrs = append(pred.Instrs, b.Instrs...)
		pred.Term = b.Term
		b.Instrs = nil
		b.Term = mir.Terminator{Kind: mir.TermUnreachable}
		// Phis downstream referring to b now flow from pred.
		retargetPhis(fn, b.ID, pred.ID)
		changed = true
	}
	return changed
}

func hasPhi(b *mir.Block) bool {
	for _, in := range b.Instrs {
		if in.Kind == mir.IPhi {
			return true
		}
	}
	return false
}

func retargetPhis(fn *mir.Function, from, to mir.BlockID) {
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Kind != mir.IPhi {
				continue
			}
			for j, p := range in.PhiPreds {
				if p == from {
					in.PhiPreds[j] = to
				}
			}
		}
	}
}
