package mir

import (
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// lowerMatch compiles a match expression. Enum matches with plain
// variant patterns become a switch terminator on the discriminant;
// anything richer (guards, literals, ranges, alternation) compiles to
// a decision tree of branches tested in arm order.
func (fl *fnLowerer) lowerMatch(v *typedast.Match) Operand {
	scrut := fl.lowerExpr(v.Scrutinee)
	ty := fl.ty(v.Type())
	unitValued := types.Underlying(ty).Equals(types.TUnit) || isNever(ty)

	if fl.isSwitchable(v) {
		return fl.lowerMatchSwitch(v, scrut, ty, unitValued)
	}
	return fl.lowerMatchTree(v, scrut, ty, unitValued)
}

// isSwitchable reports whether every arm is an unguarded plain enum
// variant pattern (with a possible trailing catch-all).
func (fl *fnLowerer) isSwitchable(v *typedast.Match) bool {
	n, isEnum := types.Underlying(fl.ty(v.Scrutinee.Type())).(*types.Nominal)
	if !isEnum || n.Def == types.NoDef {
		return false
	}
	if fl.l.prog.Enums[n.Def] == nil {
		return false
	}
	for i, arm := range v.Arms {
		if arm.Guard != nil {
			return false
		}
		switch p := arm.Pattern.(type) {
		case *typedast.EnumPat:
			for _, sub := range p.SubPats {
				if !patAlwaysMatches(sub) {
					return false
				}
			}
		case *typedast.WildcardPat, *typedast.BindPat:
			if i != len(v.Arms)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

type armResult struct {
	val   Operand
	end   BlockID
	flows bool
}

func (fl *fnLowerer) lowerMatchSwitch(v *typedast.Match, scrut Operand, ty types.Type, unitValued bool) Operand {
	tag := fl.newTemp(types.TI64)
	fl.emit(Instr{Kind: IGetTag, Dst: tag, Args: []Operand{scrut}, Span: v.Span()})

	join := fl.fn.NewBlock()
	term := Terminator{Kind: TermSwitch, Cond: LocalOp(tag), Span: v.Span()}

	armBlocks := make([]*Block, len(v.Arms))
	defaultTo := BlockID(-1)
	for i, arm := range v.Arms {
		b := fl.fn.NewBlock()
		armBlocks[i] = b
		if ep, ok := arm.Pattern.(*typedast.EnumPat); ok {
			term.SwitchVals = append(term.SwitchVals, int64(ep.Tag))
			term.Targets = append(term.Targets, b.ID)
		} else {
			defaultTo = b.ID
		}
	}
	if defaultTo < 0 {
		// Exhaustive over variants: an unreachable default satisfies
		// the one-terminator invariant.
		dead := fl.fn.NewBlock()
		dead.Term = Terminator{Kind: TermUnreachable, Span: v.Span()}
		defaultTo = dead.ID
	}
	term.Default = defaultTo
	fl.setTerm(term)

	var results []armResult
	for i, arm := range v.Arms {
		fl.seal(armBlocks[i].ID)
		fl.startBlock(armBlocks[i])
		fl.pushScope()
		fl.bindPattern(arm.Pattern, scrut)
		val := fl.lowerExpr(arm.Body)
		end, flows := fl.cur, !fl.terminated
		fl.goTo(join.ID, v.Span())
		fl.popScope()
		results = append(results, armResult{val: val, end: end, flows: flows})
	}
	fl.seal(join.ID)
	fl.startBlock(join)
	return fl.joinArms(join, results, ty, unitValued, v)
}

// lowerMatchTree tests arms sequentially: each arm gets a test block
// computing whether its pattern (and guard) matches, branching to the
// arm body or the next test.
func (fl *fnLowerer) lowerMatchTree(v *typedast.Match, scrut Operand, ty types.Type, unitValued bool) Operand {
	join := fl.fn.NewBlock()
	var results []armResult

	for _, arm := range v.Arms {
		bodyB := fl.fn.NewBlock()
		nextB := fl.fn.NewBlock()

		fl.pushScope()
		cond := fl.patternTest(arm.Pattern, scrut)
		if arm.Guard != nil {
			// Bindings are in scope for the guard; test it after the
			// structural match.
			guardB := fl.fn.NewBlock()
			fl.setTerm(Terminator{Kind: TermBranch, Cond: cond, Targets: []BlockID{guardB.ID, nextB.ID}, Span: v.Span()})
			fl.seal(guardB.ID)
			fl.startBlock(guardB)
			fl.bindPattern(arm.Pattern, scrut)
			g := fl.lowerExpr(arm.Guard)
			fl.setTerm(Terminator{Kind: TermBranch, Cond: g, Targets: []BlockID{bodyB.ID, nextB.ID}, Span: v.Span()})
		} else {
			fl.setTerm(Terminator{Kind: TermBranch, Cond: cond, Targets: []BlockID{bodyB.ID, nextB.ID}, Span: v.Span()})
		}
		fl.seal(bodyB.ID)

		fl.startBlock(bodyB)
		fl.bindPattern(arm.Pattern, scrut)
		val := fl.lowerExpr(arm.Body)
		end, flows := fl.cur, !fl.terminated
		fl.goTo(join.ID, v.Span())
		fl.popScope()
		results = append(results, armResult{val: val, end: end, flows: flows})

		fl.seal(nextB.ID)
		fl.startBlock(nextB)
	}

	// The checker guarantees exhaustiveness; a fall-through here is
	// unreachable by construction.
	fl.setTerm(Terminator{Kind: TermUnreachable, Span: v.Span()})
	fl.seal(join.ID)
	fl.startBlock(join)
	return fl.joinArms(join, results, ty, unitValued, v)
}

func (fl *fnLowerer) joinArms(join *Block, results []armResult, ty types.Type, unitValued bool, v *typedast.Match) Operand {
	flowing := 0
	for _, r := range results {
		if r.flows {
			flowing++
		}
	}
	if flowing == 0 {
		fl.setTerm(Terminator{Kind: TermUnreachable, Span: v.Span()})
		return ConstOp(types.TUnit, nil)
	}
	if unitValued {
		return ConstOp(types.TUnit, nil)
	}
	dst := fl.newTemp(ty)
	in := Instr{Kind: IPhi, Dst: dst, Span: v.Span()}
	for _, r := range results {
		if r.flows {
			in.Args = append(in.Args, r.val)
			in.PhiPreds = append(in.PhiPreds, r.end)
		}
	}
	if len(in.Args) == 1 {
		fl.emit(Instr{Kind: ICopy, Dst: dst, Args: in.Args, Span: v.Span()})
	} else {
		fl.emit(in)
		fl.phiCount[join.ID]++
	}
	return LocalOp(dst)
}

// patternTest emits the boolean test for whether a pattern matches,
// without binding.
func (fl *fnLowerer) patternTest(p typedast.Pattern, val Operand) Operand {
	switch v := p.(type) {
	case *typedast.WildcardPat, *typedast.BindPat:
		return ConstOp(types.TBool, true)

	case *typedast.LitPat:
		dst := fl.newTemp(types.TBool)
		fl.emit(Instr{Kind: IBinary, Dst: dst, Op: "==", Args: []Operand{val, ConstOp(fl.ty(p.Type()), v.Value)}, Span: p.Span()})
		return LocalOp(dst)

	case *typedast.EnumPat:
		tag := fl.newTemp(types.TI64)
		fl.emit(Instr{Kind: IGetTag, Dst: tag, Args: []Operand{val}, Span: p.Span()})
		tagEq := fl.newTemp(types.TBool)
		fl.emit(Instr{Kind: IBinary, Dst: tagEq, Op: "==", Args: []Operand{LocalOp(tag), ConstOp(types.TI64, int64(v.Tag))}, Span: p.Span()})
		cond := LocalOp(tagEq)
		for i, sub := range v.SubPats {
			if patAlwaysMatches(sub) {
				continue
			}
			f := fl.newTemp(fl.ty(sub.Type()))
			fl.emit(Instr{Kind: IGetPayload, Dst: f, Tag: v.Tag, Index: i, Args: []Operand{val}, Span: p.Span()})
			subCond := fl.patternTest(sub, LocalOp(f))
			both := fl.newTemp(types.TBool)
			fl.emit(Instr{Kind: IBinary, Dst: both, Op: "&&", Args: []Operand{cond, subCond}, Span: p.Span()})
			cond = LocalOp(both)
		}
		return cond

	case *typedast.TuplePat:
		cond := Operand{IsConst: true, Local: NoLocal, Const: Const{Ty: types.TBool, Value: true}}
		for i, sub := range v.Elems {
			if patAlwaysMatches(sub) {
				continue
			}
			f := fl.newTemp(fl.ty(sub.Type()))
			fl.emit(Instr{Kind: IField, Dst: f, Index: i, Args: []Operand{val}, Span: p.Span()})
			subCond := fl.patternTest(sub, LocalOp(f))
			both := fl.newTemp(types.TBool)
			fl.emit(Instr{Kind: IBinary, Dst: both, Op: "&&", Args: []Operand{cond, subCond}, Span: p.Span()})
			cond = LocalOp(both)
		}
		return cond

	case *typedast.StructPat:
		cond := ConstOp(types.TBool, true)
		for _, fp := range v.Fields {
			if patAlwaysMatches(fp.Pattern) {
				continue
			}
			f := fl.newTemp(fl.ty(fp.Pattern.Type()))
			fl.emit(Instr{Kind: IField, Dst: f, Index: fp.Index, Args: []Operand{val}, Span: p.Span()})
			subCond := fl.patternTest(fp.Pattern, LocalOp(f))
			both := fl.newTemp(types.TBool)
			fl.emit(Instr{Kind: IBinary, Dst: both, Op: "&&", Args: []Operand{cond, subCond}, Span: p.Span()})
			cond = LocalOp(both)
		}
		return cond

	case *typedast.RangePat:
		loOK := fl.newTemp(types.TBool)
		fl.emit(Instr{Kind: IBinary, Dst: loOK, Op: ">=", Args: []Operand{val, ConstOp(fl.ty(p.Type()), v.Lo)}, Span: p.Span()})
		hiOp := "<"
		if v.Inclusive {
			hiOp = "<="
		}
		hiOK := fl.newTemp(types.TBool)
		fl.emit(Instr{Kind: IBinary, Dst: hiOK, Op: hiOp, Args: []Operand{val, ConstOp(fl.ty(p.Type()), v.Hi)}, Span: p.Span()})
		both := fl.newTemp(types.TBool)
		fl.emit(Instr{Kind: IBinary, Dst: both, Op: "&&", Args: []Operand{LocalOp(loOK), LocalOp(hiOK)}, Span: p.Span()})
		return LocalOp(both)

	case *typedast.OrPat:
		cond := ConstOp(types.TBool, false)
		for _, alt := range v.Alts {
			altCond := fl.patternTest(alt, val)
			either := fl.newTemp(types.TBool)
			fl.emit(Instr{Kind: IBinary, Dst: either, Op: "||", Args: []Operand{cond, altCond}, Span: p.Span()})
			cond = LocalOp(either)
		}
		return cond
	}
	return ConstOp(types.TBool, true)
}

func patAlwaysMatches(p typedast.Pattern) bool {
	switch v := p.(type) {
	case *typedast.WildcardPat, *typedast.BindPat:
		return true
	case *typedast.TuplePat:
		for _, sub := range v.Elems {
			if !patAlwaysMatches(sub) {
				return false
			}
		}
		return true
	}
	return false
}
