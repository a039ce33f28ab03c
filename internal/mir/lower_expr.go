package mir

import (
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// lowerExpr lowers one typed expression and returns the operand
// holding its value. Diverging expressions return a unit constant and
// leave the current block terminated.
func (fl *fnLowerer) lowerExpr(x typedast.Expr) Operand {
	switch v := x.(type) {
	case *typedast.Lit:
		return ConstOp(fl.ty(v.Type()), v.Value)

	case *typedast.Var:
		return fl.lowerVar(v)

	case *typedast.BinOp:
		return fl.lowerBinOp(v)

	case *typedast.UnaryOp:
		return fl.lowerUnary(v)

	case *typedast.Cast:
		src := fl.lowerExpr(v.Expr)
		dst := fl.newTemp(fl.ty(v.To))
		fl.emit(Instr{Kind: ICast, Dst: dst, Args: []Operand{src}, Span: v.Span()})
		return LocalOp(dst)

	case *typedast.Call:
		return fl.lowerCall(v)

	case *typedast.CallIndirect:
		fn := fl.lowerExpr(v.Func)
		args := []Operand{fn}
		for _, a := range v.Args {
			args = append(args, fl.lowerExpr(a))
		}
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: ICall, Dst: dst, Callee: "", CalleeID: types.NoDef, Args: args, Span: v.Span()})
		return LocalOp(dst)

	case *typedast.MethodCall:
		return fl.lowerMethodCall(v)

	case *typedast.Tuple:
		var args []Operand
		for _, el := range v.Elems {
			args = append(args, fl.lowerExpr(el))
		}
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: IStruct, Dst: dst, Args: args, Span: v.Span()})
		return LocalOp(dst)

	case *typedast.ArrayLit:
		var args []Operand
		for _, el := range v.Elems {
			args = append(args, fl.lowerExpr(el))
		}
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: IArray, Dst: dst, Args: args, Span: v.Span()})
		return LocalOp(dst)

	case *typedast.StructLit:
		args := make([]Operand, len(v.Fields))
		// Field initializers evaluate in source order but land in
		// declaration slots.
		type slot struct {
			idx int
			op  Operand
		}
		var slots []slot
		for _, f := range v.Fields {
			slots = append(slots, slot{f.Index, fl.lowerExpr(f.Value)})
		}
		for _, s := range slots {
			if s.idx >= 0 && s.idx < len(args) {
				args[s.idx] = s.op
			}
		}
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: IStruct, Dst: dst, Args: args, Span: v.Span()})
		return LocalOp(dst)

	case *typedast.EnumCtor:
		var args []Operand
		for _, a := range v.Args {
			args = append(args, fl.lowerExpr(a))
		}
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: IEnum, Dst: dst, Tag: v.Tag, Args: args, Span: v.Span()})
		return LocalOp(dst)

	case *typedast.FieldAccess:
		recv := fl.lowerExpr(v.Expr)
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: IField, Dst: dst, Index: v.Index, Args: []Operand{recv}, Span: v.Span()})
		return LocalOp(dst)

	case *typedast.Index:
		recv := fl.lowerExpr(v.Expr)
		idx := fl.lowerExpr(v.Index)
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: IIndex, Dst: dst, Args: []Operand{recv, idx}, Checked: true, Span: v.Span()})
		return LocalOp(dst)

	case *typedast.If:
		return fl.lowerIf(v)

	case *typedast.Match:
		return fl.lowerMatch(v)

	case *typedast.While:
		fl.lowerWhile(v)
		return ConstOp(types.TUnit, nil)

	case *typedast.For:
		fl.lowerFor(v)
		return ConstOp(types.TUnit, nil)

	case *typedast.Loop:
		fl.lowerLoop(v)
		return ConstOp(types.TUnit, nil)

	case *typedast.Break:
		if len(fl.loops) > 0 {
			fl.goTo(fl.loops[len(fl.loops)-1].breakTo, v.Span())
		}
		return ConstOp(types.TUnit, nil)

	case *typedast.Continue:
		if len(fl.loops) > 0 {
			fl.goTo(fl.loops[len(fl.loops)-1].continueTo, v.Span())
		}
		return ConstOp(types.TUnit, nil)

	case *typedast.Return:
		var val Operand
		if v.Value != nil {
			val = fl.lowerExpr(v.Value)
		} else {
			val = ConstOp(types.TUnit, nil)
		}
		fl.setTerm(Terminator{Kind: TermReturn, Value: val, Span: v.Span()})
		return ConstOp(types.TUnit, nil)

	case *typedast.Block:
		fl.pushScope()
		for _, s := range v.Stmts {
			fl.lowerExpr(s)
			if fl.terminated {
				break
			}
		}
		var out Operand = ConstOp(types.TUnit, nil)
		if v.Trailing != nil && !fl.terminated {
			out = fl.lowerExpr(v.Trailing)
		}
		fl.popScope()
		return out

	case *typedast.Let:
		val := fl.lowerExpr(v.Value)
		fl.bindPattern(v.Pattern, val)
		return ConstOp(types.TUnit, nil)

	case *typedast.Assign:
		return fl.lowerAssign(v)

	case *typedast.Lambda:
		return fl.lowerLambda(v)

	case *typedast.RangeLit:
		lo := fl.lowerExpr(v.Lo)
		hi := fl.lowerExpr(v.Hi)
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: IStruct, Dst: dst, Args: []Operand{lo, hi}, Span: v.Span()})
		return LocalOp(dst)

	case *typedast.Old:
		// Contract-only form; bodies never contain it. Read the entry
		// snapshot when it somehow reaches lowering.
		if id, ok := fl.fn.OldSnapshots[ExprKey(v.Inner)]; ok {
			return LocalOp(id)
		}
		return fl.lowerExpr(v.Inner)

	case *typedast.ErrorNode:
		return ConstOp(types.TUnit, nil)

	default:
		fl.l.rep.Add(diag.New(diag.MIR001, "mir", "unlowerable expression", x.Span()))
		return ConstOp(types.TUnit, nil)
	}
}

func (fl *fnLowerer) lowerVar(v *typedast.Var) Operand {
	if fl.captures != nil {
		if cap, ok := fl.captures[v.Name]; ok {
			dst := fl.newTemp(fl.ty(cap.Ty))
			fl.emit(Instr{Kind: ILoadCapture, Dst: dst, Index: cap.Index, Span: v.Span()})
			return LocalOp(dst)
		}
	}
	if key, ok := fl.lookupKey(v.Name); ok {
		return fl.readVar(key, fl.cur)
	}
	if v.Kind == typedast.GlobalVar {
		// Function used as a first-class value: a closure with an
		// empty environment.
		if fn := fl.l.prog.ByDef[v.Def]; fn != nil {
			sym := fl.l.symbolFor(fn, nil)
			if fn.Body != nil && len(fn.Generics) == 0 {
				fl.l.enqueue(fn, nil, sym)
			}
			env := fl.newTemp(types.TUnit)
			fl.emit(Instr{Kind: IEnvAlloc, Dst: env, Span: v.Span()})
			dst := fl.newTemp(fl.ty(v.Type()))
			fl.emit(Instr{Kind: IClosure, Dst: dst, Callee: sym, CalleeID: v.Def, Args: []Operand{LocalOp(env)}, Span: v.Span()})
			return LocalOp(dst)
		}
	}
	return ConstOp(fl.ty(v.Type()), nil)
}

// lowerBinOp lowers arithmetic directly and the logical connectives
// via short-circuit control flow.
func (fl *fnLowerer) lowerBinOp(v *typedast.BinOp) Operand {
	switch v.Op {
	case "&&", "||", "implies":
		return fl.lowerShortCircuit(v)
	}
	l := fl.lowerExpr(v.Left)
	r := fl.lowerExpr(v.Right)
	dst := fl.newTemp(fl.ty(v.Type()))
	fl.emit(Instr{Kind: IBinary, Dst: dst, Op: v.Op, Args: []Operand{l, r}, Span: v.Span()})
	return LocalOp(dst)
}

func (fl *fnLowerer) lowerShortCircuit(v *typedast.BinOp) Operand {
	l := fl.lowerExpr(v.Left)
	rhsB := fl.fn.NewBlock()
	joinB := fl.fn.NewBlock()
	lhsBlock := fl.cur

	shortVal := true // value when the right side is skipped
	switch v.Op {
	case "&&":
		shortVal = false
		fl.setTerm(Terminator{Kind: TermBranch, Cond: l, Targets: []BlockID{rhsB.ID, joinB.ID}, Span: v.Span()})
	case "||":
		fl.setTerm(Terminator{Kind: TermBranch, Cond: l, Targets: []BlockID{joinB.ID, rhsB.ID}, Span: v.Span()})
	case "implies":
		// p implies q == !p || q: skip to true when p is false.
		fl.setTerm(Terminator{Kind: TermBranch, Cond: l, Targets: []BlockID{rhsB.ID, joinB.ID}, Span: v.Span()})
	}
	fl.seal(rhsB.ID)

	fl.startBlock(rhsB)
	r := fl.lowerExpr(v.Right)
	rhsEnd := fl.cur
	fl.goTo(joinB.ID, v.Span())
	fl.seal(joinB.ID)

	fl.startBlock(joinB)
	dst := fl.newTemp(types.TBool)
	short := shortVal
	if v.Op == "implies" {
		short = true
	}
	fl.emit(Instr{
		Kind:     IPhi,
		Dst:      dst,
		Args:     []Operand{ConstOp(types.TBool, short), r},
		PhiPreds: []BlockID{lhsBlock, rhsEnd},
		Span:     v.Span(),
	})
	fl.phiCount[joinB.ID]++
	return LocalOp(dst)
}

func (fl *fnLowerer) lowerUnary(v *typedast.UnaryOp) Operand {
	switch v.Op {
	case "&", "&mut":
		inner := fl.lowerExpr(v.Expr)
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: IRef, Dst: dst, Args: []Operand{inner}, Span: v.Span()})
		return LocalOp(dst)
	case "*":
		inner := fl.lowerExpr(v.Expr)
		dst := fl.newTemp(fl.ty(v.Type()))
		fl.emit(Instr{Kind: IDeref, Dst: dst, Args: []Operand{inner}, Span: v.Span()})
		return LocalOp(dst)
	}
	inner := fl.lowerExpr(v.Expr)
	dst := fl.newTemp(fl.ty(v.Type()))
	fl.emit(Instr{Kind: IUnary, Dst: dst, Op: v.Op, Args: []Operand{inner}, Span: v.Span()})
	return LocalOp(dst)
}

func (fl *fnLowerer) lowerCall(v *typedast.Call) Operand {
	if v.Callee == types.NoDef && v.Name == "len" {
		arg := fl.lowerExpr(v.Args[0])
		dst := fl.newTemp(types.TUSize)
		fl.emit(Instr{Kind: ILen, Dst: dst, Args: []Operand{arg}, Span: v.Span()})
		return LocalOp(dst)
	}

	callee := fl.l.prog.ByDef[v.Callee]
	var args []Operand
	for _, a := range v.Args {
		args = append(args, fl.lowerExpr(a))
	}
	dst := fl.newTemp(fl.ty(v.Type()))

	if callee == nil {
		fl.emit(Instr{Kind: ICall, Dst: dst, Callee: v.Name, CalleeID: v.Callee, Args: args, Span: v.Span()})
		return LocalOp(dst)
	}

	// Instantiate generics with the call's (substituted) type args and
	// enqueue the monomorphization.
	typeArgs := make([]types.Type, len(v.TypeArgs))
	for i, ta := range v.TypeArgs {
		typeArgs[i] = fl.ty(ta)
	}
	sym := fl.l.symbolFor(callee, typeArgs)
	if callee.Body != nil {
		subst := map[string]types.Type{}
		for i, g := range callee.Generics {
			if i < len(typeArgs) {
				subst[g.Name] = typeArgs[i]
			}
		}
		fl.l.enqueue(callee, subst, sym)
	} else if callee.IsExtern {
		sym = callee.Name
	}
	fl.emit(Instr{Kind: ICall, Dst: dst, Callee: sym, CalleeID: v.Callee, Args: args, Span: v.Span()})
	return LocalOp(dst)
}

func (fl *fnLowerer) lowerMethodCall(v *typedast.MethodCall) Operand {
	recv := fl.lowerExpr(v.Receiver)
	args := []Operand{recv}
	for _, a := range v.Args {
		args = append(args, fl.lowerExpr(a))
	}
	dst := fl.newTemp(fl.ty(v.Type()))

	if v.Static && v.Target != types.NoDef {
		target := fl.l.prog.ByDef[v.Target]
		sym := fl.l.symbolFor(target, nil)
		if target != nil && target.Body != nil {
			// Pin the impl's generics against the receiver's concrete type.
			subst := map[string]types.Type{}
			if impl := fl.implByDef(v.Impl); impl != nil {
				_ = types.Unify(impl.Target, fl.ty(v.Receiver.Type()), subst)
			}
			fl.l.enqueue(target, subst, sym)
		}
		fl.emit(Instr{Kind: ICall, Dst: dst, Callee: sym, CalleeID: v.Target, Args: args, Span: v.Span()})
		return LocalOp(dst)
	}

	traitName := ""
	if t := fl.l.prog.Traits[v.Trait]; t != nil {
		traitName = t.Name
	}
	fl.emit(Instr{Kind: ITraitCall, Dst: dst, Trait: traitName, Method: v.Method, Args: args, Span: v.Span()})
	return LocalOp(dst)
}

func (fl *fnLowerer) implByDef(id types.DefID) *typedast.ImplInfo {
	for _, impl := range fl.l.prog.Impls {
		if impl.Def == id {
			return impl
		}
	}
	return nil
}

func (fl *fnLowerer) lowerIf(v *typedast.If) Operand {
	cond := fl.lowerExpr(v.Cond)
	thenB := fl.fn.NewBlock()
	var elseB *Block
	joinB := fl.fn.NewBlock()

	if v.Else != nil {
		elseB = fl.fn.NewBlock()
		fl.setTerm(Terminator{Kind: TermBranch, Cond: cond, Targets: []BlockID{thenB.ID, elseB.ID}, Span: v.Span()})
		fl.seal(elseB.ID)
	} else {
		fl.setTerm(Terminator{Kind: TermBranch, Cond: cond, Targets: []BlockID{thenB.ID, joinB.ID}, Span: v.Span()})
	}
	fl.seal(thenB.ID)

	ty := fl.ty(v.Type())
	unitValued := types.Underlying(ty).Equals(types.TUnit) || isNever(ty)

	fl.startBlock(thenB)
	thenVal := fl.lowerExpr(v.Then)
	thenEnd, thenFlows := fl.cur, !fl.terminated
	fl.goTo(joinB.ID, v.Span())

	var elseVal Operand
	elseEnd, elseFlows := BlockID(-1), false
	if elseB != nil {
		fl.startBlock(elseB)
		elseVal = fl.lowerExpr(v.Else)
		elseEnd, elseFlows = fl.cur, !fl.terminated
		fl.goTo(joinB.ID, v.Span())
	}
	fl.seal(joinB.ID)

	fl.startBlock(joinB)
	if !thenFlows && !elseFlows && elseB != nil {
		// Both arms diverge; the join is unreachable.
		fl.setTerm(Terminator{Kind: TermUnreachable, Span: v.Span()})
		return ConstOp(types.TUnit, nil)
	}
	if unitValued || elseB == nil {
		return ConstOp(types.TUnit, nil)
	}

	// SSA join of the two arm values.
	dst := fl.newTemp(ty)
	in := Instr{Kind: IPhi, Dst: dst, Span: v.Span()}
	if thenFlows {
		in.Args = append(in.Args, thenVal)
		in.PhiPreds = append(in.PhiPreds, thenEnd)
	}
	if elseFlows {
		in.Args = append(in.Args, elseVal)
		in.PhiPreds = append(in.PhiPreds, elseEnd)
	}
	if len(in.Args) == 1 {
		fl.emit(Instr{Kind: ICopy, Dst: dst, Args: in.Args, Span: v.Span()})
	} else {
		fl.emit(in)
		fl.phiCount[joinB.ID]++
	}
	return LocalOp(dst)
}

func isNever(t types.Type) bool {
	_, ok := t.(*types.Never)
	return ok
}

func (fl *fnLowerer) lowerWhile(v *typedast.While) {
	header := fl.fn.NewBlock()
	header.LoopHead = true
	header.Invariants = v.Invariants
	body := fl.fn.NewBlock()
	exit := fl.fn.NewBlock()

	fl.goTo(header.ID, v.Span())

	fl.startBlock(header)
	header.NameBindings = fl.bindScopeNames(header.ID)
	cond := fl.lowerExpr(v.Cond)
	fl.setTerm(Terminator{Kind: TermBranch, Cond: cond, Targets: []BlockID{body.ID, exit.ID}, Span: v.Span()})
	fl.seal(body.ID)

	fl.loops = append(fl.loops, loopCtx{continueTo: header.ID, breakTo: exit.ID})
	fl.startBlock(body)
	fl.lowerExpr(v.Body)
	fl.goTo(header.ID, v.Span())
	fl.loops = fl.loops[:len(fl.loops)-1]

	fl.seal(header.ID)
	fl.seal(exit.ID)
	fl.startBlock(exit)
}

// lowerFor desugars iteration: ranges count an induction variable,
// arrays and slices index with one.
func (fl *fnLowerer) lowerFor(v *typedast.For) {
	iterTy := types.Underlying(fl.ty(v.Iter.Type()))

	if n, ok := iterTy.(*types.Nominal); ok && n.Name == "Range" {
		rng, isLit := v.Iter.(*typedast.RangeLit)
		var lo, hi Operand
		inclusive := false
		if isLit {
			lo = fl.lowerExpr(rng.Lo)
			hi = fl.lowerExpr(rng.Hi)
			inclusive = rng.Inclusive
		} else {
			r := fl.lowerExpr(v.Iter)
			loID := fl.newTemp(n.Args[0])
			fl.emit(Instr{Kind: IField, Dst: loID, Index: 0, Args: []Operand{r}})
			hiID := fl.newTemp(n.Args[0])
			fl.emit(Instr{Kind: IField, Dst: hiID, Index: 1, Args: []Operand{r}})
			lo, hi = LocalOp(loID), LocalOp(hiID)
		}
		fl.lowerCountedLoop(v, n.Args[0], lo, hi, inclusive, func(idx Operand) Operand { return idx })
		return
	}

	// Array/slice iteration: for x in arr => index by induction.
	seq := fl.lowerExpr(v.Iter)
	length := fl.newTemp(types.TUSize)
	fl.emit(Instr{Kind: ILen, Dst: length, Args: []Operand{seq}, Span: v.Span()})
	var elemTy types.Type = types.TUnit
	switch t := iterTy.(type) {
	case *types.Array:
		elemTy = t.Elem
	case *types.Slice:
		elemTy = t.Elem
	}
	fl.lowerCountedLoop(v, types.TUSize, ConstOp(types.TUSize, int64(0)), LocalOp(length), false,
		func(idx Operand) Operand {
			el := fl.newTemp(elemTy)
			// In-bounds by the loop bound; no runtime check needed.
			fl.emit(Instr{Kind: IIndex, Dst: el, Args: []Operand{seq, idx}, Checked: false, Span: v.Span()})
			return LocalOp(el)
		})
}

// lowerCountedLoop emits the header/body/exit triple shared by range
// and sequence loops. elem maps the induction value to the bound value.
func (fl *fnLowerer) lowerCountedLoop(v *typedast.For, idxTy types.Type, lo, hi Operand, inclusive bool, elem func(Operand) Operand) {
	fl.pushScope()
	idxKey := fl.declare("#idx", idxTy)
	fl.writeVar(idxKey, fl.cur, lo)

	header := fl.fn.NewBlock()
	header.LoopHead = true
	header.Invariants = v.Invariants
	body := fl.fn.NewBlock()
	exit := fl.fn.NewBlock()

	fl.goTo(header.ID, v.Span())

	fl.startBlock(header)
	header.NameBindings = fl.bindScopeNames(header.ID)
	idx := fl.readVar(idxKey, fl.cur)
	cmp := "<"
	if inclusive {
		cmp = "<="
	}
	cond := fl.newTemp(types.TBool)
	fl.emit(Instr{Kind: IBinary, Dst: cond, Op: cmp, Args: []Operand{idx, hi}, Span: v.Span()})
	fl.setTerm(Terminator{Kind: TermBranch, Cond: LocalOp(cond), Targets: []BlockID{body.ID, exit.ID}, Span: v.Span()})
	fl.seal(body.ID)

	fl.loops = append(fl.loops, loopCtx{continueTo: header.ID, breakTo: exit.ID})
	fl.startBlock(body)
	fl.bindPattern(v.Binding, elem(idx))
	fl.lowerExpr(v.Body)
	if !fl.terminated {
		next := fl.newTemp(idxTy)
		fl.emit(Instr{Kind: IBinary, Dst: next, Op: "+", Args: []Operand{fl.readVar(idxKey, fl.cur), ConstOp(idxTy, int64(1))}, Span: v.Span()})
		fl.writeVar(idxKey, fl.cur, LocalOp(next))
	}
	fl.goTo(header.ID, v.Span())
	fl.loops = fl.loops[:len(fl.loops)-1]

	fl.seal(header.ID)
	fl.seal(exit.ID)
	fl.startBlock(exit)
	fl.popScope()
}

func (fl *fnLowerer) lowerLoop(v *typedast.Loop) {
	header := fl.fn.NewBlock()
	header.LoopHead = true
	header.Invariants = v.Invariants
	body := fl.fn.NewBlock()
	exit := fl.fn.NewBlock()

	fl.goTo(header.ID, v.Span())
	fl.startBlock(header)
	header.NameBindings = fl.bindScopeNames(header.ID)
	fl.goTo(body.ID, v.Span())
	fl.seal(body.ID)

	fl.loops = append(fl.loops, loopCtx{continueTo: header.ID, breakTo: exit.ID})
	fl.startBlock(body)
	fl.lowerExpr(v.Body)
	fl.goTo(header.ID, v.Span())
	fl.loops = fl.loops[:len(fl.loops)-1]

	fl.seal(header.ID)
	fl.seal(exit.ID)
	fl.startBlock(exit)
}

func (fl *fnLowerer) lowerAssign(v *typedast.Assign) Operand {
	val := fl.lowerExpr(v.Value)
	switch target := v.Target.(type) {
	case *typedast.Var:
		if key, ok := fl.lookupKey(target.Name); ok {
			fl.writeVar(key, fl.cur, val)
		}
	case *typedast.FieldAccess:
		// Functional update: rebuild the aggregate with the field
		// replaced, then rebind the underlying variable.
		fl.lowerAggregateUpdate(target.Expr, func(cur Operand) Operand {
			dst := fl.newTemp(fl.ty(target.Expr.Type()))
			n := fl.aggregateWidth(target.Expr.Type())
			args := make([]Operand, n)
			for i := 0; i < n; i++ {
				if i == target.Index {
					args[i] = val
					continue
				}
				f := fl.newTemp(fl.fieldType(target.Expr.Type(), i))
				fl.emit(Instr{Kind: IField, Dst: f, Index: i, Args: []Operand{cur}, Span: v.Span()})
				args[i] = LocalOp(f)
			}
			fl.emit(Instr{Kind: IStruct, Dst: dst, Args: args, Span: v.Span()})
			return LocalOp(dst)
		})
	case *typedast.Index:
		base := fl.lowerExpr(target.Expr)
		idx := fl.lowerExpr(target.Index)
		dst := fl.newTemp(types.TUnit)
		fl.emit(Instr{Kind: ICall, Dst: dst, Callee: "bmb_vec_set", CalleeID: types.NoDef,
			Args: []Operand{base, idx, val}, Span: v.Span()})
	case *typedast.UnaryOp:
		if target.Op == "*" {
			ref := fl.lowerExpr(target.Expr)
			dst := fl.newTemp(types.TUnit)
			fl.emit(Instr{Kind: ICall, Dst: dst, Callee: "bmb_ref_store", CalleeID: types.NoDef,
				Args: []Operand{ref, val}, Span: v.Span()})
		}
	}
	return ConstOp(types.TUnit, nil)
}

// lowerAggregateUpdate applies an update function to the value behind
// a place expression and writes the result back to its root variable.
func (fl *fnLowerer) lowerAggregateUpdate(place typedast.Expr, update func(Operand) Operand) {
	if v, ok := place.(*typedast.Var); ok {
		if key, found := fl.lookupKey(v.Name); found {
			cur := fl.readVar(key, fl.cur)
			fl.writeVar(key, fl.cur, update(cur))
		}
		return
	}
	// Nested places update outward one projection at a time.
	if fa, ok := place.(*typedast.FieldAccess); ok {
		fl.lowerAggregateUpdate(fa.Expr, func(outer Operand) Operand {
			inner := fl.newTemp(fl.ty(fa.Type()))
			fl.emit(Instr{Kind: IField, Dst: inner, Index: fa.Index, Args: []Operand{outer}})
			updated := update(LocalOp(inner))
			n := fl.aggregateWidth(fa.Expr.Type())
			args := make([]Operand, n)
			for i := 0; i < n; i++ {
				if i == fa.Index {
					args[i] = updated
					continue
				}
				f := fl.newTemp(fl.fieldType(fa.Expr.Type(), i))
				fl.emit(Instr{Kind: IField, Dst: f, Index: i, Args: []Operand{outer}})
				args[i] = LocalOp(f)
			}
			dst := fl.newTemp(fl.ty(fa.Expr.Type()))
			fl.emit(Instr{Kind: IStruct, Dst: dst, Args: args})
			return LocalOp(dst)
		})
	}
}

func (fl *fnLowerer) aggregateWidth(t types.Type) int {
	switch v := types.Underlying(fl.ty(t)).(type) {
	case *types.Tuple:
		return len(v.Elems)
	case *types.Nominal:
		if info := fl.l.prog.Structs[v.Def]; info != nil {
			return len(info.Fields)
		}
	}
	return 0
}

func (fl *fnLowerer) fieldType(t types.Type, idx int) types.Type {
	switch v := types.Underlying(fl.ty(t)).(type) {
	case *types.Tuple:
		if idx < len(v.Elems) {
			return v.Elems[idx]
		}
	case *types.Nominal:
		if info := fl.l.prog.Structs[v.Def]; info != nil && idx < len(info.Fields) {
			subst := map[string]types.Type{}
			for i, g := range info.Generics {
				if i < len(v.Args) {
					subst[g.Name] = v.Args[i]
				}
			}
			return types.Apply(info.Fields[idx].Ty, subst)
		}
	}
	return types.TUnit
}

// lowerLambda produces a fresh sub-function plus an environment
// allocation holding the captured values.
func (fl *fnLowerer) lowerLambda(v *typedast.Lambda) Operand {
	sym := fl.fn.Symbol + "_lambda_" + itoa(len(fl.fn.Closures))
	sub := &Function{
		Symbol:       sym,
		Name:         sym,
		Def:          types.NoDef,
		Result:       fl.ty(v.Body.Type()),
		OldSnapshots: map[string]LocalID{},
		ParamNames:   map[string]LocalID{},
		IsClosure:    true,
		Span:         v.Span(),
	}
	sfl := &fnLowerer{
		l:          fl.l,
		fn:         sub,
		src:        fl.src,
		subst:      fl.subst,
		defs:       map[string]map[BlockID]Operand{},
		varTypes:   map[string]types.Type{},
		sealed:     map[BlockID]bool{},
		incomplete: map[BlockID]map[string]LocalID{},
		preds:      map[BlockID][]BlockID{},
		phiCount:   map[BlockID]int{},
		scopes:     []map[string]string{{}},
		captures:   map[string]typedast.Capture{},
	}
	for _, c := range v.Captures {
		sfl.captures[c.Name] = c
	}

	entry := sub.NewBlock()
	sub.Entry = entry.ID
	sfl.cur = entry.ID
	sfl.seal(entry.ID)
	for _, p := range v.Params {
		ty := fl.ty(p.Ty)
		id := sub.NewLocal(p.Name, ty)
		sub.Params = append(sub.Params, id)
		sub.ParamNames[p.Name] = id
		key := sfl.declare(p.Name, ty)
		sfl.writeVar(key, entry.ID, LocalOp(id))
	}
	val := sfl.lowerExpr(v.Body)
	if !sfl.terminated {
		sfl.setTerm(Terminator{Kind: TermReturn, Value: sfl.returnOperand(val), Span: v.Span()})
	}
	fl.fn.Closures = append(fl.fn.Closures, sub)

	// Environment allocation with captured values, in slot order.
	var capOps []Operand
	for _, c := range v.Captures {
		capOps = append(capOps, fl.lowerExpr(&typedast.Var{
			Base: typedast.Base{Ty: c.Ty, Sp: v.Span()},
			Name: c.Name,
			Kind: typedast.LocalVar,
		}))
	}
	env := fl.newTemp(types.TUnit)
	fl.emit(Instr{Kind: IEnvAlloc, Dst: env, Args: capOps, Span: v.Span()})
	dst := fl.newTemp(fl.ty(v.Type()))
	fl.emit(Instr{Kind: IClosure, Dst: dst, Callee: sym, CalleeID: types.NoDef, Args: []Operand{LocalOp(env)}, Span: v.Span()})
	return LocalOp(dst)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [8]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

// bindPattern destructures a value into scope bindings.
func (fl *fnLowerer) bindPattern(p typedast.Pattern, val Operand) {
	switch v := p.(type) {
	case *typedast.BindPat:
		key := fl.declare(v.Name, fl.ty(v.Type()))
		fl.writeVar(key, fl.cur, val)
	case *typedast.WildcardPat:
	case *typedast.TuplePat:
		for i, sub := range v.Elems {
			f := fl.newTemp(fl.ty(sub.Type()))
			fl.emit(Instr{Kind: IField, Dst: f, Index: i, Args: []Operand{val}, Span: v.Span()})
			fl.bindPattern(sub, LocalOp(f))
		}
	case *typedast.StructPat:
		for _, fp := range v.Fields {
			f := fl.newTemp(fl.ty(fp.Pattern.Type()))
			fl.emit(Instr{Kind: IField, Dst: f, Index: fp.Index, Args: []Operand{val}, Span: v.Span()})
			fl.bindPattern(fp.Pattern, LocalOp(f))
		}
	case *typedast.EnumPat:
		for i, sub := range v.SubPats {
			f := fl.newTemp(fl.ty(sub.Type()))
			fl.emit(Instr{Kind: IGetPayload, Dst: f, Tag: v.Tag, Index: i, Args: []Operand{val}, Span: v.Span()})
			fl.bindPattern(sub, LocalOp(f))
		}
	}
}
