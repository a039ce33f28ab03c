package llvmir

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	lltypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/types"
)

// fnEmitter carries the per-function emission state.
type fnEmitter struct {
	e      *Emitter
	fn     *mir.Function
	llf    *ir.Func
	blocks map[mir.BlockID]*ir.Block
	vals   map[mir.LocalID]value.Value
	// pendingPhis fills phi incomings after every block is emitted.
	pendingPhis []pendingPhi
	// panicN numbers the bounds/overflow failure blocks deterministically.
	panicN int
	// splitCont links a block split by a checked operation to its
	// continuation, so the remainder of the MIR block lands there.
	splitCont map[*ir.Block]*ir.Block
}

func (fe *fnEmitter) split(from, cont *ir.Block) { fe.splitCont[from] = cont }

type pendingPhi struct {
	phi   *ir.InstPhi
	instr mir.Instr
}

func (e *Emitter) define(fn *mir.Function) {
	llf := e.funcs[fn.Symbol]
	if llf == nil || len(fn.Blocks) == 0 {
		return
	}
	fe := &fnEmitter{
		e:         e,
		fn:        fn,
		llf:       llf,
		blocks:    map[mir.BlockID]*ir.Block{},
		vals:      map[mir.LocalID]value.Value{},
		splitCont: map[*ir.Block]*ir.Block{},
	}
	reach := mir.Reachable(fn)

	for i, p := range fn.Params {
		fe.vals[p] = llf.Params[i]
	}
	// Blocks first, in index order, so branches can reference forward.
	for _, b := range fn.Blocks {
		if !reach[b.ID] {
			continue
		}
		fe.blocks[b.ID] = llf.NewBlock(fmt.Sprintf("b%d", b.ID))
	}
	for _, b := range fn.Blocks {
		if !reach[b.ID] {
			continue
		}
		fe.emitBlock(b)
	}
	for _, pp := range fe.pendingPhis {
		for i, a := range pp.instr.Args {
			pred := fe.blocks[pp.instr.PhiPreds[i]]
			if pred == nil {
				continue
			}
			pp.phi.Incs = append(pp.phi.Incs, ir.NewIncoming(fe.operand(a, pred), pred))
		}
	}
}

func (fe *fnEmitter) emitBlock(b *mir.Block) {
	llb := fe.blocks[b.ID]
	for _, in := range b.Instrs {
		fe.emitInstr(llb, in)
		// A checked index may have split the block; continue in the
		// continuation block.
		llb = fe.curBlock(llb)
	}
	fe.emitTerm(llb, b.Term)
}

// curBlock follows block splits introduced by checked operations.
func (fe *fnEmitter) curBlock(llb *ir.Block) *ir.Block {
	for llb.Term != nil {
		// The split helper stores the continuation in splitCont.
		next, ok := fe.splitCont[llb]
		if !ok {
			return llb
		}
		llb = next
	}
	return llb
}

// operand renders a MIR operand in a block context (constants need no
// context; locals must already be defined).
func (fe *fnEmitter) operand(op mir.Operand, _ *ir.Block) value.Value {
	if op.IsConst {
		return fe.constValue(op.Const)
	}
	if v, ok := fe.vals[op.Local]; ok {
		return v
	}
	// Dead-path operand; zero of its type keeps the module well formed.
	l := fe.fn.Local(op.Local)
	return constant.NewZeroInitializer(fe.e.llType(l.Ty))
}

func (fe *fnEmitter) constValue(c mir.Const) value.Value {
	ty := fe.e.llType(c.Ty)
	switch v := c.Value.(type) {
	case int64:
		if it, ok := ty.(*lltypes.IntType); ok {
			return constant.NewInt(it, v)
		}
		if ft, ok := ty.(*lltypes.FloatType); ok {
			return constant.NewFloat(ft, float64(v))
		}
	case bool:
		return constant.NewBool(v)
	case float64:
		if ft, ok := ty.(*lltypes.FloatType); ok {
			return constant.NewFloat(ft, v)
		}
	case rune:
		return constant.NewInt(lltypes.I32, int64(v))
	case string:
		g := fe.e.internString(v)
		return g
	case nil:
		return constant.NewZeroInitializer(ty)
	}
	return constant.NewZeroInitializer(ty)
}

func (fe *fnEmitter) dstType(in mir.Instr) lltypes.Type {
	return fe.e.llType(fe.fn.Local(in.Dst).Ty)
}

func (fe *fnEmitter) emitTerm(llb *ir.Block, t mir.Terminator) {
	if llb.Term != nil {
		return
	}
	switch t.Kind {
	case mir.TermReturn:
		ret := fe.llf.Sig.RetType
		if lltypes.Equal(ret, lltypes.I1) && t.Value.IsConst && t.Value.Const.Value == nil {
			llb.NewRet(constant.NewInt(lltypes.I1, 0))
			return
		}
		llb.NewRet(fe.operand(t.Value, llb))
	case mir.TermGoto:
		llb.NewBr(fe.blocks[t.Targets[0]])
	case mir.TermBranch:
		llb.NewCondBr(fe.operand(t.Cond, llb), fe.blocks[t.Targets[0]], fe.blocks[t.Targets[1]])
	case mir.TermSwitch:
		var cases []*ir.Case
		for i, v := range t.SwitchVals {
			cases = append(cases, ir.NewCase(constant.NewInt(lltypes.I64, v), fe.blocks[t.Targets[i]]))
		}
		cond := fe.operand(t.Cond, llb)
		llb.NewSwitch(cond, fe.blocks[t.Default], cases...)
	case mir.TermUnreachable:
		llb.NewUnreachable()
	}
}

func (fe *fnEmitter) emitInstr(llb *ir.Block, in mir.Instr) {
	switch in.Kind {
	case mir.IConst, mir.ICopy:
		fe.vals[in.Dst] = fe.operand(in.Args[0], llb)

	case mir.IUnary:
		fe.emitUnary(llb, in)

	case mir.IBinary:
		fe.emitBinary(llb, in)

	case mir.IField:
		agg := fe.operand(in.Args[0], llb)
		fe.vals[in.Dst] = llb.NewExtractValue(agg, uint64(in.Index))

	case mir.IIndex:
		fe.emitIndex(llb, in)

	case mir.ILen:
		fe.emitLen(llb, in)

	case mir.IArray:
		ty := fe.dstType(in)
		var agg value.Value = constant.NewZeroInitializer(ty)
		for i, a := range in.Args {
			agg = llb.NewInsertValue(agg, fe.operand(a, llb), uint64(i))
		}
		fe.vals[in.Dst] = agg

	case mir.IStruct:
		ty := fe.dstType(in)
		var agg value.Value = constant.NewZeroInitializer(ty)
		for i, a := range in.Args {
			agg = llb.NewInsertValue(agg, fe.operand(a, llb), uint64(i))
		}
		fe.vals[in.Dst] = agg

	case mir.IEnum:
		ty := fe.dstType(in)
		var agg value.Value = constant.NewZeroInitializer(ty)
		agg = llb.NewInsertValue(agg, constant.NewInt(lltypes.I64, int64(in.Tag)), 0)
		for i, a := range in.Args {
			slot := fe.toSlot(llb, fe.operand(a, llb))
			agg = llb.NewInsertValue(agg, slot, uint64(i+1))
		}
		fe.vals[in.Dst] = agg

	case mir.IGetTag:
		agg := fe.operand(in.Args[0], llb)
		fe.vals[in.Dst] = llb.NewExtractValue(agg, 0)

	case mir.IGetPayload:
		agg := fe.operand(in.Args[0], llb)
		slot := llb.NewExtractValue(agg, uint64(in.Index+1))
		fe.vals[in.Dst] = fe.fromSlot(llb, slot, fe.dstType(in))

	case mir.ICall:
		fe.emitCall(llb, in)

	case mir.ITraitCall:
		fe.emitTraitCall(llb, in)

	case mir.IClosure:
		callee := fe.e.funcs[in.Callee]
		ty := lltypes.NewStruct(lltypes.I8Ptr, lltypes.I8Ptr)
		var agg value.Value = constant.NewZeroInitializer(ty)
		if callee != nil {
			fnPtr := llb.NewBitCast(callee, lltypes.I8Ptr)
			agg = llb.NewInsertValue(agg, fnPtr, 0)
		}
		agg = llb.NewInsertValue(agg, fe.asI8Ptr(llb, fe.operand(in.Args[0], llb)), 1)
		fe.vals[in.Dst] = agg

	case mir.IEnvAlloc:
		size := int64(len(in.Args) * 8)
		env := llb.NewCall(fe.e.runtime["bmb_alloc"], constant.NewInt(lltypes.I64, size))
		slots := llb.NewBitCast(env, lltypes.NewPointer(lltypes.I64))
		for i, a := range in.Args {
			slot := llb.NewGetElementPtr(lltypes.I64, slots, constant.NewInt(lltypes.I64, int64(i)))
			llb.NewStore(fe.toSlot(llb, fe.operand(a, llb)), slot)
		}
		fe.vals[in.Dst] = env

	case mir.ILoadCapture:
		// The environment is the implicit last parameter of a closure
		// body; a dedicated register is threaded via the runtime.
		envParam := fe.llf.Params[len(fe.llf.Params)-1]
		slots := llb.NewBitCast(envParam, lltypes.NewPointer(lltypes.I64))
		slot := llb.NewGetElementPtr(lltypes.I64, slots, constant.NewInt(lltypes.I64, int64(in.Index)))
		raw := llb.NewLoad(lltypes.I64, slot)
		fe.vals[in.Dst] = fe.fromSlot(llb, raw, fe.dstType(in))

	case mir.IPhi:
		phi := llb.NewPhi()
		phi.Typ = fe.dstType(in)
		fe.vals[in.Dst] = phi
		fe.pendingPhis = append(fe.pendingPhis, pendingPhi{phi: phi, instr: in})

	case mir.IRef:
		// Materialize the value in stack memory and take its address.
		v := fe.operand(in.Args[0], llb)
		slot := llb.NewAlloca(v.Type())
		llb.NewStore(v, slot)
		fe.vals[in.Dst] = slot

	case mir.IDeref:
		ptr := fe.operand(in.Args[0], llb)
		ld := llb.NewLoad(fe.dstType(in), ptr)
		if in.NoAlias {
			ld.Metadata = append(ld.Metadata, fe.e.noAliasAttachments()...)
		}
		fe.vals[in.Dst] = ld

	case mir.ICast:
		fe.emitCast(llb, in)

	default:
		fe.e.rep.Add(diag.New(diag.GEN001, "codegen",
			fmt.Sprintf("unemittable instruction kind %d", in.Kind), in.Span))
	}
}

func (fe *fnEmitter) emitUnary(llb *ir.Block, in mir.Instr) {
	a := fe.operand(in.Args[0], llb)
	switch in.Op {
	case "-":
		if lltypes.IsFloat(a.Type()) {
			fe.vals[in.Dst] = llb.NewFNeg(a)
			return
		}
		zero := constant.NewInt(a.Type().(*lltypes.IntType), 0)
		fe.vals[in.Dst] = llb.NewSub(zero, a)
	case "!":
		fe.vals[in.Dst] = llb.NewXor(a, constant.NewBool(true))
	case "bnot":
		all := constant.NewInt(a.Type().(*lltypes.IntType), -1)
		fe.vals[in.Dst] = llb.NewXor(a, all)
	default:
		fe.vals[in.Dst] = a
	}
}

func (fe *fnEmitter) isSigned(op mir.Operand) bool {
	p, ok := types.Underlying(fe.fn.OperandType(op)).(*types.Prim)
	return !ok || p.IsSigned() || !p.IsInteger()
}

func (fe *fnEmitter) emitBinary(llb *ir.Block, in mir.Instr) {
	a := fe.operand(in.Args[0], llb)
	b := fe.operand(in.Args[1], llb)
	signed := fe.isSigned(in.Args[0])
	float := lltypes.IsFloat(a.Type())

	switch in.Op {
	case "+", "+%":
		if float {
			fe.vals[in.Dst] = llb.NewFAdd(a, b)
		} else {
			fe.vals[in.Dst] = llb.NewAdd(a, b)
		}
	case "-", "-%":
		if float {
			fe.vals[in.Dst] = llb.NewFSub(a, b)
		} else {
			fe.vals[in.Dst] = llb.NewSub(a, b)
		}
	case "*", "*%":
		if float {
			fe.vals[in.Dst] = llb.NewFMul(a, b)
		} else {
			fe.vals[in.Dst] = llb.NewMul(a, b)
		}
	case "/":
		switch {
		case float:
			fe.vals[in.Dst] = llb.NewFDiv(a, b)
		case signed:
			fe.vals[in.Dst] = llb.NewSDiv(a, b)
		default:
			fe.vals[in.Dst] = llb.NewUDiv(a, b)
		}
	case "%":
		if signed {
			fe.vals[in.Dst] = llb.NewSRem(a, b)
		} else {
			fe.vals[in.Dst] = llb.NewURem(a, b)
		}
	case "band", "&&":
		fe.vals[in.Dst] = llb.NewAnd(a, b)
	case "bor", "||":
		fe.vals[in.Dst] = llb.NewOr(a, b)
	case "bxor":
		fe.vals[in.Dst] = llb.NewXor(a, b)
	case "implies":
		na := llb.NewXor(a, constant.NewBool(true))
		fe.vals[in.Dst] = llb.NewOr(na, b)
	case "<<":
		fe.vals[in.Dst] = llb.NewShl(a, b)
	case ">>":
		if signed {
			fe.vals[in.Dst] = llb.NewAShr(a, b)
		} else {
			fe.vals[in.Dst] = llb.NewLShr(a, b)
		}
	case "+|", "-|", "*|":
		fe.emitSaturating(llb, in, a, b, signed)
	case "+?", "-?", "*?":
		fe.emitChecked(llb, in, a, b, signed)
	case "==", "!=", "<", "<=", ">", ">=":
		fe.emitCompare(llb, in, a, b, signed, float)
	default:
		fe.vals[in.Dst] = a
	}
}

var icmpPreds = map[string][2]enum.IPred{
	"==": {enum.IPredEQ, enum.IPredEQ},
	"!=": {enum.IPredNE, enum.IPredNE},
	"<":  {enum.IPredSLT, enum.IPredULT},
	"<=": {enum.IPredSLE, enum.IPredULE},
	">":  {enum.IPredSGT, enum.IPredUGT},
	">=": {enum.IPredSGE, enum.IPredUGE},
}

var fcmpPreds = map[string]enum.FPred{
	"==": enum.FPredOEQ, "!=": enum.FPredONE,
	"<": enum.FPredOLT, "<=": enum.FPredOLE,
	">": enum.FPredOGT, ">=": enum.FPredOGE,
}

func (fe *fnEmitter) emitCompare(llb *ir.Block, in mir.Instr, a, b value.Value, signed, float bool) {
	if float {
		fe.vals[in.Dst] = llb.NewFCmp(fcmpPreds[in.Op], a, b)
		return
	}
	preds := icmpPreds[in.Op]
	p := preds[1]
	if signed {
		p = preds[0]
	}
	fe.vals[in.Dst] = llb.NewICmp(p, a, b)
}

// emitSaturating maps the saturating variants to the LLVM saturating
// intrinsics.
func (fe *fnEmitter) emitSaturating(llb *ir.Block, in mir.Instr, a, b value.Value, signed bool) {
	it := a.Type().(*lltypes.IntType)
	base := map[string]string{"+|": "add", "-|": "sub", "*|": "mul"}[in.Op]
	prefix := "u"
	if signed {
		prefix = "s"
	}
	var name string
	if base == "mul" {
		// Saturating multiplication uses the fixed-point intrinsic with
		// zero scale.
		name = fmt.Sprintf("llvm.%smul.fix.sat.i%d", prefix, it.BitSize)
		f := fe.e.intrinsic(name, it, it, it, lltypes.I32)
		fe.vals[in.Dst] = llb.NewCall(f, a, b, constant.NewInt(lltypes.I32, 0))
		return
	}
	name = fmt.Sprintf("llvm.%s%s.sat.i%d", prefix, base, it.BitSize)
	f := fe.e.intrinsic(name, it, it, it)
	fe.vals[in.Dst] = llb.NewCall(f, a, b)
}

// emitChecked maps the checked variants to the overflow intrinsics and
// panics on overflow.
func (fe *fnEmitter) emitChecked(llb *ir.Block, in mir.Instr, a, b value.Value, signed bool) {
	it := a.Type().(*lltypes.IntType)
	base := map[string]string{"+?": "add", "-?": "sub", "*?": "mul"}[in.Op]
	prefix := "u"
	if signed {
		prefix = "s"
	}
	name := fmt.Sprintf("llvm.%s%s.with.overflow.i%d", prefix, base, it.BitSize)
	pair := lltypes.NewStruct(it, lltypes.I1)
	f := fe.e.intrinsic(name, pair, it, it)
	res := llb.NewCall(f, a, b)
	val := llb.NewExtractValue(res, 0)
	ovf := llb.NewExtractValue(res, 1)

	fe.panicN++
	trap := fe.llf.NewBlock(fmt.Sprintf("ovf%d", fe.panicN))
	trap.NewCall(fe.e.runtime["bmb_panic_overflow"])
	trap.NewUnreachable()
	cont := fe.llf.NewBlock(fmt.Sprintf("ovfcont%d", fe.panicN))
	llb.NewCondBr(ovf, trap, cont)
	fe.split(llb, cont)
	fe.vals[in.Dst] = val
}

func (fe *fnEmitter) emitIndex(llb *ir.Block, in mir.Instr) {
	seqTy := types.Underlying(fe.fn.OperandType(in.Args[0]))
	if r, ok := seqTy.(*types.Ref); ok {
		seqTy = types.Underlying(r.Elem)
	}
	seq := fe.operand(in.Args[0], llb)
	idx := fe.operand(in.Args[1], llb)
	elemTy := fe.dstType(in)

	if in.Checked {
		length := fe.lengthOf(llb, seq, seqTy)
		ok := llb.NewICmp(enum.IPredULT, idx, length)
		fe.panicN++
		trap := fe.llf.NewBlock(fmt.Sprintf("oob%d", fe.panicN))
		trap.NewCall(fe.e.runtime["bmb_panic_bounds"])
		trap.NewUnreachable()
		cont := fe.llf.NewBlock(fmt.Sprintf("idxcont%d", fe.panicN))
		llb.NewCondBr(ok, cont, trap)
		fe.split(llb, cont)
		llb = cont
	}

	switch st := seqTy.(type) {
	case *types.Slice:
		ptr := llb.NewExtractValue(seq, 0)
		gep := llb.NewGetElementPtr(elemTy, ptr, idx)
		ld := llb.NewLoad(elemTy, gep)
		if in.NoAlias {
			ld.Metadata = append(ld.Metadata, fe.e.noAliasAttachments()...)
		}
		fe.vals[in.Dst] = ld
	case *types.Array:
		slot := llb.NewAlloca(fe.e.llType(st))
		st0 := llb.NewStore(seq, slot)
		gep := llb.NewGetElementPtr(fe.e.llType(st), slot, constant.NewInt(lltypes.I64, 0), idx)
		ld := llb.NewLoad(elemTy, gep)
		if in.NoAlias {
			st0.Metadata = append(st0.Metadata, fe.e.noAliasAttachments()...)
			ld.Metadata = append(ld.Metadata, fe.e.noAliasAttachments()...)
		}
		fe.vals[in.Dst] = ld
	default:
		fe.vals[in.Dst] = constant.NewZeroInitializer(elemTy)
	}
}

func (fe *fnEmitter) lengthOf(llb *ir.Block, seq value.Value, seqTy types.Type) value.Value {
	switch st := seqTy.(type) {
	case *types.Slice:
		return llb.NewExtractValue(seq, 1)
	case *types.Array:
		return constant.NewInt(lltypes.I64, int64(st.Len))
	}
	return constant.NewInt(lltypes.I64, 0)
}

func (fe *fnEmitter) emitLen(llb *ir.Block, in mir.Instr) {
	seqTy := types.Underlying(fe.fn.OperandType(in.Args[0]))
	if r, ok := seqTy.(*types.Ref); ok {
		seqTy = types.Underlying(r.Elem)
	}
	seq := fe.operand(in.Args[0], llb)
	switch st := seqTy.(type) {
	case *types.Slice:
		fe.vals[in.Dst] = llb.NewExtractValue(seq, 1)
	case *types.Array:
		fe.vals[in.Dst] = constant.NewInt(lltypes.I64, int64(st.Len))
	default:
		fe.vals[in.Dst] = llb.NewCall(fe.e.runtime["bmb_string_len"], fe.asI8Ptr(llb, seq))
	}
}

func (fe *fnEmitter) emitCall(llb *ir.Block, in mir.Instr) {
	if in.Callee == "" {
		// Indirect call through a closure pair.
		clo := fe.operand(in.Args[0], llb)
		code := llb.NewExtractValue(clo, 0)
		env := llb.NewExtractValue(clo, 1)
		var argTys []lltypes.Type
		var args []value.Value
		for _, a := range in.Args[1:] {
			v := fe.operand(a, llb)
			args = append(args, v)
			argTys = append(argTys, v.Type())
		}
		argTys = append(argTys, lltypes.I8Ptr)
		args = append(args, env)
		sig := lltypes.NewFunc(fe.dstType(in), argTys...)
		fn := llb.NewBitCast(code, lltypes.NewPointer(sig))
		fe.vals[in.Dst] = llb.NewCall(fn, args...)
		return
	}
	callee := fe.e.funcs[in.Callee]
	if callee == nil {
		callee = fe.e.runtime[in.Callee]
	}
	if callee == nil {
		fe.e.rep.Add(diag.New(diag.GEN001, "codegen", "call to unknown symbol "+in.Callee, in.Span))
		fe.vals[in.Dst] = constant.NewZeroInitializer(fe.dstType(in))
		return
	}
	var args []value.Value
	for _, a := range in.Args {
		args = append(args, fe.operand(a, llb))
	}
	fe.vals[in.Dst] = llb.NewCall(callee, args...)
}

// emitTraitCall emits an indirect call through the trait's dispatch
// table symbol.
func (fe *fnEmitter) emitTraitCall(llb *ir.Block, in mir.Instr) {
	var argTys []lltypes.Type
	var args []value.Value
	for _, a := range in.Args {
		v := fe.operand(a, llb)
		args = append(args, v)
		argTys = append(argTys, v.Type())
	}
	sig := lltypes.NewFunc(fe.dstType(in), argTys...)
	table := fe.e.dispatchTable(in.Trait, in.Method, sig)
	fnPtr := llb.NewLoad(lltypes.NewPointer(sig), table)
	fe.vals[in.Dst] = llb.NewCall(fnPtr, args...)
}

func (fe *fnEmitter) emitCast(llb *ir.Block, in mir.Instr) {
	src := fe.operand(in.Args[0], llb)
	to := fe.dstType(in)
	from := src.Type()
	signed := fe.isSigned(in.Args[0])

	switch {
	case lltypes.Equal(from, to):
		fe.vals[in.Dst] = src
	case lltypes.IsInt(from) && lltypes.IsInt(to):
		fi, ti := from.(*lltypes.IntType), to.(*lltypes.IntType)
		switch {
		case fi.BitSize > ti.BitSize:
			fe.vals[in.Dst] = llb.NewTrunc(src, to)
		case signed:
			fe.vals[in.Dst] = llb.NewSExt(src, to)
		default:
			fe.vals[in.Dst] = llb.NewZExt(src, to)
		}
	case lltypes.IsInt(from) && lltypes.IsFloat(to):
		if signed {
			fe.vals[in.Dst] = llb.NewSIToFP(src, to)
		} else {
			fe.vals[in.Dst] = llb.NewUIToFP(src, to)
		}
	case lltypes.IsFloat(from) && lltypes.IsInt(to):
		fe.vals[in.Dst] = llb.NewFPToSI(src, to)
	case lltypes.IsFloat(from) && lltypes.IsFloat(to):
		ff, tf := from.(*lltypes.FloatType), to.(*lltypes.FloatType)
		if ff.Kind == lltypes.FloatKindDouble && tf.Kind == lltypes.FloatKindFloat {
			fe.vals[in.Dst] = llb.NewFPTrunc(src, to)
		} else {
			fe.vals[in.Dst] = llb.NewFPExt(src, to)
		}
	default:
		fe.vals[in.Dst] = llb.NewBitCast(src, to)
	}
}

// toSlot widens a value into an i64 payload slot.
func (fe *fnEmitter) toSlot(llb *ir.Block, v value.Value) value.Value {
	switch t := v.Type().(type) {
	case *lltypes.IntType:
		switch {
		case t.BitSize == 64:
			return v
		case t.BitSize < 64:
			return llb.NewZExt(v, lltypes.I64)
		default:
			return llb.NewTrunc(v, lltypes.I64)
		}
	case *lltypes.FloatType:
		if t.Kind == lltypes.FloatKindDouble {
			return llb.NewBitCast(v, lltypes.I64)
		}
		return llb.NewZExt(llb.NewBitCast(v, lltypes.I32), lltypes.I64)
	case *lltypes.PointerType:
		return llb.NewPtrToInt(v, lltypes.I64)
	default:
		// Aggregates box through the heap.
		slot := llb.NewAlloca(v.Type())
		llb.NewStore(v, slot)
		return llb.NewPtrToInt(slot, lltypes.I64)
	}
}

// fromSlot narrows an i64 payload slot back to a value type.
func (fe *fnEmitter) fromSlot(llb *ir.Block, raw value.Value, to lltypes.Type) value.Value {
	switch t := to.(type) {
	case *lltypes.IntType:
		switch {
		case t.BitSize == 64:
			return raw
		case t.BitSize < 64:
			return llb.NewTrunc(raw, to)
		default:
			return llb.NewZExt(raw, to)
		}
	case *lltypes.FloatType:
		if t.Kind == lltypes.FloatKindDouble {
			return llb.NewBitCast(raw, to)
		}
		return llb.NewBitCast(llb.NewTrunc(raw, lltypes.I32), to)
	case *lltypes.PointerType:
		return llb.NewIntToPtr(raw, to)
	default:
		ptr := llb.NewIntToPtr(raw, lltypes.NewPointer(to))
		return llb.NewLoad(to, ptr)
	}
}

func (fe *fnEmitter) asI8Ptr(llb *ir.Block, v value.Value) value.Value {
	if lltypes.Equal(v.Type(), lltypes.I8Ptr) {
		return v
	}
	if _, ok := v.Type().(*lltypes.PointerType); ok {
		return llb.NewBitCast(v, lltypes.I8Ptr)
	}
	if _, ok := v.Type().(*lltypes.IntType); ok {
		return llb.NewIntToPtr(v, lltypes.I8Ptr)
	}
	slot := llb.NewAlloca(v.Type())
	llb.NewStore(v, slot)
	return llb.NewBitCast(slot, lltypes.I8Ptr)
}
