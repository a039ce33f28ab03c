package mir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// Lowerer drives syntax-directed lowering of a typed program into MIR,
// monomorphizing one function per distinct generic instantiation.
type Lowerer struct {
	prog *typedast.Program
	rep  *diag.Reporter

	done map[string]*Function
	work []workItem
	out  *Program
}

type workItem struct {
	fn    *typedast.Func
	subst map[string]types.Type
	sym   string
}

// Lower produces the MIR program for every reachable monomorphic
// function. Generic functions are lowered once per instantiation
// discovered at call sites.
func Lower(prog *typedast.Program, rep *diag.Reporter) *Program {
	l := &Lowerer{prog: prog, rep: rep, done: map[string]*Function{}, out: &Program{}}

	for _, f := range prog.Funcs {
		if f.IsExtern {
			var params []types.Type
			for _, p := range f.Params {
				params = append(params, p.Ty)
			}
			l.out.Externs = append(l.out.Externs, ExternDecl{Symbol: f.Name, Params: params, Result: f.Result})
			continue
		}
		if f.Body == nil || len(f.Generics) > 0 {
			continue
		}
		l.enqueue(f, nil, l.symbolFor(f, nil))
	}

	for len(l.work) > 0 {
		item := l.work[0]
		l.work = l.work[1:]
		l.lowerFunc(item)
	}

	// Deterministic output order: by symbol.
	sort.Slice(l.out.Funcs, func(i, j int) bool { return l.out.Funcs[i].Symbol < l.out.Funcs[j].Symbol })
	return l.out
}

func (l *Lowerer) enqueue(fn *typedast.Func, subst map[string]types.Type, sym string) {
	if _, seen := l.done[sym]; seen {
		return
	}
	l.done[sym] = nil // reserve; filled when lowered
	l.work = append(l.work, workItem{fn: fn, subst: subst, sym: sym})
}

// symbolFor builds the canonical symbol of an instantiation:
// the plain name for monomorphic functions, name_suffixes for
// monomorphizations, Trait_Type_method for impl methods.
func (l *Lowerer) symbolFor(fn *typedast.Func, typeArgs []types.Type) string {
	sym := fn.Name
	for _, impl := range l.prog.Impls {
		for m, def := range impl.Methods {
			if def == fn.Def {
				owner := typeSuffix(impl.Target)
				if impl.Trait != types.NoDef {
					if trait := l.prog.Traits[impl.Trait]; trait != nil {
						sym = trait.Name + "_" + owner + "_" + m
					}
				} else {
					sym = owner + "_" + m
				}
			}
		}
	}
	for _, ta := range typeArgs {
		sym += "_" + typeSuffix(ta)
	}
	return sym
}

// typeSuffix renders a type as a symbol component.
func typeSuffix(t types.Type) string {
	switch v := types.Underlying(t).(type) {
	case *types.Prim:
		return v.String()
	case *types.Nominal:
		parts := []string{v.Name}
		for _, a := range v.Args {
			parts = append(parts, typeSuffix(a))
		}
		return strings.Join(parts, "_")
	case *types.Ref:
		return "ref_" + typeSuffix(v.Elem)
	case *types.Ptr:
		return "ptr_" + typeSuffix(v.Elem)
	case *types.Slice:
		return "slice_" + typeSuffix(v.Elem)
	case *types.Array:
		return fmt.Sprintf("arr%d_%s", v.Len, typeSuffix(v.Elem))
	case *types.Tuple:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = typeSuffix(e)
		}
		return "tup_" + strings.Join(parts, "_")
	case *types.Func:
		return "fn"
	default:
		return "t"
	}
}

// ---------------------------------------------------------------------------
// Per-function lowering

type loopCtx struct {
	continueTo BlockID
	breakTo    BlockID
}

type fnLowerer struct {
	l     *Lowerer
	fn    *Function
	src   *typedast.Func
	subst map[string]types.Type

	cur        BlockID
	terminated bool

	// Braun-style SSA construction state.
	defs       map[string]map[BlockID]Operand
	varTypes   map[string]types.Type
	sealed     map[BlockID]bool
	incomplete map[BlockID]map[string]LocalID
	preds      map[BlockID][]BlockID
	phiCount   map[BlockID]int

	// scopes maps source names to versioned SSA variable keys.
	scopes []map[string]string
	nextVer int

	loops []loopCtx

	// captures is non-nil when lowering a lambda sub-function.
	captures map[string]typedast.Capture
}

func (l *Lowerer) lowerFunc(item workItem) {
	fn := &Function{
		Symbol:       item.sym,
		Name:         item.fn.Name,
		Def:          item.fn.Def,
		Result:       types.Apply(item.fn.Result, orEmpty(item.subst)),
		Contracts:    item.fn.Contracts,
		OldSnapshots: map[string]LocalID{},
		ParamNames:   map[string]LocalID{},
		IsPure:       item.fn.IsPure,
		TrustReason:  item.fn.TrustReason,
		Span:         item.fn.Sp,
	}
	fl := &fnLowerer{
		l:          l,
		fn:         fn,
		src:        item.fn,
		subst:      orEmpty(item.subst),
		defs:       map[string]map[BlockID]Operand{},
		varTypes:   map[string]types.Type{},
		sealed:     map[BlockID]bool{},
		incomplete: map[BlockID]map[string]LocalID{},
		preds:      map[BlockID][]BlockID{},
		phiCount:   map[BlockID]int{},
		scopes:     []map[string]string{{}},
	}

	entry := fn.NewBlock()
	fn.Entry = entry.ID
	fl.cur = entry.ID
	fl.seal(entry.ID)

	for _, p := range item.fn.Params {
		ty := fl.ty(p.Ty)
		id := fn.NewLocal(p.Name, ty)
		fn.Params = append(fn.Params, id)
		fn.ParamNames[p.Name] = id
		key := fl.declare(p.Name, ty)
		fl.writeVar(key, entry.ID, LocalOp(id))
	}

	fl.snapshotOldReadings()

	if item.fn.Body != nil {
		val := fl.lowerExpr(item.fn.Body)
		if !fl.terminated {
			fl.setTerm(Terminator{Kind: TermReturn, Value: fl.returnOperand(val), Span: item.fn.Sp})
		}
	} else {
		fl.setTerm(Terminator{Kind: TermReturn, Value: ConstOp(types.TUnit, nil)})
	}

	if err := Validate(fn); err != nil {
		l.rep.Add(diag.New(diag.MIR001, "mir", err.Error(), fn.Span))
	}
	l.done[item.sym] = fn
	l.out.Funcs = append(l.out.Funcs, fn)
}

func (fl *fnLowerer) returnOperand(val Operand) Operand {
	if types.Underlying(fl.fn.Result).Equals(types.TUnit) {
		return ConstOp(types.TUnit, nil)
	}
	return val
}

func orEmpty(s map[string]types.Type) map[string]types.Type {
	if s == nil {
		return map[string]types.Type{}
	}
	return s
}

func (fl *fnLowerer) ty(t types.Type) types.Type { return types.Apply(t, fl.subst) }

// snapshotOldReadings materializes every old(e) reading of the
// function's postconditions as an entry-block local, so later
// mutations never disturb the pre-state value.
func (fl *fnLowerer) snapshotOldReadings() {
	for _, ct := range fl.src.Contracts {
		if ct.Kind != ast.Postcondition {
			continue
		}
		walkTyped(ct.Pred, func(x typedast.Expr) bool {
			if o, ok := x.(*typedast.Old); ok {
				key := ExprKey(o.Inner)
				if _, done := fl.fn.OldSnapshots[key]; !done {
					op := fl.lowerExpr(o.Inner)
					id := fl.materialize(op, fl.ty(o.Inner.Type()))
					fl.fn.OldSnapshots[key] = id
				}
				return false
			}
			return true
		})
	}
}

// ---------------------------------------------------------------------------
// Block and SSA plumbing

func (fl *fnLowerer) block() *Block { return fl.fn.Block(fl.cur) }

func (fl *fnLowerer) emit(in Instr) {
	if fl.terminated {
		// Unreachable code after a diverging expression: park it in a
		// fresh dead block that DCE removes.
		dead := fl.fn.NewBlock()
		fl.cur = dead.ID
		fl.seal(dead.ID)
		fl.terminated = false
	}
	fl.block().Instrs = append(fl.block().Instrs, in)
}

func (fl *fnLowerer) newTemp(ty types.Type) LocalID { return fl.fn.NewLocal("", ty) }

// materialize forces an operand into a local.
func (fl *fnLowerer) materialize(op Operand, ty types.Type) LocalID {
	if !op.IsConst && op.Local != NoLocal {
		return op.Local
	}
	dst := fl.newTemp(ty)
	fl.emit(Instr{Kind: IConst, Dst: dst, Args: []Operand{op}})
	return dst
}

func (fl *fnLowerer) setTerm(t Terminator) {
	if fl.terminated {
		return
	}
	fl.block().Term = t
	for _, succ := range t.Successors() {
		fl.preds[succ] = append(fl.preds[succ], fl.cur)
	}
	fl.terminated = true
}

func (fl *fnLowerer) startBlock(b *Block) {
	fl.cur = b.ID
	fl.terminated = false
}

func (fl *fnLowerer) goTo(target BlockID, sp source.Span) {
	fl.setTerm(Terminator{Kind: TermGoto, Targets: []BlockID{target}, Span: sp})
}

// declare opens a fresh SSA variable version for a source name.
func (fl *fnLowerer) declare(name string, ty types.Type) string {
	fl.nextVer++
	key := fmt.Sprintf("%s#%d", name, fl.nextVer)
	fl.scopes[len(fl.scopes)-1][name] = key
	fl.varTypes[key] = ty
	return key
}

func (fl *fnLowerer) lookupKey(name string) (string, bool) {
	for i := len(fl.scopes) - 1; i >= 0; i-- {
		if key, ok := fl.scopes[i][name]; ok {
			return key, true
		}
	}
	return "", false
}

func (fl *fnLowerer) pushScope() { fl.scopes = append(fl.scopes, map[string]string{}) }
func (fl *fnLowerer) popScope()  { fl.scopes = fl.scopes[:len(fl.scopes)-1] }

func (fl *fnLowerer) writeVar(key string, bb BlockID, val Operand) {
	if fl.defs[key] == nil {
		fl.defs[key] = map[BlockID]Operand{}
	}
	fl.defs[key][bb] = val
}

func (fl *fnLowerer) readVar(key string, bb BlockID) Operand {
	if v, ok := fl.defs[key][bb]; ok {
		return v
	}
	return fl.readVarRec(key, bb)
}

func (fl *fnLowerer) readVarRec(key string, bb BlockID) Operand {
	var val Operand
	switch {
	case !fl.sealed[bb]:
		// Loop header still awaiting its back-edge: leave an
		// operandless phi, completed on seal.
		phi := fl.addPhi(bb, fl.varTypes[key])
		if fl.incomplete[bb] == nil {
			fl.incomplete[bb] = map[string]LocalID{}
		}
		fl.incomplete[bb][key] = phi
		val = LocalOp(phi)
	case len(fl.preds[bb]) == 1:
		val = fl.readVar(key, fl.preds[bb][0])
	case len(fl.preds[bb]) == 0:
		// Read of a variable with no definition on this path; the
		// checker has already diagnosed it.
		val = ConstOp(fl.varTypes[key], nil)
	default:
		phi := fl.addPhi(bb, fl.varTypes[key])
		fl.writeVar(key, bb, LocalOp(phi))
		fl.fillPhi(key, phi, bb)
		val = LocalOp(phi)
	}
	fl.writeVar(key, bb, val)
	return val
}

// addPhi prepends an empty phi to a block, keeping all phis ahead of
// ordinary instructions.
func (fl *fnLowerer) addPhi(bb BlockID, ty types.Type) LocalID {
	dst := fl.newTemp(ty)
	b := fl.fn.Block(bb)
	pos := fl.phiCount[bb]
	in := Instr{Kind: IPhi, Dst: dst}
	b.Instrs = append(b.Instrs, Instr{})
	copy(b.Instrs[pos+1:], b.Instrs[pos:])
	b.Instrs[pos] = in
	fl.phiCount[bb]++
	return dst
}

func (fl *fnLowerer) fillPhi(key string, phi LocalID, bb BlockID) {
	b := fl.fn.Block(bb)
	for i := range b.Instrs {
		if b.Instrs[i].Kind == IPhi && b.Instrs[i].Dst == phi {
			for _, p := range fl.preds[bb] {
				b.Instrs[i].Args = append(b.Instrs[i].Args, fl.readVar(key, p))
				b.Instrs[i].PhiPreds = append(b.Instrs[i].PhiPreds, p)
			}
			return
		}
	}
}

// bindScopeNames pins every source name visible at a loop header to
// its SSA value there (forcing header phis for loop-carried
// variables), so invariant predicates translate against real values.
func (fl *fnLowerer) bindScopeNames(bb BlockID) map[string]LocalID {
	out := map[string]LocalID{}
	for _, scope := range fl.scopes {
		names := make([]string, 0, len(scope))
		for name := range scope {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			key := scope[name]
			op := fl.readVar(key, bb)
			out[name] = fl.materialize(op, fl.varTypes[key])
		}
	}
	return out
}

// seal marks a block's predecessor list final and completes any
// pending phis. Completion runs in sorted key order so local
// numbering is identical across runs.
func (fl *fnLowerer) seal(bb BlockID) {
	pending := fl.incomplete[bb]
	keys := make([]string, 0, len(pending))
	for key := range pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fl.fillPhi(key, pending[key], bb)
	}
	delete(fl.incomplete, bb)
	fl.sealed[bb] = true
}
