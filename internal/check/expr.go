package check

import (
	"fmt"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// local is one value binding in a body scope.
type local struct {
	ty      types.Type
	mutable bool
}

// env is a lexical scope during body elaboration. Lambda boundaries
// are marked so crossing lookups register captures.
type env struct {
	c      *Checker
	module string
	sig    *funcSig
	parent *env
	vars   map[string]*local

	inPost bool
	// lambda is non-nil on the scope that forms a lambda body; lookups
	// resolved in an ancestor of that scope become captures.
	lambda *captureSet
}

type captureSet struct {
	caps  []typedast.Capture
	index map[string]int
}

func newEnv(c *Checker, module string, sig *funcSig) *env {
	return &env{c: c, module: module, sig: sig, vars: map[string]*local{}}
}

func (e *env) child() *env {
	return &env{c: e.c, module: e.module, sig: e.sig, parent: e, vars: map[string]*local{}, inPost: e.inPost}
}

func (e *env) bind(name string, ty types.Type, mutable bool) {
	e.vars[name] = &local{ty: ty, mutable: mutable}
}

// lookup resolves a name through the scope chain, recording a capture
// on every lambda boundary it crosses.
func (e *env) lookup(name string) (*local, bool) {
	var crossed []*captureSet
	for cur := e; cur != nil; cur = cur.parent {
		if l, ok := cur.vars[name]; ok {
			for _, cs := range crossed {
				cs.add(name, l.ty)
			}
			return l, true
		}
		if cur.lambda != nil {
			crossed = append(crossed, cur.lambda)
		}
	}
	return nil, false
}

func (cs *captureSet) add(name string, ty types.Type) {
	if _, ok := cs.index[name]; ok {
		return
	}
	cs.index[name] = len(cs.caps)
	cs.caps = append(cs.caps, typedast.Capture{Name: name, Ty: ty, Index: len(cs.caps)})
}

func (e *env) errorAt(code string, sp source.Span, format string, args ...interface{}) *typedast.ErrorNode {
	e.c.rep.Add(diag.New(code, "checker", fmt.Sprintf(format, args...), sp))
	return &typedast.ErrorNode{Base: typedast.Base{Ty: types.TUnit, Sp: sp}}
}

// check elaborates an expression against an expected type
// (bidirectional checking's check mode). The expected type propagates
// into branching forms; everything else synthesizes and unifies.
func (e *env) check(x ast.Expr, want types.Type) typedast.Expr {
	switch v := x.(type) {
	case *ast.Literal:
		return e.checkLiteral(v, want)
	case *ast.IfExpr:
		return e.checkIf(v, want)
	case *ast.MatchExpr:
		return e.checkMatch(v, want)
	case *ast.BlockExpr:
		return e.checkBlockValue(v, want)
	case *ast.LambdaExpr:
		if f, ok := types.Underlying(want).(*types.Func); ok {
			return e.checkLambda(v, f)
		}
	}
	got := e.synth(x)
	return e.coerce(got, want, x.Span())
}

// coerce unifies a synthesized type against an expectation, producing
// the dedicated nullable diagnostic when an option is used where its
// base type is expected.
func (e *env) coerce(got typedast.Expr, want types.Type, sp source.Span) typedast.Expr {
	if _, bad := got.(*typedast.ErrorNode); bad {
		return got
	}
	subst := map[string]types.Type{}
	if err := types.Unify(want, got.Type(), subst); err != nil {
		if payload, ok := types.IsOption(got.Type()); ok {
			if types.Unify(want, payload, map[string]types.Type{}) == nil {
				return e.errorAt(diag.TYP005, sp,
					"nullable %s used where %s is expected; narrow it with a match first", got.Type(), want)
			}
		}
		n := e.errorAt(diag.TYP001, sp, "type mismatch")
		e.c.rep.All()[len(e.c.rep.All())-1].
			WithNote("expected: "+want.String()).
			WithNote("actual:   "+got.Type().String()).
			WithData("expected", want.String()).
			WithData("actual", got.Type().String())
		return n
	}
	return got
}

func (e *env) checkLiteral(v *ast.Literal, want types.Type) typedast.Expr {
	lit := e.synthLiteral(v, want)
	return e.coerce(lit, want, v.Span())
}

func (e *env) checkIf(v *ast.IfExpr, want types.Type) typedast.Expr {
	cond := e.check(v.Cond, types.TBool)
	thenB := e.child().check(asExpr(v.Then), want)
	var elseB typedast.Expr
	if v.Else != nil {
		elseB = e.child().check(v.Else, want)
	} else if !want.Equals(types.TUnit) {
		return e.errorAt(diag.TYP001, v.Span(), "if without else cannot produce %s", want)
	}
	return &typedast.If{Base: typedast.Base{Ty: want, Sp: v.Span()}, Cond: cond, Then: thenB, Else: elseB}
}

func (e *env) checkMatch(v *ast.MatchExpr, want types.Type) typedast.Expr {
	scrut := e.synth(v.Scrutinee)
	m := &typedast.Match{Base: typedast.Base{Ty: want, Sp: v.Span()}, Scrutinee: scrut}
	for _, arm := range v.Arms {
		sub := e.child()
		pat := sub.checkPattern(arm.Pattern, scrut.Type())
		var guard typedast.Expr
		if arm.Guard != nil {
			guard = sub.check(arm.Guard, types.TBool)
		}
		body := sub.check(arm.Body, want)
		m.Arms = append(m.Arms, typedast.MatchArm{Pattern: pat, Guard: guard, Body: body})
	}
	e.checkExhaustive(m, v)
	return m
}

// checkBlockValue elaborates a block whose trailing expression is the
// block's value.
func (e *env) checkBlockValue(v *ast.BlockExpr, want types.Type) typedast.Expr {
	sub := e.child()
	b := &typedast.Block{Base: typedast.Base{Ty: want, Sp: v.Span()}}
	for _, s := range v.Stmts {
		b.Stmts = append(b.Stmts, sub.checkStmt(s))
	}
	if v.Trailing != nil {
		b.Trailing = sub.check(v.Trailing, want)
	} else if !want.Equals(types.TUnit) && !blockDiverges(b.Stmts) {
		return e.errorAt(diag.TYP001, v.Span(), "block produces unit where %s is expected", want)
	}
	return b
}

// checkBlockBody elaborates a block-bodied function, which must return
// explicitly on every path; a trailing expression alone is the
// dedicated diagnostic so semicolon placement never silently changes
// the result type.
func (e *env) checkBlockBody(v *ast.BlockExpr, result types.Type, fnSpan source.Span) typedast.Expr {
	if v.Trailing != nil {
		e.errorAt(diag.PAR003, v.Trailing.Span(),
			"block-bodied function must end in an explicit `return`, not a trailing expression")
	}
	sub := e.child()
	b := &typedast.Block{Base: typedast.Base{Ty: types.TUnit, Sp: v.Span()}}
	for _, s := range v.Stmts {
		b.Stmts = append(b.Stmts, sub.checkStmt(s))
	}
	if !result.Equals(types.TUnit) && !blockDiverges(b.Stmts) {
		e.errorAt(diag.TYP010, fnSpan, "missing return: not every path of this body returns %s", result)
	}
	return b
}

func (e *env) checkStmt(s ast.Stmt) typedast.Expr {
	switch v := s.(type) {
	case *ast.LetExpr:
		return e.checkLet(v)
	case *ast.AssignStmt:
		return e.checkAssign(v)
	case *ast.ExprStmt:
		return e.synth(v.Expr)
	default:
		return e.errorAt(diag.TYP001, s.Span(), "unsupported statement")
	}
}

func (e *env) checkLet(v *ast.LetExpr) typedast.Expr {
	var val typedast.Expr
	if v.Type != nil {
		want := e.c.resolveType(v.Type, e.module, e.funcTypeScope())
		val = e.check(v.Value, want)
	} else {
		val = e.synth(v.Value)
	}
	pat := e.bindPattern(v.Pattern, val.Type(), v.Mutable)
	return &typedast.Let{
		Base:    typedast.Base{Ty: types.TUnit, Sp: v.Span()},
		Mutable: v.Mutable,
		Pattern: pat,
		Value:   val,
	}
}

func (e *env) checkAssign(v *ast.AssignStmt) typedast.Expr {
	target := e.synth(v.Target)
	e.requireMutablePlace(v.Target, target)
	val := e.check(v.Value, types.Underlying(target.Type()))
	return &typedast.Assign{
		Base:   typedast.Base{Ty: types.TUnit, Sp: v.Span()},
		Target: target,
		Value:  val,
	}
}

// requireMutablePlace enforces the no-mutation-of-shared-references
// rule: an assignment target must bottom out in a `var` binding or an
// exclusive reference.
func (e *env) requireMutablePlace(x ast.Expr, typed typedast.Expr) {
	switch v := x.(type) {
	case *ast.Ident:
		if l, ok := e.lookup(v.Name); ok && !l.mutable {
			e.errorAt(diag.TYP008, x.Span(), "cannot assign to immutable binding %q; declare it with `var`", v.Name)
		}
	case *ast.UnaryOp:
		if v.Op == "*" {
			inner := e.synth(v.Expr)
			switch t := types.Underlying(inner.Type()).(type) {
			case *types.Ref:
				if !t.Mutable {
					e.errorAt(diag.TYP008, x.Span(), "cannot write through shared reference %s", inner.Type())
				}
			case *types.Ptr:
				if !t.Mutable {
					e.errorAt(diag.TYP008, x.Span(), "cannot write through *const pointer")
				}
			}
		}
	case *ast.FieldAccess:
		e.requireMutablePlace(v.Expr, nil)
	case *ast.Index:
		e.requireMutablePlace(v.Expr, nil)
	default:
		e.errorAt(diag.TYP008, x.Span(), "expression is not an assignable place")
	}
}

// synth elaborates an expression in synthesis mode.
func (e *env) synth(x ast.Expr) typedast.Expr {
	switch v := x.(type) {
	case *ast.Literal:
		return e.synthLiteral(v, nil)
	case *ast.Ident:
		return e.synthIdent(v)
	case *ast.BinOp:
		return e.synthBinOp(v)
	case *ast.UnaryOp:
		return e.synthUnary(v)
	case *ast.Cast:
		return e.synthCast(v)
	case *ast.Call:
		return e.synthCall(v)
	case *ast.MethodCall:
		return e.resolveMethodCall(v)
	case *ast.FieldAccess:
		return e.synthField(v)
	case *ast.Index:
		return e.synthIndex(v)
	case *ast.TupleExpr:
		return e.synthTuple(v)
	case *ast.ArrayExpr:
		return e.synthArray(v)
	case *ast.StructLit:
		return e.synthStructLit(v)
	case *ast.EnumCtor:
		return e.synthEnumCtor(v)
	case *ast.IfExpr:
		return e.synthIf(v)
	case *ast.MatchExpr:
		return e.synthMatch(v)
	case *ast.WhileExpr:
		return e.synthWhile(v)
	case *ast.ForExpr:
		return e.synthFor(v)
	case *ast.LoopExpr:
		return e.synthLoop(v)
	case *ast.BreakExpr:
		var val typedast.Expr
		if v.Value != nil {
			val = e.synth(v.Value)
		}
		return &typedast.Break{Base: typedast.Base{Ty: &types.Never{}, Sp: v.Span()}, Value: val}
	case *ast.ContinueExpr:
		return &typedast.Continue{Base: typedast.Base{Ty: &types.Never{}, Sp: v.Span()}}
	case *ast.ReturnExpr:
		return e.synthReturn(v)
	case *ast.BlockExpr:
		return e.synthBlock(v)
	case *ast.LambdaExpr:
		return e.synthLambda(v)
	case *ast.RangeExpr:
		return e.synthRange(v)
	case *ast.LetExpr:
		return e.checkLet(v)
	case *ast.AssignStmt:
		return e.checkAssign(v)
	case *ast.ErrorExpr:
		return &typedast.ErrorNode{Base: typedast.Base{Ty: types.TUnit, Sp: v.Span()}}
	default:
		return e.errorAt(diag.TYP001, x.Span(), "unsupported expression")
	}
}

// synthLiteral types a literal, letting an expected primitive steer
// the width of an unsuffixed number.
func (e *env) synthLiteral(v *ast.Literal, want types.Type) typedast.Expr {
	var ty types.Type
	switch v.Kind {
	case ast.IntLit:
		ty = types.TI64
		if v.WidthSuffix != "" {
			if p, ok := types.PrimByName(v.WidthSuffix); ok {
				ty = p
			}
		} else if want != nil {
			if p, ok := types.Underlying(want).(*types.Prim); ok && p.IsInteger() {
				ty = p
			}
		}
	case ast.FloatLit:
		ty = types.TF64
		if v.WidthSuffix == "f32" {
			ty = &types.Prim{Kind: types.F32}
		} else if want != nil {
			if p, ok := types.Underlying(want).(*types.Prim); ok && p.IsFloat() {
				ty = p
			}
		}
	case ast.StringLit:
		ty = types.TString
	case ast.CharLit:
		ty = types.TChar
	case ast.BoolLit:
		ty = types.TBool
	case ast.UnitLit:
		ty = types.TUnit
	default:
		ty = types.TUnit
	}
	return &typedast.Lit{Base: typedast.Base{Ty: ty, Sp: v.Span()}, Kind: v.Kind, Value: v.Value}
}

func (e *env) synthIdent(v *ast.Ident) typedast.Expr {
	if l, ok := e.lookup(v.Name); ok {
		kind := typedast.LocalVar
		switch v.Name {
		case "self":
			kind = typedast.SelfVar
		case "ret":
			kind = typedast.RetVar
		}
		return &typedast.Var{Base: typedast.Base{Ty: l.ty, Sp: v.Span()}, Name: v.Name, Kind: kind}
	}

	id, n := e.c.prog.LookupFrom(e.module, v.Name)
	if n > 1 {
		return e.errorAt(diag.RES005, v.Span(), "name %q is ambiguous across imports", v.Name)
	}
	if n == 1 {
		if sig := e.c.sigs[id]; sig != nil {
			if len(sig.generics) > 0 {
				return e.errorAt(diag.TYP002, v.Span(),
					"generic function %q cannot be used as a value without instantiation", v.Name)
			}
			fty := &types.Func{Params: sig.params, Result: sig.result}
			return &typedast.Var{Base: typedast.Base{Ty: fty, Sp: v.Span()}, Name: v.Name, Kind: typedast.GlobalVar, Def: id}
		}
	}
	return e.errorAt(diag.TYP009, v.Span(), "use of undeclared name %q", v.Name)
}

var cmpOps = map[string]bool{"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}
var logicOps = map[string]bool{"&&": true, "||": true, "implies": true}
var intOnlyOps = map[string]bool{
	"band": true, "bor": true, "bxor": true, "<<": true, ">>": true, "%": true,
	"+%": true, "-%": true, "*%": true, "+|": true, "-|": true, "*|": true,
	"+?": true, "-?": true, "*?": true,
}

func (e *env) synthBinOp(v *ast.BinOp) typedast.Expr {
	op := v.Op
	switch {
	case logicOps[op]:
		l := e.check(v.Left, types.TBool)
		r := e.check(v.Right, types.TBool)
		return &typedast.BinOp{Base: typedast.Base{Ty: types.TBool, Sp: v.Span()}, Op: op, Left: l, Right: r}

	case cmpOps[op]:
		l := e.synth(v.Left)
		r := e.check(v.Right, types.Underlying(l.Type()))
		return &typedast.BinOp{Base: typedast.Base{Ty: types.TBool, Sp: v.Span()}, Op: op, Left: l, Right: r}

	default:
		l := e.synth(v.Left)
		lt := types.Underlying(l.Type())
		p, isPrim := lt.(*types.Prim)
		if !isPrim || (!p.IsInteger() && !p.IsFloat()) {
			if _, bad := l.(*typedast.ErrorNode); !bad {
				e.errorAt(diag.TYP001, v.Left.Span(), "operator %q requires a numeric operand, found %s", op, l.Type())
			}
			return &typedast.ErrorNode{Base: typedast.Base{Ty: types.TUnit, Sp: v.Span()}}
		}
		if intOnlyOps[op] && !p.IsInteger() {
			e.errorAt(diag.TYP001, v.Span(), "operator %q requires integer operands, found %s", op, l.Type())
		}
		r := e.check(v.Right, lt)
		return &typedast.BinOp{Base: typedast.Base{Ty: lt, Sp: v.Span()}, Op: op, Left: l, Right: r}
	}
}

func (e *env) synthUnary(v *ast.UnaryOp) typedast.Expr {
	switch v.Op {
	case "-":
		inner := e.synth(v.Expr)
		if p, ok := types.Underlying(inner.Type()).(*types.Prim); !ok || (!p.IsInteger() && !p.IsFloat()) {
			return e.errorAt(diag.TYP001, v.Span(), "unary `-` requires a numeric operand, found %s", inner.Type())
		}
		return &typedast.UnaryOp{Base: typedast.Base{Ty: inner.Type(), Sp: v.Span()}, Op: "-", Expr: inner}
	case "!":
		inner := e.check(v.Expr, types.TBool)
		return &typedast.UnaryOp{Base: typedast.Base{Ty: types.TBool, Sp: v.Span()}, Op: "!", Expr: inner}
	case "bnot":
		inner := e.synth(v.Expr)
		if p, ok := types.Underlying(inner.Type()).(*types.Prim); !ok || !p.IsInteger() {
			return e.errorAt(diag.TYP001, v.Span(), "`bnot` requires an integer operand, found %s", inner.Type())
		}
		return &typedast.UnaryOp{Base: typedast.Base{Ty: inner.Type(), Sp: v.Span()}, Op: "bnot", Expr: inner}
	case "*":
		inner := e.synth(v.Expr)
		switch t := types.Underlying(inner.Type()).(type) {
		case *types.Ref:
			return &typedast.UnaryOp{Base: typedast.Base{Ty: t.Elem, Sp: v.Span()}, Op: "*", Expr: inner}
		case *types.Ptr:
			return &typedast.UnaryOp{Base: typedast.Base{Ty: t.Elem, Sp: v.Span()}, Op: "*", Expr: inner}
		}
		return e.errorAt(diag.TYP001, v.Span(), "cannot dereference %s", inner.Type())
	case "&", "&mut":
		inner := e.synth(v.Expr)
		ty := &types.Ref{Mutable: v.Op == "&mut", Elem: inner.Type()}
		return &typedast.UnaryOp{Base: typedast.Base{Ty: ty, Sp: v.Span()}, Op: v.Op, Expr: inner}
	}
	return e.errorAt(diag.TYP001, v.Span(), "unsupported unary operator %q", v.Op)
}

func (e *env) synthCast(v *ast.Cast) typedast.Expr {
	inner := e.synth(v.Expr)
	to := e.c.resolveType(v.To, e.module, e.funcTypeScope())
	fromP, fromOK := types.Underlying(inner.Type()).(*types.Prim)
	toP, toOK := types.Underlying(to).(*types.Prim)
	if !fromOK || !toOK {
		return e.errorAt(diag.TYP001, v.Span(), "cast from %s to %s is not a primitive conversion", inner.Type(), to)
	}
	_ = fromP
	_ = toP
	return &typedast.Cast{Base: typedast.Base{Ty: to, Sp: v.Span()}, Expr: inner, To: to}
}

// funcTypeScope exposes the enclosing function's generic parameters to
// types written in expression position (casts, let annotations).
func (e *env) funcTypeScope() *typeScope {
	if e.sig == nil {
		return newTypeScope(nil, nil)
	}
	return newTypeScope(nil, e.sig.generics)
}

func (e *env) synthReturn(v *ast.ReturnExpr) typedast.Expr {
	result := types.Type(types.TUnit)
	if e.sig != nil {
		result = e.sig.result
	}
	var val typedast.Expr
	if v.Value != nil {
		val = e.check(v.Value, result)
	} else if !result.Equals(types.TUnit) {
		e.errorAt(diag.TYP001, v.Span(), "bare `return` in a function returning %s", result)
	}
	return &typedast.Return{Base: typedast.Base{Ty: &types.Never{}, Sp: v.Span()}, Value: val}
}

func (e *env) synthBlock(v *ast.BlockExpr) typedast.Expr {
	sub := e.child()
	b := &typedast.Block{Base: typedast.Base{Ty: types.TUnit, Sp: v.Span()}}
	for _, s := range v.Stmts {
		b.Stmts = append(b.Stmts, sub.checkStmt(s))
	}
	if v.Trailing != nil {
		b.Trailing = sub.synth(v.Trailing)
		b.Ty = b.Trailing.Type()
	}
	return b
}

func (e *env) synthIf(v *ast.IfExpr) typedast.Expr {
	cond := e.check(v.Cond, types.TBool)
	thenB := e.child().synth(asExpr(v.Then))
	var elseB typedast.Expr
	ty := thenB.Type()
	if v.Else != nil {
		elseB = e.child().check(v.Else, types.Underlying(thenB.Type()))
		if _, never := thenB.Type().(*types.Never); never {
			ty = elseB.Type()
		}
	} else {
		ty = types.TUnit
	}
	return &typedast.If{Base: typedast.Base{Ty: ty, Sp: v.Span()}, Cond: cond, Then: thenB, Else: elseB}
}

func (e *env) synthMatch(v *ast.MatchExpr) typedast.Expr {
	scrut := e.synth(v.Scrutinee)
	m := &typedast.Match{Base: typedast.Base{Ty: types.TUnit, Sp: v.Span()}, Scrutinee: scrut}
	var armTy types.Type
	for _, arm := range v.Arms {
		sub := e.child()
		pat := sub.checkPattern(arm.Pattern, scrut.Type())
		var guard typedast.Expr
		if arm.Guard != nil {
			guard = sub.check(arm.Guard, types.TBool)
		}
		var body typedast.Expr
		if armTy == nil {
			body = sub.synth(arm.Body)
			if _, never := body.Type().(*types.Never); !never {
				armTy = body.Type()
			}
		} else {
			body = sub.check(arm.Body, types.Underlying(armTy))
		}
		m.Arms = append(m.Arms, typedast.MatchArm{Pattern: pat, Guard: guard, Body: body})
	}
	if armTy == nil {
		armTy = &types.Never{}
	}
	m.Ty = armTy
	e.checkExhaustive(m, v)
	return m
}

func (e *env) synthWhile(v *ast.WhileExpr) typedast.Expr {
	cond := e.check(v.Cond, types.TBool)
	invs := e.checkInvariants(v.Invariants)
	body := e.child().synth(asExpr(v.Body))
	return &typedast.While{Base: typedast.Base{Ty: types.TUnit, Sp: v.Span()}, Cond: cond, Invariants: invs, Body: body}
}

func (e *env) synthFor(v *ast.ForExpr) typedast.Expr {
	iter := e.synth(v.Iter)
	var elemTy types.Type
	switch t := types.Underlying(iter.Type()).(type) {
	case *types.Array:
		elemTy = t.Elem
	case *types.Slice:
		elemTy = t.Elem
	case *types.Nominal:
		if t.Name == "Range" && len(t.Args) == 1 {
			elemTy = t.Args[0]
		}
	}
	if elemTy == nil {
		e.errorAt(diag.TYP001, v.Iter.Span(), "cannot iterate over %s", iter.Type())
		elemTy = types.TUnit
	}
	sub := e.child()
	binding := sub.bindPattern(v.Binding, elemTy, false)
	invs := sub.checkInvariants(v.Invariants)
	body := sub.synth(asExpr(v.Body))
	return &typedast.For{
		Base: typedast.Base{Ty: types.TUnit, Sp: v.Span()},
		Binding: binding, Iter: iter, Invariants: invs, Body: body,
	}
}

func (e *env) synthLoop(v *ast.LoopExpr) typedast.Expr {
	invs := e.checkInvariants(v.Invariants)
	body := e.child().synth(asExpr(v.Body))
	return &typedast.Loop{Base: typedast.Base{Ty: types.TUnit, Sp: v.Span()}, Invariants: invs, Body: body}
}

func (e *env) checkInvariants(invs []*ast.Contract) []typedast.Contract {
	var out []typedast.Contract
	for _, inv := range invs {
		want := types.Type(types.TBool)
		if inv.Kind == ast.Decreases {
			want = types.TI64
		}
		pred := e.check(inv.Expr, want)
		if _, bad := pred.(*typedast.ErrorNode); bad {
			continue
		}
		out = append(out, typedast.Contract{Kind: inv.Kind, Pred: pred, Sp: inv.Span()})
	}
	return out
}

func (e *env) synthTuple(v *ast.TupleExpr) typedast.Expr {
	t := &typedast.Tuple{Base: typedast.Base{Sp: v.Span()}}
	elems := make([]types.Type, len(v.Elems))
	for i, el := range v.Elems {
		te := e.synth(el)
		t.Elems = append(t.Elems, te)
		elems[i] = te.Type()
	}
	t.Ty = &types.Tuple{Elems: elems}
	return t
}

func (e *env) synthArray(v *ast.ArrayExpr) typedast.Expr {
	a := &typedast.ArrayLit{Base: typedast.Base{Sp: v.Span()}}
	if len(v.Elems) == 0 {
		a.Ty = &types.Array{Elem: types.TUnit, Len: 0}
		return a
	}
	first := e.synth(v.Elems[0])
	a.Elems = append(a.Elems, first)
	for _, el := range v.Elems[1:] {
		a.Elems = append(a.Elems, e.check(el, types.Underlying(first.Type())))
	}
	a.Ty = &types.Array{Elem: first.Type(), Len: len(v.Elems)}
	return a
}

func (e *env) synthField(v *ast.FieldAccess) typedast.Expr {
	recv := e.synth(v.Expr)
	ty := types.Underlying(recv.Type())
	if r, ok := ty.(*types.Ref); ok {
		ty = types.Underlying(r.Elem) // auto-deref through references
	}

	if tup, ok := ty.(*types.Tuple); ok {
		var idx int
		if _, err := fmt.Sscanf(v.Field, "%d", &idx); err == nil && idx >= 0 && idx < len(tup.Elems) {
			return &typedast.FieldAccess{
				Base: typedast.Base{Ty: tup.Elems[idx], Sp: v.Span()},
				Expr: recv, Field: v.Field, Index: idx,
			}
		}
	}

	n, ok := ty.(*types.Nominal)
	if !ok {
		return e.errorAt(diag.TYP001, v.Span(), "%s has no field %q", recv.Type(), v.Field)
	}
	info := e.c.out.Structs[n.Def]
	if info == nil {
		return e.errorAt(diag.TYP001, v.Span(), "%s has no fields", recv.Type())
	}
	idx := info.FieldIndex(v.Field)
	if idx < 0 {
		return e.errorAt(diag.TYP001, v.Span(), "struct %s has no field %q", info.Name, v.Field)
	}
	fieldTy := info.Fields[idx].Ty.Substitute(nominalSubst(info.Generics, n.Args))
	return &typedast.FieldAccess{
		Base: typedast.Base{Ty: fieldTy, Sp: v.Span()},
		Expr: recv, Field: v.Field, Index: idx,
	}
}

func (e *env) synthIndex(v *ast.Index) typedast.Expr {
	recv := e.synth(v.Expr)
	idx := e.check(v.Index, types.TUSize)
	ty := types.Underlying(recv.Type())
	if r, ok := ty.(*types.Ref); ok {
		ty = types.Underlying(r.Elem)
	}
	var elem types.Type
	switch t := ty.(type) {
	case *types.Array:
		elem = t.Elem
	case *types.Slice:
		elem = t.Elem
	default:
		return e.errorAt(diag.TYP001, v.Span(), "cannot index %s", recv.Type())
	}
	return &typedast.Index{Base: typedast.Base{Ty: elem, Sp: v.Span()}, Expr: recv, Index: idx}
}

func (e *env) synthStructLit(v *ast.StructLit) typedast.Expr {
	id, n := e.c.prog.LookupFrom(e.module, v.Name)
	d := e.c.prog.Def(id)
	if n == 0 || d == nil || d.Kind != resolve.DefStruct {
		return e.errorAt(diag.TYP001, v.Span(), "unknown struct %q", v.Name)
	}
	info := e.c.out.Structs[id]

	// Infer the nominal's type arguments from field initializers.
	subst := map[string]types.Type{}
	lit := &typedast.StructLit{Base: typedast.Base{Sp: v.Span()}, Def: id}
	seen := map[string]bool{}
	for _, f := range v.Fields {
		idx := info.FieldIndex(f.Name)
		if idx < 0 {
			e.errorAt(diag.TYP001, f.Span(), "struct %s has no field %q", info.Name, f.Name)
			continue
		}
		if seen[f.Name] {
			e.errorAt(diag.TYP001, f.Span(), "field %q initialized twice", f.Name)
			continue
		}
		seen[f.Name] = true
		val := e.synth(f.Value)
		if err := types.Unify(info.Fields[idx].Ty, val.Type(), subst); err != nil {
			e.errorAt(diag.TYP001, f.Span(), "field %q: %v", f.Name, err)
		}
		lit.Fields = append(lit.Fields, typedast.StructFieldInit{Name: f.Name, Index: idx, Value: val})
	}
	for _, fld := range info.Fields {
		if !seen[fld.Name] {
			e.errorAt(diag.TYP001, v.Span(), "missing field %q in %s literal", fld.Name, info.Name)
		}
	}
	args := make([]types.Type, len(info.Generics))
	for i, g := range info.Generics {
		if t, ok := subst[g.Name]; ok {
			args[i] = t
		} else {
			e.errorAt(diag.TYP002, v.Span(), "cannot infer type argument %s of %s", g.Name, info.Name)
			args[i] = types.TUnit
		}
	}
	lit.Ty = &types.Nominal{Name: info.Name, Def: id, Args: args}
	return lit
}

func (e *env) synthEnumCtor(v *ast.EnumCtor) typedast.Expr {
	id, n := e.c.prog.LookupFrom(e.module, v.Enum)
	if v.Enum == types.OptionName {
		id, n = e.c.optionDef, 1
	}
	d := e.c.prog.Def(id)
	if n == 0 || d == nil || d.Kind != resolve.DefEnum {
		return e.errorAt(diag.TYP001, v.Span(), "unknown enum %q", v.Enum)
	}
	info := e.c.out.Enums[id]
	variant := info.VariantByName(v.Variant)
	if variant == nil {
		return e.errorAt(diag.TYP001, v.Span(), "enum %s has no variant %q", info.Name, v.Variant)
	}
	if len(v.Args) != len(variant.Fields) {
		return e.errorAt(diag.TYP001, v.Span(),
			"variant %s::%s expects %d payload values, got %d", info.Name, v.Variant, len(variant.Fields), len(v.Args))
	}

	subst := map[string]types.Type{}
	ctor := &typedast.EnumCtor{Base: typedast.Base{Sp: v.Span()}, Def: id, Variant: v.Variant, Tag: variant.Tag}
	for i, a := range v.Args {
		val := e.synth(a)
		if err := types.Unify(variant.Fields[i], val.Type(), subst); err != nil {
			e.errorAt(diag.TYP001, a.Span(), "payload %d of %s::%s: %v", i, info.Name, v.Variant, err)
		}
		ctor.Args = append(ctor.Args, val)
	}
	args := make([]types.Type, len(info.Generics))
	for i, g := range info.Generics {
		if t, ok := subst[g.Name]; ok {
			args[i] = t
		} else {
			// Payload-free variants of a generic enum (None) leave the
			// argument open; a later coercion pins it. Default to unit
			// when nothing ever constrains it.
			args[i] = types.TUnit
		}
	}
	ctor.Ty = &types.Nominal{Name: info.Name, Def: id, Args: args}
	return ctor
}

func (e *env) synthRange(v *ast.RangeExpr) typedast.Expr {
	lo := e.synth(v.Lo)
	hi := e.check(v.Hi, types.Underlying(lo.Type()))
	ty := &types.Nominal{Name: "Range", Def: types.NoDef, Args: []types.Type{lo.Type()}}
	return &typedast.RangeLit{Base: typedast.Base{Ty: ty, Sp: v.Span()}, Lo: lo, Hi: hi, Inclusive: v.Inclusive}
}

func (e *env) synthLambda(v *ast.LambdaExpr) typedast.Expr {
	sub := e.child()
	sub.lambda = &captureSet{index: map[string]int{}}
	lam := &typedast.Lambda{Base: typedast.Base{Sp: v.Span()}}
	var paramTys []types.Type
	for _, p := range v.Params {
		var ty types.Type = types.TI64
		if p.Type != nil {
			ty = e.c.resolveType(p.Type, e.module, e.funcTypeScope())
		} else {
			e.errorAt(diag.TYP002, p.Span(), "lambda parameter %q needs a type annotation here", p.Name)
		}
		sub.bind(p.Name, ty, false)
		lam.Params = append(lam.Params, typedast.LambdaParam{Name: p.Name, Ty: ty})
		paramTys = append(paramTys, ty)
	}
	lam.Body = sub.synth(v.Body)
	lam.Captures = sub.lambda.caps
	lam.Ty = &types.Func{Params: paramTys, Result: lam.Body.Type()}
	return lam
}

// checkLambda elaborates a lambda against an expected function type,
// so unannotated parameters adopt the expected parameter types.
func (e *env) checkLambda(v *ast.LambdaExpr, want *types.Func) typedast.Expr {
	if len(v.Params) != len(want.Params) {
		return e.errorAt(diag.TYP001, v.Span(),
			"lambda has %d parameters where %d are expected", len(v.Params), len(want.Params))
	}
	sub := e.child()
	sub.lambda = &captureSet{index: map[string]int{}}
	lam := &typedast.Lambda{Base: typedast.Base{Sp: v.Span()}}
	for i, p := range v.Params {
		ty := want.Params[i]
		if p.Type != nil {
			ty = e.c.resolveType(p.Type, e.module, e.funcTypeScope())
		}
		sub.bind(p.Name, ty, false)
		lam.Params = append(lam.Params, typedast.LambdaParam{Name: p.Name, Ty: ty})
	}
	lam.Body = sub.check(v.Body, want.Result)
	lam.Captures = sub.lambda.caps
	lam.Ty = want
	return lam
}

func nominalSubst(gens []typedast.GenericParam, args []types.Type) map[string]types.Type {
	s := map[string]types.Type{}
	for i, g := range gens {
		if i < len(args) {
			s[g.Name] = args[i]
		}
	}
	return s
}

func asExpr(b *ast.BlockExpr) ast.Expr { return b }

// blockDiverges reports whether a statement list definitely ends in a
// return/break/continue on every path (the return-on-every-path check).
func blockDiverges(stmts []typedast.Expr) bool {
	for _, s := range stmts {
		if exprDiverges(s) {
			return true
		}
	}
	return false
}

func exprDiverges(x typedast.Expr) bool {
	switch v := x.(type) {
	case *typedast.Return, *typedast.Break, *typedast.Continue:
		return true
	case *typedast.Block:
		if v.Trailing != nil && exprDiverges(v.Trailing) {
			return true
		}
		return blockDiverges(v.Stmts)
	case *typedast.If:
		return v.Else != nil && exprDiverges(v.Then) && exprDiverges(v.Else)
	case *typedast.Match:
		if len(v.Arms) == 0 {
			return false
		}
		for _, a := range v.Arms {
			if !exprDiverges(a.Body) {
				return false
			}
		}
		return true
	case *typedast.Loop:
		// An unconditional loop with no break diverges.
		return !containsBreak(v.Body)
	}
	return false
}

func containsBreak(x typedast.Expr) bool {
	found := false
	walk(x, func(n typedast.Expr) bool {
		switch n.(type) {
		case *typedast.Break:
			found = true
			return false
		case *typedast.While, *typedast.For, *typedast.Loop:
			// Breaks inside a nested loop target that loop.
			return false
		}
		return true
	})
	return found
}
