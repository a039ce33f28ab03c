// Package llvmir lowers optimized MIR to a textual LLVM IR module.
// The module is built with llir/llvm's typed IR values and
// rendered by its deterministic printer, so two runs on the same input
// produce byte-identical output.
package llvmir

import (
	"fmt"
	"sort"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/metadata"
	lltypes "github.com/llir/llvm/ir/types"

	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/types"
)

// DefaultTriple is used when the driver supplies none.
const DefaultTriple = "x86_64-unknown-linux-gnu"

// Emitter builds one LLVM module per compilation.
type Emitter struct {
	rep    *diag.Reporter
	triple string
	tprog  *typedast.Program

	m       *ir.Module
	funcs   map[string]*ir.Func
	runtime map[string]*ir.Func
	strings map[string]*ir.Global
	// noalias is the scope list referenced by no-alias metadata
	// attachments, built on first use.
	noalias *metadata.Tuple
}

// New creates an emitter targeting a triple. The typed program
// supplies struct and enum layouts.
func New(rep *diag.Reporter, tprog *typedast.Program, triple string) *Emitter {
	if triple == "" {
		triple = DefaultTriple
	}
	return &Emitter{rep: rep, triple: triple, tprog: tprog, funcs: map[string]*ir.Func{}, runtime: map[string]*ir.Func{}}
}

// runtimeSurface is the fixed symbol set expected at link time,
// declared up front in deterministic order.
var runtimeSurface = []struct {
	name   string
	ret    lltypes.Type
	params []lltypes.Type
}{
	{"bmb_print_int", lltypes.Void, []lltypes.Type{lltypes.I64}},
	{"bmb_print_str", lltypes.Void, []lltypes.Type{lltypes.I8Ptr}},
	{"bmb_int_to_string", lltypes.I8Ptr, []lltypes.Type{lltypes.I64}},
	{"bmb_string_len", lltypes.I64, []lltypes.Type{lltypes.I8Ptr}},
	{"bmb_string_concat", lltypes.I8Ptr, []lltypes.Type{lltypes.I8Ptr, lltypes.I8Ptr}},
	{"bmb_string_eq", lltypes.I1, []lltypes.Type{lltypes.I8Ptr, lltypes.I8Ptr}},
	{"bmb_char_to_int", lltypes.I64, []lltypes.Type{lltypes.I32}},
	{"bmb_int_to_char", lltypes.I32, []lltypes.Type{lltypes.I64}},
	{"bmb_vec_alloc", lltypes.I8Ptr, []lltypes.Type{lltypes.I64}},
	{"bmb_vec_push", lltypes.Void, []lltypes.Type{lltypes.I8Ptr, lltypes.I64}},
	{"bmb_vec_pop", lltypes.I64, []lltypes.Type{lltypes.I8Ptr}},
	{"bmb_vec_get", lltypes.I64, []lltypes.Type{lltypes.I8Ptr, lltypes.I64}},
	{"bmb_vec_set", lltypes.Void, []lltypes.Type{lltypes.I8Ptr, lltypes.I64, lltypes.I64}},
	{"bmb_vec_len", lltypes.I64, []lltypes.Type{lltypes.I8Ptr}},
	{"bmb_vec_cap", lltypes.I64, []lltypes.Type{lltypes.I8Ptr}},
	{"bmb_vec_free", lltypes.Void, []lltypes.Type{lltypes.I8Ptr}},
	{"bmb_alloc", lltypes.I8Ptr, []lltypes.Type{lltypes.I64}},
	{"bmb_free", lltypes.Void, []lltypes.Type{lltypes.I8Ptr}},
	{"bmb_box_int", lltypes.I8Ptr, []lltypes.Type{lltypes.I64}},
	{"bmb_argc", lltypes.I64, nil},
	{"bmb_argv", lltypes.I8Ptr, []lltypes.Type{lltypes.I64}},
	{"bmb_ref_store", lltypes.Void, []lltypes.Type{lltypes.I8Ptr, lltypes.I64}},
	{"bmb_panic_bounds", lltypes.Void, nil},
	{"bmb_panic_overflow", lltypes.Void, nil},
}

// Emit renders a lowered program as LLVM IR text.
func (e *Emitter) Emit(prog *mir.Program) string {
	e.m = ir.NewModule()
	e.m.SourceFilename = "bmb"
	e.m.TargetTriple = e.triple

	for _, rt := range runtimeSurface {
		var params []*ir.Param
		for i, p := range rt.params {
			params = append(params, ir.NewParam(fmt.Sprintf("a%d", i), p))
		}
		f := e.m.NewFunc(rt.name, rt.ret, params...)
		e.runtime[rt.name] = f
	}

	// User extern declarations, deterministic order.
	externs := append([]mir.ExternDecl{}, prog.Externs...)
	sort.Slice(externs, func(i, j int) bool { return externs[i].Symbol < externs[j].Symbol })
	for _, ex := range externs {
		if e.funcs[ex.Symbol] != nil || e.runtime[ex.Symbol] != nil {
			continue
		}
		var params []*ir.Param
		for i, p := range ex.Params {
			params = append(params, ir.NewParam(fmt.Sprintf("a%d", i), e.llType(p)))
		}
		e.funcs[ex.Symbol] = e.m.NewFunc(ex.Symbol, e.llType(ex.Result), params...)
	}

	// Declare every function first so calls can reference forward.
	var all []*mir.Function
	var collect func(fns []*mir.Function)
	collect = func(fns []*mir.Function) {
		for _, fn := range fns {
			all = append(all, fn)
			collect(fn.Closures)
		}
	}
	collect(prog.Funcs)
	for _, fn := range all {
		e.declare(fn)
	}
	for _, fn := range all {
		e.define(fn)
	}

	e.emitMainShim(prog)
	return e.m.String()
}

func (e *Emitter) declare(fn *mir.Function) {
	var params []*ir.Param
	for i, p := range fn.Params {
		l := fn.Local(p)
		name := l.Name
		if name == "" {
			name = fmt.Sprintf("a%d", i)
		}
		params = append(params, ir.NewParam(name, e.llType(l.Ty)))
	}
	if fn.IsClosure {
		params = append(params, ir.NewParam("env", lltypes.I8Ptr))
	}
	if fn.Symbol == "main" {
		// The user entry point is renamed; a shim wraps it for the C
		// runtime below.
		e.funcs[fn.Symbol] = e.m.NewFunc("bmb_user_main", e.llType(fn.Result), params...)
		return
	}
	e.funcs[fn.Symbol] = e.m.NewFunc(fn.Symbol, e.llType(fn.Result), params...)
}

// emitMainShim wraps the compiled entry point for the platform's C
// main convention.
func (e *Emitter) emitMainShim(prog *mir.Program) {
	user := e.funcs["main"]
	if user == nil {
		return
	}
	shim := e.m.NewFunc("main", lltypes.I32)
	b := shim.NewBlock("entry")
	ret := b.NewCall(user)
	if lltypes.Equal(user.Sig.RetType, lltypes.I64) {
		b.NewRet(b.NewTrunc(ret, lltypes.I32))
		return
	}
	b.NewRet(constant.NewInt(lltypes.I32, 0))
}

// ---------------------------------------------------------------------------
// Type mapping

func (e *Emitter) llType(t types.Type) lltypes.Type {
	switch v := types.Underlying(t).(type) {
	case *types.Prim:
		switch v.Kind {
		case types.Bool:
			return lltypes.I1
		case types.I8, types.U8:
			return lltypes.I8
		case types.I16, types.U16:
			return lltypes.I16
		case types.I32, types.U32:
			return lltypes.I32
		case types.I64, types.U64, types.ISize, types.USize:
			return lltypes.I64
		case types.I128, types.U128:
			return lltypes.I128
		case types.F32:
			return lltypes.Float
		case types.F64:
			return lltypes.Double
		case types.Char:
			return lltypes.I32
		case types.Unit:
			return lltypes.I1
		case types.String:
			return lltypes.I8Ptr
		}
	case *types.Ref:
		return lltypes.NewPointer(e.llType(v.Elem))
	case *types.Ptr:
		return lltypes.NewPointer(e.llType(v.Elem))
	case *types.Array:
		return lltypes.NewArray(uint64(v.Len), e.llType(v.Elem))
	case *types.Slice:
		// A slice is a pointer+length pair.
		return lltypes.NewStruct(lltypes.NewPointer(e.llType(v.Elem)), lltypes.I64)
	case *types.Tuple:
		fields := make([]lltypes.Type, len(v.Elems))
		for i, el := range v.Elems {
			fields[i] = e.llType(el)
		}
		return lltypes.NewStruct(fields...)
	case *types.Nominal:
		return e.llNominal(v)
	case *types.Func:
		// First-class functions are closures: code pointer + env.
		return lltypes.NewStruct(lltypes.I8Ptr, lltypes.I8Ptr)
	case *types.Never:
		return lltypes.I1
	}
	return lltypes.I64
}

// llNominal maps structs to literal struct types and enums to a
// tag-plus-slots layout sized to the largest variant (each payload
// value occupies one i64 slot; narrower values widen into the slot).
func (e *Emitter) llNominal(n *types.Nominal) lltypes.Type {
	if n.Name == "Range" && len(n.Args) == 1 {
		el := e.llType(n.Args[0])
		return lltypes.NewStruct(el, el)
	}
	if info := e.tprog.Structs[n.Def]; info != nil {
		subst := map[string]types.Type{}
		for i, g := range info.Generics {
			if i < len(n.Args) {
				subst[g.Name] = n.Args[i]
			}
		}
		fields := make([]lltypes.Type, len(info.Fields))
		for i, f := range info.Fields {
			fields[i] = e.llType(types.Apply(f.Ty, subst))
		}
		return lltypes.NewStruct(fields...)
	}
	if info := e.tprog.Enums[n.Def]; info != nil {
		width := 0
		for _, v := range info.Variants {
			if len(v.Fields) > width {
				width = len(v.Fields)
			}
		}
		fields := []lltypes.Type{lltypes.I64}
		for i := 0; i < width; i++ {
			fields = append(fields, lltypes.I64)
		}
		return lltypes.NewStruct(fields...)
	}
	return lltypes.NewStruct(lltypes.I64)
}
