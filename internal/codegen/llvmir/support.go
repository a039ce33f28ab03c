package llvmir

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/metadata"
	lltypes "github.com/llir/llvm/ir/types"
)

// intrinsic declares (once) an LLVM intrinsic with the given result
// and parameter types.
func (e *Emitter) intrinsic(name string, ret lltypes.Type, params ...lltypes.Type) *ir.Func {
	if f, ok := e.runtime[name]; ok {
		return f
	}
	var ps []*ir.Param
	for i, p := range params {
		ps = append(ps, ir.NewParam(fmt.Sprintf("a%d", i), p))
	}
	f := e.m.NewFunc(name, ret, ps...)
	e.runtime[name] = f
	return f
}

// dispatchTable declares (once) the external dispatch-table symbol a
// still-virtual trait call loads its target from. The table is filled
// by the downstream dispatch machinery at link time.
func (e *Emitter) dispatchTable(trait, method string, sig *lltypes.FuncType) *ir.Global {
	name := fmt.Sprintf("%s_%s_dispatch", trait, method)
	for _, g := range e.m.Globals {
		if g.Name() == name {
			return g
		}
	}
	g := e.m.NewGlobal(name, lltypes.NewPointer(sig))
	return g
}

// internString interns a string literal as a private constant global
// and returns its i8* address. Identical literals share one global;
// numbering follows first-use order, which is deterministic.
func (e *Emitter) internString(s string) constant.Constant {
	if e.strings == nil {
		e.strings = map[string]*ir.Global{}
	}
	if g, ok := e.strings[s]; ok {
		return gepString(g)
	}
	data := constant.NewCharArrayFromString(s + "\x00")
	g := e.m.NewGlobalDef(fmt.Sprintf(".str.%d", len(e.strings)), data)
	g.Immutable = true
	e.strings[s] = g
	return gepString(g)
}

func gepString(g *ir.Global) constant.Constant {
	zero := constant.NewInt(lltypes.I64, 0)
	return constant.NewGetElementPtr(g.ContentType, g, zero, zero)
}

// noAliasScopes lazily builds the module's alias-scope metadata: one
// distinct domain, one distinct scope within it, and the scope list
// that load/store attachments reference. Built once per module, so
// numbering is deterministic.
func (e *Emitter) noAliasScopes() *metadata.Tuple {
	if e.noalias != nil {
		return e.noalias
	}
	nextID := func() metadata.MetadataID { return metadata.MetadataID(len(e.m.MetadataDefs)) }

	domain := &metadata.Tuple{MetadataID: nextID(), Distinct: true}
	domain.Fields = []metadata.Field{domain}
	e.m.MetadataDefs = append(e.m.MetadataDefs, domain)

	scope := &metadata.Tuple{MetadataID: nextID(), Distinct: true}
	scope.Fields = []metadata.Field{scope, domain}
	e.m.MetadataDefs = append(e.m.MetadataDefs, scope)

	list := &metadata.Tuple{MetadataID: nextID()}
	list.Fields = []metadata.Field{scope}
	e.m.MetadataDefs = append(e.m.MetadataDefs, list)

	e.noalias = list
	return list
}

// noAliasAttachments builds the metadata attachments carried by a
// memory access whose non-aliasing a contract established.
func (e *Emitter) noAliasAttachments() []*metadata.Attachment {
	list := e.noAliasScopes()
	return []*metadata.Attachment{
		{Name: "alias.scope", Node: list},
		{Name: "noalias", Node: list},
	}
}
