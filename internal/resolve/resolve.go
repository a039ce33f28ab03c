// Package resolve implements module loading and linking: it
// walks import declarations depth-first, lexes and parses each
// referenced unit exactly once, detects cycles, honors visibility,
// and produces a single linked program with a flat definition table.
package resolve

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/parser"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/types"
)

// FileExt is the source-file extension mapped from dotted module names.
const FileExt = ".bmb"

// DefKind classifies a flat-table definition.
type DefKind int

const (
	DefFunc DefKind = iota
	DefStruct
	DefEnum
	DefTrait
	DefImpl
	DefAlias
	DefExtern
)

func (k DefKind) String() string {
	switch k {
	case DefFunc:
		return "function"
	case DefStruct:
		return "struct"
	case DefEnum:
		return "enum"
	case DefTrait:
		return "trait"
	case DefImpl:
		return "impl"
	case DefAlias:
		return "type alias"
	case DefExtern:
		return "extern function"
	}
	return "definition"
}

// Def is one entry of the linked program's flat definition table.
// Cross-references between program parts are expressed as DefIDs into
// this table, never as pointers back up the tree.
type Def struct {
	ID     types.DefID
	Kind   DefKind
	Name   string
	Module string
	Public bool

	Func   *ast.FuncDecl
	Struct *ast.StructDecl
	Enum   *ast.EnumDecl
	Trait  *ast.TraitDecl
	Impl   *ast.ImplDecl
	Alias  *ast.TypeAliasDecl
	Extern *ast.ExternFuncDecl

	// Parent is the owning impl's def for impl methods, NoDef otherwise.
	Parent types.DefID
}

// Module is one loaded source unit's item tables: public items are
// visible to importers, private items only within the module.
type Module struct {
	Name    string
	Unit    source.ID
	Public  map[string]types.DefID
	Private map[string]types.DefID
	Imports []string
}

// Lookup finds a name in the module, searching public then private.
func (m *Module) Lookup(name string) (types.DefID, bool) {
	if id, ok := m.Public[name]; ok {
		return id, true
	}
	id, ok := m.Private[name]
	return id, ok
}

// Program is the linked output handed to the checker.
type Program struct {
	Sources *source.Map
	Defs    []*Def
	Modules map[string]*Module
	// Order is resolver-traversal order: the root unit last, its
	// transitive dependencies before it, each exactly once. Diagnostics
	// across units follow this order.
	Order []string
	// Root is the root module's name.
	Root string
}

// Def returns a definition by id; nil for NoDef or out-of-range ids.
func (p *Program) Def(id types.DefID) *Def {
	if id < 0 || int(id) >= len(p.Defs) {
		return nil
	}
	return p.Defs[int(id)]
}

// LookupFrom resolves a name as seen from a module: its own items
// first, then the public items of its imports. An ambiguous import hit
// reports through the returned count.
func (p *Program) LookupFrom(mod, name string) (types.DefID, int) {
	m, ok := p.Modules[mod]
	if !ok {
		return types.NoDef, 0
	}
	if id, ok := m.Lookup(name); ok {
		return id, 1
	}
	found := types.NoDef
	count := 0
	for _, imp := range m.Imports {
		if im, ok := p.Modules[imp]; ok {
			if id, ok := im.Public[name]; ok {
				found = id
				count++
			}
		}
	}
	return found, count
}

// Resolver loads and links modules.
type Resolver struct {
	includes  []string
	hyphenMap bool // map `-` in dotted names to `_` on disk
	sources   *source.Map
	reporter  *diag.Reporter

	prog    *Program
	loading map[string]bool // DFS stack for cycle detection
	loaded  map[string]bool
	stack   []string
}

// New creates a resolver over the given include roots. When hyphenMap
// is set, a dotted name component `foo-bar` resolves to `foo_bar` on
// disk.
func New(includes []string, hyphenMap bool, sources *source.Map, reporter *diag.Reporter) *Resolver {
	return &Resolver{
		includes:  includes,
		hyphenMap: hyphenMap,
		sources:   sources,
		reporter:  reporter,
		loading:   map[string]bool{},
		loaded:    map[string]bool{},
	}
}

// LoadRoot compiles the transitive closure of a root file into a
// linked Program. The root's module name defaults to its basename when
// the file carries no module declaration.
func (r *Resolver) LoadRoot(path string) (*Program, error) {
	r.prog = &Program{
		Sources: r.sources,
		Modules: map[string]*Module{},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read root unit: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), FileExt)
	r.loadUnit(name, source.ID(path), raw)
	r.prog.Root = name
	return r.prog, nil
}

// LoadRootSource links a program whose root text is already in memory
// (tests, the `parse` entry point on stdin).
func (r *Resolver) LoadRootSource(name string, text []byte) *Program {
	r.prog = &Program{
		Sources: r.sources,
		Modules: map[string]*Module{},
	}
	r.loadUnit(name, source.ID(name+FileExt), text)
	r.prog.Root = name
	return r.prog
}

// loadUnit parses one unit and recurses into its imports first, so
// Order lists dependencies before dependents.
func (r *Resolver) loadUnit(name string, id source.ID, raw []byte) {
	if r.loaded[name] {
		return
	}
	if r.loading[name] {
		sp := source.Span{Unit: id}
		r.reporter.Add(diag.New(diag.RES002, "resolver",
			fmt.Sprintf("circular module dependency: %s", strings.Join(append(r.stack, name), " -> ")), sp))
		return
	}
	r.loading[name] = true
	r.stack = append(r.stack, name)
	defer func() {
		delete(r.loading, name)
		r.stack = r.stack[:len(r.stack)-1]
		r.loaded[name] = true
	}()

	unit := r.sources.Add(id, raw)
	p := parser.New(unit)
	file := p.ParseFile()
	for _, e := range p.Errors() {
		r.reporter.Add(e)
	}

	modName := name
	if file.Module != nil {
		modName = file.Module.Path
		if modName != name && r.prog.Modules[modName] != nil {
			r.reporter.Add(diag.New(diag.RES003, "resolver",
				fmt.Sprintf("module %q is defined more than once", modName), file.Module.Span()))
		}
	}

	mod := &Module{
		Name:    modName,
		Unit:    id,
		Public:  map[string]types.DefID{},
		Private: map[string]types.DefID{},
	}

	// Dependencies first.
	for _, imp := range file.Imports {
		mod.Imports = append(mod.Imports, imp.Path)
		if r.loaded[imp.Path] || r.loading[imp.Path] {
			if r.loading[imp.Path] {
				r.reporter.Add(diag.New(diag.RES002, "resolver",
					fmt.Sprintf("circular module dependency: %s -> %s", strings.Join(r.stack, " -> "), imp.Path), imp.Span()))
			}
			continue
		}
		path, tried := r.locate(imp.Path)
		if path == "" {
			r.reporter.Add(diag.New(diag.RES001, "resolver",
				fmt.Sprintf("module %q not found", imp.Path), imp.Span()).
				WithNote("searched: " + strings.Join(tried, ", ")))
			continue
		}
		dep, err := os.ReadFile(path)
		if err != nil {
			r.reporter.Add(diag.New(diag.RES001, "resolver",
				fmt.Sprintf("module %q: %v", imp.Path, err), imp.Span()))
			continue
		}
		r.loadUnit(imp.Path, source.ID(path), dep)
	}

	r.collect(mod, file)
	r.prog.Modules[modName] = mod
	if modName != name {
		// Also addressable by its import path.
		r.prog.Modules[name] = mod
	}
	r.prog.Order = append(r.prog.Order, modName)

	// Imported symbol lists are validated against the dependency's
	// public table once it is loaded.
	for _, imp := range file.Imports {
		dep, ok := r.prog.Modules[imp.Path]
		if !ok {
			continue
		}
		for _, sym := range imp.Symbols {
			if _, ok := dep.Public[sym]; !ok {
				code := diag.RES004
				msg := fmt.Sprintf("module %q does not export %q", imp.Path, sym)
				if _, private := dep.Private[sym]; private {
					msg = fmt.Sprintf("%q is private to module %q", sym, imp.Path)
				}
				r.reporter.Add(diag.New(code, "resolver", msg, imp.Span()))
			}
		}
	}
}

// collect registers every top-level item of a file in the flat
// definition table. Visibility: items are public unless prefixed with
// an underscore; impl blocks are always linked (they attach behavior,
// not names).
func (r *Resolver) collect(mod *Module, file *ast.File) {
	add := func(kind DefKind, name string, public bool, fill func(*Def)) types.DefID {
		id := types.DefID(len(r.prog.Defs))
		d := &Def{ID: id, Kind: kind, Name: name, Module: mod.Name, Public: public, Parent: types.NoDef}
		fill(d)
		r.prog.Defs = append(r.prog.Defs, d)
		if name != "" {
			table := mod.Public
			if !public {
				table = mod.Private
			}
			if _, dup := table[name]; dup {
				// First definition wins; the checker's warning pass
				// reports the duplicate with its span.
				return id
			}
			table[name] = id
		}
		return id
	}

	for _, item := range file.Items {
		switch it := item.(type) {
		case *ast.FuncDecl:
			add(DefFunc, it.Name, isPublicName(it.Name), func(d *Def) { d.Func = it })
		case *ast.StructDecl:
			add(DefStruct, it.Name, isPublicName(it.Name), func(d *Def) { d.Struct = it })
		case *ast.EnumDecl:
			add(DefEnum, it.Name, isPublicName(it.Name), func(d *Def) { d.Enum = it })
		case *ast.TraitDecl:
			add(DefTrait, it.Name, isPublicName(it.Name), func(d *Def) { d.Trait = it })
		case *ast.ImplDecl:
			implID := add(DefImpl, "", true, func(d *Def) { d.Impl = it })
			for _, m := range it.Methods {
				m := m
				add(DefFunc, "", true, func(d *Def) {
					d.Func = m
					d.Parent = implID
				})
			}
		case *ast.TypeAliasDecl:
			add(DefAlias, it.Name, isPublicName(it.Name), func(d *Def) { d.Alias = it })
		case *ast.ExternFuncDecl:
			add(DefExtern, it.Name, true, func(d *Def) { d.Extern = it })
		}
	}
}

func isPublicName(name string) bool { return !strings.HasPrefix(name, "_") }

// locate maps a dotted module name to a file path under the include
// roots, returning the chosen path and every path tried.
func (r *Resolver) locate(dotted string) (string, []string) {
	rel := strings.ReplaceAll(dotted, ".", string(filepath.Separator))
	candidates := []string{rel}
	if r.hyphenMap {
		candidates = append(candidates, strings.ReplaceAll(rel, "-", "_"))
	}
	roots := r.includes
	if len(roots) == 0 {
		roots = []string{"."}
	}
	var tried []string
	for _, root := range roots {
		for _, c := range candidates {
			path := filepath.Join(root, c+FileExt)
			tried = append(tried, path)
			if st, err := os.Stat(path); err == nil && !st.IsDir() {
				return path, tried
			}
		}
	}
	return "", tried
}
