package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/source"
)

func writeModule(t *testing.T, root, dotted, text string) {
	t.Helper()
	rel := filepath.Join(root, filepath.FromSlash(dotted)+FileExt)
	require.NoError(t, os.MkdirAll(filepath.Dir(rel), 0o755))
	require.NoError(t, os.WriteFile(rel, []byte(text), 0o644))
}

func TestResolveImports(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "util", `fn helper(x: i64) -> i64 = x + 1;`)
	writeModule(t, dir, "app", `
import util;
fn main() -> i64 = helper(1);`)

	rep := diag.NewReporter()
	r := New([]string{dir}, false, source.NewMap(), rep)
	prog, err := r.LoadRoot(filepath.Join(dir, "app"+FileExt))
	require.NoError(t, err)
	require.False(t, rep.HasErrors())

	// Dependencies precede dependents in traversal order.
	require.Equal(t, []string{"util", "app"}, prog.Order)

	id, n := prog.LookupFrom("app", "helper")
	assert.Equal(t, 1, n)
	assert.Equal(t, "util", prog.Def(id).Module)
}

func TestMissingModuleReportsSearchPath(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "app", `import nowhere; fn main() -> i64 = 0;`)

	rep := diag.NewReporter()
	r := New([]string{dir}, false, source.NewMap(), rep)
	_, err := r.LoadRoot(filepath.Join(dir, "app"+FileExt))
	require.NoError(t, err)

	var found *diag.Report
	for _, rpt := range rep.All() {
		if rpt.Code == diag.RES001 {
			found = rpt
		}
	}
	require.NotNil(t, found)
	require.NotEmpty(t, found.Notes, "import errors always include the search path tried")
	assert.Contains(t, found.Notes[0], "nowhere")
}

func TestImportCycleIsDiagnosedNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "a", `import b; fn fa() -> i64 = 1;`)
	writeModule(t, dir, "b", `import a; fn fb() -> i64 = 2;`)

	rep := diag.NewReporter()
	r := New([]string{dir}, false, source.NewMap(), rep)
	prog, err := r.LoadRoot(filepath.Join(dir, "a"+FileExt))
	require.NoError(t, err, "a cycle is a diagnostic, not a panic")

	cycle := false
	for _, rpt := range rep.All() {
		if rpt.Code == diag.RES002 {
			cycle = true
		}
	}
	assert.True(t, cycle)
	assert.NotNil(t, prog.Modules["a"])
	assert.NotNil(t, prog.Modules["b"])
}

func TestPrivateItemsNotExposed(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "lib", `
fn _secret() -> i64 = 1;
fn open() -> i64 = _secret();`)
	writeModule(t, dir, "app", `import lib (_secret); fn main() -> i64 = 0;`)

	rep := diag.NewReporter()
	r := New([]string{dir}, false, source.NewMap(), rep)
	_, err := r.LoadRoot(filepath.Join(dir, "app"+FileExt))
	require.NoError(t, err)

	private := false
	for _, rpt := range rep.All() {
		if rpt.Code == diag.RES004 {
			private = true
		}
	}
	assert.True(t, private, "a private item is not importable")
}

func TestHyphenMapping(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "my_util", `fn h(x: i64) -> i64 = x;`)
	writeModule(t, dir, "app", `import my-util; fn main() -> i64 = h(1);`)

	rep := diag.NewReporter()
	r := New([]string{dir}, true, source.NewMap(), rep)
	prog, err := r.LoadRoot(filepath.Join(dir, "app"+FileExt))
	require.NoError(t, err)
	require.False(t, rep.HasErrors())
	assert.NotNil(t, prog.Modules["my-util"])
}

func TestEachUnitLoadedOnce(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "base", `fn b() -> i64 = 1;`)
	writeModule(t, dir, "mid1", `import base; fn m1() -> i64 = b();`)
	writeModule(t, dir, "mid2", `import base; fn m2() -> i64 = b();`)
	writeModule(t, dir, "app", `
import mid1;
import mid2;
fn main() -> i64 = m1() + m2();`)

	rep := diag.NewReporter()
	r := New([]string{dir}, false, source.NewMap(), rep)
	prog, err := r.LoadRoot(filepath.Join(dir, "app"+FileExt))
	require.NoError(t, err)

	count := 0
	for _, name := range prog.Order {
		if name == "base" {
			count++
		}
	}
	assert.Equal(t, 1, count, "a unit parses exactly once")
}
