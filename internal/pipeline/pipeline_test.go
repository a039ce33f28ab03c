package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmb-lang/bmbc/internal/config"
)

func writeSource(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.bmb")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

// testConfig disables the external solver so runs are hermetic; every
// obligation reports unknown.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Solver.Command = ""
	cfg.Strict = false
	return cfg
}

func TestCheckAccumulatesAndContinues(t *testing.T) {
	p := New(testConfig())
	out := p.CheckSource(context.Background(), "main", []byte(`
fn bad() -> i64 = true;
fn good(x: i64) -> i64 = x + 1;`))
	require.NotNil(t, out.Typed)
	assert.True(t, p.Reporter.HasErrors())

	// The failing item does not stop elaboration of the rest.
	found := false
	for _, f := range out.Typed.Funcs {
		if f.Name == "good" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildRefusesPastErrors(t *testing.T) {
	p := New(testConfig())
	path := writeSource(t, `fn broken() -> i64 = "nope";`)
	out, err := p.Build(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, out.LLVM, "codegen refuses to run with upstream errors")
	assert.Equal(t, 1, p.ExitCode(out))
}

func TestBuildProducesIR(t *testing.T) {
	p := New(testConfig())
	path := writeSource(t, `fn main() -> i64 = 41 + 1;`)
	out, err := p.Build(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, out.LLVM, "define i64 @bmb_user_main()")
	assert.Equal(t, 0, p.ExitCode(out))
}

func TestStrictModeGatesOnUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.Strict = true
	p := New(cfg)
	path := writeSource(t, `fn f(x: i64) -> i64 post ret >= x = x;`)
	out, err := p.Verify(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, out.VerificationFailed, "an undecided obligation fails a strict build")
	assert.Equal(t, 3, p.ExitCode(out))
}

func TestTrustAllowsStrictBuild(t *testing.T) {
	cfg := testConfig()
	cfg.Strict = true
	p := New(cfg)
	path := writeSource(t, `@trust("verified on paper") fn f(x: i64) -> i64 post ret >= x = x;`)
	out, err := p.Build(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, out.VerificationFailed)
	assert.NotEmpty(t, out.LLVM)
	assert.Equal(t, 0, p.ExitCode(out))
}

func TestCancellationBetweenStages(t *testing.T) {
	p := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := writeSource(t, `fn main() -> i64 = 1;`)
	_, err := p.Check(ctx, path)
	assert.Error(t, err)
}

func TestParseDump(t *testing.T) {
	p := New(testConfig())
	dump := p.Parse(context.Background(), "main.bmb", []byte(`fn f(x: i64) -> i64 = x;`))
	assert.Contains(t, dump, "fn f")
	assert.False(t, p.Reporter.HasErrors())
}
