package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "z3", cfg.Solver.Command)
	assert.Equal(t, 5*time.Second, cfg.Solver.Timeout())
	assert.True(t, cfg.Strict)
	assert.Equal(t, 1, cfg.OptLevel)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "z3", cfg.Solver.Command)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bmb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
solver:
  command: cvc5
  timeout_ms: 250
target_triple: wasm32-unknown-unknown
include_roots:
  - vendor
hyphen_to_underscore: true
strict: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cvc5", cfg.Solver.Command)
	assert.Equal(t, 250*time.Millisecond, cfg.Solver.Timeout())
	assert.Equal(t, "wasm32-unknown-unknown", cfg.TargetTriple)
	assert.Equal(t, []string{"vendor"}, cfg.IncludeRoots)
	assert.True(t, cfg.HyphenToUnderscore)
	assert.False(t, cfg.Strict)
}

func TestMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solver: ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
