package sid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStableAcrossCalls(t *testing.T) {
	a := New("src/lib.bmb", 10, 20, "FuncDecl", []int{0, 2})
	b := New("src/lib.bmb", 10, 20, "FuncDecl", []int{0, 2})
	assert.Equal(t, a, b)
	assert.Len(t, string(a), 16)
}

func TestDistinguishesKindAndRange(t *testing.T) {
	base := New("src/lib.bmb", 10, 20, "FuncDecl", nil)
	assert.NotEqual(t, base, New("src/lib.bmb", 10, 21, "FuncDecl", nil))
	assert.NotEqual(t, base, New("src/lib.bmb", 10, 20, "StructDecl", nil))
	assert.NotEqual(t, base, New("src/lib.bmb", 10, 20, "FuncDecl", []int{1}))
}

func TestPathCanonicalization(t *testing.T) {
	a := New("src/./lib.bmb", 0, 1, "File", nil)
	b := New("src/lib.bmb", 0, 1, "File", nil)
	assert.Equal(t, a, b)
}
