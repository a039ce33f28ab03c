package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosResolution(t *testing.T) {
	u := NewUnit("a.bmb", []byte("fn a() = 1;\nfn b() = 2;\n"))

	p := u.Pos(0)
	assert.Equal(t, 1, p.Line)
	assert.Equal(t, 1, p.Column)

	p = u.Pos(12) // first byte of the second line
	assert.Equal(t, 2, p.Line)
	assert.Equal(t, 1, p.Column)

	p = u.Pos(15)
	assert.Equal(t, 2, p.Line)
	assert.Equal(t, 4, p.Column)
}

func TestBOMStripped(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("fn a() = 1;")...)
	u := NewUnit("a.bmb", raw)
	assert.Equal(t, byte('f'), u.Text[0], "offsets count bytes of the normalized text")
}

func TestCRLFAccepted(t *testing.T) {
	u := NewUnit("a.bmb", []byte("a\r\nb\r\n"))
	p := u.Pos(3) // 'b'
	assert.Equal(t, 2, p.Line)
}

func TestSpanText(t *testing.T) {
	m := NewMap()
	u := m.Add("a.bmb", []byte("let xs = 42;"))
	sp := u.Span(9, 11)
	assert.Equal(t, "42", m.SpanText(sp))
}

func TestUnknownUnitDegrades(t *testing.T) {
	m := NewMap()
	p := m.Resolve(Pos{Unit: "missing", Offset: 3})
	assert.Equal(t, ID("missing"), p.Unit)
	assert.Equal(t, 3, p.Offset)
	assert.Equal(t, "", m.SpanText(Span{Unit: "missing", Start: 0, End: 1}))
}
