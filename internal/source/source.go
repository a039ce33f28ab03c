// Package source owns source text and maps byte offsets to human
// positions for diagnostics. It is the only component whose output is
// read, never mutated, by every later stage.
package source

import (
	"bytes"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Pos is a single point in a source unit: a byte offset plus the
// derived line/column, resolved lazily against the owning Unit.
type Pos struct {
	Unit   ID
	Offset int
	Line   int
	Column int
}

func (p Pos) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Unit, p.Line, p.Column)
}

// Span is a half-open byte range within a single source unit. It is
// attached to every syntactic and typed node and is immutable after
// lex.
type Span struct {
	Unit  ID
	Start int
	End   int
}

func (s Span) String() string {
	return fmt.Sprintf("%s[%d:%d]", s.Unit, s.Start, s.End)
}

// ID names a source unit (a resolved file path, or a synthetic name
// such as "<repl>").
type ID string

// Unit is one piece of source text, plus the line-start index needed
// to turn a byte offset into (line, column) in O(log n).
type Unit struct {
	ID    ID
	Text  []byte
	lines []int // byte offset of the start of each line
}

// NewUnit normalizes raw bytes (BOM strip + NFC) and indexes line
// starts. LF and CRLF
// are both accepted; offsets always count bytes of the normalized text.
func NewUnit(id ID, raw []byte) *Unit {
	text := normalize(raw)
	u := &Unit{ID: id, Text: text}
	u.lines = []int{0}
	for i, b := range text {
		if b == '\n' {
			u.lines = append(u.lines, i+1)
		}
	}
	return u
}

var bomUTF8 = []byte{0xEF, 0xBB, 0xBF}

func normalize(src []byte) []byte {
	src = bytes.TrimPrefix(src, bomUTF8)
	if !norm.NFC.IsNormal(src) {
		src = norm.NFC.Bytes(src)
	}
	return src
}

// Pos converts a byte offset into a resolved Pos via binary search
// over line starts.
func (u *Unit) Pos(offset int) Pos {
	lo, hi := 0, len(u.lines)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if u.lines[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	line := lo
	col := offset - u.lines[line]
	return Pos{Unit: u.ID, Offset: offset, Line: line + 1, Column: col + 1}
}

// Span builds a Span anchored to this unit.
func (u *Unit) Span(start, end int) Span {
	return Span{Unit: u.ID, Start: start, End: end}
}

// SpanText returns the unit's text covered by a span belonging to this unit.
func (u *Unit) SpanText(s Span) string {
	if s.Start < 0 || s.End > len(u.Text) || s.Start > s.End {
		return ""
	}
	return string(u.Text[s.Start:s.End])
}

// Map owns every source unit seen during a compilation and is the
// authoritative lookup for rendering a Span into file:line:col. It is
// read-only after lex and is shared by reference across all stages.
type Map struct {
	units map[ID]*Unit
}

// NewMap creates an empty source map.
func NewMap() *Map {
	return &Map{units: make(map[ID]*Unit)}
}

// Add registers a unit, normalizing its text, and returns it. Adding
// the same ID twice replaces the previous unit (used by the resolver
// when a module is re-requested by two different import paths that
// canonicalize to the same file).
func (m *Map) Add(id ID, raw []byte) *Unit {
	u := NewUnit(id, raw)
	m.units[id] = u
	return u
}

// Unit looks up a previously added source unit.
func (m *Map) Unit(id ID) (*Unit, bool) {
	u, ok := m.units[id]
	return u, ok
}

// Resolve renders a Pos using the owning unit's line index. Every
// Span/Pos refers to a live source unit; a
// lookup miss is a programming error in the caller, not a user-facing
// condition, so it degrades to an unresolved placeholder rather than
// panicking the whole pipeline.
func (m *Map) Resolve(p Pos) Pos {
	if u, ok := m.units[p.Unit]; ok {
		return u.Pos(p.Offset)
	}
	return p
}

// SpanText renders the literal source text under a span.
func (m *Map) SpanText(s Span) string {
	if u, ok := m.units[s.Unit]; ok {
		return u.SpanText(s)
	}
	return ""
}
