package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func tokenize(t *testing.T, src string) []Token {
	t.Helper()
	var errs []string
	l := New([]byte(src), func(off int, msg string) {
		errs = append(errs, msg)
	})
	toks := l.Tokenize()
	require.Empty(t, errs, "unexpected lex errors: %v", errs)
	return toks
}

func TestKeywordsAndIdents(t *testing.T) {
	toks := tokenize(t, "fn pre post invariant trust decreases notAKeyword")
	want := []TokenType{FN, PRE, POST, INVARIANT, TRUST, DECREASES, IDENT, EOF}
	require.Len(t, toks, len(want))
	for i, w := range want {
		require.Equal(t, w, toks[i].Type, "token %d", i)
	}
}

func TestMaximalMunchOperators(t *testing.T) {
	toks := tokenize(t, "..= .. -> => :: << >> +% -| *? == <=")
	want := []TokenType{
		DOTDOTEQ, DOTDOT, ARROW, FARROW, DCOLON, SHL, SHR,
		PLUSPCT, MINUSBAR, STARQ, EQ, LE, EOF,
	}
	require.Len(t, toks, len(want))
	for i, w := range want {
		require.Equal(t, w, toks[i].Type, "token %d (%q)", i, toks[i].Literal)
	}
}

func TestPipeIsNeverBitwiseOr(t *testing.T) {
	// | is reserved for lambda parameter delimiters / pattern alternation.
	toks := tokenize(t, "|x| x")
	require.Equal(t, PIPE, toks[0].Type)
	require.Equal(t, IDENT, toks[1].Type)
	require.Equal(t, PIPE, toks[2].Type)
}

func TestIntegerWidthSuffix(t *testing.T) {
	toks := tokenize(t, "42i64 0xFFu32 0b1010 7usize")
	require.Equal(t, "42i64", toks[0].Literal)
	require.Equal(t, "0xFFu32", toks[1].Literal)
	require.Equal(t, "0b1010", toks[2].Literal)
	require.Equal(t, INT, toks[2].Type)
}

func TestNestedBlockComments(t *testing.T) {
	toks := tokenize(t, "/* outer /* inner */ still-comment */ fn")
	require.Len(t, toks, 2)
	require.Equal(t, FN, toks[0].Type)
}

func TestUnterminatedStringReportsAndResyncs(t *testing.T) {
	var errs []string
	l := New([]byte(`"unterminated`), func(off int, msg string) {
		errs = append(errs, msg)
	})
	toks := l.Tokenize()
	require.NotEmpty(t, errs)
	require.Equal(t, EOF, toks[len(toks)-1].Type)
}

func TestStringEscapes(t *testing.T) {
	toks := tokenize(t, `"a\nb\tc\"d"`)
	require.Equal(t, STRING, toks[0].Type)
	require.Equal(t, "a\nb\tc\"d", toks[0].Literal)
}

func TestUnknownByteSkippedToNextBoundary(t *testing.T) {
	var errs []string
	l := New([]byte("fn \x01 fn"), func(off int, msg string) { errs = append(errs, msg) })
	toks := l.Tokenize()
	require.NotEmpty(t, errs)
	require.Equal(t, FN, toks[0].Type)
	require.Equal(t, ILLEGAL, toks[1].Type)
	require.Equal(t, FN, toks[2].Type)
}
