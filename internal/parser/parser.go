// Package parser implements a recursive-descent parser with
// operator-precedence expression parsing. Error
// recovery is token-level, resynchronizing on statement and item
// boundaries so a single run maximizes diagnostics.
package parser

import (
	"fmt"
	"strings"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/lexer"
	"github.com/bmb-lang/bmbc/internal/source"
)

// Parser consumes a token stream produced by the lexer and builds an
// ast.File. It never backtracks past a committed token.
type Parser struct {
	unit *source.Unit
	toks []lexer.Token
	pos  int
	errs []*diag.Report
}

// New creates a parser over all tokens of a source unit (lexing is
// run to completion up front, matching the single-pass lexer's
// contract of "no backtracking").
func New(unit *source.Unit) *Parser {
	p := &Parser{unit: unit}
	l := lexer.New(unit.Text, func(offset int, msg string) {
		code := diag.LEX001
		switch {
		case strings.Contains(msg, "string") || strings.Contains(msg, "char"):
			code = diag.LEX002
		case strings.Contains(msg, "comment"):
			code = diag.LEX003
		}
		p.errs = append(p.errs, diag.New(code, "lexer", msg, p.span(offset, offset+1)))
	})
	p.toks = l.Tokenize()
	return p
}

func (p *Parser) span(start, end int) source.Span { return p.unit.Span(start, end) }

// spanner is implemented by every ast node via the promoted SetSpan
// method; finish() closes off a node's span once its last consumed
// token is known.
type spanner interface{ SetSpan(source.Span) }

func (p *Parser) finish(n spanner, start int) {
	end := start
	if p.pos > 0 {
		end = p.toks[p.pos-1].End
	}
	n.SetSpan(p.span(start, end))
}

func (p *Parser) cur() lexer.Token { return p.toks[p.pos] }

func (p *Parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *Parser) at(t lexer.TokenType) bool { return p.cur().Type == t }

func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if t.Type != lexer.EOF {
		p.pos++
	}
	return t
}

func (p *Parser) expect(t lexer.TokenType) (lexer.Token, bool) {
	if p.at(t) {
		return p.advance(), true
	}
	p.errorf(diag.PAR001, "expected %s, found %s %q", t, p.cur().Type, p.cur().Literal)
	return p.cur(), false
}

func (p *Parser) errorf(code, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	sp := p.span(p.cur().Offset, p.cur().End)
	p.errs = append(p.errs, diag.New(code, "parser", msg, sp))
}

// syncToBoundary resynchronizes to the next statement/item boundary:
// a semicolon, or a token that starts a new item.
func (p *Parser) syncToBoundary() {
	for !p.at(lexer.EOF) {
		switch p.cur().Type {
		case lexer.SEMICOLON:
			p.advance()
			return
		case lexer.FN, lexer.STRUCT, lexer.ENUM, lexer.TRAIT, lexer.IMPL,
			lexer.MODULE, lexer.IMPORT, lexer.EXTERN, lexer.TYPE, lexer.RBRACE:
			return
		}
		p.advance()
	}
}

// Errors returns every diagnostic accumulated while parsing.
func (p *Parser) Errors() []*diag.Report { return p.errs }

// ParseFile parses an entire translation unit, continuing past
// individual item errors to maximize diagnostics per run.
func (p *Parser) ParseFile() *ast.File {
	start := p.cur().Offset
	f := &ast.File{}

	if p.at(lexer.MODULE) {
		f.Module = p.parseModuleDecl()
	}
	for p.at(lexer.IMPORT) {
		f.Imports = append(f.Imports, p.parseImportDecl())
	}
	for !p.at(lexer.EOF) {
		before := p.pos
		item := p.parseItem()
		if item != nil {
			f.Items = append(f.Items, item)
		}
		if p.pos == before {
			// parseItem made no progress; force-advance to avoid an
			// infinite loop on a token that starts nothing valid.
			p.errorf(diag.PAR001, "unexpected token %s %q at top level", p.cur().Type, p.cur().Literal)
			p.advance()
			p.syncToBoundary()
		}
	}
	p.finish(f, start)
	return f
}

func (p *Parser) parseModuleDecl() *ast.ModuleDecl {
	start := p.cur().Offset
	p.advance() // module
	path := p.parseDottedPath()
	p.expect(lexer.SEMICOLON)
	md := &ast.ModuleDecl{Path: path}
	p.finish(md, start)
	return md
}

func (p *Parser) parseDottedPath() string {
	name, _ := p.expect(lexer.IDENT)
	path := name.Literal
	for p.at(lexer.DOT) || p.at(lexer.MINUS) {
		sep := "."
		if p.advance().Type == lexer.MINUS {
			sep = "-"
		}
		n, _ := p.expect(lexer.IDENT)
		path += sep + n.Literal
	}
	return path
}

func (p *Parser) parseImportDecl() *ast.ImportDecl {
	start := p.cur().Offset
	p.advance() // import
	path := p.parseDottedPath()
	var symbols []string
	if p.at(lexer.LPAREN) {
		p.advance()
		for !p.at(lexer.RPAREN) && !p.at(lexer.EOF) {
			n, _ := p.expect(lexer.IDENT)
			symbols = append(symbols, n.Literal)
			if p.at(lexer.COMMA) {
				p.advance()
			}
		}
		p.expect(lexer.RPAREN)
	}
	p.expect(lexer.SEMICOLON)
	imp := &ast.ImportDecl{Path: path, Symbols: symbols}
	p.finish(imp, start)
	return imp
}
