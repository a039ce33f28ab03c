package parser

import (
	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/lexer"
)

// parseOrPattern parses pipe-delimited pattern alternation as used in
// match arms: `A | B | C`.
func (p *Parser) parseOrPattern() ast.Pattern {
	start := p.cur().Offset
	first := p.parsePattern()
	if !p.at(lexer.PIPE) {
		return first
	}
	o := &ast.OrPattern{Alts: []ast.Pattern{first}}
	for p.at(lexer.PIPE) {
		p.advance()
		o.Alts = append(o.Alts, p.parsePattern())
	}
	p.finish(o, start)
	return o
}

func (p *Parser) parsePattern() ast.Pattern {
	start := p.cur().Offset
	switch p.cur().Type {
	case lexer.IDENT:
		name := p.advance().Literal
		if name == "_" {
			w := &ast.WildcardPattern{}
			p.finish(w, start)
			return w
		}
		// Enum::Variant destructure.
		if p.at(lexer.DCOLON) {
			p.advance()
			variant, _ := p.expect(lexer.IDENT)
			e := &ast.EnumPattern{Enum: name, Variant: variant.Literal}
			if p.at(lexer.LPAREN) {
				p.advance()
				for !p.at(lexer.RPAREN) && !p.at(lexer.EOF) {
					e.SubPats = append(e.SubPats, p.parsePattern())
					if p.at(lexer.COMMA) {
						p.advance()
					}
				}
				p.expect(lexer.RPAREN)
			}
			p.finish(e, start)
			return e
		}
		// Struct destructure.
		if p.at(lexer.LBRACE) {
			return p.parseStructPattern(name, start)
		}
		b := &ast.BindPattern{Name: name}
		p.finish(b, start)
		return b

	case lexer.INT, lexer.FLOAT, lexer.STRING, lexer.CHAR, lexer.TRUE, lexer.FALSE:
		lit := p.parseLiteralForPattern()
		if p.at(lexer.DOTDOT) || p.at(lexer.DOTDOTEQ) {
			inclusive := p.cur().Type == lexer.DOTDOTEQ
			p.advance()
			hi := p.parseLiteralForPattern()
			r := &ast.RangePattern{Lo: lit, Hi: hi, Inclusive: inclusive}
			p.finish(r, start)
			return r
		}
		l := &ast.LiteralPattern{Lit: lit}
		p.finish(l, start)
		return l

	case lexer.MINUS:
		// Negative literal pattern.
		p.advance()
		lit := p.parseLiteralForPattern()
		if v, ok := lit.Value.(int64); ok {
			lit.Value = -v
		} else if v, ok := lit.Value.(float64); ok {
			lit.Value = -v
		}
		l := &ast.LiteralPattern{Lit: lit}
		p.finish(l, start)
		return l

	case lexer.LPAREN:
		p.advance()
		t := &ast.TuplePattern{}
		for !p.at(lexer.RPAREN) && !p.at(lexer.EOF) {
			t.Elems = append(t.Elems, p.parsePattern())
			if p.at(lexer.COMMA) {
				p.advance()
			}
		}
		p.expect(lexer.RPAREN)
		if len(t.Elems) == 1 {
			return t.Elems[0]
		}
		p.finish(t, start)
		return t

	default:
		p.errorf(diag.PAR001, "expected pattern, found %s %q", p.cur().Type, p.cur().Literal)
		p.advance()
		w := &ast.WildcardPattern{}
		p.finish(w, start)
		return w
	}
}

func (p *Parser) parseStructPattern(name string, start int) ast.Pattern {
	p.expect(lexer.LBRACE)
	s := &ast.StructPattern{Name: name}
	for !p.at(lexer.RBRACE) && !p.at(lexer.EOF) {
		if p.at(lexer.DOTDOT) {
			s.Rest = true
			p.advance()
			break
		}
		fstart := p.cur().Offset
		fname, ok := p.expect(lexer.IDENT)
		if !ok {
			break
		}
		f := &ast.FieldPattern{Name: fname.Literal}
		if p.at(lexer.COLON) {
			p.advance()
			f.Pattern = p.parsePattern()
		} else {
			// Shorthand `{ x }` binds the field to a same-named local.
			b := &ast.BindPattern{Name: fname.Literal}
			b.SetSpan(p.span(fstart, fname.End))
			f.Pattern = b
		}
		p.finish(f, fstart)
		s.Fields = append(s.Fields, f)
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
	p.expect(lexer.RBRACE)
	p.finish(s, start)
	return s
}

func (p *Parser) parseLiteralForPattern() *ast.Literal {
	switch p.cur().Type {
	case lexer.INT:
		return p.parseIntLiteral().(*ast.Literal)
	case lexer.FLOAT:
		return p.parseFloatLiteral().(*ast.Literal)
	case lexer.STRING:
		start := p.cur().Offset
		tok := p.advance()
		l := &ast.Literal{Kind: ast.StringLit, Value: tok.Literal}
		p.finish(l, start)
		return l
	case lexer.CHAR:
		start := p.cur().Offset
		tok := p.advance()
		var c rune
		for _, r := range tok.Literal {
			c = r
			break
		}
		l := &ast.Literal{Kind: ast.CharLit, Value: c}
		p.finish(l, start)
		return l
	case lexer.TRUE, lexer.FALSE:
		start := p.cur().Offset
		tok := p.advance()
		l := &ast.Literal{Kind: ast.BoolLit, Value: tok.Type == lexer.TRUE}
		p.finish(l, start)
		return l
	default:
		p.errorf(diag.PAR001, "expected literal in pattern, found %s", p.cur().Type)
		l := &ast.Literal{Kind: ast.IntLit, Value: int64(0)}
		p.finish(l, p.cur().Offset)
		return l
	}
}
