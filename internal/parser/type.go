package parser

import (
	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/lexer"
)

// parseType parses a type expression, including the trailing
// refinement form `Base where pred` and the postfix nullable `T?`.
func (p *Parser) parseType() ast.TypeExpr {
	t := p.parseTypeAtom()

	for p.at(lexer.QUESTION) {
		start := t.Span().Start
		p.advance()
		n := &ast.NullableType{Inner: t}
		p.finish(n, start)
		t = n
	}

	if p.atRefinementWhere() {
		start := t.Span().Start
		p.advance() // where
		r := &ast.RefinementType{BaseType: t, Predicate: p.parseContractExpr()}
		p.finish(r, start)
		return r
	}
	return t
}

// atRefinementWhere distinguishes a refinement (`i64 where self >= 0`)
// from a generic-bound where-clause (`where T: Trait`). A bound always
// has the shape IDENT COLON after `where`; anything else is a
// predicate.
func (p *Parser) atRefinementWhere() bool {
	if !p.at(lexer.WHERE) {
		return false
	}
	return !(p.peekAt(1).Type == lexer.IDENT && p.peekAt(2).Type == lexer.COLON)
}

func (p *Parser) parseTypeAtom() ast.TypeExpr {
	start := p.cur().Offset
	switch p.cur().Type {
	case lexer.AMP:
		p.advance()
		r := &ast.RefType{}
		if p.at(lexer.MUT) {
			r.Mutable = true
			p.advance()
		}
		r.Elem = p.parseTypeAtom()
		p.finish(r, start)
		return r

	case lexer.STAR:
		p.advance()
		ptr := &ast.PtrType{}
		switch p.cur().Type {
		case lexer.MUT:
			ptr.Mutable = true
			p.advance()
		case lexer.IDENT:
			if p.cur().Literal == "const" {
				p.advance()
			}
		}
		ptr.Elem = p.parseTypeAtom()
		p.finish(ptr, start)
		return ptr

	case lexer.LBRACKET:
		p.advance()
		elem := p.parseType()
		if p.at(lexer.SEMICOLON) {
			p.advance()
			a := &ast.ArrayType{Elem: elem, Len: p.parseArrayLen()}
			p.expect(lexer.RBRACKET)
			p.finish(a, start)
			return a
		}
		p.expect(lexer.RBRACKET)
		s := &ast.SliceType{Elem: elem}
		p.finish(s, start)
		return s

	case lexer.LPAREN:
		p.advance()
		if p.at(lexer.RPAREN) {
			// `()` is the unit type; `() -> T` a nullary function type.
			p.advance()
			if p.at(lexer.ARROW) {
				p.advance()
				f := &ast.FuncType{Result: p.parseType()}
				p.finish(f, start)
				return f
			}
			u := &ast.NameType{Name: "unit"}
			p.finish(u, start)
			return u
		}
		var elems []ast.TypeExpr
		for {
			elems = append(elems, p.parseType())
			if !p.at(lexer.COMMA) {
				break
			}
			p.advance()
		}
		p.expect(lexer.RPAREN)
		if p.at(lexer.ARROW) {
			p.advance()
			f := &ast.FuncType{Params: elems, Result: p.parseType()}
			p.finish(f, start)
			return f
		}
		if len(elems) == 1 {
			return elems[0] // parenthesized type
		}
		t := &ast.TupleType{Elems: elems}
		p.finish(t, start)
		return t

	case lexer.BANG:
		p.advance()
		n := &ast.NeverType{}
		p.finish(n, start)
		return n

	case lexer.IDENT:
		name := p.advance().Literal
		if name == "never" {
			n := &ast.NeverType{}
			p.finish(n, start)
			return n
		}
		nt := &ast.NameType{Name: name}
		if p.at(lexer.LT) {
			p.advance()
			for !p.at(lexer.GT) && !p.at(lexer.EOF) {
				nt.Args = append(nt.Args, p.parseType())
				if p.at(lexer.COMMA) {
					p.advance()
				}
			}
			p.expect(lexer.GT)
		}
		p.finish(nt, start)
		return nt

	default:
		p.errorf(diag.PAR001, "expected type, found %s %q", p.cur().Type, p.cur().Literal)
		p.advance()
		e := &ast.NameType{Name: "<error>"}
		p.finish(e, start)
		return e
	}
}
