package parser

import (
	"strconv"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/lexer"
)

// parseItem dispatches on the current token to one of the top-level
// item forms. A nil return means no item could be started here; the
// caller is responsible for resynchronizing.
func (p *Parser) parseItem() ast.Item {
	attrs := p.parseAttributes()

	switch p.cur().Type {
	case lexer.PURE, lexer.FN:
		return p.parseFuncDecl(attrs)
	case lexer.STRUCT:
		return p.parseStructDecl(attrs)
	case lexer.ENUM:
		return p.parseEnumDecl(attrs)
	case lexer.TRAIT:
		return p.parseTraitDecl()
	case lexer.IMPL:
		return p.parseImplDecl()
	case lexer.TYPE:
		return p.parseTypeAlias()
	case lexer.EXTERN:
		return p.parseExternFunc()
	case lexer.IMPORT:
		return p.parseImportDecl()
	}
	return nil
}

// parseAttributes consumes a run of `@name` / `@name(args)` markers.
// Attribute argument lists are flat strings or identifiers; nothing
// richer appears in the attribute grammar.
func (p *Parser) parseAttributes() []*ast.Attribute {
	var attrs []*ast.Attribute
	for p.at(lexer.AT) {
		start := p.cur().Offset
		p.advance()
		name := p.attributeName()
		a := &ast.Attribute{Name: name}
		if p.at(lexer.LPAREN) {
			p.advance()
			for !p.at(lexer.RPAREN) && !p.at(lexer.EOF) {
				switch p.cur().Type {
				case lexer.STRING, lexer.IDENT, lexer.INT:
					a.Args = append(a.Args, p.advance().Literal)
				default:
					p.errorf(diag.PAR001, "expected attribute argument, found %s", p.cur().Type)
					p.advance()
				}
				if p.at(lexer.COMMA) {
					p.advance()
				}
			}
			p.expect(lexer.RPAREN)
		}
		if a.Name == "trust" && len(a.Args) == 0 {
			p.errorf(diag.VER003, "trust attribute requires a justification string")
		}
		p.finish(a, start)
		attrs = append(attrs, a)
	}
	return attrs
}

// attributeName accepts both a plain identifier and the attribute
// keywords (trust/derive/cfg/inline/test keep their keyword token type
// even in attribute position).
func (p *Parser) attributeName() string {
	switch p.cur().Type {
	case lexer.IDENT, lexer.TRUST, lexer.DERIVE, lexer.CFG, lexer.INLINE, lexer.TEST:
		return p.advance().Literal
	default:
		p.errorf(diag.PAR001, "expected attribute name, found %s", p.cur().Type)
		return "<error>"
	}
}

// parseFuncDecl parses `[pure] fn name[<G>](params) [-> T] [where ...]
// [pre e] [post e] [decreases e] body`. Body is `= expr;` or `{ ... }`;
// a nil body (trait method signature) ends with `;`.
func (p *Parser) parseFuncDecl(attrs []*ast.Attribute) *ast.FuncDecl {
	start := p.cur().Offset
	f := &ast.FuncDecl{Attrs: attrs}
	if p.at(lexer.PURE) {
		f.IsPure = true
		p.advance()
	}
	p.expect(lexer.FN)
	name, _ := p.expect(lexer.IDENT)
	f.Name = name.Literal

	if p.at(lexer.LT) {
		f.Generics = p.parseGenericParams()
	}

	p.expect(lexer.LPAREN)
	for !p.at(lexer.RPAREN) && !p.at(lexer.EOF) {
		f.Params = append(f.Params, p.parseParam())
		if p.at(lexer.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(lexer.RPAREN)

	if p.at(lexer.ARROW) {
		p.advance()
		f.ReturnType = p.parseType()
	}

	if p.at(lexer.WHERE) {
		p.parseWhereClause(f.Generics)
	}

	f.Contracts = p.parseContractClauses()

	switch {
	case p.at(lexer.ASSIGN):
		p.advance()
		body := p.parseExpr()
		f.Body = &ast.FuncBody{Expr: body}
		if _, isBlock := body.(*ast.BlockExpr); !isBlock {
			p.expect(lexer.SEMICOLON)
		} else if p.at(lexer.SEMICOLON) {
			p.advance()
		}
	case p.at(lexer.LBRACE):
		f.Body = &ast.FuncBody{Block: p.parseBlock()}
	case p.at(lexer.SEMICOLON):
		p.advance() // signature only (trait method)
	default:
		p.errorf(diag.PAR001, "expected function body, found %s %q", p.cur().Type, p.cur().Literal)
		p.syncToBoundary()
	}

	p.finish(f, start)
	return f
}

// parseParam parses `name: Type` or a bare `self` receiver.
func (p *Parser) parseParam() *ast.Param {
	start := p.cur().Offset
	prm := &ast.Param{}
	if p.at(lexer.SELF) {
		p.advance()
		prm.Name = "self"
		if p.at(lexer.COLON) {
			p.advance()
			prm.Type = p.parseType()
		}
		p.finish(prm, start)
		return prm
	}
	name, _ := p.expect(lexer.IDENT)
	prm.Name = name.Literal
	p.expect(lexer.COLON)
	prm.Type = p.parseType()
	p.finish(prm, start)
	return prm
}

// parseGenericParams parses `<T, U, ...>`. Bounds written inline
// (`<T: Show>`) and bounds from a trailing where-clause both land in
// GenericParam.Bounds.
func (p *Parser) parseGenericParams() []*ast.GenericParam {
	p.expect(lexer.LT)
	var gens []*ast.GenericParam
	for !p.at(lexer.GT) && !p.at(lexer.EOF) {
		start := p.cur().Offset
		name, _ := p.expect(lexer.IDENT)
		g := &ast.GenericParam{Name: name.Literal}
		if p.at(lexer.COLON) {
			p.advance()
			for {
				b, _ := p.expect(lexer.IDENT)
				g.Bounds = append(g.Bounds, b.Literal)
				if !p.at(lexer.PLUS) {
					break
				}
				p.advance()
			}
		}
		p.finish(g, start)
		gens = append(gens, g)
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
	p.expect(lexer.GT)
	return gens
}

// parseWhereClause parses `where T: Trait, U: A + B` and merges the
// bounds into the already-parsed generic parameter list.
func (p *Parser) parseWhereClause(gens []*ast.GenericParam) {
	p.expect(lexer.WHERE)
	for {
		name, ok := p.expect(lexer.IDENT)
		if !ok {
			return
		}
		p.expect(lexer.COLON)
		var bounds []string
		for {
			b, _ := p.expect(lexer.IDENT)
			bounds = append(bounds, b.Literal)
			if !p.at(lexer.PLUS) {
				break
			}
			p.advance()
		}
		found := false
		for _, g := range gens {
			if g.Name == name.Literal {
				g.Bounds = append(g.Bounds, bounds...)
				found = true
			}
		}
		if !found {
			p.errorf(diag.PAR001, "where-clause names %q, which is not a generic parameter", name.Literal)
		}
		if !p.at(lexer.COMMA) {
			return
		}
		p.advance()
	}
}

// parseContractClauses parses a run of `pre e`, `post e`, `decreases e`
// between a signature and its body. Contract predicates must not eat
// the `=` that begins an expression body, so they parse at a
// precedence above assignment.
func (p *Parser) parseContractClauses() []*ast.Contract {
	var cs []*ast.Contract
	for {
		var kind ast.ContractKind
		switch p.cur().Type {
		case lexer.PRE:
			kind = ast.Precondition
		case lexer.POST:
			kind = ast.Postcondition
		case lexer.DECREASES:
			kind = ast.Decreases
		default:
			return cs
		}
		start := p.cur().Offset
		p.advance()
		c := &ast.Contract{Kind: kind, Expr: p.parseContractExpr()}
		p.finish(c, start)
		cs = append(cs, c)
	}
}

func (p *Parser) parseStructDecl(attrs []*ast.Attribute) *ast.StructDecl {
	start := p.cur().Offset
	p.advance() // struct
	s := &ast.StructDecl{Attrs: attrs}
	name, _ := p.expect(lexer.IDENT)
	s.Name = name.Literal
	if p.at(lexer.LT) {
		s.Generics = p.parseGenericParams()
	}
	if p.at(lexer.WHERE) {
		p.parseWhereClause(s.Generics)
	}
	if p.at(lexer.SEMICOLON) {
		p.advance() // unit struct
		p.finish(s, start)
		return s
	}
	p.expect(lexer.LBRACE)
	for !p.at(lexer.RBRACE) && !p.at(lexer.EOF) {
		fstart := p.cur().Offset
		fname, ok := p.expect(lexer.IDENT)
		if !ok {
			p.syncToBoundary()
			break
		}
		p.expect(lexer.COLON)
		fld := &ast.StructField{Name: fname.Literal, Type: p.parseType()}
		p.finish(fld, fstart)
		s.Fields = append(s.Fields, fld)
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
	p.expect(lexer.RBRACE)
	p.finish(s, start)
	return s
}

func (p *Parser) parseEnumDecl(attrs []*ast.Attribute) *ast.EnumDecl {
	start := p.cur().Offset
	p.advance() // enum
	e := &ast.EnumDecl{Attrs: attrs}
	name, _ := p.expect(lexer.IDENT)
	e.Name = name.Literal
	if p.at(lexer.LT) {
		e.Generics = p.parseGenericParams()
	}
	p.expect(lexer.LBRACE)
	for !p.at(lexer.RBRACE) && !p.at(lexer.EOF) {
		vstart := p.cur().Offset
		vname, ok := p.expect(lexer.IDENT)
		if !ok {
			p.syncToBoundary()
			break
		}
		v := &ast.EnumVariant{Name: vname.Literal}
		if p.at(lexer.LPAREN) {
			p.advance()
			for !p.at(lexer.RPAREN) && !p.at(lexer.EOF) {
				v.Fields = append(v.Fields, p.parseType())
				if p.at(lexer.COMMA) {
					p.advance()
				}
			}
			p.expect(lexer.RPAREN)
		}
		p.finish(v, vstart)
		e.Variants = append(e.Variants, v)
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
	p.expect(lexer.RBRACE)
	p.finish(e, start)
	return e
}

func (p *Parser) parseTraitDecl() *ast.TraitDecl {
	start := p.cur().Offset
	p.advance() // trait
	t := &ast.TraitDecl{}
	name, _ := p.expect(lexer.IDENT)
	t.Name = name.Literal
	p.expect(lexer.LBRACE)
	for !p.at(lexer.RBRACE) && !p.at(lexer.EOF) {
		attrs := p.parseAttributes()
		if !p.at(lexer.FN) && !p.at(lexer.PURE) {
			p.errorf(diag.PAR001, "expected method signature in trait body, found %s", p.cur().Type)
			p.syncToBoundary()
			continue
		}
		t.Methods = append(t.Methods, p.parseFuncDecl(attrs))
	}
	p.expect(lexer.RBRACE)
	p.finish(t, start)
	return t
}

func (p *Parser) parseImplDecl() *ast.ImplDecl {
	start := p.cur().Offset
	p.advance() // impl
	i := &ast.ImplDecl{}
	if p.at(lexer.LT) {
		i.Generics = p.parseGenericParams()
	}
	first := p.parseType()
	if p.at(lexer.FOR) {
		p.advance()
		if nt, ok := first.(*ast.NameType); ok && len(nt.Args) == 0 {
			i.Trait = nt.Name
		} else {
			p.errorf(diag.PAR001, "trait name in impl must be a plain identifier, found %s", first)
		}
		i.Target = p.parseType()
	} else {
		i.Target = first
	}
	if p.at(lexer.WHERE) {
		p.parseWhereClause(i.Generics)
	}
	p.expect(lexer.LBRACE)
	for !p.at(lexer.RBRACE) && !p.at(lexer.EOF) {
		attrs := p.parseAttributes()
		if !p.at(lexer.FN) && !p.at(lexer.PURE) {
			p.errorf(diag.PAR001, "expected method in impl body, found %s", p.cur().Type)
			p.syncToBoundary()
			continue
		}
		i.Methods = append(i.Methods, p.parseFuncDecl(attrs))
	}
	p.expect(lexer.RBRACE)
	p.finish(i, start)
	return i
}

func (p *Parser) parseTypeAlias() *ast.TypeAliasDecl {
	start := p.cur().Offset
	p.advance() // type
	t := &ast.TypeAliasDecl{}
	name, _ := p.expect(lexer.IDENT)
	t.Name = name.Literal
	if p.at(lexer.LT) {
		t.Generics = p.parseGenericParams()
	}
	p.expect(lexer.ASSIGN)
	t.Target = p.parseType()
	p.expect(lexer.SEMICOLON)
	p.finish(t, start)
	return t
}

func (p *Parser) parseExternFunc() *ast.ExternFuncDecl {
	start := p.cur().Offset
	p.advance() // extern
	p.expect(lexer.FN)
	e := &ast.ExternFuncDecl{}
	name, _ := p.expect(lexer.IDENT)
	e.Name = name.Literal
	p.expect(lexer.LPAREN)
	for !p.at(lexer.RPAREN) && !p.at(lexer.EOF) {
		e.Params = append(e.Params, p.parseParam())
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
	p.expect(lexer.RPAREN)
	if p.at(lexer.ARROW) {
		p.advance()
		e.ReturnType = p.parseType()
	}
	p.expect(lexer.SEMICOLON)
	p.finish(e, start)
	return e
}

// parseArrayLen parses the compile-time length of `[T; N]`.
func (p *Parser) parseArrayLen() int {
	tok, ok := p.expect(lexer.INT)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(tok.Literal)
	if err != nil {
		p.errorf(diag.PAR001, "array length %q is not a plain integer", tok.Literal)
		return 0
	}
	return n
}
