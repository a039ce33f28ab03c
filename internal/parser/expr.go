package parser

import (
	"strconv"
	"strings"

	"github.com/bmb-lang/bmbc/internal/ast"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/lexer"
)

// Binding powers, loosest to tightest. Bitwise keyword operators bind
// at the additive level; `|` never appears as a binary operator.
const (
	precLowest  = iota
	precImplies // implies
	precOr      // || or
	precAnd     // && and
	precCompare // == != < > <= >=
	precRange   // .. ..=
	precShift   // << >>
	precAdd     // + - +% -% +| -| +? -? band bor bxor
	precMul     // * / % *% *| *?
	precUnary
)

func binaryPrec(t lexer.TokenType) int {
	switch t {
	case lexer.IMPLIES:
		return precImplies
	case lexer.OROR, lexer.OR:
		return precOr
	case lexer.ANDAND, lexer.AND:
		return precAnd
	case lexer.EQ, lexer.NEQ, lexer.LT, lexer.GT, lexer.LE, lexer.GE:
		return precCompare
	case lexer.DOTDOT, lexer.DOTDOTEQ:
		return precRange
	case lexer.SHL, lexer.SHR:
		return precShift
	case lexer.PLUS, lexer.MINUS, lexer.PLUSPCT, lexer.MINUSPCT,
		lexer.PLUSBAR, lexer.MINUSBAR, lexer.PLUSQ, lexer.MINUSQ,
		lexer.BAND, lexer.BOR, lexer.BXOR:
		return precAdd
	case lexer.STAR, lexer.SLASH, lexer.PERCENT,
		lexer.STARPCT, lexer.STARBAR, lexer.STARQ:
		return precMul
	}
	return precLowest
}

// rightAssoc marks the operators that associate to the right.
// `implies` chains as p implies (q implies r), matching its logical
// reading.
func rightAssoc(t lexer.TokenType) bool { return t == lexer.IMPLIES }

// parseExpr parses a full expression, struct literals permitted.
func (p *Parser) parseExpr() ast.Expr { return p.parseBinary(precLowest, true) }

// parseContractExpr parses a contract predicate. Struct literals are
// permitted (a predicate may compare against one); the grammar is the
// same as for ordinary expressions.
func (p *Parser) parseContractExpr() ast.Expr { return p.parseBinary(precLowest, true) }

// parseCondExpr parses a condition in `if`/`while`/`match`/`for`
// header position, where `ident {` must read as the start of the
// block, not a struct literal.
func (p *Parser) parseCondExpr() ast.Expr { return p.parseBinary(precLowest, false) }

func (p *Parser) parseBinary(minPrec int, structLit bool) ast.Expr {
	left := p.parseUnary(structLit)
	for {
		op := p.cur()
		prec := binaryPrec(op.Type)
		if prec == precLowest || prec < minPrec {
			return left
		}
		p.advance()

		if op.Type == lexer.DOTDOT || op.Type == lexer.DOTDOTEQ {
			hi := p.parseBinary(precRange+1, structLit)
			r := &ast.RangeExpr{Lo: left, Hi: hi, Inclusive: op.Type == lexer.DOTDOTEQ}
			r.SetSpan(p.span(left.Span().Start, hi.Span().End))
			left = r
			continue
		}

		next := prec + 1
		if rightAssoc(op.Type) {
			next = prec
		}
		right := p.parseBinary(next, structLit)
		b := &ast.BinOp{Op: canonicalOp(op), Left: left, Right: right}
		b.SetSpan(p.span(left.Span().Start, right.Span().End))
		left = b
	}
}

// canonicalOp folds the symbolic and keyword spellings of the logical
// connectives onto one name so later stages match a single form.
func canonicalOp(t lexer.Token) string {
	switch t.Type {
	case lexer.ANDAND, lexer.AND:
		return "&&"
	case lexer.OROR, lexer.OR:
		return "||"
	default:
		return t.Type.String()
	}
}

func (p *Parser) parseUnary(structLit bool) ast.Expr {
	start := p.cur().Offset
	switch p.cur().Type {
	case lexer.MINUS, lexer.BANG, lexer.STAR, lexer.NOT, lexer.BNOT:
		op := p.advance()
		opName := op.Type.String()
		if op.Type == lexer.NOT {
			opName = "!"
		}
		u := &ast.UnaryOp{Op: opName, Expr: p.parseUnary(structLit)}
		p.finish(u, start)
		return u
	case lexer.AMP:
		p.advance()
		opName := "&"
		if p.at(lexer.MUT) {
			p.advance()
			opName = "&mut"
		}
		u := &ast.UnaryOp{Op: opName, Expr: p.parseUnary(structLit)}
		p.finish(u, start)
		return u
	}
	return p.parsePostfix(structLit)
}

// parsePostfix parses call, method-call, field-access, index, and
// cast suffixes on a primary expression. A postfix `?` is the rejected
// error-propagation form and produces a dedicated diagnostic.
func (p *Parser) parsePostfix(structLit bool) ast.Expr {
	e := p.parsePrimary(structLit)
	for {
		start := e.Span().Start
		switch p.cur().Type {
		case lexer.LPAREN:
			p.advance()
			c := &ast.Call{Func: e}
			c.Args = p.parseArgs()
			p.finish(c, start)
			e = c

		case lexer.DOT:
			p.advance()
			name, ok := p.expect(lexer.IDENT)
			if !ok {
				return e
			}
			if p.at(lexer.LPAREN) || p.at(lexer.DCOLON) {
				m := &ast.MethodCall{Receiver: e, Method: name.Literal}
				if p.at(lexer.DCOLON) {
					p.advance()
					m.TypeArgs = p.parseTypeArgs()
				}
				p.expect(lexer.LPAREN)
				m.Args = p.parseArgs()
				p.finish(m, start)
				e = m
			} else {
				f := &ast.FieldAccess{Expr: e, Field: name.Literal}
				p.finish(f, start)
				e = f
			}

		case lexer.LBRACKET:
			p.advance()
			ix := &ast.Index{Expr: e, Index: p.parseExpr()}
			p.expect(lexer.RBRACKET)
			p.finish(ix, start)
			e = ix

		case lexer.AS:
			p.advance()
			c := &ast.Cast{Expr: e, To: p.parseTypeAtom()}
			p.finish(c, start)
			e = c

		case lexer.QUESTION:
			p.errorf(diag.PAR004, "`?` is not an error-propagation operator; match on the value instead")
			p.advance()

		case lexer.DCOLON:
			// turbofish type arguments on a direct call: f::<T>(args)
			if id, ok := e.(*ast.Ident); ok && p.peekAt(1).Type == lexer.LT {
				p.advance()
				args := p.parseTypeArgs()
				p.expect(lexer.LPAREN)
				c := &ast.Call{Func: id, TypeArgs: args}
				c.Args = p.parseArgs()
				p.finish(c, start)
				e = c
				continue
			}
			return e

		default:
			return e
		}
	}
}

func (p *Parser) parseTypeArgs() []ast.TypeExpr {
	p.expect(lexer.LT)
	var args []ast.TypeExpr
	for !p.at(lexer.GT) && !p.at(lexer.EOF) {
		args = append(args, p.parseType())
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
	p.expect(lexer.GT)
	return args
}

func (p *Parser) parseArgs() []ast.Expr {
	var args []ast.Expr
	for !p.at(lexer.RPAREN) && !p.at(lexer.EOF) {
		args = append(args, p.parseExpr())
		if p.at(lexer.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(lexer.RPAREN)
	return args
}

func (p *Parser) parsePrimary(structLit bool) ast.Expr {
	start := p.cur().Offset
	switch p.cur().Type {
	case lexer.INT:
		return p.parseIntLiteral()
	case lexer.FLOAT:
		return p.parseFloatLiteral()
	case lexer.STRING:
		tok := p.advance()
		l := &ast.Literal{Kind: ast.StringLit, Value: tok.Literal}
		p.finish(l, start)
		return l
	case lexer.CHAR:
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
		tok := p.advance()
		l := &ast.Literal{Kind: ast.BoolLit, Value: tok.Type == lexer.TRUE}
		p.finish(l, start)
		return l

	case lexer.OLD:
		// old(e) is only meaningful inside a postcondition; the checker
		// enforces that, the parser just builds the call shape.
		p.advance()
		p.expect(lexer.LPAREN)
		inner := p.parseExpr()
		p.expect(lexer.RPAREN)
		c := &ast.Call{Func: &ast.Ident{Name: "old"}, Args: []ast.Expr{inner}}
		p.finish(c, start)
		return c

	case lexer.RET:
		p.advance()
		id := &ast.Ident{Name: "ret"}
		p.finish(id, start)
		return id

	case lexer.SELF:
		p.advance()
		id := &ast.Ident{Name: "self"}
		p.finish(id, start)
		return id

	case lexer.IDENT:
		name := p.advance().Literal
		// Enum::Variant constructor path.
		if p.at(lexer.DCOLON) && p.peekAt(1).Type == lexer.IDENT {
			p.advance()
			variant, _ := p.expect(lexer.IDENT)
			ec := &ast.EnumCtor{Enum: name, Variant: variant.Literal}
			if p.at(lexer.LPAREN) {
				p.advance()
				ec.Args = p.parseArgs()
			}
			p.finish(ec, start)
			return ec
		}
		// Struct literal, unless suppressed by condition position.
		if structLit && p.at(lexer.LBRACE) && p.looksLikeStructLit() {
			return p.parseStructLit(name, start)
		}
		id := &ast.Ident{Name: name}
		p.finish(id, start)
		return id

	case lexer.LPAREN:
		p.advance()
		if p.at(lexer.RPAREN) {
			p.advance()
			l := &ast.Literal{Kind: ast.UnitLit, Value: nil}
			p.finish(l, start)
			return l
		}
		first := p.parseExpr()
		if p.at(lexer.COMMA) {
			t := &ast.TupleExpr{Elems: []ast.Expr{first}}
			for p.at(lexer.COMMA) {
				p.advance()
				if p.at(lexer.RPAREN) {
					break
				}
				t.Elems = append(t.Elems, p.parseExpr())
			}
			p.expect(lexer.RPAREN)
			p.finish(t, start)
			return t
		}
		p.expect(lexer.RPAREN)
		return first

	case lexer.LBRACKET:
		p.advance()
		a := &ast.ArrayExpr{}
		for !p.at(lexer.RBRACKET) && !p.at(lexer.EOF) {
			a.Elems = append(a.Elems, p.parseExpr())
			if p.at(lexer.COMMA) {
				p.advance()
			}
		}
		p.expect(lexer.RBRACKET)
		p.finish(a, start)
		return a

	case lexer.LBRACE:
		return p.parseBlock()

	case lexer.IF:
		return p.parseIf()
	case lexer.MATCH:
		return p.parseMatch()
	case lexer.WHILE:
		return p.parseWhile()
	case lexer.FOR:
		return p.parseFor()
	case lexer.LOOP:
		return p.parseLoop()

	case lexer.BREAK:
		p.advance()
		b := &ast.BreakExpr{}
		if !p.at(lexer.SEMICOLON) && !p.at(lexer.RBRACE) {
			b.Value = p.parseExpr()
		}
		p.finish(b, start)
		return b

	case lexer.CONTINUE:
		p.advance()
		c := &ast.ContinueExpr{}
		p.finish(c, start)
		return c

	case lexer.RETURN:
		p.advance()
		r := &ast.ReturnExpr{}
		if !p.at(lexer.SEMICOLON) && !p.at(lexer.RBRACE) {
			r.Value = p.parseExpr()
		}
		p.finish(r, start)
		return r

	case lexer.PIPE:
		return p.parseLambda()
	case lexer.OROR:
		// `||` in expression-head position is an empty lambda
		// parameter list, not logical or.
		p.advance()
		l := &ast.LambdaExpr{Body: p.parseExpr()}
		p.finish(l, start)
		return l

	default:
		p.errorf(diag.PAR001, "expected expression, found %s %q", p.cur().Type, p.cur().Literal)
		tok := p.advance()
		e := &ast.ErrorExpr{Msg: "unexpected " + tok.Type.String()}
		p.finish(e, start)
		return e
	}
}

// looksLikeStructLit peeks past `{` for the `ident :` shape (or an
// immediate `}`) that distinguishes a struct literal from a block.
func (p *Parser) looksLikeStructLit() bool {
	if p.peekAt(1).Type == lexer.RBRACE {
		return true
	}
	return p.peekAt(1).Type == lexer.IDENT && p.peekAt(2).Type == lexer.COLON
}

func (p *Parser) parseStructLit(name string, start int) ast.Expr {
	p.expect(lexer.LBRACE)
	s := &ast.StructLit{Name: name}
	for !p.at(lexer.RBRACE) && !p.at(lexer.EOF) {
		fstart := p.cur().Offset
		fname, ok := p.expect(lexer.IDENT)
		if !ok {
			break
		}
		p.expect(lexer.COLON)
		fi := &ast.FieldInit{Name: fname.Literal, Value: p.parseExpr()}
		p.finish(fi, fstart)
		s.Fields = append(s.Fields, fi)
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
	p.expect(lexer.RBRACE)
	p.finish(s, start)
	return s
}

func (p *Parser) parseIntLiteral() ast.Expr {
	start := p.cur().Offset
	tok := p.advance()
	lit, suffix := splitWidthSuffix(tok.Literal)
	clean := strings.ReplaceAll(lit, "_", "")
	var (
		v   int64
		err error
	)
	switch {
	case strings.HasPrefix(clean, "0x"), strings.HasPrefix(clean, "0X"):
		v, err = strconv.ParseInt(clean[2:], 16, 64)
	case strings.HasPrefix(clean, "0b"), strings.HasPrefix(clean, "0B"):
		v, err = strconv.ParseInt(clean[2:], 2, 64)
	case strings.HasPrefix(clean, "0o"), strings.HasPrefix(clean, "0O"):
		v, err = strconv.ParseInt(clean[2:], 8, 64)
	default:
		v, err = strconv.ParseInt(clean, 10, 64)
	}
	if err != nil {
		p.errorf(diag.PAR001, "integer literal %q out of range", tok.Literal)
	}
	l := &ast.Literal{Kind: ast.IntLit, Value: v, WidthSuffix: suffix}
	p.finish(l, start)
	return l
}

func (p *Parser) parseFloatLiteral() ast.Expr {
	start := p.cur().Offset
	tok := p.advance()
	lit, suffix := splitWidthSuffix(tok.Literal)
	clean := strings.ReplaceAll(lit, "_", "")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		p.errorf(diag.PAR001, "float literal %q out of range", tok.Literal)
	}
	l := &ast.Literal{Kind: ast.FloatLit, Value: v, WidthSuffix: suffix}
	p.finish(l, start)
	return l
}

var widthSuffixes = []string{
	"i128", "i64", "i32", "i16", "i8", "isize",
	"u128", "u64", "u32", "u16", "u8", "usize",
	"f64", "f32",
}

func splitWidthSuffix(lit string) (string, string) {
	hex := strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X")
	for _, s := range widthSuffixes {
		if strings.HasSuffix(lit, s) && len(lit) > len(s) {
			// In a hex literal a float suffix is indistinguishable from
			// trailing digits (0xf32 is a number, not 0x + f32);
			// u/i suffixes are unambiguous since neither is a hex digit.
			if hex && s[0] == 'f' {
				continue
			}
			return lit[:len(lit)-len(s)], s
		}
	}
	return lit, ""
}

// parseBlock parses `{ stmt* [trailing-expr] }`.
func (p *Parser) parseBlock() *ast.BlockExpr {
	start := p.cur().Offset
	p.expect(lexer.LBRACE)
	b := &ast.BlockExpr{}
	for !p.at(lexer.RBRACE) && !p.at(lexer.EOF) {
		before := p.pos
		stmt, trailing := p.parseStmt()
		if trailing != nil {
			b.Trailing = trailing
			break
		}
		if stmt != nil {
			b.Stmts = append(b.Stmts, stmt)
		}
		if p.pos == before {
			p.advance()
			p.syncToBoundary()
		}
	}
	p.expect(lexer.RBRACE)
	p.finish(b, start)
	return b
}

// parseStmt parses one statement. When the construct turns out to be a
// block-final trailing expression (no semicolon before `}`), it is
// returned as the second result instead.
func (p *Parser) parseStmt() (ast.Stmt, ast.Expr) {
	switch p.cur().Type {
	case lexer.LET, lexer.VAR:
		return p.parseLet(), nil
	case lexer.SEMICOLON:
		p.advance()
		return nil, nil
	}

	start := p.cur().Offset
	e := p.parseExpr()

	if p.at(lexer.ASSIGN) {
		p.advance()
		a := &ast.AssignStmt{Target: e, Value: p.parseExpr()}
		p.finish(a, start)
		p.expect(lexer.SEMICOLON)
		return a, nil
	}

	if p.at(lexer.SEMICOLON) {
		p.advance()
		s := &ast.ExprStmt{Expr: e}
		p.finish(s, start)
		return s, nil
	}
	if p.at(lexer.RBRACE) {
		return nil, e
	}
	// Control-flow expressions in statement position do not require a
	// trailing semicolon.
	switch e.(type) {
	case *ast.IfExpr, *ast.MatchExpr, *ast.WhileExpr, *ast.ForExpr, *ast.LoopExpr, *ast.BlockExpr:
		s := &ast.ExprStmt{Expr: e}
		p.finish(s, start)
		return s, nil
	}
	p.errorf(diag.PAR001, "expected `;` after expression statement, found %s", p.cur().Type)
	s := &ast.ExprStmt{Expr: e}
	p.finish(s, start)
	return s, nil
}

func (p *Parser) parseLet() ast.Stmt {
	start := p.cur().Offset
	mutable := p.cur().Type == lexer.VAR
	p.advance() // let | var
	if p.at(lexer.MUT) {
		mutable = true
		p.advance()
	}
	l := &ast.LetExpr{Mutable: mutable, Pattern: p.parsePattern()}
	if p.at(lexer.COLON) {
		p.advance()
		l.Type = p.parseType()
	}
	p.expect(lexer.ASSIGN)
	l.Value = p.parseExpr()
	p.expect(lexer.SEMICOLON)
	p.finish(l, start)
	return l
}

func (p *Parser) parseIf() ast.Expr {
	start := p.cur().Offset
	p.advance() // if
	i := &ast.IfExpr{Cond: p.parseCondExpr(), Then: p.parseBlock()}
	if p.at(lexer.ELSE) {
		p.advance()
		if p.at(lexer.IF) {
			i.Else = p.parseIf()
		} else {
			i.Else = p.parseBlock()
		}
	}
	p.finish(i, start)
	return i
}

func (p *Parser) parseMatch() ast.Expr {
	start := p.cur().Offset
	p.advance() // match
	m := &ast.MatchExpr{Scrutinee: p.parseCondExpr()}
	p.expect(lexer.LBRACE)
	for !p.at(lexer.RBRACE) && !p.at(lexer.EOF) {
		astart := p.cur().Offset
		arm := &ast.MatchArm{Pattern: p.parseOrPattern()}
		if p.at(lexer.IF) {
			p.advance()
			arm.Guard = p.parseExpr()
		}
		p.expect(lexer.FARROW)
		arm.Body = p.parseExpr()
		p.finish(arm, astart)
		m.Arms = append(m.Arms, arm)
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
	p.expect(lexer.RBRACE)
	p.finish(m, start)
	return m
}

// parseInvariants consumes `invariant e` clauses on a loop header.
func (p *Parser) parseInvariants() []*ast.Contract {
	var cs []*ast.Contract
	for p.at(lexer.INVARIANT) || p.at(lexer.DECREASES) {
		start := p.cur().Offset
		kind := ast.LoopInvariant
		if p.at(lexer.DECREASES) {
			kind = ast.Decreases
		}
		p.advance()
		c := &ast.Contract{Kind: kind, Expr: p.parseCondExpr()}
		p.finish(c, start)
		cs = append(cs, c)
	}
	return cs
}

func (p *Parser) parseWhile() ast.Expr {
	start := p.cur().Offset
	p.advance() // while
	w := &ast.WhileExpr{Cond: p.parseCondExpr()}
	w.Invariants = p.parseInvariants()
	w.Body = p.parseBlock()
	p.finish(w, start)
	return w
}

func (p *Parser) parseFor() ast.Expr {
	start := p.cur().Offset
	p.advance() // for
	f := &ast.ForExpr{Binding: p.parsePattern()}
	p.expect(lexer.IN)
	f.Iter = p.parseCondExpr()
	f.Invariants = p.parseInvariants()
	f.Body = p.parseBlock()
	p.finish(f, start)
	return f
}

func (p *Parser) parseLoop() ast.Expr {
	start := p.cur().Offset
	p.advance() // loop
	l := &ast.LoopExpr{Invariants: p.parseInvariants()}
	l.Body = p.parseBlock()
	p.finish(l, start)
	return l
}

func (p *Parser) parseLambda() ast.Expr {
	start := p.cur().Offset
	p.expect(lexer.PIPE)
	l := &ast.LambdaExpr{}
	for !p.at(lexer.PIPE) && !p.at(lexer.EOF) {
		pstart := p.cur().Offset
		name, ok := p.expect(lexer.IDENT)
		if !ok {
			break
		}
		lp := &ast.LambdaParam{Name: name.Literal}
		if p.at(lexer.COLON) {
			p.advance()
			lp.Type = p.parseType()
		}
		p.finish(lp, pstart)
		l.Params = append(l.Params, lp)
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
	p.expect(lexer.PIPE)
	l.Body = p.parseExpr()
	p.finish(l, start)
	return l
}
