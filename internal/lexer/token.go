package lexer

import "fmt"

// TokenType identifies the kind of a lexical token.
type TokenType int

const (
	ILLEGAL TokenType = iota
	EOF
	COMMENT

	// Literals
	IDENT
	INT
	FLOAT
	STRING
	CHAR

	// Keywords
	FN
	PURE
	LET
	VAR
	MUT
	IF
	ELSE
	MATCH
	WHILE
	FOR
	LOOP
	IN
	BREAK
	CONTINUE
	RETURN
	STRUCT
	ENUM
	TRAIT
	IMPL
	WHERE
	MODULE
	IMPORT
	EXTERN
	TYPE
	PRE
	POST
	INVARIANT
	DECREASES
	TRUST
	DERIVE
	CFG
	INLINE
	TEST
	SELF
	RET
	OLD
	TRUE
	FALSE
	AND
	OR
	NOT
	IMPLIES
	BAND
	BOR
	BXOR
	BNOT
	AS

	// Operators (maximal munch, longest first)
	ARROW    // ->
	FARROW   // =>
	DCOLON   // ::
	DOTDOTEQ // ..=
	DOTDOT   // ..
	SHL      // <<
	SHR      // >>
	PLUSPCT  // +%
	MINUSPCT // -%
	STARPCT  // *%
	PLUSBAR  // +|
	MINUSBAR // -|
	STARBAR  // *|
	PLUSQ    // +?
	MINUSQ   // -?
	STARQ    // *?
	EQ       // ==
	NEQ      // !=
	LE       // <=
	GE       // >=
	ANDAND   // &&
	OROR     // ||

	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	ASSIGN
	LT
	GT
	BANG
	AMP
	PIPE
	QUESTION
	AT
	DOT
	COLON
	COMMA
	SEMICOLON

	LPAREN
	RPAREN
	LBRACE
	RBRACE
	LBRACKET
	RBRACKET
)

var names = map[TokenType]string{
	ILLEGAL: "ILLEGAL", EOF: "EOF", COMMENT: "COMMENT",
	IDENT: "IDENT", INT: "INT", FLOAT: "FLOAT", STRING: "STRING", CHAR: "CHAR",

	FN: "fn", PURE: "pure", LET: "let", VAR: "var", MUT: "mut",
	IF: "if", ELSE: "else", MATCH: "match", WHILE: "while", FOR: "for",
	LOOP: "loop", IN: "in", BREAK: "break", CONTINUE: "continue", RETURN: "return",
	STRUCT: "struct", ENUM: "enum", TRAIT: "trait", IMPL: "impl", WHERE: "where",
	MODULE: "module", IMPORT: "import", EXTERN: "extern", TYPE: "type",
	PRE: "pre", POST: "post", INVARIANT: "invariant", DECREASES: "decreases",
	TRUST: "trust", DERIVE: "derive", CFG: "cfg", INLINE: "inline", TEST: "test",
	SELF: "self", RET: "ret", OLD: "old", TRUE: "true", FALSE: "false",
	AND: "and", OR: "or", NOT: "not", IMPLIES: "implies",
	BAND: "band", BOR: "bor", BXOR: "bxor", BNOT: "bnot", AS: "as",

	ARROW: "->", FARROW: "=>", DCOLON: "::", DOTDOTEQ: "..=", DOTDOT: "..",
	SHL: "<<", SHR: ">>",
	PLUSPCT: "+%", MINUSPCT: "-%", STARPCT: "*%",
	PLUSBAR: "+|", MINUSBAR: "-|", STARBAR: "*|",
	PLUSQ: "+?", MINUSQ: "-?", STARQ: "*?",
	EQ: "==", NEQ: "!=", LE: "<=", GE: ">=", ANDAND: "&&", OROR: "||",

	PLUS: "+", MINUS: "-", STAR: "*", SLASH: "/", PERCENT: "%",
	ASSIGN: "=", LT: "<", GT: ">", BANG: "!", AMP: "&", PIPE: "|",
	QUESTION: "?", AT: "@", DOT: ".", COLON: ":", COMMA: ",", SEMICOLON: ";",

	LPAREN: "(", RPAREN: ")", LBRACE: "{", RBRACE: "}",
	LBRACKET: "[", RBRACKET: "]",
}

func (t TokenType) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

var keywords = map[string]TokenType{
	"fn": FN, "pure": PURE, "let": LET, "var": VAR, "mut": MUT,
	"if": IF, "else": ELSE, "match": MATCH, "while": WHILE, "for": FOR,
	"loop": LOOP, "in": IN, "break": BREAK, "continue": CONTINUE, "return": RETURN,
	"struct": STRUCT, "enum": ENUM, "trait": TRAIT, "impl": IMPL, "where": WHERE,
	"module": MODULE, "import": IMPORT, "extern": EXTERN, "type": TYPE,
	"pre": PRE, "post": POST, "invariant": INVARIANT, "decreases": DECREASES,
	"trust": TRUST, "derive": DERIVE, "cfg": CFG, "inline": INLINE, "test": TEST,
	"self": SELF, "ret": RET, "old": OLD, "true": TRUE, "false": FALSE,
	"and": AND, "or": OR, "not": NOT, "implies": IMPLIES,
	"band": BAND, "bor": BOR, "bxor": BXOR, "bnot": BNOT, "as": AS,
}

// LookupIdent classifies an identifier as a keyword or plain IDENT.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}

// Token is a single lexical token with its source offsets. Line/Column
// are filled in by the caller from the owning source.Unit so the
// lexer itself stays free of the span-resolution machinery.
type Token struct {
	Type    TokenType
	Literal string
	Offset  int
	End     int
	Line    int
	Column  int
}

func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d:%d}", t.Type, t.Literal, t.Line, t.Column)
}

// IsOperator reports whether the token is one of the binary/unary
// operator families (used by the parser's precedence table).
func (t Token) IsOperator() bool {
	switch t.Type {
	case PLUS, MINUS, STAR, SLASH, PERCENT,
		PLUSPCT, MINUSPCT, STARPCT, PLUSBAR, MINUSBAR, STARBAR, PLUSQ, MINUSQ, STARQ,
		EQ, NEQ, LT, GT, LE, GE, ANDAND, OROR,
		AND, OR, IMPLIES, BAND, BOR, BXOR,
		DOTDOT, DOTDOTEQ, SHL, SHR:
		return true
	}
	return false
}
