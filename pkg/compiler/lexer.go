package compiler

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a token.
type TokenType uint8

const (
	TokenEOF     TokenType = iota
	TokenNewline
	TokenIdent   // Mnemonics, directives and label names
	TokenInt     // Decimal or 0x-prefixed hex literals
	TokenChar    // 'c' literals
	TokenString  // "quoted strings"
	TokenComma   // ,
	TokenColon   // : (for labels)
	TokenComment // ; comment
	TokenReg     // r0-r255
	TokenInvalid
)

// String returns the string representation of a token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenIdent:
		return "IDENT"
	case TokenInt:
		return "INT"
	case TokenChar:
		return "CHAR"
	case TokenString:
		return "STRING"
	case TokenComma:
		return "COMMA"
	case TokenColon:
		return "COLON"
	case TokenComment:
		return "COMMENT"
	case TokenReg:
		return "REG"
	case TokenInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Line  int
}

// Lexer tokenizes minivm assembly source code.
type Lexer struct {
	input  string
	pos    int
	line   int
	tokens []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		pos:    0,
		line:   1,
		tokens: []Token{},
	}
}

// Tokenize tokenizes the entire input and returns the tokens.
// Comments are dropped.
func (l *Lexer) Tokenize() []Token {
	for l.pos < len(l.input) {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			break
		}

		ch := l.input[l.pos]

		switch {
		case ch == '\n':
			l.tokens = append(l.tokens, Token{Type: TokenNewline, Value: "\n", Line: l.line})
			l.line++
			l.pos++

		case ch == ';' || ch == '#':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}

		case ch == ',':
			l.tokens = append(l.tokens, Token{Type: TokenComma, Value: ",", Line: l.line})
			l.pos++

		case ch == ':':
			l.tokens = append(l.tokens, Token{Type: TokenColon, Value: ":", Line: l.line})
			l.pos++

		case ch == '"':
			l.scanQuoted('"', TokenString)

		case ch == '\'':
			l.scanQuoted('\'', TokenChar)

		case ch == '-' || unicode.IsDigit(rune(ch)):
			l.scanNumber()

		case unicode.IsLetter(rune(ch)) || ch == '_' || ch == '.':
			l.scanIdentOrRegister()

		default:
			l.tokens = append(l.tokens, Token{Type: TokenInvalid, Value: string(ch), Line: l.line})
			l.pos++
		}
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Value: "", Line: l.line})
	return l.tokens
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			l.pos++
		} else {
			break
		}
	}
}

// scanQuoted keeps the surrounding quotes and escape sequences in the token
// value; the parser unquotes it. An unterminated literal stops at the end of
// the line.
func (l *Lexer) scanQuoted(quote byte, typ TokenType) {
	start := l.pos
	l.pos++ // Skip opening quote

	for l.pos < len(l.input) && l.input[l.pos] != quote && l.input[l.pos] != '\n' {
		if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) {
			l.pos++
		}
		l.pos++
	}

	if l.pos < len(l.input) && l.input[l.pos] == quote {
		l.pos++ // Skip closing quote
	}

	l.tokens = append(l.tokens, Token{Type: typ, Value: l.input[start:l.pos], Line: l.line})
}

func (l *Lexer) scanNumber() {
	start := l.pos

	if l.input[l.pos] == '-' {
		l.pos++
	}

	// Hex digits and the x of a 0x prefix; the parser validates the form.
	for l.pos < len(l.input) && isNumberChar(l.input[l.pos]) {
		l.pos++
	}

	l.tokens = append(l.tokens, Token{Type: TokenInt, Value: l.input[start:l.pos], Line: l.line})
}

func isNumberChar(ch byte) bool {
	return unicode.IsDigit(rune(ch)) || ch == 'x' || ch == 'X' ||
		(ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func (l *Lexer) scanIdentOrRegister() {
	start := l.pos

	// First character
	l.pos++

	// Continue with alphanumeric or underscore
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_' {
			l.pos++
		} else {
			break
		}
	}

	value := l.input[start:l.pos]
	l.tokens = append(l.tokens, Token{Type: classifyIdentOrRegister(value), Value: value, Line: l.line})
}

// classifyIdentOrRegister reports r followed only by digits as a register.
// Range checking happens in the parser.
func classifyIdentOrRegister(value string) TokenType {
	lower := strings.ToLower(value)
	if len(lower) < 2 || lower[0] != 'r' {
		return TokenIdent
	}
	for _, ch := range lower[1:] {
		if !unicode.IsDigit(ch) {
			return TokenIdent
		}
	}
	return TokenReg
}
