package asm

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the assembly lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenNewline

	// Literals
	TokenNumber // 42, -1.5, 2e10
	TokenString // "hello\n"

	// Names
	TokenIdentifier // load_const, loop, counter
	TokenDirective  // .proto, .func, .capture, .end, .line

	// Delimiters
	TokenColon // :
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNewline:    "NEWLINE",
	TokenNumber:     "NUMBER",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenDirective:  "DIRECTIVE",
	TokenColon:      ":",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text; decoded contents for strings
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF, TokenNewline:
		return t.Type.String()
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
