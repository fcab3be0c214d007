package asm

import (
	"fmt"
	"math"
	"strconv"

	"github.com/chazu/snap/vm"
)

// ---------------------------------------------------------------------------
// Program structure
// ---------------------------------------------------------------------------

// UnitKind distinguishes the three kinds of code unit.
type UnitKind int

const (
	UnitMain  UnitKind = iota // top-level statements
	UnitFunc                  // .func: a plain function constant
	UnitProto                 // .proto: a closure prototype
)

// Program is a parsed assembly file.
type Program struct {
	Main  *Unit
	Units []*Unit // .func and .proto units in source order
}

// Unit is one block of code.
type Unit struct {
	Kind     UnitKind
	Name     string
	Arity    int
	Captures []vm.Capture
	Stmts    []Stmt
	Line     int // line of the opening directive
}

// OperandKind classifies an instruction operand.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandInt
	OperandNumber
	OperandString
	OperandBool
	OperandNil
	OperandName // function, prototype or label name
)

// Operand is an instruction argument as written.
type Operand struct {
	Kind   OperandKind
	Int    uint16
	Number float64
	String string
	Bool   bool
}

// Stmt is a label definition or an instruction. Label is set for labels.
type Stmt struct {
	Label   string
	Op      vm.Opcode
	Operand Operand
	Line    int // source line recorded in the block's line table
	SrcLine int // line in the assembly file
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser parses assembly tokens into a Program. It reads one line at a
// time; errors are collected and parsing resumes on the next line.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []string

	prog *Program
	unit *Unit // unit receiving statements
	line int   // explicit .line value, 0 when source lines are used
}

// NewParser creates a parser for the given input. mainName names the
// top-level unit.
func NewParser(input, mainName string) *Parser {
	main := &Unit{Kind: UnitMain, Name: mainName, Line: 1}
	p := &Parser{
		lexer: NewLexer(input),
		prog:  &Program{Main: main},
		unit:  main,
	}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) atLineEnd() bool {
	return p.curTokenIs(TokenNewline) || p.curTokenIs(TokenEOF)
}

// errorf records a parse error.
func (p *Parser) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf("line %d: %s", p.curToken.Pos.Line, fmt.Sprintf(format, args...))
	p.errors = append(p.errors, msg)
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string {
	return p.errors
}

// skipLine discards the rest of the current line after an error.
func (p *Parser) skipLine() {
	for !p.atLineEnd() {
		p.nextToken()
	}
}

// endLine consumes the newline that must follow a complete statement.
func (p *Parser) endLine() {
	if !p.atLineEnd() {
		p.errorf("unexpected %s after statement", p.curToken)
		p.skipLine()
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// Parse parses the whole input.
func (p *Parser) Parse() *Program {
	for !p.curTokenIs(TokenEOF) {
		p.parseLine()
		if p.curTokenIs(TokenNewline) {
			p.nextToken()
		}
	}
	if p.unit != p.prog.Main {
		p.errorf("missing .end for %s", p.unit.Name)
	}
	return p.prog
}

func (p *Parser) parseLine() {
	// Any number of labels may precede an instruction on the same line.
	for p.curTokenIs(TokenIdentifier) && p.peekToken.Type == TokenColon {
		p.unit.Stmts = append(p.unit.Stmts, Stmt{Label: p.curToken.Literal, SrcLine: p.curToken.Pos.Line})
		p.nextToken()
		p.nextToken()
	}

	switch p.curToken.Type {
	case TokenNewline, TokenEOF:
	case TokenDirective:
		p.parseDirective()
	case TokenIdentifier:
		p.parseInstruction()
	case TokenError:
		p.errorf("%s", p.curToken.Literal)
		p.skipLine()
	default:
		p.errorf("expected instruction, got %s", p.curToken)
		p.skipLine()
	}
}

// ---------------------------------------------------------------------------
// Directives
// ---------------------------------------------------------------------------

func (p *Parser) parseDirective() {
	name := p.curToken.Literal
	p.nextToken()
	switch name {
	case "func", "proto":
		p.parseUnitHeader(name)
	case "end":
		if p.unit == p.prog.Main {
			p.errorf(".end without .func or .proto")
		}
		p.unit = p.prog.Main
		p.line = 0
		p.endLine()
	case "capture":
		p.parseCapture()
	case "line":
		n, ok := p.parseInt("line number")
		if ok {
			p.line = int(n)
		}
		p.endLine()
	default:
		p.errorf("unknown directive .%s", name)
		p.skipLine()
	}
}

func (p *Parser) parseUnitHeader(directive string) {
	srcLine := p.curToken.Pos.Line
	if p.unit != p.prog.Main {
		p.errorf("nested .%s inside %s", directive, p.unit.Name)
		p.skipLine()
		return
	}
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected name after .%s, got %s", directive, p.curToken)
		p.skipLine()
		return
	}
	u := &Unit{Kind: UnitFunc, Name: p.curToken.Literal, Line: srcLine}
	if directive == "proto" {
		u.Kind = UnitProto
	}
	p.nextToken()
	arity, ok := p.parseInt("arity")
	if !ok {
		p.skipLine()
		return
	}
	u.Arity = int(arity)
	p.prog.Units = append(p.prog.Units, u)
	p.unit = u
	p.line = 0
	p.endLine()
}

func (p *Parser) parseCapture() {
	if p.unit.Kind != UnitProto {
		p.errorf(".capture outside .proto")
		p.skipLine()
		return
	}
	if len(p.unit.Stmts) > 0 {
		p.errorf(".capture after the first instruction of %s", p.unit.Name)
		p.skipLine()
		return
	}
	var c vm.Capture
	switch {
	case p.curTokenIs(TokenIdentifier) && p.curToken.Literal == "local":
		c.Local = true
	case p.curTokenIs(TokenIdentifier) && p.curToken.Literal == "upval":
	default:
		p.errorf("expected local or upval, got %s", p.curToken)
		p.skipLine()
		return
	}
	p.nextToken()
	idx, ok := p.parseInt("capture index")
	if !ok {
		p.skipLine()
		return
	}
	c.Index = idx
	p.unit.Captures = append(p.unit.Captures, c)
	p.endLine()
}

// parseInt reads a non-negative integer that fits an operand.
func (p *Parser) parseInt(what string) (uint16, bool) {
	if !p.curTokenIs(TokenNumber) {
		p.errorf("expected %s, got %s", what, p.curToken)
		return 0, false
	}
	n, err := strconv.ParseUint(p.curToken.Literal, 10, 64)
	if err != nil || n > math.MaxUint16 {
		p.errorf("%s %s is not an integer in 0..65535", what, p.curToken.Literal)
		return 0, false
	}
	p.nextToken()
	return uint16(n), true
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (p *Parser) parseInstruction() {
	tok := p.curToken
	op, ok := vm.LookupOpcode(tok.Literal)
	if !ok {
		p.errorf("unknown instruction %q", tok.Literal)
		p.skipLine()
		return
	}
	p.nextToken()

	st := Stmt{Op: op, Line: p.line, SrcLine: tok.Pos.Line}
	if st.Line == 0 {
		st.Line = tok.Pos.Line
	}

	if !op.HasOperand() {
		p.unit.Stmts = append(p.unit.Stmts, st)
		p.endLine()
		return
	}
	if p.atLineEnd() {
		p.errorf("%s needs an operand", op)
		return
	}

	switch op {
	case vm.OpLoadConst:
		st.Operand, ok = p.parseConstant()
	case vm.OpClosure, vm.OpJump, vm.OpJumpFalse:
		if p.curTokenIs(TokenIdentifier) {
			st.Operand = Operand{Kind: OperandName, String: p.curToken.Literal}
			p.nextToken()
		} else {
			p.errorf("%s expects a name, got %s", op, p.curToken)
			ok = false
		}
	default:
		var n uint16
		n, ok = p.parseInt("operand")
		st.Operand = Operand{Kind: OperandInt, Int: n}
	}
	if !ok {
		p.skipLine()
		return
	}
	p.unit.Stmts = append(p.unit.Stmts, st)
	p.endLine()
}

// parseConstant reads a LOAD_CONST literal or function name.
func (p *Parser) parseConstant() (Operand, bool) {
	tok := p.curToken
	switch tok.Type {
	case TokenNumber:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil && !math.IsInf(f, 0) {
			p.errorf("bad number %s", tok.Literal)
			return Operand{}, false
		}
		p.nextToken()
		return Operand{Kind: OperandNumber, Number: f}, true
	case TokenString:
		p.nextToken()
		return Operand{Kind: OperandString, String: tok.Literal}, true
	case TokenIdentifier:
		p.nextToken()
		switch tok.Literal {
		case "true", "false":
			return Operand{Kind: OperandBool, Bool: tok.Literal == "true"}, true
		case "nil":
			return Operand{Kind: OperandNil}, true
		}
		return Operand{Kind: OperandName, String: tok.Literal}, true
	}
	p.errorf("expected constant, got %s", tok)
	return Operand{}, false
}

// Parse parses input into a Program, returning the collected errors.
func Parse(input, mainName string) (*Program, []string) {
	p := NewParser(input, mainName)
	prog := p.Parse()
	return prog, p.Errors()
}
