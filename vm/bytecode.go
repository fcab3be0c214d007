package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Every instruction is
// either a bare opcode or an opcode followed by one 16-bit little-endian
// operand; which one is decided by the range the opcode falls in.
type Opcode byte

// One-operand opcodes
const (
	OpLoadConst Opcode = 0x01 + iota // push constant (16-bit index)
	OpGetVar                         // push local slot
	OpSetVar                         // store top into local slot, keep it on the stack
	OpGetUpval                       // push upvalue of the running function
	OpSetUpval                       // store top into upvalue, keep it on the stack
	OpCall                           // call callee below argc arguments
	OpClosure                        // instantiate prototype constant
	OpJump                           // unconditional jump (signed 16-bit offset)
	OpJumpFalse                      // pop, jump if falsy (signed 16-bit offset)
	OpNewTable                       // push new table (capacity hint)
)

// Zero-operand opcodes
const (
	OpPop Opcode = 0x40 + iota // discard top of stack
	OpNil                      // push nil
	OpTrue                     // push true
	OpFalse                    // push false
	OpAdd                      // numbers add, strings concatenate
	OpSub
	OpMult
	OpMod
	OpDiv
	OpNeg
	OpNot
	OpEq
	OpLt
	OpGt
	OpIndexGet   // table key -> value
	OpIndexSet   // table key value -> value
	OpCloseUpval // close upvalues over the top slot, then pop it
	OpPrint      // pop and hand to the print hook
	OpReturn     // return top of stack
)

// Range boundaries. Decoding classifies an opcode by comparing against
// these, so each range must stay contiguous.
const (
	Op1OperandStart = OpLoadConst
	Op1OperandEnd   = OpNewTable
	Op0OperandStart = OpPop
	Op0OperandEnd   = OpReturn

	// OperandBytes is the width of the single operand.
	OperandBytes = 2
)

// HasOperand reports whether op is followed by an operand.
func (op Opcode) HasOperand() bool {
	return op >= Op1OperandStart && op <= Op1OperandEnd
}

// IsValid reports whether op falls into either opcode range.
func (op Opcode) IsValid() bool {
	return op.HasOperand() || (op >= Op0OperandStart && op <= Op0OperandEnd)
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack (-1 = variable)
}

// opcodeNames maps opcodes to their disassembly names.
var opcodeNames = map[Opcode]string{
	OpLoadConst: "LOAD_CONST",
	OpGetVar:    "GET_VAR",
	OpSetVar:    "SET_VAR",
	OpGetUpval:  "GET_UPVAL",
	OpSetUpval:  "SET_UPVAL",
	OpCall:      "CALL",
	OpClosure:   "CLOSURE",
	OpJump:      "JUMP",
	OpJumpFalse: "JUMP_FALSE",
	OpNewTable:  "NEW_TABLE",

	OpPop:        "POP",
	OpNil:        "NIL",
	OpTrue:       "TRUE",
	OpFalse:      "FALSE",
	OpAdd:        "ADD",
	OpSub:        "SUB",
	OpMult:       "MULT",
	OpMod:        "MOD",
	OpDiv:        "DIV",
	OpNeg:        "NEG",
	OpNot:        "NOT",
	OpEq:         "EQ",
	OpLt:         "LT",
	OpGt:         "GT",
	OpIndexGet:   "INDEX_GET",
	OpIndexSet:   "INDEX_SET",
	OpCloseUpval: "CLOSE_UPVAL",
	OpPrint:      "PRINT",
	OpReturn:     "RETURN",
}

var stackEffects = map[Opcode]int{
	OpLoadConst: 1, OpGetVar: 1, OpSetVar: 0, OpGetUpval: 1, OpSetUpval: 0,
	OpCall: -1, OpClosure: 1, OpJump: 0, OpJumpFalse: -1, OpNewTable: 1,
	OpPop: -1, OpNil: 1, OpTrue: 1, OpFalse: 1,
	OpAdd: -1, OpSub: -1, OpMult: -1, OpMod: -1, OpDiv: -1,
	OpNeg: 0, OpNot: 0, OpEq: -1, OpLt: -1, OpGt: -1,
	OpIndexGet: -1, OpIndexSet: -2, OpCloseUpval: -1, OpPrint: -1, OpReturn: -1,
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	name, ok := opcodeNames[op]
	if !ok {
		return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
	}
	info := OpcodeInfo{Name: name, StackEffect: stackEffects[op]}
	if op.HasOperand() {
		info.OperandBytes = OperandBytes
	}
	return info
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// LookupOpcode finds an opcode by its disassembly name, case-insensitively.
func LookupOpcode(name string) (Opcode, bool) {
	name = strings.ToUpper(name)
	for op, n := range opcodeNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	if r.pos >= len(r.bytes) {
		panic(internalErrorf("bytecode underflow at %d", r.pos))
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadUint16 reads a 16-bit operand (little-endian).
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic(internalErrorf("bytecode underflow at %d", r.pos))
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position and advances the reader. Constants are rendered with show when
// it is non-nil.
func DisassembleInstruction(r *BytecodeReader, constants []Value, show func(Value) string) string {
	pos := r.Position()
	op := r.ReadOpcode()
	name := op.Name()

	if !op.HasOperand() {
		return fmt.Sprintf("%04d  %s", pos, name)
	}
	if r.pos+OperandBytes > len(r.bytes) {
		r.pos = len(r.bytes)
		return fmt.Sprintf("%04d  %s <truncated>", pos, name)
	}
	operand := r.ReadUint16()

	switch op {
	case OpJump, OpJumpFalse:
		offset := int16(operand)
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, name, offset, target)
	case OpLoadConst, OpClosure:
		if show != nil && int(operand) < len(constants) {
			return fmt.Sprintf("%04d  %s %d ; %s", pos, name, operand, show(constants[operand]))
		}
	}
	return fmt.Sprintf("%04d  %s %d", pos, name, operand)
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	return disassemble(bc, nil, nil)
}

func disassemble(bc []byte, constants []Value, show func(Value) string) string {
	r := NewBytecodeReader(bc)
	var sb strings.Builder
	for r.HasMore() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(r, constants, show))
	}
	return sb.String()
}
