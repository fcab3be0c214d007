package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Block: compiled bytecode unit
// ---------------------------------------------------------------------------

// Block is the unit the compiler hands to the VM: instructions, the
// constant pool they index, and the source line of every code byte.
type Block struct {
	Name      string
	Code      []byte
	Constants []Value
	Lines     []int
}

// Line returns the source line for the instruction at ip, or 0.
func (b *Block) Line(ip int) int {
	if ip >= 0 && ip < len(b.Lines) {
		return b.Lines[ip]
	}
	return 0
}

// ---------------------------------------------------------------------------
// BlockBuilder: helper for constructing blocks
// ---------------------------------------------------------------------------

// BlockBuilder assembles a Block instruction by instruction.
type BlockBuilder struct {
	block *Block
	line  int
}

// NewBlockBuilder creates a builder for a block with the given name.
func NewBlockBuilder(name string) *BlockBuilder {
	return &BlockBuilder{
		block: &Block{
			Name: name,
			Code: make([]byte, 0, 64),
		},
		line: 1,
	}
}

// Block returns the block under construction. The same pointer is
// returned by Build, so it can be registered with a VM early to keep its
// constants alive while they are being created.
func (b *BlockBuilder) Block() *Block {
	return b.block
}

// Build returns the finished block.
func (b *BlockBuilder) Build() *Block {
	return b.block
}

// Len returns the current code length.
func (b *BlockBuilder) Len() int {
	return len(b.block.Code)
}

// SetLine sets the source line recorded for subsequently emitted bytes.
func (b *BlockBuilder) SetLine(line int) {
	b.line = line
}

func (b *BlockBuilder) emitBytes(bs ...byte) {
	b.block.Code = append(b.block.Code, bs...)
	for range bs {
		b.block.Lines = append(b.block.Lines, b.line)
	}
}

// Emit appends an opcode with no operands.
func (b *BlockBuilder) Emit(op Opcode) {
	if op.HasOperand() {
		panic(fmt.Sprintf("%s needs an operand", op))
	}
	b.emitBytes(byte(op))
}

// EmitRaw appends a raw byte to the bytecode.
func (b *BlockBuilder) EmitRaw(data byte) {
	b.emitBytes(data)
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BlockBuilder) EmitUint16(op Opcode, operand uint16) {
	if !op.HasOperand() {
		panic(fmt.Sprintf("%s takes no operand", op))
	}
	b.emitBytes(byte(op), byte(operand), byte(operand>>8))
}

// AddConstant appends v to the constant pool and returns its index.
func (b *BlockBuilder) AddConstant(v Value) uint16 {
	if len(b.block.Constants) > math.MaxUint16 {
		panic("too many constants in one block")
	}
	b.block.Constants = append(b.block.Constants, v)
	return uint16(len(b.block.Constants) - 1)
}

// EmitConstant adds v to the pool and emits LOAD_CONST for it.
func (b *BlockBuilder) EmitConstant(v Value) {
	b.EmitUint16(OpLoadConst, b.AddConstant(v))
}

// EmitNumber emits LOAD_CONST for a number.
func (b *BlockBuilder) EmitNumber(f float64) {
	b.EmitConstant(FromNumber(f))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a jump target that may not be known yet.
type Label struct {
	resolved bool
	position int   // target once resolved
	refs     []int // operand positions waiting for the target
}

// NewLabel creates an unresolved label.
func (b *BlockBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BlockBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.block.Code)

	for _, ref := range label.refs {
		b.patchJump(ref, label.position)
	}
	label.refs = nil
}

// EmitJump emits a jump instruction to a label.
func (b *BlockBuilder) EmitJump(op Opcode, label *Label) {
	b.emitBytes(byte(op))
	ref := len(b.block.Code)
	b.emitBytes(0, 0)
	if label.resolved {
		b.patchJump(ref, label.position)
	} else {
		label.refs = append(label.refs, ref)
	}
}

// patchJump writes the offset from the byte after the operand at ref.
func (b *BlockBuilder) patchJump(ref, target int) {
	offset := target - (ref + OperandBytes)
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		panic(fmt.Sprintf("jump offset %d out of range", offset))
	}
	b.block.Code[ref] = byte(offset)
	b.block.Code[ref+1] = byte(offset >> 8)
}
