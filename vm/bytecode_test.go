package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeRanges(t *testing.T) {
	if Op1OperandEnd >= Op0OperandStart {
		t.Fatalf("operand ranges overlap: one-operand ends at %d, zero-operand starts at %d",
			Op1OperandEnd, Op0OperandStart)
	}
	for op := Op1OperandStart; op <= Op1OperandEnd; op++ {
		info := op.Info()
		if strings.HasPrefix(info.Name, "UNKNOWN_") {
			t.Errorf("0x%02X inside one-operand range has no name", byte(op))
		}
		if !op.HasOperand() || info.OperandBytes != OperandBytes {
			t.Errorf("%s: OperandBytes = %d, want %d", op, info.OperandBytes, OperandBytes)
		}
	}
	for op := Op0OperandStart; op <= Op0OperandEnd; op++ {
		info := op.Info()
		if strings.HasPrefix(info.Name, "UNKNOWN_") {
			t.Errorf("0x%02X inside zero-operand range has no name", byte(op))
		}
		if op.HasOperand() || info.OperandBytes != 0 {
			t.Errorf("%s: OperandBytes = %d, want 0", op, info.OperandBytes)
		}
	}
}

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op           Opcode
		name         string
		operandBytes int
	}{
		{OpLoadConst, "LOAD_CONST", 2},
		{OpGetVar, "GET_VAR", 2},
		{OpCall, "CALL", 2},
		{OpJumpFalse, "JUMP_FALSE", 2},
		{OpPop, "POP", 0},
		{OpAdd, "ADD", 0},
		{OpMod, "MOD", 0},
		{OpReturn, "RETURN", 0},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%s: Name = %q, want %q", tt.op, info.Name, tt.name)
		}
		if info.OperandBytes != tt.operandBytes {
			t.Errorf("%s: OperandBytes = %d, want %d", tt.op, info.OperandBytes, tt.operandBytes)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0xFF)
	if op.IsValid() {
		t.Error("0xFF should not be a valid opcode")
	}
	if !strings.HasPrefix(op.Info().Name, "UNKNOWN_") {
		t.Errorf("unknown opcode should have UNKNOWN_ prefix, got %q", op.Info().Name)
	}
}

func TestLookupOpcode(t *testing.T) {
	op, ok := LookupOpcode("load_const")
	if !ok || op != OpLoadConst {
		t.Errorf("LookupOpcode(load_const) = %v, %v", op, ok)
	}
	if _, ok := LookupOpcode("frobnicate"); ok {
		t.Error("LookupOpcode should reject unknown names")
	}
}

// ---------------------------------------------------------------------------
// BlockBuilder tests
// ---------------------------------------------------------------------------

func TestBlockBuilderEmit(t *testing.T) {
	b := NewBlockBuilder("test")
	b.Emit(OpNil)
	b.EmitUint16(OpGetVar, 0x1234)
	b.SetLine(7)
	b.Emit(OpReturn)
	block := b.Build()

	want := []byte{byte(OpNil), byte(OpGetVar), 0x34, 0x12, byte(OpReturn)}
	if string(block.Code) != string(want) {
		t.Errorf("Code = %v, want %v", block.Code, want)
	}
	if len(block.Lines) != len(block.Code) {
		t.Fatalf("len(Lines) = %d, want %d", len(block.Lines), len(block.Code))
	}
	if block.Line(0) != 1 || block.Line(4) != 7 {
		t.Errorf("lines = %v, want 1 for first byte and 7 for last", block.Lines)
	}
	if block.Line(99) != 0 {
		t.Error("Line past the end should be 0")
	}
}

func TestBlockBuilderRejectsMissingOperand(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Emit(OpLoadConst) should panic")
		}
	}()
	NewBlockBuilder("test").Emit(OpLoadConst)
}

func TestBlockBuilderConstants(t *testing.T) {
	b := NewBlockBuilder("test")
	b.EmitNumber(1)
	b.EmitNumber(2)
	block := b.Build()
	if len(block.Constants) != 2 {
		t.Fatalf("len(Constants) = %d, want 2", len(block.Constants))
	}
	if block.Constants[1].Number() != 2 {
		t.Errorf("Constants[1] = %v, want 2", block.Constants[1].Number())
	}
	if block.Code[4] != 1 {
		t.Errorf("second LOAD_CONST operand = %d, want 1", block.Code[4])
	}
}

func TestForwardJump(t *testing.T) {
	b := NewBlockBuilder("test")
	end := b.NewLabel()
	b.EmitJump(OpJump, end)
	b.Emit(OpNil)
	b.Emit(OpNil)
	b.Mark(end)
	b.Emit(OpReturn)

	code := b.Build().Code
	offset := int16(uint16(code[1]) | uint16(code[2])<<8)
	if offset != 2 {
		t.Errorf("forward offset = %d, want 2", offset)
	}
}

func TestBackwardJump(t *testing.T) {
	b := NewBlockBuilder("test")
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(OpNil)
	b.EmitJump(OpJump, top)

	code := b.Build().Code
	offset := int16(uint16(code[2]) | uint16(code[3])<<8)
	if offset != -4 {
		t.Errorf("backward offset = %d, want -4", offset)
	}
}

// ---------------------------------------------------------------------------
// Disassembly tests
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	b := NewBlockBuilder("test")
	b.EmitNumber(2)
	end := b.NewLabel()
	b.EmitJump(OpJumpFalse, end)
	b.Mark(end)
	b.Emit(OpReturn)

	got := Disassemble(b.Build().Code)
	want := strings.Join([]string{
		"0000  LOAD_CONST 0",
		"0003  JUMP_FALSE 0 (-> 0006)",
		"0006  RETURN",
	}, "\n")
	if got != want {
		t.Errorf("Disassemble =\n%s\nwant\n%s", got, want)
	}
}

func TestDisassembleWithConstants(t *testing.T) {
	v := New(DefaultOptions())
	b := NewBlockBuilder("test")
	b.EmitConstant(v.NewString("hi"))
	b.EmitNumber(2.5)
	b.Emit(OpReturn)

	got := v.Disassemble(b.Build())
	if !strings.Contains(got, `LOAD_CONST 0 ; "hi"`) {
		t.Errorf("missing string constant in:\n%s", got)
	}
	if !strings.Contains(got, "LOAD_CONST 1 ; 2.5") {
		t.Errorf("missing number constant in:\n%s", got)
	}
}

func TestDisassembleTruncated(t *testing.T) {
	got := Disassemble([]byte{byte(OpLoadConst), 0x01})
	if !strings.Contains(got, "<truncated>") {
		t.Errorf("Disassemble = %q, want truncated marker", got)
	}
}
