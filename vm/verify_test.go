package vm

import (
	"errors"
	"strings"
	"testing"
)

func TestVerifyAcceptsBuilderOutput(t *testing.T) {
	b := NewBlockBuilder("ok")
	b.EmitNumber(1)
	end := b.NewLabel()
	b.EmitJump(OpJumpFalse, end)
	b.Emit(OpNil)
	b.Mark(end)
	b.Emit(OpNil)
	b.Emit(OpReturn)
	if err := b.Build().Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	tests := []struct {
		name  string
		block *Block
		want  string
	}{
		{
			"unknown opcode",
			&Block{Code: []byte{0xFF}},
			"unknown opcode 0xFF",
		},
		{
			"truncated operand",
			&Block{Code: []byte{byte(OpGetVar), 0}},
			"truncated operand",
		},
		{
			"constant out of range",
			&Block{Code: []byte{byte(OpLoadConst), 3, 0}},
			"constant 3 out of range",
		},
		{
			"jump into operand",
			&Block{Code: []byte{byte(OpJump), 0xFE, 0xFF, byte(OpReturn)}},
			"jump target 1",
		},
		{
			"jump to end of code",
			&Block{Code: []byte{byte(OpNil), byte(OpJump), 0, 0}},
			"jump target 4",
		},
		{
			"falls off the end",
			&Block{Code: []byte{byte(OpLoadConst), 0, 0}, Constants: []Value{FromNumber(1)}},
			"LOAD_CONST falls off the end",
		},
		{
			"empty code",
			&Block{},
			"empty code",
		},
		{
			"line table size",
			&Block{Code: []byte{byte(OpNil), byte(OpReturn)}, Lines: []int{1}},
			"line entries",
		},
	}
	for _, tt := range tests {
		err := tt.block.Verify()
		var verr *VerifyError
		if !errors.As(err, &verr) {
			t.Errorf("%s: Verify = %v, want *VerifyError", tt.name, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: Verify = %q, want it to mention %q", tt.name, err, tt.want)
		}
	}
}
