package vm

import (
	"encoding/binary"
	"fmt"
)

// VerifyError reports malformed bytecode found by Block.Verify.
type VerifyError struct {
	Block  string
	Offset int
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify %s at %04d: %s", e.Block, e.Offset, e.Reason)
}

// Verify checks that b decodes cleanly: every opcode is known, no operand
// is cut off, constant operands index the pool, jumps land on an
// instruction boundary and execution cannot run past the last instruction. Blocks loaded from outside the process should be
// verified before they run, since the interpreter treats the same faults
// as internal errors.
func (b *Block) Verify() error {
	fail := func(off int, format string, args ...any) error {
		return &VerifyError{Block: b.Name, Offset: off, Reason: fmt.Sprintf(format, args...)}
	}
	if len(b.Lines) != 0 && len(b.Lines) != len(b.Code) {
		return fail(0, "%d line entries for %d code bytes", len(b.Lines), len(b.Code))
	}

	starts := make(map[int]bool)
	type jump struct{ at, target int }
	var jumps []jump
	last, lastAt := Opcode(0), 0

	for pc := 0; pc < len(b.Code); {
		starts[pc] = true
		lastAt = pc
		op := Opcode(b.Code[pc])
		if !op.IsValid() {
			return fail(pc, "unknown opcode 0x%02X", byte(op))
		}
		last = op
		if !op.HasOperand() {
			pc++
			continue
		}
		if pc+1+OperandBytes > len(b.Code) {
			return fail(pc, "truncated operand for %s", op)
		}
		operand := binary.LittleEndian.Uint16(b.Code[pc+1:])
		next := pc + 1 + OperandBytes
		switch op {
		case OpLoadConst, OpClosure:
			if int(operand) >= len(b.Constants) {
				return fail(pc, "%s constant %d out of range (%d)", op, operand, len(b.Constants))
			}
		case OpJump, OpJumpFalse:
			jumps = append(jumps, jump{pc, next + int(int16(operand))})
		}
		pc = next
	}

	if len(b.Code) == 0 {
		return fail(0, "empty code")
	}
	if last != OpReturn && last != OpJump {
		return fail(lastAt, "%s falls off the end of the code", last)
	}
	for _, j := range jumps {
		if !starts[j.target] {
			return fail(j.at, "jump target %d is not an instruction", j.target)
		}
	}
	return nil
}
