package vm

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// dispatch decodes and executes one instruction of the innermost frame.
func (vm *VM) dispatch() {
	frame := &vm.frames[vm.frameCount-1]
	fn := frame.Fn
	code := fn.Block.Code
	if frame.IP >= len(code) {
		panic(internalErrorf("%s: ip %d past end of code", fn.Name, frame.IP))
	}
	vm.instrStart = frame.IP
	op := Opcode(code[frame.IP])
	frame.IP++

	var operand int
	switch {
	case op >= Op1OperandStart && op <= Op1OperandEnd:
		if frame.IP+OperandBytes > len(code) {
			panic(internalErrorf("%s: truncated operand for %s at %d", fn.Name, op, vm.instrStart))
		}
		operand = int(binary.LittleEndian.Uint16(code[frame.IP:]))
		frame.IP += OperandBytes
	case op >= Op0OperandStart && op <= Op0OperandEnd:
	default:
		panic(internalErrorf("%s: unknown opcode 0x%02X at %d", fn.Name, byte(op), vm.instrStart))
	}

	if vm.profiler != nil {
		vm.profiler.RecordOp(op)
	}

	switch op {
	case OpLoadConst:
		vm.Push(vm.constant(fn, operand))

	case OpGetVar:
		vm.Push(vm.stack[vm.local(frame, operand)])

	case OpSetVar:
		vm.stack[vm.local(frame, operand)] = vm.Peek(0)

	case OpGetUpval:
		vm.Push(vm.heap.upvalueGet(vm.upvalueOf(fn, operand)))

	case OpSetUpval:
		vm.heap.upvalueSet(vm.upvalueOf(fn, operand), vm.Peek(0))

	case OpCall:
		vm.callValue(vm.Peek(operand), operand)

	case OpClosure:
		vm.closure(frame, operand)

	case OpJump:
		frame.IP += int(int16(operand))

	case OpJumpFalse:
		if vm.Pop().IsFalsy() {
			frame.IP += int(int16(operand))
		}

	case OpNewTable:
		vm.Push(vm.NewTable(operand))

	case OpPop:
		vm.Pop()

	case OpNil:
		vm.Push(Nil)

	case OpTrue:
		vm.Push(True)

	case OpFalse:
		vm.Push(False)

	case OpAdd:
		vm.add()

	case OpSub, OpMult, OpMod, OpDiv, OpLt, OpGt:
		vm.arith(op)

	case OpNeg:
		v := vm.Peek(0)
		if !v.IsNumber() {
			panic(vm.unaryError("-", v))
		}
		vm.stack[vm.sp-1] = FromNumber(-v.Number())

	case OpNot:
		vm.stack[vm.sp-1] = FromBool(vm.Peek(0).IsFalsy())

	case OpEq:
		b := vm.Pop()
		a := vm.Pop()
		vm.Push(FromBool(vm.heap.Equal(a, b)))

	case OpIndexGet:
		key := vm.Pop()
		t := vm.tableOperand(vm.Pop())
		vm.Push(t.Get(key))

	case OpIndexSet:
		val := vm.Pop()
		key := vm.Pop()
		t := vm.tableOperand(vm.Pop())
		if key == Nil {
			panic(&RuntimeError{Kind: ErrNilKey})
		}
		if isNaNKey(key) {
			panic(&RuntimeError{Kind: ErrNaNKey})
		}
		t.Set(key, val)
		vm.Push(val)

	case OpCloseUpval:
		vm.CloseUpvaluesUpto(vm.sp - 1)
		vm.Pop()

	case OpPrint:
		vm.Print(vm, vm.heap.ToString(vm.Pop()))

	case OpReturn:
		result := vm.Pop()
		vm.CloseUpvaluesUpto(frame.Base)
		vm.frameCount--
		vm.sp = frame.Base - 1
		vm.Push(result)
	}
}

func (vm *VM) constant(fn *Function, idx int) Value {
	consts := fn.Block.Constants
	if idx >= len(consts) {
		panic(internalErrorf("%s: constant %d out of range (%d)", fn.Name, idx, len(consts)))
	}
	return consts[idx]
}

func (vm *VM) local(frame *CallFrame, slot int) int {
	idx := frame.Base + slot
	if idx >= vm.sp {
		panic(internalErrorf("%s: local %d outside frame", frame.Fn.Name, slot))
	}
	return idx
}

func (vm *VM) upvalueOf(fn *Function, idx int) *Upvalue {
	if idx >= len(fn.Upvalues) {
		panic(internalErrorf("%s: upvalue %d out of range (%d)", fn.Name, idx, len(fn.Upvalues)))
	}
	return vm.heap.upvalue(fn.Upvalues[idx])
}

// closure instantiates a prototype constant. The new function is pushed
// before its upvalues are captured so a collection triggered by a capture
// sees it.
func (vm *VM) closure(frame *CallFrame, idx int) {
	proto := vm.heap.AsPrototype(vm.constant(frame.Fn, idx))
	if proto == nil {
		panic(internalErrorf("%s: CLOSURE constant %d is not a prototype", frame.Fn.Name, idx))
	}
	fn := newClosure(proto)
	vm.Push(vm.RegisterObject(fn))
	for i, c := range proto.Captures {
		if c.Local {
			fn.Upvalues[i] = vm.CaptureUpvalue(vm.local(frame, int(c.Index)))
		} else {
			if int(c.Index) >= len(frame.Fn.Upvalues) {
				panic(internalErrorf("%s: capture of upvalue %d out of range", proto.Name, c.Index))
			}
			fn.Upvalues[i] = frame.Fn.Upvalues[c.Index]
		}
	}
}

func (vm *VM) tableOperand(v Value) *Table {
	t := vm.heap.AsTable(v)
	if t == nil {
		panic(&RuntimeError{Kind: ErrNotIndexable, Left: vm.heap.TypeName(v)})
	}
	return t
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// add sums numbers and concatenates strings. Operands stay on the stack
// until the result exists.
func (vm *VM) add() {
	b, a := vm.Peek(0), vm.Peek(1)
	if a.IsNumber() && b.IsNumber() {
		vm.sp -= 2
		vm.Push(FromNumber(a.Number() + b.Number()))
		return
	}
	sa, sb := vm.heap.AsString(a), vm.heap.AsString(b)
	if sa == nil || sb == nil {
		panic(vm.binopError("+", "numbers or strings", a, b))
	}
	r := vm.concat(sa, sb)
	vm.sp -= 2
	vm.Push(r)
}

var arithSymbols = map[Opcode]string{
	OpSub:  "-",
	OpMult: "*",
	OpMod:  "%",
	OpDiv:  "/",
	OpLt:   "<",
	OpGt:   ">",
}

func (vm *VM) arith(op Opcode) {
	b, a := vm.Peek(0), vm.Peek(1)
	if !a.IsNumber() || !b.IsNumber() {
		panic(vm.binopError(arithSymbols[op], "numbers", a, b))
	}
	x, y := a.Number(), b.Number()
	var r Value
	switch op {
	case OpSub:
		r = FromNumber(x - y)
	case OpMult:
		r = FromNumber(x * y)
	case OpMod:
		r = FromNumber(math.Mod(x, y))
	case OpDiv:
		r = FromNumber(x / y)
	case OpLt:
		r = FromBool(x < y)
	case OpGt:
		r = FromBool(x > y)
	}
	vm.sp -= 2
	vm.Push(r)
}

func (vm *VM) binopError(op, expected string, a, b Value) *RuntimeError {
	return &RuntimeError{
		Kind:     ErrTypeMismatch,
		Op:       op,
		Left:     vm.heap.TypeName(a),
		Right:    vm.heap.TypeName(b),
		Expected: expected,
	}
}

func (vm *VM) unaryError(op string, v Value) *RuntimeError {
	return &RuntimeError{
		Kind:     ErrTypeMismatch,
		Op:       op,
		Left:     vm.heap.TypeName(v),
		Expected: "a number",
	}
}
