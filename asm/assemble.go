// Package asm is a textual assembler for snap bytecode. It is the front
// end the snap command installs on the VM, and doubles as a convenient
// way to write VM tests and fixtures.
//
// A file is a sequence of lines. Top-level instructions form the main
// block; .func and .proto directives open named units closed by .end:
//
//	.proto counter 0
//	.capture local 0
//	    get_upval 0
//	    load_const 1
//	    add
//	    set_upval 0
//	    return
//	.end
//
//	    load_const 0
//	    closure counter
//	    call 0
//	    print
//
// LOAD_CONST takes a number, string, true, false, nil or a unit name.
// CLOSURE takes a .proto name and jumps take a label defined as "name:".
// Every other operand is an integer. A unit that does not end in RETURN,
// or ends in a label, gets an implicit "nil; return".
package asm

import (
	"fmt"
	"strings"

	"github.com/chazu/snap/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("snap.asm")

// Error reports every problem found in one source file.
type Error struct {
	Name   string
	Errors []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, strings.Join(e.Errors, "; "))
}

// Compiler installs the assembler as a VM front end.
type Compiler struct{}

// Compile implements vm.Compiler.
func (Compiler) Compile(v *vm.VM, name, source string) (*vm.Block, error) {
	return Assemble(v, name, source)
}

var _ vm.Compiler = Compiler{}

// Assemble translates source into a Block registered with v.
func Assemble(v *vm.VM, name, source string) (*vm.Block, error) {
	if name == "" {
		name = "main"
	}
	prog, errs := Parse(source, name)
	if len(errs) > 0 {
		return nil, &Error{Name: name, Errors: errs}
	}

	a := &assembler{
		v:        v,
		prog:     prog,
		builders: make(map[*Unit]*vm.BlockBuilder),
		objects:  make(map[string]unitObject),
	}
	block, err := a.run()
	if err != nil {
		return nil, err
	}
	log.Debugf("assembled %s: %d units", name, len(prog.Units)+1)
	return block, nil
}

// ---------------------------------------------------------------------------
// Code generation
// ---------------------------------------------------------------------------

type unitObject struct {
	kind  UnitKind
	value vm.Value
}

type assembler struct {
	v        *vm.VM
	prog     *Program
	builders map[*Unit]*vm.BlockBuilder
	objects  map[string]unitObject
	errors   []string
}

func (a *assembler) errorf(line int, format string, args ...interface{}) {
	a.errors = append(a.errors, fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...)))
}

func (a *assembler) run() (*vm.Block, error) {
	units := append([]*Unit{a.prog.Main}, a.prog.Units...)

	// Every block is registered before any object exists so constants
	// are rooted the moment they are added.
	for _, u := range units {
		b := vm.NewBlockBuilder(u.Name)
		a.v.RegisterBlock(b.Block())
		a.builders[u] = b
	}

	perr := a.v.Protect(func() {
		defer a.releaseObjects()
		a.createObjects()
		if len(a.errors) > 0 {
			return
		}
		for _, u := range units {
			a.emitUnit(u)
		}
	})
	if perr != nil {
		return nil, fmt.Errorf("%s: %w", a.prog.Main.Name, perr)
	}
	if len(a.errors) > 0 {
		return nil, &Error{Name: a.prog.Main.Name, Errors: a.errors}
	}

	for _, u := range units {
		if err := a.builders[u].Build().Verify(); err != nil {
			return nil, err
		}
	}
	return a.builders[a.prog.Main].Build(), nil
}

// createObjects makes the function or prototype for every named unit up
// front, so units may reference each other and themselves in any order.
func (a *assembler) createObjects() {
	for _, u := range a.prog.Units {
		if u.Name == a.prog.Main.Name {
			a.errorf(u.Line, "%s redefines the main block", u.Name)
			continue
		}
		if _, dup := a.objects[u.Name]; dup {
			a.errorf(u.Line, "duplicate unit %s", u.Name)
			continue
		}
		block := a.builders[u].Block()
		var val vm.Value
		if u.Kind == UnitProto {
			val = a.v.NewPrototype(u.Name, u.Arity, block, u.Captures...)
		} else {
			val = a.v.NewFunction(u.Name, u.Arity, block)
		}
		a.v.KeepAlive(val)
		a.objects[u.Name] = unitObject{kind: u.Kind, value: val}
	}
}

// releaseObjects drops the temporary pins. Objects that ended up in a
// constant pool stay reachable through their registered block.
func (a *assembler) releaseObjects() {
	for _, obj := range a.objects {
		a.v.Release(obj.value)
	}
}

func (a *assembler) emitUnit(u *Unit) {
	b := a.builders[u]

	labels := make(map[string]*vm.Label)
	for _, st := range u.Stmts {
		if st.Label == "" {
			continue
		}
		if _, dup := labels[st.Label]; dup {
			a.errorf(st.SrcLine, "duplicate label %s in %s", st.Label, u.Name)
			continue
		}
		labels[st.Label] = b.NewLabel()
	}

	consts := make(map[vm.Value]uint16)
	constant := func(v vm.Value) uint16 {
		if k, ok := consts[v]; ok {
			return k
		}
		k := b.AddConstant(v)
		consts[v] = k
		return k
	}

	marked := make(map[string]bool)
	last := vm.Opcode(0)
	labelAtEnd := false
	line := u.Line
	for _, st := range u.Stmts {
		if st.Label != "" {
			if !marked[st.Label] {
				marked[st.Label] = true
				l := labels[st.Label]
				a.guard(st.SrcLine, func() { b.Mark(l) })
				labelAtEnd = true
			}
			continue
		}
		labelAtEnd = false
		line = st.Line
		b.SetLine(st.Line)
		last = st.Op

		switch st.Op {
		case vm.OpLoadConst:
			v, ok := a.constantValue(st)
			if ok {
				b.EmitUint16(vm.OpLoadConst, constant(v))
			}
		case vm.OpClosure:
			obj, ok := a.objects[st.Operand.String]
			if !ok || obj.kind != UnitProto {
				a.errorf(st.SrcLine, "closure needs a .proto name, got %s", st.Operand.String)
				continue
			}
			b.EmitUint16(vm.OpClosure, constant(obj.value))
		case vm.OpJump, vm.OpJumpFalse:
			l, ok := labels[st.Operand.String]
			if !ok {
				a.errorf(st.SrcLine, "undefined label %s in %s", st.Operand.String, u.Name)
				continue
			}
			a.guard(st.SrcLine, func() { b.EmitJump(st.Op, l) })
		default:
			if st.Op.HasOperand() {
				b.EmitUint16(st.Op, st.Operand.Int)
			} else {
				b.Emit(st.Op)
			}
		}
	}

	// A label after the last instruction needs code to land on.
	if last != vm.OpReturn || labelAtEnd {
		b.SetLine(line)
		b.Emit(vm.OpNil)
		b.Emit(vm.OpReturn)
	}
}

// guard turns a builder panic, such as a jump offset that does not fit
// in 16 bits, into an error on line.
func (a *assembler) guard(line int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.errorf(line, "%v", r)
		}
	}()
	fn()
}

func (a *assembler) constantValue(st Stmt) (vm.Value, bool) {
	op := st.Operand
	switch op.Kind {
	case OperandNumber:
		return vm.FromNumber(op.Number), true
	case OperandString:
		return a.v.NewString(op.String), true
	case OperandBool:
		return vm.FromBool(op.Bool), true
	case OperandNil:
		return vm.Nil, true
	case OperandName:
		if obj, ok := a.objects[op.String]; ok {
			return obj.value, true
		}
		a.errorf(st.SrcLine, "undefined function %s", op.String)
	}
	return vm.Nil, false
}
