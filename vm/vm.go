package vm

import (
	"fmt"
	"os"
	"strconv"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("snap.vm")

// ---------------------------------------------------------------------------
// Host hooks
// ---------------------------------------------------------------------------

// PrintFn receives the text of every PRINT instruction.
type PrintFn func(vm *VM, s string)

// ErrorFn receives the formatted text of compile and runtime errors.
type ErrorFn func(vm *VM, message string)

// DefaultPrint writes s and a newline to stdout.
func DefaultPrint(_ *VM, s string) {
	fmt.Fprintln(os.Stdout, s)
}

// DefaultError writes message and a newline to stderr.
func DefaultError(_ *VM, message string) {
	fmt.Fprintln(os.Stderr, message)
}

// Compiler turns source text into a Block. The language front end lives
// outside this package; a VM without a compiler can still run Blocks.
type Compiler interface {
	Compile(vm *VM, name, source string) (*Block, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(vm *VM, name, source string) (*Block, error)

// Compile calls f.
func (f CompilerFunc) Compile(vm *VM, name, source string) (*Block, error) {
	return f(vm, name, source)
}

// ---------------------------------------------------------------------------
// CallFrame
// ---------------------------------------------------------------------------

// CallFrame is the execution state of one function activation.
type CallFrame struct {
	Fn   *Function
	IP   int // offset of the next instruction in Fn.Block.Code
	Base int // stack index of the first argument
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM is a single-threaded bytecode interpreter with its own heap.
type VM struct {
	opts Options

	heap      *Heap
	collector collector
	strings   *Table // intern table, weak in its keys

	stack []Value
	sp    int // next free slot

	frames     []CallFrame
	frameCount int
	instrStart int // IP of the instruction being executed

	openUpvalues Handle

	returnValue Value
	lastErr     *RuntimeError
	failed      bool

	keepAlive map[Handle]int
	blocks    map[*Block]struct{}
	gcCycles  uint64
	lastGC    *GCStats

	compiler Compiler
	profiler *Profiler

	// Print and LogError may be replaced before running.
	Print    PrintFn
	LogError ErrorFn

	// OnCollect, when set, observes every collection.
	OnCollect func(*GCStats)
}

// New creates a VM with the given options.
func New(opts Options) *VM {
	opts = opts.normalize()
	heap := newHeap(opts)
	vm := &VM{
		opts:        opts,
		heap:        heap,
		stack:       make([]Value, opts.StackSize),
		frames:      make([]CallFrame, opts.MaxFrames),
		returnValue: Nil,
		keepAlive:   make(map[Handle]int),
		blocks:      make(map[*Block]struct{}),
		Print:       DefaultPrint,
		LogError:    DefaultError,
	}
	for i := range vm.stack {
		vm.stack[i] = Nil
	}
	heap.stack = vm.stack
	vm.collector.heap = heap
	vm.strings = newTable(heap, 0)
	if opts.Profile {
		vm.profiler = NewProfiler()
	}
	return vm
}

// Options returns the configuration the VM was built with.
func (vm *VM) Options() Options { return vm.opts }

// Heap exposes the VM's object heap.
func (vm *VM) Heap() *Heap { return vm.heap }

// Profiler returns the profiler, or nil unless Options.Profile is set.
func (vm *VM) Profiler() *Profiler { return vm.profiler }

// UseCompiler installs the front end used by InterpretSource.
func (vm *VM) UseCompiler(c Compiler) { vm.compiler = c }

// ReturnValue is the value returned by the top-level function of the last
// completed program; Nil before that.
func (vm *VM) ReturnValue() Value { return vm.returnValue }

// LastError returns the runtime error that stopped the VM, if any.
func (vm *VM) LastError() *RuntimeError { return vm.lastErr }

// Done reports whether no program is executing: either none was loaded,
// it returned, or it failed.
func (vm *VM) Done() bool { return vm.frameCount == 0 || vm.failed }

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

// Push places v on the operand stack.
func (vm *VM) Push(v Value) {
	if vm.sp >= len(vm.stack) {
		panic(&RuntimeError{Kind: ErrStackOverflow})
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

// Pop removes and returns the top of the operand stack.
func (vm *VM) Pop() Value {
	if vm.sp == 0 {
		panic(&RuntimeError{Kind: ErrStackUnderflow})
	}
	vm.sp--
	return vm.stack[vm.sp]
}

// Peek returns the value depth slots below the top without removing it.
func (vm *VM) Peek(depth int) Value {
	if depth < 0 || depth >= vm.sp {
		panic(&RuntimeError{Kind: ErrStackUnderflow})
	}
	return vm.stack[vm.sp-1-depth]
}

// StackSize returns the number of values on the operand stack.
func (vm *VM) StackSize() int { return vm.sp }

// StackAt returns the value at absolute stack index i.
func (vm *VM) StackAt(i int) Value {
	if i < 0 || i >= vm.sp {
		return Nil
	}
	return vm.stack[i]
}

// FrameCount returns the number of active call frames.
func (vm *VM) FrameCount() int { return vm.frameCount }

// Frame returns a copy of frame i, where 0 is the outermost.
func (vm *VM) Frame(i int) CallFrame { return vm.frames[i] }

// ---------------------------------------------------------------------------
// Object construction
// ---------------------------------------------------------------------------

// InternString returns the unique string with the given contents,
// copying b if a new string has to be made.
func (vm *VM) InternString(b []byte) Value {
	if v, ok := vm.strings.FindString(b); ok {
		return v
	}
	return vm.intern(newStringCopy(b))
}

// NewString interns a Go string.
func (vm *VM) NewString(s string) Value {
	return vm.InternString([]byte(s))
}

// AdoptString interns buf, taking ownership of it when no equal string
// exists yet.
func (vm *VM) AdoptString(buf []byte) Value {
	if v, ok := vm.strings.FindString(buf); ok {
		return v
	}
	return vm.intern(adoptString(buf))
}

func (vm *VM) intern(s *String) Value {
	v := vm.RegisterObject(s)
	vm.strings.Set(v, Nil)
	return v
}

// concat interns left+right. Both operands must stay reachable until the
// result is registered.
func (vm *VM) concat(left, right *String) Value {
	s := concatStrings(left, right)
	if v, ok := vm.strings.FindString(s.chars); ok {
		return v
	}
	return vm.intern(s)
}

// NewTable allocates an empty table sized for capHint entries.
func (vm *VM) NewTable(capHint int) Value {
	return vm.RegisterObject(newTable(vm.heap, capHint))
}

// NewPrototype registers a prototype for use as a CLOSURE constant.
func (vm *VM) NewPrototype(name string, arity int, block *Block, captures ...Capture) Value {
	vm.RegisterBlock(block)
	return vm.RegisterObject(NewPrototype(name, arity, block, captures...))
}

// NewFunction wraps a block in a function with no upvalues.
func (vm *VM) NewFunction(name string, arity int, block *Block) Value {
	vm.RegisterBlock(block)
	return vm.RegisterObject(newFunction(name, arity, block))
}

// Equal compares two values with language semantics.
func (vm *VM) Equal(a, b Value) bool { return vm.heap.Equal(a, b) }

// TypeName returns the user-facing type name of v.
func (vm *VM) TypeName(v Value) string { return vm.heap.TypeName(v) }

// ToString renders v the way PRINT does.
func (vm *VM) ToString(v Value) string { return vm.heap.ToString(v) }

// Disassemble renders block with its constants resolved.
func (vm *VM) Disassemble(block *Block) string {
	return disassemble(block.Code, block.Constants, func(v Value) string {
		if s := vm.heap.AsString(v); s != nil {
			return strconv.Quote(s.Go())
		}
		return vm.heap.ToString(v)
	})
}

// ---------------------------------------------------------------------------
// Loading and running
// ---------------------------------------------------------------------------

// Load prepares block as the top-level program. Any previous program state
// is discarded.
func (vm *VM) Load(block *Block) error {
	vm.reset()
	return vm.Protect(func() {
		vm.RegisterBlock(block)
		name := block.Name
		if name == "" {
			name = "main"
		}
		fn := newFunction(name, 0, block)
		vm.Push(vm.RegisterObject(fn))
		vm.callFunction(fn, 0)
		vmLog.Debugf("loaded %s: %d bytes of code, %d constants", name, len(block.Code), len(block.Constants))
	})
}

func (vm *VM) reset() {
	vm.CloseUpvaluesUpto(0)
	vm.sp = 0
	vm.frameCount = 0
	vm.returnValue = Nil
	vm.lastErr = nil
	vm.failed = false
}

// Interpret loads and runs block to completion.
func (vm *VM) Interpret(block *Block) ExitCode {
	if err := vm.Load(block); err != nil {
		vm.report(err)
		return ExitRuntimeError
	}
	return vm.Run(true)
}

// InterpretSource compiles source with the installed compiler and runs it.
func (vm *VM) InterpretSource(name, source string) ExitCode {
	if vm.compiler == nil {
		vm.LogError(vm, "no compiler configured")
		return ExitCompileError
	}
	block, err := vm.compiler.Compile(vm, name, source)
	if err != nil {
		vm.LogError(vm, err.Error())
		return ExitCompileError
	}
	return vm.Interpret(block)
}

// Run executes the loaded program. With runTillEnd it runs to completion
// or to the first runtime error; otherwise it executes one instruction.
func (vm *VM) Run(runTillEnd bool) ExitCode {
	if runTillEnd {
		return vm.resume(-1)
	}
	return vm.resume(1)
}

// Step executes at most count instructions.
func (vm *VM) Step(count int) ExitCode {
	if count <= 0 {
		if vm.failed {
			return ExitRuntimeError
		}
		return ExitSuccess
	}
	return vm.resume(count)
}

func (vm *VM) resume(budget int) (code ExitCode) {
	if vm.failed {
		return ExitRuntimeError
	}
	if vm.frameCount == 0 {
		return ExitSuccess
	}
	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(*RuntimeError)
			if !ok {
				panic(r)
			}
			vm.fail(rerr)
			code = ExitRuntimeError
		}
	}()
	if vm.execute(0, budget) {
		vm.returnValue = vm.Pop()
		vmLog.Debugf("program returned %s", vm.heap.ToString(vm.returnValue))
	}
	return ExitSuccess
}

// execute runs up to budget instructions (unbounded when negative) and
// reports whether the frame depth dropped to stop.
func (vm *VM) execute(stop, budget int) bool {
	for budget != 0 {
		if vm.frameCount <= stop {
			return true
		}
		vm.dispatch()
		if budget > 0 {
			budget--
		}
	}
	return vm.frameCount <= stop
}

// Call invokes callee with args on top of whatever is executing and runs
// until it returns. Runtime errors come back as *RuntimeError and leave
// the VM state as it was before the call.
func (vm *VM) Call(callee Value, args ...Value) (result Value, err error) {
	depth, base := vm.frameCount, vm.sp
	err = vm.Protect(func() {
		vm.Push(callee)
		for _, a := range args {
			vm.Push(a)
		}
		vm.callValue(callee, len(args))
		vm.execute(depth, -1)
		result = vm.Pop()
	})
	if err != nil {
		vm.CloseUpvaluesUpto(base)
		vm.frameCount = depth
		vm.sp = base
		return Nil, err
	}
	vm.sp = base
	return result, nil
}

// Protect runs fn, converting a RuntimeError panic into a returned error.
// Host code that allocates outside Run can use it to catch heap
// exhaustion.
func (vm *VM) Protect(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(*RuntimeError)
			if !ok {
				panic(r)
			}
			vm.locate(rerr)
			err = rerr
		}
	}()
	fn()
	return nil
}

// fail records err as the reason execution stopped and reports it.
func (vm *VM) fail(err *RuntimeError) {
	vm.locate(err)
	vm.lastErr = err
	vm.failed = true
	vmLog.Debugf("runtime error: %s", err.Error())
	vm.report(err)
}

func (vm *VM) report(err error) {
	vm.LogError(vm, err.Error())
}

// locate fills in the frame information of err from the call stack.
func (vm *VM) locate(err *RuntimeError) {
	if err.Stack != nil || vm.frameCount == 0 {
		return
	}
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		ip := f.IP - 1
		if i == vm.frameCount-1 {
			ip = vm.instrStart
		}
		err.Stack = append(err.Stack, FrameInfo{
			Function: f.Fn.Name,
			Line:     f.Fn.Block.Line(ip),
			IP:       ip,
		})
	}
	err.Frame = err.Stack[0]
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (vm *VM) callValue(callee Value, argc int) {
	fn := vm.heap.AsFunction(callee)
	if fn == nil {
		panic(&RuntimeError{Kind: ErrNotCallable, Left: vm.heap.TypeName(callee)})
	}
	vm.callFunction(fn, argc)
}

// callFunction pushes a frame whose base is the first of the argc
// arguments already on the stack.
func (vm *VM) callFunction(fn *Function, argc int) {
	if argc != fn.Arity {
		panic(&RuntimeError{Kind: ErrArity, Want: fn.Arity, Got: argc})
	}
	if vm.frameCount == len(vm.frames) {
		panic(&RuntimeError{Kind: ErrCallStackOverflow})
	}
	vm.assert(vm.sp-argc >= 1, "call base %d below callee slot", vm.sp-argc)
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.Fn = fn
	frame.IP = 0
	frame.Base = vm.sp - argc
	if vm.profiler != nil {
		vm.profiler.RecordCall(fn)
	}
}
