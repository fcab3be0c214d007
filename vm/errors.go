package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Exit codes
// ---------------------------------------------------------------------------

// ExitCode is the outcome of running a program.
type ExitCode int

const (
	ExitSuccess ExitCode = iota
	ExitCompileError
	ExitRuntimeError
)

func (c ExitCode) String() string {
	switch c {
	case ExitSuccess:
		return "success"
	case ExitCompileError:
		return "compile error"
	case ExitRuntimeError:
		return "runtime error"
	default:
		return fmt.Sprintf("ExitCode(%d)", int(c))
	}
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// ErrorKind classifies a RuntimeError.
type ErrorKind int

const (
	ErrTypeMismatch ErrorKind = iota + 1
	ErrArity
	ErrCallStackOverflow
	ErrStackOverflow
	ErrStackUnderflow
	ErrNotCallable
	ErrNotIndexable
	ErrNilKey
	ErrNaNKey
	ErrOutOfMemory
)

var errorKindNames = map[ErrorKind]string{
	ErrTypeMismatch:      "type mismatch",
	ErrArity:             "arity mismatch",
	ErrCallStackOverflow: "call stack overflow",
	ErrStackOverflow:     "operand stack overflow",
	ErrStackUnderflow:    "operand stack underflow",
	ErrNotCallable:       "not callable",
	ErrNotIndexable:      "not indexable",
	ErrNilKey:            "nil key",
	ErrNaNKey:            "NaN key",
	ErrOutOfMemory:       "out of memory",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// FrameInfo locates one active call.
type FrameInfo struct {
	Function string
	Line     int
	IP       int
}

func (f FrameInfo) String() string {
	return fmt.Sprintf("[line %d] in %s", f.Line, f.Function)
}

// RuntimeError is a recoverable error raised while executing bytecode.
// Structured fields are filled according to Kind; Error renders them.
type RuntimeError struct {
	Kind ErrorKind

	// ErrTypeMismatch: operator, operand type names and what was expected.
	// Right is empty for unary operators. ErrNotCallable and
	// ErrNotIndexable report the offending type in Left.
	Op       string
	Left     string
	Right    string
	Expected string

	// ErrArity: parameter count and argument count. ErrOutOfMemory: the
	// heap limit in Want.
	Want int
	Got  int

	Frame FrameInfo   // innermost frame
	Stack []FrameInfo // innermost first
}

// Message returns the error text without location.
func (e *RuntimeError) Message() string {
	switch e.Kind {
	case ErrTypeMismatch:
		if e.Right == "" {
			return fmt.Sprintf("operand of '%s' must be %s, got %s", e.Op, e.Expected, e.Left)
		}
		return fmt.Sprintf("operands of '%s' must be %s, got %s and %s", e.Op, e.Expected, e.Left, e.Right)
	case ErrArity:
		return fmt.Sprintf("expected %d arguments but got %d", e.Want, e.Got)
	case ErrNotCallable:
		return fmt.Sprintf("cannot call a %s", e.Left)
	case ErrNotIndexable:
		return fmt.Sprintf("cannot index a %s", e.Left)
	case ErrNilKey:
		return "table key cannot be nil"
	case ErrNaNKey:
		return "table key cannot be NaN"
	case ErrOutOfMemory:
		return fmt.Sprintf("out of memory: heap limit of %d bytes exceeded", e.Want)
	default:
		return e.Kind.String()
	}
}

func (e *RuntimeError) Error() string {
	if e.Frame.Function == "" {
		return e.Message()
	}
	return fmt.Sprintf("%s: %s", e.Frame, e.Message())
}

// Trace renders the error followed by the call stack.
func (e *RuntimeError) Trace() string {
	var sb strings.Builder
	sb.WriteString(e.Message())
	for _, f := range e.Stack {
		sb.WriteString("\n  ")
		sb.WriteString(f.String())
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Internal errors
// ---------------------------------------------------------------------------

// InternalError reports a broken VM invariant: an unknown opcode, a stale
// handle, a failed assertion. It is raised with panic and never recovered
// by the VM.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "snap: internal error: " + e.Message
}

func internalErrorf(format string, args ...any) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

// assert panics with an InternalError when assertions are enabled and cond
// is false.
func (vm *VM) assert(cond bool, format string, args ...any) {
	if vm.opts.Assertions && !cond {
		panic(internalErrorf("assertion failed: "+format, args...))
	}
}
