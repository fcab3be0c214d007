package vm

import "fmt"

// ---------------------------------------------------------------------------
// Debugger: breakpoints and stepping on top of single-step execution
// ---------------------------------------------------------------------------

// Debugger drives a VM one instruction at a time, stopping at breakpoints
// and at step boundaries. It runs on the mutator goroutine; every method
// returns when execution stops.
type Debugger struct {
	vm          *VM
	breakpoints map[breakpointKey]bool

	// Breakpoint location each active frame last stopped at, indexed by
	// frame depth, so Continue does not stop on the same line of the same
	// frame twice in a row.
	stops []breakpointKey
}

// breakpointKey uniquely identifies a breakpoint location.
type breakpointKey struct {
	function string
	line     int
}

// StepMode indicates how far a step runs.
type StepMode int

const (
	StepInto StepMode = iota // stop at the next line in any frame
	StepOver                 // stop at the next line in this frame or a caller
	StepOut                  // stop once the current frame has returned
)

// DebugEvent describes why execution stopped.
type DebugEvent struct {
	Type     string // "breakpointHit", "stopped", "exception", "terminated"
	Reason   string
	Location *SourceLocation
}

// SourceLocation represents a position in source code.
type SourceLocation struct {
	Function string
	Line     int
	IP       int
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	ID       int // 0 is the outermost frame
	Function string
	Line     int
	IP       int
}

// Variable represents a stack slot for inspection.
type Variable struct {
	Name  string
	Value string
	Type  string
}

// Breakpoint represents a breakpoint for external clients.
type Breakpoint struct {
	Function string
	Line     int
	Active   bool
}

// NewDebugger creates a debugger attached to vm.
func NewDebugger(vm *VM) *Debugger {
	return &Debugger{
		vm:          vm,
		breakpoints: make(map[breakpointKey]bool),
	}
}

// ---------------------------------------------------------------------------
// Breakpoint management
// ---------------------------------------------------------------------------

// SetBreakpoint stops execution when a function reaches line.
func (d *Debugger) SetBreakpoint(function string, line int) {
	d.breakpoints[breakpointKey{function, line}] = true
}

// RemoveBreakpoint removes a breakpoint.
// Returns an error if no breakpoint exists at that location.
func (d *Debugger) RemoveBreakpoint(function string, line int) error {
	key := breakpointKey{function, line}
	if _, exists := d.breakpoints[key]; !exists {
		return fmt.Errorf("no breakpoint at %s line %d", function, line)
	}
	delete(d.breakpoints, key)
	return nil
}

// DisableBreakpoint keeps a breakpoint but stops honoring it.
func (d *Debugger) DisableBreakpoint(function string, line int) error {
	key := breakpointKey{function, line}
	if _, exists := d.breakpoints[key]; !exists {
		return fmt.Errorf("no breakpoint at %s line %d", function, line)
	}
	d.breakpoints[key] = false
	return nil
}

// ListBreakpoints returns all breakpoints.
func (d *Debugger) ListBreakpoints() []Breakpoint {
	result := make([]Breakpoint, 0, len(d.breakpoints))
	for key, active := range d.breakpoints {
		result = append(result, Breakpoint{Function: key.function, Line: key.line, Active: active})
	}
	return result
}

// ---------------------------------------------------------------------------
// Execution control
// ---------------------------------------------------------------------------

// Location returns where the next instruction will execute, or nil when
// nothing is running.
func (d *Debugger) Location() *SourceLocation {
	vm := d.vm
	if vm.Done() {
		return nil
	}
	f := &vm.frames[vm.frameCount-1]
	return &SourceLocation{
		Function: f.Fn.Name,
		Line:     f.Fn.Block.Line(f.IP),
		IP:       f.IP,
	}
}

// StepInstruction executes exactly one instruction.
func (d *Debugger) StepInstruction() DebugEvent {
	if ev, done := d.step(); done {
		return ev
	}
	return DebugEvent{Type: "stopped", Reason: "step", Location: d.Location()}
}

// Continue runs until a breakpoint, the end of the program or an error.
// A breakpoint is hit when the next instruction to execute sits on its
// line; leaving the line re-arms it.
func (d *Debugger) Continue() DebugEvent {
	for {
		if d.vm.Done() {
			return d.terminal()
		}
		loc := d.Location()
		key := breakpointKey{loc.Function, loc.Line}
		stop := d.frameStop()
		if key != *stop {
			*stop = breakpointKey{}
			if d.breakpoints[key] {
				*stop = key
				return DebugEvent{Type: "breakpointHit", Reason: "breakpoint", Location: loc}
			}
		}
		d.vm.Step(1)
	}
}

// frameStop returns the stop record of the innermost frame, dropping the
// records of frames that have returned.
func (d *Debugger) frameStop() *breakpointKey {
	depth := d.vm.frameCount
	if len(d.stops) > depth {
		d.stops = d.stops[:depth]
	}
	for len(d.stops) < depth {
		d.stops = append(d.stops, breakpointKey{})
	}
	return &d.stops[depth-1]
}

// Step runs until the line changes according to mode.
func (d *Debugger) Step(mode StepMode) DebugEvent {
	start := d.Location()
	if start == nil {
		return DebugEvent{Type: "terminated", Reason: "not running"}
	}
	depth := d.vm.frameCount
	for {
		if ev, done := d.step(); done {
			return ev
		}
		loc := d.Location()
		cur := d.vm.frameCount
		switch mode {
		case StepOut:
			if cur < depth {
				return DebugEvent{Type: "stopped", Reason: "step out", Location: loc}
			}
		case StepOver:
			if cur < depth || (cur == depth && loc.Line != start.Line) {
				return DebugEvent{Type: "stopped", Reason: "step over", Location: loc}
			}
		default:
			if cur != depth || loc.Line != start.Line {
				return DebugEvent{Type: "stopped", Reason: "step into", Location: loc}
			}
		}
	}
}

// step executes one instruction and reports a terminal event when the
// program has finished or failed.
func (d *Debugger) step() (DebugEvent, bool) {
	vm := d.vm
	if vm.Done() {
		return d.terminal(), true
	}
	vm.Step(1)
	if vm.Done() {
		return d.terminal(), true
	}
	return DebugEvent{}, false
}

func (d *Debugger) terminal() DebugEvent {
	if err := d.vm.LastError(); err != nil {
		return DebugEvent{
			Type:     "exception",
			Reason:   err.Message(),
			Location: &SourceLocation{Function: err.Frame.Function, Line: err.Frame.Line, IP: err.Frame.IP},
		}
	}
	return DebugEvent{Type: "terminated", Reason: "returned"}
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// Backtrace returns the active frames, innermost first.
func (d *Debugger) Backtrace() []StackFrame {
	vm := d.vm
	frames := make([]StackFrame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		frames = append(frames, StackFrame{
			ID:       i,
			Function: f.Fn.Name,
			Line:     f.Fn.Block.Line(f.IP),
			IP:       f.IP,
		})
	}
	return frames
}

// Variables returns the stack slots of frame id, from its base up to the
// next frame's callee slot or the top of the stack.
func (d *Debugger) Variables(id int) []Variable {
	vm := d.vm
	if id < 0 || id >= vm.frameCount {
		return nil
	}
	from := vm.frames[id].Base
	to := vm.sp
	if id+1 < vm.frameCount {
		to = vm.frames[id+1].Base - 1
	}
	vars := make([]Variable, 0, to-from)
	for i := from; i < to; i++ {
		v := vm.stack[i]
		vars = append(vars, Variable{
			Name:  fmt.Sprintf("slot%d", i-from),
			Value: vm.heap.ToString(v),
			Type:  vm.heap.TypeName(v),
		})
	}
	return vars
}
