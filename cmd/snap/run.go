package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/snap/heaplog"
	"github.com/chazu/snap/vm"
)

// breakpoints collects repeated -break function:line flags.
type breakpoints []breakpoint

type breakpoint struct {
	function string
	line     int
}

func (b *breakpoints) String() string {
	parts := make([]string, len(*b))
	for i, bp := range *b {
		parts[i] = fmt.Sprintf("%s:%d", bp.function, bp.line)
	}
	return strings.Join(parts, ",")
}

func (b *breakpoints) Set(s string) error {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return fmt.Errorf("breakpoint %q is not function:line", s)
	}
	line, err := strconv.Atoi(s[i+1:])
	if err != nil || line <= 0 {
		return fmt.Errorf("breakpoint %q has a bad line number", s)
	}
	*b = append(*b, breakpoint{function: s[:i], line: line})
	return nil
}

// runCommand handles `snap run`.
func (c *cli) runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	stressGC := fs.Bool("stress-gc", false, "Collect garbage on every allocation")
	assertions := fs.Bool("assert", false, "Enable internal consistency checks")
	heapLogPath := fs.String("heaplog", "", "Record collections in this SQLite database")
	step := fs.Int("step", 0, "Run in slices of N instructions, logging each slice")
	profile := fs.Bool("profile", false, "Print opcode and call counts after the run")
	verbose := fs.Int("v", 0, "Log verbosity (1 = info, 2 = debug)")
	var breaks breakpoints
	fs.Var(&breaks, "break", "Stop at function:line and print the frame (repeatable)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	configureLogging(*verbose)

	path, m, err := project(fs.Args())
	if err != nil {
		c.errorf("%v", err)
		return exitUsage
	}

	opts := vm.DefaultOptions()
	if m != nil {
		opts = m.Options()
		if *heapLogPath == "" {
			*heapLogPath = m.HeapLogPath()
		}
	}
	opts.StressGC = opts.StressGC || *stressGC
	opts.Assertions = opts.Assertions || *assertions
	opts.Profile = opts.Profile || *profile

	v := vm.New(opts)
	v.Print = func(_ *vm.VM, s string) { fmt.Fprintln(c.stdout, s) }
	v.LogError = func(_ *vm.VM, msg string) { c.errorf("%s", msg) }

	if *heapLogPath != "" {
		hl, err := heaplog.Open(*heapLogPath)
		if err != nil {
			c.errorf("heap log: %v", err)
			return exitIO
		}
		defer hl.Close()
		runID, err := hl.StartRun(path, opts)
		if err != nil {
			c.errorf("heap log: %v", err)
			return exitIO
		}
		hl.Attach(v, runID)
		defer c.reportHeapLog(hl, runID)
	}

	block, err := loadProgram(v, path)
	if err != nil {
		c.errorf("%v", err)
		return exitFor(err)
	}
	if err := v.Load(block); err != nil {
		c.errorf("%v", err)
		return exitSoftware
	}

	var code vm.ExitCode
	switch {
	case len(breaks) > 0:
		code = c.debug(v, breaks)
	case *step > 0:
		code = c.stepped(v, *step)
	default:
		code = v.Run(true)
	}

	if opts.Profile {
		c.printProfile(v)
	}
	if code != vm.ExitSuccess {
		return exitSoftware
	}
	if result := v.ReturnValue(); !result.IsNil() {
		fmt.Fprintln(c.stdout, v.ToString(result))
	}
	return exitOK
}

// stepped runs the loaded program n instructions at a time.
func (c *cli) stepped(v *vm.VM, n int) vm.ExitCode {
	for slice := 1; ; slice++ {
		code := v.Step(n)
		if v.Done() {
			return code
		}
		log.Infof("slice %d: %d frames, %d stack slots", slice, v.FrameCount(), v.StackSize())
	}
}

// debug runs the loaded program under the debugger, printing the frame
// at every breakpoint hit.
func (c *cli) debug(v *vm.VM, breaks breakpoints) vm.ExitCode {
	d := vm.NewDebugger(v)
	for _, bp := range breaks {
		d.SetBreakpoint(bp.function, bp.line)
	}
	for {
		ev := d.Continue()
		if ev.Type != "breakpointHit" {
			break
		}
		fmt.Fprintf(c.stderr, "break at %s:%d\n", ev.Location.Function, ev.Location.Line)
		bt := d.Backtrace()
		for _, f := range bt {
			fmt.Fprintf(c.stderr, "  #%d %s line %d (ip %d)\n", f.ID, f.Function, f.Line, f.IP)
		}
		for _, variable := range d.Variables(bt[0].ID) {
			fmt.Fprintf(c.stderr, "    %s = %s (%s)\n", variable.Name, variable.Value, variable.Type)
		}
	}
	if v.LastError() != nil {
		return vm.ExitRuntimeError
	}
	return vm.ExitSuccess
}

func (c *cli) printProfile(v *vm.VM) {
	p := v.Profiler()
	fmt.Fprintf(c.stderr, "profile: %d instructions\n", p.TotalOps())
	for _, fp := range p.Functions() {
		fmt.Fprintf(c.stderr, "  %-20s %8d calls\n", fp.Name, fp.InvocationCount)
	}
}

func (c *cli) reportHeapLog(hl *heaplog.Log, runID string) {
	sum, err := hl.Summarize(runID)
	if err != nil {
		c.errorf("heap log: %v", err)
		return
	}
	log.Noticef("run %s: %d collections freed %d objects, peak %d bytes, %s in gc",
		runID, sum.Cycles, sum.Freed, sum.PeakBytes, sum.TotalDuration)
}
