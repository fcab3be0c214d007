// snap CLI - assembles, builds and runs snap bytecode programs
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("snap.cmd")

// Process exit codes, following sysexits.h.
const (
	exitOK       = 0
	exitUsage    = 64
	exitData     = 65 // compile errors and unreadable input
	exitSoftware = 70 // runtime errors
	exitIO       = 74
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	cli := &cli{stdout: stdout, stderr: stderr, color: isTerminal(stderr)}

	switch args[0] {
	case "run":
		return cli.runCommand(args[1:])
	case "build":
		return cli.buildCommand(args[1:])
	case "dis":
		return cli.disCommand(args[1:])
	case "heaplog":
		return cli.heaplogCommand(args[1:])
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return exitOK
	}
	fmt.Fprintf(stderr, "snap: unknown command %q\n\n", args[0])
	usage(stderr)
	return exitUsage
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: snap <command> [options] [file]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  run [file]           Run a .snap source or .snapc image (default: snap.toml entry)\n")
	fmt.Fprintf(w, "  build [file] -o out  Assemble a source file into an image\n")
	fmt.Fprintf(w, "  dis file             Disassemble a source file or image\n")
	fmt.Fprintf(w, "  heaplog db [run-id]  List recorded runs or the collections of one run\n")
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  snap run counter.snap\n")
	fmt.Fprintf(w, "  snap run -stress-gc -assert -heaplog gc.db counter.snap\n")
	fmt.Fprintf(w, "  snap run -break tick:4 counter.snap\n")
	fmt.Fprintf(w, "  snap build counter.snap -o counter.snapc\n")
}

// cli carries the output streams shared by all subcommands.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	color  bool
}

// errorf reports a diagnostic on stderr, in red on a terminal.
func (c *cli) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if c.color {
		fmt.Fprintf(c.stderr, "\x1b[31merror:\x1b[0m %s\n", msg)
	} else {
		fmt.Fprintf(c.stderr, "error: %s\n", msg)
	}
}

// configureLogging maps the -v count onto commonlog verbosity.
func configureLogging(verbosity int) {
	commonlog.Configure(verbosity, nil)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
