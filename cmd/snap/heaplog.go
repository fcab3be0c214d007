package main

import (
	"errors"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/chazu/snap/heaplog"
)

// heaplogCommand handles `snap heaplog db [run-id]`.
func (c *cli) heaplogCommand(args []string) int {
	fs := flag.NewFlagSet("heaplog", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		c.errorf("heaplog needs a database path and an optional run ID")
		return exitUsage
	}

	hl, err := heaplog.Open(fs.Arg(0))
	if err != nil {
		c.errorf("heap log: %v", err)
		return exitIO
	}
	defer hl.Close()

	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if fs.NArg() == 1 {
		runs, err := hl.Runs()
		if err != nil {
			c.errorf("heap log: %v", err)
			return exitIO
		}
		fmt.Fprintln(w, "RUN\tPROGRAM\tSTARTED\tCOLLECTIONS\tFREED")
		for _, r := range runs {
			sum, err := hl.Summarize(r.ID)
			if err != nil {
				c.errorf("heap log: %v", err)
				return exitIO
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
				r.ID, r.Program, r.StartedAt.Format(time.RFC3339), sum.Cycles, sum.Freed)
		}
		return exitOK
	}

	cycles, err := hl.Cycles(fs.Arg(1))
	if errors.Is(err, heaplog.ErrRunNotFound) {
		c.errorf("no run %s in %s", fs.Arg(1), fs.Arg(0))
		return exitData
	}
	if err != nil {
		c.errorf("heap log: %v", err)
		return exitIO
	}
	fmt.Fprintln(w, "CYCLE\tFREED\tLIVE\tBEFORE\tAFTER\tNEXT\tDURATION")
	for _, s := range cycles {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Cycle, s.Freed, s.Live, s.BytesBefore, s.BytesAfter, s.NextThreshold, s.Duration)
	}
	return exitOK
}
