package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chazu/snap/vm"
	"github.com/chazu/snap/vm/dist"
)

// buildCommand handles `snap build`.
// Usage:
//
//	snap build                       # snap.toml entry -> [image] output
//	snap build counter.snap          # counter.snapc
//	snap build counter.snap -o x.snapc
func (c *cli) buildCommand(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	output := fs.String("o", "", "Output image path")
	verbose := fs.Int("v", 0, "Log verbosity (1 = info, 2 = debug)")
	if err := fs.Parse(reorder(args)); err != nil {
		return exitUsage
	}
	configureLogging(*verbose)

	path, m, err := project(fs.Args())
	if err != nil {
		c.errorf("%v", err)
		return exitUsage
	}
	if *output == "" {
		if m != nil && len(fs.Args()) == 0 {
			*output = m.ImagePath()
		} else {
			*output = strings.TrimSuffix(path, filepath.Ext(path)) + ImageExt
		}
	}
	if filepath.Ext(path) == ImageExt {
		c.errorf("%s is already an image", path)
		return exitUsage
	}

	opts := vm.DefaultOptions()
	if m != nil {
		opts = m.Options()
	}
	v := vm.New(opts)
	block, err := loadProgram(v, path)
	if err != nil {
		c.errorf("%v", err)
		return exitFor(err)
	}
	if err := dist.WriteFile(v, *output, block); err != nil {
		c.errorf("%v", err)
		return exitIO
	}
	log.Infof("wrote %s", *output)
	return exitOK
}

// disCommand handles `snap dis`, printing every block reachable from the
// main block.
func (c *cli) disCommand(args []string) int {
	fs := flag.NewFlagSet("dis", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		c.errorf("dis needs exactly one file")
		return exitUsage
	}

	v := vm.New(vm.DefaultOptions())
	block, err := loadProgram(v, fs.Arg(0))
	if err != nil {
		c.errorf("%v", err)
		return exitFor(err)
	}

	for i, b := range reachableBlocks(v, block) {
		if i > 0 {
			fmt.Fprintln(c.stdout)
		}
		fmt.Fprintf(c.stdout, "== %s ==\n%s\n", b.Name, v.Disassemble(b))
	}
	return exitOK
}

// reachableBlocks lists main and every block its constants lead to, in
// breadth-first order.
func reachableBlocks(v *vm.VM, main *vm.Block) []*vm.Block {
	heap := v.Heap()
	seen := map[*vm.Block]bool{main: true}
	queue := []*vm.Block{main}
	for i := 0; i < len(queue); i++ {
		for _, c := range queue[i].Constants {
			var b *vm.Block
			if fn := heap.AsFunction(c); fn != nil {
				b = fn.Block
			} else if p := heap.AsPrototype(c); p != nil {
				b = p.Block
			}
			if b != nil && !seen[b] {
				seen[b] = true
				queue = append(queue, b)
			}
		}
	}
	return queue
}

// reorder moves flags after positional arguments to the front, so
// `snap build in.snap -o out.snapc` parses like the flag-first form.
func reorder(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			positional = append(positional, args[i+1:]...)
			return append(flags, positional...)
		case strings.HasPrefix(a, "-") && len(a) > 1:
			flags = append(flags, a)
			if !strings.Contains(a, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		default:
			positional = append(positional, a)
		}
	}
	return append(flags, positional...)
}
