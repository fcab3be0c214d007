package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/snap/asm"
	"github.com/chazu/snap/manifest"
	"github.com/chazu/snap/vm"
	"github.com/chazu/snap/vm/dist"
)

// ImageExt marks compiled image files; anything else is assembly source.
const ImageExt = ".snapc"

// project resolves the input file, falling back to the entry of the
// nearest snap.toml. The manifest is nil when none was found.
func project(args []string) (string, *manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return "", nil, err
	}
	if len(args) > 0 {
		return args[0], m, nil
	}
	if m == nil {
		return "", nil, fmt.Errorf("no input file and no snap.toml found")
	}
	return m.EntryPath(), m, nil
}

// unitName derives a block name from a file path: counter.snap -> counter.
func unitName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// loadProgram assembles or decodes path into v. A compile error is
// reported as a *compileError so callers can choose the exit code.
func loadProgram(v *vm.VM, path string) (*vm.Block, error) {
	if filepath.Ext(path) == ImageExt {
		block, err := dist.ReadFile(v, path)
		if err != nil {
			return nil, &compileError{err}
		}
		return block, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, err := asm.Assemble(v, unitName(path), string(src))
	if err != nil {
		return nil, &compileError{err}
	}
	return block, nil
}

type compileError struct{ err error }

func (e *compileError) Error() string { return e.err.Error() }
func (e *compileError) Unwrap() error { return e.err }

// exitFor maps a load failure to an exit code.
func exitFor(err error) int {
	if _, ok := err.(*compileError); ok {
		return exitData
	}
	return exitIO
}
