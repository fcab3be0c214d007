// Package manifest handles snap.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/snap/vm"
)

// FileName is the name of the project file.
const FileName = "snap.toml"

// Manifest represents a snap.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	VM      VMConfig      `toml:"vm"`
	GC      GCConfig      `toml:"gc"`
	HeapLog HeapLogConfig `toml:"heaplog"`
	Image   ImageConfig   `toml:"image"`

	// Dir is the directory containing the snap.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"`
}

// VMConfig sizes the interpreter.
type VMConfig struct {
	StackSize  int  `toml:"stack-size"`
	MaxFrames  int  `toml:"max-frames"`
	Assertions bool `toml:"assertions"`
	Profile    bool `toml:"profile"`
}

// GCConfig tunes the collector.
type GCConfig struct {
	Stress           bool    `toml:"stress"`
	Log              bool    `toml:"log"`
	GrowFactor       float64 `toml:"grow-factor"`
	InitialThreshold int     `toml:"initial-threshold"`
	MaxHeap          int     `toml:"max-heap"`
}

// HeapLogConfig enables the SQLite collection log when Path is set.
type HeapLogConfig struct {
	Path string `toml:"path"`
}

// ImageConfig configures image output.
type ImageConfig struct {
	Output string `toml:"output"`
}

// Load parses a snap.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Defaults
	if m.Project.Name == "" {
		m.Project.Name = filepath.Base(m.Dir)
	}
	if m.Project.Entry == "" {
		m.Project.Entry = "main.snap"
	}
	if m.Image.Output == "" {
		m.Image.Output = m.Project.Name + ".snapc"
	}

	return &m, nil
}

func (m *Manifest) validate() error {
	switch {
	case m.VM.StackSize < 0:
		return fmt.Errorf("vm.stack-size must not be negative")
	case m.VM.MaxFrames < 0:
		return fmt.Errorf("vm.max-frames must not be negative")
	case m.GC.GrowFactor != 0 && m.GC.GrowFactor <= 1:
		return fmt.Errorf("gc.grow-factor must be greater than 1, got %g", m.GC.GrowFactor)
	case m.GC.InitialThreshold < 0:
		return fmt.Errorf("gc.initial-threshold must not be negative")
	case m.GC.MaxHeap < 0:
		return fmt.Errorf("gc.max-heap must not be negative")
	}
	return nil
}

// FindAndLoad walks up from startDir to find a snap.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Options returns the VM options the manifest selects. Unset values keep
// their defaults.
func (m *Manifest) Options() vm.Options {
	opts := vm.DefaultOptions()
	if m.VM.StackSize > 0 {
		opts.StackSize = m.VM.StackSize
	}
	if m.VM.MaxFrames > 0 {
		opts.MaxFrames = m.VM.MaxFrames
	}
	opts.Assertions = m.VM.Assertions
	opts.Profile = m.VM.Profile

	opts.StressGC = m.GC.Stress
	opts.LogGC = m.GC.Log
	if m.GC.GrowFactor > 0 {
		opts.HeapGrowFactor = m.GC.GrowFactor
	}
	if m.GC.InitialThreshold > 0 {
		opts.InitialHeapThreshold = m.GC.InitialThreshold
	}
	opts.MaxHeapBytes = m.GC.MaxHeap
	return opts
}

// EntryPath returns the absolute path of the entry source file.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Project.Entry)
}

// ImagePath returns the absolute path images are built to.
func (m *Manifest) ImagePath() string {
	return m.resolve(m.Image.Output)
}

// HeapLogPath returns the absolute path of the heap log database, or ""
// when heap logging is off.
func (m *Manifest) HeapLogPath() string {
	if m.HeapLog.Path == "" {
		return ""
	}
	return m.resolve(m.HeapLog.Path)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
