package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/snap/vm"
	"github.com/chazu/snap/vm/dist"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const counterSource = `
.proto tick 0
.capture local 0
    get_upval 0
    load_const 1
    add
    set_upval 0
    return
.end

.func make_counter 0
    load_const 0
    closure tick
    return
.end

    load_const "counting"
    print
    load_const make_counter
    call 0
    get_var 0
    call 0
    pop
    get_var 0
    call 0
    return
`

// writeSnapFile writes a source file into dir and returns its path.
func writeSnapFile(t *testing.T, dir, name, source string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(source), 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

// snap runs the CLI and returns its exit code and output streams.
func snap(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestUsage(t *testing.T) {
	if code, _, stderr := snap(t); code != exitUsage || !strings.Contains(stderr, "Usage: snap") {
		t.Errorf("no args: code %d, stderr %q", code, stderr)
	}
	if code, _, stderr := snap(t, "frob"); code != exitUsage || !strings.Contains(stderr, `unknown command "frob"`) {
		t.Errorf("unknown command: code %d, stderr %q", code, stderr)
	}
	if code, stdout, _ := snap(t, "help"); code != exitOK || !strings.Contains(stdout, "Commands:") {
		t.Errorf("help: code %d", code)
	}
}

func TestRunSource(t *testing.T) {
	path := writeSnapFile(t, t.TempDir(), "counter.snap", counterSource)
	code, stdout, stderr := snap(t, "run", path)
	if code != exitOK {
		t.Fatalf("run = %d, stderr %q", code, stderr)
	}
	if stdout != "counting\n2\n" {
		t.Errorf("stdout = %q, want counting and 2", stdout)
	}
}

func TestRunStressAndStep(t *testing.T) {
	path := writeSnapFile(t, t.TempDir(), "counter.snap", counterSource)
	code, stdout, stderr := snap(t, "run", "-stress-gc", "-assert", "-step", "3", path)
	if code != exitOK {
		t.Fatalf("run = %d, stderr %q", code, stderr)
	}
	if stdout != "counting\n2\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	bad := writeSnapFile(t, dir, "bad.snap", "jump nowhere\n")
	if code, _, stderr := snap(t, "run", bad); code != exitData || !strings.Contains(stderr, "error: bad: line 1: undefined label nowhere") {
		t.Errorf("compile error: code %d, stderr %q", code, stderr)
	}

	crash := writeSnapFile(t, dir, "crash.snap", "load_const 1\nload_const \"x\"\nadd\nreturn\n")
	code, _, stderr := snap(t, "run", crash)
	if code != exitSoftware {
		t.Errorf("runtime error: code %d, want %d", code, exitSoftware)
	}
	if !strings.Contains(stderr, "[line 3] in crash") || !strings.Contains(stderr, "'+'") {
		t.Errorf("stderr = %q", stderr)
	}

	if code, _, _ := snap(t, "run", filepath.Join(dir, "missing.snap")); code != exitIO {
		t.Errorf("missing file: code %d, want %d", code, exitIO)
	}
}

func TestBuildAndRunImage(t *testing.T) {
	dir := t.TempDir()
	src := writeSnapFile(t, dir, "counter.snap", counterSource)
	out := filepath.Join(dir, "out.snapc")

	if code, _, stderr := snap(t, "build", src, "-o", out); code != exitOK {
		t.Fatalf("build = %d, stderr %q", code, stderr)
	}
	code, stdout, stderr := snap(t, "run", out)
	if code != exitOK {
		t.Fatalf("run image = %d, stderr %q", code, stderr)
	}
	if stdout != "counting\n2\n" {
		t.Errorf("stdout = %q", stdout)
	}

	// Default output sits next to the source.
	if code, _, stderr := snap(t, "build", src); code != exitOK {
		t.Fatalf("build = %d, stderr %q", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "counter.snapc")); err != nil {
		t.Errorf("default image missing: %v", err)
	}

	if code, _, _ := snap(t, "build", out); code != exitUsage {
		t.Errorf("building an image: code %d, want %d", code, exitUsage)
	}
}

func TestCorruptImage(t *testing.T) {
	path := writeSnapFile(t, t.TempDir(), "junk.snapc", "not cbor")
	if code, _, _ := snap(t, "run", path); code != exitData {
		t.Errorf("run junk image: code %d, want %d", code, exitData)
	}
}

func TestImageWithoutReturn(t *testing.T) {
	img := &dist.Image{Body: dist.ImageBody{Blocks: []dist.BlockImage{{
		Name:      "main",
		Code:      []byte{byte(vm.OpLoadConst), 0, 0},
		Constants: []dist.ConstantImage{{Kind: dist.ConstNumber, Number: 1}},
	}}}}
	data, err := dist.MarshalImage(img)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "short.snapc")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := snap(t, "run", path)
	if code != exitData || !strings.Contains(stderr, "falls off the end") {
		t.Errorf("run = %d, stderr %q; want %d and a verify error", code, stderr, exitData)
	}
}

func TestDisassemble(t *testing.T) {
	path := writeSnapFile(t, t.TempDir(), "counter.snap", counterSource)
	code, stdout, stderr := snap(t, "dis", path)
	if code != exitOK {
		t.Fatalf("dis = %d, stderr %q", code, stderr)
	}
	for _, want := range []string{"== tick ==", "== make_counter ==", "CLOSURE", "GET_UPVAL", `"counting"`} {
		if !strings.Contains(stdout, want) {
			t.Errorf("dis output lacks %q:\n%s", want, stdout)
		}
	}
	// The main block is named after the file and comes first.
	if !strings.HasPrefix(stdout, "== counter ==\n") {
		t.Errorf("dis output starts %q", stdout[:20])
	}
	if code, _, _ := snap(t, "dis"); code != exitUsage {
		t.Errorf("dis without file: code %d", code)
	}
}

func TestBreakpoints(t *testing.T) {
	path := writeSnapFile(t, t.TempDir(), "counter.snap", counterSource)
	// Line 4 is the first instruction of the tick prototype.
	code, stdout, stderr := snap(t, "run", "-break", "tick:4", path)
	if code != exitOK {
		t.Fatalf("run = %d, stderr %q", code, stderr)
	}
	if n := strings.Count(stderr, "break at tick:4"); n != 2 {
		t.Errorf("hit the breakpoint %d times, want 2:\n%s", n, stderr)
	}
	if stdout != "counting\n2\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if code, _, _ := snap(t, "run", "-break", "tick", path); code != exitUsage {
		t.Errorf("bad -break: code %d", code)
	}
}

func TestHeapLog(t *testing.T) {
	dir := t.TempDir()
	src := writeSnapFile(t, dir, "counter.snap", counterSource)
	db := filepath.Join(dir, "gc.db")

	if code, _, stderr := snap(t, "run", "-stress-gc", "-heaplog", db, src); code != exitOK {
		t.Fatalf("run = %d, stderr %q", code, stderr)
	}
	code, stdout, stderr := snap(t, "heaplog", db)
	if code != exitOK {
		t.Fatalf("heaplog = %d, stderr %q", code, stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], src) {
		t.Fatalf("heaplog output:\n%s", stdout)
	}
	runID := strings.Fields(lines[1])[0]

	code, stdout, _ = snap(t, "heaplog", db, runID)
	if code != exitOK || !strings.HasPrefix(stdout, "CYCLE") || strings.Count(stdout, "\n") < 2 {
		t.Errorf("heaplog run: code %d\n%s", code, stdout)
	}
	if code, _, _ := snap(t, "heaplog", db, "no-such-run"); code != exitData {
		t.Errorf("unknown run: code %d, want %d", code, exitData)
	}
}

func TestProfileFlag(t *testing.T) {
	path := writeSnapFile(t, t.TempDir(), "counter.snap", counterSource)
	code, _, stderr := snap(t, "run", "-profile", path)
	if code != exitOK {
		t.Fatalf("run = %d", code)
	}
	if !strings.Contains(stderr, "profile:") || !strings.Contains(stderr, "make_counter") {
		t.Errorf("stderr = %q", stderr)
	}
}

// ---------------------------------------------------------------------------
// Flag helpers
// ---------------------------------------------------------------------------

func TestReorder(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"in.snap", "-o", "out"}, []string{"-o", "out", "in.snap"}},
		{[]string{"-o=out", "in.snap"}, []string{"-o=out", "in.snap"}},
		{[]string{"in.snap", "--", "-weird"}, []string{"in.snap", "-weird"}},
	}
	for _, tc := range tests {
		if got := reorder(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("reorder(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBreakpointFlag(t *testing.T) {
	var b breakpoints
	if err := b.Set("main:12"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set("a:b:3"); err != nil {
		t.Fatal(err)
	}
	if b.String() != "main:12,a:b:3" {
		t.Errorf("String = %q", b.String())
	}
	for _, bad := range []string{"main", ":3", "main:x", "main:0"} {
		if err := b.Set(bad); err == nil {
			t.Errorf("Set(%q) should fail", bad)
		}
	}
}
