package vm

import "testing"

// testHost collects what the VM hands to its hooks.
type testHost struct {
	out  []string
	errs []string
}

func newTestVM(t *testing.T, opts Options) (*VM, *testHost) {
	t.Helper()
	v := New(opts)
	h := &testHost{}
	v.Print = func(_ *VM, s string) { h.out = append(h.out, s) }
	v.LogError = func(_ *VM, m string) { h.errs = append(h.errs, m) }
	return v, h
}

// builder returns a block builder whose constants are rooted from the
// start, so programs can be assembled with StressGC on.
func builder(v *VM, name string) *BlockBuilder {
	b := NewBlockBuilder(name)
	v.RegisterBlock(b.Block())
	return b
}

func mustRun(t *testing.T, v *VM, b *BlockBuilder) Value {
	t.Helper()
	if code := v.Interpret(b.Build()); code != ExitSuccess {
		t.Fatalf("Interpret = %v, want success (%v)", code, v.LastError())
	}
	return v.ReturnValue()
}

func runError(t *testing.T, v *VM, b *BlockBuilder) *RuntimeError {
	t.Helper()
	if code := v.Interpret(b.Build()); code != ExitRuntimeError {
		t.Fatalf("Interpret = %v, want runtime error", code)
	}
	err := v.LastError()
	if err == nil {
		t.Fatal("LastError() = nil after runtime error")
	}
	return err
}

func expectInternalError(t *testing.T, fn func()) *InternalError {
	t.Helper()
	var got *InternalError
	func() {
		defer func() {
			r := recover()
			ie, ok := r.(*InternalError)
			if !ok {
				t.Fatalf("recovered %v (%T), want *InternalError", r, r)
			}
			got = ie
		}()
		fn()
	}()
	return got
}

func wantNumber(t *testing.T, v Value, want float64) {
	t.Helper()
	if !v.IsNumber() {
		t.Fatalf("value %x is not a number", uint64(v))
	}
	if got := v.Number(); got != want {
		t.Errorf("result = %v, want %v", got, want)
	}
}
