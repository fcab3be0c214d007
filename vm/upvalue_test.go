package vm

import (
	"reflect"
	"testing"
)

func pushNumbers(v *VM, nums ...float64) {
	for _, n := range nums {
		v.Push(FromNumber(n))
	}
}

func TestCaptureUpvalueShares(t *testing.T) {
	v := New(DefaultOptions())
	pushNumbers(v, 10, 20)
	a := v.CaptureUpvalue(1)
	b := v.CaptureUpvalue(1)
	if a != b {
		t.Errorf("two captures of one slot returned %v and %v", a, b)
	}
	if v.Heap().Len() != 1 {
		t.Errorf("heap holds %d objects, want 1", v.Heap().Len())
	}
}

func TestOpenUpvaluesSortedDescending(t *testing.T) {
	v := New(DefaultOptions())
	pushNumbers(v, 0, 1, 2)
	v.CaptureUpvalue(0)
	v.CaptureUpvalue(2)
	v.CaptureUpvalue(1)
	if got := v.OpenUpvalues(); !reflect.DeepEqual(got, []int{2, 1, 0}) {
		t.Errorf("OpenUpvalues() = %v, want [2 1 0]", got)
	}
}

func TestOpenUpvalueAliasesStack(t *testing.T) {
	v := New(DefaultOptions())
	pushNumbers(v, 1)
	uv := v.Heap().upvalue(v.CaptureUpvalue(0))

	v.stack[0] = FromNumber(5)
	wantNumber(t, v.Heap().upvalueGet(uv), 5)

	v.Heap().upvalueSet(uv, FromNumber(6))
	wantNumber(t, v.StackAt(0), 6)
}

func TestCloseUpvaluesUpto(t *testing.T) {
	v := New(DefaultOptions())
	pushNumbers(v, 0, 1, 2)
	low := v.CaptureUpvalue(0)
	high := v.CaptureUpvalue(2)
	mid := v.CaptureUpvalue(1)

	v.CloseUpvaluesUpto(1)
	if got := v.OpenUpvalues(); !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("OpenUpvalues() = %v, want [0]", got)
	}

	h := v.Heap()
	for _, c := range []struct {
		handle Handle
		want   float64
	}{{high, 2}, {mid, 1}} {
		uv := h.upvalue(c.handle)
		if uv.IsOpen() {
			t.Errorf("upvalue for %v still open", c.want)
		}
		wantNumber(t, h.upvalueGet(uv), c.want)
	}
	if !h.upvalue(low).IsOpen() {
		t.Error("upvalue below the cut was closed")
	}

	// A closed upvalue no longer follows the stack slot.
	v.stack[2] = FromNumber(99)
	wantNumber(t, h.upvalueGet(h.upvalue(high)), 2)
}

func TestCaptureAfterCloseCreatesNew(t *testing.T) {
	v := New(DefaultOptions())
	pushNumbers(v, 7)
	first := v.CaptureUpvalue(0)
	v.CloseUpvaluesUpto(0)
	second := v.CaptureUpvalue(0)
	if first == second {
		t.Error("closed upvalue was reopened")
	}
	if v.Heap().upvalue(first).IsOpen() {
		t.Error("closed upvalue reports open")
	}
}

func TestCaptureOutsideStackAsserts(t *testing.T) {
	opts := DefaultOptions()
	opts.Assertions = true
	v := New(opts)
	expectInternalError(t, func() { v.CaptureUpvalue(3) })
}
