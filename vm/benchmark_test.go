package vm

import (
	"fmt"
	"testing"
)

// =============================================================================
// Benchmark Helpers
// =============================================================================

// benchmarkVM creates a fresh VM for benchmarking
func benchmarkVM() *VM {
	v := New(DefaultOptions())
	v.Print = func(*VM, string) {}
	v.LogError = func(*VM, string) {}
	return v
}

// =============================================================================
// Interpreter Dispatch Overhead
// =============================================================================

// BenchmarkOpNil measures the cost of pushing and popping nil
func BenchmarkOpNil(b *testing.B) {
	v := benchmarkVM()

	bb := builder(v, "pushNil")
	for i := 0; i < 100; i++ {
		bb.Emit(OpNil)
		bb.Emit(OpPop)
	}
	bb.Emit(OpNil)
	bb.Emit(OpReturn)
	block := bb.Build()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.Interpret(block)
	}
}

// BenchmarkSumLoop measures a counted loop of locals, arithmetic and jumps
func BenchmarkSumLoop(b *testing.B) {
	v := benchmarkVM()

	bb := builder(v, "sum")
	bb.EmitNumber(0) // sum
	bb.EmitNumber(0) // i
	loop := bb.NewLabel()
	done := bb.NewLabel()
	bb.Mark(loop)
	bb.EmitUint16(OpGetVar, 1)
	bb.EmitNumber(1000)
	bb.Emit(OpLt)
	bb.EmitJump(OpJumpFalse, done)
	bb.EmitUint16(OpGetVar, 0)
	bb.EmitUint16(OpGetVar, 1)
	bb.Emit(OpAdd)
	bb.EmitUint16(OpSetVar, 0)
	bb.Emit(OpPop)
	bb.EmitUint16(OpGetVar, 1)
	bb.EmitNumber(1)
	bb.Emit(OpAdd)
	bb.EmitUint16(OpSetVar, 1)
	bb.Emit(OpPop)
	bb.EmitJump(OpJump, loop)
	bb.Mark(done)
	bb.EmitUint16(OpGetVar, 0)
	bb.Emit(OpReturn)
	block := bb.Build()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.Interpret(block)
	}
}

// BenchmarkFunctionCall measures CALL and RETURN
func BenchmarkFunctionCall(b *testing.B) {
	v := benchmarkVM()
	fn := doubler(v)

	bb := builder(v, "calls")
	k := bb.AddConstant(fn)
	for i := 0; i < 100; i++ {
		bb.EmitUint16(OpLoadConst, k)
		bb.EmitNumber(float64(i))
		bb.EmitUint16(OpCall, 1)
		bb.Emit(OpPop)
	}
	bb.Emit(OpNil)
	bb.Emit(OpReturn)
	block := bb.Build()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.Interpret(block)
	}
}

// BenchmarkHostCall measures VM.Call from Go
func BenchmarkHostCall(b *testing.B) {
	v := benchmarkVM()
	fn := doubler(v)
	v.KeepAlive(fn)
	arg := FromNumber(21)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.Call(fn, arg); err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// Tables and Strings
// =============================================================================

func BenchmarkTableSetNumber(b *testing.B) {
	v := benchmarkVM()
	tv := v.NewTable(0)
	v.Push(tv)
	tbl := v.Heap().AsTable(tv)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tbl.Set(FromNumber(float64(i&1023)), True)
	}
}

func BenchmarkTableGetString(b *testing.B) {
	v := benchmarkVM()
	tv := v.NewTable(0)
	v.Push(tv)
	tbl := v.Heap().AsTable(tv)

	keys := make([]Value, 256)
	for i := range keys {
		keys[i] = v.NewString(fmt.Sprintf("key%d", i))
		tbl.Set(keys[i], FromNumber(float64(i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tbl.Get(keys[i&255])
	}
}

// BenchmarkTableChurn measures set/delete cycles that leave tombstones
func BenchmarkTableChurn(b *testing.B) {
	v := benchmarkVM()
	tv := v.NewTable(0)
	v.Push(tv)
	tbl := v.Heap().AsTable(tv)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := FromNumber(float64(i))
		tbl.Set(k, True)
		tbl.Delete(k)
	}
}

func BenchmarkInternString(b *testing.B) {
	v := benchmarkVM()
	s := []byte("a moderately long string that exceeds the hashed prefix")
	v.Push(v.InternString(s))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.InternString(s)
	}
}

func BenchmarkHashBytes(b *testing.B) {
	s := []byte("a moderately long string that exceeds the hashed prefix")
	for i := 0; i < b.N; i++ {
		HashBytes(s)
	}
}

// =============================================================================
// Garbage Collection
// =============================================================================

// BenchmarkGarbageCollection measures a full cycle over a live table graph
func BenchmarkGarbageCollection(b *testing.B) {
	v := benchmarkVM()
	root := v.NewTable(0)
	v.Push(root)
	tbl := v.Heap().AsTable(root)
	for i := 0; i < 1000; i++ {
		tbl.Set(FromNumber(float64(i)), v.NewTable(0))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.CollectGarbage()
	}
}

// BenchmarkAllocation measures object registration under the default
// threshold policy
func BenchmarkAllocation(b *testing.B) {
	v := benchmarkVM()
	for i := 0; i < b.N; i++ {
		v.NewTable(0)
	}
}
