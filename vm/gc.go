package vm

import (
	"time"

	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("snap.gc")

// ---------------------------------------------------------------------------
// Collector: tri-color mark and sweep
// ---------------------------------------------------------------------------

// GCStats holds statistics from a single collection.
type GCStats struct {
	Cycle         uint64
	Freed         int
	Live          int
	BytesBefore   int
	BytesAfter    int
	NextThreshold int
	Duration      time.Duration
	Timestamp     time.Time
}

// collector carries the gray worklist for one cycle. Marked objects not
// yet on the worklist are black; marked objects on it are gray.
type collector struct {
	heap *Heap
	gray []Handle
}

func (gc *collector) markValue(v Value) {
	if v.IsObject() {
		gc.markHandle(v.Handle())
	}
}

func (gc *collector) markHandle(h Handle) {
	hdr := gc.heap.get(h).header()
	if hdr.marked {
		return
	}
	hdr.marked = true
	gc.gray = append(gc.gray, h)
}

func (gc *collector) markBlock(b *Block) {
	if b == nil {
		return
	}
	for _, c := range b.Constants {
		gc.markValue(c)
	}
}

// drain blackens gray objects until the worklist is empty.
func (gc *collector) drain() {
	for len(gc.gray) > 0 {
		n := len(gc.gray) - 1
		h := gc.gray[n]
		gc.gray = gc.gray[:n]
		gc.heap.get(h).trace(gc)
	}
}

// RegisterObject links a freshly built object into the heap and returns
// it as a Value. Depending on policy a collection runs first; the new
// object is not linked yet, so it cannot be swept, but anything it points
// to must already be reachable from a root.
func (vm *VM) RegisterObject(obj Object) Value {
	need := obj.size()
	limit := vm.opts.MaxHeapBytes
	overLimit := func() bool { return limit > 0 && vm.heap.bytesAllocated+need > limit }
	if vm.opts.StressGC || vm.heap.bytesAllocated+need > vm.heap.nextGC || overLimit() {
		vm.CollectGarbage()
	}
	if overLimit() {
		panic(&RuntimeError{Kind: ErrOutOfMemory, Want: limit})
	}
	return FromHandle(vm.heap.link(obj))
}

// CollectGarbage runs a full collection and returns its statistics.
func (vm *VM) CollectGarbage() *GCStats {
	start := time.Now()
	h := vm.heap
	before := h.bytesAllocated
	liveBefore := h.live

	gcLog.Debugf("gc begin: %d objects, %d bytes", liveBefore, before)

	gc := &vm.collector
	gc.gray = gc.gray[:0]
	vm.markRoots(gc)
	gc.drain()
	vm.strings.removeUnmarked()
	freed := vm.sweep()

	next := int(float64(h.bytesAllocated) * vm.opts.HeapGrowFactor)
	if next < vm.opts.InitialHeapThreshold {
		next = vm.opts.InitialHeapThreshold
	}
	h.nextGC = next

	vm.gcCycles++
	stats := &GCStats{
		Cycle:         vm.gcCycles,
		Freed:         freed,
		Live:          h.live,
		BytesBefore:   before,
		BytesAfter:    h.bytesAllocated,
		NextThreshold: next,
		Duration:      time.Since(start),
		Timestamp:     start,
	}
	vm.lastGC = stats

	if vm.opts.LogGC {
		gcLog.Infof("gc #%d: freed %d of %d objects, %d -> %d bytes, next at %d",
			stats.Cycle, freed, liveBefore, before, h.bytesAllocated, next)
	} else {
		gcLog.Debugf("gc end #%d: freed %d, live %d", stats.Cycle, freed, h.live)
	}
	if vm.OnCollect != nil {
		vm.OnCollect(stats)
	}
	return stats
}

// LastGCStats returns statistics from the most recent collection, or nil.
func (vm *VM) LastGCStats() *GCStats {
	return vm.lastGC
}

// GCCycles returns the number of collections run so far.
func (vm *VM) GCCycles() uint64 {
	return vm.gcCycles
}

func (vm *VM) markRoots(gc *collector) {
	for i := 0; i < vm.sp; i++ {
		gc.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		gc.markHandle(vm.frames[i].Fn.self)
	}
	for uv := vm.openUpvalues; !uv.IsZero(); uv = vm.heap.upvalue(uv).nextOpen {
		gc.markHandle(uv)
	}
	gc.markValue(vm.returnValue)
	for h := range vm.keepAlive {
		gc.markHandle(h)
	}
	for b := range vm.blocks {
		gc.markBlock(b)
	}
}

// sweep frees every unmarked object and clears the mark on survivors.
func (vm *VM) sweep() int {
	h := vm.heap
	freed := 0
	var prev *ObjHeader
	for cur := h.objects; !cur.IsZero(); {
		obj := h.get(cur)
		hdr := obj.header()
		next := hdr.next
		if hdr.marked {
			hdr.marked = false
			prev = hdr
		} else {
			if prev == nil {
				h.objects = next
			} else {
				prev.next = next
			}
			h.release(obj)
			freed++
		}
		cur = next
	}
	return freed
}

// removeUnmarked drops entries whose key is about to be swept. The intern
// table holds its strings weakly.
func (t *Table) removeUnmarked() {
	for i := range t.entries {
		e := &t.entries[i]
		if !e.live() || !e.Key.IsObject() {
			continue
		}
		if obj, ok := t.heap.lookup(e.Key.Handle()); ok && !obj.header().marked {
			*e = Entry{Key: Empty, Value: Nil}
			t.count--
		}
	}
}

// ---------------------------------------------------------------------------
// Host roots
// ---------------------------------------------------------------------------

// KeepAlive pins an object so collections treat it as a root until a
// matching Release. Non-object values are ignored.
func (vm *VM) KeepAlive(v Value) {
	if v.IsObject() {
		vm.keepAlive[v.Handle()]++
	}
}

// Release undoes one KeepAlive.
func (vm *VM) Release(v Value) {
	if !v.IsObject() {
		return
	}
	h := v.Handle()
	if n := vm.keepAlive[h]; n > 1 {
		vm.keepAlive[h] = n - 1
	} else {
		delete(vm.keepAlive, h)
	}
}

// RegisterBlock makes b's constants GC roots until UnregisterBlock.
// NewFunction, NewPrototype and Load register their blocks, so a host
// that keeps building code should unregister blocks it no longer runs.
func (vm *VM) RegisterBlock(b *Block) {
	vm.blocks[b] = struct{}{}
}

// UnregisterBlock stops treating b's constants as roots. Functions and
// prototypes built on b still keep its constants alive while they are
// reachable.
func (vm *VM) UnregisterBlock(b *Block) {
	delete(vm.blocks, b)
}
