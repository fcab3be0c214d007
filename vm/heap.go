package vm

import "fmt"

// ---------------------------------------------------------------------------
// Heap: arena of GC-managed objects
// ---------------------------------------------------------------------------

type heapSlot struct {
	gen uint16
	obj Object // nil when the slot is free
}

// Heap owns every object the VM allocates. Objects are addressed by
// generation-checked handles; slot 0 is reserved so the zero Handle never
// resolves.
type Heap struct {
	slots []heapSlot
	free  []uint32

	// Head of the intrusive all-objects list, newest first.
	objects Handle
	live    int

	bytesAllocated int
	nextGC         int

	// The VM's operand stack; open upvalues alias its slots.
	stack []Value

	assertions bool
}

func newHeap(opts Options) *Heap {
	return &Heap{
		slots:      make([]heapSlot, 1, 64),
		nextGC:     opts.InitialHeapThreshold,
		assertions: opts.Assertions,
	}
}

// link registers obj in the arena and pushes it on the all-objects list.
func (h *Heap) link(obj Object) Handle {
	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		h.slots = append(h.slots, heapSlot{})
		idx = uint32(len(h.slots) - 1)
	}
	slot := &h.slots[idx]
	slot.obj = obj
	handle := makeHandle(idx, slot.gen)

	hdr := obj.header()
	hdr.self = handle
	hdr.marked = false
	hdr.next = h.objects
	h.objects = handle

	h.live++
	h.bytesAllocated += obj.size()
	return handle
}

// release returns a swept object's slot to the free list. The caller has
// already unlinked it from the all-objects list.
func (h *Heap) release(obj Object) {
	hdr := obj.header()
	idx := hdr.self.Index()
	h.bytesAllocated -= obj.size()
	obj.release()

	slot := &h.slots[idx]
	slot.obj = nil
	slot.gen++
	h.free = append(h.free, idx)
	h.live--
}

// lookup resolves a handle, reporting false for stale or unknown handles.
func (h *Heap) lookup(handle Handle) (Object, bool) {
	idx := handle.Index()
	if idx == 0 || int(idx) >= len(h.slots) {
		return nil, false
	}
	slot := &h.slots[idx]
	if slot.obj == nil || slot.gen != handle.Gen() {
		return nil, false
	}
	return slot.obj, true
}

// get resolves a handle. A stale handle means the GC freed something still
// reachable, which is unrecoverable.
func (h *Heap) get(handle Handle) Object {
	obj, ok := h.lookup(handle)
	if !ok {
		panic(internalErrorf("stale object handle %s", handle))
	}
	return obj
}

// Object returns the object named by v, or nil if v is not a live object.
func (h *Heap) Object(v Value) Object {
	if !v.IsObject() {
		return nil
	}
	obj, _ := h.lookup(v.Handle())
	return obj
}

// Contains reports whether v names a live object.
func (h *Heap) Contains(v Value) bool {
	return h.Object(v) != nil
}

// Len returns the number of live objects.
func (h *Heap) Len() int { return h.live }

// BytesAllocated returns the current accounted heap size.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// adjust accounts for buffers that grow after registration.
func (h *Heap) adjust(delta int) {
	h.bytesAllocated += delta
}

// ---------------------------------------------------------------------------
// Typed accessors
// ---------------------------------------------------------------------------

func (h *Heap) objType(v Value) (ObjType, bool) {
	obj := h.Object(v)
	if obj == nil {
		return 0, false
	}
	return obj.header().typ, true
}

// IsString reports whether v is a live string.
func (h *Heap) IsString(v Value) bool {
	t, ok := h.objType(v)
	return ok && t == ObjString
}

// AsString returns the string object named by v, or nil.
func (h *Heap) AsString(v Value) *String {
	s, _ := h.Object(v).(*String)
	return s
}

// AsTable returns the table object named by v, or nil.
func (h *Heap) AsTable(v Value) *Table {
	t, _ := h.Object(v).(*Table)
	return t
}

// AsFunction returns the function object named by v, or nil.
func (h *Heap) AsFunction(v Value) *Function {
	f, _ := h.Object(v).(*Function)
	return f
}

// AsPrototype returns the prototype object named by v, or nil.
func (h *Heap) AsPrototype(v Value) *Prototype {
	p, _ := h.Object(v).(*Prototype)
	return p
}

// AsUpvalue returns the upvalue object named by v, or nil.
func (h *Heap) AsUpvalue(v Value) *Upvalue {
	u, _ := h.Object(v).(*Upvalue)
	return u
}

func (h *Heap) upvalue(handle Handle) *Upvalue {
	uv, ok := h.get(handle).(*Upvalue)
	if !ok {
		panic(internalErrorf("handle %s is not an upvalue", handle))
	}
	return uv
}

// ---------------------------------------------------------------------------
// Value semantics that need the heap
// ---------------------------------------------------------------------------

// Equal compares two values: tag first, then payload. Strings compare by
// content, every other object by identity.
func (h *Heap) Equal(a, b Value) bool {
	switch {
	case a.IsNumber() && b.IsNumber():
		return a.Number() == b.Number()
	case a.IsObject() && b.IsObject():
		if a == b {
			return true
		}
		sa, sb := h.AsString(a), h.AsString(b)
		if sa == nil || sb == nil {
			return false
		}
		return sa.Equal(sb)
	default:
		return a == b
	}
}

// TypeName returns the stable user-facing type name of v.
func (h *Heap) TypeName(v Value) string {
	switch v.Kind() {
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindObject:
		if t, ok := h.objType(v); ok {
			return t.String()
		}
		return "object"
	case KindEmpty:
		return "empty"
	default:
		return "nil"
	}
}

// ToString renders v the way print shows it.
func (h *Heap) ToString(v Value) string {
	switch v.Kind() {
	case KindNumber:
		return formatNumber(v.Number())
	case KindBool:
		if v == True {
			return "true"
		}
		return "false"
	case KindEmpty:
		return "<empty>"
	case KindNil:
		return "nil"
	}
	switch obj := h.Object(v).(type) {
	case *String:
		return obj.Go()
	case *Function:
		return fmt.Sprintf("[fn %s]", obj.Name)
	case *Prototype:
		return fmt.Sprintf("[prototype %s]", obj.Name)
	case *Table:
		return fmt.Sprintf("[table %s]", obj.self)
	case *Upvalue:
		return h.ToString(h.upvalueGet(obj))
	default:
		return fmt.Sprintf("[object %s]", v.Handle())
	}
}
