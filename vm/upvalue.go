package vm

// ---------------------------------------------------------------------------
// Upvalues: captured variables shared between closures
// ---------------------------------------------------------------------------

// Upvalue is a variable captured by a closure. While open it aliases a
// slot of the operand stack; once closed it owns a copy of the last value
// the slot held. A closed upvalue is never reopened.
type Upvalue struct {
	ObjHeader
	slot     int // stack index while open, -1 once closed
	closed   Value
	nextOpen Handle
}

// IsOpen reports whether the upvalue still aliases a stack slot.
func (u *Upvalue) IsOpen() bool { return u.slot >= 0 }

// Slot returns the aliased stack index, or -1 once closed.
func (u *Upvalue) Slot() int { return u.slot }

func (u *Upvalue) trace(gc *collector) {
	gc.markValue(gc.heap.upvalueGet(u))
}

func (u *Upvalue) size() int { return headerSize + 24 }

func (u *Upvalue) release() {}

func (h *Heap) upvalueGet(u *Upvalue) Value {
	if u.slot >= 0 {
		return h.stack[u.slot]
	}
	return u.closed
}

func (h *Heap) upvalueSet(u *Upvalue, v Value) {
	if u.slot >= 0 {
		h.stack[u.slot] = v
		return
	}
	u.closed = v
}

// CaptureUpvalue returns the open upvalue for a stack slot, creating it if
// none exists. The open list stays sorted by descending slot, so the scan
// stops as soon as it passes the slot.
func (vm *VM) CaptureUpvalue(slot int) Handle {
	vm.assert(slot >= 0 && slot < vm.sp, "capture of slot %d outside stack [0,%d)", slot, vm.sp)

	var prev *Upvalue
	cur := vm.openUpvalues
	for !cur.IsZero() {
		uv := vm.heap.upvalue(cur)
		if uv.slot <= slot {
			if uv.slot == slot {
				return cur
			}
			break
		}
		prev = uv
		cur = uv.nextOpen
	}

	created := &Upvalue{ObjHeader: ObjHeader{typ: ObjUpvalue}, slot: slot, closed: Nil}
	handle := vm.RegisterObject(created).Handle()
	created.nextOpen = cur
	if prev == nil {
		vm.openUpvalues = handle
	} else {
		prev.nextOpen = handle
	}
	return handle
}

// CloseUpvaluesUpto closes every open upvalue aliasing a slot at or above
// last, copying the slot's current value into the upvalue.
func (vm *VM) CloseUpvaluesUpto(last int) {
	for !vm.openUpvalues.IsZero() {
		uv := vm.heap.upvalue(vm.openUpvalues)
		if uv.slot < last {
			break
		}
		uv.closed = vm.stack[uv.slot]
		uv.slot = -1
		vm.openUpvalues = uv.nextOpen
		uv.nextOpen = 0
	}
}

// OpenUpvalues returns the stack slots of all open upvalues, in list order.
func (vm *VM) OpenUpvalues() []int {
	var slots []int
	for h := vm.openUpvalues; !h.IsZero(); {
		uv := vm.heap.upvalue(h)
		slots = append(slots, uv.slot)
		h = uv.nextOpen
	}
	return slots
}
