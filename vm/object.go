package vm

import "fmt"

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// Handle addresses a heap object: the low 32 bits index the arena, the next
// 16 bits carry the slot generation. The zero Handle never names an object.
type Handle uint64

const (
	handleIndexMask = 0xFFFFFFFF
	handleGenShift  = 32
)

func makeHandle(index uint32, gen uint16) Handle {
	return Handle(uint64(gen)<<handleGenShift | uint64(index))
}

// Index returns the arena slot index.
func (h Handle) Index() uint32 { return uint32(uint64(h) & handleIndexMask) }

// Gen returns the slot generation the handle was issued for.
func (h Handle) Gen() uint16 { return uint16(uint64(h) >> handleGenShift) }

// IsZero reports whether h is the "no object" handle.
func (h Handle) IsZero() bool { return h == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.Index(), h.Gen())
}

// ---------------------------------------------------------------------------
// Object header
// ---------------------------------------------------------------------------

// ObjType identifies the concrete kind of a heap object.
type ObjType uint8

const (
	ObjString ObjType = iota
	ObjFunction
	ObjPrototype
	ObjUpvalue
	ObjTable
)

var objTypeNames = [...]string{
	ObjString:    "string",
	ObjFunction:  "function",
	ObjPrototype: "prototype",
	ObjUpvalue:   "upvalue",
	ObjTable:     "table",
}

func (t ObjType) String() string {
	if int(t) < len(objTypeNames) {
		return objTypeNames[t]
	}
	return fmt.Sprintf("ObjType(%d)", uint8(t))
}

// ObjHeader is embedded at the start of every heap object.
type ObjHeader struct {
	typ     ObjType
	marked  bool
	hashSet bool
	hash    uint32
	self    Handle // set when the object is linked into the heap
	next    Handle // intrusive all-objects list
}

// Type returns the object's kind.
func (o *ObjHeader) Type() ObjType { return o.typ }

// Self returns the handle the object was registered under.
func (o *ObjHeader) Self() Handle { return o.self }

func (o *ObjHeader) header() *ObjHeader { return o }

// Object is implemented by every heap-allocated value.
type Object interface {
	header() *ObjHeader
	// trace grays every value the object references.
	trace(gc *collector)
	// size estimates the bytes the object accounts for in the heap.
	size() int
	// release drops owned buffers when the object is swept.
	release()
}

// identityHash derives a stable hash for objects compared by identity.
func identityHash(h Handle) uint32 {
	x := uint32(h.Index())*2654435761 ^ uint32(h.Gen())<<16
	if x == 0 {
		x = 1
	}
	return x
}

const headerSize = 32
