package vm

import "math"

// ---------------------------------------------------------------------------
// Table: robin-hood open-addressing hash map
// ---------------------------------------------------------------------------

const (
	TableMinCapacity  = 8
	TableLoadFactor   = 0.75
	TableGrowthFactor = 2

	entrySize = 24
)

// Entry is one slot of a table. A slot whose Key is Nil is free; a slot
// whose Key is Empty is a tombstone left by Delete.
type Entry struct {
	Key   Value
	Value Value
	Hash  uint32
	Dist  uint32 // probe distance from the home slot
}

func (e *Entry) live() bool { return e.Key != Nil && e.Key != Empty }

// Table maps Values to Values. It backs the language's map type and the
// VM's string intern table.
type Table struct {
	ObjHeader
	heap    *Heap
	entries []Entry

	numEntries int // live entries plus tombstones
	count      int // live entries
}

func newTable(heap *Heap, capHint int) *Table {
	t := &Table{ObjHeader: ObjHeader{typ: ObjTable}, heap: heap}
	if capHint > 0 {
		capacity := TableMinCapacity
		for float64(capHint) > float64(capacity)*TableLoadFactor {
			capacity *= TableGrowthFactor
		}
		t.entries = newEntries(capacity)
	}
	return t
}

// newEntries returns n free slots. The zero Value is the number 0, so
// every key has to be set to Nil explicitly.
func newEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i].Key = Nil
		entries[i].Value = Nil
	}
	return entries
}

// Len returns the number of live entries.
func (t *Table) Len() int { return t.count }

// Capacity returns the size of the entry array.
func (t *Table) Capacity() int { return len(t.entries) }

// Get returns the value stored under key, or Nil.
func (t *Table) Get(key Value) Value {
	v, _ := t.Lookup(key)
	return v
}

// Lookup returns the value stored under key and whether it was present.
func (t *Table) Lookup(key Value) (Value, bool) {
	if key == Nil || key == Empty {
		return Nil, false
	}
	i := t.find(key, t.heap.hashValue(key))
	if i < 0 {
		return Nil, false
	}
	return t.entries[i].Value, true
}

// Set stores value under key. It returns true when key was not present
// before. Nil and NaN keys are rejected: NaN never equals itself, so the
// entry could never be found again.
func (t *Table) Set(key, value Value) bool {
	if key == Nil || key == Empty || isNaNKey(key) {
		if t.heap.assertions {
			panic(internalErrorf("table key must not be %s", t.heap.TypeName(key)))
		}
		return false
	}
	t.ensureCapacity(t.numEntries + 1)

	hash := t.heap.hashValue(key)
	if i := t.find(key, hash); i >= 0 {
		t.entries[i].Value = value
		return false
	}
	t.insert(Entry{Key: key, Value: value, Hash: hash})
	t.count++
	return true
}

// Delete removes key, leaving a tombstone. It reports whether key was
// present.
func (t *Table) Delete(key Value) bool {
	if key == Nil || key == Empty {
		return false
	}
	i := t.find(key, t.heap.hashValue(key))
	if i < 0 {
		return false
	}
	t.entries[i] = Entry{Key: Empty, Value: Nil}
	t.count--
	return true
}

// FindString looks for a string key with the given contents. Only string
// keys are compared; probing stops at the first free slot.
func (t *Table) FindString(chars []byte) (Value, bool) {
	if len(t.entries) == 0 {
		return Nil, false
	}
	hash := HashBytes(chars)
	mask := uint32(len(t.entries) - 1)
	for i := hash & mask; ; i = (i + 1) & mask {
		e := &t.entries[i]
		if e.Key == Nil {
			return Nil, false
		}
		if e.Key == Empty || e.Hash != hash {
			continue
		}
		if s := t.heap.AsString(e.Key); s != nil && s.equalBytes(hash, chars) {
			return e.Key, true
		}
	}
}

func isNaNKey(v Value) bool { return v.IsNumber() && math.IsNaN(v.Number()) }

// Range calls fn for each live entry until fn returns false.
func (t *Table) Range(fn func(key, value Value) bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.live() && !fn(e.Key, e.Value) {
			return
		}
	}
}

// find returns the slot index holding key, or -1.
func (t *Table) find(key Value, hash uint32) int {
	if len(t.entries) == 0 {
		return -1
	}
	mask := uint32(len(t.entries) - 1)
	for i := hash & mask; ; i = (i + 1) & mask {
		e := &t.entries[i]
		if e.Key == Nil {
			return -1
		}
		if e.Key != Empty && e.Hash == hash && t.heap.Equal(e.Key, key) {
			return int(i)
		}
	}
}

// insert places e by robin-hood probing. The key must not be present.
func (t *Table) insert(e Entry) {
	mask := uint32(len(t.entries) - 1)
	e.Dist = 0
	for i := e.Hash & mask; ; i = (i + 1) & mask {
		slot := &t.entries[i]
		switch {
		case slot.Key == Nil:
			*slot = e
			t.numEntries++
			return
		case slot.Key == Empty:
			*slot = e
			return
		case slot.Dist < e.Dist:
			*slot, e = e, *slot
		}
		e.Dist++
	}
}

// ensureCapacity grows the table before an insert would push it past the
// load factor. When most occupied slots are tombstones the table is
// rebuilt at the same capacity instead.
func (t *Table) ensureCapacity(need int) {
	capacity := len(t.entries)
	if float64(need) <= float64(capacity)*TableLoadFactor {
		return
	}
	newCap := capacity * TableGrowthFactor
	switch {
	case newCap < TableMinCapacity:
		newCap = TableMinCapacity
	case float64(t.count+1) <= float64(capacity)*TableLoadFactor/2:
		newCap = capacity
	}
	t.rehash(newCap)
}

func (t *Table) rehash(capacity int) {
	old := t.entries
	t.entries = newEntries(capacity)
	t.numEntries = 0
	for i := range old {
		if old[i].live() {
			t.insert(old[i])
		}
	}
	if !t.self.IsZero() {
		t.heap.adjust((capacity - len(old)) * entrySize)
	}
}

func (t *Table) trace(gc *collector) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.live() {
			gc.markValue(e.Key)
			gc.markValue(e.Value)
		}
	}
}

func (t *Table) size() int { return headerSize + 48 + len(t.entries)*entrySize }

func (t *Table) release() { t.entries = nil }

// ---------------------------------------------------------------------------
// Key hashing
// ---------------------------------------------------------------------------

const (
	hashTrue  uint32 = 7
	hashFalse uint32 = 15
)

// hashValue returns the table hash of v. Strings hash by content, numbers
// by their IEEE bits, other objects by identity.
func (h *Heap) hashValue(v Value) uint32 {
	switch v.Kind() {
	case KindBool:
		if v == True {
			return hashTrue
		}
		return hashFalse
	case KindNumber:
		return hashNumber(v.Number())
	case KindObject:
		obj := h.get(v.Handle())
		switch o := obj.(type) {
		case *String:
			return o.hash
		case *Upvalue:
			return h.hashValue(h.upvalueGet(o))
		}
		hdr := obj.header()
		if !hdr.hashSet {
			hdr.hash = identityHash(hdr.self)
			hdr.hashSet = true
		}
		return hdr.hash
	}
	return 0
}

// hashNumber mixes all 64 bits of f. -0 and 0 compare equal so they must
// hash alike.
func hashNumber(f float64) uint32 {
	if f == 0 {
		f = 0
	}
	x := math.Float64bits(f)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return uint32(x) ^ uint32(x>>32)
}
