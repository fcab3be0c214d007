package vm

import "bytes"

// ---------------------------------------------------------------------------
// String hashing
// ---------------------------------------------------------------------------

// FNV-1a parameters. Only the first hashPrefixLen bytes contribute, so long
// strings hash in constant time.
const (
	fnvOffsetBasis uint32 = 2166136261
	fnvPrime       uint32 = 16777619
	hashPrefixLen         = 32
)

// HashBytes computes the content hash used for strings.
func HashBytes(b []byte) uint32 {
	if len(b) > hashPrefixLen {
		b = b[:hashPrefixLen]
	}
	h := fnvOffsetBasis
	for _, c := range b {
		h ^= uint32(c)
		h *= fnvPrime
	}
	return h
}

// ---------------------------------------------------------------------------
// String object
// ---------------------------------------------------------------------------

// String is an immutable byte string with a cached content hash.
type String struct {
	ObjHeader
	chars []byte
}

// newStringCopy copies b into a fresh, unregistered string.
func newStringCopy(b []byte) *String {
	chars := make([]byte, len(b))
	copy(chars, b)
	return adoptString(chars)
}

// adoptString takes ownership of buf without copying.
func adoptString(buf []byte) *String {
	s := &String{ObjHeader: ObjHeader{typ: ObjString}, chars: buf}
	s.RefreshHash()
	return s
}

// concatStrings builds left+right into a new buffer.
func concatStrings(left, right *String) *String {
	buf := make([]byte, 0, len(left.chars)+len(right.chars))
	buf = append(buf, left.chars...)
	buf = append(buf, right.chars...)
	return adoptString(buf)
}

// Len returns the length in bytes.
func (s *String) Len() int { return len(s.chars) }

// Bytes returns the contents. Callers must not modify the slice.
func (s *String) Bytes() []byte { return s.chars }

// Go returns the contents as a Go string.
func (s *String) Go() string { return string(s.chars) }

// At returns the byte at index i.
func (s *String) At(i int) byte { return s.chars[i] }

// Hash returns the cached content hash.
func (s *String) Hash() uint32 { return s.hash }

// RefreshHash recomputes the content hash. Idempotent.
func (s *String) RefreshHash() {
	s.hash = HashBytes(s.chars)
	s.hashSet = true
}

// Equal compares two strings by content.
func (s *String) Equal(o *String) bool {
	if s == o {
		return true
	}
	if len(s.chars) != len(o.chars) || s.hash != o.hash {
		return false
	}
	return bytes.Equal(s.chars, o.chars)
}

func (s *String) equalBytes(hash uint32, b []byte) bool {
	return s.hash == hash && len(s.chars) == len(b) && bytes.Equal(s.chars, b)
}

func (s *String) trace(*collector) {}

func (s *String) size() int { return headerSize + 24 + len(s.chars) }

func (s *String) release() { s.chars = nil }
