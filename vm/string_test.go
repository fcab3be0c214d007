package vm

import (
	"hash/fnv"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Hashing tests
// ---------------------------------------------------------------------------

func fnvPrefix(s string) uint32 {
	if len(s) > 32 {
		s = s[:32]
	}
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func TestHashBytesMatchesFNV1a(t *testing.T) {
	inputs := []string{"", "a", "foobar", "hello, world", strings.Repeat("x", 32)}
	for _, s := range inputs {
		if got, want := HashBytes([]byte(s)), fnvPrefix(s); got != want {
			t.Errorf("HashBytes(%q) = %08x, want %08x", s, got, want)
		}
	}
	if HashBytes(nil) != 2166136261 {
		t.Errorf("empty hash = %d, want offset basis", HashBytes(nil))
	}
}

func TestHashBytesUsesPrefixOnly(t *testing.T) {
	prefix := strings.Repeat("p", 32)
	a := HashBytes([]byte(prefix + "tail one"))
	b := HashBytes([]byte(prefix + "another tail"))
	if a != b {
		t.Errorf("strings sharing a 32-byte prefix hash differently: %08x vs %08x", a, b)
	}
	if a != fnvPrefix(prefix) {
		t.Errorf("long string hash = %08x, want hash of prefix %08x", a, fnvPrefix(prefix))
	}
}

// ---------------------------------------------------------------------------
// Construction tests
// ---------------------------------------------------------------------------

func TestStringConstructors(t *testing.T) {
	src := []byte("abc")
	copied := newStringCopy(src)
	src[0] = 'z'
	if copied.Go() != "abc" {
		t.Errorf("copy aliased its input: %q", copied.Go())
	}

	buf := []byte("owned")
	adopted := adoptString(buf)
	if &adopted.Bytes()[0] != &buf[0] {
		t.Error("adoptString copied its buffer")
	}

	joined := concatStrings(newStringCopy([]byte("foo")), newStringCopy([]byte("bar")))
	if joined.Go() != "foobar" {
		t.Errorf("concat = %q, want %q", joined.Go(), "foobar")
	}
	if joined.Hash() != HashBytes([]byte("foobar")) {
		t.Error("concat hash differs from hash of the joined bytes")
	}
	if joined.Len() != 6 || joined.At(3) != 'b' {
		t.Errorf("Len/At = %d/%c, want 6/b", joined.Len(), joined.At(3))
	}
}

func TestStringRefreshHashIdempotent(t *testing.T) {
	s := newStringCopy([]byte("stable"))
	h := s.Hash()
	s.RefreshHash()
	s.RefreshHash()
	if s.Hash() != h {
		t.Errorf("RefreshHash changed hash from %08x to %08x", h, s.Hash())
	}
}

func TestStringEqual(t *testing.T) {
	a := newStringCopy([]byte("same"))
	b := newStringCopy([]byte("same"))
	c := newStringCopy([]byte("diff"))
	if !a.Equal(b) {
		t.Error("equal contents should compare equal")
	}
	if a.Equal(c) {
		t.Error("different contents should not compare equal")
	}
}

// ---------------------------------------------------------------------------
// Interning tests
// ---------------------------------------------------------------------------

func TestInterning(t *testing.T) {
	v := New(DefaultOptions())
	a := v.NewString("name")
	b := v.InternString([]byte("name"))
	c := v.AdoptString([]byte("name"))
	if a != b || a != c {
		t.Errorf("interned handles differ: %v %v %v", a.Handle(), b.Handle(), c.Handle())
	}
	if v.NewString("other") == a {
		t.Error("different contents interned to the same string")
	}
	if v.Heap().Len() != 2 {
		t.Errorf("heap holds %d objects, want 2", v.Heap().Len())
	}
}

func TestStringEqualityAcrossHandles(t *testing.T) {
	v := New(DefaultOptions())
	a := v.NewString("twin")
	// Strings registered without interning are distinct objects with
	// equal contents.
	b := v.RegisterObject(newStringCopy([]byte("twin")))
	if a == b {
		t.Fatal("expected distinct handles")
	}
	if !v.Equal(a, b) {
		t.Error("strings with equal contents should be equal")
	}
	if v.Equal(a, FromNumber(1)) {
		t.Error("string should not equal a number")
	}
}
