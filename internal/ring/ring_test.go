package ring

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	b := New(8)
	if n := b.Put([]byte("abcd")); n != 4 {
		t.Fatalf("Put = %d, want 4", n)
	}
	if b.Occupancy() != 4 || b.Space() != 4 {
		t.Fatalf("occupancy=%d space=%d, want 4,4", b.Occupancy(), b.Space())
	}

	dst := make([]byte, 4)
	if n := b.Get(dst); n != 4 || string(dst) != "abcd" {
		t.Fatalf("Get = %d %q, want 4 abcd", n, dst)
	}
	if b.Occupancy() != 0 || b.Space() != 8 {
		t.Fatalf("occupancy=%d space=%d, want 0,8", b.Occupancy(), b.Space())
	}
}

func TestWrapAround(t *testing.T) {
	b := New(4)
	b.Put([]byte("ab"))
	dst := make([]byte, 2)
	b.Get(dst) // consume "ab", out index now at 2

	if n := b.Put([]byte("cdef")); n != 4 {
		t.Fatalf("Put = %d, want 4 (wrap across the end of the backing array)", n)
	}
	out := make([]byte, 4)
	if n := b.Get(out); n != 4 || string(out) != "cdef" {
		t.Fatalf("Get = %d %q, want 4 cdef", n, out)
	}
}

func TestPutBoundedBySpace(t *testing.T) {
	b := New(2)
	if n := b.Put([]byte("abcdef")); n != 2 {
		t.Fatalf("Put = %d, want 2 (capped at capacity)", n)
	}
	if n := b.Put([]byte("x")); n != 0 {
		t.Fatalf("Put on full buffer = %d, want 0", n)
	}
}

func TestGetBoundedByOccupancy(t *testing.T) {
	b := New(8)
	b.Put([]byte("ab"))
	if n := b.Get(make([]byte, 10)); n != 2 {
		t.Fatalf("Get = %d, want 2 (capped at occupancy)", n)
	}
	if n := b.Get(make([]byte, 10)); n != 0 {
		t.Fatalf("Get on empty buffer = %d, want 0", n)
	}
}

func TestResetDiscardsContents(t *testing.T) {
	b := New(4)
	b.Put([]byte("abcd"))
	b.Reset()
	if b.Occupancy() != 0 || b.Space() != 4 {
		t.Fatalf("after Reset occupancy=%d space=%d, want 0,4", b.Occupancy(), b.Space())
	}
}

func TestZeroCapacity(t *testing.T) {
	b := New(0)
	if n := b.Put([]byte("a")); n != 0 {
		t.Fatalf("Put on zero-capacity buffer = %d, want 0", n)
	}
	if n := b.Get(make([]byte, 1)); n != 0 {
		t.Fatalf("Get on zero-capacity buffer = %d, want 0", n)
	}
}

func TestNewFromSlice(t *testing.T) {
	storage := make([]byte, 4)
	b := NewFromSlice(storage)
	if b.Capacity() != 4 || b.Space() != 4 {
		t.Fatalf("capacity=%d space=%d, want 4,4", b.Capacity(), b.Space())
	}
}
