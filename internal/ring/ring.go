// Package ring implements a bounded byte FIFO with wrap-around indices.
//
// A Buffer is not safe for concurrent use; callers (the pipe package)
// are expected to serialize access with their own lock.
package ring

// Buffer is a fixed-capacity, first-in-first-out queue of bytes.
type Buffer struct {
	data []byte
	size int32
	free int32
	in   int32 // index where the next Put writes
	out  int32 // index where the next Get reads
}

// New allocates a Buffer backed by a newly allocated slice of the given
// capacity. Capacity may be zero, in which case Put/Get always report
// zero bytes transferred.
func New(capacity int) *Buffer {
	return &Buffer{
		data: make([]byte, capacity),
		size: int32(capacity),
		free: int32(capacity),
	}
}

// NewFromSlice binds storage supplied by the caller, matching spec.md's
// "buffer storage is supplied by the caller". The slice's current
// contents are discarded; occupancy starts at zero.
func NewFromSlice(storage []byte) *Buffer {
	return &Buffer{
		data: storage,
		size: int32(len(storage)),
		free: int32(len(storage)),
	}
}

// Capacity returns the buffer's fixed total capacity C.
func (b *Buffer) Capacity() int { return int(b.size) }

// Space returns the number of bytes that can currently be Put.
func (b *Buffer) Space() int { return int(b.free) }

// Occupancy returns the number of bytes currently queued.
func (b *Buffer) Occupancy() int { return int(b.size - b.free) }

// Put copies as many bytes from src as fit in the available space,
// returning the number actually copied.
func (b *Buffer) Put(src []byte) int {
	if b.size == 0 {
		return 0
	}
	n := int32(len(src))
	if n > b.free {
		n = b.free
	}
	if n == 0 {
		return 0
	}

	limit := b.in + n
	if limit <= b.size {
		copy(b.data[b.in:limit], src[:n])
	} else {
		head := b.size - b.in
		copy(b.data[b.in:b.size], src[:head])
		copy(b.data[0:limit-b.size], src[head:n])
	}

	b.in += n
	if b.in >= b.size {
		b.in -= b.size
	}
	b.free -= n
	return int(n)
}

// Get copies as many queued bytes into dst as fit, returning the number
// actually copied.
func (b *Buffer) Get(dst []byte) int {
	occ := b.size - b.free
	if occ == 0 {
		return 0
	}
	n := int32(len(dst))
	if n > occ {
		n = occ
	}
	if n == 0 {
		return 0
	}

	limit := b.out + n
	if limit <= b.size {
		copy(dst[:n], b.data[b.out:limit])
	} else {
		head := b.size - b.out
		copy(dst[:head], b.data[b.out:b.size])
		copy(dst[head:n], b.data[0:limit-b.size])
	}

	b.out += n
	if b.out >= b.size {
		b.out -= b.size
	}
	b.free += n
	return int(n)
}

// Reset discards all queued bytes without changing capacity.
func (b *Buffer) Reset() {
	b.in = 0
	b.out = 0
	b.free = b.size
}
