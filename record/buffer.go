package record

// Buffer is the growable output sink of spec.md §2/§4.1: it starts backed
// by a caller-supplied scratch region and transparently migrates to owned
// heap storage the first time it overflows, doubling thereafter. It never
// shrinks on its own.
//
// base is always sliced to its live length, so len(base) is the "used"
// count and cap(base) is the capacity; there is no separate bookkeeping
// field to keep in sync.
//
// Grounded on the small-size-optimization idiom in the teacher's
// internal/mem.SliceForAppend, generalized into a standalone type because
// the spec requires the buffer to be an addressable, resettable component
// rather than a one-shot append helper.
type Buffer struct {
	base      []byte
	allocated bool
}

// Init attaches scratch as the buffer's initial backing store. scratch
// must be non-nil; it is not retained past the point the buffer migrates
// to heap storage.
func (b *Buffer) Init(scratch []byte) {
	b.base = scratch[:0]
	b.allocated = false
}

// Reserve ensures capacity for delta additional bytes beyond the current
// length, migrating from scratch to a heap allocation on first overflow
// and doubling on every subsequent one.
func (b *Buffer) Reserve(delta int) {
	need := len(b.base) + delta
	if need <= cap(b.base) {
		return
	}

	newCap := 2 * cap(b.base)
	if newCap < need {
		newCap = need
	}

	grown := make([]byte, len(b.base), newCap)
	copy(grown, b.base)
	b.base = grown
	b.allocated = true
}

// Append reserves room for p and copies it in, advancing the live length.
func (b *Buffer) Append(p []byte) {
	b.Reserve(len(p))
	n := len(b.base)
	b.base = b.base[:n+len(p)]
	copy(b.base[n:], p)
}

// Grow reserves n bytes and returns a slice of exactly that length at the
// current end of the buffer, without initializing its contents, advancing
// the live length as if it had been written. Callers fill it in directly
// to avoid a redundant copy (used by the record layer's AEAD seal path,
// which writes ciphertext straight into the buffer).
func (b *Buffer) Grow(n int) []byte {
	b.Reserve(n)
	start := len(b.base)
	b.base = b.base[:start+n]
	return b.base[start : start+n]
}

// Bytes returns the buffer's live contents. The returned slice is only
// valid until the next mutating call.
func (b *Buffer) Bytes() []byte {
	return b.base
}

// Len returns the number of live bytes in the buffer.
func (b *Buffer) Len() int {
	return len(b.base)
}

// Reset truncates the buffer back to zero length without releasing any
// heap allocation it has made.
func (b *Buffer) Reset() {
	b.base = b.base[:0]
}

// Dispose releases any heap allocation and zeroes the descriptor.
// Idempotent.
func (b *Buffer) Dispose() {
	if b.allocated {
		clear(b.base[:cap(b.base)])
	}
	b.base = nil
	b.allocated = false
}
