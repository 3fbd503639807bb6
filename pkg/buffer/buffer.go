// Package buffer implements the sequential byte cursor the header codec is
// built on: a Writer over a freshly allocated region and a Reader over a
// caller-provided region, each advancing an internal offset on every
// operation. It has no notion of growing; a Writer is sized once at
// construction and a write that would overflow it is silently dropped, and
// a Reader that runs past the end of its region returns an error instead of
// reading undefined memory.
package buffer

import "github.com/tratteo/meshcollect/pkg/serrors"

// Writer is a write-only cursor over a newly allocated, fixed-size region.
type Writer struct {
	data   []byte
	offset int
}

// NewWriter allocates a Writer over a zeroed region of the given size.
func NewWriter(size int) *Writer {
	return &Writer{data: make([]byte, size)}
}

// Write appends b to the buffer at the current offset and advances it. If
// the write would overflow the buffer's capacity, it is silently dropped
// and the offset is left unchanged.
func (w *Writer) Write(b []byte) {
	if w.offset+len(b) > len(w.data) {
		return
	}
	copy(w.data[w.offset:], b)
	w.offset += len(b)
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.offset
}

// Bytes returns the backing region, exactly w.Len() bytes. Close releases
// the reference; callers must not use the returned slice afterward.
func (w *Writer) Bytes() []byte {
	return w.data[:w.offset]
}

// Close releases the Writer's backing region. A Writer allocates fresh
// memory per use, so Close simply drops the reference rather than
// returning it to a pool.
func (w *Writer) Close() {
	w.data = nil
}

// Reader is a read-only cursor over a caller-provided region. It never
// owns or releases that region.
type Reader struct {
	data   []byte
	offset int
}

// NewReader wraps ptr in a Reader starting at offset zero. The Reader does
// not copy ptr; it must outlive the Reader.
func NewReader(ptr []byte) *Reader {
	return &Reader{data: ptr}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// Read returns a view over the next n bytes and advances the offset. It
// returns an error, rather than reading past the end, if fewer than n
// bytes remain.
func (r *Reader) Read(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, serrors.New("buffer: short read", "want", n, "remaining", r.Remaining())
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

// Offset returns the current read offset.
func (r *Reader) Offset() int {
	return r.offset
}

// Close is a no-op: read-mode buffers never own their backing region.
func (r *Reader) Close() {}
