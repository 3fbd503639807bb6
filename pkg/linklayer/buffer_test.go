package linklayer

import "testing"

func TestBufferCopyFromThenData(t *testing.T) {
	b := NewBuffer(16)
	b.CopyFrom([]byte{1, 2, 3})
	if got, want := b.Data(), []byte{1, 2, 3}; string(got) != string(want) {
		t.Fatalf("Data() = %v, want %v", got, want)
	}
	if got, want := b.Bytes(), []byte{1, 2, 3}; string(got) != string(want) {
		t.Fatalf("Bytes() = %v, want %v", got, want)
	}
}

func TestBufferCopyFromTruncates(t *testing.T) {
	b := NewBuffer(2)
	b.CopyFrom([]byte{1, 2, 3, 4})
	if got, want := b.Data(), []byte{1, 2}; string(got) != string(want) {
		t.Fatalf("Data() = %v, want %v (truncated)", got, want)
	}
}

func TestBufferHeaderAllocShiftsPayloadRight(t *testing.T) {
	b := NewBuffer(16)
	b.CopyFrom([]byte{0xAA, 0xBB})
	if !b.HeaderAlloc(3) {
		t.Fatal("HeaderAlloc(3) = false, want true")
	}
	hdr := b.Header()
	if len(hdr) != 3 {
		t.Fatalf("Header() len = %d, want 3", len(hdr))
	}
	hdr[0], hdr[1], hdr[2] = 1, 2, 3

	// Data still reports only the original payload, unaffected by the header.
	if got, want := b.Data(), []byte{0xAA, 0xBB}; string(got) != string(want) {
		t.Fatalf("Data() = %v, want %v", got, want)
	}
	// Bytes reports the full wire-ready header+payload.
	if got, want := b.Bytes(), []byte{1, 2, 3, 0xAA, 0xBB}; string(got) != string(want) {
		t.Fatalf("Bytes() = %v, want %v", got, want)
	}
}

func TestBufferHeaderAllocOverflowFails(t *testing.T) {
	b := NewBuffer(4)
	b.CopyFrom([]byte{1, 2, 3})
	if b.HeaderAlloc(2) {
		t.Fatal("HeaderAlloc(2) = true, want false (would overflow 4-byte backing array)")
	}
	// Buffer is left unchanged.
	if got, want := b.Data(), []byte{1, 2, 3}; string(got) != string(want) {
		t.Fatalf("Data() after failed alloc = %v, want %v", got, want)
	}
}

func TestBufferHeaderReduceStripsFront(t *testing.T) {
	b := NewBuffer(16)
	b.CopyFrom([]byte{1, 2, 3})
	b.HeaderAlloc(2)
	hdr := b.Header()
	hdr[0], hdr[1] = 0xFF, 0xEE

	b.HeaderReduce(2) // strip the whole header in one call, as every decoder does
	if got, want := b.Data(), []byte{1, 2, 3}; string(got) != string(want) {
		t.Fatalf("Data() after HeaderReduce = %v, want %v", got, want)
	}
	if got, want := b.Bytes(), []byte{1, 2, 3}; string(got) != string(want) {
		t.Fatalf("Bytes() after HeaderReduce = %v, want %v", got, want)
	}
}

func TestBufferHeaderReduceBeyondLength(t *testing.T) {
	b := NewBuffer(16)
	b.CopyFrom([]byte{1, 2})
	b.HeaderReduce(5) // more than the buffer holds, clamped rather than panicking
	if got, want := len(b.Data()), 0; got != want {
		t.Fatalf("Data() len after over-reduce = %d, want %d", got, want)
	}
}

func TestBufferClearResetsEverything(t *testing.T) {
	b := NewBuffer(16)
	b.CopyFrom([]byte{1, 2, 3})
	b.HeaderAlloc(2)
	b.Clear()
	if got, want := b.Data(), []byte{}; len(got) != 0 {
		t.Fatalf("Data() after Clear = %v, want %v", got, want)
	}
	if got, want := b.Bytes(), []byte{}; len(got) != 0 {
		t.Fatalf("Bytes() after Clear = %v, want %v", got, want)
	}
}

func TestBufferRSSI(t *testing.T) {
	b := NewBuffer(4)
	b.SetRSSI(-42)
	if got, want := b.Attr(AttrRSSI), int16(-42); got != want {
		t.Fatalf("Attr(AttrRSSI) = %d, want %d", got, want)
	}
}
