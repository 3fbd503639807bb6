package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tratteo/meshcollect/pkg/addr"
	"github.com/tratteo/meshcollect/pkg/linklayer"
)

func TestPacketHeaderRoundTrip(t *testing.T) {
	buf := linklayer.NewBuffer(32)
	buf.CopyFrom([]byte("payload"))
	if err := WritePacketHeader(buf, Data, []byte{0x11, 0x22}); err != nil {
		t.Fatal(err)
	}

	id, ok := ReadPacketID(buf)
	if !ok {
		t.Fatal("ReadPacketID: ok = false")
	}
	if id != Data {
		t.Fatalf("id = %v, want %v", id, Data)
	}
	if got, want := buf.Data(), []byte{0x11, 0x22, 'p', 'a', 'y', 'l', 'o', 'a', 'd'}; string(got) != string(want) {
		t.Fatalf("Data() after ReadPacketID = %v, want %v", got, want)
	}
}

func TestWritePacketHeaderOverflowIsNoop(t *testing.T) {
	buf := linklayer.NewBuffer(3)
	buf.CopyFrom([]byte{1, 2, 3})
	if err := WritePacketHeader(buf, Data, []byte{0xAA}); err != nil {
		t.Fatal(err)
	}
	// HeaderAlloc(2) could not fit in a 3-byte buffer already full of payload;
	// the buffer is left untouched.
	if got, want := buf.Data(), []byte{1, 2, 3}; string(got) != string(want) {
		t.Fatalf("Data() = %v, want %v", got, want)
	}
}

func TestReadPacketIDEmptyBuffer(t *testing.T) {
	buf := linklayer.NewBuffer(8)
	if _, ok := ReadPacketID(buf); ok {
		t.Fatal("ReadPacketID on empty buffer: ok = true, want false")
	}
}

func TestBeaconEncodeDecode(t *testing.T) {
	want := Beacon{Seqn: 7, HopToSink: 3}
	got, err := DecodeBeacon(want.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("DecodeBeacon(Encode()) = %+v, want %+v", got, want)
	}
}

func TestDecodeBeaconWrongLength(t *testing.T) {
	if _, err := DecodeBeacon([]byte{1, 2, 3}); err == nil {
		t.Fatal("DecodeBeacon with wrong length: want error, got nil")
	}
}

func TestPiggybackEncodeDecode(t *testing.T) {
	want := Piggyback{Source: addr.Addr{1, 2}, Parent: addr.Addr{3, 4}, Hops: 5}
	got, err := DecodePiggyback(want.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("DecodePiggyback(Encode()) = %+v, want %+v", got, want)
	}
}

func TestDecodePiggybackShort(t *testing.T) {
	if _, err := DecodePiggyback([]byte{1, 2, 3}); err == nil {
		t.Fatal("DecodePiggyback with short data: want error, got nil")
	}
}

func TestSourceRouteHeaderEncodeDecode(t *testing.T) {
	want := SourceRouteHeader{Hops: 2, Path: []addr.Addr{{0, 1}, {0, 2}}}
	encoded := want.Encode()
	if got, wantLen := encoded[0], uint8(2); got != wantLen {
		t.Fatalf("encoded length byte = %d, want %d", got, wantLen)
	}
	got, err := DecodeSourceRouteHeader(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("DecodeSourceRouteHeader mismatch (-want +got):\n%s", diff)
	}
}

func TestSourceRouteHeaderEmptyPath(t *testing.T) {
	want := SourceRouteHeader{Hops: 3, Path: nil}
	got, err := DecodeSourceRouteHeader(want.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.Hops != 3 || len(got.Path) != 0 {
		t.Fatalf("DecodeSourceRouteHeader = %+v, want Hops=3 empty Path", got)
	}
}

func TestDecodeSourceRouteHeaderMissingAddresses(t *testing.T) {
	// declares 2 hops of path but supplies none
	data := []byte{2, 0}
	if _, err := DecodeSourceRouteHeader(data); err == nil {
		t.Fatal("DecodeSourceRouteHeader with missing path bytes: want error, got nil")
	}
}
