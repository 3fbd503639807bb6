// Package wire implements the binary packet envelope and header codec:
// the packet id, the beacon broadcast payload, the upward piggyback
// header, and the downward source-route header. Correctness of forwarding
// depends on this exact layout, which is why the codec lives with the
// protocol core rather than being treated as an external concern.
package wire

import (
	"github.com/tratteo/meshcollect/pkg/addr"
	"github.com/tratteo/meshcollect/pkg/buffer"
	"github.com/tratteo/meshcollect/pkg/linklayer"
	"github.com/tratteo/meshcollect/pkg/serrors"
)

// PacketID identifies the header that follows it in the envelope.
type PacketID uint8

const (
	// SourceRoute identifies a downward, source-routed data packet.
	SourceRoute PacketID = 0
	// Data identifies an upward data packet carrying a piggyback header.
	Data PacketID = 1
)

// WritePacketHeader prepends id followed by body as a single header
// allocation. If the link layer cannot satisfy the allocation, the write is
// a no-op.
func WritePacketHeader(buf linklayer.PacketBuffer, id PacketID, body []byte) error {
	if !buf.HeaderAlloc(1 + len(body)) {
		return nil
	}
	hdr := buf.Header()
	hdr[0] = byte(id)
	copy(hdr[1:], body)
	return nil
}

// ReadPacketID copies the first header byte and strips it from buf. If the
// packet is shorter than one byte, buf is left unchanged and ok is false.
func ReadPacketID(buf linklayer.PacketBuffer) (id PacketID, ok bool) {
	b := buf.Bytes()
	if len(b) < 1 {
		return 0, false
	}
	id = PacketID(b[0])
	buf.HeaderReduce(1)
	return id, true
}

// Beacon is the broadcast payload advertising the sink's current topology
// epoch and the sender's distance to the sink.
type Beacon struct {
	Seqn      uint16
	HopToSink uint16
}

// BeaconLen is the wire size of a Beacon.
const BeaconLen = 2 + 2

// Encode serializes b.
func (b Beacon) Encode() []byte {
	w := buffer.NewWriter(BeaconLen)
	defer w.Close()
	writeUint16(w, b.Seqn)
	writeUint16(w, b.HopToSink)
	return append([]byte(nil), w.Bytes()...)
}

// DecodeBeacon parses a Beacon from data, which must be exactly BeaconLen
// bytes; a shorter or longer broadcast payload is malformed and returns an
// error.
func DecodeBeacon(data []byte) (Beacon, error) {
	if len(data) != BeaconLen {
		return Beacon{}, serrors.New("wire: malformed beacon", "len", len(data), "want", BeaconLen)
	}
	r := buffer.NewReader(data)
	seqn, err := readUint16(r)
	if err != nil {
		return Beacon{}, err
	}
	hop, err := readUint16(r)
	if err != nil {
		return Beacon{}, err
	}
	return Beacon{Seqn: seqn, HopToSink: hop}, nil
}

// Piggyback is the upward reverse-path learning header carried on every
// DATA packet.
type Piggyback struct {
	Source addr.Addr
	Parent addr.Addr
	Hops   uint8
}

// PiggybackLen is the wire size of a Piggyback header.
const PiggybackLen = addr.Len + addr.Len + 1

// Encode serializes p.
func (p Piggyback) Encode() []byte {
	w := buffer.NewWriter(PiggybackLen)
	defer w.Close()
	w.Write(p.Source.Bytes())
	w.Write(p.Parent.Bytes())
	w.Write([]byte{p.Hops})
	return append([]byte(nil), w.Bytes()...)
}

// DecodePiggyback parses a Piggyback header from the front of data. It
// returns an error if fewer than PiggybackLen bytes are available.
func DecodePiggyback(data []byte) (Piggyback, error) {
	if len(data) < PiggybackLen {
		return Piggyback{}, serrors.New("wire: short data packet header", "len", len(data), "want", PiggybackLen)
	}
	r := buffer.NewReader(data)
	src, err := r.Read(addr.Len)
	if err != nil {
		return Piggyback{}, err
	}
	parent, err := r.Read(addr.Len)
	if err != nil {
		return Piggyback{}, err
	}
	hops, err := r.Read(1)
	if err != nil {
		return Piggyback{}, err
	}
	return Piggyback{
		Source: addr.FromBytes(src),
		Parent: addr.FromBytes(parent),
		Hops:   hops[0],
	}, nil
}

// SourceRouteHeader is the downward header enumerating the remaining hops
// after the next one (the next hop travels as the unicast destination, not
// in the header).
type SourceRouteHeader struct {
	Hops uint8
	Path []addr.Addr // remaining hops after the next one
}

// Encode serializes h as length, hops, path...
func (h SourceRouteHeader) Encode() []byte {
	w := buffer.NewWriter(2 + len(h.Path)*addr.Len)
	defer w.Close()
	w.Write([]byte{uint8(len(h.Path)), h.Hops})
	for _, a := range h.Path {
		w.Write(a.Bytes())
	}
	return append([]byte(nil), w.Bytes()...)
}

// DecodeSourceRouteHeader parses a SourceRouteHeader from the front of
// data, returning an error if the declared length's worth of addresses is
// not actually present.
func DecodeSourceRouteHeader(data []byte) (SourceRouteHeader, error) {
	if len(data) < 2 {
		return SourceRouteHeader{}, serrors.New("wire: short source route header", "len", len(data))
	}
	r := buffer.NewReader(data)
	lh, err := r.Read(2)
	if err != nil {
		return SourceRouteHeader{}, err
	}
	length, hops := lh[0], lh[1]
	if r.Remaining() < int(length)*addr.Len {
		return SourceRouteHeader{}, serrors.New("wire: short source route header, missing route info",
			"declared_length", length, "remaining", r.Remaining())
	}
	path := make([]addr.Addr, length)
	for i := range path {
		b, err := r.Read(addr.Len)
		if err != nil {
			return SourceRouteHeader{}, err
		}
		path[i] = addr.FromBytes(b)
	}
	return SourceRouteHeader{Hops: hops, Path: path}, nil
}

func writeUint16(w *buffer.Writer, v uint16) {
	w.Write([]byte{byte(v), byte(v >> 8)})
}

func readUint16(r *buffer.Reader) (uint16, error) {
	b, err := r.Read(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}
