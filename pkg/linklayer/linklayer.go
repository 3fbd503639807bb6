// Package linklayer defines the contracts the protocol core depends on but
// does not implement: a packet buffer with header prepend/reduce and
// payload access, and broadcast/unicast endpoints with per-packet RSSI
// attribution. Only their interfaces to the core live here.
//
// Concrete backends live in sibling packages (simnet, udpnet); production
// deployments would supply a radio-driver-backed implementation instead.
package linklayer

import (
	"context"

	"github.com/tratteo/meshcollect/pkg/addr"
)

// Attr identifies a per-packet attribute a PacketBuffer can report.
type Attr int

// AttrRSSI is the only attribute the protocol core reads: the received
// signal strength of the packet currently held in the buffer.
const AttrRSSI Attr = iota

// PacketBuffer is the scratch region exclusively owned by the currently
// executing send or receive. It must be fully consumed or repopulated
// before control returns to the caller.
type PacketBuffer interface {
	// Clear resets the buffer to empty, discarding header and payload.
	Clear()
	// CopyFrom replaces the payload with a copy of data.
	CopyFrom(data []byte)
	// Data returns the current payload (header excluded).
	Data() []byte
	// Bytes returns the full contiguous region a transport must put on the
	// wire: every allocated header followed by the payload. Unlike Data,
	// it includes headers prepended via HeaderAlloc.
	Bytes() []byte
	// HeaderAlloc reserves n bytes immediately before the current content
	// (any earlier header, then the payload) and returns true on success, false if the allocation could not be
	// satisfied (the caller must treat the header write as a no-op).
	HeaderAlloc(n int) bool
	// Header returns the bytes of the most recently allocated header
	// region, sized exactly to the last successful HeaderAlloc call that
	// has not yet been reduced.
	Header() []byte
	// HeaderReduce strips n bytes from the front of the buffer (header
	// followed by payload, indistinguishable once allocated), exposing the
	// remainder as the new Data().
	HeaderReduce(n int)
	// Attr returns the given per-packet attribute, e.g. RSSI.
	Attr(attr Attr) int16
}

// BroadcastEndpoint sends on the shared broadcast medium.
type BroadcastEndpoint interface {
	Send(ctx context.Context, buf PacketBuffer) error
}

// UnicastEndpoint sends to a single destination and reports the underlying
// send result as an int, non-negative on success.
type UnicastEndpoint interface {
	Send(ctx context.Context, dest Addr, buf PacketBuffer) int
}

// Addr is re-exported so callers of this package do not need a separate
// import of pkg/addr for the common case; it is an alias, not a copy.
type Addr = addr.Addr

// BroadcastReceiver is invoked by a BroadcastEndpoint's transport on every
// inbound frame, with the owning protocol instance's buffer already
// populated. sender is the link-layer source address.
type BroadcastReceiver interface {
	ReceiveBroadcast(buf PacketBuffer, sender Addr)
}

// UnicastReceiver is invoked by a UnicastEndpoint's transport on every
// inbound frame addressed to this node.
type UnicastReceiver interface {
	ReceiveUnicast(buf PacketBuffer, sender Addr)
}

// Medium opens broadcast/unicast endpoints bound to a local address and a
// channel number, registering the owning instance as the receive callback
// context directly.
type Medium interface {
	OpenBroadcast(self Addr, channel uint16, recv BroadcastReceiver) (BroadcastEndpoint, error)
	OpenUnicast(self Addr, channel uint16, recv UnicastReceiver) (UnicastEndpoint, error)
}
