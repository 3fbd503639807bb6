// Package addr defines the fixed-width node address used throughout the
// collection protocol.
package addr

import "fmt"

// Len is the wire size of an Addr, in bytes.
const Len = 2

// Addr is an opaque fixed-width node identifier. The zero value is Null.
type Addr [Len]byte

// Null is the distinguished "no address" value.
var Null = Addr{}

// Equal reports whether a and b identify the same node.
func (a Addr) Equal(b Addr) bool {
	return a == b
}

// IsNull reports whether a is the distinguished null address.
func (a Addr) IsNull() bool {
	return a == Null
}

// String renders the address as colon-separated hex bytes, e.g. "f7:9c".
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x", a[0], a[1])
}

// FromBytes copies a 2-byte slice into an Addr. The caller must ensure
// len(b) >= Len.
func FromBytes(b []byte) Addr {
	var a Addr
	copy(a[:], b[:Len])
	return a
}

// Bytes returns the raw wire bytes of a.
func (a Addr) Bytes() []byte {
	b := make([]byte, Len)
	copy(b, a[:])
	return b
}
