// Package udpnet implements linklayer.Medium over UDP: broadcast frames
// travel as IPv4 multicast datagrams and unicast frames as plain UDP
// datagrams. Real radio hardware has no RSSI-free medium, so this backend
// accepts a caller-supplied RSSISource to stamp every inbound frame — on
// real hardware this would read a radio driver's attribute; in a lab
// deployment over an IP network it is typically a fixed or synthetic
// value.
package udpnet

import (
	"context"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/tratteo/meshcollect/pkg/linklayer"
	"github.com/tratteo/meshcollect/pkg/log"
	"github.com/tratteo/meshcollect/pkg/serrors"
)

// RSSISource supplies a synthetic RSSI for an inbound frame, keyed by the
// peer's link-layer address.
type RSSISource interface {
	RSSI(peer linklayer.Addr) int16
}

// FixedRSSI is the trivial RSSISource every frame reports the same value,
// the right choice for a wired or virtualized lab network with no
// meaningful signal strength of its own.
type FixedRSSI int16

// RSSI implements RSSISource.
func (f FixedRSSI) RSSI(linklayer.Addr) int16 { return int16(f) }

// AddressBook maps link-layer addresses to UDP endpoints, since linklayer.
// Addr is a 2-byte protocol identifier, not routable on its own.
type AddressBook interface {
	Lookup(a linklayer.Addr) (*net.UDPAddr, bool)
}

// Config configures a Medium.
type Config struct {
	// MulticastGroup is the IPv4 multicast address beacons are sent to and
	// received from, e.g. 239.0.0.1.
	MulticastGroup net.IP
	// Iface is the network interface multicast joins and sends through.
	Iface *net.Interface
	// Book resolves link-layer addresses to UDP endpoints for unicast.
	Book AddressBook
	// RSSI supplies the RSSI attribute stamped on every inbound frame.
	RSSI    RSSISource
	BufSize int
	Log     log.Logger
}

// Medium implements linklayer.Medium over UDP multicast (broadcast) and UDP
// unicast sockets.
type Medium struct {
	cfg Config
	log log.Logger
}

// New constructs a Medium from cfg. New opens no socket; each
// OpenBroadcast/OpenUnicast call opens its own.
func New(cfg Config) *Medium {
	l := cfg.Log
	if l == nil {
		l = log.Discard()
	}
	bufSize := cfg.BufSize
	if bufSize == 0 {
		bufSize = 512
	}
	cfg.BufSize = bufSize
	return &Medium{cfg: cfg, log: l}
}

// OpenBroadcast implements linklayer.Medium: it joins the configured
// multicast group on UDP port channel and returns an endpoint that sends
// to (and a goroutine that reads from) that group.
func (m *Medium) OpenBroadcast(self linklayer.Addr, channel uint16, recv linklayer.BroadcastReceiver) (linklayer.BroadcastEndpoint, error) {
	port := int(channel)
	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, serrors.Wrap("udpnet: listen multicast", err, "port", port)
	}
	pconn := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: m.cfg.MulticastGroup, Port: port}
	if err := pconn.JoinGroup(m.cfg.Iface, group); err != nil {
		conn.Close()
		return nil, serrors.Wrap("udpnet: join multicast group", err)
	}
	if m.cfg.Iface != nil {
		if err := pconn.SetMulticastInterface(m.cfg.Iface); err != nil {
			conn.Close()
			return nil, serrors.Wrap("udpnet: set multicast interface", err)
		}
	}

	ep := &broadcastEndpoint{
		self:    self,
		conn:    conn,
		group:   group,
		bufSize: m.cfg.BufSize,
	}
	go m.recvBroadcastLoop(conn, recv)
	return ep, nil
}

func (m *Medium) recvBroadcastLoop(conn *net.UDPConn, recv linklayer.BroadcastReceiver) {
	raw := make([]byte, m.cfg.BufSize)
	for {
		n, src, err := conn.ReadFromUDP(raw)
		if err != nil {
			return // conn closed
		}
		sender := m.resolveSender(src)
		buf := linklayer.NewBuffer(m.cfg.BufSize)
		buf.CopyFrom(raw[:n])
		if m.cfg.RSSI != nil {
			buf.SetRSSI(m.cfg.RSSI.RSSI(sender))
		}
		recv.ReceiveBroadcast(buf, sender)
	}
}

// resolveSender reverse-maps a UDP source back to a link-layer address by
// scanning the address book. A real deployment would instead carry the
// sender's link-layer address in-band; this backend keeps the wire format
// spec-exact and pays the lookup cost here instead.
func (m *Medium) resolveSender(src *net.UDPAddr) linklayer.Addr {
	if book, ok := m.cfg.Book.(interface {
		ReverseLookup(*net.UDPAddr) (linklayer.Addr, bool)
	}); ok {
		if a, ok := book.ReverseLookup(src); ok {
			return a
		}
	}
	return linklayer.Addr{}
}

type broadcastEndpoint struct {
	self    linklayer.Addr
	conn    *net.UDPConn
	group   *net.UDPAddr
	bufSize int
}

func (e *broadcastEndpoint) Send(ctx context.Context, buf linklayer.PacketBuffer) error {
	_, err := e.conn.WriteToUDP(buf.Bytes(), e.group)
	return err
}

// OpenUnicast implements linklayer.Medium: it binds a UDP socket on port
// channel and returns an endpoint that resolves destinations through
// the configured AddressBook.
func (m *Medium) OpenUnicast(self linklayer.Addr, channel uint16, recv linklayer.UnicastReceiver) (linklayer.UnicastEndpoint, error) {
	port := int(channel)
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, serrors.Wrap("udpnet: listen unicast", err, "port", port)
	}
	go m.recvUnicastLoop(conn, recv)
	return &unicastEndpoint{self: self, conn: conn, book: m.cfg.Book, bufSize: m.cfg.BufSize}, nil
}

func (m *Medium) recvUnicastLoop(conn *net.UDPConn, recv linklayer.UnicastReceiver) {
	raw := make([]byte, m.cfg.BufSize)
	for {
		n, src, err := conn.ReadFromUDP(raw)
		if err != nil {
			return
		}
		sender := m.resolveSender(src)
		buf := linklayer.NewBuffer(m.cfg.BufSize)
		buf.CopyFrom(raw[:n])
		if m.cfg.RSSI != nil {
			buf.SetRSSI(m.cfg.RSSI.RSSI(sender))
		}
		recv.ReceiveUnicast(buf, sender)
	}
}

type unicastEndpoint struct {
	self    linklayer.Addr
	conn    *net.UDPConn
	book    AddressBook
	bufSize int
}

// Send implements linklayer.UnicastEndpoint, returning 0 on a successful
// write and -1 if dest is not in the address book or the write fails.
func (e *unicastEndpoint) Send(ctx context.Context, dest linklayer.Addr, buf linklayer.PacketBuffer) int {
	raddr, ok := e.book.Lookup(dest)
	if !ok {
		return -1
	}
	if _, err := e.conn.WriteToUDP(buf.Bytes(), raddr); err != nil {
		return -1
	}
	return 0
}

// StaticBook is an AddressBook fixed at construction time, the right shape
// for a lab deployment where every peer's link-layer address and UDP
// endpoint is known up front (e.g. from a config file).
type StaticBook struct {
	byAddr map[linklayer.Addr]*net.UDPAddr
	byUDP  map[string]linklayer.Addr
}

// NewStaticBook builds a StaticBook from a link-layer-address-to-UDP-
// endpoint mapping.
func NewStaticBook(entries map[linklayer.Addr]*net.UDPAddr) *StaticBook {
	b := &StaticBook{
		byAddr: make(map[linklayer.Addr]*net.UDPAddr, len(entries)),
		byUDP:  make(map[string]linklayer.Addr, len(entries)),
	}
	for a, u := range entries {
		b.byAddr[a] = u
		b.byUDP[u.String()] = a
	}
	return b
}

// Lookup implements AddressBook.
func (b *StaticBook) Lookup(a linklayer.Addr) (*net.UDPAddr, bool) {
	u, ok := b.byAddr[a]
	return u, ok
}

// ReverseLookup resolves a UDP source address back to a link-layer address.
func (b *StaticBook) ReverseLookup(u *net.UDPAddr) (linklayer.Addr, bool) {
	a, ok := b.byUDP[u.String()]
	return a, ok
}
