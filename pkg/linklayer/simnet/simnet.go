// Package simnet implements an in-memory linklayer.Medium for deterministic
// tests: a shared virtual broadcast domain with an explicit, caller-set
// adjacency (link present or absent, with an RSSI value), so tests can
// construct exact topologies without a real radio. Delivery is synchronous
// on the sender's goroutine; this backend starts no goroutines of its own.
package simnet

import (
	"context"
	"sync"

	"github.com/tratteo/meshcollect/pkg/linklayer"
)

type key struct {
	addr linklayer.Addr
	ch   uint16
}

// Medium is a shared virtual radio medium. The zero value is not usable;
// construct with New.
type Medium struct {
	mu sync.Mutex

	links map[key]map[linklayer.Addr]int16 // self+channel -> peer -> rssi

	broadcastRecv map[key]linklayer.BroadcastReceiver
	unicastRecv   map[key]linklayer.UnicastReceiver

	bufSize int
}

// New constructs an empty Medium. bufSize bounds the size of the
// linklayer.Buffer allocated per delivered frame.
func New(bufSize int) *Medium {
	return &Medium{
		links:         make(map[key]map[linklayer.Addr]int16),
		broadcastRecv: make(map[key]linklayer.BroadcastReceiver),
		unicastRecv:   make(map[key]linklayer.UnicastReceiver),
		bufSize:       bufSize,
	}
}

// SetLink makes the medium deliver frames between a and b on channel with
// the given RSSI, symmetrically. A pair for which SetLink was never called
// on a channel is unreachable on that channel.
func (m *Medium) SetLink(a, b linklayer.Addr, channel uint16, rssi int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setOneWay(a, b, channel, rssi)
	m.setOneWay(b, a, channel, rssi)
}

func (m *Medium) setOneWay(from, to linklayer.Addr, channel uint16, rssi int16) {
	k := key{from, channel}
	if m.links[k] == nil {
		m.links[k] = make(map[linklayer.Addr]int16)
	}
	m.links[k][to] = rssi
}

// OpenBroadcast implements linklayer.Medium.
func (m *Medium) OpenBroadcast(self linklayer.Addr, channel uint16, recv linklayer.BroadcastReceiver) (linklayer.BroadcastEndpoint, error) {
	m.mu.Lock()
	m.broadcastRecv[key{self, channel}] = recv
	m.mu.Unlock()
	return &broadcastEndpoint{m: m, self: self, channel: channel}, nil
}

// OpenUnicast implements linklayer.Medium.
func (m *Medium) OpenUnicast(self linklayer.Addr, channel uint16, recv linklayer.UnicastReceiver) (linklayer.UnicastEndpoint, error) {
	m.mu.Lock()
	m.unicastRecv[key{self, channel}] = recv
	m.mu.Unlock()
	return &unicastEndpoint{m: m, self: self, channel: channel}, nil
}

type broadcastEndpoint struct {
	m       *Medium
	self    linklayer.Addr
	channel uint16
}

func (e *broadcastEndpoint) Send(ctx context.Context, buf linklayer.PacketBuffer) error {
	payload := append([]byte(nil), buf.Bytes()...)

	e.m.mu.Lock()
	peers := e.m.links[key{e.self, e.channel}]
	recvs := make(map[linklayer.Addr]linklayer.BroadcastReceiver, len(peers))
	rssis := make(map[linklayer.Addr]int16, len(peers))
	for peer, rssi := range peers {
		if recv, ok := e.m.broadcastRecv[key{peer, e.channel}]; ok {
			recvs[peer] = recv
			rssis[peer] = rssi
		}
	}
	bufSize := e.m.bufSize
	e.m.mu.Unlock()

	for peer, recv := range recvs {
		b := linklayer.NewBuffer(bufSize)
		b.CopyFrom(payload)
		b.SetRSSI(rssis[peer])
		recv.ReceiveBroadcast(b, e.self)
	}
	return nil
}

type unicastEndpoint struct {
	m       *Medium
	self    linklayer.Addr
	channel uint16
}

// Send delivers buf to dest if a link is configured, returning 0 on success
// and -1 if dest is unreachable on this channel.
func (e *unicastEndpoint) Send(ctx context.Context, dest linklayer.Addr, buf linklayer.PacketBuffer) int {
	payload := append([]byte(nil), buf.Bytes()...)

	e.m.mu.Lock()
	rssi, linked := e.m.links[key{e.self, e.channel}][dest]
	recv, ok := e.m.unicastRecv[key{dest, e.channel}]
	bufSize := e.m.bufSize
	e.m.mu.Unlock()

	if !linked || !ok {
		return -1
	}
	b := linklayer.NewBuffer(bufSize)
	b.CopyFrom(payload)
	b.SetRSSI(rssi)
	recv.ReceiveUnicast(b, e.self)
	return 0
}
