// Package meshcollect implements a two-way collection protocol for a
// multi-hop, low-power wireless mesh: an upward, beacon-driven spanning
// tree that carries data many-to-one toward a sink, and downward,
// source-routed delivery that carries data one-to-many back out from the
// sink.
//
// A Protocol instance serializes every state mutation — timer fires,
// inbound frames, and outbound Send calls — onto a single internal
// goroutine, so internal/topology, internal/dataplane, and internal/routing
// never need a lock. Callers invoke SendSink/SendNode/
// Snapshot/RoutingEntries from any goroutine; each call is handed to the
// dispatch goroutine and its result is returned synchronously.
package meshcollect

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tratteo/meshcollect/internal/dataplane"
	"github.com/tratteo/meshcollect/internal/perflog"
	"github.com/tratteo/meshcollect/internal/routing"
	"github.com/tratteo/meshcollect/internal/topology"
	"github.com/tratteo/meshcollect/pkg/addr"
	"github.com/tratteo/meshcollect/pkg/linklayer"
	"github.com/tratteo/meshcollect/pkg/log"
	"github.com/tratteo/meshcollect/pkg/metrics"
	"github.com/tratteo/meshcollect/pkg/serrors"
	"github.com/tratteo/meshcollect/pkg/wire"
)

// ErrClosed is returned by public methods called after Close.
var ErrClosed = serrors.New("meshcollect: protocol closed")

// Send-path sentinels, re-exported from the internal data plane so callers
// outside this module can match them with errors.Is.
var (
	// ErrNoParent is returned by SendSink before a beacon has established a
	// parent.
	ErrNoParent = dataplane.ErrNoParent
	// ErrNotSink is returned by SendNode at a non-sink node.
	ErrNotSink = dataplane.ErrNotSink
	// ErrNoRoute is returned by SendNode when dest is unknown or the stored
	// entries loop without reaching the sink.
	ErrNoRoute = dataplane.ErrNoRoute
)

// Re-exported so callers don't need a separate pkg/addr import for the
// common case of constructing Options.Self.
type Addr = addr.Addr

// Callbacks are the application-level delivery hooks.
type Callbacks struct {
	// OnSink is invoked at the sink when a non-empty upward payload
	// arrives: originator is the source node, hops the path length.
	OnSink func(originator Addr, hops uint8, payload []byte)
	// OnNode is invoked when a downward source-routed payload reaches its
	// destination.
	OnNode func(hops uint8, payload []byte)
}

// Options configures a new Protocol.
type Options struct {
	IsSink  bool
	Self    Addr
	Channel uint16
	// Nodes sizes the beacon de-duplication cache and, at the sink, the
	// initial routing-table capacity.
	Nodes     int
	Medium    linklayer.Medium
	Callbacks Callbacks

	// MaxPacketSize bounds every linklayer.Buffer this instance allocates.
	// Zero defaults to 128, comfortably above any header this protocol
	// produces plus a modest application payload.
	MaxPacketSize int

	Log        log.Logger
	Registerer prometheus.Registerer // nil registers nothing
	Rand       topology.Rand         // nil uses math/rand
	Perf       *perflog.Log          // nil disables beacon lifecycle tracing
}

const defaultMaxPacketSize = 128

// Protocol is one opened instance of the collection protocol bound to a
// single link-layer medium and address.
type Protocol struct {
	self    Addr
	bufSize int

	topo   *topology.Engine
	plane  *dataplane.Plane
	routes *routing.Table // nil at non-sink nodes

	bcast linklayer.BroadcastEndpoint
	log   log.Logger

	work   chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// Open initializes protocol state, opens the broadcast and data (channel+1)
// endpoints on medium, and — at the sink — arms the initial beacon timer
// and allocates a growable routing table of initial capacity nodes.
func Open(ctx context.Context, opts Options) (*Protocol, error) {
	l := opts.Log
	if l == nil {
		l = log.Discard()
	}
	bufSize := opts.MaxPacketSize
	if bufSize == 0 {
		bufSize = defaultMaxPacketSize
	}

	var routes *routing.Table
	if opts.IsSink {
		routes = routing.New(opts.Nodes, true)
	}

	p := &Protocol{
		self:    opts.Self,
		bufSize: bufSize,
		routes:  routes,
		log:     l,
		work:    make(chan func(), 64),
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	acceptCounter := metrics.NewCounter(opts.Registerer, "meshcollect", "topology",
		"beacon_accept_total", "beacon acceptance ladder outcomes", "result")
	dropCounter := metrics.NewCounter(opts.Registerer, "meshcollect", "dataplane",
		"drop_total", "packets dropped by the data plane", "reason")

	p.topo = topology.New(topology.Config{
		IsSink: opts.IsSink,
		Self:   opts.Self,
		Nodes:  opts.Nodes,
		Hooks: topology.Hooks{
			SendBeacon:          p.sendBeacon,
			SendDedicatedUpdate: p.sendDedicatedUpdate,
			Dispatch:            p.dispatch,
		},
		Rand:    opts.Rand,
		Log:     l,
		Counter: acceptCounter,
		Perf:    opts.Perf,
	})

	bcast, err := opts.Medium.OpenBroadcast(opts.Self, opts.Channel, p)
	if err != nil {
		return nil, serrors.Wrap("meshcollect: open broadcast endpoint", err)
	}
	unicast, err := opts.Medium.OpenUnicast(opts.Self, opts.Channel+1, p)
	if err != nil {
		return nil, serrors.Wrap("meshcollect: open unicast endpoint", err)
	}
	p.bcast = bcast

	p.plane = dataplane.New(dataplane.Config{
		Topology: p.topo,
		Unicast:  unicast,
		Routes:   routes,
		Log:      l,
		Drops:    dropCounter,
		OnSink:   dataplane.SinkCallback(opts.Callbacks.OnSink),
		OnNode:   dataplane.NodeCallback(opts.Callbacks.OnNode),
	})

	p.wg.Add(1)
	go p.runDispatch()

	// Safe to call directly: the dispatch goroutine above is already
	// running to receive any timer fire, but nothing else has touched
	// engine state yet, so there is no concurrent access to race with.
	p.topo.Start(p.ctx)

	return p, nil
}

// Close tears down the protocol instance: engine timers are stopped, the
// dispatch goroutine is stopped, and the routing table is released.
// In-flight unicasts in the link layer are not recalled.
func (p *Protocol) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.topo.Close()
		if p.routes != nil {
			p.routes.Close()
		}
	})
}

func (p *Protocol) runDispatch() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.work:
			fn()
		case <-p.ctx.Done():
			return
		}
	}
}

// dispatch submits fn to run on the single protocol goroutine. It is the
// Go-idiomatic stand-in for a bare-metal host event loop: every timer fire
// and inbound frame is funneled through here rather than running inline on
// whatever goroutine triggered it
// (time.AfterFunc's own goroutine, or the link layer's receive goroutine).
func (p *Protocol) dispatch(fn func()) {
	select {
	case p.work <- fn:
	case <-p.ctx.Done():
	}
}

func (p *Protocol) sendBeacon(ctx context.Context, b wire.Beacon) error {
	buf := linklayer.NewBuffer(p.bufSize)
	buf.CopyFrom(b.Encode())
	return p.bcast.Send(ctx, buf)
}

func (p *Protocol) sendDedicatedUpdate(ctx context.Context) {
	buf := linklayer.NewBuffer(p.bufSize)
	if _, err := p.plane.SendSink(ctx, buf, nil); err != nil {
		p.log.Error("dedicated topology update failed", "err", err)
	}
}

// ReceiveBroadcast implements linklayer.BroadcastReceiver. Beacon fields are
// decoded immediately, since buf is only valid for the duration of this
// call; only the decoded value and RSSI are retained across the dispatch
// boundary.
func (p *Protocol) ReceiveBroadcast(buf linklayer.PacketBuffer, sender linklayer.Addr) {
	b, err := wire.DecodeBeacon(buf.Data())
	if err != nil {
		p.log.Debug("dropping malformed beacon", "err", err)
		return
	}
	rssi := buf.Attr(linklayer.AttrRSSI)
	p.dispatch(func() {
		p.topo.ReceiveBeacon(sender, b, rssi)
	})
}

// ReceiveUnicast implements linklayer.UnicastReceiver. The remaining bytes
// are copied into a fresh buffer before dispatch, for the same
// scoped-buffer reason as ReceiveBroadcast.
func (p *Protocol) ReceiveUnicast(buf linklayer.PacketBuffer, sender linklayer.Addr) {
	id, ok := wire.ReadPacketID(buf)
	if !ok {
		p.log.Debug("dropping empty unicast frame")
		return
	}
	rest := append([]byte(nil), buf.Data()...)

	switch id {
	case wire.Data:
		p.dispatch(func() {
			tmp := linklayer.NewBuffer(p.bufSize)
			tmp.CopyFrom(rest)
			p.plane.HandleData(p.ctx, tmp)
		})
	case wire.SourceRoute:
		p.dispatch(func() {
			tmp := linklayer.NewBuffer(p.bufSize)
			tmp.CopyFrom(rest)
			p.plane.HandleSourceRoute(p.ctx, tmp)
		})
	default:
		p.log.Debug("dropping unicast frame with unknown packet id", "id", id)
	}
}

// result carries a send outcome back across the dispatch boundary.
type result struct {
	n   int
	err error
}

// SendSink sends payload upward toward the sink: ErrNoParent if this node
// has no parent yet, otherwise the link-layer unicast result.
func (p *Protocol) SendSink(ctx context.Context, payload []byte) (int, error) {
	resCh := make(chan result, 1)
	job := func() {
		buf := linklayer.NewBuffer(p.bufSize)
		n, err := p.plane.SendSink(ctx, buf, payload)
		resCh <- result{n, err}
	}
	if err := p.submit(ctx, job); err != nil {
		return 0, err
	}
	return p.await(ctx, resCh)
}

// SendNode source-routes payload down to dest: ErrNotSink if this node is
// not the sink, ErrNoRoute if dest is unreachable or a loop was detected,
// otherwise the link-layer unicast result.
func (p *Protocol) SendNode(ctx context.Context, dest Addr, payload []byte) (int, error) {
	resCh := make(chan result, 1)
	job := func() {
		buf := linklayer.NewBuffer(p.bufSize)
		n, err := p.plane.SendNode(ctx, buf, dest, payload)
		resCh <- result{n, err}
	}
	if err := p.submit(ctx, job); err != nil {
		return 0, err
	}
	return p.await(ctx, resCh)
}

// Snapshot returns a point-in-time copy of the topology engine's state.
func (p *Protocol) Snapshot(ctx context.Context) (topology.Snapshot, error) {
	resCh := make(chan topology.Snapshot, 1)
	job := func() { resCh <- p.topo.Snapshot() }
	if err := p.submit(ctx, job); err != nil {
		return topology.Snapshot{}, err
	}
	select {
	case s := <-resCh:
		return s, nil
	case <-ctx.Done():
		return topology.Snapshot{}, ctx.Err()
	}
}

// RoutingEntries returns a copy of the sink's routing table, or nil at a
// non-sink node.
func (p *Protocol) RoutingEntries(ctx context.Context) ([]routing.Entry, error) {
	if p.routes == nil {
		return nil, nil
	}
	resCh := make(chan []routing.Entry, 1)
	job := func() { resCh <- p.routes.Entries() }
	if err := p.submit(ctx, job); err != nil {
		return nil, err
	}
	select {
	case e := <-resCh:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Protocol) submit(ctx context.Context, job func()) error {
	select {
	case p.work <- job:
		return nil
	case <-p.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Protocol) await(ctx context.Context, resCh <-chan result) (int, error) {
	select {
	case r := <-resCh:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
