// Package dataplane implements the two data paths the topology engine's
// parent/routing-table state exists to serve: upward send/receive of
// collected payloads (piggybacking reverse-path updates) and downward
// send/receive of source-routed payloads.
package dataplane

import (
	"context"

	"github.com/tratteo/meshcollect/internal/routing"
	"github.com/tratteo/meshcollect/pkg/addr"
	"github.com/tratteo/meshcollect/pkg/linklayer"
	"github.com/tratteo/meshcollect/pkg/log"
	"github.com/tratteo/meshcollect/pkg/metrics"
	"github.com/tratteo/meshcollect/pkg/serrors"
	"github.com/tratteo/meshcollect/pkg/wire"
)

// Sentinel errors returned by the send paths; callers compare with
// errors.Is rather than inspecting a raw negative return code.
var (
	ErrNoParent = serrors.New("dataplane: no parent")
	ErrNotSink  = serrors.New("dataplane: not sink")
	ErrNoRoute  = serrors.New("dataplane: no route")
)

// Topology is the subset of internal/topology.Engine the data plane
// depends on, kept as an interface so tests can fake parent/dirty state
// without constructing a real Engine.
type Topology interface {
	IsSink() bool
	Self() addr.Addr
	Parent() addr.Addr
	ConsumeDirtyForSend() bool
}

// SinkCallback is invoked at the sink when a non-empty upward payload
// reaches it: originator is the source address, hops is the number of
// links traversed.
type SinkCallback func(originator addr.Addr, hops uint8, payload []byte)

// NodeCallback is invoked when a downward source-routed packet reaches its
// destination.
type NodeCallback func(hops uint8, payload []byte)

// Plane owns the upward/downward data paths. It holds no mutex: every
// exported method must run on the single goroutine that serializes all
// protocol state, exactly as internal/topology.Engine requires.
type Plane struct {
	topo    Topology
	unicast linklayer.UnicastEndpoint // the data endpoint: used for both parent-bound and source-routed unicasts
	routes  *routing.Table            // nil at non-sink nodes
	log     log.Logger
	drops   metrics.Counter // labeled by reason
	onSink  SinkCallback
	onNode  NodeCallback
}

// Config configures a new Plane.
type Config struct {
	Topology Topology
	Unicast  linklayer.UnicastEndpoint // the data endpoint (channel+1)
	Routes   *routing.Table            // non-nil at the sink only
	Log      log.Logger
	Drops    metrics.Counter
	OnSink   SinkCallback
	OnNode   NodeCallback
}

// New constructs a Plane.
func New(cfg Config) *Plane {
	l := cfg.Log
	if l == nil {
		l = log.Discard()
	}
	d := cfg.Drops
	if d == nil {
		d = metrics.DiscardCounter()
	}
	return &Plane{
		topo:    cfg.Topology,
		unicast: cfg.Unicast,
		routes:  cfg.Routes,
		log:     l,
		drops:   d,
		onSink:  cfg.OnSink,
		onNode:  cfg.OnNode,
	}
}

// SendSink implements the upward send path: it fails with ErrNoParent if
// the node has no parent, otherwise it prepends a piggyback header
// (consuming the dirty/refreshed flag if a reverse-path update is due) and
// unicasts payload to the parent.
func (p *Plane) SendSink(ctx context.Context, buf linklayer.PacketBuffer, payload []byte) (int, error) {
	parent := p.topo.Parent()
	if parent.IsNull() {
		return 0, ErrNoParent
	}

	pb := wire.Piggyback{Source: p.topo.Self(), Parent: parent, Hops: 0}
	_ = p.topo.ConsumeDirtyForSend() // marks the update carried, if one was due

	buf.Clear()
	buf.CopyFrom(payload)
	if err := wire.WritePacketHeader(buf, wire.Data, pb.Encode()); err != nil {
		return 0, err
	}
	return p.unicast.Send(ctx, parent, buf), nil
}

// HandleData implements the upward receive path: the sink
// learns the reverse path and delivers non-empty payloads; any other node
// re-prepends the (incremented-hops) piggyback header and forwards to its
// own parent.
func (p *Plane) HandleData(ctx context.Context, buf linklayer.PacketBuffer) {
	pb, err := wire.DecodePiggyback(buf.Data())
	if err != nil {
		p.drops.With("malformed_data").Add(1)
		p.log.Debug("dropping malformed data packet", "err", err)
		return
	}
	buf.HeaderReduce(wire.PiggybackLen)
	pb.Hops++

	if p.topo.IsSink() {
		p.ingestRoute(pb)
		if len(buf.Data()) > 0 {
			if p.onSink != nil {
				p.onSink(pb.Source, pb.Hops, append([]byte(nil), buf.Data()...))
			}
		}
		return
	}

	parent := p.topo.Parent()
	if parent.IsNull() {
		p.drops.With("no_parent_forward").Add(1)
		return
	}
	fwd := wire.Piggyback{Source: pb.Source, Parent: pb.Parent, Hops: pb.Hops}
	payload := append([]byte(nil), buf.Data()...)
	buf.Clear()
	buf.CopyFrom(payload)
	if err := wire.WritePacketHeader(buf, wire.Data, fwd.Encode()); err != nil {
		p.log.Error("forward header alloc failed", "err", err)
		return
	}
	p.unicast.Send(ctx, parent, buf)
}

// ingestRoute records or refreshes the (source -> parent) routing entry:
// the entry is updated when the stored parent differs from the reported
// one; an unchanged report is a no-op, not a forced re-write.
func (p *Plane) ingestRoute(pb wire.Piggyback) {
	entry := routing.Entry{Child: pb.Source, Parent: pb.Parent}
	if _, existing, ok := p.routes.Get(pb.Source); ok {
		if !existing.Parent.Equal(pb.Parent) {
			p.routes.Update(entry)
		}
		return
	}
	if !p.routes.Add(entry) {
		p.drops.With("routing_table_full").Add(1)
		p.log.Debug("routing table full, dropping insert", "child", pb.Source)
	}
}

// BuildRoute walks the routing table from dest toward the sink and returns
// the forward path: path[0] is the first hop from the sink, path[len-1] is
// dest. It fails with ErrNoRoute if dest is unknown or if the walk does not
// reach self within table.Cap() steps (a loop in the stored entries).
func BuildRoute(routes *routing.Table, self, dest addr.Addr) ([]addr.Addr, error) {
	lookup := []addr.Addr{dest}
	current := dest
	for len(lookup) <= routes.Cap() {
		_, entry, ok := routes.Get(current)
		if !ok {
			return nil, ErrNoRoute
		}
		current = entry.Parent
		if current.Equal(self) {
			reversed := make([]addr.Addr, 0, len(lookup))
			for i := len(lookup) - 1; i >= 0; i-- {
				// A null address cannot appear in a healthy table; skip it
				// rather than emit an unroutable hop.
				if lookup[i].IsNull() {
					continue
				}
				reversed = append(reversed, lookup[i])
			}
			if len(reversed) == 0 {
				return nil, ErrNoRoute
			}
			return reversed, nil
		}
		lookup = append(lookup, current)
	}
	return nil, ErrNoRoute
}

// SendNode implements the downward send path: it fails with ErrNotSink if
// this node is not the sink, or ErrNoRoute if no path to dest exists or a
// loop is detected. Otherwise it builds the source-route header, unicasts
// to the first hop, and returns the link-layer result.
func (p *Plane) SendNode(ctx context.Context, buf linklayer.PacketBuffer, dest addr.Addr, payload []byte) (int, error) {
	if !p.topo.IsSink() {
		return 0, ErrNotSink
	}
	path, err := BuildRoute(p.routes, p.topo.Self(), dest)
	if err != nil {
		return 0, err
	}

	firstHop := path[0]
	tail := path[1:]
	hdr := wire.SourceRouteHeader{Hops: 0, Path: append([]addr.Addr(nil), tail...)}

	buf.Clear()
	buf.CopyFrom(payload)
	if err := wire.WritePacketHeader(buf, wire.SourceRoute, hdr.Encode()); err != nil {
		return 0, err
	}
	return p.unicast.Send(ctx, firstHop, buf), nil
}

// HandleSourceRoute implements the downward receive path: pop one address
// per hop until the path is empty, then deliver.
func (p *Plane) HandleSourceRoute(ctx context.Context, buf linklayer.PacketBuffer) {
	hdr, err := wire.DecodeSourceRouteHeader(buf.Data())
	if err != nil {
		p.drops.With("malformed_source_route").Add(1)
		p.log.Debug("dropping malformed source route packet", "err", err)
		return
	}
	consumed := 2 + len(hdr.Path)*addr.Len
	buf.HeaderReduce(consumed)
	hdr.Hops++

	if len(hdr.Path) == 0 {
		if p.onNode != nil {
			p.onNode(hdr.Hops, append([]byte(nil), buf.Data()...))
		}
		return
	}

	nextHop := hdr.Path[0]
	newHdr := wire.SourceRouteHeader{Hops: hdr.Hops, Path: hdr.Path[1:]}
	payload := append([]byte(nil), buf.Data()...)
	buf.Clear()
	buf.CopyFrom(payload)
	if err := wire.WritePacketHeader(buf, wire.SourceRoute, newHdr.Encode()); err != nil {
		p.log.Error("source route re-header failed", "err", err)
		return
	}
	p.unicast.Send(ctx, nextHop, buf)
}
