// Package topology implements the beacon protocol: beacon emission and
// reception, the sequence-number/metric/RSSI parent-selection ladder, and
// the dirty/refreshed coordination that guarantees at most one dedicated
// reverse-path update per parent change.
package topology

import (
	"context"
	"math"
	"math/rand"
	"time"

	lru "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/tratteo/meshcollect/internal/params"
	"github.com/tratteo/meshcollect/internal/perflog"
	"github.com/tratteo/meshcollect/internal/xtimer"
	"github.com/tratteo/meshcollect/pkg/addr"
	"github.com/tratteo/meshcollect/pkg/log"
	"github.com/tratteo/meshcollect/pkg/metrics"
	"github.com/tratteo/meshcollect/pkg/wire"
)

// Rand is the random-number source used for forward-delay jitter, injected
// so tests can make propagation deterministic.
type Rand interface {
	Int63n(n int64) int64
}

type defaultRand struct{}

func (defaultRand) Int63n(n int64) int64 { return rand.Int63n(n) }

// Hooks are the side effects the engine triggers; the owning protocol
// instance wires these to the link layer and to the dataplane.
type Hooks struct {
	// SendBeacon broadcasts b.
	SendBeacon func(ctx context.Context, b wire.Beacon) error
	// SendDedicatedUpdate sends an empty-payload upward packet carrying the
	// reverse-path update (dataplane.SendSink with no payload).
	SendDedicatedUpdate func(ctx context.Context)
	// Dispatch serializes fn with every other protocol state mutation; all
	// timer fires are submitted through it rather than run inline, since
	// time.AfterFunc otherwise runs on its own goroutine.
	Dispatch func(fn func())
}

// Engine owns the topology half of a protocol instance's state: parent,
// hop-to-sink, parent RSSI, beacon epoch, and the dirty/refreshed pair.
//
// Engine is not safe for concurrent use. Every exported method must be
// called from the single goroutine the owning Protocol serializes all
// state mutation through; that is what lets this type hold plain fields
// instead of a mutex.
type Engine struct {
	isSink bool
	self   addr.Addr
	hooks  Hooks
	rand   Rand
	log    log.Logger

	acceptedCounter metrics.Counter // labeled by outcome

	parent     addr.Addr
	hopToSink  uint16
	parentRSSI int16
	beaconSeqn uint16
	dirty      bool
	refreshed  bool

	beaconTimer   xtimer.Timer
	topologyTimer xtimer.Timer

	dedup *lru.ARCCache[dedupKey, struct{}]
	perf  *perflog.Log // optional beacon lifecycle trace

	ctx    context.Context
	cancel context.CancelFunc
}

type dedupKey struct {
	sender addr.Addr
	seqn   uint16
}

// Config configures a new Engine.
type Config struct {
	IsSink  bool
	Self    addr.Addr
	Nodes   int
	Hooks   Hooks
	Rand    Rand // nil uses math/rand
	Log     log.Logger
	Counter metrics.Counter // labeled "result": accepted/stale_epoch/weak_rssi/no_improvement/tie_lost
	Perf    *perflog.Log    // optional beacon lifecycle trace; nil disables it
}

// New constructs an Engine in its just-opened state: no parent, hop count
// to the sink 0 at the sink itself and unbounded elsewhere.
func New(cfg Config) *Engine {
	r := cfg.Rand
	if r == nil {
		r = defaultRand{}
	}
	l := cfg.Log
	if l == nil {
		l = log.Discard()
	}
	c := cfg.Counter
	if c == nil {
		c = metrics.DiscardCounter()
	}
	hop := uint16(math.MaxUint16)
	if cfg.IsSink {
		hop = 0
	}
	dedupSize := cfg.Nodes * 4
	if dedupSize < 8 {
		dedupSize = 8
	}
	dedup, _ := lru.NewARC[dedupKey, struct{}](dedupSize)
	return &Engine{
		isSink:          cfg.IsSink,
		self:            cfg.Self,
		hooks:           cfg.Hooks,
		rand:            r,
		log:             l,
		acceptedCounter: c,
		parent:          addr.Null,
		hopToSink:       hop,
		parentRSSI:      math.MinInt16,
		beaconSeqn:      0,
		dedup:           dedup,
		perf:            cfg.Perf,
	}
}

// Start arms the initial beacon timer (sink only) and binds the engine's
// lifetime to ctx; Close cancels it.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	if e.isSink {
		e.beaconSeqn = 1
		e.beaconTimer.Set(params.InitBeaconDelay, e.dispatchBeaconFire)
	}
}

// Close releases the engine's timers.
func (e *Engine) Close() {
	e.beaconTimer.Stop()
	e.topologyTimer.Stop()
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) dispatchBeaconFire()   { e.hooks.Dispatch(e.onBeaconTimer) }
func (e *Engine) dispatchTopologyFire() { e.hooks.Dispatch(e.onTopologyTimer) }

func (e *Engine) onBeaconTimer() {
	b := wire.Beacon{Seqn: e.beaconSeqn, HopToSink: e.hopToSink}
	isSink := e.isSink

	if err := e.hooks.SendBeacon(e.ctx, b); err != nil {
		e.log.Error("send beacon failed", "err", err)
	}
	if e.perf != nil {
		id := perflog.ID(e.self, b.Seqn)
		e.perf.Start(id)
		typ := perflog.Propagated
		if isSink {
			typ = perflog.Originated
		}
		if err := e.perf.Done(id, typ, ""); err != nil {
			e.log.Debug("perflog write failed", "err", err)
		}
	}
	if isSink {
		e.beaconSeqn++
		e.beaconTimer.Set(params.BeaconPeriod, e.dispatchBeaconFire)
	}
}

func (e *Engine) onTopologyTimer() {
	due := e.dirty && !e.refreshed
	if !due {
		return
	}
	e.hooks.SendDedicatedUpdate(e.ctx)
	e.dirty = false
	e.refreshed = false
}

func (e *Engine) forwardDelay() time.Duration {
	return time.Duration(e.rand.Int63n(int64(params.ForwardDelayMax)))
}

// ReceiveBeacon runs the acceptance ladder on an inbound beacon: the RSSI
// gate, the epoch gate, and — within the current epoch — the hop-count and
// RSSI refinement rules. Accepting re-points the parent and schedules a
// re-broadcast; a parent change additionally schedules the dedicated
// reverse-path update.
func (e *Engine) ReceiveBeacon(sender addr.Addr, b wire.Beacon, rssi int16) {
	if e.isSink {
		return
	}
	if _, dup := e.dedup.Get(dedupKey{sender, b.Seqn}); dup {
		return
	}
	e.dedup.Add(dedupKey{sender, b.Seqn}, struct{}{})

	curSeqn, curHop, curRSSI := e.beaconSeqn, e.hopToSink, e.parentRSSI
	oldParent := e.parent

	if rssi < params.RSSIThreshold {
		e.acceptedCounter.With("weak_rssi").Add(1)
		return
	}
	if b.Seqn < curSeqn {
		e.acceptedCounter.With("stale_epoch").Add(1)
		return
	}
	if b.Seqn == curSeqn {
		if b.HopToSink+1 > curHop {
			e.acceptedCounter.With("no_improvement").Add(1)
			return
		}
		if rssi <= curRSSI {
			e.acceptedCounter.With("tie_lost").Add(1)
			return
		}
	}

	e.parent = sender
	e.hopToSink = b.HopToSink + 1
	e.parentRSSI = rssi
	e.beaconSeqn = b.Seqn
	parentChanged := !oldParent.Equal(sender)
	if parentChanged {
		e.dirty = true
		e.refreshed = false
	}

	e.acceptedCounter.With("accepted").Add(1)
	e.log.Debug("accepted beacon", "sender", sender, "seqn", b.Seqn, "hop_to_sink", b.HopToSink+1, "rssi", rssi)

	if e.perf != nil {
		id := perflog.ID(sender, b.Seqn)
		e.perf.Start(id)
		if err := e.perf.Done(id, perflog.Processed, perflog.ID(e.self, b.Seqn)); err != nil {
			e.log.Debug("perflog write failed", "err", err)
		}
	}

	fd := e.forwardDelay()
	e.beaconTimer.Set(fd, e.dispatchBeaconFire)
	if parentChanged {
		e.log.Debug("topology dirty", "new_parent", sender, "old_parent", oldParent)
		e.topologyTimer.Set(params.TopologyUpdateDelay+fd, e.dispatchTopologyFire)
	}
}

// ConsumeDirtyForSend coordinates piggybacking against the dedicated
// update: if the topology is dirty and not yet refreshed, mark it
// refreshed and report true so the caller piggybacks the reverse-path
// update onto the outgoing packet.
func (e *Engine) ConsumeDirtyForSend() bool {
	if e.dirty && !e.refreshed {
		e.refreshed = true
		e.dirty = false
		return true
	}
	return false
}

// Parent returns the current parent, or addr.Null if none.
func (e *Engine) Parent() addr.Addr {
	return e.parent
}

// HopToSink returns the current hop-to-sink metric.
func (e *Engine) HopToSink() uint16 {
	return e.hopToSink
}

// ParentRSSI returns the RSSI of the current parent link.
func (e *Engine) ParentRSSI() int16 {
	return e.parentRSSI
}

// BeaconSeqn returns the highest epoch accepted so far (or, at the sink,
// the next epoch to be emitted).
func (e *Engine) BeaconSeqn() uint16 {
	return e.beaconSeqn
}

// IsSink reports whether this engine is the sink's.
func (e *Engine) IsSink() bool {
	return e.isSink
}

// Self returns this node's own address.
func (e *Engine) Self() addr.Addr {
	return e.self
}

// Snapshot is a point-in-time copy of the engine's state, used by
// pkg/debugapi and tests.
type Snapshot struct {
	IsSink     bool
	Parent     addr.Addr
	HopToSink  uint16
	ParentRSSI int16
	BeaconSeqn uint16
	Dirty      bool
	Refreshed  bool
}

// Snapshot returns a copy of the engine's current state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		IsSink:     e.isSink,
		Parent:     e.parent,
		HopToSink:  e.hopToSink,
		ParentRSSI: e.parentRSSI,
		BeaconSeqn: e.beaconSeqn,
		Dirty:      e.dirty,
		Refreshed:  e.refreshed,
	}
}
