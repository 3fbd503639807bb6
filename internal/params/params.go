// Package params holds the protocol's tuning constants in one place, so
// topology and dataplane code refer to named constants rather than magic
// durations.
package params

import "time"

const (
	// RSSIThreshold is the signal strength below which a beacon is
	// discarded regardless of epoch or metric.
	RSSIThreshold int16 = -95

	// BeaconPeriod is how often the sink (re-)emits a beacon.
	BeaconPeriod = 30 * time.Second

	// InitBeaconDelay is how long the sink waits before its first beacon.
	InitBeaconDelay = 5 * time.Second

	// TopologyUpdateDelay is how long a node waits, after accepting a new
	// parent, before sending a dedicated (non-piggybacked) reverse-path
	// update — giving piggybacking on regular upward traffic a chance to
	// carry it first.
	TopologyUpdateDelay = BeaconPeriod / 6

	// MsgPeriod is the period of the many-to-one (upward) test traffic in
	// the reference application.
	MsgPeriod = 30 * time.Second

	// SRMsgPeriod is the period of the one-to-many (downward) test traffic
	// in the reference application.
	SRMsgPeriod = 15 * time.Second
)

// MsgInitDelay is how long the reference application waits after Open
// before sending its first message, giving the topology time to settle.
func MsgInitDelay() time.Duration {
	return InitBeaconDelay + TopologyUpdateDelay + 5*ForwardDelayMax
}

// ForwardDelayMax is the upper bound (exclusive) of the uniform random
// forward delay.
const ForwardDelayMax = 1 * time.Second
