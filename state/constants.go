package state

import "time"

// NoneName is the placeholder used in peer lists for "no peer"
const NoneName = "NONE"

var (
	ActivationThresh  = float32(0.1)
	ActivationFalloff = float32(0.98)

	// QueueSize bounds every subscription queue, excess messages are dropped by the transport.
	QueueSize = 100

	DefaultTickInterval      = time.Millisecond * 100
	DefaultCheckWorkInterval = time.Millisecond * 100
	DefaultWorkJoinTimeout   = time.Second * 5
	DefaultWorkDuration      = time.Second * 1

	MonitorLogDelay = time.Second * 5
)

// StatusStaleTicks is how many ticks a status snapshot stays live in the monitor.
const StatusStaleTicks = 20

// Topic suffixes, a node listens on <name> for children, <name>_peer and <name>_parent.
const (
	PeerSuffix   = "_peer"
	ParentSuffix = "_parent"
	StateSuffix  = "_state"
)
