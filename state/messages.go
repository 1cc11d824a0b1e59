package state

import "fmt"

type MessageKind uint8

const (
	// Data messages carry an activation level the receiver adopts
	Data MessageKind = iota
	// StateOnly messages only update active/done flags
	StateOnly
)

func (k MessageKind) String() string {
	if k == StateOnly {
		return "STATE_ONLY"
	}
	return "DATA"
}

// ControlMessage is exchanged between a node and its parent, children and peers.
type ControlMessage struct {
	Sender              NodeId
	Kind                MessageKind
	ActivationLevel     float32
	ActivationPotential float32
	Done                bool
	Active              bool
	Highest             NodeId
	HighestPotential    float32
	ParentType          NodeKind
}

func (m ControlMessage) String() string {
	return fmt.Sprintf("(from: %s, kind: %s, level: %.4f, potential: %.4f, active: %t, done: %t)",
		m.Sender, m.Kind, m.ActivationLevel, m.ActivationPotential, m.Active, m.Done)
}

// StatusMessage is the externally observable snapshot of a node, it never drives local logic.
type StatusMessage struct {
	Owner               NodeId
	Active              bool
	Done                bool
	Working             bool
	ActivationLevel     float32
	ActivationPotential float32
	PeerActive          bool
	PeerDone            bool
	Highest             NodeId
	HighestPotential    float32
	ParentType          NodeKind
}

func (m StatusMessage) String() string {
	return fmt.Sprintf("Owner:%s, Active:%t, Done:%t, Working:%t, Level:%f, Potential:%f",
		m.Owner, m.Active, m.Done, m.Working, m.ActivationLevel, m.ActivationPotential)
}
