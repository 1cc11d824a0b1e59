package state

// NodeState is owned by a single node. Cached copies of other nodes live in the Registry.
type NodeState struct {
	Owner               NodeId
	Active              bool
	Done                bool
	ActivationLevel     float32
	ActivationPotential float32
	PeerActive          bool
	PeerDone            bool
	CheckPeer           bool
	PeerOkay            bool
	Highest             NodeId
	HighestPotential    float32
	ParentType          NodeKind
}

type Phase uint8

const (
	Idle Phase = iota
	Activating
	Active
	Done
)

func (p Phase) String() string {
	switch p {
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Done:
		return "done"
	default:
		return "idle"
	}
}

func (s NodeState) Phase() Phase {
	switch {
	case s.Done:
		return Done
	case s.Active:
		return Active
	case s.CheckPeer:
		return Activating
	default:
		return Idle
	}
}

// Decay applies one geometric falloff step to the activation level.
func (s *NodeState) Decay() {
	s.ActivationLevel *= ActivationFalloff
}

// Yield lowers both level and potential so a competing peer wins subsequent rounds.
func (s *NodeState) Yield() {
	s.ActivationLevel *= ActivationFalloff
	s.ActivationPotential *= ActivationFalloff
}

func (s NodeState) AboveThreshold() bool {
	return s.ActivationLevel > ActivationThresh
}

func (s NodeState) Status(working bool) StatusMessage {
	return StatusMessage{
		Owner:               s.Owner,
		Active:              s.Active,
		Done:                s.Done,
		Working:             working,
		ActivationLevel:     s.ActivationLevel,
		ActivationPotential: s.ActivationPotential,
		PeerActive:          s.PeerActive,
		PeerDone:            s.PeerDone,
		Highest:             s.Highest,
		HighestPotential:    s.HighestPotential,
		ParentType:          s.ParentType,
	}
}

func (s NodeState) Control(kind MessageKind) ControlMessage {
	return ControlMessage{
		Sender:              s.Owner,
		Kind:                kind,
		ActivationLevel:     s.ActivationLevel,
		ActivationPotential: s.ActivationPotential,
		Done:                s.Done,
		Active:              s.Active,
		Highest:             s.Highest,
		HighestPotential:    s.HighestPotential,
		ParentType:          s.ParentType,
	}
}
