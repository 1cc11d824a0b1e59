package core

import (
	"context"
	"fmt"

	"github.com/encodeous/tasknet/state"
)

// Worker is the domain work attached to a node.
type Worker interface {
	// Work performs the task and must return promptly once ctx is cancelled.
	Work(ctx context.Context) error
	// CheckWork reports whether the running attempt is still healthy.
	CheckWork(ctx context.Context) bool
	// UndoWork reverts the effects of an aborted attempt.
	UndoWork(ctx context.Context) error
}

// Behavior is the capability set of a node kind.
type Behavior interface {
	Worker
	// Precondition decides, from the cached children, whether the node may do its work.
	Precondition(children []state.NodeState) bool
	// ActivationPrecondition is an extra gate evaluated while activating.
	ActivationPrecondition() bool
	// SpreadActivation picks the children that should receive this node's activation.
	SpreadActivation(children []state.NodeState) []state.NodeId
}

// NewBehavior selects the behavior of a node kind. A nil worker does nothing.
func NewBehavior(kind state.NodeKind, w Worker) (Behavior, error) {
	if w == nil {
		w = NopWorker{}
	}
	switch kind {
	case state.And:
		return &AndBehavior{w}, nil
	case state.Or:
		return &OrBehavior{w}, nil
	case state.Then:
		return &ThenBehavior{w}, nil
	case state.Behavior:
		return &LeafBehavior{w}, nil
	default:
		return nil, fmt.Errorf("nodes of kind %s cannot be hosted", kind)
	}
}

func allDone(children []state.NodeState) bool {
	for _, c := range children {
		if !c.Done {
			return false
		}
	}
	return true
}

func notDone(children []state.NodeState) []state.NodeId {
	var ids []state.NodeId
	for _, c := range children {
		if !c.Done {
			ids = append(ids, c.Owner)
		}
	}
	return ids
}

// AndBehavior completes once every child is done.
type AndBehavior struct{ Worker }

func (b *AndBehavior) Precondition(children []state.NodeState) bool {
	return allDone(children)
}

func (b *AndBehavior) ActivationPrecondition() bool { return true }

func (b *AndBehavior) SpreadActivation(children []state.NodeState) []state.NodeId {
	return notDone(children)
}

// OrBehavior completes once any child is done. All unfinished children are stimulated and
// left to arbitrate among themselves.
type OrBehavior struct{ Worker }

func (b *OrBehavior) Precondition(children []state.NodeState) bool {
	for _, c := range children {
		if c.Done {
			return true
		}
	}
	return false
}

func (b *OrBehavior) ActivationPrecondition() bool { return true }

func (b *OrBehavior) SpreadActivation(children []state.NodeState) []state.NodeId {
	return notDone(children)
}

// ThenBehavior runs its children in order.
type ThenBehavior struct{ Worker }

func (b *ThenBehavior) Precondition(children []state.NodeState) bool {
	return allDone(children)
}

func (b *ThenBehavior) ActivationPrecondition() bool { return true }

func (b *ThenBehavior) SpreadActivation(children []state.NodeState) []state.NodeId {
	for _, c := range children {
		if !c.Done {
			return []state.NodeId{c.Owner}
		}
	}
	return nil
}

// LeafBehavior performs domain work and never stimulates anything below it.
type LeafBehavior struct{ Worker }

func (b *LeafBehavior) Precondition(children []state.NodeState) bool {
	return allDone(children)
}

func (b *LeafBehavior) ActivationPrecondition() bool { return true }

func (b *LeafBehavior) SpreadActivation([]state.NodeState) []state.NodeId {
	return nil
}
