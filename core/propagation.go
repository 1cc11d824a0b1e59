package core

import (
	"math"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/state"
)

func (n *Node) publishControl(topic string, msg state.ControlMessage) {
	if err := n.bus.PublishControl(n.ctx, topic, msg); err != nil && n.ctx.Err() == nil {
		n.log.Warn("failed to publish", "topic", topic, "error", err)
	}
}

func (n *Node) publishToPeersLocked() {
	if len(n.peers) == 0 {
		return
	}
	msg := n.st.Control(state.Data)
	for _, p := range n.peers {
		n.publishControl(bus.PeerTopic(p.Name), msg)
	}
}

// publishDoneLocked tells the parent this node is finished.
func (n *Node) publishDoneLocked() {
	if !n.hasParent {
		return
	}
	n.publishControl(bus.ChildTopic(n.parent.Name), n.st.Control(state.Data))
}

// publishStatus broadcasts the node's snapshot on every channel: the observer topic,
// the parent (potential), peers (full state) and children (state only).
func (n *Node) publishStatus() {
	n.mu.Lock()
	st := n.st
	working := n.working
	n.mu.Unlock()

	if err := n.bus.PublishStatus(n.ctx, bus.StateTopic(n.opts.Name), st.Status(working)); err != nil && n.ctx.Err() == nil {
		n.log.Warn("failed to publish status", "error", err)
	}
	data := st.Control(state.Data)
	if n.hasParent {
		n.publishControl(bus.ChildTopic(n.parent.Name), data)
	}
	for _, p := range n.peers {
		n.publishControl(bus.PeerTopic(p.Name), data)
	}
	stateOnly := st.Control(state.StateOnly)
	for _, c := range n.children {
		n.publishControl(bus.ParentTopic(c.Name), stateOnly)
	}
	n.opts.Metrics.ObserveState(n.opts.Name, st.ActivationLevel, st.ActivationPotential, st.Active, st.Done)
}

// markCompletedLocked records completion and reports whether it is the first one.
func (n *Node) markCompletedLocked() bool {
	if n.completed {
		return false
	}
	n.completed = true
	return true
}

// supersedeLocked withdraws the node from work it no longer needs to do.
func (n *Node) supersedeLocked(reason error) {
	n.st.Active = false
	if n.cancelWork != nil {
		n.cancelWork(reason)
	}
}

func (n *Node) receiveFromParent(msg state.ControlMessage) {
	if !n.hasParent || msg.Sender != n.parent.Id {
		n.log.Warn("ignoring message from unexpected parent", "from", msg.Sender)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if msg.Kind == state.Data {
		if validLevel(msg.ActivationLevel) {
			n.st.ActivationLevel = msg.ActivationLevel
		} else {
			n.log.Warn("ignoring invalid activation level from parent", "level", msg.ActivationLevel)
		}
	}
	if msg.Done {
		if !n.parentDone {
			n.log.Debug("parent is done")
		}
		n.parentDone = true
		n.supersedeLocked(errParentDone)
	}
}

// validLevel reports whether l is a finite, non-negative activation level.
func validLevel(l float32) bool {
	f := float64(l)
	return f >= 0 && !math.IsInf(f, 0)
}

func (n *Node) receiveFromChild(msg state.ControlMessage) {
	if _, ok := n.childSet[msg.Sender]; !ok {
		n.log.Warn("ignoring message from unknown child", "from", msg.Sender)
		return
	}
	n.reg.UpdateCached(msg.Sender, func(s *state.NodeState) {
		s.ActivationLevel = msg.ActivationLevel
		s.ActivationPotential = msg.ActivationPotential
		s.Done = msg.Done
		s.Active = msg.Active
		s.Highest = msg.Highest
		s.HighestPotential = msg.HighestPotential
	})
}

func (n *Node) receiveFromPeer(msg state.ControlMessage) {
	if _, ok := n.peerSet[msg.Sender]; !ok {
		n.log.Warn("ignoring message from unknown peer", "from", msg.Sender)
		return
	}
	n.mu.Lock()
	r := n.reports[msg.Sender]
	r.Active = r.Active || msg.Active
	r.Done = r.Done || msg.Done
	r.Conflict = r.Conflict || (msg.Active && msg.Done)
	n.reports[msg.Sender] = r
	n.st.PeerActive = n.st.PeerActive || msg.Active
	n.st.PeerDone = n.st.PeerDone || msg.Done

	finished := false
	if n.st.PeerDone && !n.st.Done {
		n.st.Done = true
		if n.working {
			// the running attempt still ends through the supervisor
			n.log.Info("peer completed the task, finishing current work", "peer", msg.Sender)
		} else {
			n.log.Info("peer completed the task, marking node done", "peer", msg.Sender)
			n.st.Active = false
			finished = n.markCompletedLocked()
		}
	}
	n.mu.Unlock()
	if finished {
		n.notifyComplete()
	}
}
