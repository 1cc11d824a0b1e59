package core

import (
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/perf"
	"github.com/encodeous/tasknet/state"
)

const idleLogDelay = time.Second

// update is one tick of the activation engine. Once the parent is done the tick still
// decays and spreads, activate refuses to start work.
func (n *Node) update() {
	start := time.Now()
	defer func() {
		perf.TickLatency.Add(float64(time.Since(start).Microseconds()))
	}()

	n.mu.Lock()
	skip := n.st.Done
	eligible := n.st.AboveThreshold()
	level := n.st.ActivationLevel
	n.mu.Unlock()

	if !skip {
		if eligible {
			children := n.reg.Snapshot(n.childIds...)
			if n.behavior.Precondition(children) {
				n.log.Debug("preconditions satisfied, safe to do work")
				n.activate()
			} else {
				sent := n.spreadActivation(children)
				n.log.Debug("preconditions not satisfied, spreading activation", "children", sent)
			}
			n.activationFalloff()
		} else if time.Since(n.lastIdleLog) > idleLogDelay {
			n.lastIdleLog = time.Now()
			n.log.Debug("not active", "level", level)
		}
	}
	n.publishStatus()
}

// activate runs the peer-gated activation step. The activation itself and the publish to
// peers happen under the node lock so no peer can observe one without the other.
func (n *Node) activate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ensureRound()
	if !n.st.PeerOkay {
		return
	}
	if !n.st.Active && !n.st.Done && !n.parentDone && n.behavior.ActivationPrecondition() {
		n.log.Info("activating node", "level", n.st.ActivationLevel)
		n.st.Active = true
		n.publishToPeersLocked()
		n.activated.Trigger()
	}
	n.st.PeerOkay = false
}

func (n *Node) activationFalloff() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.st.Decay()
}

// spreadActivation forwards the node's level to the children chosen by the behavior and
// returns how many were contacted.
func (n *Node) spreadActivation(children []state.NodeState) int {
	targets := n.behavior.SpreadActivation(children)
	if len(targets) == 0 {
		return 0
	}
	n.mu.Lock()
	msg := n.st.Control(state.Data)
	n.mu.Unlock()
	sent := 0
	for _, id := range targets {
		e, ok := n.reg.Lookup(id)
		if !ok {
			continue
		}
		n.publishControl(bus.ParentTopic(e.Name), msg)
		sent++
	}
	return sent
}
