package core

import (
	"time"

	"github.com/encodeous/tasknet/state"
)

type peerRound struct {
	done chan struct{}
}

// verdict is the outcome of one arbitration round.
type verdict struct {
	okay      bool
	yield     bool
	ambiguous []state.NodeId
}

// arbitrate folds the reports collected during a round. A node may proceed only if no
// peer was seen active or done. No peers means no contention.
func arbitrate(peers []state.Entry, reports map[state.NodeId]peerReport) verdict {
	v := verdict{okay: true}
	for _, p := range peers {
		r := reports[p.Id]
		switch {
		case r.Conflict:
			v.okay = false
			v.ambiguous = append(v.ambiguous, p.Id)
		case r.Done:
			v.okay = false
		case r.Active:
			v.okay = false
			v.yield = true
		}
	}
	return v
}

// ensureRound starts an arbitration round when none is running and tears down a finished
// one. Called with n.mu held.
func (n *Node) ensureRound() {
	n.roundMu.Lock()
	defer n.roundMu.Unlock()
	switch {
	case n.round == nil:
		n.st.CheckPeer = true
		r := &peerRound{done: make(chan struct{})}
		n.round = r
		go n.checkPeers(r)
	case !n.st.CheckPeer:
		// the round cleared CheckPeer as its last locked step, done closes right after
		<-n.round.done
		n.round = nil
	}
}

// checkPeers announces the node to its peers, listens for one tick and decides whether
// the node may activate.
func (n *Node) checkPeers(r *peerRound) {
	defer close(r.done)

	n.mu.Lock()
	clear(n.reports)
	n.st.PeerActive = false
	n.st.PeerDone = false
	n.publishToPeersLocked()
	n.mu.Unlock()

	t := time.NewTimer(n.opts.TickInterval)
	defer t.Stop()
	select {
	case <-n.ctx.Done():
		return
	case <-t.C:
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	v := arbitrate(n.peers, n.reports)
	if len(v.ambiguous) > 0 {
		n.log.Warn("ambiguous peer state, refusing to activate", "peers", v.ambiguous)
	}
	if v.yield {
		n.st.Yield()
	}
	n.st.PeerOkay = v.okay
	n.st.CheckPeer = false

	result := "okay"
	switch {
	case len(v.ambiguous) > 0:
		result = "ambiguous"
	case v.yield:
		result = "yield"
	case !v.okay:
		result = "blocked"
	}
	n.opts.Metrics.ObserveArbitration(n.opts.Name, result)
	n.log.Debug("peer check complete", "result", result)
}
