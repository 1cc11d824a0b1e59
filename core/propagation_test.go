package core

import (
	"math"
	"testing"
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/state"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

var (
	orId = state.MustParseNodeId(orName)
	p1Id = state.MustParseNodeId(p1Name)
	p2Id = state.MustParseNodeId(p2Name)
)

func TestParentMessages(t *testing.T) {
	for _, local := range []bool{false, true} {
		name := "shared"
		if local {
			name = "local queue"
		}
		t.Run(name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			tt := newTestTree(t, treeOpts{useLocalQueue: local}, contested(orName)...)
			tt.start(p1Name)
			n := tt.node(p1Name)

			tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: orId, Kind: state.Data, ActivationLevel: 0.6})
			tt.eventually(func() bool { return levelOf(n) == 0.6 }, "data message not adopted")

			// state only messages never touch the level, strangers are ignored
			tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: orId, Kind: state.StateOnly, ActivationLevel: 0.9})
			tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: p2Id, Kind: state.Data, ActivationLevel: 0.7})
			tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: orId, Kind: state.Data, ActivationLevel: 0.3})
			tt.eventually(func() bool { return levelOf(n) == 0.3 }, "second data message not adopted")
			assert.False(t, n.ParentDone())

			tt.stop()
		})
	}
}

func TestParentMessages_InvalidLevelIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)
	tt := newTestTree(t, treeOpts{}, contested(orName)...)
	tt.start(p1Name)
	n := tt.node(p1Name)

	tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: orId, Kind: state.Data, ActivationLevel: 0.4})
	tt.eventually(func() bool { return levelOf(n) == 0.4 }, "data message not adopted")

	for _, level := range []float32{-0.5, float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))} {
		tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: orId, Kind: state.Data, ActivationLevel: level})
	}
	// done still applies when the level is unusable
	tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: orId, Kind: state.Data, ActivationLevel: -1, Done: true})
	tt.eventually(n.ParentDone, "parent done not recorded")
	assert.Equal(t, float32(0.4), levelOf(n))

	tt.stop()
}

func TestParentDone_BlocksActivation(t *testing.T) {
	defer goleak.VerifyNone(t)
	tt := newTestTree(t, treeOpts{}, contested(orName)...)
	tt.start(p1Name)
	n := tt.node(p1Name)

	tt.finishRound(p1Name)
	tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: orId, Kind: state.Data, ActivationLevel: 0.9, Done: true})
	tt.eventually(n.ParentDone, "parent done not recorded")

	n.activate()
	assert.False(t, n.State().Active)
	n.update()
	assert.False(t, n.State().Active)
	// the tick keeps running, only the activation step is held back
	assert.InDelta(t, 0.9*state.ActivationFalloff, levelOf(n), 1e-6)
	assert.False(t, n.State().Done)

	tt.stop()
}

func TestParentDone_DeactivatesNode(t *testing.T) {
	defer goleak.VerifyNone(t)
	tt := newTestTree(t, treeOpts{}, leaf(p1Name, orName, 1), composite(orName, 0, p1Name))
	tt.start(p1Name)
	n := tt.node(p1Name)

	tt.finishRound(p1Name)
	n.activate()
	assert.True(t, n.State().Active)

	tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: orId, Done: true})
	tt.eventually(func() bool { return !n.State().Active }, "node still active after parent done")
	assert.False(t, n.State().Done)

	tt.stop()
}

func TestChildMessages_UpdateRegistry(t *testing.T) {
	defer goleak.VerifyNone(t)
	tt := newTestTree(t, treeOpts{}, contested(orName)...)
	tt.start(orName)

	stranger := state.MustParseNodeId("PICK_3_9_9")
	tt.send(bus.ChildTopic(orName), state.ControlMessage{Sender: stranger, Done: true})
	tt.send(bus.ChildTopic(orName), state.ControlMessage{Sender: p2Id, Done: true, ActivationLevel: 0.4, ActivationPotential: 0.2})
	tt.eventually(func() bool {
		c, _ := tt.reg.Cached(p2Id)
		return c.Done
	}, "child report not cached")

	c, _ := tt.reg.Cached(p2Id)
	assert.Equal(t, float32(0.4), c.ActivationLevel)
	assert.Equal(t, float32(0.2), c.ActivationPotential)
	c, _ = tt.reg.Cached(p1Id)
	assert.False(t, c.Done)

	// the child's own status broadcast lands in the parent's view
	tt.node(p1Name).publishStatus()
	tt.eventually(func() bool {
		c, _ := tt.reg.Cached(p1Id)
		return c.ActivationLevel == 1
	}, "status broadcast not cached")

	tt.stop()
}

func TestPeerDone_CompletesNode(t *testing.T) {
	defer goleak.VerifyNone(t)
	tt := newTestTree(t, treeOpts{}, contested(orName)...)
	tt.start(orName, p2Name)
	n := tt.node(p2Name)

	tt.send(bus.PeerTopic(p2Name), state.ControlMessage{Sender: state.MustParseNodeId("PICK_3_9_9"), Done: true})
	tt.send(bus.PeerTopic(p2Name), state.ControlMessage{Sender: p1Id, Active: true})
	tt.eventually(func() bool { return n.State().PeerActive }, "peer report not recorded")
	assert.False(t, n.State().Done, "strangers cannot complete a node")

	tt.send(bus.PeerTopic(p2Name), state.ControlMessage{Sender: p1Id, Done: true})
	tt.eventually(func() bool { return n.State().Done }, "peer done not adopted")
	assert.Equal(t, state.Done, n.State().Phase())

	// the parent learns about it from the next status broadcast
	n.publishStatus()
	tt.eventually(func() bool {
		c, _ := tt.reg.Cached(p2Id)
		return c.Done
	}, "parent not told")

	tt.send(bus.PeerTopic(p2Name), state.ControlMessage{Sender: p1Id, Done: true})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, tt.completions(p2Name))

	tt.stop()
}
