package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/state"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// testTree wires nodes of one process together over an in-memory bus. Nodes can be
// stepped by hand (start + update/activate) or run with their own goroutines.
type testTree struct {
	t       *testing.T
	reg     *state.Registry
	tr      *bus.MemoryTransport
	bus     *bus.Bus
	nodes   map[string]*Node
	ctx     context.Context
	cancel  context.CancelFunc
	started []*Node
	running sync.WaitGroup

	mu        sync.Mutex
	completed map[string]int
}

type treeOpts struct {
	tick          time.Duration
	workers       map[string]Worker
	useLocalQueue bool
	retryBackoff  time.Duration
	joinTimeout   time.Duration
}

func newTestTree(t *testing.T, o treeOpts, cfgs ...state.NodeCfg) *testTree {
	t.Helper()
	if o.tick == 0 {
		o.tick = 20 * time.Millisecond
	}
	if o.joinTimeout == 0 {
		o.joinTimeout = 200 * time.Millisecond
	}
	tc := state.TreeCfg{Nodes: cfgs}
	reg, err := state.NewRegistry(tc.Names()...)
	require.NoError(t, err)

	tr := bus.NewMemoryTransport()
	ctx, cancel := context.WithCancel(context.Background())
	tt := &testTree{
		t:         t,
		reg:       reg,
		tr:        tr,
		bus:       bus.New(tr, "", nil),
		nodes:     make(map[string]*Node),
		ctx:       ctx,
		cancel:    cancel,
		completed: make(map[string]int),
	}
	for _, cfg := range cfgs {
		kind := state.MustParseNodeId(cfg.Name).Kind()
		behavior, err := NewBehavior(kind, o.workers[cfg.Name])
		require.NoError(t, err)
		name := cfg.Name
		n, err := NewNode(Options{
			Name:              cfg.Name,
			Parent:            cfg.Parent,
			Children:          cfg.Children,
			Peers:             cfg.Peers,
			Initial:           cfg.InitialActivation,
			TickInterval:      o.tick,
			CheckWorkInterval: 5 * time.Millisecond,
			WorkJoinTimeout:   o.joinTimeout,
			RetryBackoff:      o.retryBackoff,
			UseLocalQueue:     o.useLocalQueue,
			OnComplete: func(state.NodeId) {
				tt.mu.Lock()
				defer tt.mu.Unlock()
				tt.completed[name]++
			},
		}, reg, tt.bus, behavior, nil)
		require.NoError(t, err)
		tt.nodes[cfg.Name] = n
	}
	t.Cleanup(tt.stop)
	return tt
}

func (tt *testTree) node(name string) *Node {
	n, ok := tt.nodes[name]
	require.True(tt.t, ok, "no node %s", name)
	return n
}

// start subscribes the named nodes without ticking them.
func (tt *testTree) start(names ...string) {
	for _, name := range names {
		n := tt.node(name)
		require.NoError(tt.t, n.start(tt.ctx))
		tt.started = append(tt.started, n)
	}
}

// run starts the full lifecycle of the named nodes.
func (tt *testTree) run(names ...string) {
	for _, name := range names {
		n := tt.node(name)
		tt.running.Add(1)
		go func() {
			defer tt.running.Done()
			if err := n.Run(tt.ctx); err != nil {
				tt.t.Errorf("node %s: %v", n.Name(), err)
			}
		}()
	}
}

// supervise runs only the work supervisors of the named nodes.
func (tt *testTree) supervise(names ...string) {
	for _, name := range names {
		n := tt.node(name)
		tt.running.Add(1)
		go func() {
			defer tt.running.Done()
			n.supervise(tt.ctx)
		}()
	}
}

func (tt *testTree) stop() {
	tt.cancel()
	tt.running.Wait()
	for _, n := range tt.started {
		n.stop()
	}
	tt.started = nil
	_ = tt.tr.Close()
}

func (tt *testTree) completions(name string) int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.completed[name]
}

// send publishes msg on topic as if it came from another process.
func (tt *testTree) send(topic string, msg state.ControlMessage) {
	require.NoError(tt.t, tt.bus.PublishControl(context.Background(), topic, msg))
}

func (tt *testTree) eventually(cond func() bool, msg string) {
	tt.t.Helper()
	require.Eventually(tt.t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

// finishRound activates once to start arbitration and waits for the round to decide.
func (tt *testTree) finishRound(names ...string) {
	tt.t.Helper()
	for _, name := range names {
		tt.node(name).activate()
	}
	for _, name := range names {
		n := tt.node(name)
		tt.eventually(func() bool {
			return !n.State().CheckPeer
		}, name+" arbitration did not finish")
	}
}

func requireState(t *testing.T, want, got state.NodeState) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("node state mismatch (-want +got):\n%s", diff)
	}
}

func leaf(name, parent string, initial float32, peers ...string) state.NodeCfg {
	return state.NodeCfg{Name: name, Parent: parent, Peers: peers, InitialActivation: initial}
}
