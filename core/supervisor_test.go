package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/encodeous/tasknet/bus"
	"github.com/encodeous/tasknet/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func soloLeaf(w Worker) (treeOpts, state.NodeCfg) {
	return treeOpts{tick: 10 * time.Millisecond, workers: map[string]Worker{p1Name: w}}, leaf(p1Name, state.NoneName, 1)
}

func waitDone(tt *testTree, name string) {
	tt.t.Helper()
	n := tt.node(name)
	tt.eventually(func() bool { return n.State().Done }, name+" never finished")
}

func TestSupervisor_CompletesWork(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := &SleepWorker{Duration: 30 * time.Millisecond}
	o, cfg := soloLeaf(w)
	tt := newTestTree(t, o, cfg)
	tt.run(p1Name)

	waitDone(tt, p1Name)
	st := tt.node(p1Name).State()
	assert.False(t, st.Active)
	assert.False(t, tt.node(p1Name).Working())
	assert.Equal(t, 1, w.Attempts())
	assert.Zero(t, w.Undone())
	tt.eventually(func() bool { return tt.completions(p1Name) == 1 }, "completion not reported")

	tt.stop()
}

func TestSupervisor_RestartsAfterFailedCheck(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := &SleepWorker{Duration: 50 * time.Millisecond, FailFirst: 1}
	o, cfg := soloLeaf(w)
	tt := newTestTree(t, o, cfg)
	tt.run(p1Name)

	waitDone(tt, p1Name)
	assert.Equal(t, 2, w.Attempts())
	assert.Equal(t, 1, w.Undone())
	tt.eventually(func() bool { return tt.completions(p1Name) == 1 }, "completion not reported")

	tt.stop()
}

func TestSupervisor_RestartsAfterError(t *testing.T) {
	defer goleak.VerifyNone(t)
	var calls, undone atomic.Int32
	w := FuncWorker{
		WorkFn: func(ctx context.Context) error {
			switch calls.Add(1) {
			case 1:
				return errors.New("gripper slipped")
			case 2:
				panic("arm fault")
			}
			return nil
		},
		UndoFn: func(ctx context.Context) error {
			undone.Add(1)
			return errors.New("nothing to undo")
		},
	}
	o, cfg := soloLeaf(w)
	tt := newTestTree(t, o, cfg)
	tt.run(p1Name)

	waitDone(tt, p1Name)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(2), undone.Load())

	tt.stop()
}

func TestSupervisor_RetryBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)
	var mu sync.Mutex
	var starts []time.Time
	w := FuncWorker{
		WorkFn: func(ctx context.Context) error {
			mu.Lock()
			starts = append(starts, time.Now())
			n := len(starts)
			mu.Unlock()
			if n < 3 {
				return errors.New("not yet")
			}
			return nil
		},
	}
	o, cfg := soloLeaf(w)
	o.retryBackoff = 150 * time.Millisecond
	tt := newTestTree(t, o, cfg)
	tt.run(p1Name)

	waitDone(tt, p1Name)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, starts, 3)
	assert.GreaterOrEqual(t, starts[2].Sub(starts[1]), 100*time.Millisecond)

	tt.stop()
}

func TestSupervisor_ParentDoneSupersedesWork(t *testing.T) {
	defer goleak.VerifyNone(t)
	started := state.NewSignal()
	var cause atomic.Value
	var undone atomic.Int32
	w := FuncWorker{
		WorkFn: func(ctx context.Context) error {
			started.Trigger()
			<-ctx.Done()
			cause.Store(context.Cause(ctx))
			return ctx.Err()
		},
		UndoFn: func(ctx context.Context) error {
			undone.Add(1)
			return nil
		},
	}
	tt := newTestTree(t, treeOpts{tick: 10 * time.Millisecond, workers: map[string]Worker{p1Name: w}},
		leaf(p1Name, orName, 1), composite(orName, 0, p1Name))
	tt.run(p1Name)
	n := tt.node(p1Name)

	select {
	case <-started.Wait():
	case <-time.After(2 * time.Second):
		t.Fatal("work never started")
	}
	assert.True(t, n.Working())

	tt.send(bus.ParentTopic(p1Name), state.ControlMessage{Sender: orId, Kind: state.StateOnly, Done: true})
	tt.eventually(func() bool { return undone.Load() == 1 }, "superseded work not undone")
	tt.eventually(func() bool { return !n.Working() }, "node still working")
	assert.ErrorIs(t, cause.Load().(error), errParentDone)

	st := n.State()
	assert.False(t, st.Active)
	assert.False(t, st.Done)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, tt.completions(p1Name))
	assert.Equal(t, int32(1), undone.Load())

	tt.stop()
}

func TestSupervisor_StuckWorkIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32
	w := FuncWorker{
		WorkFn: func(ctx context.Context) error {
			if calls.Add(1) == 1 {
				// ignores cancellation
				<-release
			}
			return nil
		},
		CheckFn: func(ctx context.Context) bool {
			return calls.Load() > 1
		},
	}
	o, cfg := soloLeaf(w)
	o.joinTimeout = 20 * time.Millisecond
	tt := newTestTree(t, o, cfg)
	tt.run(p1Name)

	waitDone(tt, p1Name)
	assert.Equal(t, int32(2), calls.Load())

	tt.stop()
}

func TestSupervisor_ShutdownStopsWork(t *testing.T) {
	defer goleak.VerifyNone(t)
	started := state.NewSignal()
	w := FuncWorker{
		WorkFn: func(ctx context.Context) error {
			started.Trigger()
			<-ctx.Done()
			return ctx.Err()
		},
	}
	o, cfg := soloLeaf(w)
	tt := newTestTree(t, o, cfg)
	tt.run(p1Name)

	select {
	case <-started.Wait():
	case <-time.After(2 * time.Second):
		t.Fatal("work never started")
	}
	tt.stop()
	assert.False(t, tt.node(p1Name).State().Done)
	assert.Zero(t, tt.completions(p1Name))
}

const andName = "BOTH_2_0_1"

// activateBoth lets both contested peers win arbitration and start their work.
func activateBoth(tt *testTree) {
	tt.t.Helper()
	tt.start(andName, p1Name, p2Name)
	tt.finishRound(p1Name, p2Name)
	for _, name := range []string{p1Name, p2Name} {
		tt.node(name).activate()
		require.True(tt.t, tt.node(name).State().Active, name)
	}
	tt.supervise(p1Name, p2Name)
}

func TestSupervisor_PeerDoneLetsWorkFinish(t *testing.T) {
	defer goleak.VerifyNone(t)
	fast := &SleepWorker{Duration: 20 * time.Millisecond}
	slow := &SleepWorker{Duration: 150 * time.Millisecond}
	tt := newTestTree(t, treeOpts{
		tick:    100 * time.Millisecond,
		workers: map[string]Worker{p1Name: fast, p2Name: slow},
	}, contested(andName)...)
	activateBoth(tt)
	n := tt.node(p2Name)

	tt.eventually(func() bool { return tt.completions(p1Name) == 1 }, "fast peer did not finish")
	tt.eventually(func() bool { return n.State().PeerDone }, "peer completion not received")
	assert.True(t, n.Working(), "running work must not be interrupted")
	assert.Zero(t, tt.completions(p2Name))

	tt.eventually(func() bool { return tt.completions(p2Name) == 1 }, "slow peer did not finish")
	assert.Equal(t, 1, slow.Attempts())
	assert.Zero(t, slow.Undone())
	assert.True(t, n.State().Done)
	assert.False(t, n.Working())

	tt.stop()
}

func TestSupervisor_FailureAfterPeerDoneIsNotRetried(t *testing.T) {
	defer goleak.VerifyNone(t)
	var calls, undone atomic.Int32
	failing := FuncWorker{
		WorkFn: func(ctx context.Context) error {
			calls.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			return errors.New("dropped the cup")
		},
		UndoFn: func(ctx context.Context) error {
			undone.Add(1)
			return nil
		},
	}
	tt := newTestTree(t, treeOpts{
		tick:    100 * time.Millisecond,
		workers: map[string]Worker{p1Name: &SleepWorker{Duration: 10 * time.Millisecond}, p2Name: failing},
	}, contested(andName)...)
	activateBoth(tt)
	n := tt.node(p2Name)

	tt.eventually(func() bool { return undone.Load() == 1 }, "failed attempt not undone")
	tt.eventually(func() bool { return tt.completions(p2Name) == 1 }, "peer completion not adopted")
	assert.True(t, n.State().Done)
	assert.False(t, n.Working())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, tt.completions(p2Name))

	tt.stop()
}
