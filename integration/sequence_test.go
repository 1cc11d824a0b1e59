//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/tasknet/core"
	"github.com/encodeous/tasknet/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// assembly builds SEQ(THEN) -> [PREP(AND) -> two parallel steps, FINISH]
// spread over three robots.
func assembly(vh *VirtualHarness) []string {
	vh.AddNode(state.NodeCfg{Name: "SEQ_0_0_1", Parent: "ROOT_4_0_0", Children: []string{"PREP_2_0_2", "FINISH_3_2_5"}, InitialActivation: 1})
	vh.AddNode(state.NodeCfg{Name: "PREP_2_0_2", Parent: "SEQ_0_0_1", Children: []string{"CUT_3_1_3", "DRILL_3_2_4"}})
	vh.AddNode(state.NodeCfg{Name: "CUT_3_1_3", Parent: "PREP_2_0_2"})
	vh.AddNode(state.NodeCfg{Name: "DRILL_3_2_4", Parent: "PREP_2_0_2"})
	vh.AddNode(state.NodeCfg{Name: "FINISH_3_2_5", Parent: "SEQ_0_0_1"})
	return []string{"SEQ_0_0_1", "PREP_2_0_2", "CUT_3_1_3", "DRILL_3_2_4", "FINISH_3_2_5"}
}

type journal struct {
	mu    sync.Mutex
	order []string
}

func (j *journal) workers(d time.Duration, names ...string) map[string]core.Worker {
	out := make(map[string]core.Worker)
	for _, name := range names {
		out[name] = core.FuncWorker{WorkFn: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
			j.mu.Lock()
			j.order = append(j.order, name)
			j.mu.Unlock()
			return nil
		}}
	}
	return out
}

func (j *journal) finished() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.order...)
}

func TestAssemblyOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	j := &journal{}
	vh := &VirtualHarness{ExitWhenDone: true}
	names := assembly(vh)
	vh.Workers = j.workers(30*time.Millisecond, "CUT_3_1_3", "DRILL_3_2_4", "FINISH_3_2_5")
	vh.AddRobot(0)
	vh.AddRobot(1)
	vh.AddRobot(2)
	vh.Start()
	defer vh.Stop()

	require.NoError(t, vh.Wait(10*time.Second))
	completed := vh.Completed()
	for _, name := range names {
		assert.Contains(t, completed, state.MustParseNodeId(name), name)
	}
	order := j.finished()
	require.Len(t, order, 3)
	assert.ElementsMatch(t, []string{"CUT_3_1_3", "DRILL_3_2_4"}, order[:2])
	assert.Equal(t, "FINISH_3_2_5", order[2])
}

func TestAssemblyOverLossyNetwork(t *testing.T) {
	defer goleak.VerifyNone(t)
	j := &journal{}
	vh := &VirtualHarness{ExitWhenDone: true}
	names := assembly(vh)
	vh.Tree.TickInterval = 20 * time.Millisecond
	vh.Workers = j.workers(30*time.Millisecond, "CUT_3_1_3", "DRILL_3_2_4", "FINISH_3_2_5")
	// lost messages slow the tree down, keep the top node above threshold meanwhile
	vh.Stimulate("SEQ_0_0_1", 1)
	vh.AddRobot(0).WithLatency(5*time.Millisecond, 5*time.Millisecond).WithPacketLoss(0.05)
	vh.AddRobot(1).WithLatency(10*time.Millisecond, 0).WithPacketLoss(0.05)
	vh.AddRobot(2).WithLatency(2*time.Millisecond, 10*time.Millisecond)
	vh.Start()
	defer vh.Stop()

	require.NoError(t, vh.Wait(20*time.Second))
	completed := vh.Completed()
	for _, name := range names {
		assert.Contains(t, completed, state.MustParseNodeId(name), name)
	}
	order := j.finished()
	require.NotEmpty(t, order)
	assert.Equal(t, "FINISH_3_2_5", order[len(order)-1])
}
