//go:build e2e

package e2e

import (
	"testing"
	"time"

	"github.com/encodeous/tasknet/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pickTree() state.TreeCfg {
	return state.TreeCfg{
		TickInterval: 20 * time.Millisecond,
		Nodes: []state.NodeCfg{
			{Name: "GATHER_1_0_1", Parent: "ROOT_4_0_0", Children: []string{"PICK_3_1_2", "PICK_3_2_3"}, InitialActivation: 1},
			{Name: "PICK_3_1_2", Parent: "GATHER_1_0_1", Peers: []string{"PICK_3_2_3"}, Work: state.WorkCfg{Duration: 100 * time.Millisecond}},
			{Name: "PICK_3_2_3", Parent: "GATHER_1_0_1", Peers: []string{"PICK_3_1_2"}, Work: state.WorkCfg{Duration: 100 * time.Millisecond, FailFirst: 1}},
		},
	}
}

func TestRedisPickAcrossRobots(t *testing.T) {
	h := NewHarness(t)
	states, err := h.Run(pickTree(), time.Minute, h.Local(0), h.Local(1), h.Local(2))
	require.NoError(t, err)

	want := map[int]string{0: "GATHER_1_0_1", 1: "PICK_3_1_2", 2: "PICK_3_2_3"}
	for idx, name := range want {
		require.NotNil(t, states[idx])
		assert.Contains(t, states[idx].Completed, state.MustParseNodeId(name), name)
	}
}

func TestRedisSingleProcess(t *testing.T) {
	h := NewHarness(t)
	states, err := h.Run(pickTree(), time.Minute, h.Local())
	require.NoError(t, err)
	assert.Len(t, states[0].Completed, 3)
}

func TestRedisUnreachable(t *testing.T) {
	h := NewHarness(t)
	lcfg := h.Local(0)
	lcfg.Bus.Addr = "127.0.0.1:1"
	_, err := h.Run(pickTree(), 10*time.Second, lcfg)
	assert.Error(t, err)
}
