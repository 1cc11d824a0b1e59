package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lookup(t *testing.T) {
	reg, err := NewRegistry("OR_1_0_1", "PICK_3_1_2", "PICK_3_2_3")
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())

	e, ok := reg.LookupName("PICK_3_1_2")
	require.True(t, ok)
	assert.Equal(t, NodeId{Type: 3, Robot: 1, Node: 2}, e.Id)

	e, ok = reg.Lookup(NodeId{Type: 1, Robot: 0, Node: 1})
	require.True(t, ok)
	assert.Equal(t, "OR_1_0_1", e.Name)

	_, ok = reg.LookupName("PICK_3_9_9")
	assert.False(t, ok)
}

func TestRegistry_DuplicateId(t *testing.T) {
	_, err := NewRegistry("PICK_3_1_2", "PLACE_3_1_2")
	assert.Error(t, err)

	// re-adding the same name is a no-op
	reg, err := NewRegistry("PICK_3_1_2", "PICK_3_1_2")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_Resolve(t *testing.T) {
	reg, err := NewRegistry("OR_1_0_1", "PICK_3_1_2")
	require.NoError(t, err)

	entries, err := reg.Resolve("PICK_3_1_2", NoneName, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PICK_3_1_2", entries[0].Name)

	_, err = reg.Resolve("PICK_3_1_2", "PICK_3_2_3")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestRegistry_Cache(t *testing.T) {
	reg, err := NewRegistry("PICK_3_1_2", "PICK_3_2_3")
	require.NoError(t, err)
	a := MustParseNodeId("PICK_3_1_2")
	b := MustParseNodeId("PICK_3_2_3")

	st, ok := reg.Cached(a)
	require.True(t, ok)
	assert.Equal(t, a, st.Owner)
	assert.False(t, st.Done)

	assert.True(t, reg.UpdateCached(a, func(s *NodeState) {
		s.Done = true
		s.ActivationLevel = 0.5
	}))
	assert.False(t, reg.UpdateCached(NodeId{Type: 9}, func(s *NodeState) {}))

	snap := reg.Snapshot(b, a)
	require.Len(t, snap, 2)
	assert.Equal(t, b, snap[0].Owner)
	assert.False(t, snap[0].Done)
	assert.True(t, snap[1].Done)
	assert.Equal(t, float32(0.5), snap[1].ActivationLevel)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	reg, err := NewRegistry("PICK_3_1_2")
	require.NoError(t, err)
	id := MustParseNodeId("PICK_3_1_2")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				reg.UpdateCached(id, func(s *NodeState) {
					s.ActivationLevel++
				})
				_ = reg.Snapshot(id)
			}
		}()
	}
	wg.Wait()
	st, _ := reg.Cached(id)
	assert.Equal(t, float32(800), st.ActivationLevel)
}
