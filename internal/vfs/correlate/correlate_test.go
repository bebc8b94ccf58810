package correlate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCorrelator_NextIDIncreasing(t *testing.T) {
	c := New(nil)

	last := uint64(0)
	for i := 0; i < 1000; i++ {
		id := c.NextID()
		require.Greater(t, id, last)
		last = id
	}
}

func TestCorrelator_NextIDConcurrent(t *testing.T) {
	c := New(nil)

	var (
		wg   sync.WaitGroup
		mut  sync.Mutex
		seen = make(map[uint64]struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := c.NextID()
				mut.Lock()
				seen[id] = struct{}{}
				mut.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 800)
}

func TestCorrelator_DispatchOnce(t *testing.T) {
	c := New(nil)

	var calls []interface{}
	id := c.NextID()
	require.NoError(t, c.Register(id, func(r interface{}) { calls = append(calls, r) }))
	require.Equal(t, 1, c.Len())

	require.True(t, c.Dispatch(id, "first"))
	require.False(t, c.Dispatch(id, "duplicate"))

	require.Equal(t, []interface{}{"first"}, calls)
	require.Equal(t, 0, c.Len())
}

func TestCorrelator_UnknownIDLeavesOthersPending(t *testing.T) {
	c := New(nil)

	var fired bool
	id := c.NextID()
	require.NoError(t, c.Register(id, func(interface{}) { fired = true }))

	require.False(t, c.Dispatch(id+100, "stale"))
	require.False(t, fired)
	require.Equal(t, 1, c.Len())

	require.True(t, c.Dispatch(id, "ok"))
	require.True(t, fired)
}

func TestCorrelator_RegisterDuplicate(t *testing.T) {
	c := New(nil)

	var got string
	require.NoError(t, c.Register(1, func(interface{}) { got = "original" }))
	require.Error(t, c.Register(1, func(interface{}) { got = "replacement" }))

	c.Dispatch(1, nil)
	require.Equal(t, "original", got)
}

func TestCorrelator_RegisterNil(t *testing.T) {
	require.Error(t, New(nil).Register(1, nil))
}

func TestCorrelator_RemoveWinsOverDispatch(t *testing.T) {
	c := New(nil)

	var fired bool
	require.NoError(t, c.Register(5, func(interface{}) { fired = true }))

	_, ok := c.Remove(5)
	require.True(t, ok)
	require.False(t, c.Dispatch(5, nil))
	require.False(t, fired)
}

func TestCorrelator_Drain(t *testing.T) {
	c := New(nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Register(c.NextID(), func(interface{}) {}))
	}

	drained := c.Drain()
	require.Len(t, drained, 3)
	require.Equal(t, 0, c.Len())
	require.False(t, c.Dispatch(1, nil))
}
