package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_DropsOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got)

	m := rc.GetMetrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestRingChannel_SendReportsDropped(t *testing.T) {
	rc := New[string](1)

	_, overwritten := rc.Send("a")
	assert.False(t, overwritten)

	dropped, overwritten := rc.Send("b")
	assert.True(t, overwritten)
	assert.Equal(t, "a", dropped)

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, int64(1), rc.GetMetrics().Processed)
}

func TestRingChannel_TrySend(t *testing.T) {
	rc := New[int](1)
	assert.True(t, rc.TrySend(1))
	assert.False(t, rc.TrySend(2))
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())
}

func TestRingChannel_SendAfterClose(t *testing.T) {
	// GOAL: Verify producers racing with Close never panic
	//
	// TEST SCENARIO: Close → Send/TrySend → verify no panic and error metric counted
	rc := New[int](2)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() {
		_, overwritten := rc.Send(1)
		assert.True(t, overwritten)
		assert.False(t, rc.TrySend(2))
	})
	assert.Equal(t, int64(1), rc.GetMetrics().Errors)

	_, ok := rc.Receive()
	assert.False(t, ok)
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	rc := New[int](16)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	m := rc.GetMetrics()
	assert.Equal(t, int64(8000), m.Written)
	assert.Equal(t, int64(8000-16), m.Overwritten)
	assert.Equal(t, 16, rc.Len())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
