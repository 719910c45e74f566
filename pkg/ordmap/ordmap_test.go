package ordmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPush_EvictsOldestAtCapacity(t *testing.T) {
	var evicted []Entry[int, string]
	m := New(3, func(k int, v string) {
		evicted = append(evicted, Entry[int, string]{Key: k, Value: v})
	})

	m.Push(1, "a")
	m.Push(2, "b")
	m.Push(3, "c")
	require.Equal(t, 3, m.Len())
	require.Empty(t, evicted)

	m.Push(4, "d")
	require.Equal(t, 3, m.Len())
	_, ok := m.Get(1)
	require.False(t, ok, "earliest key should be gone")
	require.Equal(t, []Entry[int, string]{{Key: 1, Value: "a"}}, evicted)
	require.Equal(t, []int{2, 3, 4}, m.Keys())
}

func TestPush_CapacityPlusOne(t *testing.T) {
	const capacity = 1440
	m := New[int64, int](capacity, nil)
	for i := 0; i <= capacity; i++ {
		m.Push(int64(i*60), i)
	}

	require.Equal(t, capacity, m.Len())
	_, ok := m.Get(0)
	require.False(t, ok)
	last, ok := m.LastKey()
	require.True(t, ok)
	require.Equal(t, int64(capacity*60), last)
}

func TestPush_OverwriteKeepsPosition(t *testing.T) {
	m := New[string, int](2, nil)
	m.Push("a", 1)
	m.Push("b", 2)
	m.Push("a", 10)

	require.Equal(t, 2, m.Len())
	require.Equal(t, []string{"a", "b"}, m.Keys())
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 10, v)

	last, ok := m.Last()
	require.True(t, ok)
	require.Equal(t, 2, last)
}

func TestShift_Empty(t *testing.T) {
	m := New[int, int](5, nil)

	e, ok := m.Shift()
	require.False(t, ok)
	require.Equal(t, Entry[int, int]{}, e)

	_, ok = m.Last()
	require.False(t, ok)
	_, ok = m.LastKey()
	require.False(t, ok)
}

func TestShift_FIFOOrder(t *testing.T) {
	m := New[int, int](10, nil)
	for i := 1; i <= 5; i++ {
		m.Push(i, i*i)
	}

	for i := 1; i <= 5; i++ {
		e, ok := m.Shift()
		require.True(t, ok)
		require.Equal(t, i, e.Key)
		require.Equal(t, i*i, e.Value)
	}
	require.Equal(t, 0, m.Len())

	// Map stays usable after being drained and compacted.
	m.Push(42, 1)
	require.Equal(t, []int{42}, m.Keys())
}

func TestLongRunningWindowStaysBounded(t *testing.T) {
	m := New[int, int](4, nil)
	for i := 0; i < 10000; i++ {
		m.Push(i, i)
	}

	require.Equal(t, 4, m.Len())
	require.Equal(t, []int{9996, 9997, 9998, 9999}, m.Keys())
	require.LessOrEqual(t, len(m.order), 2*m.Cap()+1)
}

func TestFirstKey(t *testing.T) {
	m := New[int, int](2, nil)
	_, ok := m.FirstKey()
	require.False(t, ok)

	m.Push(1, 1)
	m.Push(2, 2)
	m.Push(3, 3)
	k, ok := m.FirstKey()
	require.True(t, ok)
	require.Equal(t, 2, k)
}
