package buffer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliding_FIFOEviction(t *testing.T) {
	b := NewSliding[int](3)
	assert.Equal(t, 3, b.Cap())
	assert.Empty(t, b.Snapshot())

	b.Push(1)
	b.Push(2)
	assert.False(t, b.Full())
	assert.Equal(t, []int{1, 2}, b.Snapshot())

	b.Push(3)
	assert.True(t, b.Full())
	b.Push(4)
	b.Push(5)
	assert.Equal(t, []int{3, 4, 5}, b.Snapshot())

	assert.Equal(t, 3, b.Snapshot()[0])
}

func TestSliding_LengthNeverExceedsCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		capacity := rng.Intn(10) + 1
		n := rng.Intn(40)
		b := NewSliding[int](capacity)
		for i := 0; i < n; i++ {
			b.Push(i)
			require.LessOrEqual(t, b.Len(), b.Cap())
		}

		snap := b.Snapshot()
		want := n
		if want > capacity {
			want = capacity
		}
		require.Len(t, snap, want)
		for i, v := range snap {
			// Oldest retained is always the earliest of what is held.
			assert.Equal(t, n-want+i, v)
		}
	}
}

func TestSliding_SnapshotIsACopy(t *testing.T) {
	b := NewSliding[string](2)
	b.Push("f1")
	b.Push("f2")

	snap := b.Snapshot()
	snap[0] = "mutated"
	b.Push("f3")

	assert.Equal(t, []string{"f2", "f3"}, b.Snapshot())
	assert.Equal(t, []string{"mutated", "f2"}, snap)
}

func TestSliding_MinimumCapacity(t *testing.T) {
	b := NewSliding[int](0)
	assert.Equal(t, 1, b.Cap())
	b.Push(9)
	b.Push(10)
	assert.Equal(t, []int{10}, b.Snapshot())
	assert.Equal(t, 1, b.Len())
	assert.True(t, b.Full())
}
