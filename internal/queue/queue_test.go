package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMax(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		q := NewMax(4)

		assert.Zero(t, q.Len())
		_, ok := q.Top()
		assert.False(t, ok)
		_, ok = q.Pop()
		assert.False(t, ok)
	})

	t.Run("TopIsWorst", func(t *testing.T) {
		q := NewMax(4)
		q.Push(Item{Position: 1, Distance: 0.5})
		q.Push(Item{Position: 2, Distance: 2.0})
		q.Push(Item{Position: 3, Distance: 1.0})

		top, ok := q.Top()
		require.True(t, ok)
		assert.Equal(t, float32(2.0), top.Distance)
	})

	t.Run("PopDescending", func(t *testing.T) {
		q := NewMax(8)
		for _, d := range []float32{3, 1, 4, 1.5, 9, 2.6, 5} {
			q.Push(Item{Distance: d})
		}

		prev := float32(10)
		for q.Len() > 0 {
			item, ok := q.Pop()
			require.True(t, ok)
			assert.LessOrEqual(t, item.Distance, prev)
			prev = item.Distance
		}
	})
}
