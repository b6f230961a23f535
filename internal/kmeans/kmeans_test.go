package kmeans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrain(t *testing.T) {
	// Two well-separated clusters in 2D.
	vectors := []float32{
		0, 0,
		0.1, 0.1,
		0.2, 0,
		10, 10,
		10.1, 9.9,
		9.9, 10.1,
	}

	centroids := Train(vectors, 2, 2, 25)
	require.Len(t, centroids, 4)

	// Each point must be assigned to the same cluster as its neighbors.
	a := Assign([]float32{0.05, 0.05}, centroids, 2)
	b := Assign([]float32{10, 10}, centroids, 2)
	assert.NotEqual(t, a, b)

	assert.Equal(t, a, Assign([]float32{0.2, 0.1}, centroids, 2))
	assert.Equal(t, b, Assign([]float32{9.8, 10.2}, centroids, 2))
}

func TestTrainKEqualsN(t *testing.T) {
	vectors := []float32{
		1, 0,
		0, 1,
		10, 10,
	}

	centroids := Train(vectors, 2, 3, 25)
	require.Len(t, centroids, 6)

	// With k == n every point gets its own centroid.
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		seen[Assign(vectors[i*2:(i+1)*2], centroids, 2)] = true
	}
	assert.Len(t, seen, 3)
}

func TestRank(t *testing.T) {
	centroids := []float32{
		0, 0,
		5, 5,
		10, 10,
	}

	order := Rank([]float32{9, 9}, centroids, 2)
	require.Len(t, order, 3)
	assert.Equal(t, 2, order[0])
	assert.Equal(t, 1, order[1])
	assert.Equal(t, 0, order[2])
}
