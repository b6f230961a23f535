package kmeans

import (
	"math"
	"math/rand"
	"sort"

	"github.com/hupe1980/simage/distance"
)

// Train trains k centroids from the given flattened vectors (n * dim) using
// Lloyd's algorithm and squared L2 distance. It returns the flattened
// centroids (k * dim). Callers must ensure n >= k.
func Train(vectors []float32, dim, k, maxIter int) []float32 {
	n := len(vectors) / dim

	centroids := make([]float32, k*dim)

	// Initialize centroids from distinct data points.
	perm := rand.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		// Assignment step
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best := Assign(vec, centroids, dim)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		// Update step
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i := 0; i < n; i++ {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[cluster*dim+d] += vec[d]
			}
			counts[cluster]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed empty cluster with a random point to avoid
				// degenerate partitions.
				idx := rand.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids
}

// Assign finds the index of the closest centroid for a vector.
func Assign(vec []float32, centroids []float32, dim int) int {
	k := len(centroids) / dim

	best := -1
	minDist := float32(math.MaxFloat32)

	for j := 0; j < k; j++ {
		center := centroids[j*dim : (j+1)*dim]
		d := distance.SquaredL2(vec, center)
		if d < minDist {
			minDist = d
			best = j
		}
	}

	return best
}

type centroidDist struct {
	id   int
	dist float32
}

// Rank returns all centroid indices ordered by ascending distance to the
// query vector.
func Rank(query []float32, centroids []float32, dim int) []int {
	k := len(centroids) / dim

	dists := make([]centroidDist, k)
	for i := 0; i < k; i++ {
		center := centroids[i*dim : (i+1)*dim]
		dists[i] = centroidDist{id: i, dist: distance.SquaredL2(query, center)}
	}

	sort.Slice(dists, func(i, j int) bool {
		return dists[i].dist < dists[j].dist
	})

	result := make([]int, k)
	for i := range dists {
		result[i] = dists[i].id
	}

	return result
}
