// Package ivf implements an inverted-file flat (IVF-Flat) index: the
// embedding space is partitioned into nlist clusters via k-means, every
// vector is bucketed under its nearest centroid, and a query only scans the
// partitions closest to it. This trades exactness for sub-linear candidate
// retrieval; recall is controlled by how many partitions a search probes.
//
// An Index is built once from a batch and is immutable afterwards, so
// concurrent searches need no synchronization.
package ivf

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/simage/distance"
	"github.com/hupe1980/simage/internal/kmeans"
	"github.com/hupe1980/simage/internal/queue"
)

var (
	// ErrInvalidK is returned when the requested result count is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyBuild is returned when Build is called with no vectors.
	ErrEmptyBuild = errors.New("cannot build index from zero vectors")
)

// ErrDimensionMismatch is returned when a vector does not match the index
// dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrOutOfRange is returned by Reconstruct for an invalid position.
type ErrOutOfRange struct {
	Position int
	Count    int
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("position %d out of range [0, %d)", e.Position, e.Count)
}

// Options contains configuration options for the index.
type Options struct {
	// Dimension is the fixed vector dimensionality. Required, > 0.
	Dimension int

	// NList is the target number of inverted-file partitions. Build caps it
	// at the batch size, so small batches remain valid.
	NList int

	// MaxIter bounds the k-means training iterations.
	MaxIter int
}

// DefaultOptions contains the default configuration options.
var DefaultOptions = Options{
	NList:   100,
	MaxIter: 25,
}

// SearchResult is a raw candidate: the position of a vector inside the index
// and its squared L2 distance to the query.
type SearchResult struct {
	Position uint32
	Distance float32
}

// Index is an immutable IVF-Flat index over a single batch of vectors.
type Index struct {
	dim       int
	nlist     int
	vectors   []float32         // flattened, count*dim
	centroids []float32         // flattened, nlist*dim
	postings  []*roaring.Bitmap // vector positions per partition
}

// Build trains an index over the given vectors.
//
// The effective partition count is min(opts.NList, len(vectors)): k-means
// needs at least as many training points as clusters, and a fixed nlist
// would reject (or worse, crash on) small batches.
func Build(ctx context.Context, vectors [][]float32, optFns ...func(o *Options)) (*Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	n := len(vectors)
	if n == 0 {
		return nil, ErrEmptyBuild
	}

	dim := opts.Dimension
	if dim <= 0 {
		dim = len(vectors[0])
	}
	if dim <= 0 {
		return nil, &ErrDimensionMismatch{Expected: 1, Actual: 0}
	}

	flat := make([]float32, 0, n*dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
		}
		flat = append(flat, v...)
	}

	// Adaptive cap: never ask for more clusters than training points.
	nlist := opts.NList
	if nlist < 1 {
		nlist = 1
	}
	if nlist > n {
		nlist = n
	}

	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = DefaultOptions.MaxIter
	}

	centroids := kmeans.Train(flat, dim, nlist, maxIter)

	postings := make([]*roaring.Bitmap, nlist)
	for i := range postings {
		postings[i] = roaring.New()
	}
	for i := 0; i < n; i++ {
		part := kmeans.Assign(flat[i*dim:(i+1)*dim], centroids, dim)
		postings[part].Add(uint32(i))
	}

	return &Index{
		dim:       dim,
		nlist:     nlist,
		vectors:   flat,
		centroids: centroids,
		postings:  postings,
	}, nil
}

// Count returns the number of indexed vectors.
func (idx *Index) Count() int {
	return len(idx.vectors) / idx.dim
}

// Dimension returns the vector dimensionality.
func (idx *Index) Dimension() int {
	return idx.dim
}

// Partitions returns the effective partition count.
func (idx *Index) Partitions() int {
	return idx.nlist
}

// Search returns up to k candidates ordered by ascending squared L2
// distance. Partitions are probed in ascending centroid distance until at
// least k vectors have been scanned, so small or skewed batches still yield
// a full candidate set.
func (idx *Index) Search(ctx context.Context, q []float32, k int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(q) != idx.dim {
		return nil, &ErrDimensionMismatch{Expected: idx.dim, Actual: len(q)}
	}

	count := idx.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	top := queue.NewMax(k)
	scanned := 0

	for _, part := range kmeans.Rank(q, idx.centroids, idx.dim) {
		if scanned >= k {
			break
		}

		it := idx.postings[part].Iterator()
		for it.HasNext() {
			pos := it.Next()
			vec := idx.vectors[int(pos)*idx.dim : (int(pos)+1)*idx.dim]
			d := distance.SquaredL2(q, vec)
			scanned++

			if top.Len() < k {
				top.Push(queue.Item{Position: pos, Distance: d})
				continue
			}
			if worst, _ := top.Top(); d < worst.Distance {
				top.Pop()
				top.Push(queue.Item{Position: pos, Distance: d})
			}
		}
	}

	results := make([]SearchResult, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		item, _ := top.Pop()
		results[i] = SearchResult{Position: item.Position, Distance: item.Distance}
	}
	return results, nil
}

// Reconstruct returns a copy of the stored vector at the given position.
func (idx *Index) Reconstruct(position int) ([]float32, error) {
	count := idx.Count()
	if position < 0 || position >= count {
		return nil, &ErrOutOfRange{Position: position, Count: count}
	}

	vec := make([]float32, idx.dim)
	copy(vec, idx.vectors[position*idx.dim:(position+1)*idx.dim])
	return vec, nil
}
