// Package tenant owns one user's ANN index together with the parallel
// ordered list of original image identifiers. The pairing is the core
// invariant of the whole system: position i in the index corresponds to
// uris[i], and any operation that rebuilds one rebuilds both.
package tenant

import (
	"context"
	"fmt"
	"path"

	"github.com/hupe1980/simage/index/ivf"
	"github.com/hupe1980/simage/model"
)

// ErrURINotFound is returned when a URI is not part of the tenant's index.
type ErrURINotFound struct {
	URI string
}

func (e *ErrURINotFound) Error() string {
	return fmt.Sprintf("uri not indexed: %s", e.URI)
}

// CorruptStateError indicates that a tenant's persisted artifact pair is
// incomplete or inconsistent: one companion artifact exists without the
// other, or the decoded pair disagrees on the item count.
type CorruptStateError struct {
	UserID string
	Reason string
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt persisted state for user %q: %s", e.UserID, e.Reason)
}

// Result is a raw per-tenant search candidate with an absolute (not yet
// normalized) squared L2 distance.
type Result struct {
	URI      string
	Distance float32
}

// Index is one user's immutable vector index plus identifier list.
type Index struct {
	idx     *ivf.Index
	uris    []string
	batchID string
}

// Build creates a tenant index from a batch of records. The effective
// partition count is capped at the batch size (see ivf.Build).
func Build(ctx context.Context, records []model.Record, batchID string, optFns ...func(o *ivf.Options)) (*Index, error) {
	vectors := make([][]float32, len(records))
	uris := make([]string, len(records))
	for i, rec := range records {
		vectors[i] = rec.Vector
		uris[i] = rec.URI
	}

	idx, err := ivf.Build(ctx, vectors, optFns...)
	if err != nil {
		return nil, err
	}

	t := &Index{idx: idx, uris: uris, batchID: batchID}
	t.assertConsistent()
	return t, nil
}

// assertConsistent panics when the index/identifier pairing has
// desynchronized. This is a programming-invariant violation, not a
// recoverable condition.
func (t *Index) assertConsistent() {
	if len(t.uris) != t.idx.Count() {
		panic(fmt.Sprintf("tenant: identifier/vector count mismatch: %d uris, %d vectors",
			len(t.uris), t.idx.Count()))
	}
}

// Count returns the number of indexed images.
func (t *Index) Count() int {
	return len(t.uris)
}

// Dimension returns the embedding dimensionality.
func (t *Index) Dimension() int {
	return t.idx.Dimension()
}

// BatchID returns the id of the ingest batch this index was built from.
func (t *Index) BatchID() string {
	return t.batchID
}

// Search executes an over-fetching ANN search: it requests min(2k, N)
// candidates so that downstream threshold filtering still leaves up to k
// survivors. Results are ordered by ascending squared L2 distance.
func (t *Index) Search(ctx context.Context, q []float32, k int) ([]Result, error) {
	t.assertConsistent()

	if k <= 0 {
		return nil, ivf.ErrInvalidK
	}

	kSearch := 2 * k
	if kSearch > t.Count() {
		kSearch = t.Count()
	}

	raw, err := t.idx.Search(ctx, q, kSearch)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(raw))
	for i, r := range raw {
		results[i] = Result{URI: t.uris[r.Position], Distance: r.Distance}
	}
	return results, nil
}

// Reconstruct returns the stored embedding for an already-indexed URI, for
// "find similar to this indexed image" queries.
func (t *Index) Reconstruct(uri string) ([]float32, error) {
	for i, u := range t.uris {
		if u == uri {
			return t.idx.Reconstruct(i)
		}
	}
	return nil, &ErrURINotFound{URI: uri}
}

// userPrefix returns the storage prefix for a user's artifacts.
func userPrefix(userID string) string {
	return path.Join("users", userID)
}
