package simage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hupe1980/simage/blobstore"
	"github.com/hupe1980/simage/model"
	"github.com/hupe1980/simage/tenant"
	"github.com/hupe1980/simage/testutil"
)

func TestQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("ranking and threshold", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		_, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "a", Vector: []float32{1, 0}},
			{URI: "b", Vector: []float32{0, 1}},
			{URI: "c", Vector: []float32{10, 10}},
		})
		require.NoError(t, err)

		// Query near a: a closest, b second, c normalizes to 1.0 and is
		// dropped by the threshold.
		matches, err := svc.Query(ctx, "u1", []float32{0.9, 0.1}, 2)
		require.NoError(t, err)
		require.Len(t, matches, 2)

		assert.Equal(t, "a", matches[0].URI)
		assert.Equal(t, "b", matches[1].URI)
		assert.Less(t, matches[0].Distance, matches[1].Distance)
		assert.Greater(t, matches[0].Score, matches[1].Score)
	})

	t.Run("never returns more than k", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())
		rng := testutil.NewRNG(7)

		records := make([]model.Record, 50)
		for i := range records {
			records[i] = model.Record{
				URI:    fmt.Sprintf("img-%03d", i),
				Vector: rng.UniformVector(8),
			}
		}

		_, err := svc.Ingest(ctx, "u1", records)
		require.NoError(t, err)

		matches, err := svc.Query(ctx, "u1", rng.UniformVector(8), 5)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(matches), 5)

		for i := 1; i < len(matches); i++ {
			assert.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
		}
		for _, m := range matches {
			assert.GreaterOrEqual(t, m.Distance, float32(0))
			assert.Less(t, m.Distance, float32(DefaultThreshold))
			assert.GreaterOrEqual(t, m.Score, float32(0))
			assert.LessOrEqual(t, m.Score, float32(100))
		}
	})

	t.Run("exact duplicates all score 100", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		_, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "a", Vector: []float32{1, 2}},
			{URI: "b", Vector: []float32{1, 2}},
		})
		require.NoError(t, err)

		matches, err := svc.Query(ctx, "u1", []float32{1, 2}, 2)
		require.NoError(t, err)
		require.Len(t, matches, 2)

		for _, m := range matches {
			assert.Equal(t, float32(0), m.Distance)
			assert.Equal(t, float32(100), m.Score)
		}
	})

	t.Run("no index", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		_, err := svc.Query(ctx, "ghost", []float32{1, 0}, 5)
		require.ErrorIs(t, err, ErrNoIndex)
	})

	t.Run("invalid k", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		_, err := svc.Query(ctx, "u1", []float32{1, 0}, 0)
		require.ErrorIs(t, err, ErrInvalidK)
	})

	t.Run("tenant isolation", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		_, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "mine", Vector: []float32{1, 0}},
		})
		require.NoError(t, err)

		_, err = svc.Query(ctx, "u2", []float32{1, 0}, 5)
		require.ErrorIs(t, err, ErrNoIndex)
	})
}

func TestQueryByURI(t *testing.T) {
	ctx := context.Background()

	svc := New(blobstore.NewMemoryStore())

	_, err := svc.Ingest(ctx, "u1", []model.Record{
		{URI: "a", Vector: []float32{1, 0}},
		{URI: "b", Vector: []float32{0.9, 0.1}},
		{URI: "c", Vector: []float32{-5, 4}},
	})
	require.NoError(t, err)

	t.Run("self match first", func(t *testing.T) {
		matches, err := svc.QueryByURI(ctx, "u1", "a", 2)
		require.NoError(t, err)
		require.Len(t, matches, 2)

		assert.Equal(t, "a", matches[0].URI)
		assert.Equal(t, float32(0), matches[0].Distance)
		assert.Equal(t, "b", matches[1].URI)
	})

	t.Run("unknown uri", func(t *testing.T) {
		_, err := svc.QueryByURI(ctx, "u1", "nope", 2)

		var uriErr *tenant.ErrURINotFound
		require.ErrorAs(t, err, &uriErr)
		assert.Equal(t, "nope", uriErr.URI)
	})

	t.Run("no index", func(t *testing.T) {
		_, err := svc.QueryByURI(ctx, "ghost", "a", 2)
		require.ErrorIs(t, err, ErrNoIndex)
	})
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("replace semantics", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		first, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "old", Vector: []float32{1, 0}},
		})
		require.NoError(t, err)

		second, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "new-1", Vector: []float32{1, 0}},
			{URI: "new-2", Vector: []float32{0.9, 0.1}},
		})
		require.NoError(t, err)
		assert.NotEqual(t, first.BatchID, second.BatchID)

		matches, err := svc.Query(ctx, "u1", []float32{1, 0}, 5)
		require.NoError(t, err)
		for _, m := range matches {
			assert.NotEqual(t, "old", m.URI, "previous batch must be fully replaced")
		}
	})

	t.Run("skips empty embeddings", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		result, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "good", Vector: []float32{1, 0}},
			{URI: "bad", Vector: nil},
		})
		require.NoError(t, err)

		assert.Equal(t, 1, result.Indexed)
		assert.Equal(t, 1, result.Skipped)
	})

	t.Run("no valid data", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		_, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "bad", Vector: nil},
		})
		require.ErrorIs(t, err, ErrNoValidData)

		_, err = svc.Ingest(ctx, "u1", nil)
		require.ErrorIs(t, err, ErrNoValidData)
	})

	t.Run("inconsistent dimensions", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		_, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "a", Vector: []float32{1, 0}},
			{URI: "b", Vector: []float32{1, 0, 0}},
		})

		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)

		// The failed batch must not shadow an absent index.
		_, err = svc.Query(ctx, "u1", []float32{1, 0}, 5)
		require.ErrorIs(t, err, ErrNoIndex)
	})

	t.Run("enforced dimension", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore(), WithDimension(4))

		_, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "a", Vector: []float32{1, 0}},
		})

		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
	})

	t.Run("rate limited ingest still succeeds", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore(), WithIngestRateLimit(rate.Inf, 1))

		_, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "a", Vector: []float32{1, 0}},
		})
		require.NoError(t, err)
	})

	t.Run("concurrent ingests for different users", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())
		rng := testutil.NewRNG(11)

		const users = 8

		batches := make([][]model.Record, users)
		for u := range batches {
			records := make([]model.Record, 20)
			for i := range records {
				records[i] = model.Record{
					URI:    fmt.Sprintf("u%d-img-%d", u, i),
					Vector: rng.UniformVector(4),
				}
			}
			batches[u] = records
		}

		var wg sync.WaitGroup
		errs := make([]error, users)

		for u := 0; u < users; u++ {
			wg.Add(1)
			go func(u int) {
				defer wg.Done()
				_, errs[u] = svc.Ingest(ctx, fmt.Sprintf("user-%d", u), batches[u])
			}(u)
		}
		wg.Wait()

		for u, err := range errs {
			require.NoError(t, err, "user %d", u)

			ok, count, err := svc.Exists(ctx, fmt.Sprintf("user-%d", u))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 20, count)
		}
	})
}

func TestExists(t *testing.T) {
	ctx := context.Background()

	t.Run("reports count", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		ok, count, err := svc.Exists(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, count)

		_, err = svc.Ingest(ctx, "u1", []model.Record{
			{URI: "a", Vector: []float32{1, 0}},
			{URI: "b", Vector: []float32{0, 1}},
		})
		require.NoError(t, err)

		ok, count, err = svc.Exists(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, count)
	})

	t.Run("survives forget via persisted manifest", func(t *testing.T) {
		svc := New(blobstore.NewMemoryStore())

		_, err := svc.Ingest(ctx, "u1", []model.Record{
			{URI: "a", Vector: []float32{1, 0}},
		})
		require.NoError(t, err)

		svc.Forget("u1")

		ok, count, err := svc.Exists(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, count)

		// And queries reload transparently.
		matches, err := svc.Query(ctx, "u1", []float32{1, 0}, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "a", matches[0].URI)
	})
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()

	metrics := NewBasicMetrics()
	svc := New(blobstore.NewMemoryStore(), WithMetrics(metrics))

	_, err := svc.Ingest(ctx, "u1", []model.Record{
		{URI: "a", Vector: []float32{1, 0}},
	})
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, "u1", nil)
	require.ErrorIs(t, err, ErrNoValidData)

	_, err = svc.Query(ctx, "u1", []float32{1, 0}, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(2), metrics.IngestCount.Load())
	assert.Equal(t, int64(1), metrics.IngestErrors.Load())
	assert.Equal(t, int64(1), metrics.IngestVectors.Load())
	assert.Equal(t, int64(1), metrics.QueryCount.Load())
	assert.Equal(t, int64(0), metrics.QueryErrors.Load())
}

func TestTranslateError(t *testing.T) {
	require.NoError(t, translateError(nil))

	err := errors.New("boom")
	assert.Equal(t, err, translateError(err))
}
