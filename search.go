package simage

import (
	"context"
	"log/slog"
	"time"

	"github.com/hupe1980/simage/model"
	"github.com/hupe1980/simage/tenant"
)

// Query searches the user's index with a raw embedding and returns up to k
// matches, strongest first.
//
// Distances are normalized per query by the largest distance among the
// fetched candidates, then matches at or past the configured threshold are
// dropped. Score is derived from the normalized distance as (1-d)*100, so a
// perfect match scores 100 and the weakest surviving match approaches
// (1-threshold)*100.
//
// Returns ErrNoIndex when the user has never ingested and ErrInvalidK when
// k is not positive.
func (s *Service) Query(ctx context.Context, userID string, embedding []float32, k int) ([]model.Match, error) {
	start := time.Now()

	matches, err := s.query(ctx, userID, embedding, k)
	s.opts.Metrics.RecordQuery(k, time.Since(start), err)

	return matches, err
}

// QueryByURI searches the user's index using an already-indexed image as the
// query, for "more like this" lookups. The stored embedding for the URI is
// reconstructed from the index and searched like any raw embedding; the
// queried image itself matches at distance zero and is included in the
// results.
//
// Returns ErrNoIndex when the user has never ingested and a
// *tenant.ErrURINotFound when the URI is not part of the user's index.
func (s *Service) QueryByURI(ctx context.Context, userID, uri string, k int) ([]model.Match, error) {
	start := time.Now()

	matches, err := s.queryByURI(ctx, userID, uri, k)
	s.opts.Metrics.RecordQuery(k, time.Since(start), err)

	return matches, err
}

func (s *Service) query(ctx context.Context, userID string, embedding []float32, k int) ([]model.Match, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}

	idx, err := s.registry.GetOrLoad(ctx, userID)
	if err != nil {
		return nil, translateError(err)
	}

	return s.rank(ctx, userID, idx, embedding, k)
}

func (s *Service) queryByURI(ctx context.Context, userID, uri string, k int) ([]model.Match, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}

	idx, err := s.registry.GetOrLoad(ctx, userID)
	if err != nil {
		return nil, translateError(err)
	}

	embedding, err := idx.Reconstruct(uri)
	if err != nil {
		return nil, err
	}

	return s.rank(ctx, userID, idx, embedding, k)
}

// rank runs the shared post-processing pipeline: over-fetching search,
// per-query normalization, threshold filtering, and truncation to k.
func (s *Service) rank(ctx context.Context, userID string, idx *tenant.Index, embedding []float32, k int) ([]model.Match, error) {
	raw, err := idx.Search(ctx, embedding, k)
	if err != nil {
		return nil, translateError(err)
	}
	if len(raw) == 0 {
		return []model.Match{}, nil
	}

	// Candidates arrive in ascending distance order, so the scale for this
	// query is the last distance. An all-zero candidate set (exact
	// duplicates) normalizes to zero rather than dividing by zero.
	maxDist := raw[len(raw)-1].Distance

	matches := make([]model.Match, 0, k)
	for _, r := range raw {
		var norm float32
		if maxDist > 0 {
			norm = r.Distance / maxDist
		}
		if norm >= s.opts.Threshold {
			continue
		}

		matches = append(matches, model.Match{
			URI:      r.URI,
			Distance: norm,
			Score:    (1 - norm) * 100,
		})
		if len(matches) == k {
			break
		}
	}

	s.opts.Logger.Debug("query ranked",
		slog.String("user", userID),
		slog.Int("k", k),
		slog.Int("candidates", len(raw)),
		slog.Int("matches", len(matches)))

	return matches, nil
}
