package simage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/simage/index/ivf"
	"github.com/hupe1980/simage/model"
	"github.com/hupe1980/simage/tenant"
)

// IngestResult summarizes a completed ingest.
type IngestResult struct {
	// BatchID identifies this ingest batch. It is recorded in the persisted
	// manifest and returned by Exists-adjacent listings.
	BatchID string

	// Indexed is the number of embeddings in the new index.
	Indexed int

	// Skipped is the number of records dropped for having no embedding.
	Skipped int
}

// Ingest builds a fresh index from the batch and installs it as the user's
// one and only index. Any previously indexed images for the user are
// replaced, not merged.
//
// Records without an embedding are skipped. A batch with no usable records
// returns ErrNoValidData. Build failures (e.g. inconsistent embedding
// dimensions within the batch) are reported as a BuildError and leave the
// user's previous index, in memory and in storage, untouched.
func (s *Service) Ingest(ctx context.Context, userID string, records []model.Record) (*IngestResult, error) {
	start := time.Now()

	result, err := s.ingest(ctx, userID, records)

	indexed := 0
	if result != nil {
		indexed = result.Indexed
	}
	s.opts.Metrics.RecordIngest(indexed, time.Since(start), err)

	return result, err
}

func (s *Service) ingest(ctx context.Context, userID string, records []model.Record) (*IngestResult, error) {
	if s.opts.IngestLimiter != nil {
		if err := s.opts.IngestLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	usable := make([]model.Record, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			continue
		}
		usable = append(usable, rec)
	}

	skipped := len(records) - len(usable)
	if len(usable) == 0 {
		return nil, ErrNoValidData
	}

	batchID := uuid.NewString()
	logger := s.opts.Logger.WithUser(userID).WithBatchID(batchID)

	// The exclusive guard covers build, persist, and install so that two
	// concurrent ingests for the same user cannot interleave their artifact
	// writes. Ingests for other users proceed independently, and searches
	// keep running against the previous index snapshot.
	guard := s.registry.LockForIngest(userID)
	defer guard.Unlock()

	idx, err := tenant.Build(ctx, usable, batchID, func(o *ivf.Options) {
		o.NList = s.opts.NList
		if s.opts.Dimension > 0 {
			o.Dimension = s.opts.Dimension
		}
	})
	if err != nil {
		if errors.Is(err, ivf.ErrEmptyBuild) {
			return nil, ErrNoValidData
		}
		return nil, &BuildError{cause: err}
	}

	if err := idx.Persist(ctx, s.store, userID); err != nil {
		logger.Error("persist failed", slog.Any("error", err))
		return nil, err
	}

	guard.Install(idx)

	if s.opts.Catalog != nil {
		// The catalog is a derived cache; a failed upsert must not fail the
		// ingest that already committed.
		if err := s.opts.Catalog.Upsert(ctx, userID, idx.Count(), batchID); err != nil {
			logger.Warn("catalog upsert failed", slog.Any("error", err))
		}
	}

	logger.Info("ingested batch",
		slog.Int("indexed", idx.Count()),
		slog.Int("skipped", skipped),
		slog.Int("dimension", idx.Dimension()))

	return &IngestResult{
		BatchID: batchID,
		Indexed: idx.Count(),
		Skipped: skipped,
	}, nil
}
