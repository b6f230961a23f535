package simage

import (
	"context"

	"github.com/hupe1980/simage/blobstore"
	"github.com/hupe1980/simage/registry"
	"github.com/hupe1980/simage/tenant"
)

// Service is the top-level handle for ingesting and querying per-user
// image indexes. It is safe for concurrent use; operations on different
// users never block each other.
type Service struct {
	opts     Options
	store    blobstore.Store
	registry *registry.Registry
}

// New creates a Service backed by the given blob store.
func New(store blobstore.Store, optFns ...func(o *Options)) *Service {
	opts := DefaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Service{
		opts:     opts,
		store:    store,
		registry: registry.New(store, opts.Logger.Logger),
	}
}

// Exists reports whether the user has a committed index, and if so how many
// images it holds. It consults, in order: the in-memory registry, the tenant
// catalog (when attached), and finally the persisted manifest.
func (s *Service) Exists(ctx context.Context, userID string) (bool, int, error) {
	if idx, ok := s.registry.Peek(userID); ok {
		return true, idx.Count(), nil
	}

	if s.opts.Catalog != nil {
		entry, err := s.opts.Catalog.Get(ctx, userID)
		if err == nil {
			return true, entry.Count, nil
		}
		// Unknown tenant or catalog trouble: fall through to the manifest,
		// which is the source of truth.
	}

	return tenant.Exists(ctx, s.store, userID)
}

// Forget drops the user's in-memory index so the next access reloads from
// durable storage. Intended for operational eviction.
func (s *Service) Forget(userID string) {
	s.registry.Forget(userID)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.opts.Catalog != nil {
		return s.opts.Catalog.Close()
	}
	return nil
}
