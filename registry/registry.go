// Package registry is the single source of truth mapping user ids to their
// in-memory tenant indexes, safe under concurrent access across many users.
//
// Locking follows a strict double-checked discipline: a process-wide mutex
// protects only the creation of per-user guard objects (cheap, short-held),
// while each per-user guard protects that user's load and install (possibly
// expensive, held only for that user). Operations on different users never
// block each other.
//
// Concurrency choice for reads: a built tenant index is immutable, so
// GetOrLoad returns a snapshot reference that callers may search without
// holding any guard. A search racing an ingest observes either the old or
// the new index, never a partially built one. Ingest, in contrast, must hold
// the user's exclusive guard across build, persist, and install (see
// LockForIngest).
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hupe1980/simage/blobstore"
	"github.com/hupe1980/simage/tenant"
)

// ErrNotFound is returned when a user has never successfully ingested a
// batch. It is an expected outcome, not a failure.
var ErrNotFound = errors.New("no index for user")

type entry struct {
	mu sync.RWMutex

	// checked distinguishes "never looked at durable storage" from
	// "looked, confirmed empty". Both have idx == nil.
	checked bool
	idx     *tenant.Index
}

// Registry owns all tenant indexes for the process lifetime.
type Registry struct {
	store  blobstore.Store
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty registry backed by the given store.
func New(store blobstore.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// guard fetches or creates the per-user guard. The registry mutex is held
// only for the map access, never during load or install work.
func (r *Registry) guard(userID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		e = &entry{}
		r.entries[userID] = e
	}
	return e
}

// GetOrLoad returns the user's index, lazily loading it from durable storage
// on first access. It acquires and releases the user's guard internally;
// callers must not invoke it while already holding that guard.
//
// Returns ErrNotFound when neither memory nor storage has an index for the
// user. A tenant.CorruptStateError from the load path is passed through.
func (r *Registry) GetOrLoad(ctx context.Context, userID string) (*tenant.Index, error) {
	e := r.guard(userID)

	// Fast path: already checked.
	e.mu.RLock()
	if e.checked {
		idx := e.idx
		e.mu.RUnlock()
		if idx == nil {
			return nil, ErrNotFound
		}
		return idx, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check: another request may have loaded meanwhile.
	if e.checked {
		if e.idx == nil {
			return nil, ErrNotFound
		}
		return e.idx, nil
	}

	idx, err := tenant.Load(ctx, r.store, userID)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			// Confirmed empty; remember so repeat queries skip storage.
			e.checked = true
			e.idx = nil
			return nil, ErrNotFound
		}
		// Transient or corrupt: leave unchecked so a later call retries.
		return nil, err
	}

	r.logger.Info("loaded tenant index",
		slog.String("user", userID),
		slog.Int("count", idx.Count()),
		slog.String("batch_id", idx.BatchID()))

	e.checked = true
	e.idx = idx
	return idx, nil
}

// Peek returns the in-memory index without touching durable storage.
func (r *Registry) Peek(userID string) (*tenant.Index, bool) {
	e := r.guard(userID)

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx, e.idx != nil
}

// IngestGuard holds a user's exclusive guard for the duration of an ingest.
type IngestGuard struct {
	e *entry
}

// LockForIngest acquires the user's exclusive guard, blocking concurrent
// loads and ingests for the same user until Unlock. Ingests for other users
// proceed independently.
func (r *Registry) LockForIngest(userID string) *IngestGuard {
	e := r.guard(userID)
	e.mu.Lock()
	return &IngestGuard{e: e}
}

// Install replaces the user's in-memory index with a new one. The new index
// and its identifier list must already be durably persisted: a crash after
// persist but before install at worst serves a stale copy until the next
// load, never losing data.
func (g *IngestGuard) Install(idx *tenant.Index) {
	g.e.checked = true
	g.e.idx = idx
}

// Unlock releases the guard.
func (g *IngestGuard) Unlock() {
	g.e.mu.Unlock()
}

// Forget drops the user's in-memory state so the next access reloads from
// durable storage. Intended for tests and operational eviction.
func (r *Registry) Forget(userID string) {
	e := r.guard(userID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.checked = false
	e.idx = nil
}
