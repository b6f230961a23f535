package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for durable tenant artifact storage. Blob names
// use forward slashes regardless of the backend ("users/u1/vectors.idx").
//
// Put must be atomic per blob: a concurrent or crashed reader observes either
// the previous content or the new content, never a partial write. Cross-blob
// atomicity is the caller's responsibility (commit-marker-last discipline).
type Store interface {
	// Get reads a blob fully into memory.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put atomically writes a blob, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error

	// Stat returns the size of a blob, or ErrNotFound.
	Stat(ctx context.Context, name string) (int64, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
