package simage

import (
	"errors"
	"fmt"

	"github.com/hupe1980/simage/index/ivf"
	"github.com/hupe1980/simage/registry"
)

var (
	// ErrNoIndex is returned when a user has never successfully ingested a
	// batch. It is an expected outcome, not a server fault.
	ErrNoIndex = errors.New("no index for user")

	// ErrNoValidData is returned when an ingest batch contains zero usable
	// embeddings.
	ErrNoValidData = errors.New("no valid embeddings in batch")

	// ErrInvalidK is returned when the requested result count is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// BuildError indicates that an ingest batch could not be turned into an
// index (e.g. inconsistent embedding dimensions).
//
// The underlying cause can be accessed via errors.Unwrap.
type BuildError struct {
	cause error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("index build failed: %v", e.cause)
}

func (e *BuildError) Unwrap() error { return e.cause }

// translateError maps internal errors onto the public taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, registry.ErrNotFound) {
		return ErrNoIndex
	}
	if errors.Is(err, ivf.ErrInvalidK) {
		return ErrInvalidK
	}

	return err
}
