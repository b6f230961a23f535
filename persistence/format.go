package persistence

import "errors"

const (
	// MagicNumber identifies simage binary artifacts (ASCII: "SIMG")
	MagicNumber = 0x53494D47
	// Version is the current artifact format version (v1.0.0)
	Version = 0x00010000

	// Artifact types
	ArtifactTypeIVFIndex = 1
	ArtifactTypeURIList  = 2
)

var (
	ErrInvalidMagic    = errors.New("invalid magic number")
	ErrInvalidVersion  = errors.New("unsupported format version")
	ErrInvalidArtifact = errors.New("invalid artifact type")
	ErrChecksum        = errors.New("checksum mismatch")
)

// FileHeader is the fixed-size header at the start of every artifact.
type FileHeader struct {
	Magic        uint32
	Version      uint32
	ArtifactType uint8
	Padding      [3]byte
	Count        uint64 // Number of vectors or identifiers
	Dimension    uint32 // Vector dimensionality (0 for URI lists)
	Partitions   uint32 // Inverted-file partition count (0 for URI lists)
}
