package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/simage/blobstore"
	"github.com/hupe1980/simage/index/ivf"
	"github.com/hupe1980/simage/persistence"
)

const (
	manifestFileName = "MANIFEST.json"
	indexFileName    = "vectors.idx"
	urisFileName     = "uris.dat"

	manifestVersion = 1
)

// Manifest is the per-tenant commit record. It is written after both
// companion artifacts, so its presence marks a complete pair: a reader that
// finds no manifest treats the tenant as having no index, regardless of any
// stray artifacts from an interrupted persist.
type Manifest struct {
	Version   int       `json:"version"`
	BatchID   string    `json:"batch_id"`
	Count     int       `json:"count"`
	Dimension int       `json:"dimension"`
	Index     string    `json:"index"`
	URIs      string    `json:"uris"`
	CreatedAt time.Time `json:"created_at"`
}

// Persist writes the tenant's artifact pair and then its manifest to the
// store. Individual blob writes are atomic (see blobstore.Store); writing
// the manifest last makes the pair itself atomic to readers.
func (t *Index) Persist(ctx context.Context, store blobstore.Store, userID string) error {
	t.assertConsistent()

	prefix := userPrefix(userID)

	indexData, err := t.encodeIndex()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	uriData, err := t.encodeURIs()
	if err != nil {
		return fmt.Errorf("encode uris: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.Put(gctx, path.Join(prefix, indexFileName), indexData)
	})
	g.Go(func() error {
		return store.Put(gctx, path.Join(prefix, urisFileName), uriData)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	manifest, err := json.MarshalIndent(Manifest{
		Version:   manifestVersion,
		BatchID:   t.batchID,
		Count:     t.Count(),
		Dimension: t.Dimension(),
		Index:     indexFileName,
		URIs:      urisFileName,
		CreatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}

	return store.Put(ctx, path.Join(prefix, manifestFileName), manifest)
}

// Load reads a tenant index from the store.
//
// A missing manifest yields blobstore.ErrNotFound ("user has never
// ingested"). A manifest whose companion artifacts are missing or
// inconsistent yields a CorruptStateError instead: partial presence is
// corruption, not absence.
func Load(ctx context.Context, store blobstore.Store, userID string) (*Index, error) {
	prefix := userPrefix(userID)

	manifestData, err := store.Get(ctx, path.Join(prefix, manifestFileName))
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, &CorruptStateError{UserID: userID, Reason: fmt.Sprintf("bad manifest: %v", err)}
	}
	if manifest.Version != manifestVersion {
		return nil, &CorruptStateError{UserID: userID, Reason: fmt.Sprintf("unsupported manifest version %d", manifest.Version)}
	}

	indexData, err := store.Get(ctx, path.Join(prefix, manifest.Index))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, &CorruptStateError{UserID: userID, Reason: "index artifact missing"}
		}
		return nil, err
	}
	uriData, err := store.Get(ctx, path.Join(prefix, manifest.URIs))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, &CorruptStateError{UserID: userID, Reason: "uri artifact missing"}
		}
		return nil, err
	}

	idx, err := ivf.Read(bytes.NewReader(indexData))
	if err != nil {
		return nil, &CorruptStateError{UserID: userID, Reason: fmt.Sprintf("bad index artifact: %v", err)}
	}
	uris, err := decodeURIs(uriData)
	if err != nil {
		return nil, &CorruptStateError{UserID: userID, Reason: fmt.Sprintf("bad uri artifact: %v", err)}
	}

	if len(uris) != idx.Count() || len(uris) != manifest.Count {
		return nil, &CorruptStateError{
			UserID: userID,
			Reason: fmt.Sprintf("count mismatch: manifest %d, index %d, uris %d", manifest.Count, idx.Count(), len(uris)),
		}
	}

	return &Index{idx: idx, uris: uris, batchID: manifest.BatchID}, nil
}

// Exists reports whether a complete index pair is committed for the user,
// along with its item count, by consulting the manifest only.
func Exists(ctx context.Context, store blobstore.Store, userID string) (bool, int, error) {
	manifestData, err := store.Get(ctx, path.Join(userPrefix(userID), manifestFileName))
	if errors.Is(err, blobstore.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return false, 0, &CorruptStateError{UserID: userID, Reason: fmt.Sprintf("bad manifest: %v", err)}
	}
	return true, manifest.Count, nil
}

func (t *Index) encodeIndex() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := t.idx.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeURIs serializes the identifier list as a zstd-compressed artifact.
// URI lists are highly repetitive (shared path prefixes), so compression
// pays for itself quickly.
func (t *Index) encodeURIs() ([]byte, error) {
	var buf bytes.Buffer

	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}

	bw := persistence.NewWriter(zw)
	err = bw.WriteHeader(&persistence.FileHeader{
		ArtifactType: persistence.ArtifactTypeURIList,
		Count:        uint64(len(t.uris)),
	})
	if err != nil {
		return nil, err
	}
	for _, uri := range t.uris {
		if err := bw.WriteString(uri); err != nil {
			return nil, err
		}
	}
	if err := bw.Finish(); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeURIs(data []byte) ([]string, error) {
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	br := persistence.NewReader(zr)
	header, err := br.ReadHeader()
	if err != nil {
		return nil, err
	}
	if header.ArtifactType != persistence.ArtifactTypeURIList {
		return nil, fmt.Errorf("%w: got %d", persistence.ErrInvalidArtifact, header.ArtifactType)
	}

	uris := make([]string, header.Count)
	for i := range uris {
		uri, err := br.ReadString()
		if err != nil {
			return nil, err
		}
		uris[i] = uri
	}

	if err := br.Verify(); err != nil {
		return nil, err
	}
	return uris, nil
}
