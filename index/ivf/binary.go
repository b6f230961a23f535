package ivf

import (
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/simage/persistence"
)

// WriteTo serializes the index in the simage binary artifact format.
//
// It matches the io.WriterTo interface for toolchain friendliness.
func (idx *Index) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := persistence.NewWriter(cw)

	err := bw.WriteHeader(&persistence.FileHeader{
		ArtifactType: persistence.ArtifactTypeIVFIndex,
		Count:        uint64(idx.Count()),
		Dimension:    uint32(idx.dim),
		Partitions:   uint32(idx.nlist),
	})
	if err != nil {
		return cw.n, err
	}

	if err := bw.WriteFloat32Slice(idx.centroids); err != nil {
		return cw.n, err
	}
	if err := bw.WriteFloat32Slice(idx.vectors); err != nil {
		return cw.n, err
	}

	for _, bm := range idx.postings {
		data, err := bm.ToBytes()
		if err != nil {
			return cw.n, err
		}
		if err := bw.WriteBytes(data); err != nil {
			return cw.n, err
		}
	}

	return cw.n, bw.Finish()
}

// Read deserializes an index written by WriteTo.
func Read(r io.Reader) (*Index, error) {
	br := persistence.NewReader(r)

	header, err := br.ReadHeader()
	if err != nil {
		return nil, err
	}
	if header.ArtifactType != persistence.ArtifactTypeIVFIndex {
		return nil, fmt.Errorf("%w: got %d", persistence.ErrInvalidArtifact, header.ArtifactType)
	}

	centroids, err := br.ReadFloat32Slice()
	if err != nil {
		return nil, err
	}
	vectors, err := br.ReadFloat32Slice()
	if err != nil {
		return nil, err
	}

	dim := int(header.Dimension)
	nlist := int(header.Partitions)
	if dim <= 0 || nlist <= 0 {
		return nil, fmt.Errorf("%w: dimension %d, partitions %d", persistence.ErrInvalidArtifact, dim, nlist)
	}
	if len(centroids) != nlist*dim {
		return nil, fmt.Errorf("%w: centroid section size %d", persistence.ErrInvalidArtifact, len(centroids))
	}
	if len(vectors) != int(header.Count)*dim {
		return nil, fmt.Errorf("%w: vector section size %d", persistence.ErrInvalidArtifact, len(vectors))
	}

	postings := make([]*roaring.Bitmap, nlist)
	for i := range postings {
		data, err := br.ReadBytes()
		if err != nil {
			return nil, err
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		postings[i] = bm
	}

	if err := br.Verify(); err != nil {
		return nil, err
	}

	return &Index{
		dim:       dim,
		nlist:     nlist,
		vectors:   vectors,
		centroids: centroids,
		postings:  postings,
	}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
