package httpapi

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/simage"
	"github.com/hupe1980/simage/index/ivf"
	"github.com/hupe1980/simage/model"
	"github.com/hupe1980/simage/tenant"
)

const (
	// maxArchiveBytes caps the in-memory ingest archive size.
	maxArchiveBytes = 256 << 20

	manifestName = "manifest.json"

	// decodeConcurrency bounds parallel embedding file decompression.
	decodeConcurrency = 8

	defaultK = 5
)

type statusResponse struct {
	Exists bool `json:"exists"`
	Count  int  `json:"count"`
}

type ingestResponse struct {
	BatchID string `json:"batch_id"`
	Indexed int    `json:"indexed"`
	Skipped int    `json:"skipped"`
}

type searchRequest struct {
	Embedding []float32 `json:"embedding"`
	K         int       `json:"k"`
}

type searchResponse struct {
	Matches []model.Match `json:"matches"`
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")

	exists, count, err := s.svc.Exists(r.Context(), userID)
	if err != nil {
		s.logger.Error("index status", slog.String("user", userID), slog.Any("error", err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{Exists: exists, Count: count})
}

// handleIngest accepts a multipart form with an "archive" ZIP file. The
// archive must contain manifest.json mapping embedding file names to the
// original image URIs; every mapped file holds one embedding as raw
// little-endian float32 values. Manifest entries without a matching file
// are skipped, mirroring lenient client-side packaging.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")

	archive, err := readArchive(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := decodeArchive(archive)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.svc.Ingest(r.Context(), userID, records)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ingestResponse{
		BatchID: result.BatchID,
		Indexed: result.Indexed,
		Skipped: result.Skipped,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.K == 0 {
		req.K = defaultK
	}

	matches, err := s.svc.Query(r.Context(), userID, req.Embedding, req.K)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, searchResponse{Matches: matches})
}

func (s *Server) handleSearchByURI(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")

	uri := r.URL.Query().Get("uri")
	if uri == "" {
		s.writeError(w, http.StatusBadRequest, "missing uri parameter")
		return
	}

	k := defaultK
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid k parameter")
			return
		}
		k = parsed
	}

	matches, err := s.svc.QueryByURI(r.Context(), userID, uri, k)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, searchResponse{Matches: matches})
}

// handleServiceError maps the service error taxonomy to HTTP statuses.
// Expected absences (no index, unknown URI) are 404s, caller mistakes are
// 400s, and only genuine faults surface as 500s.
func (s *Server) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		buildErr *simage.BuildError
		uriErr   *tenant.ErrURINotFound
		dimErr   *ivf.ErrDimensionMismatch
	)

	switch {
	case errors.Is(err, simage.ErrNoIndex):
		s.writeError(w, http.StatusNotFound, "no index for user")
	case errors.As(err, &uriErr):
		s.writeError(w, http.StatusNotFound, uriErr.Error())
	case errors.Is(err, simage.ErrNoValidData):
		s.writeError(w, http.StatusBadRequest, "no valid embeddings in batch")
	case errors.Is(err, simage.ErrInvalidK):
		s.writeError(w, http.StatusBadRequest, "k must be positive")
	case errors.As(err, &buildErr):
		s.writeError(w, http.StatusBadRequest, buildErr.Error())
	case errors.As(err, &dimErr):
		s.writeError(w, http.StatusBadRequest, dimErr.Error())
	default:
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func readArchive(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxArchiveBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	file, _, err := r.FormFile("archive")
	if err != nil {
		return nil, fmt.Errorf("missing archive file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxArchiveBytes))
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return data, nil
}

// decodeArchive unpacks the ingest ZIP into records. Each manifest entry
// names an embedding file inside the archive; entries whose file is absent
// are silently skipped.
func decodeArchive(data []byte) ([]model.Record, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	mf, ok := files[manifestName]
	if !ok {
		return nil, fmt.Errorf("archive has no %s", manifestName)
	}

	manifestData, err := readZipFile(mf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", manifestName, err)
	}

	var manifest map[string]string
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", manifestName, err)
	}

	type entry struct {
		file *zip.File
		uri  string
	}

	entries := make([]entry, 0, len(manifest))
	for name, uri := range manifest {
		if f, ok := files[name]; ok {
			entries = append(entries, entry{file: f, uri: uri})
		}
	}

	records := make([]model.Record, len(entries))

	var g errgroup.Group
	g.SetLimit(decodeConcurrency)

	for i, e := range entries {
		g.Go(func() error {
			raw, err := readZipFile(e.file)
			if err != nil {
				return fmt.Errorf("read %s: %w", e.file.Name, err)
			}

			vec, err := decodeEmbedding(raw)
			if err != nil {
				return fmt.Errorf("decode %s: %w", e.file.Name, err)
			}

			records[i] = model.Record{URI: e.uri, Vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return records, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(io.LimitReader(rc, maxArchiveBytes))
}

// decodeEmbedding parses one raw little-endian float32 embedding file.
func decodeEmbedding(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("length %d is not a multiple of 4", len(raw))
	}

	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}
