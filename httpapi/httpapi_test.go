package httpapi

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/simage"
	"github.com/hupe1980/simage/blobstore"
	"github.com/hupe1980/simage/model"
)

func newTestServer(t *testing.T) (*Server, *simage.Service) {
	t.Helper()

	svc := simage.New(blobstore.NewMemoryStore())
	t.Cleanup(func() { _ = svc.Close() })

	return NewServer(svc, nil), svc
}

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// buildUpload assembles the multipart body for an ingest: a ZIP archive
// with manifest.json plus one raw float32 file per embedding.
func buildUpload(t *testing.T, manifest map[string]string, embeddings map[string][]float32) (*bytes.Buffer, string) {
	t.Helper()

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)

	mw, err := zw.Create("manifest.json")
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(mw).Encode(manifest))

	for name, vec := range embeddings {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(encodeEmbedding(vec))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fw, err := form.CreateFormFile("archive", "batch.zip")
	require.NoError(t, err)
	_, err = fw.Write(archive.Bytes())
	require.NoError(t, err)
	require.NoError(t, form.Close())

	return &body, form.FormDataContentType()
}

func doIngest(t *testing.T, srv *Server, user string, manifest map[string]string, embeddings map[string][]float32) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := buildUpload(t, manifest, embeddings)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/index/%s", user), body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestIngestEndpoint(t *testing.T) {
	t.Run("indexes uploaded batch", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doIngest(t, srv, "alice",
			map[string]string{
				"0.bin": "content://media/1",
				"1.bin": "content://media/2",
			},
			map[string][]float32{
				"0.bin": {1, 0},
				"1.bin": {0, 1},
			})

		require.Equal(t, http.StatusOK, rec.Code)

		var resp ingestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Indexed)
		assert.Zero(t, resp.Skipped)
		assert.NotEmpty(t, resp.BatchID)
	})

	t.Run("skips manifest entries without files", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doIngest(t, srv, "alice",
			map[string]string{
				"0.bin":    "content://media/1",
				"lost.bin": "content://media/2",
			},
			map[string][]float32{
				"0.bin": {1, 0},
			})

		require.Equal(t, http.StatusOK, rec.Code)

		var resp ingestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Indexed)
	})

	t.Run("empty batch is a client error", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doIngest(t, srv, "alice",
			map[string]string{"lost.bin": "content://media/1"},
			nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing manifest", func(t *testing.T) {
		srv, _ := newTestServer(t)

		var archive bytes.Buffer
		zw := zip.NewWriter(&archive)
		fw, err := zw.Create("0.bin")
		require.NoError(t, err)
		_, err = fw.Write(encodeEmbedding([]float32{1, 0}))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		var body bytes.Buffer
		form := multipart.NewWriter(&body)
		ffw, err := form.CreateFormFile("archive", "batch.zip")
		require.NoError(t, err)
		_, err = ffw.Write(archive.Bytes())
		require.NoError(t, err)
		require.NoError(t, form.Close())

		req := httptest.NewRequest(http.MethodPost, "/v1/index/alice", &body)
		req.Header.Set("Content-Type", form.FormDataContentType())
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/index/alice", bytes.NewBufferString("nope"))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSearchEndpoint(t *testing.T) {
	ingestSample := func(t *testing.T, svc *simage.Service) {
		t.Helper()
		_, err := svc.Ingest(t.Context(), "alice", []model.Record{
			{URI: "content://media/a", Vector: []float32{1, 0}},
			{URI: "content://media/b", Vector: []float32{0, 1}},
			{URI: "content://media/c", Vector: []float32{10, 10}},
		})
		require.NoError(t, err)
	}

	t.Run("returns ranked matches", func(t *testing.T) {
		srv, svc := newTestServer(t)
		ingestSample(t, svc)

		body, err := json.Marshal(searchRequest{Embedding: []float32{0.9, 0.1}, K: 2})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/v1/search/alice", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp searchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Matches, 2)
		assert.Equal(t, "content://media/a", resp.Matches[0].URI)
		assert.Equal(t, "content://media/b", resp.Matches[1].URI)
	})

	t.Run("no index is not found, not a server fault", func(t *testing.T) {
		srv, _ := newTestServer(t)

		body, err := json.Marshal(searchRequest{Embedding: []float32{1, 0}, K: 2})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/v1/search/ghost", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/search/alice", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong embedding dimension", func(t *testing.T) {
		srv, svc := newTestServer(t)
		ingestSample(t, svc)

		body, err := json.Marshal(searchRequest{Embedding: []float32{1, 0, 0}, K: 2})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/v1/search/alice", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("negative k", func(t *testing.T) {
		srv, svc := newTestServer(t)
		ingestSample(t, svc)

		body, err := json.Marshal(searchRequest{Embedding: []float32{1, 0}, K: -1})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/v1/search/alice", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("search by uri", func(t *testing.T) {
		srv, svc := newTestServer(t)
		ingestSample(t, svc)

		req := httptest.NewRequest(http.MethodGet, "/v1/search/alice?uri=content://media/a&k=2", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp searchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Matches)
		assert.Equal(t, "content://media/a", resp.Matches[0].URI)
	})

	t.Run("search by unknown uri", func(t *testing.T) {
		srv, svc := newTestServer(t)
		ingestSample(t, svc)

		req := httptest.NewRequest(http.MethodGet, "/v1/search/alice?uri=content://media/zzz", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing uri parameter", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/v1/search/alice", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIndexStatusEndpoint(t *testing.T) {
	srv, svc := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/index/alice", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Exists)
	assert.Zero(t, resp.Count)

	_, err := svc.Ingest(t.Context(), "alice", []model.Record{
		{URI: "content://media/a", Vector: []float32{1, 0}},
	})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/index/alice", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Exists)
	assert.Equal(t, 1, resp.Count)
}
