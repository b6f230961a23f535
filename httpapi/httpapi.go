// Package httpapi exposes the image search service over HTTP.
//
// Clients upload embeddings, not images; feature extraction happens outside
// this service. An ingest is a multipart ZIP archive holding a
// manifest.json (embedding file name to original image URI) plus one raw
// little-endian float32 file per embedding.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hupe1980/simage"
)

// Server routes HTTP requests to a simage service.
type Server struct {
	svc    *simage.Service
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server for the given service.
func NewServer(svc *simage.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		svc:    svc,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /v1/index/{user}", s.handleIndexStatus)
	s.mux.HandleFunc("POST /v1/index/{user}", s.handleIngest)
	s.mux.HandleFunc("POST /v1/search/{user}", s.handleSearch)
	s.mux.HandleFunc("GET /v1/search/{user}", s.handleSearchByURI)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
