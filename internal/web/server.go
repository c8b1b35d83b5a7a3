// Package web serves the browser interface and its JSON API.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/session"

	"github.com/rs/zerolog/log"
)

const (
	serviceName   = "document-qa"
	maxUploadSize = 64 << 20
	shutdownGrace = 10 * time.Second
)

//go:embed index.html
var indexHTML []byte

// Service is what the handlers need from the session.
type Service interface {
	ProcessDocument(ctx context.Context, path string) (string, error)
	Ask(ctx context.Context, question string) (models.AnswerResult, error)
	SaveStore(name string) (string, error)
	LoadStore(ctx context.Context, name string) (string, error)
	ListStores() ([]string, error)
	Status() session.Status
}

type Server struct {
	svc Service
	cfg config.WebConfig
}

func NewServer(svc Service, cfg *config.WebConfig) *Server {
	return &Server{svc: svc, cfg: *cfg}
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/documents", s.handleUpload)
	mux.HandleFunc("POST /api/questions", s.handleQuestion)
	mux.HandleFunc("GET /api/stores", s.handleListStores)
	mux.HandleFunc("POST /api/stores/{name}", s.handleSaveStore)
	mux.HandleFunc("POST /api/stores/{name}/load", s.handleLoadStore)

	return Chain(mux,
		Recover(),
		Logger(),
		RateLimit(s.cfg.RateLimit, s.cfg.Burst),
		OTel(serviceName),
	)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("Web interface listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

type statusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

type questionRequest struct {
	Question string `json:"question"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
	Document string `json:"document,omitempty"`
}

type storesResponse struct {
	Stores []string `json:"stores"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.svc.Status()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Ready: st.Ready, Document: st.Document})
}

// handleUpload stores the uploaded file under its own base name in a fresh
// directory, so citations show the name the user uploaded.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, fmt.Sprintf("missing file: %v", err))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		badRequest(w, "invalid file name")
		return
	}

	if err := helper.CreateFolder(s.cfg.UploadDir); err != nil {
		writeError(w, err)
		return
	}
	dir, err := os.MkdirTemp(s.cfg.UploadDir, "upload-*")
	if err != nil {
		writeError(w, err)
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := saveUpload(path, file); err != nil {
		writeError(w, err)
		return
	}

	status, err := s.svc.ProcessDocument(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	res, err := s.svc.Ask(r.Context(), req.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListStores(w http.ResponseWriter, _ *http.Request) {
	names, err := s.svc.ListStores()
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, storesResponse{Stores: names})
}

func (s *Server) handleSaveStore(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dir, err := s.svc.SaveStore(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: fmt.Sprintf("Store %q saved", filepath.Base(dir)), Path: dir})
}

func (s *Server) handleLoadStore(w http.ResponseWriter, r *http.Request) {
	msg, err := s.svc.LoadStore(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: msg})
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to store upload: %w", err)
	}
	return dst.Close()
}

// StatusCode maps an error kind to the HTTP status reported for it.
func StatusCode(err error) int {
	switch models.ErrorKind(err) {
	case "unsupported_format":
		return http.StatusUnsupportedMediaType
	case "load_failure", "empty_index":
		return http.StatusUnprocessableEntity
	case "persistence_failure":
		return http.StatusNotFound
	case "no_index":
		return http.StatusConflict
	case "embedding_failure", "index_failure", "model_load_failure", "generation_failure":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: models.ErrorKind(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: "bad_request"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Error writing response")
	}
}
