// Package api exposes the control surface over HTTP/JSON. Handlers only
// translate requests into store and scheduler calls.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	sloghttp "github.com/samber/slog-http"

	"rss_watch/internal/model"
	"rss_watch/internal/scheduler"
	"rss_watch/internal/storage"
)

const maxBodySize = 1 << 20

// Syncer is the part of the scheduler the API drives.
type Syncer interface {
	Trigger()
	Preview(ctx context.Context) []model.Entry
	DeliverManual(ctx context.Context, link string) (model.HistoryRecord, error)
	Status() scheduler.Status
}

// Server serves the JSON API.
type Server struct {
	store storage.Storage
	sync  Syncer
	log   *slog.Logger
}

// New creates a Server.
func New(store storage.Storage, sync Syncer, log *slog.Logger) *Server {
	return &Server{store: store, sync: sync, log: log}
}

// Handler returns the routed handler wrapped with panic recovery and request
// logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("GET /api/feeds", s.handleListFeeds)
	mux.HandleFunc("POST /api/feeds", s.handleAddFeed)
	mux.HandleFunc("DELETE /api/feeds", s.handleRemoveFeed)
	mux.HandleFunc("POST /api/feeds/toggle", s.handleToggleFeed)

	mux.HandleFunc("GET /api/filters", s.handleListFilters)
	mux.HandleFunc("POST /api/filters", s.handleAddFilter)
	mux.HandleFunc("DELETE /api/filters/{name}", s.handleRemoveFilter)
	mux.HandleFunc("POST /api/filters/toggle", s.handleToggleFilter)

	mux.HandleFunc("GET /api/feed", s.handlePreview)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history.rss", s.handleHistoryRSS)
	mux.HandleFunc("POST /api/manual", s.handleManual)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	handler := sloghttp.Recovery(mux)
	return sloghttp.New(s.log)(handler)
}

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeOK(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusOK, okResponse{Success: true, Message: message})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeStoreError maps store failures to status codes. Unexpected errors are
// logged and reported as 500.
func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error, notFound string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, storage.ErrDuplicate):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
