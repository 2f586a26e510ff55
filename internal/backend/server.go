package backend

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/kitchensync/internal/ir"
)

// ErrorResponse is the error body written by Server.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Server exposes a Memory backend over HTTP using the routes Client expects.
type Server struct {
	backend *Memory
	logger  *slog.Logger
}

// NewServer creates a server. A nil logger uses slog.Default().
func NewServer(m *Memory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: m, logger: logger}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health)
	r.Post("/actions", s.deliver)
	r.Get("/entities", s.listEntities)
	r.Get("/entities/{id}", s.getEntity)
	r.Put("/entities/{id}", s.putEntity)
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) deliver(w http.ResponseWriter, r *http.Request) {
	var d ir.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid descriptor JSON")
		return
	}
	if key := r.Header.Get(IdempotencyHeader); key != "" && d.ActionID == "" {
		d.ActionID = key
	}

	ack, err := s.backend.Deliver(r.Context(), d)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
		s.logger.Warn("rejecting delivery", "action_id", d.ActionID, "error", err)
		writeError(w, http.StatusUnprocessableEntity, "rejected", err.Error())
		return
	}

	s.logger.Debug("delivery applied", "action_id", ack.ActionID, "duplicate", ack.Duplicate)
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Entities())
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.backend.FetchSnapshot(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "entity not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) putEntity(w http.ResponseWriter, r *http.Request) {
	var e ir.Entity
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid entity JSON")
		return
	}
	e.ID = chi.URLParam(r, "id")
	if err := e.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_entity", err.Error())
		return
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	s.backend.Put(e)
	writeJSON(w, http.StatusOK, e)
}
