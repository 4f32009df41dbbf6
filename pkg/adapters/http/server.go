// Package http exposes the caller-facing workflow API over HTTP:
// start, resume, and inspect instances.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomlab/loom/internal/logging"
	"github.com/loomlab/loom/pkg/domain"
)

// Runner is the engine surface the HTTP adapter needs.
type Runner interface {
	Start(ctx context.Context, instanceID string, initial map[string]any) (domain.StepResult, error)
	Resume(ctx context.Context, instanceID string, humanInput string) (domain.StepResult, error)
	Inspect(ctx context.Context, instanceID string) (domain.StepResult, error)
	List(ctx context.Context) ([]string, error)
}

// Server serves the instance API.
type Server struct {
	runner Runner
	logger *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewHandler builds the HTTP handler for a runner.
func NewHandler(runner Runner, opts ...Option) http.Handler {
	s := &Server{
		runner: runner,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.list)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.inspect)
			r.Post("/start", s.start)
			r.Post("/resume", s.resume)
		})
	})
	return r
}

type startRequest struct {
	Initial map[string]any `json:"initial"`
}

type resumeRequest struct {
	Input string `json:"input"`
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body startRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	res, err := s.runner.Start(r.Context(), id, body.Initial)
	if err != nil {
		s.fail(w, "start", id, err)
		return
	}
	s.respond(w, http.StatusCreated, res)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body resumeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	res, err := s.runner.Resume(r.Context(), id, body.Input)
	if err != nil {
		s.fail(w, "resume", id, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) inspect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.runner.Inspect(r.Context(), id)
	if err != nil {
		s.fail(w, "inspect", id, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	ids, err := s.runner.List(r.Context())
	if err != nil {
		s.fail(w, "list", "", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"instances": ids})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respond(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, op, id string, err error) {
	if errors.Is(err, domain.ErrInstanceNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.logger.Error("request failed", "op", op, "instance", id, "error", err)
	http.Error(w, fmt.Sprintf("%s failed: %v", op, err), http.StatusInternalServerError)
}
