// Package api exposes the answer evaluation flow over HTTP.
//
// Routes:
//
//	POST /v1/listen   {"expected": "..."}  capture and evaluate one answer
//	POST /v1/confirm                      accept the suggested word
//	POST /v1/reject                       decline the suggested word
//	POST /v1/stop                         abort the running capture
//	GET  /v1/state                        current attempt snapshot
//	GET  /v1/events                       WebSocket stream of attempt snapshots
//
// POST /v1/listen blocks until the attempt is decided. Cancelling the request
// aborts the capture.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/voxtutor/internal/evaluation"
)

// maxBodyBytes bounds request bodies. Expected answers are single words or
// short phrases.
const maxBodyBytes = 16 << 10

// Tutor is the evaluation flow served by [Server].
// [*evaluation.Orchestrator] implements it.
type Tutor interface {
	Listen(ctx context.Context, expected string) (string, bool, error)
	ConfirmWord() (string, bool)
	RejectConfirmation()
	StopListening()
	State() evaluation.Attempt
}

var _ Tutor = (*evaluation.Orchestrator)(nil)

// ListenRequest is the body of POST /v1/listen.
type ListenRequest struct {
	Expected string `json:"expected"`
}

// WordResponse is returned by the listen and confirm routes.
type WordResponse struct {
	Word     string             `json:"word"`
	Accepted bool               `json:"accepted"`
	State    evaluation.Attempt `json:"state"`
}

// StateResponse is returned by the reject and stop routes.
type StateResponse struct {
	State evaluation.Attempt `json:"state"`
}

// Option is a functional option for [Server].
type Option func(*Server)

// WithEvents serves ev on GET /v1/events.
func WithEvents(ev *Events) Option {
	return func(s *Server) {
		s.events = ev
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server serves the evaluation routes.
type Server struct {
	tutor  Tutor
	events *Events
	log    *slog.Logger
}

// New creates a [Server] for tutor.
func New(tutor Tutor, opts ...Option) *Server {
	s := &Server{tutor: tutor, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the evaluation routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/listen", s.handleListen)
	mux.HandleFunc("POST /v1/confirm", s.handleConfirm)
	mux.HandleFunc("POST /v1/reject", s.handleReject)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("GET /v1/state", s.handleState)
	if s.events != nil {
		mux.Handle("GET /v1/events", s.events)
	}
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	var req ListenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	expected := strings.TrimSpace(req.Expected)
	if expected == "" {
		http.Error(w, "expected is required", http.StatusBadRequest)
		return
	}

	word, accepted, err := s.tutor.Listen(r.Context(), expected)
	switch {
	case errors.Is(err, evaluation.ErrBusy):
		writeJSON(w, http.StatusConflict, WordResponse{State: s.tutor.State()})
		return
	case errors.Is(err, evaluation.ErrClosed):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	case err != nil:
		s.log.ErrorContext(r.Context(), "api: listen failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log.DebugContext(r.Context(), "api: listen finished",
		"expected", expected,
		"accepted", accepted,
	)
	writeJSON(w, http.StatusOK, WordResponse{
		Word:     word,
		Accepted: accepted,
		State:    s.tutor.State(),
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, _ *http.Request) {
	word, accepted := s.tutor.ConfirmWord()
	writeJSON(w, http.StatusOK, WordResponse{
		Word:     word,
		Accepted: accepted,
		State:    s.tutor.State(),
	})
}

func (s *Server) handleReject(w http.ResponseWriter, _ *http.Request) {
	s.tutor.RejectConfirmation()
	writeJSON(w, http.StatusOK, StateResponse{State: s.tutor.State()})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.tutor.StopListening()
	writeJSON(w, http.StatusOK, StateResponse{State: s.tutor.State()})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tutor.State())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
