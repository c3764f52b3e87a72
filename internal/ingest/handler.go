package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/event"
)

// BatchRequest is the ingest endpoint payload.
type BatchRequest struct {
	Events []event.Envelope `json:"events"`
}

// Server wires the gate into chi. The only write surface is POST /v1/events.
type Server struct {
	router *chi.Mux
	gate   *Gate
	logger *zap.Logger
}

func NewServer(gate *Gate, logger *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		gate:   gate,
		logger: logger.Named("ingest-api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/v1/events", s.handleBatch)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		(&APIError{Status: 401, Code: CodeUnauthorized, Message: "missing X-API-Key header"}).Write(w)
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		(&APIError{Status: 400, Code: CodeBadRequest, Message: "invalid JSON payload"}).Write(w)
		return
	}

	accepted, apiErr := s.gate.Submit(r.Context(), apiKey, req.Events)
	if apiErr != nil {
		apiErr.Write(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(accepted)
}

// ServeHTTP lets the server be used as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
