package queryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/storage"
	"github.com/kaadipranav/lynex-sub000/internal/trace"
)

// TraceReader is the hot storage read surface the query API depends on.
type TraceReader interface {
	ListByTrace(ctx context.Context, projectID, traceID string) ([]storage.EventRow, error)
	ListTraceSummaries(ctx context.Context, projectID string, limit int, before time.Time) ([]storage.TraceSummary, error)
}

// Server is the dashboard-facing read API: trace lists and reconstructed
// trees. It never writes anything.
type Server struct {
	router    *chi.Mux
	logger    *zap.Logger
	store     TraceReader
	validator TokenValidator
}

func NewServer(store TraceReader, validator TokenValidator, logger *zap.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("query-api"),
		store:     store,
		validator: validator,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.validator, s.logger))

		r.Route("/v1/projects/{projectID}/traces", func(r chi.Router) {
			r.Get("/", s.listTraces)
			r.Get("/{traceID}", s.getTrace)
		})
	})
}

// listTraces returns trace summaries, most recent first.
// GET /v1/projects/{projectID}/traces?limit=50&before=RFC3339
func (s *Server) listTraces(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.authorize(w, r, projectID) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "before must be RFC3339", http.StatusBadRequest)
			return
		}
		before = t
	}

	summaries, err := s.store.ListTraceSummaries(r.Context(), projectID, limit, before)
	if err != nil {
		s.logger.Error("trace list failed", zap.String("project_id", projectID), zap.Error(err))
		http.Error(w, "failed to list traces", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"traces": summaries})
}

// getTrace returns the reconstructed tree for one trace.
// GET /v1/projects/{projectID}/traces/{traceID}
func (s *Server) getTrace(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	traceID := chi.URLParam(r, "traceID")
	if !s.authorize(w, r, projectID) {
		return
	}

	events, err := s.store.ListByTrace(r.Context(), projectID, traceID)
	if err != nil {
		s.logger.Error("trace fetch failed",
			zap.String("project_id", projectID), zap.String("trace_id", traceID), zap.Error(err))
		http.Error(w, "failed to fetch trace", http.StatusInternalServerError)
		return
	}

	t := trace.Build(events)
	if t == nil {
		http.Error(w, "trace not found", http.StatusNotFound)
		return
	}
	writeJSON(w, t)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, projectID string) bool {
	claims := ClaimsFromContext(r.Context())
	if claims == nil || !claims.AllowsProject(projectID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ServeHTTP lets the server be used as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
