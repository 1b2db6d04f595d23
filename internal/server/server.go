// Package server exposes the matching pipeline over HTTP: synchronous
// matching, an SSE stream for the agentic orchestrator, catalog reload,
// health, and metrics.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/flowmatch/internal/agent"
	"github.com/Veraticus/flowmatch/internal/index"
	"github.com/Veraticus/flowmatch/internal/match"
	"github.com/Veraticus/flowmatch/internal/service"
)

// Deps carries the collaborators the server routes requests to.
type Deps struct {
	Pipeline  *match.Pipeline
	Agent     *agent.Orchestrator
	Extractor service.Extractor
	Store     service.CatalogStore
	Embedder  index.Embedder
	Catalog   *index.Swappable
	Logger    *slog.Logger
}

// Server is the HTTP surface of the matching service.
type Server struct {
	deps    Deps
	metrics *Metrics
}

// New creates a server with freshly registered metrics.
func New(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		metrics: NewMetrics(),
	}
	if deps.Catalog != nil {
		s.metrics.CatalogSize.Set(float64(deps.Catalog.Len()))
	}
	return s
}

// Handler builds the routed, instrumented handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/match", s.handleMatch)
	mux.HandleFunc("POST /v1/match/stream", s.handleMatchStream)
	mux.HandleFunc("POST /v1/catalog/reload", s.handleCatalogReload)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.withRequestID(s.withMetrics(mux))
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes streaming flushes through to the underlying writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.metrics.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		s.deps.Logger.Info("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path)

		next.ServeHTTP(w, r)
	})
}
