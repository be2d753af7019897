// Package web exposes the dispatcher over HTTP: the playground context, a
// synchronous typecheck endpoint, queued jobs with websocket result push and
// the Prometheus scrape endpoint.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dontdude/mypyplay/internal/domain"
	"github.com/dontdude/mypyplay/internal/platform/metrics"
	"github.com/dontdude/mypyplay/internal/sandbox"
)

// Options wires the server's collaborators. Checker is required; Queue and
// Hub enable the asynchronous job endpoints.
type Options struct {
	Checker domain.Checker
	Catalog sandbox.Catalog
	Queue   domain.JobQueue
	Hub     *Hub
	Limiter *RateLimiter
	// EnableMetrics mounts /private/metrics.
	EnableMetrics bool
	Logger        *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	checker domain.Checker
	catalog sandbox.Catalog
	queue   domain.JobQueue
	hub     *Hub
	limiter *RateLimiter
	metrics bool
	logger  *slog.Logger
}

// NewServer creates a Server from opts.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		checker: opts.Checker,
		catalog: opts.Catalog,
		queue:   opts.Queue,
		hub:     opts.Hub,
		limiter: opts.Limiter,
		metrics: opts.EnableMetrics,
		logger:  opts.Logger,
	}
}

// Handler builds the routed, CORS-enabled handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/context", metrics.Middleware("/api/context", http.HandlerFunc(s.handleContext)))
	mux.Handle("POST /api/typecheck", metrics.Middleware("/api/typecheck", s.limit(http.HandlerFunc(s.handleTypecheck))))

	if s.queue != nil && s.hub != nil {
		mux.Handle("POST /api/jobs", metrics.Middleware("/api/jobs", s.limit(http.HandlerFunc(s.handleSubmit))))
		// Upgraded connections bypass the metrics recorder, which cannot hijack.
		mux.HandleFunc("GET /api/ws", s.handleWS)
	}
	if s.metrics {
		mux.Handle("GET /private/metrics", metrics.Handler())
	}

	return enableCORS(mux)
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(next)
}

func (s *Server) handleContext(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog)
}

func (s *Server) handleTypecheck(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	result, err := s.checker.Run(r.Context(), req)
	if err != nil {
		status, detail := errorStatus(err)
		s.logger.Error("an error occurred during running type-check", "error", err, "status", status)
		writeError(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSubmit enqueues a job and returns its ID for the websocket.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	job := domain.Job{ID: uuid.NewString(), Request: req}
	s.logger.Info("Received submission", "jobID", job.ID)
	if err := s.queue.Publish(r.Context(), job); err != nil {
		s.logger.Error("Failed to publish job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": "queued",
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and parks it in the hub until the job's
// result is delivered or the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// 1. Extract JobID from Query Params
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	// 2. Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// 3. Register to Hub
	s.logger.Debug("Client connected via WebSocket", "jobID", jobID, "remoteAddr", conn.RemoteAddr())
	s.hub.Register(jobID, conn)

	// 4. Clean up on disconnect
	defer func() {
		s.logger.Debug("Client disconnected", "jobID", jobID)
		s.hub.Unregister(jobID, conn)
		_ = conn.Close()
	}()

	// 5. Drain reads until the client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (domain.Request, bool) {
	req, err := decodeRequest(w, r)
	switch {
	case errors.Is(err, errNotJSON):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return req, false
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

// errorStatus maps dispatcher failures to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "source is required"
	case errors.Is(err, domain.ErrUnknownVersion):
		return http.StatusBadRequest, "unknown mypy version"
	default:
		return http.StatusInternalServerError, "an error occurred during running mypy"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// enableCORS adds headers to allow requests from the frontend.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle Preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
