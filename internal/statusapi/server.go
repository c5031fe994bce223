// Package statusapi serves a read-only JSON view of the supervision state:
// the latest health snapshot, stuck analyses, and each session's buffered
// output and stored history.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Iron-Ham/fleetwatch/internal/health"
	"github.com/Iron-Ham/fleetwatch/internal/history"
	"github.com/Iron-Ham/fleetwatch/internal/logging"
	"github.com/Iron-Ham/fleetwatch/internal/registry"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
)

// HealthSource supplies health snapshots.
type HealthSource interface {
	GetHealth() health.Snapshot
}

// StuckSource supplies stuck analyses.
type StuckSource interface {
	LastAnalyses() map[string]stuck.Analysis
	CheckAllTerminals(ctx context.Context) map[string]stuck.Analysis
	AnalyzeTerminal(ctx context.Context, sessionID string) (stuck.Analysis, error)
}

// OutputSource returns a session's buffered display output.
type OutputSource interface {
	Text(sessionID string) string
}

// HistorySource pages back through stored output.
type HistorySource interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]history.Entry, error)
}

// PollingSource reports which sessions are being polled.
type PollingSource interface {
	IsPolling(sessionID string) bool
}

// Deps are the server's data sources. Health, Stuck and Sessions are
// required; the rest may be nil, which disables their routes.
type Deps struct {
	Health   HealthSource
	Stuck    StuckSource
	Sessions registry.Registry
	Polling  PollingSource
	Output   OutputSource
	History  HistorySource
	Logger   *logging.Logger
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	shutdownTimeout     = 5 * time.Second
)

// Server is the status HTTP server.
type Server struct {
	deps   Deps
	logger *logging.Logger
	router chi.Router
}

// New creates a server and builds its routes.
func New(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: logging.OrNop(deps.Logger).WithComponent("statusapi"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleLiveness)
	r.Get("/health", s.handleHealth)
	r.Get("/stuck", s.handleStuck)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleSessions)
		r.Get("/{id}/stuck", s.handleSessionStuck)
		r.Get("/{id}/output", s.handleSessionOutput)
		r.Get("/{id}/history", s.handleSessionHistory)
	})
	return r
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("status server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotJSON(s.deps.Health.GetHealth()))
}

// handleStuck returns the latest analyses. With ?refresh=true it runs a
// full sweep first, which may fire notifications like a timer sweep would.
func (s *Server) handleStuck(w http.ResponseWriter, r *http.Request) {
	var analyses map[string]stuck.Analysis
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		analyses = s.deps.Stuck.CheckAllTerminals(r.Context())
	} else {
		analyses = s.deps.Stuck.LastAnalyses()
	}

	out := make(map[string]analysisJSON, len(analyses))
	for id, a := range analyses {
		out[id] = toAnalysisJSON(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": out})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.deps.Sessions.List()
	out := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		sj := sessionJSON{
			ID:      sess.ID,
			Role:    sess.Role,
			Status:  string(sess.Status),
			Missing: sess.Missing,
		}
		if s.deps.Polling != nil {
			sj.Polling = s.deps.Polling.IsPolling(sess.ID)
		}
		out = append(out, sj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleSessionStuck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.deps.Stuck.AnalyzeTerminal(r.Context(), id)
	switch {
	case errors.Is(err, stuck.ErrUnknownSession):
		writeError(w, http.StatusNotFound, "unknown session: "+id)
	case errors.Is(err, stuck.ErrStateCleared):
		writeError(w, http.StatusConflict, "session was removed during analysis")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, toAnalysisJSON(a))
	}
}

func (s *Server) handleSessionOutput(w http.ResponseWriter, r *http.Request) {
	if s.deps.Output == nil {
		writeError(w, http.StatusNotImplemented, "output buffering is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Sessions.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown session: "+id)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.deps.Output.Text(id)))
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotImplemented, "history is disabled")
		return
	}
	id := chi.URLParam(r, "id")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.deps.History.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Warn("history read failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "history read failed")
		return
	}
	out := make([]historyJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyJSON{RecordedAt: e.RecordedAt, Text: e.Text})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "entries": out})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
