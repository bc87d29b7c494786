package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pageweight/internal/config"
	"github.com/JakeFAU/pageweight/internal/metrics"
	"github.com/JakeFAU/pageweight/internal/tracker"
)

// DefaultSite is served by GET / when no server parameter is given.
const DefaultSite = "dev"

// Tracker is the subset of *tracker.Tracker the handlers use.
type Tracker interface {
	Sites() []tracker.TrackedSite
	Ping(ctx context.Context) (time.Time, error)
	Run(ctx context.Context, w io.Writer) (tracker.RunReport, error)
	History(ctx context.Context, siteID string) ([]tracker.Measurement, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the tracker.
type Server struct {
	router     chi.Router
	tracker    Tracker
	checks     map[string]ReadinessCheck
	runTimeout time.Duration
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(t Tracker, cfg config.Config, logger *zap.Logger, checks map[string]ReadinessCheck) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	runTimeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	s := &Server{
		tracker:    t,
		checks:     checks,
		runTimeout: runTimeout,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(runTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/", s.siteHistory)
	r.Head("/", s.siteHistory)

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/tasks/check", s.checkTask)
		r.Post("/tasks/check", s.checkTask)
		r.Get("/tasks/process", s.processTask)
		r.Post("/tasks/process", s.processTask)
		r.Post("/v1/ping", s.ping)
		r.Post("/v1/runs", s.run)
	})

	r.Route("/v1/sites", func(r chi.Router) {
		r.Get("/", s.listSites)
		r.Get("/{site}/history", s.siteHistory)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// runContext detaches a run from the client connection so an admitted run
// is never abandoned halfway, while still bounding it.
func (s *Server) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.runTimeout)
}

func (s *Server) checkTask(w http.ResponseWriter, r *http.Request) {
	at, err := s.tracker.Ping(r.Context())
	if errors.Is(err, tracker.ErrPingUnsupported) {
		writeText(w, http.StatusNotFound, "Ping is not used by the interval scheduler.")
		return
	}
	if err != nil {
		s.logger.Error("record ping failed", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Could not save ping.")
		return
	}
	writeText(w, http.StatusOK, "Ping saved: "+at.UTC().Format(time.RFC3339))
}

func (s *Server) processTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.runContext(r)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	out := &lazyWriter{w: w}
	if _, err := s.tracker.Run(ctx, out); err != nil {
		s.logger.Error("run failed", zap.Error(err))
		if !out.started {
			writeText(w, http.StatusInternalServerError, "Run failed.")
		}
	}
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	at, err := s.tracker.Ping(r.Context())
	if errors.Is(err, tracker.ErrPingUnsupported) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "record ping failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"pinged_at": at})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.runContext(r)
	defer cancel()

	report, err := s.tracker.Run(ctx, nil)
	if err != nil {
		s.logger.Error("run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sites": s.tracker.Sites()})
}

type historyResponse struct {
	Site         string                `json:"site"`
	Measurements []tracker.Measurement `json:"measurements"`
}

func (s *Server) siteHistory(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "site")
	if site == "" {
		site = r.URL.Query().Get("server")
	}
	if site == "" {
		site = DefaultSite
	}
	rows, err := s.tracker.History(r.Context(), site)
	if errors.Is(err, tracker.ErrUnknownSite) {
		writeError(w, http.StatusNotFound, "unknown site")
		return
	}
	if err != nil {
		s.logger.Error("history read failed", zap.String("site", site), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Site: site, Measurements: rows})
}

// lazyWriter records whether any body bytes were written so a failure
// before the first line can still change the status code.
type lazyWriter struct {
	w       http.ResponseWriter
	started bool
}

func (l *lazyWriter) Write(p []byte) (int, error) {
	l.started = true
	n, err := l.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (l *lazyWriter) Flush() {
	if f, ok := l.w.(http.Flusher); ok {
		f.Flush()
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("request_id", RequestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body+"\n"); err != nil {
		zap.L().Error("write text failed", zap.Error(err))
	}
}
