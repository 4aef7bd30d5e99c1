package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"github.com/jonathan/pdfsqueeze/internal/config"
	"github.com/jonathan/pdfsqueeze/internal/jobs"
	"github.com/jonathan/pdfsqueeze/internal/pipeline"
	"github.com/jonathan/pdfsqueeze/internal/server/ratelimit"
	"github.com/jonathan/pdfsqueeze/internal/types"
)

// JobRunner starts jobs in the background. *pipeline.Runner implements it.
type JobRunner interface {
	SubmitPDF(job pipeline.PDFJob)
	SubmitImages(job pipeline.ImagesJob)
	Wait()
}

// Options holds the collaborators of a Server.
type Options struct {
	Config      *config.Config
	Store       *jobs.Store
	Runner      JobRunner
	Logger      *slog.Logger
	RateLimiter *ratelimit.Limiter
	// StreamInterval is how often the SSE status stream polls the store.
	StreamInterval time.Duration
	// Now is used for health timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Server represents the HTTP server
type Server struct {
	cfg            *config.Config
	store          *jobs.Store
	runner         JobRunner
	logger         *slog.Logger
	rateLimiter    *ratelimit.Limiter
	streamInterval time.Duration
	now            func() time.Time
	handler        http.Handler
	httpServer     *http.Server
}

// New creates a new server instance
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("server: job store is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("server: job runner is required")
	}

	s := &Server{
		cfg:            opts.Config,
		store:          opts.Store,
		runner:         opts.Runner,
		logger:         opts.Logger,
		rateLimiter:    opts.RateLimiter,
		streamInterval: opts.StreamInterval,
		now:            opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.rateLimiter == nil {
		s.rateLimiter = ratelimit.NewLimiter(opts.Config.RateLimit())
	}
	if s.streamInterval <= 0 {
		s.streamInterval = defaultStreamInterval
	}
	if s.now == nil {
		s.now = time.Now
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/app-info", s.handleAppInfo)

	mux.HandleFunc("POST /api/compress/pdf", s.handleCompressPDF)
	mux.HandleFunc("POST /api/compress/images-to-pdf", s.handleImagesToPDF)
	mux.HandleFunc("GET /api/compress/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/compress/status/{id}/stream", s.handleStatusStream)
	mux.HandleFunc("GET /api/compress/download/{id}", s.handleDownload)
	mux.HandleFunc("GET /api/compress/preview/{id}", s.handlePreview)
	mux.HandleFunc("DELETE /api/compress/jobs/{id}", s.handleDeleteJob)
	mux.HandleFunc("GET /api/compress/presets", s.handlePresets)

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))
	s.httpServer = &http.Server{
		Addr:         opts.Config.Addr(),
		Handler:      s.handler,
		ReadTimeout:  opts.Config.ReadTimeout(),
		WriteTimeout: opts.Config.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down gracefully and
// waits for in-flight jobs, both bounded by the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.rateLimiter.Stop()
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.rateLimiter.Stop()

	jobsDone := make(chan struct{})
	go func() {
		s.runner.Wait()
		close(jobsDone)
	}()
	select {
	case <-jobsDone:
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown timeout reached with jobs still running")
	}
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS applies the configured cross-origin policy.
func (s *Server) withCORS(next http.Handler) http.Handler {
	c := s.cfg.Server.CORS
	return cors.New(cors.Options{
		AllowedOrigins:   c.AllowOrigins,
		AllowedMethods:   c.AllowMethods,
		AllowedHeaders:   c.AllowHeaders,
		AllowCredentials: c.AllowCredentials,
	}).Handler(next)
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, clientID, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// errorResponse writes the error body for err. Errors without an API code are reported
// as INTERNAL_ERROR without exposing their text.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = errInternal("Internal server error", err)
	}
	if apiErr.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", apiErr.Code, "error", err)
	} else {
		s.logger.Debug("request rejected", "code", apiErr.Code, "error", err)
	}
	s.jsonResponse(w, apiErr.Status, types.ErrorResponse{
		Success: false,
		Error:   types.ErrorDetail{Code: apiErr.Code, Message: apiErr.Message},
	})
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr; X-Forwarded-For is not trusted.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitBody is the 429 payload: the standard error body plus the bucket state.
type rateLimitBody struct {
	types.ErrorResponse
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetAt    string `json:"reset_at,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, clientID string, info ratelimit.Info) {
	body := rateLimitBody{
		ErrorResponse: types.ErrorResponse{
			Error: types.ErrorDetail{
				Code:    types.CodeRateLimitExceeded,
				Message: "Rate limit exceeded. Please try again later.",
			},
		},
		Limit:     info.Limit,
		Remaining: info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		body.ResetAt = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		body.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	s.logger.Warn("rate limit exceeded", "client", clientID, "limit", info.Limit, "reset", body.ResetAt)
	s.jsonResponse(w, http.StatusTooManyRequests, body)
}
