package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/pdfsqueeze/internal/config"
	"github.com/jonathan/pdfsqueeze/internal/jobs"
	"github.com/jonathan/pdfsqueeze/internal/pipeline"
	"github.com/jonathan/pdfsqueeze/internal/server/ratelimit"
	"github.com/jonathan/pdfsqueeze/internal/types"
)

// fakeRunner records submitted jobs instead of running them.
type fakeRunner struct {
	mu     sync.Mutex
	pdf    []pipeline.PDFJob
	images []pipeline.ImagesJob
	waited bool
}

func (f *fakeRunner) SubmitPDF(job pipeline.PDFJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pdf = append(f.pdf, job)
}

func (f *fakeRunner) SubmitImages(job pipeline.ImagesJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, job)
}

func (f *fakeRunner) Wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = true
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	*Server
	cfg    *config.Config
	store  *jobs.Store
	runner *fakeRunner
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	ws, err := jobs.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	store := jobs.NewStore(discardLogger(), ws)
	runner := &fakeRunner{}

	s, err := New(Options{
		Config:         cfg,
		Store:          store,
		Runner:         runner,
		Logger:         discardLogger(),
		StreamInterval: 5 * time.Millisecond,
		Now:            func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(s.rateLimiter.Stop)
	return &testServer{Server: s, cfg: cfg, store: store, runner: runner}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

type filePart struct {
	field   string
	name    string
	content []byte
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files ...filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := fw.Write(f.content); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var resp types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error response %q: %v", w.Body.String(), err)
	}
	return resp
}

// TestHealthEndpoint tests the /api/health endpoint
func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", resp.Status)
	}
	if resp.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got '%s'", resp.Version)
	}
	if resp.Timestamp != "2024-05-01T12:00:00Z" {
		t.Errorf("unexpected timestamp '%s'", resp.Timestamp)
	}
}

func TestAppInfoEndpoint(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.UI.Title = "Squeeze"
		c.UI.LogoURL = "/logo.svg"
	})

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/app-info", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp AppInfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Title != "Squeeze" || resp.LogoURL != "/logo.svg" || resp.Name != s.cfg.App.Name {
		t.Errorf("unexpected app info: %+v", resp)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/compress/pdf", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewLimiter(&ratelimit.Config{
		Enabled:       true,
		DefaultLimit:  2,
		DefaultWindow: time.Hour,
	})
	s := newTestServer(t, nil)
	s.rateLimiter.Stop()
	s.rateLimiter = limiter
	s.handler = s.withRateLimit(s.withLogging(s.withCORS(http.NotFoundHandler())))
	t.Cleanup(limiter.Stop)

	for i := 0; i < 2; i++ {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/compress/presets", nil))
		if w.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d was limited", i+1)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("expected X-RateLimit-Limit 2, got %q", got)
		}
	}

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/compress/presets", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	resp := decodeError(t, w)
	if resp.Success || resp.Error.Code != types.CodeRateLimitExceeded {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestHealthIsNotRateLimited(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Server.RateLimit.DefaultLimit = 1
	})

	for i := 0; i < 5; i++ {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, w.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"allowed origin", "http://localhost:3007", "http://localhost:3007"},
		{"other origin", "http://evil.test", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/compress/pdf", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			w := s.do(req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("expected Access-Control-Allow-Origin %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	ws, err := jobs.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := jobs.NewStore(discardLogger(), ws)

	tests := []struct {
		name string
		opts Options
	}{
		{"no config", Options{Store: store, Runner: &fakeRunner{}}},
		{"no store", Options{Config: config.Default(), Runner: &fakeRunner{}}},
		{"no runner", Options{Config: config.Default(), Store: store}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	s := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", ln.Addr()))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	s.runner.mu.Lock()
	defer s.runner.mu.Unlock()
	if !s.runner.waited {
		t.Error("expected in-flight jobs to be waited for")
	}
}

func TestServe_StatusStreamOutlivesWriteTimeout(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.WriteTimeoutSeconds = 1
		cfg.Server.ReadTimeoutSeconds = 2
	})
	if s.httpServer.WriteTimeout != time.Second || s.httpServer.ReadTimeout != 2*time.Second {
		t.Fatalf("timeouts not taken from config: read %v write %v",
			s.httpServer.ReadTimeout, s.httpServer.WriteTimeout)
	}

	job, err := s.store.Create("a.pdf")
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	go func() {
		time.Sleep(1500 * time.Millisecond)
		s.store.Update(job.ID, types.JobUpdate{ //nolint:errcheck
			Status:   types.Ptr(types.JobStatusCompleted),
			Progress: types.Ptr(100),
			Message:  types.Ptr("Compression successful"),
		})
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/compress/status/%s/stream", ln.Addr(), job.ID))
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("event: complete")) {
		t.Errorf("expected complete event after the write timeout, got %q", body)
	}
}

// stuckRunner never finishes its jobs.
type stuckRunner struct {
	fakeRunner
	release chan struct{}
}

func (r *stuckRunner) Wait() { <-r.release }

func TestServe_ShutdownTimeoutBoundsJobWait(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ShutdownTimeoutSeconds = 1

	ws, err := jobs.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	runner := &stuckRunner{release: make(chan struct{})}
	defer close(runner.release)

	s, err := New(Options{
		Config: cfg,
		Store:  jobs.NewStore(discardLogger(), ws),
		Runner: runner,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown waited past its timeout for running jobs")
	}
}
