package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wastewise/relay/internal/config"
	"github.com/wastewise/relay/internal/middleware"
	"github.com/wastewise/relay/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:         0,
			ChatPath:     "/chat",
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
	}
}

func echoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"message":"ok","usage":{}}`))
}

func TestRouter_Health(t *testing.T) {
	router := NewRouter(testConfig(), Handlers{Chat: http.HandlerFunc(echoHandler)}, nil, logger.Discard())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestRouter_ChatRoute(t *testing.T) {
	router := NewRouter(testConfig(), Handlers{Chat: http.HandlerFunc(echoHandler)}, nil, logger.Discard())

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestRouter_PreflightSkipsHandler(t *testing.T) {
	called := false
	chat := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	limiter := middleware.NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}, nil, logger.Discard())
	router := NewRouter(testConfig(), Handlers{Chat: chat}, limiter, logger.Discard())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
	assert.False(t, called)
}

func TestRouter_RateLimitKeepsCORS(t *testing.T) {
	limiter := middleware.NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}, nil, logger.Discard())
	router := NewRouter(testConfig(), Handlers{Chat: http.HandlerFunc(echoHandler)}, limiter, logger.Discard())

	codes := make([]int, 0, 2)
	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
		req.RemoteAddr = "203.0.113.9:5555"
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "*", last.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", last.Header().Get("Content-Type"))
}

type denyAll struct{ checked []string }

func (d *denyAll) Allow(key string) bool {
	d.checked = append(d.checked, key)
	return false
}

func (d *denyAll) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.Allow(middleware.ClientIP(r)) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func TestRouter_UsesInjectedRateLimiter(t *testing.T) {
	limiter := &denyAll{}
	router := NewRouter(testConfig(), Handlers{Chat: http.HandlerFunc(echoHandler)}, limiter, logger.Discard())

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, []string{"198.51.100.7"}, limiter.checked)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_UnknownRoutes(t *testing.T) {
	router := NewRouter(testConfig(), Handlers{Chat: http.HandlerFunc(echoHandler)}, nil, logger.Discard())

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodGet, "/chat", http.StatusMethodNotAllowed},
		{http.MethodGet, "/realtime/issue_reports", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRouter_CustomChatPath(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ChatPath = "/functions/v1/chat"
	router := NewRouter(cfg, Handlers{Chat: http.HandlerFunc(echoHandler)}, nil, logger.Discard())

	req := httptest.NewRequest(http.MethodPost, "/functions/v1/chat", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := testConfig()
	srv := New(&cfg.Server, http.HandlerFunc(echoHandler), logger.Discard())

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
