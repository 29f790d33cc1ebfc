package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
	fiscalhttp "github.com/roro-pixel/bokati-sub001/internal/fiscal/http"
	"github.com/roro-pixel/bokati-sub001/internal/observability"
)

func testRouter(t *testing.T, cfg *Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := fiscal.NewService(fiscal.NewMemoryRepository(), fiscal.Dependencies{})
	return NewRouter(RouterParams{
		Logger:        logger,
		Config:        cfg,
		FiscalHandler: fiscalhttp.NewHandler(logger, svc),
		Metrics:       observability.NewMetrics(),
	})
}

func TestRouterHealthzWithSecureHeaders(t *testing.T) {
	router := testRouter(t, &Config{AppEnv: "test", RateLimitPerMinute: 100})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestRouterRateLimitReturnsProblem(t *testing.T) {
	router := testRouter(t, &Config{AppEnv: "test", RateLimitPerMinute: 2})

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRouterCORSPreflight(t *testing.T) {
	router := testRouter(t, &Config{
		AppEnv:             "test",
		RateLimitPerMinute: 100,
		CORSAllowedOrigins: []string{"https://app.example"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/fiscal-years", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterMountsFiscalRoutesAndMetrics(t *testing.T) {
	router := testRouter(t, &Config{AppEnv: "test", RateLimitPerMinute: 100})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fiscal-years/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bokati_http_requests_total")
}

func TestMiddlewareStackWithoutConfig(t *testing.T) {
	stack := MiddlewareStack(MiddlewareConfig{Metrics: observability.NewMetrics()})
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
