package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrack/fintrack/internal/access"
	"github.com/fintrack/fintrack/internal/ledger"
	ledgerhttp "github.com/fintrack/fintrack/internal/ledger/http"
	"github.com/fintrack/fintrack/internal/ledger/store/memory"
	"github.com/fintrack/fintrack/internal/observability"
)

const testSecret = "correct-horse-battery-staple"

func newTestRouter(t *testing.T, cfg *Config, ready func(context.Context) error) http.Handler {
	t.Helper()
	hash, err := access.HashSecret(testSecret)
	require.NoError(t, err)
	keys, err := access.ParseKeys([]string{"ops:all:" + hash})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := ledger.NewService(memory.New())
	return NewRouter(RouterParams{
		Logger:        logger,
		Config:        cfg,
		Authenticator: access.NewAuthenticator(keys),
		LedgerHandler: ledgerhttp.NewHandler(logger, svc, nil),
		Metrics:       observability.NewMetrics(),
		Ready:         ready,
	})
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	var body *strings.Reader
	if method == http.MethodPost {
		body = strings.NewReader(`{"type":"personal","name":"Wallet","currency":"IDR","initial_balance":"10"}`)
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	h := newTestRouter(t, &Config{RateLimitPerMinute: 100}, nil)
	rec := serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestReadiness(t *testing.T) {
	h := newTestRouter(t, &Config{}, func(context.Context) error { return errors.New("db down") })
	rec := serve(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIRequiresBearerKey(t *testing.T) {
	h := newTestRouter(t, &Config{}, nil)

	rec := serve(h, http.MethodGet, "/api/v1/accounts", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	rec = serve(h, http.MethodGet, "/api/v1/accounts", "ops.wrong-secret-value-here")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, http.MethodPost, "/api/v1/accounts", "ops."+testSecret)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(h, http.MethodGet, "/api/v1/accounts", "ops."+testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Wallet"`)
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(t, &Config{RateLimitPerMinute: 2}, nil)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz", "").Code)
	}
	rec := serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestUnknownRouteIsProblem(t *testing.T) {
	h := newTestRouter(t, &Config{}, nil)
	rec := serve(h, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, &Config{}, nil)
	serve(h, http.MethodGet, "/healthz", "")
	rec := serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fintrack_http_requests_total{code="200",route="/healthz"}`)
}
