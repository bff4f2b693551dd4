package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

type keyedLimiter struct {
	keys  []string
	allow bool
	err   error
}

func (l *keyedLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func TestAuthKeyRotation(t *testing.T) {
	h := Auth("old-key, new-key", "/api/health")(okHandler)

	serve := func(header, value, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, serve("Authorization", "Bearer old-key", "/api/intents").Code)
	assert.Equal(t, http.StatusOK, serve("Authorization", "bearer new-key", "/api/intents").Code)
	assert.Equal(t, http.StatusOK, serve("X-API-Key", "new-key", "/api/intents").Code)
	assert.Equal(t, http.StatusOK, serve("", "", "/api/health").Code)

	rec := serve("", "", "/api/intents")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	assert.JSONEq(t, `{"error":"UNAUTHORIZED","message":"missing authentication token"}`, rec.Body.String())

	rec = serve("Authorization", "Bearer old-key,new-key", "/api/intents")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthDisabledWithoutKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth(" , ")(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/intents", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("keys by class and client", func(t *testing.T) {
		l := &keyedLimiter{allow: true}
		h := RateLimit(l, 5, time.Minute, logger)(okHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/intents", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		h.ServeHTTP(httptest.NewRecorder(), req)

		req = httptest.NewRequest(http.MethodGet, "/api/intents/i-1", nil)
		req.RemoteAddr = "198.51.100.2:4711"
		h.ServeHTTP(httptest.NewRecorder(), req)

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/webhooks/relay", nil))

		assert.Equal(t, []string{
			"ratelimit:api:write:203.0.113.7",
			"ratelimit:api:read:198.51.100.2",
		}, l.keys)
	})

	t.Run("denied", func(t *testing.T) {
		h := RateLimit(&keyedLimiter{}, 5, 1500*time.Millisecond, logger)(okHandler)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/intents/i-1", nil))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"error":"RATE_LIMITED","message":"rate limit exceeded"}`, rec.Body.String())
	})

	t.Run("fails open", func(t *testing.T) {
		h := RateLimit(&keyedLimiter{err: errors.New("redis down")}, 5, time.Minute, logger)(okHandler)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/intents/i-1", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, requestLevel("/api/health", http.StatusOK))
	assert.Equal(t, slog.LevelError, requestLevel("/api/health", http.StatusServiceUnavailable))
	assert.Equal(t, slog.LevelWarn, requestLevel("/api/intents", http.StatusNotFound))
	assert.Equal(t, slog.LevelInfo, requestLevel("/api/intents", http.StatusCreated))
}
