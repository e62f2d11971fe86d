package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/malbeclabs/dispatch/api/handlers"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestDispatch_API_RateLimiter_Allow(t *testing.T) {
	t.Parallel()

	t.Run("burst then deny per ip", func(t *testing.T) {
		t.Parallel()

		limiter := handlers.NewRateLimiter("test", rate.Limit(5), 5)
		ip := "192.168.1.1"
		for i := range 5 {
			require.True(t, limiter.Allow(ip), "request %d should be allowed", i+1)
		}
		require.False(t, limiter.Allow(ip))
		require.True(t, limiter.Allow("192.168.1.2"))
	})

	t.Run("refills over time", func(t *testing.T) {
		t.Parallel()

		limiter := handlers.NewRateLimiter("test", rate.Limit(10), 2)
		ip := "192.168.1.1"
		require.True(t, limiter.Allow(ip))
		require.True(t, limiter.Allow(ip))
		require.False(t, limiter.Allow(ip))

		require.Eventually(t, func() bool { return limiter.Allow(ip) }, time.Second, 20*time.Millisecond)
	})

	t.Run("reports retry delay", func(t *testing.T) {
		t.Parallel()

		limiter := handlers.NewRateLimiter("test", rate.Every(time.Minute), 1)
		allowed, _ := limiter.AllowWithRetry("10.0.0.1")
		require.True(t, allowed)
		allowed, retry := limiter.AllowWithRetry("10.0.0.1")
		require.False(t, allowed)
		require.Greater(t, retry, 50*time.Second)
	})
}

func TestDispatch_API_RateLimiter_Middleware(t *testing.T) {
	t.Parallel()

	limiter := handlers.NewRateLimiter("test", rate.Limit(1), 1)
	handler := handlers.RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/claim", nil)
	req.RemoteAddr = "192.168.1.50:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	var errResp handlers.RateLimitError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	require.Equal(t, "RateLimitExceeded", errResp.Error)
	require.Positive(t, errResp.RetryAfter)

	// Spoofed forwarding headers do not buy a fresh budget.
	for _, header := range []string{"X-Forwarded-For", "X-Real-IP", "True-Client-IP"} {
		req = httptest.NewRequest(http.MethodPost, "/claim", nil)
		req.RemoteAddr = "192.168.1.50:23456"
		req.Header.Set(header, "203.0.113.7")
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusTooManyRequests, rec.Code, header)
	}

	// Another connection has its own budget.
	req = httptest.NewRequest(http.MethodPost, "/claim", nil)
	req.RemoteAddr = "192.168.1.51:12345"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDispatch_API_GetIPFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.10:4000", want: "192.0.2.10"},
		{name: "remote addr without port", remote: "192.0.2.10", want: "192.0.2.10"},
		{name: "forwarded for is ignored", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, remote: "10.0.0.1:1", want: "10.0.0.1"},
		{name: "real ip is ignored", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, remote: "10.0.0.1:1", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, handlers.GetIPFromRequest(req))
		})
	}
}
