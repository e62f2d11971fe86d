package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/api/handlers"
	"github.com/malbeclabs/dispatch/api/server"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
	dispatchtesting "github.com/malbeclabs/dispatch/utils/pkg/testing"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// stubService answers fee quotes; every other operation is unused here.
type stubService struct {
	handlers.Service
}

func (stubService) QuoteFee(amount uint64) (distributor.FeeQuote, error) {
	return distributor.FeeQuote{Amount: amount}, nil
}

func (stubService) Claim(context.Context, distributor.ClaimRequest) (*distributor.PaymentResult, error) {
	return nil, tree.NewRuleError(tree.ErrTreeNotFound, "tree does not exist")
}

func newServer(t *testing.T, checks map[string]server.ReadinessCheck) http.Handler {
	t.Helper()
	log := dispatchtesting.NewLogger()
	api, err := handlers.New(handlers.Config{Logger: log, Service: stubService{}})
	require.NoError(t, err)
	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      "127.0.0.1:0",
		API:             api,
		VersionInfo:     handlers.VersionInfo{Version: "1.2.3", Commit: "abc123", Date: "2026-01-01"},
		ReadinessChecks: checks,
	})
	require.NoError(t, err)
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDispatch_API_Server_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := server.New(server.Config{})
	require.ErrorContains(t, err, "logger is required")

	_, err = server.New(server.Config{Logger: dispatchtesting.NewLogger()})
	require.ErrorContains(t, err, "listen addr is required")

	_, err = server.New(server.Config{Logger: dispatchtesting.NewLogger(), ListenAddr: ":0"})
	require.ErrorContains(t, err, "api handlers are required")
}

func TestDispatch_API_Server_HealthChecks(t *testing.T) {
	t.Parallel()

	t.Run("healthz", func(t *testing.T) {
		t.Parallel()

		rec := get(t, newServer(t, nil), "/healthz")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok\n", rec.Body.String())
	})

	t.Run("version", func(t *testing.T) {
		t.Parallel()

		rec := get(t, newServer(t, nil), "/version")
		require.Equal(t, http.StatusOK, rec.Code)
		var info handlers.VersionInfo
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
		require.Equal(t, "1.2.3", info.Version)
		require.Equal(t, "abc123", info.Commit)
	})

	t.Run("readyz lists failing dependencies", func(t *testing.T) {
		t.Parallel()

		h := newServer(t, map[string]server.ReadinessCheck{
			"postgres": func(context.Context) error { return nil },
			"solana":   func(context.Context) error { return errors.New("rpc unhealthy") },
			"archive":  func(context.Context) error { return errors.New("bucket missing") },
		})
		rec := get(t, h, "/readyz")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Equal(t, "not ready: archive, solana\n", rec.Body.String())
	})

	t.Run("readyz ok when every check passes", func(t *testing.T) {
		t.Parallel()

		h := newServer(t, map[string]server.ReadinessCheck{
			"postgres": func(context.Context) error { return nil },
		})
		rec := get(t, h, "/readyz")
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestDispatch_API_Server_Routes(t *testing.T) {
	t.Parallel()

	h := newServer(t, nil)

	rec := get(t, h, "/v1/fees?amount=42")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"amount":42,"basis_points":0,"fee":0}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodOptions, "/v1/trees", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", handlers.HeaderSignature)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDispatch_API_Server_ClientIP(t *testing.T) {
	t.Parallel()

	newClaimServer := func(t *testing.T, trustProxy bool) http.Handler {
		t.Helper()
		log := dispatchtesting.NewLogger()
		api, err := handlers.New(handlers.Config{
			Logger:       log,
			Service:      stubService{},
			ClaimLimiter: handlers.NewRateLimiter("test", rate.Every(time.Hour), 1),
		})
		require.NoError(t, err)
		srv, err := server.New(server.Config{Logger: log, ListenAddr: "127.0.0.1:0", API: api, TrustProxy: trustProxy})
		require.NoError(t, err)
		return srv.Handler()
	}

	claim := func(t *testing.T, h http.Handler, forwardedFor string) int {
		t.Helper()
		path := "/v1/trees/" + solana.NewWallet().PublicKey().String() + "/batch-0001/claim"
		body := []byte(`{"index":0,"amount":1}`)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.RemoteAddr = "10.0.0.1:4000"
		if forwardedFor != "" {
			req.Header.Set("X-Forwarded-For", forwardedFor)
		}
		require.NoError(t, handlers.SignRequest(req, solana.NewWallet().PrivateKey, time.Now(), body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("forwarding headers are ignored by default", func(t *testing.T) {
		t.Parallel()

		h := newClaimServer(t, false)
		require.Equal(t, http.StatusNotFound, claim(t, h, "203.0.113.7"))
		require.Equal(t, http.StatusTooManyRequests, claim(t, h, "203.0.113.8"))
	})

	t.Run("trusted proxy forwards the client address", func(t *testing.T) {
		t.Parallel()

		h := newClaimServer(t, true)
		require.Equal(t, http.StatusNotFound, claim(t, h, "203.0.113.7"))
		require.Equal(t, http.StatusNotFound, claim(t, h, "203.0.113.8"))
		require.Equal(t, http.StatusTooManyRequests, claim(t, h, strings.Join([]string{"203.0.113.8", "10.0.0.1"}, ", ")))
	})
}
