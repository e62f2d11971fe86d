package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/dispatch/api/handlers"
)

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       handlers.VersionInfo
	API               *handlers.Handlers
	// AllowedOrigins configures CORS. Empty allows any origin.
	AllowedOrigins []string
	// TrustProxy takes the client address from forwarding headers. Enable it only when every
	// request arrives through a proxy that overwrites them.
	TrustProxy bool
	// ReadinessChecks run on every /readyz request, keyed by dependency name.
	ReadinessChecks map[string]ReadinessCheck
	// ReadinessTimeout bounds all readiness checks of one request.
	ReadinessTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.API == nil {
		return errors.New("api handlers are required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = 5 * time.Second
	}
	return nil
}
