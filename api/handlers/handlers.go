// Package handlers serves the distribution HTTP API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/dispatch/api/replay"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/store"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

// DefaultMaxSkew bounds how far a request timestamp may be from the server clock.
const DefaultMaxSkew = 300 * time.Second

// MaxBodyBytes limits request bodies. The largest body is a claim with a full-depth proof.
const MaxBodyBytes = 64 << 10

// Service is the distribution service the handlers drive.
type Service interface {
	Address(ref distributor.TreeRef) (solana.PublicKey, error)
	Initialize(ctx context.Context, req distributor.InitializeRequest) (*distributor.InitializeResult, error)
	Distribute(ctx context.Context, req distributor.DistributeRequest) (*distributor.PaymentResult, error)
	Claim(ctx context.Context, req distributor.ClaimRequest) (*distributor.PaymentResult, error)
	Expand(ctx context.Context, req distributor.AdminRequest) (*distributor.ExpandResult, error)
	Pause(ctx context.Context, req distributor.AdminRequest) (tree.Status, error)
	Resume(ctx context.Context, req distributor.AdminRequest) (tree.Status, error)
	Cancel(ctx context.Context, req distributor.AdminRequest) (*distributor.CancelResult, error)
	Reclaim(ctx context.Context, req distributor.AdminRequest) (int, error)
	Close(ctx context.Context, req distributor.AdminRequest, acknowledgeIrreversible bool) error
	Get(ctx context.Context, ref distributor.TreeRef) (*distributor.TreeView, error)
	IsPaid(ctx context.Context, ref distributor.TreeRef, index uint64) (bool, error)
	QuoteFee(amount uint64) (distributor.FeeQuote, error)
}

// TreeLister lists the trees of an authority.
type TreeLister interface {
	ListByAuthority(ctx context.Context, authority solana.PublicKey) ([]store.Summary, error)
}

type Config struct {
	Logger  *slog.Logger
	Service Service
	Clock   clockwork.Clock
	// Lister enables the authority listing route when set.
	Lister TreeLister
	// ClaimLimiter limits claims per client IP. Defaults to ClaimRateLimiter.
	ClaimLimiter *RateLimiter
	// Replay rejects reused request signatures. Defaults to an in-memory guard.
	Replay  ReplayGuard
	MaxSkew time.Duration
	Public  PublicConfig
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Service == nil {
		return errors.New("service is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ClaimLimiter == nil {
		cfg.ClaimLimiter = ClaimRateLimiter
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = DefaultMaxSkew
	}
	if cfg.Replay == nil {
		cfg.Replay = replay.NewMemory(cfg.Clock)
	}
	return nil
}

type Handlers struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handlers{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Routes mounts the API under r.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/fees", h.GetFeeQuote)
		if h.cfg.Lister != nil {
			r.Get("/authorities/{authority}/trees", h.ListTrees)
		}

		r.Route("/trees", func(r chi.Router) {
			r.With(h.RequireSignature).Post("/", h.InitializeTree)

			r.Route("/{authority}/{batchID}", func(r chi.Router) {
				r.Get("/", h.GetTree)
				r.Get("/claims/{index}", h.GetClaim)

				r.Group(func(r chi.Router) {
					r.Use(h.RequireSignature)
					r.Post("/expand", h.ExpandTree)
					r.Post("/distribute", h.DistributePayment)
					r.With(RateLimitMiddleware(h.cfg.ClaimLimiter)).Post("/claim", h.ClaimPayment)
					r.Post("/pause", h.PauseTree)
					r.Post("/resume", h.ResumeTree)
					r.Post("/cancel", h.CancelTree)
					r.Post("/reclaim", h.ReclaimTree)
					r.Post("/close", h.CloseTree)
				})
			})
		})
	})
}

// Handler returns a router serving only the API routes.
func (h *Handlers) Handler() http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}
