package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

type PostgresConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Clock  clockwork.Clock
	// SweepEvery bounds how often expired rows are deleted. Defaults to one minute.
	SweepEvery time.Duration
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = defaultSweepEvery
	}
	return nil
}

// Postgres keeps signatures in the request_signatures table so every API replica rejects
// a signature any of them accepted.
type Postgres struct {
	log *slog.Logger
	cfg PostgresConfig

	mu        sync.Mutex
	nextSweep time.Time
}

func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Postgres{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Remember records sig until expiresAt. It returns false when sig is already recorded and
// has not expired. An expired row is overwritten in place.
func (p *Postgres) Remember(ctx context.Context, sig solana.Signature, expiresAt time.Time) (bool, error) {
	now := p.cfg.Clock.Now()
	p.sweep(ctx, now)

	tag, err := p.cfg.Pool.Exec(ctx, `
		INSERT INTO request_signatures (signature, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (signature) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE request_signatures.expires_at <= $3
	`, sig.String(), expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to record request signature: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) sweep(ctx context.Context, now time.Time) {
	p.mu.Lock()
	if now.Before(p.nextSweep) {
		p.mu.Unlock()
		return
	}
	p.nextSweep = now.Add(p.cfg.SweepEvery)
	p.mu.Unlock()

	tag, err := p.cfg.Pool.Exec(ctx, `DELETE FROM request_signatures WHERE expires_at <= $1`, now)
	if err != nil {
		p.log.Warn("replay: failed to delete expired signatures", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		p.log.Debug("replay: deleted expired signatures", "count", n)
	}
}
