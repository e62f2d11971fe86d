// Package solana checks the health of the Solana RPC endpoint the API submits transactions through.
package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// RPCClient is the subset of the Solana RPC the health checker uses.
type RPCClient interface {
	GetHealth(ctx context.Context) (string, error)
	GetBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
}

type HealthCheckerConfig struct {
	Logger *slog.Logger
	RPC    RPCClient
	// Payer pays transaction fees and storage rent.
	Payer solanago.PublicKey
	// MinPayerLamports makes the check fail when the payer balance drops below it.
	MinPayerLamports uint64
}

func (cfg *HealthCheckerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Payer.IsZero() {
		return errors.New("payer is required")
	}
	return nil
}

// HealthChecker checks that the RPC node is healthy and the fee payer is funded.
type HealthChecker struct {
	log *slog.Logger
	cfg HealthCheckerConfig
}

func NewHealthChecker(cfg HealthCheckerConfig) (*HealthChecker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &HealthChecker{log: cfg.Logger, cfg: cfg}, nil
}

// PayerBalance returns the payer balance in lamports.
func (c *HealthChecker) PayerBalance(ctx context.Context) (uint64, error) {
	res, err := c.cfg.RPC.GetBalance(ctx, c.cfg.Payer, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get payer balance: %w", err)
	}
	return res.Value, nil
}

// Check is a readiness check.
func (c *HealthChecker) Check(ctx context.Context) error {
	health, err := c.cfg.RPC.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to get rpc health: %w", err)
	}
	if health != rpc.HealthOk {
		return fmt.Errorf("rpc node unhealthy: %s", health)
	}

	lamports, err := c.PayerBalance(ctx)
	if err != nil {
		return err
	}
	if lamports < c.cfg.MinPayerLamports {
		c.log.Warn("solana: payer balance low", "payer", c.cfg.Payer, "sol", LamportsToSOL(lamports))
		return fmt.Errorf("payer balance %d below minimum %d", lamports, c.cfg.MinPayerLamports)
	}
	return nil
}

// LamportsToSOL converts lamports to SOL
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// SOLToLamports converts SOL to lamports
func SOLToLamports(sol float64) uint64 {
	return uint64(sol * LamportsPerSOL)
}
