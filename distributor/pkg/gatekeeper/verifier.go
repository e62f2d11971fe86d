package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
	"github.com/malbeclabs/dispatch/utils/pkg/retry"
)

// RPCClient is the subset of the Solana RPC client the verifier needs.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

type RPCVerifierConfig struct {
	Logger    *slog.Logger
	RPC       RPCClient
	ProgramID solana.PublicKey
	Clock     clockwork.Clock
	Retry     retry.Config
}

func (cfg *RPCVerifierConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = DefaultProgramID
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// RPCVerifier reads gateway token accounts from a Solana cluster.
type RPCVerifier struct {
	log *slog.Logger
	cfg RPCVerifierConfig
}

func NewRPCVerifier(cfg RPCVerifierConfig) (*RPCVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &RPCVerifier{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (v *RPCVerifier) VerifyPass(ctx context.Context, pass, subject, network solana.PublicKey) error {
	var info *rpc.GetAccountInfoResult
	err := retry.Do(ctx, v.cfg.Retry, func() error {
		var err error
		info, err = v.cfg.RPC.GetAccountInfo(ctx, pass)
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (info == nil || info.Value == nil)) {
		return tree.NewRuleError(tree.ErrInvalidGatewayToken, fmt.Sprintf("gateway token %s does not exist", pass))
	}
	if err != nil {
		return fmt.Errorf("failed to fetch gateway token: %w", err)
	}
	if !info.Value.Owner.Equals(v.cfg.ProgramID) {
		str := fmt.Sprintf("gateway token %s is owned by %s, not the gateway program", pass, info.Value.Owner)
		return tree.NewRuleError(tree.ErrInvalidGatewayToken, str)
	}
	tok, err := Decode(info.Value.Data.GetBinary())
	if err != nil {
		return tree.NewRuleError(tree.ErrInvalidGatewayToken, err.Error())
	}
	if err := Check(tok, subject, network, v.cfg.Clock.Now()); err != nil {
		v.log.Debug("gatekeeper: pass rejected", "pass", pass, "subject", subject, "error", err)
		return err
	}
	return nil
}
