// Package distributor runs distribution operations against a tree store and the token,
// storage and identity services a distribution depends on.
package distributor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/events"
	"github.com/malbeclabs/dispatch/distributor/pkg/fee"
	"github.com/malbeclabs/dispatch/distributor/pkg/metrics"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

type Service struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Service{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// TreeRef names a tree by the inputs of its address derivation.
type TreeRef struct {
	Authority solana.PublicKey
	BatchID   string
}

// Address returns the deterministic address of ref.
func (s *Service) Address(ref TreeRef) (solana.PublicKey, error) {
	if len(ref.BatchID) < tree.BatchIDMinLength || len(ref.BatchID) > tree.BatchIDMaxLength {
		str := fmt.Sprintf("no tree for batch id %q", ref.BatchID)
		return solana.PublicKey{}, tree.NewRuleError(tree.ErrTreeNotFound, str)
	}
	addr, _, err := tree.DeriveAddress(s.cfg.ProgramID, ref.Authority, ref.BatchID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return addr, nil
}

func (s *Service) now() int64 {
	return s.cfg.Clock.Now().Unix()
}

// observe records metrics for one operation and returns err unchanged.
func (s *Service) observe(op string, start time.Time, err error) error {
	metrics.RecordOperation(op, start, err)
	var rerr tree.RuleError
	if err != nil && !errors.As(err, &rerr) {
		s.log.Error("distributor: operation failed", "operation", op, "error", err)
	}
	return err
}

// unreconciled reports a token movement whose state change could not be persisted.
func (s *Service) unreconciled(op string, addr solana.PublicKey, sig solana.Signature, err error) {
	metrics.UnreconciledCommitsTotal.Inc()
	s.log.Error("distributor: token transfer succeeded but state was not committed, reconcile manually",
		"operation", op, "tree", addr, "signature", sig, "error", err)
}

// transfer submits transfers for op. A submission with an unknown outcome is reported as pending
// rather than failed: the caller commits as if it landed and the signature is kept for
// reconciliation.
func (s *Service) transfer(ctx context.Context, op string, addr solana.PublicKey, transfers ...Transfer) (solana.Signature, bool, error) {
	sig, err := s.cfg.Tokens.Transfer(ctx, transfers...)
	if err == nil {
		return sig, false, nil
	}
	if errors.Is(err, ErrTransferUnconfirmed) {
		metrics.PendingTransfersTotal.WithLabelValues(op).Inc()
		s.log.Warn("distributor: transfer outcome unknown, committing as pending",
			"operation", op, "tree", addr, "signature", sig, "error", err)
		return sig, true, nil
	}
	return sig, false, err
}

// publish delivers a committed event. Failures never undo the operation.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.cfg.Events.Emit(ctx, e); err != nil {
		metrics.SinkFailuresTotal.WithLabelValues("events").Inc()
		s.log.Warn("distributor: failed to emit event", "type", e.Type, "tree", e.Tree, "error", err)
	}
	if s.cfg.Notifier != nil {
		if err := s.cfg.Notifier.Notify(ctx, e); err != nil {
			metrics.SinkFailuresTotal.WithLabelValues("notifier").Inc()
			s.log.Warn("distributor: failed to notify", "type", e.Type, "tree", e.Tree, "error", err)
		}
	}
}

func (s *Service) event(typ events.Type, addr solana.PublicKey, t *tree.Tree) events.Event {
	e := events.New(typ, s.cfg.Clock.Now())
	e.Tree = addr
	e.Authority = t.Authority()
	e.BatchID = t.BatchID()
	e.NumberDistributed = t.NumberDistributed()
	e.Total = t.TotalNumberRecipients()
	e.Status = t.Status().String()
	return e
}

func tokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive token account: %w", err)
	}
	return ata, nil
}

// vault returns the vault of the tree at addr after checking it is the one the tree records.
func (s *Service) vault(addr solana.PublicKey, t *tree.Tree) (solana.PublicKey, error) {
	vault, err := s.cfg.Custody.Vault(addr, t.Mint())
	if err != nil {
		return solana.PublicKey{}, err
	}
	if err := t.CheckVault(vault); err != nil {
		return solana.PublicKey{}, err
	}
	return vault, nil
}

// QuoteFee returns the protocol fee for funding a distribution with amount.
func (s *Service) QuoteFee(amount uint64) (FeeQuote, error) {
	f, err := s.cfg.FeeSchedule.Calculate(amount)
	if err != nil {
		if errors.Is(err, fee.ErrOverflow) {
			return FeeQuote{}, tree.NewRuleError(tree.ErrMathError, err.Error())
		}
		return FeeQuote{}, err
	}
	return FeeQuote{
		Amount:      amount,
		BasisPoints: s.cfg.FeeSchedule.BasisPointsFor(amount),
		Fee:         f,
	}, nil
}

type FeeQuote struct {
	Amount      uint64 `json:"amount"`
	BasisPoints uint64 `json:"basis_points"`
	Fee         uint64 `json:"fee"`
}
