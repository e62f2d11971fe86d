package distributor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/events"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
	"github.com/malbeclabs/dispatch/distributor/pkg/metrics"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

type DistributeRequest struct {
	Tree      TreeRef
	Signer    solana.PublicKey
	Index     uint64
	Recipient solana.PublicKey
	Amount    uint64
	Proof     []merkle.Hash
}

type ClaimRequest struct {
	Tree     TreeRef
	Claimant solana.PublicKey
	Index    uint64
	Amount   uint64
	Proof    []merkle.Hash
	// GatewayToken is the claimant's identity pass account, required when the tree names a
	// gatekeeper network.
	GatewayToken *solana.PublicKey
}

type PaymentResult struct {
	Address           solana.PublicKey
	Index             uint64
	Recipient         solana.PublicKey
	Amount            uint64
	NumberDistributed uint64
	Status            tree.Status
	Signature         solana.Signature
	// Pending means the transfer was submitted but not yet confirmed.
	Pending bool
}

// Distribute pays entry Index to Recipient on behalf of the tree authority.
func (s *Service) Distribute(ctx context.Context, req DistributeRequest) (res *PaymentResult, err error) {
	defer func(start time.Time) { err = s.observe("distribute", start, err) }(time.Now())

	return s.pay(ctx, events.TypeDistributed, req.Tree, req.Index, req.Recipient, req.Amount,
		func(ctx context.Context, t *tree.Tree, now int64) error {
			if err := t.CheckAuthority(req.Signer); err != nil {
				return err
			}
			return t.ValidateDistribute(req.Index, req.Recipient, req.Amount, req.Proof, now)
		})
}

// Claim pays entry Index to the claimant that signed the request.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (res *PaymentResult, err error) {
	defer func(start time.Time) { err = s.observe("claim", start, err) }(time.Now())

	return s.pay(ctx, events.TypeClaimed, req.Tree, req.Index, req.Claimant, req.Amount,
		func(ctx context.Context, t *tree.Tree, now int64) error {
			if err := t.ValidateClaim(req.Index, req.Claimant, req.Amount, req.Proof, now); err != nil {
				return err
			}
			if !t.RequiresGatekeeperPass(s.cfg.RequireGatekeeperPass) {
				return nil
			}
			return s.verifyPass(ctx, t, req.Claimant, req.GatewayToken)
		})
}

func (s *Service) verifyPass(ctx context.Context, t *tree.Tree, claimant solana.PublicKey, pass *solana.PublicKey) error {
	network, _ := t.GatekeeperNetwork()
	if pass == nil {
		return tree.NewRuleError(tree.ErrInvalidGatewayToken, "claim requires a gateway token")
	}
	err := s.cfg.Gatekeeper.VerifyPass(ctx, *pass, claimant, network)
	if err == nil {
		return nil
	}
	var rerr tree.RuleError
	if errors.As(err, &rerr) {
		return err
	}
	return fmt.Errorf("failed to verify gateway token: %w", err)
}

// pay validates, records and transfers one payment inside a single store mutation.
func (s *Service) pay(
	ctx context.Context,
	kind events.Type,
	ref TreeRef,
	index uint64,
	recipient solana.PublicKey,
	amount uint64,
	validate func(ctx context.Context, t *tree.Tree, now int64) error,
) (*PaymentResult, error) {
	addr, err := s.Address(ref)
	if err != nil {
		return nil, err
	}

	var (
		res         PaymentResult
		committed   *tree.Tree
		transferred bool
	)
	err = s.cfg.Store.Update(ctx, addr, func(ctx context.Context, t *tree.Tree) error {
		vault, err := s.vault(addr, t)
		if err != nil {
			return err
		}
		if err := validate(ctx, t, s.now()); err != nil {
			return err
		}
		if err := t.RecordPayment(index); err != nil {
			return err
		}
		dest, err := tokenAccount(recipient, t.Mint())
		if err != nil {
			return err
		}
		sig, pending, err := s.transfer(ctx, string(kind), addr, Transfer{
			From:     vault,
			To:       dest,
			ToOwner:  recipient,
			Owner:    s.cfg.Custody.Authority(addr),
			Mint:     t.Mint(),
			Amount:   amount,
			Decimals: s.cfg.Decimals,
		})
		if err != nil {
			return fmt.Errorf("failed to transfer to recipient: %w", err)
		}
		transferred = true
		res = PaymentResult{
			Address:           addr,
			Index:             index,
			Recipient:         recipient,
			Amount:            amount,
			NumberDistributed: t.NumberDistributed(),
			Status:            t.Status(),
			Signature:         sig,
			Pending:           pending,
		}
		committed = t
		return nil
	})
	if err != nil {
		if transferred {
			s.unreconciled(string(kind), addr, res.Signature, err)
		}
		return nil, err
	}

	metrics.RecordPayment(string(kind), amount)
	s.log.Debug("distributor: payment committed", "kind", kind, "tree", addr, "index", index,
		"recipient", recipient, "amount", amount, "number_distributed", res.NumberDistributed)
	if res.Status == tree.StatusComplete {
		s.log.Info("distributor: distribution complete", "tree", addr, "recipients", committed.TotalNumberRecipients())
	}

	e := s.event(kind, addr, committed)
	e.Index = &index
	e.Recipient = &recipient
	e.Amount = amount
	e.Signature = res.Signature.String()
	s.publish(ctx, e)

	return &res, nil
}
