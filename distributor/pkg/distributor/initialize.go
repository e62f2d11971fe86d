package distributor

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/events"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
	"github.com/malbeclabs/dispatch/distributor/pkg/metrics"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

type InitializeRequest struct {
	Authority             solana.PublicKey
	BatchID               string
	MerkleRoot            merkle.Hash
	Mint                  solana.PublicKey
	TotalNumberRecipients uint64
	TransferToVaultAmount uint64
	StartTS               int64
	EndTS                 *int64
	AllowClaims           bool
	GatekeeperNetwork     *solana.PublicKey
	// TokenSource defaults to the authority's associated token account.
	TokenSource *solana.PublicKey
}

type InitializeResult struct {
	Address     solana.PublicKey
	TokenVault  solana.PublicKey
	Fee         uint64
	Status      tree.Status
	BitmapWords int
	Signature   solana.Signature
	Pending     bool
}

// Initialize creates a tree, funds its vault from the authority and pays the protocol fee.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (res *InitializeResult, err error) {
	defer func(start time.Time) { err = s.observe("initialize", start, err) }(time.Now())

	if !req.Mint.Equals(s.cfg.Mint) {
		str := fmt.Sprintf("mint %s is not the configured mint %s", req.Mint, s.cfg.Mint)
		return nil, tree.NewRuleError(tree.ErrInvalidTokenMint, str)
	}

	now := s.now()
	params := tree.Params{
		BatchID:               req.BatchID,
		Authority:             req.Authority,
		AllowClaims:           req.AllowClaims,
		MerkleRoot:            req.MerkleRoot,
		Mint:                  req.Mint,
		TotalNumberRecipients: req.TotalNumberRecipients,
		StartTS:               req.StartTS,
		EndTS:                 req.EndTS,
		GatekeeperNetwork:     req.GatekeeperNetwork,
		TransferToVaultAmount: req.TransferToVaultAmount,
	}
	if err := tree.ValidateParams(params, now); err != nil {
		return nil, err
	}

	addr, bump, err := tree.DeriveAddress(s.cfg.ProgramID, req.Authority, req.BatchID)
	if err != nil {
		return nil, err
	}
	vault, err := s.cfg.Custody.Vault(addr, req.Mint)
	if err != nil {
		return nil, err
	}
	params.Bump = bump
	params.TokenVault = vault

	t, err := tree.New(params, now)
	if err != nil {
		return nil, err
	}

	quote, err := s.QuoteFee(req.TransferToVaultAmount)
	if err != nil {
		return nil, err
	}

	source := req.TokenSource
	if source == nil {
		ata, err := tokenAccount(req.Authority, req.Mint)
		if err != nil {
			return nil, err
		}
		source = &ata
	}
	feeAccount, err := tokenAccount(s.cfg.FeeWallet, req.Mint)
	if err != nil {
		return nil, err
	}

	transfers := []Transfer{{
		From:     *source,
		To:       vault,
		ToOwner:  s.cfg.Custody.Authority(addr),
		Owner:    req.Authority,
		Mint:     req.Mint,
		Amount:   req.TransferToVaultAmount,
		Decimals: s.cfg.Decimals,
	}}
	if quote.Fee > 0 {
		transfers = append(transfers, Transfer{
			From:     *source,
			To:       feeAccount,
			ToOwner:  s.cfg.FeeWallet,
			Owner:    req.Authority,
			Mint:     req.Mint,
			Amount:   quote.Fee,
			Decimals: s.cfg.Decimals,
		})
	}

	var (
		sig     solana.Signature
		pending bool
	)
	transferred := false
	err = s.cfg.Store.Insert(ctx, addr, t, func(ctx context.Context) error {
		if err := s.cfg.Storage.Create(ctx, addr, t.AccountSize(), s.cfg.ProgramID, req.Authority); err != nil {
			return fmt.Errorf("failed to allocate tree storage: %w", err)
		}
		var err error
		sig, pending, err = s.transfer(ctx, "initialize", addr, transfers...)
		if err != nil {
			if cerr := s.cfg.Storage.Close(ctx, addr, req.Authority); cerr != nil {
				s.log.Error("distributor: failed to release storage after funding failure", "tree", addr, "error", cerr)
			}
			return fmt.Errorf("failed to fund vault: %w", err)
		}
		transferred = true
		return nil
	})
	if err != nil {
		if transferred {
			s.unreconciled("initialize", addr, sig, err)
		}
		return nil, err
	}

	if quote.Fee > 0 {
		metrics.FeesCollectedTotal.Add(float64(quote.Fee))
	}
	s.log.Info("distributor: tree initialized", "tree", addr, "batch_id", req.BatchID,
		"recipients", req.TotalNumberRecipients, "amount", req.TransferToVaultAmount, "fee", quote.Fee,
		"status", t.Status())

	e := s.event(events.TypeInitialized, addr, t)
	e.Amount = req.TransferToVaultAmount
	e.Signature = sig.String()
	s.publish(ctx, e)

	return &InitializeResult{
		Address:     addr,
		TokenVault:  vault,
		Fee:         quote.Fee,
		Status:      t.Status(),
		BitmapWords: t.BitmapWords(),
		Signature:   sig,
		Pending:     pending,
	}, nil
}
