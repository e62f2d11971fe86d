// Package solledger moves tokens and accounts for distribution storage on a Solana cluster.
package solledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/utils/pkg/retry"
)

// RPCClient is the subset of the Solana RPC client used to submit transfers.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// Keyring resolves signing keys. Delegate names a key approved to move funds on behalf of
// owners whose keys are not held.
type Keyring interface {
	Key(pub solana.PublicKey) (solana.PrivateKey, bool)
	Delegate() (solana.PublicKey, bool)
}

var (
	ErrMissingSigner = errors.New("no signing key for transfer owner")
	// ErrExpired means the transaction's blockhash expired without the transaction landing, so
	// it can no longer be applied.
	ErrExpired = errors.New("transaction expired before landing")
)

// createIdempotent is the instruction tag of CreateIdempotent in the associated token account
// program.
const createIdempotent = 1

type TransfererConfig struct {
	Logger *slog.Logger
	RPC    RPCClient
	Keys   Keyring
	Payer  solana.PrivateKey
	Clock  clockwork.Clock
	Retry  retry.Config

	Commitment      rpc.CommitmentType
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
}

func (cfg *TransfererConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Keys == nil {
		return errors.New("keyring is required")
	}
	if len(cfg.Payer) == 0 {
		return errors.New("fee payer key is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 500 * time.Millisecond
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	return nil
}

// Transferer submits each batch of transfers as one transaction, so the batch lands or fails
// as a whole.
type Transferer struct {
	log *slog.Logger
	cfg TransfererConfig
}

var _ distributor.TokenTransferer = (*Transferer)(nil)

func NewTransferer(cfg TransfererConfig) (*Transferer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Transferer{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func createATAInstruction(payer, ata, owner, mint solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(ata).WRITE(),
			solana.Meta(owner),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(solana.TokenProgramID),
		},
		[]byte{createIdempotent},
	)
}

// signer returns the key that authorizes moving funds owned by owner.
func (t *Transferer) signer(owner solana.PublicKey) (solana.PrivateKey, error) {
	if key, ok := t.cfg.Keys.Key(owner); ok {
		return key, nil
	}
	if delegate, ok := t.cfg.Keys.Delegate(); ok {
		if key, ok := t.cfg.Keys.Key(delegate); ok {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingSigner, owner)
}

// Instructions builds the instructions for transfers and returns the keys that must sign.
func (t *Transferer) Instructions(transfers ...distributor.Transfer) ([]solana.Instruction, map[solana.PublicKey]solana.PrivateKey, error) {
	payer := t.cfg.Payer.PublicKey()
	signers := map[solana.PublicKey]solana.PrivateKey{payer: t.cfg.Payer}
	created := make(map[solana.PublicKey]bool)

	var instructions []solana.Instruction
	for _, tr := range transfers {
		key, err := t.signer(tr.Owner)
		if err != nil {
			return nil, nil, err
		}
		authority := key.PublicKey()
		signers[authority] = key

		if !created[tr.To] {
			instructions = append(instructions, createATAInstruction(payer, tr.To, tr.ToOwner, tr.Mint))
			created[tr.To] = true
		}
		ix, err := token.NewTransferCheckedInstruction(
			tr.Amount, tr.Decimals, tr.From, tr.Mint, tr.To, authority, nil,
		).ValidateAndBuild()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build transfer instruction: %w", err)
		}
		instructions = append(instructions, ix)
	}
	return instructions, signers, nil
}

// Transfer signs one transaction for transfers and submits it until it lands or its blockhash
// expires. Only that signed transaction is ever sent, so the cluster applies it at most once.
// When the outcome cannot be determined the returned error wraps
// distributor.ErrTransferUnconfirmed together with the signature.
func (t *Transferer) Transfer(ctx context.Context, transfers ...distributor.Transfer) (solana.Signature, error) {
	if len(transfers) == 0 {
		return solana.Signature{}, errors.New("no transfers")
	}
	instructions, signers, err := t.Instructions(transfers...)
	if err != nil {
		return solana.Signature{}, err
	}

	var blockhash *rpc.GetLatestBlockhashResult
	err = retry.Do(ctx, t.cfg.Retry, func() error {
		var err error
		blockhash, err = t.cfg.RPC.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		return err
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if blockhash == nil || blockhash.Value == nil {
		return solana.Signature{}, errors.New("failed to get latest blockhash: empty response")
	}

	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash, solana.TransactionPayer(t.cfg.Payer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if key, ok := signers[pub]; ok {
			return &key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	sig := tx.Signatures[0]

	// A retryable failure may hide a send that reached the cluster; from then on only the
	// signature status decides the outcome.
	uncertain := false
	err = retry.Do(ctx, t.cfg.Retry, func() error {
		err := t.send(ctx, tx)
		if err != nil && (retry.IsRetryable(err) || ctx.Err() != nil) {
			uncertain = true
		}
		return err
	})
	if err != nil && !uncertain {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	if err != nil {
		t.log.Warn("solledger: send outcome unknown, waiting for signature status", "signature", sig, "error", err)
	}

	if err := t.confirm(ctx, tx, blockhash.Value.LastValidBlockHeight); err != nil {
		t.log.Warn("solledger: transaction not confirmed", "signature", sig, "error", err)
		return sig, err
	}
	t.log.Debug("solledger: transfer confirmed", "signature", sig, "transfers", len(transfers))
	return sig, nil
}

func (t *Transferer) send(ctx context.Context, tx *solana.Transaction) error {
	_, err := t.cfg.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: t.cfg.Commitment,
	})
	return err
}

// confirm polls the status of tx until it reaches the configured commitment, fails on chain,
// or its blockhash expires unseen. Until then the same transaction is rebroadcast. Running out
// of time or context leaves the outcome unknown.
func (t *Transferer) confirm(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) error {
	sig := tx.Signatures[0]
	deadline := t.cfg.Clock.Now().Add(t.cfg.ConfirmTimeout)
	for {
		// Height is read before the status so an unseen transaction past expiry can never land.
		height, heightErr := t.cfg.RPC.GetBlockHeight(ctx, t.cfg.Commitment)
		res, err := t.cfg.RPC.GetSignatureStatuses(ctx, true, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			if reached(status.ConfirmationStatus, t.cfg.Commitment) {
				return nil
			}
		} else if err == nil {
			if heightErr == nil && height > lastValidBlockHeight {
				return fmt.Errorf("%w: %s at block height %d", ErrExpired, sig, height)
			}
			if err := t.send(ctx, tx); err != nil {
				t.log.Debug("solledger: rebroadcast failed", "signature", sig, "error", err)
			}
		}

		if !t.cfg.Clock.Now().Before(deadline) {
			return fmt.Errorf("%w: %s not confirmed after %s", distributor.ErrTransferUnconfirmed, sig, t.cfg.ConfirmTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", distributor.ErrTransferUnconfirmed, sig, ctx.Err())
		case <-t.cfg.Clock.After(t.cfg.ConfirmInterval):
		}
	}
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return want != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return want == rpc.CommitmentProcessed
	}
	return false
}

func (t *Transferer) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var res *rpc.GetTokenAccountBalanceResult
	err := retry.Do(ctx, t.cfg.Retry, func() error {
		var err error
		res, err = t.cfg.RPC.GetTokenAccountBalance(ctx, account, t.cfg.Commitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get token account balance: %w", err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("token account %s has no balance", account)
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token amount %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}
