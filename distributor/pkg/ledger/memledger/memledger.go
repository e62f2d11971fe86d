// Package memledger is an in-process token ledger. It backs local runs and tests with the
// same authority, atomicity and rent rules as the cluster.
package memledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/gatekeeper"
	"github.com/malbeclabs/dispatch/distributor/pkg/ledger"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

var (
	ErrAccountNotFound      = errors.New("token account not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrMintMismatch         = errors.New("token account mint mismatch")
	ErrOwnerMismatch        = errors.New("signer is neither owner nor delegate of the source account")
	ErrInsufficientFunds    = errors.New("insufficient token balance")
	ErrInsufficientLamports = errors.New("insufficient lamports")
	ErrBalanceOverflow      = errors.New("token balance overflow")
)

// TokenAccount is one SPL token account.
type TokenAccount struct {
	Mint     solana.PublicKey
	Owner    solana.PublicKey
	Delegate *solana.PublicKey
	Amount   uint64
}

type storageAccount struct {
	owner    solana.PublicKey
	size     int
	lamports uint64
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Ledger holds token accounts, wallet lamports, program-owned storage and gateway passes.
type Ledger struct {
	log *slog.Logger
	cfg Config

	mu       sync.Mutex
	tokens   map[solana.PublicKey]*TokenAccount
	lamports map[solana.PublicKey]uint64
	storage  map[solana.PublicKey]storageAccount
	passes   map[solana.PublicKey]gatekeeper.Token
	slot     uint64
	failNext error
}

var (
	_ distributor.TokenTransferer    = (*Ledger)(nil)
	_ distributor.AccountStorage     = (*Ledger)(nil)
	_ distributor.GatekeeperVerifier = (*Ledger)(nil)
)

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Ledger{
		log:      cfg.Logger,
		cfg:      cfg,
		tokens:   make(map[solana.PublicKey]*TokenAccount),
		lamports: make(map[solana.PublicKey]uint64),
		storage:  make(map[solana.PublicKey]storageAccount),
		passes:   make(map[solana.PublicKey]gatekeeper.Token),
	}, nil
}

// Airdrop credits lamports to wallet.
func (l *Ledger) Airdrop(wallet solana.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lamports[wallet] += lamports
}

func (l *Ledger) Lamports(wallet solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lamports[wallet]
}

// MintTo credits amount to the associated token account of owner, creating it if needed.
func (l *Ledger) MintTo(owner, mint solana.PublicKey, amount uint64) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive token account: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.tokens[ata]
	if !ok {
		acct = &TokenAccount{Mint: mint, Owner: owner}
		l.tokens[ata] = acct
	}
	if acct.Amount+amount < acct.Amount {
		return solana.PublicKey{}, ErrBalanceOverflow
	}
	acct.Amount += amount
	return ata, nil
}

// Approve lets delegate move funds out of account on behalf of owner.
func (l *Ledger) Approve(account, owner, delegate solana.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.tokens[account]
	if !ok {
		return ErrAccountNotFound
	}
	if !acct.Owner.Equals(owner) {
		return ErrOwnerMismatch
	}
	acct.Delegate = &delegate
	return nil
}

// TokenAccount returns a copy of the account at address.
func (l *Ledger) TokenAccount(address solana.PublicKey) (TokenAccount, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.tokens[address]
	if !ok {
		return TokenAccount{}, false
	}
	return *acct, true
}

// FailNextTransfer makes the next Transfer call return err without moving funds.
func (l *Ledger) FailNextTransfer(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

func (l *Ledger) Balance(_ context.Context, account solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.tokens[account]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	return acct.Amount, nil
}

// Transfer applies every transfer or none of them.
func (l *Ledger) Transfer(_ context.Context, transfers ...distributor.Transfer) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failNext; err != nil {
		l.failNext = nil
		return solana.Signature{}, err
	}
	if len(transfers) == 0 {
		return solana.Signature{}, errors.New("no transfers")
	}

	// Stage balances on copies so a failing transfer leaves nothing applied.
	staged := make(map[solana.PublicKey]*TokenAccount)
	lookup := func(addr solana.PublicKey) (*TokenAccount, bool) {
		if acct, ok := staged[addr]; ok {
			return acct, true
		}
		acct, ok := l.tokens[addr]
		if !ok {
			return nil, false
		}
		cp := *acct
		staged[addr] = &cp
		return &cp, true
	}

	for i, tr := range transfers {
		from, ok := lookup(tr.From)
		if !ok {
			return solana.Signature{}, fmt.Errorf("transfer %d: %w: %s", i, ErrAccountNotFound, tr.From)
		}
		if !from.Mint.Equals(tr.Mint) {
			return solana.Signature{}, fmt.Errorf("transfer %d: %w", i, ErrMintMismatch)
		}
		if !from.Owner.Equals(tr.Owner) && (from.Delegate == nil || !from.Delegate.Equals(tr.Owner)) {
			return solana.Signature{}, fmt.Errorf("transfer %d: %w", i, ErrOwnerMismatch)
		}
		if from.Amount < tr.Amount {
			return solana.Signature{}, fmt.Errorf("transfer %d: %w: have %d, need %d", i, ErrInsufficientFunds, from.Amount, tr.Amount)
		}

		to, ok := lookup(tr.To)
		if !ok {
			ata, _, err := solana.FindAssociatedTokenAddress(tr.ToOwner, tr.Mint)
			if err != nil || !ata.Equals(tr.To) {
				return solana.Signature{}, fmt.Errorf("transfer %d: %w: %s", i, ErrAccountNotFound, tr.To)
			}
			to = &TokenAccount{Mint: tr.Mint, Owner: tr.ToOwner}
			staged[tr.To] = to
		}
		if !to.Mint.Equals(tr.Mint) {
			return solana.Signature{}, fmt.Errorf("transfer %d: %w", i, ErrMintMismatch)
		}
		if to.Amount+tr.Amount < to.Amount {
			return solana.Signature{}, fmt.Errorf("transfer %d: %w", i, ErrBalanceOverflow)
		}
		from.Amount -= tr.Amount
		to.Amount += tr.Amount
	}

	for addr, acct := range staged {
		l.tokens[addr] = acct
	}
	l.slot++
	sig := l.signature()
	l.log.Debug("memledger: transfer applied", "transfers", len(transfers), "signature", sig)
	return sig, nil
}

func (l *Ledger) signature() solana.Signature {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], l.slot)
	h1 := sha256.Sum256(buf[:])
	h2 := sha256.Sum256(h1[:])
	var sig solana.Signature
	copy(sig[:32], h1[:])
	copy(sig[32:], h2[:])
	return sig
}

// Create allocates a rent-exempt storage account funded by payer.
func (l *Ledger) Create(_ context.Context, account solana.PublicKey, size int, owner, payer solana.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.storage[account]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, account)
	}
	rent := ledger.RentExemptMinimum(size)
	if err := l.debit(payer, rent); err != nil {
		return err
	}
	l.storage[account] = storageAccount{owner: owner, size: size, lamports: rent}
	return nil
}

// Resize charges payer the rent difference when growing and refunds it when shrinking.
func (l *Ledger) Resize(_ context.Context, account solana.PublicKey, newSize int, payer solana.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.storage[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	rent := ledger.RentExemptMinimum(newSize)
	switch {
	case rent > acct.lamports:
		if err := l.debit(payer, rent-acct.lamports); err != nil {
			return err
		}
	case rent < acct.lamports:
		l.lamports[payer] += acct.lamports - rent
	}
	acct.size = newSize
	acct.lamports = rent
	l.storage[account] = acct
	return nil
}

// Close removes the account and pays its lamports to beneficiary.
func (l *Ledger) Close(_ context.Context, account, beneficiary solana.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.storage[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	l.lamports[beneficiary] += acct.lamports
	delete(l.storage, account)
	return nil
}

// StorageSize returns the allocated size of account.
func (l *Ledger) StorageSize(account solana.PublicKey) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.storage[account]
	return acct.size, ok
}

func (l *Ledger) debit(wallet solana.PublicKey, lamports uint64) error {
	have := l.lamports[wallet]
	if have < lamports {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientLamports, wallet, have, lamports)
	}
	l.lamports[wallet] = have - lamports
	return nil
}

// IssuePass stores a gateway token at address.
func (l *Ledger) IssuePass(address solana.PublicKey, tok gatekeeper.Token) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.passes[address] = tok
}

func (l *Ledger) VerifyPass(_ context.Context, pass, subject, network solana.PublicKey) error {
	l.mu.Lock()
	tok, ok := l.passes[pass]
	l.mu.Unlock()
	if !ok {
		return tree.NewRuleError(tree.ErrInvalidGatewayToken, fmt.Sprintf("gateway token %s does not exist", pass))
	}
	return gatekeeper.Check(&tok, subject, network, l.cfg.Clock.Now())
}
