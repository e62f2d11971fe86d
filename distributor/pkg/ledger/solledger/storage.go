package solledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/ledger"
)

var (
	ErrStorageNotFound = errors.New("storage account not found")
	ErrStorageExists   = errors.New("storage account already exists")
)

// Charge kinds recorded in storage_charges.
const (
	ChargeCreate = "create"
	ChargeGrow   = "grow"
	ChargeShrink = "shrink"
	ChargeClose  = "close"
)

type StorageConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *StorageConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// Storage accounts for the rent-exempt balance of every tree account and records who paid or
// was refunded each change. Refunds are recorded with negative lamports.
type Storage struct {
	log *slog.Logger
	cfg StorageConfig
}

var _ distributor.AccountStorage = (*Storage)(nil)

func NewStorage(cfg StorageConfig) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Storage{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (s *Storage) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.cfg.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func recordCharge(ctx context.Context, tx pgx.Tx, account, payer solana.PublicKey, kind string, size int, lamports int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO storage_charges (account, payer, kind, size, lamports) VALUES ($1, $2, $3, $4, $5)`,
		account.String(), payer.String(), kind, size, lamports,
	)
	if err != nil {
		return fmt.Errorf("failed to record storage charge: %w", err)
	}
	return nil
}

func lockAccount(ctx context.Context, tx pgx.Tx, account solana.PublicKey) (size int, lamports int64, err error) {
	err = tx.QueryRow(ctx,
		`SELECT size, lamports FROM storage_accounts WHERE account = $1 FOR UPDATE`, account.String(),
	).Scan(&size, &lamports)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: %s", ErrStorageNotFound, account)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to lock storage account: %w", err)
	}
	return size, lamports, nil
}

func (s *Storage) Create(ctx context.Context, account solana.PublicKey, size int, owner, payer solana.PublicKey) error {
	rent := int64(ledger.RentExemptMinimum(size))
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO storage_accounts (account, owner, size, lamports) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (account) DO NOTHING`,
			account.String(), owner.String(), size, rent,
		)
		if err != nil {
			return fmt.Errorf("failed to create storage account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrStorageExists, account)
		}
		return recordCharge(ctx, tx, account, payer, ChargeCreate, size, rent)
	})
}

func (s *Storage) Resize(ctx context.Context, account solana.PublicKey, newSize int, payer solana.PublicKey) error {
	rent := int64(ledger.RentExemptMinimum(newSize))
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, lamports, err := lockAccount(ctx, tx, account)
		if err != nil {
			return err
		}
		delta := rent - lamports
		if delta == 0 {
			return nil
		}
		kind := ChargeGrow
		if delta < 0 {
			kind = ChargeShrink
		}
		if _, err := tx.Exec(ctx,
			`UPDATE storage_accounts SET size = $2, lamports = $3, updated_at = now() WHERE account = $1`,
			account.String(), newSize, rent,
		); err != nil {
			return fmt.Errorf("failed to resize storage account: %w", err)
		}
		return recordCharge(ctx, tx, account, payer, kind, newSize, delta)
	})
}

func (s *Storage) Close(ctx context.Context, account, beneficiary solana.PublicKey) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, lamports, err := lockAccount(ctx, tx, account)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM storage_accounts WHERE account = $1`, account.String()); err != nil {
			return fmt.Errorf("failed to close storage account: %w", err)
		}
		return recordCharge(ctx, tx, account, beneficiary, ChargeClose, 0, -lamports)
	})
}

// Charge is one recorded change to an account's rent balance.
type Charge struct {
	Payer    solana.PublicKey
	Kind     string
	Size     int
	Lamports int64
}

// Charges returns the history of account, oldest first.
func (s *Storage) Charges(ctx context.Context, account solana.PublicKey) ([]Charge, error) {
	rows, err := s.cfg.Pool.Query(ctx,
		`SELECT payer, kind, size, lamports FROM storage_charges WHERE account = $1 ORDER BY id`,
		account.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query storage charges: %w", err)
	}
	defer rows.Close()

	var charges []Charge
	for rows.Next() {
		var (
			c     Charge
			payer string
		)
		if err := rows.Scan(&payer, &c.Kind, &c.Size, &c.Lamports); err != nil {
			return nil, fmt.Errorf("failed to scan storage charge: %w", err)
		}
		c.Payer, err = solana.PublicKeyFromBase58(payer)
		if err != nil {
			return nil, fmt.Errorf("failed to parse payer: %w", err)
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

// Size returns the recorded size of account.
func (s *Storage) Size(ctx context.Context, account solana.PublicKey) (int, error) {
	var size int
	err := s.cfg.Pool.QueryRow(ctx,
		`SELECT size FROM storage_accounts WHERE account = $1`, account.String(),
	).Scan(&size)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrStorageNotFound, account)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query storage account: %w", err)
	}
	return size, nil
}
