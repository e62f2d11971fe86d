package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

type PostgresConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// Postgres stores trees in the distribution_trees table. Each mutation runs in a transaction
// holding a row lock on the tree.
type Postgres struct {
	log *slog.Logger
	cfg PostgresConfig
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

func (p *Postgres) Get(ctx context.Context, address solana.PublicKey) (*tree.Tree, error) {
	var data []byte
	err := p.cfg.Pool.QueryRow(ctx,
		`SELECT data FROM distribution_trees WHERE address = $1`, address.String(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tree: %w", err)
	}
	return tree.Decode(data)
}

// inTx runs fn in a transaction and commits only when fn returns nil. The commit ignores
// cancellation of ctx: once fn succeeded its external effects have happened.
func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.cfg.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func lockTree(ctx context.Context, tx pgx.Tx, address solana.PublicKey) (*tree.Tree, error) {
	var data []byte
	err := tx.QueryRow(ctx,
		`SELECT data FROM distribution_trees WHERE address = $1 FOR UPDATE`, address.String(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock tree: %w", err)
	}
	return tree.Decode(data)
}

func (p *Postgres) Insert(ctx context.Context, address solana.PublicKey, t *tree.Tree, fn func(ctx context.Context) error) error {
	data, err := tree.Encode(t)
	if err != nil {
		return err
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO distribution_trees (address, authority, batch_id, status, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (address) DO NOTHING`,
			address.String(), t.Authority().String(), t.BatchID(), t.Status().String(), data,
		)
		if err != nil {
			return fmt.Errorf("failed to insert tree: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return alreadyExists(address)
		}
		if err := fn(ctx); err != nil {
			return err
		}
		p.log.Debug("store: inserted tree", "address", address, "batch_id", t.BatchID())
		return nil
	})
}

func (p *Postgres) Update(ctx context.Context, address solana.PublicKey, fn func(ctx context.Context, t *tree.Tree) error) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		t, err := lockTree(ctx, tx, address)
		if err != nil {
			return err
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		data, err := tree.Encode(t)
		if err != nil {
			return err
		}
		_, err = tx.Exec(context.WithoutCancel(ctx), `
			UPDATE distribution_trees
			SET status = $2, data = $3, updated_at = now()
			WHERE address = $1`,
			address.String(), t.Status().String(), data,
		)
		if err != nil {
			return fmt.Errorf("failed to update tree: %w", err)
		}
		return nil
	})
}

func (p *Postgres) Delete(ctx context.Context, address solana.PublicKey, fn func(ctx context.Context, t *tree.Tree) error) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		t, err := lockTree(ctx, tx, address)
		if err != nil {
			return err
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		if _, err := tx.Exec(context.WithoutCancel(ctx), `DELETE FROM distribution_trees WHERE address = $1`, address.String()); err != nil {
			return fmt.Errorf("failed to delete tree: %w", err)
		}
		p.log.Debug("store: deleted tree", "address", address)
		return nil
	})
}

// Summary is one row of ListByAuthority.
type Summary struct {
	Address solana.PublicKey
	BatchID string
	Status  string
}

// ListByAuthority returns the trees created by authority, newest first.
func (p *Postgres) ListByAuthority(ctx context.Context, authority solana.PublicKey) ([]Summary, error) {
	rows, err := p.cfg.Pool.Query(ctx, `
		SELECT address, batch_id, status FROM distribution_trees
		WHERE authority = $1
		ORDER BY created_at DESC`, authority.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query trees: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var addr, batchID, status string
		if err := rows.Scan(&addr, &batchID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan tree: %w", err)
		}
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tree address %q: %w", addr, err)
		}
		out = append(out, Summary{Address: pk, BatchID: batchID, Status: status})
	}
	return out, rows.Err()
}
