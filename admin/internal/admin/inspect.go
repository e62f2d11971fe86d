package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	apiconfig "github.com/malbeclabs/dispatch/api/config"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/fee"
	"github.com/malbeclabs/dispatch/distributor/pkg/ledger/solledger"
	"github.com/malbeclabs/dispatch/distributor/pkg/store"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

// Derivation is the output of DeriveAddress.
type Derivation struct {
	ProgramID solana.PublicKey `json:"program_id"`
	Authority solana.PublicKey `json:"authority"`
	BatchID   string           `json:"batch_id"`
	Address   solana.PublicKey `json:"address"`
	Bump      uint8            `json:"bump"`
}

// DeriveAddress prints the tree address for (authority, batchID) under programID.
func DeriveAddress(out io.Writer, programID, authority solana.PublicKey, batchID string) error {
	addr, bump, err := tree.DeriveAddress(programID, authority, batchID)
	if err != nil {
		return fmt.Errorf("failed to derive address: %w", err)
	}
	return writeJSON(out, Derivation{
		ProgramID: programID,
		Authority: authority,
		BatchID:   batchID,
		Address:   addr,
		Bump:      bump,
	})
}

// FeeQuote prints the protocol fee for funding a distribution with amount.
func FeeQuote(out io.Writer, amount uint64) error {
	f, err := fee.CalculateFee(amount)
	if err != nil {
		return err
	}
	return writeJSON(out, distributor.FeeQuote{
		Amount:      amount,
		BasisPoints: fee.DefaultSchedule.BasisPointsFor(amount),
		Fee:         f,
	})
}

// Inspection is a stored tree together with its rent history.
type Inspection struct {
	Tree    distributor.TreeView `json:"tree"`
	Charges []ChargeView         `json:"charges,omitempty"`
}

type ChargeView struct {
	Payer    solana.PublicKey `json:"payer"`
	Kind     string           `json:"kind"`
	Size     int              `json:"size"`
	Lamports int64            `json:"lamports"`
}

func NewInspection(addr solana.PublicKey, t *tree.Tree, charges []solledger.Charge) Inspection {
	in := Inspection{Tree: distributor.NewTreeView(addr, t)}
	for _, c := range charges {
		in.Charges = append(in.Charges, ChargeView(c))
	}
	return in
}

// Inspect decodes the stored tree for (authority, batchID) and prints it with its rent history.
func Inspect(ctx context.Context, log *slog.Logger, pg apiconfig.PgConfig, programID, authority solana.PublicKey, batchID string, out io.Writer) error {
	addr, _, err := tree.DeriveAddress(programID, authority, batchID)
	if err != nil {
		return fmt.Errorf("failed to derive address: %w", err)
	}

	pool, err := apiconfig.OpenPostgres(ctx, log, pg, false)
	if err != nil {
		return err
	}
	defer pool.Close()

	trees, err := store.NewPostgres(store.PostgresConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}
	t, err := trees.Get(ctx, addr)
	if err != nil {
		return err
	}

	storage, err := solledger.NewStorage(solledger.StorageConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}
	charges, err := storage.Charges(ctx, addr)
	if err != nil {
		return err
	}
	return writeJSON(out, NewInspection(addr, t, charges))
}

// List prints a summary line for every live tree created by authority.
func List(ctx context.Context, log *slog.Logger, pg apiconfig.PgConfig, authority solana.PublicKey, out io.Writer) error {
	pool, err := apiconfig.OpenPostgres(ctx, log, pg, false)
	if err != nil {
		return err
	}
	defer pool.Close()

	trees, err := store.NewPostgres(store.PostgresConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}
	summaries, err := trees.ListByAuthority(ctx, authority)
	if err != nil {
		return err
	}
	return WriteSummaries(out, summaries)
}

func WriteSummaries(out io.Writer, summaries []store.Summary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(out, "No trees found")
		return err
	}
	for _, s := range summaries {
		if _, err := fmt.Fprintf(out, "%-44s  %-15s  %s\n", s.Address, s.BatchID, s.Status); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
