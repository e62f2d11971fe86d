package solledger

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	apitesting "github.com/malbeclabs/dispatch/api/testing"
	"github.com/malbeclabs/dispatch/distributor/pkg/ledger"
	dispatchtesting "github.com/malbeclabs/dispatch/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(StorageConfig{
		Logger: dispatchtesting.NewLogger(),
		Pool:   apitesting.NewTestPool(t, testDB),
	})
	require.NoError(t, err)
	return s
}

func TestDispatch_Solledger_Storage(t *testing.T) {
	t.Parallel()

	t.Run("returns error when config is incomplete", func(t *testing.T) {
		t.Parallel()

		_, err := NewStorage(StorageConfig{})
		require.ErrorContains(t, err, "logger is required")
		_, err = NewStorage(StorageConfig{Logger: dispatchtesting.NewLogger()})
		require.ErrorContains(t, err, "postgres pool is required")
	})

	t.Run("records every change to an account", func(t *testing.T) {
		t.Parallel()

		s := newTestStorage(t)
		ctx := t.Context()
		account, owner, payer, other := newKey(), newKey(), newKey(), newKey()

		require.NoError(t, s.Create(ctx, account, 1000, owner, payer))
		require.ErrorIs(t, s.Create(ctx, account, 1000, owner, payer), ErrStorageExists)

		require.NoError(t, s.Resize(ctx, account, 2000, other))
		size, err := s.Size(ctx, account)
		require.NoError(t, err)
		require.Equal(t, 2000, size)

		// Resizing to the same size records nothing.
		require.NoError(t, s.Resize(ctx, account, 2000, other))
		require.NoError(t, s.Resize(ctx, account, 500, payer))
		require.NoError(t, s.Close(ctx, account, payer))

		_, err = s.Size(ctx, account)
		require.ErrorIs(t, err, ErrStorageNotFound)
		require.ErrorIs(t, s.Close(ctx, account, payer), ErrStorageNotFound)
		require.ErrorIs(t, s.Resize(ctx, account, 10, payer), ErrStorageNotFound)

		charges, err := s.Charges(ctx, account)
		require.NoError(t, err)
		rent := func(size int) int64 { return int64(ledger.RentExemptMinimum(size)) }
		require.Equal(t, []Charge{
			{Payer: payer, Kind: ChargeCreate, Size: 1000, Lamports: rent(1000)},
			{Payer: other, Kind: ChargeGrow, Size: 2000, Lamports: rent(2000) - rent(1000)},
			{Payer: payer, Kind: ChargeShrink, Size: 500, Lamports: rent(500) - rent(2000)},
			{Payer: payer, Kind: ChargeClose, Size: 0, Lamports: -rent(500)},
		}, charges)

		var net int64
		for _, c := range charges {
			net += c.Lamports
		}
		require.Zero(t, net)
	})

	t.Run("accounts are independent", func(t *testing.T) {
		t.Parallel()

		s := newTestStorage(t)
		a, b := newKey(), newKey()
		require.NoError(t, s.Create(t.Context(), a, 10, solana.PublicKey{}, newKey()))
		require.NoError(t, s.Create(t.Context(), b, 20, solana.PublicKey{}, newKey()))
		require.NoError(t, s.Close(t.Context(), a, newKey()))

		size, err := s.Size(t.Context(), b)
		require.NoError(t, err)
		require.Equal(t, 20, size)
	})
}
