package tree

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
	"github.com/stretchr/testify/require"
)

func TestDispatch_Tree_New(t *testing.T) {
	t.Parallel()

	t.Run("returns error when params are invalid", func(t *testing.T) {
		t.Parallel()

		past := testNow - 1
		atStart := testNow + 10
		tests := []struct {
			name   string
			mutate func(p *Params)
			want   ErrorKind
		}{
			{name: "end in the past", mutate: func(p *Params) { p.EndTS = &past }, want: ErrTimestampsNotInFuture},
			{name: "end equals start", mutate: func(p *Params) { p.StartTS = atStart; p.EndTS = &atStart }, want: ErrStartTimestampAfterEnd},
			{name: "start in the past", mutate: func(p *Params) { p.StartTS = testNow - 60 }, want: ErrTimestampsNotInFuture},
			{name: "no recipients", mutate: func(p *Params) { p.TotalNumberRecipients = 0 }, want: ErrNoRecipients},
			{name: "too many recipients", mutate: func(p *Params) { p.TotalNumberRecipients = MaxRecipients + 1 }, want: ErrTooManyRecipients},
			{name: "zero transfer", mutate: func(p *Params) { p.TransferToVaultAmount = 0 }, want: ErrZeroTransferAmount},
			{name: "batch id too long", mutate: func(p *Params) { p.BatchID = "0123456789abcdef" }, want: ErrBatchIDTooLong},
			{name: "batch id too short", mutate: func(p *Params) { p.BatchID = "short" }, want: ErrBatchIDTooShort},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				p := testParams(t, merkle.Hash{}, 10)
				tt.mutate(&p)
				tr, err := New(p, testNow)
				require.Nil(t, tr)
				require.ErrorIs(t, err, tt.want)

				var rerr RuleError
				require.True(t, errors.As(err, &rerr))
				require.NotEmpty(t, rerr.Description)
			})
		}
	})

	t.Run("no end is stored as the maximum timestamp", func(t *testing.T) {
		t.Parallel()

		p := testParams(t, merkle.Hash{}, 10)
		p.EndTS = nil
		tr, err := New(p, testNow)
		require.NoError(t, err)
		require.Equal(t, NoEnd, tr.EndTS())
		require.False(t, tr.HasEnd())
	})

	t.Run("small trees start active with a full bitmap", func(t *testing.T) {
		t.Parallel()

		tr, err := New(testParams(t, merkle.Hash{}, 100), testNow)
		require.NoError(t, err)
		require.Equal(t, StatusActive, tr.Status())
		require.Equal(t, 2, tr.BitmapWords())
		require.Equal(t, CurrentVersion, tr.Version())
		require.Zero(t, tr.NumberDistributed())
	})

	t.Run("gatekeeper network is copied", func(t *testing.T) {
		t.Parallel()

		network := newKey(t)
		p := testParams(t, merkle.Hash{}, 1)
		p.GatekeeperNetwork = &network
		tr, err := New(p, testNow)
		require.NoError(t, err)
		network[0] ^= 0xff

		got, ok := tr.GatekeeperNetwork()
		require.True(t, ok)
		require.NotEqual(t, network, got)
		require.True(t, tr.RequiresGatekeeperPass(true))
		require.False(t, tr.RequiresGatekeeperPass(false))
	})
}

func TestDispatch_Tree_Expand(t *testing.T) {
	t.Parallel()

	t.Run("seventy thousand recipients need one expansion before payments", func(t *testing.T) {
		t.Parallel()

		entries := newEntries(t, 2)
		mt := newTestMerkleTree(entries)
		tr, err := New(testParams(t, mt.root(), 70_000), testNow)
		require.NoError(t, err)
		require.Equal(t, StatusInsufficientBitmapSpace, tr.Status())
		require.Equal(t, 1000, tr.BitmapWords())
		require.Equal(t, uint64(94), tr.ExpansionNeeded())

		err = tr.ValidateDistribute(0, entries[0].recipient, entries[0].amount, mt.proof(0), testNow)
		require.ErrorIs(t, err, ErrInsufficientBitmapSpace)
		err = tr.ValidateClaim(0, entries[0].recipient, entries[0].amount, mt.proof(0), testNow)
		require.ErrorIs(t, err, ErrInsufficientBitmapSpace)

		added, err := tr.Expand()
		require.NoError(t, err)
		require.Equal(t, uint64(94), added)
		require.Equal(t, 1094, tr.BitmapWords())
		require.Equal(t, StatusActive, tr.Status())
		require.Equal(t, AccountSize(1094), tr.AccountSize())

		require.NoError(t, tr.ValidateDistribute(0, entries[0].recipient, entries[0].amount, mt.proof(0), testNow))
	})

	t.Run("nothing to expand once cancelled and reclaimed", func(t *testing.T) {
		t.Parallel()

		tr, err := New(testParams(t, merkle.Hash{}, 70_000), testNow)
		require.NoError(t, err)
		require.NoError(t, tr.Cancel())
		require.Zero(t, tr.ExpansionNeeded())
		require.NoError(t, tr.Reclaim())
		require.Zero(t, tr.BitmapWords())
		require.Zero(t, tr.ExpansionNeeded())
		_, err = tr.Expand()
		require.ErrorIs(t, err, ErrInvalidDistributionStatus)
	})

	t.Run("rejected once active", func(t *testing.T) {
		t.Parallel()

		tr, err := New(testParams(t, merkle.Hash{}, 10), testNow)
		require.NoError(t, err)
		_, err = tr.Expand()
		require.ErrorIs(t, err, ErrInvalidDistributionStatus)
	})
}

func TestDispatch_Tree_Payments(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T, n int) (*Tree, []entry, *testMerkleTree) {
		entries := newEntries(t, n)
		mt := newTestMerkleTree(entries)
		tr, err := New(testParams(t, mt.root(), uint64(n)), testNow)
		require.NoError(t, err)
		return tr, entries, mt
	}

	t.Run("every entry pays exactly once and the last completes", func(t *testing.T) {
		t.Parallel()

		tr, entries, mt := setup(t, 5)
		for i, e := range entries {
			idx := uint64(i)
			require.NoError(t, tr.ValidateDistribute(idx, e.recipient, e.amount, mt.proof(i), testNow))
			require.NoError(t, tr.RecordPayment(idx))
			require.Equal(t, idx+1, tr.NumberDistributed())

			paid, err := tr.IsPaid(idx)
			require.NoError(t, err)
			require.True(t, paid)
		}
		require.Equal(t, StatusComplete, tr.Status())
		require.Zero(t, tr.Remaining())

		err := tr.ValidateDistribute(0, entries[0].recipient, entries[0].amount, mt.proof(0), testNow)
		require.ErrorIs(t, err, ErrDistributionNotActive)
	})

	t.Run("second payment of the same index is rejected", func(t *testing.T) {
		t.Parallel()

		tr, entries, mt := setup(t, 3)
		require.NoError(t, tr.ValidateClaim(1, entries[1].recipient, entries[1].amount, mt.proof(1), testNow))
		require.NoError(t, tr.RecordPayment(1))

		err := tr.ValidateClaim(1, entries[1].recipient, entries[1].amount, mt.proof(1), testNow)
		require.ErrorIs(t, err, ErrAlreadyClaimed)
		err = tr.ValidateDistribute(1, entries[1].recipient, entries[1].amount, mt.proof(1), testNow)
		require.ErrorIs(t, err, ErrAlreadyClaimed)
		require.Equal(t, uint64(1), tr.NumberDistributed())
	})

	t.Run("window is inclusive at both ends", func(t *testing.T) {
		t.Parallel()

		tr, entries, mt := setup(t, 2)
		e := entries[0]

		err := tr.ValidateDistribute(0, e.recipient, e.amount, mt.proof(0), testNow-1)
		require.ErrorIs(t, err, ErrDistributionNotStarted)
		require.NoError(t, tr.ValidateDistribute(0, e.recipient, e.amount, mt.proof(0), testNow))
		require.NoError(t, tr.ValidateDistribute(0, e.recipient, e.amount, mt.proof(0), tr.EndTS()))
		err = tr.ValidateDistribute(0, e.recipient, e.amount, mt.proof(0), tr.EndTS()+1)
		require.ErrorIs(t, err, ErrDistributionEnded)
	})

	t.Run("proof must bind index, recipient and amount", func(t *testing.T) {
		t.Parallel()

		tr, entries, mt := setup(t, 4)
		e := entries[2]
		require.ErrorIs(t, tr.ValidateDistribute(2, e.recipient, e.amount+1, mt.proof(2), testNow), ErrInvalidProof)
		require.ErrorIs(t, tr.ValidateDistribute(2, entries[1].recipient, e.amount, mt.proof(2), testNow), ErrInvalidProof)
		require.ErrorIs(t, tr.ValidateDistribute(3, e.recipient, e.amount, mt.proof(2), testNow), ErrInvalidProof)
	})

	t.Run("index beyond total is out of bounds", func(t *testing.T) {
		t.Parallel()

		tr, entries, mt := setup(t, 3)
		err := tr.ValidateDistribute(3, entries[0].recipient, entries[0].amount, mt.proof(0), testNow)
		require.ErrorIs(t, err, ErrIndexOutOfBounds)
	})

	t.Run("claims rejected when only push is allowed", func(t *testing.T) {
		t.Parallel()

		entries := newEntries(t, 2)
		mt := newTestMerkleTree(entries)
		p := testParams(t, mt.root(), 2)
		p.AllowClaims = false
		tr, err := New(p, testNow)
		require.NoError(t, err)

		err = tr.ValidateClaim(0, entries[0].recipient, entries[0].amount, mt.proof(0), testNow)
		require.ErrorIs(t, err, ErrClaimsNotAllowed)
		require.NoError(t, tr.ValidateDistribute(0, entries[0].recipient, entries[0].amount, mt.proof(0), testNow))
	})

	t.Run("paused trees reject payments", func(t *testing.T) {
		t.Parallel()

		tr, entries, mt := setup(t, 2)
		require.NoError(t, tr.Pause())
		err := tr.ValidateClaim(0, entries[0].recipient, entries[0].amount, mt.proof(0), testNow)
		require.ErrorIs(t, err, ErrDistributionNotActive)
	})

	t.Run("record payment refuses to exceed the total", func(t *testing.T) {
		t.Parallel()

		tr, _, _ := setup(t, 1)
		require.NoError(t, tr.RecordPayment(0))
		require.ErrorIs(t, tr.RecordPayment(0), ErrDistributionAlreadyComplete)
		require.Equal(t, uint64(1), tr.NumberDistributed())
	})
}

func TestDispatch_Tree_Transitions(t *testing.T) {
	t.Parallel()

	newTree := func(t *testing.T) *Tree {
		tr, err := New(testParams(t, merkle.Hash{}, 2), testNow)
		require.NoError(t, err)
		return tr
	}

	t.Run("pause and resume only from the matching state", func(t *testing.T) {
		t.Parallel()

		tr := newTree(t)
		require.ErrorIs(t, tr.Resume(), ErrInvalidDistributionStatus)
		require.NoError(t, tr.Pause())
		require.Equal(t, StatusPaused, tr.Status())
		require.ErrorIs(t, tr.Pause(), ErrInvalidDistributionStatus)
		require.NoError(t, tr.Resume())
		require.Equal(t, StatusActive, tr.Status())
	})

	t.Run("cancel from active, paused and insufficient bitmap space", func(t *testing.T) {
		t.Parallel()

		tr := newTree(t)
		require.NoError(t, tr.Cancel())
		require.Equal(t, StatusCancelled, tr.Status())
		require.ErrorIs(t, tr.Cancel(), ErrInvalidDistributionStatus)

		tr = newTree(t)
		require.NoError(t, tr.Pause())
		require.NoError(t, tr.Cancel())

		big, err := New(testParams(t, merkle.Hash{}, 70_000), testNow)
		require.NoError(t, err)
		require.NoError(t, big.Cancel())
		require.ErrorIs(t, big.Pause(), ErrInvalidDistributionStatus)
	})

	t.Run("complete trees cannot be cancelled", func(t *testing.T) {
		t.Parallel()

		tr := newTree(t)
		require.NoError(t, tr.RecordPayment(0))
		require.NoError(t, tr.RecordPayment(1))
		require.Equal(t, StatusComplete, tr.Status())
		require.ErrorIs(t, tr.Cancel(), ErrInvalidDistributionStatus)
	})

	t.Run("reclaim requires a finished tree and clears the bitmap", func(t *testing.T) {
		t.Parallel()

		tr := newTree(t)
		require.ErrorIs(t, tr.Reclaim(), ErrDistributionNotComplete)
		require.NoError(t, tr.Cancel())
		require.NoError(t, tr.Reclaim())
		require.Zero(t, tr.BitmapWords())
		require.Equal(t, BaseAccountSize, tr.AccountSize())
	})

	t.Run("close requires acknowledgment before status", func(t *testing.T) {
		t.Parallel()

		tr := newTree(t)
		require.ErrorIs(t, tr.CheckClose(false), ErrMustAcknowledgeIrreversible)
		require.ErrorIs(t, tr.CheckClose(true), ErrInvalidDistributionStatus)
		require.NoError(t, tr.Cancel())
		require.ErrorIs(t, tr.CheckClose(false), ErrMustAcknowledgeIrreversible)
		require.NoError(t, tr.CheckClose(true))
	})

	t.Run("authority and vault checks", func(t *testing.T) {
		t.Parallel()

		tr := newTree(t)
		require.NoError(t, tr.CheckAuthority(tr.Authority()))
		require.ErrorIs(t, tr.CheckAuthority(newKey(t)), ErrSignerNotAuthorized)
		require.NoError(t, tr.CheckVault(tr.TokenVault()))
		require.ErrorIs(t, tr.CheckVault(solana.PublicKey{}), ErrInvalidTokenVault)
	})

	t.Run("clone does not share the bitmap", func(t *testing.T) {
		t.Parallel()

		tr := newTree(t)
		c := tr.Clone()
		require.NoError(t, c.RecordPayment(0))

		paid, err := tr.IsPaid(0)
		require.NoError(t, err)
		require.False(t, paid)
		require.Zero(t, tr.NumberDistributed())
	})
}

func TestDispatch_Tree_ErrorKind(t *testing.T) {
	t.Parallel()

	require.Equal(t, CategoryValidation, ErrBatchIDTooLong.Category())
	require.Equal(t, CategoryAuthorization, ErrSignerNotAuthorized.Category())
	require.Equal(t, CategoryNotFound, ErrTreeNotFound.Category())
	require.Equal(t, CategoryState, ErrAlreadyClaimed.Category())
	require.Equal(t, CategoryProof, ErrInvalidProof.Category())
	require.Equal(t, CategoryArithmetic, ErrMathError.Category())
	require.Equal(t, CategoryUnknown, ErrorKind("Other").Category())

	var kind ErrorKind
	err := ruleError(ErrAlreadyClaimed, "index 3 has already been paid")
	require.True(t, errors.As(err, &kind))
	require.Equal(t, ErrAlreadyClaimed, kind)
	require.Equal(t, "index 3 has already been paid", err.Error())
}
