package solana

import (
	"context"
	"errors"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	dispatchtesting "github.com/malbeclabs/dispatch/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type mockRPC struct {
	GetHealthFunc  func(ctx context.Context) (string, error)
	GetBalanceFunc func(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
}

func (m *mockRPC) GetHealth(ctx context.Context) (string, error) {
	return m.GetHealthFunc(ctx)
}

func (m *mockRPC) GetBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return m.GetBalanceFunc(ctx, account, commitment)
}

func newMockRPC(health string, lamports uint64) *mockRPC {
	return &mockRPC{
		GetHealthFunc: func(context.Context) (string, error) { return health, nil },
		GetBalanceFunc: func(context.Context, solanago.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
			return &rpc.GetBalanceResult{Value: lamports}, nil
		},
	}
}

func TestDispatch_API_Solana_HealthChecker(t *testing.T) {
	t.Parallel()

	payer := solanago.NewWallet().PublicKey()
	newHealthChecker := func(t *testing.T, client RPCClient) *HealthChecker {
		p, err := NewHealthChecker(HealthCheckerConfig{
			Logger:           dispatchtesting.NewLogger(),
			RPC:              client,
			Payer:            payer,
			MinPayerLamports: SOLToLamports(0.5),
		})
		require.NoError(t, err)
		return p
	}

	t.Run("config requires rpc and payer", func(t *testing.T) {
		t.Parallel()

		_, err := NewHealthChecker(HealthCheckerConfig{Logger: dispatchtesting.NewLogger()})
		require.ErrorContains(t, err, "rpc client is required")
		_, err = NewHealthChecker(HealthCheckerConfig{Logger: dispatchtesting.NewLogger(), RPC: newMockRPC(rpc.HealthOk, 0)})
		require.ErrorContains(t, err, "payer is required")
	})

	t.Run("healthy and funded", func(t *testing.T) {
		t.Parallel()

		p := newHealthChecker(t, newMockRPC(rpc.HealthOk, LamportsPerSOL))
		require.NoError(t, p.Check(t.Context()))
		bal, err := p.PayerBalance(t.Context())
		require.NoError(t, err)
		require.Equal(t, uint64(LamportsPerSOL), bal)
	})

	t.Run("unhealthy node", func(t *testing.T) {
		t.Parallel()

		p := newHealthChecker(t, newMockRPC("behind", LamportsPerSOL))
		require.ErrorContains(t, p.Check(t.Context()), "rpc node unhealthy")
	})

	t.Run("health error", func(t *testing.T) {
		t.Parallel()

		client := newMockRPC(rpc.HealthOk, LamportsPerSOL)
		client.GetHealthFunc = func(context.Context) (string, error) { return "", errors.New("connection refused") }
		require.ErrorContains(t, newHealthChecker(t, client).Check(t.Context()), "failed to get rpc health")
	})

	t.Run("underfunded payer", func(t *testing.T) {
		t.Parallel()

		p := newHealthChecker(t, newMockRPC(rpc.HealthOk, SOLToLamports(0.1)))
		require.ErrorContains(t, p.Check(t.Context()), "below minimum")
	})
}

func TestDispatch_API_Solana_Conversions(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.5, LamportsToSOL(1_500_000_000), 1e-9)
	require.Equal(t, uint64(250_000_000), SOLToLamports(0.25))
}
