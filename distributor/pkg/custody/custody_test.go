package custody

import (
	"bytes"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func testSeed(b byte) []byte {
	return bytes.Repeat([]byte{b}, MinSeedLength)
}

func TestDispatch_Custody_New(t *testing.T) {
	t.Parallel()

	t.Run("returns error when seed is short", func(t *testing.T) {
		t.Parallel()

		c, err := New(Config{Seed: []byte("short")})
		require.Error(t, err)
		require.Nil(t, c)
		require.Contains(t, err.Error(), "seed must be at least")
	})

	t.Run("returns error when delegate is malformed", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{Seed: testSeed(1), Delegate: solana.PrivateKey{1, 2, 3}})
		require.ErrorContains(t, err, "delegate key is malformed")
	})
}

func TestDispatch_Custody_Custodian(t *testing.T) {
	t.Parallel()

	treeA := solana.NewWallet().PublicKey()
	treeB := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	t.Run("derivation is deterministic per seed and tree", func(t *testing.T) {
		t.Parallel()

		c1, err := New(Config{Seed: testSeed(1)})
		require.NoError(t, err)
		c2, err := New(Config{Seed: testSeed(1)})
		require.NoError(t, err)
		c3, err := New(Config{Seed: testSeed(2)})
		require.NoError(t, err)

		require.Equal(t, c1.Authority(treeA), c2.Authority(treeA))
		require.NotEqual(t, c1.Authority(treeA), c1.Authority(treeB))
		require.NotEqual(t, c1.Authority(treeA), c3.Authority(treeA))

		v1, err := c1.Vault(treeA, mint)
		require.NoError(t, err)
		v2, err := c2.Vault(treeA, mint)
		require.NoError(t, err)
		require.Equal(t, v1, v2)

		ata, _, err := solana.FindAssociatedTokenAddress(c1.Authority(treeA), mint)
		require.NoError(t, err)
		require.Equal(t, ata, v1)
	})

	t.Run("derived keys are retrievable for signing", func(t *testing.T) {
		t.Parallel()

		c, err := New(Config{Seed: testSeed(3)})
		require.NoError(t, err)

		authority := c.Authority(treeA)
		key, ok := c.Key(authority)
		require.True(t, ok)
		require.Equal(t, authority, key.PublicKey())

		_, ok = c.Key(solana.NewWallet().PublicKey())
		require.False(t, ok)
	})

	t.Run("delegate is exposed and signable", func(t *testing.T) {
		t.Parallel()

		delegate := solana.NewWallet().PrivateKey
		c, err := New(Config{Seed: testSeed(4), Delegate: delegate})
		require.NoError(t, err)

		pub, ok := c.Delegate()
		require.True(t, ok)
		require.Equal(t, delegate.PublicKey(), pub)

		key, ok := c.Key(pub)
		require.True(t, ok)
		require.Equal(t, delegate, key)

		c2, err := New(Config{Seed: testSeed(4)})
		require.NoError(t, err)
		_, ok = c2.Delegate()
		require.False(t, ok)
	})
}
