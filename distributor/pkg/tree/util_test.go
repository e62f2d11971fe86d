package tree

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
	"github.com/stretchr/testify/require"
)

type entry struct {
	recipient solana.PublicKey
	amount    uint64
}

// testMerkleTree builds a sorted-pair tree over entries; odd nodes are promoted unchanged.
type testMerkleTree struct {
	layers [][]merkle.Hash
}

func newTestMerkleTree(entries []entry) *testMerkleTree {
	leaves := make([]merkle.Hash, len(entries))
	for i, e := range entries {
		leaves[i] = Leaf(uint64(i), e.recipient, e.amount)
	}
	layers := [][]merkle.Hash{leaves}
	for len(layers[len(layers)-1]) > 1 {
		prev := layers[len(layers)-1]
		var next []merkle.Hash
		for i := 0; i < len(prev); i += 2 {
			if i+1 == len(prev) {
				next = append(next, prev[i])
				continue
			}
			next = append(next, merkle.HashPair(prev[i], prev[i+1]))
		}
		layers = append(layers, next)
	}
	return &testMerkleTree{layers: layers}
}

func (m *testMerkleTree) root() merkle.Hash {
	return m.layers[len(m.layers)-1][0]
}

func (m *testMerkleTree) proof(index int) []merkle.Hash {
	var proof []merkle.Hash
	for _, layer := range m.layers[:len(m.layers)-1] {
		if sibling := index ^ 1; sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		index /= 2
	}
	return proof
}

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return pk.PublicKey()
}

func newEntries(t *testing.T, n int) []entry {
	t.Helper()
	entries := make([]entry, n)
	for i := range entries {
		entries[i] = entry{recipient: newKey(t), amount: uint64(1_000_000 * (i + 1))}
	}
	return entries
}

const testNow int64 = 1_700_000_000

func testParams(t *testing.T, root merkle.Hash, total uint64) Params {
	t.Helper()
	end := testNow + 3600
	return Params{
		BatchID:               "batch-0001",
		Authority:             newKey(t),
		Bump:                  254,
		AllowClaims:           true,
		MerkleRoot:            root,
		Mint:                  newKey(t),
		TokenVault:            newKey(t),
		TotalNumberRecipients: total,
		StartTS:               testNow,
		EndTS:                 &end,
		TransferToVaultAmount: 1_000_000_000,
	}
}
