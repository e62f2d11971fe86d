package tree

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// SeedPrefix is the first seed of every tree address.
const SeedPrefix = "DISTRIBUTION_TREE"

// Seeds returns the address derivation seeds for a tree.
func Seeds(authority solana.PublicKey, batchID string) [][]byte {
	return [][]byte{[]byte(SeedPrefix), authority.Bytes(), []byte(batchID)}
}

// DeriveAddress returns the deterministic tree address for authority and batchID under
// programID, together with its bump seed.
func DeriveAddress(programID, authority solana.PublicKey, batchID string) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(Seeds(authority, batchID), programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive tree address: %w", err)
	}
	return addr, bump, nil
}
