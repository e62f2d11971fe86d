package tree

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
)

// Leaf returns keccak256(index u64 LE || recipient || amount u64 LE), the hash committed to by
// the Merkle root for one entry.
func Leaf(index uint64, recipient solana.PublicKey, amount uint64) merkle.Hash {
	var buf [8 + solana.PublicKeyLength + 8]byte
	binary.LittleEndian.PutUint64(buf[:8], index)
	copy(buf[8:8+solana.PublicKeyLength], recipient[:])
	binary.LittleEndian.PutUint64(buf[8+solana.PublicKeyLength:], amount)
	return merkle.Keccak256(buf[:])
}
