// Package merkle verifies membership proofs against a distribution's Merkle root.
//
// Trees are built off-system with sorted-pair Keccak-256 hashing: each parent is
// keccak256(min(a, b) || max(a, b)) where min/max compare the 32-byte hashes as
// byte strings. Leaf position is therefore not encoded in the proof.
package merkle

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashSize is the size in bytes of every node in the tree.
const HashSize = 32

// Hash is a single node of the tree.
type Hash [HashSize]byte

// ErrMalformedHash is returned when a hash cannot be decoded into exactly HashSize bytes.
var ErrMalformedHash = errors.New("malformed hash")

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether every byte of h is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashFromBytes copies b into a Hash. b must be exactly HashSize bytes long.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedHash, HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex decodes a 64-character hex string, with or without a 0x prefix.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return HashFromBytes(b)
}

// Keccak256 hashes the concatenation of data with legacy (pre-NIST) Keccak-256.
func Keccak256(data ...[]byte) Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d)
	}
	var h Hash
	hasher.Sum(h[:0])
	return h
}

// HashPair returns the parent of a and b, hashing the byte-wise smaller operand first.
func HashPair(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return Keccak256(a[:], b[:])
	}
	return Keccak256(b[:], a[:])
}

// Verify folds proof over leaf and reports whether the result equals root.
func Verify(proof []Hash, root Hash, leaf Hash) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = HashPair(computed, sibling)
	}
	return computed == root
}

// ParseProof converts raw proof elements into hashes. Any element that is not exactly
// HashSize bytes rejects the whole proof.
func ParseProof(elements [][]byte) ([]Hash, error) {
	proof := make([]Hash, 0, len(elements))
	for i, el := range elements {
		h, err := HashFromBytes(el)
		if err != nil {
			return nil, fmt.Errorf("proof element %d: %w", i, err)
		}
		proof = append(proof, h)
	}
	return proof, nil
}
