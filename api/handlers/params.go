package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
	"github.com/mr-tron/base58"
)

// ParseHash decodes a merkle hash given as 64-character hex (optionally 0x-prefixed) or base58.
func ParseHash(s string) (merkle.Hash, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed) == 2*merkle.HashSize {
		if h, err := merkle.HashFromHex(trimmed); err == nil {
			return h, nil
		}
	}
	b, err := base58.Decode(s)
	if err != nil {
		return merkle.Hash{}, fmt.Errorf("%w: not hex or base58", merkle.ErrMalformedHash)
	}
	return merkle.HashFromBytes(b)
}

// Hash is a merkle hash in a JSON body. It is written as hex.
type Hash merkle.Hash

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = Hash(parsed)
	return nil
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(merkle.Hash(h).String()), nil
}

func proofHashes(proof []Hash) []merkle.Hash {
	out := make([]merkle.Hash, len(proof))
	for i, p := range proof {
		out[i] = merkle.Hash(p)
	}
	return out
}

// treeRef reads the tree named by the authority and batchID path parameters.
func treeRef(r *http.Request) (distributor.TreeRef, error) {
	authority, err := solana.PublicKeyFromBase58(chi.URLParam(r, "authority"))
	if err != nil {
		return distributor.TreeRef{}, fmt.Errorf("invalid authority: %w", err)
	}
	return distributor.TreeRef{
		Authority: authority,
		BatchID:   chi.URLParam(r, "batchID"),
	}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseUint(s, name string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
