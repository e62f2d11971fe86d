// Package gatekeeper verifies identity passes ("gateway tokens") issued under a gatekeeper
// network.
package gatekeeper

import (
	"bytes"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

// DefaultProgramID owns every gateway token account.
var DefaultProgramID = solana.MustPublicKeyFromBase58("gatem74V238djXdzWnJf94Wo1DcnuGkfijbf3AuBhfs")

type State uint8

const (
	StateActive State = iota
	StateFrozen
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFrozen:
		return "frozen"
	case StateRevoked:
		return "revoked"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Token is the on-chain gateway token account.
type Token struct {
	Features          uint8
	Parent            *solana.PublicKey
	OwnerWallet       solana.PublicKey
	OwnerIdentity     *solana.PublicKey
	GatekeeperNetwork solana.PublicKey
	IssuingGatekeeper solana.PublicKey
	State             State
	ExpireTime        *int64
}

func writeOptionalKey(enc *bin.Encoder, key *solana.PublicKey) error {
	if err := enc.WriteBool(key != nil); err != nil {
		return err
	}
	if key == nil {
		return nil
	}
	return enc.WriteBytes(key[:], false)
}

func readKey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

func readOptionalKey(dec *bin.Decoder) (*solana.PublicKey, error) {
	some, err := dec.ReadBool()
	if err != nil || !some {
		return nil, err
	}
	key, err := readKey(dec)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (t *Token) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint8(t.Features); err != nil {
		return err
	}
	if err := writeOptionalKey(enc, t.Parent); err != nil {
		return err
	}
	if err := enc.WriteBytes(t.OwnerWallet[:], false); err != nil {
		return err
	}
	if err := writeOptionalKey(enc, t.OwnerIdentity); err != nil {
		return err
	}
	if err := enc.WriteBytes(t.GatekeeperNetwork[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(t.IssuingGatekeeper[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint8(uint8(t.State)); err != nil {
		return err
	}
	if err := enc.WriteBool(t.ExpireTime != nil); err != nil {
		return err
	}
	if t.ExpireTime != nil {
		return enc.WriteInt64(*t.ExpireTime, bin.LE)
	}
	return nil
}

func (t *Token) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if t.Features, err = dec.ReadUint8(); err != nil {
		return err
	}
	if t.Parent, err = readOptionalKey(dec); err != nil {
		return err
	}
	if t.OwnerWallet, err = readKey(dec); err != nil {
		return err
	}
	if t.OwnerIdentity, err = readOptionalKey(dec); err != nil {
		return err
	}
	if t.GatekeeperNetwork, err = readKey(dec); err != nil {
		return err
	}
	if t.IssuingGatekeeper, err = readKey(dec); err != nil {
		return err
	}
	state, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	t.State = State(state)
	hasExpiry, err := dec.ReadBool()
	if err != nil {
		return err
	}
	t.ExpireTime = nil
	if hasExpiry {
		exp, err := dec.ReadInt64(bin.LE)
		if err != nil {
			return err
		}
		t.ExpireTime = &exp
	}
	return nil
}

// Encode returns the account data of t.
func Encode(t *Token) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.MarshalWithEncoder(bin.NewBorshEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to encode gateway token: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses gateway token account data.
func Decode(data []byte) (*Token, error) {
	t := &Token{}
	if err := t.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to decode gateway token: %w", err)
	}
	return t, nil
}

// Check validates tok as a pass for subject under network at time now.
func Check(tok *Token, subject, network solana.PublicKey, now time.Time) error {
	if network.IsZero() {
		return tree.NewRuleError(tree.ErrMissingGatekeeperNetwork, "no gatekeeper network to check the pass against")
	}
	if !tok.OwnerWallet.Equals(subject) {
		str := fmt.Sprintf("gateway token belongs to %s, not %s", tok.OwnerWallet, subject)
		return tree.NewRuleError(tree.ErrInvalidGatewayToken, str)
	}
	if !tok.GatekeeperNetwork.Equals(network) {
		str := fmt.Sprintf("gateway token was issued under network %s, expected %s", tok.GatekeeperNetwork, network)
		return tree.NewRuleError(tree.ErrInvalidGatewayToken, str)
	}
	if tok.State != StateActive {
		str := fmt.Sprintf("gateway token is %s", tok.State)
		return tree.NewRuleError(tree.ErrInvalidGatewayToken, str)
	}
	if tok.ExpireTime != nil && *tok.ExpireTime <= now.Unix() {
		str := fmt.Sprintf("gateway token expired at %d", *tok.ExpireTime)
		return tree.NewRuleError(tree.ErrInvalidGatewayToken, str)
	}
	return nil
}
