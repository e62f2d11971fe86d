package tree

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/bitmap"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
)

const (
	DiscriminatorSize = 8

	// BaseAccountSize is the persisted size of a tree with a maximum length batch id, a
	// gatekeeper network and an empty bitmap.
	BaseAccountSize = DiscriminatorSize +
		1 + // bump
		8 + // version
		4 + BatchIDMaxLength + // batch id
		solana.PublicKeyLength + // authority
		1 + // status
		merkle.HashSize + // merkle root
		solana.PublicKeyLength + // mint
		solana.PublicKeyLength + // token vault
		1 + // allow claims
		8 + // total number of recipients
		8 + // number distributed
		8 + // start
		8 + // end
		1 + solana.PublicKeyLength + // gatekeeper network
		4 // bitmap length

	// MaxAccountSize is the largest account the storage provider will allocate.
	MaxAccountSize = 10 * 1024 * 1024

	MaxBitmapWords = (MaxAccountSize - BaseAccountSize) / bitmap.WordSize
	MaxRecipients  = uint64(MaxBitmapWords) * bitmap.WordBits
)

// Discriminator prefixes every persisted tree.
var Discriminator = accountDiscriminator("DistributionTree")

var ErrInvalidDiscriminator = errors.New("invalid account discriminator")

func accountDiscriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// AccountSize returns the storage size of a tree whose bitmap has the given number of words.
func AccountSize(words int) int {
	return BaseAccountSize + words*bitmap.WordSize
}

// MarshalWithEncoder writes the persisted layout.
func (t *Tree) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(Discriminator[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint8(t.bump); err != nil {
		return err
	}
	if err := enc.WriteUint64(t.version, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint32(uint32(len(t.batchID)), bin.LE); err != nil {
		return err
	}
	if err := enc.WriteBytes([]byte(t.batchID), false); err != nil {
		return err
	}
	if err := enc.WriteBytes(t.authority[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint8(uint8(t.status)); err != nil {
		return err
	}
	if err := enc.WriteBytes(t.merkleRoot[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(t.mint[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(t.tokenVault[:], false); err != nil {
		return err
	}
	if err := enc.WriteBool(t.allowClaims); err != nil {
		return err
	}
	if err := enc.WriteUint64(t.totalNumberRecipients, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(t.numberDistributed, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteInt64(t.startTS, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteInt64(t.endTS, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteBool(t.gatekeeperNetwork != nil); err != nil {
		return err
	}
	if t.gatekeeperNetwork != nil {
		if err := enc.WriteBytes(t.gatekeeperNetwork[:], false); err != nil {
			return err
		}
	}
	words := t.bitmap.Words()
	if err := enc.WriteUint32(uint32(len(words)), bin.LE); err != nil {
		return err
	}
	for _, w := range words {
		if err := enc.WriteUint64(w, bin.LE); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalWithDecoder reads the persisted layout.
func (t *Tree) UnmarshalWithDecoder(dec *bin.Decoder) error {
	disc, err := dec.ReadNBytes(DiscriminatorSize)
	if err != nil {
		return fmt.Errorf("failed to read discriminator: %w", err)
	}
	if !bytes.Equal(disc, Discriminator[:]) {
		return ErrInvalidDiscriminator
	}
	if t.bump, err = dec.ReadUint8(); err != nil {
		return err
	}
	if t.version, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if t.version == 0 || t.version > CurrentVersion {
		return fmt.Errorf("unsupported tree version %d", t.version)
	}
	batchLen, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return err
	}
	if batchLen > BatchIDMaxLength {
		return fmt.Errorf("batch id length %d exceeds %d", batchLen, BatchIDMaxLength)
	}
	batchID, err := dec.ReadNBytes(int(batchLen))
	if err != nil {
		return err
	}
	t.batchID = string(batchID)
	if err := readKey(dec, t.authority[:]); err != nil {
		return err
	}
	status, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	t.status = Status(status)
	if !t.status.Valid() {
		return fmt.Errorf("unknown status %d", status)
	}
	if err := readKey(dec, t.merkleRoot[:]); err != nil {
		return err
	}
	if err := readKey(dec, t.mint[:]); err != nil {
		return err
	}
	if err := readKey(dec, t.tokenVault[:]); err != nil {
		return err
	}
	if t.allowClaims, err = dec.ReadBool(); err != nil {
		return err
	}
	if t.totalNumberRecipients, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if t.numberDistributed, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if t.startTS, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	if t.endTS, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	hasNetwork, err := dec.ReadBool()
	if err != nil {
		return err
	}
	t.gatekeeperNetwork = nil
	if hasNetwork {
		var network solana.PublicKey
		if err := readKey(dec, network[:]); err != nil {
			return err
		}
		t.gatekeeperNetwork = &network
	}
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return err
	}
	if n > MaxBitmapWords {
		return fmt.Errorf("bitmap length %d exceeds %d words", n, MaxBitmapWords)
	}
	words := make([]uint64, n)
	for i := range words {
		if words[i], err = dec.ReadUint64(bin.LE); err != nil {
			return err
		}
	}
	t.bitmap = bitmap.FromWords(t.totalNumberRecipients, words)
	return nil
}

func readKey(dec *bin.Decoder, dst []byte) error {
	b, err := dec.ReadNBytes(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Encode returns the persisted bytes of t.
func Encode(t *Tree) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.MarshalWithEncoder(bin.NewBorshEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to encode tree: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*Tree, error) {
	t := &Tree{}
	if err := t.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}
	return t, nil
}
