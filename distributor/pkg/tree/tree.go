// Package tree implements the distribution tree: a committed Merkle root over
// (index, recipient, amount) entries, the claimed-index bitmap, and the lifecycle that
// governs when entries may be paid.
//
// A Tree never moves tokens itself. Callers validate an operation against the tree, perform
// any token movements, and only then persist the mutated tree.
package tree

import (
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/dispatch/distributor/pkg/bitmap"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
)

const (
	// CurrentVersion is the schema version written by this package.
	CurrentVersion uint64 = 1

	BatchIDMinLength = 8
	BatchIDMaxLength = 15

	// NoEnd is stored as the end timestamp of distributions without one.
	NoEnd int64 = math.MaxInt64
)

// Params are the caller inputs to New.
type Params struct {
	BatchID               string
	Authority             solana.PublicKey
	Bump                  uint8
	AllowClaims           bool
	MerkleRoot            merkle.Hash
	Mint                  solana.PublicKey
	TokenVault            solana.PublicKey
	TotalNumberRecipients uint64
	StartTS               int64
	// EndTS nil means the distribution never ends.
	EndTS                 *int64
	GatekeeperNetwork     *solana.PublicKey
	TransferToVaultAmount uint64
}

// Tree is a single distribution batch. Fields are only changed through its methods.
type Tree struct {
	version               uint64
	bump                  uint8
	batchID               string
	authority             solana.PublicKey
	status                Status
	merkleRoot            merkle.Hash
	mint                  solana.PublicKey
	tokenVault            solana.PublicKey
	allowClaims           bool
	totalNumberRecipients uint64
	numberDistributed     uint64
	startTS               int64
	endTS                 int64
	gatekeeperNetwork     *solana.PublicKey
	bitmap                *bitmap.Bitmap
}

// ValidateParams checks p against the creation time now.
func ValidateParams(p Params, now int64) error {
	end := NoEnd
	if p.EndTS != nil {
		end = *p.EndTS
	}
	if end <= now {
		str := fmt.Sprintf("end timestamp %d is not after current time %d", end, now)
		return ruleError(ErrTimestampsNotInFuture, str)
	}
	if end <= p.StartTS {
		str := fmt.Sprintf("start timestamp %d is not before end timestamp %d", p.StartTS, end)
		return ruleError(ErrStartTimestampAfterEnd, str)
	}
	if p.StartTS < now {
		str := fmt.Sprintf("start timestamp %d is before current time %d", p.StartTS, now)
		return ruleError(ErrTimestampsNotInFuture, str)
	}
	if p.TotalNumberRecipients == 0 {
		return ruleError(ErrNoRecipients, "distribution has no recipients")
	}
	if p.TotalNumberRecipients > MaxRecipients {
		str := fmt.Sprintf("%d recipients exceeds the maximum of %d", p.TotalNumberRecipients, MaxRecipients)
		return ruleError(ErrTooManyRecipients, str)
	}
	if p.TransferToVaultAmount == 0 {
		return ruleError(ErrZeroTransferAmount, "transfer to vault amount is zero")
	}
	if len(p.BatchID) > BatchIDMaxLength {
		str := fmt.Sprintf("batch id is %d bytes, maximum is %d", len(p.BatchID), BatchIDMaxLength)
		return ruleError(ErrBatchIDTooLong, str)
	}
	if len(p.BatchID) < BatchIDMinLength {
		str := fmt.Sprintf("batch id is %d bytes, minimum is %d", len(p.BatchID), BatchIDMinLength)
		return ruleError(ErrBatchIDTooShort, str)
	}
	return nil
}

// New validates p and returns a tree whose bitmap holds up to one allocation step. Trees that
// need more than one step start in StatusInsufficientBitmapSpace.
func New(p Params, now int64) (*Tree, error) {
	if err := ValidateParams(p, now); err != nil {
		return nil, err
	}
	end := NoEnd
	if p.EndTS != nil {
		end = *p.EndTS
	}
	bm, full := bitmap.New(p.TotalNumberRecipients)
	status := StatusActive
	if !full {
		status = StatusInsufficientBitmapSpace
	}
	var gk *solana.PublicKey
	if p.GatekeeperNetwork != nil {
		network := *p.GatekeeperNetwork
		gk = &network
	}
	return &Tree{
		version:               CurrentVersion,
		bump:                  p.Bump,
		batchID:               p.BatchID,
		authority:             p.Authority,
		status:                status,
		merkleRoot:            p.MerkleRoot,
		mint:                  p.Mint,
		tokenVault:            p.TokenVault,
		allowClaims:           p.AllowClaims,
		totalNumberRecipients: p.TotalNumberRecipients,
		startTS:               p.StartTS,
		endTS:                 end,
		gatekeeperNetwork:     gk,
		bitmap:                bm,
	}, nil
}

func (t *Tree) Version() uint64                  { return t.version }
func (t *Tree) Bump() uint8                      { return t.bump }
func (t *Tree) BatchID() string                  { return t.batchID }
func (t *Tree) Authority() solana.PublicKey      { return t.authority }
func (t *Tree) Status() Status                   { return t.status }
func (t *Tree) MerkleRoot() merkle.Hash          { return t.merkleRoot }
func (t *Tree) Mint() solana.PublicKey           { return t.mint }
func (t *Tree) TokenVault() solana.PublicKey     { return t.tokenVault }
func (t *Tree) AllowClaims() bool                { return t.allowClaims }
func (t *Tree) TotalNumberRecipients() uint64    { return t.totalNumberRecipients }
func (t *Tree) NumberDistributed() uint64        { return t.numberDistributed }
func (t *Tree) StartTS() int64                   { return t.startTS }
func (t *Tree) EndTS() int64                     { return t.endTS }
func (t *Tree) BitmapWords() int                 { return t.bitmap.Len() }
func (t *Tree) HasEnd() bool                     { return t.endTS != NoEnd }
func (t *Tree) Remaining() uint64                { return t.totalNumberRecipients - t.numberDistributed }
func (t *Tree) AccountSize() int                 { return AccountSize(t.bitmap.Len()) }
func (t *Tree) ClaimedBitmap() []uint64          { return t.bitmap.Words() }
func (t *Tree) RequiresGatekeeperPass(enforced bool) bool {
	return enforced && t.gatekeeperNetwork != nil
}

// GatekeeperNetwork returns the network passes must be issued by, if any.
func (t *Tree) GatekeeperNetwork() (solana.PublicKey, bool) {
	if t.gatekeeperNetwork == nil {
		return solana.PublicKey{}, false
	}
	return *t.gatekeeperNetwork, true
}

// IsPaid reports whether index has already been distributed or claimed.
func (t *Tree) IsPaid(index uint64) (bool, error) {
	// A reclaimed complete tree no longer has a bitmap but every entry was paid.
	if t.status == StatusComplete && index < t.totalNumberRecipients {
		return true, nil
	}
	set, err := t.bitmap.IsSet(index)
	if err != nil {
		return false, ruleError(ErrIndexOutOfBounds, err.Error())
	}
	return set, nil
}

// CheckAuthority rejects any signer other than the tree's authority.
func (t *Tree) CheckAuthority(signer solana.PublicKey) error {
	if !signer.Equals(t.authority) {
		str := fmt.Sprintf("signer %s is not the authority of tree %s", signer, t.batchID)
		return ruleError(ErrSignerNotAuthorized, str)
	}
	return nil
}

// CheckVault rejects a vault that differs from the one the tree was created with.
func (t *Tree) CheckVault(vault solana.PublicKey) error {
	if !vault.Equals(t.tokenVault) {
		str := fmt.Sprintf("token vault %s does not match tree vault %s", vault, t.tokenVault)
		return ruleError(ErrInvalidTokenVault, str)
	}
	return nil
}

func (t *Tree) statusError(op string) error {
	str := fmt.Sprintf("cannot %s distribution in status %s", op, t.status)
	return ruleError(ErrInvalidDistributionStatus, str)
}

// Pause moves an Active tree to Paused.
func (t *Tree) Pause() error {
	if t.status != StatusActive {
		return t.statusError("pause")
	}
	t.status = StatusPaused
	return nil
}

// Resume moves a Paused tree back to Active.
func (t *Tree) Resume() error {
	if t.status != StatusPaused {
		return t.statusError("resume")
	}
	t.status = StatusActive
	return nil
}

// Cancel ends a distribution that is not already Complete or Cancelled.
func (t *Tree) Cancel() error {
	if t.status.Terminal() {
		return t.statusError("cancel")
	}
	t.status = StatusCancelled
	return nil
}

// ExpansionNeeded returns how many words the next Expand would append. It is zero unless the
// tree is waiting on bitmap space.
func (t *Tree) ExpansionNeeded() uint64 {
	if t.status != StatusInsufficientBitmapSpace {
		return 0
	}
	return t.bitmap.ExpansionNeeded()
}

// Expand grows the bitmap by one step and returns the number of words added. The tree becomes
// Active once every recipient has a bit.
func (t *Tree) Expand() (uint64, error) {
	if t.status != StatusInsufficientBitmapSpace {
		return 0, t.statusError("expand")
	}
	added := t.bitmap.ExpansionNeeded()
	if t.bitmap.Expand() {
		t.status = StatusActive
	}
	return added, nil
}

func (t *Tree) checkPayable(index uint64, now int64) error {
	if now < t.startTS {
		str := fmt.Sprintf("distribution starts at %d, current time %d", t.startTS, now)
		return ruleError(ErrDistributionNotStarted, str)
	}
	if now > t.endTS {
		str := fmt.Sprintf("distribution ended at %d, current time %d", t.endTS, now)
		return ruleError(ErrDistributionEnded, str)
	}
	switch t.status {
	case StatusActive:
	case StatusInsufficientBitmapSpace:
		str := fmt.Sprintf("bitmap has %d of %d words, expand before paying",
			t.bitmap.Len(), bitmap.RequiredWords(t.totalNumberRecipients))
		return ruleError(ErrInsufficientBitmapSpace, str)
	default:
		str := fmt.Sprintf("distribution is %s", t.status)
		return ruleError(ErrDistributionNotActive, str)
	}
	paid, err := t.IsPaid(index)
	if err != nil {
		return err
	}
	if paid {
		str := fmt.Sprintf("index %d has already been paid", index)
		return ruleError(ErrAlreadyClaimed, str)
	}
	return nil
}

func (t *Tree) verifyLeaf(index uint64, recipient solana.PublicKey, amount uint64, proof []merkle.Hash) error {
	if !merkle.Verify(proof, t.merkleRoot, Leaf(index, recipient, amount)) {
		str := fmt.Sprintf("proof does not match root for index %d", index)
		return ruleError(ErrInvalidProof, str)
	}
	return nil
}

// ValidateDistribute checks an administrator-initiated payment of amount to recipient.
func (t *Tree) ValidateDistribute(index uint64, recipient solana.PublicKey, amount uint64, proof []merkle.Hash, now int64) error {
	if err := t.checkPayable(index, now); err != nil {
		return err
	}
	return t.verifyLeaf(index, recipient, amount, proof)
}

// ValidateClaim checks a recipient-initiated payment. Gatekeeper passes are checked by the
// caller after this returns nil.
func (t *Tree) ValidateClaim(index uint64, claimant solana.PublicKey, amount uint64, proof []merkle.Hash, now int64) error {
	if err := t.checkPayable(index, now); err != nil {
		return err
	}
	if !t.allowClaims {
		return ruleError(ErrClaimsNotAllowed, "distribution only allows push payments")
	}
	return t.verifyLeaf(index, claimant, amount, proof)
}

// RecordPayment counts index as paid and marks Complete when every recipient is paid. It must
// only follow a successful ValidateDistribute or ValidateClaim.
func (t *Tree) RecordPayment(index uint64) error {
	if t.numberDistributed == math.MaxUint64 {
		return ruleError(ErrMathError, "number distributed overflows")
	}
	next := t.numberDistributed + 1
	if next > t.totalNumberRecipients {
		str := fmt.Sprintf("all %d recipients already paid", t.totalNumberRecipients)
		return ruleError(ErrDistributionAlreadyComplete, str)
	}
	if err := t.bitmap.Set(index); err != nil {
		return ruleError(ErrIndexOutOfBounds, err.Error())
	}
	t.numberDistributed = next
	if t.numberDistributed == t.totalNumberRecipients {
		t.status = StatusComplete
	}
	return nil
}

// Reclaim releases the bitmap of a finished distribution.
func (t *Tree) Reclaim() error {
	if !t.status.Terminal() {
		str := fmt.Sprintf("distribution is %s", t.status)
		return ruleError(ErrDistributionNotComplete, str)
	}
	t.bitmap.Clear()
	return nil
}

// CheckClose reports whether the tree may be deleted.
func (t *Tree) CheckClose(acknowledgeIrreversible bool) error {
	if !acknowledgeIrreversible {
		return ruleError(ErrMustAcknowledgeIrreversible, "closing a distribution must be acknowledged as irreversible")
	}
	if !t.status.Terminal() {
		return t.statusError("close")
	}
	return nil
}

// Clone returns a deep copy for callers that mutate speculatively.
func (t *Tree) Clone() *Tree {
	c := *t
	c.bitmap = t.bitmap.Clone()
	if t.gatekeeperNetwork != nil {
		network := *t.gatekeeperNetwork
		c.gatekeeperNetwork = &network
	}
	return &c
}
