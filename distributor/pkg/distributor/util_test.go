package distributor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/dispatch/distributor/pkg/custody"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/events"
	"github.com/malbeclabs/dispatch/distributor/pkg/ledger/memledger"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
	"github.com/malbeclabs/dispatch/distributor/pkg/store"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
	dispatchtesting "github.com/malbeclabs/dispatch/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_700_000_000, 0)

const (
	testBatchID       = "batch-0001"
	testEntryAmount   = 4_000_000_000
	testAuthorityMint = 100_000_000_000
	testLamports      = 1_000_000_000_000
)

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

type entry struct {
	recipient solana.PublicKey
	amount    uint64
}

func newEntries(n int) []entry {
	entries := make([]entry, n)
	for i := range entries {
		entries[i] = entry{recipient: newKey(), amount: testEntryAmount}
	}
	return entries
}

func sum(entries []entry) uint64 {
	var total uint64
	for _, e := range entries {
		total += e.amount
	}
	return total
}

// merkleTree builds a sorted-pair tree over entries; odd nodes are promoted unchanged.
type merkleTree struct {
	layers [][]merkle.Hash
}

func newMerkleTree(entries []entry) *merkleTree {
	leaves := make([]merkle.Hash, len(entries))
	for i, e := range entries {
		leaves[i] = tree.Leaf(uint64(i), e.recipient, e.amount)
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
	return &merkleTree{layers: layers}
}

func (m *merkleTree) root() merkle.Hash {
	return m.layers[len(m.layers)-1][0]
}

func (m *merkleTree) proof(index int) []merkle.Hash {
	var proof []merkle.Hash
	for _, layer := range m.layers[:len(m.layers)-1] {
		if sibling := index ^ 1; sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		index /= 2
	}
	return proof
}

type mockArchiver struct {
	ArchiveFunc func(ctx context.Context, address solana.PublicKey, data []byte) error
}

func (m *mockArchiver) Archive(ctx context.Context, address solana.PublicKey, data []byte) error {
	return m.ArchiveFunc(ctx, address, data)
}

type mockVerifier struct {
	VerifyPassFunc func(ctx context.Context, pass, subject, network solana.PublicKey) error
}

func (m *mockVerifier) VerifyPass(ctx context.Context, pass, subject, network solana.PublicKey) error {
	return m.VerifyPassFunc(ctx, pass, subject, network)
}

type failingSink struct{}

func (failingSink) Emit(context.Context, ...events.Event) error {
	return errors.New("sink unavailable")
}

type harness struct {
	svc       *distributor.Service
	ledger    *memledger.Ledger
	store     *store.Memory
	clock     *clockwork.FakeClock
	sink      *events.MemorySink
	custodian *custody.Custodian

	programID solana.PublicKey
	mint      solana.PublicKey
	feeWallet solana.PublicKey
	authority solana.PublicKey
}

func newHarness(t *testing.T, opts ...func(cfg *distributor.Config)) *harness {
	t.Helper()

	log := dispatchtesting.NewLogger()
	clock := clockwork.NewFakeClockAt(testNow)
	ledger, err := memledger.New(memledger.Config{Logger: log, Clock: clock})
	require.NoError(t, err)
	seed := make([]byte, custody.MinSeedLength)
	copy(seed, "dispatch-test-seed")
	custodian, err := custody.New(custody.Config{Seed: seed})
	require.NoError(t, err)

	h := &harness{
		ledger:    ledger,
		store:     store.NewMemory(),
		clock:     clock,
		sink:      events.NewMemorySink(),
		custodian: custodian,
		programID: newKey(),
		mint:      newKey(),
		feeWallet: newKey(),
		authority: newKey(),
	}
	_, err = ledger.MintTo(h.authority, h.mint, testAuthorityMint)
	require.NoError(t, err)
	ledger.Airdrop(h.authority, testLamports)

	cfg := distributor.Config{
		Logger:     log,
		Clock:      clock,
		ProgramID:  h.programID,
		Mint:       h.mint,
		Decimals:   6,
		FeeWallet:  h.feeWallet,
		Store:      h.store,
		Tokens:     ledger,
		Storage:    ledger,
		Gatekeeper: ledger,
		Custody:    custodian,
		Events:     h.sink,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.svc, err = distributor.New(cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) ref() distributor.TreeRef {
	return distributor.TreeRef{Authority: h.authority, BatchID: testBatchID}
}

func (h *harness) admin() distributor.AdminRequest {
	return distributor.AdminRequest{Tree: h.ref(), Signer: h.authority}
}

func (h *harness) initRequest(root merkle.Hash, recipients, amount uint64) distributor.InitializeRequest {
	end := testNow.Unix() + 3600
	return distributor.InitializeRequest{
		Authority:             h.authority,
		BatchID:               testBatchID,
		MerkleRoot:            root,
		Mint:                  h.mint,
		TotalNumberRecipients: recipients,
		TransferToVaultAmount: amount,
		StartTS:               testNow.Unix(),
		EndTS:                 &end,
		AllowClaims:           true,
	}
}

// initialize creates a funded tree over entries.
func (h *harness) initialize(t *testing.T, entries []entry, mutate ...func(req *distributor.InitializeRequest)) (*distributor.InitializeResult, *merkleTree) {
	t.Helper()
	mt := newMerkleTree(entries)
	req := h.initRequest(mt.root(), uint64(len(entries)), sum(entries))
	for _, m := range mutate {
		m(&req)
	}
	res, err := h.svc.Initialize(t.Context(), req)
	require.NoError(t, err)
	return res, mt
}

func (h *harness) balance(t *testing.T, owner solana.PublicKey) uint64 {
	t.Helper()
	ata, _, err := solana.FindAssociatedTokenAddress(owner, h.mint)
	require.NoError(t, err)
	acct, ok := h.ledger.TokenAccount(ata)
	if !ok {
		return 0
	}
	return acct.Amount
}

func (h *harness) claim(mt *merkleTree, entries []entry, index int) distributor.ClaimRequest {
	return distributor.ClaimRequest{
		Tree:     h.ref(),
		Claimant: entries[index].recipient,
		Index:    uint64(index),
		Amount:   entries[index].amount,
		Proof:    mt.proof(index),
	}
}

func (h *harness) distribute(mt *merkleTree, entries []entry, index int) distributor.DistributeRequest {
	return distributor.DistributeRequest{
		Tree:      h.ref(),
		Signer:    h.authority,
		Index:     uint64(index),
		Recipient: entries[index].recipient,
		Amount:    entries[index].amount,
		Proof:     mt.proof(index),
	}
}

func eventTypes(sink *events.MemorySink) []events.Type {
	var types []events.Type
	for _, e := range sink.Events() {
		types = append(types, e.Type)
	}
	return types
}
