package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/dispatch/api/handlers"
	"github.com/malbeclabs/dispatch/distributor/pkg/custody"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/ledger/memledger"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
	"github.com/malbeclabs/dispatch/distributor/pkg/store"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
	dispatchtesting "github.com/malbeclabs/dispatch/utils/pkg/testing"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var testNow = time.Unix(1_700_000_000, 0)

const (
	testBatchID     = "batch-0001"
	testEntryAmount = 4_000_000_000
	testMinted      = 100_000_000_000
	testLamports    = 1_000_000_000_000
)

type recipient struct {
	key    solana.PrivateKey
	amount uint64
}

func newRecipients(n int) []recipient {
	out := make([]recipient, n)
	for i := range out {
		out[i] = recipient{key: solana.NewWallet().PrivateKey, amount: testEntryAmount}
	}
	return out
}

// proofs builds a sorted-pair tree over recipients and returns its root and the proof of each
// index. Odd nodes are promoted unchanged.
func proofs(recipients []recipient) (merkle.Hash, [][]merkle.Hash) {
	layer := make([]merkle.Hash, len(recipients))
	for i, r := range recipients {
		layer[i] = tree.Leaf(uint64(i), r.key.PublicKey(), r.amount)
	}
	out := make([][]merkle.Hash, len(recipients))
	positions := make([]int, len(recipients))
	for i := range positions {
		positions[i] = i
	}
	for len(layer) > 1 {
		for i, pos := range positions {
			if sibling := pos ^ 1; sibling < len(layer) {
				out[i] = append(out[i], layer[sibling])
			}
			positions[i] = pos / 2
		}
		var next []merkle.Hash
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				next = append(next, layer[i])
				continue
			}
			next = append(next, merkle.HashPair(layer[i], layer[i+1]))
		}
		layer = next
	}
	return layer[0], out
}

func toHashes(proof []merkle.Hash) []handlers.Hash {
	out := make([]handlers.Hash, len(proof))
	for i, p := range proof {
		out[i] = handlers.Hash(p)
	}
	return out
}

type harness struct {
	router    http.Handler
	clock     *clockwork.FakeClock
	ledger    *memledger.Ledger
	store     *store.Memory
	mint      solana.PublicKey
	authority solana.PrivateKey
	// authorityTokens is the authority's token account.
	authorityTokens solana.PublicKey
}

func newHarness(t *testing.T, opts ...func(cfg *handlers.Config)) *harness {
	t.Helper()

	log := dispatchtesting.NewLogger()
	clock := clockwork.NewFakeClockAt(testNow)
	ledger, err := memledger.New(memledger.Config{Logger: log, Clock: clock})
	require.NoError(t, err)
	seed := make([]byte, custody.MinSeedLength)
	copy(seed, "dispatch-api-test-seed")
	custodian, err := custody.New(custody.Config{Seed: seed})
	require.NoError(t, err)

	h := &harness{
		clock:     clock,
		ledger:    ledger,
		store:     store.NewMemory(),
		mint:      solana.NewWallet().PublicKey(),
		authority: solana.NewWallet().PrivateKey,
	}
	h.authorityTokens, err = ledger.MintTo(h.authority.PublicKey(), h.mint, testMinted)
	require.NoError(t, err)
	ledger.Airdrop(h.authority.PublicKey(), testLamports)

	svc, err := distributor.New(distributor.Config{
		Logger:     log,
		Clock:      clock,
		ProgramID:  solana.NewWallet().PublicKey(),
		Mint:       h.mint,
		Decimals:   6,
		FeeWallet:  solana.NewWallet().PublicKey(),
		Store:      h.store,
		Tokens:     ledger,
		Storage:    ledger,
		Gatekeeper: ledger,
		Custody:    custodian,
	})
	require.NoError(t, err)

	cfg := handlers.Config{
		Logger:       log,
		Service:      svc,
		Clock:        clock,
		Lister:       h.store,
		ClaimLimiter: handlers.NewRateLimiter("test", rate.Inf, 1),
		Public:       handlers.PublicConfig{Env: "localnet", Mint: h.mint, Decimals: 6},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	hs, err := handlers.New(cfg)
	require.NoError(t, err)
	h.router = hs.Handler()
	return h
}

func (h *harness) treePath(suffix string) string {
	return "/v1/trees/" + h.authority.PublicKey().String() + "/" + testBatchID + suffix
}

// do serves a request, signing it with key when key is not nil.
func (h *harness) do(t *testing.T, method, path string, key solana.PrivateKey, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if key != nil {
		require.NoError(t, handlers.SignRequest(req, key, h.clock.Now(), raw))
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) initialize(t *testing.T, recipients []recipient) [][]merkle.Hash {
	t.Helper()
	root, paths := proofs(recipients)
	var total uint64
	for _, r := range recipients {
		total += r.amount
	}
	end := testNow.Unix() + 3600
	rec := h.do(t, http.MethodPost, "/v1/trees", h.authority, handlers.InitializeTreeRequest{
		BatchID:               testBatchID,
		MerkleRoot:            handlers.Hash(root),
		Mint:                  h.mint,
		TotalNumberRecipients: uint64(len(recipients)),
		TransferToVaultAmount: total,
		StartTS:               testNow.Unix(),
		EndTS:                 &end,
		AllowClaims:           true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return paths
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// requireError consumes the response body and returns the decoded error.
func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) handlers.ErrorResponse {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[handlers.ErrorResponse](t, rec)
	require.Equal(t, kind, resp.Error)
	require.NotEmpty(t, resp.Message)
	return resp
}
