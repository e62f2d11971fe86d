package handlers

import (
	"context"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

type InitializeTreeRequest struct {
	BatchID               string            `json:"batch_id"`
	MerkleRoot            Hash              `json:"merkle_root"`
	Mint                  solana.PublicKey  `json:"mint"`
	TotalNumberRecipients uint64            `json:"total_number_recipients"`
	TransferToVaultAmount uint64            `json:"transfer_to_vault_amount"`
	StartTS               int64             `json:"start_ts"`
	EndTS                 *int64            `json:"end_ts,omitempty"`
	AllowClaims           bool              `json:"allow_claims"`
	GatekeeperNetwork     *solana.PublicKey `json:"gatekeeper_network,omitempty"`
	TokenSource           *solana.PublicKey `json:"token_source,omitempty"`
}

type InitializeTreeResponse struct {
	Address     solana.PublicKey `json:"address"`
	TokenVault  solana.PublicKey `json:"token_vault"`
	Fee         uint64           `json:"fee"`
	Status      tree.Status      `json:"status"`
	BitmapWords int              `json:"bitmap_words"`
	Signature   string           `json:"signature"`
	Pending     bool             `json:"pending,omitempty"`
}

// InitializeTree creates a distribution owned by the request signer.
func (h *Handlers) InitializeTree(w http.ResponseWriter, r *http.Request) {
	signer, _ := SignerFromContext(r.Context())

	var req InitializeTreeRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	res, err := h.cfg.Service.Initialize(r.Context(), distributor.InitializeRequest{
		Authority:             signer,
		BatchID:               req.BatchID,
		MerkleRoot:            merkle.Hash(req.MerkleRoot),
		Mint:                  req.Mint,
		TotalNumberRecipients: req.TotalNumberRecipients,
		TransferToVaultAmount: req.TransferToVaultAmount,
		StartTS:               req.StartTS,
		EndTS:                 req.EndTS,
		AllowClaims:           req.AllowClaims,
		GatekeeperNetwork:     req.GatekeeperNetwork,
		TokenSource:           req.TokenSource,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, InitializeTreeResponse{
		Address:     res.Address,
		TokenVault:  res.TokenVault,
		Fee:         res.Fee,
		Status:      res.Status,
		BitmapWords: res.BitmapWords,
		Signature:   res.Signature.String(),
		Pending:     res.Pending,
	})
}

func (h *Handlers) GetTree(w http.ResponseWriter, r *http.Request) {
	ref, err := treeRef(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	view, err := h.cfg.Service.Get(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type ClaimStatusResponse struct {
	Index uint64 `json:"index"`
	Paid  bool   `json:"paid"`
}

// GetClaim reports whether an entry has been paid.
func (h *Handlers) GetClaim(w http.ResponseWriter, r *http.Request) {
	ref, err := treeRef(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	index, err := parseUint(chi.URLParam(r, "index"), "index")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	paid, err := h.cfg.Service.IsPaid(r.Context(), ref, index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimStatusResponse{Index: index, Paid: paid})
}

type DistributeRequest struct {
	Index     uint64           `json:"index"`
	Recipient solana.PublicKey `json:"recipient"`
	Amount    uint64           `json:"amount"`
	Proof     []Hash           `json:"proof"`
}

type ClaimRequest struct {
	Index        uint64            `json:"index"`
	Amount       uint64            `json:"amount"`
	Proof        []Hash            `json:"proof"`
	GatewayToken *solana.PublicKey `json:"gateway_token,omitempty"`
}

type PaymentResponse struct {
	Address           solana.PublicKey `json:"address"`
	Index             uint64           `json:"index"`
	Recipient         solana.PublicKey `json:"recipient"`
	Amount            uint64           `json:"amount"`
	NumberDistributed uint64           `json:"number_distributed"`
	Status            tree.Status      `json:"status"`
	Signature         string           `json:"signature"`
	Pending           bool             `json:"pending,omitempty"`
}

func paymentResponse(res *distributor.PaymentResult) PaymentResponse {
	return PaymentResponse{
		Address:           res.Address,
		Index:             res.Index,
		Recipient:         res.Recipient,
		Amount:            res.Amount,
		NumberDistributed: res.NumberDistributed,
		Status:            res.Status,
		Signature:         res.Signature.String(),
		Pending:           res.Pending,
	}
}

// DistributePayment pushes an entry to its recipient. The signer must be the tree authority.
func (h *Handlers) DistributePayment(w http.ResponseWriter, r *http.Request) {
	ref, err := treeRef(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req DistributeRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	signer, _ := SignerFromContext(r.Context())

	res, err := h.cfg.Service.Distribute(r.Context(), distributor.DistributeRequest{
		Tree:      ref,
		Signer:    signer,
		Index:     req.Index,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Proof:     proofHashes(req.Proof),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse(res))
}

// ClaimPayment pays an entry to the signer.
func (h *Handlers) ClaimPayment(w http.ResponseWriter, r *http.Request) {
	ref, err := treeRef(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req ClaimRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	signer, _ := SignerFromContext(r.Context())

	res, err := h.cfg.Service.Claim(r.Context(), distributor.ClaimRequest{
		Tree:         ref,
		Claimant:     signer,
		Index:        req.Index,
		Amount:       req.Amount,
		Proof:        proofHashes(req.Proof),
		GatewayToken: req.GatewayToken,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse(res))
}

// adminRequest reads the tree and signer of an administrator operation.
func (h *Handlers) adminRequest(w http.ResponseWriter, r *http.Request) (distributor.AdminRequest, bool) {
	ref, err := treeRef(r)
	if err != nil {
		badRequest(w, err.Error())
		return distributor.AdminRequest{}, false
	}
	signer, _ := SignerFromContext(r.Context())
	return distributor.AdminRequest{Tree: ref, Signer: signer}, true
}

type ExpandResponse struct {
	Address     solana.PublicKey `json:"address"`
	Added       uint64           `json:"added"`
	BitmapWords int              `json:"bitmap_words"`
	Status      tree.Status      `json:"status"`
}

// ExpandTree grows the bitmap of the tree by one step.
func (h *Handlers) ExpandTree(w http.ResponseWriter, r *http.Request) {
	req, ok := h.adminRequest(w, r)
	if !ok {
		return
	}
	res, err := h.cfg.Service.Expand(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpandResponse{
		Address:     res.Address,
		Added:       res.Added,
		BitmapWords: res.BitmapWords,
		Status:      res.Status,
	})
}

type StatusResponse struct {
	Status tree.Status `json:"status"`
}

func (h *Handlers) PauseTree(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.cfg.Service.Pause)
}

func (h *Handlers) ResumeTree(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.cfg.Service.Resume)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, req distributor.AdminRequest) (tree.Status, error)) {
	req, ok := h.adminRequest(w, r)
	if !ok {
		return
	}
	status, err := op(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: status})
}

type CancelResponse struct {
	Address           solana.PublicKey `json:"address"`
	Refunded          uint64           `json:"refunded"`
	NumberDistributed uint64           `json:"number_distributed"`
	Signature         string           `json:"signature,omitempty"`
	Pending           bool             `json:"pending,omitempty"`
}

func (h *Handlers) CancelTree(w http.ResponseWriter, r *http.Request) {
	req, ok := h.adminRequest(w, r)
	if !ok {
		return
	}
	res, err := h.cfg.Service.Cancel(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := CancelResponse{
		Address:           res.Address,
		Refunded:          res.Refunded,
		NumberDistributed: res.NumberDistributed,
		Pending:           res.Pending,
	}
	if res.Signature != (solana.Signature{}) {
		resp.Signature = res.Signature.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type ReclaimResponse struct {
	AccountSize int `json:"account_size"`
}

// ReclaimTree shrinks a finished tree to its header.
func (h *Handlers) ReclaimTree(w http.ResponseWriter, r *http.Request) {
	req, ok := h.adminRequest(w, r)
	if !ok {
		return
	}
	size, err := h.cfg.Service.Reclaim(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReclaimResponse{AccountSize: size})
}

type CloseRequest struct {
	AcknowledgeIrreversible bool `json:"acknowledge_irreversible"`
}

// CloseTree deletes a finished tree. The body must acknowledge that this cannot be undone.
func (h *Handlers) CloseTree(w http.ResponseWriter, r *http.Request) {
	req, ok := h.adminRequest(w, r)
	if !ok {
		return
	}
	var body CloseRequest
	if err := decodeBody(w, r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.cfg.Service.Close(r.Context(), req, body.AcknowledgeIrreversible); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
