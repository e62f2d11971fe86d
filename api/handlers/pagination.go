package handlers

import (
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/dispatch/api/handlers/dberror"
	"github.com/malbeclabs/dispatch/distributor/pkg/store"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type PaginationParams struct {
	Limit  int
	Offset int
}

type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func ParsePagination(r *http.Request, defaultLimit int) PaginationParams {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}

	limit := defaultLimit
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, MaxLimit)
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return PaginationParams{Limit: limit, Offset: offset}
}

// page returns the window of items selected by p.
func page[T any](items []T, p PaginationParams) PaginatedResponse[T] {
	start := min(p.Offset, len(items))
	end := min(start+p.Limit, len(items))
	window := items[start:end]
	if window == nil {
		window = []T{}
	}
	return PaginatedResponse[T]{Items: window, Total: len(items), Limit: p.Limit, Offset: p.Offset}
}

type TreeSummary struct {
	Address solana.PublicKey `json:"address"`
	BatchID string           `json:"batch_id"`
	Status  string           `json:"status"`
}

// ListTrees returns the trees of an authority, newest first.
func (h *Handlers) ListTrees(w http.ResponseWriter, r *http.Request) {
	authority, err := solana.PublicKeyFromBase58(chi.URLParam(r, "authority"))
	if err != nil {
		badRequest(w, "invalid authority: "+err.Error())
		return
	}
	summaries, err := dberror.Retry(r.Context(), dberror.DefaultRetryConfig(), func() ([]store.Summary, error) {
		return h.cfg.Lister.ListByAuthority(r.Context(), authority)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]TreeSummary, len(summaries))
	for i, s := range summaries {
		items[i] = TreeSummary{Address: s.Address, BatchID: s.BatchID, Status: s.Status}
	}
	writeJSON(w, http.StatusOK, page(items, ParsePagination(r, DefaultLimit)))
}
