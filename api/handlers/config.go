package handlers

import (
	"net/http"

	"github.com/gagliardetto/solana-go"
)

// PublicConfig holds configuration that is safe to expose to clients.
type PublicConfig struct {
	Env                   string           `json:"env"`
	ProgramID             solana.PublicKey `json:"program_id"`
	Mint                  solana.PublicKey `json:"mint"`
	Decimals              uint8            `json:"decimals"`
	FeeWallet             solana.PublicKey `json:"fee_wallet"`
	GatewayProgram        solana.PublicKey `json:"gateway_program"`
	RequireGatekeeperPass bool             `json:"require_gatekeeper_pass"`
	MaxSkewSeconds        int64            `json:"max_skew_seconds"`
	SentryEnvironment     string           `json:"sentry_environment,omitempty"`
}

// GetConfig returns public configuration for clients.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg.Public
	cfg.MaxSkewSeconds = int64(h.cfg.MaxSkew.Seconds())
	writeJSON(w, http.StatusOK, cfg)
}

// GetFeeQuote returns the protocol fee for the amount query parameter.
func (h *Handlers) GetFeeQuote(w http.ResponseWriter, r *http.Request) {
	amount, err := parseUint(r.URL.Query().Get("amount"), "amount")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	quote, err := h.cfg.Service.QuoteFee(amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
