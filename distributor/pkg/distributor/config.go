package distributor

import (
	"errors"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/dispatch/distributor/pkg/events"
	"github.com/malbeclabs/dispatch/distributor/pkg/fee"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	ProgramID solana.PublicKey
	Mint      solana.PublicKey
	Decimals  uint8
	FeeWallet solana.PublicKey
	// FeeSchedule defaults to fee.DefaultSchedule. A schedule without Max is capped at
	// fee.MaxFeeAmount.
	FeeSchedule fee.Schedule

	// RequireGatekeeperPass enables identity pass checks on claims from trees that name a
	// gatekeeper network.
	RequireGatekeeperPass bool

	Store      Store
	Tokens     TokenTransferer
	Storage    AccountStorage
	Gatekeeper GatekeeperVerifier
	Custody    Custody

	Events   events.Sink
	Notifier Notifier
	Archiver Archiver
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Tokens == nil {
		return errors.New("token transferer is required")
	}
	if cfg.Storage == nil {
		return errors.New("account storage is required")
	}
	if cfg.Custody == nil {
		return errors.New("custody is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
	}
	if cfg.FeeWallet.IsZero() {
		return errors.New("fee wallet is required")
	}
	if cfg.RequireGatekeeperPass && cfg.Gatekeeper == nil {
		return errors.New("gatekeeper verifier is required when passes are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FeeSchedule.Tiers == nil {
		cfg.FeeSchedule = fee.DefaultSchedule
	}
	if cfg.FeeSchedule.Max == 0 {
		cfg.FeeSchedule.Max = fee.MaxFeeAmount
	}
	if cfg.Events == nil {
		cfg.Events = events.NoopSink{}
	}
	return nil
}
