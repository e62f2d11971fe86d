package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	apiconfig "github.com/malbeclabs/dispatch/api/config"
	"github.com/malbeclabs/dispatch/api/handlers"
	"github.com/malbeclabs/dispatch/api/replay"
	"github.com/malbeclabs/dispatch/api/server"
	apisolana "github.com/malbeclabs/dispatch/api/solana"
	"github.com/malbeclabs/dispatch/distributor/pkg/archive"
	"github.com/malbeclabs/dispatch/distributor/pkg/clickhouse"
	"github.com/malbeclabs/dispatch/distributor/pkg/config"
	"github.com/malbeclabs/dispatch/distributor/pkg/custody"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/distributor/pkg/events"
	"github.com/malbeclabs/dispatch/distributor/pkg/gatekeeper"
	"github.com/malbeclabs/dispatch/distributor/pkg/ledger/memledger"
	"github.com/malbeclabs/dispatch/distributor/pkg/ledger/solledger"
	"github.com/malbeclabs/dispatch/distributor/pkg/notify"
	"github.com/malbeclabs/dispatch/distributor/pkg/store"
	"github.com/malbeclabs/dispatch/utils/pkg/logger"
)

const (
	ledgerMemory = "memory"
	ledgerSolana = "solana"

	storeMemory   = "memory"
	storePostgres = "postgres"

	// Amounts credited to each --memory-airdrop wallet.
	airdropTokens   = 1_000_000_000_000
	airdropLamports = 100 * apisolana.LamportsPerSOL
)

// deps are the collaborators of the distributor, built from flags.
type deps struct {
	serviceConfig distributor.Config
	lister        handlers.TreeLister
	// replay is nil unless request signatures are shared through postgres.
	replay    handlers.ReplayGuard
	readiness map[string]server.ReadinessCheck
	closers   []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDeps(ctx context.Context, log *slog.Logger, f *flags, env *config.Environment, clock clockwork.Clock) (_ *deps, err error) {
	d := &deps{readiness: make(map[string]server.ReadinessCheck)}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	if f.ledger != ledgerMemory && f.ledger != ledgerSolana {
		return nil, fmt.Errorf("unknown ledger %q, expected %s or %s", f.ledger, ledgerMemory, ledgerSolana)
	}
	if f.store != storeMemory && f.store != storePostgres {
		return nil, fmt.Errorf("unknown store %q, expected %s or %s", f.store, storeMemory, storePostgres)
	}

	if f.feesWallet == "" {
		return nil, errors.New("--fees-wallet is required")
	}
	feeWallet, err := solana.PublicKeyFromBase58(f.feesWallet)
	if err != nil {
		return nil, fmt.Errorf("invalid fees wallet: %w", err)
	}
	if f.mint != "" {
		env.Mint, err = solana.PublicKeyFromBase58(f.mint)
		if err != nil {
			return nil, fmt.Errorf("invalid mint: %w", err)
		}
	}

	custodian, err := newCustodian(log, f)
	if err != nil {
		return nil, err
	}

	cfg := distributor.Config{
		Logger:                logger.Component(log, "distributor"),
		Clock:                 clock,
		ProgramID:             env.ProgramID,
		Mint:                  env.Mint,
		Decimals:              env.Decimals,
		FeeWallet:             feeWallet,
		RequireGatekeeperPass: f.requireGatekeeperPass,
		Custody:               custodian,
		Events:                events.NoopSink{},
	}

	var pool *pgxpool.Pool
	switch f.store {
	case storePostgres:
		pool, err = apiconfig.OpenPostgres(ctx, log, apiconfig.PgConfigFromEnv(), f.migrate)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		d.readiness["postgres"] = pool.Ping

		pg, err := store.NewPostgres(store.PostgresConfig{Logger: logger.Component(log, "store"), Pool: pool})
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		cfg.Store = pg
		d.lister = pg

		d.replay, err = replay.NewPostgres(replay.PostgresConfig{Logger: logger.Component(log, "replay"), Pool: pool, Clock: clock})
		if err != nil {
			return nil, fmt.Errorf("failed to create replay guard: %w", err)
		}
	default:
		mem := store.NewMemory()
		cfg.Store = mem
		d.lister = mem
	}

	switch f.ledger {
	case ledgerSolana:
		if pool == nil {
			return nil, errors.New("the solana ledger requires --store=postgres for storage accounting")
		}
		if err := wireSolanaLedger(d, &cfg, log, f, env, custodian, pool, clock); err != nil {
			return nil, err
		}
	default:
		if err := wireMemoryLedger(&cfg, log, f, env, clock); err != nil {
			return nil, err
		}
	}

	if f.clickhouseAddr != "" {
		chCfg := clickhouse.Config{
			Logger:   logger.Component(log, "clickhouse"),
			Addr:     f.clickhouseAddr,
			Database: f.clickhouseDatabase,
			Username: f.clickhouseUsername,
			Password: f.clickhousePassword,
			Secure:   f.clickhouseSecure,
		}
		ch, err := clickhouse.NewClient(ctx, chCfg)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = ch.Close() })
		sink, err := events.NewClickHouseSink(events.ClickHouseSinkConfig{Logger: chCfg.Logger, ClickHouse: ch, Clock: clock})
		if err != nil {
			return nil, fmt.Errorf("failed to create event sink: %w", err)
		}
		cfg.Events = sink
	}

	if f.slackWebhookURL != "" {
		notifier, err := notify.NewSlackNotifier(notify.SlackConfig{
			Logger:     logger.Component(log, "notify"),
			WebhookURL: f.slackWebhookURL,
			Env:        string(env.Env),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create slack notifier: %w", err)
		}
		cfg.Notifier = notifier
	}

	if f.archiveBucket != "" {
		client, err := archive.NewS3Client(ctx, f.awsRegion)
		if err != nil {
			return nil, err
		}
		archiver, err := archive.NewS3Archiver(archive.S3Config{
			Logger: logger.Component(log, "archive"),
			Client: client,
			Bucket: f.archiveBucket,
			Prefix: f.archivePrefix,
			Clock:  clock,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		cfg.Archiver = archiver
	}

	d.serviceConfig = cfg
	return d, nil
}

func newCustodian(log *slog.Logger, f *flags) (*custody.Custodian, error) {
	var seed []byte
	if f.custodySeed != "" {
		var err error
		seed, err = hex.DecodeString(f.custodySeed)
		if err != nil {
			return nil, fmt.Errorf("invalid custody seed: %w", err)
		}
	} else {
		if f.ledger == ledgerSolana {
			return nil, errors.New("--custody-seed is required with the solana ledger")
		}
		seed = make([]byte, custody.MinSeedLength)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("failed to generate custody seed: %w", err)
		}
		log.Warn("custody seed not set, using an ephemeral seed; vaults are unrecoverable after restart")
	}

	var delegate solana.PrivateKey
	if f.delegateKey != "" {
		var err error
		delegate, err = solana.PrivateKeyFromBase58(f.delegateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid delegate key: %w", err)
		}
	}

	custodian, err := custody.New(custody.Config{Seed: seed, Delegate: delegate})
	if err != nil {
		return nil, fmt.Errorf("failed to create custodian: %w", err)
	}
	return custodian, nil
}

func wireMemoryLedger(cfg *distributor.Config, log *slog.Logger, f *flags, env *config.Environment, clock clockwork.Clock) error {
	ledger, err := memledger.New(memledger.Config{Logger: logger.Component(log, "memledger"), Clock: clock})
	if err != nil {
		return fmt.Errorf("failed to create memory ledger: %w", err)
	}
	for _, wallet := range f.memoryAirdrop {
		owner, err := solana.PublicKeyFromBase58(wallet)
		if err != nil {
			return fmt.Errorf("invalid airdrop wallet %q: %w", wallet, err)
		}
		if _, err := ledger.MintTo(owner, env.Mint, airdropTokens); err != nil {
			return fmt.Errorf("failed to fund %s: %w", owner, err)
		}
		ledger.Airdrop(owner, airdropLamports)
		log.Info("memledger: funded wallet", "wallet", owner, "tokens", airdropTokens, "lamports", airdropLamports)
	}
	cfg.Tokens = ledger
	cfg.Storage = ledger
	cfg.Gatekeeper = ledger
	return nil
}

func wireSolanaLedger(
	d *deps,
	cfg *distributor.Config,
	log *slog.Logger,
	f *flags,
	env *config.Environment,
	custodian *custody.Custodian,
	pool *pgxpool.Pool,
	clock clockwork.Clock,
) error {
	payerKey := f.payerKey
	if payerKey == "" {
		payerKey = f.delegateKey
	}
	if payerKey == "" {
		return errors.New("--payer-key or --delegate-key is required with the solana ledger")
	}
	payer, err := solana.PrivateKeyFromBase58(payerKey)
	if err != nil {
		return fmt.Errorf("invalid payer key: %w", err)
	}

	client := rpc.New(env.RPCURL)
	d.closers = append(d.closers, func() { _ = client.Close() })

	transferer, err := solledger.NewTransferer(solledger.TransfererConfig{
		Logger: logger.Component(log, "solledger"),
		RPC:    client,
		Keys:   custodian,
		Payer:  payer,
		Clock:  clock,
	})
	if err != nil {
		return fmt.Errorf("failed to create transferer: %w", err)
	}
	storage, err := solledger.NewStorage(solledger.StorageConfig{Logger: logger.Component(log, "solledger"), Pool: pool})
	if err != nil {
		return fmt.Errorf("failed to create storage accounting: %w", err)
	}
	verifier, err := gatekeeper.NewRPCVerifier(gatekeeper.RPCVerifierConfig{
		Logger:    logger.Component(log, "gatekeeper"),
		RPC:       client,
		ProgramID: env.GatewayProgram,
		Clock:     clock,
	})
	if err != nil {
		return fmt.Errorf("failed to create gatekeeper verifier: %w", err)
	}
	health, err := apisolana.NewHealthChecker(apisolana.HealthCheckerConfig{
		Logger:           logger.Component(log, "solana"),
		RPC:              client,
		Payer:            payer.PublicKey(),
		MinPayerLamports: apisolana.SOLToLamports(f.minPayerSOL),
	})
	if err != nil {
		return fmt.Errorf("failed to create rpc health checker: %w", err)
	}
	d.readiness["solana"] = health.Check

	cfg.Tokens = transferer
	cfg.Storage = storage
	cfg.Gatekeeper = verifier
	log.Info("solledger: using solana rpc", "url", env.RPCURL, "payer", payer.PublicKey())
	return nil
}
