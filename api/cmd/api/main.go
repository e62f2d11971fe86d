package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/dispatch/api/handlers"
	"github.com/malbeclabs/dispatch/api/metrics"
	"github.com/malbeclabs/dispatch/api/server"
	"github.com/malbeclabs/dispatch/distributor/pkg/config"
	"github.com/malbeclabs/dispatch/distributor/pkg/distributor"
	"github.com/malbeclabs/dispatch/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds the resolved command line and environment configuration.
type flags struct {
	verbose         bool
	listenAddr      string
	metricsAddr     string
	shutdownTimeout time.Duration
	allowedOrigins  []string
	trustProxy      bool

	env                   string
	mint                  string
	rpcURL                string
	feesWallet            string
	requireGatekeeperPass bool

	ledger        string
	custodySeed   string
	delegateKey   string
	payerKey      string
	minPayerSOL   float64
	memoryAirdrop []string

	store   string
	migrate bool

	clickhouseAddr     string
	clickhouseDatabase string
	clickhouseUsername string
	clickhousePassword string
	clickhouseSecure   bool

	slackWebhookURL string
	archiveBucket   string
	archivePrefix   string
	awsRegion       string

	sentryDSN string
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func parseFlags() *flags {
	f := &flags{}
	flag.BoolVar(&f.verbose, "verbose", false, "enable verbose (debug) logging")
	flag.StringVar(&f.listenAddr, "listen-addr", defaultListenAddr, "address to serve the API on (or set LISTEN_ADDR env var)")
	flag.StringVar(&f.metricsAddr, "metrics-addr", defaultMetricsAddr, "address to serve prometheus metrics on, empty to disable (or set METRICS_ADDR env var)")
	flag.DurationVar(&f.shutdownTimeout, "shutdown-timeout", 15*time.Second, "maximum time to wait for in-flight requests during shutdown")
	flag.StringSliceVar(&f.allowedOrigins, "allowed-origins", nil, "CORS allowed origins, empty allows any")
	flag.BoolVar(&f.trustProxy, "trust-proxy", false, "take client IPs from X-Forwarded-For / X-Real-IP, only behind a proxy that sets them (or set TRUST_PROXY env var)")

	flag.StringVar(&f.env, "env", string(config.EnvLocalnet), "network environment: localnet, devnet, mainnet-beta (or set DISPATCH_ENV env var)")
	flag.StringVar(&f.mint, "mint", "", "override the environment's mint (or set MINT env var)")
	flag.StringVar(&f.rpcURL, "rpc-url", "", "override the environment's Solana RPC URL (or set SOLANA_RPC_URL env var)")
	flag.StringVar(&f.feesWallet, "fees-wallet", "", "wallet receiving protocol fees (or set FEES_WALLET env var)")
	flag.BoolVar(&f.requireGatekeeperPass, "require-gatekeeper-pass", true, "require identity passes on claims from trees naming a gatekeeper network (or set REQUIRE_GATEKEEPER_PASS env var)")

	flag.StringVar(&f.ledger, "ledger", "memory", "token ledger: memory or solana (or set LEDGER env var)")
	flag.StringVar(&f.custodySeed, "custody-seed", "", "hex master seed for vault custody keys (or set CUSTODY_SEED env var)")
	flag.StringVar(&f.delegateKey, "delegate-key", "", "base58 key approved as token delegate by administrators (or set DELEGATE_KEY env var)")
	flag.StringVar(&f.payerKey, "payer-key", "", "base58 key paying transaction fees, defaults to the delegate key (or set PAYER_KEY env var)")
	flag.Float64Var(&f.minPayerSOL, "min-payer-sol", 0.05, "payer balance below which the API reports not ready")
	flag.StringSliceVar(&f.memoryAirdrop, "memory-airdrop", nil, "wallets funded with tokens and SOL at startup of the memory ledger")

	flag.StringVar(&f.store, "store", "memory", "tree store: memory or postgres (or set STORE env var)")
	flag.BoolVar(&f.migrate, "migrate", false, "run postgres migrations at startup")

	flag.StringVar(&f.clickhouseAddr, "clickhouse-addr", "", "ClickHouse address (host:port) for distribution events, empty to disable (or set CLICKHOUSE_ADDR_TCP env var)")
	flag.StringVar(&f.clickhouseDatabase, "clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	flag.StringVar(&f.clickhouseUsername, "clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	flag.StringVar(&f.clickhousePassword, "clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	flag.BoolVar(&f.clickhouseSecure, "clickhouse-secure", false, "enable TLS for ClickHouse (or set CLICKHOUSE_SECURE=true env var)")

	flag.StringVar(&f.slackWebhookURL, "slack-webhook-url", "", "Slack incoming webhook for lifecycle notifications (or set SLACK_WEBHOOK_URL env var)")
	flag.StringVar(&f.archiveBucket, "archive-bucket", "", "S3 bucket receiving trees before they are closed (or set ARCHIVE_BUCKET env var)")
	flag.StringVar(&f.archivePrefix, "archive-prefix", "dispatch", "S3 key prefix for archived trees (or set ARCHIVE_PREFIX env var)")
	flag.StringVar(&f.awsRegion, "aws-region", "", "AWS region for the archive bucket (or set AWS_REGION env var)")

	flag.StringVar(&f.sentryDSN, "sentry-dsn", "", "Sentry DSN, empty to disable (or set SENTRY_DSN env var)")

	flag.Parse()

	overrideString(&f.listenAddr, "LISTEN_ADDR")
	overrideString(&f.metricsAddr, "METRICS_ADDR")
	overrideBool(&f.trustProxy, "TRUST_PROXY")
	overrideString(&f.env, "DISPATCH_ENV")
	overrideString(&f.mint, "MINT")
	overrideString(&f.rpcURL, "SOLANA_RPC_URL")
	overrideString(&f.feesWallet, "FEES_WALLET")
	overrideBool(&f.requireGatekeeperPass, "REQUIRE_GATEKEEPER_PASS")
	overrideString(&f.ledger, "LEDGER")
	overrideString(&f.custodySeed, "CUSTODY_SEED")
	overrideString(&f.delegateKey, "DELEGATE_KEY")
	overrideString(&f.payerKey, "PAYER_KEY")
	overrideString(&f.store, "STORE")
	overrideString(&f.clickhouseAddr, "CLICKHOUSE_ADDR_TCP")
	overrideString(&f.clickhouseDatabase, "CLICKHOUSE_DATABASE")
	overrideString(&f.clickhouseUsername, "CLICKHOUSE_USERNAME")
	overrideString(&f.clickhousePassword, "CLICKHOUSE_PASSWORD")
	overrideBool(&f.clickhouseSecure, "CLICKHOUSE_SECURE")
	overrideString(&f.slackWebhookURL, "SLACK_WEBHOOK_URL")
	overrideString(&f.archiveBucket, "ARCHIVE_BUCKET")
	overrideString(&f.archivePrefix, "ARCHIVE_PREFIX")
	overrideString(&f.awsRegion, "AWS_REGION")
	overrideString(&f.sentryDSN, "SENTRY_DSN")
	return f
}

func run() error {
	// A missing .env file is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	f := parseFlags()

	log := logger.New(f.verbose)

	env, err := config.EnvironmentFor(f.env)
	if err != nil {
		return err
	}
	if f.rpcURL != "" {
		env.RPCURL = f.rpcURL
	}

	if f.sentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         f.sentryDSN,
			Environment: string(env.Env),
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized", "environment", env.Env)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clock := clockwork.NewRealClock()
	deps, err := buildDeps(ctx, log, f, &env, clock)
	if err != nil {
		return err
	}
	defer deps.close()

	svc, err := distributor.New(deps.serviceConfig)
	if err != nil {
		return fmt.Errorf("failed to create distributor: %w", err)
	}

	api, err := handlers.New(handlers.Config{
		Logger:  logger.Component(log, "api"),
		Service: svc,
		Clock:   clock,
		Lister:  deps.lister,
		Replay:  deps.replay,
		Public: handlers.PublicConfig{
			Env:                   string(env.Env),
			ProgramID:             env.ProgramID,
			Mint:                  env.Mint,
			Decimals:              env.Decimals,
			FeeWallet:             deps.serviceConfig.FeeWallet,
			GatewayProgram:        env.GatewayProgram,
			RequireGatekeeperPass: f.requireGatekeeperPass,
			SentryEnvironment:     string(env.Env),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create api handlers: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      f.listenAddr,
		ShutdownTimeout: f.shutdownTimeout,
		VersionInfo:     handlers.VersionInfo{Version: version, Commit: commit, Date: date},
		API:             api,
		AllowedOrigins:  f.allowedOrigins,
		TrustProxy:      f.trustProxy,
		ReadinessChecks: deps.readiness,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	log.Info("dispatch api starting",
		"version", version, "env", env.Env, "ledger", f.ledger, "store", f.store,
		"mint", env.Mint, "program_id", env.ProgramID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if f.metricsAddr != "" {
		g.Go(func() error {
			return runMetricsServer(gctx, log, f.metricsAddr)
		})
	}
	return g.Wait()
}

func runMetricsServer(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve prometheus metrics: %w", err)
	}
	return nil
}
