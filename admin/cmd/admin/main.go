package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/dispatch/admin/internal/admin"
	apiconfig "github.com/malbeclabs/dispatch/api/config"
	"github.com/malbeclabs/dispatch/distributor/pkg/clickhouse"
	"github.com/malbeclabs/dispatch/distributor/pkg/config"
	"github.com/malbeclabs/dispatch/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFlag := flag.String("env", string(config.EnvMainnetBeta), "environment whose program id is used (or set DISPATCH_ENV env var)")

	// PostgreSQL configuration
	pgHostFlag := flag.String("postgres-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("postgres-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("postgres-database", "", "PostgreSQL database (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("postgres-username", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("postgres-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", clickhouse.DefaultDatabase, "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL migrations")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL migration status")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse event migrations")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show ClickHouse event migration status")
	resetEventsFlag := flag.Bool("reset-events", false, "Drop the ClickHouse event tables (fact_*) and migration history")
	deriveAddressFlag := flag.Bool("derive-address", false, "Print the tree address for --authority and --batch-id")
	inspectFlag := flag.Bool("inspect", false, "Print the stored tree for --authority and --batch-id")
	listFlag := flag.Bool("list", false, "List the stored trees created by --authority")
	feeQuoteFlag := flag.Bool("fee-quote", false, "Print the protocol fee for --amount")

	// Command options
	authorityFlag := flag.String("authority", "", "tree authority public key (base58)")
	batchIDFlag := flag.String("batch-id", "", "tree batch id")
	amountFlag := flag.Uint64("amount", 0, "funding amount in base units")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	log := logger.New(*verboseFlag)

	if envValue := os.Getenv("DISPATCH_ENV"); envValue != "" {
		*envFlag = envValue
	}

	// Override PostgreSQL flags with environment variables if set
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		*pgHostFlag = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		*pgPortFlag = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		*pgDatabaseFlag = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		*pgUsernameFlag = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		*pgPasswordFlag = v
	}
	if v := os.Getenv("POSTGRES_SSLMODE"); v != "" {
		*pgSSLModeFlag = v
	}

	// Override ClickHouse flags with environment variables if set
	if v := os.Getenv("CLICKHOUSE_ADDR_TCP"); v != "" {
		*clickhouseAddrFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		*clickhouseDatabaseFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_USERNAME"); v != "" {
		*clickhouseUsernameFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		*clickhousePasswordFlag = v
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgCfg := apiconfig.PgConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}
	chCfg := clickhouse.Config{
		Logger:   log,
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}

	environment, err := config.EnvironmentFor(*envFlag)
	if err != nil {
		return err
	}

	treeKey := func(cmd string) (solana.PublicKey, error) {
		if *authorityFlag == "" {
			return solana.PublicKey{}, fmt.Errorf("--authority is required for %s", cmd)
		}
		authority, err := solana.PublicKeyFromBase58(*authorityFlag)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid --authority: %w", err)
		}
		return authority, nil
	}

	// Execute commands
	switch {
	case *pgMigrateFlag:
		return admin.PgMigrateUp(log, pgCfg)

	case *pgMigrateDownFlag:
		return admin.PgMigrateDown(log, pgCfg)

	case *pgMigrateStatusFlag:
		return admin.PgMigrateStatus(log, pgCfg)

	case *clickhouseMigrateFlag:
		if err := chCfg.Validate(); err != nil {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate: %w", err)
		}
		return clickhouse.Up(ctx, log, chCfg.MigrationConfig())

	case *clickhouseMigrateStatusFlag:
		if err := chCfg.Validate(); err != nil {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-status: %w", err)
		}
		return clickhouse.MigrationStatus(ctx, log, chCfg.MigrationConfig())

	case *resetEventsFlag:
		if err := chCfg.Validate(); err != nil {
			return fmt.Errorf("--clickhouse-addr is required for --reset-events: %w", err)
		}
		return admin.ResetEvents(ctx, log, chCfg, admin.ResetOptions{
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})

	case *deriveAddressFlag:
		authority, err := treeKey("--derive-address")
		if err != nil {
			return err
		}
		return admin.DeriveAddress(os.Stdout, environment.ProgramID, authority, *batchIDFlag)

	case *inspectFlag:
		authority, err := treeKey("--inspect")
		if err != nil {
			return err
		}
		return admin.Inspect(ctx, log, pgCfg, environment.ProgramID, authority, *batchIDFlag, os.Stdout)

	case *listFlag:
		authority, err := treeKey("--list")
		if err != nil {
			return err
		}
		return admin.List(ctx, log, pgCfg, authority, os.Stdout)

	case *feeQuoteFlag:
		return admin.FeeQuote(os.Stdout, *amountFlag)
	}

	flag.Usage()
	return nil
}
