package clickhousetesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/malbeclabs/dispatch/distributor/pkg/clickhouse"
	"github.com/malbeclabs/dispatch/utils/pkg/retry"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

type DBConfig struct {
	Database       string
	Username       string
	Password       string
	Port           string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.Port == "" {
		cfg.Port = "9000"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:latest"
	}
	return nil
}

// DB is a ClickHouse container shared by the tests of a package.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	addr      string
	container *tcch.ClickHouseContainer
}

// Addr returns the native protocol address (host:port).
func (db *DB) Addr() string {
	return db.addr
}

// ClientConfig returns a client configuration for database.
func (db *DB) ClientConfig(database string) clickhouse.Config {
	return clickhouse.Config{
		Logger:   db.log,
		Addr:     db.addr,
		Database: database,
		Username: db.cfg.Username,
		Password: db.cfg.Password,
	}
}

func (db *DB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate ClickHouse container", "error", err)
	}
}

// containerRetry retries container and connection setup on the transient errors docker and a
// freshly started server produce.
var containerRetry = retry.Config{
	MaxAttempts: 3,
	BaseBackoff: 750 * time.Millisecond,
	MaxBackoff:  3 * time.Second,
	Retryable:   isRetryableContainerErr,
}

func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	var container *tcch.ClickHouseContainer
	err := retry.Do(ctx, containerRetry, func() error {
		var err error
		container, err = tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ClickHouse container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container host: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, nat.Port(fmt.Sprintf("%s/tcp", cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container mapped port: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		addr:      fmt.Sprintf("%s:%s", host, mappedPort.Port()),
		container: container,
	}, nil
}

// NewTestClient creates a migrated, randomly named database that is dropped when t ends.
func NewTestClient(t *testing.T, db *DB) clickhouse.Client {
	ctx := t.Context()

	var admin clickhouse.Client
	err := retry.Do(ctx, containerRetry, func() error {
		var err error
		admin, err = clickhouse.NewClient(ctx, db.ClientConfig(db.cfg.Database))
		return err
	})
	require.NoError(t, err)

	database := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	adminConn, err := admin.Conn(ctx)
	require.NoError(t, err)
	require.NoError(t, clickhouse.CreateDatabase(ctx, db.log, adminConn, database))

	cfg := db.ClientConfig(database)
	require.NoError(t, clickhouse.Up(ctx, db.log, cfg.MigrationConfig()))

	client, err := clickhouse.NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = adminConn.Exec(dropCtx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", database))
		client.Close()
		admin.Close()
	})

	return client
}

func isRetryableContainerErr(err error) bool {
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "handshake") ||
		strings.Contains(s, "failed to ping") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "dial tcp")
}
