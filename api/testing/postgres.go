package apitesting

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/dispatch/api/config"
	"github.com/malbeclabs/dispatch/utils/pkg/retry"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DBConfig holds the PostgreSQL test container configuration.
type DBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// DB represents a PostgreSQL test container shared by the tests of a package.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	connStr   string
	container *tcpostgres.PostgresContainer
}

// ConnStr returns the connection string of the container's default database.
func (db *DB) ConnStr() string {
	return db.connStr
}

// Close terminates the PostgreSQL container.
func (db *DB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate PostgreSQL container", "error", err)
	}
}

// NewDB starts a PostgreSQL testcontainer.
func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	var container *tcpostgres.PostgresContainer
	startRetry := retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 750 * time.Millisecond,
		MaxBackoff:  3 * time.Second,
		Retryable:   isRetryableContainerStartErr,
	}
	err := retry.Do(ctx, startRetry, func() error {
		var err error
		container, err = tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		connStr:   connStr,
		container: container,
	}, nil
}

var migrateMu sync.Mutex

// NewTestPool creates a migrated, randomly named database and returns a pool connected to
// it. The database is dropped when t ends.
func NewTestPool(t *testing.T, db *DB) *pgxpool.Pool {
	pool, _ := NewTestPoolWithConnStr(t, db)
	return pool
}

// NewTestPoolWithConnStr is NewTestPool that also returns the database connection string.
func NewTestPoolWithConnStr(t *testing.T, db *DB) (*pgxpool.Pool, string) {
	ctx := t.Context()

	admin, err := pgx.Connect(ctx, db.connStr)
	require.NoError(t, err, "failed to connect to admin database")

	name := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	_, err = admin.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err, "failed to create test database")

	u, err := url.Parse(db.connStr)
	require.NoError(t, err)
	u.Path = "/" + name
	connStr := u.String()

	// goose keeps its dialect and filesystem in package state.
	migrateMu.Lock()
	err = config.RunMigrations(db.log, connStr)
	migrateMu.Unlock()
	require.NoError(t, err, "failed to run migrations")

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err, "failed to create pool")

	t.Cleanup(func() {
		pool.Close()
		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.Exec(dropCtx, "DROP DATABASE IF EXISTS "+name)
		admin.Close(dropCtx)
	})

	return pool, connStr
}

func isRetryableContainerStartErr(err error) bool {
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}
