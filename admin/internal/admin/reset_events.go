package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/malbeclabs/dispatch/distributor/pkg/clickhouse"
)

// ResetOptions controls ResetEvents.
type ResetOptions struct {
	DryRun      bool
	SkipConfirm bool
	In          io.Reader
	Out         io.Writer
}

// ResetEvents drops the distribution event tables (fact_*) and the goose version table so the
// next --clickhouse-migrate recreates them from scratch.
func ResetEvents(ctx context.Context, log *slog.Logger, cfg clickhouse.Config, opts ResetOptions) error {
	cfg.Logger = log
	chDB, err := clickhouse.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer chDB.Close()

	conn, err := chDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT name
		FROM system.tables
		WHERE database = ?
		  AND (name LIKE 'fact_%' OR name = 'goose_db_version')
		ORDER BY name
	`, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read tables: %w", err)
	}

	confirmed, err := confirmDrop(tables, cfg.Database, opts)
	if err != nil || !confirmed {
		return err
	}

	for _, table := range tables {
		if err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		fmt.Fprintf(opts.Out, "  dropped %s\n", table)
	}

	fmt.Fprintf(opts.Out, "\nSuccessfully dropped %d table(s)\n", len(tables))
	return nil
}

// confirmDrop prints the plan and reports whether the drop should go ahead.
func confirmDrop(tables []string, database string, opts ResetOptions) (bool, error) {
	if len(tables) == 0 {
		fmt.Fprintln(opts.Out, "No event tables found")
		return false, nil
	}

	fmt.Fprintf(opts.Out, "WARNING: This will DROP %d table(s) from database '%s':\n\n", len(tables), database)
	for _, table := range tables {
		fmt.Fprintf(opts.Out, "  - %s\n", table)
	}

	if opts.DryRun {
		fmt.Fprintln(opts.Out, "\n[DRY RUN] Would drop the above tables")
		return false, nil
	}
	if opts.SkipConfirm {
		return true, nil
	}

	fmt.Fprint(opts.Out, "\nThis is a DESTRUCTIVE operation that cannot be undone!\nType 'yes' to confirm: ")
	response, err := bufio.NewReader(opts.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.TrimSpace(strings.ToLower(response)) != "yes" {
		fmt.Fprintln(opts.Out, "\nConfirmation failed. Operation cancelled.")
		return false, nil
	}
	fmt.Fprintln(opts.Out)
	return true, nil
}
