package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/dispatch/distributor/pkg/clickhouse"
)

const TableName = "fact_distribution_events"

var columns = []string{
	"event_id", "event_ts", "event_type", "tree", "authority", "batch_id", "leaf_index",
	"recipient", "amount", "number_distributed", "total_number_recipients", "status",
	"signature", "ingested_at",
}

type ClickHouseSinkConfig struct {
	Logger     *slog.Logger
	ClickHouse clickhouse.Client
	Clock      clockwork.Clock
}

func (cfg *ClickHouseSinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse connection is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ClickHouseSink appends events to the fact_distribution_events table.
type ClickHouseSink struct {
	log *slog.Logger
	cfg ClickHouseSinkConfig
}

func NewClickHouseSink(cfg ClickHouseSinkConfig) (*ClickHouseSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &ClickHouseSink{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (s *ClickHouseSink) Emit(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", TableName))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close()

	ingestedAt := s.cfg.Clock.Now().UTC()
	for i, e := range events {
		row := eventRow(e, ingestedAt)
		if len(row) != len(columns) {
			return fmt.Errorf("event %d has %d columns, expected %d", i, len(row), len(columns))
		}
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append event %d: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.log.Debug("events: wrote batch", "table", TableName, "count", len(events))
	return nil
}

func eventRow(e Event, ingestedAt time.Time) []any {
	var recipient *string
	if e.Recipient != nil {
		r := e.Recipient.String()
		recipient = &r
	}
	return []any{
		e.ID,
		e.Time,
		string(e.Type),
		e.Tree.String(),
		e.Authority.String(),
		e.BatchID,
		e.Index,
		recipient,
		e.Amount,
		e.NumberDistributed,
		e.Total,
		e.Status,
		e.Signature,
		ingestedAt,
	}
}
