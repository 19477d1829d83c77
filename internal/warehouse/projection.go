// SPDX-License-Identifier: Apache-2.0

package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timada/cobase/internal/blob"
	"github.com/timada/cobase/internal/domain"
	"github.com/timada/cobase/internal/metrics"
	"github.com/timada/cobase/internal/realtime"
)

// upsertChunkSize caps how many records go into one upsert statement.
const upsertChunkSize = 1000

// SubscriptionName identifies the warehouse-data projection subscription.
const SubscriptionName = "warehouse-data"

// Projector folds warehouse events into per-tenant data tables and publishes
// realtime notifications per committed batch. It is idempotent under
// redelivery: re-applying an event re-runs the same deterministic upsert.
type Projector struct {
	pool      *pgxpool.Pool
	registry  *Registry
	blobs     blob.Store
	publisher realtime.Publisher
	logger    *slog.Logger
}

func NewProjector(pool *pgxpool.Pool, registry *Registry, blobs blob.Store, publisher realtime.Publisher, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}

	return &Projector{
		pool:      pool,
		registry:  registry,
		blobs:     blobs,
		publisher: publisher,
		logger:    logger,
	}
}

// Name implements subscription.Handler.
func (p *Projector) Name() string { return SubscriptionName }

// AggregateType implements subscription.Handler.
func (p *Projector) AggregateType() string { return domain.AggregateWarehouse }

// Handle processes one delivered event. Errors are surfaced to the delivery
// layer, which redelivers the event per its policy.
func (p *Projector) Handle(ctx context.Context, ev domain.Event) error {
	name, err := domain.ParseEventName(string(ev.Name))
	if err != nil {
		return err
	}

	switch name {
	case domain.EventDataImported:
		return p.handleDataImported(ctx, ev)
	}

	return nil
}

func (p *Projector) handleDataImported(ctx context.Context, ev domain.Event) error {
	data, err := ev.DataImported()
	if err != nil {
		return err
	}

	raw, err := p.blobs.Read(ctx, data.StoragePath)
	if err != nil {
		return fmt.Errorf("read import data %s: %w", data.StoragePath, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("decode import data %s: %w", data.StoragePath, err)
	}
	records = dedupeRecords(records)

	tableID, err := p.registry.ResolveOrProvision(ctx, ev.AggregateID, ev.CreatedAt)
	if err != nil {
		return err
	}

	for _, chunk := range chunkRecords(records, upsertChunkSize) {
		started := time.Now()

		rows, err := p.upsertChunk(ctx, tableID, chunk, ev.CreatedAt)
		if err != nil {
			return err
		}

		metrics.IncProjectionBatches()
		metrics.ObserveProjectionBatchDuration(time.Since(started))

		if err := p.publisher.Publish(ctx, realtime.Notification{
			UserID: ev.Metadata.RequestBy,
			Topic:  "warehouses/" + tableID,
			Name:   string(domain.EventDataImported),
			Data:   rows,
		}); err != nil {
			return fmt.Errorf("publish batch notification: %w", err)
		}
		metrics.IncNotificationsPublished()
	}

	p.logger.Info("import data projected",
		"tenant_id", ev.AggregateID,
		"table_id", tableID,
		"records", len(records),
		"version", ev.Version,
	)

	return nil
}

// upsertChunk writes one batch of records in a single statement. A record
// missing a usable key aborts the batch before any write. A first-time key
// keeps updated_at null; a re-imported key with changed data keeps its
// original created_at and gets updated_at set to the import time. Unchanged
// data is left untouched, which makes redelivery a no-op.
func (p *Projector) upsertChunk(ctx context.Context, tableID string, chunk []map[string]any, importedAt time.Time) ([]domain.WarehouseData, error) {
	table, err := dataTableName(tableID)
	if err != nil {
		return nil, err
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(chunk)*4)
		keys = make([]string, 0, len(chunk))
	)

	fmt.Fprintf(&sb, "INSERT INTO %s AS w (id, key, data, created_at) VALUES ", table)

	for i, record := range chunk {
		key, ok := recordKey(record)
		if !ok {
			return nil, fmt.Errorf("record missing field %s in batch", businessKeyField)
		}

		payload, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", key, err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, uuid.NewString(), key, payload, importedAt)
		keys = append(keys, key)
	}

	sb.WriteString(`
		ON CONFLICT (key)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.created_at
		WHERE w.data IS DISTINCT FROM EXCLUDED.data
	`)

	if _, err := p.pool.Exec(ctx, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("upsert warehouse data batch: %w", err)
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, key, data, created_at, updated_at
		FROM %s
		WHERE key = ANY($1)
		ORDER BY created_at ASC, key ASC
	`, table), keys)
	if err != nil {
		return nil, fmt.Errorf("read back warehouse data batch: %w", err)
	}
	defer rows.Close()

	var out []domain.WarehouseData
	for rows.Next() {
		var row domain.WarehouseData
		if err := rows.Scan(&row.ID, &row.Key, &row.Data, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan warehouse data row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate warehouse data rows: %w", err)
	}

	return out, nil
}
