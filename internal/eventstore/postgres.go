// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timada/cobase/internal/domain"
)

const pgUniqueViolation = "23505"

// appendLockID serializes append transactions. Without it, a transaction
// holding a lower global_seq could commit after one holding a higher seq,
// and a subscriber that advanced past the higher seq would never see the
// lower one. The lock is released at commit or rollback.
const appendLockID int64 = 0x434f424153455f45 // "COBASE_E"

// PostgresStore persists events in a single events table with a
// UNIQUE(aggregate_type, aggregate_id, version) constraint backing the
// optimistic concurrency check.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	tracer trace.Tracer
}

func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("eventstore"),
	}
}

func (s *PostgresStore) Load(ctx context.Context, aggregateType, aggregateID string) ([]domain.Event, uint64, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.type", aggregateType),
			attribute.String("aggregate.id", aggregateID),
		),
	)
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, version, name, data, metadata, created_at
		FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY version ASC
	`,
		aggregateType,
		aggregateID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			name    string
			version int64
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.AggregateType,
			&ev.AggregateID,
			&version,
			&name,
			&ev.Data,
			&ev.Metadata,
			&ev.CreatedAt,
		); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, 0, fmt.Errorf("scan event row: %w", err)
		}

		parsed, err := domain.ParseEventName(name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, 0, err
		}

		ev.Name = parsed
		ev.Version = uint64(version)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("iterate event rows: %w", err)
	}

	span.SetAttributes(attribute.Int("event.count", len(events)))
	return events, uint64(len(events)), nil
}

func (s *PostgresStore) Append(ctx context.Context, aggregateType, aggregateID string, events []domain.Event, expectedVersion uint64) ([]domain.Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.type", aggregateType),
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("event.count", len(events)),
			attribute.Int64("expected.version", int64(expectedVersion)),
		),
	)
	defer span.End()

	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("acquire append lock: %w", err)
	}

	var current int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version) + 1, 0)
		FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2
	`,
		aggregateType,
		aggregateID,
	).Scan(&current); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("read current version: %w", err)
	}

	if uint64(current) != expectedVersion {
		err := fmt.Errorf("%w: expected %d, stream at %d", ErrVersionConflict, expectedVersion, current)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := time.Now().UTC()
	appended := make([]domain.Event, len(events))

	for i, ev := range events {
		ev.AggregateType = aggregateType
		ev.AggregateID = aggregateID
		ev.Version = expectedVersion + uint64(i)
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO events (id, aggregate_type, aggregate_id, version, name, data, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			ev.ID,
			ev.AggregateType,
			ev.AggregateID,
			int64(ev.Version),
			string(ev.Name),
			ev.Data,
			ev.Metadata,
			ev.CreatedAt,
		); err != nil {
			// Concurrent appenders both pass the version read; the unique
			// constraint on (aggregate_type, aggregate_id, version) decides
			// the loser.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				conflict := fmt.Errorf("%w: version %d already stored", ErrVersionConflict, ev.Version)
				span.RecordError(conflict)
				span.SetStatus(codes.Error, conflict.Error())
				return nil, conflict
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("insert event version %d: %w", ev.Version, err)
		}

		appended[i] = ev
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("commit append tx: %w", err)
	}

	return appended, nil
}
