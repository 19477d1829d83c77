// SPDX-License-Identifier: Apache-2.0

// Package subscription delivers stored events to a named consumer in global
// append order, at least once. Each subscription owns a position row; the
// row lock makes delivery exclusive when several worker instances run.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timada/cobase/internal/domain"
	"github.com/timada/cobase/internal/metrics"
)

// Handler consumes events for one subscription. Handle must be idempotent:
// a delivery that fails after partial work is retried from the last
// acknowledged position.
type Handler interface {
	Name() string
	AggregateType() string
	Handle(ctx context.Context, ev domain.Event) error
}

type Deps struct {
	Pool      *pgxpool.Pool
	Logger    *slog.Logger
	Handler   Handler
	BatchSize int
}

type Subscriber struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	handler   Handler
	batchSize int
}

func New(deps Deps) *Subscriber {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	batch := deps.BatchSize
	if batch <= 0 {
		batch = 100
	}

	return &Subscriber{
		pool:      deps.Pool,
		logger:    l,
		handler:   deps.Handler,
		batchSize: batch,
	}
}

// Register creates the subscription's position row when missing. An existing
// row keeps its position, so re-registration never replays acknowledged
// events.
func (s *Subscriber) Register(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (name, position, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (name) DO NOTHING
	`,
		s.handler.Name(),
	)
	if err != nil {
		return fmt.Errorf("register subscription %s: %w", s.handler.Name(), err)
	}
	return nil
}

// ProcessOnce claims the subscription, delivers up to one batch of events
// past its position, and advances the position over the successfully handled
// prefix. A handler failure leaves the position at the last success, so the
// failing event is redelivered on the next call. Returns the number of
// events acknowledged.
func (s *Subscriber) ProcessOnce(ctx context.Context) (int, error) {
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin subscription tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var position int64
	err = tx.QueryRow(ctx, `
		SELECT position
		FROM subscriptions
		WHERE name = $1
		FOR UPDATE SKIP LOCKED
	`,
		s.handler.Name(),
	).Scan(&position)
	if err != nil {
		// Either the row is locked by another instance or the subscription
		// was never registered. Both mean nothing to do this round.
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("claim subscription %s: %w", s.handler.Name(), err)
	}

	metrics.ObserveSubscriptionClaimLatency(time.Since(start))

	events, err := s.fetchBatch(ctx, tx, position)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, tx.Commit(ctx)
	}

	acked := position
	var handleErr error

	for _, sev := range events {
		if err := s.handler.Handle(ctx, sev.event); err != nil {
			s.logger.Error("event delivery failed",
				"subscription", s.handler.Name(),
				"event_id", sev.event.ID,
				"aggregate_id", sev.event.AggregateID,
				"version", sev.event.Version,
				"error", err,
			)
			handleErr = err
			break
		}
		acked = sev.seq
	}

	processed := 0
	if acked > position {
		if _, err := tx.Exec(ctx, `
			UPDATE subscriptions
			SET position = $2, updated_at = NOW()
			WHERE name = $1
		`,
			s.handler.Name(),
			acked,
		); err != nil {
			return 0, fmt.Errorf("advance subscription %s: %w", s.handler.Name(), err)
		}
		for _, sev := range events {
			if sev.seq <= acked {
				processed++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit subscription tx: %w", err)
	}

	if processed > 0 {
		s.logger.Info("events delivered",
			"subscription", s.handler.Name(),
			"count", processed,
			"position", acked,
		)
	}

	return processed, handleErr
}

// Run polls until the context is canceled. Errors are logged and the loop
// keeps going; a full batch triggers an immediate next round.
func (s *Subscriber) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := s.ProcessOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("subscription round failed",
				"subscription", s.handler.Name(),
				"error", err,
			)
		}
		if n >= s.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type seqEvent struct {
	seq   int64
	event domain.Event
}

func (s *Subscriber) fetchBatch(ctx context.Context, tx pgx.Tx, position int64) ([]seqEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT global_seq, id, aggregate_type, aggregate_id, version, name, data, metadata, created_at
		FROM events
		WHERE global_seq > $1 AND aggregate_type = $2
		ORDER BY global_seq ASC
		LIMIT $3
	`,
		position,
		s.handler.AggregateType(),
		s.batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch events after %d: %w", position, err)
	}
	defer rows.Close()

	var batch []seqEvent
	for rows.Next() {
		var (
			sev     seqEvent
			name    string
			version int64
		)
		if err := rows.Scan(
			&sev.seq,
			&sev.event.ID,
			&sev.event.AggregateType,
			&sev.event.AggregateID,
			&version,
			&name,
			&sev.event.Data,
			&sev.event.Metadata,
			&sev.event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		parsed, err := domain.ParseEventName(name)
		if err != nil {
			return nil, err
		}

		sev.event.Name = parsed
		sev.event.Version = uint64(version)
		batch = append(batch, sev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return batch, nil
}
