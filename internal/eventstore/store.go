// SPDX-License-Identifier: Apache-2.0

// Package eventstore provides the append-only, versioned-per-aggregate event
// log consumed by command handlers and projection consumers.
package eventstore

import (
	"context"
	"errors"

	"github.com/timada/cobase/internal/domain"
)

// ErrVersionConflict is returned by Append when the expected version does not
// match the aggregate's current version. The append has no side effects in
// that case; callers may reload the aggregate and retry.
var ErrVersionConflict = errors.New("version conflict")

// Store is the consumed event log contract. Append is the sole concurrency
// control primitive in the system: it atomically checks the current version
// and inserts new events with consecutive versions in one transaction.
type Store interface {
	// Load replays all events for the aggregate in ascending version order.
	// It returns the events and the aggregate's current version, which is the
	// number of stored events (0 when the aggregate has none).
	Load(ctx context.Context, aggregateType, aggregateID string) ([]domain.Event, uint64, error)

	// Append inserts events starting at expectedVersion. It fails with
	// ErrVersionConflict and no side effects when the stored version differs.
	// Returned events carry their assigned ids, versions, and timestamps.
	Append(ctx context.Context, aggregateType, aggregateID string, events []domain.Event, expectedVersion uint64) ([]domain.Event, error)
}
