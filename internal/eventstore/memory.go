// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timada/cobase/internal/domain"
)

// MemoryStore is an in-memory Store with the same optimistic concurrency
// semantics as the Postgres store. Used by unit tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]domain.Event
	all     []domain.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string][]domain.Event),
	}
}

func streamKey(aggregateType, aggregateID string) string {
	return aggregateType + "/" + aggregateID
}

func (m *MemoryStore) Load(ctx context.Context, aggregateType, aggregateID string) ([]domain.Event, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.streams[streamKey(aggregateType, aggregateID)]
	events := make([]domain.Event, len(stream))
	copy(events, stream)

	return events, uint64(len(events)), nil
}

func (m *MemoryStore) Append(ctx context.Context, aggregateType, aggregateID string, events []domain.Event, expectedVersion uint64) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := streamKey(aggregateType, aggregateID)
	current := uint64(len(m.streams[key]))
	if current != expectedVersion {
		return nil, fmt.Errorf("%w: expected %d, stream at %d", ErrVersionConflict, expectedVersion, current)
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

		m.streams[key] = append(m.streams[key], ev)
		m.all = append(m.all, ev)
		appended[i] = ev
	}

	return appended, nil
}

// All returns every stored event in global append order. Tests use it to
// feed projection handlers the way a subscription would.
func (m *MemoryStore) All() []domain.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]domain.Event, len(m.all))
	copy(events, m.all)
	return events
}
