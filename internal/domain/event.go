// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateWarehouse is the aggregate type for per-tenant warehouses.
// One tenant maps to exactly one warehouse aggregate keyed by the tenant id.
const AggregateWarehouse = "warehouse"

// EventName identifies an event variant. The set of names is closed per
// aggregate type; an unknown name is a decode error, never a panic.
type EventName string

const EventDataImported EventName = "data-imported"

// ParseEventName validates a stored event name against the known variants.
func ParseEventName(raw string) (EventName, error) {
	switch EventName(raw) {
	case EventDataImported:
		return EventDataImported, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, raw)
}

// Metadata carries the request context an event was appended under.
type Metadata struct {
	RequestBy string `json:"request_by"`
	RequestID string `json:"request_id"`
}

// Event is the stored event envelope. For a given (aggregate_type,
// aggregate_id) versions are strictly increasing and gapless starting at 0.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Version       uint64          `json:"version"`
	Name          EventName       `json:"name"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DataImported is the payload of a data-imported event. The storage path
// points at the blob holding the raw import batch.
type DataImported struct {
	StoragePath string `json:"storage_path"`
}

// DataImported decodes the typed payload of a data-imported event.
func (e Event) DataImported() (DataImported, error) {
	if e.Name != EventDataImported {
		return DataImported{}, fmt.Errorf("event %q is not %q", e.Name, EventDataImported)
	}

	var data DataImported
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return DataImported{}, fmt.Errorf("decode %s payload: %w", EventDataImported, err)
	}
	return data, nil
}

// NewDataImported builds an unversioned data-imported event for the given
// tenant. The event store assigns id, version, and created_at on append.
func NewDataImported(tenantID, storagePath string, meta Metadata) (Event, error) {
	data, err := json.Marshal(DataImported{StoragePath: storagePath})
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", EventDataImported, err)
	}

	return Event{
		AggregateType: AggregateWarehouse,
		AggregateID:   tenantID,
		Name:          EventDataImported,
		Data:          data,
		Metadata:      meta,
	}, nil
}
