// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"
)

// Warehouse is the fold of all events for one tenant's warehouse aggregate.
// It is never stored directly; it is rebuilt from the event log on each load.
type Warehouse struct {
	StoragePaths []string `json:"storage_paths"`
}

// Apply folds one event into the aggregate state. The switch is exhaustive
// over the closed warehouse event union.
func (w *Warehouse) Apply(ev Event) error {
	name, err := ParseEventName(string(ev.Name))
	if err != nil {
		return err
	}

	switch name {
	case EventDataImported:
		data, err := ev.DataImported()
		if err != nil {
			return err
		}
		w.StoragePaths = append(w.StoragePaths, data.StoragePath)
	}

	return nil
}

// WarehouseData is one projection row in a tenant's warehouse data table.
// Key is unique within the table; UpdatedAt stays nil until the row is
// overwritten by a later import of the same key.
type WarehouseData struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt *time.Time      `json:"updated_at"`
}
