// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseEventName(t *testing.T) {
	name, err := ParseEventName("data-imported")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != EventDataImported {
		t.Fatalf("expected %s got %s", EventDataImported, name)
	}
}

func TestParseEventNameUnknown(t *testing.T) {
	if _, err := ParseEventName("contacts-imported"); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestNewDataImported(t *testing.T) {
	ev, err := NewDataImported("tenant-1", "import-data/abc.json", Metadata{
		RequestBy: "tenant-1",
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ev.AggregateType != AggregateWarehouse {
		t.Fatalf("expected aggregate type %s got %s", AggregateWarehouse, ev.AggregateType)
	}
	if ev.AggregateID != "tenant-1" {
		t.Fatalf("expected aggregate id tenant-1 got %s", ev.AggregateID)
	}

	data, err := ev.DataImported()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if data.StoragePath != "import-data/abc.json" {
		t.Fatalf("expected storage path round-trip, got %s", data.StoragePath)
	}
}

func TestDataImportedWrongName(t *testing.T) {
	ev := Event{Name: "something-else", Data: json.RawMessage(`{}`)}
	if _, err := ev.DataImported(); err == nil {
		t.Fatal("expected error decoding payload of wrong event name")
	}
}

func TestWarehouseApply(t *testing.T) {
	var w Warehouse

	for _, path := range []string{"import-data/a.json", "import-data/b.json"} {
		ev, err := NewDataImported("tenant-1", path, Metadata{})
		if err != nil {
			t.Fatalf("build event: %v", err)
		}
		if err := w.Apply(ev); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	if len(w.StoragePaths) != 2 {
		t.Fatalf("expected 2 storage paths got %d", len(w.StoragePaths))
	}
	if w.StoragePaths[0] != "import-data/a.json" || w.StoragePaths[1] != "import-data/b.json" {
		t.Fatalf("expected paths in append order, got %v", w.StoragePaths)
	}
}

func TestWarehouseApplyUnknownEvent(t *testing.T) {
	var w Warehouse
	err := w.Apply(Event{Name: "not-a-thing", Data: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}
