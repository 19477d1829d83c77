// SPDX-License-Identifier: Apache-2.0

// Package warehouse implements the warehouse data-import pipeline: the import
// command, the projection over per-tenant tables, and the paginated query.
package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/timada/cobase/internal/blob"
	"github.com/timada/cobase/internal/domain"
	"github.com/timada/cobase/internal/eventstore"
	"github.com/timada/cobase/internal/metrics"
)

// ImportDataPath derives a blob path unique per import attempt. Paths are
// never reused across attempts, so retries cannot collide.
func ImportDataPath() string {
	return "import-data/" + uuid.NewString() + ".json"
}

// LoadWarehouse rebuilds a tenant's warehouse aggregate by folding its event
// log. Returns the zero aggregate and version 0 when no events exist.
func LoadWarehouse(ctx context.Context, store eventstore.Store, tenantID string) (domain.Warehouse, uint64, error) {
	events, version, err := store.Load(ctx, domain.AggregateWarehouse, tenantID)
	if err != nil {
		return domain.Warehouse{}, 0, err
	}

	var w domain.Warehouse
	for _, ev := range events {
		if err := w.Apply(ev); err != nil {
			return domain.Warehouse{}, 0, fmt.Errorf("fold warehouse %s: %w", tenantID, err)
		}
	}

	return w, version, nil
}

// ImportService handles the import-data command: validate, persist the batch
// to blob storage, append the event under optimistic concurrency, compensate
// on failure.
type ImportService struct {
	store  eventstore.Store
	blobs  blob.Store
	logger *slog.Logger
}

func NewImportService(store eventstore.Store, blobs blob.Store, logger *slog.Logger) *ImportService {
	if logger == nil {
		logger = slog.Default()
	}

	return &ImportService{
		store:  store,
		blobs:  blobs,
		logger: logger,
	}
}

// Import runs the import-data command for one tenant. On success the command
// result is the tenant id.
func (s *ImportService) Import(ctx context.Context, tenantID string, records []map[string]any) (string, error) {
	if err := validateRecords(records); err != nil {
		metrics.IncImports("rejected")
		return "", err
	}

	_, expectedVersion, err := LoadWarehouse(ctx, s.store, tenantID)
	if err != nil {
		metrics.IncImports("error")
		s.logger.Error("warehouse load failed", "tenant_id", tenantID, "error", err)
		return "", domain.Wrap(domain.CodeInternal, err, "failed to load warehouse")
	}

	path := ImportDataPath()

	// Path derivation is unique per attempt; a collision means the invariant
	// is broken, not that a retry is safe.
	exists, err := s.blobs.Exists(ctx, path)
	if err != nil {
		metrics.IncImports("error")
		s.logger.Error("import blob existence check failed", "tenant_id", tenantID, "path", path, "error", err)
		return "", domain.Wrap(domain.CodeInternal, err, "failed to stage import data")
	}
	if exists {
		metrics.IncImports("error")
		s.logger.Error("import blob path already occupied", "tenant_id", tenantID, "path", path)
		return "", domain.Internal("import data path already exists")
	}

	payload, err := json.Marshal(records)
	if err != nil {
		metrics.IncImports("error")
		return "", domain.Wrap(domain.CodeInternal, err, "failed to encode import data")
	}

	if err := s.blobs.Write(ctx, path, payload); err != nil {
		metrics.IncImports("error")
		s.logger.Error("import blob write failed", "tenant_id", tenantID, "path", path, "error", err)
		return "", domain.Wrap(domain.CodeInternal, err, "failed to stage import data")
	}

	ev, err := domain.NewDataImported(tenantID, path, domain.Metadata{
		RequestBy: tenantID,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		metrics.IncImports("error")
		return "", domain.Wrap(domain.CodeInternal, err, "failed to build import event")
	}

	if _, err := s.store.Append(ctx, domain.AggregateWarehouse, tenantID, []domain.Event{ev}, expectedVersion); err != nil {
		// Best-effort compensation: the appended event is the only thing that
		// makes the blob reachable, so remove it. A delete failure is logged,
		// never substituted for the append error.
		if delErr := s.blobs.Delete(ctx, path); delErr != nil {
			s.logger.Error("import blob cleanup failed",
				"tenant_id", tenantID,
				"path", path,
				"error", delErr,
			)
		}

		if errors.Is(err, eventstore.ErrVersionConflict) {
			metrics.IncVersionConflicts()
			metrics.IncImports("conflict")
			return "", domain.Wrap(domain.CodeConflict, err, "import conflicts with a concurrent write")
		}

		metrics.IncImports("error")
		s.logger.Error("import event append failed", "tenant_id", tenantID, "path", path, "error", err)
		return "", domain.Wrap(domain.CodeInternal, err, "failed to record import")
	}

	metrics.IncImports("success")
	metrics.AddImportRecords(len(records))

	s.logger.Info("import data staged",
		"tenant_id", tenantID,
		"path", path,
		"records", len(records),
		"version", expectedVersion,
	)

	return tenantID, nil
}

func validateRecords(records []map[string]any) error {
	if len(records) == 0 {
		return domain.BadRequest("data must not be empty")
	}

	for i, record := range records {
		if _, ok := recordKey(record); !ok {
			return domain.BadRequest("missing field %s at index %d", businessKeyField, i)
		}
	}

	return nil
}
