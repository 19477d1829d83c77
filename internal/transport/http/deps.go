// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/timada/cobase/internal/warehouse"
)

type DataImporter interface {
	Import(ctx context.Context, userID string, records []map[string]any) (string, error)
}

type DataLister interface {
	List(ctx context.Context, userID string, page warehouse.Page) (warehouse.Connection, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
