//go:build integration

// SPDX-License-Identifier: Apache-2.0

package warehouse

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timada/cobase/internal/domain"
	"github.com/timada/cobase/internal/eventstore"
	"github.com/timada/cobase/internal/persistence/postgres"
	"github.com/timada/cobase/internal/realtime"
)

type capturePublisher struct {
	mu            sync.Mutex
	notifications []realtime.Notification
}

func (c *capturePublisher) Publish(ctx context.Context, n realtime.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, n)
	return nil
}

func integrationPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create pgx pool (%v)", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	if err := postgres.EnsureSchema(ctx, pool, discardLogger()); err != nil {
		pool.Close()
		t.Skipf("skip integration test: schema bootstrap failed (%v)", err)
	}

	return pool
}

func deliverAll(t *testing.T, projector *Projector, store *eventstore.MemoryStore, from int) int {
	t.Helper()

	events := store.All()
	for _, ev := range events[from:] {
		if err := projector.Handle(context.Background(), ev); err != nil {
			t.Fatalf("handle event version %d: %v", ev.Version, err)
		}
	}
	return len(events)
}

func rowByKey(t *testing.T, conn Connection, key string) domain.WarehouseData {
	t.Helper()

	for _, edge := range conn.Edges {
		if edge.Node.Key == key {
			return edge.Node
		}
	}
	t.Fatalf("no row with key %q", key)
	return domain.WarehouseData{}
}

func TestImportProjectionEndToEnd(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	tenantID := uuid.NewString()
	store := eventstore.NewMemoryStore()
	blobs := newMemoryBlobStore()
	publisher := &capturePublisher{}

	registry := NewRegistry(pool, discardLogger())
	svc := NewImportService(store, blobs, discardLogger())
	projector := NewProjector(pool, registry, blobs, publisher, discardLogger())
	query := NewQuery(pool, registry, discardLogger())

	// Before any import the tenant has no table and gets an empty result.
	conn, err := query.List(ctx, tenantID, Page{})
	if err != nil {
		t.Fatalf("list before provisioning: %v", err)
	}
	if len(conn.Edges) != 0 {
		t.Fatalf("expected empty connection, got %d edges", len(conn.Edges))
	}

	// Scenario A: first import creates two fresh rows.
	if _, err := svc.Import(ctx, tenantID, []map[string]any{
		{"id": "1", "v": "a"},
		{"id": "2", "v": "b"},
	}); err != nil {
		t.Fatalf("first import: %v", err)
	}
	delivered := deliverAll(t, projector, store, 0)

	conn, err = query.List(ctx, tenantID, Page{})
	if err != nil {
		t.Fatalf("list after first import: %v", err)
	}
	if len(conn.Edges) != 2 {
		t.Fatalf("expected 2 rows got %d", len(conn.Edges))
	}
	for _, edge := range conn.Edges {
		if edge.Node.UpdatedAt != nil {
			t.Fatalf("expected updated_at null on first import, key %s", edge.Node.Key)
		}
	}

	firstCreatedAt := rowByKey(t, conn, "2").CreatedAt

	// Scenario B: second import overwrites key 2 and inserts key 3.
	if _, err := svc.Import(ctx, tenantID, []map[string]any{
		{"id": "2", "v": "c"},
		{"id": "3", "v": "d"},
	}); err != nil {
		t.Fatalf("second import: %v", err)
	}
	deliverAll(t, projector, store, delivered)

	w, version, err := LoadWarehouse(ctx, store, tenantID)
	if err != nil {
		t.Fatalf("load warehouse: %v", err)
	}
	if version != 2 || len(w.StoragePaths) != 2 {
		t.Fatalf("expected version 2 with 2 paths, got %d/%d", version, len(w.StoragePaths))
	}

	conn, err = query.List(ctx, tenantID, Page{})
	if err != nil {
		t.Fatalf("list after second import: %v", err)
	}
	if len(conn.Edges) != 3 {
		t.Fatalf("expected 3 rows got %d", len(conn.Edges))
	}

	row1 := rowByKey(t, conn, "1")
	if row1.UpdatedAt != nil {
		t.Fatal("expected key 1 untouched")
	}

	row2 := rowByKey(t, conn, "2")
	if row2.UpdatedAt == nil {
		t.Fatal("expected key 2 updated_at set after re-import")
	}
	if !row2.CreatedAt.Equal(firstCreatedAt) {
		t.Fatalf("expected key 2 created_at preserved: %s vs %s", row2.CreatedAt, firstCreatedAt)
	}
	var payload map[string]any
	if err := json.Unmarshal(row2.Data, &payload); err != nil {
		t.Fatalf("decode row data: %v", err)
	}
	if payload["v"] != "c" {
		t.Fatalf("expected key 2 data overwritten, got %v", payload["v"])
	}

	row3 := rowByKey(t, conn, "3")
	if row3.UpdatedAt != nil {
		t.Fatal("expected key 3 to be a fresh insert")
	}

	// One notification per committed batch, addressed to the tenant.
	publisher.mu.Lock()
	notified := len(publisher.notifications)
	first := publisher.notifications[0]
	publisher.mu.Unlock()
	if notified != 2 {
		t.Fatalf("expected 2 notifications got %d", notified)
	}
	if first.UserID != tenantID {
		t.Fatalf("expected notification user %s got %s", tenantID, first.UserID)
	}
	if first.Name != "data-imported" {
		t.Fatalf("unexpected notification name %s", first.Name)
	}
}

func TestProjectionIdempotentUnderRedelivery(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	tenantID := uuid.NewString()
	store := eventstore.NewMemoryStore()
	blobs := newMemoryBlobStore()

	registry := NewRegistry(pool, discardLogger())
	svc := NewImportService(store, blobs, discardLogger())
	projector := NewProjector(pool, registry, blobs, realtime.NopPublisher{}, discardLogger())
	query := NewQuery(pool, registry, discardLogger())

	if _, err := svc.Import(ctx, tenantID, []map[string]any{{"id": "1", "v": "a"}}); err != nil {
		t.Fatalf("import: %v", err)
	}

	ev := store.All()[0]
	if err := projector.Handle(ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	before, err := query.List(ctx, tenantID, Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	// Redeliver the same event: same upsert, same final row state.
	if err := projector.Handle(ctx, ev); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	after, err := query.List(ctx, tenantID, Page{})
	if err != nil {
		t.Fatalf("list after redelivery: %v", err)
	}

	if len(after.Edges) != 1 {
		t.Fatalf("expected 1 row after redelivery got %d", len(after.Edges))
	}
	if after.Edges[0].Node.ID != before.Edges[0].Node.ID {
		t.Fatal("expected row identity preserved under redelivery")
	}
	if !after.Edges[0].Node.CreatedAt.Equal(before.Edges[0].Node.CreatedAt) {
		t.Fatal("expected created_at unchanged under redelivery")
	}
	if after.Edges[0].Node.UpdatedAt != nil {
		t.Fatal("expected updated_at still null: unchanged data must not be rewritten")
	}
}

func TestKeysetPagination(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	tenantID := uuid.NewString()
	store := eventstore.NewMemoryStore()
	blobs := newMemoryBlobStore()

	registry := NewRegistry(pool, discardLogger())
	svc := NewImportService(store, blobs, discardLogger())
	projector := NewProjector(pool, registry, blobs, realtime.NopPublisher{}, discardLogger())
	query := NewQuery(pool, registry, discardLogger())

	if _, err := svc.Import(ctx, tenantID, []map[string]any{
		{"id": "1"}, {"id": "2"}, {"id": "3"},
	}); err != nil {
		t.Fatalf("import: %v", err)
	}
	deliverAll(t, projector, store, 0)

	page1, err := query.List(ctx, tenantID, Page{First: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page1.Edges) != 2 {
		t.Fatalf("expected 2 edges got %d", len(page1.Edges))
	}
	if !page1.PageInfo.HasNextPage {
		t.Fatal("expected hasNextPage with a third row present")
	}
	if page1.Edges[0].Node.Key != "1" || page1.Edges[1].Node.Key != "2" {
		t.Fatalf("unexpected page order: %s, %s", page1.Edges[0].Node.Key, page1.Edges[1].Node.Key)
	}

	page2, err := query.List(ctx, tenantID, Page{First: 2, After: page1.PageInfo.EndCursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page2.Edges) != 1 {
		t.Fatalf("expected 1 edge got %d", len(page2.Edges))
	}
	if page2.Edges[0].Node.Key != "3" {
		t.Fatalf("expected key 3 got %s", page2.Edges[0].Node.Key)
	}
	if page2.PageInfo.HasNextPage {
		t.Fatal("expected no further page")
	}
	if !page2.PageInfo.HasPreviousPage {
		t.Fatal("expected hasPreviousPage after a cursor")
	}

	back, err := query.List(ctx, tenantID, Page{Last: 2, Before: page2.Edges[0].Cursor})
	if err != nil {
		t.Fatalf("backward page: %v", err)
	}
	if len(back.Edges) != 2 {
		t.Fatalf("expected 2 edges got %d", len(back.Edges))
	}
	if back.Edges[0].Node.Key != "1" || back.Edges[1].Node.Key != "2" {
		t.Fatalf("unexpected backward order: %s, %s", back.Edges[0].Node.Key, back.Edges[1].Node.Key)
	}

	// Cursors must round-trip through the query layer.
	createdAt, key, err := decodeCursor(page1.Edges[1].Cursor)
	if err != nil {
		t.Fatalf("decode edge cursor: %v", err)
	}
	if key != "2" {
		t.Fatalf("expected cursor key 2 got %s", key)
	}
	if createdAt.IsZero() {
		t.Fatal("expected cursor timestamp")
	}
}

// A single import carrying the same business key twice must collapse to one
// row instead of failing the upsert with "cannot affect row a second time".
func TestDuplicateKeysInOneImport(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	tenantID := uuid.NewString()
	store := eventstore.NewMemoryStore()
	blobs := newMemoryBlobStore()

	registry := NewRegistry(pool, discardLogger())
	svc := NewImportService(store, blobs, discardLogger())
	projector := NewProjector(pool, registry, blobs, realtime.NopPublisher{}, discardLogger())
	query := NewQuery(pool, registry, discardLogger())

	records := []map[string]any{
		{"id": "1", "v": "a"},
		{"id": "1", "v": "b"},
	}
	if _, err := svc.Import(ctx, tenantID, records); err != nil {
		t.Fatalf("import: %v", err)
	}

	deliverAll(t, projector, store, 0)

	conn, err := query.List(ctx, tenantID, Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conn.Edges) != 1 {
		t.Fatalf("expected 1 row got %d", len(conn.Edges))
	}

	row := rowByKey(t, conn, "1")
	var data map[string]any
	if err := json.Unmarshal(row.Data, &data); err != nil {
		t.Fatalf("decode row data: %v", err)
	}
	if data["v"] != "b" {
		t.Fatalf("expected last occurrence to win, got %v", data["v"])
	}
	if row.UpdatedAt != nil {
		t.Fatal("expected a single insert, not an update of the first duplicate")
	}
}
