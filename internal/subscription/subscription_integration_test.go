//go:build integration

// SPDX-License-Identifier: Apache-2.0

package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timada/cobase/internal/domain"
	"github.com/timada/cobase/internal/eventstore"
	"github.com/timada/cobase/internal/persistence/postgres"
)

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

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
		pool.Close()
		t.Skipf("skip integration test: schema bootstrap failed (%v)", err)
	}

	return pool
}

type recordingHandler struct {
	name          string
	aggregateType string
	failOn        uuid.UUID
	failErr       error
	handled       []domain.Event
}

func (h *recordingHandler) Name() string          { return h.name }
func (h *recordingHandler) AggregateType() string { return h.aggregateType }

func (h *recordingHandler) Handle(ctx context.Context, ev domain.Event) error {
	if h.failErr != nil && ev.ID == h.failOn {
		return h.failErr
	}
	h.handled = append(h.handled, ev)
	return nil
}

func appendImport(t *testing.T, ctx context.Context, store *eventstore.PostgresStore, aggregateType, aggregateID string, version uint64) domain.Event {
	t.Helper()

	ev, err := domain.NewDataImported(aggregateID, "import-data/"+uuid.NewString()+".json", domain.Metadata{
		RequestBy: aggregateID,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	appended, err := store.Append(ctx, aggregateType, aggregateID, []domain.Event{ev}, version)
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	return appended[0]
}

func TestDeliversInGlobalOrder(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := eventstore.NewPostgresStore(pool, logger)

	// Isolate the test with its own aggregate type and subscription name.
	aggType := "warehouse-" + uuid.NewString()
	handler := &recordingHandler{name: "sub-" + uuid.NewString(), aggregateType: aggType}
	sub := New(Deps{Pool: pool, Logger: logger, Handler: handler})

	if err := sub.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	tenantA := uuid.NewString()
	tenantB := uuid.NewString()
	first := appendImport(t, ctx, store, aggType, tenantA, 0)
	second := appendImport(t, ctx, store, aggType, tenantB, 0)
	third := appendImport(t, ctx, store, aggType, tenantA, 1)

	n, err := sub.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 delivered, got %d", n)
	}

	got := []uuid.UUID{handler.handled[0].ID, handler.handled[1].ID, handler.handled[2].ID}
	want := []uuid.UUID{first.ID, second.ID, third.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order mismatch at %d: got %s want %s", i, got[i], want[i])
		}
	}

	// Nothing new: the next round is a no-op.
	n, err = sub.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("idle process: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no redelivery, got %d", n)
	}
}

func TestRedeliversFromLastAcknowledged(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := eventstore.NewPostgresStore(pool, logger)

	aggType := "warehouse-" + uuid.NewString()
	handler := &recordingHandler{name: "sub-" + uuid.NewString(), aggregateType: aggType}
	sub := New(Deps{Pool: pool, Logger: logger, Handler: handler})

	if err := sub.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	tenant := uuid.NewString()
	first := appendImport(t, ctx, store, aggType, tenant, 0)
	poison := appendImport(t, ctx, store, aggType, tenant, 1)
	last := appendImport(t, ctx, store, aggType, tenant, 2)

	boom := errors.New("projection unavailable")
	handler.failOn = poison.ID
	handler.failErr = boom

	n, err := sub.ProcessOnce(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 acknowledged before the failure, got %d", n)
	}
	if len(handler.handled) != 1 || handler.handled[0].ID != first.ID {
		t.Fatal("expected only the first event handled")
	}

	// Recover: the failing event and its successors are redelivered.
	handler.failErr = nil

	n, err = sub.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("recovery process: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 redelivered, got %d", n)
	}
	if handler.handled[1].ID != poison.ID || handler.handled[2].ID != last.ID {
		t.Fatal("expected redelivery to resume at the failed event")
	}
}

func TestRegisterKeepsPosition(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := eventstore.NewPostgresStore(pool, logger)

	aggType := "warehouse-" + uuid.NewString()
	handler := &recordingHandler{name: "sub-" + uuid.NewString(), aggregateType: aggType}
	sub := New(Deps{Pool: pool, Logger: logger, Handler: handler})

	if err := sub.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	appendImport(t, ctx, store, aggType, uuid.NewString(), 0)

	if n, err := sub.ProcessOnce(ctx); err != nil || n != 1 {
		t.Fatalf("process: n=%d err=%v", n, err)
	}

	// Registering again must not reset the position.
	if err := sub.Register(ctx); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	if n, err := sub.ProcessOnce(ctx); err != nil || n != 0 {
		t.Fatalf("expected no replay after re-register: n=%d err=%v", n, err)
	}
}
