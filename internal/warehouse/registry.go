// SPDX-License-Identifier: Apache-2.0

package warehouse

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotProvisioned is returned by Resolve when a tenant has no projection
// table yet.
var ErrNotProvisioned = errors.New("warehouse not provisioned")

// Registry maps tenants to their isolated projection tables and provisions
// them lazily. One tenant gets exactly one warehouse_data_<id> table.
type Registry struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRegistry(pool *pgxpool.Pool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		pool:   pool,
		logger: logger,
	}
}

func newTableID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// dataTableName builds the per-tenant table name. The id must be the 32-hex
// form produced by newTableID; anything else is rejected so a stored mapping
// can never smuggle SQL into DDL or DML.
func dataTableName(tableID string) (string, error) {
	if len(tableID) != 32 {
		return "", fmt.Errorf("invalid warehouse table id %q", tableID)
	}
	if _, err := hex.DecodeString(tableID); err != nil {
		return "", fmt.Errorf("invalid warehouse table id %q", tableID)
	}
	return "warehouse_data_" + tableID, nil
}

// Resolve returns the tenant's table id, or ErrNotProvisioned.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (string, error) {
	var tableID string
	err := r.pool.QueryRow(ctx, `SELECT id FROM warehouses WHERE user_id = $1`, tenantID).Scan(&tableID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotProvisioned
	}
	if err != nil {
		return "", fmt.Errorf("resolve warehouse for %s: %w", tenantID, err)
	}
	return tableID, nil
}

// Provision creates the tenant mapping, the per-tenant data table, and its
// unique key index in a single transaction. A failure in any step rolls the
// whole transaction back so a half-created table never becomes visible.
func (r *Registry) Provision(ctx context.Context, tenantID string, createdAt time.Time) (string, error) {
	tableID := newTableID()
	table, err := dataTableName(tableID)
	if err != nil {
		return "", err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin provision tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `
		INSERT INTO warehouses (id, user_id, created_at)
		VALUES ($1, $2, $3)
	`, tableID, tenantID, createdAt); err != nil {
		return "", fmt.Errorf("insert warehouse mapping: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			key VARCHAR(50) NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NULL
		)
	`, table)); err != nil {
		return "", fmt.Errorf("create warehouse data table: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`CREATE UNIQUE INDEX %s_key_idx ON %s (key)`, table, table,
	)); err != nil {
		return "", fmt.Errorf("create warehouse key index: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit provision tx: %w", err)
	}

	r.logger.Info("warehouse provisioned",
		"tenant_id", tenantID,
		"table_id", tableID,
	)

	return tableID, nil
}

// ResolveOrProvision resolves the tenant's table, provisioning it on first
// use. When a concurrent delivery provisions the same tenant first, the
// unique constraint on user_id rejects the duplicate and the winner's
// mapping is returned instead.
func (r *Registry) ResolveOrProvision(ctx context.Context, tenantID string, createdAt time.Time) (string, error) {
	tableID, err := r.Resolve(ctx, tenantID)
	if !errors.Is(err, ErrNotProvisioned) {
		return tableID, err
	}

	tableID, err = r.Provision(ctx, tenantID, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return r.Resolve(ctx, tenantID)
		}
		return "", err
	}
	return tableID, nil
}
