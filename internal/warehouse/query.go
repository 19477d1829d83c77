// SPDX-License-Identifier: Apache-2.0

package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timada/cobase/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Page selects a window of warehouse data rows. First/After paginate forward,
// Last/Before paginate backward; mixing directions is rejected.
type Page struct {
	First  int
	After  string
	Last   int
	Before string
}

type Edge struct {
	Cursor string               `json:"cursor"`
	Node   domain.WarehouseData `json:"node"`
}

type PageInfo struct {
	HasPreviousPage bool   `json:"hasPreviousPage"`
	HasNextPage     bool   `json:"hasNextPage"`
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
}

type Connection struct {
	Edges    []Edge   `json:"edges"`
	PageInfo PageInfo `json:"pageInfo"`
}

// Query serves keyset-paginated reads over a tenant's projection table,
// ordered by (created_at ascending, key ascending).
type Query struct {
	pool     *pgxpool.Pool
	registry *Registry
	logger   *slog.Logger
}

func NewQuery(pool *pgxpool.Pool, registry *Registry, logger *slog.Logger) *Query {
	if logger == nil {
		logger = slog.Default()
	}

	return &Query{
		pool:     pool,
		registry: registry,
		logger:   logger,
	}
}

// List returns one page of the tenant's warehouse data. A tenant with no
// provisioned table gets an empty connection, not an error.
func (q *Query) List(ctx context.Context, tenantID string, page Page) (Connection, error) {
	if err := validatePage(page); err != nil {
		return Connection{}, err
	}

	tableID, err := q.registry.Resolve(ctx, tenantID)
	if errors.Is(err, ErrNotProvisioned) {
		return Connection{Edges: []Edge{}}, nil
	}
	if err != nil {
		q.logger.Error("warehouse resolve failed", "tenant_id", tenantID, "error", err)
		return Connection{}, domain.Wrap(domain.CodeInternal, err, "failed to resolve warehouse")
	}

	table, err := dataTableName(tableID)
	if err != nil {
		return Connection{}, domain.Wrap(domain.CodeInternal, err, "failed to resolve warehouse")
	}

	backward := page.Last > 0 || page.Before != ""
	limit := pageLimit(page, backward)

	var (
		sql  string
		args []any
	)

	if backward {
		sql = fmt.Sprintf(`
			SELECT id, key, data, created_at, updated_at
			FROM %s
		`, table)
		if page.Before != "" {
			createdAt, key, err := decodeCursor(page.Before)
			if err != nil {
				return Connection{}, domain.BadRequest("invalid before cursor")
			}
			sql += ` WHERE (created_at, key) < ($1, $2)`
			args = append(args, createdAt, key)
		}
		sql += fmt.Sprintf(` ORDER BY created_at DESC, key DESC LIMIT %d`, limit+1)
	} else {
		sql = fmt.Sprintf(`
			SELECT id, key, data, created_at, updated_at
			FROM %s
		`, table)
		if page.After != "" {
			createdAt, key, err := decodeCursor(page.After)
			if err != nil {
				return Connection{}, domain.BadRequest("invalid after cursor")
			}
			sql += ` WHERE (created_at, key) > ($1, $2)`
			args = append(args, createdAt, key)
		}
		sql += fmt.Sprintf(` ORDER BY created_at ASC, key ASC LIMIT %d`, limit+1)
	}

	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		q.logger.Error("warehouse data query failed", "tenant_id", tenantID, "error", err)
		return Connection{}, domain.Wrap(domain.CodeInternal, err, "failed to list warehouse data")
	}
	defer rows.Close()

	var nodes []domain.WarehouseData
	for rows.Next() {
		var row domain.WarehouseData
		if err := rows.Scan(&row.ID, &row.Key, &row.Data, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return Connection{}, domain.Wrap(domain.CodeInternal, err, "failed to list warehouse data")
		}
		nodes = append(nodes, row)
	}
	if err := rows.Err(); err != nil {
		return Connection{}, domain.Wrap(domain.CodeInternal, err, "failed to list warehouse data")
	}

	hasMore := len(nodes) > limit
	if hasMore {
		nodes = nodes[:limit]
	}

	if backward {
		reverse(nodes)
	}

	conn := Connection{Edges: make([]Edge, 0, len(nodes))}
	for _, node := range nodes {
		conn.Edges = append(conn.Edges, Edge{
			Cursor: encodeCursor(node.CreatedAt, node.Key),
			Node:   node,
		})
	}

	if backward {
		conn.PageInfo.HasPreviousPage = hasMore
		conn.PageInfo.HasNextPage = page.Before != ""
	} else {
		conn.PageInfo.HasNextPage = hasMore
		conn.PageInfo.HasPreviousPage = page.After != ""
	}

	if len(conn.Edges) > 0 {
		conn.PageInfo.StartCursor = conn.Edges[0].Cursor
		conn.PageInfo.EndCursor = conn.Edges[len(conn.Edges)-1].Cursor
	}

	return conn, nil
}

func validatePage(page Page) error {
	forward := page.First > 0 || page.After != ""
	backward := page.Last > 0 || page.Before != ""
	if forward && backward {
		return domain.BadRequest("cannot paginate forward and backward at once")
	}
	if page.First < 0 || page.Last < 0 {
		return domain.BadRequest("page size must be positive")
	}
	return nil
}

func pageLimit(page Page, backward bool) int {
	limit := page.First
	if backward {
		limit = page.Last
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

func reverse(nodes []domain.WarehouseData) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}
