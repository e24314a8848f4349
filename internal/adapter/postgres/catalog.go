package postgres

import (
	"context"
	"fmt"

	"github.com/guillermoBallester/tenantline/internal/core/port"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog discovers tenant schemas from information_schema.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) ListSchemas(ctx context.Context, prefix string) ([]port.SchemaInfo, error) {
	rows, err := c.pool.Query(ctx, queryTenantSchemas, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing schemas: %w", err)
	}
	defer rows.Close()

	var schemas []port.SchemaInfo
	for rows.Next() {
		var s port.SchemaInfo
		if err := rows.Scan(&s.Name); err != nil {
			return nil, fmt.Errorf("scanning schema row: %w", err)
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}
