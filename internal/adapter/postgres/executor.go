package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/guillermoBallester/tenantline/internal/tenant"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RowsAffectedColumn is the key of the single result row returned for
// statements that produce no result set.
const RowsAffectedColumn = "rows_affected"

// ExecutorOptions configures every transaction the executor opens.
type ExecutorOptions struct {
	ReadOnly     bool
	QueryTimeout time.Duration // 0 leaves the server default

	// TenantSetting names a custom GUC (for example "app.tenant_id") set to
	// the request tenant for the transaction, so row level security policies
	// can back up the rewrite. Empty disables it.
	TenantSetting string
}

// Executor runs statements that already went through the rewrite pipeline.
// Row limits and tenant scoping live in the pipeline, not here.
type Executor struct {
	pool *pgxpool.Pool
	opts ExecutorOptions
}

func NewExecutor(pool *pgxpool.Pool, opts ExecutorOptions) *Executor {
	return &Executor{pool: pool, opts: opts}
}

func (e *Executor) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	if e.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.QueryTimeout)
		defer cancel()
	}

	accessMode := pgx.ReadWrite
	if e.opts.ReadOnly {
		accessMode = pgx.ReadOnly
	}
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: accessMode})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.prepare(ctx, tx); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("executing statement: %w", err)
	}
	results, err := collectRows(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return results, nil
}

// prepare applies transaction-local settings. Both are dropped at commit or
// rollback, so pooled connections never leak a tenant.
func (e *Executor) prepare(ctx context.Context, tx pgx.Tx) error {
	if e.opts.QueryTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = '%d'", e.opts.QueryTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("setting statement timeout: %w", err)
		}
	}

	if e.opts.TenantSetting == "" {
		return nil
	}
	id, ok := tenant.FromContext(ctx)
	if !ok {
		return nil
	}
	if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", e.opts.TenantSetting, id); err != nil {
		return fmt.Errorf("setting %s: %w", e.opts.TenantSetting, err)
	}
	return nil
}
