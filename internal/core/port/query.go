package port

import "context"

// QueryExecutor runs an already rewritten statement against the database.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string) ([]map[string]any, error)
}
