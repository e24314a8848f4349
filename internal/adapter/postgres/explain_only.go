package postgres

import (
	"context"
	"strings"

	"github.com/guillermoBallester/tenantline/internal/core/port"
)

// explainPrefix asks for a verbose JSON plan. VERBOSE prints schema-qualified
// relations and the pushed-down tenant filter, which is what an operator
// checking a rewrite wants to see.
const explainPrefix = "EXPLAIN (FORMAT JSON, VERBOSE) "

// ExplainOnlyExecutor plans every rewritten statement instead of running it,
// so DML can be checked against a live catalog without touching data.
type ExplainOnlyExecutor struct {
	inner port.QueryExecutor
}

func NewExplainOnlyExecutor(inner port.QueryExecutor) *ExplainOnlyExecutor {
	return &ExplainOnlyExecutor{inner: inner}
}

func (e *ExplainOnlyExecutor) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	if !isExplain(sql) {
		sql = explainPrefix + strings.TrimSpace(sql)
	}
	return e.inner.Execute(ctx, sql)
}

// isExplain reports whether sql already starts with the EXPLAIN keyword.
func isExplain(sql string) bool {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return false
	}
	kw, _, _ := strings.Cut(fields[0], "(")
	return strings.EqualFold(kw, "EXPLAIN")
}
