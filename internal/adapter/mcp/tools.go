package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/tenantline/internal/core/domain"
	"github.com/guillermoBallester/tenantline/internal/core/service"
	"github.com/guillermoBallester/tenantline/internal/tenant"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "tenantline"

// Tool descriptions
const (
	descRewriteSQL = "Rewrite a SQL statement for the current tenant without executing it. " +
		"Returns the original and rewritten SQL, the statement kind, the referenced tables as qualified " +
		"after rewriting, and the tenancy instruction that was applied (noop, schema, or predicate). " +
		"The server-side row limit and write guards are applied exactly as they would be for query."

	descQuery = "Rewrite a SQL statement for the current tenant and execute it against the database. " +
		"Returns results as a JSON array of objects; statements without a result set return " +
		"a single object with rows_affected. A server-side row limit and statement timeout are enforced, " +
		"and UPDATE or DELETE without a WHERE clause is rejected."

	descListTenants = "List the tenants that have a schema in the database. " +
		"Only available when the server runs with SCHEMA tenancy."

	descSQLParam    = "SQL statement (SELECT, INSERT, UPDATE, DELETE, or EXPLAIN of one of these)"
	descTenantParam = "Tenant id. Ignored when the transport already identifies the tenant."
)

// RegisterTools adds the tools the services can serve. query is only exposed
// when it has an executor, list_tenants only when catalog is non-nil and the
// policy runs in SCHEMA mode.
func RegisterTools(s *server.MCPServer, query *service.QueryService, catalog *service.CatalogService, logger *slog.Logger) {
	s.AddTool(
		mcp.NewTool("rewrite_sql",
			mcp.WithDescription(descRewriteSQL),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descSQLParam),
			),
			mcp.WithString("tenant",
				mcp.Description(descTenantParam),
			),
		),
		rewriteHandler(query, logger),
	)

	if query.CanExecute() {
		s.AddTool(
			mcp.NewTool("query",
				mcp.WithDescription(descQuery),
				mcp.WithString("sql",
					mcp.Required(),
					mcp.Description(descSQLParam),
				),
				mcp.WithString("tenant",
					mcp.Description(descTenantParam),
				),
			),
			queryHandler(query, logger),
		)
	}

	if catalog != nil && query.Mode() == domain.ModeSchema {
		s.AddTool(
			mcp.NewTool("list_tenants",
				mcp.WithDescription(descListTenants),
			),
			listTenantsHandler(catalog, logger),
		)
	}
}

// requestTenant returns ctx scoped to the tenant of the call. A tenant set by
// the transport wins over the tool argument.
func requestTenant(ctx context.Context, request mcp.CallToolRequest) context.Context {
	if _, ok := tenant.FromContext(ctx); ok {
		return ctx
	}
	if id, ok := request.GetArguments()["tenant"].(string); ok {
		return tenant.WithTenant(ctx, id)
	}
	return ctx
}

func rewriteHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		ctx = requestTenant(service.WithToolName(ctx, "rewrite_sql"), request)
		result, err := query.Rewrite(ctx, sql)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "rewrite")), nil
		}

		return jsonResult(result)
	}
}

func queryHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		ctx = requestTenant(service.WithToolName(ctx, "query"), request)
		results, err := query.Execute(ctx, sql)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "query")), nil
		}

		return jsonResult(results)
	}
}

func listTenantsHandler(catalog *service.CatalogService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenants, err := catalog.ListTenants(ctx)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "list tenants")), nil
		}
		return jsonResult(tenants)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// clientErrors are safe to show verbatim: they describe the caller's
// statement or request, never server internals.
var clientErrors = []error{
	domain.ErrEmptyQuery,
	domain.ErrParseFailed,
	domain.ErrMultiStatement,
	domain.ErrNotAllowed,
	domain.ErrMissingTenant,
	domain.ErrFullTableWrite,
	domain.ErrWriteDisabled,
	domain.ErrUnscopableInsert,
	domain.ErrUnscopableTable,
	service.ErrNoExecutor,
	service.ErrNotSchemaMode,
}

// sanitizeError maps an error to a message for the MCP client. Anything not
// recognised is logged and replaced with a generic message.
func sanitizeError(logger *slog.Logger, err error, op string) string {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return err.Error()
		}
	}

	var pgErr *pgconn.PgError
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &pgErr) && pgErr.Code == "57014") {
		return op + " timed out"
	}
	if errors.As(err, &pgErr) {
		// Constraint and syntax errors refer to the caller's statement.
		return fmt.Sprintf("%s failed: %s (SQLSTATE %s)", op, pgErr.Message, pgErr.Code)
	}

	logger.Error("tool failed", slog.String("operation", op), slog.String("error.message", err.Error()))
	return fmt.Sprintf("%s failed: internal error, check server logs", op)
}
