package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/guillermoBallester/tenantline/internal/core/domain"
	"github.com/guillermoBallester/tenantline/internal/core/port"
	"github.com/guillermoBallester/tenantline/internal/core/service"
	"github.com/guillermoBallester/tenantline/internal/tenant"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExecutor struct {
	result  []map[string]any
	err     error
	lastSQL string // captures the SQL passed to Execute
}

func (m *mockExecutor) Execute(_ context.Context, sql string) ([]map[string]any, error) {
	m.lastSQL = sql
	return m.result, m.err
}

type mockCatalog struct {
	schemas []port.SchemaInfo
	err     error
}

func (m *mockCatalog) ListSchemas(context.Context, string) ([]port.SchemaInfo, error) {
	return m.schemas, m.err
}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func callTool(t *testing.T, ctx context.Context, s *server.MCPServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	sessionCtx := initSession(t, ctx, s)

	// Call tool.
	reqBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "call-1", "method": "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	})
	resp := s.HandleMessage(sessionCtx, reqBytes)
	respBytes, _ := json.Marshal(resp)

	var rpc struct {
		Result *mcp.CallToolResult       `json:"result"`
		Error  *struct{ Message string } `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	require.Nil(t, rpc.Error, "unexpected RPC error: %v", rpc.Error)
	require.NotNil(t, rpc.Result)
	return rpc.Result
}

var sessionCounter atomic.Int64

// initSession registers a fresh in-process session so several calls can run
// against one server.
func initSession(t *testing.T, ctx context.Context, s *server.MCPServer) context.Context {
	t.Helper()
	session := server.NewInProcessSession(fmt.Sprintf("test-%d", sessionCounter.Add(1)), nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)
	return sessionCtx
}

func listTools(t *testing.T, s *server.MCPServer) []string {
	t.Helper()
	sessionCtx := initSession(t, context.Background(), s)

	reqBytes, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": "list-1", "method": "tools/list"})
	respBytes, _ := json.Marshal(s.HandleMessage(sessionCtx, reqBytes))

	var rpc struct {
		Result *mcp.ListToolsResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	require.NotNil(t, rpc.Result)

	names := make([]string, len(rpc.Result.Tools))
	for i, tool := range rpc.Result.Tools {
		names[i] = tool.Name
	}
	return names
}

func toolText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}

func setupServer(t *testing.T, cfg domain.TenancyConfig, executor port.QueryExecutor, catalog port.TenantCatalog) *server.MCPServer {
	t.Helper()
	logger := testLogger()

	policy, err := domain.NewPolicy(cfg)
	require.NoError(t, err)
	pipeline := service.NewPipeline(policy, service.PipelineOptions{MaxLimit: 100, BlockAttack: true}.Stages()...)
	querySvc := service.NewQueryService(pipeline, executor, port.NoopAuditor{}, logger, nil, nil)

	var catalogSvc *service.CatalogService
	if catalog != nil {
		catalogSvc = service.NewCatalogService(policy, catalog, nil)
	}

	s := server.NewMCPServer("test", "0.1.0", server.WithToolCapabilities(true))
	RegisterTools(s, querySvc, catalogSvc, logger)
	return s
}

var (
	schemaCfg = domain.TenancyConfig{Mode: domain.ModeSchema, SchemaPrefix: "tn_"}
	columnCfg = domain.TenancyConfig{Mode: domain.ModeColumn, TenantColumn: "tenant_id"}
)

// --- tests ---

func TestRegisterTools_DependsOnBackends(t *testing.T) {
	tests := []struct {
		name     string
		cfg      domain.TenancyConfig
		executor port.QueryExecutor
		catalog  port.TenantCatalog
		want     []string
	}{
		{"rewrite only", columnCfg, nil, nil, []string{"rewrite_sql"}},
		{"with database", columnCfg, &mockExecutor{}, &mockCatalog{}, []string{"query", "rewrite_sql"}},
		{"schema mode", schemaCfg, &mockExecutor{}, &mockCatalog{}, []string{"list_tenants", "query", "rewrite_sql"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupServer(t, tt.cfg, tt.executor, tt.catalog)
			assert.ElementsMatch(t, tt.want, listTools(t, s))
		})
	}
}

func TestRewriteSQL_HappyPath(t *testing.T) {
	s := setupServer(t, columnCfg, nil, nil)

	result := callTool(t, context.Background(), s, "rewrite_sql", map[string]any{
		"sql":    "DELETE FROM users WHERE id = 1",
		"tenant": "acme",
	})
	require.False(t, result.IsError, toolText(result))

	var res service.RewriteResult
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &res))
	assert.Equal(t, "DELETE FROM users WHERE id = 1 AND tenant_id = 'acme'", res.SQL)
	assert.Equal(t, domain.KindDelete, res.Kind)
	assert.Equal(t, domain.ActionPredicate, res.Instruction.Action)
	require.NotNil(t, res.Instruction.Predicate)
	assert.Equal(t, "acme", res.Instruction.Predicate.Value)
}

func TestRewriteSQL_ContextTenantWins(t *testing.T) {
	s := setupServer(t, schemaCfg, nil, nil)

	ctx := tenant.WithTenant(context.Background(), "globex")
	result := callTool(t, ctx, s, "rewrite_sql", map[string]any{
		"sql":    "SELECT * FROM users",
		"tenant": "acme",
	})
	require.False(t, result.IsError, toolText(result))
	assert.Contains(t, toolText(result), "tn_globex.users")
	assert.NotContains(t, toolText(result), "tn_acme")
}

func TestRewriteSQL_MissingTenant(t *testing.T) {
	s := setupServer(t, schemaCfg, nil, nil)

	result := callTool(t, context.Background(), s, "rewrite_sql", map[string]any{"sql": "SELECT 1"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "tenant identity required")
}

func TestRewriteSQL_MissingSQL(t *testing.T) {
	s := setupServer(t, schemaCfg, nil, nil)

	result := callTool(t, context.Background(), s, "rewrite_sql", map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "sql is required")
}

func TestQuery_HappyPath(t *testing.T) {
	executor := &mockExecutor{result: []map[string]any{{"id": float64(1)}}}
	s := setupServer(t, schemaCfg, executor, nil)

	result := callTool(t, context.Background(), s, "query", map[string]any{
		"sql":    "SELECT id FROM users",
		"tenant": "acme",
	})
	require.False(t, result.IsError, toolText(result))
	assert.Equal(t, "SELECT id FROM tn_acme.users LIMIT 100", executor.lastSQL)
	assert.JSONEq(t, `[{"id":1}]`, toolText(result))
}

func TestQuery_BlocksFullTableDelete(t *testing.T) {
	executor := &mockExecutor{}
	s := setupServer(t, schemaCfg, executor, nil)

	result := callTool(t, context.Background(), s, "query", map[string]any{
		"sql":    "DELETE FROM users",
		"tenant": "acme",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "restrictive WHERE")
	assert.Empty(t, executor.lastSQL)
}

func TestQuery_ExecutorError(t *testing.T) {
	executor := &mockExecutor{err: fmt.Errorf("connection refused")}
	s := setupServer(t, domain.TenancyConfig{}, executor, nil)

	result := callTool(t, context.Background(), s, "query", map[string]any{"sql": "SELECT 1"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "internal error")
}

func TestQuery_ValidationErrorPassthrough(t *testing.T) {
	s := setupServer(t, domain.TenancyConfig{}, &mockExecutor{}, nil)

	result := callTool(t, context.Background(), s, "query", map[string]any{"sql": "DROP TABLE users"})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), domain.ErrNotAllowed.Error())
}

func TestListTenants(t *testing.T) {
	catalog := &mockCatalog{schemas: []port.SchemaInfo{{Name: "tn_acme"}, {Name: "tn_globex"}}}
	s := setupServer(t, schemaCfg, &mockExecutor{}, catalog)

	result := callTool(t, context.Background(), s, "list_tenants", nil)
	require.False(t, result.IsError, toolText(result))

	var tenants []port.TenantInfo
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &tenants))
	assert.Equal(t, []port.TenantInfo{
		{ID: "acme", Schema: "tn_acme"},
		{ID: "globex", Schema: "tn_globex"},
	}, tenants)
}

// --- sanitizeError tests ---

func TestSanitizeError_ClientErrorsPassthrough(t *testing.T) {
	logger := testLogger()

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"empty query", domain.ErrEmptyQuery, domain.ErrEmptyQuery.Error()},
		{"not allowed", domain.ErrNotAllowed, domain.ErrNotAllowed.Error()},
		{"multi statement", domain.ErrMultiStatement, domain.ErrMultiStatement.Error()},
		{"parse error", fmt.Errorf("%w: syntax error", domain.ErrParseFailed), "syntax error"},
		{"missing tenant", fmt.Errorf("rewrite: %w", domain.ErrMissingTenant), "tenant identity required"},
		{"full table write", fmt.Errorf("block_attack: %w", domain.ErrFullTableWrite), "block_attack"},
		{"no database", service.ErrNoExecutor, "no database configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := sanitizeError(logger, tt.err, "query")
			assert.Contains(t, msg, tt.contains)
		})
	}
}

func TestSanitizeError_Timeout(t *testing.T) {
	logger := testLogger()

	msg := sanitizeError(logger, context.DeadlineExceeded, "query")
	assert.Contains(t, msg, "query timed out")

	pgErr := &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}
	msg = sanitizeError(logger, fmt.Errorf("executing statement: %w", pgErr), "query")
	assert.Contains(t, msg, "query timed out")
}

func TestSanitizeError_PgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "42P01", Message: `relation "tn_acme.users" does not exist`}
	msg := sanitizeError(testLogger(), pgErr, "query")
	assert.Contains(t, msg, "tn_acme.users")
	assert.Contains(t, msg, "42P01")
}

func TestSanitizeError_Generic(t *testing.T) {
	msg := sanitizeError(testLogger(), fmt.Errorf("unexpected pg error: relation OID 12345"), "list tenants")
	assert.Contains(t, msg, "internal error")
	assert.Contains(t, msg, "check server logs")
	assert.NotContains(t, msg, "OID")
}
