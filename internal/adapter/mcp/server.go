package mcp

import (
	"log/slog"

	"github.com/guillermoBallester/tenantline/internal/core/port"
	"github.com/guillermoBallester/tenantline/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with tools and logging hooks. catalog may be
// nil when no database is configured.
func NewServer(version string, query *service.QueryService, catalog *service.CatalogService, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, query, catalog, logger)

	return s
}
