package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guillermoBallester/tenantline/internal/core/port"
	"github.com/guillermoBallester/tenantline/internal/tenant"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// callState holds per-request timing and span data.
type callState struct {
	start  time.Time
	span   trace.Span
	tenant string
}

// callTenant reports the tenant a call runs for, the same way the tool
// handlers resolve it.
func callTenant(ctx context.Context, req *mcp.CallToolRequest) string {
	if id, ok := tenant.FromContext(ctx); ok {
		return id
	}
	id, _ := req.GetArguments()["tenant"].(string)
	return id
}

// ToolCallHooks creates MCP hooks that log tool calls and optionally record
// OTel spans and metrics. tracer and inst may be nil.
func ToolCallHooks(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.Hooks {
	hooks := &server.Hooks{}
	var calls sync.Map // id -> *callState

	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		state := &callState{start: time.Now(), tenant: callTenant(ctx, req)}

		if tracer != nil {
			_, span := tracer.Start(ctx, "mcp.tool.call",
				trace.WithAttributes(
					attribute.String("mcp.tool", req.Params.Name),
					attribute.String("tenant", state.tenant),
				),
			)
			state.span = span
		}

		calls.Store(id, state)
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, result any) {
		state := &callState{}
		if v, ok := calls.LoadAndDelete(id); ok {
			state = v.(*callState)
		}
		duration := time.Since(state.start)
		if state.start.IsZero() {
			duration = 0
		}

		level := slog.LevelInfo
		isErr := false
		if r, ok := result.(*mcp.CallToolResult); ok && r.IsError {
			level = slog.LevelWarn
			isErr = true
		}

		logger.LogAttrs(ctx, level, "tool call",
			slog.String("rpc.method", "tools/call"),
			slog.String("mcp.tool", req.Params.Name),
			slog.String("tenant", state.tenant),
			slog.Duration("duration", duration),
			slog.Bool("error", isErr),
		)

		if inst != nil {
			inst.RecordToolDuration(ctx, req.Params.Name, float64(duration.Milliseconds()))
		}

		if state.span != nil {
			if isErr {
				state.span.SetStatus(codes.Error, "tool returned error")
				state.span.RecordError(fmt.Errorf("tool %s returned error", req.Params.Name))
			}
			state.span.End()
		}
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		state := &callState{}
		if v, ok := calls.LoadAndDelete(id); ok {
			state = v.(*callState)
		}

		if req, ok := message.(*mcp.CallToolRequest); ok && req.Params.Name != "" {
			logger.LogAttrs(ctx, slog.LevelError, "tool call",
				slog.String("rpc.method", string(method)),
				slog.String("mcp.tool", req.Params.Name),
				slog.String("tenant", state.tenant),
				slog.Bool("error", true),
				slog.String("error.message", err.Error()),
			)
		}

		if state.span != nil {
			state.span.RecordError(err)
			state.span.SetStatus(codes.Error, err.Error())
			state.span.End()
		}
	})

	return hooks
}
