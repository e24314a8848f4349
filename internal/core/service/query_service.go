package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/tenantline/internal/core/domain"
	"github.com/guillermoBallester/tenantline/internal/core/port"
	"github.com/guillermoBallester/tenantline/internal/tenant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var ErrNoExecutor = errors.New("no database configured")

type toolNameKey struct{}

// WithToolName returns a context carrying the MCP tool name for audit logging.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey{}).(string); ok {
		return v
	}
	return ""
}

// QueryService orchestrates tenant rewriting (domain) and execution (infrastructure).
type QueryService struct {
	pipeline *Pipeline
	executor port.QueryExecutor // nil means rewrite-only
	auditor  port.QueryAuditor
	logger   *slog.Logger
	tracer   trace.Tracer
	inst     port.Instrumentation
}

func NewQueryService(pipeline *Pipeline, executor port.QueryExecutor, auditor port.QueryAuditor, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *QueryService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if auditor == nil {
		auditor = port.NoopAuditor{}
	}
	return &QueryService{
		pipeline: pipeline,
		executor: executor,
		auditor:  auditor,
		logger:   logger,
		tracer:   tracer,
		inst:     inst,
	}
}

func (s *QueryService) Mode() domain.TenancyMode { return s.pipeline.Policy().Mode() }

// CanExecute reports whether the service has a database behind it.
func (s *QueryService) CanExecute() bool { return s.executor != nil }

// Rewrite runs sql through the pipeline for the tenant carried by ctx.
func (s *QueryService) Rewrite(ctx context.Context, sql string) (*RewriteResult, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.Rewrite",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("tenancy.mode", string(s.pipeline.Policy().Mode())),
		),
	)
	defer span.End()

	res, err := s.rewrite(ctx, sql)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("tenancy.action", string(res.Instruction.Action)))
	return res, nil
}

func (s *QueryService) rewrite(ctx context.Context, sql string) (*RewriteResult, error) {
	tenantID, _ := tenant.FromContext(ctx)

	res, err := s.pipeline.Process(sql, tenantID)
	if err != nil {
		reason := rejectionReason(err)
		s.logger.WarnContext(ctx, "statement rejected",
			slog.String("db.statement", sql),
			slog.String("tenant", tenantID),
			slog.String("error.type", reason),
			slog.String("error.message", err.Error()),
		)
		s.inst.IncrementRejections(ctx, reason)
		return nil, fmt.Errorf("rewrite: %w", err)
	}

	s.inst.IncrementRewrites(ctx, string(res.Instruction.Action))
	s.logger.DebugContext(ctx, "statement rewritten",
		slog.String("tenant", tenantID),
		slog.String("db.statement", res.Original),
		slog.String("db.statement.rewritten", res.SQL),
		slog.String("tenancy.action", string(res.Instruction.Action)),
	)
	return res, nil
}

// Execute rewrites the SQL statement and, if allowed, delegates the rewritten
// statement to the executor. Every call is audited.
func (s *QueryService) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.Execute",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", sql),
		),
	)
	defer span.End()

	tenantID, _ := tenant.FromContext(ctx)
	entry := port.AuditEntry{
		ID:     uuid.NewString(),
		Tool:   toolNameFromCtx(ctx),
		Tenant: tenantID,
		Mode:   string(s.pipeline.Policy().Mode()),
		SQL:    sql,
	}

	if s.executor == nil {
		span.SetStatus(codes.Error, ErrNoExecutor.Error())
		s.inst.IncrementQueryErrors(ctx, "")
		entry.Err = ErrNoExecutor
		s.auditor.Record(ctx, entry)
		return nil, ErrNoExecutor
	}

	res, err := s.rewrite(ctx, sql)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementQueryErrors(ctx, "")
		entry.Err = err
		s.auditor.Record(ctx, entry)
		return nil, err
	}
	entry.RewrittenSQL = res.SQL
	kind := string(res.Kind)
	span.SetAttributes(
		attribute.String("db.statement.rewritten", res.SQL),
		attribute.String("db.operation.name", kind),
	)

	start := time.Now()
	results, err := s.executor.Execute(ctx, res.SQL)
	durationMS := time.Since(start).Milliseconds()

	s.inst.RecordQueryDuration(ctx, kind, float64(durationMS))

	entry.RowsReturned = len(results)
	entry.DurationMS = durationMS
	entry.Err = err
	s.auditor.Record(ctx, entry)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementQueryErrors(ctx, kind)
		return results, err
	}

	s.inst.IncrementQueryCount(ctx, kind)
	span.SetAttributes(attribute.Int("db.response.rows", len(results)))

	return results, nil
}

func rejectionReason(err error) string {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrMissingTenant):
		return "missing_tenant"
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.Is(err, domain.ErrFullTableWrite):
		return "full_table_write"
	case errors.Is(err, domain.ErrWriteDisabled):
		return "write_disabled"
	case errors.Is(err, domain.ErrUnscopableInsert):
		return "unscopable_insert"
	case errors.Is(err, domain.ErrUnscopableTable):
		return "unscopable_table"
	case errors.Is(err, domain.ErrParseFailed), errors.Is(err, domain.ErrEmptyQuery):
		return "parse_error"
	case errors.Is(err, domain.ErrNotAllowed), errors.Is(err, domain.ErrMultiStatement):
		return "not_allowed"
	case errors.Is(err, ErrAlreadyRewritten):
		return "already_rewritten"
	default:
		return "rewrite_error"
	}
}
