package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/guillermoBallester/tenantline"

// Instruments holds pre-created OTel metric instruments. It implements
// port.Instrumentation.
type Instruments struct {
	Rewrites      metric.Int64Counter
	Rejections    metric.Int64Counter
	QueryCount    metric.Int64Counter
	QueryDuration metric.Float64Histogram
	QueryErrors   metric.Int64Counter
	ToolDuration  metric.Float64Histogram
}

// NewInstruments creates metric instruments from the global MeterProvider.
func NewInstruments() *Instruments {
	return newInstrumentsFromMeter(otel.Meter(meterName))
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	return newInstrumentsFromMeter(noop.NewMeterProvider().Meter(meterName))
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	rewrites, _ := meter.Int64Counter("tenantline.rewrite.count",
		metric.WithDescription("Statements accepted by the rewrite pipeline, by tenancy action"),
	)
	rejections, _ := meter.Int64Counter("tenantline.rewrite.rejections",
		metric.WithDescription("Statements rejected by the rewrite pipeline, by reason"),
	)
	queryCount, _ := meter.Int64Counter("tenantline.query.count",
		metric.WithDescription("Total number of rewritten statements executed"),
	)
	queryDuration, _ := meter.Float64Histogram("tenantline.query.duration",
		metric.WithDescription("Statement execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	queryErrors, _ := meter.Int64Counter("tenantline.query.errors",
		metric.WithDescription("Total number of failed statements"),
	)
	toolDuration, _ := meter.Float64Histogram("tenantline.tool.duration",
		metric.WithDescription("MCP tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Instruments{
		Rewrites:      rewrites,
		Rejections:    rejections,
		QueryCount:    queryCount,
		QueryDuration: queryDuration,
		QueryErrors:   queryErrors,
		ToolDuration:  toolDuration,
	}
}

func (i *Instruments) IncrementRewrites(ctx context.Context, action string) {
	i.Rewrites.Add(ctx, 1, metric.WithAttributes(attribute.String("tenancy.action", action)))
}

func (i *Instruments) IncrementRejections(ctx context.Context, reason string) {
	i.Rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("error.type", reason)))
}

func (i *Instruments) RecordQueryDuration(ctx context.Context, kind string, ms float64) {
	i.QueryDuration.Record(ctx, ms, statementKind(kind))
}

func (i *Instruments) IncrementQueryCount(ctx context.Context, kind string) {
	i.QueryCount.Add(ctx, 1, statementKind(kind))
}

func (i *Instruments) IncrementQueryErrors(ctx context.Context, kind string) {
	i.QueryErrors.Add(ctx, 1, statementKind(kind))
}

func (i *Instruments) RecordToolDuration(ctx context.Context, tool string, ms float64) {
	i.ToolDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("mcp.tool", tool)))
}

// statementKind labels query metrics with the statement kind. Rejected
// statements are labelled "unknown".
func statementKind(kind string) metric.MeasurementOption {
	if kind == "" {
		kind = "unknown"
	}
	return metric.WithAttributes(attribute.String("db.operation.name", kind))
}
