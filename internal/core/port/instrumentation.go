package port

import "context"

// Instrumentation records application-level metrics. kind is the statement
// kind (select, insert, update, delete); it is empty when a statement was
// rejected before its kind was known.
type Instrumentation interface {
	IncrementRewrites(ctx context.Context, action string)
	IncrementRejections(ctx context.Context, reason string)
	IncrementQueryCount(ctx context.Context, kind string)
	IncrementQueryErrors(ctx context.Context, kind string)
	RecordQueryDuration(ctx context.Context, kind string, ms float64)
	RecordToolDuration(ctx context.Context, tool string, ms float64)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) IncrementRewrites(context.Context, string)            {}
func (NoopInstrumentation) IncrementRejections(context.Context, string)          {}
func (NoopInstrumentation) IncrementQueryCount(context.Context, string)          {}
func (NoopInstrumentation) IncrementQueryErrors(context.Context, string)         {}
func (NoopInstrumentation) RecordQueryDuration(context.Context, string, float64) {}
func (NoopInstrumentation) RecordToolDuration(context.Context, string, float64)  {}
