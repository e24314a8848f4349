package port

import "context"

// AuditEntry represents a single auditable statement event.
type AuditEntry struct {
	ID           string
	Tool         string
	Tenant       string
	Mode         string
	SQL          string
	RewrittenSQL string
	RowsReturned int
	DurationMS   int64
	Err          error
}

// QueryAuditor records statement audit events.
type QueryAuditor interface {
	Record(ctx context.Context, entry AuditEntry)
	Close() error
}

// NoopAuditor discards all audit entries.
type NoopAuditor struct{}

func (NoopAuditor) Record(context.Context, AuditEntry) {}
func (NoopAuditor) Close() error                       { return nil }
