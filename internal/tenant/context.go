// Package tenant carries the current tenant identity through a request's
// context.Context. The identity is request-scoped; nothing here is global.
package tenant

import (
	"context"
	"strings"
)

type tenantKey struct{}

// WithTenant returns a context carrying the tenant id. An empty id returns
// ctx unchanged.
func WithTenant(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, id)
}

// FromContext returns the tenant id carried by ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey{}).(string)
	return id, ok && id != ""
}
