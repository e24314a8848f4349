package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/guillermoBallester/tenantline/internal/core/domain"
	"github.com/guillermoBallester/tenantline/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var ErrNotSchemaMode = errors.New("tenant discovery requires SCHEMA tenancy")

// CatalogService discovers tenants from the database catalog.
type CatalogService struct {
	policy  *domain.Policy
	catalog port.TenantCatalog
	tracer  trace.Tracer
}

func NewCatalogService(policy *domain.Policy, catalog port.TenantCatalog, tracer trace.Tracer) *CatalogService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return &CatalogService{policy: policy, catalog: catalog, tracer: tracer}
}

// ListTenants returns one entry per schema carrying the tenant prefix. With an
// empty prefix every non-system schema is treated as a tenant.
func (s *CatalogService) ListTenants(ctx context.Context) ([]port.TenantInfo, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.ListTenants")
	defer span.End()

	cfg := s.policy.Config()
	if cfg.Mode != domain.ModeSchema {
		return nil, ErrNotSchemaMode
	}
	if s.catalog == nil {
		return nil, ErrNoExecutor
	}

	schemas, err := s.catalog.ListSchemas(ctx, cfg.SchemaPrefix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing tenant schemas: %w", err)
	}

	tenants := make([]port.TenantInfo, 0, len(schemas))
	for _, sc := range schemas {
		id := strings.TrimPrefix(sc.Name, cfg.SchemaPrefix)
		if id == "" {
			continue
		}
		tenants = append(tenants, port.TenantInfo{ID: id, Schema: sc.Name})
	}
	span.SetAttributes(attribute.Int("tenancy.tenants", len(tenants)))
	return tenants, nil
}
