package port

import "context"

type SchemaInfo struct {
	Name string `json:"name"`
}

// TenantInfo is a tenant discovered from its schema in SCHEMA mode.
type TenantInfo struct {
	ID     string `json:"id"`
	Schema string `json:"schema"`
}

// TenantCatalog lists the schemas that back tenants.
type TenantCatalog interface {
	ListSchemas(ctx context.Context, prefix string) ([]SchemaInfo, error)
}
