package policy

import "github.com/guillermoBallester/tenantline/internal/config"

// MergeTenancy fills tenancy settings that the environment and flags left
// empty. Values already set always take precedence over the file.
func MergeTenancy(dst *config.Tenancy, pol TenancyPolicy) {
	if dst == nil {
		return
	}
	if dst.Mode == "" {
		dst.Mode = pol.MultiTenantType
	}
	if dst.SchemaPrefix == "" {
		dst.SchemaPrefix = pol.TenantDatabasePrefix
	}
	if dst.TenantColumn == "" {
		dst.TenantColumn = pol.TenantIDColumn
	}
}
