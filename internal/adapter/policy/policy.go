package policy

import (
	"github.com/google/cel-go/cel"
)

// Policy holds operator-controlled configuration loaded from a YAML file.
//
//	tenancy:
//	  multi_tenant_type: SCHEMA
//	  tenant_database_prefix: tn_
//	  exempt_tables: [sys_config, countries]
//	  exempt_when: 'table.startsWith("sys_")'
type Policy struct {
	Tenancy TenancyPolicy `yaml:"tenancy"`
}

// TenancyPolicy mirrors the tenancy environment variables. Values set in the
// environment or on the command line take precedence.
type TenancyPolicy struct {
	MultiTenantType      string   `yaml:"multi_tenant_type"`
	TenantDatabasePrefix string   `yaml:"tenant_database_prefix"`
	TenantIDColumn       string   `yaml:"tenant_id_column"`
	ExemptTables         []string `yaml:"exempt_tables"`

	// ExemptWhen is a CEL expression over the string variable "table".
	ExemptWhen string `yaml:"exempt_when"`

	exemptWhen cel.Program
}
