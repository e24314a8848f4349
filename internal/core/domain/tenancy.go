package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("invalid tenancy configuration")
	ErrMissingTenant = errors.New("tenant identity required")
)

// TenancyMode selects how statements are scoped to a tenant.
type TenancyMode string

const (
	ModeNone   TenancyMode = "NONE"
	ModeSchema TenancyMode = "SCHEMA"
	ModeColumn TenancyMode = "COLUMN"
)

// ConfigurationError reports an unsupported tenancy option. It is detected at
// startup and is fatal to process initialization.
type ConfigurationError struct {
	Option string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s value %q: %s", e.Option, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ParseTenancyMode accepts NONE, SCHEMA or COLUMN in any case. The empty
// string means NONE.
func ParseTenancyMode(s string) (TenancyMode, error) {
	switch TenancyMode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeSchema:
		return ModeSchema, nil
	case ModeColumn:
		return ModeColumn, nil
	default:
		return "", &ConfigurationError{
			Option: "MULTI_TENANT_TYPE",
			Value:  s,
			Reason: "must be NONE, SCHEMA, or COLUMN",
		}
	}
}

// TenancyConfig is loaded once at startup and never mutated afterwards.
type TenancyConfig struct {
	Mode         TenancyMode
	SchemaPrefix string // SCHEMA only; may be empty
	TenantColumn string // COLUMN only

	// IsExemptTable reports tables that bypass tenancy rewriting.
	// nil never exempts.
	IsExemptTable func(table string) bool
}

// Validate checks the config for values Decide cannot act on.
func (c TenancyConfig) Validate() error {
	switch c.Mode {
	case ModeNone, ModeSchema:
	case ModeColumn:
		if strings.TrimSpace(c.TenantColumn) == "" {
			return &ConfigurationError{
				Option: "TENANT_ID_COLUMN",
				Value:  c.TenantColumn,
				Reason: "required when MULTI_TENANT_TYPE is COLUMN",
			}
		}
	default:
		return &ConfigurationError{
			Option: "MULTI_TENANT_TYPE",
			Value:  string(c.Mode),
			Reason: "must be NONE, SCHEMA, or COLUMN",
		}
	}
	return nil
}
