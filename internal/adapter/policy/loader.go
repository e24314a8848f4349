package policy

import (
	"fmt"
	"os"

	"github.com/guillermoBallester/tenantline/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a YAML policy file and returns a validated Policy with
// its exemption expression compiled.
func LoadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates policy YAML.
func Parse(data []byte) (*Policy, error) {
	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	if err := validate(&pol); err != nil {
		return nil, fmt.Errorf("validating policy: %w", err)
	}
	if err := pol.Tenancy.compile(); err != nil {
		return nil, fmt.Errorf("validating policy: %w", err)
	}

	return &pol, nil
}

func validate(pol *Policy) error {
	t := pol.Tenancy
	if t.MultiTenantType != "" {
		if _, err := domain.ParseTenancyMode(t.MultiTenantType); err != nil {
			return fmt.Errorf("tenancy.multi_tenant_type: %w", err)
		}
	}
	for i, name := range t.ExemptTables {
		if name == "" {
			return fmt.Errorf("tenancy.exempt_tables[%d] is empty", i)
		}
	}
	return nil
}
