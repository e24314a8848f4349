package domain

import (
	"fmt"
	"strings"
)

// TableRef is a table referenced by a statement.
type TableRef struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
	Alias  string `json:"alias,omitempty"`
}

// Qualifier returns the name the table is addressed by inside the statement.
func (t TableRef) Qualifier() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// StatementDescriptor is the per-statement input to the tenancy policy.
type StatementDescriptor struct {
	Kind   StatementKind `json:"kind"`
	Tables []TableRef    `json:"tables"`
	Filter string        `json:"filter,omitempty"` // deparsed top-level WHERE, empty if none
}

// RewriteAction is the strategy a RewriteInstruction carries.
type RewriteAction string

const (
	ActionNoop      RewriteAction = "noop"
	ActionSchema    RewriteAction = "schema"
	ActionPredicate RewriteAction = "predicate"
)

// TenantPredicate is the equality filter appended in COLUMN mode.
type TenantPredicate struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// String renders the predicate as SQL, quoting the value as a string literal.
func (p TenantPredicate) String() string {
	return p.Column + " = '" + strings.ReplaceAll(p.Value, "'", "''") + "'"
}

// RewriteInstruction tells the pipeline how to alter a statement. At most one
// of Schema and Predicate is set, matching Action.
type RewriteInstruction struct {
	Action    RewriteAction    `json:"action"`
	Schema    string           `json:"schema,omitempty"`
	Predicate *TenantPredicate `json:"predicate,omitempty"`

	exempt func(string) bool
}

func (in RewriteInstruction) IsNoop() bool { return in.Action == ActionNoop || in.Action == "" }

// Exempt reports whether the instruction skips the given table.
func (in RewriteInstruction) Exempt(table string) bool {
	return in.exempt != nil && in.exempt(table)
}

// QualifyTable returns the table as it reads after a SCHEMA rewrite.
func (in RewriteInstruction) QualifyTable(t TableRef) TableRef {
	if in.Action == ActionSchema && !in.Exempt(t.Name) {
		t.Schema = in.Schema
	}
	return t
}

// Filter returns the filter that results from applying the instruction to an
// existing filter expression.
func (in RewriteInstruction) Filter(existing string) string {
	if in.Action != ActionPredicate || in.Predicate == nil {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return in.Predicate.String()
	}
	return existing + " AND " + in.Predicate.String()
}

// Policy decides the tenancy rewrite for a statement. It holds only
// immutable configuration, so Decide is safe for concurrent use.
type Policy struct {
	cfg TenancyConfig
}

// NewPolicy validates cfg and returns a Policy bound to it.
func NewPolicy(cfg TenancyConfig) (*Policy, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeNone
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{cfg: cfg}, nil
}

func (p *Policy) Mode() TenancyMode { return p.cfg.Mode }

// Config returns a copy of the policy's configuration.
func (p *Policy) Config() TenancyConfig { return p.cfg }

// Decide returns the rewrite for stmt under the current tenant. A non-NONE
// mode with an empty tenant fails with ErrMissingTenant.
func (p *Policy) Decide(stmt StatementDescriptor, tenant string) (RewriteInstruction, error) {
	if p.cfg.Mode == ModeNone {
		return RewriteInstruction{Action: ActionNoop}, nil
	}
	if tenant == "" {
		return RewriteInstruction{}, fmt.Errorf("%w: %s tenancy, %s statement", ErrMissingTenant, p.cfg.Mode, stmt.Kind)
	}

	switch p.cfg.Mode {
	case ModeSchema:
		return RewriteInstruction{
			Action: ActionSchema,
			Schema: p.cfg.SchemaPrefix + tenant,
			exempt: p.cfg.IsExemptTable,
		}, nil
	case ModeColumn:
		return RewriteInstruction{
			Action:    ActionPredicate,
			Predicate: &TenantPredicate{Column: p.cfg.TenantColumn, Value: tenant},
			exempt:    p.cfg.IsExemptTable,
		}, nil
	}
	// Unreachable after Validate.
	return RewriteInstruction{}, &ConfigurationError{Option: "MULTI_TENANT_TYPE", Value: string(p.cfg.Mode), Reason: "unsupported"}
}
