package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

func compileExemptWhen(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(cel.Variable("table", cel.StringType))
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("expression must evaluate to a bool")
	}
	return env.Program(ast)
}

// ExemptHook returns the table-exemption predicate built from exempt_tables
// and exempt_when, or nil when the policy exempts nothing. Table names are
// compared case-insensitively. An expression that fails at evaluation time
// does not exempt the table.
func (t *TenancyPolicy) ExemptHook() func(table string) bool {
	if len(t.ExemptTables) == 0 && t.exemptWhen == nil {
		return nil
	}

	names := make(map[string]struct{}, len(t.ExemptTables))
	for _, n := range t.ExemptTables {
		names[strings.ToLower(n)] = struct{}{}
	}
	prg := t.exemptWhen

	return func(table string) bool {
		if _, ok := names[strings.ToLower(table)]; ok {
			return true
		}
		if prg == nil {
			return false
		}
		out, _, err := prg.Eval(map[string]any{"table": table})
		if err != nil {
			return false
		}
		v, ok := out.Value().(bool)
		return ok && v
	}
}

func (t *TenancyPolicy) compile() error {
	expr := strings.TrimSpace(t.ExemptWhen)
	if expr == "" {
		return nil
	}
	prg, err := compileExemptWhen(expr)
	if err != nil {
		return fmt.Errorf("tenancy.exempt_when: %w", err)
	}
	t.exemptWhen = prg
	return nil
}
