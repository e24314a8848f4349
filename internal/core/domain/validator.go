package domain

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrNotAllowed     = errors.New("only SELECT, INSERT, UPDATE and DELETE statements are allowed")
	ErrMultiStatement = errors.New("multiple statements are not allowed")
	ErrParseFailed    = errors.New("failed to parse SQL")
)

// StatementKind classifies a statement by its top-level command.
type StatementKind string

const (
	KindSelect StatementKind = "select"
	KindInsert StatementKind = "insert"
	KindUpdate StatementKind = "update"
	KindDelete StatementKind = "delete"
)

// IsWrite reports whether the statement modifies data.
func (k StatementKind) IsWrite() bool {
	return k == KindInsert || k == KindUpdate || k == KindDelete
}

// Statement is a single parsed SQL statement. It is owned by one pipeline run
// and is not safe for concurrent mutation.
type Statement struct {
	sql       string
	tree      *pg_query.ParseResult
	body      *pg_query.Node // the statement itself, unwrapped from EXPLAIN
	kind      StatementKind
	explain   bool
	rewritten bool
}

// Parse parses the SQL using PostgreSQL's actual parser and rejects anything
// that isn't a single SELECT, INSERT, UPDATE or DELETE (optionally under EXPLAIN).
func Parse(sql string) (*Statement, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, ErrEmptyQuery
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	if len(tree.Stmts) == 0 {
		return nil, ErrEmptyQuery
	}

	if len(tree.Stmts) > 1 {
		return nil, ErrMultiStatement
	}

	root := tree.Stmts[0].Stmt
	if root == nil {
		return nil, ErrEmptyQuery
	}

	st := &Statement{sql: trimmed, tree: tree, body: root}
	if ex := root.GetExplainStmt(); ex != nil {
		st.explain = true
		st.body = ex.Query
	}
	if st.body == nil {
		return nil, ErrEmptyQuery
	}

	switch x := st.body.Node.(type) {
	case *pg_query.Node_SelectStmt:
		if x.SelectStmt.IntoClause != nil {
			// SELECT INTO creates a table
			return nil, ErrNotAllowed
		}
		st.kind = KindSelect
	case *pg_query.Node_InsertStmt:
		st.kind = KindInsert
	case *pg_query.Node_UpdateStmt:
		st.kind = KindUpdate
	case *pg_query.Node_DeleteStmt:
		st.kind = KindDelete
	default:
		return nil, ErrNotAllowed
	}
	return st, nil
}

// SQL returns the statement text as it was parsed.
func (s *Statement) SQL() string { return s.sql }

func (s *Statement) Kind() StatementKind { return s.kind }

// IsExplain reports whether the statement was wrapped in EXPLAIN.
func (s *Statement) IsExplain() bool { return s.explain }

// Rewritten reports whether a pipeline has already processed the statement.
func (s *Statement) Rewritten() bool { return s.rewritten }

// MarkRewritten records that the statement went through a pipeline.
func (s *Statement) MarkRewritten() { s.rewritten = true }

// Deparse renders the (possibly rewritten) parse tree back to SQL.
func (s *Statement) Deparse() (string, error) {
	out, err := pg_query.Deparse(s.tree)
	if err != nil {
		return "", fmt.Errorf("deparsing statement: %w", err)
	}
	return out, nil
}

// Descriptor summarises the statement for the tenancy policy.
func (s *Statement) Descriptor() (StatementDescriptor, error) {
	d := StatementDescriptor{Kind: s.kind}

	w := &walker{rangeVar: func(rv *pg_query.RangeVar, _ cteScope) {
		d.Tables = append(d.Tables, tableRef(rv))
	}}
	w.node(s.body, nil)

	if where := s.whereClause(); where != nil {
		filter, err := deparseExpr(where)
		if err != nil {
			return StatementDescriptor{}, err
		}
		d.Filter = filter
	}
	return d, nil
}

func (s *Statement) whereClause() *pg_query.Node {
	switch n := s.body.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return n.SelectStmt.WhereClause
	case *pg_query.Node_UpdateStmt:
		return n.UpdateStmt.WhereClause
	case *pg_query.Node_DeleteStmt:
		return n.DeleteStmt.WhereClause
	}
	return nil
}

// deparseExpr renders a bare expression by deparsing it as the WHERE clause
// of an otherwise empty SELECT.
func deparseExpr(expr *pg_query.Node) (string, error) {
	tree := &pg_query.ParseResult{Stmts: []*pg_query.RawStmt{{
		Stmt: &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: &pg_query.SelectStmt{
			WhereClause: expr,
			LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
			Op:          pg_query.SetOperation_SETOP_NONE,
		}}},
	}}}
	out, err := pg_query.Deparse(tree)
	if err != nil {
		return "", fmt.Errorf("deparsing filter: %w", err)
	}
	_, filter, ok := strings.Cut(out, "WHERE ")
	if !ok {
		return "", fmt.Errorf("deparsing filter: unexpected output %q", out)
	}
	return strings.TrimSpace(filter), nil
}
