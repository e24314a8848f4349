package domain

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// cteScope holds the CTE names visible at a point in the tree. A RangeVar
// naming one of them refers to the CTE, not to a table.
type cteScope map[string]bool

func (c cteScope) plus(names ...string) cteScope {
	if len(names) == 0 {
		return c
	}
	next := make(cteScope, len(c)+len(names))
	for k := range c {
		next[k] = true
	}
	for _, name := range names {
		next[name] = true
	}
	return next
}

func (c cteScope) isTable(rv *pg_query.RangeVar) bool {
	return rv.Schemaname != "" || !c[rv.Relname]
}

// Fields the generic traversal must not descend into. Statement clauses are
// walked explicitly; locked_rels name FROM items, not tables; the DML
// relation is the target and is handled on its own.
var (
	selectSkip = map[protoreflect.Name]bool{"with_clause": true, "locking_clause": true}
	dmlSkip    = map[protoreflect.Name]bool{"with_clause": true, "relation": true}
)

// walker visits every statement and table reference reachable from a node.
// stmt is called on SELECT/INSERT/UPDATE/DELETE nodes before their children;
// rangeVar on every RangeVar that names a table. Any node type not handled
// explicitly is traversed field by field, so a table cannot hide in an
// expression position the walker does not know about.
type walker struct {
	stmt     func(n *pg_query.Node, ctes cteScope)
	rangeVar func(rv *pg_query.RangeVar, ctes cteScope)
}

func (w *walker) node(n *pg_query.Node, ctes cteScope) {
	if n == nil {
		return
	}
	switch x := n.Node.(type) {
	case *pg_query.Node_SelectStmt:
		s := x.SelectStmt
		w.statement(n, s.ProtoReflect(), s.WithClause, nil, selectSkip, ctes)
	case *pg_query.Node_InsertStmt:
		s := x.InsertStmt
		w.statement(n, s.ProtoReflect(), s.WithClause, s.Relation, dmlSkip, ctes)
	case *pg_query.Node_UpdateStmt:
		s := x.UpdateStmt
		w.statement(n, s.ProtoReflect(), s.WithClause, s.Relation, dmlSkip, ctes)
	case *pg_query.Node_DeleteStmt:
		s := x.DeleteStmt
		w.statement(n, s.ProtoReflect(), s.WithClause, s.Relation, dmlSkip, ctes)
	case *pg_query.Node_RangeVar:
		w.relation(x.RangeVar, ctes)
	default:
		m := n.ProtoReflect()
		if fd := m.WhichOneof(m.Descriptor().Oneofs().ByName("node")); fd != nil && fd.Kind() == protoreflect.MessageKind {
			w.message(m.Get(fd).Message(), ctes)
		}
	}
}

// statement walks the WITH clause, reports the statement, then its target
// and every other clause under the scope that includes its CTEs.
func (w *walker) statement(n *pg_query.Node, body protoreflect.Message, wc *pg_query.WithClause, target *pg_query.RangeVar, skip map[protoreflect.Name]bool, ctes cteScope) {
	ctes = w.withClause(wc, ctes)
	if w.stmt != nil {
		w.stmt(n, ctes)
	}
	// A CTE cannot be the target of INSERT, UPDATE or DELETE.
	if target != nil && w.rangeVar != nil {
		w.rangeVar(target, ctes)
	}
	w.fields(body, skip, ctes)
}

// withClause walks each CTE body and returns the scope for the statement
// body. A non-recursive CTE sees only the CTEs declared before it; under
// WITH RECURSIVE every CTE of the clause is visible to every body.
func (w *walker) withClause(wc *pg_query.WithClause, ctes cteScope) cteScope {
	if wc == nil || len(wc.Ctes) == 0 {
		return ctes
	}
	var names []string
	for _, n := range wc.Ctes {
		if cte := n.GetCommonTableExpr(); cte != nil {
			names = append(names, cte.Ctename)
		}
	}
	full := ctes.plus(names...)

	visible := ctes
	for _, n := range wc.Ctes {
		cte := n.GetCommonTableExpr()
		if cte == nil {
			continue
		}
		if wc.Recursive {
			w.node(cte.Ctequery, full)
		} else {
			w.node(cte.Ctequery, visible)
			visible = visible.plus(cte.Ctename)
		}
	}
	return full
}

// fields visits every populated message field of m in declaration order.
func (w *walker) fields(m protoreflect.Message, skip map[protoreflect.Name]bool, ctes cteScope) {
	fds := m.Descriptor().Fields()
	for i := 0; i < fds.Len(); i++ {
		fd := fds.Get(i)
		if fd.Kind() != protoreflect.MessageKind || skip[fd.Name()] || !m.Has(fd) {
			continue
		}
		v := m.Get(fd)
		if fd.IsList() {
			list := v.List()
			for j := 0; j < list.Len(); j++ {
				w.message(list.Get(j).Message(), ctes)
			}
			continue
		}
		w.message(v.Message(), ctes)
	}
}

func (w *walker) message(m protoreflect.Message, ctes cteScope) {
	switch x := m.Interface().(type) {
	case *pg_query.Node:
		w.node(x, ctes)
	case *pg_query.SelectStmt:
		// set operation arms
		w.node(&pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: x}}, ctes)
	case *pg_query.RangeVar:
		w.relation(x, ctes)
	default:
		w.fields(m, nil, ctes)
	}
}

func (w *walker) relation(rv *pg_query.RangeVar, ctes cteScope) {
	if rv == nil || !ctes.isTable(rv) {
		return
	}
	if w.rangeVar != nil {
		w.rangeVar(rv, ctes)
	}
}

func tableRef(rv *pg_query.RangeVar) TableRef {
	ref := TableRef{Schema: rv.Schemaname, Name: rv.Relname}
	if rv.Alias != nil {
		ref.Alias = rv.Alias.Aliasname
	}
	return ref
}
