package domain

import (
	"errors"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var (
	ErrUnscopableInsert = errors.New("INSERT cannot be tenant scoped")
	ErrUnscopableTable  = errors.New("table reference cannot be tenant scoped")
)

// Apply mutates the parse tree according to the instruction. It is not
// idempotent: applying a predicate instruction twice appends it twice.
func (s *Statement) Apply(in RewriteInstruction) error {
	switch in.Action {
	case ActionNoop, "":
		return nil
	case ActionSchema:
		s.applySchema(in)
		return nil
	case ActionPredicate:
		if in.Predicate == nil {
			return fmt.Errorf("predicate instruction without predicate")
		}
		return s.applyPredicate(in)
	default:
		return fmt.Errorf("unknown rewrite action %q", in.Action)
	}
}

func (s *Statement) applySchema(in RewriteInstruction) {
	w := &walker{rangeVar: func(rv *pg_query.RangeVar, _ cteScope) {
		if !in.Exempt(rv.Relname) {
			rv.Schemaname = in.Schema
		}
	}}
	w.node(s.body, nil)
}

// applyPredicate scopes every statement in the tree. A table the walker
// reaches that no scope placed a predicate for fails the rewrite rather
// than running unfiltered.
func (s *Statement) applyPredicate(in RewriteInstruction) error {
	sc := &columnScoper{in: in, placed: make(map[*pg_query.RangeVar]bool)}
	w := &walker{stmt: sc.scope, rangeVar: sc.check}
	w.node(s.body, nil)
	return sc.err
}

// columnScoper appends the tenant predicate to every statement scope.
type columnScoper struct {
	in     RewriteInstruction
	placed map[*pg_query.RangeVar]bool
	err    error
}

func (c *columnScoper) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *columnScoper) check(rv *pg_query.RangeVar, _ cteScope) {
	if !c.placed[rv] && !c.in.Exempt(rv.Relname) {
		c.fail(fmt.Errorf("%w: %s", ErrUnscopableTable, tableRef(rv).Qualifier()))
	}
}

// placement is a base table together with the expression slot its
// predicate is conjoined into: a WHERE clause or the ON clause of an outer join.
type placement struct {
	rv     *pg_query.RangeVar
	target **pg_query.Node
}

func (c *columnScoper) scope(n *pg_query.Node, ctes cteScope) {
	switch x := n.Node.(type) {
	case *pg_query.Node_SelectStmt:
		sel := x.SelectStmt
		if sel.Op != pg_query.SetOperation_SETOP_NONE || len(sel.ValuesLists) > 0 {
			return
		}
		var ps []placement
		for _, from := range sel.FromClause {
			ps = collectPlacements(from, &sel.WhereClause, ctes, ps)
		}
		c.conjoinAll(ps, sharesScope(sel.FromClause))
	case *pg_query.Node_UpdateStmt:
		upd := x.UpdateStmt
		ps := c.dmlPlacements(upd.Relation, &upd.WhereClause, upd.FromClause, ctes)
		c.conjoinAll(ps, len(upd.FromClause) > 0)
	case *pg_query.Node_DeleteStmt:
		del := x.DeleteStmt
		ps := c.dmlPlacements(del.Relation, &del.WhereClause, del.UsingClause, ctes)
		c.conjoinAll(ps, len(del.UsingClause) > 0)
	case *pg_query.Node_InsertStmt:
		if err := c.scopeInsert(x.InsertStmt); err != nil {
			c.fail(err)
		}
	}
}

// sharesScope reports whether the FROM list exposes columns from more than
// one item, in which case an unqualified tenant column could be ambiguous.
func sharesScope(from []*pg_query.Node) bool {
	if len(from) > 1 {
		return true
	}
	return len(from) == 1 && from[0].GetJoinExpr() != nil
}

func (c *columnScoper) dmlPlacements(rel *pg_query.RangeVar, where **pg_query.Node, extra []*pg_query.Node, ctes cteScope) []placement {
	var ps []placement
	if rel != nil {
		ps = append(ps, placement{rv: rel, target: where})
	}
	for _, from := range extra {
		ps = collectPlacements(from, where, ctes, ps)
	}
	return ps
}

func (c *columnScoper) conjoinAll(ps []placement, qualify bool) {
	for _, p := range ps {
		c.placed[p.rv] = true
		if c.in.Exempt(p.rv.Relname) {
			continue
		}
		qualifier := ""
		if qualify {
			qualifier = tableRef(p.rv).Qualifier()
		}
		*p.target = conjoin(*p.target, predicateNode(qualifier, *c.in.Predicate))
	}
}

// collectPlacements finds the base tables of a FROM item. Tables on the
// nullable side of an outer join are filtered in the join's ON clause so the
// join keeps its outer semantics.
func collectPlacements(n *pg_query.Node, target **pg_query.Node, ctes cteScope, ps []placement) []placement {
	if n == nil {
		return ps
	}
	switch x := n.Node.(type) {
	case *pg_query.Node_RangeVar:
		if ctes.isTable(x.RangeVar) {
			ps = append(ps, placement{rv: x.RangeVar, target: target})
		}
	case *pg_query.Node_RangeTableSample:
		ps = collectPlacements(x.RangeTableSample.Relation, target, ctes, ps)
	case *pg_query.Node_JoinExpr:
		j := x.JoinExpr
		left, right := target, target
		switch j.Jointype {
		case pg_query.JoinType_JOIN_LEFT:
			right = &j.Quals
		case pg_query.JoinType_JOIN_RIGHT:
			left = &j.Quals
		case pg_query.JoinType_JOIN_FULL:
			left, right = &j.Quals, &j.Quals
		}
		ps = collectPlacements(j.Larg, left, ctes, ps)
		ps = collectPlacements(j.Rarg, right, ctes, ps)
	}
	return ps
}

func (c *columnScoper) scopeInsert(ins *pg_query.InsertStmt) error {
	if ins.Relation == nil {
		return nil
	}
	c.placed[ins.Relation] = true
	if c.in.Exempt(ins.Relation.Relname) {
		return nil
	}
	col := c.in.Predicate.Column
	for _, n := range ins.Cols {
		if rt := n.GetResTarget(); rt != nil && rt.Name == col {
			return nil
		}
	}
	if len(ins.Cols) == 0 {
		return fmt.Errorf("%w: %s has no column list", ErrUnscopableInsert, ins.Relation.Relname)
	}

	sel := ins.SelectStmt.GetSelectStmt()
	if sel == nil {
		return fmt.Errorf("%w: %s has no VALUES or SELECT", ErrUnscopableInsert, ins.Relation.Relname)
	}
	switch {
	case len(sel.ValuesLists) > 0:
		for _, row := range sel.ValuesLists {
			list := row.GetList()
			if list == nil {
				return fmt.Errorf("%w: unexpected VALUES row", ErrUnscopableInsert)
			}
			list.Items = append(list.Items, pg_query.MakeAConstStrNode(c.in.Predicate.Value, -1))
		}
	case sel.Op == pg_query.SetOperation_SETOP_NONE:
		sel.TargetList = append(sel.TargetList, &pg_query.Node{Node: &pg_query.Node_ResTarget{ResTarget: &pg_query.ResTarget{
			Val:      pg_query.MakeAConstStrNode(c.in.Predicate.Value, -1),
			Location: -1,
		}}})
	default:
		return fmt.Errorf("%w: INSERT from a set operation", ErrUnscopableInsert)
	}
	ins.Cols = append(ins.Cols, pg_query.MakeResTargetNodeWithName(col, -1))
	return nil
}

func predicateNode(qualifier string, p TenantPredicate) *pg_query.Node {
	var fields []*pg_query.Node
	if qualifier != "" {
		fields = append(fields, pg_query.MakeStrNode(qualifier))
	}
	fields = append(fields, pg_query.MakeStrNode(p.Column))
	return pg_query.MakeAExprNode(
		pg_query.A_Expr_Kind_AEXPR_OP,
		[]*pg_query.Node{pg_query.MakeStrNode("=")},
		pg_query.MakeColumnRefNode(fields, -1),
		pg_query.MakeAConstStrNode(p.Value, -1),
		-1,
	)
}

// conjoin ANDs pred onto existing, extending an existing AND chain in place.
func conjoin(existing, pred *pg_query.Node) *pg_query.Node {
	if existing == nil {
		return pred
	}
	if b := existing.GetBoolExpr(); b != nil && b.Boolop == pg_query.BoolExprType_AND_EXPR {
		b.Args = append(b.Args, pred)
		return existing
	}
	return pg_query.MakeBoolExprNode(pg_query.BoolExprType_AND_EXPR, []*pg_query.Node{existing, pred}, -1)
}
