package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// MaxLimit is the largest row cap a LIMIT constant can carry.
const MaxLimit = math.MaxInt32

var (
	ErrFullTableWrite = errors.New("UPDATE and DELETE require a restrictive WHERE clause")
	ErrWriteDisabled  = errors.New("write statements are disabled")
)

// LimitRows caps a top-level SELECT at max rows: a missing LIMIT becomes
// LIMIT max and a constant LIMIT above max is lowered to it. Non-constant
// limits are left alone. max <= 0 disables the cap; a max above MaxLimit
// is treated as MaxLimit. It reports whether the tree changed.
func (s *Statement) LimitRows(max int64) bool {
	max = min(max, MaxLimit)
	sel := s.body.GetSelectStmt()
	if max <= 0 || sel == nil {
		return false
	}

	if sel.LimitCount == nil {
		sel.LimitCount = pg_query.MakeAConstIntNode(max, -1)
		sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT
		return true
	}

	ac := sel.LimitCount.GetAConst()
	if ac == nil {
		return false
	}
	if ac.Isnull {
		// LIMIT ALL / LIMIT NULL
		sel.LimitCount = pg_query.MakeAConstIntNode(max, -1)
		return true
	}
	if constExceeds(ac, max) {
		sel.LimitCount = pg_query.MakeAConstIntNode(max, -1)
		return true
	}
	return false
}

// constExceeds reports whether a numeric constant is above max. Literals
// beyond int32 arrive as Fval, and a quoted count as Sval.
func constExceeds(ac *pg_query.A_Const, max int64) bool {
	switch v := ac.Val.(type) {
	case *pg_query.A_Const_Ival:
		return int64(v.Ival.Ival) > max
	case *pg_query.A_Const_Fval:
		return numericExceeds(v.Fval.Fval, max)
	case *pg_query.A_Const_Sval:
		return numericExceeds(v.Sval.Sval, max)
	}
	return false
}

func numericExceeds(lit string, max int64) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(lit), 64)
	return err == nil && f > float64(max)
}

// CheckFullTableWrite rejects UPDATE and DELETE statements whose WHERE is
// missing or trivially true.
func (s *Statement) CheckFullTableWrite() error {
	var where *pg_query.Node
	switch n := s.body.Node.(type) {
	case *pg_query.Node_UpdateStmt:
		where = n.UpdateStmt.WhereClause
	case *pg_query.Node_DeleteStmt:
		where = n.DeleteStmt.WhereClause
	default:
		return nil
	}
	if where == nil {
		return fmt.Errorf("%w: %s has no WHERE clause", ErrFullTableWrite, s.kind)
	}
	if alwaysTrue(where) {
		return fmt.Errorf("%w: %s WHERE clause is always true", ErrFullTableWrite, s.kind)
	}
	return nil
}

// CheckWritable rejects data-modifying statements.
func (s *Statement) CheckWritable() error {
	if s.kind.IsWrite() {
		return fmt.Errorf("%w: %s", ErrWriteDisabled, s.kind)
	}
	return nil
}

// alwaysTrue recognises the common tautologies: TRUE, 1 = 1, 'a' = 'a', and
// OR chains containing one of them.
func alwaysTrue(n *pg_query.Node) bool {
	if ac := n.GetAConst(); ac != nil {
		if b := ac.GetBoolval(); b != nil {
			return b.Boolval
		}
		return false
	}
	if b := n.GetBoolExpr(); b != nil && b.Boolop == pg_query.BoolExprType_OR_EXPR {
		for _, arg := range b.Args {
			if alwaysTrue(arg) {
				return true
			}
		}
		return false
	}
	e := n.GetAExpr()
	if e == nil || e.Kind != pg_query.A_Expr_Kind_AEXPR_OP || len(e.Name) != 1 {
		return false
	}
	if op := e.Name[0].GetString_(); op == nil || op.Sval != "=" {
		return false
	}
	l, r := e.Lexpr.GetAConst(), e.Rexpr.GetAConst()
	if l == nil || r == nil {
		return false
	}
	switch {
	case l.GetIval() != nil && r.GetIval() != nil:
		return l.GetIval().Ival == r.GetIval().Ival
	case l.GetSval() != nil && r.GetSval() != nil:
		return l.GetSval().Sval == r.GetSval().Sval
	}
	return false
}
