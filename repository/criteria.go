package repository

import "github.com/uptrace/bun"

// WhereEq filters on column = value.
func WhereEq(column string, value any) SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(column), value)
	}
}

// OrderBy orders by column, descending when desc is set.
func OrderBy(column string, desc bool) SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if desc {
			return q.OrderExpr("?TableAlias.? DESC", bun.Ident(column))
		}
		return q.OrderExpr("?TableAlias.? ASC", bun.Ident(column))
	}
}
