package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/castboard/internal/model"
)

// queryBuilder accumulates WHERE clauses and positional arguments.
type queryBuilder struct {
	where []string
	args  []any
}

// arg appends v and returns its placeholder.
func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *queryBuilder) add(clause string) {
	b.where = append(b.where, clause)
}

func (b *queryBuilder) whereSQL() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

// pageSQL returns the LIMIT/OFFSET suffix for a normalized page.
func (b *queryBuilder) pageSQL(p model.Page) string {
	p = p.Normalize()
	s := " LIMIT " + b.arg(p.Limit)
	if p.Offset > 0 {
		s += " OFFSET " + b.arg(p.Offset)
	}
	return s
}

// parseSortClause converts a sort string like "-last_seen_at" into a safe
// ORDER BY clause. Nulls sort last in both directions. Columns outside
// allowed fall back to fallback.
func parseSortClause(sort string, allowed []string, fallback string) string {
	if sort == "" {
		return fallback
	}

	desc := false
	col := sort
	if strings.HasPrefix(sort, "-") {
		desc = true
		col = sort[1:]
	}

	for _, a := range allowed {
		if col == a {
			if desc {
				return col + " DESC NULLS LAST"
			}
			return col + " ASC"
		}
	}
	return fallback
}

// execAffectingOne runs a statement and maps zero affected rows to sql.ErrNoRows.
func execAffectingOne(ctx context.Context, db executor, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// execCount runs a statement and returns the number of affected rows.
func execCount(ctx context.Context, db executor, query string, args ...any) (int, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
