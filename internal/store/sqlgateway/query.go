package sqlgateway

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/store"
)

// rebind rewrites ? placeholders to $N for Postgres. Statements are built with
// ? throughout so sqlite and pgx share one code path.
func (g *Gateway) rebind(query string) string {
	if g.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeArg converts Go values drivers disagree about into portable forms.
func normalizeArg(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func buildWhere(base string, f store.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	cond := func(c store.Cond) string {
		col := fmt.Sprintf("%q.%q", base, c.Column)
		switch c.Op {
		case store.OpNotNull:
			return col + " IS NOT NULL AND " + col + " <> ''"
		default:
			args = append(args, normalizeArg(c.Value))
			return col + " = ?"
		}
	}
	for _, c := range f.All {
		clauses = append(clauses, cond(c))
	}
	if len(f.Any) > 0 {
		ors := make([]string, 0, len(f.Any))
		for _, c := range f.Any {
			ors = append(ors, cond(c))
		}
		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// buildSelect renders a store.Query into one SELECT with LEFT JOINs. Joined
// columns are selected under dotted aliases ("postcard"."title" AS
// "postcard.title") and folded back into nested rows while scanning.
func buildSelect(collection string, q store.Query) (string, []any) {
	cols := q.Columns
	if len(cols) == 0 {
		cols = []string{"*"}
	}

	var sel []string
	for _, c := range cols {
		if c == "*" {
			sel = append(sel, fmt.Sprintf("%q.*", collection))
			continue
		}
		sel = append(sel, fmt.Sprintf("%q.%q", collection, c))
	}
	for _, j := range q.Joins {
		for _, c := range j.Columns {
			sel = append(sel, fmt.Sprintf("%q.%q AS %q", j.As, c, j.As+"."+c))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %q", strings.Join(sel, ", "), collection)
	for _, j := range q.Joins {
		fmt.Fprintf(&b, " LEFT JOIN %q AS %q ON %q.%q = %q.%q",
			j.Table, j.As, collection, j.LocalColumn, j.As, j.ForeignColumn)
	}

	where, args := buildWhere(collection, q.Filter)
	b.WriteString(where)

	if q.Order != nil {
		dir := "ASC"
		if q.Order.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %q.%q %s", collection, q.Order.Column, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args
}

// scanRows folds the flat result set into store.Rows, nesting dotted join
// aliases and dropping a join alias whose columns are all NULL (left join with
// no counterpart).
func scanRows(rows *sql.Rows) ([]store.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []store.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := store.Row{}
		nested := map[string]store.Row{}
		hasValue := map[string]bool{}
		for i, name := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			alias, col, dotted := strings.Cut(name, ".")
			if !dotted {
				row[name] = v
				continue
			}
			if nested[alias] == nil {
				nested[alias] = store.Row{}
			}
			nested[alias][col] = v
			if v != nil {
				hasValue[alias] = true
			}
		}
		for alias, sub := range nested {
			if hasValue[alias] {
				row[alias] = sub
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (g *Gateway) Query(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
	stmt, args := buildSelect(collection, q)
	rows, err := g.db.QueryContext(ctx, g.rebind(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", common.ErrRemoteRead, collection, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", common.ErrRemoteRead, collection, err)
	}
	return out, nil
}

func (g *Gateway) Insert(ctx context.Context, collection string, fields store.Fields) (store.Row, error) {
	id := fields["id"]
	if id == nil || id == "" {
		id = uuid.NewString()
	}

	cols := []string{"id"}
	args := []any{id}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		cols = append(cols, k)
		args = append(args, normalizeArg(v))
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	stmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
		collection, strings.Join(quoted, ", "), strings.Join(placeholders(len(cols)), ", "))
	if _, err := g.db.ExecContext(ctx, g.rebind(stmt), args...); err != nil {
		return nil, fmt.Errorf("%w: insert %s: %v", common.ErrRemoteWrite, collection, err)
	}

	rows, err := g.Query(ctx, collection, store.Query{Filter: store.Where(store.Eq("id", id))})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: insert %s: inserted row not found", common.ErrRemoteWrite, collection)
	}
	return rows[0], nil
}

func placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "?"
	}
	return out
}

func (g *Gateway) Update(ctx context.Context, collection string, f store.Filter, fields store.Fields) error {
	if len(fields) == 0 {
		return nil
	}
	var (
		sets []string
		args []any
	)
	for k, v := range fields {
		sets = append(sets, fmt.Sprintf("%q = ?", k))
		args = append(args, normalizeArg(v))
	}
	where, whereArgs := buildWhere(collection, f)
	stmt := fmt.Sprintf("UPDATE %q SET %s%s", collection, strings.Join(sets, ", "), where)
	if _, err := g.db.ExecContext(ctx, g.rebind(stmt), append(args, whereArgs...)...); err != nil {
		return fmt.Errorf("%w: update %s: %v", common.ErrRemoteWrite, collection, err)
	}
	return nil
}

func (g *Gateway) Delete(ctx context.Context, collection string, f store.Filter) error {
	where, args := buildWhere(collection, f)
	stmt := fmt.Sprintf("DELETE FROM %q%s", collection, where)
	if _, err := g.db.ExecContext(ctx, g.rebind(stmt), args...); err != nil {
		return fmt.Errorf("%w: delete %s: %v", common.ErrRemoteWrite, collection, err)
	}
	return nil
}
