// Package sqlbuilderutil derives sqlbuilder tables from model structs and
// holds the handful of expressions the store builds queries from.
package sqlbuilderutil

import (
	"fmt"
	"strings"

	"fknsrs.biz/p/reflectutil"
	sb "fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/ytfeeds/internal/stringutil"
)

// Table is a sqlbuilder table whose columns can be named by Go field name,
// lowercased field name, or column name.
type Table struct {
	*sb.Table
	name    string
	columns []string
	lookup  map[string]string
}

// C resolves name and returns its column. Unknown names pass through, so
// sqlbuilder reports them when the query runs.
func (t *Table) C(name string) *sb.BasicColumn {
	return t.Table.C(t.ColumnName(name))
}

func (t *Table) ColumnName(name string) string {
	if c, ok := t.lookup[name]; ok {
		return c
	}

	return name
}

func (t *Table) Name() string { return t.name }

// Columns lists column names in struct order.
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// Order turns field names into ordering terms; a leading "-" sorts that
// field descending.
func (t *Table) Order(fields ...string) []sb.AsOrderingTerm {
	terms := make([]sb.AsOrderingTerm, 0, len(fields))

	for _, f := range fields {
		if name, ok := strings.CutPrefix(f, "-"); ok {
			terms = append(terms, sb.OrderDesc(t.C(name)))
		} else {
			terms = append(terms, sb.OrderAsc(t.C(f)))
		}
	}

	return terms
}

// MakeTable reads the `sql` tags of v. A tag value renames the column, "-"
// skips the field, and a "table" parameter on any field names the table,
// which otherwise is the snake_cased struct name.
func MakeTable(v interface{}) (*Table, error) {
	s, err := reflectutil.GetDescription(v)
	if err != nil {
		return nil, fmt.Errorf("sqlbuilderutil.MakeTable: could not get struct description: %w", err)
	}

	t := &Table{
		name:   stringutil.PascalToSnake(s.Name()),
		lookup: make(map[string]string),
	}

	for _, f := range s.Fields().WithoutTagValue("sql", "-") {
		column := stringutil.PascalToSnake(f.Name())

		if tag := f.Tag("sql"); tag != nil {
			if tag.Value() != "" {
				column = tag.Value()
			}
			if p := tag.Parameter("table"); p != nil {
				t.name = p.Value()
			}
		}

		if _, ok := t.lookup[column]; ok {
			return nil, fmt.Errorf("sqlbuilderutil.MakeTable: column %q appears more than once in %s", column, s.Name())
		}

		t.columns = append(t.columns, column)

		for _, alias := range []string{f.Name(), strings.ToLower(f.Name()), column} {
			t.lookup[alias] = column
		}
	}

	t.Table = sb.NewTable(t.name, t.columns...)

	return t, nil
}

func MustMakeTable(v interface{}) *Table {
	t, err := MakeTable(v)
	if err != nil {
		panic(err)
	}
	return t
}

// ContainsFold matches rows where column contains needle, ignoring case.
// Null columns never match.
func ContainsFold(column sb.AsExpr, needle string) sb.AsExpr {
	return sb.Ne(
		sb.Func("instr", sb.Func("lower", sb.Func("coalesce", column, sb.Literal("''"))), sb.Bind(strings.ToLower(needle))),
		sb.Literal("0"),
	)
}

// AnyContainsFold matches rows where at least one of columns contains
// needle, ignoring case.
func AnyContainsFold(needle string, columns ...sb.AsExpr) sb.AsExpr {
	exprs := make([]sb.AsExpr, len(columns))
	for i, c := range columns {
		exprs[i] = ContainsFold(c, needle)
	}

	return sb.BooleanOperator("or", exprs...)
}
