package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/mickamy/ormassoc/scope"
)

// Row is a single record keyed by column name. Values scanned from the
// database are whatever the driver returns, except that []byte becomes string.
type Row map[string]any

// Query represents a pending query against a single table.
// All builder methods return a new Query; the receiver is never modified.
type Query struct {
	db      Querier
	table   string
	pk      string
	columns []string
	created string
	updated string

	wheres   []whereClause
	orderBys []string
	limit    *int
	offset   *int
}

type whereClause struct {
	clause string
	args   []any
}

// Table starts a query against table, whose primary key column is pk.
func Table(db Querier, table, pk string) *Query {
	return &Query{db: db, table: table, pk: pk}
}

// Name returns the table name.
func (q *Query) Name() string { return q.table }

// PK returns the primary key column.
func (q *Query) PK() string { return q.pk }

// clone returns a shallow copy with slices copied to avoid aliasing.
func (q *Query) clone() *Query {
	q2 := *q
	q2.columns = append([]string(nil), q.columns...)
	q2.wheres = append([]whereClause(nil), q.wheres...)
	q2.orderBys = append([]string(nil), q.orderBys...)
	return &q2
}

// --- Builder methods ---

// Columns restricts SELECT to the given columns. Without it every column
// is selected.
func (q *Query) Columns(columns ...string) *Query {
	q2 := q.clone()
	q2.columns = append([]string(nil), columns...)
	return q2
}

// Timestamps makes Create stamp created and updated, and Update and Upsert
// stamp updated, with the time of the Clock in the context. Empty names
// disable the respective column.
func (q *Query) Timestamps(created, updated string) *Query {
	q2 := q.clone()
	q2.created = created
	q2.updated = updated
	return q2
}

func (q *Query) Where(clause string, args ...any) *Query {
	q2 := q.clone()
	q2.wheres = append(q2.wheres, whereClause{clause, args})
	return q2
}

// WhereEq adds "column = value" with column quoted by the dialect.
func (q *Query) WhereEq(column string, value any) *Query {
	q2 := q.clone()
	q2.ApplyEq(column, value)
	return q2
}

func (q *Query) OrderBy(clause string) *Query {
	q2 := q.clone()
	q2.orderBys = append(q2.orderBys, clause)
	return q2
}

func (q *Query) Limit(n int) *Query {
	q2 := q.clone()
	q2.limit = &n
	return q2
}

func (q *Query) Offset(n int) *Query {
	q2 := q.clone()
	q2.offset = &n
	return q2
}

// Scopes applies the given scope.Scope values to the query.
func (q *Query) Scopes(scopes ...scope.Scope) *Query {
	q2 := q.clone()
	for _, s := range scopes {
		s.Apply(q2)
	}
	return q2
}

// --- scope.Applier implementation ---

func (q *Query) ApplyWhere(clause string, args []any) {
	q.wheres = append(q.wheres, whereClause{clause, args})
}

func (q *Query) ApplyEq(column string, value any) {
	q.wheres = append(q.wheres, whereClause{q.qi(column) + " = ?", []any{value}})
}

func (q *Query) ApplyIn(column string, values []any) {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	q.wheres = append(q.wheres, whereClause{q.qi(column) + " IN (" + marks + ")", values})
}

func (q *Query) ApplyOrderBy(clause string) {
	q.orderBys = append(q.orderBys, clause)
}

func (q *Query) ApplyLimit(n int)  { q.limit = &n }
func (q *Query) ApplyOffset(n int) { q.offset = &n }

var _ scope.Applier = (*Query)(nil)

// --- Terminal methods ---

// All executes a SELECT and returns all matching rows.
func (q *Query) All(ctx context.Context) ([]Row, error) {
	query, args := q.buildSelect()
	query, args = q.rewrite(query, args)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// First executes a SELECT with LIMIT 1 and returns the first row.
// Returns ErrNotFound if no rows match.
func (q *Query) First(ctx context.Context) (Row, error) {
	items, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// Find returns the row whose primary key equals id.
// Returns ErrNotFound if there is none.
func (q *Query) Find(ctx context.Context, id any) (Row, error) {
	return q.WhereEq(q.pk, id).First(ctx)
}

// Count returns the number of rows matching the current query conditions.
func (q *Query) Count(ctx context.Context) (int64, error) {
	query, args := q.buildCount()
	query, args = q.rewrite(query, args)

	var count int64
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return 0, errors.New("orm: COUNT returned no rows")
	}
	if err := rows.Scan(&count); err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	return count, rows.Err() //nolint:wrapcheck // pass through
}

// ColumnNames returns the columns of the table, in table order.
func (q *Query) ColumnNames(ctx context.Context) ([]string, error) {
	query := "SELECT * FROM " + q.qi(q.table) + " LIMIT 0"
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	defer func() { _ = rows.Close() }()
	return rows.Columns() //nolint:wrapcheck // pass through
}

// Create inserts row and returns a copy carrying the primary key. A blank
// primary key is left to the database and populated via RETURNING
// (PostgreSQL, SQLite) or LastInsertId (MySQL).
func (q *Query) Create(ctx context.Context, row Row) (Row, error) {
	row = q.stamp(ctx, row, q.created, q.updated)
	if v, ok := row[q.pk]; ok && (v == nil || v == "") {
		delete(row, q.pk)
	}
	_, hasPK := row[q.pk]
	columns, values := splitRow(row)

	query := q.buildInsert(columns)
	query, values = q.rewrite(query, values)

	d := q.db.dialect()
	if d.UseReturning() {
		query += d.ReturningClause(q.pk)
		rows, err := q.db.QueryContext(ctx, query, values...)
		if err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		defer func() { _ = rows.Close() }()
		if !rows.Next() {
			return nil, errors.New("orm: INSERT RETURNING returned no rows")
		}
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		row[q.pk] = columnValue(id)
		return row, rows.Err() //nolint:wrapcheck // pass through
	}

	result, err := q.db.ExecContext(ctx, query, values...)
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	if !hasPK {
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		row[q.pk] = id
	}
	return row, nil
}

// Upsert inserts row, whose primary key must be set, or updates the
// supplied non-PK columns on primary key conflict.
func (q *Query) Upsert(ctx context.Context, row Row) error {
	if v, ok := row[q.pk]; !ok || v == nil {
		return fmt.Errorf("%w for Upsert", ErrNoPrimaryKey)
	}
	row = q.stamp(ctx, row, q.created, q.updated)
	columns, values := splitRow(row)

	query := q.buildUpsert(columns)
	query, values = q.rewrite(query, values)

	_, err := q.db.ExecContext(ctx, query, values...)
	return err //nolint:wrapcheck // pass through
}

// Update sets the non-PK columns of row on the row whose primary key is id
// and returns the number of rows affected.
func (q *Query) Update(ctx context.Context, id any, row Row) (int64, error) {
	if id == nil {
		return 0, fmt.Errorf("%w for Update", ErrNoPrimaryKey)
	}
	row = q.stamp(ctx, row, "", q.updated)
	delete(row, q.pk)
	if len(row) == 0 {
		return 0, errors.New("orm: Update without columns is not allowed")
	}
	setCols, setVals := splitRow(row)

	setVals = append(setVals, id)
	query := q.buildUpdate(setCols)
	query, setVals = q.rewrite(query, setVals)

	result, err := q.db.ExecContext(ctx, query, setVals...)
	if err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	return result.RowsAffected() //nolint:wrapcheck // pass through
}

// Delete deletes rows matching the accumulated WHERE clauses and returns
// the number of rows affected.
// Returns an error if no WHERE clauses are set (safety guard).
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if len(q.wheres) == 0 {
		return 0, ErrUnscopedDelete
	}
	query, args := q.buildDelete()
	query, args = q.rewrite(query, args)

	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err //nolint:wrapcheck // pass through
	}
	return result.RowsAffected() //nolint:wrapcheck // pass through
}

// stamp returns a copy of row with the given timestamp columns set unless
// the caller supplied them.
func (q *Query) stamp(ctx context.Context, row Row, created, updated string) Row {
	row = maps.Clone(row)
	if row == nil {
		row = make(Row)
	}
	var t any
	for _, col := range []string{created, updated} {
		if col == "" {
			continue
		}
		if _, ok := row[col]; ok {
			continue
		}
		if t == nil {
			t = now(ctx)
		}
		row[col] = t
	}
	return row
}

// splitRow returns the columns of row in sorted order with their values.
func splitRow(row Row) ([]string, []any) {
	columns := make([]string, 0, len(row))
	for c := range row {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = row[c]
	}
	return columns, values
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	var result []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = columnValue(vals[i])
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	return result, nil
}

func columnValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// --- SQL building ---

// qi quotes an identifier (table/column name) using the dialect.
func (q *Query) qi(name string) string {
	return q.db.dialect().QuoteIdent(name)
}

// quoteColumns joins column names with dialect-aware quoting.
func (q *Query) quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = q.qi(c)
	}
	return strings.Join(quoted, ", ")
}

func (q *Query) buildSelect() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")

	if len(q.columns) > 0 {
		b.WriteString(q.quoteColumns(q.columns))
	} else {
		b.WriteString("*")
	}

	b.WriteString(" FROM ")
	b.WriteString(q.qi(q.table))

	args := q.appendWhere(&b)

	if len(q.orderBys) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.orderBys, ", "))
	}

	if q.limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *q.limit)
	}
	if q.offset != nil {
		fmt.Fprintf(&b, " OFFSET %d", *q.offset)
	}

	return b.String(), args
}

func (q *Query) buildCount() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM ")
	b.WriteString(q.qi(q.table))

	args := q.appendWhere(&b)

	if q.limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *q.limit)
	}
	if q.offset != nil {
		fmt.Fprintf(&b, " OFFSET %d", *q.offset)
	}

	return b.String(), args
}

func (q *Query) buildInsert(columns []string) string {
	if len(columns) == 0 {
		if _, ok := q.db.dialect().(mysqlDialect); ok {
			return fmt.Sprintf("INSERT INTO %s () VALUES ()", q.qi(q.table))
		}
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", q.qi(q.table))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		q.qi(q.table),
		q.quoteColumns(columns),
		repeatPlaceholder(len(columns)),
	)
}

func (q *Query) buildUpsert(columns []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		q.qi(q.table),
		q.quoteColumns(columns),
		repeatPlaceholder(len(columns)),
	)

	var updateCols []string
	for _, col := range columns {
		if col != q.pk && col != q.created {
			updateCols = append(updateCols, col)
		}
	}

	d := q.db.dialect()
	if _, ok := d.(mysqlDialect); ok {
		if len(updateCols) == 0 {
			updateCols = []string{q.pk}
		}
		sets := make([]string, len(updateCols))
		for i, col := range updateCols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", q.qi(col), q.qi(col))
		}
		fmt.Fprintf(&b, " ON DUPLICATE KEY UPDATE %s", strings.Join(sets, ", "))
		return b.String()
	}

	if len(updateCols) == 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", q.qi(q.pk))
		return b.String()
	}
	sets := make([]string, len(updateCols))
	for i, col := range updateCols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", q.qi(col), q.qi(col))
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", q.qi(q.pk), strings.Join(sets, ", "))
	return b.String()
}

func (q *Query) buildUpdate(setCols []string) string {
	sets := make([]string, len(setCols))
	for i, col := range setCols {
		sets[i] = q.qi(col) + " = ?"
	}
	return fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = ?",
		q.qi(q.table),
		strings.Join(sets, ", "),
		q.qi(q.pk),
	)
}

func (q *Query) buildDelete() (string, []any) {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(q.qi(q.table))
	args := q.appendWhere(&b)
	return b.String(), args
}

func (q *Query) appendWhere(b *strings.Builder) []any {
	if len(q.wheres) == 0 {
		return nil
	}

	var args []any
	b.WriteString(" WHERE ")
	for i, w := range q.wheres {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(w.clause)
		args = append(args, w.args...)
	}
	return args
}

func repeatPlaceholder(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ", ")
}

// rewrite converts ? placeholders to dialect-specific placeholders.
// For MySQL and SQLite this is a no-op. For PostgreSQL, ? becomes $1, $2, etc.
func (q *Query) rewrite(query string, args []any) (string, []any) {
	d := q.db.dialect()
	if d.Placeholder(1) == "?" {
		return query, args
	}

	var b strings.Builder
	b.Grow(len(query))
	idx := 1
	for i := range len(query) {
		if query[i] == '?' {
			b.WriteString(d.Placeholder(idx))
			idx++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String(), args
}
