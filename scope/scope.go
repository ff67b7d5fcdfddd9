package scope

import "sort"

// Applier is implemented by query builders to receive scope fragments.
// This interface lives in the scope package so that orm can import scope
// without creating circular dependencies.
type Applier interface {
	ApplyWhere(clause string, args []any)
	// ApplyEq adds an equality condition on a column the builder quotes.
	ApplyEq(column string, value any)
	// ApplyIn adds a membership condition on a column the builder quotes.
	ApplyIn(column string, values []any)
	ApplyOrderBy(clause string)
	ApplyLimit(n int)
	ApplyOffset(n int)
}

type scopeKind int

const (
	kindWhere scopeKind = iota
	kindOrderBy
	kindLimit
	kindOffset
	kindEq
	kindIn
)

// Scope represents a single query condition fragment.
// Scopes are immutable and safe to reuse across queries.
type Scope struct {
	kind   scopeKind
	clause string
	args   []any
	n      int
}

// Apply dispatches this Scope to the given Applier.
func (s Scope) Apply(a Applier) {
	switch s.kind {
	case kindWhere:
		a.ApplyWhere(s.clause, s.args)
	case kindOrderBy:
		a.ApplyOrderBy(s.clause)
	case kindLimit:
		a.ApplyLimit(s.n)
	case kindOffset:
		a.ApplyOffset(s.n)
	case kindEq:
		a.ApplyEq(s.clause, s.args[0])
	case kindIn:
		a.ApplyIn(s.clause, s.args)
	}
}

// Where returns a Scope that adds a raw WHERE clause fragment.
//
//	scope.Where("created_at > ?", since)
func Where(clause string, args ...any) Scope {
	return Scope{kind: kindWhere, clause: clause, args: args}
}

// Eq returns a Scope matching rows whose column equals value. Unlike Where,
// the column name is quoted by the query builder, so it may come from
// request data.
//
//	scope.Eq("post_id", 6)
func Eq(column string, value any) Scope {
	return Scope{kind: kindEq, clause: column, args: []any{value}}
}

// Match returns one Eq scope per entry of fields, ordered by column name so
// the generated SQL is stable.
//
//	scope.Match(map[string]any{"post_id": 6, "approved": true})
func Match(fields map[string]any) Scopes {
	columns := make([]string, 0, len(fields))
	for c := range fields {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	ss := make(Scopes, len(columns))
	for i, c := range columns {
		ss[i] = Eq(c, fields[c])
	}
	return ss
}

// OrderBy returns a Scope that sets the ORDER BY clause.
//
//	scope.OrderBy("created_at DESC")
func OrderBy(clause string) Scope {
	return Scope{kind: kindOrderBy, clause: clause}
}

// Limit returns a Scope that sets the LIMIT.
func Limit(n int) Scope {
	return Scope{kind: kindLimit, n: n}
}

// Offset returns a Scope that sets the OFFSET.
func Offset(n int) Scope {
	return Scope{kind: kindOffset, n: n}
}

// In returns a Scope matching rows whose column holds any of values. An
// empty slice matches nothing.
//
//	scope.In("post_id", []int64{6, 7})
func In[T any](column string, values []T) Scope {
	if len(values) == 0 {
		return Where("1 = 0")
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return Scope{kind: kindIn, clause: column, args: args}
}

// Scopes is an ordered set of scopes built up from request data.
//
//	var ss scope.Scopes
//	if limit > 0 {
//	    ss = ss.Append(scope.Limit(limit))
//	}
//	ss = ss.Merge(scope.Match(query))
//	orm.Table(db, "comments", "id").Scopes(ss...).All(ctx)
type Scopes []Scope

// Append adds scopes and returns a new Scopes. The receiver is not modified.
func (ss Scopes) Append(scopes ...Scope) Scopes {
	return append(append(Scopes(nil), ss...), scopes...)
}

// Merge concatenates two Scopes and returns a new Scopes.
// Neither receiver nor argument is modified.
func (ss Scopes) Merge(other Scopes) Scopes {
	return append(append(Scopes(nil), ss...), other...)
}
