// Package store serves remote requests from SQL tables through the orm
// package, so entities persist to MySQL, PostgreSQL or SQLite.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/mickamy/ormassoc/internal/naming"
	"github.com/mickamy/ormassoc/model"
	"github.com/mickamy/ormassoc/orm"
	"github.com/mickamy/ormassoc/remote"
	"github.com/mickamy/ormassoc/scope"
)

// Table maps a resource, the first segment of a request URL, onto a table.
type Table struct {
	// Resource defaults to Name.
	Resource string
	Name     string
	// PK defaults to "id".
	PK string
	// CreatedAt and UpdatedAt name timestamp columns maintained on writes.
	CreatedAt string
	UpdatedAt string
}

// TableFor returns the conventional table of an entity type:
// "BlogPost" → blog_posts keyed by id.
func TableFor(typeName string) Table {
	name := naming.Resource(typeName)
	return Table{Resource: name, Name: name, PK: "id"}
}

// Store is a remote.Transport backed by SQL tables.
type Store struct {
	db     orm.Querier
	tables map[string]Table
	logger *slog.Logger

	mu      sync.Mutex
	columns map[string][]string
}

// New returns a Store serving tables through db.
func New(db orm.Querier, tables ...Table) *Store {
	s := &Store{
		db:      db,
		tables:  make(map[string]Table, len(tables)),
		logger:  slog.New(slog.DiscardHandler),
		columns: make(map[string][]string),
	}
	for _, t := range tables {
		if t.Resource == "" {
			t.Resource = t.Name
		}
		if t.PK == "" {
			t.PK = "id"
		}
		s.tables[t.Resource] = t
	}
	return s
}

// WithLogger makes s log dropped attributes to l and returns s.
func (s *Store) WithLogger(l *slog.Logger) *Store {
	s.logger = l
	return s
}

// Resources returns the served resource names in sorted order.
func (s *Store) Resources() []string {
	out := make([]string, 0, len(s.tables))
	for r := range s.tables {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

func (s *Store) Do(ctx context.Context, req remote.Request) (json.RawMessage, error) {
	resource, id := remote.ParseURL(req.URL)
	t, ok := s.tables[resource]
	if !ok {
		return nil, errors.Wrapf(remote.ErrNotFound, "store: unknown resource %q", resource)
	}

	switch req.Method {
	case remote.Create:
		row, err := s.row(ctx, t, req.Body)
		if err != nil {
			return nil, err
		}
		var found orm.Row
		err = s.atomic(ctx, func(q orm.Querier) error {
			created, err := s.table(q, t).Create(ctx, row)
			if err != nil {
				return err
			}
			found, err = s.table(q, t).Find(ctx, created[t.PK])
			return err
		})
		if err != nil {
			return nil, errors.Wrapf(err, "store: create %s", resource)
		}
		return encode(found)

	case remote.Read:
		if id == "" {
			return s.list(ctx, t, req.Query)
		}
		found, err := s.table(s.db, t).Find(ctx, parseID(id))
		if err != nil {
			return nil, s.wrap(err, "read", resource, id)
		}
		return encode(found)

	case remote.Update:
		if id == "" {
			return nil, errors.Errorf("store: update %s without identity", resource)
		}
		row, err := s.row(ctx, t, req.Body)
		if err != nil {
			return nil, err
		}
		row[t.PK] = parseID(id)
		var found orm.Row
		err = s.atomic(ctx, func(q orm.Querier) error {
			if err := s.table(q, t).Upsert(ctx, row); err != nil {
				return err
			}
			var err error
			found, err = s.table(q, t).Find(ctx, row[t.PK])
			return err
		})
		if err != nil {
			return nil, s.wrap(err, "update", resource, id)
		}
		return encode(found)

	case remote.Delete:
		if id == "" {
			return nil, errors.Errorf("store: delete %s without identity", resource)
		}
		n, err := s.table(s.db, t).WhereEq(t.PK, parseID(id)).Delete(ctx)
		if err != nil {
			return nil, s.wrap(err, "delete", resource, id)
		}
		if n == 0 {
			return nil, errors.Wrapf(remote.ErrNotFound, "%s/%s", resource, id)
		}
		return nil, nil

	default:
		return nil, errors.Errorf("store: unsupported method %q", req.Method)
	}
}

var _ remote.Transport = (*Store)(nil)

// Reserved query keys of collection reads.
const (
	LimitKey  = "_limit"
	OffsetKey = "_offset"
	// OrderKey names the sort column, descending when prefixed with "-".
	OrderKey = "_order"
	// FieldsKey restricts the returned columns, as a list or a
	// comma-separated string.
	FieldsKey = "_fields"
)

func (s *Store) list(ctx context.Context, t Table, query map[string]any) (json.RawMessage, error) {
	cols, err := s.columnNames(ctx, t)
	if err != nil {
		return nil, err
	}

	var (
		ss      scope.Scopes
		columns []string
	)
	fields := make(map[string]any, len(query))
	order := t.PK
	_, limited := query[LimitKey]
	for k, v := range query {
		switch k {
		case LimitKey, OffsetKey:
			n, ok := model.Normalize(v).(int64)
			if !ok || n < 0 {
				return nil, errors.Errorf("store: %s must be a non-negative integer, got %v", k, v)
			}
			if k == LimitKey {
				ss = ss.Append(scope.Limit(int(n)))
			} else if limited {
				ss = ss.Append(scope.Offset(int(n)))
			} else {
				return nil, errors.Errorf("store: %s requires %s", OffsetKey, LimitKey)
			}
			continue
		case OrderKey:
			col, _ := v.(string)
			desc := strings.HasPrefix(col, "-")
			col = strings.TrimPrefix(col, "-")
			if !slices.Contains(cols, col) {
				return nil, errors.Errorf("store: %s has no column %q", t.Name, col)
			}
			order = col
			if desc {
				order += " DESC"
			}
			continue
		case FieldsKey:
			if columns, err = selection(t, cols, v); err != nil {
				return nil, err
			}
			continue
		}

		if !slices.Contains(cols, k) {
			return nil, errors.Errorf("store: %s has no column %q", t.Name, k)
		}
		if list, ok := v.([]any); ok {
			ss = ss.Append(scope.In(k, list))
			continue
		}
		fields[k] = v
	}
	ss = ss.Merge(scope.Match(fields)).Append(scope.OrderBy(order))

	q := s.table(s.db, t).Scopes(ss...)
	if len(columns) > 0 {
		q = q.Columns(columns...)
	}
	rows, err := q.All(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "store: read %s", t.Resource)
	}
	if rows == nil {
		rows = []orm.Row{}
	}
	return encode(rows)
}

// selection reads the value of FieldsKey into known column names.
func selection(t Table, cols []string, v any) ([]string, error) {
	var names []string
	switch f := v.(type) {
	case string:
		names = strings.Split(f, ",")
	case []any:
		for _, e := range f {
			name, ok := e.(string)
			if !ok {
				return nil, errors.Errorf("store: %s must name columns, got %v", FieldsKey, v)
			}
			names = append(names, name)
		}
	default:
		return nil, errors.Errorf("store: %s must name columns, got %v", FieldsKey, v)
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !slices.Contains(cols, name) {
			return nil, errors.Errorf("store: %s has no column %q", t.Name, name)
		}
		out = append(out, name)
	}
	return out, nil
}

// row keeps the scalar attributes of body that name a column of t. Timestamp
// columns are always left to the orm.
func (s *Store) row(ctx context.Context, t Table, body map[string]any) (orm.Row, error) {
	cols, err := s.columnNames(ctx, t)
	if err != nil {
		return nil, err
	}
	row := make(orm.Row, len(body))
	for k, v := range body {
		if k == t.CreatedAt || k == t.UpdatedAt {
			continue
		}
		if !scalar(v) {
			s.logger.DebugContext(ctx, "attribute dropped",
				slog.String("table", t.Name),
				slog.String("attribute", k),
				slog.String("reason", "not a scalar"),
			)
			continue
		}
		if !slices.Contains(cols, k) {
			s.logger.DebugContext(ctx, "attribute dropped",
				slog.String("table", t.Name),
				slog.String("attribute", k),
				slog.String("reason", "no such column"),
			)
			continue
		}
		row[k] = v
	}
	return row, nil
}

func (s *Store) columnNames(ctx context.Context, t Table) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cols, ok := s.columns[t.Name]; ok {
		return cols, nil
	}
	cols, err := s.table(s.db, t).ColumnNames(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "store: columns of %s", t.Name)
	}
	s.columns[t.Name] = cols
	return cols, nil
}

func (s *Store) table(q orm.Querier, t Table) *orm.Query {
	return orm.Table(q, t.Name, t.PK).Timestamps(t.CreatedAt, t.UpdatedAt)
}

// atomic runs fn in a transaction when s is backed by a *orm.DB.
func (s *Store) atomic(ctx context.Context, fn func(q orm.Querier) error) error {
	db, ok := s.db.(*orm.DB)
	if !ok {
		return fn(s.db)
	}
	return db.Transaction(ctx, func(tx *orm.Tx) error { return fn(tx) })
}

func (s *Store) wrap(err error, op, resource, id string) error {
	if errors.Is(err, orm.ErrNotFound) {
		return errors.Wrapf(remote.ErrNotFound, "%s/%s", resource, id)
	}
	return errors.Wrapf(err, "store: %s %s/%s", op, resource, id)
}

// scalar reports whether v can be bound as a column value: maps and lists,
// such as embedded association payloads, cannot.
func scalar(v any) bool {
	if _, ok := v.([]byte); ok {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return false
	}
	return true
}

func parseID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "store: encode")
	}
	return b, nil
}
