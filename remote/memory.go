package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Memory is an in-process resource server. Records are kept per resource in
// insertion order and receive auto-incremented integer identities on create.
// Every request is recorded so callers can assert what reached the "network".
type Memory struct {
	mu        sync.Mutex
	pk        string
	resources map[string]*memResource
	requests  []Request
	failures  []failure
}

type memResource struct {
	rows []map[string]any
	next int64
}

type failure struct {
	method   Method
	resource string
	err      error
}

// NewMemory returns an empty Memory server whose records are keyed by "id".
func NewMemory() *Memory {
	return &Memory{pk: "id", resources: make(map[string]*memResource)}
}

// Seed stores rows under resource without recording requests.
func (m *Memory) Seed(resource string, rows ...map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.resource(resource)
	for _, row := range rows {
		m.insert(r, maps.Clone(row))
	}
}

// Fail makes the next request matching method and resource return err.
// An empty resource matches any resource.
func (m *Memory) Fail(method Method, resource string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failure{method: method, resource: resource, err: err})
}

// Requests returns a copy of every request received so far.
func (m *Memory) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Count returns how many requests with the given method were received.
func (m *Memory) Count(method Method) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

// Rows returns copies of the records stored under resource.
func (m *Memory) Rows(resource string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resource]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(r.rows))
	for i, row := range r.rows {
		out[i] = maps.Clone(row)
	}
	return out
}

func (m *Memory) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	resource, id := ParseURL(req.URL)
	if err := m.takeFailure(req.Method, resource); err != nil {
		return nil, err
	}

	r := m.resource(resource)
	switch req.Method {
	case Create:
		row := m.insert(r, maps.Clone(req.Body))
		return marshal(row)
	case Read:
		if id == "" {
			return marshal(r.filter(req.Query))
		}
		row, _ := r.find(id, m.pk)
		if row == nil {
			return nil, errors.Wrapf(ErrNotFound, "%s/%s", resource, id)
		}
		return marshal(row)
	case Update:
		row, _ := r.find(id, m.pk)
		if row == nil {
			body := maps.Clone(req.Body)
			if body == nil {
				body = make(map[string]any)
			}
			if _, ok := body[m.pk]; !ok {
				body[m.pk] = parseID(id)
			}
			return marshal(m.insert(r, body))
		}
		maps.Copy(row, req.Body)
		return marshal(row)
	case Delete:
		_, i := r.find(id, m.pk)
		if i < 0 {
			return nil, errors.Wrapf(ErrNotFound, "%s/%s", resource, id)
		}
		r.rows = append(r.rows[:i], r.rows[i+1:]...)
		return nil, nil
	default:
		return nil, errors.Errorf("remote: unsupported method %q", req.Method)
	}
}

var _ Transport = (*Memory)(nil)

func (m *Memory) resource(name string) *memResource {
	r, ok := m.resources[name]
	if !ok {
		r = &memResource{}
		m.resources[name] = r
	}
	return r
}

func (m *Memory) insert(r *memResource, row map[string]any) map[string]any {
	if row == nil {
		row = make(map[string]any)
	}
	if v, ok := row[m.pk]; !ok || v == nil || v == "" {
		r.next++
		row[m.pk] = r.next
	} else if n, ok := asInt(v); ok && n > r.next {
		r.next = n
	}
	if _, i := r.find(fmt.Sprint(row[m.pk]), m.pk); i >= 0 {
		r.rows[i] = row
		return row
	}
	r.rows = append(r.rows, row)
	return row
}

func (m *Memory) takeFailure(method Method, resource string) error {
	for i, f := range m.failures {
		if f.method == method && (f.resource == "" || f.resource == resource) {
			m.failures = append(m.failures[:i], m.failures[i+1:]...)
			return f.err
		}
	}
	return nil
}

func (r *memResource) find(id, pk string) (map[string]any, int) {
	for i, row := range r.rows {
		if fmt.Sprint(row[pk]) == id {
			return row, i
		}
	}
	return nil, -1
}

func (r *memResource) filter(query map[string]any) []map[string]any {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]map[string]any, 0, len(r.rows))
rows:
	for _, row := range r.rows {
		for _, k := range keys {
			if fmt.Sprint(row[k]) != fmt.Sprint(query[k]) {
				continue rows
			}
		}
		out = append(out, row)
	}
	return out
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), float64(int64(n)) == n
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// parseID turns a URL identity segment back into an integer when it is one.
func parseID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "remote: encode response")
	}
	return b, nil
}
