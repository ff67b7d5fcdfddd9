// Package remote defines how entities reach the resource that persists them.
//
// A Transport receives a Request naming one of four methods and a resource
// URL, and returns the raw JSON the resource answered with. The model package
// drives transports; this package ships an in-process Memory server and an
// HTTP JSON client, and the store package provides a SQL-backed one.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Method is the persistence verb of a Request.
type Method string

const (
	Create Method = "create"
	Read   Method = "read"
	Update Method = "update"
	Delete Method = "delete"
)

// HTTPMethod maps the verb onto its REST counterpart.
func (m Method) HTTPMethod() string {
	switch m {
	case Create:
		return http.MethodPost
	case Update:
		return http.MethodPut
	case Delete:
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

// Request is a single operation against a resource locator such as
// "comments" or "users/3".
type Request struct {
	Method Method
	URL    string
	// Query holds equality constraints for collection reads.
	Query map[string]any
	// Body is the JSON projection of the entity for create and update.
	Body map[string]any
}

// Transport performs a Request and returns the response document.
// A nil RawMessage with a nil error means the resource answered with no body.
type Transport interface {
	Do(ctx context.Context, req Request) (json.RawMessage, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (json.RawMessage, error)

func (f TransportFunc) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// ErrNotFound is returned when the addressed resource or record does not exist.
var ErrNotFound = errors.New("remote: not found")

// StatusError carries a non-successful HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("remote: unexpected status %d: %s", e.Code, e.Body)
}

// ParseURL splits a resource locator into the resource name and the optional
// record identity: "users/3" -> ("users", "3"), "/comments" -> ("comments", "").
func ParseURL(u string) (resource, id string) {
	u = strings.Trim(u, "/")
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	resource, id, _ = strings.Cut(u, "/")
	return resource, id
}
