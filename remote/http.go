package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultTimeout = 10 * time.Second

// HTTP is a REST JSON Transport: create is POST, read is GET, update is PUT
// and delete is DELETE against baseURL joined with the request URL.
type HTTP struct {
	base      string
	client    *http.Client
	header    http.Header
	userAgent string
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) { h.header.Add(key, value) }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTP) { h.userAgent = ua }
}

// NewHTTP returns a transport rooted at baseURL, e.g. "https://api.example.com/v1".
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		base:      strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: defaultTimeout},
		header:    make(http.Header),
		userAgent: "ormassoc",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	target := h.base + "/" + strings.TrimLeft(req.URL, "/")
	if len(req.Query) > 0 {
		q := make(url.Values, len(req.Query))
		for k, v := range req.Query {
			q.Set(k, fmt.Sprint(v))
		}
		target += "?" + q.Encode()
	}

	var body io.Reader
	if req.Method == Create || req.Method == Update {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "remote: encode request")
		}
		body = bytes.NewReader(b)
	}

	hr, err := http.NewRequestWithContext(ctx, req.Method.HTTPMethod(), target, body)
	if err != nil {
		return nil, errors.Wrap(err, "remote: create request")
	}
	for k, vs := range h.header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	hr.Header.Set("Accept", "application/json")
	hr.Header.Set("User-Agent", h.userAgent)
	if body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(hr)
	if err != nil {
		return nil, errors.Wrapf(err, "remote: %s %s", hr.Method, target)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "remote: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ErrNotFound, "%s %s", hr.Method, target)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	return payload, nil
}

var _ Transport = (*HTTP)(nil)
