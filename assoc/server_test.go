package assoc_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mickamy/ormassoc/remote"
)

// fakeServer answers canned responses for exact "METHOD url" pairs and falls
// back to an in-memory resource server for everything else.
type fakeServer struct {
	*remote.Memory

	mu      sync.Mutex
	replies map[string]json.RawMessage
	seen    []remote.Request
}

func newFakeServer() *fakeServer {
	return &fakeServer{Memory: remote.NewMemory(), replies: make(map[string]json.RawMessage)}
}

func (s *fakeServer) respondWith(method remote.Method, url, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[string(method)+" "+url] = json.RawMessage(body)
}

func (s *fakeServer) Do(ctx context.Context, req remote.Request) (json.RawMessage, error) {
	s.mu.Lock()
	s.seen = append(s.seen, req)
	raw, ok := s.replies[string(req.Method)+" "+req.URL]
	s.mu.Unlock()
	if ok {
		return raw, nil
	}
	return s.Memory.Do(ctx, req)
}

// calls returns every request received, canned or not.
func (s *fakeServer) calls() []remote.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.Request(nil), s.seen...)
}

func (s *fakeServer) count(method remote.Method) int {
	n := 0
	for _, r := range s.calls() {
		if r.Method == method {
			n++
		}
	}
	return n
}
