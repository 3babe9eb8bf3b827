package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/cryguy/swkit/internal/core"
)

var errOffline = errors.New("network is offline")

// fakeNetwork serves canned bodies per URL and counts calls.
type fakeNetwork struct {
	mu      sync.Mutex
	bodies  map[string]string
	status  map[string]int
	headers map[string]http.Header
	offline bool
	calls   map[string]int
	gate    chan struct{} // when set, fetches block until it is closed
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		bodies:  make(map[string]string),
		status:  make(map[string]int),
		headers: make(map[string]http.Header),
		calls:   make(map[string]int),
	}
}

func (n *fakeNetwork) set(url, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies[url] = body
}

func (n *fakeNetwork) setStatus(url string, status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status[url] = status
}

func (n *fakeNetwork) setOffline(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = v
}

func (n *fakeNetwork) count(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[url]
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *core.Request) (*core.Response, error) {
	n.mu.Lock()
	gate := n.gate
	n.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.URL]++
	if n.offline {
		return nil, errOffline
	}
	body, ok := n.bodies[req.URL]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	if s, ok := n.status[req.URL]; ok {
		status = s
	}
	h := make(http.Header)
	for k, v := range n.headers[req.URL] {
		h[k] = append([]string(nil), v...)
	}
	return &core.Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Headers:    h,
		Body:       []byte(body),
		URL:        req.URL,
		Type:       core.ResponseBasic,
	}, nil
}

type recordingPort struct {
	mu   sync.Mutex
	msgs []core.Message
	err  error
}

func (p *recordingPort) PostMessage(_ context.Context, msg core.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type fakeHost struct {
	mu          sync.Mutex
	skipWaiting int
	claims      int
	clients     []core.Port
}

func (h *fakeHost) SkipWaiting() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.skipWaiting++
}

func (h *fakeHost) Claim(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.claims++
	return nil
}

func (h *fakeHost) Clients() []core.Port {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}
