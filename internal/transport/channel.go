// Package transport carries host <-> worker messages. Every message is
// cloned through a JSON round trip so neither side can observe the other's
// memory.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cryguy/swkit/internal/core"
)

// Handler receives messages delivered to a port.
type Handler func(msg core.Message)

// MessagePort is one end of an in-process MessageChannel. Messages posted
// before the remote end has started are queued and flushed on Start.
type MessagePort struct {
	mu      sync.Mutex
	remote  *MessagePort
	handler Handler
	queue   []core.Message
	closed  bool
}

// NewChannel returns two entangled ports.
func NewChannel() (*MessagePort, *MessagePort) {
	p1, p2 := &MessagePort{}, &MessagePort{}
	p1.remote, p2.remote = p2, p1
	return p1, p2
}

// Clone deep copies msg through its JSON encoding.
func Clone(msg core.Message) (core.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return core.Message{}, fmt.Errorf("cloning message: %w", err)
	}
	var out core.Message
	if err := json.Unmarshal(data, &out); err != nil {
		return core.Message{}, fmt.Errorf("cloning message: %w", err)
	}
	return out, nil
}

// PostMessage sends msg to the entangled port.
func (p *MessagePort) PostMessage(_ context.Context, msg core.Message) error {
	p.mu.Lock()
	remote, closed := p.remote, p.closed
	p.mu.Unlock()
	if closed || remote == nil {
		return core.ErrClosed
	}

	cloned, err := Clone(msg)
	if err != nil {
		return err
	}
	remote.deliver(cloned)
	return nil
}

func (p *MessagePort) deliver(msg core.Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	h := p.handler
	if h == nil {
		p.queue = append(p.queue, msg)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	h(msg)
}

// Start installs h and flushes anything queued before it.
func (p *MessagePort) Start(h Handler) {
	p.mu.Lock()
	p.handler = h
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, msg := range pending {
		h(msg)
	}
}

// Close disentangles the port. Further posts fail with core.ErrClosed.
func (p *MessagePort) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.remote = nil
	p.queue = nil
}
