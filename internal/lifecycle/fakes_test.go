package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/cryguy/swkit/internal/core"
)

type result struct {
	ok  bool
	err error
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

func (p *recordingPort) messages() []core.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Message(nil), p.msgs...)
}

type fakeContainer struct {
	mu         sync.Mutex
	supported  result
	register   result
	update     result
	unregister result
	state      string
	stateErr   error
	controller core.Port
	waiting    core.Port

	// ready is closed to release Ready callers with readyPort.
	ready     chan struct{}
	readyPort core.Port

	sink  func(core.Event)
	calls []string
}

func newFakeContainer() *fakeContainer {
	return &fakeContainer{
		supported:  result{ok: true},
		register:   result{ok: true},
		update:     result{ok: true},
		unregister: result{ok: true},
		state:      "activated",
		ready:      make(chan struct{}),
	}
}

func (c *fakeContainer) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *fakeContainer) Supported(context.Context) (bool, error) {
	return c.supported.ok, c.supported.err
}

func (c *fakeContainer) Register(context.Context, string, string) (bool, error) {
	c.record("register")
	return c.register.ok, c.register.err
}

func (c *fakeContainer) Update(context.Context, string, string) (bool, error) {
	c.record("update")
	return c.update.ok, c.update.err
}

func (c *fakeContainer) Unregister(context.Context, string, string) (bool, error) {
	c.record("unregister")
	return c.unregister.ok, c.unregister.err
}

func (c *fakeContainer) State(context.Context) (string, error) {
	return c.state, c.stateErr
}

func (c *fakeContainer) Controller() core.Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *fakeContainer) Waiting() core.Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting
}

func (c *fakeContainer) Ready(ctx context.Context) (core.Port, error) {
	select {
	case <-c.ready:
		return c.readyPort, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeContainer) Subscribe(fn func(core.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.sink = nil
	}
}

// emit plays a worker event through the subscribed sink.
func (c *fakeContainer) emit(ev core.Event) bool {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		return false
	}
	sink(ev)
	return true
}

var errBoom = errors.New("boom")
