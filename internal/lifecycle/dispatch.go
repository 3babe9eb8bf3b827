package lifecycle

import (
	"context"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/logger"
)

// On subscribes h to sig. The returned function unsubscribes.
func (m *Manager) On(sig Signal, h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	if m.handlers[sig] == nil {
		m.handlers[sig] = make(map[int]Handler)
	}
	m.handlers[sig][id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[sig], id)
	}
}

// Dispatch routes one inbound worker event to its signal. Unknown event
// types are dropped.
func (m *Manager) Dispatch(ev core.Event) {
	sig, ok := SignalFor(ev.Type)
	if !ok {
		logger.Debug("Dropping unknown event", logger.KeyEvent, ev.Type)
		return
	}
	m.raise(sig, ev)
}

func (m *Manager) raise(sig Signal, ev core.Event) {
	m.mu.Lock()
	hs := make([]Handler, 0, len(m.handlers[sig]))
	for _, h := range m.handlers[sig] {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	m.metrics.Signal(sig.String())
	for _, h := range hs {
		h(ev)
	}
}

// PushCachePolicies sends the exported policy map to the worker. Without
// an attached provider it does nothing. Delivery failures are not
// reported; see deliver.
func (m *Manager) PushCachePolicies(ctx context.Context) {
	m.mu.Lock()
	p := m.policies
	m.mu.Unlock()
	if p == nil {
		return
	}
	m.deliver(ctx, core.Message{Type: core.MessageSetCachePolicies, Policies: p.ExportForTransport()})
}

// SetOfflineFallbackPath tells the worker which page to serve to offline
// navigations.
func (m *Manager) SetOfflineFallbackPath(ctx context.Context, path string) {
	m.deliver(ctx, core.Message{Type: core.MessageSetOfflineFallbackPath, Path: path})
}

// SkipWaiting asks a waiting worker to activate now. It reports false when
// no worker is waiting.
func (m *Manager) SkipWaiting(ctx context.Context) bool {
	w := m.container.Waiting()
	if w == nil {
		return false
	}
	if err := w.PostMessage(ctx, core.Message{Type: core.MessageSkipWaiting}); err != nil {
		logger.Warn("Failed to send skip waiting", logger.KeyError, err)
		return false
	}
	return true
}

// deliver posts msg to the controller. Without a controller, or when the
// controller cannot be reached, msg is delivered once to the active worker
// as soon as the registration is ready.
func (m *Manager) deliver(ctx context.Context, msg core.Message) {
	m.mu.Lock()
	closed := m.closed
	if !closed {
		m.pending.Add(1)
	}
	m.mu.Unlock()
	if closed {
		return
	}

	if c := m.container.Controller(); c != nil {
		err := c.PostMessage(ctx, msg)
		if err == nil {
			m.pending.Done()
			m.metrics.PolicyPush("controller")
			return
		}
		logger.Debug("Controller unreachable, deferring", logger.KeyEvent, msg.Type, logger.KeyError, err)
	}

	m.metrics.PolicyPush("deferred")
	go func() {
		defer m.pending.Done()
		w, err := m.container.Ready(m.ctx)
		if err == nil {
			err = w.PostMessage(m.ctx, msg)
		}
		if err != nil {
			m.metrics.PolicyPush("dropped")
			logger.Debug("Deferred delivery dropped", logger.KeyEvent, msg.Type, logger.KeyError, err)
		}
	}()
}

// Wait blocks until deferred deliveries have finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unbinds the manager from the container and abandons deferred
// deliveries.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.unsubscribe()
	m.cancel()
	m.pending.Wait()
	return nil
}
