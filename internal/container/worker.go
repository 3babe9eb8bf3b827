package container

import (
	"context"
	"fmt"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/engine"
	"github.com/cryguy/swkit/internal/eventloop"
	"github.com/cryguy/swkit/internal/transport"
)

// WorkerState is the state a ServiceWorker object reports.
type WorkerState string

const (
	StateParsed     WorkerState = "parsed"
	StateInstalling WorkerState = "installing"
	StateInstalled  WorkerState = "installed"
	StateActivating WorkerState = "activating"
	StateActivated  WorkerState = "activated"
	StateRedundant  WorkerState = "redundant"
)

// Worker is one service worker instance. It runs its own event loop; every
// message and lifecycle step for the instance is processed on that loop.
type Worker struct {
	ID        string
	ScriptURL string

	source string
	port   *transport.MessagePort // page end of the worker's message channel
	reg    *Registration
	c      *Container
	engine *engine.Engine
	loop   *eventloop.EventLoop
	ctx    context.Context
	cancel context.CancelFunc

	// guarded by c.mu
	state       WorkerState
	skipWaiting bool
}

// State returns the worker's current state.
func (w *Worker) State() WorkerState {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.state
}

// Engine returns the worker's fetch engine.
func (w *Worker) Engine() *engine.Engine { return w.engine }

// PostMessage sends msg over the worker's message channel. The channel
// clones it, so the sender keeps no reference into the worker. Posting to
// a redundant worker fails with core.ErrClosed.
func (w *Worker) PostMessage(ctx context.Context, msg core.Message) error {
	return w.port.PostMessage(ctx, msg)
}

// connect entangles a channel between the page and the worker. Messages
// arriving on the worker end run as tasks on the worker's loop.
func (w *Worker) connect() {
	page, inbox := transport.NewChannel()
	w.port = page
	inbox.Start(func(msg core.Message) {
		_ = w.loop.Post(func() {
			w.engine.HandleMessage(w.ctx, msg)
		})
	})
}

// WaitState blocks until the worker reaches s or becomes redundant.
func (w *Worker) WaitState(ctx context.Context, s WorkerState) error {
	for {
		w.c.mu.Lock()
		state, changed := w.state, w.c.changed
		w.c.mu.Unlock()
		if state == s {
			return nil
		}
		if state == StateRedundant {
			return fmt.Errorf("worker %s became redundant", w.ID)
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) stop() {
	w.port.Close()
	w.cancel()
	w.loop.Close()
}

// scope is the worker global scope the engine calls back into.
type scope struct{ w *Worker }

func (s scope) SkipWaiting() {
	w := s.w
	w.c.mu.Lock()
	w.skipWaiting = true
	waiting := w.state == StateInstalled && w.reg.waiting == w
	w.c.mu.Unlock()
	if waiting {
		_ = w.loop.Post(func() { w.c.activate(w) })
	}
}

func (s scope) Claim(context.Context) error {
	s.w.c.claim(s.w)
	return nil
}

func (s scope) Clients() []core.Port {
	return s.w.c.clientsOf(s.w.reg)
}
