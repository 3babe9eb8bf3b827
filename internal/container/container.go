// Package container is an in-process service worker container: the
// platform side of navigator.serviceWorker for one page. It keeps
// registrations per scope, runs worker instances through
// installing -> installed -> activating -> activated, tracks the page's
// controller and routes in-scope HTTP requests through the controlling
// worker's fetch engine.
package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/engine"
	"github.com/cryguy/swkit/internal/eventloop"
	"github.com/cryguy/swkit/internal/logger"
	"github.com/cryguy/swkit/internal/metrics"
)

// Options configures a Container.
type Options struct {
	Loader  core.ScriptLoader
	Store   core.CacheStore
	Fetcher core.Fetcher
	Engine  core.EngineConfig
	Metrics *metrics.Metrics

	// PagePath is the path of the page this container belongs to. It
	// decides which registration controls the page. Defaults to "/".
	PagePath string

	// Unsupported makes the container behave like a platform without
	// service worker support.
	Unsupported bool
}

// Container is the service worker container for one page.
type Container struct {
	opts Options

	mu         sync.Mutex
	regs       map[string]*Registration // by scope
	byKey      map[string]*Registration // by scriptURL:scope
	controller *Worker
	clients    map[int]core.Port
	nextClient int
	changed    chan struct{} // closed and replaced on every state change
	closed     bool

	sinkMu   sync.Mutex
	sinks    map[int]func(core.Event)
	nextSink int
}

// New creates a Container.
func New(opts Options) *Container {
	if opts.PagePath == "" {
		opts.PagePath = "/"
	}
	return &Container{
		opts:    opts,
		regs:    make(map[string]*Registration),
		byKey:   make(map[string]*Registration),
		clients: make(map[int]core.Port),
		changed: make(chan struct{}),
		sinks:   make(map[int]func(core.Event)),
	}
}

func normalizeScope(scope string) string {
	if scope == "" {
		return "/"
	}
	return scope
}

func registrationKey(scriptURL, scope string) string {
	return scriptURL + ":" + normalizeScope(scope)
}

// Supported reports whether service workers are available.
func (c *Container) Supported(context.Context) (bool, error) {
	return !c.opts.Unsupported, nil
}

// Subscribe adds a sink for worker -> page events. The returned function
// removes it.
func (c *Container) Subscribe(fn func(core.Event)) func() {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	id := c.nextSink
	c.nextSink++
	c.sinks[id] = fn
	return func() {
		c.sinkMu.Lock()
		defer c.sinkMu.Unlock()
		delete(c.sinks, id)
	}
}

func (c *Container) emit(ev core.Event) {
	c.sinkMu.Lock()
	sinks := make([]func(core.Event), 0, len(c.sinks))
	for _, fn := range c.sinks {
		sinks = append(sinks, fn)
	}
	c.sinkMu.Unlock()
	for _, fn := range sinks {
		fn(ev)
	}
}

// AddClient attaches another window client that the controlling worker
// treats as controlled, e.g. a remote page connected over WebSocket.
func (c *Container) AddClient(p core.Port) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextClient
	c.nextClient++
	c.clients[id] = p
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.clients, id)
	}
}

// Register installs scriptURL for scope. A loader failure is reported as
// an error event and false; only an unsupported platform returns an error.
// Registering an unchanged script is a no-op.
func (c *Container) Register(ctx context.Context, scriptURL, scope string) (bool, error) {
	if c.opts.Unsupported {
		return false, core.ErrUnsupported
	}
	scope = normalizeScope(scope)

	source, err := c.opts.Loader.LoadScript(ctx, scriptURL)
	if err != nil {
		logger.Warn("Service worker registration failed", logger.KeyScriptURL, scriptURL, logger.KeyScope, scope, logger.KeyError, err)
		c.emit(core.Event{Type: "error", Message: err.Error()})
		return false, nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, core.ErrClosed
	}
	reg := c.regs[scope]
	if reg == nil {
		reg = &Registration{Scope: scope, c: c}
		c.regs[scope] = reg
	}
	c.byKey[registrationKey(scriptURL, scope)] = reg
	if w := reg.newest(); w != nil && w.ScriptURL == scriptURL && w.source == source {
		c.mu.Unlock()
		return true, nil
	}
	w, replaced := c.newWorkerLocked(reg, scriptURL, source)
	c.mu.Unlock()

	c.retire(replaced)
	c.start(w)
	return true, nil
}

// Update checks the registration's script for changes and installs a new
// worker when it changed. It returns false without error when there is no
// registration to update.
func (c *Container) Update(ctx context.Context, scriptURL, scope string) (bool, error) {
	if c.opts.Unsupported {
		return false, nil
	}
	reg := c.lookup(scriptURL, scope)
	if reg == nil {
		return false, nil
	}

	current := reg.ScriptURL()
	c.mu.Lock()
	newest := reg.newest()
	c.mu.Unlock()
	if newest == nil {
		return false, fmt.Errorf("updating %s: registration has no worker", reg.Scope)
	}

	source, err := c.opts.Loader.LoadScript(ctx, current)
	if err != nil {
		return false, fmt.Errorf("updating %s: %w", reg.Scope, err)
	}
	if source == newest.source {
		logger.Debug("Service worker unchanged", logger.KeyScope, reg.Scope)
		return true, nil
	}

	c.mu.Lock()
	w, replaced := c.newWorkerLocked(reg, current, source)
	c.mu.Unlock()

	c.retire(replaced)
	c.start(w)
	return true, nil
}

// Unregister removes the registration and retires its workers. It returns
// false when there is nothing to unregister.
func (c *Container) Unregister(_ context.Context, scriptURL, scope string) (bool, error) {
	if c.opts.Unsupported {
		return false, nil
	}
	reg := c.lookup(scriptURL, scope)
	if reg == nil {
		return false, nil
	}

	c.mu.Lock()
	if c.regs[reg.Scope] != reg {
		c.mu.Unlock()
		return false, nil
	}
	delete(c.regs, reg.Scope)
	for k, r := range c.byKey {
		if r == reg {
			delete(c.byKey, k)
		}
	}
	workers := reg.workers()
	reg.installing, reg.waiting, reg.active = nil, nil, nil
	if c.controller != nil && c.controller.reg == reg {
		c.controller = nil
	}
	c.broadcastLocked()
	c.mu.Unlock()

	c.retire(workers...)
	logger.Info("Service worker unregistered", logger.KeyScope, reg.Scope)
	return true, nil
}

// lookup finds a registration by key first and then by scope, caching the
// scope hit under the key.
func (c *Container) lookup(scriptURL, scope string) *Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := registrationKey(scriptURL, scope)
	if reg := c.byKey[key]; reg != nil {
		return reg
	}
	reg := c.regs[normalizeScope(scope)]
	if reg != nil {
		c.byKey[key] = reg
	}
	return reg
}

// Registration returns the registration for scope, or nil.
func (c *Container) Registration(scope string) *Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[normalizeScope(scope)]
}

// State reports the worker state for the page's registration: the active
// worker's state, else "waiting", else "installing", else "not-registered".
func (c *Container) State(context.Context) (string, error) {
	if c.opts.Unsupported {
		return "", core.ErrUnsupported
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	reg := c.matchLocked(c.opts.PagePath)
	switch {
	case reg == nil:
		return "not-registered", nil
	case reg.active != nil:
		return string(reg.active.state), nil
	case reg.waiting != nil:
		return "waiting", nil
	case reg.installing != nil:
		return "installing", nil
	default:
		return "not-registered", nil
	}
}

// matchLocked returns the registration whose scope is the longest prefix
// of path.
func (c *Container) matchLocked(path string) *Registration {
	var best *Registration
	for scope, reg := range c.regs {
		if strings.HasPrefix(path, scope) && (best == nil || len(scope) > len(best.Scope)) {
			best = reg
		}
	}
	return best
}

// Controller returns the worker controlling the page, or nil.
func (c *Container) Controller() core.Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return nil
	}
	return c.controller
}

// ControllerWorker is Controller with the concrete type.
func (c *Container) ControllerWorker() *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

// Ready blocks until the page's registration has an active worker and
// returns it.
func (c *Container) Ready(ctx context.Context) (core.Port, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, core.ErrClosed
		}
		if reg := c.matchLocked(c.opts.PagePath); reg != nil && reg.active != nil {
			w := reg.active
			c.mu.Unlock()
			return w, nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close retires every worker. Pending Ready calls return core.ErrClosed.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var workers []*Worker
	for _, reg := range c.regs {
		workers = append(workers, reg.workers()...)
	}
	c.controller = nil
	c.broadcastLocked()
	c.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	return nil
}

func (c *Container) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// newWorkerLocked creates a worker as the registration's installing
// worker. It returns any previous installing worker, which the caller
// must retire.
func (c *Container) newWorkerLocked(reg *Registration, scriptURL, source string) (*Worker, *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		ID:        uuid.NewString(),
		ScriptURL: scriptURL,
		source:    source,
		reg:       reg,
		c:         c,
		loop:      eventloop.New(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateParsed,
	}
	w.engine = engine.New(c.opts.Engine, c.opts.Store, c.opts.Fetcher,
		engine.WithHost(scope{w}),
		engine.WithLoop(w.loop),
		engine.WithMetrics(c.opts.Metrics))
	w.connect()

	replaced := reg.installing
	reg.installing = w
	reg.scriptURL = scriptURL
	c.broadcastLocked()
	return w, replaced
}

func (c *Container) start(w *Worker) {
	go w.loop.Run(w.ctx)
	_ = w.loop.Post(func() { c.install(w) })
}

// retire marks workers redundant and stops them.
func (c *Container) retire(workers ...*Worker) {
	for _, w := range workers {
		if w == nil {
			continue
		}
		c.setState(w, StateRedundant)
		w.stop()
	}
}

// setState records a worker state change and forwards it to the page the
// way a statechange listener does: "installed" as install, "activated" as
// activate, anything else verbatim.
func (c *Container) setState(w *Worker, s WorkerState) {
	c.mu.Lock()
	if w.state == s {
		c.mu.Unlock()
		return
	}
	w.state = s
	c.broadcastLocked()
	c.mu.Unlock()

	logger.Debug("Worker state changed", logger.KeyWorker, w.ID, logger.KeyState, string(s), logger.KeyScope, w.reg.Scope)
	eventType := string(s)
	switch s {
	case StateInstalled:
		eventType = "install"
	case StateActivated:
		eventType = "activate"
	}
	c.emit(core.Event{Type: eventType, Message: string(s)})
}

// install runs on the worker's loop.
func (c *Container) install(w *Worker) {
	c.setState(w, StateInstalling)

	if err := w.engine.Install(w.ctx); err != nil {
		c.mu.Lock()
		if w.reg.installing == w {
			w.reg.installing = nil
		}
		c.mu.Unlock()
		logger.Error("Service worker install failed", logger.KeyWorker, w.ID, logger.KeyScriptURL, w.ScriptURL, logger.KeyError, err)
		c.retire(w)
		if !errors.Is(err, context.Canceled) {
			c.emit(core.Event{Type: "error", Message: err.Error()})
		}
		return
	}

	c.mu.Lock()
	reg := w.reg
	if reg.installing != w {
		// Superseded or unregistered while installing.
		c.mu.Unlock()
		return
	}
	reg.installing = nil
	previous := reg.waiting
	reg.waiting = w
	active := reg.active
	skip := w.skipWaiting || active == nil
	c.mu.Unlock()

	if previous != nil {
		c.retire(previous)
	}
	c.setState(w, StateInstalled)

	if skip {
		c.activate(w)
		return
	}
	logger.Info("Service worker waiting", logger.KeyWorker, w.ID, logger.KeyScope, reg.Scope)
	_ = active.loop.Post(func() {
		active.engine.NotifyUpdateAvailable(active.ctx)
	})
}

// activate promotes a waiting worker. Calls for a worker that is no longer
// waiting are ignored.
func (c *Container) activate(w *Worker) {
	c.mu.Lock()
	reg := w.reg
	if w.state != StateInstalled || reg.waiting != w {
		c.mu.Unlock()
		return
	}
	reg.waiting = nil
	old := reg.active
	reg.active = w
	if old != nil && c.controller == old {
		c.controller = w
	}
	c.mu.Unlock()

	if old != nil {
		c.retire(old)
	}
	c.setState(w, StateActivating)
	if err := w.engine.Activate(w.ctx); err != nil {
		logger.Error("Service worker activate failed", logger.KeyWorker, w.ID, logger.KeyError, err)
		c.emit(core.Event{Type: "error", Message: err.Error()})
	}
	c.setState(w, StateActivated)
	logger.Info("Service worker activated", logger.KeyWorker, w.ID, logger.KeyScope, reg.Scope, logger.KeyCache, w.engine.CacheName())
}

// claim makes w the page's controller when the page is in its scope.
func (c *Container) claim(w *Worker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || w.reg.active != w {
		return
	}
	if c.matchLocked(c.opts.PagePath) != w.reg {
		return
	}
	c.controller = w
	c.broadcastLocked()
}

// clientsOf returns the window clients controlled by reg.
func (c *Container) clientsOf(reg *Registration) []core.Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil || c.controller.reg != reg {
		return nil
	}
	out := []core.Port{pageClient{c}}
	for _, p := range c.clients {
		out = append(out, p)
	}
	return out
}
