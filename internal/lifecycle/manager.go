// Package lifecycle is the host-side service worker manager. It keeps the
// page's view of every registration consistent with the asynchronous
// platform callbacks, fans worker events out to six signals and carries
// the policy map into the worker.
package lifecycle

import (
	"context"
	"sync"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/logger"
	"github.com/cryguy/swkit/internal/metrics"
	"github.com/cryguy/swkit/internal/policy"
)

// registrationFailed is recorded when the platform rejects a registration
// without saying why.
const registrationFailed = "Registration failed"

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithPolicies attaches a policy source.
func WithPolicies(p policy.Provider) Option {
	return func(m *Manager) { m.policies = p }
}

// Manager drives registration, update and unregistration against a
// Container and tracks one Registration per key.
type Manager struct {
	container Container
	metrics   *metrics.Metrics

	mu       sync.Mutex
	regs     map[string]Registration
	policies policy.Provider
	handlers map[Signal]map[int]Handler
	nextID   int
	closed   bool

	unsubscribe func()
	ctx         context.Context // bounds deferred deliveries
	cancel      context.CancelFunc
	pending     sync.WaitGroup
}

// NewManager creates a Manager and binds it to c's event stream.
func NewManager(c Container, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		container: c,
		regs:      make(map[string]Registration),
		handlers:  make(map[Signal]map[int]Handler),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.unsubscribe = c.Subscribe(m.Dispatch)
	return m
}

// SetPolicyProvider attaches the policy source pushed by PushCachePolicies.
func (m *Manager) SetPolicyProvider(p policy.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = p
}

func (m *Manager) set(key string, r Registration) {
	m.mu.Lock()
	m.regs[key] = r
	m.mu.Unlock()
	m.metrics.Transition(r.State.String())
	logger.Debug("Registration state",
		logger.KeyScriptURL, r.ScriptURL,
		logger.KeyScope, r.Scope,
		logger.KeyState, r.State.String())
}

// transition replaces the stored value for key with a copy in state s. A
// missing entry is recreated from scriptURL and scope.
func (m *Manager) transition(key, scriptURL, scope string, s State) Registration {
	m.mu.Lock()
	r, ok := m.regs[key]
	m.mu.Unlock()
	if !ok {
		r = Registration{Scope: scopeOrDefault(scope), ScriptURL: scriptURL}
	}
	r = r.withState(s)
	m.set(key, r)
	return r
}

// Register registers scriptURL for scope. The entry is Registering while
// the platform call is in flight and ends Registered or Error. When the
// call itself fails the entry is replaced by a fresh Error value and an
// error signal is raised.
func (m *Manager) Register(ctx context.Context, scriptURL, scope string) bool {
	key := Key(scriptURL, scope)
	m.set(key, Registration{Scope: scopeOrDefault(scope), State: Registering, ScriptURL: scriptURL})

	ok, err := m.container.Register(ctx, scriptURL, scope)
	if err != nil {
		m.set(key, Registration{Scope: scopeOrDefault(scope), State: Error, ScriptURL: scriptURL, Error: err.Error()})
		m.raise(SignalError, core.Event{Type: "error", Message: err.Error()})
		return false
	}
	if !ok {
		m.set(key, Registration{Scope: scopeOrDefault(scope), State: Error, ScriptURL: scriptURL, Error: registrationFailed})
		return false
	}
	m.transition(key, scriptURL, scope, Registered)
	logger.Info("Service worker registered", logger.KeyScriptURL, scriptURL, logger.KeyScope, scopeOrDefault(scope))
	return true
}

// Update asks the platform to check for a new script. A known entry moves
// to Updating and then Updated, raising exactly one updated signal. When
// there is nothing to update the entry returns to its prior state and
// false is returned silently; a failed call moves it to Error and raises
// an error signal.
func (m *Manager) Update(ctx context.Context, scriptURL, scope string) bool {
	key := Key(scriptURL, scope)
	m.mu.Lock()
	prev, known := m.regs[key]
	m.mu.Unlock()
	if known {
		m.set(key, prev.withState(Updating))
	}

	ok, err := m.container.Update(ctx, scriptURL, scope)
	if err != nil {
		if known {
			r := prev.withState(Error)
			r.Error = err.Error()
			m.set(key, r)
		}
		m.raise(SignalError, core.Event{Type: "error", Message: err.Error()})
		return false
	}

	m.mu.Lock()
	current, still := m.regs[key]
	m.mu.Unlock()
	if !ok || !still {
		if known && still {
			m.set(key, prev)
		}
		return false
	}

	m.set(key, current.withState(Updated))
	m.raise(SignalUpdated, core.Event{Type: "updated"})
	return true
}

// Unregister removes the registration. The entry is dropped only when the
// platform confirms.
func (m *Manager) Unregister(ctx context.Context, scriptURL, scope string) bool {
	ok, err := m.container.Unregister(ctx, scriptURL, scope)
	if err != nil {
		m.raise(SignalError, core.Event{Type: "error", Message: err.Error()})
		return false
	}
	if !ok {
		return false
	}
	m.mu.Lock()
	delete(m.regs, Key(scriptURL, scope))
	m.mu.Unlock()
	m.metrics.Transition(NotRegistered.String())
	return true
}

// GetRegistration returns the entry for scriptURL and scope.
func (m *Manager) GetRegistration(scriptURL, scope string) (Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[Key(scriptURL, scope)]
	return r, ok
}

// GetAllRegistrations returns a copy of every entry by key.
func (m *Manager) GetAllRegistrations() map[string]Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Registration, len(m.regs))
	for k, v := range m.regs {
		out[k] = v
	}
	return out
}

// IsSupported probes the platform. A failing probe counts as unsupported.
func (m *Manager) IsSupported(ctx context.Context) bool {
	ok, err := m.container.Supported(ctx)
	if err != nil {
		logger.Debug("Support probe failed", logger.KeyError, err)
		return false
	}
	return ok
}

// GetState returns the platform's worker state for the page, or false when
// the probe fails.
func (m *Manager) GetState(ctx context.Context) (string, bool) {
	s, err := m.container.State(ctx)
	if err != nil {
		logger.Debug("State probe failed", logger.KeyError, err)
		return "", false
	}
	return s, true
}
