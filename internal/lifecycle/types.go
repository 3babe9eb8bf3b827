package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/cryguy/swkit/internal/core"
)

// State is the host's view of a registration.
type State int

const (
	NotRegistered State = iota
	Registering
	Registered
	Updating
	Updated
	Error
)

var stateNames = [...]string{
	NotRegistered: "NotRegistered",
	Registering:   "Registering",
	Registered:    "Registered",
	Updating:      "Updating",
	Updated:       "Updated",
	Error:         "Error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Registration is an immutable snapshot. Transitions replace the whole
// value in the manager's map.
type Registration struct {
	Scope     string
	State     State
	ScriptURL string
	Error     string
}

func (r Registration) withState(s State) Registration {
	r.State = s
	return r
}

// Key derives the registration identity. Scopes are compared verbatim;
// an empty scope means "/".
func Key(scriptURL, scope string) string {
	return scriptURL + ":" + scopeOrDefault(scope)
}

func scopeOrDefault(scope string) string {
	if scope == "" {
		return "/"
	}
	return scope
}

// Signal names one of the six lifecycle channels subscribers observe.
type Signal int

const (
	SignalInstalled Signal = iota
	SignalActivated
	SignalFetch
	SignalMessage
	SignalError
	SignalUpdated
)

var signalNames = [...]string{
	SignalInstalled: "installed",
	SignalActivated: "activated",
	SignalFetch:     "fetch",
	SignalMessage:   "message",
	SignalError:     "error",
	SignalUpdated:   "updated",
}

func (s Signal) String() string {
	if s < 0 || int(s) >= len(signalNames) {
		return fmt.Sprintf("Signal(%d)", int(s))
	}
	return signalNames[s]
}

// SignalFor maps an inbound event type to its signal. Matching ignores
// case; unknown types report false and are dropped by the manager.
func SignalFor(eventType string) (Signal, bool) {
	switch strings.ToLower(eventType) {
	case "install":
		return SignalInstalled, true
	case "activate":
		return SignalActivated, true
	case "fetch":
		return SignalFetch, true
	case "message":
		return SignalMessage, true
	case "error":
		return SignalError, true
	case "updated":
		return SignalUpdated, true
	default:
		return 0, false
	}
}

// Handler observes one signal.
type Handler func(core.Event)

// Container is the platform the manager drives. For Register, a false
// result means the platform rejected the registration and already
// reported it; an error means the call itself failed. For Update and
// Unregister, false without error means there was nothing to act on.
type Container interface {
	Supported(ctx context.Context) (bool, error)
	Register(ctx context.Context, scriptURL, scope string) (bool, error)
	Update(ctx context.Context, scriptURL, scope string) (bool, error)
	Unregister(ctx context.Context, scriptURL, scope string) (bool, error)
	State(ctx context.Context) (string, error)

	// Controller is the worker controlling the page, or nil.
	Controller() core.Port
	// Waiting is the installed worker waiting to activate, or nil.
	Waiting() core.Port
	// Ready blocks until the page's registration has an active worker.
	Ready(ctx context.Context) (core.Port, error)

	// Subscribe delivers worker -> page events until the returned func
	// is called.
	Subscribe(fn func(core.Event)) func()
}
