// Package swkit gives Go hosts per-resource service worker cache
// policies. A Kit holds the policies declared at startup and the lifecycle
// manager that carries them to the worker running in a Container.
package swkit

import (
	"github.com/cryguy/swkit/internal/container"
	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/lifecycle"
	"github.com/cryguy/swkit/internal/policy"
)

type (
	Strategy          = core.Strategy
	CachePolicy       = core.CachePolicy
	PolicyMap         = core.PolicyMap
	Event             = core.Event
	Message           = core.Message
	Registration      = lifecycle.Registration
	RegistrationState = lifecycle.State
	Signal            = lifecycle.Signal
	Container         = lifecycle.Container
	ContainerOptions  = container.Options
	ManagerOption     = lifecycle.Option
)

const (
	CacheFirst           = core.CacheFirst
	NetworkFirst         = core.NetworkFirst
	StaleWhileRevalidate = core.StaleWhileRevalidate
	NetworkOnly          = core.NetworkOnly
	CacheOnly            = core.CacheOnly
)

const (
	SignalInstalled = lifecycle.SignalInstalled
	SignalActivated = lifecycle.SignalActivated
	SignalFetch     = lifecycle.SignalFetch
	SignalMessage   = lifecycle.SignalMessage
	SignalError     = lifecycle.SignalError
	SignalUpdated   = lifecycle.SignalUpdated
)

// Kit pairs a policy store with the lifecycle manager that pushes it.
type Kit struct {
	*lifecycle.Manager
	policies *policy.Store
}

// New returns a Kit driving c.
func New(c Container, opts ...ManagerOption) *Kit {
	store := policy.NewStore()
	opts = append(opts, lifecycle.WithPolicies(store))
	return &Kit{Manager: lifecycle.NewManager(c, opts...), policies: store}
}

// NewContainer returns an in-process container for one page.
func NewContainer(opts ContainerOptions) *container.Container {
	return container.New(opts)
}

// SetPolicyForResource declares p for every URL containing pattern.
// Policies declared first take precedence.
func (k *Kit) SetPolicyForResource(pattern string, p CachePolicy) {
	k.policies.Set(pattern, p)
}

// GetPolicyForResource returns the policy declared for pattern.
func (k *Kit) GetPolicyForResource(pattern string) (CachePolicy, bool) {
	return k.policies.Get(pattern)
}

// Policies returns the policy map as the worker receives it.
func (k *Kit) Policies() PolicyMap {
	return k.policies.ExportForTransport()
}
