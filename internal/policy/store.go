// Package policy holds the host-side mapping from resource patterns to
// cache policies.
package policy

import (
	"sync"

	"github.com/cryguy/swkit/internal/core"
)

// Provider is what the lifecycle manager needs from a policy source.
type Provider interface {
	Get(pattern string) (core.CachePolicy, bool)
	Set(pattern string, p core.CachePolicy)
	ExportForTransport() core.PolicyMap
}

// Store is an ordered pattern -> CachePolicy map. The first Set of a
// pattern fixes its position; later Sets overwrite the value only.
type Store struct {
	mu       sync.RWMutex
	order    []string
	policies map[string]core.CachePolicy
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{policies: make(map[string]core.CachePolicy)}
}

// Get returns the last policy set for pattern. Lookup is exact, not a
// substring match.
func (s *Store) Get(pattern string) (core.CachePolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[pattern]
	return p, ok
}

// Set stores p for pattern.
func (s *Store) Set(pattern string, p core.CachePolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[pattern]; !ok {
		s.order = append(s.order, pattern)
	}
	s.policies[pattern] = p
}

// Len returns the number of configured patterns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// ExportForTransport flattens the store to pattern -> strategy name in
// insertion order. CacheKey and MaxAgeSeconds are dropped.
func (s *Store) ExportForTransport() core.PolicyMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(core.PolicyMap, 0, len(s.order))
	for _, pattern := range s.order {
		out = append(out, core.PolicyEntry{
			Pattern:  pattern,
			Strategy: s.policies[pattern].Strategy.String(),
		})
	}
	return out
}
