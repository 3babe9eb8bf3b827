// Package cachestore provides Cache Storage backends: named buckets of
// request key -> stored response.
package cachestore

import (
	"context"
	"sort"
	"sync"

	"github.com/cryguy/swkit/internal/core"
)

// Memory is an in-process CacheStore. Contents are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*core.CacheEntry // cacheName -> key -> entry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]map[string]*core.CacheEntry)}
}

func (m *Memory) Match(_ context.Context, cacheName, key string) (*core.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.buckets[cacheName]; ok {
		if e, ok := b[key]; ok {
			return cloneEntry(e), nil
		}
	}
	return nil, nil
}

func (m *Memory) Put(_ context.Context, cacheName, key string, entry *core.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[cacheName]
	if !ok {
		b = make(map[string]*core.CacheEntry)
		m.buckets[cacheName] = b
	}
	b[key] = cloneEntry(entry)
	return nil
}

func (m *Memory) Delete(_ context.Context, cacheName, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[cacheName]
	if !ok {
		return false, nil
	}
	if _, ok := b[key]; !ok {
		return false, nil
	}
	delete(b, key)
	return true, nil
}

// CacheNames returns bucket names in sorted order.
func (m *Memory) CacheNames(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) DeleteCache(_ context.Context, cacheName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[cacheName]; !ok {
		return false, nil
	}
	delete(m.buckets, cacheName)
	return true, nil
}

func cloneEntry(e *core.CacheEntry) *core.CacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Headers = e.Headers.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	if e.Vary != nil {
		c.Vary = make(map[string]string, len(e.Vary))
		for k, v := range e.Vary {
			c.Vary[k] = v
		}
	}
	return &c
}
