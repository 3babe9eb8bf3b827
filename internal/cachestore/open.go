package cachestore

import (
	"fmt"
	"io"

	"github.com/cryguy/swkit/internal/core"
)

// Store is a CacheStore that may hold resources.
type Store interface {
	core.CacheStore
	io.Closer
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// Open returns a store for driver "memory" or "sqlite".
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		if path == "" {
			path = ":memory:"
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown cache store driver %q", driver)
	}
}
