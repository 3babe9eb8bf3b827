package core

import "errors"

var (
	// ErrNoResponse means a strategy produced nothing to answer with,
	// e.g. CacheOnly on a miss or NetworkFirst offline with an empty cache.
	ErrNoResponse = errors.New("no response available")

	// ErrUnsupported is reported by a container without service worker support.
	ErrUnsupported = errors.New("service workers are not supported")

	// ErrNotFound is returned when no registration exists for a lookup.
	ErrNotFound = errors.New("registration not found")

	// ErrClosed is returned by ports and loops after Close.
	ErrClosed = errors.New("closed")
)
