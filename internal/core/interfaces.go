package core

import "context"

// CacheStore backs Cache Storage. Buckets are named by the cache generation
// tag; entries inside a bucket are keyed by request identity.
type CacheStore interface {
	Match(ctx context.Context, cacheName, key string) (*CacheEntry, error)
	Put(ctx context.Context, cacheName, key string, entry *CacheEntry) error
	Delete(ctx context.Context, cacheName, key string) (bool, error)
	CacheNames(ctx context.Context) ([]string, error)
	DeleteCache(ctx context.Context, cacheName string) (bool, error)
}

// Fetcher performs network requests on behalf of the worker. A non-nil
// error is a network failure; non-2xx responses are returned normally.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// Port delivers messages to the other side of a channel.
type Port interface {
	PostMessage(ctx context.Context, msg Message) error
}

// ScriptLoader resolves a service worker script URL to its source. A
// changed source is what makes an update install a new worker.
type ScriptLoader interface {
	LoadScript(ctx context.Context, scriptURL string) (string, error)
}
