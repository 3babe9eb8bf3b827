package core

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestMode mirrors the fetch request mode of an intercepted request.
type RequestMode string

const (
	ModeNavigate   RequestMode = "navigate"
	ModeSameOrigin RequestMode = "same-origin"
	ModeNoCORS     RequestMode = "no-cors"
	ModeCORS       RequestMode = "cors"
)

// Request is an intercepted request as seen by the worker.
type Request struct {
	Method  string
	URL     string
	Mode    RequestMode
	Headers http.Header
	Body    []byte
}

// NewRequest builds a GET request for url in the given mode.
func NewRequest(url string, mode RequestMode) *Request {
	return &Request{Method: http.MethodGet, URL: url, Mode: mode, Headers: make(http.Header)}
}

// IsNavigation reports whether the request is a top-level page load.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// CacheKey is the request identity used by Cache Storage: the URL
// without its fragment.
func (r *Request) CacheKey() string {
	if i := strings.IndexByte(r.URL, '#'); i >= 0 {
		return r.URL[:i]
	}
	return r.URL
}

// RequestFromHTTP converts an inbound HTTP request. Sec-Fetch-Mode decides
// the mode when present; otherwise a GET that accepts text/html is treated
// as a navigation.
func RequestFromHTTP(r *http.Request, body []byte) *Request {
	u := *r.URL
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	if u.Host == "" {
		u.Host = r.Host
	}

	mode := RequestMode(strings.ToLower(r.Header.Get("Sec-Fetch-Mode")))
	switch mode {
	case ModeNavigate, ModeSameOrigin, ModeNoCORS, ModeCORS:
	default:
		mode = ModeNoCORS
		if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
			mode = ModeNavigate
		}
	}

	return &Request{
		Method:  r.Method,
		URL:     u.String(),
		Mode:    mode,
		Headers: r.Header.Clone(),
		Body:    body,
	}
}

// ResolveReference resolves path against the origin of the request URL.
func (r *Request) ResolveReference(path string) string {
	base, err := url.Parse(r.URL)
	if err != nil {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return base.ResolveReference(ref).String()
}

// ResponseType distinguishes real responses from the generic failure.
type ResponseType string

const (
	ResponseBasic ResponseType = "basic"
	ResponseError ResponseType = "error"
)

// Response is what a strategy hands back for an intercepted request.
type Response struct {
	Status     int
	StatusText string
	Headers    http.Header
	Body       []byte
	URL        string
	Type       ResponseType
}

// ErrorResponse returns the generic network-error response.
func ErrorResponse() *Response {
	return &Response{Type: ResponseError, Headers: make(http.Header)}
}

// OK reports whether the response status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.Type != ResponseError && r.Status >= 200 && r.Status <= 299
}

// Clone returns a deep copy so a stored copy and the returned response
// never share headers or body.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	if c.Headers == nil {
		c.Headers = make(http.Header)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// CacheEntry is a stored response inside a cache bucket.
type CacheEntry struct {
	Status     int
	StatusText string
	Headers    http.Header
	Body       []byte
	// Vary holds the request header values named by the response's Vary
	// header at the time it was stored.
	Vary     map[string]string
	StoredAt time.Time
}

// Message types exchanged between host and worker.
const (
	MessageSetCachePolicies       = "SET_CACHE_POLICIES"
	MessageSetOfflineFallbackPath = "SET_OFFLINE_FALLBACK_PATH"
	MessageSkipWaiting            = "SKIP_WAITING"
	MessageUpdateAvailable        = "UPDATE_AVAILABLE"

	// Control endpoint only: ask the host to check for a new script, and
	// lifecycle events relayed to remote clients with the event as payload.
	MessageUpdate = "UPDATE"
	MessageEvent  = "EVENT"
)

// Message is the JSON envelope carried over a Port.
type Message struct {
	Type     string          `json:"type"`
	Policies PolicyMap       `json:"policies,omitempty"`
	Path     string          `json:"path,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Event is a worker -> host lifecycle or passthrough notification.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}
