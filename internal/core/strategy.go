package core

import "fmt"

// Strategy selects how a single intercepted request is resolved.
type Strategy int

const (
	CacheFirst Strategy = iota
	NetworkFirst
	StaleWhileRevalidate
	NetworkOnly
	CacheOnly
)

// DefaultStrategy applies when no policy pattern matches a request.
const DefaultStrategy = NetworkFirst

var strategyNames = [...]string{
	CacheFirst:           "CacheFirst",
	NetworkFirst:         "NetworkFirst",
	StaleWhileRevalidate: "StaleWhileRevalidate",
	NetworkOnly:          "NetworkOnly",
	CacheOnly:            "CacheOnly",
}

// String returns the wire name of the strategy.
func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	return s >= 0 && int(s) < len(strategyNames)
}

// ParseStrategy maps a wire name back to a Strategy. Names are
// case-sensitive, matching what ExportForTransport emits.
func ParseStrategy(name string) (Strategy, bool) {
	for i, n := range strategyNames {
		if n == name {
			return Strategy(i), true
		}
	}
	return 0, false
}

// MarshalText encodes the strategy by name.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a strategy name.
func (s *Strategy) UnmarshalText(text []byte) error {
	v, ok := ParseStrategy(string(text))
	if !ok {
		return fmt.Errorf("unknown strategy %q", string(text))
	}
	*s = v
	return nil
}

// CachePolicy is the host-side description of how a resource pattern is
// cached. Only Strategy crosses into the worker; CacheKey and MaxAgeSeconds
// are carried for callers but never enforced.
type CachePolicy struct {
	Strategy      Strategy `json:"strategy"`
	CacheKey      string   `json:"cacheKey,omitempty"`
	MaxAgeSeconds *int     `json:"maxAgeSeconds,omitempty"`
}
