package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PolicyEntry pairs a resource pattern with a strategy name.
type PolicyEntry struct {
	Pattern  string
	Strategy string
}

// PolicyMap is the ordered pattern -> strategy name mapping that travels
// from host to worker. Entry order is match precedence.
type PolicyMap []PolicyEntry

// Get returns the strategy name stored for pattern.
func (m PolicyMap) Get(pattern string) (string, bool) {
	for _, e := range m {
		if e.Pattern == pattern {
			return e.Strategy, true
		}
	}
	return "", false
}

// Match returns the first entry whose pattern occurs in url.
func (m PolicyMap) Match(url string) (PolicyEntry, bool) {
	for _, e := range m {
		if strings.Contains(url, e.Pattern) {
			return e, true
		}
	}
	return PolicyEntry{}, false
}

// Clone returns an independent copy of m.
func (m PolicyMap) Clone() PolicyMap {
	if m == nil {
		return nil
	}
	out := make(PolicyMap, len(m))
	copy(out, m)
	return out
}

// MarshalJSON encodes m as a JSON object whose key order is entry order.
func (m PolicyMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Pattern)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Strategy)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping document order. A repeated
// key overwrites the earlier value in place. null decodes to an empty map.
func (m *PolicyMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = PolicyMap{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("policy map: expected object, got %v", tok)
	}

	out := PolicyMap{}
	index := make(map[string]int)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("policy map: expected string key, got %v", kt)
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("policy map: value for %q: %w", key, err)
		}
		if i, seen := index[key]; seen {
			out[i].Strategy = val
			continue
		}
		index[key] = len(out)
		out = append(out, PolicyEntry{Pattern: key, Strategy: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
