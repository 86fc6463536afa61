package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// OsSourceNaver identifies which portal a resolved profile came from.
const OsSourceNaver = "NAVER"

// Result is a single resolved person profile.
type Result struct {
	Os         string   `json:"os"`
	OsSource   string   `json:"osSource"`
	ProfileURL string   `json:"profileUrl"`
	Keyword    string   `json:"keyword"`
	NaverName  string   `json:"naverName"`
	NaverImage string   `json:"naverImage"`
	NaverInfo  *InfoMap `json:"naverInfo"`
}

// Report aggregates the outcome of resolving a batch of input URLs.
// Every input URL ends up either as a Result or as an entry in Errors;
// the resolver never fails the whole batch for a single bad URL.
type Report struct {
	ID        string    `json:"id"`
	Results   []Result  `json:"results"`
	Errors    []string  `json:"errors"`
	StartedAt time.Time `json:"started_at"`
	Elapsed   float64   `json:"elapsed_seconds"`
}

// InfoMap is a string map that remembers insertion order. The profile
// attribute tables on the source site have a meaningful visual order
// (birth date before agency before fan cafe), so serialization must not
// shuffle keys the way a plain Go map would.
type InfoMap struct {
	keys   []string
	values map[string]string
}

// NewInfoMap returns an empty InfoMap.
func NewInfoMap() *InfoMap {
	return &InfoMap{values: make(map[string]string)}
}

// Set stores value under key, preserving the key's original position if
// it has been seen before.
func (m *InfoMap) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key, or "" if absent.
func (m *InfoMap) Get(key string) string {
	if m == nil || m.values == nil {
		return ""
	}
	return m.values[key]
}

// Has reports whether key is present, even with a blank value.
func (m *InfoMap) Has(key string) bool {
	if m == nil || m.values == nil {
		return false
	}
	_, ok := m.values[key]
	return ok
}

// Delete removes key and its position.
func (m *InfoMap) Delete(key string) {
	if m == nil || m.values == nil {
		return
	}
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order. The returned slice is a copy.
func (m *InfoMap) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *InfoMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// MarshalJSON writes the map as a JSON object with keys in insertion order.
func (m *InfoMap) MarshalJSON() ([]byte, error) {
	if m == nil || len(m.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key %q: %w", k, err)
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal value for %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping the key order found in the input.
func (m *InfoMap) UnmarshalJSON(data []byte) error {
	m.keys = nil
	m.values = make(map[string]string)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected string key, got %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("value for %q is not a string: %w", key, err)
		}
		m.Set(key, value)
	}
	// Closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
