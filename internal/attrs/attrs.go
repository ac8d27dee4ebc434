// Package attrs implements the ordered, string-keyed attribute map used for
// object user metadata and per-extent codec attributes (spec §2, §3).
package attrs

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Map is an insertion-ordered string->string map. Insertion order is
// preserved across Set/Get/Delete/Keys/MarshalJSON so that repeated
// round-trips (PUT -> GETMD -> PUT) are stable, which matters for the
// round-trip invariant in spec §8.
type Map struct {
	keys   []string
	values map[string]string
}

// New returns an empty attribute map.
func New() *Map {
	return &Map{values: make(map[string]string)}
}

// FromMap builds a Map from a plain map, in the iteration order Go gives —
// callers that care about a specific order should build incrementally with
// Set instead.
func FromMap(m map[string]string) *Map {
	am := New()
	for k, v := range m {
		am.Set(k, v)
	}
	return am
}

// Set inserts or updates a key, preserving its original position on update.
func (m *Map) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (string, bool) {
	if m == nil || m.values == nil {
		return "", false
	}
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key if present.
func (m *Map) Delete(key string) {
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

// Len reports the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	if m == nil {
		return New()
	}
	out := New()
	for _, k := range m.keys {
		out.Set(k, m.values[k])
	}
	return out
}

// Equal reports whether two maps have identical key order and values.
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, k := range m.keys {
		if other.keys[i] != k {
			return false
		}
		if m.values[k] != other.values[k] {
			return false
		}
	}
	return true
}

// MarshalJSON serializes as {"keys": [...], "values": {...}}: the values
// object carries the entries, and the sidecar key list records insertion
// order so that a round-trip through UnmarshalJSON on *this* type preserves
// it.
func (m *Map) MarshalJSON() ([]byte, error) {
	type wire struct {
		Keys   []string          `json:"keys"`
		Values map[string]string `json:"values"`
	}
	w := wire{Keys: m.Keys(), Values: m.values}
	if w.Values == nil {
		w.Values = map[string]string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores key order from the sidecar key list.
func (m *Map) UnmarshalJSON(data []byte) error {
	type wire struct {
		Keys   []string          `json:"keys"`
		Values map[string]string `json:"values"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.keys = nil
	m.values = make(map[string]string, len(w.Values))
	for _, k := range w.Keys {
		if v, ok := w.Values[k]; ok {
			m.Set(k, v)
		}
	}
	return nil
}
