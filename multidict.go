package magpie

import "encoding/json"

// Pair is a single key/value entry of a MultiDict.
type Pair[V any] struct {
	Key   string `json:"key"`
	Value V      `json:"value"`
}

// MultiDict is an insertion-ordered associative container that permits
// duplicate keys. It is the storage type for parsed form fields and
// uploaded files: HTML forms may legitimately submit the same field name
// several times, and handlers depend on receiving the values in the order
// the client sent them.
//
// You can visualize the contents either as a map from keys to nonempty
// lists of values:
//   - tag --> "a", "b"
//   - name --> "x"
//
// ... or as a single flattened sequence of key/value pairs:
//   - tag --> "a"
//   - tag --> "b"
//   - name --> "x"
//
// A MultiDict is not safe for concurrent mutation. The parser builds one
// per parse call and hands it to the caller; wrap it in a View to share it
// read-only.
type MultiDict[V any] struct {
	pairs []Pair[V]
}

// NewMultiDict returns an empty MultiDict.
func NewMultiDict[V any]() *MultiDict[V] {
	return &MultiDict[V]{}
}

// Add appends a key/value pair. Existing pairs with the same key are kept.
func (d *MultiDict[V]) Add(key string, value V) {
	d.pairs = append(d.pairs, Pair[V]{Key: key, Value: value})
}

// Set replaces the first pair matching key in place, keeping its position,
// and removes every other pair with that key. If the key is absent the
// pair is appended.
func (d *MultiDict[V]) Set(key string, value V) {
	out := d.pairs[:0]
	replaced := false
	for _, p := range d.pairs {
		if p.Key != key {
			out = append(out, p)
			continue
		}
		if !replaced {
			out = append(out, Pair[V]{Key: key, Value: value})
			replaced = true
		}
	}
	d.pairs = out
	if !replaced {
		d.Add(key, value)
	}
}

// Get returns the first value stored for key.
func (d *MultiDict[V]) Get(key string) (V, bool) {
	for _, p := range d.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	var zero V
	return zero, false
}

// GetDefault returns the first value stored for key, or def if the key is
// absent.
func (d *MultiDict[V]) GetDefault(key string, def V) V {
	if v, ok := d.Get(key); ok {
		return v
	}
	return def
}

// GetAll returns all values stored for key in insertion order. The result
// is empty (nil) if the key is absent.
func (d *MultiDict[V]) GetAll(key string) []V {
	var values []V
	for _, p := range d.pairs {
		if p.Key == key {
			values = append(values, p.Value)
		}
	}
	return values
}

// Del removes every pair with the given key. Deleting an absent key is a
// no-op.
func (d *MultiDict[V]) Del(key string) {
	out := d.pairs[:0]
	for _, p := range d.pairs {
		if p.Key != key {
			out = append(out, p)
		}
	}
	d.pairs = out
}

// Len returns the number of stored pairs, duplicates included.
func (d *MultiDict[V]) Len() int {
	return len(d.pairs)
}

// Pairs returns a copy of all pairs in insertion order, once per pair.
func (d *MultiDict[V]) Pairs() []Pair[V] {
	out := make([]Pair[V], len(d.pairs))
	copy(out, d.pairs)
	return out
}

// FirstPairs returns one pair per distinct key, each at the position of
// its first occurrence.
func (d *MultiDict[V]) FirstPairs() []Pair[V] {
	seen := make(map[string]bool, len(d.pairs))
	var out []Pair[V]
	for _, p := range d.pairs {
		if seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		out = append(out, p)
	}
	return out
}

// Keys returns the distinct keys in order of first occurrence.
func (d *MultiDict[V]) Keys() []string {
	firsts := d.FirstPairs()
	keys := make([]string, len(firsts))
	for i, p := range firsts {
		keys[i] = p.Key
	}
	return keys
}

// View returns a read-only handle onto d. The view shares storage with d;
// it restricts capability, it does not snapshot.
func (d *MultiDict[V]) View() MultiDictView[V] {
	return MultiDictView[V]{d: d}
}

// MarshalJSON encodes the dict as a flat array of key/value pairs,
// preserving order and duplicates.
func (d *MultiDict[V]) MarshalJSON() ([]byte, error) {
	if d.pairs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d.pairs)
}

// UnmarshalJSON decodes the array-of-pairs form produced by MarshalJSON.
func (d *MultiDict[V]) UnmarshalJSON(data []byte) error {
	d.pairs = nil
	return json.Unmarshal(data, &d.pairs)
}

// EqualMultiDicts reports whether a and b contain the same key/value pairs
// with the same multiplicities. Insertion order does not matter.
func EqualMultiDicts[V comparable](a, b *MultiDict[V]) bool {
	if a.Len() != b.Len() {
		return false
	}
	type entry struct {
		key   string
		value V
	}
	counts := make(map[entry]int, a.Len())
	for _, p := range a.pairs {
		counts[entry{p.Key, p.Value}]++
	}
	for _, p := range b.pairs {
		e := entry{p.Key, p.Value}
		counts[e]--
		if counts[e] < 0 {
			return false
		}
	}
	return true
}

// MultiDictView is a read-only handle onto a MultiDict.
type MultiDictView[V any] struct {
	d *MultiDict[V]
}

// Get returns the first value stored for key.
func (v MultiDictView[V]) Get(key string) (V, bool) { return v.d.Get(key) }

// GetDefault returns the first value stored for key, or def.
func (v MultiDictView[V]) GetDefault(key string, def V) V { return v.d.GetDefault(key, def) }

// GetAll returns all values stored for key in insertion order.
func (v MultiDictView[V]) GetAll(key string) []V { return v.d.GetAll(key) }

// Len returns the number of stored pairs.
func (v MultiDictView[V]) Len() int { return v.d.Len() }

// Pairs returns a copy of all pairs in insertion order.
func (v MultiDictView[V]) Pairs() []Pair[V] { return v.d.Pairs() }

// Keys returns the distinct keys in order of first occurrence.
func (v MultiDictView[V]) Keys() []string { return v.d.Keys() }
