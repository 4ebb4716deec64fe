package magpie

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HeaderPair is a single header field as it appeared on the wire.
type HeaderPair struct {
	Key   string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered collection of header fields with case-insensitive
// lookup and case-preserving storage. Duplicate keys are permitted and kept
// in insertion order; when the collection is collapsed to one field per
// name (UniquePairs), the first-inserted casing and value win.
//
// Values added through Add and Set are validated: a value containing a
// carriage return or newline is rejected with ErrInvalidHeaderValue, so a
// Headers built programmatically can never smuggle extra header lines into
// a serialized message. Values parsed off the wire are inserted through an
// internal path because folded header values legitimately contain "\n ".
type Headers struct {
	pairs []HeaderPair
}

// NewHeaders returns an empty header collection.
func NewHeaders() *Headers {
	return &Headers{}
}

// newHeaders wraps already-parsed pairs without validation. Wire header
// lines are pre-split on newlines, so the invariant holds by construction.
func newHeaders(pairs []HeaderPair) *Headers {
	return &Headers{pairs: pairs}
}

// Add appends a header field. Existing fields with the same name are kept.
func (h *Headers) Add(key, value string) error {
	if !validHeaderValue(value) {
		return ErrInvalidHeaderValue
	}
	h.pairs = append(h.pairs, HeaderPair{Key: key, Value: value})
	return nil
}

// Set replaces the first field matching key (case-insensitively) in place
// and removes all other fields with that name. If no field matches, the
// pair is appended.
func (h *Headers) Set(key, value string) error {
	if !validHeaderValue(value) {
		return ErrInvalidHeaderValue
	}
	out := h.pairs[:0]
	replaced := false
	for _, p := range h.pairs {
		if !strings.EqualFold(p.Key, key) {
			out = append(out, p)
			continue
		}
		if !replaced {
			out = append(out, HeaderPair{Key: key, Value: value})
			replaced = true
		}
	}
	h.pairs = out
	if !replaced {
		h.pairs = append(h.pairs, HeaderPair{Key: key, Value: value})
	}
	return nil
}

// Get returns the value of the first field matching key, case-insensitively.
func (h *Headers) Get(key string) (string, bool) {
	for _, p := range h.pairs {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}

// GetDefault returns the first value for key, or def if the field is absent.
func (h *Headers) GetDefault(key, def string) string {
	if v, ok := h.Get(key); ok {
		return v
	}
	return def
}

// Values returns all values for key in insertion order.
func (h *Headers) Values(key string) []string {
	var values []string
	for _, p := range h.pairs {
		if strings.EqualFold(p.Key, key) {
			values = append(values, p.Value)
		}
	}
	return values
}

// Del removes every field matching key, case-insensitively.
func (h *Headers) Del(key string) {
	out := h.pairs[:0]
	for _, p := range h.pairs {
		if !strings.EqualFold(p.Key, key) {
			out = append(out, p)
		}
	}
	h.pairs = out
}

// Len returns the number of fields, duplicates included.
func (h *Headers) Len() int {
	return len(h.pairs)
}

// Pairs returns a copy of all fields in insertion order.
func (h *Headers) Pairs() []HeaderPair {
	out := make([]HeaderPair, len(h.pairs))
	copy(out, h.pairs)
	return out
}

// UniquePairs returns one field per distinct name (case-insensitively),
// each at the position of its first occurrence and with its original
// casing.
func (h *Headers) UniquePairs() []HeaderPair {
	seen := make(map[string]bool, len(h.pairs))
	var out []HeaderPair
	for _, p := range h.pairs {
		folded := strings.ToLower(p.Key)
		if seen[folded] {
			continue
		}
		seen[folded] = true
		out = append(out, p)
	}
	return out
}

// Equal reports whether h and other contain the same fields with the same
// multiplicities, comparing names case-insensitively. Order does not
// matter.
func (h *Headers) Equal(other *Headers) bool {
	if h.Len() != other.Len() {
		return false
	}
	counts := make(map[HeaderPair]int, len(h.pairs))
	for _, p := range h.pairs {
		counts[HeaderPair{Key: strings.ToLower(p.Key), Value: p.Value}]++
	}
	for _, p := range other.pairs {
		folded := HeaderPair{Key: strings.ToLower(p.Key), Value: p.Value}
		counts[folded]--
		if counts[folded] < 0 {
			return false
		}
	}
	return true
}

// validHeaderValue rejects values that could inject extra header lines.
// httpguts also rejects other control characters, which is stricter than
// the bare CR/LF defense but matches what net/http would refuse to send.
func validHeaderValue(value string) bool {
	if strings.ContainsAny(value, "\r\n") {
		return false
	}
	return httpguts.ValidHeaderFieldValue(value)
}
