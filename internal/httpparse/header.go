package httpparse

// HeaderField is one name/value pair, order-preserving so the wire
// round-trip invariant (headers come back out in the order and with
// the duplicates they went in with) holds.
type HeaderField struct {
	Name  string
	Value string
}

// Header is an ordered multimap: insertion order is preserved and
// duplicate names are kept as separate entries rather than collapsed
// or overwritten.
type Header struct {
	fields []HeaderField
}

// Add appends a field, keeping any existing field with the same name.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Get returns the first value for name, case-insensitively, and
// whether it was present.
func (h *Header) Get(name string) (string, bool) {
	for _, f := range h.fields {
		if equalFoldFast(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value for name, in insertion order.
func (h *Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if equalFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Count returns how many fields share name.
func (h *Header) Count(name string) int {
	n := 0
	for _, f := range h.fields {
		if equalFold(f.Name, name) {
			n++
		}
	}
	return n
}

// AppendToLast extends the most recently added field's value, used
// for obsolete line folding where a continuation line belongs to the
// previous header.
func (h *Header) AppendToLast(v string) {
	if len(h.fields) == 0 || v == "" {
		return
	}
	f := &h.fields[len(h.fields)-1]
	if f.Value == "" {
		f.Value = v
	} else {
		f.Value += " " + v
	}
}

// All returns the fields in wire order, for the response builder or
// any caller needing the raw sequence.
func (h *Header) All() []HeaderField { return h.fields }

// Reset empties the header for reuse, without releasing the backing
// array so no new allocation is needed by the next request on the
// same connection.
func (h *Header) Reset() { h.fields = h.fields[:0] }

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
