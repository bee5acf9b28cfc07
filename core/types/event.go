package types

import "sort"

// Event is the flattened form of an engine event as journaled and served to
// keepers. Amounts are rendered as base-10 strings.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the attribute value for key, or "" when unset.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Keys lists the attribute names in lexical order.
func (e *Event) Keys() []string {
	if e == nil {
		return nil
	}
	keys := make([]string, 0, len(e.Attributes))
	for key := range e.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy so callers can annotate it without mutating the
// emitter's copy.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for key, value := range e.Attributes {
		attrs[key] = value
	}
	return &Event{Type: e.Type, Attributes: attrs}
}
