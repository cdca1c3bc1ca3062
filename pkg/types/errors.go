package types

import (
	"sort"
	"strings"
)

// ConfigErrors accumulates field-scoped validation messages on a
// configuration entity. Entities keep their errors instead of failing, so an
// invalid entity still shows up in a merged view.
type ConfigErrors struct {
	fields map[string][]string
	order  []string
}

// Add records msg against field. Duplicate messages on a field are ignored.
func (e *ConfigErrors) Add(field, msg string) {
	if e.fields == nil {
		e.fields = map[string][]string{}
	}
	existing, seen := e.fields[field]
	for _, m := range existing {
		if m == msg {
			return
		}
	}
	if !seen {
		e.order = append(e.order, field)
	}
	e.fields[field] = append(existing, msg)
}

// AddAll copies every message of other into e.
func (e *ConfigErrors) AddAll(other *ConfigErrors) {
	if other == nil {
		return
	}
	for _, field := range other.order {
		for _, msg := range other.fields[field] {
			e.Add(field, msg)
		}
	}
}

// On returns the messages recorded against field.
func (e *ConfigErrors) On(field string) []string {
	if e == nil || e.fields == nil {
		return nil
	}
	return append([]string(nil), e.fields[field]...)
}

// FirstOn returns the first message on field, or "".
func (e *ConfigErrors) FirstOn(field string) string {
	msgs := e.On(field)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[0]
}

// IsEmpty reports whether no message was recorded.
func (e *ConfigErrors) IsEmpty() bool {
	return e == nil || len(e.order) == 0
}

// All returns every message in field insertion order.
func (e *ConfigErrors) All() []string {
	if e == nil {
		return nil
	}
	var all []string
	for _, field := range e.order {
		all = append(all, e.fields[field]...)
	}
	return all
}

// Fields returns the fields with errors, sorted.
func (e *ConfigErrors) Fields() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.order...)
	sort.Strings(out)
	return out
}

// Clear drops every recorded message.
func (e *ConfigErrors) Clear() {
	e.fields = nil
	e.order = nil
}

func (e *ConfigErrors) String() string {
	return strings.Join(e.All(), ", ")
}
