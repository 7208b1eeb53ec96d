package events

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Args carries the named arguments of a fired event. The engine forwards it
// verbatim to every handler; its shape is a contract between the code firing
// an event and the handlers of that event.
type Args map[string]any

// NewArgs builds Args from alternating key/value pairs. A trailing key without
// value is stored as nil.
//
//	events.NewArgs("name", "netvm", "newvalue", "sys-firewall")
func NewArgs(kv ...any) Args {
	a := make(Args, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			a[key] = kv[i+1]
		} else {
			a[key] = nil
		}
	}
	return a
}

// Get returns the value stored under key, or nil.
func (a Args) Get(key string) any {
	if v, ok := a[key]; ok {
		return v
	}
	return nil
}

// Has reports whether key is present, even with a nil value.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Set stores value under key and returns the Args for chaining.
func (a Args) Set(key string, value any) Args {
	a[key] = value
	return a
}

// Keys returns the argument names in sorted order.
func (a Args) Keys() []string {
	return slices.Sorted(maps.Keys(a))
}

// Copy returns a shallow copy.
func (a Args) Copy() Args {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// String renders the arguments with sorted keys.
func (a Args) String() string {
	if a == nil {
		return ""
	}
	vals := make([]string, 0, len(a))
	for _, key := range a.Keys() {
		vals = append(vals, fmt.Sprintf("%s=%v", key, a[key]))
	}
	return fmt.Sprintf("Args{%s}", strings.Join(vals, ", "))
}

// Arg returns the argument stored under key converted to T. The second result
// is false when the key is missing or holds a value of another type.
//
//	oldvalue, ok := events.Arg[string](args, "oldvalue")
func Arg[T any](a Args, key string) (T, bool) {
	v, ok := a[key]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
