package events

import (
	"reflect"
	"runtime"

	"github.com/google/uuid"
)

const (
	spanKeyEvent      = "event.name"
	spanKeyType       = "event.type"
	spanKeyPhase      = "event.phase"
	spanKeyDispatchID = "event.dispatch_id"
	spanKeyHandlers   = "event.handlers"
	spanKeyEffects    = "event.effects"
)

// NodeInstance is the dispatch node name of handlers registered on the
// emitter itself.
const NodeInstance = "instance"

// NewID returns a new random id.
func NewID() string {
	return uuid.NewString()
}

// funcName returns the symbol name of fn, or "" for a nil func.
func funcName(fn HandlerFunc) string {
	if fn == nil {
		return ""
	}
	details := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if details != nil {
		return details.Name()
	}
	return ""
}
