package events

import (
	"maps"
	"slices"
)

// handlerSet is an insertion-ordered set of handlers.
type handlerSet struct {
	list  []*Handler
	index map[*Handler]struct{}
}

func newHandlerSet() *handlerSet {
	return &handlerSet{index: make(map[*Handler]struct{})}
}

func (s *handlerSet) add(h *Handler) bool {
	if _, ok := s.index[h]; ok {
		return false
	}
	s.index[h] = struct{}{}
	s.list = append(s.list, h)
	return true
}

func (s *handlerSet) remove(h *Handler) bool {
	if _, ok := s.index[h]; !ok {
		return false
	}
	delete(s.index, h)
	s.list = slices.DeleteFunc(s.list, func(x *Handler) bool { return x == h })
	return true
}

func (s *handlerSet) contains(h *Handler) bool {
	_, ok := s.index[h]
	return ok
}

func (s *handlerSet) len() int {
	return len(s.list)
}

// handlerTable maps event names to handler sets. A nil table marks a node that
// does not take part in dispatch.
type handlerTable map[string]*handlerSet

func (t handlerTable) add(event string, h *Handler) bool {
	set, ok := t[event]
	if !ok {
		set = newHandlerSet()
		t[event] = set
	}
	return set.add(h)
}

func (t handlerTable) remove(event string, h *Handler) bool {
	set, ok := t[event]
	if !ok {
		return false
	}
	if !set.remove(h) {
		return false
	}
	if set.len() == 0 {
		delete(t, event)
	}
	return true
}

func (t handlerTable) get(event string) []*Handler {
	if set, ok := t[event]; ok {
		return slices.Clone(set.list)
	}
	return nil
}

func (t handlerTable) events() []string {
	return slices.Sorted(maps.Keys(t))
}

// candidates returns the handlers to run for event on this node: the union of
// the event's handlers and the match-all handlers, bound ones first. Within
// each partition the registration order is kept, named-event handlers ahead of
// match-all ones. The result is a snapshot, so handlers may change the table
// while it is being walked.
func (t handlerTable) candidates(event string) []*Handler {
	named := t[event]
	var wildcard *handlerSet
	if event != AnyEvent {
		wildcard = t[AnyEvent]
	}
	size := 0
	if named != nil {
		size += named.len()
	}
	if wildcard != nil {
		size += wildcard.len()
	}
	if size == 0 {
		return nil
	}

	union := make([]*Handler, 0, size)
	if named != nil {
		union = append(union, named.list...)
	}
	if wildcard != nil {
		for _, h := range wildcard.list {
			if named == nil || !named.contains(h) {
				union = append(union, h)
			}
		}
	}

	out := make([]*Handler, 0, len(union))
	for _, h := range union {
		if h.bound {
			out = append(out, h)
		}
	}
	for _, h := range union {
		if !h.bound {
			out = append(out, h)
		}
	}
	return out
}
