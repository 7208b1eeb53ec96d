package events

import (
	"fmt"
	"log/slog"
	"slices"
)

// Type is a declared emitter type: a node of the type hierarchy that owns a
// table of handlers declared directly on it.
//
// A Type is immutable once Declare returns and is safe to share between
// goroutines.
type Type struct {
	name       string
	bases      []*Type
	mro        []*Type
	handlers   handlerTable
	properties map[string]struct{}
	enabled    *bool
}

// member is one directly declared attribute of a type.
type member struct {
	name    string
	value   any
	resolve func() (any, error)
}

func (m member) get() (any, error) {
	if m.resolve != nil {
		return m.resolve()
	}
	return m.value, nil
}

// declareOptions holds the inputs of a type declaration (unexported).
type declareOptions struct {
	bases      []*Type
	members    []member
	properties []string
	enabled    *bool
	plain      bool
}

// DeclareOption configures a type declaration.
type DeclareOption func(*declareOptions)

// WithBases sets the ordered direct bases of the type. The order breaks ties
// when the ancestor chain is linearized: earlier bases come first.
func WithBases(bases ...*Type) DeclareOption {
	return func(o *declareOptions) {
		o.bases = append(o.bases, bases...)
	}
}

// WithHandlers declares handlers directly on the type. Each handler is stored
// as a member named after the handler, so a name listed in WithProperties
// hides it from the handler table.
func WithHandlers(handlers ...*Handler) DeclareOption {
	return func(o *declareOptions) {
		for _, h := range handlers {
			var name string
			if h != nil {
				name = h.name
			}
			o.members = append(o.members, member{name: name, value: h})
		}
	}
}

// WithMember declares a plain member. Values that are marked handlers end up
// in the handler table; anything else is ignored by the engine. Declaring the
// same name twice keeps the last value.
func WithMember(name string, value any) DeclareOption {
	return func(o *declareOptions) {
		o.setMember(member{name: name, value: value})
	}
}

// WithLazyMember declares a member whose value is computed on access, the way
// a property is. Unless its name is listed in WithProperties, the resolver is
// called once while the handler table is built; a resolver error makes the
// member count as "not a handler".
func WithLazyMember(name string, resolve func() (any, error)) DeclareOption {
	return func(o *declareOptions) {
		o.setMember(member{name: name, resolve: resolve})
	}
}

// WithProperties lists the managed attribute names of the type. Members with
// these names, here or on any ancestor's list, are never resolved while the
// handler table is built.
func WithProperties(names ...string) DeclareOption {
	return func(o *declareOptions) {
		o.properties = append(o.properties, names...)
	}
}

// WithEventsEnabledDefault fixes the EventsEnabled value new emitters of this
// type (and of subtypes that do not override it) start with.
func WithEventsEnabledDefault(enabled bool) DeclareOption {
	return func(o *declareOptions) {
		o.enabled = &enabled
	}
}

// AsPlain declares a type that is part of the hierarchy but does not take part
// in dispatch: it owns no handler table and firing skips it.
func AsPlain() DeclareOption {
	return func(o *declareOptions) {
		o.plain = true
	}
}

func (o *declareOptions) setMember(m member) {
	for i := range o.members {
		if o.members[i].name == m.name && o.members[i].name != "" {
			o.members[i] = m
			return
		}
	}
	o.members = append(o.members, m)
}

// newType builds the type, its ancestor chain and its handler table.
func newType(name string, opts ...DeclareOption) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty type name", ErrInvalidType)
	}
	o := &declareOptions{}
	for _, opt := range opts {
		opt(o)
	}
	for i, b := range o.bases {
		if b == nil {
			return nil, fmt.Errorf("%w: base %d of %q", ErrNilBase, i, name)
		}
	}

	t := &Type{
		name:    name,
		bases:   slices.Clone(o.bases),
		enabled: o.enabled,
	}
	mro, err := linearize(t, t.bases)
	if err != nil {
		return nil, err
	}
	t.mro = mro

	t.properties = make(map[string]struct{}, len(o.properties))
	for _, p := range o.properties {
		t.properties[p] = struct{}{}
	}
	for _, anc := range t.mro[1:] {
		for p := range anc.properties {
			t.properties[p] = struct{}{}
		}
	}

	if !o.plain {
		t.handlers = buildTable(name, o.members, t.properties)
	}
	return t, nil
}

// buildTable collects the handlers declared directly on a type. Members named
// as managed attributes are skipped before anything is resolved.
func buildTable(typeName string, members []member, properties map[string]struct{}) handlerTable {
	table := make(handlerTable)
	for _, m := range members {
		if _, managed := properties[m.name]; managed {
			continue
		}
		value, err := m.get()
		if err != nil {
			slog.Default().Debug("member not resolvable, skipped",
				"component", "events>"+typeName,
				"member", m.name,
				"error", err)
			continue
		}
		if !IsHandler(value) {
			continue
		}
		h := value.(*Handler)
		for _, event := range h.events {
			table.add(event, h)
		}
	}
	return table
}

// linearize computes the C3 linearization of t with the given ordered bases.
func linearize(t *Type, bases []*Type) ([]*Type, error) {
	seqs := make([][]*Type, 0, len(bases)+1)
	for _, b := range bases {
		seqs = append(seqs, slices.Clone(b.mro))
	}
	seqs = append(seqs, slices.Clone(bases))

	result := []*Type{t}
	for {
		live := seqs[:0]
		for _, seq := range seqs {
			if len(seq) > 0 {
				live = append(live, seq)
			}
		}
		seqs = live
		if len(seqs) == 0 {
			return result, nil
		}

		var head *Type
		for _, seq := range seqs {
			if !inTail(seq[0], seqs) {
				head = seq[0]
				break
			}
		}
		if head == nil {
			return nil, fmt.Errorf("%w: cannot order bases %v of %q", ErrInconsistentHierarchy, typeNames(bases), t.name)
		}

		result = append(result, head)
		for i, seq := range seqs {
			if seq[0] == head {
				seqs[i] = seq[1:]
			}
		}
	}
}

func inTail(t *Type, seqs [][]*Type) bool {
	for _, seq := range seqs {
		if slices.Contains(seq[1:], t) {
			return true
		}
	}
	return false
}

func typeNames(types []*Type) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.name
	}
	return names
}

// Name returns the declared type name.
func (t *Type) Name() string {
	return t.name
}

func (t *Type) String() string {
	return t.name
}

// Bases returns the ordered direct bases.
func (t *Type) Bases() []*Type {
	return slices.Clone(t.bases)
}

// MRO returns the ancestor chain: the type itself followed by its ancestors,
// most derived first.
func (t *Type) MRO() []*Type {
	return slices.Clone(t.mro)
}

// Participates reports whether the type owns a handler table.
func (t *Type) Participates() bool {
	return t.handlers != nil
}

// Handlers returns the handlers declared directly on the type for event, in
// declaration order. Inherited handlers are not included.
func (t *Type) Handlers(event string) []*Handler {
	return t.handlers.get(event)
}

// Events returns the event names the type declares handlers for, sorted.
func (t *Type) Events() []string {
	return t.handlers.events()
}

// Properties returns the managed attribute names of the type, including the
// ones declared by ancestors, sorted.
func (t *Type) Properties() []string {
	names := make([]string, 0, len(t.properties))
	for p := range t.properties {
		names = append(names, p)
	}
	slices.Sort(names)
	return names
}

// IsSubtype reports whether other is t or one of its ancestors.
func (t *Type) IsSubtype(other *Type) bool {
	return slices.Contains(t.mro, other)
}

// EventsEnabledDefault returns the EventsEnabled value emitters of this type
// start with: the value fixed by the most derived type of the chain that sets
// one, false otherwise.
func (t *Type) EventsEnabledDefault() bool {
	for _, anc := range t.mro {
		if anc.enabled != nil {
			return *anc.enabled
		}
	}
	return false
}
