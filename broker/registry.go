package broker

import (
	"sort"
	"sync/atomic"

	"emperror.dev/errors"
)

// A Registry maps action names to handlers. Handlers are stored under
// "<namespace>.<action>". Register everything before the gateway starts:
// the gateway seals the registry and later registrations fail.
//
// Registration is not safe for concurrent use; lookups are, once sealed.
type Registry struct {
	namespace string
	handlers  map[string]HandlerFunc
	sealed    atomic.Bool
}

// NewRegistry returns an empty registry for namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{namespace: namespace, handlers: make(map[string]HandlerFunc)}
}

// Namespace returns the prefix under which actions are stored.
func (r *Registry) Namespace() string { return r.namespace }

func (r *Registry) qualify(action string) string {
	if r.namespace == "" {
		return action
	}
	return r.namespace + "." + action
}

// Handle registers h for action. Empty names, nil handlers and duplicates are
// rejected here rather than at dispatch time.
func (r *Registry) Handle(action string, h HandlerFunc) error {
	if r.sealed.Load() {
		return errors.WithDetails(ErrRegistrySealed, "action", action)
	}
	if action == "" || h == nil {
		return errors.WithDetails(ErrInvalidHandler, "action", action)
	}
	name := r.qualify(action)
	if _, dup := r.handlers[name]; dup {
		return errors.WithDetails(errors.WithMessage(ErrInvalidHandler, "duplicate action"), "action", action)
	}
	r.handlers[name] = h
	return nil
}

// MustHandle is Handle for startup code; it panics on error.
func (r *Registry) MustHandle(action string, h HandlerFunc) *Registry {
	if err := r.Handle(action, h); err != nil {
		panic(err)
	}
	return r
}

// Resolve looks up the handler for action.
func (r *Registry) Resolve(action string) (HandlerFunc, error) {
	h, ok := r.handlers[r.qualify(action)]
	if !ok {
		return nil, errors.WithDetails(ErrHandlerNotFound, "handler", r.qualify(action))
	}
	return h, nil
}

// Names returns the fully qualified names of all handlers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Seal stops further registration.
func (r *Registry) Seal() { r.sealed.Store(true) }

// A Group registers actions under a shared dotted prefix.
type Group struct {
	reg    *Registry
	prefix string
}

// Group returns a group whose actions are named "<prefix>.<action>".
func (r *Registry) Group(prefix string) *Group {
	return &Group{reg: r, prefix: prefix}
}

func (g *Group) sub(name string) string {
	if g.prefix == "" || name == "" {
		if name == "" {
			return g.prefix
		}
		return name
	}
	return g.prefix + "." + name
}

// Group nests a further prefix.
func (g *Group) Group(suffix string) *Group {
	return &Group{reg: g.reg, prefix: g.sub(suffix)}
}

// Handle registers h for "<prefix>.<action>".
func (g *Group) Handle(action string, h HandlerFunc) error {
	return g.reg.Handle(g.sub(action), h)
}
