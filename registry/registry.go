// Package registry is the (kind, name) -> binding directory every Blueprint
// node resolves against at compile time. Grounded on the teacher's
// registry/store interfaces, generalized from a single "toolset" kind to
// the full set of bindable component kinds, and made copy-on-write so
// readers never block on a writer (spec.md §5: "Registry is read-mostly").
package registry

import (
	"context"
	"sync/atomic"

	"github.com/iceos/core/ice"
)

// Kind is the category of a registered component.
type Kind string

const (
	KindTool     Kind = "tool"
	KindAgent    Kind = "agent"
	KindModel    Kind = "model"
	KindWorkflow Kind = "workflow"
	KindCode     Kind = "code"
)

// Binding is one registered component: a name within a Kind, bound to
// provider-specific definition data (e.g. a tool's JSON schema and
// invocation endpoint, or a model's provider/name pair).
type Binding struct {
	Kind       Kind
	Name       ice.BindingName
	Version    string
	Tags       []string
	Definition map[string]any
}

type snapshot struct {
	byKindName map[Kind]map[ice.BindingName]Binding
}

func emptySnapshot() *snapshot {
	return &snapshot{byKindName: make(map[Kind]map[ice.BindingName]Binding)}
}

func (s *snapshot) clone() *snapshot {
	out := emptySnapshot()
	for k, names := range s.byKindName {
		m := make(map[ice.BindingName]Binding, len(names))
		for n, b := range names {
			m[n] = b
		}
		out.byKindName[k] = m
	}
	return out
}

// Registry resolves (kind, name) to a Binding. Updates swap an atomic
// pointer to a new immutable snapshot so List/Resolve never take a lock.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(emptySnapshot())
	return r
}

// Register adds or replaces a Binding, copy-on-write.
func (r *Registry) Register(b Binding) {
	for {
		old := r.snap.Load()
		next := old.clone()
		names, ok := next.byKindName[b.Kind]
		if !ok {
			names = make(map[ice.BindingName]Binding)
			next.byKindName[b.Kind] = names
		}
		names[b.Name] = b
		if r.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// Resolve looks up a binding by kind and name.
func (r *Registry) Resolve(kind Kind, name ice.BindingName) (Binding, error) {
	snap := r.snap.Load()
	names, ok := snap.byKindName[kind]
	if !ok {
		return Binding{}, ice.New(ice.KindRegistryBindingMissing, "no bindings registered for kind %q", kind)
	}
	b, ok := names[name]
	if !ok {
		return Binding{}, ice.New(ice.KindRegistryBindingMissing, "no binding %q registered for kind %q", name, kind)
	}
	return b, nil
}

// Filter describes a List query.
type Filter struct {
	Kind Kind
	Tags []string
}

// List returns all bindings matching filter. An empty Filter.Kind matches
// every kind; an empty Filter.Tags matches regardless of tags.
func (r *Registry) List(_ context.Context, filter Filter) ([]Binding, error) {
	snap := r.snap.Load()
	var out []Binding
	for kind, names := range snap.byKindName {
		if filter.Kind != "" && kind != filter.Kind {
			continue
		}
		for _, b := range names {
			if hasAllTags(b.Tags, filter.Tags) {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

var defaultRegistry = New()

// Default returns a package-level Registry kept only for test ergonomics
// (per spec.md Design Notes §9); production wiring always threads an
// explicit *Registry through Dependencies instead of reaching for this.
func Default() *Registry { return defaultRegistry }

func (k Kind) String() string { return string(k) }
