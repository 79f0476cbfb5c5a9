// Package typereg maps type names to Go types and dispatches the generic
// export/import of values to and from a JSON-shaped envelope:
//
//	{"__value__": <payload>, "_type": <registered name>}
//
// Each registered type may carry an exporter (value → payload) and an importer
// (payload → value). Values of unregistered types fall back to a dict-of-fields
// encoding for structs, generic list/dict encodings for slices and string-keyed
// maps, and finally to a raw passthrough of the value itself.
package typereg

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/zjrosen/protdict/internal/cachemanager"
	"github.com/zjrosen/protdict/internal/log"
)

// Envelope keys.
const (
	ValueKey = "__value__"
	TypeKey  = "_type"
)

// NilName is the type name used for nil values.
const NilName = "nil"

// Exporter turns a value into a JSON-shaped payload. Nested values should be
// exported through r so they carry their own envelopes.
type Exporter func(r *Registry, value any) (any, error)

// Importer rebuilds a value from the payload its exporter produced.
type Importer func(r *Registry, payload any) (any, error)

type entry struct {
	name     string
	typ      reflect.Type
	exporter Exporter
	importer Importer
}

// Registry resolves names to types and back and owns the exporter/importer tables.
// It is not safe for concurrent mutation.
type Registry struct {
	byName map[string]*entry
	byType map[reflect.Type]*entry
	fields *cachemanager.ReadThroughCache[string, []fieldPlan, reflect.Type]
}

// NewRegistry creates a registry pre-populated with the built-in scalar,
// sequence, set and map types.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]*entry),
		byType: make(map[reflect.Type]*entry),
		fields: cachemanager.NewReadThroughCache[string, []fieldPlan, reflect.Type](
			cachemanager.NewInMemoryCacheManager[string, []fieldPlan]("struct-fields", cachemanager.NoExpiration, 0),
			planFields,
			false,
		),
	}
	registerBuiltins(r)
	return r
}

// RegisterOption configures a single Register call.
type RegisterOption func(*entry, *bool)

// WithName registers the type under name instead of its Go type name.
func WithName(name string) RegisterOption {
	return func(e *entry, _ *bool) { e.name = name }
}

// WithExporter attaches an exporter.
func WithExporter(fn Exporter) RegisterOption {
	return func(e *entry, _ *bool) { e.exporter = fn }
}

// WithImporter attaches an importer.
func WithImporter(fn Importer) RegisterOption {
	return func(e *entry, _ *bool) { e.importer = fn }
}

// Overwrite replaces an existing registration under the same name.
func Overwrite() RegisterOption {
	return func(_ *entry, overwrite *bool) { *overwrite = true }
}

// Register adds t to the registry. It fails with ErrTypeExists if the name is
// already registered and Overwrite was not given.
func (r *Registry) Register(t reflect.Type, opts ...RegisterOption) error {
	if t == nil {
		return fmt.Errorf("register: type is nil")
	}
	e := &entry{name: TypeName(t), typ: t}
	overwrite := false
	for _, opt := range opts {
		opt(e, &overwrite)
	}
	e.name = strings.TrimSpace(e.name)
	if e.name == "" || e.name == NilName {
		return fmt.Errorf("register %s: invalid name %q", t, e.name)
	}

	if old, ok := r.byName[e.name]; ok {
		if !overwrite {
			return fmt.Errorf("%w: %q", ErrTypeExists, e.name)
		}
		if r.byType[old.typ] == old {
			delete(r.byType, old.typ)
		}
	}
	r.byName[e.name] = e
	r.byType[t] = e

	log.Debug(log.CatTypes, "registered type", "name", e.name, "type", t.String(),
		"exporter", e.exporter != nil, "importer", e.importer != nil)
	return nil
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (reflect.Type, bool) {
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.typ, true
}

// Resolve converts names to types. In strict mode an unknown name fails with
// ErrUnknownType; otherwise unknown names are omitted.
func (r *Registry) Resolve(names []string, strict bool) ([]reflect.Type, error) {
	resolved := make([]reflect.Type, 0, len(names))
	for _, name := range names {
		t, ok := r.Lookup(name)
		if !ok {
			if strict {
				return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
			}
			continue
		}
		resolved = append(resolved, t)
	}
	return resolved, nil
}

// Name returns the registered name of t, or its Go type name if unregistered.
func (r *Registry) Name(t reflect.Type) string {
	if t == nil {
		return NilName
	}
	if e, ok := r.byType[t]; ok {
		return e.name
	}
	return TypeName(t)
}

// Reverse converts types to their registered names.
func (r *Registry) Reverse(types []reflect.Type) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = r.Name(t)
	}
	return names
}

// Registered returns a snapshot of every name → type registration.
func (r *Registry) Registered() map[string]reflect.Type {
	out := make(map[string]reflect.Type, len(r.byName))
	for name, e := range r.byName {
		out[name] = e.typ
	}
	return out
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypeName is the default registration name for t: the bare name for
// predeclared types and the package-qualified name otherwise.
func TypeName(t reflect.Type) string {
	if t == nil {
		return NilName
	}
	if t.Name() != "" && t.PkgPath() == "" {
		return t.Name()
	}
	return t.String()
}

// Envelope wraps payload with its type name.
func Envelope(payload any, name string) map[string]any {
	return map[string]any{ValueKey: payload, TypeKey: name}
}

// IsEnvelope reports whether v has the shape of an exported envelope.
func IsEnvelope(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 2 {
		return false
	}
	_, hasValue := m[ValueKey]
	name, hasType := m[TypeKey].(string)
	return hasValue && hasType && name != ""
}
