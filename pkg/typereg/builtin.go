package typereg

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Set is an unordered collection of comparable values. It exports as a
// sorted list so snapshots are stable.
type Set map[any]struct{}

// NewSet builds a set from items. Items must be comparable.
func NewSet(items ...any) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// Add inserts item.
func (s Set) Add(item any) { s[item] = struct{}{} }

// Has reports whether item is in the set.
func (s Set) Has(item any) bool {
	_, ok := s[item]
	return ok
}

// Items returns the members in a deterministic order.
func (s Set) Items() []any {
	items := make([]any, 0, len(s))
	for item := range s {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return lessAny(items[i], items[j]) })
	return items
}

// lessAny orders nil < bool < numbers < strings < everything else.
func lessAny(a, b any) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra < rb
	}
	switch ra {
	case 1:
		return !a.(bool) && b.(bool)
	case 2:
		return toFloat(a) < toFloat(b)
	case 3:
		return reflect.ValueOf(a).String() < reflect.ValueOf(b).String()
	}
	return fmt.Sprintf("%T:%v", a, a) < fmt.Sprintf("%T:%v", b, b)
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	switch k := reflect.TypeOf(v).Kind(); {
	case k == reflect.Bool:
		return 1
	case numericKind(k):
		return 2
	case k == reflect.String:
		return 3
	}
	return 4
}

func toFloat(v any) float64 {
	rv := reflect.ValueOf(v)
	switch {
	case isIntKind(rv.Kind()):
		return float64(rv.Int())
	case isUintKind(rv.Kind()):
		return float64(rv.Uint())
	}
	return rv.Float()
}

// Normalize converts JSON-decoded numbers into Go numbers: integral literals
// become int and everything else float64. Maps and slices are walked.
func Normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = Normalize(item)
		}
		return out
	}
	return v
}

// Import deserializes payload if it is an envelope and normalizes it otherwise.
func (r *Registry) Import(payload any) (any, error) {
	if IsEnvelope(payload) {
		return r.Deserialize(payload)
	}
	return Normalize(payload), nil
}

func registerBuiltins(r *Registry) {
	scalars := []any{
		int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0), "", false,
	}
	for _, zero := range scalars {
		mustRegister(r, reflect.TypeOf(zero))
	}

	mustRegister(r, reflect.TypeOf([]any(nil)), WithName("list"),
		WithExporter(func(r *Registry, v any) (any, error) {
			return r.serializeSeq(reflect.ValueOf(v))
		}),
		WithImporter(func(r *Registry, payload any) (any, error) {
			return importList(r, payload)
		}))

	mustRegister(r, reflect.TypeOf(map[string]any(nil)), WithName("dict"),
		WithExporter(func(r *Registry, v any) (any, error) {
			return r.serializeMap(reflect.ValueOf(v))
		}),
		WithImporter(func(r *Registry, payload any) (any, error) {
			return importDict(r, payload)
		}))

	mustRegister(r, reflect.TypeOf(Set(nil)), WithName("set"),
		WithExporter(func(r *Registry, v any) (any, error) {
			return r.serializeSeq(reflect.ValueOf(v.(Set).Items()))
		}),
		WithImporter(func(r *Registry, payload any) (any, error) {
			items, err := importList(r, payload)
			if err != nil {
				return nil, err
			}
			s := make(Set, len(items))
			for i, item := range items {
				if item != nil && !reflect.TypeOf(item).Comparable() {
					return nil, fmt.Errorf("set item %d of type %T is not hashable", i, item)
				}
				s[item] = struct{}{}
			}
			return s, nil
		}))

	mustRegister(r, reflect.TypeOf(time.Time{}), WithName("time"),
		WithExporter(func(_ *Registry, v any) (any, error) {
			return v.(time.Time).Format(time.RFC3339Nano), nil
		}),
		WithImporter(func(_ *Registry, payload any) (any, error) {
			s, ok := payload.(string)
			if !ok {
				return nil, fmt.Errorf("time payload must be a string, got %T", payload)
			}
			return time.Parse(time.RFC3339Nano, s)
		}))

	registerSlice[string](r)
	registerSlice[int](r)
	registerSlice[float64](r)
	registerSlice[bool](r)
	registerMap[string](r)
	registerMap[int](r)
	registerMap[float64](r)
}

// registerSlice registers []T as a list of envelopes whose items are coerced back to T.
func registerSlice[T any](r *Registry) {
	elem := reflect.TypeFor[T]()
	mustRegister(r, reflect.TypeFor[[]T](),
		WithExporter(func(r *Registry, v any) (any, error) {
			return r.serializeSeq(reflect.ValueOf(v))
		}),
		WithImporter(func(r *Registry, payload any) (any, error) {
			items, err := importList(r, payload)
			if err != nil {
				return nil, err
			}
			out := make([]T, len(items))
			for i, item := range items {
				v, err := convertTo(elem, item)
				if err != nil {
					return nil, fmt.Errorf("index %d: %w", i, err)
				}
				out[i] = v.(T)
			}
			return out, nil
		}))
}

// registerMap registers map[string]T as a dict of envelopes whose values are coerced back to T.
func registerMap[T any](r *Registry) {
	elem := reflect.TypeFor[T]()
	mustRegister(r, reflect.TypeFor[map[string]T](),
		WithExporter(func(r *Registry, v any) (any, error) {
			return r.serializeMap(reflect.ValueOf(v))
		}),
		WithImporter(func(r *Registry, payload any) (any, error) {
			entries, err := importDict(r, payload)
			if err != nil {
				return nil, err
			}
			out := make(map[string]T, len(entries))
			for k, item := range entries {
				v, err := convertTo(elem, item)
				if err != nil {
					return nil, fmt.Errorf("key %q: %w", k, err)
				}
				out[k] = v.(T)
			}
			return out, nil
		}))
}

func importList(r *Registry, payload any) ([]any, error) {
	raw, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("list payload must be an array, got %T", payload)
	}
	out := make([]any, len(raw))
	for i, item := range raw {
		v, err := r.Import(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func importDict(r *Registry, payload any) (map[string]any, error) {
	raw, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("dict payload must be an object, got %T", payload)
	}
	out := make(map[string]any, len(raw))
	for k, item := range raw {
		v, err := r.Import(item)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func mustRegister(r *Registry, t reflect.Type, opts ...RegisterOption) {
	if err := r.Register(t, opts...); err != nil {
		panic(fmt.Sprintf("typereg: builtin %s: %v", t, err))
	}
}
