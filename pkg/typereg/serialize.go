package typereg

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/zjrosen/protdict/internal/cachemanager"
	"github.com/zjrosen/protdict/internal/log"
)

// Serialize exports value into an envelope using the exporter registered for
// its runtime type, falling back to the generic encodings. Nil pointers
// export as nil without reaching an exporter.
func (r *Registry) Serialize(value any) (map[string]any, error) {
	if value == nil {
		return Envelope(nil, NilName), nil
	}
	t := reflect.TypeOf(value)
	if e, ok := r.byType[t]; ok && e.exporter != nil {
		if t.Kind() == reflect.Pointer && reflect.ValueOf(value).IsNil() {
			return Envelope(nil, NilName), nil
		}
		payload, err := e.exporter(r, value)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", e.name, err)
		}
		return Envelope(payload, e.name), nil
	}
	return r.serializeFallback(reflect.ValueOf(value))
}

func (r *Registry) serializeFallback(rv reflect.Value) (map[string]any, error) {
	t := rv.Type()
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, &SerializationError{TypeName: r.Name(t), Reason: "kind " + t.Kind().String() + " has no JSON form"}
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Envelope(nil, NilName), nil
		}
		return r.Serialize(rv.Elem().Interface())
	case reflect.Struct:
		fields, err := r.structFields(rv)
		if err != nil {
			return nil, err
		}
		return Envelope(fields, "dict"), nil
	case reflect.Slice, reflect.Array:
		if t.Kind() == reflect.Slice && rv.IsNil() {
			return Envelope([]any{}, "list"), nil
		}
		items, err := r.serializeSeq(rv)
		if err != nil {
			return nil, err
		}
		return Envelope(items, "list"), nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, &SerializationError{TypeName: r.Name(t), Reason: "map keys must be strings"}
		}
		entries, err := r.serializeMap(rv)
		if err != nil {
			return nil, err
		}
		return Envelope(entries, "dict"), nil
	default:
		log.Debug(log.CatTypes, "raw passthrough export", "type", t.String())
		return Envelope(rv.Interface(), r.Name(t)), nil
	}
}

func (r *Registry) serializeSeq(rv reflect.Value) ([]any, error) {
	items := make([]any, rv.Len())
	for i := range rv.Len() {
		env, err := r.Serialize(rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		items[i] = env
	}
	return items, nil
}

func (r *Registry) serializeMap(rv reflect.Value) (map[string]any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		env, err := r.Serialize(iter.Value().Interface())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = env
	}
	return out, nil
}

// Deserialize rebuilds a value from an envelope. It fails with a *ParsingError
// if the payload is not an envelope, its type name is unknown, or the importer fails.
func (r *Registry) Deserialize(payload any) (any, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, &ParsingError{Value: payload, Cause: fmt.Errorf("expected envelope object, got %T", payload)}
	}
	name, _ := m[TypeKey].(string)
	raw := m[ValueKey]
	if name == "" {
		return nil, &ParsingError{Value: raw, Cause: fmt.Errorf("missing %q", TypeKey)}
	}
	if name == NilName {
		return nil, nil
	}

	e, ok := r.byName[name]
	if !ok {
		return nil, &ParsingError{TypeName: name, Value: raw}
	}
	if e.importer == nil {
		v, err := convertTo(e.typ, raw)
		if err != nil {
			return nil, &ParsingError{TypeName: name, TypeResolved: true, Value: raw, Cause: err}
		}
		return v, nil
	}
	v, err := e.importer(r, raw)
	if err != nil {
		return nil, &ParsingError{TypeName: name, TypeResolved: true, ImporterFound: true, Value: raw, Cause: err}
	}
	return v, nil
}

// Conforms reports whether value's runtime type is t, or implements t when t is an interface.
// A nil value conforms only to nilable kinds.
func Conforms(value any, t reflect.Type) bool {
	if value == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return true
		}
		return false
	}
	vt := reflect.TypeOf(value)
	if vt == t {
		return true
	}
	return t.Kind() == reflect.Interface && vt.Implements(t)
}

// convertTo coerces an imported payload into t. JSON numbers are normalised
// first so that integral payloads land in integer kinds without precision loss.
func convertTo(t reflect.Type, raw any) (any, error) {
	if raw == nil {
		return reflect.Zero(t).Interface(), nil
	}
	rv := reflect.ValueOf(raw)
	if n, ok := raw.(json.Number); ok {
		switch {
		case isIntKind(t.Kind()) || isUintKind(t.Kind()):
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("number %s is not an integer", n)
			}
			rv = reflect.ValueOf(i)
		case isFloatKind(t.Kind()):
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			rv = reflect.ValueOf(f)
		default:
			rv = reflect.ValueOf(n.String())
		}
	}
	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out.Interface(), nil
	}
	if numericKind(rv.Kind()) && numericKind(t.Kind()) {
		return convertNumber(rv, t)
	}
	if rv.Kind() == t.Kind() && rv.Type().ConvertibleTo(t) {
		return rv.Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", raw, t)
}

func convertNumber(rv reflect.Value, t reflect.Type) (any, error) {
	out := reflect.New(t).Elem()
	switch {
	case isIntKind(t.Kind()):
		var i int64
		switch {
		case isIntKind(rv.Kind()):
			i = rv.Int()
		case isUintKind(rv.Kind()):
			i = int64(rv.Uint()) //nolint:gosec // overflow checked below
		default:
			f := rv.Float()
			if f != float64(int64(f)) {
				return nil, fmt.Errorf("number %v is not an integer", f)
			}
			i = int64(f)
		}
		if out.OverflowInt(i) {
			return nil, fmt.Errorf("number %d overflows %s", i, t)
		}
		out.SetInt(i)
	case isUintKind(t.Kind()):
		var u uint64
		switch {
		case isIntKind(rv.Kind()):
			if rv.Int() < 0 {
				return nil, fmt.Errorf("number %d is negative", rv.Int())
			}
			u = uint64(rv.Int())
		case isUintKind(rv.Kind()):
			u = rv.Uint()
		default:
			f := rv.Float()
			if f < 0 || f != float64(uint64(f)) {
				return nil, fmt.Errorf("number %v is not an unsigned integer", f)
			}
			u = uint64(f)
		}
		if out.OverflowUint(u) {
			return nil, fmt.Errorf("number %d overflows %s", u, t)
		}
		out.SetUint(u)
	default:
		var f float64
		switch {
		case isIntKind(rv.Kind()):
			f = float64(rv.Int())
		case isUintKind(rv.Kind()):
			f = float64(rv.Uint())
		default:
			f = rv.Float()
		}
		if out.OverflowFloat(f) {
			return nil, fmt.Errorf("number %v overflows %s", f, t)
		}
		out.SetFloat(f)
	}
	return out.Interface(), nil
}

func isIntKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUintKind(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func numericKind(k reflect.Kind) bool {
	return isIntKind(k) || isUintKind(k) || isFloatKind(k)
}

// fieldPlan is one exported struct field and the key it is exported under.
type fieldPlan struct {
	Key   string
	Index []int
}

func (r *Registry) structFields(rv reflect.Value) (map[string]any, error) {
	t := rv.Type()
	plans, err := r.fields.Get(fmt.Sprintf("%p", t), t, cachemanager.DefaultExpiration)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(plans))
	for _, p := range plans {
		env, err := r.Serialize(rv.FieldByIndex(p.Index).Interface())
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", t, p.Key, err)
		}
		out[p.Key] = env
	}
	return out, nil
}

// planFields lists the exported fields of t, honouring `json` tag names and "-".
func planFields(t reflect.Type) ([]fieldPlan, error) {
	plans := make([]fieldPlan, 0, t.NumField())
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		key := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			name, _, _ := strings.Cut(tag, ",")
			if name == "-" {
				continue
			}
			if name != "" {
				key = name
			}
		}
		plans = append(plans, fieldPlan{Key: key, Index: f.Index})
	}
	log.Debug(log.CatTypes, "planned struct fields", "type", t.String(), "fields", len(plans))
	return plans, nil
}
