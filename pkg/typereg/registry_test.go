package typereg

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type point struct {
	X       int
	Y       int    `json:"y"`
	Label   string `json:"-"`
	private int
}

type celsius float64

func TestRegister_DuplicateNeedsOverwrite(t *testing.T) {
	r := NewRegistry()

	err := r.Register(reflect.TypeOf(point{}), WithName("point"))
	require.NoError(t, err)

	err = r.Register(reflect.TypeOf(point{}), WithName("point"))
	require.ErrorIs(t, err, ErrTypeExists)

	err = r.Register(reflect.TypeOf(celsius(0)), WithName("point"), Overwrite())
	require.NoError(t, err)

	got, ok := r.Lookup("point")
	require.True(t, ok)
	require.Equal(t, reflect.TypeOf(celsius(0)), got)
	require.Equal(t, "typereg.point", r.Name(reflect.TypeOf(point{})), "old mapping is dropped on overwrite")
}

func TestRegister_RejectsReservedNames(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register(reflect.TypeOf(point{}), WithName(NilName)))
	require.Error(t, r.Register(reflect.TypeOf(point{}), WithName("  ")))
	require.Error(t, r.Register(nil))
}

func TestResolve(t *testing.T) {
	r := NewRegistry()

	types, err := r.Resolve([]string{"int", "missing", "string"}, false)
	require.NoError(t, err)
	require.Equal(t, []reflect.Type{reflect.TypeOf(0), reflect.TypeOf("")}, types)

	_, err = r.Resolve([]string{"int", "missing"}, true)
	require.ErrorIs(t, err, ErrUnknownType)
	require.Contains(t, err.Error(), "missing")

	require.Equal(t, []string{"int", "list", "dict"}, r.Reverse([]reflect.Type{
		reflect.TypeOf(0), reflect.TypeOf([]any{}), reflect.TypeOf(map[string]any{}),
	}))
}

func TestNames_SortedAndComplete(t *testing.T) {
	r := NewRegistry()
	names := r.Names()
	require.IsIncreasing(t, names)
	for _, want := range []string{"bool", "dict", "float64", "int", "list", "set", "string", "time", "[]string", "map[string]int"} {
		require.Contains(t, names, want)
	}
	require.Len(t, r.Registered(), len(names))
}

func TestSerialize_Scalars(t *testing.T) {
	r := NewRegistry()

	env, err := r.Serialize(42)
	require.NoError(t, err)
	require.Equal(t, map[string]any{ValueKey: 42, TypeKey: "int"}, env)

	env, err = r.Serialize(uint8(7))
	require.NoError(t, err)
	require.Equal(t, "uint8", env[TypeKey])

	env, err = r.Serialize(nil)
	require.NoError(t, err)
	require.Equal(t, NilName, env[TypeKey])
}

func TestSerialize_StructFallsBackToDict(t *testing.T) {
	r := NewRegistry()

	env, err := r.Serialize(point{X: 1, Y: 2, Label: "skip", private: 3})
	require.NoError(t, err)
	require.Equal(t, "dict", env[TypeKey])
	require.Equal(t, map[string]any{
		"X": Envelope(1, "int"),
		"y": Envelope(2, "int"),
	}, env[ValueKey])

	// The field plan is memoised after the first export.
	env, err = r.Serialize(&point{X: 5})
	require.NoError(t, err)
	require.Equal(t, Envelope(5, "int"), env[ValueKey].(map[string]any)["X"])
}

func TestSerialize_SameNamedLocalStructs(t *testing.T) {
	first := func() any {
		type item struct {
			A string
			B int
		}
		return item{A: "a", B: 1}
	}
	second := func() any {
		type item struct {
			C bool
		}
		return item{C: true}
	}
	require.Equal(t, reflect.TypeOf(first()).String(), reflect.TypeOf(second()).String())

	r := NewRegistry()
	env, err := r.Serialize(first())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"A": Envelope("a", "string"), "B": Envelope(1, "int")}, env[ValueKey])

	env, err = r.Serialize(second())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"C": Envelope(true, "bool")}, env[ValueKey])
}

func TestSerialize_NilPointerWithExporter(t *testing.T) {
	r := NewRegistry()
	err := r.Register(reflect.TypeOf((*point)(nil)), WithName("point"),
		WithExporter(func(_ *Registry, v any) (any, error) { return v.(*point).X, nil }))
	require.NoError(t, err)

	env, err := r.Serialize((*point)(nil))
	require.NoError(t, err)
	require.Equal(t, Envelope(nil, NilName), env)

	env, err = r.Serialize(&point{X: 4})
	require.NoError(t, err)
	require.Equal(t, Envelope(4, "point"), env)
}

func TestSerialize_Unsupported(t *testing.T) {
	r := NewRegistry()

	_, err := r.Serialize(func() {})
	require.ErrorIs(t, err, ErrDataSerialization)

	_, err = r.Serialize(map[int]string{1: "a"})
	require.ErrorIs(t, err, ErrDataSerialization)

	_, err = r.Serialize([]any{1, make(chan int)})
	require.ErrorIs(t, err, ErrDataSerialization)
}

func TestSerialize_CustomExporter(t *testing.T) {
	r := NewRegistry()
	err := r.Register(reflect.TypeOf(celsius(0)), WithName("celsius"),
		WithExporter(func(_ *Registry, v any) (any, error) { return float64(v.(celsius)), nil }),
		WithImporter(func(_ *Registry, payload any) (any, error) {
			f, ok := payload.(float64)
			if !ok {
				return nil, ErrDataParsing
			}
			return celsius(f), nil
		}))
	require.NoError(t, err)

	env, err := r.Serialize(celsius(21.5))
	require.NoError(t, err)
	require.Equal(t, Envelope(21.5, "celsius"), env)

	back, err := r.Deserialize(env)
	require.NoError(t, err)
	require.Equal(t, celsius(21.5), back)
}

func TestDeserialize_Errors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Deserialize(map[string]any{ValueKey: 1})
	require.ErrorIs(t, err, ErrDataParsing)

	_, err = r.Deserialize(Envelope(1, "no-such-type"))
	require.ErrorIs(t, err, ErrDataParsing)
	var perr *ParsingError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "no-such-type", perr.TypeName)
	require.False(t, perr.TypeResolved)

	_, err = r.Deserialize(Envelope("abc", "int"))
	require.ErrorAs(t, err, &perr)
	require.True(t, perr.TypeResolved)

	_, err = r.Deserialize(Envelope(300, "uint8"))
	require.ErrorIs(t, err, ErrDataParsing)

	_, err = r.Deserialize("bare")
	require.ErrorIs(t, err, ErrDataParsing)
}

func TestDeserialize_JSONNumbers(t *testing.T) {
	r := NewRegistry()

	v, err := r.Deserialize(Envelope(json.Number("12"), "int64"))
	require.NoError(t, err)
	require.Equal(t, int64(12), v)

	v, err = r.Deserialize(Envelope(json.Number("1.25"), "float32"))
	require.NoError(t, err)
	require.Equal(t, float32(1.25), v)

	v, err = r.Deserialize(Envelope(float64(3), "int"))
	require.NoError(t, err)
	require.Equal(t, 3, v)

	_, err = r.Deserialize(Envelope(json.Number("1.5"), "int"))
	require.ErrorIs(t, err, ErrDataParsing)
}

func TestSetAndTime_RoundTrip(t *testing.T) {
	r := NewRegistry()

	s := NewSet(3, 1, 2)
	env, err := r.Serialize(s)
	require.NoError(t, err)
	require.Equal(t, "set", env[TypeKey])
	require.Equal(t, []any{Envelope(1, "int"), Envelope(2, "int"), Envelope(3, "int")}, env[ValueKey])

	back, err := r.Deserialize(env)
	require.NoError(t, err)
	require.Equal(t, s, back)

	_, err = r.Deserialize(Envelope([]any{Envelope([]any{}, "list")}, "set"))
	require.ErrorIs(t, err, ErrDataParsing)

	now := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)
	env, err = r.Serialize(now)
	require.NoError(t, err)
	back, err = r.Deserialize(env)
	require.NoError(t, err)
	require.True(t, now.Equal(back.(time.Time)))
}

func TestSetItems_Ordering(t *testing.T) {
	s := NewSet("b", 2, nil, true, "a", 10)
	require.Equal(t, []any{nil, true, 2, 10, "a", "b"}, s.Items())
	require.True(t, s.Has("a"))
	s.Add("c")
	require.Len(t, s, 7)
}

func TestImport_NormalizesBareValues(t *testing.T) {
	r := NewRegistry()
	v, err := r.Import(map[string]any{"n": json.Number("4"), "f": json.Number("0.5")})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"n": 4, "f": 0.5}, v)
}

func TestIsEnvelope(t *testing.T) {
	require.True(t, IsEnvelope(Envelope(1, "int")))
	require.False(t, IsEnvelope(map[string]any{ValueKey: 1, TypeKey: ""}))
	require.False(t, IsEnvelope(map[string]any{ValueKey: 1, TypeKey: "int", "extra": true}))
	require.False(t, IsEnvelope([]any{}))
}

func TestConforms(t *testing.T) {
	errType := reflect.TypeOf((*error)(nil)).Elem()
	require.True(t, Conforms(1, reflect.TypeOf(0)))
	require.False(t, Conforms(int64(1), reflect.TypeOf(0)))
	require.True(t, Conforms(ErrDataParsing, errType))
	require.True(t, Conforms(nil, reflect.TypeOf([]any{})))
	require.False(t, Conforms(nil, reflect.TypeOf(0)))
}

func TestSerialize_RoundTripThroughJSON(t *testing.T) {
	r := NewRegistry()
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.OneOf(
			rapid.Map(rapid.Int(), func(v int) any { return v }),
			rapid.Map(rapid.String(), func(v string) any { return v }),
			rapid.Map(rapid.Bool(), func(v bool) any { return v }),
			rapid.Map(rapid.SliceOf(rapid.String()), func(v []string) any { return append([]string{}, v...) }),
			rapid.Map(rapid.MapOf(rapid.String(), rapid.Int()), func(v map[string]int) any {
				out := make(map[string]int, len(v))
				for k, n := range v {
					out[k] = n
				}
				return out
			}),
			rapid.Map(rapid.SliceOf(rapid.Int()), func(v []int) any {
				out := make([]any, len(v))
				for i, n := range v {
					out[i] = n
				}
				return out
			}),
		).Draw(t, "value")

		env, err := r.Serialize(value)
		require.NoError(t, err)

		raw, err := json.Marshal(env)
		require.NoError(t, err)
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var decoded any
		require.NoError(t, dec.Decode(&decoded))

		back, err := r.Deserialize(decoded)
		require.NoError(t, err)
		require.Equal(t, value, back)
	})
}
