package data

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protdict/pkg/typereg"
)

func newData(t testing.TB, entries map[string]any, opts ...Option) *Data {
	t.Helper()
	d, err := New(entries, append([]Option{WithEnv(NewEnv(nil, nil))}, opts...)...)
	require.NoError(t, err)
	return d
}

func mustGet(t testing.TB, d *Data, name string) any {
	t.Helper()
	v, ok := d.Get(name)
	require.True(t, ok, "missing %q", name)
	return v
}

func TestNew_TaggedEntries(t *testing.T) {
	d := newData(t, map[string]any{
		"a": 1,
		"b": map[string]any{"value": 2, "tags": []any{"protected", "typed"}},
		"c": map[string]any{"value": "x", "tags": []string{"kwarg"}},
		"d": map[string]any{"value": 1.5, "other": true},
	})

	require.Equal(t, 1, mustGet(t, d, "a"))
	require.Equal(t, 2, mustGet(t, d, "b"))
	require.Equal(t, map[string]any{"value": 1.5, "other": true}, mustGet(t, d, "d"), "non-entry maps stay plain values")

	tags, ok := d.Tags("b")
	require.True(t, ok)
	require.Equal(t, []string{TagProtected, TagTyped}, tags)

	tags, _ = d.Tags("c")
	require.Equal(t, []string{TagProtected, TagKwarg}, tags)

	tags, _ = d.Tags("a")
	require.Equal(t, []string{TagNone}, tags)
}

func TestNew_Kwargs(t *testing.T) {
	d := newData(t,
		map[string]any{"k": "ignored", "x": 1},
		WithKwargs(map[string]any{"k": 10}),
		WithInitialTyping(),
	)

	require.Equal(t, 10, mustGet(t, d, "k"))
	require.Equal(t, []string{"k"}, d.KwargKeys(false))
	require.Equal(t, []string{"k"}, d.TypedKeys(false))
	require.Equal(t, []string{"k", "x"}, d.Keys(true))
	require.Equal(t, []string{"x"}, d.Keys(false))
}

func TestNew_Rejects(t *testing.T) {
	env := NewEnv(nil, nil)

	_, err := New(map[string]any{"a": map[string]any{"value": 1, "tags": []any{"sticky"}}}, WithEnv(env))
	require.ErrorIs(t, err, ErrType)

	_, err = New(map[string]any{"a": map[string]any{"value": "s", "tags": []any{}, "types": []any{"int"}}}, WithEnv(env))
	require.ErrorIs(t, err, ErrType)

	_, err = New(map[string]any{"a": typereg.Envelope(1, "missing")}, WithEnv(env))
	require.ErrorIs(t, err, typereg.ErrDataParsing)

	_, err = New(map[string]any{"": 1}, WithEnv(env))
	require.ErrorIs(t, err, ErrReservedKey)

	_, err = New(map[string]any{FrozenKey: "yes"}, WithEnv(env))
	require.ErrorIs(t, err, ErrType)
}

func TestSet_RefusesProtectedAndEssential(t *testing.T) {
	d := newData(t, map[string]any{"open": 1})

	ok, err := d.Set("prot", 1, WithProtected())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = d.Set("ess", 1, WithEssential())
	require.NoError(t, err)
	require.True(t, ok)

	for _, name := range []string{"prot", "ess"} {
		ok, err = d.Set(name, 2)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, 1, mustGet(t, d, name))

		ok, err = d.OSet(name, 3)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 3, mustGet(t, d, name))
	}

	slot, _ := d.Slot("prot")
	require.True(t, slot.Protected(), "oset without options keeps flags")
}

func TestSet_OnlyOverrideChangesEssential(t *testing.T) {
	d := newData(t, map[string]any{"a": 1})

	ok, err := d.Set("a", 2, WithEssential())
	require.ErrorIs(t, err, ErrPermission)
	require.False(t, ok)

	ok, err = d.OSet("a", 2, WithEssential())
	require.NoError(t, err)
	require.True(t, ok)
	slot, _ := d.Slot("a")
	require.True(t, slot.Essential())

	ok, err = d.Demote("a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = d.Set("a", 3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.Promote("a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, _ = d.Set("a", 4)
	require.False(t, ok)
}

func TestSet_TypeLockIsHardFailure(t *testing.T) {
	d := newData(t, nil)
	ok, err := d.Set("n", 1, WithTypes("int"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.Set("n", "one")
	require.ErrorIs(t, err, ErrType)
	require.False(t, ok)
	require.Equal(t, 1, mustGet(t, d, "n"))
}

func TestErase_Protected(t *testing.T) {
	d := newData(t, map[string]any{
		"p": map[string]any{"value": 1, "tags": []any{"protected"}},
		"q": map[string]any{"value": 2, "tags": []any{"protected"}},
	})

	ok, err := d.Erase("p")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, d.Has("p"))

	ok, err = d.OErase("p")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, d.Has("p"))

	ok, err = d.OUnprotect("q")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = d.Erase("q")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, d.Has("q"))

	ok, err = d.Erase("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnprotect_KwargNeedsOverride(t *testing.T) {
	d := newData(t, nil, WithKwargs(map[string]any{"k": 1}))

	ok, err := d.Unprotect("k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"k"}, d.ProtectedKeys(false, true))

	ok, err = d.OUnprotect("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, d.ProtectedKeys(false, true))
	require.Equal(t, []string{"k"}, d.KwargKeys(false))
	require.Empty(t, d.KwargKeys(true))

	ok, err = d.Protect("k")
	require.NoError(t, err)
	require.True(t, ok)
	ok, _ = d.Unprotect("k")
	require.False(t, ok, "still a keyword entry")
}

func TestFrozenSlot_EveryMutatorFails(t *testing.T) {
	ops := map[string]func(d *Data) (bool, error){
		"set":    func(d *Data) (bool, error) { return d.Set("f", 2) },
		"oset":   func(d *Data) (bool, error) { return d.OSet("f", 2) },
		"erase":  func(d *Data) (bool, error) { return d.Erase("f") },
		"oerase": func(d *Data) (bool, error) { return d.OErase("f") },
		"merge": func(d *Data) (bool, error) {
			return d.MergeDict(map[string]any{"f": 2}, MergeOptions{OverwriteCurrent: true})
		},
		"absorb": func(d *Data) (bool, error) {
			other, err := New(map[string]any{"f": 2}, WithEnv(d.Env()))
			if err != nil {
				return false, err
			}
			return d.Absorb(other, false, true)
		},
		"sets": func(d *Data) (bool, error) {
			n, err := d.Sets(map[string]any{"f": 2})
			return n == 1, err
		},
		"grab": func(d *Data) (bool, error) {
			_, ok, err := d.Grab("f", true)
			return ok, err
		},
		"protect":    func(d *Data) (bool, error) { return d.Protect("f") },
		"add typing": func(d *Data) (bool, error) { return d.AddTyping("f", nil) },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			d := newData(t, map[string]any{"f": 1, "other": 5})
			ok, err := d.FreezeKey("f")
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = op(d)
			require.ErrorIs(t, err, ErrPermission)
			require.False(t, ok)
			require.Equal(t, 1, mustGet(t, d, "f"))

			ok, err = d.UnfreezeKey("f")
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = op(d)
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestFrozenContainer(t *testing.T) {
	d := newData(t, map[string]any{"a": 1})
	d.Freeze()
	require.True(t, d.Frozen())

	_, err := d.Set("b", 2)
	require.ErrorIs(t, err, ErrPermission)
	_, err = d.Erase("a")
	require.ErrorIs(t, err, ErrPermission)
	_, err = d.Clear()
	require.ErrorIs(t, err, ErrPermission)
	_, err = d.SetAllTypings(false)
	require.ErrorIs(t, err, ErrPermission)
	_, err = d.UnfreezeKey("a")
	require.ErrorIs(t, err, ErrPermission)

	d.Unfreeze()
	ok, err := d.Set("b", 2)
	require.NoError(t, err)
	require.True(t, ok)

	frozen := newData(t, map[string]any{"a": 1}, WithFrozen())
	_, err = frozen.OSet("a", 2)
	require.ErrorIs(t, err, ErrPermission)
}

func TestMergeDict(t *testing.T) {
	d := newData(t, map[string]any{"a": 1, "b": 2})

	changed, err := d.MergeDict(map[string]any{"b": 10, "d": 5}, MergeOptions{ProtectNewKeys: true})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 2, mustGet(t, d, "b"))
	require.Equal(t, 5, mustGet(t, d, "d"))
	require.Equal(t, []string{"d"}, d.ProtectedKeys(false, false))

	changed, err = d.MergeDict(map[string]any{"b": 20, "d": 50}, MergeOptions{OverwriteCurrent: true, ProtectCurrent: true})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 20, mustGet(t, d, "b"))
	require.Equal(t, 5, mustGet(t, d, "d"), "protected keys are never merged into")
	require.Equal(t, []string{"b", "d"}, d.ProtectedKeys(false, false))

	changed, err = d.MergeDict(map[string]any{"b": 0}, MergeOptions{OverwriteCurrent: true})
	require.NoError(t, err)
	require.False(t, changed)
}

func TestMergeDict_SkipsTypeMismatch(t *testing.T) {
	d := newData(t, nil)
	_, err := d.Set("n", 1, WithTypes("int"))
	require.NoError(t, err)

	changed, err := d.MergeDict(map[string]any{"n": "one", "z": true}, MergeOptions{OverwriteCurrent: true})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, mustGet(t, d, "n"))
	require.Equal(t, true, mustGet(t, d, "z"))
}

func TestAbsorb(t *testing.T) {
	d := newData(t, map[string]any{"x": 0})
	other, err := New(map[string]any{
		"x": 1,
		"y": 2,
		"p": map[string]any{"value": 3, "tags": []any{"protected"}},
	}, WithEnv(d.Env()))
	require.NoError(t, err)

	changed, err := d.Absorb(other, false, false)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 0, mustGet(t, d, "x"))
	require.Equal(t, 2, mustGet(t, d, "y"))
	require.False(t, d.Has("p"))

	changed, err = d.Absorb(other, true, true)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, mustGet(t, d, "x"))
	require.Equal(t, 3, mustGet(t, d, "p"))
	require.Empty(t, d.ProtectedKeys(false, true), "absorbed entries are not protected")

	_, err = d.Absorb(nil, false, false)
	require.ErrorIs(t, err, ErrType)
}

func TestTypings(t *testing.T) {
	d := newData(t, map[string]any{
		"s": "text",
		"n": 4,
		"p": map[string]any{"value": 1.5, "tags": []any{"protected"}},
	})

	ok, err := d.AddTyping("s", reflect.TypeOf(0))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, mustGet(t, d, "s"), "mismatched value is reset to the zero value")

	ok, err = d.AddTyping("missing", nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = d.RemoveTyping("s")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, d.TypedKeys(false))

	n, err := d.SetAllTypings(true)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"p"}, d.TypedKeys(true))

	n, err = d.SetAllTypings(false)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = d.RemAllTypings(true)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"p"}, d.TypedKeys(false))

	n, err = d.RemAllTypings(false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestGrabSwapClear(t *testing.T) {
	d := newData(t, map[string]any{
		"a": 1,
		"b": 2,
		"p": map[string]any{"value": 3, "tags": []any{"protected"}},
	})

	v, ok, err := d.Grab("a", false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.True(t, d.Has("a"))
	require.Nil(t, mustGet(t, d, "a"))

	_, ok, err = d.Grab("p", true)
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err = d.OGrab("p", true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, v)
	require.False(t, d.Has("p"))

	old, ok, err := d.Swap("b", 20)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, old)
	require.Equal(t, 20, mustGet(t, d, "b"))

	_, err = d.Set("keep", 1, WithProtected())
	require.NoError(t, err)
	n, err := d.Clear()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"keep"}, d.Keys(true))
}

func TestSetsAndUpdate(t *testing.T) {
	d := newData(t, map[string]any{"p": map[string]any{"value": 1, "tags": []any{"protected"}}})
	_, err := d.Set("n", 1, WithTypes("int"))
	require.NoError(t, err)

	n, err := d.Sets(map[string]any{"p": 2, "n": "bad", "x": 3})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = d.OSets(map[string]any{"p": 2, "n": 5})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = d.Update(map[string]any{"y": 4})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestHiddenEntries(t *testing.T) {
	d := newData(t, map[string]any{"a": 1, "b": 2})
	ok, err := d.SetHidden("b", true)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{"a"}, d.Keys(true))
	require.Equal(t, 1, d.Len())
	require.Equal(t, []Item{{Key: "a", Value: 1}}, d.Items())
	require.Equal(t, []any{1}, d.Values())
	require.Equal(t, 2, mustGet(t, d, "b"))

	exported, err := d.Export()
	require.NoError(t, err)
	require.Equal(t, map[string]any{"value": 2, "tags": []string{TagHidden}}, exported["b"])

	seen := map[string]any{}
	for k, v := range d.All() {
		seen[k] = v
	}
	require.Equal(t, map[string]any{"a": 1}, seen)
}

func TestTagIntrospection(t *testing.T) {
	d := newData(t, map[string]any{
		"plain": 1,
		"prot":  map[string]any{"value": 2, "tags": []any{"protected"}},
		"typed": map[string]any{"value": 3, "tags": []any{"typed"}},
		"both":  map[string]any{"value": 4, "tags": []any{"protected", "typed"}},
	}, WithKwargs(map[string]any{"kw": 5}))

	byKey := d.TagsByKey()
	require.Equal(t, []string{TagNone}, byKey["plain"])
	require.Equal(t, []string{TagProtected, TagKwarg}, byKey["kw"])

	byTag := d.KeysByTag()
	require.Equal(t, []string{"kw", "both", "prot"}, byTag[TagProtected])
	require.Equal(t, []string{"both", "typed"}, byTag[TagTyped])
	require.Equal(t, []string{"plain"}, byTag[TagNone])
	require.Empty(t, byTag[TagFrozen])

	require.Equal(t, []string{"plain"}, d.BundleKeys(Bundle{Untagged: true}))
	require.Equal(t, []string{"kw", "both", "typed"}, d.BundleKeys(Bundle{Typed: true, Kwarg: true}))

	require.Equal(t, []string{"both", "prot"}, d.ProtectedKeys(false, false))
	require.Equal(t, []string{"both"}, d.ProtectedKeys(true, false))
	require.Equal(t, []string{"both"}, d.TypedKeys(true))
	require.Equal(t, []string{"plain"}, d.UnprotectedKeys(false, false))
	require.Equal(t, []string{"plain", "typed"}, d.UnprotectedKeys(true, false))
}

func TestExport_Format(t *testing.T) {
	d := newData(t, map[string]any{
		"i": 1,
		"s": "x",
		"f": 2.5,
		"l": []any{1, "a"},
	})
	_, err := d.Set("p", 3, WithProtected(), WithTypes("int"), WithTags("positive"), WithDescription("count"))
	require.NoError(t, err)

	exported, err := d.Export()
	require.NoError(t, err)
	require.Equal(t, 1, exported["i"])
	require.Equal(t, "x", exported["s"])
	require.Equal(t, typereg.Envelope(2.5, "float64"), exported["f"])
	require.Equal(t, typereg.Envelope([]any{typereg.Envelope(1, "int"), typereg.Envelope("a", "string")}, "list"), exported["l"])
	require.Equal(t, map[string]any{
		"value":       3,
		"tags":        []string{TagProtected, TagTyped},
		"types":       []string{"int"},
		"validators":  []string{"positive"},
		"description": "count",
	}, exported["p"])
	require.NotContains(t, exported, FrozenKey)

	d.Freeze()
	exported, err = d.Export()
	require.NoError(t, err)
	require.Equal(t, true, exported[FrozenKey])
}

func TestExport_Unserializable(t *testing.T) {
	d := newData(t, map[string]any{"fn": func() {}})
	_, err := d.Export()
	require.ErrorIs(t, err, typereg.ErrDataSerialization)
}

func TestClone_Independent(t *testing.T) {
	d := newData(t, map[string]any{
		"a": 1,
		"b": map[string]any{"value": []string{"x"}, "tags": []any{"protected", "typed"}},
	}, WithKwargs(map[string]any{"k": true}))

	c, err := d.Clone()
	require.NoError(t, err)
	require.True(t, d.Equal(c))
	require.Equal(t, d.Keys(true), c.Keys(true))
	require.Equal(t, d.TagsByKey(), c.TagsByKey())
	require.NotEqual(t, d.ID(), c.ID())

	ok, err := c.Set("a", 2)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.OSet("b", []string{"y"})
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 1, mustGet(t, d, "a"))
	require.Equal(t, []string{"x"}, mustGet(t, d, "b"))
	require.False(t, d.Equal(c))
}

func TestClone_KeepsUnprotectedKwarg(t *testing.T) {
	d := newData(t, nil, WithKwargs(map[string]any{"a": 1, "b": 2}))
	ok, err := d.OUnprotect("a")
	require.NoError(t, err)
	require.True(t, ok)

	c, err := d.Clone()
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, c.ProtectedKeys(false, true))
	require.Equal(t, []string{"a", "b"}, c.KwargKeys(false))
	require.Equal(t, d.TagsByKey(), c.TagsByKey())

	ok, err = c.Set("a", 3)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.Set("b", 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExport_NilContainerValues(t *testing.T) {
	d := newData(t, nil)
	ok, err := d.Set("data", (*Data)(nil))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = d.Set("slot", (*Slot)(nil))
	require.NoError(t, err)
	require.True(t, ok)

	exported, err := d.Export()
	require.NoError(t, err)
	require.Equal(t, typereg.Envelope(nil, typereg.NilName), exported["data"])
	require.Equal(t, typereg.Envelope(nil, typereg.NilName), exported["slot"])

	_, err = json.Marshal(d)
	require.NoError(t, err)

	c, err := d.Clone()
	require.NoError(t, err)
	require.Nil(t, mustGet(t, c, "data"))
	require.Nil(t, mustGet(t, c, "slot"))
}

func TestNestedContainers(t *testing.T) {
	env := NewEnv(nil, nil)
	inner, err := New(map[string]any{"x": 1}, WithEnv(env), WithKwargs(map[string]any{"k": "v"}))
	require.NoError(t, err)
	outer, err := New(map[string]any{"inner": inner}, WithEnv(env))
	require.NoError(t, err)

	exported, err := outer.Export()
	require.NoError(t, err)
	require.Equal(t, DataTypeName, exported["inner"].(map[string]any)[typereg.TypeKey])

	c, err := outer.Clone()
	require.NoError(t, err)
	nested, ok := mustGet(t, c, "inner").(*Data)
	require.True(t, ok)
	require.True(t, inner.Equal(nested))
	require.NotSame(t, inner, nested)
	require.Equal(t, []string{"k"}, nested.KwargKeys(true))
}

func TestExport_JSONRoundTrip(t *testing.T) {
	d := newData(t, map[string]any{
		"i":   7,
		"f":   0.25,
		"set": typereg.NewSet("a", "b"),
		"m":   map[string]int{"one": 1},
	}, WithKwargs(map[string]any{"id": int64(9)}), WithInitialTyping())

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded map[string]any
	require.NoError(t, dec.Decode(&decoded))

	back, err := New(decoded, WithEnv(d.Env()))
	require.NoError(t, err)
	require.True(t, d.Equal(back))
	require.Equal(t, int64(9), mustGet(t, back, "id"))
	require.Equal(t, []string{"id"}, back.TypedKeys(true))
}

func TestString(t *testing.T) {
	d := newData(t, nil)
	require.Equal(t, "<empty>", d.String())
	_, err := d.Set("a", 1)
	require.NoError(t, err)
	require.Equal(t, "a: 1\n", d.String())
	require.Contains(t, d.Describe("a"), "open")
}
