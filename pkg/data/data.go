// Package data implements a protected, type-aware key/value container.
//
// A Data holds an ordered set of named Slots. Each slot carries permission
// flags (protected, essential, frozen, hidden), an optional type lock and a
// list of validator tags. Ordinary mutators refuse protected and essential
// entries by returning false; the override family (OSet, OErase, OGrab,
// OUnprotect) reaches them. Frozen entries, and every entry of a frozen
// container, fail with a *PermissionError on any mutation.
//
// Containers export to a JSON-shaped map and rebuild from it through New, with
// nested values going through the type registry held by the container's Env.
package data

import (
	"encoding/json"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/zjrosen/protdict/internal/log"
)

// FrozenKey is the reserved export key that records a frozen container.
const FrozenKey = "_data_frozen"

// Entry tags, as reported by Tags and written into tagged export entries.
const (
	TagProtected = "protected"
	TagTyped     = "typed"
	TagKwarg     = "kwarg"
	TagEssential = "essential"
	TagFrozen    = "frozen"
	TagHidden    = "hidden"
	TagNone      = "none"
)

// Keys of a tagged export entry.
const (
	entryValue      = "value"
	entryTags       = "tags"
	entryTypes      = "types"
	entryValidators = "validators"
)

var entryKeys = []string{entryValue, entryTags, entryTypes, entryValidators, keyDescription, keySource, keyMetadata}

// Data is an ordered mapping from name to Slot. It is not safe for
// concurrent use; callers sharing one across goroutines must serialize access.
type Data struct {
	id     uuid.UUID
	env    *Env
	keys   []string
	slots  map[string]*Slot
	frozen bool
}

// Item is one visible entry.
type Item struct {
	Key   string
	Value any
}

type config struct {
	env           *Env
	kwargs        map[string]any
	initialTyping bool
	frozen        bool
}

// Option configures New.
type Option func(*config)

// WithEnv resolves types and validators through env instead of DefaultEnv.
func WithEnv(env *Env) Option {
	return func(c *config) { c.env = env }
}

// WithKwargs adds keyword entries. Each is protected and can only be
// unprotected through OUnprotect.
func WithKwargs(kwargs map[string]any) Option {
	return func(c *config) {
		if c.kwargs == nil {
			c.kwargs = make(map[string]any, len(kwargs))
		}
		for k, v := range kwargs {
			c.kwargs[k] = v
		}
	}
}

// WithInitialTyping locks every keyword entry to the runtime type of its value.
func WithInitialTyping() Option {
	return func(c *config) { c.initialTyping = true }
}

// WithFrozen freezes the container once constructed.
func WithFrozen() Option {
	return func(c *config) { c.frozen = true }
}

// New builds a container from entries. Each entry is a bare value, a type
// registry envelope, a *Slot, or a tagged entry {"value": ..., "tags": [...]}
// as produced by Export. Keyword entries take precedence over entries of the
// same name.
func New(entries map[string]any, opts ...Option) (*Data, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Data{
		id:    uuid.New(),
		env:   resolveEnv(cfg.env),
		slots: make(map[string]*Slot, len(entries)+len(cfg.kwargs)),
	}

	frozen := cfg.frozen
	if raw, ok := entries[FrozenKey]; ok {
		b, isBool := raw.(bool)
		if !isBool {
			return nil, &TypeError{Name: FrozenKey, Want: []string{"bool"}, Got: fmt.Sprintf("%T", raw)}
		}
		frozen = frozen || b
	}

	for _, name := range sortedKeys(cfg.kwargs) {
		if err := checkKey(name); err != nil {
			return nil, err
		}
		value := cfg.kwargs[name]
		sc := slotConfig{protected: true}
		if cfg.initialTyping && value != nil {
			sc.types = []any{reflect.TypeOf(value)}
		}
		s, err := newSlot(d.env, name, value, sc)
		if err != nil {
			return nil, err
		}
		s.kwarg = true
		d.put(name, s)
	}

	for _, name := range sortedKeys(entries) {
		if name == FrozenKey {
			continue
		}
		if _, isKwarg := cfg.kwargs[name]; isKwarg {
			continue
		}
		if err := checkKey(name); err != nil {
			return nil, err
		}
		s, err := d.importEntry(name, entries[name])
		if err != nil {
			return nil, err
		}
		d.put(name, s)
	}

	d.frozen = frozen
	log.Debug(log.CatData, "created container", "data", d.id, "entries", len(d.keys), "frozen", d.frozen)
	return d, nil
}

func checkKey(name string) error {
	if strings.TrimSpace(name) == "" || name == FrozenKey {
		return fmt.Errorf("%w: %q", ErrReservedKey, name)
	}
	return nil
}

func (d *Data) importEntry(name string, raw any) (*Slot, error) {
	if s, ok := raw.(*Slot); ok {
		c := s.clone()
		c.name = name
		c.env = d.env
		return c, nil
	}
	if m, ok := raw.(map[string]any); ok && isTaggedEntry(m) {
		return d.importTagged(name, m)
	}
	value, err := d.env.Types.Import(raw)
	if err != nil {
		return nil, fmt.Errorf("entry %q: %w", name, err)
	}
	return newSlot(d.env, name, value, slotConfig{})
}

func isTaggedEntry(m map[string]any) bool {
	_, hasValue := m[entryValue]
	_, hasTags := m[entryTags]
	if !hasValue || !hasTags {
		return false
	}
	for k := range m {
		if !slices.Contains(entryKeys, k) {
			return false
		}
	}
	return true
}

func (d *Data) importTagged(name string, m map[string]any) (*Slot, error) {
	value, err := d.env.Types.Import(m[entryValue])
	if err != nil {
		return nil, fmt.Errorf("entry %q: %w", name, err)
	}
	tags, err := stringList(entryTags, m[entryTags])
	if err != nil {
		return nil, err
	}

	var sc slotConfig
	var typed, kwarg bool
	for _, tag := range tags {
		switch tag {
		case TagProtected:
			sc.protected = true
		case TagTyped:
			typed = true
		case TagKwarg:
			kwarg = true
			sc.protected = true
		case TagEssential:
			sc.essential = true
		case TagFrozen:
			sc.frozen = true
		case TagHidden:
			sc.hidden = true
		case TagNone:
		default:
			return nil, &TypeError{
				Name: name,
				Want: []string{TagProtected, TagTyped, TagKwarg, TagEssential, TagFrozen, TagHidden},
				Got:  fmt.Sprintf("tag %q", tag),
			}
		}
	}

	typeNames, err := stringList(entryTypes, m[entryTypes])
	if err != nil {
		return nil, err
	}
	for _, tn := range typeNames {
		sc.types = append(sc.types, tn)
	}
	if typed && len(sc.types) == 0 && value != nil {
		sc.types = []any{reflect.TypeOf(value)}
	}

	if sc.tags, err = stringList(entryValidators, m[entryValidators]); err != nil {
		return nil, err
	}
	if sc.description, err = stringField(m, keyDescription); err != nil {
		return nil, err
	}
	if sc.source, err = stringField(m, keySource); err != nil {
		return nil, err
	}
	if raw := m[keyMetadata]; raw != nil {
		if sc.metadata, err = d.env.Types.Import(raw); err != nil {
			return nil, fmt.Errorf("entry %q metadata: %w", name, err)
		}
	}

	s, err := newSlot(d.env, name, value, sc)
	if err != nil {
		return nil, err
	}
	s.kwarg = kwarg
	return s, nil
}

func (d *Data) put(name string, s *Slot) {
	if _, ok := d.slots[name]; !ok {
		d.keys = append(d.keys, name)
	}
	s.name = name
	d.slots[name] = s
}

func (d *Data) remove(name string) {
	delete(d.slots, name)
	if i := slices.Index(d.keys, name); i >= 0 {
		d.keys = slices.Delete(d.keys, i, i+1)
	}
}

// ID identifies this container instance in logs. It is not exported.
func (d *Data) ID() uuid.UUID { return d.id }

// Env returns the registries the container resolves through.
func (d *Data) Env() *Env { return d.env }

// Frozen reports whether the container as a whole is frozen.
func (d *Data) Frozen() bool { return d.frozen }

// Get returns the value stored under name, whatever its flags.
func (d *Data) Get(name string) (any, bool) {
	s, ok := d.slots[name]
	if !ok {
		return nil, false
	}
	return s.value, true
}

// GetOr returns the value stored under name, or def if absent.
func (d *Data) GetOr(name string, def any) any {
	if v, ok := d.Get(name); ok {
		return v
	}
	return def
}

// Has reports whether name is present, hidden or not.
func (d *Data) Has(name string) bool {
	_, ok := d.slots[name]
	return ok
}

// Slot returns a detached copy of the slot stored under name.
func (d *Data) Slot(name string) (*Slot, bool) {
	s, ok := d.slots[name]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

func isProtected(s *Slot) bool { return s.protected || s.essential }

func (d *Data) visible(includeProtected bool) iter.Seq[*Slot] {
	return func(yield func(*Slot) bool) {
		for _, k := range d.keys {
			s := d.slots[k]
			if s.hidden || (!includeProtected && isProtected(s)) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Keys returns the visible keys in insertion order. Protected and essential
// entries are left out unless includeProtected is set.
func (d *Data) Keys(includeProtected bool) []string {
	var keys []string
	for s := range d.visible(includeProtected) {
		keys = append(keys, s.name)
	}
	return keys
}

// Values returns the visible values in key order.
func (d *Data) Values() []any {
	var values []any
	for s := range d.visible(true) {
		values = append(values, s.value)
	}
	return values
}

// Items returns the visible entries in key order.
func (d *Data) Items() []Item {
	var items []Item
	for s := range d.visible(true) {
		items = append(items, Item{Key: s.name, Value: s.value})
	}
	return items
}

// All iterates the visible entries in key order.
func (d *Data) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for s := range d.visible(true) {
			if !yield(s.name, s.value) {
				return
			}
		}
	}
}

// Len returns the number of visible entries.
func (d *Data) Len() int {
	n := 0
	for range d.visible(true) {
		n++
	}
	return n
}

// Equal reports whether both containers hold the same visible entries.
func (d *Data) Equal(other *Data) bool {
	if other == nil {
		return false
	}
	return reflect.DeepEqual(d.visibleMap(), other.visibleMap())
}

func (d *Data) visibleMap() map[string]any {
	out := make(map[string]any)
	for k, v := range d.All() {
		out[k] = v
	}
	return out
}

func (d *Data) String() string {
	items := d.Items()
	if len(items) == 0 {
		return "<empty>"
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "%s: %v\n", item.Key, item.Value)
	}
	return b.String()
}

// Export renders the container in its wire form. Untagged string, bool, int
// and nil values are written bare; other untagged values as type registry
// envelopes; entries with any flag, type lock, validator or provenance as
// {"value": ..., "tags": [...]} with the optional keys they need.
func (d *Data) Export() (map[string]any, error) {
	out := make(map[string]any, len(d.keys)+1)
	for _, k := range d.keys {
		entry, err := d.exportEntry(d.slots[k])
		if err != nil {
			return nil, fmt.Errorf("export %q: %w", k, err)
		}
		out[k] = entry
	}
	if d.frozen {
		out[FrozenKey] = true
	}
	return out, nil
}

func (d *Data) exportEntry(s *Slot) (any, error) {
	value, err := d.exportValue(s.value)
	if err != nil {
		return nil, err
	}
	tags := flagTags(s)
	if len(tags) == 0 && len(s.tags) == 0 && s.description == "" && s.source == "" && s.metadata == nil {
		return value, nil
	}

	if tags == nil {
		tags = []string{}
	}
	entry := map[string]any{entryValue: value, entryTags: tags}
	if len(s.types) > 0 {
		entry[entryTypes] = s.TypeNames()
	}
	if len(s.tags) > 0 {
		entry[entryValidators] = s.Tags()
	}
	if s.description != "" {
		entry[keyDescription] = s.description
	}
	if s.source != "" {
		entry[keySource] = s.source
	}
	if s.metadata != nil {
		meta, err := d.env.Types.Serialize(s.metadata)
		if err != nil {
			return nil, err
		}
		entry[keyMetadata] = meta
	}
	return entry, nil
}

func (d *Data) exportValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, int:
		return v, nil
	}
	return d.env.Types.Serialize(v)
}

func flagTags(s *Slot) []string {
	var tags []string
	if s.protected {
		tags = append(tags, TagProtected)
	}
	if len(s.types) > 0 {
		tags = append(tags, TagTyped)
	}
	if s.kwarg {
		tags = append(tags, TagKwarg)
	}
	if s.essential {
		tags = append(tags, TagEssential)
	}
	if s.frozen {
		tags = append(tags, TagFrozen)
	}
	if s.hidden {
		tags = append(tags, TagHidden)
	}
	return tags
}

// MarshalJSON encodes the Export form.
func (d *Data) MarshalJSON() ([]byte, error) {
	exported, err := d.Export()
	if err != nil {
		return nil, err
	}
	return json.Marshal(exported)
}

// Clone rebuilds an independent container from the Export form, keeping key order
// and the protection state of every slot.
func (d *Data) Clone() (*Data, error) {
	exported, err := d.Export()
	if err != nil {
		return nil, err
	}
	c, err := New(exported, WithEnv(d.env))
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	c.keys = slices.Clone(d.keys)
	// The kwarg tag re-imports protected; carry over kwargs unprotected with an override.
	for name, s := range d.slots {
		if s.kwarg && !s.protected {
			c.slots[name].protected = false
		}
	}
	return c, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
