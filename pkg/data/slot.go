package data

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/zjrosen/protdict/internal/log"
	"github.com/zjrosen/protdict/pkg/typereg"
	"github.com/zjrosen/protdict/pkg/validate"
)

// Keys of an exported slot besides the envelope keys.
const (
	keyEssential   = "essential"
	keyProtected   = "protected"
	keyFrozen      = "frozen"
	keyHidden      = "hidden"
	keyDescription = "description"
	keySource      = "source"
	keyMetadata    = "metadata"
	keyTags        = "tags"
	keyTypes       = "types"
)

// Slot wraps one value with its permission flags, type lock, validator tags
// and provenance. Writes are checked against the type lock and every tag's
// validators, refreshed lazily from the validator registry.
type Slot struct {
	env  *Env
	name string

	value any

	essential bool
	protected bool
	frozen    bool
	hidden    bool
	kwarg     bool

	types []reflect.Type
	tags  []string
	cache map[string]*validate.Cached

	description string
	source      string
	metadata    any
}

type slotConfig struct {
	essential   bool
	protected   bool
	frozen      bool
	hidden      bool
	types       []any
	tags        []string
	description string
	source      string
	metadata    any
}

// SlotOption configures a slot at construction.
type SlotOption func(*slotConfig)

// WithEssential marks the slot essential: only override operations can replace its value.
func WithEssential() SlotOption {
	return func(c *slotConfig) { c.essential = true }
}

// WithProtected marks the slot protected.
func WithProtected() SlotOption {
	return func(c *slotConfig) { c.protected = true }
}

// WithFrozenSlot freezes the slot once constructed.
func WithFrozenSlot() SlotOption {
	return func(c *slotConfig) { c.frozen = true }
}

// WithHidden hides the slot from key listings and iteration.
func WithHidden() SlotOption {
	return func(c *slotConfig) { c.hidden = true }
}

// WithTypes locks the slot to a set of types. Each element is a reflect.Type
// or a name registered in the type registry.
func WithTypes(types ...any) SlotOption {
	return func(c *slotConfig) { c.types = append(c.types, types...) }
}

// WithTags binds validator tags to the slot.
func WithTags(tags ...string) SlotOption {
	return func(c *slotConfig) { c.tags = append(c.tags, tags...) }
}

// WithDescription sets the slot description.
func WithDescription(description string) SlotOption {
	return func(c *slotConfig) { c.description = description }
}

// WithSource records where the value came from.
func WithSource(source string) SlotOption {
	return func(c *slotConfig) { c.source = source }
}

// WithMetadata attaches an opaque payload.
func WithMetadata(metadata any) SlotOption {
	return func(c *slotConfig) { c.metadata = metadata }
}

// NewSlot builds a standalone slot. A nil env uses DefaultEnv.
func NewSlot(env *Env, value any, opts ...SlotOption) (*Slot, error) {
	var cfg slotConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return newSlot(resolveEnv(env), "", value, cfg)
}

func newSlot(env *Env, name string, value any, cfg slotConfig) (*Slot, error) {
	types, err := resolveTypes(env, name, cfg.types)
	if err != nil {
		return nil, err
	}

	s := &Slot{
		env:         env,
		name:        name,
		types:       types,
		tags:        normalizeTags(cfg.tags),
		essential:   cfg.essential,
		protected:   cfg.protected,
		hidden:      cfg.hidden,
		description: cfg.description,
		source:      cfg.source,
		metadata:    cfg.metadata,
	}
	s.cache = make(map[string]*validate.Cached, len(s.tags))
	for _, tag := range s.tags {
		s.cache[tag] = &validate.Cached{}
	}

	if err := s.check(value); err != nil {
		return nil, err
	}
	s.value = value
	s.frozen = cfg.frozen
	return s, nil
}

func resolveTypes(env *Env, name string, raw []any) ([]reflect.Type, error) {
	var types []reflect.Type
	for _, item := range raw {
		var t reflect.Type
		switch v := item.(type) {
		case reflect.Type:
			t = v
		case string:
			resolved, err := env.Types.Resolve([]string{v}, true)
			if err != nil {
				return nil, fmt.Errorf("types for %q: %w", name, err)
			}
			t = resolved[0]
		default:
			return nil, &TypeError{Name: name, Want: []string{"reflect.Type", "type name"}, Got: fmt.Sprintf("%T", item)}
		}
		if t != nil && !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	return types, nil
}

func normalizeTags(raw []string) []string {
	var tags []string
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag != "" && !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// check runs the type lock and every tag's validators against value,
// refreshing stale validator caches first.
func (s *Slot) check(value any) error {
	if len(s.types) > 0 && !s.conforms(value) {
		got := typereg.NilName
		if value != nil {
			got = s.env.Types.Name(reflect.TypeOf(value))
		}
		return &TypeError{Name: s.name, Want: s.TypeNames(), Got: got}
	}
	for _, tag := range s.tags {
		c := s.cache[tag]
		s.env.Validators.Refresh(tag, c)
		if err := validate.Run(tag, c.Funcs, value); err != nil {
			log.Debug(log.CatSlot, "validator rejected value", "slot", s.name, "tag", tag)
			return err
		}
	}
	return nil
}

func (s *Slot) conforms(value any) bool {
	for _, t := range s.types {
		if typereg.Conforms(value, t) {
			return true
		}
	}
	return false
}

// assign is the override write: it honours frozen and the checks, not essential.
func (s *Slot) assign(value any, op string) error {
	if s.frozen {
		return &PermissionError{Name: s.name, State: Frozen, Op: op}
	}
	if err := s.check(value); err != nil {
		return err
	}
	s.value = value
	return nil
}

// reset replaces the value with the empty sentinel for its type lock,
// bypassing validators.
func (s *Slot) reset() {
	if len(s.types) > 0 {
		s.value = reflect.Zero(s.types[0]).Interface()
		return
	}
	s.value = nil
}

// Name returns the key the slot is stored under, or "" for a standalone slot.
func (s *Slot) Name() string { return s.name }

// Value returns the current value.
func (s *Slot) Value() any { return s.value }

// SetValue replaces the value. It fails on frozen or essential slots, on a
// type lock mismatch, and when a tag validator rejects the value.
func (s *Slot) SetValue(value any) error {
	if state := s.Access(); state >= Essential {
		return &PermissionError{Name: s.name, State: state, Op: "set"}
	}
	return s.assign(value, "set")
}

func (s *Slot) Essential() bool { return s.essential }
func (s *Slot) Protected() bool { return s.protected }
func (s *Slot) Frozen() bool    { return s.frozen }
func (s *Slot) Hidden() bool    { return s.hidden }

// Kwarg reports whether the entry was supplied as a constructor keyword.
func (s *Slot) Kwarg() bool { return s.kwarg }

func (s *Slot) Description() string { return s.description }
func (s *Slot) Source() string      { return s.source }
func (s *Slot) Metadata() any       { return s.metadata }

// Typed reports whether the slot carries a type lock.
func (s *Slot) Typed() bool { return len(s.types) > 0 }

// Access returns the dominant permission state.
func (s *Slot) Access() Access {
	switch {
	case s.frozen:
		return Frozen
	case s.essential:
		return Essential
	case s.protected:
		return Protected
	default:
		return Open
	}
}

// Types returns the locked types.
func (s *Slot) Types() []reflect.Type { return slices.Clone(s.types) }

// TypeNames returns the registered names of the locked types.
func (s *Slot) TypeNames() []string { return s.env.Types.Reverse(s.types) }

// Tags returns the validator tags bound to the slot.
func (s *Slot) Tags() []string { return slices.Clone(s.tags) }

// Freeze blocks every mutation until Unfreeze.
func (s *Slot) Freeze() { s.frozen = true }

// Unfreeze lifts a freeze.
func (s *Slot) Unfreeze() { s.frozen = false }

// SetProtected changes the protected flag. Essential and frozen slots refuse.
func (s *Slot) SetProtected(protected bool) error {
	if state := s.Access(); state >= Essential {
		return &PermissionError{Name: s.name, State: state, Op: "protect"}
	}
	s.protected = protected
	return nil
}

// SetHidden changes the hidden flag. Frozen slots refuse.
func (s *Slot) SetHidden(hidden bool) error {
	if s.frozen {
		return &PermissionError{Name: s.name, State: Frozen, Op: "hide"}
	}
	s.hidden = hidden
	return nil
}

func (s *Slot) String() string {
	return fmt.Sprintf("%v", s.value)
}

// Export renders the slot as a JSON-shaped object: the value envelope keys
// alongside every flag, the tags and the locked type names.
func (s *Slot) Export() (map[string]any, error) {
	env, err := s.env.Types.Serialize(s.value)
	if err != nil {
		return nil, fmt.Errorf("export slot %q: %w", s.name, err)
	}
	var metadata any
	if s.metadata != nil {
		if metadata, err = s.env.Types.Serialize(s.metadata); err != nil {
			return nil, fmt.Errorf("export slot %q metadata: %w", s.name, err)
		}
	}
	tags := s.Tags()
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		typereg.ValueKey: env[typereg.ValueKey],
		typereg.TypeKey:  env[typereg.TypeKey],
		keyEssential:     s.essential,
		keyProtected:     s.protected,
		keyFrozen:        s.frozen,
		keyHidden:        s.hidden,
		keyDescription:   s.description,
		keySource:        s.source,
		keyMetadata:      metadata,
		keyTags:          tags,
		keyTypes:         s.TypeNames(),
	}, nil
}

// CreateSlot rebuilds a slot from its Export form. A nil env uses DefaultEnv.
func CreateSlot(env *Env, exported map[string]any) (*Slot, error) {
	env = resolveEnv(env)
	value, err := env.Types.Deserialize(typereg.Envelope(exported[typereg.ValueKey], typeNameOf(exported)))
	if err != nil {
		return nil, err
	}

	var cfg slotConfig
	flags := []struct {
		key string
		dst *bool
	}{
		{keyEssential, &cfg.essential},
		{keyProtected, &cfg.protected},
		{keyFrozen, &cfg.frozen},
		{keyHidden, &cfg.hidden},
	}
	for _, f := range flags {
		if *f.dst, err = boolField(exported, f.key); err != nil {
			return nil, err
		}
	}
	if cfg.description, err = stringField(exported, keyDescription); err != nil {
		return nil, err
	}
	if cfg.source, err = stringField(exported, keySource); err != nil {
		return nil, err
	}
	if raw := exported[keyMetadata]; raw != nil {
		if cfg.metadata, err = env.Types.Import(raw); err != nil {
			return nil, fmt.Errorf("slot metadata: %w", err)
		}
	}
	if cfg.tags, err = stringList(keyTags, exported[keyTags]); err != nil {
		return nil, err
	}
	names, err := stringList(keyTypes, exported[keyTypes])
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		cfg.types = append(cfg.types, name)
	}
	return newSlot(env, "", value, cfg)
}

func typeNameOf(m map[string]any) string {
	name, _ := m[typereg.TypeKey].(string)
	return name
}

func boolField(m map[string]any, key string) (bool, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, &TypeError{Name: key, Want: []string{"bool"}, Got: fmt.Sprintf("%T", raw)}
	}
	return b, nil
}

func stringField(m map[string]any, key string) (string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &TypeError{Name: key, Want: []string{"string"}, Got: fmt.Sprintf("%T", raw)}
	}
	return s, nil
}

// stringList accepts a single string, a []string or a []any of strings.
func stringList(key string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &TypeError{Name: key, Want: []string{"string"}, Got: fmt.Sprintf("%T", item)}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &TypeError{Name: key, Want: []string{"string", "list of strings"}, Got: fmt.Sprintf("%T", raw)}
}

func (s *Slot) clone() *Slot {
	c := *s
	c.types = slices.Clone(s.types)
	c.tags = slices.Clone(s.tags)
	c.cache = make(map[string]*validate.Cached, len(s.cache))
	for tag, cached := range s.cache {
		cp := *cached
		c.cache[tag] = &cp
	}
	return &c
}
