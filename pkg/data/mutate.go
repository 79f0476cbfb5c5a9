package data

import (
	"fmt"
	"reflect"

	"github.com/zjrosen/protdict/internal/log"
	"github.com/zjrosen/protdict/pkg/typereg"
)

// MergeOptions controls MergeDict.
type MergeOptions struct {
	// OverwriteCurrent replaces values of existing, unprotected keys.
	OverwriteCurrent bool
	// ProtectCurrent protects existing keys that were overwritten.
	ProtectCurrent bool
	// ProtectNewKeys protects keys the merge added.
	ProtectNewKeys bool
}

// Bundle selects keys by tag for BundleKeys. A key is included when it
// matches any selected tag.
type Bundle struct {
	Protected bool
	Typed     bool
	Kwarg     bool
	Untagged  bool
}

func (d *Data) guard(op string) error {
	if d.frozen {
		return &PermissionError{State: Frozen, Op: op}
	}
	return nil
}

// permit checks the container and then the slot. A nil slot is always permitted.
func (d *Data) permit(name, op string, s *Slot, ceiling Access) (bool, error) {
	if err := d.guard(op); err != nil {
		return false, err
	}
	if s == nil {
		return true, nil
	}
	ok, err := permit(name, op, s.Access(), ceiling)
	if !ok && err == nil {
		log.Debug(log.CatData, "refused", "data", d.id, "op", op, "key", name, "state", s.Access())
	}
	return ok, err
}

// scanFrozen fails if any of keys names a frozen slot, so bulk writes
// change nothing when they would touch one.
func (d *Data) scanFrozen(op string, keys []string) error {
	for _, k := range keys {
		if s, ok := d.slots[k]; ok && s.frozen {
			return &PermissionError{Name: k, State: Frozen, Op: op}
		}
	}
	return nil
}

// Set assigns value to name. Protected and essential entries are refused
// with false. Options replace the entry's metadata; without options an
// existing entry keeps its flags, type lock and tags.
func (d *Data) Set(name string, value any, opts ...SlotOption) (bool, error) {
	return d.set("set", name, value, opts, Protected)
}

// OSet is Set that also reaches protected and essential entries.
func (d *Data) OSet(name string, value any, opts ...SlotOption) (bool, error) {
	return d.set("oset", name, value, opts, Frozen)
}

func (d *Data) set(op, name string, value any, opts []SlotOption, ceiling Access) (bool, error) {
	if err := checkKey(name); err != nil {
		return false, err
	}
	current := d.slots[name]
	if ok, err := d.permit(name, op, current, ceiling); !ok {
		return false, err
	}

	var cfg slotConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case current == nil:
		s, err := newSlot(d.env, name, value, cfg)
		if err != nil {
			return false, err
		}
		d.put(name, s)
	case len(opts) == 0:
		if err := current.assign(value, op); err != nil {
			return false, err
		}
	default:
		if cfg.essential != current.essential && ceiling != Frozen {
			return false, &PermissionError{Name: name, State: current.Access(), Op: op}
		}
		s, err := newSlot(d.env, name, value, cfg)
		if err != nil {
			return false, err
		}
		s.kwarg = current.kwarg
		d.put(name, s)
	}
	return true, nil
}

// Sets assigns every entry as Set would and returns how many were applied.
// Entries that are refused or fail their checks are skipped.
func (d *Data) Sets(entries map[string]any) (int, error) {
	return d.bulkSet("sets", entries, Protected)
}

// OSets is Sets through OSet.
func (d *Data) OSets(entries map[string]any) (int, error) {
	return d.bulkSet("osets", entries, Frozen)
}

// Update is Sets.
func (d *Data) Update(entries map[string]any) (int, error) {
	return d.Sets(entries)
}

func (d *Data) bulkSet(op string, entries map[string]any, ceiling Access) (int, error) {
	if err := d.guard(op); err != nil {
		return 0, err
	}
	keys := sortedKeys(entries)
	if err := d.scanFrozen(op, keys); err != nil {
		return 0, err
	}
	count := 0
	for _, k := range keys {
		ok, err := d.set(op, k, entries[k], nil, ceiling)
		if err != nil {
			log.Debug(log.CatData, "skipped entry", "data", d.id, "op", op, "key", k, "error", err)
			continue
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// Erase deletes name. Protected and essential entries are refused with false.
func (d *Data) Erase(name string) (bool, error) {
	return d.erase("erase", name, Protected)
}

// OErase is Erase that also reaches protected and essential entries.
func (d *Data) OErase(name string) (bool, error) {
	return d.erase("oerase", name, Frozen)
}

func (d *Data) erase(op, name string, ceiling Access) (bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, op, s, ceiling); !ok || s == nil {
		return false, err
	}
	d.remove(name)
	return true, nil
}

// Grab returns the value of name and then deletes the entry, or resets it
// to the empty value of its type lock when fullDelete is false.
func (d *Data) Grab(name string, fullDelete bool) (any, bool, error) {
	return d.grab("grab", name, fullDelete, Protected)
}

// OGrab is Grab that also reaches protected and essential entries.
func (d *Data) OGrab(name string, fullDelete bool) (any, bool, error) {
	return d.grab("ograb", name, fullDelete, Frozen)
}

func (d *Data) grab(op, name string, fullDelete bool, ceiling Access) (any, bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, op, s, ceiling); !ok || s == nil {
		return nil, false, err
	}
	value := s.value
	if fullDelete {
		d.remove(name)
	} else {
		s.reset()
	}
	return value, true, nil
}

// Swap sets name to value and returns the previous value.
func (d *Data) Swap(name string, value any) (any, bool, error) {
	old, _ := d.Get(name)
	ok, err := d.Set(name, value)
	if !ok {
		return nil, false, err
	}
	return old, true, nil
}

// Clear erases every open entry and returns how many were removed.
func (d *Data) Clear() (int, error) {
	if err := d.guard("clear"); err != nil {
		return 0, err
	}
	count := 0
	for _, k := range append([]string(nil), d.keys...) {
		if d.slots[k].Access() != Open {
			continue
		}
		d.remove(k)
		count++
	}
	return count, nil
}

// Protect marks name protected.
func (d *Data) Protect(name string) (bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, "protect", s, Frozen); !ok || s == nil {
		return false, err
	}
	s.protected = true
	return true, nil
}

// Unprotect lifts protection. Keyword entries and essential entries are refused.
func (d *Data) Unprotect(name string) (bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, "unprotect", s, Essential); !ok || s == nil {
		return false, err
	}
	if s.kwarg {
		log.Debug(log.CatData, "refused", "data", d.id, "op", "unprotect", "key", name, "reason", "kwarg")
		return false, nil
	}
	was := s.protected
	s.protected = false
	return was, nil
}

// OUnprotect lifts protection, keyword entries included. Essential entries
// stay refused until demoted.
func (d *Data) OUnprotect(name string) (bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, "ounprotect", s, Essential); !ok || s == nil {
		return false, err
	}
	was := s.protected
	s.protected = false
	return was, nil
}

// Promote marks name essential.
func (d *Data) Promote(name string) (bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, "promote", s, Frozen); !ok || s == nil {
		return false, err
	}
	s.essential = true
	return true, nil
}

// Demote clears the essential flag.
func (d *Data) Demote(name string) (bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, "demote", s, Frozen); !ok || s == nil {
		return false, err
	}
	was := s.essential
	s.essential = false
	return was, nil
}

// SetHidden changes whether name shows up in listings and iteration.
func (d *Data) SetHidden(name string, hidden bool) (bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, "hide", s, Frozen); !ok || s == nil {
		return false, err
	}
	s.hidden = hidden
	return true, nil
}

// FreezeKey freezes a single entry.
func (d *Data) FreezeKey(name string) (bool, error) {
	s, ok := d.slots[name]
	if !ok {
		return false, nil
	}
	s.Freeze()
	return true, nil
}

// UnfreezeKey lifts a single entry's freeze. A frozen container refuses.
func (d *Data) UnfreezeKey(name string) (bool, error) {
	if err := d.guard("unfreeze"); err != nil {
		return false, err
	}
	s, ok := d.slots[name]
	if !ok {
		return false, nil
	}
	was := s.frozen
	s.Unfreeze()
	return was, nil
}

// Freeze blocks every mutation of the container until Unfreeze.
func (d *Data) Freeze() { d.frozen = true }

// Unfreeze lifts a container freeze.
func (d *Data) Unfreeze() { d.frozen = false }

// AddTyping locks name to t, or to its current runtime type when t is nil.
// A value that does not conform is reset to the zero value of t.
func (d *Data) AddTyping(name string, t reflect.Type) (bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, "add typing", s, Frozen); !ok || s == nil {
		return false, err
	}
	if t == nil {
		if s.value == nil {
			return false, nil
		}
		t = reflect.TypeOf(s.value)
	}
	s.types = []reflect.Type{t}
	if !typereg.Conforms(s.value, t) {
		log.Debug(log.CatData, "reset value to match type lock", "data", d.id, "key", name, "type", t.String())
		s.reset()
	}
	return true, nil
}

// RemoveTyping drops the type lock on name.
func (d *Data) RemoveTyping(name string) (bool, error) {
	s := d.slots[name]
	if ok, err := d.permit(name, "remove typing", s, Frozen); !ok || s == nil {
		return false, err
	}
	was := len(s.types) > 0
	s.types = nil
	return was, nil
}

// SetAllTypings locks every entry to its current type, or only protected
// entries when protectedOnly is set. Frozen and nil-valued entries are
// skipped. Returns how many were locked.
func (d *Data) SetAllTypings(protectedOnly bool) (int, error) {
	if err := d.guard("set all typings"); err != nil {
		return 0, err
	}
	count := 0
	for _, k := range d.keys {
		s := d.slots[k]
		if s.frozen || (protectedOnly && !isProtected(s)) {
			continue
		}
		if ok, _ := d.AddTyping(k, nil); ok {
			count++
		}
	}
	return count, nil
}

// RemAllTypings drops every type lock, keeping those on protected entries
// when keepProtected is set. Returns how many were dropped.
func (d *Data) RemAllTypings(keepProtected bool) (int, error) {
	if err := d.guard("remove all typings"); err != nil {
		return 0, err
	}
	count := 0
	for _, k := range d.keys {
		s := d.slots[k]
		if len(s.types) == 0 || s.frozen || (keepProtected && isProtected(s)) {
			continue
		}
		s.types = nil
		count++
	}
	return count, nil
}

// MergeDict folds entries into the container. Protected entries are never
// touched, existing ones only with OverwriteCurrent, and values failing a
// type lock or validator are skipped. Fails without changing anything if an
// incoming key names a frozen entry. Returns whether anything changed.
func (d *Data) MergeDict(entries map[string]any, opts MergeOptions) (bool, error) {
	return d.merge("merge", sortedKeys(entries), func(k string) any { return entries[k] }, opts)
}

// Absorb merges the visible entries of other, its protected ones too when
// includeProtected is set, replacing existing keys only when overwrite is set.
func (d *Data) Absorb(other *Data, includeProtected, overwrite bool) (bool, error) {
	if other == nil {
		return false, &TypeError{Want: []string{"*data.Data"}, Got: "nil"}
	}
	keys := other.Keys(includeProtected)
	return d.merge("absorb", keys, func(k string) any { return other.slots[k].value }, MergeOptions{OverwriteCurrent: overwrite})
}

func (d *Data) merge(op string, keys []string, valueOf func(string) any, opts MergeOptions) (bool, error) {
	if err := d.guard(op); err != nil {
		return false, err
	}
	if err := d.scanFrozen(op, keys); err != nil {
		return false, err
	}

	changed := false
	for _, k := range keys {
		if checkKey(k) != nil {
			continue
		}
		value := valueOf(k)
		s, exists := d.slots[k]
		switch {
		case exists && isProtected(s):
			continue
		case exists && !opts.OverwriteCurrent:
			continue
		case exists:
			if err := s.assign(value, op); err != nil {
				log.Debug(log.CatData, "skipped entry", "data", d.id, "op", op, "key", k, "error", err)
				continue
			}
			if opts.ProtectCurrent {
				s.protected = true
			}
		default:
			ns, err := newSlot(d.env, k, value, slotConfig{protected: opts.ProtectNewKeys})
			if err != nil {
				log.Debug(log.CatData, "skipped entry", "data", d.id, "op", op, "key", k, "error", err)
				continue
			}
			d.put(k, ns)
		}
		changed = true
	}
	return changed, nil
}

// Tags reports the flags of name as tags, or [none] when it has none.
func (d *Data) Tags(name string) ([]string, bool) {
	s, ok := d.slots[name]
	if !ok {
		return nil, false
	}
	tags := flagTags(s)
	if len(tags) == 0 {
		tags = []string{TagNone}
	}
	return tags, true
}

// TagsByKey maps every key, hidden ones included, to its tags.
func (d *Data) TagsByKey() map[string][]string {
	out := make(map[string][]string, len(d.keys))
	for _, k := range d.keys {
		out[k], _ = d.Tags(k)
	}
	return out
}

// KeysByTag maps each tag to the keys carrying it, in key order.
func (d *Data) KeysByTag() map[string][]string {
	out := map[string][]string{
		TagProtected: {}, TagTyped: {}, TagKwarg: {},
		TagEssential: {}, TagFrozen: {}, TagHidden: {}, TagNone: {},
	}
	for _, k := range d.keys {
		tags, _ := d.Tags(k)
		for _, tag := range tags {
			out[tag] = append(out[tag], k)
		}
	}
	return out
}

// BundleKeys returns the keys matching any tag selected in b, in key order.
func (d *Data) BundleKeys(b Bundle) []string {
	var keys []string
	for _, k := range d.keys {
		s := d.slots[k]
		typed := len(s.types) > 0
		untagged := !s.protected && !typed && !s.kwarg
		if (b.Protected && s.protected) || (b.Typed && typed) || (b.Kwarg && s.kwarg) || (b.Untagged && untagged) {
			keys = append(keys, k)
		}
	}
	return keys
}

// ProtectedKeys lists protected keys. Keyword entries are left out unless
// includeKwargs is set; onlyTyped keeps just the type-locked ones.
func (d *Data) ProtectedKeys(onlyTyped, includeKwargs bool) []string {
	return d.filterKeys(func(s *Slot) bool {
		return s.protected && (includeKwargs || !s.kwarg) && (!onlyTyped || len(s.types) > 0)
	})
}

// TypedKeys lists type-locked keys, only protected ones when onlyProtected is set.
func (d *Data) TypedKeys(onlyProtected bool) []string {
	return d.filterKeys(func(s *Slot) bool {
		return len(s.types) > 0 && (!onlyProtected || isProtected(s))
	})
}

// KwargKeys lists keyword entries, only still-protected ones when onlyProtected is set.
func (d *Data) KwargKeys(onlyProtected bool) []string {
	return d.filterKeys(func(s *Slot) bool {
		return s.kwarg && (!onlyProtected || isProtected(s))
	})
}

// UnprotectedKeys lists keys that are neither protected nor essential.
// Type-locked keys need includeTyped and keyword keys need includeKwargs.
func (d *Data) UnprotectedKeys(includeTyped, includeKwargs bool) []string {
	return d.filterKeys(func(s *Slot) bool {
		return !isProtected(s) && (includeTyped || len(s.types) == 0) && (includeKwargs || !s.kwarg)
	})
}

// Validators returns the validator tags bound to name.
func (d *Data) Validators(name string) []string {
	if s, ok := d.slots[name]; ok {
		return s.Tags()
	}
	return nil
}

func (d *Data) filterKeys(keep func(*Slot) bool) []string {
	var keys []string
	for _, k := range d.keys {
		if keep(d.slots[k]) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Describe renders the flags of name for diagnostics.
func (d *Data) Describe(name string) string {
	s, ok := d.slots[name]
	if !ok {
		return fmt.Sprintf("%s: <missing>", name)
	}
	tags, _ := d.Tags(name)
	return fmt.Sprintf("%s: %v %v types=%v validators=%v", name, s.Access(), tags, s.TypeNames(), s.tags)
}
