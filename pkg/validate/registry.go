// Package validate holds the tag validator registry.
//
// A tag is a label attached to a value slot. Validators are registered per tag
// and every registration bumps the tag's version, which lets slots refresh
// their cached validator lists lazily on the next write instead of being
// notified eagerly.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zjrosen/protdict/internal/log"
)

var (
	// ErrValidation is the sentinel wrapped by *Error.
	ErrValidation = errors.New("validation failed")
	// ErrEmptyTag is returned when registering under an empty tag name.
	ErrEmptyTag = errors.New("tag name is required")
	// ErrNoValidators is returned when Register is called without validators.
	ErrNoValidators = errors.New("at least one validator is required")
)

// Func checks a value. A nil return accepts the value.
type Func func(value any) error

// Predicate adapts a boolean check into a Func. A false result rejects the value.
func Predicate(fn func(value any) bool) Func {
	return func(value any) error {
		if !fn(value) {
			return errors.New("predicate returned false")
		}
		return nil
	}
}

// Error reports a rejected value and the tag whose validator rejected it.
type Error struct {
	Tag   string
	Value any
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("tag %q rejected value %v", e.Tag, e.Value)
	}
	return fmt.Sprintf("tag %q rejected value %v: %v", e.Tag, e.Value, e.Cause)
}

// Unwrap returns ErrValidation so callers can use errors.Is.
func (e *Error) Unwrap() error { return ErrValidation }

// Cached is a per-tag validator list stamped with the registry version it was read at.
type Cached struct {
	Funcs   []Func
	Version int
}

// Registry maps tag names to ordered validator lists with a version per tag.
type Registry struct {
	funcs    map[string][]Func
	versions map[string]int
}

// NewRegistry creates an empty validator registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:    make(map[string][]Func),
		versions: make(map[string]int),
	}
}

// Register appends validators to tag and bumps its version.
// Returns the tag's full validator list and new version.
func (r *Registry) Register(tag string, fns ...Func) ([]Func, int, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, 0, ErrEmptyTag
	}
	if len(fns) == 0 {
		return nil, 0, ErrNoValidators
	}
	for i, fn := range fns {
		if fn == nil {
			return nil, 0, fmt.Errorf("validator %d for tag %q is nil", i, tag)
		}
	}

	r.funcs[tag] = append(r.funcs[tag], fns...)
	r.versions[tag]++

	log.Debug(log.CatValidate, "registered validators", "tag", tag, "added", len(fns), "version", r.versions[tag])
	funcs, version := r.Info(tag)
	return funcs, version, nil
}

// Get returns a copy of the validators registered for tag.
func (r *Registry) Get(tag string) []Func {
	fns := r.funcs[tag]
	if len(fns) == 0 {
		return nil
	}
	out := make([]Func, len(fns))
	copy(out, fns)
	return out
}

// Version returns the current version of tag. Unknown tags are at version 0.
func (r *Registry) Version(tag string) int {
	return r.versions[tag]
}

// Info returns the validators and version of tag together.
func (r *Registry) Info(tag string) ([]Func, int) {
	return r.Get(tag), r.Version(tag)
}

// Tags returns every tag that has at least one registration.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.funcs))
	for tag := range r.funcs {
		tags = append(tags, tag)
	}
	return tags
}

// Refresh brings c up to date with the registry if the tag's version has
// advanced past the cached one. Returns whether the cache was refreshed.
func (r *Registry) Refresh(tag string, c *Cached) bool {
	current := r.Version(tag)
	if current <= c.Version {
		return false
	}
	c.Funcs = r.Get(tag)
	c.Version = current
	log.Debug(log.CatValidate, "refreshed validator cache", "tag", tag, "version", current)
	return true
}

// Run executes fns in order against value. The first rejection, or a panic
// raised by a validator, becomes an *Error naming tag.
func Run(tag string, fns []Func, value any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &Error{Tag: tag, Value: value, Cause: fmt.Errorf("validator panicked: %v", rec)}
		}
	}()
	for _, fn := range fns {
		if verr := fn(value); verr != nil {
			return &Error{Tag: tag, Value: value, Cause: verr}
		}
	}
	return nil
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the shared registry, constructing it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// SetDefault replaces the shared registry. Passing nil resets it so the next
// Default call builds a fresh one.
func SetDefault(r *Registry) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = r
}
