package data

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/zjrosen/protdict/pkg/typereg"
	"github.com/zjrosen/protdict/pkg/validate"
)

// Type names under which containers and slots are registered.
const (
	DataTypeName = "Data"
	SlotTypeName = "Slot"
)

// Env bundles the registries a container resolves types and validators through.
type Env struct {
	Types      *typereg.Registry
	Validators *validate.Registry
}

// NewEnv builds an Env over the given registries and registers Data and Slot
// into the type registry so containers can nest. Nil registries are replaced
// with fresh ones.
func NewEnv(types *typereg.Registry, validators *validate.Registry) *Env {
	if types == nil {
		types = typereg.NewRegistry()
	}
	if validators == nil {
		validators = validate.NewRegistry()
	}
	env := &Env{Types: types, Validators: validators}
	if err := env.register(); err != nil {
		panic(fmt.Sprintf("data: register container types: %v", err))
	}
	return env
}

func (env *Env) register() error {
	err := env.Types.Register(reflect.TypeOf((*Data)(nil)),
		typereg.WithName(DataTypeName),
		typereg.Overwrite(),
		typereg.WithExporter(func(_ *typereg.Registry, v any) (any, error) {
			return v.(*Data).Export()
		}),
		typereg.WithImporter(func(_ *typereg.Registry, payload any) (any, error) {
			entries, ok := payload.(map[string]any)
			if !ok {
				return nil, &TypeError{Want: []string{"object"}, Got: fmt.Sprintf("%T", payload)}
			}
			return New(entries, WithEnv(env))
		}))
	if err != nil {
		return err
	}
	return env.Types.Register(reflect.TypeOf((*Slot)(nil)),
		typereg.WithName(SlotTypeName),
		typereg.Overwrite(),
		typereg.WithExporter(func(_ *typereg.Registry, v any) (any, error) {
			return v.(*Slot).Export()
		}),
		typereg.WithImporter(func(_ *typereg.Registry, payload any) (any, error) {
			exported, ok := payload.(map[string]any)
			if !ok {
				return nil, &TypeError{Want: []string{"object"}, Got: fmt.Sprintf("%T", payload)}
			}
			return CreateSlot(env, exported)
		}))
}

var (
	defaultEnvMu sync.Mutex
	defaultEnv   *Env
)

// DefaultEnv returns the shared Env, building it on first use over the
// shared validator registry and a fresh type registry.
func DefaultEnv() *Env {
	defaultEnvMu.Lock()
	defer defaultEnvMu.Unlock()
	if defaultEnv == nil {
		defaultEnv = NewEnv(typereg.NewRegistry(), validate.Default())
	}
	return defaultEnv
}

// SetDefaultEnv replaces the shared Env. Passing nil resets it.
func SetDefaultEnv(env *Env) {
	defaultEnvMu.Lock()
	defer defaultEnvMu.Unlock()
	defaultEnv = env
}

func resolveEnv(env *Env) *Env {
	if env == nil {
		return DefaultEnv()
	}
	return env
}
