package executor

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/viant/structology/conv"
	"github.com/viant/x"
)

// Mutator performs mutations for one entity type.
type Mutator interface {
	Execute(ctx context.Context, request *Request) (*Result, error)
}

// MutatorFunc adapts a function to the Mutator interface.
type MutatorFunc func(ctx context.Context, request *Request) (*Result, error)

// Execute implements Mutator.
func (f MutatorFunc) Execute(ctx context.Context, request *Request) (*Result, error) {
	return f(ctx, request)
}

// TypedFunc receives the record state converted into the registered Go type.
type TypedFunc func(ctx context.Context, request *Request, input interface{}) (*Result, error)

// Registry routes mutations to per-entity-type mutators.  Typed mutators
// register a Go type; the registry converts the record's state map into that
// type before invoking them, so embedding applications work with structs
// instead of raw maps.
type Registry struct {
	types     *x.Registry
	converter *conv.Converter
	mutators  map[string]Mutator
	mu        sync.RWMutex
}

// NewRegistry creates a mutator registry.
func NewRegistry(goTypes ...*x.Type) *Registry {
	options := conv.DefaultOptions()
	options.ClonePointerData = true
	options.IgnoreUnmapped = true
	ret := &Registry{
		types:     x.NewRegistry(),
		converter: conv.NewConverter(options),
		mutators:  make(map[string]Mutator),
	}
	for _, t := range goTypes {
		if t != nil {
			ret.types.Register(t)
		}
	}
	return ret
}

var _ Service = (*Registry)(nil)

// Register binds a mutator to an entity type.
func (r *Registry) Register(entityType string, mutator Mutator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutators[entityType] = mutator
}

// RegisterTyped binds a mutator that receives the record state converted to
// the supplied type.
func (r *Registry) RegisterTyped(entityType string, prototype *x.Type, fn TypedFunc) {
	r.types.Register(prototype)
	rType := prototype.Type
	if rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	r.Register(entityType, MutatorFunc(func(ctx context.Context, request *Request) (*Result, error) {
		instance := reflect.New(rType).Interface()
		if len(request.State) > 0 {
			if err := r.converter.Convert(map[string]interface{}(request.State), instance); err != nil {
				return nil, fmt.Errorf("failed to convert state for %s: %w", entityType, err)
			}
		}
		return fn(ctx, request, instance)
	}))
}

// Lookup returns the mutator registered for an entity type, or nil.
func (r *Registry) Lookup(entityType string) Mutator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mutators[entityType]
}

// Execute routes the request to its entity-type mutator.
func (r *Registry) Execute(ctx context.Context, request *Request) (*Result, error) {
	mutator := r.Lookup(request.EntityType)
	if mutator == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntityTypeNotFound, request.EntityType)
	}
	return mutator.Execute(ctx, request)
}
