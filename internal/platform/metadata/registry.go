package metadata

import (
	"context"
	"fmt"
	"sync"
)

// Resolver loads one metadata item by uuid. Implementations return
// (nil, nil) when no row exists; retired items are returned as-is.
type Resolver func(ctx context.Context, uuid string) (Item, error)

// TypeMismatchError is returned when a mapping resolves to a different
// metadata class than the caller asked for.
type TypeMismatchError struct {
	Expected string
	Actual   string
	UUID     string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("metadata item %s has class %s, expected %s", e.UUID, e.Actual, e.Expected)
}

// UnknownClassError is returned when a reference names a class that was
// never registered.
type UnknownClassError struct {
	Class string
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("unknown metadata class %q", e.Class)
}

// Registry maps class names to resolvers. The set of classes is fixed at
// startup; Register is not safe to call once the server is handling
// requests, Resolve and Supports are.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register binds a class name to its resolver. Registering the same class
// twice replaces the previous resolver.
func (r *Registry) Register(class string, fn Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[class] = fn
}

// Supports reports whether class has a registered resolver.
func (r *Registry) Supports(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolvers[class]
	return ok
}

// Classes returns the registered class names in unspecified order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes := make([]string, 0, len(r.resolvers))
	for class := range r.resolvers {
		classes = append(classes, class)
	}
	return classes
}

// Resolve dereferences ref. It returns (nil, nil) when the target row no
// longer exists, and UnknownClassError when the class has no resolver.
func (r *Registry) Resolve(ctx context.Context, ref Reference) (Item, error) {
	if ref.IsZero() {
		return nil, nil
	}

	r.mu.RLock()
	fn, ok := r.resolvers[ref.Class]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownClassError{Class: ref.Class}
	}

	item, err := fn(ctx, ref.UUID)
	if err != nil {
		return nil, fmt.Errorf("resolve %s %s: %w", ref.Class, ref.UUID, err)
	}
	return item, nil
}
