package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/redis"
)

// Registry holds the entity sets served by a data service, by type and resource name
type Registry struct {
	mu         sync.RWMutex
	byType     map[string]EntitySet
	byResource map[string]EntitySet
	order      []EntitySet
}

// NewRegistry creates a registry with the given sets
func NewRegistry(sets ...EntitySet) *Registry {
	r := &Registry{
		byType:     make(map[string]EntitySet),
		byResource: make(map[string]EntitySet),
	}
	for _, set := range sets {
		r.Add(set)
	}
	return r
}

// Add registers set, replacing any set with the same type name
func (r *Registry) Add(set EntitySet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byType[set.EntityTypeName()]; ok {
		delete(r.byResource, old.TableName())
		for i, s := range r.order {
			if s == old {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.byType[set.EntityTypeName()] = set
	r.byResource[set.TableName()] = set
	r.order = append(r.order, set)
}

// Register builds a GenericRepository for T and adds it to reg
func Register[T Entity](reg *Registry, dbManager *db.Manager, redisManager *redis.Manager, opts ...Option) (*GenericRepository[T], error) {
	repo, err := NewGenericRepository[T](dbManager, redisManager, opts...)
	if err != nil {
		return nil, err
	}
	reg.Add(repo)
	return repo, nil
}

// ByTypeName returns the set for an entity type name such as "Order"
func (r *Registry) ByTypeName(name string) (EntitySet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byType[name]
	if !ok {
		return nil, fmt.Errorf("%w: type %q", ErrUnknownEntitySet, name)
	}
	return set, nil
}

// ByResource returns the set for a resource (table) name such as "Orders"
func (r *Registry) ByResource(resource string) (EntitySet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byResource[resource]
	if !ok {
		return nil, fmt.Errorf("%w: resource %q", ErrUnknownEntitySet, resource)
	}
	return set, nil
}

// Sets returns the registered sets in registration order
func (r *Registry) Sets() []EntitySet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EntitySet(nil), r.order...)
}

// InvalidateCaches drops cached queries for the named entity types.
// Every type is attempted; the errors are joined.
func (r *Registry) InvalidateCaches(ctx context.Context, typeNames ...string) error {
	var errs []error
	for _, name := range typeNames {
		set, err := r.ByTypeName(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := set.InvalidateCache(ctx); err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
