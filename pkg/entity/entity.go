package entity

import (
	"fmt"
	"time"

	"github.com/ammar0144/entity4go/pkg/metadata"
)

// Entity is a cached instance of an entity type. Data properties hold normalized values;
// navigation properties hold related entities. Every read and write goes through the
// entity manager's lock.
type Entity struct {
	em         *EntityManager
	entityType *metadata.EntityType
	values     map[string]interface{}
	navs       map[string]*Entity
	colls      map[string][]*Entity
	aspect     *EntityAspect
}

func newEntity(em *EntityManager, et *metadata.EntityType) *Entity {
	e := &Entity{
		em:         em,
		entityType: et,
		values:     make(map[string]interface{}, len(et.DataProperties)),
		navs:       make(map[string]*Entity),
		colls:      make(map[string][]*Entity),
	}
	for _, dp := range et.DataProperties {
		e.values[dp.Name] = zeroValue(dp)
	}
	e.aspect = &EntityAspect{entity: e, state: Detached}
	return e
}

// EntityType returns the entity's metadata
func (e *Entity) EntityType() *metadata.EntityType {
	return e.entityType
}

// EntityAspect returns the entity's state tracker
func (e *Entity) EntityAspect() *EntityAspect {
	return e.aspect
}

// Key returns the entity's current key
func (e *Entity) Key() EntityKey {
	e.em.mu.Lock()
	defer e.em.mu.Unlock()
	return e.keyLocked()
}

func (e *Entity) keyLocked() EntityKey {
	values := make([]interface{}, len(e.entityType.KeyProperties))
	for i, name := range e.entityType.KeyProperties {
		values[i] = e.values[name]
	}
	return EntityKey{TypeName: e.entityType.Name, Values: values}
}

// Get returns a data value, the related entity of a scalar navigation or a copy of a collection
func (e *Entity) Get(name string) interface{} {
	e.em.mu.Lock()
	defer e.em.mu.Unlock()

	if dp := e.entityType.DataProperty(name); dp != nil {
		return e.values[name]
	}
	if nav := e.entityType.NavigationProperty(name); nav != nil {
		if nav.IsScalar {
			if target := e.navs[name]; target != nil {
				return target
			}
			return nil
		}
		return append([]*Entity(nil), e.colls[name]...)
	}
	return nil
}

func (e *Entity) String(name string) string {
	s, _ := e.Get(name).(string)
	return s
}

func (e *Entity) Int64(name string) int64 {
	i, _ := e.Get(name).(int64)
	return i
}

func (e *Entity) Float64(name string) float64 {
	f, _ := e.Get(name).(float64)
	return f
}

func (e *Entity) Bool(name string) bool {
	b, _ := e.Get(name).(bool)
	return b
}

func (e *Entity) Time(name string) time.Time {
	t, _ := e.Get(name).(time.Time)
	return t
}

// IsNull reports whether a nullable data property holds no value
func (e *Entity) IsNull(name string) bool {
	e.em.mu.Lock()
	defer e.em.mu.Unlock()
	v, ok := e.values[name]
	return ok && v == nil
}

// Navigation returns the related entity of a scalar navigation, or nil
func (e *Entity) Navigation(name string) *Entity {
	e.em.mu.Lock()
	defer e.em.mu.Unlock()
	return e.navs[name]
}

// Collection returns a copy of a collection navigation
func (e *Entity) Collection(name string) []*Entity {
	e.em.mu.Lock()
	defer e.em.mu.Unlock()
	return append([]*Entity(nil), e.colls[name]...)
}

// Set assigns a data property or a scalar navigation property.
// Data values are converted to the property's type; navigations take an *Entity or nil.
func (e *Entity) Set(name string, value interface{}) error {
	e.em.mu.Lock()
	defer e.em.mu.Unlock()

	if dp := e.entityType.DataProperty(name); dp != nil {
		return e.em.setDataLocked(e, dp, value)
	}
	nav := e.entityType.NavigationProperty(name)
	if nav == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, e.entityType.Name, name)
	}
	if !nav.IsScalar {
		return fmt.Errorf("%w: %s.%s is a collection, use AddToCollection", ErrInvalidValue, e.entityType.Name, name)
	}
	target, err := asEntity(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.entityType.Name, name, err)
	}
	return e.em.setNavigationLocked(e, nav, target)
}

// AddToCollection relates child to e through a collection navigation
func (e *Entity) AddToCollection(name string, child *Entity) error {
	e.em.mu.Lock()
	defer e.em.mu.Unlock()

	nav, err := e.collectionNav(name)
	if err != nil {
		return err
	}
	return e.em.addToCollectionLocked(e, nav, child)
}

// RemoveFromCollection unrelates child from e. The child's foreign key is cleared.
func (e *Entity) RemoveFromCollection(name string, child *Entity) error {
	e.em.mu.Lock()
	defer e.em.mu.Unlock()

	nav, err := e.collectionNav(name)
	if err != nil {
		return err
	}
	if child == nil {
		return fmt.Errorf("%w: nil %s entity", ErrInvalidValue, nav.EntityTypeName)
	}
	inverse := e.em.store.Inverse(nav)
	if inverse == nil || child.navs[inverse.Name] != e {
		return nil
	}
	return e.em.setNavigationLocked(child, inverse, nil)
}

func (e *Entity) collectionNav(name string) (*metadata.NavigationProperty, error) {
	nav := e.entityType.NavigationProperty(name)
	if nav == nil {
		if e.entityType.DataProperty(name) != nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrNotNavigation, e.entityType.Name, name)
		}
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, e.entityType.Name, name)
	}
	if nav.IsScalar {
		return nil, fmt.Errorf("%w: %s.%s is not a collection", ErrInvalidValue, e.entityType.Name, name)
	}
	return nav, nil
}

// Values returns a copy of the data values
func (e *Entity) Values() map[string]interface{} {
	e.em.mu.Lock()
	defer e.em.mu.Unlock()
	return e.valuesLocked()
}

func (e *Entity) valuesLocked() map[string]interface{} {
	out := make(map[string]interface{}, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

func asEntity(value interface{}) (*Entity, error) {
	switch x := value.(type) {
	case nil:
		return nil, nil
	case *Entity:
		return x, nil
	}
	return nil, fmt.Errorf("%w: expected *Entity, got %T", ErrInvalidValue, value)
}
