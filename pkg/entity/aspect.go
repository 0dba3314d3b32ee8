package entity

import "fmt"

// EntityAspect tracks an entity's state, original values and owning manager
type EntityAspect struct {
	entity   *Entity
	manager  *EntityManager
	state    EntityState
	original map[string]interface{}
	seq      uint64
	// version counts local edits; a save compares it to spot edits made in flight
	version uint64
}

// Entity returns the entity this aspect tracks
func (a *EntityAspect) Entity() *Entity {
	return a.entity
}

// State returns the current entity state
func (a *EntityAspect) State() EntityState {
	a.entity.em.mu.Lock()
	defer a.entity.em.mu.Unlock()
	return a.state
}

// Manager returns the manager the entity is attached to, or nil when detached
func (a *EntityAspect) Manager() *EntityManager {
	a.entity.em.mu.Lock()
	defer a.entity.em.mu.Unlock()
	return a.manager
}

// OriginalValues returns the values of changed properties as they were before the first change
func (a *EntityAspect) OriginalValues() map[string]interface{} {
	a.entity.em.mu.Lock()
	defer a.entity.em.mu.Unlock()

	out := make(map[string]interface{}, len(a.original))
	for k, v := range a.original {
		out[k] = v
	}
	return out
}

// SetDeleted marks the entity deleted and removes it from every relationship.
// Navigations to principals become nil but foreign keys are kept; dependents lose
// their navigation back and have their foreign keys zeroed. An Added entity is detached.
func (a *EntityAspect) SetDeleted() error {
	em := a.entity.em
	em.mu.Lock()
	defer em.mu.Unlock()

	if a.state == Detached {
		return ErrDetached
	}
	return em.deleteLocked(a.entity)
}

// SetModified marks an Unchanged entity Modified
func (a *EntityAspect) SetModified() error {
	em := a.entity.em
	em.mu.Lock()
	defer em.mu.Unlock()

	switch a.state {
	case Detached:
		return ErrDetached
	case Unchanged:
		a.state = Modified
		a.version++
	case Modified:
	default:
		return fmt.Errorf("cannot mark a %s entity Modified", a.state)
	}
	return nil
}

// SetUnchanged forgets pending changes without restoring values
func (a *EntityAspect) SetUnchanged() error {
	em := a.entity.em
	em.mu.Lock()
	defer em.mu.Unlock()

	if a.state == Detached {
		return ErrDetached
	}
	a.state = Unchanged
	a.original = nil
	a.version++
	return nil
}

// AcceptChanges makes the current values the original ones. Deleted entities are detached.
func (a *EntityAspect) AcceptChanges() error {
	em := a.entity.em
	em.mu.Lock()
	defer em.mu.Unlock()

	if a.state == Detached {
		return ErrDetached
	}
	em.acceptLocked(a.entity)
	return nil
}

// RejectChanges restores original values and relationships. Added entities are detached.
func (a *EntityAspect) RejectChanges() error {
	em := a.entity.em
	em.mu.Lock()
	defer em.mu.Unlock()

	if a.state == Detached {
		return ErrDetached
	}
	em.rejectLocked(a.entity)
	return nil
}

// Validate checks the entity against its metadata
func (a *EntityAspect) Validate() []ValidationIssue {
	em := a.entity.em
	em.mu.Lock()
	defer em.mu.Unlock()
	return validateLocked(a.entity)
}
