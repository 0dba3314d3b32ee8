package entity

import (
	"fmt"
	"sort"

	"github.com/ammar0144/entity4go/pkg/metadata"
)

// Relationship fixup. Every function here runs with em.mu held.
//
// A navigation to a principal is backed by foreign keys on the dependent. Writes to either
// side keep the other in step: setting the foreign key relinks the navigation to the cached
// principal with that key, setting the navigation copies the principal key into the foreign
// key, and changing a principal key rewrites the foreign keys of its dependents.

// initLocked fills a new detached entity. Only the entity's own side of each
// relationship is recorded; attachLocked completes the other side.
func (em *EntityManager) initLocked(e *Entity, values map[string]interface{}) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	et := e.entityType
	for _, name := range names {
		if et.NavigationProperty(name) != nil {
			continue
		}
		dp := et.DataProperty(name)
		if dp == nil {
			return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, et.Name, name)
		}
		if err := em.setDataLocked(e, dp, values[name]); err != nil {
			return err
		}
	}

	for _, name := range names {
		nav := et.NavigationProperty(name)
		if nav == nil {
			continue
		}
		if nav.IsScalar {
			target, err := asEntity(values[name])
			if err != nil {
				return fmt.Errorf("%s.%s: %w", et.Name, name, err)
			}
			if err := em.checkRelatedLocked(nav, target); err != nil {
				return err
			}
			if target == nil {
				continue
			}
			e.navs[name] = target
			if nav.IsToPrincipal() {
				if err := em.copyKeyLocked(target, e, nav.ForeignKeyNames, false); err != nil {
					return err
				}
			}
			continue
		}

		children, err := asEntities(values[name])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", et.Name, name, err)
		}
		for _, child := range children {
			if err := em.checkRelatedLocked(nav, child); err != nil {
				return err
			}
			addNavValue(e, nav, child)
		}
	}
	return nil
}

func asEntities(value interface{}) ([]*Entity, error) {
	switch x := value.(type) {
	case nil:
		return nil, nil
	case []*Entity:
		return x, nil
	case *Entity:
		return []*Entity{x}, nil
	}
	return nil, fmt.Errorf("%w: expected []*Entity, got %T", ErrInvalidValue, value)
}

func (em *EntityManager) checkRelatedLocked(nav *metadata.NavigationProperty, target *Entity) error {
	if target == nil {
		return nil
	}
	if target.em != em {
		return ErrManagerMismatch
	}
	if target.entityType.Name != nav.EntityTypeName {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrInvalidValue, nav.Name, nav.EntityTypeName, target.entityType.Name)
	}
	return nil
}

// attachLocked adds a detached entity to the cache and links it with cached relatives.
// Detached relatives reachable through its navigations are attached too.
func (em *EntityManager) attachLocked(e *Entity, state EntityState) error {
	if e.aspect.manager == em {
		return nil
	}
	if e.em != em || e.aspect.manager != nil {
		return ErrManagerMismatch
	}
	et := e.entityType

	for _, nav := range et.NavigationProperties {
		target := e.navs[nav.Name]
		if !nav.IsToPrincipal() || target == nil {
			continue
		}
		if target.aspect.manager == nil {
			if err := em.attachLocked(target, state); err != nil {
				return err
			}
		}
		if err := em.copyKeyLocked(target, e, nav.ForeignKeyNames, false); err != nil {
			return err
		}
	}

	if state == Added {
		em.assignTempKeyLocked(e)
	}

	ks := e.keyLocked().String()
	if existing, ok := em.entities[ks]; ok && existing != e {
		return fmt.Errorf("%w: %s", ErrKeyConflict, ks)
	}
	em.entities[ks] = e
	set := em.byType[et.Name]
	if set == nil {
		set = make(map[*Entity]struct{})
		em.byType[et.Name] = set
	}
	set[e] = struct{}{}

	em.seq++
	e.aspect.seq = em.seq
	e.aspect.manager = em
	e.aspect.state = state
	if state != Modified {
		e.aspect.original = nil
	}

	return em.linkLocked(e, state)
}

// assignTempKeyLocked gives an identity-keyed entity without a key the next temporary key
func (em *EntityManager) assignTempKeyLocked(e *Entity) {
	et := e.entityType
	if et.AutoGeneratedKeyType != metadata.Identity || len(et.KeyProperties) != 1 {
		return
	}
	name := et.KeyProperties[0]
	if v, ok := e.values[name].(int64); ok && v != 0 {
		return
	}
	em.tempKey--
	e.values[name] = em.tempKey
}

// linkLocked connects an attached entity with the cached entities it relates to
func (em *EntityManager) linkLocked(e *Entity, state EntityState) error {
	childState := state
	if childState != Added {
		childState = Unchanged
	}

	for _, nav := range e.entityType.NavigationProperties {
		inverse := em.store.Inverse(nav)

		if nav.IsToPrincipal() {
			target := e.navs[nav.Name]
			if target == nil && e.aspect.state != Deleted {
				if target = em.findPrincipalLocked(e, nav); target != nil {
					e.navs[nav.Name] = target
				}
			}
			if target != nil && inverse != nil {
				addNavValue(target, inverse, e)
			}
			continue
		}
		if inverse == nil {
			continue
		}

		for _, child := range dependentsOf(e, nav) {
			if child.aspect.manager == em {
				if child.navs[inverse.Name] != e {
					if err := em.setNavigationLocked(child, inverse, e); err != nil {
						return err
					}
				}
				continue
			}
			if child.em != em || child.aspect.manager != nil {
				return ErrManagerMismatch
			}
			child.navs[inverse.Name] = e
			if err := em.attachLocked(child, childState); err != nil {
				return err
			}
		}

		if e.aspect.state == Deleted {
			continue
		}
		var orphans []*Entity
		for cand := range em.byType[nav.EntityTypeName] {
			if cand.aspect.state == Deleted || cand.navs[inverse.Name] != nil {
				continue
			}
			if em.findPrincipalLocked(cand, inverse) == e {
				orphans = append(orphans, cand)
			}
		}
		// collections list children in attach order, whatever the map order
		sort.Slice(orphans, func(i, j int) bool { return orphans[i].aspect.seq < orphans[j].aspect.seq })
		for _, cand := range orphans {
			cand.navs[inverse.Name] = e
			addNavValue(e, nav, cand)
		}
	}
	return nil
}

// findPrincipalLocked returns the cached principal that e's foreign keys point at
func (em *EntityManager) findPrincipalLocked(e *Entity, nav *metadata.NavigationProperty) *Entity {
	target, err := em.store.EntityType(nav.EntityTypeName)
	if err != nil {
		return nil
	}
	keyProps := target.KeyDataProperties()
	if len(keyProps) != len(nav.ForeignKeyNames) {
		return nil
	}

	values := make([]interface{}, len(keyProps))
	for i, fk := range nav.ForeignKeyNames {
		v := e.values[fk]
		if v == nil {
			return nil
		}
		nv, err := normalize(keyProps[i], v)
		if err != nil {
			return nil
		}
		values[i] = nv
	}
	return em.entities[EntityKey{TypeName: target.Name, Values: values}.String()]
}

func dependentsOf(e *Entity, nav *metadata.NavigationProperty) []*Entity {
	if nav.IsScalar {
		if target := e.navs[nav.Name]; target != nil {
			return []*Entity{target}
		}
		return nil
	}
	return append([]*Entity(nil), e.colls[nav.Name]...)
}

func addNavValue(owner *Entity, nav *metadata.NavigationProperty, other *Entity) {
	if nav.IsScalar {
		owner.navs[nav.Name] = other
		return
	}
	for _, existing := range owner.colls[nav.Name] {
		if existing == other {
			return
		}
	}
	owner.colls[nav.Name] = append(owner.colls[nav.Name], other)
}

func removeNavValue(owner *Entity, nav *metadata.NavigationProperty, other *Entity) {
	if nav.IsScalar {
		if owner.navs[nav.Name] == other {
			delete(owner.navs, nav.Name)
		}
		return
	}
	list := owner.colls[nav.Name]
	for i, existing := range list {
		if existing == other {
			owner.colls[nav.Name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// setDataLocked converts and writes a data value, tracking the change
func (em *EntityManager) setDataLocked(e *Entity, dp *metadata.DataProperty, value interface{}) error {
	v, err := normalize(dp, value)
	if err != nil {
		return err
	}
	return em.writeValueLocked(e, dp, v, true)
}

// writeValueLocked writes an already normalized value. On attached entities it rekeys the
// cache, records the original value when track is set and propagates to relationships.
func (em *EntityManager) writeValueLocked(e *Entity, dp *metadata.DataProperty, v interface{}, track bool) error {
	old := e.values[dp.Name]
	if valuesEqual(old, v) {
		return nil
	}

	attached := e.aspect.manager != nil
	isKey := isKeyProperty(e.entityType, dp.Name)
	if attached && isKey {
		if err := em.rekeyLocked(e, dp.Name, v); err != nil {
			return err
		}
	}
	if attached && track {
		trackChange(e, dp.Name, old)
	}
	e.values[dp.Name] = v

	if attached {
		return em.propagateLocked(e, dp, isKey)
	}
	return nil
}

func isKeyProperty(et *metadata.EntityType, name string) bool {
	for _, k := range et.KeyProperties {
		if k == name {
			return true
		}
	}
	return false
}

func trackChange(e *Entity, name string, old interface{}) {
	a := e.aspect
	a.version++
	switch a.state {
	case Unchanged:
		a.state = Modified
	case Modified, Deleted:
	default:
		return
	}
	if a.original == nil {
		a.original = make(map[string]interface{})
	}
	if _, ok := a.original[name]; !ok {
		a.original[name] = old
	}
}

func (em *EntityManager) rekeyLocked(e *Entity, name string, v interface{}) error {
	oldKey := e.keyLocked()
	newValues := append([]interface{}(nil), oldKey.Values...)
	for i, k := range e.entityType.KeyProperties {
		if k == name {
			newValues[i] = v
		}
	}
	newKS := EntityKey{TypeName: oldKey.TypeName, Values: newValues}.String()

	if existing, ok := em.entities[newKS]; ok && existing != e {
		return fmt.Errorf("%w: %s", ErrKeyConflict, newKS)
	}
	if oldKS := oldKey.String(); em.entities[oldKS] == e {
		delete(em.entities, oldKS)
	}
	em.entities[newKS] = e
	return nil
}

// propagateLocked relinks navigations backed by dp and, for key properties,
// rewrites the foreign keys of dependents
func (em *EntityManager) propagateLocked(e *Entity, dp *metadata.DataProperty, isKey bool) error {
	et := e.entityType
	for _, nav := range et.NavigationProperties {
		if nav.IsToPrincipal() && contains(nav.ForeignKeyNames, dp.Name) {
			em.linkNavLocked(e, nav, em.findPrincipalLocked(e, nav))
		}
	}
	if !isKey {
		return nil
	}

	for _, nav := range et.NavigationProperties {
		if nav.IsToPrincipal() {
			continue
		}
		for _, child := range dependentsOf(e, nav) {
			if err := em.copyKeyLocked(e, child, nav.InvForeignKeyNames, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}

// linkNavLocked points a scalar navigation at target and keeps the inverse side in step
func (em *EntityManager) linkNavLocked(e *Entity, nav *metadata.NavigationProperty, target *Entity) {
	old := e.navs[nav.Name]
	if old == target {
		return
	}
	inverse := em.store.Inverse(nav)
	if old != nil && inverse != nil {
		removeNavValue(old, inverse, e)
	}
	if target == nil {
		delete(e.navs, nav.Name)
		return
	}
	e.navs[nav.Name] = target
	if inverse != nil {
		addNavValue(target, inverse, e)
	}
}

// copyKeyLocked writes principal's key into the dependent's foreign keys
func (em *EntityManager) copyKeyLocked(principal, dependent *Entity, fks []string, track bool) error {
	keys := principal.entityType.KeyProperties
	for i, fk := range fks {
		if i >= len(keys) {
			break
		}
		dp := dependent.entityType.DataProperty(fk)
		if dp == nil {
			continue
		}
		v, err := normalize(dp, principal.values[keys[i]])
		if err != nil {
			return err
		}
		if err := em.writeValueLocked(dependent, dp, v, track); err != nil {
			return err
		}
	}
	return nil
}

// setNavigationLocked assigns a scalar navigation. When one side is attached and the
// other is not, the detached side is attached as Added.
func (em *EntityManager) setNavigationLocked(e *Entity, nav *metadata.NavigationProperty, target *Entity) error {
	if err := em.checkRelatedLocked(nav, target); err != nil {
		return err
	}

	if !nav.IsToPrincipal() {
		inverse := em.store.Inverse(nav)
		if inverse == nil {
			return fmt.Errorf("%w: %s.%s has no inverse", ErrInvalidValue, e.entityType.Name, nav.Name)
		}
		if old := e.navs[nav.Name]; old != nil && old != target {
			if err := em.setNavigationLocked(old, inverse, nil); err != nil {
				return err
			}
		}
		if target == nil {
			return nil
		}
		return em.setNavigationLocked(target, inverse, e)
	}

	eAttached := e.aspect.manager != nil
	if eAttached && target != nil && target.aspect.manager == nil {
		if err := em.attachLocked(target, Added); err != nil {
			return err
		}
	}

	if target == nil {
		for _, fk := range nav.ForeignKeyNames {
			if dp := e.entityType.DataProperty(fk); dp != nil {
				if err := em.writeValueLocked(e, dp, zeroValue(dp), true); err != nil {
					return err
				}
			}
		}
	} else if err := em.copyKeyLocked(target, e, nav.ForeignKeyNames, true); err != nil {
		return err
	}
	em.linkNavLocked(e, nav, target)

	if !eAttached && target != nil && target.aspect.manager == em {
		return em.attachLocked(e, Added)
	}
	return nil
}

func (em *EntityManager) addToCollectionLocked(e *Entity, nav *metadata.NavigationProperty, child *Entity) error {
	if child == nil {
		return fmt.Errorf("%w: nil entity", ErrInvalidValue)
	}
	inverse := em.store.Inverse(nav)
	if inverse == nil {
		return fmt.Errorf("%w: %s.%s has no inverse", ErrInvalidValue, e.entityType.Name, nav.Name)
	}
	return em.setNavigationLocked(child, inverse, e)
}

// deleteLocked marks e deleted after removing it from every relationship
func (em *EntityManager) deleteLocked(e *Entity) error {
	et := e.entityType

	for _, nav := range et.NavigationProperties {
		if nav.IsToPrincipal() {
			continue
		}
		for _, child := range dependentsOf(e, nav) {
			if err := em.checkZeroedKeyLocked(child, nav.InvForeignKeyNames); err != nil {
				return err
			}
		}
	}

	for _, nav := range et.NavigationProperties {
		inverse := em.store.Inverse(nav)

		if nav.IsToPrincipal() {
			if target := e.navs[nav.Name]; target != nil {
				if inverse != nil {
					removeNavValue(target, inverse, e)
				}
				delete(e.navs, nav.Name)
			}
			continue
		}

		for _, child := range dependentsOf(e, nav) {
			if inverse != nil && child.navs[inverse.Name] == e {
				delete(child.navs, inverse.Name)
			}
			if child.aspect.state == Deleted {
				continue
			}
			for _, fk := range nav.InvForeignKeyNames {
				if dp := child.entityType.DataProperty(fk); dp != nil {
					if err := em.writeValueLocked(child, dp, zeroValue(dp), true); err != nil {
						return err
					}
				}
			}
		}
		delete(e.navs, nav.Name)
		delete(e.colls, nav.Name)
	}

	if e.aspect.state == Added {
		em.detachLocked(e)
		return nil
	}
	e.aspect.state = Deleted
	e.aspect.version++
	return nil
}

// checkZeroedKeyLocked fails when zeroing the foreign keys would give child the key of another cached entity
func (em *EntityManager) checkZeroedKeyLocked(child *Entity, fks []string) error {
	if child.aspect.manager != em || child.aspect.state == Deleted {
		return nil
	}
	key := child.keyLocked()
	changed := false
	for i, k := range child.entityType.KeyProperties {
		if !contains(fks, k) {
			continue
		}
		if dp := child.entityType.DataProperty(k); dp != nil {
			key.Values[i] = zeroValue(dp)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if existing, ok := em.entities[key.String()]; ok && existing != child {
		return fmt.Errorf("%w: %s", ErrKeyConflict, key)
	}
	return nil
}

// detachLocked removes e from the cache and from its relatives. Foreign keys are kept.
func (em *EntityManager) detachLocked(e *Entity) {
	et := e.entityType
	ks := e.keyLocked().String()
	if em.entities[ks] == e {
		delete(em.entities, ks)
	} else {
		for k, cached := range em.entities {
			if cached == e {
				delete(em.entities, k)
				break
			}
		}
	}
	delete(em.byType[et.Name], e)

	for _, nav := range et.NavigationProperties {
		inverse := em.store.Inverse(nav)
		if inverse != nil {
			for _, other := range dependentsOf(e, nav) {
				removeNavValue(other, inverse, e)
			}
		}
		delete(e.navs, nav.Name)
		delete(e.colls, nav.Name)
	}

	e.aspect.manager = nil
	e.aspect.state = Detached
	e.aspect.original = nil
}

func (em *EntityManager) acceptLocked(e *Entity) {
	if e.aspect.state == Deleted {
		em.detachLocked(e)
		return
	}
	e.aspect.state = Unchanged
	e.aspect.original = nil
}

// rejectLocked restores original values and relationships
func (em *EntityManager) rejectLocked(e *Entity) {
	switch e.aspect.state {
	case Added:
		em.detachLocked(e)
		return
	case Unchanged, Detached:
		return
	}

	original := e.aspect.original
	e.aspect.original = nil
	e.aspect.state = Unchanged
	e.aspect.version++

	names := make([]string, 0, len(original))
	for name := range original {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dp := e.entityType.DataProperty(name)
		if dp == nil {
			continue
		}
		if err := em.writeValueLocked(e, dp, original[name], false); err != nil {
			em.logger.Warn("reject changes: cannot restore value", "type", e.entityType.Name, "property", name, "error", err)
		}
	}
	if err := em.linkLocked(e, Unchanged); err != nil {
		em.logger.Warn("reject changes: cannot restore relationships", "type", e.entityType.Name, "error", err)
	}
}

// validateLocked checks required strings and maximum lengths
func validateLocked(e *Entity) []ValidationIssue {
	var issues []ValidationIssue
	for _, dp := range e.entityType.DataProperties {
		s, ok := e.values[dp.Name].(string)
		if !ok || (dp.DataType != metadata.String && dp.DataType != metadata.Guid) {
			continue
		}
		switch {
		case s == "" && !dp.IsNullable:
			issues = append(issues, ValidationIssue{
				EntityTypeName: e.entityType.Name,
				Key:            e.keyLocked(),
				PropertyName:   dp.Name,
				Message:        "is required",
			})
		case dp.MaxLength > 0 && len([]rune(s)) > dp.MaxLength:
			issues = append(issues, ValidationIssue{
				EntityTypeName: e.entityType.Name,
				Key:            e.keyLocked(),
				PropertyName:   dp.Name,
				Message:        fmt.Sprintf("exceeds %d characters", dp.MaxLength),
			})
		}
	}
	return issues
}
