package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/metadata"
)

// SaveResult lists the saved entities, the same instances the manager tracks
type SaveResult struct {
	Entities    []*Entity
	KeyMappings []dataservice.KeyMapping
}

// SaveChanges sends every pending change, or only the given entities, to the data service
// in one bundle. On success temporary keys are replaced, server values merged, Added and
// Modified entities become Unchanged and Deleted ones Detached. Entities edited while the
// save was in flight keep those edits and stay Modified. On failure nothing changes.
func (em *EntityManager) SaveChanges(ctx context.Context, entities ...*Entity) (*SaveResult, error) {
	em.mu.Lock()
	changes := em.saveCandidatesLocked(entities)
	if len(changes) == 0 {
		em.mu.Unlock()
		return &SaveResult{}, nil
	}
	if em.dataService == nil {
		em.mu.Unlock()
		return nil, ErrNoDataService
	}

	var issues []ValidationIssue
	for _, e := range changes {
		if e.aspect.state != Deleted {
			issues = append(issues, validateLocked(e)...)
		}
	}
	if len(issues) > 0 {
		em.mu.Unlock()
		return nil, &ValidationError{Issues: issues}
	}

	bundle := dataservice.SaveBundle{Entities: make([]dataservice.EntityChange, 0, len(changes))}
	versions := make([]uint64, len(changes))
	for i, e := range changes {
		bundle.Entities = append(bundle.Entities, changeOf(e))
		versions[i] = e.aspect.version
	}
	em.mu.Unlock()

	start := time.Now()
	result, err := em.dataService.SaveChanges(ctx, bundle)
	if err != nil {
		em.logger.Warn("save failed", "entities", len(changes), "error", err)
		saveErr := &SaveError{Err: err}
		var serverErr *dataservice.ServerError
		if errors.As(err, &serverErr) {
			saveErr.EntityErrors = serverErr.EntityErrors
		}
		return nil, saveErr
	}

	em.mu.Lock()
	defer em.mu.Unlock()

	// edits made while the save was in flight must survive it
	edited := make([]bool, len(changes))
	for i, e := range changes {
		edited[i] = e.aspect.version != versions[i]
	}

	em.applyKeyMappingsLocked(result.KeyMappings)
	for i, e := range changes {
		if e.aspect.manager != em {
			continue
		}
		sent := bundle.Entities[i]
		var savedValues map[string]interface{}
		if i < len(result.Entities) && result.Entities[i].EntityTypeName == e.entityType.Name {
			savedValues = result.Entities[i].Values
		}

		switch {
		case sent.EntityState == Deleted.String():
			em.acceptLocked(e)
		case edited[i]:
			em.settleEditedLocked(e, sent.Values, savedValues)
		default:
			if e.aspect.state != Deleted && savedValues != nil {
				em.mergeSavedLocked(e, savedValues)
			}
			em.acceptLocked(e)
		}
	}

	em.logger.Debug("changes saved", "entities", len(changes), "keyMappings", len(result.KeyMappings), "duration", time.Since(start))
	return &SaveResult{Entities: changes, KeyMappings: result.KeyMappings}, nil
}

// settleEditedLocked handles an entity changed after its values were sent. Server values
// are merged only into properties still holding the sent value; the entity stays pending,
// with the saved values as its originals.
func (em *EntityManager) settleEditedLocked(e *Entity, sent, saved map[string]interface{}) {
	persisted := make(map[string]interface{}, len(sent))
	for _, dp := range e.entityType.DataProperties {
		v, ok := sent[dp.Name]
		if raw, found := saved[dp.Name]; found {
			if n, err := normalize(dp, raw); err == nil {
				v, ok = n, true
			}
		}
		if !ok {
			continue
		}
		persisted[dp.Name] = v
		if valuesEqual(e.values[dp.Name], sent[dp.Name]) {
			if err := em.writeValueLocked(e, dp, v, false); err != nil {
				em.logger.Warn("cannot merge saved value", "type", e.entityType.Name, "property", dp.Name, "error", err)
			}
		}
	}

	e.aspect.original = nil
	for name, v := range persisted {
		if valuesEqual(e.values[name], v) {
			continue
		}
		if e.aspect.original == nil {
			e.aspect.original = make(map[string]interface{})
		}
		e.aspect.original[name] = v
	}
	if e.aspect.state == Added {
		e.aspect.state = Modified
	}
	if e.aspect.state == Modified && e.aspect.original == nil {
		e.aspect.state = Unchanged
	}
}

func (em *EntityManager) saveCandidatesLocked(entities []*Entity) []*Entity {
	if len(entities) == 0 {
		return em.changesLocked(nil)
	}
	var out []*Entity
	seen := make(map[*Entity]bool, len(entities))
	for _, e := range entities {
		if e == nil || seen[e] || e.aspect.manager != em || !e.aspect.state.IsChanged() {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func changeOf(e *Entity) dataservice.EntityChange {
	change := dataservice.EntityChange{
		EntityTypeName: e.entityType.Name,
		EntityState:    e.aspect.state.String(),
		Values:         e.valuesLocked(),
	}
	if len(e.aspect.original) > 0 {
		change.OriginalValues = make(map[string]interface{}, len(e.aspect.original))
		for k, v := range e.aspect.original {
			change.OriginalValues[k] = v
		}
	}
	et := e.entityType
	if e.aspect.state == Added && et.AutoGeneratedKeyType == metadata.Identity && len(et.KeyProperties) == 1 {
		change.AutoGeneratedKey = &dataservice.AutoGeneratedKey{
			PropertyName: et.KeyProperties[0],
			Type:         string(metadata.Identity),
		}
	}
	return change
}

// applyKeyMappingsLocked swaps temporary keys for permanent ones; dependents follow
func (em *EntityManager) applyKeyMappingsLocked(mappings []dataservice.KeyMapping) {
	for _, km := range mappings {
		et, err := em.entityTypeLocked(km.EntityTypeName)
		if err != nil || len(et.KeyProperties) != 1 {
			em.logger.Warn("key mapping for unknown type", "type", km.EntityTypeName)
			continue
		}
		keyDP := et.KeyDataProperties()[0]
		temp, err := normalize(keyDP, km.TempValue)
		if err != nil {
			continue
		}
		permanent, err := normalize(keyDP, km.RealValue)
		if err != nil {
			em.logger.Warn("invalid permanent key", "type", et.Name, "value", km.RealValue, "error", err)
			continue
		}

		e := em.entities[EntityKey{TypeName: et.Name, Values: []interface{}{temp}}.String()]
		if e == nil {
			continue
		}
		if err := em.writeValueLocked(e, keyDP, permanent, false); err != nil {
			em.logger.Warn("cannot apply key mapping", "type", et.Name, "temp", temp, "permanent", permanent, "error", err)
		}
	}
}

func (em *EntityManager) mergeSavedLocked(e *Entity, values map[string]interface{}) {
	for _, dp := range e.entityType.DataProperties {
		raw, ok := values[dp.Name]
		if !ok {
			continue
		}
		v, err := normalize(dp, raw)
		if err != nil {
			em.logger.Warn("ignoring saved value", "type", e.entityType.Name, "property", dp.Name, "error", err)
			continue
		}
		if err := em.writeValueLocked(e, dp, v, false); err != nil {
			em.logger.Warn("cannot merge saved value", "type", e.entityType.Name, "property", dp.Name, "error", err)
		}
	}
}

// IsSaveError reports whether err came from a failed save
func IsSaveError(err error) bool {
	var saveErr *SaveError
	return errors.As(err, &saveErr)
}

func (r *SaveResult) String() string {
	return fmt.Sprintf("%d entities saved, %d keys mapped", len(r.Entities), len(r.KeyMappings))
}
