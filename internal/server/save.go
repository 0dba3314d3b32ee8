package server

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/metadata"
	"github.com/ammar0144/entity4go/pkg/repository"

	"gorm.io/gorm"
)

// savePlan is a validated bundle with its entries grouped by write phase
type savePlan struct {
	bundle  dataservice.SaveBundle
	types   []*metadata.EntityType
	sets    []repository.EntitySet
	added   []int
	updated []int
	deleted []int
}

// SaveChanges applies bundle in one transaction: inserts principals first, then
// updates, then deletes dependents first. Identity keys assigned by the database are
// reported as key mappings and substituted into foreign keys that held the temporary key.
func (s *Service) SaveChanges(ctx context.Context, bundle dataservice.SaveBundle) (*dataservice.SaveResult, error) {
	result := &dataservice.SaveResult{
		Entities:    make([]dataservice.SavedEntity, len(bundle.Entities)),
		KeyMappings: []dataservice.KeyMapping{},
	}
	if len(bundle.Entities) == 0 {
		return result, nil
	}

	plan, err := s.plan(bundle)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = s.dbManager.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.apply(ctx, tx, plan, result)
	})
	s.metrics.saveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.saveFailures.Inc()
		return nil, err
	}

	touched := map[string]bool{}
	var names []string
	for i, change := range bundle.Entities {
		s.metrics.recordSaved(change.EntityTypeName, change.EntityState)
		if !touched[plan.types[i].Name] {
			touched[plan.types[i].Name] = true
			names = append(names, plan.types[i].Name)
		}
	}
	if err := s.registry.InvalidateCaches(ctx, names...); err != nil {
		s.logger.Warn("cache invalidation after save failed", "types", names, "error", err)
	}

	s.logger.Info("changes saved", "entities", len(bundle.Entities), "keyMappings", len(result.KeyMappings), "tag", bundle.Tag)
	return result, nil
}

func (s *Service) plan(bundle dataservice.SaveBundle) (*savePlan, error) {
	p := &savePlan{
		bundle: bundle,
		types:  make([]*metadata.EntityType, len(bundle.Entities)),
		sets:   make([]repository.EntitySet, len(bundle.Entities)),
	}

	rank := map[string]int{}
	for i, name := range s.store.DependencyOrder() {
		rank[name] = i
	}

	for i, change := range bundle.Entities {
		et, err := s.store.EntityType(change.EntityTypeName)
		if err != nil {
			return nil, fmt.Errorf("%w: entity %d: %v", dataservice.ErrInvalidSaveBundle, i, err)
		}
		set, err := s.registry.ByTypeName(change.EntityTypeName)
		if err != nil {
			return nil, fmt.Errorf("%w: entity %d: %v", dataservice.ErrInvalidSaveBundle, i, err)
		}
		p.types[i], p.sets[i] = et, set

		switch change.EntityState {
		case dataservice.StateAdded:
			p.added = append(p.added, i)
		case dataservice.StateModified:
			if err := checkKeyUnchanged(et, change); err != nil {
				return nil, err
			}
			p.updated = append(p.updated, i)
		case dataservice.StateDeleted:
			p.deleted = append(p.deleted, i)
		default:
			return nil, fmt.Errorf("%w: entity %d has state %q", dataservice.ErrInvalidSaveBundle, i, change.EntityState)
		}
	}

	sort.SliceStable(p.added, func(a, b int) bool {
		return rank[p.types[p.added[a]].Name] < rank[p.types[p.added[b]].Name]
	})
	sort.SliceStable(p.deleted, func(a, b int) bool {
		return rank[p.types[p.deleted[a]].Name] > rank[p.types[p.deleted[b]].Name]
	})
	return p, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, p *savePlan, result *dataservice.SaveResult) error {
	tempKeys := map[string]interface{}{}

	for _, i := range p.added {
		change := p.bundle.Entities[i]
		et := p.types[i]
		values := resolveTempKeys(et, change.Values, tempKeys)

		row, err := p.sets[i].Insert(ctx, tx, values)
		if err != nil {
			return saveError(change, keyValues(et, values), err)
		}

		if ak := change.AutoGeneratedKey; ak != nil {
			temp := change.Values[ak.PropertyName]
			tempKeys[tempKey(et.Name, temp)] = row[ak.PropertyName]
			result.KeyMappings = append(result.KeyMappings, dataservice.KeyMapping{
				EntityTypeName: et.Name,
				TempValue:      temp,
				RealValue:      row[ak.PropertyName],
			})
		}
		result.Entities[i] = dataservice.SavedEntity{EntityTypeName: et.Name, Values: row}
	}

	for _, i := range p.updated {
		change := p.bundle.Entities[i]
		et := p.types[i]
		values := resolveTempKeys(et, change.Values, tempKeys)

		row, err := p.sets[i].Update(ctx, tx, values, changedProperties(et, change))
		if err != nil {
			return saveError(change, keyValues(et, values), err)
		}
		result.Entities[i] = dataservice.SavedEntity{EntityTypeName: et.Name, Values: row}
	}

	for _, i := range p.deleted {
		change := p.bundle.Entities[i]
		et := p.types[i]
		key := originalKey(et, change)

		if err := p.sets[i].Delete(ctx, tx, key); err != nil {
			return saveError(change, keyValues(et, key), err)
		}
		result.Entities[i] = dataservice.SavedEntity{EntityTypeName: et.Name, Values: change.Values}
	}

	return nil
}

// tempKey identifies a temporary key independently of how its number was decoded
func tempKey(typeName string, value interface{}) string {
	return typeName + "|" + fmt.Sprint(value)
}

// resolveTempKeys returns values with foreign keys that point at a just-inserted
// principal's temporary key replaced by its permanent key
func resolveTempKeys(et *metadata.EntityType, values map[string]interface{}, tempKeys map[string]interface{}) map[string]interface{} {
	if len(tempKeys) == 0 {
		return values
	}

	out := values
	copied := false
	for _, nav := range et.NavigationProperties {
		if !nav.IsToPrincipal() || len(nav.ForeignKeyNames) != 1 {
			continue
		}
		fk := nav.ForeignKeyNames[0]
		v, ok := values[fk]
		if !ok || v == nil {
			continue
		}
		permanent, ok := tempKeys[tempKey(nav.EntityTypeName, v)]
		if !ok {
			continue
		}
		if !copied {
			out = make(map[string]interface{}, len(values))
			for k, v := range values {
				out[k] = v
			}
			copied = true
		}
		out[fk] = permanent
	}
	return out
}

// changedProperties lists the data properties the client changed; empty means all
func changedProperties(et *metadata.EntityType, change dataservice.EntityChange) []string {
	var changed []string
	for name := range change.OriginalValues {
		if dp := et.DataProperty(name); dp != nil && !dp.IsPartOfKey {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// checkKeyUnchanged rejects updates that move an entity to a new key
func checkKeyUnchanged(et *metadata.EntityType, change dataservice.EntityChange) error {
	for _, k := range et.KeyProperties {
		orig, ok := change.OriginalValues[k]
		if !ok {
			continue
		}
		if fmt.Sprint(orig) != fmt.Sprint(change.Values[k]) {
			return fmt.Errorf("%w: %s key %s cannot change from %v to %v",
				dataservice.ErrInvalidSaveBundle, et.Name, k, orig, change.Values[k])
		}
	}
	return nil
}

// originalKey returns the key a stored row is identified by, preferring original values
func originalKey(et *metadata.EntityType, change dataservice.EntityChange) map[string]interface{} {
	key := make(map[string]interface{}, len(et.KeyProperties))
	for _, k := range et.KeyProperties {
		if orig, ok := change.OriginalValues[k]; ok {
			key[k] = orig
			continue
		}
		key[k] = change.Values[k]
	}
	return key
}

func keyValues(et *metadata.EntityType, values map[string]interface{}) []interface{} {
	out := make([]interface{}, 0, len(et.KeyProperties))
	for _, k := range et.KeyProperties {
		out = append(out, values[k])
	}
	return out
}
