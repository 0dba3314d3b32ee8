package metadata

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Store holds the entity types of one data service
type Store struct {
	mu          sync.RWMutex
	serviceName string
	types       []*EntityType
	byName      map[string]*EntityType
	byResource  map[string]*EntityType
}

// document is the JSON shape of a store
type document struct {
	ServiceName string        `json:"serviceName" yaml:"serviceName"`
	EntityTypes []*EntityType `json:"entityTypes" yaml:"entityTypes"`
}

// NewStore creates an empty store
func NewStore(serviceName string) *Store {
	return &Store{
		serviceName: serviceName,
		byName:      make(map[string]*EntityType),
		byResource:  make(map[string]*EntityType),
	}
}

// ServiceName returns the data service the metadata describes
func (s *Store) ServiceName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serviceName
}

// IsEmpty reports whether no entity types have been added
func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.types) == 0
}

// AddEntityType adds or replaces et
func (s *Store) AddEntityType(et *EntityType) error {
	if et == nil || et.Name == "" {
		return fmt.Errorf("%w: entity type needs a name", ErrInvalidMetadata)
	}
	if len(et.KeyProperties) == 0 {
		return fmt.Errorf("%w: %s has no key properties", ErrInvalidMetadata, et.Name)
	}
	et.index()
	for _, k := range et.KeyProperties {
		if et.DataProperty(k) == nil {
			return fmt.Errorf("%w: %s key %s is not a data property", ErrInvalidMetadata, et.Name, k)
		}
	}
	if et.ResourceName == "" {
		et.ResourceName = et.Name + "s"
	}
	if et.AutoGeneratedKeyType == "" {
		et.AutoGeneratedKeyType = None
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byName[et.Name]; ok {
		delete(s.byResource, old.ResourceName)
		for i, t := range s.types {
			if t == old {
				s.types[i] = et
				break
			}
		}
	} else {
		s.types = append(s.types, et)
	}
	s.byName[et.Name] = et
	s.byResource[et.ResourceName] = et
	return nil
}

// EntityType returns the named type
func (s *Store) EntityType(name string) (*EntityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, name)
	}
	return et, nil
}

// EntityTypeForResource returns the type served at resource, e.g. "Orders" -> Order
func (s *Store) EntityTypeForResource(resource string) (*EntityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.byResource[resource]
	if !ok {
		return nil, fmt.Errorf("%w: no type for resource %q", ErrUnknownEntityType, resource)
	}
	return et, nil
}

// EntityTypes returns every type in the order added
func (s *Store) EntityTypes() []*EntityType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*EntityType(nil), s.types...)
}

// Inverse returns the navigation on nav's target type that shares its association, or nil
func (s *Store) Inverse(nav *NavigationProperty) *NavigationProperty {
	target, err := s.EntityType(nav.EntityTypeName)
	if err != nil {
		return nil
	}
	for _, other := range target.NavigationProperties {
		if other != nav && other.AssociationName == nav.AssociationName {
			return other
		}
	}
	return nil
}

// DependencyOrder returns type names with principals before their dependents.
// Types caught in a cycle keep their insertion order at the end.
func (s *Store) DependencyOrder() []string {
	types := s.EntityTypes()

	// principals per type, from navigations that carry the foreign key
	deps := make(map[string]map[string]bool, len(types))
	for _, et := range types {
		deps[et.Name] = map[string]bool{}
		for _, nav := range et.NavigationProperties {
			if nav.IsToPrincipal() && nav.EntityTypeName != et.Name {
				deps[et.Name][nav.EntityTypeName] = true
			}
		}
	}

	ordered := make([]string, 0, len(types))
	placed := make(map[string]bool, len(types))
	for len(ordered) < len(types) {
		progressed := false
		for _, et := range types {
			if placed[et.Name] {
				continue
			}
			ready := true
			for principal := range deps[et.Name] {
				if _, known := deps[principal]; known && !placed[principal] {
					ready = false
					break
				}
			}
			if ready {
				placed[et.Name] = true
				ordered = append(ordered, et.Name)
				progressed = true
			}
		}
		if !progressed {
			for _, et := range types {
				if !placed[et.Name] {
					placed[et.Name] = true
					ordered = append(ordered, et.Name)
				}
			}
		}
	}
	return ordered
}

// Export renders the store as JSON
func (s *Store) Export() ([]byte, error) {
	return json.Marshal(s.Document())
}

// Document returns the serializable form of the store, also used for YAML dumps
func (s *Store) Document() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return document{ServiceName: s.serviceName, EntityTypes: append([]*EntityType(nil), s.types...)}
}

// Import adds the types in a JSON document and checks that every navigation resolves
func (s *Store) Import(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	s.mu.Lock()
	if s.serviceName == "" {
		s.serviceName = doc.ServiceName
	}
	s.mu.Unlock()

	for _, et := range doc.EntityTypes {
		if err := s.AddEntityType(et); err != nil {
			return err
		}
	}
	return s.Validate()
}

// Validate checks that navigation targets and foreign key properties exist
func (s *Store) Validate() error {
	for _, et := range s.EntityTypes() {
		for _, nav := range et.NavigationProperties {
			target, err := s.EntityType(nav.EntityTypeName)
			if err != nil {
				return fmt.Errorf("%w: %s.%s targets unknown type %q", ErrInvalidMetadata, et.Name, nav.Name, nav.EntityTypeName)
			}
			for _, fk := range nav.ForeignKeyNames {
				if et.DataProperty(fk) == nil {
					return fmt.Errorf("%w: %s.%s foreign key %s missing", ErrInvalidMetadata, et.Name, nav.Name, fk)
				}
			}
			for _, fk := range nav.InvForeignKeyNames {
				if target.DataProperty(fk) == nil {
					return fmt.Errorf("%w: %s.%s inverse foreign key %s.%s missing", ErrInvalidMetadata, et.Name, nav.Name, target.Name, fk)
				}
			}
		}
	}
	return nil
}
