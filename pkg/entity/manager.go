// Package entity is a client-side entity manager: it caches entities fetched from a data
// service, tracks their changes and keeps navigation properties and foreign keys in step,
// then saves every pending change in one round trip.
package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/metadata"
)

// DataService is the remote side of an entity manager
type DataService interface {
	FetchMetadata(ctx context.Context) (*metadata.Store, error)
	ExecuteQuery(ctx context.Context, req dataservice.QueryRequest) (*dataservice.QueryResult, error)
	SaveChanges(ctx context.Context, bundle dataservice.SaveBundle) (*dataservice.SaveResult, error)
}

// EntityManager caches entities and tracks their changes. It is safe for concurrent use;
// the lock is not held while waiting on the data service.
type EntityManager struct {
	mu            sync.Mutex
	dataService   DataService
	store         *metadata.Store
	logger        *slog.Logger
	mergeStrategy MergeStrategy

	entities map[string]*Entity
	byType   map[string]map[*Entity]struct{}
	seq      uint64
	tempKey  int64
}

// Option configures an EntityManager
type Option func(*EntityManager)

// WithMetadataStore shares an already populated metadata store
func WithMetadataStore(store *metadata.Store) Option {
	return func(em *EntityManager) {
		em.store = store
	}
}

// WithLogger sets the manager logger
func WithLogger(logger *slog.Logger) Option {
	return func(em *EntityManager) {
		if logger != nil {
			em.logger = logger
		}
	}
}

// WithMergeStrategy sets the default strategy for merging query results
func WithMergeStrategy(strategy MergeStrategy) Option {
	return func(em *EntityManager) {
		em.mergeStrategy = strategy
	}
}

// NewEntityManager creates a manager. ds may be nil for a manager that only works locally.
func NewEntityManager(ds DataService, opts ...Option) *EntityManager {
	em := &EntityManager{
		dataService:   ds,
		logger:        slog.Default(),
		mergeStrategy: PreserveChanges,
		entities:      make(map[string]*Entity),
		byType:        make(map[string]map[*Entity]struct{}),
	}
	for _, opt := range opts {
		opt(em)
	}
	return em
}

// NewGuidComb returns a time-ordered GUID for client-assigned keys
func NewGuidComb() string {
	return uuid.Must(uuid.NewV7()).String()
}

// DataService returns the manager's data service
func (em *EntityManager) DataService() DataService {
	return em.dataService
}

// MetadataStore returns the metadata in use, or nil before FetchMetadata
func (em *EntityManager) MetadataStore() *metadata.Store {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.store
}

// FetchMetadata loads metadata from the data service unless the manager already has it
func (em *EntityManager) FetchMetadata(ctx context.Context) (*metadata.Store, error) {
	if store := em.MetadataStore(); store != nil && !store.IsEmpty() {
		return store, nil
	}
	if em.dataService == nil {
		return nil, ErrNoDataService
	}

	store, err := em.dataService.FetchMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	em.mu.Lock()
	defer em.mu.Unlock()
	if em.store == nil || em.store.IsEmpty() {
		em.store = store
		em.logger.Debug("metadata fetched", "service", store.ServiceName(), "types", len(store.EntityTypes()))
	}
	return em.store, nil
}

func (em *EntityManager) entityTypeLocked(name string) (*metadata.EntityType, error) {
	if em.store == nil {
		return nil, ErrNoMetadata
	}
	et, err := em.store.EntityType(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, name)
	}
	return et, nil
}

// CreateEntity creates an Added entity. initialValues may hold data values, an *Entity
// for a scalar navigation or a []*Entity for a collection.
// Identity-keyed types without a key get a temporary negative one.
func (em *EntityManager) CreateEntity(typeName string, initialValues map[string]interface{}) (*Entity, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	e, err := em.newEntityLocked(typeName, initialValues)
	if err != nil {
		return nil, err
	}
	if err := em.attachLocked(e, Added); err != nil {
		return nil, fmt.Errorf("create %s: %w", typeName, err)
	}
	return e, nil
}

// NewEntity creates a detached entity that can later be added or attached
func (em *EntityManager) NewEntity(typeName string, initialValues map[string]interface{}) (*Entity, error) {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.newEntityLocked(typeName, initialValues)
}

func (em *EntityManager) newEntityLocked(typeName string, initialValues map[string]interface{}) (*Entity, error) {
	et, err := em.entityTypeLocked(typeName)
	if err != nil {
		return nil, err
	}
	e := newEntity(em, et)
	if err := em.initLocked(e, initialValues); err != nil {
		return nil, fmt.Errorf("create %s: %w", typeName, err)
	}
	return e, nil
}

// AddEntity attaches a detached entity as Added
func (em *EntityManager) AddEntity(e *Entity) error {
	return em.AttachEntity(e, Added)
}

// AttachEntity attaches a detached entity in the given state
func (em *EntityManager) AttachEntity(e *Entity, state EntityState) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", ErrInvalidValue)
	}
	if e.em != em {
		return ErrManagerMismatch
	}
	if state == Detached {
		return fmt.Errorf("%w: cannot attach as Detached", ErrInvalidValue)
	}

	em.mu.Lock()
	defer em.mu.Unlock()
	if e.aspect.manager == em {
		return nil
	}
	return em.attachLocked(e, state)
}

// DetachEntity removes e from the cache. It reports whether e was attached.
func (em *EntityManager) DetachEntity(e *Entity) bool {
	em.mu.Lock()
	defer em.mu.Unlock()

	if e == nil || e.aspect.manager != em {
		return false
	}
	em.detachLocked(e)
	return true
}

// Clear detaches every cached entity
func (em *EntityManager) Clear() {
	em.mu.Lock()
	defer em.mu.Unlock()

	for _, e := range em.entities {
		e.navs = make(map[string]*Entity)
		e.colls = make(map[string][]*Entity)
		e.aspect.manager = nil
		e.aspect.state = Detached
		e.aspect.original = nil
	}
	em.entities = make(map[string]*Entity)
	em.byType = make(map[string]map[*Entity]struct{})
}

// GetEntityByKey returns the cached entity with the given key values, or nil
func (em *EntityManager) GetEntityByKey(typeName string, keyValues ...interface{}) *Entity {
	em.mu.Lock()
	defer em.mu.Unlock()

	et, err := em.entityTypeLocked(typeName)
	if err != nil || len(keyValues) != len(et.KeyProperties) {
		return nil
	}
	values := make([]interface{}, len(keyValues))
	for i, dp := range et.KeyDataProperties() {
		v, err := normalize(dp, keyValues[i])
		if err != nil {
			return nil
		}
		values[i] = v
	}
	return em.entities[EntityKey{TypeName: et.Name, Values: values}.String()]
}

// GetEntities returns cached entities of the given types (all types when none are named)
// in the order they were attached
func (em *EntityManager) GetEntities(typeNames ...string) []*Entity {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.entitiesLocked(typeNames, func(*Entity) bool { return true })
}

// GetChanges returns Added, Modified and Deleted entities in the order they were attached
func (em *EntityManager) GetChanges(typeNames ...string) []*Entity {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.changesLocked(typeNames)
}

func (em *EntityManager) changesLocked(typeNames []string) []*Entity {
	return em.entitiesLocked(typeNames, func(e *Entity) bool { return e.aspect.state.IsChanged() })
}

// HasChanges reports whether anything is waiting to be saved
func (em *EntityManager) HasChanges() bool {
	em.mu.Lock()
	defer em.mu.Unlock()

	for _, e := range em.entities {
		if e.aspect.state.IsChanged() {
			return true
		}
	}
	return false
}

// RejectChanges undoes every pending change and returns the entities it touched
func (em *EntityManager) RejectChanges() []*Entity {
	em.mu.Lock()
	defer em.mu.Unlock()

	changes := em.changesLocked(nil)
	for _, e := range changes {
		if e.aspect.state == Added {
			em.detachLocked(e)
		}
	}
	for _, e := range changes {
		if e.aspect.manager == em {
			em.rejectLocked(e)
		}
	}
	return changes
}

// AcceptChanges accepts every pending change without saving it
func (em *EntityManager) AcceptChanges() {
	em.mu.Lock()
	defer em.mu.Unlock()

	for _, e := range em.changesLocked(nil) {
		em.acceptLocked(e)
	}
}

func (em *EntityManager) entitiesLocked(typeNames []string, keep func(*Entity) bool) []*Entity {
	var out []*Entity
	collect := func(set map[*Entity]struct{}) {
		for e := range set {
			if keep(e) {
				out = append(out, e)
			}
		}
	}

	if len(typeNames) == 0 {
		for _, set := range em.byType {
			collect(set)
		}
	} else {
		for _, name := range typeNames {
			collect(em.byType[name])
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].aspect.seq < out[j].aspect.seq })
	return out
}
