package entity

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/metadata"
)

// Operator is a predicate operator: eq ne lt le gt ge contains startswith endswith in
type Operator = dataservice.Operator

const (
	OpEqual              = dataservice.OpEqual
	OpNotEqual           = dataservice.OpNotEqual
	OpLessThan           = dataservice.OpLessThan
	OpLessThanOrEqual    = dataservice.OpLessThanOrEqual
	OpGreaterThan        = dataservice.OpGreaterThan
	OpGreaterThanOrEqual = dataservice.OpGreaterThanOrEqual
	OpContains           = dataservice.OpContains
	OpStartsWith         = dataservice.OpStartsWith
	OpEndsWith           = dataservice.OpEndsWith
	OpIn                 = dataservice.OpIn
)

type Predicate struct {
	Property string
	Operator Operator
	Value    interface{}
}

// EntityQuery describes a query against a resource. Every builder method returns a new query.
type EntityQuery struct {
	resource      string
	predicates    []Predicate
	or            bool
	expand        []string
	orderBy       []dataservice.OrderBy
	top           int
	skip          int
	inlineCount   bool
	mergeStrategy *MergeStrategy
	em            *EntityManager
}

// QueryResult holds the merged entities of an executed query
type QueryResult struct {
	Results     []*Entity
	InlineCount *int64
	Query       *EntityQuery
}

// From starts a query on a resource, e.g. From("Orders")
func From(resource string) *EntityQuery {
	return &EntityQuery{resource: resource}
}

func (q *EntityQuery) clone() *EntityQuery {
	c := *q
	c.predicates = append([]Predicate(nil), q.predicates...)
	c.expand = append([]string(nil), q.expand...)
	c.orderBy = append([]dataservice.OrderBy(nil), q.orderBy...)
	return &c
}

// Resource returns the queried resource name
func (q *EntityQuery) Resource() string {
	return q.resource
}

// Where adds a predicate. Predicates are combined with AND.
func (q *EntityQuery) Where(property string, op Operator, value interface{}) *EntityQuery {
	c := q.clone()
	c.predicates = append(c.predicates, Predicate{Property: property, Operator: op, Value: value})
	return c
}

// WhereAny adds predicates and combines every predicate of the query with OR
func (q *EntityQuery) WhereAny(predicates ...Predicate) *EntityQuery {
	c := q.clone()
	c.predicates = append(c.predicates, predicates...)
	c.or = true
	return c
}

// Expand loads related entities along navigation paths. A path may list several
// comma-separated navigations ("Customer, Employee, OrderDetails") and may be dotted
// ("OrderDetails.Product").
func (q *EntityQuery) Expand(paths ...string) *EntityQuery {
	c := q.clone()
	for _, p := range paths {
		for _, part := range strings.Split(p, ",") {
			if part = strings.TrimSpace(part); part != "" {
				c.expand = append(c.expand, part)
			}
		}
	}
	return c
}

func (q *EntityQuery) OrderBy(property string) *EntityQuery {
	c := q.clone()
	c.orderBy = append(c.orderBy, dataservice.OrderBy{Property: property})
	return c
}

func (q *EntityQuery) OrderByDesc(property string) *EntityQuery {
	c := q.clone()
	c.orderBy = append(c.orderBy, dataservice.OrderBy{Property: property, Desc: true})
	return c
}

func (q *EntityQuery) Top(n int) *EntityQuery {
	c := q.clone()
	c.top = n
	return c
}

func (q *EntityQuery) Skip(n int) *EntityQuery {
	c := q.clone()
	c.skip = n
	return c
}

// InlineCount asks for the total count of matching rows, ignoring Top and Skip
func (q *EntityQuery) InlineCount() *EntityQuery {
	c := q.clone()
	c.inlineCount = true
	return c
}

// WithMergeStrategy overrides the manager's merge strategy for this query
func (q *EntityQuery) WithMergeStrategy(strategy MergeStrategy) *EntityQuery {
	c := q.clone()
	c.mergeStrategy = &strategy
	return c
}

// Using binds the query to a manager
func (q *EntityQuery) Using(em *EntityManager) *EntityQuery {
	c := q.clone()
	c.em = em
	return c
}

// Execute runs the query on the bound manager's data service
func (q *EntityQuery) Execute(ctx context.Context) (*QueryResult, error) {
	if q.em == nil {
		return nil, ErrNoManager
	}
	return q.em.ExecuteQuery(ctx, q)
}

// ExecuteLocally runs the query against the bound manager's cache
func (q *EntityQuery) ExecuteLocally() ([]*Entity, error) {
	if q.em == nil {
		return nil, ErrNoManager
	}
	return q.em.ExecuteQueryLocally(q)
}

// ExecuteQuery runs q on the data service and merges the rows into the cache.
// Metadata is fetched first when the manager has none.
func (em *EntityManager) ExecuteQuery(ctx context.Context, q *EntityQuery) (*QueryResult, error) {
	store, err := em.FetchMetadata(ctx)
	if err != nil {
		return nil, err
	}
	et, err := store.EntityTypeForResource(q.resource)
	if err != nil {
		return nil, fmt.Errorf("%w: resource %s", ErrUnknownEntityType, q.resource)
	}
	req, err := q.request(store, et)
	if err != nil {
		return nil, err
	}
	if em.dataService == nil {
		return nil, ErrNoDataService
	}

	res, err := em.dataService.ExecuteQuery(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.resource, err)
	}

	em.mu.Lock()
	defer em.mu.Unlock()

	strategy := em.mergeStrategy
	if q.mergeStrategy != nil {
		strategy = *q.mergeStrategy
	}

	result := &QueryResult{Results: make([]*Entity, 0, len(res.Results)), InlineCount: res.InlineCount, Query: q}
	for _, row := range res.Results {
		e, err := em.mergeRowLocked(et, row, strategy)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.resource, err)
		}
		result.Results = append(result.Results, e)
	}
	em.logger.Debug("query executed", "resource", q.resource, "rows", len(result.Results))
	return result, nil
}

// mergeRowLocked merges one row and its expanded relatives into the cache
func (em *EntityManager) mergeRowLocked(et *metadata.EntityType, row map[string]interface{}, strategy MergeStrategy) (*Entity, error) {
	keyValues := make([]interface{}, len(et.KeyProperties))
	for i, dp := range et.KeyDataProperties() {
		v, err := normalize(dp, row[dp.Name])
		if err != nil {
			return nil, err
		}
		keyValues[i] = v
	}

	e := em.entities[EntityKey{TypeName: et.Name, Values: keyValues}.String()]
	switch {
	case e == nil:
		e = newEntity(em, et)
		for _, dp := range et.DataProperties {
			raw, ok := row[dp.Name]
			if !ok {
				continue
			}
			v, err := normalize(dp, raw)
			if err != nil {
				return nil, err
			}
			e.values[dp.Name] = v
		}
		if err := em.attachLocked(e, Unchanged); err != nil {
			return nil, err
		}

	case e.aspect.state == Unchanged || strategy == OverwriteChanges:
		wasDeleted := e.aspect.state == Deleted
		e.aspect.state = Unchanged
		e.aspect.original = nil
		for _, dp := range et.DataProperties {
			raw, ok := row[dp.Name]
			if !ok {
				continue
			}
			v, err := normalize(dp, raw)
			if err != nil {
				return nil, err
			}
			if err := em.writeValueLocked(e, dp, v, false); err != nil {
				return nil, err
			}
		}
		if wasDeleted {
			if err := em.linkLocked(e, Unchanged); err != nil {
				return nil, err
			}
		}
	}

	for _, nav := range et.NavigationProperties {
		raw, ok := row[nav.Name]
		if !ok || raw == nil {
			continue
		}
		target, err := em.store.EntityType(nav.EntityTypeName)
		if err != nil {
			return nil, err
		}
		for _, related := range nestedRows(raw) {
			if _, err := em.mergeRowLocked(target, related, strategy); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

func nestedRows(raw interface{}) []map[string]interface{} {
	switch x := raw.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{x}
	case []map[string]interface{}:
		return x
	case []interface{}:
		rows := make([]map[string]interface{}, 0, len(x))
		for _, item := range x {
			if m, ok := item.(map[string]interface{}); ok {
				rows = append(rows, m)
			}
		}
		return rows
	}
	return nil
}

// ExecuteQueryLocally evaluates q against cached entities. Deleted entities are skipped.
func (em *EntityManager) ExecuteQueryLocally(q *EntityQuery) ([]*Entity, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.store == nil {
		return nil, ErrNoMetadata
	}
	et, err := em.store.EntityTypeForResource(q.resource)
	if err != nil {
		return nil, fmt.Errorf("%w: resource %s", ErrUnknownEntityType, q.resource)
	}
	req, err := q.request(em.store, et)
	if err != nil {
		return nil, err
	}

	matches := em.entitiesLocked([]string{et.Name}, func(e *Entity) bool {
		return e.aspect.state != Deleted && matchesAll(e, req.Where, req.Or)
	})

	if len(req.OrderBy) > 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			for _, o := range req.OrderBy {
				c := compareValues(matches[i].values[o.Property], matches[j].values[o.Property])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if req.Skip > 0 {
		if req.Skip >= len(matches) {
			return matches[:0], nil
		}
		matches = matches[req.Skip:]
	}
	if req.Top > 0 && req.Top < len(matches) {
		matches = matches[:req.Top]
	}
	return matches, nil
}

func matchesAll(e *Entity, predicates []dataservice.Predicate, or bool) bool {
	if len(predicates) == 0 {
		return true
	}
	for _, p := range predicates {
		ok := matches(e.values[p.Property], p)
		if or && ok {
			return true
		}
		if !or && !ok {
			return false
		}
	}
	return !or
}

func matches(v interface{}, p dataservice.Predicate) bool {
	switch p.Operator {
	case dataservice.OpEqual:
		return valuesEqual(v, p.Value)
	case dataservice.OpNotEqual:
		return !valuesEqual(v, p.Value)
	case dataservice.OpIn:
		list, _ := p.Value.([]interface{})
		for _, item := range list {
			if valuesEqual(v, item) {
				return true
			}
		}
		return false
	case dataservice.OpContains, dataservice.OpStartsWith, dataservice.OpEndsWith:
		s, ok := v.(string)
		if !ok {
			return false
		}
		s = strings.ToLower(s)
		sub := strings.ToLower(fmt.Sprint(p.Value))
		switch p.Operator {
		case dataservice.OpContains:
			return strings.Contains(s, sub)
		case dataservice.OpStartsWith:
			return strings.HasPrefix(s, sub)
		}
		return strings.HasSuffix(s, sub)
	}

	if v == nil || p.Value == nil {
		return false
	}
	c := compareValues(v, p.Value)
	switch p.Operator {
	case dataservice.OpLessThan:
		return c < 0
	case dataservice.OpLessThanOrEqual:
		return c <= 0
	case dataservice.OpGreaterThan:
		return c > 0
	case dataservice.OpGreaterThanOrEqual:
		return c >= 0
	}
	return false
}

// request validates the query against metadata and converts predicate values
func (q *EntityQuery) request(store *metadata.Store, et *metadata.EntityType) (dataservice.QueryRequest, error) {
	req := dataservice.QueryRequest{
		Resource:    q.resource,
		Or:          q.or,
		Top:         q.top,
		Skip:        q.skip,
		InlineCount: q.inlineCount,
	}
	if q.top < 0 || q.skip < 0 {
		return req, fmt.Errorf("%w: top and skip must not be negative", ErrInvalidValue)
	}

	for _, p := range q.predicates {
		dp := et.DataProperty(p.Property)
		if dp == nil {
			return req, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, et.Name, p.Property)
		}
		if !p.Operator.Valid() {
			return req, fmt.Errorf("%w: operator %q", ErrInvalidValue, p.Operator)
		}
		v, err := predicateValue(dp, p)
		if err != nil {
			return req, err
		}
		req.Where = append(req.Where, dataservice.Predicate{Property: p.Property, Operator: p.Operator, Value: v})
	}

	for _, path := range q.expand {
		if err := validateExpand(store, et, path); err != nil {
			return req, err
		}
		req.Expand = append(req.Expand, path)
	}

	for _, o := range q.orderBy {
		if et.DataProperty(o.Property) == nil {
			return req, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, et.Name, o.Property)
		}
		req.OrderBy = append(req.OrderBy, o)
	}
	return req, nil
}

func predicateValue(dp *metadata.DataProperty, p Predicate) (interface{}, error) {
	switch p.Operator {
	case dataservice.OpContains, dataservice.OpStartsWith, dataservice.OpEndsWith:
		s, ok := p.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a string, got %T", ErrInvalidValue, p.Operator, p.Value)
		}
		return s, nil
	case dataservice.OpIn:
		rv := reflect.ValueOf(p.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("%w: in needs a list, got %T", ErrInvalidValue, p.Value)
		}
		list := make([]interface{}, rv.Len())
		for i := range list {
			v, err := normalize(dp, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	}
	return normalize(dp, p.Value)
}

func validateExpand(store *metadata.Store, et *metadata.EntityType, path string) error {
	current := et
	for _, name := range strings.Split(path, ".") {
		nav := current.NavigationProperty(name)
		if nav == nil {
			return fmt.Errorf("%w: cannot expand %s.%s", ErrUnknownProperty, current.Name, name)
		}
		next, err := store.EntityType(nav.EntityTypeName)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}
