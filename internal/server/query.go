package server

import (
	"context"
	"fmt"

	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/metadata"
	"github.com/ammar0144/entity4go/pkg/repository"
)

// ExecuteQuery runs req against its resource's entity set
func (s *Service) ExecuteQuery(ctx context.Context, req dataservice.QueryRequest) (*dataservice.QueryResult, error) {
	et, err := s.store.EntityTypeForResource(req.Resource)
	if err != nil {
		return nil, queryError(err)
	}
	set, err := s.registry.ByResource(req.Resource)
	if err != nil {
		return nil, queryError(err)
	}

	q, err := repositoryQuery(et, req)
	if err != nil {
		return nil, err
	}

	rows, err := set.QueryRows(ctx, q)
	if err != nil {
		return nil, queryError(err)
	}

	result := &dataservice.QueryResult{Results: rows}
	if result.Results == nil {
		result.Results = []map[string]interface{}{}
	}
	if req.InlineCount {
		count, err := set.Count(ctx, q)
		if err != nil {
			return nil, queryError(err)
		}
		result.InlineCount = &count
	}

	s.metrics.queryRows.WithLabelValues(req.Resource).Add(float64(len(rows)))
	return result, nil
}

// repositoryQuery checks req against the entity type and translates its predicates
func repositoryQuery(et *metadata.EntityType, req dataservice.QueryRequest) (repository.Query, error) {
	if req.Top < 0 || req.Skip < 0 {
		return repository.Query{}, fmt.Errorf("%w: top and skip must not be negative", dataservice.ErrInvalidQuery)
	}

	q := repository.Query{
		Or:     req.Or,
		Expand: req.Expand,
		Top:    req.Top,
		Skip:   req.Skip,
	}

	for _, p := range req.Where {
		if et.DataProperty(p.Property) == nil {
			return repository.Query{}, fmt.Errorf("%w: %s has no data property %q", dataservice.ErrInvalidQuery, et.Name, p.Property)
		}
		filter, err := filterFor(p)
		if err != nil {
			return repository.Query{}, err
		}
		q.Filters = append(q.Filters, filter)
	}

	for _, o := range req.OrderBy {
		if et.DataProperty(o.Property) == nil {
			return repository.Query{}, fmt.Errorf("%w: cannot order %s by %q", dataservice.ErrInvalidQuery, et.Name, o.Property)
		}
		q.OrderBy = append(q.OrderBy, repository.OrderTerm{Property: o.Property, Desc: o.Desc})
	}

	return q, nil
}

var comparisonOps = map[dataservice.Operator]db.Operator{
	dataservice.OpEqual:              db.Equal,
	dataservice.OpNotEqual:           db.NotEqual,
	dataservice.OpLessThan:           db.LessThan,
	dataservice.OpLessThanOrEqual:    db.LessThanOrEqual,
	dataservice.OpGreaterThan:        db.GreaterThan,
	dataservice.OpGreaterThanOrEqual: db.GreaterThanOrEqual,
	dataservice.OpIn:                 db.In,
}

// filterFor maps a wire predicate onto a SQL filter.
// eq/ne against null become IS NULL / IS NOT NULL; string operators become LIKE patterns.
func filterFor(p dataservice.Predicate) (repository.Filter, error) {
	if !p.Operator.Valid() {
		return repository.Filter{}, fmt.Errorf("%w: unknown operator %q", dataservice.ErrInvalidQuery, p.Operator)
	}

	if p.Value == nil {
		switch p.Operator {
		case dataservice.OpEqual:
			return repository.Filter{Property: p.Property, Operator: db.IsNull}, nil
		case dataservice.OpNotEqual:
			return repository.Filter{Property: p.Property, Operator: db.IsNotNull}, nil
		default:
			return repository.Filter{}, fmt.Errorf("%w: %s needs a value", dataservice.ErrInvalidQuery, p.Operator)
		}
	}

	switch p.Operator {
	case dataservice.OpContains, dataservice.OpStartsWith, dataservice.OpEndsWith:
		s, ok := p.Value.(string)
		if !ok {
			return repository.Filter{}, fmt.Errorf("%w: %s expects a string, got %T", dataservice.ErrInvalidQuery, p.Operator, p.Value)
		}
		pattern := db.EscapeLike(s)
		switch p.Operator {
		case dataservice.OpContains:
			pattern = "%" + pattern + "%"
		case dataservice.OpStartsWith:
			pattern = pattern + "%"
		case dataservice.OpEndsWith:
			pattern = "%" + pattern
		}
		return repository.Filter{Property: p.Property, Operator: db.Like, Value: pattern}, nil
	}

	return repository.Filter{Property: p.Property, Operator: comparisonOps[p.Operator], Value: p.Value}, nil
}
