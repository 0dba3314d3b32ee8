package repository

import (
	"context"

	"github.com/ammar0144/entity4go/pkg/db"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Filter is one validated predicate on a data property
type Filter struct {
	Property string
	Operator db.Operator
	Value    interface{}
}

// OrderTerm orders results by a data property
type OrderTerm struct {
	Property string
	Desc     bool
}

// Query describes a filtered, ordered, paged read with optional expansion
type Query struct {
	Filters []Filter    `json:"filters,omitempty"`
	Or      bool        `json:"or,omitempty"` // combine filters with OR instead of AND
	Expand  []string    `json:"expand,omitempty"`
	OrderBy []OrderTerm `json:"orderBy,omitempty"`
	Top     int         `json:"top,omitempty"`
	Skip    int         `json:"skip,omitempty"`
}

// EntitySet is the type-erased view of a repository used by the data service.
// Write methods take the transaction they must run in.
type EntitySet interface {
	EntityTypeName() string
	TableName() string
	Schema() *schema.Schema

	// Reads (cache-first when a cache is configured)
	QueryRows(ctx context.Context, q Query) ([]Row, error)
	Count(ctx context.Context, q Query) (int64, error)
	FindRow(ctx context.Context, key Row) (Row, error)

	// Writes
	Insert(ctx context.Context, tx *gorm.DB, values Row) (Row, error)
	Update(ctx context.Context, tx *gorm.DB, values Row, changed []string) (Row, error)
	Delete(ctx context.Context, tx *gorm.DB, key Row) error

	// Cache management
	InvalidateCache(ctx context.Context) error
}
