// Package dataservice defines the wire contract between entity managers and the data
// service (queries, save bundles, save results, errors) and an HTTP client for it.
package dataservice

// Operator is a query predicate operator
type Operator string

const (
	OpEqual              Operator = "eq"
	OpNotEqual           Operator = "ne"
	OpLessThan           Operator = "lt"
	OpLessThanOrEqual    Operator = "le"
	OpGreaterThan        Operator = "gt"
	OpGreaterThanOrEqual Operator = "ge"
	OpContains           Operator = "contains"
	OpStartsWith         Operator = "startswith"
	OpEndsWith           Operator = "endswith"
	OpIn                 Operator = "in"
)

// Valid reports whether op is a known operator
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual,
		OpContains, OpStartsWith, OpEndsWith, OpIn:
		return true
	}
	return false
}

// Predicate filters on one data property
type Predicate struct {
	Property string      `json:"property"`
	Operator Operator    `json:"op"`
	Value    interface{} `json:"value"`
}

type OrderBy struct {
	Property string `json:"property"`
	Desc     bool   `json:"desc,omitempty"`
}

// QueryRequest is sent as the JSON "query" parameter of GET /{service}/{resource}
type QueryRequest struct {
	Resource    string      `json:"-"`
	Where       []Predicate `json:"where,omitempty"`
	Or          bool        `json:"or,omitempty"`
	Expand      []string    `json:"expand,omitempty"`
	OrderBy     []OrderBy   `json:"orderBy,omitempty"`
	Top         int         `json:"top,omitempty"`
	Skip        int         `json:"skip,omitempty"`
	InlineCount bool        `json:"inlineCount,omitempty"`
}

// QueryResult holds rows keyed by property name. Expanded navigations are nested rows.
type QueryResult struct {
	Results     []map[string]interface{} `json:"results"`
	InlineCount *int64                   `json:"inlineCount,omitempty"`
}

// Entity state names used in save bundles
const (
	StateAdded    = "Added"
	StateModified = "Modified"
	StateDeleted  = "Deleted"
)

// AutoGeneratedKey marks an entity whose key is temporary until the server assigns one
type AutoGeneratedKey struct {
	PropertyName string `json:"propertyName"`
	Type         string `json:"autoGeneratedKeyType"`
}

// EntityChange is one pending change in a save bundle
type EntityChange struct {
	EntityTypeName   string                 `json:"entityTypeName"`
	EntityState      string                 `json:"entityState"`
	Values           map[string]interface{} `json:"values"`
	OriginalValues   map[string]interface{} `json:"originalValues,omitempty"`
	AutoGeneratedKey *AutoGeneratedKey      `json:"autoGeneratedKey,omitempty"`
}

// SaveBundle carries every change of one SaveChanges call; the server applies it atomically
type SaveBundle struct {
	Entities []EntityChange `json:"entities"`
	Tag      string         `json:"tag,omitempty"`
}

// SavedEntity is the stored state of a saved entity, in bundle order
type SavedEntity struct {
	EntityTypeName string                 `json:"entityTypeName"`
	Values         map[string]interface{} `json:"values"`
}

// KeyMapping maps a temporary key to the permanent key the server assigned
type KeyMapping struct {
	EntityTypeName string      `json:"entityTypeName"`
	TempValue      interface{} `json:"tempValue"`
	RealValue      interface{} `json:"realValue"`
}

type SaveResult struct {
	Entities    []SavedEntity `json:"entities"`
	KeyMappings []KeyMapping  `json:"keyMappings"`
}

// EntityError describes why one entity in a bundle could not be saved
type EntityError struct {
	EntityTypeName string        `json:"entityTypeName"`
	KeyValues      []interface{} `json:"keyValues,omitempty"`
	PropertyName   string        `json:"propertyName,omitempty"`
	ErrorMessage   string        `json:"errorMessage"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error        string        `json:"error"`
	Code         string        `json:"code"`
	EntityErrors []EntityError `json:"entityErrors,omitempty"`
}
