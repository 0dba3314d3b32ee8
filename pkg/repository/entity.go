package repository

// Entity defines the minimal contract for repository models.
// Relationships and key columns are read from the gorm schema, so models only name
// their table and expose their key.
type Entity interface {
	// TableName returns the database table name, which is also the query resource name
	TableName() string

	// GetPrimaryKeyValue returns the primary key, or a []interface{} for composite keys.
	// Used for logging and cache bookkeeping.
	GetPrimaryKeyValue() interface{}
}

// Row is one entity's values keyed by property (struct field) name.
// Expanded navigation properties hold a Row, nil, or []Row.
type Row = map[string]interface{}
