package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/redis"

	"github.com/cespare/xxhash/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const cacheKeyHashLength = 12 // Balance between uniqueness and key length

// GenericRepository serves one gorm model as an entity set: filtered reads with
// expansion, cache-first when redis is enabled, and transactional writes.
type GenericRepository[T Entity] struct {
	db        *gorm.DB
	dbManager *db.Manager
	redis     *redis.Manager
	logger    *slog.Logger

	schema    *schema.Schema
	tableName string
	dbName    string // Database name for cache key isolation
	identity  *schema.Field
}

// Option configures a repository
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the repository logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewGenericRepository creates a repository for T. redisManager may be nil.
func NewGenericRepository[T Entity](dbManager *db.Manager, redisManager *redis.Manager, opts ...Option) (*GenericRepository[T], error) {
	if dbManager == nil || dbManager.DB() == nil {
		return nil, fmt.Errorf("database manager is required")
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	var model T
	tableName := model.TableName()
	if tableName == "" {
		return nil, fmt.Errorf("entity type %T returned empty TableName()", model)
	}

	stmt := &gorm.Statement{DB: dbManager.DB()}
	if err := stmt.Parse(new(T)); err != nil {
		return nil, fmt.Errorf("parse schema for %T: %w", model, err)
	}

	repo := &GenericRepository[T]{
		db:        dbManager.DB(),
		dbManager: dbManager,
		redis:     redisManager,
		logger:    o.logger,
		schema:    stmt.Schema,
		tableName: tableName,
		dbName:    currentDatabase(dbManager.DB()),
	}

	if pk := stmt.Schema.PrioritizedPrimaryField; pk != nil && pk.AutoIncrement && len(stmt.Schema.PrimaryFields) == 1 {
		repo.identity = pk
	}

	return repo, nil
}

// EntityTypeName returns the model's struct name
func (r *GenericRepository[T]) EntityTypeName() string {
	return r.schema.Name
}

// TableName returns the model's table (and resource) name
func (r *GenericRepository[T]) TableName() string {
	return r.tableName
}

// Schema returns the parsed gorm schema
func (r *GenericRepository[T]) Schema() *schema.Schema {
	return r.schema
}

// IdentityField returns the database-generated key field, if any
func (r *GenericRepository[T]) IdentityField() *schema.Field {
	return r.identity
}

func (r *GenericRepository[T]) cacheEnabled() bool {
	return r.redis != nil && r.redis.Enabled()
}

func (r *GenericRepository[T]) txOrDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// ============================================================================
// READ OPERATIONS - Cache-First Implementation
// ============================================================================

// Find returns typed models matching q, with expanded navigations preloaded
func (r *GenericRepository[T]) Find(ctx context.Context, q Query) ([]T, error) {
	ctx, cancel := r.dbManager.WithQueryTimeout(ctx)
	defer cancel()

	items, _, err := r.find(ctx, q)
	return items, err
}

func (r *GenericRepository[T]) find(ctx context.Context, q Query) ([]T, expandTree, error) {
	tree, _, err := parseExpand(r.schema, q.Expand)
	if err != nil {
		return nil, nil, err
	}

	tx, err := r.applyFilters(r.db.WithContext(ctx), q)
	if err != nil {
		return nil, nil, err
	}
	if tx, err = r.applyPaging(tx, q); err != nil {
		return nil, nil, err
	}
	for _, path := range q.Expand {
		tx = tx.Preload(path)
	}

	var items []T
	if err := tx.Find(&items).Error; err != nil {
		return nil, nil, fmt.Errorf("database error: %w", err)
	}
	return items, tree, nil
}

// QueryRows returns rows matching q, served from the cache when possible
func (r *GenericRepository[T]) QueryRows(ctx context.Context, q Query) ([]Row, error) {
	ctx, cancel := r.dbManager.WithQueryTimeout(ctx)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before operation: %w", err)
	}

	_, tables, err := parseExpand(r.schema, q.Expand)
	if err != nil {
		return nil, err
	}

	cacheKey := r.generateCacheKey("query", q)
	if r.cacheEnabled() {
		var cached []Row
		if err := r.redis.GetValue(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		} else if !redis.IsCacheMiss(err) {
			r.logger.Warn("cache read failed", "table", r.tableName, "error", err)
		}
	}

	items, tree, err := r.find(ctx, q)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(items))
	for i := range items {
		rows = append(rows, rowOf(ctx, r.schema, reflect.ValueOf(&items[i]), tree))
	}

	if r.cacheEnabled() {
		deps := append([]string{r.tableName}, tables...)
		if err := r.redis.SetValueWithDependencies(ctx, cacheKey, rows, deps...); err != nil {
			r.logger.Warn("cache write failed", "table", r.tableName, "error", err)
		}
	}

	return rows, nil
}

// Count returns the number of rows matching q's filters, ignoring paging
func (r *GenericRepository[T]) Count(ctx context.Context, q Query) (int64, error) {
	ctx, cancel := r.dbManager.WithQueryTimeout(ctx)
	defer cancel()

	tx, err := r.applyFilters(r.db.WithContext(ctx).Model(new(T)), q)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return count, nil
}

// FindRow loads one row by its key values
func (r *GenericRepository[T]) FindRow(ctx context.Context, key Row) (Row, error) {
	ctx, cancel := r.dbManager.WithQueryTimeout(ctx)
	defer cancel()
	return r.findRow(ctx, r.db, key)
}

func (r *GenericRepository[T]) findRow(ctx context.Context, tx *gorm.DB, key Row) (Row, error) {
	conds, err := r.keyConditions(key)
	if err != nil {
		return nil, err
	}

	item := new(T)
	if err := tx.WithContext(ctx).Where(conds).Take(item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %v", ErrNotFound, r.schema.Name, conds)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return rowOf(ctx, r.schema, reflect.ValueOf(item), nil), nil
}

// ============================================================================
// WRITE OPERATIONS - run inside the caller's transaction
// ============================================================================

// Insert creates a row from values. A database-generated key in values is ignored;
// the returned row carries the assigned key.
func (r *GenericRepository[T]) Insert(ctx context.Context, tx *gorm.DB, values Row) (Row, error) {
	item := new(T)
	rv := reflect.ValueOf(item)
	if err := r.assignRow(ctx, rv, values, r.identity); err != nil {
		return nil, err
	}

	if err := r.txOrDB(tx).WithContext(ctx).Omit(clause.Associations).Create(item).Error; err != nil {
		return nil, fmt.Errorf("insert %s: %w", r.schema.Name, err)
	}

	r.logger.Debug("entity inserted", "type", r.schema.Name, "key", (*item).GetPrimaryKeyValue())
	return rowOf(ctx, r.schema, rv, nil), nil
}

// Update writes the changed properties (all non-key properties when changed is empty)
// and returns the row as stored
func (r *GenericRepository[T]) Update(ctx context.Context, tx *gorm.DB, values Row, changed []string) (Row, error) {
	tx = r.txOrDB(tx)

	item := new(T)
	rv := reflect.ValueOf(item)
	if err := r.assignRow(ctx, rv, values, nil); err != nil {
		return nil, err
	}
	conds, err := r.keyConditions(values)
	if err != nil {
		return nil, err
	}

	columns, err := r.updateColumns(changed)
	if err != nil {
		return nil, err
	}

	if len(columns) > 0 {
		res := tx.WithContext(ctx).Model(item).Select(columns).Updates(item)
		if res.Error != nil {
			return nil, fmt.Errorf("update %s: %w", r.schema.Name, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("%w: %s %v", ErrNotFound, r.schema.Name, conds)
		}
	}

	r.logger.Debug("entity updated", "type", r.schema.Name, "key", (*item).GetPrimaryKeyValue(), "columns", columns)
	return r.findRow(ctx, tx, values)
}

// Delete removes the row identified by the key values in key
func (r *GenericRepository[T]) Delete(ctx context.Context, tx *gorm.DB, key Row) error {
	conds, err := r.keyConditions(key)
	if err != nil {
		return err
	}

	res := r.txOrDB(tx).WithContext(ctx).Where(conds).Delete(new(T))
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", r.schema.Name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %v", ErrNotFound, r.schema.Name, conds)
	}

	r.logger.Debug("entity deleted", "type", r.schema.Name, "key", conds)
	return nil
}

// InvalidateCache drops every cached query that read this table
func (r *GenericRepository[T]) InvalidateCache(ctx context.Context) error {
	if !r.cacheEnabled() {
		return nil
	}
	return r.redis.InvalidateDependencies(ctx, r.tableName)
}

// ============================================================================
// HELPER METHODS
// ============================================================================

func (r *GenericRepository[T]) assignRow(ctx context.Context, rv reflect.Value, values Row, skip *schema.Field) error {
	for name, v := range values {
		if rel := r.schema.Relationships.Relations[name]; rel != nil {
			continue
		}
		f, err := dataField(r.schema, name)
		if err != nil {
			return err
		}
		if f == skip {
			continue
		}
		if err := assignField(ctx, f, rv, v); err != nil {
			return fmt.Errorf("%s: %w", r.schema.Name, err)
		}
	}
	return nil
}

// keyConditions builds column conditions from the key properties in values
func (r *GenericRepository[T]) keyConditions(values Row) (map[string]interface{}, error) {
	conds := make(map[string]interface{}, len(r.schema.PrimaryFields))
	for _, f := range r.schema.PrimaryFields {
		raw, ok := values[f.Name]
		if !ok || raw == nil {
			return nil, fmt.Errorf("%w: %s key %s is missing", ErrInvalidValue, r.schema.Name, f.Name)
		}
		v, err := coerceTo(f.IndirectFieldType, raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.schema.Name, f.Name, err)
		}
		conds[f.DBName] = v
	}
	return conds, nil
}

func (r *GenericRepository[T]) updateColumns(changed []string) ([]string, error) {
	var columns []string
	if len(changed) == 0 {
		for _, f := range dataFields(r.schema) {
			if !f.PrimaryKey {
				columns = append(columns, f.DBName)
			}
		}
		return columns, nil
	}

	for _, name := range changed {
		f, err := dataField(r.schema, name)
		if err != nil {
			return nil, err
		}
		if !f.PrimaryKey {
			columns = append(columns, f.DBName)
		}
	}
	return columns, nil
}

func (r *GenericRepository[T]) applyFilters(tx *gorm.DB, q Query) (*gorm.DB, error) {
	if len(q.Filters) == 0 {
		return tx, nil
	}

	conds := make([]db.Condition, 0, len(q.Filters))
	for _, filter := range q.Filters {
		f, err := dataField(r.schema, filter.Property)
		if err != nil {
			return nil, err
		}
		value, err := filterValue(f, filter)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.schema.Name, filter.Property, err)
		}
		conds = append(conds, db.Condition{Field: f.DBName, Operator: filter.Operator, Value: value})
	}

	b := db.NewBuilder()
	if q.Or {
		b.WhereGroup(db.Or, func(g *db.ConditionGroup) {
			for _, c := range conds {
				g.Where(c.Field, c.Operator, c.Value)
			}
		})
	} else {
		for _, c := range conds {
			b.Where(c.Field, c.Operator, c.Value)
		}
	}

	if sql, args := b.BuildWhere(); sql != "" {
		tx = tx.Where(sql, args...)
	}
	return tx, nil
}

// applyPaging orders by the requested properties, or by primary key so paging is stable
func (r *GenericRepository[T]) applyPaging(tx *gorm.DB, q Query) (*gorm.DB, error) {
	b := db.NewBuilder()
	for _, term := range q.OrderBy {
		f, err := dataField(r.schema, term.Property)
		if err != nil {
			return nil, err
		}
		b.OrderBy(f.DBName, term.Desc)
	}
	if len(q.OrderBy) == 0 {
		for _, f := range r.schema.PrimaryFields {
			b.OrderBy(f.DBName, false)
		}
	}

	for _, order := range b.OrderClauses() {
		tx = tx.Order(order)
	}
	if q.Top > 0 {
		tx = tx.Limit(q.Top)
	}
	if q.Skip > 0 {
		tx = tx.Offset(q.Skip)
	}
	return tx, nil
}

func filterValue(f *schema.Field, filter Filter) (interface{}, error) {
	switch filter.Operator {
	case db.IsNull, db.IsNotNull:
		return nil, nil
	case db.Like, db.NotLike:
		s, ok := filter.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: pattern must be a string", ErrInvalidValue)
		}
		return s, nil
	case db.In, db.NotIn:
		rv := reflect.ValueOf(filter.Value)
		if filter.Value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return nil, fmt.Errorf("%w: %s expects a list", ErrInvalidValue, filter.Operator)
		}
		values := make([]interface{}, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			v, err := coerceTo(f.IndirectFieldType, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, nil
	default:
		return coerceTo(f.IndirectFieldType, filter.Value)
	}
}

// generateCacheKey hashes the query into a short, stable key scoped to database and table
func (r *GenericRepository[T]) generateCacheKey(operation string, q Query) string {
	data, err := json.Marshal(q)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", q))
	}
	hashStr := fmt.Sprintf("%016x", xxhash.Sum64(data))
	if r.redis == nil {
		return r.dbName + ":" + r.tableName + ":" + operation + ":" + hashStr[:cacheKeyHashLength]
	}
	return r.redis.Key(r.dbName, r.tableName, operation, hashStr[:cacheKeyHashLength])
}

// currentDatabase names the connected database for cache key isolation
func currentDatabase(gormDB *gorm.DB) string {
	if gormDB == nil {
		return "default_db"
	}
	if name := gormDB.Migrator().CurrentDatabase(); name != "" {
		return name
	}
	return "default_db"
}
