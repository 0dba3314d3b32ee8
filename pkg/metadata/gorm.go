package metadata

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// guidTag marks string keys that hold GUIDs: `meta:"guid"`
const guidTag = "guid"

// FromModels builds a store from gorm models. Relationships come from the parsed gorm
// schema, so both ends of an association get the same association name.
func FromModels(db *gorm.DB, serviceName string, models ...interface{}) (*Store, error) {
	store := NewStore(serviceName)

	for _, model := range models {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("parse schema for %T: %w", model, err)
		}

		et, err := entityTypeFromSchema(stmt.Schema)
		if err != nil {
			return nil, err
		}
		if err := store.AddEntityType(et); err != nil {
			return nil, err
		}
	}

	if err := store.Validate(); err != nil {
		return nil, err
	}
	return store, nil
}

func entityTypeFromSchema(sch *schema.Schema) (*EntityType, error) {
	et := &EntityType{
		Name:                 sch.Name,
		ResourceName:         sch.Table,
		AutoGeneratedKeyType: None,
	}

	for _, f := range sch.Fields {
		if f.DBName == "" {
			continue
		}
		dt, err := dataTypeOf(f)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", sch.Name, f.Name, err)
		}
		prop := &DataProperty{
			Name:        f.Name,
			DataType:    dt,
			IsNullable:  f.FieldType.Kind() == reflect.Ptr,
			IsPartOfKey: f.PrimaryKey,
		}
		if dt == String || dt == Guid {
			prop.MaxLength = f.Size
		}
		et.DataProperties = append(et.DataProperties, prop)
	}

	for _, f := range sch.PrimaryFields {
		et.KeyProperties = append(et.KeyProperties, f.Name)
	}
	if pk := sch.PrioritizedPrimaryField; pk != nil && pk.AutoIncrement && len(sch.PrimaryFields) == 1 {
		et.AutoGeneratedKeyType = Identity
	}

	// declaration order keeps output stable
	for _, f := range sch.Fields {
		rel, ok := sch.Relationships.Relations[f.Name]
		if !ok {
			continue
		}
		if nav := navigationFromRelationship(sch, rel); nav != nil {
			et.NavigationProperties = append(et.NavigationProperties, nav)
		}
	}

	return et, nil
}

func navigationFromRelationship(sch *schema.Schema, rel *schema.Relationship) *NavigationProperty {
	var fks []string
	for _, ref := range rel.References {
		if ref.ForeignKey != nil {
			fks = append(fks, ref.ForeignKey.Name)
		}
	}
	if len(fks) == 0 {
		return nil
	}

	nav := &NavigationProperty{
		Name:           rel.Name,
		EntityTypeName: rel.FieldSchema.Name,
	}

	switch rel.Type {
	case schema.BelongsTo:
		nav.IsScalar = true
		nav.ForeignKeyNames = fks
		nav.AssociationName = associationName(sch.Name, rel.FieldSchema.Name, fks)
	case schema.HasOne:
		nav.IsScalar = true
		nav.InvForeignKeyNames = fks
		nav.AssociationName = associationName(rel.FieldSchema.Name, sch.Name, fks)
	case schema.HasMany:
		nav.InvForeignKeyNames = fks
		nav.AssociationName = associationName(rel.FieldSchema.Name, sch.Name, fks)
	default:
		// many-to-many join tables are not exposed
		return nil
	}
	return nav
}

// associationName is shared by both ends: AN_<dependent>_<principal>_<fks>
func associationName(dependent, principal string, fks []string) string {
	return "AN_" + dependent + "_" + principal + "_" + strings.Join(fks, "_")
}

var timeType = reflect.TypeOf(time.Time{})

func dataTypeOf(f *schema.Field) (DataType, error) {
	if f.Tag.Get("meta") == guidTag {
		return Guid, nil
	}
	if f.IndirectFieldType == timeType {
		return DateTime, nil
	}

	switch f.IndirectFieldType.Kind() {
	case reflect.String:
		return String, nil
	case reflect.Bool:
		return Boolean, nil
	case reflect.Int8, reflect.Int16, reflect.Uint8:
		return Int16, nil
	case reflect.Int32, reflect.Uint16:
		return Int32, nil
	case reflect.Int, reflect.Int64, reflect.Uint32, reflect.Uint, reflect.Uint64:
		return Int64, nil
	case reflect.Float32:
		return Double, nil
	case reflect.Float64:
		if strings.HasPrefix(strings.ToLower(string(f.DataType)), "decimal") ||
			strings.HasPrefix(strings.ToLower(string(f.DataType)), "numeric") {
			return Decimal, nil
		}
		return Double, nil
	}
	return "", fmt.Errorf("unsupported field type %s", f.IndirectFieldType)
}
