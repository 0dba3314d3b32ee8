// Package metadata describes entity types, their data properties and the navigation
// properties that relate them. A Store is built from gorm models on the server and
// shipped to clients as JSON.
package metadata

// DataType names the wire type of a data property
type DataType string

const (
	String   DataType = "String"
	Guid     DataType = "Guid"
	Int16    DataType = "Int16"
	Int32    DataType = "Int32"
	Int64    DataType = "Int64"
	Decimal  DataType = "Decimal"
	Double   DataType = "Double"
	Boolean  DataType = "Boolean"
	DateTime DataType = "DateTime"
)

// IsInteger reports whether values of t are whole numbers
func (t DataType) IsInteger() bool {
	return t == Int16 || t == Int32 || t == Int64
}

// IsNumeric reports whether values of t are numbers
func (t DataType) IsNumeric() bool {
	return t.IsInteger() || t == Decimal || t == Double
}

// AutoGeneratedKeyType says who assigns an entity type's key
type AutoGeneratedKeyType string

const (
	None     AutoGeneratedKeyType = "None"
	Identity AutoGeneratedKeyType = "Identity"
)

type DataProperty struct {
	Name        string   `json:"name" yaml:"name"`
	DataType    DataType `json:"dataType" yaml:"dataType"`
	IsNullable  bool     `json:"isNullable" yaml:"isNullable"`
	IsPartOfKey bool     `json:"isPartOfKey,omitempty" yaml:"isPartOfKey,omitempty"`
	MaxLength   int      `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
}

// NavigationProperty relates an entity type to another.
// Scalar navigations to a principal carry ForeignKeyNames (properties on this type);
// navigations to dependents carry InvForeignKeyNames (properties on the target type).
type NavigationProperty struct {
	Name               string   `json:"name" yaml:"name"`
	EntityTypeName     string   `json:"entityTypeName" yaml:"entityTypeName"`
	IsScalar           bool     `json:"isScalar" yaml:"isScalar"`
	AssociationName    string   `json:"associationName" yaml:"associationName"`
	ForeignKeyNames    []string `json:"foreignKeyNames,omitempty" yaml:"foreignKeyNames,omitempty"`
	InvForeignKeyNames []string `json:"invForeignKeyNames,omitempty" yaml:"invForeignKeyNames,omitempty"`
}

// IsToPrincipal reports whether the navigation points at the entity this type depends on
func (n *NavigationProperty) IsToPrincipal() bool {
	return len(n.ForeignKeyNames) > 0
}

type EntityType struct {
	Name                 string                `json:"name" yaml:"name"`
	ResourceName         string                `json:"resourceName" yaml:"resourceName"`
	AutoGeneratedKeyType AutoGeneratedKeyType  `json:"autoGeneratedKeyType" yaml:"autoGeneratedKeyType"`
	KeyProperties        []string              `json:"keyProperties" yaml:"keyProperties"`
	DataProperties       []*DataProperty       `json:"dataProperties" yaml:"dataProperties"`
	NavigationProperties []*NavigationProperty `json:"navigationProperties,omitempty" yaml:"navigationProperties,omitempty"`

	dataByName map[string]*DataProperty
	navByName  map[string]*NavigationProperty
}

func (et *EntityType) index() {
	et.dataByName = make(map[string]*DataProperty, len(et.DataProperties))
	for _, p := range et.DataProperties {
		et.dataByName[p.Name] = p
	}
	et.navByName = make(map[string]*NavigationProperty, len(et.NavigationProperties))
	for _, n := range et.NavigationProperties {
		et.navByName[n.Name] = n
	}
}

// DataProperty returns the named data property or nil
func (et *EntityType) DataProperty(name string) *DataProperty {
	if et.dataByName == nil {
		for _, p := range et.DataProperties {
			if p.Name == name {
				return p
			}
		}
		return nil
	}
	return et.dataByName[name]
}

// NavigationProperty returns the named navigation property or nil
func (et *EntityType) NavigationProperty(name string) *NavigationProperty {
	if et.navByName == nil {
		for _, n := range et.NavigationProperties {
			if n.Name == name {
				return n
			}
		}
		return nil
	}
	return et.navByName[name]
}

// HasProperty reports whether name is a data or navigation property
func (et *EntityType) HasProperty(name string) bool {
	return et.DataProperty(name) != nil || et.NavigationProperty(name) != nil
}

// KeyDataProperties returns the key properties in key order
func (et *EntityType) KeyDataProperties() []*DataProperty {
	props := make([]*DataProperty, 0, len(et.KeyProperties))
	for _, name := range et.KeyProperties {
		if p := et.DataProperty(name); p != nil {
			props = append(props, p)
		}
	}
	return props
}
