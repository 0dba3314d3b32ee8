package server

import (
	"testing"

	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/metadata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterFor(t *testing.T) {
	tests := []struct {
		name    string
		in      dataservice.Predicate
		op      db.Operator
		value   interface{}
		wantErr bool
	}{
		{"equal", dataservice.Predicate{Property: "City", Operator: dataservice.OpEqual, Value: "Berlin"}, db.Equal, "Berlin", false},
		{"equal null", dataservice.Predicate{Property: "City", Operator: dataservice.OpEqual}, db.IsNull, nil, false},
		{"not equal null", dataservice.Predicate{Property: "City", Operator: dataservice.OpNotEqual}, db.IsNotNull, nil, false},
		{"contains", dataservice.Predicate{Property: "City", Operator: dataservice.OpContains, Value: "erl"}, db.Like, "%erl%", false},
		{"starts with", dataservice.Predicate{Property: "City", Operator: dataservice.OpStartsWith, Value: "Ber"}, db.Like, "Ber%", false},
		{"ends with", dataservice.Predicate{Property: "City", Operator: dataservice.OpEndsWith, Value: "lin"}, db.Like, "%lin", false},
		{"contains wildcards", dataservice.Predicate{Property: "City", Operator: dataservice.OpContains, Value: "10_%"}, db.Like, "%10!_!%%", false},
		{"in", dataservice.Predicate{Property: "City", Operator: dataservice.OpIn, Value: []interface{}{"a", "b"}}, db.In, []interface{}{"a", "b"}, false},
		{"greater null", dataservice.Predicate{Property: "City", Operator: dataservice.OpGreaterThan}, "", nil, true},
		{"unknown operator", dataservice.Predicate{Property: "City", Operator: "like", Value: "x"}, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterFor(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, dataservice.ErrInvalidQuery)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.op, got.Operator)
			assert.Equal(t, tt.value, got.Value)
		})
	}
}

func TestRepositoryQuery_Validation(t *testing.T) {
	et := &metadata.EntityType{
		Name:           "Customer",
		KeyProperties:  []string{"CustomerID"},
		DataProperties: []*metadata.DataProperty{{Name: "CustomerID", DataType: metadata.Guid}, {Name: "City", DataType: metadata.String}},
	}

	q, err := repositoryQuery(et, dataservice.QueryRequest{
		OrderBy: []dataservice.OrderBy{{Property: "City", Desc: true}},
		Top:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, q.Top)
	require.Len(t, q.OrderBy, 1)
	assert.True(t, q.OrderBy[0].Desc)

	_, err = repositoryQuery(et, dataservice.QueryRequest{OrderBy: []dataservice.OrderBy{{Property: "Country"}}})
	assert.ErrorIs(t, err, dataservice.ErrInvalidQuery)

	_, err = repositoryQuery(et, dataservice.QueryRequest{Skip: -1})
	assert.ErrorIs(t, err, dataservice.ErrInvalidQuery)
}

func TestChangedPropertiesAndKeys(t *testing.T) {
	et := &metadata.EntityType{
		Name:          "OrderDetail",
		KeyProperties: []string{"OrderID", "ProductID"},
		DataProperties: []*metadata.DataProperty{
			{Name: "OrderID", DataType: metadata.Int32, IsPartOfKey: true},
			{Name: "ProductID", DataType: metadata.Int32, IsPartOfKey: true},
			{Name: "Quantity", DataType: metadata.Int16},
			{Name: "UnitPrice", DataType: metadata.Decimal},
		},
		NavigationProperties: []*metadata.NavigationProperty{
			{Name: "Order", EntityTypeName: "Order", IsScalar: true, ForeignKeyNames: []string{"OrderID"}},
		},
	}

	change := dataservice.EntityChange{
		Values:         map[string]interface{}{"OrderID": -3, "ProductID": 2, "Quantity": 5, "UnitPrice": 1.5},
		OriginalValues: map[string]interface{}{"UnitPrice": 1.0, "Quantity": 4},
	}
	assert.Equal(t, []string{"Quantity", "UnitPrice"}, changedProperties(et, change))
	assert.NoError(t, checkKeyUnchanged(et, change))
	assert.Equal(t, map[string]interface{}{"OrderID": -3, "ProductID": 2}, originalKey(et, change))

	resolved := resolveTempKeys(et, change.Values, map[string]interface{}{tempKey("Order", -3): int32(11000)})
	assert.Equal(t, int32(11000), resolved["OrderID"])
	assert.Equal(t, -3, change.Values["OrderID"], "input values are not modified")

	moved := dataservice.EntityChange{
		Values:         map[string]interface{}{"OrderID": 0, "ProductID": 2},
		OriginalValues: map[string]interface{}{"OrderID": 10248},
	}
	assert.ErrorIs(t, checkKeyUnchanged(et, moved), dataservice.ErrInvalidSaveBundle)
	assert.Equal(t, 10248, originalKey(et, moved)["OrderID"])
}
