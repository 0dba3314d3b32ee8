package repository

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/northwind"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *db.Manager {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	m, err := db.NewManager(db.DefaultSQLiteConfig("file:" + name + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, northwind.Migrate(m.DB()))
	require.NoError(t, northwind.Seed(context.Background(), m.DB()))
	return m
}

func TestNewGenericRepository_Schema(t *testing.T) {
	m := newTestManager(t)

	orders, err := NewGenericRepository[northwind.Order](m, nil)
	require.NoError(t, err)
	assert.Equal(t, "Order", orders.EntityTypeName())
	assert.Equal(t, "Orders", orders.TableName())
	require.NotNil(t, orders.IdentityField())
	assert.Equal(t, "OrderID", orders.IdentityField().Name)

	details, err := NewGenericRepository[northwind.OrderDetail](m, nil)
	require.NoError(t, err)
	assert.Nil(t, details.IdentityField())
	assert.Len(t, details.Schema().PrimaryFields, 2)

	customers, err := NewGenericRepository[northwind.Customer](m, nil)
	require.NoError(t, err)
	assert.Nil(t, customers.IdentityField())
}

func TestQueryRows_FilterAndExpand(t *testing.T) {
	m := newTestManager(t)
	orders, err := NewGenericRepository[northwind.Order](m, nil)
	require.NoError(t, err)

	rows, err := orders.QueryRows(context.Background(), Query{
		Filters: []Filter{{Property: "OrderID", Operator: db.Equal, Value: json.Number("10248")}},
		Expand:  []string{"Customer", "OrderDetails.Product"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, int32(10248), row["OrderID"])
	assert.Equal(t, "Alfreds Futterkiste", row["ShipName"])

	customer, ok := row["Customer"].(Row)
	require.True(t, ok)
	assert.Equal(t, northwind.WellKnown.AlfredsID, customer["CustomerID"])
	assert.NotContains(t, customer, "Orders")

	details, ok := row["OrderDetails"].([]Row)
	require.True(t, ok)
	require.Len(t, details, 2)
	product, ok := details[0]["Product"].(Row)
	require.True(t, ok)
	assert.NotEmpty(t, product["ProductName"])

	assert.NotContains(t, row, "Employee")
}

func TestQueryRows_TopSkipOrder(t *testing.T) {
	m := newTestManager(t)
	products, err := NewGenericRepository[northwind.Product](m, nil)
	require.NoError(t, err)
	ctx := context.Background()

	rows, err := products.QueryRows(ctx, Query{Top: 2, Skip: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int32(2), rows[0]["ProductID"])

	rows, err = products.QueryRows(ctx, Query{OrderBy: []OrderTerm{{Property: "UnitPrice", Desc: true}}, Top: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Camembert Pierrot", rows[0]["ProductName"])

	rows, err = products.QueryRows(ctx, Query{
		Or: true,
		Filters: []Filter{
			{Property: "ProductName", Operator: db.Like, Value: "Ch%"},
			{Property: "ProductID", Operator: db.In, Value: []interface{}{json.Number("7")}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 4) // Chai, Chang, Chef Anton's, Camembert

	count, err := products.Count(ctx, Query{Filters: []Filter{{Property: "CategoryID", Operator: db.Equal, Value: 1}}, Top: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestQueryRows_Validation(t *testing.T) {
	m := newTestManager(t)
	orders, err := NewGenericRepository[northwind.Order](m, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = orders.QueryRows(ctx, Query{Filters: []Filter{{Property: "Nope", Operator: db.Equal, Value: 1}}})
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = orders.QueryRows(ctx, Query{Expand: []string{"Customer.Nope"}})
	assert.ErrorIs(t, err, ErrInvalidExpand)

	_, err = orders.QueryRows(ctx, Query{Filters: []Filter{{Property: "OrderID", Operator: db.Equal, Value: "abc"}}})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestInsertUpdateDelete(t *testing.T) {
	m := newTestManager(t)
	orders, err := NewGenericRepository[northwind.Order](m, nil)
	require.NoError(t, err)
	ctx := context.Background()

	inserted, err := orders.Insert(ctx, nil, Row{
		"OrderID":    json.Number("-1"),
		"ShipName":   "Repository test",
		"CustomerID": northwind.WellKnown.AlfredsID,
		"Freight":    json.Number("12.5"),
	})
	require.NoError(t, err)
	id, ok := inserted["OrderID"].(int32)
	require.True(t, ok)
	assert.Greater(t, id, int32(10250))

	updated, err := orders.Update(ctx, nil, Row{"OrderID": id, "ShipName": "Renamed", "Freight": 1.0}, []string{"ShipName"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated["ShipName"])
	assert.Equal(t, 12.5, updated["Freight"])

	_, err = orders.Update(ctx, nil, Row{"OrderID": int32(1), "ShipName": "x"}, nil)
	assert.True(t, IsNotFound(err))

	require.NoError(t, orders.Delete(ctx, nil, Row{"OrderID": id}))
	_, err = orders.FindRow(ctx, Row{"OrderID": id})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, orders.Delete(ctx, nil, Row{"OrderID": id}), ErrNotFound)
}

func TestInsert_CompositeKey(t *testing.T) {
	m := newTestManager(t)
	details, err := NewGenericRepository[northwind.OrderDetail](m, nil)
	require.NoError(t, err)
	ctx := context.Background()

	row, err := details.Insert(ctx, nil, Row{"OrderID": 10248, "ProductID": 3, "UnitPrice": 42.42, "Quantity": 2})
	require.NoError(t, err)
	assert.Equal(t, int32(3), row["ProductID"])

	found, err := details.FindRow(ctx, Row{"OrderID": 10248, "ProductID": 3})
	require.NoError(t, err)
	assert.Equal(t, 42.42, found["UnitPrice"])

	_, err = details.FindRow(ctx, Row{"OrderID": 10248})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestRegistry(t *testing.T) {
	m := newTestManager(t)
	reg := NewRegistry()

	_, err := Register[northwind.Customer](reg, m, nil)
	require.NoError(t, err)
	_, err = Register[northwind.Order](reg, m, nil)
	require.NoError(t, err)

	set, err := reg.ByResource("Orders")
	require.NoError(t, err)
	assert.Equal(t, "Order", set.EntityTypeName())

	set, err = reg.ByTypeName("Customer")
	require.NoError(t, err)
	assert.Equal(t, "Customers", set.TableName())

	_, err = reg.ByResource("Suppliers")
	assert.ErrorIs(t, err, ErrUnknownEntitySet)
	assert.Len(t, reg.Sets(), 2)

	assert.NoError(t, reg.InvalidateCaches(context.Background(), "Customer", "Order"))
	assert.ErrorIs(t, reg.InvalidateCaches(context.Background(), "Supplier"), ErrUnknownEntitySet)
}

func TestCoerceTo(t *testing.T) {
	v, err := coerceTo(timeType, "1996-07-04T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 1996, v.(interface{ Year() int }).Year())

	_, err = coerceTo(timeType, 12)
	assert.ErrorIs(t, err, ErrInvalidValue)

	n, err := toInt64(json.Number("3.0"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = toInt64(2.5)
	assert.ErrorIs(t, err, ErrInvalidValue)
}
