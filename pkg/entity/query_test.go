package entity

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/dataservice"
)

// wireRows decodes JSON the way the HTTP client does
func wireRows(t *testing.T, raw string) []map[string]interface{} {
	t.Helper()
	var result dataservice.QueryResult
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&result))
	return result.Results
}

const orderGraph = `{"results":[{
	"OrderID":10248,"CustomerID":"785efa04-cbf2-4dd7-a7de-083ee17b6ad2","EmployeeID":1,
	"OrderDate":"1996-07-04T00:00:00Z","ShipName":"Alfreds Futterkiste","Freight":32.38,
	"Customer":{"CustomerID":"785efa04-cbf2-4dd7-a7de-083ee17b6ad2","CompanyName":"Alfreds Futterkiste"},
	"Employee":{"EmployeeID":1,"LastName":"Davolio","FirstName":"Nancy"},
	"OrderDetails":[
		{"OrderID":10248,"ProductID":1,"UnitPrice":14,"Quantity":12,"Discount":0},
		{"OrderID":10248,"ProductID":2,"UnitPrice":9.8,"Quantity":10,"Discount":0}
	]}]}`

func TestExecuteQuery_MergesExpandedGraph(t *testing.T) {
	em, svc := newTestManager(t)
	svc.rows["Orders"] = wireRows(t, orderGraph)

	result, err := From("Orders").Top(1).Expand("Customer, Employee, OrderDetails").Using(em).Execute(context.Background())
	require.NoError(t, err)

	require.Len(t, svc.queries, 1)
	assert.Equal(t, []string{"Customer", "Employee", "OrderDetails"}, svc.queries[0].Expand)
	assert.Equal(t, 1, svc.queries[0].Top)

	require.Len(t, result.Results, 1)
	order := result.Results[0]
	assert.Equal(t, Unchanged, order.EntityAspect().State())
	assert.Equal(t, 32.38, order.Float64("Freight"))
	assert.Equal(t, 1996, order.Time("OrderDate").Year())
	require.NotNil(t, order.Navigation("Customer"))
	assert.Equal(t, "Alfreds Futterkiste", order.Navigation("Customer").String("CompanyName"))
	require.NotNil(t, order.Navigation("Employee"))
	assert.Len(t, order.Collection("OrderDetails"), 2)
	for _, d := range order.Collection("OrderDetails") {
		assert.Same(t, order, d.Navigation("Order"))
	}
	assert.Len(t, em.GetEntities(), 5)
}

func TestExecuteQuery_PreserveAndOverwrite(t *testing.T) {
	em, svc := newTestManager(t)
	svc.rows["Customers"] = wireRows(t, `{"results":[{"CustomerID":"785efa04-cbf2-4dd7-a7de-083ee17b6ad2","CompanyName":"From server"}]}`)
	customer := attachUnchanged(t, em, "Customer", map[string]interface{}{"CustomerID": alfredsID, "CompanyName": "Alfreds"})
	require.NoError(t, customer.Set("CompanyName", "Local edit"))

	result, err := From("Customers").Using(em).Execute(context.Background())
	require.NoError(t, err)
	assert.Same(t, customer, result.Results[0])
	assert.Equal(t, "Local edit", customer.String("CompanyName"))
	assert.Equal(t, Modified, customer.EntityAspect().State())

	_, err = From("Customers").WithMergeStrategy(OverwriteChanges).Using(em).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "From server", customer.String("CompanyName"))
	assert.Equal(t, Unchanged, customer.EntityAspect().State())
}

func TestExecuteQuery_Validation(t *testing.T) {
	em, svc := newTestManager(t)
	ctx := context.Background()

	_, err := From("Suppliers").Using(em).Execute(ctx)
	assert.ErrorIs(t, err, ErrUnknownEntityType)

	_, err = From("Orders").Where("Nope", "eq", 1).Using(em).Execute(ctx)
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = From("Orders").Where("OrderID", "like", 1).Using(em).Execute(ctx)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = From("Orders").Expand("OrderDetails.Nope").Using(em).Execute(ctx)
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = From("Orders").Execute(ctx)
	assert.ErrorIs(t, err, ErrNoManager)

	assert.Empty(t, svc.queries)
}

func TestExecuteQuery_WithoutDataService(t *testing.T) {
	em := NewEntityManager(nil, WithMetadataStore(northwindMetadata(t)))

	_, err := From("Orders").Using(em).Execute(context.Background())
	assert.ErrorIs(t, err, ErrNoDataService)

	// local queries still work
	local, err := From("Orders").Using(em).ExecuteLocally()
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestExecuteQuery_ConvertsPredicateValues(t *testing.T) {
	em, svc := newTestManager(t)

	_, err := From("Orders").
		Where("OrderID", "in", []int{10248, 10249}).
		Where("ShipName", "startswith", "Alf").
		OrderByDesc("OrderDate").
		Using(em).Execute(context.Background())
	require.NoError(t, err)

	req := svc.queries[0]
	require.Len(t, req.Where, 2)
	assert.Equal(t, []interface{}{int64(10248), int64(10249)}, req.Where[0].Value)
	assert.Equal(t, "Alf", req.Where[1].Value)
	assert.Equal(t, []dataservice.OrderBy{{Property: "OrderDate", Desc: true}}, req.OrderBy)
}

func TestExecuteQueryLocally(t *testing.T) {
	em, _ := newTestManager(t)
	for i, name := range []string{"Chai", "Chang", "Aniseed Syrup", "Pavlova"} {
		attachUnchanged(t, em, "Product", map[string]interface{}{"ProductID": i + 1, "ProductName": name, "UnitPrice": 10 + i})
	}
	deleted := em.GetEntityByKey("Product", 4)
	require.NoError(t, deleted.EntityAspect().SetDeleted())

	products, err := From("Products").Where("ProductName", "startswith", "ch").OrderByDesc("UnitPrice").Using(em).ExecuteLocally()
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Chang", products[0].String("ProductName"))

	products, err = em.ExecuteQueryLocally(From("Products").WhereAny(
		Predicate{Property: "ProductID", Operator: "eq", Value: 1},
		Predicate{Property: "UnitPrice", Operator: "ge", Value: 12},
	).OrderBy("ProductID"))
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, int64(1), products[0].Int64("ProductID"))
	assert.Equal(t, int64(3), products[1].Int64("ProductID"))

	products, err = em.ExecuteQueryLocally(From("Products").OrderBy("ProductName").Skip(1).Top(1))
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Chai", products[0].String("ProductName"))
}

func TestEntityQuery_IsImmutable(t *testing.T) {
	base := From("Orders").Where("OrderID", "gt", 1)
	narrowed := base.Where("ShipName", "contains", "x").Top(5)

	assert.Len(t, base.predicates, 1)
	assert.Len(t, narrowed.predicates, 2)
	assert.Zero(t, base.top)
	assert.Equal(t, "Orders", narrowed.Resource())
}
