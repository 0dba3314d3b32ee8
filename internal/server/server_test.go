package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ammar0144/entity4go/internal/testutil"
	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/northwind"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := testutil.NewServer(t)

	resp, err := http.Get(env.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetadata(t *testing.T) {
	env := testutil.NewServer(t)

	store, err := env.Client(t).FetchMetadata(context.Background())
	require.NoError(t, err)

	order, err := store.EntityTypeForResource("Orders")
	require.NoError(t, err)
	assert.Equal(t, "Order", order.Name)
	assert.NotNil(t, order.NavigationProperty("OrderDetails"))
}

func TestQuery_FilterExpandAndCount(t *testing.T) {
	env := testutil.NewServer(t)

	result, err := env.Client(t).ExecuteQuery(context.Background(), dataservice.QueryRequest{
		Resource:    "Orders",
		Where:       []dataservice.Predicate{{Property: "CustomerID", Operator: dataservice.OpEqual, Value: northwind.WellKnown.AlfredsID}},
		Expand:      []string{"OrderDetails", "Customer"},
		InlineCount: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	row := result.Results[0]
	assert.Equal(t, json.Number("10248"), row["OrderID"])
	assert.Len(t, row["OrderDetails"], 2)
	customer, ok := row["Customer"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Alfreds Futterkiste", customer["CompanyName"])
	assert.NotContains(t, row, "Employee")

	require.NotNil(t, result.InlineCount)
	assert.Equal(t, int64(1), *result.InlineCount)
}

func TestQuery_StringOperatorsAndPaging(t *testing.T) {
	env := testutil.NewServer(t)
	client := env.Client(t)

	result, err := client.ExecuteQuery(context.Background(), dataservice.QueryRequest{
		Resource: "Products",
		Where:    []dataservice.Predicate{{Property: "ProductName", Operator: dataservice.OpStartsWith, Value: "Ch"}},
		OrderBy:  []dataservice.OrderBy{{Property: "ProductName", Desc: true}},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
	assert.Equal(t, "Chef Anton's Cajun Seasoning", result.Results[0]["ProductName"])

	paged, err := client.ExecuteQuery(context.Background(), dataservice.QueryRequest{
		Resource:    "Products",
		Skip:        2,
		Top:         2,
		InlineCount: true,
	})
	require.NoError(t, err)
	require.Len(t, paged.Results, 2)
	assert.Equal(t, json.Number("3"), paged.Results[0]["ProductID"])
	assert.Equal(t, int64(7), *paged.InlineCount)

	nulls, err := client.ExecuteQuery(context.Background(), dataservice.QueryRequest{
		Resource: "Orders",
		Where:    []dataservice.Predicate{{Property: "ShipAddress", Operator: dataservice.OpEqual, Value: nil}},
	})
	require.NoError(t, err)
	assert.Len(t, nulls.Results, 3)
}

func TestQuery_WildcardsMatchLiterally(t *testing.T) {
	svc := testutil.NewService(t)
	ctx := context.Background()

	for _, value := range []string{"_", "%", "!"} {
		result, err := svc.ExecuteQuery(ctx, dataservice.QueryRequest{
			Resource: "Products",
			Where:    []dataservice.Predicate{{Property: "ProductName", Operator: dataservice.OpContains, Value: value}},
		})
		require.NoError(t, err)
		assert.Empty(t, result.Results, "contains %q", value)
	}

	result, err := svc.ExecuteQuery(ctx, dataservice.QueryRequest{
		Resource: "Products",
		Where:    []dataservice.Predicate{{Property: "ProductName", Operator: dataservice.OpContains, Value: "n's C"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "Chef Anton's Cajun Seasoning", result.Results[0]["ProductName"])
}

func TestQuery_Errors(t *testing.T) {
	env := testutil.NewServer(t)
	client := env.Client(t)
	ctx := context.Background()

	_, err := client.ExecuteQuery(ctx, dataservice.QueryRequest{Resource: "Shippers"})
	assert.ErrorIs(t, err, dataservice.ErrUnknownResource)

	_, err = client.ExecuteQuery(ctx, dataservice.QueryRequest{
		Resource: "Orders",
		Where:    []dataservice.Predicate{{Property: "Nope", Operator: dataservice.OpEqual, Value: 1}},
	})
	assert.ErrorIs(t, err, dataservice.ErrInvalidQuery)

	_, err = client.ExecuteQuery(ctx, dataservice.QueryRequest{Resource: "Orders", Expand: []string{"Shipper"}})
	assert.ErrorIs(t, err, dataservice.ErrInvalidQuery)

	_, err = client.ExecuteQuery(ctx, dataservice.QueryRequest{
		Resource: "Orders",
		Where:    []dataservice.Predicate{{Property: "Freight", Operator: dataservice.OpContains, Value: 3}},
	})
	assert.ErrorIs(t, err, dataservice.ErrInvalidQuery)

	_, err = dataservice.NewClient(env.URL, "Southwind").ExecuteQuery(ctx, dataservice.QueryRequest{Resource: "Orders"})
	assert.ErrorIs(t, err, dataservice.ErrUnknownResource)
}

func TestSaveChanges_InsertsGraphWithKeyMappings(t *testing.T) {
	env := testutil.NewServer(t)
	client := env.Client(t)
	ctx := context.Background()

	bundle := dataservice.SaveBundle{Entities: []dataservice.EntityChange{
		{
			EntityTypeName: "OrderDetail", EntityState: dataservice.StateAdded,
			Values: map[string]interface{}{"OrderID": -1, "ProductID": 1, "UnitPrice": 42.42, "Quantity": 1, "Discount": 0},
		},
		{
			EntityTypeName: "Order", EntityState: dataservice.StateAdded,
			Values: map[string]interface{}{
				"OrderID": -1, "CustomerID": northwind.WellKnown.AlfredsID, "EmployeeID": 1,
				"ShipName": "graph", "Freight": 0,
			},
			AutoGeneratedKey: &dataservice.AutoGeneratedKey{PropertyName: "OrderID", Type: "Identity"},
		},
	}}

	result, err := client.SaveChanges(ctx, bundle)
	require.NoError(t, err)

	require.Len(t, result.KeyMappings, 1)
	mapping := result.KeyMappings[0]
	assert.Equal(t, "Order", mapping.EntityTypeName)
	assert.Equal(t, json.Number("-1"), mapping.TempValue)
	realID, err := mapping.RealValue.(json.Number).Int64()
	require.NoError(t, err)
	assert.Greater(t, realID, int64(10250))

	require.Len(t, result.Entities, 2)
	assert.Equal(t, "OrderDetail", result.Entities[0].EntityTypeName)
	assert.Equal(t, mapping.RealValue, result.Entities[0].Values["OrderID"])
	assert.Equal(t, mapping.RealValue, result.Entities[1].Values["OrderID"])

	var count int64
	require.NoError(t, env.DB.DB().Model(&northwind.OrderDetail{}).Where("order_id = ?", realID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.Equal(t, float64(1), promtestutil.ToFloat64(env.Service.Metrics().SavedEntities("Order", dataservice.StateAdded)))
}

func TestSaveChanges_UpdateAndDelete(t *testing.T) {
	env := testutil.NewServer(t)
	client := env.Client(t)
	ctx := context.Background()

	result, err := client.SaveChanges(ctx, dataservice.SaveBundle{Entities: []dataservice.EntityChange{
		{
			EntityTypeName: "Order", EntityState: dataservice.StateModified,
			Values:         map[string]interface{}{"OrderID": 10248, "ShipName": "renamed", "Freight": 1},
			OriginalValues: map[string]interface{}{"ShipName": "Alfreds Futterkiste"},
		},
		{
			EntityTypeName: "OrderDetail", EntityState: dataservice.StateDeleted,
			Values: map[string]interface{}{"OrderID": 10249, "ProductID": 5},
		},
	}})
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	assert.Equal(t, "renamed", result.Entities[0].Values["ShipName"])
	// only changed properties are written
	assert.Equal(t, json.Number("32.38"), result.Entities[0].Values["Freight"])

	var details int64
	require.NoError(t, env.DB.DB().Model(&northwind.OrderDetail{}).Where("order_id = ?", 10249).Count(&details).Error)
	assert.Equal(t, int64(1), details)
}

func TestSaveChanges_ConcurrencyRollsBack(t *testing.T) {
	env := testutil.NewServer(t)
	client := env.Client(t)
	ctx := context.Background()

	_, err := client.SaveChanges(ctx, dataservice.SaveBundle{Entities: []dataservice.EntityChange{
		{
			EntityTypeName: "Customer", EntityState: dataservice.StateAdded,
			Values: map[string]interface{}{"CustomerID": "0a1b2c3d-0000-4000-8000-000000000001", "CompanyName": "Rolled Back"},
		},
		{
			EntityTypeName: "Order", EntityState: dataservice.StateModified,
			Values:         map[string]interface{}{"OrderID": 99999, "ShipName": "ghost"},
			OriginalValues: map[string]interface{}{"ShipName": nil},
		},
	}})
	require.Error(t, err)
	assert.True(t, dataservice.IsConcurrency(err))

	var serverErr *dataservice.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusConflict, serverErr.StatusCode)
	require.Len(t, serverErr.EntityErrors, 1)
	assert.Equal(t, "Order", serverErr.EntityErrors[0].EntityTypeName)

	var count int64
	require.NoError(t, env.DB.DB().Model(&northwind.Customer{}).Where("company_name = ?", "Rolled Back").Count(&count).Error)
	assert.Zero(t, count)

	expected := `
# HELP northwind_save_failures_total SaveChanges calls rolled back
# TYPE northwind_save_failures_total counter
northwind_save_failures_total 1
`
	assert.NoError(t, promtestutil.GatherAndCompare(env.Service.Metrics().Registry(), strings.NewReader(expected), "northwind_save_failures_total"))
}

func TestSaveChanges_RejectsInvalidBundles(t *testing.T) {
	env := testutil.NewServer(t)
	client := env.Client(t)
	ctx := context.Background()

	_, err := client.SaveChanges(ctx, dataservice.SaveBundle{Entities: []dataservice.EntityChange{
		{EntityTypeName: "Shipper", EntityState: dataservice.StateAdded, Values: map[string]interface{}{}},
	}})
	assert.ErrorIs(t, err, dataservice.ErrInvalidSaveBundle)

	_, err = client.SaveChanges(ctx, dataservice.SaveBundle{Entities: []dataservice.EntityChange{
		{EntityTypeName: "Order", EntityState: "Unchanged", Values: map[string]interface{}{"OrderID": 10248}},
	}})
	assert.ErrorIs(t, err, dataservice.ErrInvalidSaveBundle)

	_, err = client.SaveChanges(ctx, dataservice.SaveBundle{Entities: []dataservice.EntityChange{
		{
			EntityTypeName: "OrderDetail", EntityState: dataservice.StateModified,
			Values:         map[string]interface{}{"OrderID": 0, "ProductID": 1},
			OriginalValues: map[string]interface{}{"OrderID": 10248},
		},
	}})
	assert.ErrorIs(t, err, dataservice.ErrInvalidSaveBundle)

	resp, err := http.Post(env.URL+"/breeze/Northwind/SaveChanges", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), dataservice.CodeInvalidSaveBundle)
}

func TestSaveChanges_RejectsOversizedBundle(t *testing.T) {
	env := testutil.NewServer(t)

	body := `{"entities":[{"entityTypeName":"Customer","entityState":"Added","values":{"CompanyName":"` +
		strings.Repeat("x", 9<<20) + `"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/breeze/Northwind/SaveChanges", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.Service.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var errBody dataservice.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, dataservice.CodeInvalidSaveBundle, errBody.Code)

	var customers int64
	require.NoError(t, env.DB.DB().Table("Customers").Count(&customers).Error)
	assert.EqualValues(t, 4, customers)
}

func TestReset_RestoresFixture(t *testing.T) {
	env := testutil.NewServer(t)
	client := env.Client(t)
	ctx := context.Background()

	_, err := client.SaveChanges(ctx, dataservice.SaveBundle{Entities: []dataservice.EntityChange{
		{EntityTypeName: "OrderDetail", EntityState: dataservice.StateDeleted, Values: map[string]interface{}{"OrderID": 10250, "ProductID": 4}},
	}})
	require.NoError(t, err)

	require.NoError(t, client.Reset(ctx))

	result, err := client.ExecuteQuery(ctx, dataservice.QueryRequest{Resource: "OrderDetails", InlineCount: true})
	require.NoError(t, err)
	assert.Equal(t, int64(6), *result.InlineCount)
}

func TestMetricsEndpoint(t *testing.T) {
	env := testutil.NewServer(t)

	_, err := env.Client(t).ExecuteQuery(context.Background(), dataservice.QueryRequest{Resource: "Employees"})
	require.NoError(t, err)

	resp, err := http.Get(env.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `northwind_query_rows_total{resource="Employees"} 4`)
	assert.Contains(t, string(body), `northwind_http_requests_total{code="200",method="GET",route="/breeze/:service/:resource"} 1`)
}
