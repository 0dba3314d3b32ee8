package metadata

import (
	"testing"

	"github.com/ammar0144/entity4go/pkg/northwind"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func northwindStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:metadata_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store, err := FromModels(db, "Northwind", northwind.Models()...)
	require.NoError(t, err)
	return store
}

func TestFromModels_EntityTypes(t *testing.T) {
	store := northwindStore(t)

	customer, err := store.EntityType("Customer")
	require.NoError(t, err)
	assert.Equal(t, "Customers", customer.ResourceName)
	assert.Equal(t, None, customer.AutoGeneratedKeyType)
	assert.Equal(t, []string{"CustomerID"}, customer.KeyProperties)
	assert.Equal(t, Guid, customer.DataProperty("CustomerID").DataType)
	assert.Equal(t, 36, customer.DataProperty("CustomerID").MaxLength)

	order, err := store.EntityTypeForResource("Orders")
	require.NoError(t, err)
	assert.Equal(t, "Order", order.Name)
	assert.Equal(t, Identity, order.AutoGeneratedKeyType)
	assert.True(t, order.DataProperty("CustomerID").IsNullable)
	assert.Equal(t, DateTime, order.DataProperty("OrderDate").DataType)
	assert.Equal(t, Decimal, order.DataProperty("Freight").DataType)

	detail, err := store.EntityType("OrderDetail")
	require.NoError(t, err)
	assert.Equal(t, []string{"OrderID", "ProductID"}, detail.KeyProperties)
	assert.Equal(t, None, detail.AutoGeneratedKeyType)
	assert.Equal(t, Int16, detail.DataProperty("Quantity").DataType)

	_, err = store.EntityType("Supplier")
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}

func TestFromModels_Navigations(t *testing.T) {
	store := northwindStore(t)

	order, err := store.EntityType("Order")
	require.NoError(t, err)

	toCustomer := order.NavigationProperty("Customer")
	require.NotNil(t, toCustomer)
	assert.True(t, toCustomer.IsScalar)
	assert.Equal(t, []string{"CustomerID"}, toCustomer.ForeignKeyNames)
	assert.Equal(t, "Customer", toCustomer.EntityTypeName)

	details := order.NavigationProperty("OrderDetails")
	require.NotNil(t, details)
	assert.False(t, details.IsScalar)
	assert.Equal(t, []string{"OrderID"}, details.InvForeignKeyNames)

	inverse := store.Inverse(toCustomer)
	require.NotNil(t, inverse)
	assert.Equal(t, "Orders", inverse.Name)
	assert.Equal(t, toCustomer.AssociationName, inverse.AssociationName)

	detail, err := store.EntityType("OrderDetail")
	require.NoError(t, err)
	back := store.Inverse(details)
	require.NotNil(t, back)
	assert.Same(t, detail.NavigationProperty("Order"), back)

	// belongs-to and has-many ends pair up by association name
	product, err := store.EntityType("Product")
	require.NoError(t, err)
	assert.Equal(t, "Products", store.Inverse(product.NavigationProperty("Category")).Name)
}

func TestDependencyOrder(t *testing.T) {
	store := northwindStore(t)
	order := store.DependencyOrder()
	require.Len(t, order, 6)

	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["Customer"], pos["Order"])
	assert.Less(t, pos["Employee"], pos["Order"])
	assert.Less(t, pos["Order"], pos["OrderDetail"])
	assert.Less(t, pos["Product"], pos["OrderDetail"])
	assert.Less(t, pos["Category"], pos["Product"])
}

func TestExportImport(t *testing.T) {
	store := northwindStore(t)
	data, err := store.Export()
	require.NoError(t, err)

	imported := NewStore("")
	require.NoError(t, imported.Import(data))
	assert.Equal(t, "Northwind", imported.ServiceName())
	assert.Len(t, imported.EntityTypes(), 6)

	order, err := imported.EntityType("Order")
	require.NoError(t, err)
	assert.NotNil(t, imported.Inverse(order.NavigationProperty("Customer")))
}

func TestImport_RejectsDanglingNavigation(t *testing.T) {
	doc := `{"serviceName":"X","entityTypes":[{"name":"A","resourceName":"As","keyProperties":["ID"],
		"dataProperties":[{"name":"ID","dataType":"Int32"}],
		"navigationProperties":[{"name":"B","entityTypeName":"B","isScalar":true,"associationName":"AN","foreignKeyNames":["ID"]}]}]}`
	err := NewStore("").Import([]byte(doc))
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}
