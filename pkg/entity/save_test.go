package entity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/dataservice"
)

func TestSaveChanges_NothingToSave(t *testing.T) {
	em, svc := newTestManager(t)

	result, err := em.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	assert.Empty(t, svc.bundles)
}

func TestSaveChanges_NewOrderGraph(t *testing.T) {
	em, svc := newTestManager(t)
	order, err := em.CreateEntity("Order", map[string]interface{}{"ShipName": "graph"})
	require.NoError(t, err)
	var details []*Entity
	for _, productID := range []int{1, 2, 3} {
		d, err := em.CreateEntity("OrderDetail", map[string]interface{}{"Order": order, "ProductID": productID, "UnitPrice": 42.42})
		require.NoError(t, err)
		details = append(details, d)
	}

	result, err := em.SaveChanges(context.Background())
	require.NoError(t, err)

	require.Len(t, svc.bundles, 1)
	bundle := svc.bundles[0]
	require.Len(t, bundle.Entities, 4)
	assert.Equal(t, dataservice.StateAdded, bundle.Entities[0].EntityState)
	require.NotNil(t, bundle.Entities[0].AutoGeneratedKey)
	assert.Equal(t, "OrderID", bundle.Entities[0].AutoGeneratedKey.PropertyName)
	assert.Nil(t, bundle.Entities[1].AutoGeneratedKey)

	assert.Equal(t, append([]*Entity{order}, details...), result.Entities)
	require.Len(t, result.KeyMappings, 1)

	orderID := order.Int64("OrderID")
	assert.Equal(t, int64(11001), orderID)
	assert.Same(t, order, em.GetEntityByKey("Order", orderID))
	for _, d := range details {
		assert.Equal(t, orderID, d.Int64("OrderID"))
		assert.Equal(t, Unchanged, d.EntityAspect().State())
	}
	assert.Equal(t, Unchanged, order.EntityAspect().State())
	assert.Len(t, order.Collection("OrderDetails"), 3)
	assert.False(t, em.HasChanges())
}

func TestSaveChanges_ModifiedSendsOriginals(t *testing.T) {
	em, svc := newTestManager(t)
	customer := attachUnchanged(t, em, "Customer", map[string]interface{}{"CustomerID": alfredsID, "CompanyName": "Alfreds"})
	require.NoError(t, customer.Set("CompanyName", "Alfreds Futterkiste"))

	result, err := em.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Same(t, customer, result.Entities[0])

	change := svc.bundles[0].Entities[0]
	assert.Equal(t, dataservice.StateModified, change.EntityState)
	assert.Equal(t, "Alfreds", change.OriginalValues["CompanyName"])
	assert.Equal(t, "Alfreds Futterkiste", change.Values["CompanyName"])
	assert.Equal(t, Unchanged, customer.EntityAspect().State())
}

func TestSaveChanges_DeletedBecomesDetached(t *testing.T) {
	em, _ := newTestManager(t)
	customer, err := em.CreateEntity("Customer", map[string]interface{}{"CustomerID": NewGuidComb(), "CompanyName": "Test"})
	require.NoError(t, err)
	_, err = em.SaveChanges(context.Background())
	require.NoError(t, err)

	require.NoError(t, customer.EntityAspect().SetDeleted())
	result, err := em.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Same(t, customer, result.Entities[0])
	assert.Equal(t, Detached, customer.EntityAspect().State())
	assert.Empty(t, em.GetEntities())
}

func TestSaveChanges_SelectedEntities(t *testing.T) {
	em, svc := newTestManager(t)
	first, err := em.CreateEntity("Customer", map[string]interface{}{"CustomerID": NewGuidComb(), "CompanyName": "First"})
	require.NoError(t, err)
	second, err := em.CreateEntity("Customer", map[string]interface{}{"CustomerID": NewGuidComb(), "CompanyName": "Second"})
	require.NoError(t, err)

	_, err = em.SaveChanges(context.Background(), second)
	require.NoError(t, err)
	assert.Len(t, svc.bundles[0].Entities, 1)
	assert.Equal(t, Unchanged, second.EntityAspect().State())
	assert.Equal(t, Added, first.EntityAspect().State())
}

func TestSaveChanges_FailureKeepsState(t *testing.T) {
	em, svc := newTestManager(t)
	svc.saveErr = &dataservice.ServerError{
		StatusCode:   409,
		Code:         dataservice.CodeConcurrency,
		Message:      "changed by someone else",
		EntityErrors: []dataservice.EntityError{{EntityTypeName: "Customer", ErrorMessage: "not found"}},
	}
	customer := attachUnchanged(t, em, "Customer", map[string]interface{}{"CustomerID": alfredsID, "CompanyName": "Alfreds"})
	require.NoError(t, customer.Set("CompanyName", "Changed"))

	_, err := em.SaveChanges(context.Background())
	require.Error(t, err)
	assert.True(t, IsSaveError(err))
	assert.True(t, errors.Is(err, dataservice.ErrConcurrency))

	var saveErr *SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Len(t, saveErr.EntityErrors, 1)
	assert.Equal(t, Modified, customer.EntityAspect().State())
	assert.Equal(t, "Changed", customer.String("CompanyName"))
}

func TestSaveChanges_ValidationStopsSave(t *testing.T) {
	em, svc := newTestManager(t)
	_, err := em.CreateEntity("Customer", map[string]interface{}{"CustomerID": NewGuidComb()})
	require.NoError(t, err)

	_, err = em.SaveChanges(context.Background())
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Issues, 1)
	assert.Equal(t, "CompanyName", validationErr.Issues[0].PropertyName)
	assert.Empty(t, svc.bundles)
}

func TestSaveChanges_NoDataService(t *testing.T) {
	em, _ := newTestManager(t)
	local := NewEntityManager(nil, WithMetadataStore(em.MetadataStore()))
	_, err := local.CreateEntity("Customer", map[string]interface{}{"CustomerID": NewGuidComb(), "CompanyName": "x"})
	require.NoError(t, err)

	_, err = local.SaveChanges(context.Background())
	assert.ErrorIs(t, err, ErrNoDataService)
}

// blockingService holds every save until release is closed
type blockingService struct {
	*fakeService
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingService) SaveChanges(ctx context.Context, bundle dataservice.SaveBundle) (*dataservice.SaveResult, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.fakeService.SaveChanges(ctx, bundle)
}

func saveInBackground(t *testing.T, em *EntityManager) (*blockingService, <-chan error) {
	t.Helper()
	svc := &blockingService{fakeService: em.DataService().(*fakeService), started: make(chan struct{}), release: make(chan struct{})}
	em.dataService = svc

	done := make(chan error, 1)
	go func() {
		_, err := em.SaveChanges(context.Background())
		done <- err
	}()
	<-svc.started
	return svc, done
}

func TestSaveChanges_KeepsEditsMadeDuringSave(t *testing.T) {
	em, _ := newTestManager(t)
	customer, err := em.CreateEntity("Customer", map[string]interface{}{"CustomerID": NewGuidComb(), "CompanyName": "A"})
	require.NoError(t, err)

	svc, done := saveInBackground(t, em)
	require.NoError(t, customer.Set("CompanyName", "B"))
	close(svc.release)
	require.NoError(t, <-done)

	assert.Equal(t, "B", customer.String("CompanyName"))
	assert.Equal(t, Modified, customer.EntityAspect().State())
	assert.Equal(t, map[string]interface{}{"CompanyName": "A"}, customer.EntityAspect().OriginalValues())
	assert.True(t, em.HasChanges())

	// the pending edit goes out with the next save as an update
	_, err = em.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, svc.bundles, 2)
	assert.Equal(t, dataservice.StateModified, svc.bundles[1].Entities[0].EntityState)
	assert.Equal(t, "B", svc.bundles[1].Entities[0].Values["CompanyName"])
	assert.Equal(t, Unchanged, customer.EntityAspect().State())
}

func TestSaveChanges_EditDuringSaveStillGetsPermanentKey(t *testing.T) {
	em, _ := newTestManager(t)
	order, err := em.CreateEntity("Order", map[string]interface{}{"ShipName": "first"})
	require.NoError(t, err)
	untouched, err := em.CreateEntity("Order", map[string]interface{}{"ShipName": "other"})
	require.NoError(t, err)

	svc, done := saveInBackground(t, em)
	require.NoError(t, order.Set("ShipName", "second"))
	close(svc.release)
	require.NoError(t, <-done)

	assert.Equal(t, int64(11001), order.Int64("OrderID"))
	assert.Equal(t, "second", order.String("ShipName"))
	assert.Equal(t, Modified, order.EntityAspect().State())
	assert.Equal(t, map[string]interface{}{"ShipName": "first"}, order.EntityAspect().OriginalValues())

	assert.Equal(t, int64(11002), untouched.Int64("OrderID"))
	assert.Equal(t, Unchanged, untouched.EntityAspect().State())
}

func TestSaveChanges_EditRevertedDuringSaveIsUnchanged(t *testing.T) {
	em, _ := newTestManager(t)
	customer, err := em.CreateEntity("Customer", map[string]interface{}{"CustomerID": NewGuidComb(), "CompanyName": "A"})
	require.NoError(t, err)

	svc, done := saveInBackground(t, em)
	require.NoError(t, customer.Set("CompanyName", "B"))
	require.NoError(t, customer.Set("CompanyName", "A"))
	close(svc.release)
	require.NoError(t, <-done)

	assert.Equal(t, Unchanged, customer.EntityAspect().State())
	assert.False(t, em.HasChanges())
}
