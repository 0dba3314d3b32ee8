package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/northwind"
)

// Northwind returns the save suite in its canonical order
func Northwind() []Scenario {
	return []Scenario{
		{Name: "can save nothing", Run: saveNothing},
		{Name: "can save a new Customer entity", Run: saveNewCustomer},
		{Name: "can modify my own Customer entity", Run: modifyOwnCustomer},
		{Name: "can delete my own Customer entity", Run: deleteOwnCustomer},
		{Name: "can save new Order and its OrderDetails in one transaction", Run: saveOrderGraph},
		{Name: "can save a new Order for a well-known Customer and Employee", Run: saveOrderForWellKnown},
		{Name: "delete of Product clears its related Category BEFORE save", Run: deleteProductClearsCategory},
		{Name: "delete of Order clears its related entities BEFORE save", Run: deleteOrderClearsRelations},
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func saveNothing(ctx context.Context, em *entity.EntityManager, a *Assert) error {
	a.Expect(1)
	res, err := em.SaveChanges(ctx)
	if err != nil {
		return err
	}
	a.Equal(len(res.Entities), 0, "succeeded in saving nothing")
	return nil
}

func saveNewCustomer(ctx context.Context, em *entity.EntityManager, a *Assert) error {
	a.Expect(1)
	customer, err := em.CreateEntity("Customer", map[string]interface{}{
		"CustomerID":  entity.NewGuidComb(),
		"CompanyName": "Test1 " + timestamp(),
	})
	if err != nil {
		return err
	}

	res, err := em.SaveChanges(ctx)
	if err != nil {
		return err
	}
	a.Ok(len(res.Entities) == 1 && res.Entities[0] != nil,
		"should have saved new Customer with CustomerID %s", customer.String("CustomerID"))
	return nil
}

func modifyOwnCustomer(ctx context.Context, em *entity.EntityManager, a *Assert) error {
	a.Expect(2)
	ts := timestamp()
	customer, err := em.CreateEntity("Customer", map[string]interface{}{
		"CustomerID":  entity.NewGuidComb(),
		"CompanyName": "Test2A " + ts,
	})
	if err != nil {
		return err
	}

	res, err := em.SaveChanges(ctx)
	if err != nil {
		return err
	}
	a.Ok(firstSaved(res) == customer, "save of added customer should have succeeded")

	if err := customer.Set("CompanyName", "Test2M "+ts); err != nil {
		return err
	}
	res, err = em.SaveChanges(ctx)
	if err != nil {
		return err
	}
	saved := firstSaved(res)
	a.Ok(saved == customer, "save of modified customer, '%s', should have succeeded", companyName(saved))
	return nil
}

func deleteOwnCustomer(ctx context.Context, em *entity.EntityManager, a *Assert) error {
	a.Expect(3)
	customer, err := em.CreateEntity("Customer", map[string]interface{}{
		"CustomerID":  entity.NewGuidComb(),
		"CompanyName": "Test3A " + timestamp(),
	})
	if err != nil {
		return err
	}

	res, err := em.SaveChanges(ctx)
	if err != nil {
		return err
	}
	a.Ok(firstSaved(res) == customer, "save of added customer should have succeeded")

	if err := customer.EntityAspect().SetDeleted(); err != nil {
		return err
	}
	res, err = em.SaveChanges(ctx)
	if err != nil {
		return err
	}
	saved := firstSaved(res)
	a.Ok(saved == customer, "save of deleted customer, '%s', should have succeeded", companyName(saved))
	a.Equal(customer.EntityAspect().State().String(), entity.Detached.String(), "customer object should be 'Detached'")
	return nil
}

func saveOrderGraph(ctx context.Context, em *entity.EntityManager, a *Assert) error {
	a.Expect(3)
	order, err := em.CreateEntity("Order", map[string]interface{}{"ShipName": "Add OrderGraphTest"})
	if err != nil {
		return err
	}
	for _, productID := range []int{1, 2, 3} {
		if _, err := em.CreateEntity("OrderDetail", map[string]interface{}{
			"Order":     order,
			"ProductID": productID,
			"UnitPrice": 42.42,
		}); err != nil {
			return err
		}
	}

	if _, err := em.SaveChanges(ctx); err != nil {
		return err
	}

	// the permanent key assigned by the save
	orderID := order.Int64("OrderID")
	em.Clear()

	data, err := entity.From("Orders").
		Where("OrderID", entity.OpEqual, orderID).
		Expand("OrderDetails").
		Using(em).Execute(ctx)
	if err != nil {
		return err
	}
	if len(data.Results) == 0 {
		return fmt.Errorf("requery of order %d returned nothing", orderID)
	}

	o := data.Results[0]
	a.Equal(o.String("ShipName"), "Add OrderGraphTest", "'ShipName' of the re-queried order is expected value")

	details := o.Collection("OrderDetails")
	a.Equal(len(details), 3, "requery of saved new Order graph came with the expected 3 details")

	allExpected := true
	for _, d := range details {
		allExpected = allExpected && d.Float64("UnitPrice") == 42.42
	}
	a.Ok(allExpected, "every OrderDetail has the expected UnitPrice of 42.42")
	return nil
}

func saveOrderForWellKnown(ctx context.Context, em *entity.EntityManager, a *Assert) error {
	a.Expect(3)
	order, err := em.CreateEntity("Order", map[string]interface{}{
		"CustomerID": northwind.WellKnown.AlfredsID,
		"EmployeeID": northwind.WellKnown.NancyID,
		"ShipName":   "Test " + timestamp(),
	})
	if err != nil {
		return err
	}
	a.Ok(order.Int64("OrderID") < 0, "a new Order starts with a temporary key")

	if _, err := em.SaveChanges(ctx); err != nil {
		return err
	}

	orderID := order.Int64("OrderID")
	a.Ok(orderID > 0, "the OrderID %d is positive, indicating it is a permanent order", orderID)
	a.Equal(order.EntityAspect().State().String(), entity.Unchanged.String(), "the saved order is Unchanged")
	return nil
}

// Deletes are not saved; the teardown restores the database either way.
func deleteProductClearsCategory(ctx context.Context, em *entity.EntityManager, a *Assert) error {
	a.Expect(4)
	data, err := entity.From("Products").Top(1).Expand("Category").Using(em).Execute(ctx)
	if err != nil {
		return err
	}

	var product *entity.Entity
	if len(data.Results) > 0 {
		product = data.Results[0]
	}
	if !a.Ok(product != nil, "should have a product") {
		return nil
	}

	// precondition
	a.Ok(product.Navigation("Category") != nil, "product should have a Category before delete")

	if err := product.EntityAspect().SetDeleted(); err != nil {
		return err
	}

	a.Ok(product.Navigation("Category") == nil, "product should NOT have a Category after product deleted")
	// FKs of principal related entities are retained
	a.Ok(product.Int64("CategoryID") != 0, "product should have a non-zero CategoryID after product deleted")
	return nil
}

func deleteOrderClearsRelations(ctx context.Context, em *entity.EntityManager, a *Assert) error {
	a.Expect(10)
	data, err := entity.From("Orders").Top(1).Expand("Customer, Employee, OrderDetails").Using(em).Execute(ctx)
	if err != nil {
		return err
	}

	var order *entity.Entity
	if len(data.Results) > 0 {
		order = data.Results[0]
	}
	if !a.Ok(order != nil, "should have an order") {
		return nil
	}

	// precondition
	a.Ok(order.Navigation("Customer") != nil, "order should have a Customer before delete")
	a.Ok(order.Navigation("Employee") != nil, "order should have a Employee before delete")
	details := order.Collection("OrderDetails")
	a.Ok(len(details) != 0, "order should have OrderDetails before delete")

	if err := order.EntityAspect().SetDeleted(); err != nil {
		return err
	}

	a.Ok(order.Navigation("Customer") == nil, "order should NOT have a Customer after order deleted")
	a.Ok(order.Navigation("Employee") == nil, "order should NOT have a Employee after order deleted")
	a.Ok(len(order.Collection("OrderDetails")) == 0, "order should NOT have OrderDetails after order deleted")

	// FKs of principal related entities are retained
	a.Ok(order.String("CustomerID") != "", "order should have a non-zero CustomerID after order deleted")
	a.Ok(order.Int64("EmployeeID") != 0, "order should have a non-zero EmployeeID after order deleted")

	allZero := true
	for _, d := range details {
		allZero = allZero && d.Int64("OrderID") == 0
	}
	a.Ok(allZero, "OrderID of every original detail should be zero")
	return nil
}

func firstSaved(res *entity.SaveResult) *entity.Entity {
	if res == nil || len(res.Entities) == 0 {
		return nil
	}
	return res.Entities[0]
}

func companyName(e *entity.Entity) string {
	if e == nil {
		return ""
	}
	return e.String("CompanyName")
}
