package northwind

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WellKnown identifies fixture rows that scenarios and tests rely on
var WellKnown = struct {
	AlfredsID   string
	NancyID     int32
	ChaiID      int32
	BeveragesID int32
	FirstOrder  int32
}{
	AlfredsID:   "785efa04-cbf2-4dd7-a7de-083ee17b6ad2",
	NancyID:     1,
	ChaiID:      1,
	BeveragesID: 1,
	FirstOrder:  10248,
}

// Fixture is the full seed data set
type Fixture struct {
	Customers    []Customer
	Employees    []Employee
	Categories   []Category
	Products     []Product
	Orders       []Order
	OrderDetails []OrderDetail
}

func strPtr(s string) *string { return &s }

func int32Ptr(i int32) *int32 { return &i }

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// NewFixture returns a fresh copy of the seed data
func NewFixture() Fixture {
	return Fixture{
		Customers: []Customer{
			{CustomerID: WellKnown.AlfredsID, CompanyName: "Alfreds Futterkiste", ContactName: strPtr("Maria Anders"), ContactTitle: strPtr("Sales Representative"), City: strPtr("Berlin"), Country: strPtr("Germany"), Phone: strPtr("030-0074321")},
			{CustomerID: "b61cb7ce-9e3c-4b34-9c31-8c4c8dbb4b8a", CompanyName: "Ana Trujillo Emparedados y helados", ContactName: strPtr("Ana Trujillo"), ContactTitle: strPtr("Owner"), City: strPtr("México D.F."), Country: strPtr("Mexico"), Phone: strPtr("(5) 555-4729")},
			{CustomerID: "4e3a5a8e-6d52-4a0f-8c0c-2a6de0b7b1f3", CompanyName: "Around the Horn", ContactName: strPtr("Thomas Hardy"), ContactTitle: strPtr("Sales Representative"), City: strPtr("London"), Country: strPtr("UK"), Phone: strPtr("(171) 555-7788")},
			{CustomerID: "c2f0b1a6-3c9b-47a4-9d8e-6a4b5f1e2d7c", CompanyName: "Vins et alcools Chevalier", ContactName: strPtr("Paul Henriot"), ContactTitle: strPtr("Accounting Manager"), City: strPtr("Reims"), Country: strPtr("France"), Phone: strPtr("26.47.15.10")},
		},
		Employees: []Employee{
			{EmployeeID: 1, LastName: "Davolio", FirstName: "Nancy", Title: strPtr("Sales Representative"), HireDate: datePtr(1992, time.May, 1), City: strPtr("Seattle")},
			{EmployeeID: 2, LastName: "Fuller", FirstName: "Andrew", Title: strPtr("Vice President, Sales"), HireDate: datePtr(1992, time.August, 14), City: strPtr("Tacoma")},
			{EmployeeID: 3, LastName: "Leverling", FirstName: "Janet", Title: strPtr("Sales Representative"), HireDate: datePtr(1992, time.April, 1), City: strPtr("Kirkland")},
			{EmployeeID: 4, LastName: "Peacock", FirstName: "Margaret", Title: strPtr("Sales Representative"), HireDate: datePtr(1993, time.May, 3), City: strPtr("Redmond")},
		},
		Categories: []Category{
			{CategoryID: 1, CategoryName: "Beverages", Description: strPtr("Soft drinks, coffees, teas, beers, and ales")},
			{CategoryID: 2, CategoryName: "Condiments", Description: strPtr("Sweet and savory sauces, relishes, spreads, and seasonings")},
			{CategoryID: 3, CategoryName: "Confections", Description: strPtr("Desserts, candies, and sweet breads")},
			{CategoryID: 4, CategoryName: "Dairy Products", Description: strPtr("Cheeses")},
		},
		Products: []Product{
			{ProductID: 1, ProductName: "Chai", CategoryID: int32Ptr(1), QuantityPerUnit: strPtr("10 boxes x 20 bags"), UnitPrice: 18, UnitsInStock: 39},
			{ProductID: 2, ProductName: "Chang", CategoryID: int32Ptr(1), QuantityPerUnit: strPtr("24 - 12 oz bottles"), UnitPrice: 19, UnitsInStock: 17},
			{ProductID: 3, ProductName: "Aniseed Syrup", CategoryID: int32Ptr(2), QuantityPerUnit: strPtr("12 - 550 ml bottles"), UnitPrice: 10, UnitsInStock: 13},
			{ProductID: 4, ProductName: "Chef Anton's Cajun Seasoning", CategoryID: int32Ptr(2), QuantityPerUnit: strPtr("48 - 6 oz jars"), UnitPrice: 22, UnitsInStock: 53},
			{ProductID: 5, ProductName: "Pavlova", CategoryID: int32Ptr(3), QuantityPerUnit: strPtr("32 - 500 g boxes"), UnitPrice: 17.45, UnitsInStock: 29},
			{ProductID: 6, ProductName: "Teatime Chocolate Biscuits", CategoryID: int32Ptr(3), QuantityPerUnit: strPtr("10 boxes x 12 pieces"), UnitPrice: 9.2, UnitsInStock: 25},
			{ProductID: 7, ProductName: "Camembert Pierrot", CategoryID: int32Ptr(4), QuantityPerUnit: strPtr("15 - 300 g rounds"), UnitPrice: 34, UnitsInStock: 19},
		},
		Orders: []Order{
			{OrderID: 10248, CustomerID: strPtr(WellKnown.AlfredsID), EmployeeID: int32Ptr(1), OrderDate: datePtr(1996, time.July, 4), ShipName: strPtr("Alfreds Futterkiste"), ShipCity: strPtr("Berlin"), ShipCountry: strPtr("Germany"), Freight: 32.38},
			{OrderID: 10249, CustomerID: strPtr("4e3a5a8e-6d52-4a0f-8c0c-2a6de0b7b1f3"), EmployeeID: int32Ptr(3), OrderDate: datePtr(1996, time.July, 5), ShipName: strPtr("Around the Horn"), ShipCity: strPtr("London"), ShipCountry: strPtr("UK"), Freight: 11.61},
			{OrderID: 10250, CustomerID: strPtr("c2f0b1a6-3c9b-47a4-9d8e-6a4b5f1e2d7c"), EmployeeID: int32Ptr(4), OrderDate: datePtr(1996, time.July, 8), ShipName: strPtr("Vins et alcools Chevalier"), ShipCity: strPtr("Reims"), ShipCountry: strPtr("France"), Freight: 65.83},
		},
		OrderDetails: []OrderDetail{
			{OrderID: 10248, ProductID: 1, UnitPrice: 14.4, Quantity: 12},
			{OrderID: 10248, ProductID: 2, UnitPrice: 15.2, Quantity: 10},
			{OrderID: 10249, ProductID: 5, UnitPrice: 13.9, Quantity: 9},
			{OrderID: 10249, ProductID: 7, UnitPrice: 27.2, Quantity: 40},
			{OrderID: 10250, ProductID: 4, UnitPrice: 17.6, Quantity: 35, Discount: 0.15},
			{OrderID: 10250, ProductID: 6, UnitPrice: 7.3, Quantity: 15, Discount: 0.15},
		},
	}
}

// Migrate creates or updates the Northwind tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migrate northwind: %w", err)
	}
	return nil
}

// Seed inserts the fixture into empty tables. A populated database is left untouched.
func Seed(ctx context.Context, db *gorm.DB) error {
	var count int64
	if err := db.WithContext(ctx).Model(&Customer{}).Count(&count).Error; err != nil {
		return fmt.Errorf("seed northwind: %w", err)
	}
	if count > 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertFixture(tx, NewFixture())
	})
}

// Reset restores the fixture in one transaction, discarding every other row
func Reset(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		models := Models()
		// dependents first
		for i := len(models) - 1; i >= 0; i-- {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(models[i]).Error; err != nil {
				return fmt.Errorf("reset northwind: clear %T: %w", models[i], err)
			}
		}
		return insertFixture(tx, NewFixture())
	})
}

func insertFixture(tx *gorm.DB, f Fixture) error {
	batches := []struct {
		name string
		rows interface{}
	}{
		{"Customers", &f.Customers},
		{"Employees", &f.Employees},
		{"Categories", &f.Categories},
		{"Products", &f.Products},
		{"Orders", &f.Orders},
		{"OrderDetails", &f.OrderDetails},
	}

	for _, b := range batches {
		if err := tx.Omit(clause.Associations).Create(b.rows).Error; err != nil {
			return fmt.Errorf("seed %s: %w", b.name, err)
		}
	}

	return syncSequences(tx)
}

// syncSequences moves postgres identity sequences past the explicitly inserted keys.
// MySQL and sqlite advance their counters on explicit inserts.
func syncSequences(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}

	identities := []struct{ table, column string }{
		{"Employees", "employee_id"},
		{"Categories", "category_id"},
		{"Products", "product_id"},
		{"Orders", "order_id"},
	}
	for _, id := range identities {
		sql := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('"%s"', '%s'), (SELECT MAX(%s) FROM "%s"))`,
			id.table, id.column, id.column, id.table)
		if err := tx.Exec(sql).Error; err != nil {
			return fmt.Errorf("sync sequence %s.%s: %w", id.table, id.column, err)
		}
	}
	return nil
}
