// Package northwind holds the sample Northwind models served by the data service,
// along with the fixture used to seed and reset the database.
package northwind

import (
	"time"
)

// Relationships follow gorm naming conventions (Order.CustomerID -> Customer.CustomerID),
// so no foreignKey tags are needed and both ends resolve to the same columns.

type Customer struct {
	CustomerID   string  `gorm:"primaryKey;size:36" meta:"guid"`
	CompanyName  string  `gorm:"size:40;not null"`
	ContactName  *string `gorm:"size:30"`
	ContactTitle *string `gorm:"size:30"`
	City         *string `gorm:"size:15"`
	Country      *string `gorm:"size:15"`
	Phone        *string `gorm:"size:24"`

	Orders []Order
}

func (Customer) TableName() string { return "Customers" }

func (c Customer) GetPrimaryKeyValue() interface{} { return c.CustomerID }

type Employee struct {
	EmployeeID int32      `gorm:"primaryKey"`
	LastName   string     `gorm:"size:30;not null"`
	FirstName  string     `gorm:"size:30;not null"`
	Title      *string    `gorm:"size:30"`
	HireDate   *time.Time
	City       *string    `gorm:"size:15"`

	Orders []Order
}

func (Employee) TableName() string { return "Employees" }

func (e Employee) GetPrimaryKeyValue() interface{} { return e.EmployeeID }

type Category struct {
	CategoryID   int32   `gorm:"primaryKey"`
	CategoryName string  `gorm:"size:15;not null"`
	Description  *string `gorm:"size:255"`

	Products []Product
}

func (Category) TableName() string { return "Categories" }

func (c Category) GetPrimaryKeyValue() interface{} { return c.CategoryID }

type Product struct {
	ProductID       int32   `gorm:"primaryKey"`
	ProductName     string  `gorm:"size:40;not null"`
	CategoryID      *int32  `gorm:"index"`
	QuantityPerUnit *string `gorm:"size:20"`
	UnitPrice       float64 `gorm:"type:decimal(19,4);not null"`
	UnitsInStock    int16   `gorm:"not null"`
	Discontinued    bool    `gorm:"not null"`

	Category *Category
}

func (Product) TableName() string { return "Products" }

func (p Product) GetPrimaryKeyValue() interface{} { return p.ProductID }

type Order struct {
	OrderID     int32      `gorm:"primaryKey"`
	CustomerID  *string    `gorm:"size:36;index" meta:"guid"`
	EmployeeID  *int32     `gorm:"index"`
	OrderDate   *time.Time
	ShipName    *string    `gorm:"size:40"`
	ShipAddress *string    `gorm:"size:60"`
	ShipCity    *string    `gorm:"size:15"`
	ShipCountry *string    `gorm:"size:15"`
	Freight     float64    `gorm:"type:decimal(19,4);not null"`

	Customer     *Customer
	Employee     *Employee
	OrderDetails []OrderDetail
}

func (Order) TableName() string { return "Orders" }

func (o Order) GetPrimaryKeyValue() interface{} { return o.OrderID }

type OrderDetail struct {
	OrderID   int32   `gorm:"primaryKey;autoIncrement:false"`
	ProductID int32   `gorm:"primaryKey;autoIncrement:false"`
	UnitPrice float64 `gorm:"type:decimal(19,4);not null"`
	Quantity  int16   `gorm:"not null"`
	Discount  float64 `gorm:"not null"`

	Order   *Order
	Product *Product
}

func (OrderDetail) TableName() string { return "OrderDetails" }

func (d OrderDetail) GetPrimaryKeyValue() interface{} {
	return []interface{}{d.OrderID, d.ProductID}
}

// Models returns every Northwind model in dependency order (principals first)
func Models() []interface{} {
	return []interface{}{
		&Customer{},
		&Employee{},
		&Category{},
		&Product{},
		&Order{},
		&OrderDetail{},
	}
}
