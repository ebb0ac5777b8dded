package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DimDate is one calendar day, keyed YYYYMMDD.
type DimDate struct {
	DateKey    int         `gorm:"primaryKey;autoIncrement:false"`
	FullDate   time.Time   `gorm:"type:date;not null;uniqueIndex"`
	DayOfWeek  string      `gorm:"size:10;not null"`
	DayOfMonth int         `gorm:"not null"`
	Month      int         `gorm:"not null"`
	MonthName  string      `gorm:"size:10;not null"`
	Quarter    string      `gorm:"size:2;not null"`
	Year       int         `gorm:"not null"`
	IsWeekend  bool        `gorm:"not null"`
	Sales      []FactSales `gorm:"foreignKey:DateKey"`
}

func (d *DimDate) TableName() string {
	return "dim_date"
}

// DimCustomer is a Type-2 customer version. At most one row per CustomerID
// has CurrentFlag set.
type DimCustomer struct {
	CustomerKey        int64       `gorm:"primaryKey;autoIncrement:false"`
	CustomerID         int64       `gorm:"not null;index;uniqueIndex:idx_dim_customer_current,where:current_flag = true"`
	CustomerName       string      `gorm:"size:100;not null"`
	Email              string      `gorm:"size:100;not null"`
	City               string      `gorm:"size:50"`
	Segment            string      `gorm:"size:20;not null"`
	EffectiveStartDate time.Time   `gorm:"type:date;not null"`
	EffectiveEndDate   *time.Time  `gorm:"type:date"`
	CurrentFlag        bool        `gorm:"not null"`
	AttrHash           int64       `gorm:"not null"`
	Sales              []FactSales `gorm:"foreignKey:CustomerKey"`
}

func (d *DimCustomer) TableName() string {
	return "dim_customer"
}

// DimProduct is a Type-2 product version tracked on category and price tier.
type DimProduct struct {
	ProductKey         int64           `gorm:"primaryKey;autoIncrement:false"`
	ProductID          int64           `gorm:"not null;index;uniqueIndex:idx_dim_product_current,where:current_flag = true"`
	ProductName        string          `gorm:"size:100;not null"`
	Category           string          `gorm:"size:50;not null"`
	PriceTier          string          `gorm:"size:10;not null"`
	UnitPrice          decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	EffectiveStartDate time.Time       `gorm:"type:date;not null"`
	EffectiveEndDate   *time.Time      `gorm:"type:date"`
	CurrentFlag        bool            `gorm:"not null"`
	AttrHash           int64           `gorm:"not null"`
	Sales              []FactSales     `gorm:"foreignKey:ProductKey"`
}

func (d *DimProduct) TableName() string {
	return "dim_product"
}

// FactSales has one row per order line. SalesKey is the line's natural key.
// Its dimension keys reference dim_date, dim_customer and dim_product through
// the has-many fields on those models.
type FactSales struct {
	SalesKey       string          `gorm:"primaryKey;size:64"`
	DateKey        int             `gorm:"not null;index"`
	CustomerKey    int64           `gorm:"not null;index"`
	ProductKey     int64           `gorm:"not null;index"`
	OrderID        int64           `gorm:"not null;index"`
	QuantitySold   int             `gorm:"not null"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

func (f *FactSales) TableName() string {
	return "fact_sales"
}
