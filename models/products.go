package models

import (
	"github.com/shopspring/decimal"
)

// Product is a catalog item in the OLTP schema, keyed by its source id.
type Product struct {
	ProductID     int64           `gorm:"primaryKey;autoIncrement:false"`
	ProductName   string          `gorm:"size:100;not null"`
	Category      string          `gorm:"size:50;not null"`
	Price         decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	StockQuantity int             `gorm:"not null;default:0"`
	Items         []OrderItem     `gorm:"foreignKey:ProductID"`
}

func (p *Product) TableName() string {
	return "products"
}
