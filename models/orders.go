package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the header of a sale. TotalAmount is recomputed from its items
// after every load.
type Order struct {
	OrderID     int64           `gorm:"primaryKey;autoIncrement:false"`
	CustomerID  int64           `gorm:"not null;index"`
	OrderDate   time.Time       `gorm:"type:date;not null"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status      string          `gorm:"size:20;not null;default:Pending"`
	Items       []OrderItem     `gorm:"foreignKey:OrderID"`
}

func (o *Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	OrderItemID string          `gorm:"primaryKey;size:64"`
	OrderID     int64           `gorm:"not null;index"`
	ProductID   int64           `gorm:"not null;index"`
	Quantity    int             `gorm:"not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

func (i *OrderItem) TableName() string {
	return "order_items"
}
