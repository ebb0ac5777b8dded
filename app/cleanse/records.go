package cleanse

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a cleansed customer row. Every field is typed; optional
// attributes the source left empty are nil.
type Customer struct {
	CustomerID       int64  `col:"customer_id" validate:"gt=0"`
	FirstName        string `col:"first_name" validate:"required"`
	LastName         string `col:"last_name" validate:"required"`
	Email            string `col:"email" validate:"required,email"`
	Phone            *string
	City             string
	Segment          string `col:"segment" validate:"required"`
	RegistrationDate *time.Time
	// EffectiveDate dates a change to the tracked attributes. Nil means the
	// run's as-of date.
	EffectiveDate *time.Time
	Line          int
}

func (c Customer) NaturalKey() string { return strconv.FormatInt(c.CustomerID, 10) }

type Product struct {
	ProductID     int64           `col:"product_id" validate:"gt=0"`
	Name          string          `col:"product_name" validate:"required"`
	Category      string          `col:"category" validate:"required"`
	Price         decimal.Decimal `col:"price"`
	StockQuantity int             `col:"stock_quantity" validate:"gte=0"`
	EffectiveDate *time.Time
	Line          int
}

func (p Product) NaturalKey() string { return strconv.FormatInt(p.ProductID, 10) }

// SaleLine is one cleansed order line.
type SaleLine struct {
	OrderItemID string    `col:"order_item_id" validate:"required"`
	OrderID     int64     `col:"order_id" validate:"gt=0"`
	OrderDate   time.Time `col:"order_date" validate:"required"`
	CustomerID  int64     `col:"customer_id" validate:"gt=0"`
	ProductID   int64     `col:"product_id" validate:"gt=0"`
	Quantity    int       `col:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	Status      string `col:"status" validate:"required"`
	// SourceTotal is the feed's own total_amount, checked against the
	// computed line total at load time.
	SourceTotal *decimal.Decimal
	Line        int
}

func (s SaleLine) NaturalKey() string { return s.OrderItemID }

// Subtotal is quantity × unit price.
func (s SaleLine) Subtotal() decimal.Decimal {
	return s.UnitPrice.Mul(decimal.NewFromInt(int64(s.Quantity)))
}

// Total is the subtotal less the discount.
func (s SaleLine) Total() decimal.Decimal {
	return s.Subtotal().Sub(s.Discount)
}
