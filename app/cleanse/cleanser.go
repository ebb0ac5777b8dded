// Package cleanse turns loosely typed rows into typed customer, product and
// sales records, or into rejections carrying the reason they failed.
package cleanse

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fleximart/retail-etl/app/row"
)

const (
	DefaultSegment  = "Standard"
	DefaultCategory = "Unknown"
	DefaultStatus   = "Pending"
)

var requiredFields = map[row.Entity][]string{
	row.Customers: {row.ColCustomerID, row.ColFirstName, row.ColLastName},
	row.Products:  {row.ColProductID, row.ColProductName, row.ColPrice},
	row.Sales:     {row.ColOrderID, row.ColOrderDate, row.ColCustomerID, row.ColProductID, row.ColQuantity, row.ColUnitPrice},
}

type Cleanser struct {
	countryCode string
	validate    *validator.Validate
}

// New returns a cleanser that prefixes normalized phone numbers with
// countryCode.
func New(countryCode string) *Cleanser {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("col"); name != "" {
			return name
		}
		return f.Name
	})
	return &Cleanser{countryCode: countryCode, validate: v}
}

// cell wraps a row while one record is being cleansed and counts repairs.
type cell struct {
	r        row.Row
	repaired int
}

func (c *cell) str(col string) string {
	return c.r.Get(col).String()
}

func (c *cell) present(col string) bool {
	_, ok := c.r.Fields[col]
	return ok
}

func (c *cell) id(col string) (int64, error) {
	raw := c.str(col)
	id, err := ParseID(raw)
	if err != nil {
		return 0, &row.TypeCoercionError{Field: col, Value: raw, Target: "id"}
	}
	return id, nil
}

func (c *cell) date(col string) (time.Time, error) {
	raw := c.str(col)
	t, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, &row.TypeCoercionError{Field: col, Value: raw, Target: "date"}
	}
	return t, nil
}

// optionalDate returns nil for a missing cell and rejects an unparseable one.
func (c *cell) optionalDate(col string) (*time.Time, error) {
	if c.r.Get(col).IsMissing() {
		return nil, nil
	}
	t, err := c.date(col)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *cell) money(col string) (decimal.Decimal, error) {
	raw := c.str(col)
	d, err := ParseMoney(raw)
	if err != nil {
		return decimal.Zero, &row.TypeCoercionError{Field: col, Value: raw, Target: "decimal"}
	}
	return d, nil
}

func (c *cell) count(col string) (int, error) {
	raw := c.str(col)
	n, err := ParseCount(raw)
	if err != nil {
		return 0, &row.TypeCoercionError{Field: col, Value: raw, Target: "integer"}
	}
	return n, nil
}

func (c *cell) requireAll(entity row.Entity) error {
	for _, col := range requiredFields[entity] {
		if c.r.Get(col).IsMissing() {
			return &row.MissingFieldError{Field: col}
		}
	}
	return nil
}

func (cl *Cleanser) check(v any) error {
	err := cl.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &row.InvalidValueError{Field: fieldErrs[0].Field(), Rule: fieldErrs[0].Tag()}
	}
	return err
}

func reject[T any](r row.Row, key string, err error) row.Result[T] {
	return row.Reject[T](row.NewRejection(r.Entity, r.Line, key, row.StateRejected, err))
}

func keyOf(r row.Row, col string) string {
	v := r.Get(col)
	if v.IsMissing() {
		return ""
	}
	return col + "=" + v.String()
}

// Customer cleanses one customer row.
func (cl *Cleanser) Customer(r row.Row) row.Result[Customer] {
	c := &cell{r: r}
	key := keyOf(r, row.ColCustomerID)
	if err := c.requireAll(row.Customers); err != nil {
		return reject[Customer](r, key, err)
	}

	id, err := c.id(row.ColCustomerID)
	if err != nil {
		return reject[Customer](r, key, err)
	}
	effective, err := c.optionalDate(row.ColEffectiveDate)
	if err != nil {
		return reject[Customer](r, key, err)
	}

	out := Customer{
		CustomerID:    id,
		FirstName:     strings.TrimSpace(c.str(row.ColFirstName)),
		LastName:      strings.TrimSpace(c.str(row.ColLastName)),
		City:          strings.TrimSpace(c.str(row.ColCity)),
		Segment:       NormalizeCategory(c.str(row.ColSegment)),
		EffectiveDate: effective,
		Line:          r.Line,
	}
	if out.Segment == "" {
		out.Segment = DefaultSegment
	}

	if r.Get(row.ColEmail).IsMissing() {
		out.Email = SynthesizeEmail(out.FirstName, out.LastName, id)
		c.repaired++
	} else {
		out.Email = CanonicalEmail(c.str(row.ColEmail))
	}

	if !r.Get(row.ColPhone).IsMissing() {
		if phone, ok := NormalizePhone(c.str(row.ColPhone), cl.countryCode); ok {
			out.Phone = &phone
		} else {
			c.repaired++
		}
	}

	if !r.Get(row.ColRegistrationDate).IsMissing() {
		if t, err := ParseDate(c.str(row.ColRegistrationDate)); err == nil {
			out.RegistrationDate = &t
		} else {
			c.repaired++
		}
	}

	if err := cl.check(out); err != nil {
		return reject[Customer](r, key, err)
	}
	return row.Accept(r.Line, out, c.repaired)
}

// Product cleanses one product row.
func (cl *Cleanser) Product(r row.Row) row.Result[Product] {
	c := &cell{r: r}
	key := keyOf(r, row.ColProductID)
	if err := c.requireAll(row.Products); err != nil {
		return reject[Product](r, key, err)
	}

	id, err := c.id(row.ColProductID)
	if err != nil {
		return reject[Product](r, key, err)
	}
	price, err := c.money(row.ColPrice)
	if err != nil {
		return reject[Product](r, key, err)
	}
	effective, err := c.optionalDate(row.ColEffectiveDate)
	if err != nil {
		return reject[Product](r, key, err)
	}

	out := Product{
		ProductID:     id,
		Name:          strings.TrimSpace(c.str(row.ColProductName)),
		Category:      NormalizeCategory(c.str(row.ColCategory)),
		Price:         price,
		EffectiveDate: effective,
		Line:          r.Line,
	}
	if out.Category == "" {
		out.Category = DefaultCategory
		c.repaired++
	}

	switch {
	case !r.Get(row.ColStockQuantity).IsMissing():
		if n, err := c.count(row.ColStockQuantity); err == nil {
			out.StockQuantity = n
		} else {
			c.repaired++
		}
	case c.present(row.ColStockQuantity):
		c.repaired++
	}

	if price.IsNegative() {
		return reject[Product](r, key, &row.InvalidValueError{Field: row.ColPrice, Rule: "gte=0"})
	}
	if err := cl.check(out); err != nil {
		return reject[Product](r, key, err)
	}
	return row.Accept(r.Line, out, c.repaired)
}

// Sale cleanses one sales row. A feed without order_item_id gets the line
// key "<order_id>-<product_id>".
func (cl *Cleanser) Sale(r row.Row) row.Result[SaleLine] {
	c := &cell{r: r}
	key := keyOf(r, row.ColOrderItemID)
	if key == "" {
		key = keyOf(r, row.ColOrderID)
	}
	if err := c.requireAll(row.Sales); err != nil {
		return reject[SaleLine](r, key, err)
	}

	out := SaleLine{Line: r.Line, Discount: decimal.Zero}
	var err error
	if out.OrderID, err = c.id(row.ColOrderID); err != nil {
		return reject[SaleLine](r, key, err)
	}
	if out.CustomerID, err = c.id(row.ColCustomerID); err != nil {
		return reject[SaleLine](r, key, err)
	}
	if out.ProductID, err = c.id(row.ColProductID); err != nil {
		return reject[SaleLine](r, key, err)
	}
	if out.OrderDate, err = c.date(row.ColOrderDate); err != nil {
		return reject[SaleLine](r, key, err)
	}
	if out.Quantity, err = c.count(row.ColQuantity); err != nil {
		return reject[SaleLine](r, key, err)
	}
	if out.UnitPrice, err = c.money(row.ColUnitPrice); err != nil {
		return reject[SaleLine](r, key, err)
	}
	if !r.Get(row.ColTotalAmount).IsMissing() {
		total, err := c.money(row.ColTotalAmount)
		if err != nil {
			return reject[SaleLine](r, key, err)
		}
		out.SourceTotal = &total
	}

	if !r.Get(row.ColDiscountAmount).IsMissing() {
		if d, err := c.money(row.ColDiscountAmount); err == nil {
			out.Discount = d
		} else {
			c.repaired++
		}
	}

	out.OrderItemID = strings.TrimSpace(c.str(row.ColOrderItemID))
	if out.OrderItemID == "" {
		out.OrderItemID = strconv.FormatInt(out.OrderID, 10) + "-" + strconv.FormatInt(out.ProductID, 10)
	}
	out.Status = NormalizeStatus(c.str(row.ColStatus))
	if out.Status == "" {
		out.Status = DefaultStatus
	}

	switch {
	case out.UnitPrice.IsNegative():
		return reject[SaleLine](r, key, &row.InvalidValueError{Field: row.ColUnitPrice, Rule: "gte=0"})
	case out.Discount.IsNegative():
		return reject[SaleLine](r, key, &row.InvalidValueError{Field: row.ColDiscountAmount, Rule: "gte=0"})
	}
	if err := cl.check(out); err != nil {
		return reject[SaleLine](r, key, err)
	}
	if out.Discount.GreaterThan(out.Subtotal()) {
		return reject[SaleLine](r, key, &row.InvalidValueError{Field: row.ColDiscountAmount, Rule: "lte=subtotal"})
	}
	return row.Accept(r.Line, out, c.repaired)
}
