package cleanse

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleximart/retail-etl/app/row"
)

// --- Helpers ---

func mkRow(entity row.Entity, line int, fields map[string]string) row.Row {
	r := row.Row{Entity: entity, Line: line, Fields: map[string]row.Value{}}
	for k, v := range fields {
		r.Fields[k] = row.RawValue(v)
	}
	return r
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// --- Tests: customers ---

func TestCustomerMissingEmailIsSynthesized(t *testing.T) {
	// Arrange
	cl := New("+91-")
	r := mkRow(row.Customers, 4, map[string]string{
		"customer_id": "3",
		"first_name":  "Amit",
		"last_name":   "Kumar",
		"email":       "null",
		"phone":       "9876543210",
		"city":        "Bangalore",
	})

	// Act
	first := cl.Customer(r)
	second := cl.Customer(r)

	// Assert
	require.True(t, first.Accepted())
	assert.Equal(t, int64(3), first.Value.CustomerID)
	assert.Equal(t, "amit.kumar+3@example.com", first.Value.Email)
	assert.Equal(t, first.Value.Email, second.Value.Email, "synthesis is deterministic")
	assert.Equal(t, 1, first.Repaired)
	require.NotNil(t, first.Value.Phone)
	assert.Equal(t, "+91-9876543210", *first.Value.Phone)
	assert.Equal(t, DefaultSegment, first.Value.Segment)
}

func TestCustomerRules(t *testing.T) {
	testCases := []struct {
		name          string
		fields        map[string]string
		expectReason  row.Reason
		checkCustomer func(t *testing.T, c Customer, repaired int)
	}{
		{
			name: "normalizes id, email, phone and date",
			fields: map[string]string{
				"customer_id":       "C007",
				"first_name":        " Sneha ",
				"last_name":         "Reddy",
				"email":             " Sneha.Reddy@Gmail.COM ",
				"phone":             "+91 98765-43210",
				"registration_date": "15/01/2023",
				"segment":           "PREMIUM",
			},
			checkCustomer: func(t *testing.T, c Customer, repaired int) {
				assert.Equal(t, int64(7), c.CustomerID)
				assert.Equal(t, "Sneha", c.FirstName)
				assert.Equal(t, "sneha.reddy@gmail.com", c.Email)
				assert.Equal(t, "+91-9876543210", *c.Phone)
				assert.Equal(t, date(2023, 1, 15), *c.RegistrationDate)
				assert.Equal(t, "Premium", c.Segment)
				assert.Equal(t, 0, repaired)
			},
		},
		{
			name: "short phone and bad registration date are dropped",
			fields: map[string]string{
				"customer_id":       "8",
				"first_name":        "Vikram",
				"last_name":         "Singh",
				"email":             "vikram@example.com",
				"phone":             "12345",
				"registration_date": "someday",
			},
			checkCustomer: func(t *testing.T, c Customer, repaired int) {
				assert.Nil(t, c.Phone)
				assert.Nil(t, c.RegistrationDate)
				assert.Equal(t, 2, repaired)
			},
		},
		{
			name:         "missing first name",
			fields:       map[string]string{"customer_id": "9", "last_name": "Nair"},
			expectReason: row.ReasonMissingField,
		},
		{
			name:         "id without digits",
			fields:       map[string]string{"customer_id": "CX", "first_name": "A", "last_name": "B"},
			expectReason: row.ReasonTypeCoercion,
		},
		{
			name:         "malformed email",
			fields:       map[string]string{"customer_id": "10", "first_name": "A", "last_name": "B", "email": "not-an-email"},
			expectReason: row.ReasonInvalidValue,
		},
		{
			name:         "unparseable effective date",
			fields:       map[string]string{"customer_id": "11", "first_name": "A", "last_name": "B", "effective_date": "soon"},
			expectReason: row.ReasonTypeCoercion,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := New("+91-").Customer(mkRow(row.Customers, 2, tc.fields))

			if tc.expectReason != "" {
				require.False(t, res.Accepted())
				assert.Equal(t, tc.expectReason, res.Rejection.Reason)
				assert.Equal(t, row.StateRejected, res.Rejection.State)
				assert.Equal(t, 2, res.Rejection.Line)
				return
			}
			require.True(t, res.Accepted(), "rejected: %v", res.Rejection)
			tc.checkCustomer(t, res.Value, res.Repaired)
		})
	}
}

// --- Tests: products ---

func TestProductRules(t *testing.T) {
	testCases := []struct {
		name         string
		fields       map[string]string
		expectReason row.Reason
		checkProduct func(t *testing.T, p Product, repaired int)
	}{
		{
			name:   "category defaulted and stock defaulted",
			fields: map[string]string{"product_id": "P001", "product_name": "Laptop", "price": "₹45,999.00", "category": "", "stock_quantity": ""},
			checkProduct: func(t *testing.T, p Product, repaired int) {
				assert.Equal(t, int64(1), p.ProductID)
				assert.True(t, decimal.RequireFromString("45999").Equal(p.Price))
				assert.Equal(t, DefaultCategory, p.Category)
				assert.Equal(t, 0, p.StockQuantity)
				assert.Equal(t, 2, repaired)
			},
		},
		{
			name:   "category capitalized",
			fields: map[string]string{"product_id": "2", "product_name": "Mouse", "price": "799", "category": "  ELECTRONICS ", "stock_quantity": "150.0"},
			checkProduct: func(t *testing.T, p Product, repaired int) {
				assert.Equal(t, "Electronics", p.Category)
				assert.Equal(t, 150, p.StockQuantity)
				assert.Equal(t, 0, repaired)
			},
		},
		{
			name:         "missing price",
			fields:       map[string]string{"product_id": "3", "product_name": "Desk"},
			expectReason: row.ReasonMissingField,
		},
		{
			name:         "price not a number",
			fields:       map[string]string{"product_id": "3", "product_name": "Desk", "price": "cheap"},
			expectReason: row.ReasonTypeCoercion,
		},
		{
			name:         "negative price",
			fields:       map[string]string{"product_id": "3", "product_name": "Desk", "price": "-1"},
			expectReason: row.ReasonInvalidValue,
		},
		{
			name:         "negative stock",
			fields:       map[string]string{"product_id": "3", "product_name": "Desk", "price": "10", "stock_quantity": "-4"},
			expectReason: row.ReasonInvalidValue,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := New("+91-").Product(mkRow(row.Products, 3, tc.fields))

			if tc.expectReason != "" {
				require.False(t, res.Accepted())
				assert.Equal(t, tc.expectReason, res.Rejection.Reason)
				return
			}
			require.True(t, res.Accepted(), "rejected: %v", res.Rejection)
			tc.checkProduct(t, res.Value, res.Repaired)
		})
	}
}

// --- Tests: sales ---

func TestSaleRules(t *testing.T) {
	base := func(over map[string]string) map[string]string {
		f := map[string]string{
			"order_id":    "T001",
			"order_date":  "2024-01-15",
			"customer_id": "C001",
			"product_id":  "P001",
			"quantity":    "2",
			"unit_price":  "45999",
		}
		for k, v := range over {
			f[k] = v
		}
		return f
	}

	testCases := []struct {
		name         string
		fields       map[string]string
		expectReason row.Reason
		checkSale    func(t *testing.T, s SaleLine)
	}{
		{
			name:   "defaults and derived line key",
			fields: base(nil),
			checkSale: func(t *testing.T, s SaleLine) {
				assert.Equal(t, "1-1", s.OrderItemID)
				assert.Equal(t, DefaultStatus, s.Status)
				assert.True(t, s.Discount.IsZero())
				assert.True(t, decimal.NewFromInt(91998).Equal(s.Total()))
				assert.Nil(t, s.SourceTotal)
			},
		},
		{
			name:   "explicit line key, discount and status",
			fields: base(map[string]string{"order_item_id": "T001-1", "discount_amount": "998", "status": "COMPLETED", "total_amount": "91000", "order_date": "01/20/2024"}),
			checkSale: func(t *testing.T, s SaleLine) {
				assert.Equal(t, "T001-1", s.OrderItemID)
				assert.Equal(t, "Completed", s.Status)
				assert.True(t, decimal.NewFromInt(91000).Equal(s.Total()))
				require.NotNil(t, s.SourceTotal)
				assert.Equal(t, date(2024, 1, 20), s.OrderDate)
			},
		},
		{
			name:         "missing order date",
			fields:       base(map[string]string{"order_date": ""}),
			expectReason: row.ReasonMissingField,
		},
		{
			name:         "fractional quantity",
			fields:       base(map[string]string{"quantity": "1.5"}),
			expectReason: row.ReasonTypeCoercion,
		},
		{
			name:         "zero quantity",
			fields:       base(map[string]string{"quantity": "0"}),
			expectReason: row.ReasonInvalidValue,
		},
		{
			name:         "discount above subtotal",
			fields:       base(map[string]string{"discount_amount": "100000"}),
			expectReason: row.ReasonInvalidValue,
		},
		{
			name:         "total not a number",
			fields:       base(map[string]string{"total_amount": "lots"}),
			expectReason: row.ReasonTypeCoercion,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := New("+91-").Sale(mkRow(row.Sales, 5, tc.fields))

			if tc.expectReason != "" {
				require.False(t, res.Accepted())
				assert.Equal(t, tc.expectReason, res.Rejection.Reason)
				return
			}
			require.True(t, res.Accepted(), "rejected: %v", res.Rejection)
			tc.checkSale(t, res.Value)
		})
	}
}
