package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleximart/retail-etl/app/cleanse"
	"github.com/fleximart/retail-etl/app/row"
)

// --- Mock Lookup ---

type MockKeyLookup struct {
	Stored map[string]map[string]string
	Err    error
	calls  []string
}

func (m *MockKeyLookup) Owners(_ context.Context, _ row.Entity, column string, values []string) (map[string]string, error) {
	m.calls = append(m.calls, column)
	if m.Err != nil {
		return nil, m.Err
	}
	out := map[string]string{}
	for _, v := range values {
		if owner, ok := m.Stored[column][v]; ok {
			out[v] = owner
		}
	}
	return out, nil
}

// --- Helpers ---

func customer(id int64, email string, line int) cleanse.Customer {
	return cleanse.Customer{CustomerID: id, FirstName: "A", LastName: "B", Email: email, Line: line}
}

func sale(item string, line int) cleanse.SaleLine {
	return cleanse.SaleLine{OrderItemID: item, OrderID: 1, CustomerID: 1, ProductID: 1, Quantity: 1, Line: line}
}

// --- Tests ---

func TestDedupeSalesFirstSeenWins(t *testing.T) {
	// Arrange
	lines := []cleanse.SaleLine{sale("T001-1", 2), sale("T001-2", 3), sale("T001-1", 4)}

	// Act
	kept, rejected, err := Dedupe(context.Background(), nil, Sales(), lines)

	// Assert
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, 2, kept[0].Value.Line)
	assert.Equal(t, Insert, kept[0].Op)
	require.Len(t, rejected, 1)
	assert.Equal(t, 4, rejected[0].Line)
	assert.Equal(t, row.ReasonDuplicateKey, rejected[0].Reason)
	assert.Equal(t, row.StateDroppedDuplicate, rejected[0].State)
	var dup *row.DuplicateKeyError
	require.ErrorAs(t, rejected[0].Err, &dup)
	assert.Equal(t, 2, dup.FirstLine)
}

func TestDedupeCustomers(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	dated := func(c cleanse.Customer, t time.Time) cleanse.Customer {
		c.EffectiveDate = &t
		return c
	}

	testCases := []struct {
		name          string
		rows          []cleanse.Customer
		lookup        *MockKeyLookup
		expectKept    []int
		expectOps     []Op
		expectDropped []int
	}{
		{
			name:          "same id twice",
			rows:          []cleanse.Customer{customer(1, "a@x.com", 2), customer(1, "a@x.com", 3)},
			expectKept:    []int{2},
			expectOps:     []Op{Insert},
			expectDropped: []int{3},
		},
		{
			name:          "same email on different ids",
			rows:          []cleanse.Customer{customer(1, "a@x.com", 2), customer(2, "a@x.com", 3)},
			expectKept:    []int{2},
			expectOps:     []Op{Insert},
			expectDropped: []int{3},
		},
		{
			name:       "dated versions are history",
			rows:       []cleanse.Customer{dated(customer(1, "a@x.com", 2), jan), dated(customer(1, "a@x.com", 3), mar)},
			expectKept: []int{2, 3},
			expectOps:  []Op{Insert, Insert},
		},
		{
			name: "stored id routes as update",
			rows: []cleanse.Customer{customer(1, "a@x.com", 2), customer(2, "b@x.com", 3)},
			lookup: &MockKeyLookup{Stored: map[string]map[string]string{
				row.ColCustomerID: {"2": "2"},
				row.ColEmail:      {"b@x.com": "2"},
			}},
			expectKept: []int{2, 3},
			expectOps:  []Op{Insert, Update},
		},
		{
			name: "email owned by another stored customer",
			rows: []cleanse.Customer{customer(5, "taken@x.com", 2)},
			lookup: &MockKeyLookup{Stored: map[string]map[string]string{
				row.ColEmail: {"taken@x.com": "9"},
			}},
			expectDropped: []int{2},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var lookup KeyLookup
			if tc.lookup != nil {
				lookup = tc.lookup
			}

			kept, rejected, err := Dedupe(context.Background(), lookup, Customers(), tc.rows)

			require.NoError(t, err)
			var keptLines []int
			var ops []Op
			for _, k := range kept {
				keptLines = append(keptLines, k.Value.Line)
				ops = append(ops, k.Op)
			}
			var droppedLines []int
			for _, r := range rejected {
				droppedLines = append(droppedLines, r.Line)
				assert.Equal(t, row.ReasonDuplicateKey, r.Reason)
			}
			assert.Equal(t, tc.expectKept, keptLines)
			assert.Equal(t, tc.expectOps, ops)
			assert.Equal(t, tc.expectDropped, droppedLines)
		})
	}
}

func TestDedupeLookupError(t *testing.T) {
	lookup := &MockKeyLookup{Err: errors.New("db down")}

	_, _, err := Dedupe(context.Background(), lookup, Products(), []cleanse.Product{{ProductID: 1, Line: 2}})

	assert.ErrorContains(t, err, "db down")
}

func TestValues(t *testing.T) {
	kept := []Keyed[cleanse.SaleLine]{{Value: sale("a", 2)}, {Value: sale("b", 3), Op: Update}}

	assert.Equal(t, []cleanse.SaleLine{sale("a", 2), sale("b", 3)}, Values(kept))
	assert.Equal(t, "update", Update.String())
}
