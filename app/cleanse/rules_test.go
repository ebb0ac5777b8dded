package cleanse

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	testCases := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-15", date(2024, 1, 15)},
		{"2024/1/5", date(2024, 1, 5)},
		{"2024.01.05", date(2024, 1, 5)},
		{"15/01/2024", date(2024, 1, 15)},
		{"15-01-2024", date(2024, 1, 15)},
		{"03/04/2024", date(2024, 4, 3)},
		{"01/15/2024", date(2024, 1, 15)},
		{"1-15-2024", date(2024, 1, 15)},
		{"Jan 15, 2024", date(2024, 1, 15)},
		{"2024-01-15T10:30:00Z", date(2024, 1, 15)},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDate(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{"", "yesterday", "32/13/2024", "2024-02-30"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestNormalizePhone(t *testing.T) {
	testCases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"9876543210", "+91-9876543210", true},
		{"+91 98765 43210", "+91-9876543210", true},
		{"09876543210", "+91-9876543210", true},
		{"(987) 654-3210", "+91-9876543210", true},
		{"12345", "", false},
	}

	for _, tc := range testCases {
		got, ok := NormalizePhone(tc.in, "+91-")
		assert.Equal(t, tc.wantOK, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("C003")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	id, err = ParseID("T-0042")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ParseID("none")
	assert.Error(t, err)
}

func TestSynthesizeEmail(t *testing.T) {
	assert.Equal(t, "amit.kumar+3@example.com", SynthesizeEmail("Amit", "Kumar", 3))
	assert.Equal(t, "oconnor+12@example.com", SynthesizeEmail("", "O'Connor", 12))
	assert.Equal(t, "customer+5@example.com", SynthesizeEmail("", "", 5))
}

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "Home & kitchen", NormalizeCategory("  HOME & KITCHEN "))
	assert.Equal(t, "", NormalizeCategory("   "))
	assert.Equal(t, "Out For Delivery", NormalizeStatus("out for DELIVERY"))
	assert.Equal(t, "a@b.com", CanonicalEmail(" A @B.com "))

	n, err := ParseCount("7.0")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	m, err := ParseMoney("$1,299.50")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1299.5").Equal(m))
}

func TestPriceTier(t *testing.T) {
	std, prem := decimal.NewFromInt(1000), decimal.NewFromInt(10000)

	assert.Equal(t, "Budget", PriceTier(decimal.RequireFromString("999.99"), std, prem))
	assert.Equal(t, "Standard", PriceTier(decimal.NewFromInt(1000), std, prem))
	assert.Equal(t, "Standard", PriceTier(decimal.NewFromInt(9999), std, prem))
	assert.Equal(t, "Premium", PriceTier(decimal.NewFromInt(10000), std, prem))
}
