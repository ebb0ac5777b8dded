package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleximart/retail-etl/app/retry"
	"github.com/fleximart/retail-etl/app/row"
)

// --- Helpers ---

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestExtractor() *Extractor {
	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return New(time.Minute, p)
}

func collect(t *testing.T, e *Extractor, src Source) ([]row.Row, []error) {
	t.Helper()
	var rows []row.Row
	var errs []error
	for r, err := range e.Extract(context.Background(), src) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rows = append(rows, r)
	}
	return rows, errs
}

// --- Tests ---

func TestExtractCSV(t *testing.T) {
	path := writeFile(t, "sales_raw.csv",
		"Transaction ID,transaction_date,customer_id,product_id,quantity,unit_price\n"+
			"T001,2024-01-15,C001,P001,2,45999\n"+
			"\n"+
			"T002,15/01/2024,C002,P004,1,\n")

	rows, errs := collect(t, newTestExtractor(), Source{Entity: row.Sales, Path: path})

	require.Empty(t, errs)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, 4, rows[1].Line, "blank lines keep source numbering")
	assert.Equal(t, "T001", rows[0].Get(row.ColOrderID).String(), "alias and header normalization")
	assert.Equal(t, "2024-01-15", rows[0].Get(row.ColOrderDate).String())
	assert.True(t, rows[1].Get(row.ColUnitPrice).IsMissing())
	assert.Equal(t, row.Sales, rows[1].Entity)
}

func TestExtractCSVShortAndLongRecords(t *testing.T) {
	path := writeFile(t, "customers_raw.csv",
		"customer_id,first_name,last_name,email\n"+
			"C001,Rahul,Sharma\n"+
			"C002,Priya,Patel,priya@example.com,extra\n"+
			"C003,Amit,Kumar,amit@example.com\n")

	rows, errs := collect(t, newTestExtractor(), Source{Entity: row.Customers, Path: path})

	require.Len(t, rows, 2)
	assert.True(t, rows[0].Get(row.ColEmail).IsMissing(), "short record pads with Missing")
	require.Len(t, errs, 1)
	assert.Equal(t, row.ReasonMalformedRecord, row.ReasonOf(errs[0]))
}

func TestExtractJSONArrayAndLines(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "array",
			file:    "products_raw.json",
			content: `[{"product_id":"P001","Name":"Laptop","price":45999.5,"stock_quantity":null},{"product_id":"P002","Name":"Mouse","price":"799"}]`,
		},
		{
			name:    "lines",
			file:    "products_raw.ndjson",
			content: "{\"product_id\":\"P001\",\"Name\":\"Laptop\",\"price\":45999.5,\"stock_quantity\":null}\n{\"product_id\":\"P002\",\"Name\":\"Mouse\",\"price\":\"799\"}\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, tc.file, tc.content)

			rows, errs := collect(t, newTestExtractor(), Source{Entity: row.Products, Path: path})

			require.Empty(t, errs)
			require.Len(t, rows, 2)
			assert.Equal(t, "Laptop", rows[0].Get(row.ColProductName).String())
			assert.Equal(t, "45999.5", rows[0].Get(row.ColPrice).String())
			assert.True(t, rows[0].Get(row.ColStockQuantity).IsMissing())
			assert.Equal(t, 2, rows[1].Line)
		})
	}
}

func TestExtractSourceReadErrors(t *testing.T) {
	testCases := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "missing file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.csv") }},
		{name: "empty file", path: func(t *testing.T) string { return writeFile(t, "empty.csv", "") }},
		{name: "header only", path: func(t *testing.T) string { return writeFile(t, "header.csv", "customer_id,first_name\n") }},
		{name: "empty json array", path: func(t *testing.T) string { return writeFile(t, "empty.json", "[]") }},
		{name: "broken json", path: func(t *testing.T) string { return writeFile(t, "broken.json", `[{"a":`) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rows, errs := collect(t, newTestExtractor(), Source{Entity: row.Customers, Path: tc.path(t)})

			assert.Empty(t, rows)
			require.Len(t, errs, 1)
			var srcErr *row.SourceReadError
			assert.ErrorAs(t, errs[0], &srcErr)
		})
	}
}

func TestExtractTimeout(t *testing.T) {
	path := writeFile(t, "customers_raw.csv", "customer_id\nC001\nC002\n")
	e := newTestExtractor()
	r, err := e.Open(context.Background(), Source{Entity: row.Customers, Path: path})
	require.NoError(t, err)
	defer r.Close()
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	var errs []error
	for _, err := range r.Rows(ctx) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	require.Len(t, errs, 1)
	var ioErr *row.IOTimeoutError
	assert.ErrorAs(t, errs[0], &ioErr)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatFor("sales_raw.csv"))
	assert.Equal(t, FormatCSV, FormatFor("sales_raw.txt"))
	assert.Equal(t, FormatJSON, FormatFor("sales.JSON"))
	assert.Equal(t, FormatJSON, FormatFor("sales.ndjson"))
}
