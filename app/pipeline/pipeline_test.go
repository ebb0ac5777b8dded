package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fleximart/retail-etl/app/config"
	"github.com/fleximart/retail-etl/app/logger"
	"github.com/fleximart/retail-etl/app/report"
	"github.com/fleximart/retail-etl/app/row"
	"github.com/fleximart/retail-etl/models"
	"github.com/fleximart/retail-etl/models/testutil"
)

// --- Helpers ---

const (
	customersCSV = `customer_id,first_name,last_name,email,phone,city,registration_date
C001,Rahul,Sharma,Rahul.Sharma@gmail.com,+91-9876543210,Bangalore,2023-01-15
C002,Priya,Patel,priya.patel@yahoo.com,9876543211,Mumbai,15/02/2023
C003,Amit,Kumar,,9876543212,Delhi,2023-03-10
C001,Rahul,Sharma,rahul.sharma@gmail.com,+91-9876543210,Bangalore,2023-01-15
C004,,Singh,sneha@example.com,,Chennai,2023-04-01
`
	productsCSV = `product_id,product_name,category,price,stock_quantity
P001,Samsung Galaxy S21,electronics,45999.00,150
P002,Nike Running Shoes,Fashion,3299.00,
`
	salesCSV = `transaction_id,customer_id,product_id,transaction_date,quantity,unit_price,status,order_item_id
T001,C001,P001,2024-01-15,1,45999.00,completed,T001-1
T001,C001,P002,2024-01-15,2,3299.00,completed,T001-2
T002,C003,P002,15/02/2024,1,3299.00,Pending,T002-1
T002,C003,P002,15/02/2024,1,3299.00,Pending,T002-1
T003,C004,P001,2024-03-01,1,45999.00,completed,T003-1
T004,C002,P999,2024-03-02,1,100,completed,T004-1
`
)

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(t *testing.T, customers, products, sales string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.CustomersFile = writeSource(t, dir, "customers_raw.csv", customers)
	cfg.ProductsFile = writeSource(t, dir, "products_raw.csv", products)
	cfg.SalesFile = writeSource(t, dir, "sales_raw.csv", sales)
	cfg.ReportFile = filepath.Join(dir, "data_quality_report.txt")
	cfg.ReportJSONFile = filepath.Join(dir, "data_quality_report.json")
	cfg.AsOf = "2024-01-01"
	cfg.BufferSize = 2
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config, db *gorm.DB) *Pipeline {
	t.Helper()
	p, err := New(cfg, db, logger.Nop(), func() time.Time { return fixedNow })
	require.NoError(t, err)
	return p
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

// --- Tests ---

func TestRunLoadsBatch(t *testing.T) {
	// Arrange
	db := testutil.DB(t)
	testutil.SeedCalendar(t, db, 2024, 2024)
	cfg := testConfig(t, customersCSV, productsCSV, salesCSV)
	p := newTestPipeline(t, cfg, db)

	// Act
	r, err := p.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, report.StatusSucceeded, r.Status)

	cust := r.Entities[row.Customers]
	assert.Equal(t, 5, cust.Read)
	assert.Equal(t, 3, cust.Accepted)
	assert.Equal(t, 1, cust.Rejected)
	assert.Equal(t, 1, cust.Duplicates)
	assert.Equal(t, 1, cust.Repaired, "synthesized email")
	assert.Equal(t, 3, cust.VersionsOpened)
	assert.Equal(t, 1, cust.Reasons[row.ReasonMissingField])

	sales := r.Entities[row.Sales]
	assert.Equal(t, 6, sales.Read)
	assert.Equal(t, 3, sales.Accepted)
	assert.Equal(t, 1, sales.Duplicates)
	assert.Equal(t, 2, sales.Rejected)
	assert.Equal(t, 1, sales.Reasons[row.ReasonDuplicateKey])
	assert.Equal(t, 2, sales.Reasons[row.ReasonUnknownReference])

	assert.Equal(t, map[string]int{
		"customers":    3,
		"products":     2,
		"dim_customer": 3,
		"dim_product":  2,
		"orders":       2,
		"order_items":  3,
		"fact_sales":   3,
	}, r.Loaded)

	var amit models.Customer
	require.NoError(t, db.First(&amit, "customer_id = ?", 3).Error)
	assert.Equal(t, "amit.kumar+3@example.com", amit.Email)

	var rahul models.Customer
	require.NoError(t, db.First(&rahul, "customer_id = ?", 1).Error)
	assert.Equal(t, "rahul.sharma@gmail.com", rahul.Email)
	require.NotNil(t, rahul.Phone)
	assert.Equal(t, "+91-9876543210", *rahul.Phone)

	var order models.Order
	require.NoError(t, db.First(&order, "order_id = ?", 1).Error)
	assert.True(t, decimal.NewFromInt(52597).Equal(order.TotalAmount), "got %s", order.TotalAmount)
	assert.Equal(t, "Completed", order.Status)

	var items []models.OrderItem
	require.NoError(t, db.Find(&items, "order_id = ?", 2).Error)
	require.Len(t, items, 1, "duplicate order line dropped, first kept")
	assert.Equal(t, "T002-1", items[0].OrderItemID)

	var fact models.FactSales
	require.NoError(t, db.First(&fact, "sales_key = ?", "T002-1").Error)
	assert.Equal(t, 20240215, fact.DateKey)

	text, err := os.ReadFile(cfg.ReportFile)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Records processed: 5")
	assert.FileExists(t, cfg.ReportJSONFile)

	saved, err := models.NewRunsRepository(db).GetByRunID(context.Background(), r.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusSucceeded, saved.Status)
	assert.Equal(t, 13, saved.RowsRead)
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	testutil.SeedCalendar(t, db, 2024, 2024)
	cfg := testConfig(t, customersCSV, productsCSV, salesCSV)

	_, err := newTestPipeline(t, cfg, db).Run(context.Background())
	require.NoError(t, err)
	second, err := newTestPipeline(t, cfg, db).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, second.Entities[row.Customers].Updated)
	assert.Zero(t, second.Entities[row.Customers].Inserted)
	assert.Zero(t, second.Entities[row.Customers].VersionsOpened)
	assert.Equal(t, int64(3), count(t, db, &models.DimCustomer{}))
	assert.Equal(t, int64(2), count(t, db, &models.DimProduct{}))
	assert.Equal(t, int64(3), count(t, db, &models.FactSales{}))
	assert.Equal(t, int64(2), count(t, db, &models.EtlRun{}))
}

func TestRunFailures(t *testing.T) {
	testCases := []struct {
		name      string
		customers string
		products  string
		sales     string
		missing   bool
		assertErr func(t *testing.T, err error)
	}{
		{
			name:    "unreadable source",
			missing: true,
			assertErr: func(t *testing.T, err error) {
				var srcErr *row.SourceReadError
				assert.ErrorAs(t, err, &srcErr)
			},
		},
		{
			name:      "nothing accepted",
			customers: "customer_id,first_name,last_name\nC001,,Sharma\n",
			products:  "product_id,product_name,price\nP001,,100\n",
			sales:     "order_id,customer_id,product_id,order_date,quantity,unit_price\nT001,C001,P001,2024-01-15,,100\n",
			assertErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNoAcceptedRows)
			},
		},
		{
			name:      "every sale rejected at resolution",
			customers: "customer_id,first_name,last_name\nC001,,Sharma\n",
			products:  "product_id,product_name,price\nP001,,100\n",
			sales:     "transaction_id,customer_id,product_id,transaction_date,quantity,unit_price,status,order_item_id\nT001,C001,P001,2024-01-15,2,100,completed,T001-1\n",
			assertErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNoAcceptedRows)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			db := testutil.DB(t)
			cfg := testConfig(t, tc.customers, tc.products, tc.sales)
			if tc.missing {
				cfg.SalesFile = filepath.Join(t.TempDir(), "absent.csv")
			}
			p := newTestPipeline(t, cfg, db)

			// Act
			r, err := p.Run(context.Background())

			// Assert
			require.Error(t, err)
			tc.assertErr(t, err)
			assert.Equal(t, report.StatusFailed, r.Status)
			assert.FileExists(t, cfg.ReportFile)
			assert.Equal(t, int64(1), count(t, db, &models.EtlRun{}))
			assert.Zero(t, count(t, db, &models.Customer{}))
		})
	}
}
