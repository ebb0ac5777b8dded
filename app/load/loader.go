// Package load writes a resolved plan to the OLTP and warehouse tables in one
// transaction. Every write is an upsert on a natural or surrogate key, so
// loading the same plan twice leaves the store unchanged.
package load

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fleximart/retail-etl/app/cleanse"
	"github.com/fleximart/retail-etl/app/logger"
	"github.com/fleximart/retail-etl/app/resolve"
	"github.com/fleximart/retail-etl/app/retry"
	"github.com/fleximart/retail-etl/app/row"
	"github.com/fleximart/retail-etl/models"
)

// Tolerance is how far a source total_amount may drift from the computed one.
var Tolerance = decimal.RequireFromString("0.01")

type Loader struct {
	db        *gorm.DB
	batchSize int
	timeout   time.Duration
	policy    retry.Policy
	log       *logger.Logger
}

func New(db *gorm.DB, batchSize int, timeout time.Duration, policy retry.Policy, log *logger.Logger) *Loader {
	if batchSize < 1 {
		batchSize = 1000
	}
	return &Loader{db: db, batchSize: batchSize, timeout: timeout, policy: policy, log: log}
}

// Result reports rows written per table and lines dropped at load time.
type Result struct {
	Loaded   map[string]int
	Rejected []row.Rejection
}

// Load writes plan atomically. Transient store failures are retried under the
// loader's policy; any other error rolls the batch back.
func (l *Loader) Load(ctx context.Context, plan resolve.Plan) (Result, error) {
	facts, rejected := CheckTotals(plan.Facts)
	rows := l.build(plan, facts)
	res := Result{Rejected: rejected}

	err := l.policy.Do(ctx, "load batch", func(ctx context.Context) error {
		if l.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}
		loaded := map[string]int{}
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return l.write(tx, rows, loaded)
		})
		if err != nil {
			l.log.Warn("load attempt rolled back", "error", err)
			return err
		}
		res.Loaded = loaded
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("load batch: %w", err)
	}
	return res, nil
}

// CheckTotals drops lines whose source total disagrees with
// quantity × unit price − discount by more than Tolerance.
func CheckTotals(facts []resolve.Fact) ([]resolve.Fact, []row.Rejection) {
	kept := make([]resolve.Fact, 0, len(facts))
	var rejected []row.Rejection
	for _, f := range facts {
		if src := f.Line.SourceTotal; src != nil {
			computed := f.Total()
			if computed.Sub(*src).Abs().GreaterThan(Tolerance) {
				err := &row.ComputedValueMismatchError{Key: f.Line.OrderItemID, Computed: computed, Source: *src}
				rejected = append(rejected, row.NewRejection(row.Sales, f.Line.Line, row.ColOrderItemID+"="+f.Line.OrderItemID, row.StateLoadFailed, err))
				continue
			}
		}
		kept = append(kept, f)
	}
	return kept, rejected
}

type tableRows struct {
	customers     []models.Customer
	products      []models.Product
	dimCustomers  []models.DimCustomer
	dimProducts   []models.DimProduct
	customerType1 map[int64]map[string]any
	productType1  map[int64]map[string]any
	orders        []models.Order
	items         []models.OrderItem
	facts         []models.FactSales
}

func (l *Loader) build(plan resolve.Plan, facts []resolve.Fact) tableRows {
	var out tableRows

	latestCustomer := map[int64]cleanse.Customer{}
	var customerOrder []int64
	for _, c := range plan.Customers {
		if c.Kind == resolve.Unchanged {
			continue
		}
		id := c.Record.CustomerID
		if _, ok := latestCustomer[id]; !ok {
			customerOrder = append(customerOrder, id)
		}
		latestCustomer[id] = c.Record
	}
	out.customerType1 = map[int64]map[string]any{}
	for _, id := range customerOrder {
		c := latestCustomer[id]
		out.customers = append(out.customers, models.Customer{
			CustomerID:       c.CustomerID,
			FirstName:        c.FirstName,
			LastName:         c.LastName,
			Email:            c.Email,
			Phone:            c.Phone,
			City:             c.City,
			RegistrationDate: c.RegistrationDate,
		})
		out.customerType1[id] = map[string]any{"customer_name": fullName(c), "email": c.Email}
	}
	out.dimCustomers = finalVersions(plan.Customers, func(v resolve.Version) models.DimCustomer {
		c := latestCustomer[v.NaturalKey]
		return models.DimCustomer{
			CustomerKey:        v.Key,
			CustomerID:         v.NaturalKey,
			CustomerName:       fullName(c),
			Email:              c.Email,
			City:               v.Tracked[0],
			Segment:            v.Tracked[1],
			EffectiveStartDate: v.Start,
			EffectiveEndDate:   v.End,
			CurrentFlag:        v.Current,
			AttrHash:           int64(v.Hash),
		}
	}, func(d models.DimCustomer) bool { return d.CurrentFlag })

	latestProduct := map[int64]cleanse.Product{}
	var productOrder []int64
	for _, p := range plan.Products {
		if p.Kind == resolve.Unchanged {
			continue
		}
		id := p.Record.ProductID
		if _, ok := latestProduct[id]; !ok {
			productOrder = append(productOrder, id)
		}
		latestProduct[id] = p.Record
	}
	out.productType1 = map[int64]map[string]any{}
	for _, id := range productOrder {
		p := latestProduct[id]
		out.products = append(out.products, models.Product{
			ProductID:     p.ProductID,
			ProductName:   p.Name,
			Category:      p.Category,
			Price:         p.Price,
			StockQuantity: p.StockQuantity,
		})
		out.productType1[id] = map[string]any{"product_name": p.Name, "unit_price": p.Price}
	}
	out.dimProducts = finalVersions(plan.Products, func(v resolve.Version) models.DimProduct {
		p := latestProduct[v.NaturalKey]
		return models.DimProduct{
			ProductKey:         v.Key,
			ProductID:          v.NaturalKey,
			ProductName:        p.Name,
			Category:           v.Tracked[0],
			PriceTier:          v.Tracked[1],
			UnitPrice:          p.Price,
			EffectiveStartDate: v.Start,
			EffectiveEndDate:   v.End,
			CurrentFlag:        v.Current,
			AttrHash:           int64(v.Hash),
		}
	}, func(d models.DimProduct) bool { return d.CurrentFlag })

	orders := map[int64]int{}
	for _, f := range facts {
		s := f.Line
		if i, ok := orders[s.OrderID]; ok {
			out.orders[i].Status = s.Status
		} else {
			orders[s.OrderID] = len(out.orders)
			out.orders = append(out.orders, models.Order{
				OrderID:     s.OrderID,
				CustomerID:  s.CustomerID,
				OrderDate:   s.OrderDate,
				TotalAmount: decimal.Zero,
				Status:      s.Status,
			})
		}
		out.items = append(out.items, models.OrderItem{
			OrderItemID: s.OrderItemID,
			OrderID:     s.OrderID,
			ProductID:   s.ProductID,
			Quantity:    s.Quantity,
			UnitPrice:   s.UnitPrice,
			Subtotal:    s.Subtotal(),
		})
		out.facts = append(out.facts, models.FactSales{
			SalesKey:       s.OrderItemID,
			DateKey:        f.DateKey,
			CustomerKey:    f.CustomerKey,
			ProductKey:     f.ProductKey,
			OrderID:        s.OrderID,
			QuantitySold:   s.Quantity,
			UnitPrice:      s.UnitPrice,
			DiscountAmount: s.Discount,
			TotalAmount:    f.Total(),
		})
	}
	return out
}

// finalVersions collapses the changes of a plan to the last state of every
// version they touch. Closed versions sort before current ones so a close is
// written before the version replacing it.
func finalVersions[T any, M any](changes []resolve.DimChange[T], toModel func(resolve.Version) M, current func(M) bool) []M {
	final := map[int64]resolve.Version{}
	var keys []int64
	set := func(v resolve.Version) {
		if _, ok := final[v.Key]; !ok {
			keys = append(keys, v.Key)
		}
		final[v.Key] = v
	}
	for _, c := range changes {
		switch c.Kind {
		case resolve.Inserted, resolve.Corrected:
			set(c.Version)
		case resolve.Versioned:
			set(*c.Closed)
			set(c.Version)
		}
	}

	out := make([]M, 0, len(keys))
	for _, k := range keys {
		out = append(out, toModel(final[k]))
	}
	slices.SortStableFunc(out, func(a, b M) int {
		switch ca, cb := current(a), current(b); {
		case ca == cb:
			return 0
		case cb:
			return -1
		default:
			return 1
		}
	})
	return out
}

func fullName(c cleanse.Customer) string {
	return c.FirstName + " " + c.LastName
}

func (l *Loader) write(tx *gorm.DB, rows tableRows, loaded map[string]int) error {
	tx = tx.Omit(clause.Associations).Session(&gorm.Session{})

	if err := upsert(tx, rows.customers, "customer_id", l.batchSize, loaded); err != nil {
		return err
	}
	if err := upsert(tx, rows.products, "product_id", l.batchSize, loaded); err != nil {
		return err
	}
	if err := upsert(tx, rows.dimCustomers, "customer_key", l.batchSize, loaded); err != nil {
		return err
	}
	for id, cols := range rows.customerType1 {
		if err := tx.Model(&models.DimCustomer{}).Where("customer_id = ?", id).Updates(cols).Error; err != nil {
			return fmt.Errorf("refresh dim_customer %d: %w", id, err)
		}
	}
	if err := upsert(tx, rows.dimProducts, "product_key", l.batchSize, loaded); err != nil {
		return err
	}
	for id, cols := range rows.productType1 {
		if err := tx.Model(&models.DimProduct{}).Where("product_id = ?", id).Updates(cols).Error; err != nil {
			return fmt.Errorf("refresh dim_product %d: %w", id, err)
		}
	}

	if len(rows.orders) > 0 {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"customer_id", "order_date", "status"}),
		}).CreateInBatches(rows.orders, l.batchSize).Error
		if err != nil {
			return fmt.Errorf("upsert orders: %w", err)
		}
		loaded["orders"] = len(rows.orders)
	}
	if err := upsert(tx, rows.items, "order_item_id", l.batchSize, loaded); err != nil {
		return err
	}
	if err := l.recomputeTotals(tx, rows.orders); err != nil {
		return err
	}
	return upsert(tx, rows.facts, "sales_key", l.batchSize, loaded)
}

// recomputeTotals sets every touched order's total to the sum of its items.
func (l *Loader) recomputeTotals(tx *gorm.DB, orders []models.Order) error {
	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.OrderID
	}
	for chunk := range slices.Chunk(ids, l.batchSize) {
		err := tx.Model(&models.Order{}).
			Where("order_id IN ?", chunk).
			Update("total_amount", gorm.Expr("(SELECT COALESCE(SUM(order_items.subtotal), 0) FROM order_items WHERE order_items.order_id = orders.order_id)")).
			Error
		if err != nil {
			return fmt.Errorf("recompute order totals: %w", err)
		}
	}
	return nil
}

type tabler interface {
	TableName() string
}

func upsert[M any](tx *gorm.DB, rows []M, key string, batchSize int, loaded map[string]int) error {
	if len(rows) == 0 {
		return nil
	}
	table := any(&rows[0]).(tabler).TableName()
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: key}},
		UpdateAll: true,
	}).CreateInBatches(rows, batchSize).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	loaded[table] += len(rows)
	return nil
}
