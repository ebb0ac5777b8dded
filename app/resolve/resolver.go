// Package resolve assigns surrogate and date keys. Customer and product
// dimensions are Type-2: a change to a tracked attribute closes the current
// version and opens a new one, anything else refreshes in place.
package resolve

import (
	"cmp"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleximart/retail-etl/app/cleanse"
	"github.com/fleximart/retail-etl/app/row"
)

type ChangeKind int

const (
	// Inserted opens the first version of an unseen natural key.
	Inserted ChangeKind = iota
	// Versioned closes the current version and opens a new one.
	Versioned
	// Corrected rewrites the tracked attributes of a version that starts on
	// the change date.
	Corrected
	// Refreshed leaves tracked attributes alone and updates Type-1 ones.
	Refreshed
	// Unchanged replays history already recorded.
	Unchanged
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Versioned:
		return "versioned"
	case Corrected:
		return "corrected"
	case Refreshed:
		return "refreshed"
	default:
		return "unchanged"
	}
}

// DimChange is what resolution decided for one dimension row.
type DimChange[T any] struct {
	Kind    ChangeKind
	Record  T
	Version Version
	Closed  *Version
}

// Fact is a resolved order line.
type Fact struct {
	Line        cleanse.SaleLine
	DateKey     int
	CustomerKey int64
	ProductKey  int64
}

func (f Fact) Total() decimal.Decimal { return f.Line.Total() }

// Plan is everything the loader writes for one batch.
type Plan struct {
	Customers []DimChange[cleanse.Customer]
	Products  []DimChange[cleanse.Product]
	Facts     []Fact
	Rejected  []row.Rejection
}

// Resolver carries the run-wide inputs of resolution.
type Resolver struct {
	// AsOf dates changes for rows without an effective date.
	AsOf         time.Time
	StandardFrom decimal.Decimal
	PremiumFrom  decimal.Decimal
}

// Resolve runs dimension resolution and then sales resolution against the
// successor snapshot. The input snapshot is not modified.
func (r Resolver) Resolve(s Snapshot, customers []cleanse.Customer, products []cleanse.Product, sales []cleanse.SaleLine) (Plan, Snapshot) {
	var plan Plan
	var rej []row.Rejection

	next := s.Clone()
	plan.Customers, rej = r.resolveCustomers(next.Customers, customers)
	plan.Rejected = append(plan.Rejected, rej...)
	plan.Products, rej = r.resolveProducts(next.Products, products)
	plan.Rejected = append(plan.Rejected, rej...)
	plan.Facts, rej = ResolveSales(next, sales)
	plan.Rejected = append(plan.Rejected, rej...)
	return plan, next
}

// ResolveCustomers versions customers on city and segment.
func (r Resolver) ResolveCustomers(s Snapshot, rows []cleanse.Customer) ([]DimChange[cleanse.Customer], []row.Rejection, Snapshot) {
	next := s.Clone()
	changes, rej := r.resolveCustomers(next.Customers, rows)
	return changes, rej, next
}

// ResolveProducts versions products on category and price tier.
func (r Resolver) ResolveProducts(s Snapshot, rows []cleanse.Product) ([]DimChange[cleanse.Product], []row.Rejection, Snapshot) {
	next := s.Clone()
	changes, rej := r.resolveProducts(next.Products, rows)
	return changes, rej, next
}

func (r Resolver) resolveCustomers(d *Dimension, rows []cleanse.Customer) ([]DimChange[cleanse.Customer], []row.Rejection) {
	return apply(d, r.AsOf, dimAttrs[cleanse.Customer]{
		entity:    row.Customers,
		natural:   func(c cleanse.Customer) int64 { return c.CustomerID },
		tracked:   CustomerTracked,
		effective: func(c cleanse.Customer) *time.Time { return c.EffectiveDate },
		line:      func(c cleanse.Customer) int { return c.Line },
	}, rows)
}

func (r Resolver) resolveProducts(d *Dimension, rows []cleanse.Product) ([]DimChange[cleanse.Product], []row.Rejection) {
	return apply(d, r.AsOf, dimAttrs[cleanse.Product]{
		entity:    row.Products,
		natural:   func(p cleanse.Product) int64 { return p.ProductID },
		tracked:   func(p cleanse.Product) []string { return ProductTracked(p, r.StandardFrom, r.PremiumFrom) },
		effective: func(p cleanse.Product) *time.Time { return p.EffectiveDate },
		line:      func(p cleanse.Product) int { return p.Line },
	}, rows)
}

// CustomerTracked lists the Type-2 attributes of a customer.
func CustomerTracked(c cleanse.Customer) []string {
	return []string{c.City, c.Segment}
}

// ProductTracked lists the Type-2 attributes of a product.
func ProductTracked(p cleanse.Product, standardFrom, premiumFrom decimal.Decimal) []string {
	return []string{p.Category, cleanse.PriceTier(p.Price, standardFrom, premiumFrom)}
}

type dimAttrs[T any] struct {
	entity    row.Entity
	natural   func(T) int64
	tracked   func(T) []string
	effective func(T) *time.Time
	line      func(T) int
}

func apply[T any](d *Dimension, asOf time.Time, a dimAttrs[T], rows []T) ([]DimChange[T], []row.Rejection) {
	changeDate := func(v T) time.Time {
		if t := a.effective(v); t != nil {
			return *t
		}
		return asOf
	}

	ordered := slices.Clone(rows)
	slices.SortStableFunc(ordered, func(x, y T) int {
		return cmp.Or(
			cmp.Compare(a.natural(x), a.natural(y)),
			changeDate(x).Compare(changeDate(y)),
			cmp.Compare(a.line(x), a.line(y)),
		)
	})

	changes := make([]DimChange[T], 0, len(ordered))
	var rejected []row.Rejection
	for _, v := range ordered {
		nk := a.natural(v)
		date := changeDate(v)
		tracked := a.tracked(v)
		hash := Fingerprint(tracked)

		cur, ok := d.Current(nk)
		switch {
		case !ok:
			nv := Version{Key: d.allocate(), NaturalKey: nk, Tracked: tracked, Hash: hash, Start: date, Current: true}
			d.Add(nv)
			changes = append(changes, DimChange[T]{Kind: Inserted, Record: v, Version: nv})

		case date.Before(cur.Start):
			if past, ok := d.AsOf(nk, date); ok && past.Hash == hash {
				changes = append(changes, DimChange[T]{Kind: Unchanged, Record: v, Version: past})
				continue
			}
			err := &row.OutOfOrderChangeError{Key: nk, Date: date, CurrentStart: cur.Start}
			rejected = append(rejected, row.NewRejection(a.entity, a.line(v), keyString(a.entity, nk), row.StateKeyResolutionFailed, err))

		case hash == cur.Hash:
			changes = append(changes, DimChange[T]{Kind: Refreshed, Record: v, Version: cur})

		case date.Equal(cur.Start):
			cur.Tracked, cur.Hash = tracked, hash
			d.replace(cur)
			changes = append(changes, DimChange[T]{Kind: Corrected, Record: v, Version: cur})

		default:
			closed := cur
			end := date.AddDate(0, 0, -1)
			closed.End, closed.Current = &end, false
			d.replace(closed)
			nv := Version{Key: d.allocate(), NaturalKey: nk, Tracked: tracked, Hash: hash, Start: date, Current: true}
			d.Add(nv)
			changes = append(changes, DimChange[T]{Kind: Versioned, Record: v, Version: nv, Closed: &closed})
		}
	}
	return changes, rejected
}

// ResolveSales keys every order line against s. Lines whose order date is
// outside the calendar, whose customer or product is unknown, or whose order
// already belongs to another customer are rejected.
func ResolveSales(s Snapshot, lines []cleanse.SaleLine) ([]Fact, []row.Rejection) {
	facts := make([]Fact, 0, len(lines))
	var rejected []row.Rejection
	fail := func(l cleanse.SaleLine, err error) {
		rejected = append(rejected, row.NewRejection(row.Sales, l.Line, row.ColOrderItemID+"="+l.OrderItemID, row.StateKeyResolutionFailed, err))
	}

	orderOwner := map[int64]int64{}
	for _, l := range lines {
		dateKey, err := s.Calendar.Key(l.OrderDate)
		if err != nil {
			fail(l, err)
			continue
		}
		cust, ok := versionFor(s.Customers, l.CustomerID, l.OrderDate)
		if !ok {
			fail(l, &row.UnknownReferenceError{Entity: row.Customers, Key: l.CustomerID})
			continue
		}
		prod, ok := versionFor(s.Products, l.ProductID, l.OrderDate)
		if !ok {
			fail(l, &row.UnknownReferenceError{Entity: row.Products, Key: l.ProductID})
			continue
		}
		if owner, ok := orderOwner[l.OrderID]; ok && owner != l.CustomerID {
			fail(l, &row.InconsistentOrderError{OrderID: l.OrderID, Customer: l.CustomerID, Wanted: owner})
			continue
		}
		orderOwner[l.OrderID] = l.CustomerID

		facts = append(facts, Fact{Line: l, DateKey: dateKey, CustomerKey: cust.Key, ProductKey: prod.Key})
	}
	return facts, rejected
}

func versionFor(d *Dimension, naturalKey int64, t time.Time) (Version, bool) {
	if v, ok := d.AsOf(naturalKey, t); ok {
		return v, true
	}
	return d.Current(naturalKey)
}

func keyString(entity row.Entity, nk int64) string {
	col := row.ColCustomerID
	if entity == row.Products {
		col = row.ColProductID
	}
	return col + "=" + strconv.FormatInt(nk, 10)
}
