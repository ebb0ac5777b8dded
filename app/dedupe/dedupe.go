// Package dedupe drops in-batch duplicates on natural keys and routes rows
// whose key already exists in the store as updates.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/fleximart/retail-etl/app/cleanse"
	"github.com/fleximart/retail-etl/app/row"
)

type Op int

const (
	Insert Op = iota
	Update
)

func (o Op) String() string {
	if o == Update {
		return "update"
	}
	return "insert"
}

// KeyLookup answers which key values already exist in the target store.
type KeyLookup interface {
	// Owners maps every value of the key column that is stored for entity to
	// the natural key of the record holding it. Absent values are omitted.
	Owners(ctx context.Context, entity row.Entity, column string, values []string) (map[string]string, error)
}

// Keyed is a surviving row and how it reaches the store.
type Keyed[T any] struct {
	Value T
	Op    Op
}

// Spec describes how to key one entity.
type Spec[T any] struct {
	Entity  row.Entity
	Column  string
	Natural func(T) string
	// Version extends the natural key for dated dimension rows.
	Version func(T) string
	// Unique lists further columns that must not be shared between
	// different natural keys.
	Unique map[string]func(T) string
	Line   func(T) int
}

func Customers() Spec[cleanse.Customer] {
	return Spec[cleanse.Customer]{
		Entity:  row.Customers,
		Column:  row.ColCustomerID,
		Natural: cleanse.Customer.NaturalKey,
		Version: func(c cleanse.Customer) string { return dateVersion(c.EffectiveDate) },
		Unique:  map[string]func(cleanse.Customer) string{row.ColEmail: func(c cleanse.Customer) string { return c.Email }},
		Line:    func(c cleanse.Customer) int { return c.Line },
	}
}

func Products() Spec[cleanse.Product] {
	return Spec[cleanse.Product]{
		Entity:  row.Products,
		Column:  row.ColProductID,
		Natural: cleanse.Product.NaturalKey,
		Version: func(p cleanse.Product) string { return dateVersion(p.EffectiveDate) },
		Line:    func(p cleanse.Product) int { return p.Line },
	}
}

func Sales() Spec[cleanse.SaleLine] {
	return Spec[cleanse.SaleLine]{
		Entity:  row.Sales,
		Column:  row.ColOrderItemID,
		Natural: cleanse.SaleLine.NaturalKey,
		Line:    func(s cleanse.SaleLine) int { return s.Line },
	}
}

func dateVersion(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

type owner struct {
	natural string
	line    int
}

// Dedupe keeps the first row per key in source order and rejects the rest.
// A nil lookup treats the store as empty.
func Dedupe[T any](ctx context.Context, lookup KeyLookup, spec Spec[T], rows []T) ([]Keyed[T], []row.Rejection, error) {
	var rejected []row.Rejection
	drop := func(v T, key string, err error) {
		rejected = append(rejected, row.NewRejection(spec.Entity, spec.Line(v), key, row.StateDroppedDuplicate, err))
	}

	seen := make(map[string]int, len(rows))
	unique := make(map[string]map[string]owner, len(spec.Unique))
	for col := range spec.Unique {
		unique[col] = make(map[string]owner)
	}

	kept := make([]T, 0, len(rows))
rows:
	for _, v := range rows {
		natural := spec.Natural(v)
		key := spec.Column + "=" + natural
		full := key
		if spec.Version != nil {
			if ver := spec.Version(v); ver != "" {
				full += "@" + ver
			}
		}
		if first, ok := seen[full]; ok {
			drop(v, key, &row.DuplicateKeyError{Key: full, FirstLine: first})
			continue
		}
		for col, get := range spec.Unique {
			value := get(v)
			if prev, ok := unique[col][value]; ok && prev.natural != natural {
				drop(v, key, &row.DuplicateKeyError{Key: col + "=" + value, FirstLine: prev.line})
				continue rows
			}
		}

		seen[full] = spec.Line(v)
		for col, get := range spec.Unique {
			if _, ok := unique[col][get(v)]; !ok {
				unique[col][get(v)] = owner{natural: natural, line: spec.Line(v)}
			}
		}
		kept = append(kept, v)
	}

	if lookup == nil || len(kept) == 0 {
		out := make([]Keyed[T], len(kept))
		for i, v := range kept {
			out[i] = Keyed[T]{Value: v, Op: Insert}
		}
		return out, rejected, nil
	}

	storedOwners := make(map[string]map[string]string, len(spec.Unique))
	for col := range spec.Unique {
		values := make([]string, 0, len(unique[col]))
		for value := range unique[col] {
			values = append(values, value)
		}
		owners, err := lookup.Owners(ctx, spec.Entity, col, values)
		if err != nil {
			return nil, nil, fmt.Errorf("look up %s %s: %w", spec.Entity, col, err)
		}
		storedOwners[col] = owners
	}

	naturals := make([]string, 0, len(kept))
	for _, v := range kept {
		naturals = append(naturals, spec.Natural(v))
	}
	existing, err := lookup.Owners(ctx, spec.Entity, spec.Column, naturals)
	if err != nil {
		return nil, nil, fmt.Errorf("look up %s %s: %w", spec.Entity, spec.Column, err)
	}

	out := make([]Keyed[T], 0, len(kept))
stored:
	for _, v := range kept {
		natural := spec.Natural(v)
		for col, get := range spec.Unique {
			value := get(v)
			if holder, ok := storedOwners[col][value]; ok && holder != natural {
				drop(v, spec.Column+"="+natural, &row.DuplicateKeyError{Key: col + "=" + value, Owner: spec.Column + "=" + holder})
				continue stored
			}
		}
		op := Insert
		if _, ok := existing[natural]; ok {
			op = Update
		}
		out = append(out, Keyed[T]{Value: v, Op: op})
	}
	return out, rejected, nil
}

// Values strips the routing from keyed rows.
func Values[T any](keyed []Keyed[T]) []T {
	out := make([]T, len(keyed))
	for i, k := range keyed {
		out[i] = k.Value
	}
	return out
}
