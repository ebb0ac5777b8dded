package models

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"gorm.io/gorm"

	"github.com/fleximart/retail-etl/app/row"
)

// lookupChunk keeps IN lists under SQLite's bound-parameter limit.
const lookupChunk = 500

type keyTable struct {
	table   string
	owner   string
	numeric bool
}

// Key columns that can be looked up, by entity and column. The owner column
// is the natural key of the record holding the value.
var keyTables = map[row.Entity]map[string]keyTable{
	row.Customers: {
		"customer_id": {table: "customers", owner: "customer_id", numeric: true},
		"email":       {table: "customers", owner: "customer_id"},
	},
	row.Products: {
		"product_id": {table: "products", owner: "product_id", numeric: true},
	},
	row.Sales: {
		"order_item_id": {table: "order_items", owner: "order_item_id"},
	},
}

// KeysRepository answers which natural and unique keys are already stored.
type KeysRepository struct {
	db *gorm.DB
}

func NewKeysRepository(db *gorm.DB) *KeysRepository {
	return &KeysRepository{db: db}
}

// Owners maps every stored value of column to the natural key holding it.
func (r *KeysRepository) Owners(ctx context.Context, entity row.Entity, column string, values []string) (map[string]string, error) {
	kt, ok := keyTables[entity][column]
	if !ok {
		return nil, fmt.Errorf("no key lookup for %s.%s", entity, column)
	}

	out := make(map[string]string, len(values))
	for chunk := range slices.Chunk(values, lookupChunk) {
		args, err := keyArgs(chunk, kt.numeric)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", entity, column, err)
		}
		var pairs []struct {
			Value string
			Owner string
		}
		err = r.db.WithContext(ctx).
			Table(kt.table).
			Select(fmt.Sprintf("CAST(%s AS TEXT) AS value, CAST(%s AS TEXT) AS owner", column, kt.owner)).
			Where(fmt.Sprintf("%s IN ?", column), args).
			Scan(&pairs).Error
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			out[p.Value] = p.Owner
		}
	}
	return out, nil
}

func keyArgs(values []string, numeric bool) ([]any, error) {
	args := make([]any, len(values))
	for i, v := range values {
		if !numeric {
			args[i] = v
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		args[i] = n
	}
	return args, nil
}
