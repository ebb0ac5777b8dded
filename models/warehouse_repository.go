package models

import (
	"context"

	"gorm.io/gorm"
)

type WarehouseRepository struct {
	db *gorm.DB
}

func NewWarehouseRepository(db *gorm.DB) *WarehouseRepository {
	return &WarehouseRepository{db: db}
}

// CustomerVersions returns every dim_customer row ordered by natural key and
// start date.
func (r *WarehouseRepository) CustomerVersions(ctx context.Context) ([]DimCustomer, error) {
	var rows []DimCustomer
	if err := r.db.WithContext(ctx).
		Order("customer_id, effective_start_date").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *WarehouseRepository) ProductVersions(ctx context.Context) ([]DimProduct, error) {
	var rows []DimProduct
	if err := r.db.WithContext(ctx).
		Order("product_id, effective_start_date").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DateKeys returns every date key in dim_date, ascending.
func (r *WarehouseRepository) DateKeys(ctx context.Context) ([]int, error) {
	var keys []int
	if err := r.db.WithContext(ctx).
		Model(&DimDate{}).
		Order("date_key").
		Pluck("date_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// FactCount is the number of rows in fact_sales.
func (r *WarehouseRepository) FactCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&FactSales{}).Count(&n).Error
	return n, err
}
