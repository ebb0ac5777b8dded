package models

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type RunsRepository struct {
	db *gorm.DB
}

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

type RunFilters struct {
	Status string
}

func NewRunsRepository(db *gorm.DB) *RunsRepository {
	return &RunsRepository{
		db: db,
	}
}

func (r *RunsRepository) CreateRun(ctx context.Context, run *EtlRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// ListRuns returns one page of runs, newest first, and the filtered total.
func (r *RunsRepository) ListRuns(ctx context.Context, offset, limit int, filters RunFilters) ([]EtlRun, int64, error) {
	var runs []EtlRun
	var total int64

	query := r.db.WithContext(ctx).Model(&EtlRun{})
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("started_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&runs).Error; err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

func (r *RunsRepository) GetByRunID(ctx context.Context, runID string) (*EtlRun, error) {
	var run EtlRun
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err // Other DB error
	}
	return &run, nil
}
