package models

import (
	"time"

	"gorm.io/datatypes"
)

// EtlRun is the persisted summary of one pipeline run.
type EtlRun struct {
	ID             uint      `gorm:"primaryKey"`
	RunID          string    `gorm:"size:36;uniqueIndex;not null"`
	StartedAt      time.Time `gorm:"not null"`
	FinishedAt     time.Time `gorm:"not null"`
	Status         string    `gorm:"size:20;not null"`
	Error          string    `gorm:"type:text"`
	RowsRead       int       `gorm:"not null"`
	RowsAccepted   int       `gorm:"not null"`
	RowsRejected   int       `gorm:"not null"`
	RowsRepaired   int       `gorm:"not null"`
	RowsDuplicate  int       `gorm:"not null"`
	VersionsOpened int       `gorm:"not null"`
	VersionsClosed int       `gorm:"not null"`
	// Report holds the full report, including per-entity counters, rejection
	// reasons and rows loaded per table.
	Report datatypes.JSON
}

func (r *EtlRun) TableName() string {
	return "etl_runs"
}
