// Package testutil opens throwaway SQLite stores for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/fleximart/retail-etl/models"
)

// DB returns a migrated in-memory database private to the calling test.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sqlite handle: %v", err)
	}
	// One connection keeps the in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.Migrate(context.Background(), db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

// Tx begins a transaction that is rolled back when the test ends.
func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

// SeedCalendar fills dim_date for the whole of the given years.
func SeedCalendar(tb testing.TB, db *gorm.DB, fromYear, toYear int) {
	tb.Helper()
	from := time.Date(fromYear, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(toYear, 12, 31, 0, 0, 0, 0, time.UTC)
	if _, err := models.SeedCalendar(context.Background(), db, from, to); err != nil {
		tb.Fatalf("seed calendar: %v", err)
	}
}

// SeedCustomer inserts an OLTP customer.
func SeedCustomer(tb testing.TB, db *gorm.DB, id int64, email string) *models.Customer {
	tb.Helper()
	c := &models.Customer{CustomerID: id, FirstName: "Seed", LastName: "Customer", Email: email}
	if err := db.Create(c).Error; err != nil {
		tb.Fatalf("seed customer: %v", err)
	}
	return c
}
