package models

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// Open connects to Postgres through lib/pq. The pool is sized for a single
// writer plus the run API.
func Open(dsn string) (*gorm.DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(8)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormLogger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			gormLogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return db, nil
}

// AllModels lists every table in dependency order.
func AllModels() []any {
	return []any{
		&Customer{},
		&Product{},
		&Order{},
		&OrderItem{},
		&DimDate{},
		&DimCustomer{},
		&DimProduct{},
		&FactSales{},
		&EtlRun{},
	}
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CalendarDay builds the dim_date row for t.
func CalendarDay(t time.Time) DimDate {
	y, m, d := t.Date()
	wd := t.Weekday()
	return DimDate{
		DateKey:    y*10000 + int(m)*100 + d,
		FullDate:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		DayOfWeek:  wd.String(),
		DayOfMonth: d,
		Month:      int(m),
		MonthName:  m.String(),
		Quarter:    fmt.Sprintf("Q%d", (int(m)-1)/3+1),
		Year:       y,
		IsWeekend:  wd == time.Saturday || wd == time.Sunday,
	}
}

// SeedCalendar fills dim_date for every day in [from, to]. Days already
// present are left alone, so seeding twice is harmless.
func SeedCalendar(ctx context.Context, db *gorm.DB, from, to time.Time) (int, error) {
	if to.Before(from) {
		return 0, fmt.Errorf("calendar: %s is before %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	var days []DimDate
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, CalendarDay(d))
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "date_key"}}, DoNothing: true}).
		CreateInBatches(days, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("seed calendar: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
