package models

import "time"

// Customer is a shopper in the OLTP schema. Email is unique; phone is not.
type Customer struct {
	CustomerID       int64      `gorm:"primaryKey;autoIncrement:false"`
	FirstName        string     `gorm:"size:50;not null"`
	LastName         string     `gorm:"size:50;not null"`
	Email            string     `gorm:"size:100;uniqueIndex;not null"`
	Phone            *string    `gorm:"size:20"`
	City             string     `gorm:"size:50"`
	RegistrationDate *time.Time `gorm:"type:date"`
	Orders           []Order    `gorm:"foreignKey:CustomerID"`
}

func (c *Customer) TableName() string {
	return "customers"
}
