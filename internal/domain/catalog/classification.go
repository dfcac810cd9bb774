package catalog

import (
	"github.com/shopspring/decimal"
)

// ClassificationCode is a tax/regulatory code from the platform reference
// table. The core reads it and never writes it.
type ClassificationCode struct {
	Code        string          `gorm:"type:varchar(32);primary_key"`
	Description string          `gorm:"type:varchar(255);not null;default:''"`
	Rate        decimal.Decimal `gorm:"type:decimal(9,4);not null;default:0"`
	Active      bool            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ClassificationCode) TableName() string {
	return "classification_codes"
}
