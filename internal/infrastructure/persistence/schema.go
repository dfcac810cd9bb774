package persistence

import (
	"github.com/erp/postingengine/internal/domain/audit"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/inventory"
	"github.com/erp/postingengine/internal/domain/trade"
	"gorm.io/gorm"
)

// Models lists every persisted type in creation order
func Models() []any {
	return []any{
		&catalog.ClassificationCode{},
		&catalog.CatalogEntry{},
		&trade.Document{},
		&trade.LineItem{},
		&inventory.StockRow{},
		&audit.Entry{},
	}
}

// AutoMigrate creates or updates the schema from the domain models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
