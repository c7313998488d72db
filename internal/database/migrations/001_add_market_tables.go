package migrations

import (
	"github.com/voltgrid/voltgrid-api/internal/market"
	"gorm.io/gorm"
)

// AddMarketTables creates the order book tables and required indexes
func AddMarketTables(db *gorm.DB) error {
	err := db.AutoMigrate(
		&market.Order{},
		&market.MarketState{},
		&market.Trade{},
		&market.PricePoint{},
	)
	if err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for the open-order scan (match and sweep paths)
		`CREATE INDEX IF NOT EXISTS idx_orders_status_sequence
		 ON orders(status, sequence)`,

		// Index for expiry sweeps
		`CREATE INDEX IF NOT EXISTS idx_orders_expires_at
		 ON orders(expires_at)`,

		// Index for the trade tape (newest first)
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at
		 ON trades(created_at)`,

		// Index for trimming and reading the bounded price history
		`CREATE INDEX IF NOT EXISTS idx_price_points_traded_at
		 ON price_points(traded_at)`,
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return err
		}
	}

	return nil
}
