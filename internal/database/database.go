package database

import (
	"fmt"

	"github.com/voltgrid/voltgrid-api/internal/certificates"
	"github.com/voltgrid/voltgrid-api/internal/config"
	"github.com/voltgrid/voltgrid-api/internal/database/migrations"
	"github.com/voltgrid/voltgrid-api/internal/registry"
	"github.com/voltgrid/voltgrid-api/internal/telemetry"
	"github.com/voltgrid/voltgrid-api/internal/token"
	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the configured database and brings the schema up to date
func NewDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddMarketTables(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Device{},
		&registry.Stats{},
		&telemetry.Submitter{},
		&token.Balance{},
		&token.Supply{},
		&certificates.Certificate{},
		&certificates.Stats{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
