package datastore

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tmakinen/pixelset/internal/errors"
)

// performAutoMigration runs GORM auto-migration for all entities.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Dataset{}, &Sample{}, &Prediction{}); err != nil {
		return errors.New(fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Build()
	}

	if debug {
		getLogger().Debug("database migration completed",
			"db_type", dbType,
			"connection", connectionInfo)
	}

	return nil
}
