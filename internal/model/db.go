package model

import "gorm.io/gorm"

// Migrate creates the application tables. Per-user document tables are
// migrated by the local store when it is opened.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&SyncAuditLog{}); err != nil {
		return err
	}

	return nil
}
