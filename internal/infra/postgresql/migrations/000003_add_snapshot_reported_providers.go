package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Databases created before reported providers were tracked get the column
// here; fresh ones already have it from 000001.
func addSnapshotReportedProviders() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_snapshot_reported_providers",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE telemetry_snapshots ADD COLUMN IF NOT EXISTS reported_providers varchar(64) NOT NULL DEFAULT ''`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE telemetry_snapshots DROP COLUMN IF EXISTS reported_providers`).Error
		},
	}
}
