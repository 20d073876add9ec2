package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/telemetry-engine/internal/repository"
	"gorm.io/gorm"
)

func createOutcomeCountsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_outcome_counts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.OutcomeCountModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_outcome_counts_snapshot_provider_name ON outcome_counts (snapshot_id, provider, name)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.OutcomeCountModel{})
		},
	}
}
