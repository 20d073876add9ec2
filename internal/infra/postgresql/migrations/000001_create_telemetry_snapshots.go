package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/telemetry-engine/internal/repository"
	"gorm.io/gorm"
)

func createTelemetrySnapshotsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_telemetry_snapshots",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Migrator().CreateTable(&repository.TelemetrySnapshotModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_snapshots_next_poll_at ON telemetry_snapshots (next_poll_at) WHERE next_poll_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_snapshots_state ON telemetry_snapshots (state)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TelemetrySnapshotModel{})
		},
	}
}
