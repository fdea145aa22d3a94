package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Partial index backing the retry sweep, which scans a narrow status slice
// of a table dominated by terminal rows.
func addDeliveriesSweepIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_add_deliveries_sweep_indexes",
		Migrate: func(tx *gorm.DB) error {
			sql := `CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON deliveries (updated_at) WHERE status = 'FAILED'`
			return tx.Exec(sql).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_deliveries_retry`).Error
		},
	}
}
