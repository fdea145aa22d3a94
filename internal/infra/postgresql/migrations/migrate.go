package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/tribeapp/notification-service/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications (user_id, created_at DESC)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications (user_id) WHERE status <> 'READ'`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_pending_created ON notifications (created_at) WHERE status = 'PENDING'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.NotificationModel{})
			},
		},
		{
			ID: "000002_create_deliveries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryModel{}); err != nil {
					return err
				}
				// The composite unique index also comes from the model tags;
				// the explicit statement keeps hand-provisioned schemas honest.
				indexes := []string{
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_deliveries_notification_channel ON deliveries (notification_id, channel)`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_notification_id ON deliveries (notification_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryModel{})
			},
		},
		{
			ID: "000003_create_notification_preferences",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.PreferenceModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.PreferenceModel{})
			},
		},
		{
			ID: "000004_create_user_contacts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.UserContactModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.UserContactModel{})
			},
		},
		addDeliveriesSweepIndexes(),
	})

	return m.Migrate()
}
