package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tribeapp/notification-service/internal/domain"
	"gorm.io/gorm"
)

// StatusUpdate carries the column writes for a delivery status transition.
// Only non-nil stamps are written; Metadata replaces the stored bag and is
// expected to be pre-merged by the caller.
type StatusUpdate struct {
	Status       domain.Status
	SentAt       *time.Time
	DeliveredAt  *time.Time
	ReadAt       *time.Time
	ErrorMessage *string
	Metadata     domain.Metadata
}

// StatusCount is one row of the status breakdown aggregation.
type StatusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int64         `gorm:"column:count"`
}

// ChannelStatusCount is one row of the per-channel breakdown aggregation.
type ChannelStatusCount struct {
	Channel domain.Channel `gorm:"column:channel"`
	Status  domain.Status  `gorm:"column:status"`
	Count   int64          `gorm:"column:count"`
}

type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.Delivery) error
	FindByID(ctx context.Context, id string) (*domain.Delivery, error)
	FindByNotification(ctx context.Context, notificationID string) ([]domain.Delivery, error)
	FindByNotificationAndChannel(ctx context.Context, notificationID string, channel domain.Channel) (*domain.Delivery, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error
	MarkAsRead(ctx context.Context, notificationID string, readAt time.Time) (int64, error)
	FindPending(ctx context.Context, limit int) ([]domain.Delivery, error)
	FindFailed(ctx context.Context, limit, maxRetryCount int) ([]domain.Delivery, error)
	IncrementRetryCount(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, start, end time.Time) ([]StatusCount, error)
	CountByChannelAndStatus(ctx context.Context, start, end time.Time) ([]ChannelStatusCount, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

// Create inserts the delivery. A unique violation on (notification_id,
// channel) surfaces as the driver error; the service resolves it to the
// existing row.
func (r *GormDeliveryRepo) Create(ctx context.Context, d *domain.Delivery) error {
	model := deliveryModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		*d = *deliveryModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryRepo) FindByID(ctx context.Context, id string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) FindByNotification(ctx context.Context, notificationID string) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}

func (r *GormDeliveryRepo) FindByNotificationAndChannel(ctx context.Context, notificationID string, channel domain.Channel) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ? AND channel = ?", notificationID, channel).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	updates := map[string]any{"status": update.Status}
	if update.SentAt != nil {
		updates["sent_at"] = *update.SentAt
	}
	if update.DeliveredAt != nil {
		updates["delivered_at"] = *update.DeliveredAt
	}
	if update.ReadAt != nil {
		updates["read_at"] = *update.ReadAt
	}
	if update.ErrorMessage != nil {
		updates["error_message"] = *update.ErrorMessage
	}
	if update.Metadata != nil {
		updates["metadata"] = update.Metadata
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryRepo) MarkAsRead(ctx context.Context, notificationID string, readAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("notification_id = ? AND status <> ?", notificationID, domain.StatusRead).
		Updates(map[string]any{
			"status":  domain.StatusRead,
			"read_at": readAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// FindPending selects deliveries still awaiting dispatch, oldest first.
func (r *GormDeliveryRepo) FindPending(ctx context.Context, limit int) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}

// FindFailed selects retry-eligible deliveries, oldest failure first.
// Records at or past the retry bound are never selected.
func (r *GormDeliveryRepo) FindFailed(ctx context.Context, limit, maxRetryCount int) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", domain.StatusFailed, maxRetryCount).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}

	return deliveries, nil
}

func (r *GormDeliveryRepo) IncrementRetryCount(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&DeliveryModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) CountByStatus(ctx context.Context, start, end time.Time) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Select("status, COUNT(*) as count").
		Where("created_at >= ? AND created_at <= ?", start, end).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormDeliveryRepo) CountByChannelAndStatus(ctx context.Context, start, end time.Time) ([]ChannelStatusCount, error) {
	var counts []ChannelStatusCount
	err := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Select("channel, status, COUNT(*) as count").
		Where("created_at >= ? AND created_at <= ?", start, end).
		Group("channel, status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
