package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tribeapp/notification-service/internal/domain"
	"gorm.io/gorm"
)

// ListParams is the shared pagination input for the list queries. Zero
// values fall back to the first page with the default size.
type ListParams struct {
	Page  int
	Limit int
}

func (p ListParams) normalize() (offset, limit int) {
	page := max(p.Page, 1)
	limit = p.Limit
	if limit < 1 {
		limit = 20
	}
	limit = min(limit, 100)
	return (page - 1) * limit, limit
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	FindByID(ctx context.Context, id string) (*domain.Notification, error)
	FindByUser(ctx context.Context, userID string, params ListParams) ([]domain.Notification, int64, error)
	FindByTribe(ctx context.Context, tribeID string, params ListParams) ([]domain.Notification, int64, error)
	FindByEvent(ctx context.Context, eventID string, params ListParams) ([]domain.Notification, int64, error)
	FindPending(ctx context.Context, limit int) ([]domain.Notification, error)
	CountUnreadByUser(ctx context.Context, userID string) (int64, error)
	MarkAllAsRead(ctx context.Context, userID string, notificationType *domain.NotificationType) (int64, error)
	AdvanceStatus(ctx context.Context, id string, next domain.Status) (bool, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) FindByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) FindByUser(ctx context.Context, userID string, params ListParams) ([]domain.Notification, int64, error) {
	return r.list(ctx, params, "user_id = ?", userID)
}

func (r *GormNotificationRepo) FindByTribe(ctx context.Context, tribeID string, params ListParams) ([]domain.Notification, int64, error) {
	return r.list(ctx, params, "tribe_id = ?", tribeID)
}

func (r *GormNotificationRepo) FindByEvent(ctx context.Context, eventID string, params ListParams) ([]domain.Notification, int64, error) {
	return r.list(ctx, params, "event_id = ?", eventID)
}

func (r *GormNotificationRepo) list(ctx context.Context, params ListParams, cond string, args ...any) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{}).Where(cond, args...)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := params.normalize()

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

// FindPending feeds the queue sweep: unsent notifications, oldest first.
func (r *GormNotificationRepo) FindPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

func (r *GormNotificationRepo) CountUnreadByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("user_id = ? AND status <> ?", userID, domain.StatusRead).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormNotificationRepo) MarkAllAsRead(ctx context.Context, userID string, notificationType *domain.NotificationType) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("user_id = ? AND status <> ?", userID, domain.StatusRead)
	if notificationType != nil {
		query = query.Where("type = ?", *notificationType)
	}

	result := query.Update("status", domain.StatusRead)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// AdvanceStatus moves a notification forward through the funnel. The guard
// lives in the WHERE clause so stale or backward writes affect zero rows
// and report advanced=false instead of clobbering newer state.
func (r *GormNotificationRepo) AdvanceStatus(ctx context.Context, id string, next domain.Status) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id)

	if next == domain.StatusFailed {
		query = query.Where("status NOT IN ?", []domain.Status{domain.StatusRead, domain.StatusFailed})
	} else {
		below := statusesBelow(next)
		if len(below) == 0 {
			return false, nil
		}
		query = query.Where("status IN ?", below)
	}

	result := query.Update("status", next)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Zero rows: either the guard filtered the row out or the id is unknown.
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func statusesBelow(next domain.Status) []domain.Status {
	nextRank := next.FunnelRank()
	if nextRank < 0 {
		return nil
	}

	var below []domain.Status
	for _, s := range []domain.Status{domain.StatusPending, domain.StatusSent, domain.StatusDelivered} {
		if s.FunnelRank() < nextRank {
			below = append(below, s)
		}
	}
	return below
}

func (r *GormNotificationRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&NotificationModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
