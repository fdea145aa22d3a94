package repository

import (
	"context"
	"errors"

	"github.com/tribeapp/notification-service/internal/domain"
	"gorm.io/gorm"
)

type PreferenceRepository interface {
	Create(ctx context.Context, p *domain.Preferences) error
	FindByUser(ctx context.Context, userID string) (*domain.Preferences, error)
	Update(ctx context.Context, p *domain.Preferences) error
}

type GormPreferenceRepo struct {
	db *gorm.DB
}

func NewGormPreferenceRepo(db *gorm.DB) *GormPreferenceRepo {
	return &GormPreferenceRepo{db: db}
}

func (r *GormPreferenceRepo) Create(ctx context.Context, p *domain.Preferences) error {
	model := preferenceModelFromDomain(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if p != nil {
		*p = *preferenceModelToDomain(model)
	}
	return nil
}

func (r *GormPreferenceRepo) FindByUser(ctx context.Context, userID string) (*domain.Preferences, error) {
	var model PreferenceModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return preferenceModelToDomain(&model), nil
}

func (r *GormPreferenceRepo) Update(ctx context.Context, p *domain.Preferences) error {
	result := r.db.WithContext(ctx).
		Model(&PreferenceModel{}).
		Where("user_id = ?", p.UserID).
		Updates(map[string]any{
			"push_enabled":   p.PushEnabled,
			"email_enabled":  p.EmailEnabled,
			"in_app_enabled": p.InAppEnabled,
			"sms_enabled":    p.SMSEnabled,
			"muted_types":    p.MutedTypes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
