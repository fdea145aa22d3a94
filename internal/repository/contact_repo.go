package repository

import (
	"context"
	"errors"

	"github.com/tribeapp/notification-service/internal/domain"
	"gorm.io/gorm"
)

// ContactRepository is the recipient directory: it resolves user ids to
// deliverable addresses for the address-based channels.
type ContactRepository interface {
	FindByUser(ctx context.Context, userID string) (*domain.UserContact, error)
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

func (r *GormContactRepo) FindByUser(ctx context.Context, userID string) (*domain.UserContact, error) {
	var model UserContactModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contactModelToDomain(&model), nil
}
