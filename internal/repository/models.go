package repository

import (
	"time"

	"github.com/tribeapp/notification-service/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID        string                  `gorm:"type:uuid;primaryKey"`
	UserID    string                  `gorm:"type:varchar(36);not null;index"`
	Type      domain.NotificationType `gorm:"type:varchar(30);not null"`
	Title     string                  `gorm:"type:varchar(100);not null"`
	Body      string                  `gorm:"type:varchar(500);not null"`
	Priority  domain.Priority         `gorm:"type:varchar(10);not null"`
	Status    domain.Status           `gorm:"type:varchar(20);not null;index"`
	TribeID   *string                 `gorm:"type:uuid;index"`
	EventID   *string                 `gorm:"type:uuid;index"`
	ActionURL *string                 `gorm:"type:varchar(2048)"`
	ImageURL  *string                 `gorm:"type:varchar(2048)"`
	Metadata  domain.Metadata         `gorm:"type:jsonb"`
	ExpiresAt time.Time               `gorm:"type:timestamptz;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryModel is the persistence model for the deliveries table. The
// composite unique index keeps delivery creation idempotent per
// (notification, channel).
type DeliveryModel struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	NotificationID string          `gorm:"type:uuid;not null;uniqueIndex:idx_deliveries_notification_channel"`
	Channel        domain.Channel  `gorm:"type:varchar(10);not null;uniqueIndex:idx_deliveries_notification_channel"`
	Status         domain.Status   `gorm:"type:varchar(20);not null;index"`
	SentAt         *time.Time      `gorm:"type:timestamptz"`
	DeliveredAt    *time.Time      `gorm:"type:timestamptz"`
	ReadAt         *time.Time      `gorm:"type:timestamptz"`
	ErrorMessage   *string         `gorm:"type:text"`
	RetryCount     int             `gorm:"not null;default:0"`
	Metadata       domain.Metadata `gorm:"type:jsonb"`
	CreatedAt      time.Time       `gorm:"index"`
	UpdatedAt      time.Time
}

func (DeliveryModel) TableName() string {
	return "deliveries"
}

// PreferenceModel is the persistence model for notification_preferences.
// One row per user.
type PreferenceModel struct {
	ID           string          `gorm:"type:uuid;primaryKey"`
	UserID       string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_preferences_user"`
	PushEnabled  bool            `gorm:"not null;default:true"`
	EmailEnabled bool            `gorm:"not null;default:true"`
	InAppEnabled bool            `gorm:"not null;default:true"`
	SMSEnabled   bool            `gorm:"not null;default:false"`
	MutedTypes   domain.TypeList `gorm:"type:jsonb"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (PreferenceModel) TableName() string {
	return "notification_preferences"
}

// UserContactModel is the persistence model for user_contacts, the
// recipient directory backing the email sender.
type UserContactModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	UserID    string  `gorm:"type:varchar(36);not null;uniqueIndex:idx_user_contacts_user"`
	Email     *string `gorm:"type:varchar(320)"`
	Phone     *string `gorm:"type:varchar(32)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserContactModel) TableName() string {
	return "user_contacts"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Priority:  n.Priority,
		Status:    n.Status,
		TribeID:   n.TribeID,
		EventID:   n.EventID,
		ActionURL: n.ActionURL,
		ImageURL:  n.ImageURL,
		Metadata:  n.Metadata,
		ExpiresAt: n.ExpiresAt,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      m.Type,
		Title:     m.Title,
		Body:      m.Body,
		Priority:  m.Priority,
		Status:    m.Status,
		TribeID:   m.TribeID,
		EventID:   m.EventID,
		ActionURL: m.ActionURL,
		ImageURL:  m.ImageURL,
		Metadata:  m.Metadata,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func deliveryModelFromDomain(d *domain.Delivery) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:             d.ID,
		NotificationID: d.NotificationID,
		Channel:        d.Channel,
		Status:         d.Status,
		SentAt:         d.SentAt,
		DeliveredAt:    d.DeliveredAt,
		ReadAt:         d.ReadAt,
		ErrorMessage:   d.ErrorMessage,
		RetryCount:     d.RetryCount,
		Metadata:       d.Metadata,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		Channel:        m.Channel,
		Status:         m.Status,
		SentAt:         m.SentAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
		ErrorMessage:   m.ErrorMessage,
		RetryCount:     m.RetryCount,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func preferenceModelFromDomain(p *domain.Preferences) *PreferenceModel {
	if p == nil {
		return nil
	}

	return &PreferenceModel{
		ID:           p.ID,
		UserID:       p.UserID,
		PushEnabled:  p.PushEnabled,
		EmailEnabled: p.EmailEnabled,
		InAppEnabled: p.InAppEnabled,
		SMSEnabled:   p.SMSEnabled,
		MutedTypes:   p.MutedTypes,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func preferenceModelToDomain(m *PreferenceModel) *domain.Preferences {
	if m == nil {
		return nil
	}

	return &domain.Preferences{
		ID:           m.ID,
		UserID:       m.UserID,
		PushEnabled:  m.PushEnabled,
		EmailEnabled: m.EmailEnabled,
		InAppEnabled: m.InAppEnabled,
		SMSEnabled:   m.SMSEnabled,
		MutedTypes:   m.MutedTypes,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func contactModelToDomain(m *UserContactModel) *domain.UserContact {
	if m == nil {
		return nil
	}

	return &domain.UserContact{
		ID:        m.ID,
		UserID:    m.UserID,
		Email:     m.Email,
		Phone:     m.Phone,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
