package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/repository"
	"go.uber.org/zap"
)

// NotificationService owns the notification side of the funnel: creation
// with per-type expiry defaults, the feed queries, unread bookkeeping and
// expiry cleanup. Per-channel state lives with DeliveryService.
type NotificationService struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
	now           func() time.Time
}

func NewNotificationService(notifications repository.NotificationRepository, logger *zap.Logger) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create validates and persists a new notification. Missing id, status,
// priority and expiry are defaulted; the expiry derives from the type's
// relevance window when the caller does not pin one.
func (s *NotificationService) Create(ctx context.Context, notification *domain.Notification) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := prepareNotificationForCreate(notification, s.now()); err != nil {
		return nil, err
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, err
	}

	return notification, nil
}

func (s *NotificationService) FindByID(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.FindByID(ctx, strings.TrimSpace(id))
}

func (s *NotificationService) FindByUser(
	ctx context.Context,
	userID string,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, 0, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return s.notifications.FindByUser(ctx, strings.TrimSpace(userID), params)
}

func (s *NotificationService) FindByTribe(
	ctx context.Context,
	tribeID string,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	if strings.TrimSpace(tribeID) == "" {
		return nil, 0, fmt.Errorf("%w: tribe id is required", domain.ErrValidation)
	}
	return s.notifications.FindByTribe(ctx, strings.TrimSpace(tribeID), params)
}

func (s *NotificationService) FindByEvent(
	ctx context.Context,
	eventID string,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, 0, fmt.Errorf("%w: event id is required", domain.ErrValidation)
	}
	return s.notifications.FindByEvent(ctx, strings.TrimSpace(eventID), params)
}

// FindPending returns up to limit PENDING notifications, oldest first, for
// the queue scanner.
func (s *NotificationService) FindPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.notifications.FindPending(ctx, limit)
}

// CountUnread counts the user's notifications not yet READ.
func (s *NotificationService) CountUnread(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return s.notifications.CountUnreadByUser(ctx, strings.TrimSpace(userID))
}

// MarkAllAsRead flips every unread notification of the user to READ,
// optionally narrowed to one type, and returns how many rows changed.
func (s *NotificationService) MarkAllAsRead(
	ctx context.Context,
	userID string,
	notificationType *domain.NotificationType,
) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if notificationType != nil && !notificationType.IsValid() {
		return 0, fmt.Errorf("%w: invalid notification type %q", domain.ErrValidation, *notificationType)
	}

	return s.notifications.MarkAllAsRead(ctx, userID, notificationType)
}

// AdvanceStatus moves the notification forward along the funnel. Stale or
// backward transitions are ignored and reported as not advanced; unknown
// ids surface domain.ErrNotFound.
func (s *NotificationService) AdvanceStatus(ctx context.Context, id string, next domain.Status) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	if !next.IsValid() {
		return false, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, next)
	}

	return s.notifications.AdvanceStatus(ctx, id, next)
}

// CleanupExpired removes notifications whose expiry lies more than
// retentionDays in the past and returns the number deleted. Zero retention
// deletes at the expiry moment.
func (s *NotificationService) CleanupExpired(ctx context.Context, retentionDays int) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if retentionDays < 0 {
		return 0, fmt.Errorf("%w: retention days must not be negative", domain.ErrValidation)
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	return s.notifications.DeleteExpired(ctx, cutoff)
}

func prepareNotificationForCreate(n *domain.Notification, now time.Time) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.UserID = strings.TrimSpace(n.UserID)
	n.Title = strings.TrimSpace(n.Title)
	n.Body = strings.TrimSpace(n.Body)
	n.TribeID = normalizeOptionalString(n.TribeID)
	n.EventID = normalizeOptionalString(n.EventID)
	n.ActionURL = normalizeOptionalString(n.ActionURL)
	n.ImageURL = normalizeOptionalString(n.ImageURL)

	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	n.Status = domain.StatusPending
	if n.Priority == "" {
		n.Priority = domain.PriorityMedium
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = n.CreatedAt.Add(n.Type.ExpiryOffset())
	}

	if err := n.Validate(); err != nil {
		return err
	}

	return nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
