package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeliveryService owns the per-channel delivery records: idempotent
// creation, status transitions with timestamp stamping, read flips and
// retention cleanup. Senders drive it through their store port.
type DeliveryService struct {
	deliveries repository.DeliveryRepository
	logger     *zap.Logger
	now        func() time.Time
}

func NewDeliveryService(deliveries repository.DeliveryRepository, logger *zap.Logger) (*DeliveryService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		deliveries: deliveries,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateDelivery inserts a pending delivery for (notification, channel).
// Creation is idempotent: if a record already exists the existing one is
// returned, so concurrent dispatches of the same notification converge on
// a single row per channel.
func (s *DeliveryService) CreateDelivery(
	ctx context.Context,
	notificationID string,
	channel domain.Channel,
	metadata domain.Metadata,
) (*domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}

	delivery := &domain.Delivery{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		Channel:        channel,
		Status:         domain.StatusPending,
		Metadata:       metadata,
	}

	if err := s.deliveries.Create(ctx, delivery); err != nil {
		if !isUniqueViolationError(err) {
			return nil, err
		}

		existing, findErr := s.deliveries.FindByNotificationAndChannel(ctx, notificationID, channel)
		if findErr != nil {
			return nil, fmt.Errorf("failed to load existing delivery after unique conflict: %w", findErr)
		}
		s.logger.Info("delivery already exists, reusing",
			zap.String("deliveryId", existing.ID),
			zap.String("notificationId", notificationID),
			zap.String("channel", channel.String()),
		)
		return existing, nil
	}

	return delivery, nil
}

// UpdateStatus moves a delivery to the given status. Funnel timestamps are
// stamped on first arrival only; the error message is recorded only on
// FAILED; metadata merges over the stored bag with incoming keys winning.
// Writes are last-writer-wins, there is no compare-and-swap guard.
func (s *DeliveryService) UpdateStatus(
	ctx context.Context,
	deliveryID string,
	status domain.Status,
	errorMessage *string,
	metadata domain.Metadata,
) (*domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return nil, fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, status)
	}

	existing, err := s.deliveries.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	stamp := s.now()
	update := repository.StatusUpdate{Status: status}

	switch status {
	case domain.StatusSent:
		if existing.SentAt == nil {
			update.SentAt = &stamp
		}
	case domain.StatusDelivered:
		if existing.DeliveredAt == nil {
			update.DeliveredAt = &stamp
		}
	case domain.StatusRead:
		if existing.ReadAt == nil {
			update.ReadAt = &stamp
		}
	case domain.StatusFailed:
		if errorMessage != nil {
			trimmed := strings.TrimSpace(*errorMessage)
			update.ErrorMessage = &trimmed
		}
	}

	if len(metadata) > 0 {
		update.Metadata = existing.Metadata.Merge(metadata)
	}

	if err := s.deliveries.UpdateStatus(ctx, deliveryID, update); err != nil {
		return nil, err
	}

	existing.Status = status
	if update.SentAt != nil {
		existing.SentAt = update.SentAt
	}
	if update.DeliveredAt != nil {
		existing.DeliveredAt = update.DeliveredAt
	}
	if update.ReadAt != nil {
		existing.ReadAt = update.ReadAt
	}
	if update.ErrorMessage != nil {
		existing.ErrorMessage = update.ErrorMessage
	}
	if update.Metadata != nil {
		existing.Metadata = update.Metadata
	}
	existing.UpdatedAt = stamp

	return existing, nil
}

// MarkAsRead flips every non-READ delivery of the notification to READ and
// returns how many rows changed.
func (s *DeliveryService) MarkAsRead(ctx context.Context, notificationID string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return 0, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	return s.deliveries.MarkAsRead(ctx, notificationID, s.now())
}

func (s *DeliveryService) FindByID(ctx context.Context, id string) (*domain.Delivery, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}
	return s.deliveries.FindByID(ctx, strings.TrimSpace(id))
}

func (s *DeliveryService) FindByNotification(ctx context.Context, notificationID string) ([]domain.Delivery, error) {
	if strings.TrimSpace(notificationID) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.deliveries.FindByNotification(ctx, strings.TrimSpace(notificationID))
}

func (s *DeliveryService) FindByNotificationAndChannel(ctx context.Context, notificationID string, channel domain.Channel) (*domain.Delivery, error) {
	if strings.TrimSpace(notificationID) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrValidation, string(channel))
	}
	return s.deliveries.FindByNotificationAndChannel(ctx, strings.TrimSpace(notificationID), channel)
}

// FindPendingDeliveries returns up to limit deliveries still awaiting
// dispatch, oldest first.
func (s *DeliveryService) FindPendingDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.deliveries.FindPending(ctx, limit)
}

// FindFailedDeliveries returns up to limit retry-eligible failed
// deliveries, oldest failure first.
func (s *DeliveryService) FindFailedDeliveries(ctx context.Context, limit, maxRetryAttempts int) ([]domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.deliveries.FindFailed(ctx, limit, maxRetryAttempts)
}

func (s *DeliveryService) IncrementRetryCount(ctx context.Context, deliveryID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}

	return s.deliveries.IncrementRetryCount(ctx, deliveryID)
}

// CleanupOldDeliveries removes deliveries created more than retentionDays
// ago and returns the number deleted.
func (s *DeliveryService) CleanupOldDeliveries(ctx context.Context, retentionDays int) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if retentionDays < 1 {
		return 0, fmt.Errorf("%w: retention days must be at least 1", domain.ErrValidation)
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	return s.deliveries.DeleteOlderThan(ctx, cutoff)
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
