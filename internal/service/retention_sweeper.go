package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tribeapp/notification-service/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultCleanupInterval           = time.Hour
	defaultNotificationRetentionDays = 30
	defaultDeliveryRetentionDays     = 90
)

// RetentionSweeper periodically deletes expired notifications and old
// delivery records. Notifications go once their expiry is past the
// retention grace window; deliveries go by age alone.
type RetentionSweeper struct {
	notifications *NotificationService
	deliveries    *DeliveryService
	logger        *zap.Logger
	metrics       *observability.Metrics

	interval                  time.Duration
	notificationRetentionDays int
	deliveryRetentionDays     int
}

func NewRetentionSweeper(
	notifications *NotificationService,
	deliveries *DeliveryService,
	interval time.Duration,
	notificationRetentionDays int,
	deliveryRetentionDays int,
	logger *zap.Logger,
) (*RetentionSweeper, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	if notificationRetentionDays < 0 {
		notificationRetentionDays = defaultNotificationRetentionDays
	}
	if deliveryRetentionDays < 1 {
		deliveryRetentionDays = defaultDeliveryRetentionDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetentionSweeper{
		notifications:             notifications,
		deliveries:                deliveries,
		logger:                    logger,
		interval:                  interval,
		notificationRetentionDays: notificationRetentionDays,
		deliveryRetentionDays:     deliveryRetentionDays,
	}, nil
}

// SetMetrics attaches Prometheus collectors. Safe to skip in tests.
func (s *RetentionSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetentionSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retention sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one cleanup pass. Exposed for the admin trigger endpoint.
func (s *RetentionSweeper) Sweep(ctx context.Context) error {
	return s.sweep(ctx)
}

func (s *RetentionSweeper) sweep(ctx context.Context) error {
	expired, err := s.notifications.CleanupExpired(ctx, s.notificationRetentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean up expired notifications: %w", err)
	}
	s.metrics.AddNotificationsExpired(expired)

	swept, err := s.deliveries.CleanupOldDeliveries(ctx, s.deliveryRetentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean up old deliveries: %w", err)
	}
	s.metrics.AddDeliveriesSwept(swept)

	if expired > 0 || swept > 0 {
		s.logger.Info("retention sweep completed",
			zap.Int64("notificationsDeleted", expired),
			zap.Int64("deliveriesDeleted", swept),
		)
	}

	return nil
}
