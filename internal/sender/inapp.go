package sender

import (
	"context"
	"fmt"

	"github.com/tribeapp/notification-service/internal/domain"
	"go.uber.org/zap"
)

// InAppSender records in-app deliveries. There is no external transport:
// the in-app feed reads straight from the store, so the delivery is marked
// DELIVERED the moment it exists.
type InAppSender struct {
	deliveries DeliveryStore
	logger     *zap.Logger
}

func NewInAppSender(deliveries DeliveryStore, logger *zap.Logger) (*InAppSender, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InAppSender{
		deliveries: deliveries,
		logger:     logger,
	}, nil
}

func (s *InAppSender) Send(ctx context.Context, notification *domain.Notification) (*domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if notification == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	delivery, err := s.deliveries.CreateDelivery(ctx, notification.ID, domain.ChannelInApp, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-app delivery: %w", err)
	}

	delivered, err := s.deliveries.UpdateStatus(ctx, delivery.ID, domain.StatusDelivered, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to record in-app delivery: %w", err)
	}
	return delivered, nil
}

func (s *InAppSender) Retry(ctx context.Context, delivery *domain.Delivery) (*domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if delivery == nil {
		return nil, fmt.Errorf("%w: delivery is required", domain.ErrValidation)
	}

	if err := s.deliveries.IncrementRetryCount(ctx, delivery.ID); err != nil {
		return nil, fmt.Errorf("failed to increment retry count: %w", err)
	}

	delivered, err := s.deliveries.UpdateStatus(ctx, delivery.ID, domain.StatusDelivered, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to record in-app delivery: %w", err)
	}
	return delivered, nil
}
