package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/event"
	"github.com/tribeapp/notification-service/internal/observability"
	"github.com/tribeapp/notification-service/internal/sender"
	"go.uber.org/zap"
)

const (
	defaultMaxRetryAttempts  = 3
	defaultRetryBatchSize    = 100
	defaultRetryScanInterval = 60 * time.Second
)

// RetryResult aggregates one retry pass over failed deliveries.
type RetryResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// RetryCoordinator periodically re-attempts failed deliveries. Only
// deliveries under the attempt bound are selected; once a delivery reaches
// the bound it silently stops being picked up. Senders own the retry
// counter, the coordinator never increments it.
type RetryCoordinator struct {
	deliveries *DeliveryService
	registry   *sender.Registry
	publisher  event.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics

	maxRetryAttempts int
	batchSize        int
	interval         time.Duration
}

func NewRetryCoordinator(
	deliveries *DeliveryService,
	registry *sender.Registry,
	publisher event.Publisher,
	maxRetryAttempts int,
	batchSize int,
	interval time.Duration,
	logger *zap.Logger,
) (*RetryCoordinator, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("sender registry is required")
	}
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	if maxRetryAttempts < 1 {
		maxRetryAttempts = defaultMaxRetryAttempts
	}
	if batchSize < 1 {
		batchSize = defaultRetryBatchSize
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryCoordinator{
		deliveries:       deliveries,
		registry:         registry,
		publisher:        publisher,
		logger:           logger,
		maxRetryAttempts: maxRetryAttempts,
		batchSize:        batchSize,
		interval:         interval,
	}, nil
}

// SetMetrics attaches Prometheus collectors. Safe to skip in tests.
func (c *RetryCoordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// Start runs retry passes until context cancellation.
func (c *RetryCoordinator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial pass so failures from before startup do not wait for
	// the first ticker edge.
	if _, err := c.RetryFailedDeliveries(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("retry coordinator initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.RetryFailedDeliveries(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("retry coordinator pass failed", zap.Error(err))
			}
		}
	}
}

// RetryFailedDeliveries selects up to the batch size of retry-eligible
// failed deliveries and re-dispatches each through its channel's sender.
// Individual failures are counted and the loop continues.
func (c *RetryCoordinator) RetryFailedDeliveries(ctx context.Context) (*RetryResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	failed, err := c.deliveries.FindFailedDeliveries(ctx, c.batchSize, c.maxRetryAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch retry-eligible deliveries: %w", err)
	}

	result := &RetryResult{}
	for i := range failed {
		delivery := failed[i]
		result.Processed++

		snd, ok := c.registry.Lookup(delivery.Channel)
		if !ok {
			// Unsupported channel (SMS today): counted as failed, retry
			// counter untouched so the row stays visible as-is.
			c.logger.Warn("no sender registered for channel, skipping retry",
				zap.String("deliveryId", delivery.ID),
				zap.String("channel", delivery.Channel.String()),
			)
			result.Failed++
			c.metrics.IncRetry(delivery.Channel.String(), "unsupported")
			continue
		}

		updated, retryErr := snd.Retry(ctx, &delivery)
		if retryErr != nil {
			c.logger.Warn("delivery retry failed",
				zap.String("deliveryId", delivery.ID),
				zap.String("channel", delivery.Channel.String()),
				zap.Int("retryCount", delivery.RetryCount+1),
				zap.Error(retryErr),
			)
			result.Failed++
			c.metrics.IncRetry(delivery.Channel.String(), "failed")
			continue
		}

		result.Succeeded++
		c.metrics.IncRetry(delivery.Channel.String(), "succeeded")
		c.publishRetryEvent(ctx, updated)
	}

	if result.Processed > 0 {
		c.logger.Info("retry pass completed",
			zap.Int("processed", result.Processed),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	}

	return result, nil
}

func (c *RetryCoordinator) publishRetryEvent(ctx context.Context, d *domain.Delivery) {
	if d == nil {
		return
	}

	name := event.EventDeliverySent
	if d.Status == domain.StatusDelivered {
		name = event.EventDeliveryDelivered
	}

	ev := event.Event{
		Name:           name,
		NotificationID: d.NotificationID,
		DeliveryID:     d.ID,
		Channel:        d.Channel,
		Status:         d.Status,
		OccurredAt:     time.Now().UTC(),
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Warn("failed to publish retry event",
			zap.String("deliveryId", d.ID),
			zap.Error(err),
		)
	}
}
