package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/event"
	"github.com/tribeapp/notification-service/internal/observability"
	"github.com/tribeapp/notification-service/internal/preference"
	"github.com/tribeapp/notification-service/internal/sender"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBulkChunkSize  = 50
	defaultBulkChunkPause = 200 * time.Millisecond
	maxBulkSize           = 1000
)

// ChannelResult is the per-channel outcome of one dispatch.
type ChannelResult struct {
	Channel    domain.Channel
	Status     domain.Status
	DeliveryID string
	Error      string
}

// SendOutcome summarizes one dispatch across all resolved channels.
type SendOutcome struct {
	NotificationID string
	Status         domain.Status
	Channels       []ChannelResult
}

// BulkResult aggregates a SendBulk run across all chunks.
type BulkResult struct {
	Created int
	Sent    int
	Failed  int
}

// QueueResult aggregates one ProcessQueue pass.
type QueueResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// Orchestrator drives the send pipeline: resolve the user's channels,
// dispatch to each channel's sender with per-channel failure isolation,
// then advance the parent notification. Per-item failures are recorded on
// the delivery rows and reported in result summaries; only store-level
// failures propagate as errors.
type Orchestrator struct {
	notifications *NotificationService
	deliveries    *DeliveryService
	preferences   preference.Resolver
	registry      *sender.Registry
	publisher     event.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics

	chunkSize  int
	chunkPause time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	notifications *NotificationService,
	deliveries *DeliveryService,
	preferences preference.Resolver,
	registry *sender.Registry,
	publisher event.Publisher,
	chunkSize int,
	chunkPause time.Duration,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	if preferences == nil {
		return nil, fmt.Errorf("preference resolver is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("sender registry is required")
	}
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	if chunkSize < 1 {
		chunkSize = defaultBulkChunkSize
	}
	if chunkPause < 0 {
		chunkPause = defaultBulkChunkPause
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		notifications: notifications,
		deliveries:    deliveries,
		preferences:   preferences,
		registry:      registry,
		publisher:     publisher,
		logger:        logger,
		chunkSize:     chunkSize,
		chunkPause:    chunkPause,
		now:           func() time.Time { return time.Now().UTC() },
		sleep:         sleepWithContext,
	}, nil
}

// SetMetrics attaches Prometheus collectors. Safe to skip in tests.
func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// Send dispatches one persisted notification to every channel the user has
// enabled for its type. An empty channel set marks the notification FAILED
// and returns a FAILED outcome with a nil error; that no-op terminal state
// is not a transport failure. With at least one resolved channel the
// notification always advances to SENT after the dispatch loop, whatever
// the per-channel outcomes: the delivery rows carry the failures and the
// retry sweep picks them up from there.
func (o *Orchestrator) Send(ctx context.Context, notification *domain.Notification) (*SendOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if notification == nil || notification.ID == "" {
		return nil, fmt.Errorf("%w: notification with id is required", domain.ErrValidation)
	}

	channels, err := o.preferences.ChannelsFor(ctx, notification.UserID, notification.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channels: %w", err)
	}

	if len(channels) == 0 {
		o.logger.Info("no enabled channels, marking notification failed",
			zap.String("notificationId", notification.ID),
			zap.String("userId", notification.UserID),
			zap.String("type", notification.Type.String()),
		)
		if _, err := o.notifications.AdvanceStatus(ctx, notification.ID, domain.StatusFailed); err != nil {
			return nil, fmt.Errorf("failed to mark notification failed: %w", err)
		}
		o.publishNotificationEvent(ctx, notification, event.EventNotificationFailed, domain.StatusFailed, "no enabled channels")

		return &SendOutcome{
			NotificationID: notification.ID,
			Status:         domain.StatusFailed,
		}, nil
	}

	results := make([]ChannelResult, 0, len(channels))
	for _, channel := range channels {
		results = append(results, o.dispatchChannel(ctx, notification, channel))
	}

	if _, err := o.notifications.AdvanceStatus(ctx, notification.ID, domain.StatusSent); err != nil {
		return nil, fmt.Errorf("failed to advance notification to sent: %w", err)
	}
	o.publishNotificationEvent(ctx, notification, event.EventNotificationSent, domain.StatusSent, "")

	return &SendOutcome{
		NotificationID: notification.ID,
		Status:         domain.StatusSent,
		Channels:       results,
	}, nil
}

// dispatchChannel runs one channel attempt. Sender errors are recorded on
// the delivery row by the sender itself and reported in the result; they
// never abort the surrounding dispatch loop.
func (o *Orchestrator) dispatchChannel(ctx context.Context, notification *domain.Notification, channel domain.Channel) ChannelResult {
	snd, ok := o.registry.Lookup(channel)
	if !ok {
		return o.recordUnsupportedChannel(ctx, notification, channel)
	}

	start := o.now()
	delivery, sendErr := snd.Send(ctx, notification)
	o.metrics.ObserveSendDuration(channel.String(), o.now().Sub(start))

	result := ChannelResult{Channel: channel}
	if delivery != nil {
		result.DeliveryID = delivery.ID
		result.Status = delivery.Status
	}

	if sendErr != nil {
		result.Status = domain.StatusFailed
		result.Error = sendErr.Error()
		o.logger.Warn("channel dispatch failed",
			zap.String("notificationId", notification.ID),
			zap.String("channel", channel.String()),
			zap.Error(sendErr),
		)
		o.metrics.IncDeliveryFailed(channel.String(), sender.FailureReason(sendErr))
		o.publishDeliveryEvent(ctx, notification, delivery, channel, event.EventDeliveryFailed, domain.StatusFailed, sendErr.Error())
		return result
	}

	o.metrics.IncDeliveryDispatched(channel.String())
	eventName := event.EventDeliverySent
	if result.Status == domain.StatusDelivered {
		eventName = event.EventDeliveryDelivered
	}
	o.publishDeliveryEvent(ctx, notification, delivery, channel, eventName, result.Status, "")

	return result
}

// recordUnsupportedChannel covers channels with no registered sender (SMS
// today). The dispatcher owns the delivery record on this path so the
// failure is visible in the funnel; the retry counter is not touched.
func (o *Orchestrator) recordUnsupportedChannel(ctx context.Context, notification *domain.Notification, channel domain.Channel) ChannelResult {
	o.logger.Warn("no sender registered for channel",
		zap.String("notificationId", notification.ID),
		zap.String("channel", channel.String()),
	)
	o.metrics.IncDeliveryFailed(channel.String(), "unsupported")

	result := ChannelResult{Channel: channel, Status: domain.StatusFailed}

	delivery, err := o.deliveries.CreateDelivery(ctx, notification.ID, channel, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.DeliveryID = delivery.ID

	message := fmt.Sprintf("no sender registered for channel %s", channel)
	result.Error = message
	if _, err := o.deliveries.UpdateStatus(ctx, delivery.ID, domain.StatusFailed, &message, nil); err != nil {
		o.logger.Error("failed to record unsupported channel delivery",
			zap.String("deliveryId", delivery.ID),
			zap.Error(err),
		)
		result.Error = err.Error()
		return result
	}

	o.publishDeliveryEvent(ctx, notification, delivery, channel, event.EventDeliveryFailed, domain.StatusFailed, message)
	return result
}

// SendBulk creates then sends each notification, working through the input
// in fixed-size chunks with bounded parallelism inside a chunk and a pause
// between chunks. Independent failures never stop the run.
func (o *Orchestrator) SendBulk(ctx context.Context, notifications []*domain.Notification) (*BulkResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(notifications) == 0 {
		return nil, fmt.Errorf("%w: at least one notification is required", domain.ErrValidation)
	}
	if len(notifications) > maxBulkSize {
		return nil, fmt.Errorf("%w: bulk size exceeds %d", domain.ErrValidation, maxBulkSize)
	}

	var (
		mu     sync.Mutex
		result BulkResult
	)

	for start := 0; start < len(notifications); start += o.chunkSize {
		end := min(start+o.chunkSize, len(notifications))
		chunk := notifications[start:end]

		g, groupCtx := errgroup.WithContext(ctx)
		for i := range chunk {
			item := chunk[i]
			g.Go(func() error {
				created, err := o.notifications.Create(groupCtx, item)
				if err != nil {
					o.logger.Warn("bulk: failed to create notification", zap.Error(err))
					mu.Lock()
					result.Failed++
					mu.Unlock()
					return nil
				}

				outcome, err := o.Send(groupCtx, created)

				mu.Lock()
				defer mu.Unlock()
				result.Created++
				switch {
				case err != nil:
					o.logger.Warn("bulk: failed to send notification",
						zap.String("notificationId", created.ID),
						zap.Error(err),
					)
					result.Failed++
				case outcome.Status == domain.StatusSent:
					result.Sent++
				default:
					result.Failed++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return &result, err
		}

		if end < len(notifications) && o.chunkPause > 0 {
			if err := o.sleep(ctx, o.chunkPause); err != nil {
				return &result, err
			}
		}
	}

	return &result, nil
}

// ProcessQueue pulls up to batchSize PENDING notifications, oldest first,
// and attempts to send each one.
func (o *Orchestrator) ProcessQueue(ctx context.Context, batchSize int) (*QueueResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pending, err := o.notifications.FindPending(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending notifications: %w", err)
	}

	result := &QueueResult{}
	for i := range pending {
		notification := pending[i]
		result.Processed++

		outcome, err := o.Send(ctx, &notification)
		if err != nil {
			o.logger.Error("queue: failed to send notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			result.Failed++
			o.metrics.IncQueueNotification("failed")
			continue
		}

		if outcome.Status == domain.StatusSent {
			result.Succeeded++
			o.metrics.IncQueueNotification("succeeded")
		} else {
			result.Failed++
			o.metrics.IncQueueNotification("failed")
		}
	}

	return result, nil
}

// MarkRead flips the notification's deliveries to READ, advances the
// notification itself, and returns how many delivery rows changed.
func (o *Orchestrator) MarkRead(ctx context.Context, notificationID string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	notification, err := o.notifications.FindByID(ctx, notificationID)
	if err != nil {
		return 0, err
	}

	count, err := o.deliveries.MarkAsRead(ctx, notification.ID)
	if err != nil {
		return 0, err
	}

	if _, err := o.notifications.AdvanceStatus(ctx, notification.ID, domain.StatusRead); err != nil {
		return count, err
	}

	o.publishNotificationEvent(ctx, notification, event.EventNotificationRead, domain.StatusRead, "")
	return count, nil
}

func (o *Orchestrator) publishNotificationEvent(ctx context.Context, n *domain.Notification, name string, status domain.Status, reason string) {
	ev := event.Event{
		Name:           name,
		NotificationID: n.ID,
		UserID:         n.UserID,
		Status:         status,
		Reason:         reason,
		OccurredAt:     o.now(),
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logger.Warn("failed to publish notification event",
			zap.String("event", name),
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publishDeliveryEvent(
	ctx context.Context,
	n *domain.Notification,
	d *domain.Delivery,
	channel domain.Channel,
	name string,
	status domain.Status,
	reason string,
) {
	ev := event.Event{
		Name:           name,
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        channel,
		Status:         status,
		Reason:         reason,
		OccurredAt:     o.now(),
	}
	if d != nil {
		ev.DeliveryID = d.ID
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logger.Warn("failed to publish delivery event",
			zap.String("event", name),
			zap.String("notificationId", n.ID),
			zap.String("channel", channel.String()),
			zap.Error(err),
		)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
