package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/event"
	"github.com/tribeapp/notification-service/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// WorkerPool consumes send requests from the broker ingress queue and runs
// them through create plus dispatch. Requests that fail validation are
// dropped as poison; store-level failures are returned so the consumer
// nacks and requeues.
type WorkerPool struct {
	notifications *NotificationService
	orchestrator  *Orchestrator
	consumer      event.Consumer
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
}

func NewWorkerPool(
	notifications *NotificationService,
	orchestrator *Orchestrator,
	consumer event.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*WorkerPool, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		notifications: notifications,
		orchestrator:  orchestrator,
		consumer:      consumer,
		logger:        logger,
		concurrency:   concurrency,
	}, nil
}

// SetMetrics attaches Prometheus collectors. Safe to skip in tests.
func (w *WorkerPool) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the ingress queue with the configured concurrency until
// context cancellation.
func (w *WorkerPool) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("worker started", zap.Int("workerId", workerID))

			err := w.consumer.Consume(groupCtx, w.processRequest)
			if err != nil {
				w.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *WorkerPool) processRequest(ctx context.Context, req event.SendRequest) error {
	w.metrics.IncWorkerInFlight()
	defer w.metrics.DecWorkerInFlight()

	notification, err := req.ToNotification()
	if err != nil {
		// The consumer validates before handing off, so this is a poison
		// payload; drop it rather than requeue.
		w.logger.Warn("dropping malformed send request",
			zap.String("userId", req.UserID),
			zap.Error(err),
		)
		return nil
	}

	created, err := w.notifications.Create(ctx, notification)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			w.logger.Warn("dropping invalid send request",
				zap.String("userId", req.UserID),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("failed to create notification from send request: %w", err)
	}

	outcome, err := w.orchestrator.Send(ctx, created)
	if err != nil {
		return fmt.Errorf("failed to send notification %s: %w", created.ID, err)
	}

	if outcome.Status == domain.StatusFailed {
		w.logger.Info("send request ended with no deliverable channel",
			zap.String("notificationId", created.ID),
			zap.String("userId", created.UserID),
		)
	}

	return nil
}
