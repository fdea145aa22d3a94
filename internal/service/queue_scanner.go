package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueBatchSize    = 100
	defaultQueueScanInterval = 30 * time.Second
)

// QueueScanner periodically drains PENDING notifications through the
// orchestrator. It backstops ingress paths that create without sending,
// and re-drives notifications whose dispatch never ran.
type QueueScanner struct {
	orchestrator *Orchestrator
	logger       *zap.Logger
	interval     time.Duration
	batchSize    int
}

func NewQueueScanner(
	orchestrator *Orchestrator,
	interval time.Duration,
	batchSize int,
	logger *zap.Logger,
) (*QueueScanner, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if interval <= 0 {
		interval = defaultQueueScanInterval
	}
	if batchSize < 1 {
		batchSize = defaultQueueBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueueScanner{
		orchestrator: orchestrator,
		logger:       logger,
		interval:     interval,
		batchSize:    batchSize,
	}, nil
}

func (s *QueueScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Drain once at startup so a backlog does not wait for the first
	// ticker edge.
	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("queue scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("queue scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *QueueScanner) scan(ctx context.Context) error {
	result, err := s.orchestrator.ProcessQueue(ctx, s.batchSize)
	if err != nil {
		return err
	}

	if result.Processed > 0 {
		s.logger.Info("queue scan completed",
			zap.Int("processed", result.Processed),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	}

	return nil
}
