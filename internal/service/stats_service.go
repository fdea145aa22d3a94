package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/repository"
	"go.uber.org/zap"
)

// DeliveryStats is the funnel aggregate over one time window. Sent,
// Delivered and Read are cumulative: a READ delivery counts in all three,
// because read implies delivered implies sent. Failed and Pending are the
// raw bucket counts.
type DeliveryStats struct {
	Total       int64
	Sent        int64
	Delivered   int64
	Read        int64
	Failed      int64
	Pending     int64
	SuccessRate float64
}

// ChannelDeliveryStats is one channel's funnel aggregate.
type ChannelDeliveryStats struct {
	Channel domain.Channel
	Stats   DeliveryStats
}

// StatsService computes the delivery funnel aggregates.
type StatsService struct {
	deliveries repository.DeliveryRepository
	logger     *zap.Logger
}

func NewStatsService(deliveries repository.DeliveryRepository, logger *zap.Logger) (*StatsService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatsService{
		deliveries: deliveries,
		logger:     logger,
	}, nil
}

// DeliveryStats aggregates deliveries created within [start, end]. An
// empty window returns the zero-filled shape, never an error.
func (s *StatsService) DeliveryStats(ctx context.Context, start, end time.Time) (*DeliveryStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateStatsWindow(start, end); err != nil {
		return nil, err
	}

	rows, err := s.deliveries.CountByStatus(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries by status: %w", err)
	}

	counts := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] += row.Count
	}

	stats := foldFunnel(counts)
	return &stats, nil
}

// DeliveryStatsByChannel aggregates the same funnel per channel. Every
// known channel appears in the result, zero-filled when it saw no traffic
// in the window.
func (s *StatsService) DeliveryStatsByChannel(ctx context.Context, start, end time.Time) ([]ChannelDeliveryStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateStatsWindow(start, end); err != nil {
		return nil, err
	}

	rows, err := s.deliveries.CountByChannelAndStatus(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries by channel: %w", err)
	}

	perChannel := make(map[domain.Channel]map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts, ok := perChannel[row.Channel]
		if !ok {
			counts = make(map[domain.Status]int64)
			perChannel[row.Channel] = counts
		}
		counts[row.Status] += row.Count
	}

	results := make([]ChannelDeliveryStats, 0, len(domain.AllChannels()))
	for _, channel := range domain.AllChannels() {
		results = append(results, ChannelDeliveryStats{
			Channel: channel,
			Stats:   foldFunnel(perChannel[channel]),
		})
	}

	return results, nil
}

func validateStatsWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", domain.ErrValidation)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end date precedes start date", domain.ErrValidation)
	}
	return nil
}

// foldFunnel turns raw status counts into the cumulative funnel shape.
func foldFunnel(counts map[domain.Status]int64) DeliveryStats {
	read := counts[domain.StatusRead]
	delivered := counts[domain.StatusDelivered] + read
	sent := counts[domain.StatusSent] + delivered

	stats := DeliveryStats{
		Total:     sent + counts[domain.StatusFailed] + counts[domain.StatusPending],
		Sent:      sent,
		Delivered: delivered,
		Read:      read,
		Failed:    counts[domain.StatusFailed],
		Pending:   counts[domain.StatusPending],
	}

	if stats.Total > 0 {
		rate := float64(stats.Delivered) / float64(stats.Total) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}

	return stats
}
