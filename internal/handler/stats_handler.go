package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/service"
)

// Stats windows default to the trailing week when the query omits them.
const defaultStatsWindow = 7 * 24 * time.Hour

type StatsService interface {
	DeliveryStats(ctx context.Context, start, end time.Time) (*service.DeliveryStats, error)
	DeliveryStatsByChannel(ctx context.Context, start, end time.Time) ([]service.ChannelDeliveryStats, error)
}

type StatsHandler struct {
	stats StatsService
	now   func() time.Time
}

func NewStatsHandler(stats StatsService) (*StatsHandler, error) {
	if stats == nil {
		return nil, fmt.Errorf("stats service is required")
	}
	return &StatsHandler{
		stats: stats,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func RegisterStatsRoutes(router fiber.Router, stats StatsService) error {
	h, err := NewStatsHandler(stats)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/stats/deliveries", h.GetDeliveryStats)
	v1.Get("/stats/deliveries/channels", h.GetDeliveryStatsByChannel)

	return nil
}

type deliveryStatsResponse struct {
	Total       int64   `json:"total"`
	Sent        int64   `json:"sent"`
	Delivered   int64   `json:"delivered"`
	Read        int64   `json:"read"`
	Failed      int64   `json:"failed"`
	Pending     int64   `json:"pending"`
	SuccessRate float64 `json:"successRate"`
}

type deliveryStatsEnvelope struct {
	Start time.Time             `json:"start"`
	End   time.Time             `json:"end"`
	Stats deliveryStatsResponse `json:"stats"`
}

type channelStatsItem struct {
	Channel string `json:"channel"`
	deliveryStatsResponse
}

type channelStatsEnvelope struct {
	Start    time.Time          `json:"start"`
	End      time.Time          `json:"end"`
	Channels []channelStatsItem `json:"channels"`
}

func (h *StatsHandler) GetDeliveryStats(c *fiber.Ctx) error {
	start, end, err := h.parseStatsWindow(c)
	if err != nil {
		return err
	}

	stats, err := h.stats.DeliveryStats(c.Context(), start, end)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(deliveryStatsEnvelope{
		Start: start,
		End:   end,
		Stats: toDeliveryStatsResponse(*stats),
	})
}

func (h *StatsHandler) GetDeliveryStatsByChannel(c *fiber.Ctx) error {
	start, end, err := h.parseStatsWindow(c)
	if err != nil {
		return err
	}

	perChannel, err := h.stats.DeliveryStatsByChannel(c.Context(), start, end)
	if err != nil {
		return err
	}

	items := make([]channelStatsItem, 0, len(perChannel))
	for _, entry := range perChannel {
		items = append(items, channelStatsItem{
			Channel:               entry.Channel.String(),
			deliveryStatsResponse: toDeliveryStatsResponse(entry.Stats),
		})
	}

	return c.Status(fiber.StatusOK).JSON(channelStatsEnvelope{
		Start:    start,
		End:      end,
		Channels: items,
	})
}

// parseStatsWindow reads the start/end query params as RFC3339, defaulting
// to the trailing week ending now.
func (h *StatsHandler) parseStatsWindow(c *fiber.Ctx) (time.Time, time.Time, error) {
	end := h.now()
	if raw := strings.TrimSpace(c.Query("end")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end must be RFC3339", domain.ErrValidation)
		}
		end = parsed
	}

	start := end.Add(-defaultStatsWindow)
	if raw := strings.TrimSpace(c.Query("start")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: start must be RFC3339", domain.ErrValidation)
		}
		start = parsed
	}

	return start, end, nil
}

func toDeliveryStatsResponse(stats service.DeliveryStats) deliveryStatsResponse {
	return deliveryStatsResponse{
		Total:       stats.Total,
		Sent:        stats.Sent,
		Delivered:   stats.Delivered,
		Read:        stats.Read,
		Failed:      stats.Failed,
		Pending:     stats.Pending,
		SuccessRate: stats.SuccessRate,
	}
}
