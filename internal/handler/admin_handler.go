package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/tribeapp/notification-service/internal/service"
)

const defaultAdminQueueBatch = 100

type RetryRunner interface {
	RetryFailedDeliveries(ctx context.Context) (*service.RetryResult, error)
}

type QueueProcessor interface {
	ProcessQueue(ctx context.Context, batchSize int) (*service.QueueResult, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) error
}

// AdminHandler exposes the background passes as on-demand triggers, for
// operators who do not want to wait for the next ticker edge.
type AdminHandler struct {
	retries RetryRunner
	queue   QueueProcessor
	sweeper Sweeper
}

func NewAdminHandler(retries RetryRunner, queue QueueProcessor, sweeper Sweeper) (*AdminHandler, error) {
	if retries == nil {
		return nil, fmt.Errorf("retry runner is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue processor is required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	return &AdminHandler{
		retries: retries,
		queue:   queue,
		sweeper: sweeper,
	}, nil
}

func RegisterAdminRoutes(router fiber.Router, retries RetryRunner, queue QueueProcessor, sweeper Sweeper) error {
	h, err := NewAdminHandler(retries, queue, sweeper)
	if err != nil {
		return err
	}

	admin := router.Group("/v1/admin")
	admin.Post("/retries/run", h.RunRetries)
	admin.Post("/queue/process", h.ProcessQueue)
	admin.Post("/cleanup/run", h.RunCleanup)

	return nil
}

func (h *AdminHandler) RunRetries(c *fiber.Ctx) error {
	result, err := h.retries.RetryFailedDeliveries(c.Context())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
}

func (h *AdminHandler) ProcessQueue(c *fiber.Ctx) error {
	batchSize := c.QueryInt("batchSize", defaultAdminQueueBatch)

	result, err := h.queue.ProcessQueue(c.Context(), batchSize)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
}

func (h *AdminHandler) RunCleanup(c *fiber.Ctx) error {
	if err := h.sweeper.Sweep(c.Context()); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "completed",
	})
}
