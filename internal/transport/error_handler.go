package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/observability"
)

// ErrorHandler maps domain errors onto HTTP statuses in one place, so route
// handlers return service errors as-is. Validation failures carry the
// per-field breakdown when one was recorded.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fiberErr *fiber.Error
		var fieldErrs domain.FieldErrors

		switch {
		case errors.As(err, &fiberErr):
			code = fiberErr.Code
		case errors.As(err, &fieldErrs):
			code = fiber.StatusBadRequest
		case errors.Is(err, domain.ErrValidation):
			code = fiber.StatusBadRequest
		case errors.Is(err, domain.ErrNotFound):
			code = fiber.StatusNotFound
		case errors.Is(err, domain.ErrConflict):
			code = fiber.StatusConflict
		}

		observability.WithContextLogger(logger, c.UserContext()).Error("request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)

		if len(fieldErrs) > 0 {
			return c.Status(code).JSON(fiber.Map{
				"error":  domain.ErrValidation.Error(),
				"fields": fieldErrs,
			})
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
