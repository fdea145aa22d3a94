package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tribeapp/notification-service/internal/domain"
)

func TestErrorHandler_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "wrapped validation error maps to 400",
			err:        fmt.Errorf("%w: page must be >= 1", domain.ErrValidation),
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "field errors map to 400",
			err:        domain.FieldErrors{{Field: "title", Message: "is required"}},
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "not found maps to 404",
			err:        domain.ErrNotFound,
			wantStatus: fiber.StatusNotFound,
		},
		{
			name:       "conflict maps to 409",
			err:        domain.ErrConflict,
			wantStatus: fiber.StatusConflict,
		},
		{
			name:       "fiber error keeps its code",
			err:        fiber.NewError(fiber.StatusUnprocessableEntity, "nope"),
			wantStatus: fiber.StatusUnprocessableEntity,
		},
		{
			name:       "unknown error maps to 500",
			err:        errors.New("db down"),
			wantStatus: fiber.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
			app.Get("/boom", func(c *fiber.Ctx) error {
				return tt.err
			})

			resp := doRequest(t, app, "/boom", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestErrorHandler_RendersFieldBreakdown(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return domain.FieldErrors{
			{Field: "userId", Message: "is required"},
			{Field: "title", Message: "is required"},
		}
	})

	resp := doRequest(t, app, "/boom", nil)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	var parsed struct {
		Error  string `json:"error"`
		Fields []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Error != domain.ErrValidation.Error() {
		t.Fatalf("error = %q, want %q", parsed.Error, domain.ErrValidation.Error())
	}
	if len(parsed.Fields) != 2 || parsed.Fields[1].Field != "title" {
		t.Fatalf("fields = %+v, want userId and title entries", parsed.Fields)
	}
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Use(RequestID())
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp := doRequest(t, app, "/ping", nil)
	if got := resp.Header.Get(fiber.HeaderXRequestID); got == "" {
		t.Fatal("X-Request-Id header was not set")
	}
}

func TestRequestID_HonorsInboundHeader(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Use(RequestID())
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp := doRequest(t, app, "/ping", map[string]string{fiber.HeaderXRequestID: "req-from-gateway"})
	if got := resp.Header.Get(fiber.HeaderXRequestID); got != "req-from-gateway" {
		t.Fatalf("X-Request-Id = %q, want req-from-gateway", got)
	}
}

func doRequest(t *testing.T, app *fiber.App, path string, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}
