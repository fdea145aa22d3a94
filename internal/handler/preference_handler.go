package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tribeapp/notification-service/internal/domain"
)

type PreferenceService interface {
	EnsurePreferences(ctx context.Context, userID string) (*domain.Preferences, error)
	Update(ctx context.Context, p *domain.Preferences) (*domain.Preferences, error)
}

type PreferenceHandler struct {
	preferences PreferenceService
}

func NewPreferenceHandler(preferences PreferenceService) (*PreferenceHandler, error) {
	if preferences == nil {
		return nil, fmt.Errorf("preference service is required")
	}
	return &PreferenceHandler{preferences: preferences}, nil
}

func RegisterPreferenceRoutes(router fiber.Router, preferences PreferenceService) error {
	h, err := NewPreferenceHandler(preferences)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/users/:userId/preferences", h.GetPreferences)
	v1.Put("/users/:userId/preferences", h.UpdatePreferences)

	return nil
}

// updatePreferencesRequest is a partial update: absent fields keep their
// current value.
type updatePreferencesRequest struct {
	PushEnabled  *bool     `json:"pushEnabled"`
	EmailEnabled *bool     `json:"emailEnabled"`
	InAppEnabled *bool     `json:"inAppEnabled"`
	SMSEnabled   *bool     `json:"smsEnabled"`
	MutedTypes   *[]string `json:"mutedTypes"`
}

type preferencesResponse struct {
	UserID       string    `json:"userId"`
	PushEnabled  bool      `json:"pushEnabled"`
	EmailEnabled bool      `json:"emailEnabled"`
	InAppEnabled bool      `json:"inAppEnabled"`
	SMSEnabled   bool      `json:"smsEnabled"`
	MutedTypes   []string  `json:"mutedTypes"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (h *PreferenceHandler) GetPreferences(c *fiber.Ctx) error {
	prefs, err := h.preferences.EnsurePreferences(c.Context(), c.Params("userId"))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toPreferencesResponse(prefs))
}

func (h *PreferenceHandler) UpdatePreferences(c *fiber.Ctx) error {
	var req updatePreferencesRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	prefs, err := h.preferences.EnsurePreferences(c.Context(), c.Params("userId"))
	if err != nil {
		return err
	}

	if req.PushEnabled != nil {
		prefs.PushEnabled = *req.PushEnabled
	}
	if req.EmailEnabled != nil {
		prefs.EmailEnabled = *req.EmailEnabled
	}
	if req.InAppEnabled != nil {
		prefs.InAppEnabled = *req.InAppEnabled
	}
	if req.SMSEnabled != nil {
		prefs.SMSEnabled = *req.SMSEnabled
	}
	if req.MutedTypes != nil {
		muted := make(domain.TypeList, 0, len(*req.MutedTypes))
		for _, raw := range *req.MutedTypes {
			parsed, err := domain.ParseNotificationTypeFromString(raw)
			if err != nil {
				return err
			}
			muted = append(muted, parsed)
		}
		prefs.MutedTypes = muted
	}

	updated, err := h.preferences.Update(c.Context(), prefs)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toPreferencesResponse(updated))
}

func toPreferencesResponse(p *domain.Preferences) preferencesResponse {
	if p == nil {
		return preferencesResponse{}
	}

	muted := make([]string, 0, len(p.MutedTypes))
	for _, t := range p.MutedTypes {
		muted = append(muted, t.String())
	}

	return preferencesResponse{
		UserID:       p.UserID,
		PushEnabled:  p.PushEnabled,
		EmailEnabled: p.EmailEnabled,
		InAppEnabled: p.InAppEnabled,
		SMSEnabled:   p.SMSEnabled,
		MutedTypes:   muted,
		UpdatedAt:    p.UpdatedAt,
	}
}
