package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/repository"
	"github.com/tribeapp/notification-service/internal/service"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

type NotificationService interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	FindByID(ctx context.Context, id string) (*domain.Notification, error)
	FindByUser(ctx context.Context, userID string, params repository.ListParams) ([]domain.Notification, int64, error)
	FindByTribe(ctx context.Context, tribeID string, params repository.ListParams) ([]domain.Notification, int64, error)
	FindByEvent(ctx context.Context, eventID string, params repository.ListParams) ([]domain.Notification, int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	MarkAllAsRead(ctx context.Context, userID string, notificationType *domain.NotificationType) (int64, error)
}

type DeliveryService interface {
	FindByNotification(ctx context.Context, notificationID string) ([]domain.Delivery, error)
}

// Dispatcher is the slice of the orchestrator the HTTP surface drives.
type Dispatcher interface {
	Send(ctx context.Context, n *domain.Notification) (*service.SendOutcome, error)
	SendBulk(ctx context.Context, notifications []*domain.Notification) (*service.BulkResult, error)
	MarkRead(ctx context.Context, notificationID string) (int64, error)
}

type NotificationHandler struct {
	notifications NotificationService
	deliveries    DeliveryService
	dispatcher    Dispatcher
}

func NewNotificationHandler(notifications NotificationService, deliveries DeliveryService, dispatcher Dispatcher) (*NotificationHandler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &NotificationHandler{
		notifications: notifications,
		deliveries:    deliveries,
		dispatcher:    dispatcher,
	}, nil
}

func RegisterNotificationRoutes(router fiber.Router, notifications NotificationService, deliveries DeliveryService, dispatcher Dispatcher) error {
	h, err := NewNotificationHandler(notifications, deliveries, dispatcher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications/bulk", h.SendBulk)
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/send", h.SendNotification)
	v1.Post("/notifications/:id/read", h.MarkNotificationRead)
	v1.Get("/notifications/:id/deliveries", h.ListDeliveries)
	v1.Get("/users/:userId/notifications", h.ListUserNotifications)
	v1.Get("/users/:userId/notifications/unread-count", h.GetUnreadCount)
	v1.Post("/users/:userId/notifications/read-all", h.MarkAllRead)
	v1.Get("/tribes/:tribeId/notifications", h.ListTribeNotifications)
	v1.Get("/events/:eventId/notifications", h.ListEventNotifications)

	return nil
}

type createNotificationRequest struct {
	UserID    string          `json:"userId"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Priority  string          `json:"priority,omitempty"`
	TribeID   *string         `json:"tribeId,omitempty"`
	EventID   *string         `json:"eventId,omitempty"`
	ActionURL *string         `json:"actionUrl,omitempty"`
	ImageURL  *string         `json:"imageUrl,omitempty"`
	Metadata  domain.Metadata `json:"metadata,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

type sendBulkRequest struct {
	Notifications []createNotificationRequest `json:"notifications"`
}

type notificationResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Priority  string          `json:"priority"`
	Status    string          `json:"status"`
	TribeID   *string         `json:"tribeId,omitempty"`
	EventID   *string         `json:"eventId,omitempty"`
	ActionURL *string         `json:"actionUrl,omitempty"`
	ImageURL  *string         `json:"imageUrl,omitempty"`
	Metadata  domain.Metadata `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type deliveryResponse struct {
	ID             string          `json:"id"`
	NotificationID string          `json:"notificationId"`
	Channel        string          `json:"channel"`
	Status         string          `json:"status"`
	SentAt         *time.Time      `json:"sentAt,omitempty"`
	DeliveredAt    *time.Time      `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time      `json:"readAt,omitempty"`
	ErrorMessage   *string         `json:"errorMessage,omitempty"`
	RetryCount     int             `json:"retryCount"`
	Metadata       domain.Metadata `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type channelResultResponse struct {
	Channel    string `json:"channel"`
	Status     string `json:"status"`
	DeliveryID string `json:"deliveryId,omitempty"`
	Error      string `json:"error,omitempty"`
}

type sendOutcomeResponse struct {
	NotificationID string                  `json:"notificationId"`
	Status         string                  `json:"status"`
	Channels       []channelResultResponse `json:"channels"`
}

type sendBulkResponse struct {
	Created int `json:"created"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification, err := requestToDomainNotification(req)
	if err != nil {
		return err
	}

	created, err := h.notifications.Create(c.Context(), notification)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	notification, err := h.notifications.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

// SendNotification dispatches a persisted notification to the user's
// enabled channels right now, rather than waiting for the queue sweep.
func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	notification, err := h.notifications.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}

	outcome, err := h.dispatcher.Send(c.Context(), notification)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toSendOutcomeResponse(outcome))
}

func (h *NotificationHandler) SendBulk(c *fiber.Ctx) error {
	var req sendBulkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if len(req.Notifications) == 0 {
		return fmt.Errorf("%w: notifications is required", domain.ErrValidation)
	}

	notifications := make([]*domain.Notification, 0, len(req.Notifications))
	for _, item := range req.Notifications {
		n, err := requestToDomainNotification(item)
		if err != nil {
			return err
		}
		notifications = append(notifications, n)
	}

	result, err := h.dispatcher.SendBulk(c.Context(), notifications)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(sendBulkResponse{
		Created: result.Created,
		Sent:    result.Sent,
		Failed:  result.Failed,
	})
}

func (h *NotificationHandler) MarkNotificationRead(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	count, err := h.dispatcher.MarkRead(c.Context(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.StatusRead.String(),
		"deliveriesRead": count,
	})
}

func (h *NotificationHandler) ListDeliveries(c *fiber.Ctx) error {
	notification, err := h.notifications.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}

	deliveries, err := h.deliveries.FindByNotification(c.Context(), notification.ID)
	if err != nil {
		return err
	}

	responses := make([]deliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		responses = append(responses, toDeliveryResponse(&deliveries[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": notification.ID,
		"deliveries":     responses,
	})
}

func (h *NotificationHandler) ListUserNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}

	notifications, total, err := h.notifications.FindByUser(c.Context(), c.Params("userId"), params)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toListResponse(notifications, params, total))
}

func (h *NotificationHandler) ListTribeNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}

	notifications, total, err := h.notifications.FindByTribe(c.Context(), c.Params("tribeId"), params)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toListResponse(notifications, params, total))
}

func (h *NotificationHandler) ListEventNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}

	notifications, total, err := h.notifications.FindByEvent(c.Context(), c.Params("eventId"), params)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toListResponse(notifications, params, total))
}

func (h *NotificationHandler) GetUnreadCount(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))

	count, err := h.notifications.CountUnread(c.Context(), userID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userId":      userID,
		"unreadCount": count,
	})
}

type markAllReadRequest struct {
	Type string `json:"type,omitempty"`
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))

	var notificationType *domain.NotificationType
	if len(c.Body()) > 0 {
		var req markAllReadRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(req.Type) != "" {
			parsed, err := domain.ParseNotificationTypeFromString(req.Type)
			if err != nil {
				return err
			}
			notificationType = &parsed
		}
	}

	count, err := h.notifications.MarkAllAsRead(c.Context(), userID, notificationType)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userId":      userID,
		"markedCount": count,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:  c.QueryInt("page", defaultPage),
		Limit: c.QueryInt("limit", defaultLimit),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.Limit < 1 || params.Limit > maxLimit {
		return repository.ListParams{}, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxLimit)
	}

	return params, nil
}

func requestToDomainNotification(req createNotificationRequest) (*domain.Notification, error) {
	notificationType, err := domain.ParseNotificationTypeFromString(req.Type)
	if err != nil {
		return nil, err
	}

	n := &domain.Notification{
		UserID:    strings.TrimSpace(req.UserID),
		Type:      notificationType,
		Title:     strings.TrimSpace(req.Title),
		Body:      strings.TrimSpace(req.Body),
		TribeID:   req.TribeID,
		EventID:   req.EventID,
		ActionURL: req.ActionURL,
		ImageURL:  req.ImageURL,
		Metadata:  req.Metadata,
	}

	if strings.TrimSpace(req.Priority) != "" {
		priority, err := domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return nil, err
		}
		n.Priority = priority
	}
	if req.ExpiresAt != nil {
		n.ExpiresAt = *req.ExpiresAt
	}

	return n, nil
}

func toListResponse(notifications []domain.Notification, params repository.ListParams, total int64) listNotificationsResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}

	return listNotificationsResponse{
		Data: responses,
		Meta: listMeta{
			Page:  params.Page,
			Limit: params.Limit,
			Total: total,
		},
	}
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type.String(),
		Title:     n.Title,
		Body:      n.Body,
		Priority:  n.Priority.String(),
		Status:    n.Status.String(),
		TribeID:   n.TribeID,
		EventID:   n.EventID,
		ActionURL: n.ActionURL,
		ImageURL:  n.ImageURL,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
		ExpiresAt: n.ExpiresAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func toDeliveryResponse(d *domain.Delivery) deliveryResponse {
	if d == nil {
		return deliveryResponse{}
	}

	return deliveryResponse{
		ID:             d.ID,
		NotificationID: d.NotificationID,
		Channel:        d.Channel.String(),
		Status:         d.Status.String(),
		SentAt:         d.SentAt,
		DeliveredAt:    d.DeliveredAt,
		ReadAt:         d.ReadAt,
		ErrorMessage:   d.ErrorMessage,
		RetryCount:     d.RetryCount,
		Metadata:       d.Metadata,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func toSendOutcomeResponse(outcome *service.SendOutcome) sendOutcomeResponse {
	if outcome == nil {
		return sendOutcomeResponse{}
	}

	channels := make([]channelResultResponse, 0, len(outcome.Channels))
	for _, result := range outcome.Channels {
		channels = append(channels, channelResultResponse{
			Channel:    result.Channel.String(),
			Status:     result.Status.String(),
			DeliveryID: result.DeliveryID,
			Error:      result.Error,
		})
	}

	return sendOutcomeResponse{
		NotificationID: outcome.NotificationID,
		Status:         outcome.Status.String(),
		Channels:       channels,
	}
}
