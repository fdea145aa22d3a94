package event

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tribeapp/notification-service/internal/domain"
)

// Broker names shared by publisher, consumer and topology declaration.
const (
	// EventsExchange receives lifecycle events; the routing key is the
	// event name, so downstream services bind with patterns such as
	// "delivery.*" or "notification.read".
	EventsExchange = "notifications.events"

	// SendQueue is the ingress work queue other Tribe services publish
	// send requests to.
	SendQueue = "notifications.send"
)

// Lifecycle event names, doubling as routing keys on EventsExchange.
const (
	EventNotificationSent   = "notification.sent"
	EventNotificationFailed = "notification.failed"
	EventNotificationRead   = "notification.read"
	EventDeliverySent       = "delivery.sent"
	EventDeliveryDelivered  = "delivery.delivered"
	EventDeliveryFailed     = "delivery.failed"
)

// Event is the payload published to EventsExchange after a notification or
// delivery changes state.
type Event struct {
	Name           string         `json:"name"`
	NotificationID string         `json:"notificationId"`
	DeliveryID     string         `json:"deliveryId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	Channel        domain.Channel `json:"channel,omitempty"`
	Status         domain.Status  `json:"status"`
	Reason         string         `json:"reason,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("event name is required")
	}
	if strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	return nil
}

// SendRequest is the ingress payload on SendQueue. Fields mirror the create
// API; enum fields arrive as strings and are parsed by the worker.
type SendRequest struct {
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
}

func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if _, err := domain.ParseNotificationTypeFromString(r.Type); err != nil {
		return fmt.Errorf("invalid notification type %q", r.Type)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("body is required")
	}
	if strings.TrimSpace(r.Priority) != "" {
		if _, err := domain.ParsePriorityFromString(r.Priority); err != nil {
			return fmt.Errorf("invalid priority %q", r.Priority)
		}
	}
	return nil
}

// ToNotification converts a validated request into a domain notification.
// Defaults (id, status, expiry) are filled in by the notification service.
func (r SendRequest) ToNotification() (*domain.Notification, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	notificationType, err := domain.ParseNotificationTypeFromString(r.Type)
	if err != nil {
		return nil, err
	}

	n := &domain.Notification{
		UserID:    strings.TrimSpace(r.UserID),
		Type:      notificationType,
		Title:     strings.TrimSpace(r.Title),
		Body:      strings.TrimSpace(r.Body),
		TribeID:   r.TribeID,
		EventID:   r.EventID,
		ActionURL: r.ActionURL,
		ImageURL:  r.ImageURL,
		Metadata:  r.Metadata,
	}

	if strings.TrimSpace(r.Priority) != "" {
		priority, err := domain.ParsePriorityFromString(r.Priority)
		if err != nil {
			return nil, err
		}
		n.Priority = priority
	}

	return n, nil
}

// Publisher publishes lifecycle events. Callers treat publish failures as
// best-effort; delivery state lives in the store, not in the broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// SendRequestHandler handles one consumed send request.
type SendRequestHandler func(ctx context.Context, req SendRequest) error

// Consumer consumes send requests from SendQueue.
type Consumer interface {
	Consume(ctx context.Context, handler SendRequestHandler) error
	Close() error
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityUrgent:
		return 4
	case domain.PriorityHigh:
		return 3
	case domain.PriorityMedium:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
