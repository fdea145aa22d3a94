package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tribeapp/notification-service/internal/domain"
	"go.uber.org/zap"
)

const defaultPushTimeout = 10 * time.Second

type pushRequest struct {
	UserID    string          `json:"userId"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Priority  string          `json:"priority"`
	ActionURL *string         `json:"actionUrl,omitempty"`
	ImageURL  *string         `json:"imageUrl,omitempty"`
	Metadata  domain.Metadata `json:"metadata,omitempty"`
}

// PushSender delivers through the platform push gateway.
type PushSender struct {
	client        *resty.Client
	gatewayURL    string
	apiKey        string
	deliveries    DeliveryStore
	notifications NotificationStore
	logger        *zap.Logger
}

func NewPushSender(
	gatewayURL string,
	apiKey string,
	deliveries DeliveryStore,
	notifications NotificationStore,
	logger *zap.Logger,
) (*PushSender, error) {
	client := resty.New()
	client.SetTimeout(defaultPushTimeout)
	client.SetRetryCount(0)

	return NewPushSenderWithClient(gatewayURL, apiKey, client, deliveries, notifications, logger)
}

func NewPushSenderWithClient(
	gatewayURL string,
	apiKey string,
	client *resty.Client,
	deliveries DeliveryStore,
	notifications NotificationStore,
	logger *zap.Logger,
) (*PushSender, error) {
	trimmedURL := strings.TrimSpace(gatewayURL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("push gateway url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid push gateway url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery store is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPushTimeout)
	}
	client.SetRetryCount(0)

	return &PushSender{
		client:        client,
		gatewayURL:    trimmedURL,
		apiKey:        strings.TrimSpace(apiKey),
		deliveries:    deliveries,
		notifications: notifications,
		logger:        logger,
	}, nil
}

func (s *PushSender) Send(ctx context.Context, notification *domain.Notification) (*domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if notification == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	delivery, err := s.deliveries.CreateDelivery(ctx, notification.ID, domain.ChannelPush, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create push delivery: %w", err)
	}

	return s.deliver(ctx, delivery.ID, notification)
}

func (s *PushSender) Retry(ctx context.Context, delivery *domain.Delivery) (*domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if delivery == nil {
		return nil, fmt.Errorf("%w: delivery is required", domain.ErrValidation)
	}

	if err := s.deliveries.IncrementRetryCount(ctx, delivery.ID); err != nil {
		return nil, fmt.Errorf("failed to increment retry count: %w", err)
	}

	notification, err := s.notifications.FindByID(ctx, delivery.NotificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification for push retry: %w", err)
	}

	return s.deliver(ctx, delivery.ID, notification)
}

func (s *PushSender) deliver(ctx context.Context, deliveryID string, notification *domain.Notification) (*domain.Delivery, error) {
	gatewayMeta, sendErr := s.post(ctx, notification)
	if sendErr != nil {
		s.logger.Error("push send failed",
			zap.String("notificationId", notification.ID),
			zap.String("reason", FailureReason(sendErr)),
			zap.Error(sendErr),
		)
		message := sendErr.Error()
		failed, updateErr := s.deliveries.UpdateStatus(ctx, deliveryID, domain.StatusFailed, &message, nil)
		if updateErr != nil {
			return nil, fmt.Errorf("failed to record push failure: %w", updateErr)
		}
		return failed, sendErr
	}

	sent, updateErr := s.deliveries.UpdateStatus(ctx, deliveryID, domain.StatusSent, nil, gatewayMeta)
	if updateErr != nil {
		return nil, fmt.Errorf("failed to record push send: %w", updateErr)
	}
	return sent, nil
}

func (s *PushSender) post(ctx context.Context, notification *domain.Notification) (domain.Metadata, error) {
	reqBody := pushRequest{
		UserID:    notification.UserID,
		Title:     notification.Title,
		Body:      notification.Body,
		Priority:  strings.ToLower(notification.Priority.String()),
		ActionURL: notification.ActionURL,
		ImageURL:  notification.ImageURL,
		Metadata:  notification.Metadata,
	}

	request := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody)
	if s.apiKey != "" {
		request.SetHeader("Authorization", "Bearer "+s.apiKey)
	}

	response, err := request.Post(s.gatewayURL)
	if err != nil {
		return nil, &SenderError{
			Message:   "push gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &SenderError{
			Message:   "push gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		if id := gatewayRequestID(response); id != "" {
			return domain.Metadata{"gatewayRequestId": id}, nil
		}
		return nil, nil
	}

	message := fmt.Sprintf("push gateway returned status %d", statusCode)
	if body := strings.TrimSpace(response.String()); body != "" {
		message = fmt.Sprintf("%s: %s", message, body)
	}

	return nil, &SenderError{
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayRequestID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
