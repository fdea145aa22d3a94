package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/tribeapp/notification-service/internal/domain"
	"go.uber.org/zap"
)

// SESAPI is the slice of the SES client the email sender calls.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailSender delivers through AWS SES. Recipient addresses come from the
// recipient directory; a user without one is a permanent failure.
type EmailSender struct {
	ses           SESAPI
	from          string
	contacts      RecipientDirectory
	deliveries    DeliveryStore
	notifications NotificationStore
	logger        *zap.Logger
}

func NewEmailSender(
	ctx context.Context,
	region string,
	from string,
	contacts RecipientDirectory,
	deliveries DeliveryStore,
	notifications NotificationStore,
	logger *zap.Logger,
) (*EmailSender, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return NewEmailSenderWithClient(ses.NewFromConfig(cfg), from, contacts, deliveries, notifications, logger)
}

func NewEmailSenderWithClient(
	client SESAPI,
	from string,
	contacts RecipientDirectory,
	deliveries DeliveryStore,
	notifications NotificationStore,
	logger *zap.Logger,
) (*EmailSender, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, fmt.Errorf("from address is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("recipient directory is required")
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

	return &EmailSender{
		ses:           client,
		from:          from,
		contacts:      contacts,
		deliveries:    deliveries,
		notifications: notifications,
		logger:        logger,
	}, nil
}

func (s *EmailSender) Send(ctx context.Context, notification *domain.Notification) (*domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if notification == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	delivery, err := s.deliveries.CreateDelivery(ctx, notification.ID, domain.ChannelEmail, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create email delivery: %w", err)
	}

	return s.deliver(ctx, delivery.ID, notification)
}

func (s *EmailSender) Retry(ctx context.Context, delivery *domain.Delivery) (*domain.Delivery, error) {
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
		return nil, fmt.Errorf("failed to load notification for email retry: %w", err)
	}

	return s.deliver(ctx, delivery.ID, notification)
}

func (s *EmailSender) deliver(ctx context.Context, deliveryID string, notification *domain.Notification) (*domain.Delivery, error) {
	meta, sendErr := s.sendEmail(ctx, notification)
	if sendErr != nil {
		s.logger.Error("email send failed",
			zap.String("notificationId", notification.ID),
			zap.String("reason", FailureReason(sendErr)),
			zap.Error(sendErr),
		)
		message := sendErr.Error()
		failed, updateErr := s.deliveries.UpdateStatus(ctx, deliveryID, domain.StatusFailed, &message, nil)
		if updateErr != nil {
			return nil, fmt.Errorf("failed to record email failure: %w", updateErr)
		}
		return failed, sendErr
	}

	sent, updateErr := s.deliveries.UpdateStatus(ctx, deliveryID, domain.StatusSent, nil, meta)
	if updateErr != nil {
		return nil, fmt.Errorf("failed to record email send: %w", updateErr)
	}
	return sent, nil
}

func (s *EmailSender) sendEmail(ctx context.Context, notification *domain.Notification) (domain.Metadata, error) {
	address, err := s.recipientAddress(ctx, notification.UserID)
	if err != nil {
		return nil, err
	}

	out, err := s.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{address},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(notification.Title)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(notification.Body)},
			},
		},
		Source: aws.String(s.from),
	})
	if err != nil {
		return nil, &SenderError{
			Message:   "ses send failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	if out != nil && out.MessageId != nil && *out.MessageId != "" {
		return domain.Metadata{"sesMessageId": *out.MessageId}, nil
	}
	return nil, nil
}

func (s *EmailSender) recipientAddress(ctx context.Context, userID string) (string, error) {
	contact, err := s.contacts.FindByUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", &SenderError{
			Message:   "no email address on file for user " + userID,
			Transient: false,
		}
	}
	if err != nil {
		return "", &SenderError{
			Message:   "recipient lookup failed",
			Transient: true,
			Cause:     err,
		}
	}

	if contact.Email == nil || strings.TrimSpace(*contact.Email) == "" {
		return "", &SenderError{
			Message:   "no email address on file for user " + userID,
			Transient: false,
		}
	}

	return strings.TrimSpace(*contact.Email), nil
}
