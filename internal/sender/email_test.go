package sender

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/tribeapp/notification-service/internal/domain"
)

type fakeSES struct {
	sendEmailFn func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if f.sendEmailFn == nil {
		return nil, errors.New("unexpected SendEmail call")
	}
	return f.sendEmailFn(ctx, params, optFns...)
}

func emailTestStore(t *testing.T, wantStatus domain.Status) (*fakeDeliveryStore, *domain.Delivery) {
	t.Helper()

	result := &domain.Delivery{}
	store := &fakeDeliveryStore{
		createFn: func(ctx context.Context, notificationID string, channel domain.Channel, metadata domain.Metadata) (*domain.Delivery, error) {
			if channel != domain.ChannelEmail {
				t.Fatalf("CreateDelivery channel = %s, want %s", channel, domain.ChannelEmail)
			}
			return &domain.Delivery{ID: "d-1", NotificationID: notificationID, Channel: channel, Status: domain.StatusPending}, nil
		},
		updateFn: func(ctx context.Context, deliveryID string, status domain.Status, errorMessage *string, metadata domain.Metadata) (*domain.Delivery, error) {
			if status != wantStatus {
				t.Fatalf("persisted status = %s, want %s", status, wantStatus)
			}
			*result = domain.Delivery{ID: deliveryID, Status: status, ErrorMessage: errorMessage, Metadata: metadata}
			return result, nil
		},
	}
	return store, result
}

func TestEmailSenderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotInput *ses.SendEmailInput
	client := &fakeSES{
		sendEmailFn: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			gotInput = params
			return &ses.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
		},
	}
	email := "user1@tribe.example"
	contacts := &fakeContactDirectory{
		findByUserFn: func(ctx context.Context, userID string) (*domain.UserContact, error) {
			return &domain.UserContact{UserID: userID, Email: &email}, nil
		},
	}
	store, recorded := emailTestStore(t, domain.StatusSent)

	s, err := NewEmailSenderWithClient(client, "noreply@tribe.example", contacts, store, &fakeNotificationStore{}, nil)
	if err != nil {
		t.Fatalf("NewEmailSenderWithClient() error = %v", err)
	}

	notification := &domain.Notification{
		ID:     "n-1",
		UserID: "user-1",
		Type:   domain.TypeTribeInvitation,
		Title:  "You have been invited",
		Body:   "The Saturday Hikers want you in.",
	}

	delivery, err := s.Send(context.Background(), notification)
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if delivery.Status != domain.StatusSent {
		t.Fatalf("delivery status = %s, want %s", delivery.Status, domain.StatusSent)
	}
	if recorded.Metadata["sesMessageId"] != "ses-msg-1" {
		t.Fatalf("sesMessageId = %v, want ses-msg-1", recorded.Metadata["sesMessageId"])
	}

	if gotInput == nil {
		t.Fatal("SendEmail was not called")
	}
	if got := gotInput.Destination.ToAddresses[0]; got != email {
		t.Fatalf("destination = %q, want %q", got, email)
	}
	if got := *gotInput.Source; got != "noreply@tribe.example" {
		t.Fatalf("source = %q, want noreply@tribe.example", got)
	}
	if got := *gotInput.Message.Subject.Data; got != notification.Title {
		t.Fatalf("subject = %q, want %q", got, notification.Title)
	}
}

func TestEmailSenderMissingAddressIsPermanentFailure(t *testing.T) {
	t.Parallel()

	contacts := &fakeContactDirectory{
		findByUserFn: func(ctx context.Context, userID string) (*domain.UserContact, error) {
			return nil, domain.ErrNotFound
		},
	}
	store, recorded := emailTestStore(t, domain.StatusFailed)

	s, err := NewEmailSenderWithClient(&fakeSES{}, "noreply@tribe.example", contacts, store, &fakeNotificationStore{}, nil)
	if err != nil {
		t.Fatalf("NewEmailSenderWithClient() error = %v", err)
	}

	delivery, err := s.Send(context.Background(), &domain.Notification{ID: "n-1", UserID: "user-1", Title: "t", Body: "b"})
	if err == nil {
		t.Fatal("Send() should surface the missing address")
	}
	if IsTransient(err) {
		t.Fatalf("missing address should be permanent, got %v", err)
	}
	if delivery == nil || delivery.Status != domain.StatusFailed {
		t.Fatalf("delivery = %+v, want FAILED record", delivery)
	}
	if recorded.ErrorMessage == nil || !strings.Contains(*recorded.ErrorMessage, "no email address") {
		t.Fatalf("error message = %v, want missing-address text", recorded.ErrorMessage)
	}
}

func TestEmailSenderSESFailureIsRecorded(t *testing.T) {
	t.Parallel()

	client := &fakeSES{
		sendEmailFn: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			return nil, errors.New("ses unavailable")
		},
	}
	email := "user1@tribe.example"
	contacts := &fakeContactDirectory{
		findByUserFn: func(ctx context.Context, userID string) (*domain.UserContact, error) {
			return &domain.UserContact{UserID: userID, Email: &email}, nil
		},
	}
	store, _ := emailTestStore(t, domain.StatusFailed)

	s, err := NewEmailSenderWithClient(client, "noreply@tribe.example", contacts, store, &fakeNotificationStore{}, nil)
	if err != nil {
		t.Fatalf("NewEmailSenderWithClient() error = %v", err)
	}

	delivery, err := s.Send(context.Background(), &domain.Notification{ID: "n-1", UserID: "user-1", Title: "t", Body: "b"})
	if err == nil {
		t.Fatal("Send() should surface the ses failure")
	}
	if !IsTransient(err) {
		t.Fatalf("ses outage should classify as transient, got %v", err)
	}
	if delivery == nil || delivery.Status != domain.StatusFailed {
		t.Fatalf("delivery = %+v, want FAILED record", delivery)
	}
}

func TestInAppSenderMarksDeliveredDirectly(t *testing.T) {
	t.Parallel()

	var persisted domain.Status
	store := &fakeDeliveryStore{
		createFn: func(ctx context.Context, notificationID string, channel domain.Channel, metadata domain.Metadata) (*domain.Delivery, error) {
			if channel != domain.ChannelInApp {
				t.Fatalf("CreateDelivery channel = %s, want %s", channel, domain.ChannelInApp)
			}
			return &domain.Delivery{ID: "d-1", NotificationID: notificationID, Channel: channel, Status: domain.StatusPending}, nil
		},
		updateFn: func(ctx context.Context, deliveryID string, status domain.Status, errorMessage *string, metadata domain.Metadata) (*domain.Delivery, error) {
			persisted = status
			return &domain.Delivery{ID: deliveryID, Status: status}, nil
		},
	}

	s, err := NewInAppSender(store, nil)
	if err != nil {
		t.Fatalf("NewInAppSender() error = %v", err)
	}

	delivery, err := s.Send(context.Background(), &domain.Notification{ID: "n-1", UserID: "user-1", Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if delivery.Status != domain.StatusDelivered {
		t.Fatalf("delivery status = %s, want %s", delivery.Status, domain.StatusDelivered)
	}
	if persisted != domain.StatusDelivered {
		t.Fatalf("persisted status = %s, want %s", persisted, domain.StatusDelivered)
	}
}
