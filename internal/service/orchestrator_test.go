package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/event"
	"github.com/tribeapp/notification-service/internal/preference"
	"github.com/tribeapp/notification-service/internal/repository"
	"github.com/tribeapp/notification-service/internal/sender"
)

func newTestOrchestrator(t *testing.T, notifRepo *fakeNotificationRepo, deliveryRepo *fakeDeliveryRepo, resolver preference.Resolver, registry *sender.Registry, publisher event.Publisher) *Orchestrator {
	t.Helper()

	notifications, err := NewNotificationService(notifRepo, nil)
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}
	deliveries, err := NewDeliveryService(deliveryRepo, nil)
	if err != nil {
		t.Fatalf("NewDeliveryService() error = %v", err)
	}
	orch, err := NewOrchestrator(notifications, deliveries, resolver, registry, publisher, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return orch
}

func TestOrchestratorSendDispatchesAllChannels(t *testing.T) {
	t.Parallel()

	registry := sender.NewRegistry()
	registry.Register(domain.ChannelPush, &fakeSender{
		sendFn: func(ctx context.Context, n *domain.Notification) (*domain.Delivery, error) {
			return &domain.Delivery{ID: "d-push", NotificationID: n.ID, Channel: domain.ChannelPush, Status: domain.StatusSent}, nil
		},
	})
	registry.Register(domain.ChannelInApp, &fakeSender{
		sendFn: func(ctx context.Context, n *domain.Notification) (*domain.Delivery, error) {
			return &domain.Delivery{ID: "d-inapp", NotificationID: n.ID, Channel: domain.ChannelInApp, Status: domain.StatusDelivered}, nil
		},
	})

	advanced := map[string]domain.Status{}
	notifRepo := &fakeNotificationRepo{
		advanceStatusFn: func(ctx context.Context, id string, next domain.Status) (bool, error) {
			advanced[id] = next
			return true, nil
		},
	}
	publisher := &fakePublisher{}
	resolver := &fakeResolver{
		channelsForFn: func(ctx context.Context, userID string, nt domain.NotificationType) ([]domain.Channel, error) {
			return []domain.Channel{domain.ChannelPush, domain.ChannelInApp}, nil
		},
	}

	orch := newTestOrchestrator(t, notifRepo, &fakeDeliveryRepo{}, resolver, registry, publisher)

	notification := &domain.Notification{ID: "n-1", UserID: "user-1", Type: domain.TypeTribeInvitation}
	outcome, err := orch.Send(context.Background(), notification)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if outcome.Status != domain.StatusSent {
		t.Fatalf("outcome status = %s, want SENT", outcome.Status)
	}
	if len(outcome.Channels) != 2 {
		t.Fatalf("channel results = %d, want 2", len(outcome.Channels))
	}
	if outcome.Channels[0].DeliveryID != "d-push" || outcome.Channels[0].Status != domain.StatusSent {
		t.Fatalf("push result = %+v, want d-push SENT", outcome.Channels[0])
	}
	if outcome.Channels[1].Status != domain.StatusDelivered {
		t.Fatalf("in-app result status = %s, want DELIVERED", outcome.Channels[1].Status)
	}
	if advanced["n-1"] != domain.StatusSent {
		t.Fatalf("notification advanced to %s, want SENT", advanced["n-1"])
	}

	wantEvents := []string{event.EventDeliverySent, event.EventDeliveryDelivered, event.EventNotificationSent}
	if got := publisher.names(); !equalStrings(got, wantEvents) {
		t.Fatalf("published events = %v, want %v", got, wantEvents)
	}
}

func TestOrchestratorSendEmptyChannelSet(t *testing.T) {
	t.Parallel()

	advanced := map[string]domain.Status{}
	notifRepo := &fakeNotificationRepo{
		advanceStatusFn: func(ctx context.Context, id string, next domain.Status) (bool, error) {
			advanced[id] = next
			return true, nil
		},
	}
	deliveryRepo := &fakeDeliveryRepo{
		createFn: func(ctx context.Context, d *domain.Delivery) error {
			t.Fatal("no delivery should be created for an empty channel set")
			return nil
		},
	}
	publisher := &fakePublisher{}
	resolver := &fakeResolver{
		channelsForFn: func(ctx context.Context, userID string, nt domain.NotificationType) ([]domain.Channel, error) {
			return nil, nil
		},
	}

	orch := newTestOrchestrator(t, notifRepo, deliveryRepo, resolver, sender.NewRegistry(), publisher)

	outcome, err := orch.Send(context.Background(), &domain.Notification{ID: "n-1", UserID: "user-1", Type: domain.TypeTribeUpdate})
	if err != nil {
		t.Fatalf("Send() error = %v, want nil for the no-op terminal state", err)
	}
	if outcome.Status != domain.StatusFailed {
		t.Fatalf("outcome status = %s, want FAILED", outcome.Status)
	}
	if len(outcome.Channels) != 0 {
		t.Fatalf("channel results = %d, want 0", len(outcome.Channels))
	}
	if advanced["n-1"] != domain.StatusFailed {
		t.Fatalf("notification advanced to %s, want FAILED", advanced["n-1"])
	}

	events := publisher.events()
	if len(events) != 1 || events[0].Name != event.EventNotificationFailed {
		t.Fatalf("published events = %v, want single notification.failed", publisher.names())
	}
	if events[0].Reason != "no enabled channels" {
		t.Fatalf("event reason = %q, want no enabled channels", events[0].Reason)
	}
}

func TestOrchestratorSendIsolatesChannelFailures(t *testing.T) {
	t.Parallel()

	registry := sender.NewRegistry()
	registry.Register(domain.ChannelPush, &fakeSender{
		sendFn: func(ctx context.Context, n *domain.Notification) (*domain.Delivery, error) {
			return &domain.Delivery{ID: "d-push", NotificationID: n.ID, Channel: domain.ChannelPush, Status: domain.StatusFailed},
				errors.New("push gateway timeout")
		},
	})
	registry.Register(domain.ChannelEmail, &fakeSender{
		sendFn: func(ctx context.Context, n *domain.Notification) (*domain.Delivery, error) {
			return &domain.Delivery{ID: "d-email", NotificationID: n.ID, Channel: domain.ChannelEmail, Status: domain.StatusSent}, nil
		},
	})

	advanced := map[string]domain.Status{}
	notifRepo := &fakeNotificationRepo{
		advanceStatusFn: func(ctx context.Context, id string, next domain.Status) (bool, error) {
			advanced[id] = next
			return true, nil
		},
	}
	publisher := &fakePublisher{}
	resolver := &fakeResolver{
		channelsForFn: func(ctx context.Context, userID string, nt domain.NotificationType) ([]domain.Channel, error) {
			return []domain.Channel{domain.ChannelPush, domain.ChannelEmail}, nil
		},
	}

	orch := newTestOrchestrator(t, notifRepo, &fakeDeliveryRepo{}, resolver, registry, publisher)

	outcome, err := orch.Send(context.Background(), &domain.Notification{ID: "n-1", UserID: "user-1", Type: domain.TypeEventReminder})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// One channel blowing up never blocks the others or the parent.
	if outcome.Status != domain.StatusSent {
		t.Fatalf("outcome status = %s, want SENT despite the push failure", outcome.Status)
	}
	if outcome.Channels[0].Status != domain.StatusFailed || outcome.Channels[0].Error != "push gateway timeout" {
		t.Fatalf("push result = %+v, want FAILED with gateway timeout", outcome.Channels[0])
	}
	if outcome.Channels[1].Status != domain.StatusSent {
		t.Fatalf("email result = %+v, want SENT", outcome.Channels[1])
	}
	if advanced["n-1"] != domain.StatusSent {
		t.Fatalf("notification advanced to %s, want SENT", advanced["n-1"])
	}

	wantEvents := []string{event.EventDeliveryFailed, event.EventDeliverySent, event.EventNotificationSent}
	if got := publisher.names(); !equalStrings(got, wantEvents) {
		t.Fatalf("published events = %v, want %v", got, wantEvents)
	}
}

func TestOrchestratorSendRecordsUnsupportedChannel(t *testing.T) {
	t.Parallel()

	var created *domain.Delivery
	var failedMessage *string
	deliveryRepo := &fakeDeliveryRepo{
		createFn: func(ctx context.Context, d *domain.Delivery) error {
			created = d
			return nil
		},
		findByIDFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			cp := *created
			return &cp, nil
		},
		updateStatusFn: func(ctx context.Context, id string, update repository.StatusUpdate) error {
			failedMessage = update.ErrorMessage
			return nil
		},
		incrementRetryCountFn: func(ctx context.Context, id string) error {
			t.Fatal("unsupported channel must not touch the retry counter")
			return nil
		},
	}
	resolver := &fakeResolver{
		channelsForFn: func(ctx context.Context, userID string, nt domain.NotificationType) ([]domain.Channel, error) {
			return []domain.Channel{domain.ChannelSMS}, nil
		},
	}

	orch := newTestOrchestrator(t, &fakeNotificationRepo{}, deliveryRepo, resolver, sender.NewRegistry(), &fakePublisher{})

	outcome, err := orch.Send(context.Background(), &domain.Notification{ID: "n-1", UserID: "user-1", Type: domain.TypeSystem})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if outcome.Status != domain.StatusSent {
		t.Fatalf("outcome status = %s, want SENT (channel was attempted)", outcome.Status)
	}
	if outcome.Channels[0].Status != domain.StatusFailed {
		t.Fatalf("sms result status = %s, want FAILED", outcome.Channels[0].Status)
	}
	if created == nil || created.Channel != domain.ChannelSMS {
		t.Fatalf("created delivery = %+v, want SMS delivery row", created)
	}
	if failedMessage == nil || *failedMessage != "no sender registered for channel SMS" {
		t.Fatalf("failure message = %v, want no sender registered for channel SMS", failedMessage)
	}
}

func TestOrchestratorSendBulkChunksAndCounts(t *testing.T) {
	t.Parallel()

	registry := sender.NewRegistry()
	registry.Register(domain.ChannelPush, &fakeSender{})

	resolver := &fakeResolver{
		channelsForFn: func(ctx context.Context, userID string, nt domain.NotificationType) ([]domain.Channel, error) {
			return []domain.Channel{domain.ChannelPush}, nil
		},
	}

	orch := newTestOrchestrator(t, &fakeNotificationRepo{}, &fakeDeliveryRepo{}, resolver, registry, &fakePublisher{})
	orch.chunkSize = 2
	orch.chunkPause = 50 * time.Millisecond

	var pauses int
	orch.sleep = func(ctx context.Context, d time.Duration) error {
		pauses++
		return nil
	}

	notifications := []*domain.Notification{
		{UserID: "user-1", Type: domain.TypeTribeInvitation, Title: "t", Body: "b"},
		{UserID: "user-2", Type: domain.TypeTribeInvitation, Title: "t", Body: "b"},
		{UserID: "", Type: domain.TypeTribeInvitation, Title: "t", Body: "b"}, // fails validation
		{UserID: "user-4", Type: domain.TypeTribeInvitation, Title: "t", Body: "b"},
		{UserID: "user-5", Type: domain.TypeTribeInvitation, Title: "t", Body: "b"},
	}

	result, err := orch.SendBulk(context.Background(), notifications)
	if err != nil {
		t.Fatalf("SendBulk() error = %v", err)
	}

	if result.Created != 4 {
		t.Fatalf("created = %d, want 4", result.Created)
	}
	if result.Sent != 4 {
		t.Fatalf("sent = %d, want 4", result.Sent)
	}
	if result.Failed != 1 {
		t.Fatalf("failed = %d, want 1", result.Failed)
	}
	if pauses != 2 {
		t.Fatalf("chunk pauses = %d, want 2 (no pause after the last chunk)", pauses)
	}
}

func TestOrchestratorSendBulkRejectsBadSizes(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, &fakeNotificationRepo{}, &fakeDeliveryRepo{}, &fakeResolver{}, sender.NewRegistry(), &fakePublisher{})

	if _, err := orch.SendBulk(context.Background(), nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SendBulk(empty) error = %v, want ErrValidation", err)
	}

	oversized := make([]*domain.Notification, maxBulkSize+1)
	if _, err := orch.SendBulk(context.Background(), oversized); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SendBulk(oversized) error = %v, want ErrValidation", err)
	}
}

func TestOrchestratorProcessQueue(t *testing.T) {
	t.Parallel()

	registry := sender.NewRegistry()
	registry.Register(domain.ChannelPush, &fakeSender{})

	notifRepo := &fakeNotificationRepo{
		findPendingFn: func(ctx context.Context, limit int) ([]domain.Notification, error) {
			if limit != 25 {
				t.Fatalf("limit = %d, want 25", limit)
			}
			return []domain.Notification{
				{ID: "n-1", UserID: "user-open", Type: domain.TypeTribeMatch},
				{ID: "n-2", UserID: "user-muted", Type: domain.TypeTribeMatch},
			}, nil
		},
	}
	resolver := &fakeResolver{
		channelsForFn: func(ctx context.Context, userID string, nt domain.NotificationType) ([]domain.Channel, error) {
			if userID == "user-muted" {
				return nil, nil
			}
			return []domain.Channel{domain.ChannelPush}, nil
		},
	}

	orch := newTestOrchestrator(t, notifRepo, &fakeDeliveryRepo{}, resolver, registry, &fakePublisher{})

	result, err := orch.ProcessQueue(context.Background(), 25)
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if result.Processed != 2 || result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("ProcessQueue() = %+v, want processed 2, succeeded 1, failed 1", result)
	}
}

func TestOrchestratorMarkRead(t *testing.T) {
	t.Parallel()

	advanced := map[string]domain.Status{}
	notifRepo := &fakeNotificationRepo{
		findByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, UserID: "user-1", Type: domain.TypeEventUpdate}, nil
		},
		advanceStatusFn: func(ctx context.Context, id string, next domain.Status) (bool, error) {
			advanced[id] = next
			return true, nil
		},
	}
	deliveryRepo := &fakeDeliveryRepo{
		markAsReadFn: func(ctx context.Context, notificationID string, readAt time.Time) (int64, error) {
			return 3, nil
		},
	}
	publisher := &fakePublisher{}

	orch := newTestOrchestrator(t, notifRepo, deliveryRepo, &fakeResolver{}, sender.NewRegistry(), publisher)

	count, err := orch.MarkRead(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("MarkRead() = %d, want 3", count)
	}
	if advanced["n-1"] != domain.StatusRead {
		t.Fatalf("notification advanced to %s, want READ", advanced["n-1"])
	}
	if got := publisher.names(); len(got) != 1 || got[0] != event.EventNotificationRead {
		t.Fatalf("published events = %v, want single notification.read", got)
	}
}

func TestOrchestratorSendRequiresPersistedNotification(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, &fakeNotificationRepo{}, &fakeDeliveryRepo{}, &fakeResolver{}, sender.NewRegistry(), &fakePublisher{})

	if _, err := orch.Send(context.Background(), nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Send(nil) error = %v, want ErrValidation", err)
	}
	if _, err := orch.Send(context.Background(), &domain.Notification{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Send(no id) error = %v, want ErrValidation", err)
	}
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

type fakeResolver struct {
	channelsForFn func(ctx context.Context, userID string, t domain.NotificationType) ([]domain.Channel, error)
}

func (f *fakeResolver) EnsurePreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	return domain.DefaultPreferences(userID), nil
}

func (f *fakeResolver) ChannelsFor(ctx context.Context, userID string, t domain.NotificationType) ([]domain.Channel, error) {
	if f.channelsForFn != nil {
		return f.channelsForFn(ctx, userID, t)
	}
	return nil, nil
}

func (f *fakeResolver) Update(ctx context.Context, p *domain.Preferences) (*domain.Preferences, error) {
	return p, nil
}

type fakeSender struct {
	sendFn  func(ctx context.Context, n *domain.Notification) (*domain.Delivery, error)
	retryFn func(ctx context.Context, d *domain.Delivery) (*domain.Delivery, error)
}

func (f *fakeSender) Send(ctx context.Context, n *domain.Notification) (*domain.Delivery, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, n)
	}
	return &domain.Delivery{ID: "d-" + n.ID, NotificationID: n.ID, Status: domain.StatusSent}, nil
}

func (f *fakeSender) Retry(ctx context.Context, d *domain.Delivery) (*domain.Delivery, error) {
	if f.retryFn != nil {
		return f.retryFn(ctx, d)
	}
	sent := *d
	sent.Status = domain.StatusSent
	return &sent, nil
}

type fakePublisher struct {
	mu         sync.Mutex
	published  []event.Event
	publishErr error
}

func (f *fakePublisher) Publish(ctx context.Context, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, ev)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.published...)
}

func (f *fakePublisher) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.published))
	for _, ev := range f.published {
		names = append(names, ev.Name)
	}
	return names
}
