package sender

import (
	"context"
	"sync"

	"github.com/tribeapp/notification-service/internal/domain"
)

// Sender is the outbound port for one channel. Implementations own their
// delivery record: Send creates (or reuses) it and persists the outcome,
// Retry bumps the retry counter before re-attempting.
type Sender interface {
	Send(ctx context.Context, notification *domain.Notification) (*domain.Delivery, error)
	Retry(ctx context.Context, delivery *domain.Delivery) (*domain.Delivery, error)
}

// DeliveryStore is the slice of the delivery service senders need.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, notificationID string, channel domain.Channel, metadata domain.Metadata) (*domain.Delivery, error)
	UpdateStatus(ctx context.Context, deliveryID string, status domain.Status, errorMessage *string, metadata domain.Metadata) (*domain.Delivery, error)
	IncrementRetryCount(ctx context.Context, deliveryID string) error
}

// NotificationStore resolves a delivery back to its notification content
// on the retry path.
type NotificationStore interface {
	FindByID(ctx context.Context, id string) (*domain.Notification, error)
}

// RecipientDirectory resolves user ids to deliverable addresses for the
// address-based channels.
type RecipientDirectory interface {
	FindByUser(ctx context.Context, userID string) (*domain.UserContact, error)
}

// Registry maps channels to their senders. A channel without a
// registration is unsupported: dispatch logs a warning and records the
// delivery as failed instead of crashing. Adding a channel is a
// registration at wiring time.
type Registry struct {
	mu      sync.RWMutex
	senders map[domain.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[domain.Channel]Sender)}
}

func (r *Registry) Register(channel domain.Channel, s Sender) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = s
}

func (r *Registry) Lookup(channel domain.Channel) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[channel]
	return s, ok
}

// Channels lists the registered channels in the canonical order.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var channels []domain.Channel
	for _, ch := range domain.AllChannels() {
		if _, ok := r.senders[ch]; ok {
			channels = append(channels, ch)
		}
	}
	return channels
}
