package domain

import (
	"fmt"
	"time"
)

// Channel represents a delivery transport.
type Channel string

const (
	ChannelPush  Channel = "PUSH"
	ChannelEmail Channel = "EMAIL"
	ChannelInApp Channel = "IN_APP"
	ChannelSMS   Channel = "SMS"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelInApp, ChannelSMS:
		return true
	}
	return false
}

func ParseChannelFromString(v string) (Channel, error) {
	ch := Channel(normalizeEnum(v))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, v)
	}
	return ch, nil
}

// AllChannels returns every known channel in stable order. Per-channel
// statistics zero-fill from this list so absent channels still appear.
func AllChannels() []Channel {
	return []Channel{ChannelPush, ChannelEmail, ChannelInApp, ChannelSMS}
}

// Delivery is the per-channel attempt state for one notification. Exactly
// one Delivery exists per (NotificationID, Channel) pair; the unique index
// behind CreateDelivery enforces that, not convention.
type Delivery struct {
	ID             string
	NotificationID string
	Channel        Channel
	Status         Status
	SentAt         *time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
	ErrorMessage   *string
	RetryCount     int
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsRetryEligible reports whether a failed delivery may still be retried
// under the given attempt bound.
func (d *Delivery) IsRetryEligible(maxRetryAttempts int) bool {
	return d.Status == StatusFailed && d.RetryCount < maxRetryAttempts
}
